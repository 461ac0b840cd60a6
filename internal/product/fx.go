package product

import (
	"github.com/smallbiznis/imagegen/internal/product/repository"
	"github.com/smallbiznis/imagegen/internal/product/service"
	"go.uber.org/fx"
)

var Module = fx.Module("product.catalog",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
