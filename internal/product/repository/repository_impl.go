package repository

import (
	"context"

	"github.com/smallbiznis/imagegen/internal/config"
	"github.com/smallbiznis/imagegen/internal/product/domain"
)

type repo struct {
	catalog *config.CatalogHolder
}

func Provide(catalog *config.CatalogHolder) domain.Repository {
	return &repo{catalog: catalog}
}

func (r *repo) FindAll(ctx context.Context) ([]domain.Product, error) {
	items := r.catalog.Get().Products
	out := make([]domain.Product, 0, len(items))
	for _, item := range items {
		out = append(out, toProduct(item))
	}
	return out, nil
}

func (r *repo) FindBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	for _, item := range r.catalog.Get().Products {
		if item.SKU == sku {
			p := toProduct(item)
			return &p, nil
		}
	}
	return nil, nil
}

func toProduct(item config.ProductConfig) domain.Product {
	return domain.Product{
		SKU:             item.SKU,
		Name:            item.Name,
		Description:     item.Description,
		PriceCents:      item.PriceCents,
		Currency:        item.Currency,
		Generations:     item.Generations,
		DiscountPercent: item.DiscountPercent,
		ValidityDays:    item.ValidityDays,
	}
}
