package imagegen

import "go.uber.org/fx"

var Module = fx.Module("imagegen",
	fx.Provide(NewClient),
	fx.Provide(NewGenerator),
)
