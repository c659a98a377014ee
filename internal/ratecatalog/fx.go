package ratecatalog

import (
	"github.com/fieldbill/fieldbill/internal/ratecatalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ratecatalog.service",
	fx.Provide(service.NewService),
)
