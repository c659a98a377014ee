package audit

import (
	"github.com/fieldbill/fieldbill/internal/audit/repository"
	"github.com/fieldbill/fieldbill/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
