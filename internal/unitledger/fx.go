package unitledger

import (
	"github.com/fieldbill/fieldbill/internal/unitledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("unitledger.service",
	fx.Provide(service.NewService),
)
