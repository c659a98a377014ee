package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/fieldbill/fieldbill/internal/audit"
	"github.com/fieldbill/fieldbill/internal/claim"
	"github.com/fieldbill/fieldbill/internal/clock"
	"github.com/fieldbill/fieldbill/internal/config"
	"github.com/fieldbill/fieldbill/internal/logger"
	"github.com/fieldbill/fieldbill/internal/migration"
	"github.com/fieldbill/fieldbill/internal/observability"
	"github.com/fieldbill/fieldbill/internal/ratecatalog"
	"github.com/fieldbill/fieldbill/internal/reconciler"
	"github.com/fieldbill/fieldbill/internal/unitledger"
	"github.com/fieldbill/fieldbill/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Billing domains
		audit.Module,
		ratecatalog.Module,
		unitledger.Module,
		claim.Module,
		reconciler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
