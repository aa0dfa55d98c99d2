package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/memberly/internal/analytics"
	"github.com/smallbiznis/memberly/internal/clock"
	"github.com/smallbiznis/memberly/internal/config"
	"github.com/smallbiznis/memberly/internal/eventledger"
	"github.com/smallbiznis/memberly/internal/logger"
	"github.com/smallbiznis/memberly/internal/member"
	"github.com/smallbiznis/memberly/internal/membership"
	"github.com/smallbiznis/memberly/internal/observability"
	"github.com/smallbiznis/memberly/internal/plan"
	"github.com/smallbiznis/memberly/internal/provider"
	"github.com/smallbiznis/memberly/internal/reconcile"
	"github.com/smallbiznis/memberly/internal/scheduler"
	"github.com/smallbiznis/memberly/internal/server"
	"github.com/smallbiznis/memberly/internal/webhook"
	"github.com/smallbiznis/memberly/pkg/db"
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

		// Feature domains
		provider.Module,
		member.Module,
		plan.Module,
		membership.Module,
		eventledger.Module,
		webhook.Module,
		reconcile.Module,
		analytics.Module,

		server.Module,
		scheduler.Module,
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
