// The reconciler binary runs the background jobs without the HTTP surface:
// the provider sweep, analytics cache warming, and ledger pruning.
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
	"github.com/smallbiznis/memberly/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by the scheduler
		provider.Module,
		member.Module,
		plan.Module,
		membership.Module,
		eventledger.Module,
		reconcile.Module,
		analytics.Module,

		// No server module.
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
