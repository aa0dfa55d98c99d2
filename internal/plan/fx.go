package plan

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/memberly/internal/plan/repository"
)

var Module = fx.Module("plan",
	fx.Provide(
		repository.New,
	),
)
