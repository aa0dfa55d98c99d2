package membership

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/memberly/internal/membership/repository"
	"github.com/smallbiznis/memberly/internal/membership/service"
)

var Module = fx.Module("membership",
	fx.Provide(
		repository.New,
		service.New,
	),
)
