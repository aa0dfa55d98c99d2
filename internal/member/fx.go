package member

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/memberly/internal/member/repository"
)

var Module = fx.Module("member",
	fx.Provide(
		repository.New,
	),
)
