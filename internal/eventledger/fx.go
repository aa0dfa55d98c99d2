package eventledger

import (
	"github.com/smallbiznis/memberly/internal/eventledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("eventledger.service",
	fx.Provide(service.NewService),
)
