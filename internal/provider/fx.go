package provider

import (
	"github.com/smallbiznis/memberly/internal/provider/stripe"
	"go.uber.org/fx"
)

// Module wires the billing-provider client.
var Module = fx.Module("provider",
	fx.Provide(stripe.NewClient),
)
