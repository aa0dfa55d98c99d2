package webhook

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/memberly/internal/config"
	"github.com/smallbiznis/memberly/internal/webhook/adapters"
	"github.com/smallbiznis/memberly/internal/webhook/adapters/stripe"
	webhookdomain "github.com/smallbiznis/memberly/internal/webhook/domain"
)

var Module = fx.Module("webhook",
	fx.Provide(
		func(cfg config.Config) *adapters.Registry {
			var registered []webhookdomain.Adapter
			if adapter := stripe.NewAdapter(cfg.ProviderWebhookSecret); adapter != nil {
				registered = append(registered, adapter)
			}
			return adapters.NewRegistry(registered...)
		},
		NewService,
	),
)
