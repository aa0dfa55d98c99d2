// Package adapters indexes the provider webhook adapters by provider name.
package adapters

import (
	"strings"

	webhookdomain "github.com/smallbiznis/memberly/internal/webhook/domain"
)

type Registry struct {
	adapters map[string]webhookdomain.Adapter
}

func NewRegistry(adapters ...webhookdomain.Adapter) *Registry {
	index := make(map[string]webhookdomain.Adapter, len(adapters))
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		index[strings.ToLower(adapter.Provider())] = adapter
	}
	return &Registry{adapters: index}
}

func (r *Registry) Get(provider string) (webhookdomain.Adapter, bool) {
	adapter, ok := r.adapters[strings.ToLower(strings.TrimSpace(provider))]
	return adapter, ok
}
