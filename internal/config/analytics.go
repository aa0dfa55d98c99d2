package config

import (
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// CategoryTable maps a tenant's provider price references to revenue
// categories, plus the reference of the ancillary maintenance-fee line.
type CategoryTable struct {
	Categories        map[string]string `mapstructure:"categories"`
	MaintenanceFeeRef string            `mapstructure:"maintenanceFeeRef"`
}

// AnalyticsConfig holds the per-org category tables with optional defaults.
type AnalyticsConfig struct {
	Default CategoryTable            `mapstructure:"default"`
	Orgs    map[string]CategoryTable `mapstructure:"orgs"`
}

// CategoryNames returns the closed set of category names for an org,
// always including the misc fallback.
func (t CategoryTable) CategoryNames() []string {
	seen := map[string]bool{"misc": true}
	names := []string{"misc"}
	for _, name := range t.Categories {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// AnalyticsConfigHolder serves the current analytics config and hot-reloads
// it when the file changes.
type AnalyticsConfigHolder struct {
	current atomic.Value // holds AnalyticsConfig
}

func NewAnalyticsConfigHolder() (*AnalyticsConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("analytics")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/memberly/config") // Volume-mounted config
	v.AddConfigPath("/etc/memberly")            // System config
	v.AddConfigPath(".")                        // Current directory (dev mode)

	v.SetEnvPrefix("MEMBERLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg AnalyticsConfig
	if err := v.UnmarshalKey("analytics", &cfg); err != nil {
		return nil, err
	}

	holder := &AnalyticsConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated AnalyticsConfig
		if err := v.UnmarshalKey("analytics", &updated); err != nil {
			log.Printf("[analytics-config] reload failed: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[analytics-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *AnalyticsConfigHolder) Get() AnalyticsConfig {
	return h.current.Load().(AnalyticsConfig)
}

// TableForOrg resolves the category table for an org, merging the org entry
// over the defaults.
func (h *AnalyticsConfigHolder) TableForOrg(orgID string) CategoryTable {
	cfg := h.Get()
	table := CategoryTable{
		Categories:        map[string]string{},
		MaintenanceFeeRef: cfg.Default.MaintenanceFeeRef,
	}
	for ref, name := range cfg.Default.Categories {
		table.Categories[ref] = name
	}

	org, ok := cfg.Orgs[strings.TrimSpace(orgID)]
	if !ok {
		return table
	}
	if org.MaintenanceFeeRef != "" {
		table.MaintenanceFeeRef = org.MaintenanceFeeRef
	}
	for ref, name := range org.Categories {
		table.Categories[ref] = name
	}
	return table
}

// NewAnalyticsTableFromMap builds a holder seeded from a literal table.
// Intended for tests.
func NewAnalyticsTableFromMap(cfg AnalyticsConfig) *AnalyticsConfigHolder {
	holder := &AnalyticsConfigHolder{}
	holder.current.Store(cfg)
	return holder
}
