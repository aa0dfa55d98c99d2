package scheduler

import "time"

// Config controls the scheduler tick and per-job cadences.
type Config struct {
	RunInterval     time.Duration
	JobTimeout      time.Duration
	SweepInterval   time.Duration
	RefreshInterval time.Duration
	PruneInterval   time.Duration
	// EnabledJobs restricts the run to the named jobs. Empty means all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:     time.Minute,
		JobTimeout:      5 * time.Minute,
		SweepInterval:   24 * time.Hour,
		RefreshInterval: time.Hour,
		PruneInterval:   24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaults.SweepInterval
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = defaults.RefreshInterval
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = defaults.PruneInterval
	}
	return c
}
