// Package scheduler drives the periodic background work: the provider
// reconciliation sweep, analytics cache warming, and event ledger pruning.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	analyticsdomain "github.com/smallbiznis/memberly/internal/analytics/domain"
	"github.com/smallbiznis/memberly/internal/clock"
	"github.com/smallbiznis/memberly/internal/config"
	ledgerdomain "github.com/smallbiznis/memberly/internal/eventledger/domain"
	reconciledomain "github.com/smallbiznis/memberly/internal/reconcile/domain"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

const (
	jobSweep   = "member_sweep"
	jobRefresh = "analytics_refresh"
	jobPrune   = "ledger_prune"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	AppCfg       config.Config
	ReconcileSvc reconciledomain.Service
	AnalyticsSvc analyticsdomain.Service
	LedgerSvc    ledgerdomain.Service
	Config       Config `optional:"true"`
}

type Scheduler struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          Config
	clock        clock.Clock
	retention    time.Duration
	reconcileSvc reconciledomain.Service
	analyticsSvc analyticsdomain.Service
	ledgerSvc    ledgerdomain.Service

	lastRun map[string]time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.ReconcileSvc == nil || p.AnalyticsSvc == nil || p.LedgerSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:           p.DB,
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          p.Config.withDefaults(),
		clock:        p.Clock,
		retention:    p.AppCfg.EventLedgerRetention,
		reconcileSvc: p.ReconcileSvc,
		analyticsSvc: p.AnalyticsSvc,
		ledgerSvc:    p.LedgerSvc,
		lastRun:      map[string]time.Time{},
	}, nil
}

// RunOnce executes every enabled job whose cadence has elapsed. Job failures
// are joined, never short-circuited, so one broken job cannot starve the rest.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name     string
		Interval time.Duration
		Run      func(context.Context) error
	}{
		{jobSweep, s.cfg.SweepInterval, s.SweepJob},
		{jobRefresh, s.cfg.RefreshInterval, s.RefreshAnalyticsJob},
		{jobPrune, s.cfg.PruneInterval, s.PruneLedgerJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) || !s.isDue(job.Name, job.Interval) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}
	return err
}

// RunForever ticks RunOnce until the context is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	log.Debug("job started")

	err := fn(ctx)
	log.Debug("job finished", zap.Duration("elapsed", s.clock.Now().Sub(start)))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out",
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// isDue reports whether the job's cadence has elapsed and, if so, stamps the
// job as run now. The first check after startup is always due.
func (s *Scheduler) isDue(jobName string, interval time.Duration) bool {
	now := s.clock.Now()
	last, ok := s.lastRun[jobName]
	if ok && now.Sub(last) < interval {
		return false
	}
	s.lastRun[jobName] = now
	return true
}

// SweepJob converges every org against the billing provider.
func (s *Scheduler) SweepJob(ctx context.Context) error {
	summary, err := s.reconcileSvc.SyncAll(ctx)
	if err != nil {
		return err
	}
	s.log.Info("sweep completed",
		zap.Int("synced", summary.Synced),
		zap.Int("updated", summary.Updated),
		zap.Int("errored", summary.Errored),
	)
	return nil
}

// RefreshAnalyticsJob warms the current-month analytics cache for every org
// that has members. Per-org failures are isolated.
func (s *Scheduler) RefreshAnalyticsJob(ctx context.Context) error {
	orgIDs, err := s.orgIDs(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, orgID := range orgIDs {
		if err := s.analyticsSvc.RefreshCommon(ctx, orgID); err != nil {
			if errors.Is(err, analyticsdomain.ErrProviderDisabled) {
				return nil
			}
			s.log.Error("analytics refresh failed",
				zap.Int64("org_id", int64(orgID)),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PruneLedgerJob drops processed-event rows past the retention horizon.
func (s *Scheduler) PruneLedgerJob(ctx context.Context) error {
	horizon := s.clock.Now().Add(-s.retention)
	pruned, err := s.ledgerSvc.Prune(ctx, horizon)
	if err != nil {
		return err
	}
	if pruned > 0 {
		s.log.Info("event ledger pruned",
			zap.Int64("removed", pruned),
			zap.Time("horizon", horizon),
		)
	}
	return nil
}

func (s *Scheduler) orgIDs(ctx context.Context) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := s.db.WithContext(ctx).
		Table("members").
		Distinct("org_id").
		Order("org_id").
		Pluck("org_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
