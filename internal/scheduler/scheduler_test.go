package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	analyticsdomain "github.com/smallbiznis/memberly/internal/analytics/domain"
	"github.com/smallbiznis/memberly/internal/clock"
	"github.com/smallbiznis/memberly/internal/config"
	memberdomain "github.com/smallbiznis/memberly/internal/member/domain"
	reconciledomain "github.com/smallbiznis/memberly/internal/reconcile/domain"
)

type reconcileStub struct {
	calls int
	err   error
}

func (r *reconcileStub) SyncOrg(ctx context.Context, orgID snowflake.ID) (reconciledomain.Summary, error) {
	return reconciledomain.Summary{}, nil
}

func (r *reconcileStub) SyncAll(ctx context.Context) (reconciledomain.Summary, error) {
	r.calls++
	return reconciledomain.Summary{Synced: 1}, r.err
}

type analyticsStub struct {
	refreshed []snowflake.ID
}

func (a *analyticsStub) GetReport(ctx context.Context, req analyticsdomain.Request) (*analyticsdomain.Report, error) {
	return nil, nil
}

func (a *analyticsStub) RefreshCommon(ctx context.Context, orgID snowflake.ID) error {
	a.refreshed = append(a.refreshed, orgID)
	return nil
}

type ledgerStub struct {
	horizons []time.Time
}

func (l *ledgerStub) RecordIfNew(ctx context.Context, eventID string) (bool, error) {
	return true, nil
}

func (l *ledgerStub) Forget(ctx context.Context, eventID string) error { return nil }

func (l *ledgerStub) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	l.horizons = append(l.horizons, olderThan)
	return 3, nil
}

type fixture struct {
	sched     *Scheduler
	fake      *clock.FakeClock
	reconcile *reconcileStub
	analytics *analyticsStub
	ledger    *ledgerStub
	db        *gorm.DB
	node      *snowflake.Node
}

func setupScheduler(t *testing.T, cfg Config) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&memberdomain.Member{}))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	reconcile := &reconcileStub{}
	analytics := &analyticsStub{}
	ledger := &ledgerStub{}

	sched, err := New(Params{
		DB:           db,
		Log:          zap.NewNop(),
		Clock:        fake,
		AppCfg:       config.Config{EventLedgerRetention: 90 * 24 * time.Hour},
		ReconcileSvc: reconcile,
		AnalyticsSvc: analytics,
		LedgerSvc:    ledger,
		Config:       cfg,
	})
	require.NoError(t, err)
	return &fixture{
		sched:     sched,
		fake:      fake,
		reconcile: reconcile,
		analytics: analytics,
		ledger:    ledger,
		db:        db,
		node:      node,
	}
}

func (f *fixture) seedMember(t *testing.T, orgID snowflake.ID) {
	t.Helper()
	require.NoError(t, f.db.Create(&memberdomain.Member{
		ID:    f.node.Generate(),
		OrgID: orgID,
		Email: "member@example.com",
	}).Error)
}

func TestRunOnceHonorsJobCadence(t *testing.T) {
	f := setupScheduler(t, Config{})
	orgID := f.node.Generate()
	f.seedMember(t, orgID)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	require.Equal(t, 1, f.reconcile.calls)
	require.Equal(t, []snowflake.ID{orgID}, f.analytics.refreshed)
	require.Len(t, f.ledger.horizons, 1)

	// An immediate second tick is within every cadence.
	require.NoError(t, f.sched.RunOnce(context.Background()))
	require.Equal(t, 1, f.reconcile.calls)
	require.Len(t, f.analytics.refreshed, 1)

	// One hour later only the analytics refresh is due again.
	f.fake.Advance(time.Hour)
	require.NoError(t, f.sched.RunOnce(context.Background()))
	require.Equal(t, 1, f.reconcile.calls)
	require.Len(t, f.analytics.refreshed, 2)
	require.Len(t, f.ledger.horizons, 1)

	// A day later everything runs.
	f.fake.Advance(23 * time.Hour)
	require.NoError(t, f.sched.RunOnce(context.Background()))
	require.Equal(t, 2, f.reconcile.calls)
	require.Len(t, f.ledger.horizons, 2)
}

func TestPruneUsesRetentionHorizon(t *testing.T) {
	f := setupScheduler(t, Config{})
	require.NoError(t, f.sched.RunOnce(context.Background()))
	require.Len(t, f.ledger.horizons, 1)
	want := f.fake.Now().Add(-90 * 24 * time.Hour)
	require.Equal(t, want, f.ledger.horizons[0])
}

func TestEnabledJobsRestrictsRun(t *testing.T) {
	f := setupScheduler(t, Config{EnabledJobs: []string{"ledger_prune"}})
	orgID := f.node.Generate()
	f.seedMember(t, orgID)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	require.Zero(t, f.reconcile.calls)
	require.Empty(t, f.analytics.refreshed)
	require.Len(t, f.ledger.horizons, 1)
}

func TestJobFailureDoesNotStarveOthers(t *testing.T) {
	f := setupScheduler(t, Config{})
	f.reconcile.err = context.DeadlineExceeded

	// A timed-out sweep is soft-failed; the remaining jobs still run.
	require.NoError(t, f.sched.RunOnce(context.Background()))
	require.Len(t, f.ledger.horizons, 1)
}

func TestRefreshIsolatesOrgFailures(t *testing.T) {
	f := setupScheduler(t, Config{})
	first := f.node.Generate()
	second := f.node.Generate()
	f.seedMember(t, first)
	f.seedMember(t, second)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	require.Len(t, f.analytics.refreshed, 2)
}
