package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/memberly/internal/analytics/domain"
	"github.com/smallbiznis/memberly/internal/analytics/store"
	"github.com/smallbiznis/memberly/internal/clock"
	"github.com/smallbiznis/memberly/internal/config"
	memberdomain "github.com/smallbiznis/memberly/internal/member/domain"
	memberrepo "github.com/smallbiznis/memberly/internal/member/repository"
	providerdomain "github.com/smallbiznis/memberly/internal/provider/domain"
)

// billingFake serves scripted invoices, refunds and subscriptions. Invoice
// and refund windows are applied the way the remote API would apply them.
type billingFake struct {
	subs        map[string][]providerdomain.Subscription
	invoices    map[providerdomain.InvoiceStatus][]providerdomain.Invoice
	refunds     []providerdomain.Refund
	failRefunds bool
}

func (b *billingFake) ListSubscriptions(ctx context.Context, customerRef string, opts providerdomain.ListOptions) (providerdomain.Page[providerdomain.Subscription], error) {
	return providerdomain.Page[providerdomain.Subscription]{Data: b.subs[customerRef]}, nil
}

func (b *billingFake) ListInvoices(ctx context.Context, status providerdomain.InvoiceStatus, window providerdomain.Window, opts providerdomain.ListOptions) (providerdomain.Page[providerdomain.Invoice], error) {
	var matched []providerdomain.Invoice
	for _, invoice := range b.invoices[status] {
		if !window.Start.IsZero() &&
			(invoice.CreatedAt.Before(window.Start) || !invoice.CreatedAt.Before(window.End)) {
			continue
		}
		matched = append(matched, invoice)
	}
	return providerdomain.Page[providerdomain.Invoice]{Data: matched}, nil
}

func (b *billingFake) ListRefunds(ctx context.Context, window providerdomain.Window, opts providerdomain.ListOptions) (providerdomain.Page[providerdomain.Refund], error) {
	if b.failRefunds {
		return providerdomain.Page[providerdomain.Refund]{}, providerdomain.ErrProviderUnavailable
	}
	var matched []providerdomain.Refund
	for _, refund := range b.refunds {
		if refund.CreatedAt.Before(window.Start) || !refund.CreatedAt.Before(window.End) {
			continue
		}
		matched = append(matched, refund)
	}
	return providerdomain.Page[providerdomain.Refund]{Data: matched}, nil
}

func (b *billingFake) CreateSubscription(ctx context.Context, customerRef, priceRef string) (providerdomain.Subscription, error) {
	return providerdomain.Subscription{}, nil
}

func (b *billingFake) CancelSubscription(ctx context.Context, subscriptionRef string, atPeriodEnd bool) error {
	return nil
}

func (b *billingFake) PauseSubscription(ctx context.Context, subscriptionRef string, window providerdomain.PauseWindow) error {
	return nil
}

func (b *billingFake) ResumeSubscription(ctx context.Context, subscriptionRef string) error {
	return nil
}

type fixture struct {
	db      *gorm.DB
	svc     domain.Service
	store   store.Store
	billing *billingFake
	fake    *clock.FakeClock
	node    *snowflake.Node
	orgID   snowflake.ID
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&memberdomain.Member{}, &store.CacheEntry{}))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	billing := &billingFake{
		subs:     map[string][]providerdomain.Subscription{},
		invoices: map[providerdomain.InvoiceStatus][]providerdomain.Invoice{},
	}

	holder := config.NewAnalyticsTableFromMap(config.AnalyticsConfig{
		Default: config.CategoryTable{
			Categories: map[string]string{
				"price_gym": "gym",
				"price_spa": "spa",
			},
			MaintenanceFeeRef: "price_fee",
		},
	})

	cache := store.NewTableStore(db, fake)
	svc := New(Params{
		Log:      zap.NewNop(),
		Clock:    fake,
		Cfg:      config.Config{AnalyticsCacheTTL: 12 * time.Hour},
		Holder:   holder,
		Store:    cache,
		Members:  memberrepo.New(db),
		Provider: billing,
	})

	f := &fixture{db: db, svc: svc, store: cache, billing: billing, fake: fake, node: node}
	f.orgID = node.Generate()
	return f
}

func (f *fixture) seedMember(t *testing.T, customerRef string) *memberdomain.Member {
	t.Helper()
	member := &memberdomain.Member{
		ID:                  f.node.Generate(),
		OrgID:               f.orgID,
		Email:               "member@example.com",
		ExternalCustomerRef: &customerRef,
	}
	require.NoError(t, f.db.Create(member).Error)
	return member
}

func (f *fixture) request(category string, include bool) domain.Request {
	return domain.Request{
		OrgID:                 f.orgID,
		Category:              category,
		Month:                 time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		IncludeMaintenanceFee: include,
	}
}

func paidInvoice(customerRef string, createdAt time.Time, priceRef, amount string) providerdomain.Invoice {
	return providerdomain.Invoice{
		ID:          "in_" + customerRef + createdAt.Format("20060102"),
		CustomerRef: customerRef,
		Status:      providerdomain.InvoicePaid,
		CreatedAt:   createdAt,
		Lines:       []providerdomain.InvoiceLine{{PriceRef: priceRef, Amount: amount}},
	}
}

func TestGetReportLifetimeAndLTV(t *testing.T) {
	f := setupFixture(t)
	f.seedMember(t, "cus_1")
	f.billing.invoices[providerdomain.InvoicePaid] = []providerdomain.Invoice{
		paidInvoice("cus_1", time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), "price_gym", "100.00"),
	}

	report, err := f.svc.GetReport(context.Background(), f.request(domain.CategoryAll, false))
	require.NoError(t, err)

	require.Equal(t, int64(10000), report.LifetimeRevenue)
	require.Equal(t, int64(10000), report.PeriodRevenue)
	require.Equal(t, float64(10000), report.AverageLTV)
	require.Len(t, report.Categories, 1)
	require.Equal(t, "gym", report.Categories[0].Category)
	require.Equal(t, 1, report.Categories[0].PayingCustomers)
	require.Equal(t, float64(10000), report.Categories[0].LTV)
	require.Len(t, report.History, 6)
}

func TestGetReportUnmappedPriceFallsBackToMisc(t *testing.T) {
	f := setupFixture(t)
	f.seedMember(t, "cus_1")
	f.billing.invoices[providerdomain.InvoicePaid] = []providerdomain.Invoice{
		paidInvoice("cus_1", time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), "price_unknown", "25.00"),
	}

	report, err := f.svc.GetReport(context.Background(), f.request(domain.CategoryAll, false))
	require.NoError(t, err)
	require.Len(t, report.Categories, 1)
	require.Equal(t, domain.CategoryMisc, report.Categories[0].Category)
	require.Equal(t, int64(2500), report.Categories[0].LifetimeRevenue)

	// A misc filter selects the same line.
	filtered, err := f.svc.GetReport(context.Background(), f.request(domain.CategoryMisc, false))
	require.NoError(t, err)
	require.Equal(t, int64(2500), filtered.PeriodRevenue)
}

func TestGetReportMaintenanceFeeInclusion(t *testing.T) {
	f := setupFixture(t)
	f.seedMember(t, "cus_1")
	f.billing.invoices[providerdomain.InvoicePaid] = []providerdomain.Invoice{
		paidInvoice("cus_1", time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), "price_gym", "100.00"),
		paidInvoice("cus_1", time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC), "price_fee", "5.00"),
	}

	without, err := f.svc.GetReport(context.Background(), f.request(domain.CategoryAll, false))
	require.NoError(t, err)
	require.Equal(t, int64(10000), without.PeriodRevenue)

	with, err := f.svc.GetReport(context.Background(), f.request(domain.CategoryAll, true))
	require.NoError(t, err)
	require.Equal(t, int64(10500), with.PeriodRevenue)
}

func TestGetReportChurnArithmetic(t *testing.T) {
	f := setupFixture(t)
	f.seedMember(t, "cus_1")

	start := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	var subs []providerdomain.Subscription
	for i := 0; i < 8; i++ {
		subs = append(subs, providerdomain.Subscription{
			ID:      "sub_live",
			Status:  providerdomain.SubscriptionActive,
			StartAt: start,
			Items:   []providerdomain.SubscriptionItem{{PriceRef: "price_gym", Amount: "50.00", Interval: "month"}},
		})
	}
	canceledAt := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		subs = append(subs, providerdomain.Subscription{
			ID:         "sub_gone",
			Status:     providerdomain.SubscriptionCanceled,
			StartAt:    start,
			CanceledAt: &canceledAt,
			Items:      []providerdomain.SubscriptionItem{{PriceRef: "price_gym", Amount: "50.00", Interval: "month"}},
		})
	}
	f.billing.subs["cus_1"] = subs

	report, err := f.svc.GetReport(context.Background(), f.request(domain.CategoryAll, false))
	require.NoError(t, err)
	require.Equal(t, 10, report.ActiveAtStart)
	require.Equal(t, 2, report.CanceledInWindow)
	require.Equal(t, 8, report.ActiveAtEnd)
	require.Equal(t, float64(20), report.ChurnRate)
}

func TestGetReportMRRNormalizesAnnual(t *testing.T) {
	f := setupFixture(t)
	f.seedMember(t, "cus_1")
	f.billing.subs["cus_1"] = []providerdomain.Subscription{{
		ID:      "sub_annual",
		Status:  providerdomain.SubscriptionActive,
		StartAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Items:   []providerdomain.SubscriptionItem{{PriceRef: "price_gym", Amount: "1200.00", Interval: "year"}},
	}}

	report, err := f.svc.GetReport(context.Background(), f.request(domain.CategoryAll, false))
	require.NoError(t, err)
	require.Equal(t, int64(10000), report.MRR)
}

func TestGetReportProjectsRenewalsInCurrentMonth(t *testing.T) {
	f := setupFixture(t)
	f.seedMember(t, "cus_1")
	renewsAt := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	f.billing.subs["cus_1"] = []providerdomain.Subscription{{
		ID:      "sub_live",
		Status:  providerdomain.SubscriptionActive,
		StartAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Items: []providerdomain.SubscriptionItem{
			{PriceRef: "price_gym", Amount: "50.00", Interval: "month", PeriodEnd: renewsAt},
		},
	}}

	report, err := f.svc.GetReport(context.Background(), f.request(domain.CategoryAll, false))
	require.NoError(t, err)
	require.Equal(t, int64(5000), report.ProjectedRevenue)
	require.Equal(t, int64(5000), report.History[5].Projected)

	// A past month never carries a projection.
	past := f.request(domain.CategoryAll, false)
	past.Month = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	january, err := f.svc.GetReport(context.Background(), past)
	require.NoError(t, err)
	require.Zero(t, january.ProjectedRevenue)
}

func TestGetReportCacheFreshness(t *testing.T) {
	f := setupFixture(t)
	f.seedMember(t, "cus_1")
	f.billing.invoices[providerdomain.InvoicePaid] = []providerdomain.Invoice{
		paidInvoice("cus_1", time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), "price_gym", "100.00"),
	}

	first, err := f.svc.GetReport(context.Background(), f.request(domain.CategoryAll, false))
	require.NoError(t, err)
	require.Equal(t, int64(10000), first.PeriodRevenue)

	// New billing activity lands after the first computation.
	f.billing.invoices[providerdomain.InvoicePaid] = append(
		f.billing.invoices[providerdomain.InvoicePaid],
		paidInvoice("cus_1", time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC), "price_gym", "40.00"),
	)

	f.fake.Advance(11*time.Hour + 59*time.Minute)
	cached, err := f.svc.GetReport(context.Background(), f.request(domain.CategoryAll, false))
	require.NoError(t, err)
	require.Equal(t, int64(10000), cached.PeriodRevenue)

	f.fake.Advance(2 * time.Minute)
	fresh, err := f.svc.GetReport(context.Background(), f.request(domain.CategoryAll, false))
	require.NoError(t, err)
	require.Equal(t, int64(14000), fresh.PeriodRevenue)
}

func TestGetReportFetchFailureCachesNothing(t *testing.T) {
	f := setupFixture(t)
	f.seedMember(t, "cus_1")
	f.billing.failRefunds = true

	_, err := f.svc.GetReport(context.Background(), f.request(domain.CategoryAll, false))
	require.ErrorIs(t, err, providerdomain.ErrProviderUnavailable)

	entry, err := f.store.Get(context.Background(), f.orgID, f.request(domain.CategoryAll, false).CacheKey())
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestGetReportRejectsUnknownCategory(t *testing.T) {
	f := setupFixture(t)
	_, err := f.svc.GetReport(context.Background(), f.request("squash", false))
	require.ErrorIs(t, err, domain.ErrInvalidCategory)
}

func TestGetReportFailedAndRefundedTotals(t *testing.T) {
	f := setupFixture(t)
	f.seedMember(t, "cus_1")
	f.billing.invoices[providerdomain.InvoiceOpen] = []providerdomain.Invoice{{
		ID:          "in_open",
		CustomerRef: "cus_1",
		Status:      providerdomain.InvoiceOpen,
		CreatedAt:   time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC),
		Lines:       []providerdomain.InvoiceLine{{PriceRef: "price_gym", Amount: "50.00"}},
	}}
	f.billing.refunds = []providerdomain.Refund{{
		ID:          "re_1",
		CustomerRef: "cus_1",
		PriceRef:    "price_spa",
		Amount:      "30.00",
		CreatedAt:   time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
	}}

	report, err := f.svc.GetReport(context.Background(), f.request(domain.CategoryAll, false))
	require.NoError(t, err)
	require.Equal(t, 1, report.FailedPayments.Count)
	require.Equal(t, int64(5000), report.FailedPayments.Amount)
	require.Equal(t, 1, report.RefundedPayments.Count)
	require.Equal(t, int64(3000), report.RefundedPayments.Amount)
}

func TestRefreshCommonWarmsEveryVariant(t *testing.T) {
	f := setupFixture(t)
	f.seedMember(t, "cus_1")
	f.billing.invoices[providerdomain.InvoicePaid] = []providerdomain.Invoice{
		paidInvoice("cus_1", time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), "price_gym", "100.00"),
	}

	require.NoError(t, f.svc.RefreshCommon(context.Background(), f.orgID))

	// gym, spa, misc and all, with and without the maintenance fee.
	var count int64
	require.NoError(t, f.db.Model(&store.CacheEntry{}).Count(&count).Error)
	require.Equal(t, int64(8), count)

	// A warmed entry is served without touching the provider again.
	f.billing.failRefunds = true
	report, err := f.svc.GetReport(context.Background(), f.request("gym", false))
	require.NoError(t, err)
	require.Equal(t, int64(10000), report.PeriodRevenue)
}
