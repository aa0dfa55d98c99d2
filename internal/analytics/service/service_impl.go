// Package service implements the analytics aggregation engine over the
// provider's billing history, memoized through the cache store.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/memberly/internal/analytics/domain"
	"github.com/smallbiznis/memberly/internal/analytics/store"
	"github.com/smallbiznis/memberly/internal/clock"
	"github.com/smallbiznis/memberly/internal/config"
	memberrepo "github.com/smallbiznis/memberly/internal/member/repository"
	"github.com/smallbiznis/memberly/internal/observability/metrics"
	providerdomain "github.com/smallbiznis/memberly/internal/provider/domain"
	"github.com/smallbiznis/memberly/pkg/money"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Cfg      config.Config
	Holder   *config.AnalyticsConfigHolder
	Store    store.Store
	Members  memberrepo.MemberRepository
	Provider providerdomain.Client `optional:"true"`
	Metrics  *metrics.Metrics      `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	clock    clock.Clock
	holder   *config.AnalyticsConfigHolder
	store    store.Store
	members  memberrepo.MemberRepository
	provider providerdomain.Client
	metrics  *metrics.Metrics
	ttl      time.Duration
}

func New(p Params) domain.Service {
	return &Service{
		log:      p.Log.Named("analytics.service"),
		clock:    p.Clock,
		holder:   p.Holder,
		store:    p.Store,
		members:  p.Members,
		provider: p.Provider,
		metrics:  p.Metrics,
		ttl:      p.Cfg.AnalyticsCacheTTL,
	}
}

// GetReport serves the cached entry while it is younger than the TTL and
// recomputes synchronously otherwise. Nothing is cached on failure.
func (s *Service) GetReport(ctx context.Context, req domain.Request) (*domain.Report, error) {
	table := s.holder.TableForOrg(req.OrgID.String())
	if !categoryAllowed(table, req.Category) {
		return nil, domain.ErrInvalidCategory
	}

	key := req.CacheKey()
	entry, err := s.store.Get(ctx, req.OrgID, key)
	if err != nil {
		return nil, err
	}
	if entry != nil && s.clock.Now().Sub(entry.UpdatedAt) < s.ttl {
		var cached domain.Report
		if err := json.Unmarshal(entry.Value, &cached); err == nil {
			s.metrics.IncCacheRead(ctx, true)
			return &cached, nil
		}
		// Fall through and recompute over a corrupt entry.
	}
	s.metrics.IncCacheRead(ctx, false)

	report, err := s.compute(ctx, req, table)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, req.OrgID, key, encoded); err != nil {
		return nil, err
	}
	return report, nil
}

// RefreshCommon recomputes the current-month entry for every category and
// inclusion flag so interactive reads land on a warm cache.
func (s *Service) RefreshCommon(ctx context.Context, orgID snowflake.ID) error {
	table := s.holder.TableForOrg(orgID.String())
	month, _ := domain.ParseMonth("", s.clock.Now().UTC())

	categories := append(table.CategoryNames(), domain.CategoryAll)
	var errs []error
	for _, category := range categories {
		for _, include := range []bool{false, true} {
			req := domain.Request{
				OrgID:                 orgID,
				Category:              category,
				Month:                 month,
				IncludeMaintenanceFee: include,
			}
			report, err := s.compute(ctx, req, table)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			encoded, err := json.Marshal(report)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if err := s.store.Put(ctx, orgID, req.CacheKey(), encoded); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// billingData is everything compute needs from the provider, fully drained
// up front so a fetch failure aborts before any derivation begins.
type billingData struct {
	paidInvoices   []providerdomain.Invoice
	failedInvoices []providerdomain.Invoice
	refunds        []providerdomain.Refund
	subscriptions  []providerdomain.Subscription
}

func (s *Service) compute(ctx context.Context, req domain.Request, table config.CategoryTable) (*domain.Report, error) {
	if s.provider == nil {
		return nil, domain.ErrProviderDisabled
	}

	now := s.clock.Now().UTC()
	windowStart := req.Month
	windowEnd := windowStart.AddDate(0, 1, 0)
	currentMonth := windowStart.Year() == now.Year() && windowStart.Month() == now.Month()

	refs, err := s.customerRefs(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}

	data, err := s.fetch(ctx, refs, providerdomain.Window{Start: windowStart, End: windowEnd})
	if err != nil {
		return nil, err
	}

	cls := classifier{table: table, filter: req.Category, include: req.IncludeMaintenanceFee}

	report := &domain.Report{
		Category:              req.Category,
		Month:                 windowStart.Format("2006-01"),
		IncludeMaintenanceFee: req.IncludeMaintenanceFee,
		GeneratedAt:           now,
	}

	s.aggregateLifetime(report, data.paidInvoices, cls)

	report.PeriodRevenue = periodRevenue(data.paidInvoices, cls, windowStart, windowEnd)
	report.PriorPeriodRevenue = periodRevenue(data.paidInvoices, cls, windowStart.AddDate(0, -1, 0), windowStart)
	if report.PriorPeriodRevenue != 0 {
		report.PercentChange = float64(report.PeriodRevenue-report.PriorPeriodRevenue) /
			float64(report.PriorPeriodRevenue) * 100
	}

	if currentMonth {
		report.ProjectedRevenue = projectedRevenue(data.subscriptions, cls, now, windowEnd)
	}

	for i := 5; i >= 0; i-- {
		monthStart := windowStart.AddDate(0, -i, 0)
		point := domain.MonthRevenue{
			Month:  monthStart.Format("2006-01"),
			Actual: periodRevenue(data.paidInvoices, cls, monthStart, monthStart.AddDate(0, 1, 0)),
		}
		if i == 0 && currentMonth {
			point.Projected = report.ProjectedRevenue
		}
		report.History = append(report.History, point)
	}

	for _, invoice := range data.failedInvoices {
		for _, line := range invoice.Lines {
			if _, ok := cls.resolve(line.PriceRef); !ok {
				continue
			}
			report.FailedPayments.Count++
			report.FailedPayments.Amount += money.ParseMinorUnits(line.Amount)
		}
	}
	for _, refund := range data.refunds {
		if _, ok := cls.resolve(refund.PriceRef); !ok {
			continue
		}
		report.RefundedPayments.Count++
		report.RefundedPayments.Amount += money.ParseMinorUnits(refund.Amount)
	}

	s.aggregateSubscriptions(report, data.subscriptions, cls, windowStart, windowEnd)

	return report, nil
}

// customerRefs collects the org's provider customer references; they scope
// the provider-wide billing lists down to this tenant.
func (s *Service) customerRefs(ctx context.Context, orgID snowflake.ID) (map[string]bool, error) {
	members, err := s.members.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	refs := make(map[string]bool, len(members))
	for _, member := range members {
		if member.ExternalCustomerRef != nil && *member.ExternalCustomerRef != "" {
			refs[*member.ExternalCustomerRef] = true
		}
	}
	return refs, nil
}

func (s *Service) fetch(ctx context.Context, refs map[string]bool, window providerdomain.Window) (*billingData, error) {
	paid, err := providerdomain.DrainInvoices(ctx, s.provider, providerdomain.InvoicePaid, providerdomain.Window{})
	if err != nil {
		return nil, err
	}
	open, err := providerdomain.DrainInvoices(ctx, s.provider, providerdomain.InvoiceOpen, window)
	if err != nil {
		return nil, err
	}
	uncollectible, err := providerdomain.DrainInvoices(ctx, s.provider, providerdomain.InvoiceUncollectible, window)
	if err != nil {
		return nil, err
	}
	refunds, err := providerdomain.DrainRefunds(ctx, s.provider, window)
	if err != nil {
		return nil, err
	}

	data := &billingData{}
	for _, invoice := range paid {
		if refs[invoice.CustomerRef] {
			data.paidInvoices = append(data.paidInvoices, invoice)
		}
	}
	for _, invoice := range append(open, uncollectible...) {
		if refs[invoice.CustomerRef] {
			data.failedInvoices = append(data.failedInvoices, invoice)
		}
	}
	for _, refund := range refunds {
		if refs[refund.CustomerRef] {
			data.refunds = append(data.refunds, refund)
		}
	}

	for ref := range refs {
		subs, err := providerdomain.DrainSubscriptions(ctx, s.provider, ref)
		if err != nil {
			return nil, err
		}
		data.subscriptions = append(data.subscriptions, subs...)
	}
	return data, nil
}

// aggregateLifetime fills the per-category lifetime revenue and LTV figures
// from paid, non-refunded invoice lines across all time.
func (s *Service) aggregateLifetime(report *domain.Report, invoices []providerdomain.Invoice, cls classifier) {
	revenue := map[string]int64{}
	payers := map[string]map[string]bool{}
	allPayers := map[string]bool{}

	for _, invoice := range invoices {
		for _, line := range invoice.Lines {
			if line.Refunded {
				continue
			}
			category, ok := cls.resolve(line.PriceRef)
			if !ok {
				continue
			}
			amount := money.ParseMinorUnits(line.Amount)
			revenue[category] += amount
			report.LifetimeRevenue += amount
			if payers[category] == nil {
				payers[category] = map[string]bool{}
			}
			payers[category][invoice.CustomerRef] = true
			allPayers[invoice.CustomerRef] = true
		}
	}

	names := make([]string, 0, len(revenue))
	for name := range revenue {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		entry := domain.CategoryRevenue{
			Category:        name,
			LifetimeRevenue: revenue[name],
			PayingCustomers: len(payers[name]),
		}
		if entry.PayingCustomers > 0 {
			entry.LTV = float64(entry.LifetimeRevenue) / float64(entry.PayingCustomers)
		}
		report.Categories = append(report.Categories, entry)
	}
	if len(allPayers) > 0 {
		report.AverageLTV = float64(report.LifetimeRevenue) / float64(len(allPayers))
	}
}

func (s *Service) aggregateSubscriptions(report *domain.Report, subs []providerdomain.Subscription, cls classifier, windowStart, windowEnd time.Time) {
	for _, sub := range subs {
		matched := false
		for _, item := range sub.Items {
			if _, ok := cls.resolve(item.PriceRef); ok {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		startedBefore := sub.StartAt.Before(windowStart)
		canceledBeforeStart := sub.CanceledAt != nil && sub.CanceledAt.Before(windowStart)
		canceledBeforeEnd := sub.CanceledAt != nil && sub.CanceledAt.Before(windowEnd)

		if startedBefore && !canceledBeforeStart {
			report.ActiveAtStart++
		}
		if sub.CanceledAt != nil && !canceledBeforeStart && canceledBeforeEnd {
			report.CanceledInWindow++
		}
		if !sub.StartAt.Before(windowStart) && sub.StartAt.Before(windowEnd) {
			report.NewInWindow++
		}
		if sub.StartAt.Before(windowEnd) && !canceledBeforeEnd {
			report.ActiveAtEnd++
			for _, item := range sub.Items {
				if _, ok := cls.resolve(item.PriceRef); !ok {
					continue
				}
				report.MRR += money.MonthlyAmount(money.ParseMinorUnits(item.Amount), item.Interval)
			}
		}
	}

	if report.ActiveAtStart > 0 {
		report.ChurnRate = float64(report.CanceledInWindow) / float64(report.ActiveAtStart) * 100
	}
}

func periodRevenue(invoices []providerdomain.Invoice, cls classifier, start, end time.Time) int64 {
	var total int64
	for _, invoice := range invoices {
		if invoice.CreatedAt.Before(start) || !invoice.CreatedAt.Before(end) {
			continue
		}
		for _, line := range invoice.Lines {
			if line.Refunded {
				continue
			}
			if _, ok := cls.resolve(line.PriceRef); !ok {
				continue
			}
			total += money.ParseMinorUnits(line.Amount)
		}
	}
	return total
}

// projectedRevenue sums normalized item amounts for running subscriptions
// whose current billing period renews between now and the window end.
func projectedRevenue(subs []providerdomain.Subscription, cls classifier, now, windowEnd time.Time) int64 {
	var total int64
	for _, sub := range subs {
		if sub.Status != providerdomain.SubscriptionActive &&
			sub.Status != providerdomain.SubscriptionTrialing {
			continue
		}
		for _, item := range sub.Items {
			if _, ok := cls.resolve(item.PriceRef); !ok {
				continue
			}
			if !item.PeriodEnd.After(now) || item.PeriodEnd.After(windowEnd) {
				continue
			}
			total += money.MonthlyAmount(money.ParseMinorUnits(item.Amount), item.Interval)
		}
	}
	return total
}

// classifier applies the tenant's price-to-category table together with the
// request's category filter and maintenance-fee inclusion flag.
type classifier struct {
	table   config.CategoryTable
	filter  string
	include bool
}

// resolve maps a price reference to its category and reports whether the
// line survives the filter. The designated maintenance-fee reference is
// dropped entirely unless its inclusion was requested.
func (c classifier) resolve(priceRef string) (string, bool) {
	if c.table.MaintenanceFeeRef != "" && priceRef == c.table.MaintenanceFeeRef && !c.include {
		return "", false
	}
	category := c.table.Categories[priceRef]
	if category == "" {
		category = domain.CategoryMisc
	}
	if c.filter != domain.CategoryAll && category != c.filter {
		return "", false
	}
	return category, true
}

func categoryAllowed(table config.CategoryTable, category string) bool {
	if category == domain.CategoryAll {
		return true
	}
	for _, name := range table.CategoryNames() {
		if name == category {
			return true
		}
	}
	return false
}
