// Package service implements the reconciliation sweep that converges local
// membership state onto the provider's view.
package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/memberly/internal/clock"
	memberdomain "github.com/smallbiznis/memberly/internal/member/domain"
	memberrepo "github.com/smallbiznis/memberly/internal/member/repository"
	membershipdomain "github.com/smallbiznis/memberly/internal/membership/domain"
	membershipservice "github.com/smallbiznis/memberly/internal/membership/service"
	"github.com/smallbiznis/memberly/internal/observability/metrics"
	plandomain "github.com/smallbiznis/memberly/internal/plan/domain"
	providerdomain "github.com/smallbiznis/memberly/internal/provider/domain"
	"github.com/smallbiznis/memberly/internal/reconcile/domain"
	"github.com/smallbiznis/memberly/pkg/money"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Node     *snowflake.Node
	Members  memberrepo.MemberRepository
	Provider providerdomain.Client `optional:"true"`
	Metrics  *metrics.Metrics      `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	node     *snowflake.Node
	members  memberrepo.MemberRepository
	provider providerdomain.Client
	metrics  *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("reconcile.service"),
		clock:    p.Clock,
		node:     p.Node,
		members:  p.Members,
		provider: p.Provider,
		metrics:  p.Metrics,
	}
}

// SyncOrg converges every member of the org that carries a billing account.
// A failure for one member is logged and counted; the sweep moves on.
func (s *Service) SyncOrg(ctx context.Context, orgID snowflake.ID) (domain.Summary, error) {
	var summary domain.Summary
	if s.provider == nil {
		return summary, domain.ErrProviderDisabled
	}

	members, err := s.members.ListByOrg(ctx, orgID)
	if err != nil {
		return summary, err
	}

	for i := range members {
		member := &members[i]
		if member.ExternalCustomerRef == nil || *member.ExternalCustomerRef == "" {
			continue
		}
		updated, err := s.syncMember(ctx, member)
		if err != nil {
			summary.Errored++
			s.log.Error("member sync failed",
				zap.Int64("org_id", int64(orgID)),
				zap.Int64("member_id", int64(member.ID)),
				zap.Error(err),
			)
			continue
		}
		summary.Synced++
		if updated {
			summary.Updated++
		}
	}

	s.metrics.AddSweepMembers(ctx, "synced", summary.Synced)
	s.metrics.AddSweepMembers(ctx, "updated", summary.Updated)
	s.metrics.AddSweepMembers(ctx, "errored", summary.Errored)
	s.log.Info("org sweep complete",
		zap.Int64("org_id", int64(orgID)),
		zap.Int("synced", summary.Synced),
		zap.Int("updated", summary.Updated),
		zap.Int("errored", summary.Errored),
	)
	return summary, nil
}

// SyncAll sweeps every org with at least one member. Orgs fail independently.
func (s *Service) SyncAll(ctx context.Context) (domain.Summary, error) {
	var summary domain.Summary
	if s.provider == nil {
		return summary, domain.ErrProviderDisabled
	}

	var orgIDs []snowflake.ID
	err := s.db.WithContext(ctx).
		Model(&memberdomain.Member{}).
		Distinct("org_id").
		Pluck("org_id", &orgIDs).Error
	if err != nil {
		return summary, err
	}

	for _, orgID := range orgIDs {
		orgSummary, err := s.SyncOrg(ctx, orgID)
		if err != nil {
			s.log.Error("org sweep failed", zap.Int64("org_id", int64(orgID)), zap.Error(err))
			continue
		}
		summary.Add(orgSummary)
	}
	return summary, nil
}

// syncMember fetches the member's full remote subscription list, then
// converges local memberships inside one transaction holding the member's
// row lock, so a concurrent webhook cannot interleave its own update.
func (s *Service) syncMember(ctx context.Context, member *memberdomain.Member) (bool, error) {
	subs, err := providerdomain.DrainSubscriptions(ctx, s.provider, *member.ExternalCustomerRef)
	if err != nil {
		return false, err
	}

	changed := false
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.members.FindByIDForUpdate(ctx, tx, member.ID); err != nil {
			return err
		}

		var local []membershipdomain.Membership
		if err := tx.WithContext(ctx).Where("member_id = ?", member.ID).Find(&local).Error; err != nil {
			return err
		}
		byRef := make(map[string]*membershipdomain.Membership, len(local))
		for i := range local {
			if ref := local[i].ExternalSubscriptionRef; ref != nil {
				byRef[*ref] = &local[i]
			}
		}

		now := s.clock.Now().UTC()
		seen := make(map[string]bool, len(subs))
		for _, sub := range subs {
			seen[sub.ID] = true
			if membership, ok := byRef[sub.ID]; ok {
				updated, err := s.converge(ctx, tx, membership, sub, now)
				if err != nil {
					return err
				}
				changed = changed || updated
				continue
			}
			created, err := s.synthesize(ctx, tx, member, sub, now)
			if err != nil {
				return err
			}
			changed = changed || created
		}

		// Anything local the remote side no longer knows about is orphaned.
		for i := range local {
			membership := &local[i]
			if membership.ExternalSubscriptionRef == nil || seen[*membership.ExternalSubscriptionRef] {
				continue
			}
			if membership.Status.IsTerminal() {
				continue
			}
			if err := tx.WithContext(ctx).Delete(&membershipdomain.Membership{}, "id = ?", membership.ID).Error; err != nil {
				return err
			}
			s.log.Info("orphaned membership removed",
				zap.Int64("membership_id", int64(membership.ID)),
				zap.String("subscription_ref", *membership.ExternalSubscriptionRef),
			)
			changed = true
		}

		return membershipservice.RefreshMemberFlags(ctx, tx, member.ID)
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// converge diffs one matched membership against the remote snapshot and
// persists it only when a field actually changed.
func (s *Service) converge(ctx context.Context, tx *gorm.DB, membership *membershipdomain.Membership, sub providerdomain.Subscription, now time.Time) (bool, error) {
	target := membershipdomain.StatusFromRemote(sub, now)
	if target == membershipdomain.StatusCancelled {
		if membership.Status.IsTerminal() {
			return false, nil
		}
		err := tx.WithContext(ctx).Delete(&membershipdomain.Membership{}, "id = ?", membership.ID).Error
		return err == nil, err
	}

	changed := false
	if membership.Status != target {
		if membershipdomain.CanTransition(membership.Status, target) {
			membership.Status = target
			switch target {
			case membershipdomain.StatusCancelling:
				if !sub.CurrentPeriodEnd.IsZero() {
					periodEnd := sub.CurrentPeriodEnd
					membership.EndAt = &periodEnd
				}
			case membershipdomain.StatusActive:
				membership.EndAt = nil
			}
			changed = true
		} else {
			s.log.Warn("sweep transition rejected",
				zap.Int64("membership_id", int64(membership.ID)),
				zap.String("current", string(membership.Status)),
				zap.String("target", string(target)),
			)
		}
	}

	if len(sub.Items) > 0 {
		if amount := money.ParseMinorUnits(sub.Items[0].Amount); amount != membership.Amount {
			membership.Amount = amount
			changed = true
		}
	}
	if !timePtrEqual(membership.PauseStartAt, sub.PauseStartAt) {
		membership.PauseStartAt = sub.PauseStartAt
		changed = true
	}
	if !timePtrEqual(membership.PauseEndAt, sub.PauseEndAt) {
		membership.PauseEndAt = sub.PauseEndAt
		changed = true
	}
	if !sub.CurrentPeriodEnd.IsZero() {
		if membership.AnchorAt == nil || !membership.AnchorAt.Equal(sub.CurrentPeriodEnd) {
			anchor := sub.CurrentPeriodEnd
			membership.AnchorAt = &anchor
			changed = true
		}
	}

	if !changed {
		return false, nil
	}
	return true, tx.WithContext(ctx).Save(membership).Error
}

// synthesize backfills a membership, and when necessary its plan, for a
// remote subscription the application has not modeled yet.
func (s *Service) synthesize(ctx context.Context, tx *gorm.DB, member *memberdomain.Member, sub providerdomain.Subscription, now time.Time) (bool, error) {
	status := membershipdomain.StatusFromRemote(sub, now)
	if status == membershipdomain.StatusCancelled {
		return false, nil
	}

	var item providerdomain.SubscriptionItem
	if len(sub.Items) > 0 {
		item = sub.Items[0]
	}

	plan, err := s.matchPlan(ctx, tx, member.OrgID, item)
	if err != nil {
		return false, err
	}
	if plan == nil {
		plan = &plandomain.Plan{
			ID:       s.node.Generate(),
			OrgID:    member.OrgID,
			Name:     planName(item),
			Amount:   money.ParseMinorUnits(item.Amount),
			Interval: plandomain.NormalizeInterval(item.Interval),
		}
		if item.PriceRef != "" {
			priceRef := item.PriceRef
			plan.ExternalPriceRef = &priceRef
		}
		if err := tx.WithContext(ctx).Create(plan).Error; err != nil {
			return false, err
		}
		s.log.Info("plan synthesized from remote subscription",
			zap.Int64("org_id", int64(member.OrgID)),
			zap.String("name", plan.Name),
		)
	}

	ref := sub.ID
	anchor := sub.CurrentPeriodEnd
	membership := &membershipdomain.Membership{
		ID:                      s.node.Generate(),
		OrgID:                   member.OrgID,
		MemberID:                member.ID,
		PlanID:                  plan.ID,
		Status:                  status,
		ExternalSubscriptionRef: &ref,
		Amount:                  money.ParseMinorUnits(item.Amount),
		PauseStartAt:            sub.PauseStartAt,
		PauseEndAt:              sub.PauseEndAt,
	}
	if !anchor.IsZero() {
		membership.AnchorAt = &anchor
	}
	if status == membershipdomain.StatusCancelling && !sub.CurrentPeriodEnd.IsZero() {
		periodEnd := sub.CurrentPeriodEnd
		membership.EndAt = &periodEnd
	}
	if err := tx.WithContext(ctx).Create(membership).Error; err != nil {
		return false, err
	}
	return true, nil
}

// matchPlan resolves the remote item to an existing plan, by external price
// reference first and display name second. Name matching covers billing data
// created directly with the provider before the price was linked.
func (s *Service) matchPlan(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, item providerdomain.SubscriptionItem) (*plandomain.Plan, error) {
	if item.PriceRef != "" {
		var plan plandomain.Plan
		err := tx.WithContext(ctx).
			Where("org_id = ? AND external_price_ref = ?", orgID, item.PriceRef).
			First(&plan).Error
		if err == nil {
			return &plan, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}
	if item.PlanName != "" {
		var plan plandomain.Plan
		err := tx.WithContext(ctx).
			Where("org_id = ? AND name = ? AND archived = ?", orgID, item.PlanName, false).
			First(&plan).Error
		if err == nil {
			return &plan, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}
	return nil, nil
}

func planName(item providerdomain.SubscriptionItem) string {
	if item.PlanName != "" {
		return item.PlanName
	}
	if item.PriceRef != "" {
		return item.PriceRef
	}
	return "imported"
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
