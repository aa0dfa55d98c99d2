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
	"github.com/smallbiznis/memberly/internal/membership/domain"
	membershiprepo "github.com/smallbiznis/memberly/internal/membership/repository"
	plandomain "github.com/smallbiznis/memberly/internal/plan/domain"
	planrepo "github.com/smallbiznis/memberly/internal/plan/repository"
	providerdomain "github.com/smallbiznis/memberly/internal/provider/domain"
	"github.com/smallbiznis/memberly/pkg/money"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Node        *snowflake.Node
	Members     memberrepo.MemberRepository
	Memberships membershiprepo.MembershipRepository
	Plans       planrepo.PlanRepository
	Provider    providerdomain.Client `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	node        *snowflake.Node
	members     memberrepo.MemberRepository
	memberships membershiprepo.MembershipRepository
	plans       planrepo.PlanRepository
	provider    providerdomain.Client
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("membership.service"),
		clock:       p.Clock,
		node:        p.Node,
		members:     p.Members,
		memberships: p.Memberships,
		plans:       p.Plans,
		provider:    p.Provider,
	}
}

// Create provisions a remote subscription for the member on the given plan
// and records the resulting membership.
func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Membership, error) {
	if s.provider == nil {
		return nil, domain.ErrProviderDisabled
	}

	member, err := s.members.FindOne(ctx, &memberdomain.Member{ID: req.MemberID, OrgID: req.OrgID})
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, memberdomain.ErrMemberNotFound
	}
	if member.ExternalCustomerRef == nil || *member.ExternalCustomerRef == "" {
		return nil, memberdomain.ErrMissingCustomerRef
	}

	plan, err := s.plans.FindOne(ctx, &plandomain.Plan{ID: req.PlanID, OrgID: req.OrgID})
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}
	if plan.ExternalPriceRef == nil || *plan.ExternalPriceRef == "" {
		return nil, plandomain.ErrInvalidPlan
	}

	sub, err := s.provider.CreateSubscription(ctx, *member.ExternalCustomerRef, *plan.ExternalPriceRef)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	anchor := sub.CurrentPeriodEnd
	membership := &domain.Membership{
		ID:                      s.node.Generate(),
		OrgID:                   req.OrgID,
		MemberID:                member.ID,
		PlanID:                  plan.ID,
		Status:                  domain.StatusFromRemote(sub, now),
		AnchorAt:                &anchor,
		ExternalSubscriptionRef: &sub.ID,
		Amount:                  plan.Amount,
	}
	if len(sub.Items) > 0 {
		membership.Amount = money.ParseMinorUnits(sub.Items[0].Amount)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Create(membership).Error; err != nil {
			return err
		}
		return RefreshMemberFlags(ctx, tx, member.ID)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("membership created",
		zap.Int64("org_id", int64(req.OrgID)),
		zap.Int64("member_id", int64(member.ID)),
		zap.String("subscription_ref", sub.ID),
		zap.String("status", string(membership.Status)),
	)
	return membership, nil
}

// Pause schedules a pause starting at the membership's next anchor date for
// the requested duration, mirroring the window to the provider.
func (s *Service) Pause(ctx context.Context, req domain.PauseRequest) (*domain.Membership, error) {
	if s.provider == nil {
		return nil, domain.ErrProviderDisabled
	}
	if req.Duration <= 0 {
		return nil, domain.ErrInvalidDuration
	}

	var paused *domain.Membership
	err := s.db.Transaction(func(tx *gorm.DB) error {
		membership, err := s.memberships.FindByIDForUpdate(ctx, tx, req.MembershipID)
		if err != nil {
			return err
		}
		if membership.OrgID != req.OrgID {
			return domain.ErrMembershipNotFound
		}
		if !domain.CanTransition(membership.Status, domain.StatusPauseScheduled) {
			return domain.ErrInvalidTransition
		}
		if membership.ExternalSubscriptionRef == nil {
			return domain.ErrMissingRemoteRef
		}

		now := s.clock.Now().UTC()
		start := now
		if membership.AnchorAt != nil && membership.AnchorAt.After(now) {
			start = membership.AnchorAt.UTC()
		}
		end := start.Add(req.Duration)

		if err := s.provider.PauseSubscription(ctx, *membership.ExternalSubscriptionRef, providerdomain.PauseWindow{
			Start: start,
			End:   end,
		}); err != nil {
			return err
		}

		membership.Status = domain.StatusPauseScheduled
		membership.PauseStartAt = &start
		membership.PauseEndAt = &end
		if err := tx.WithContext(ctx).Save(membership).Error; err != nil {
			return err
		}
		if err := RefreshMemberFlags(ctx, tx, membership.MemberID); err != nil {
			return err
		}
		paused = membership
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("membership pause scheduled",
		zap.Int64("membership_id", int64(paused.ID)),
		zap.Timep("pause_start_at", paused.PauseStartAt),
		zap.Timep("pause_end_at", paused.PauseEndAt),
	)
	return paused, nil
}

// Resume reactivates a paused membership and pushes the anchor date forward
// by the number of whole days actually spent paused, so paused time is never
// billed.
func (s *Service) Resume(ctx context.Context, orgID, membershipID snowflake.ID) (*domain.Membership, error) {
	if s.provider == nil {
		return nil, domain.ErrProviderDisabled
	}

	var resumed *domain.Membership
	err := s.db.Transaction(func(tx *gorm.DB) error {
		membership, err := s.memberships.FindByIDForUpdate(ctx, tx, membershipID)
		if err != nil {
			return err
		}
		if membership.OrgID != orgID {
			return domain.ErrMembershipNotFound
		}
		if membership.Status != domain.StatusPaused && membership.Status != domain.StatusPauseScheduled {
			return domain.ErrNotPaused
		}
		if membership.ExternalSubscriptionRef == nil {
			return domain.ErrMissingRemoteRef
		}

		if err := s.provider.ResumeSubscription(ctx, *membership.ExternalSubscriptionRef); err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		if membership.AnchorAt != nil {
			if days := pausedDays(membership.PauseStartAt, now); days > 0 {
				anchor := membership.AnchorAt.AddDate(0, 0, days)
				membership.AnchorAt = &anchor
			}
		}
		membership.Status = domain.StatusActive
		membership.PauseStartAt = nil
		membership.PauseEndAt = nil

		if err := tx.WithContext(ctx).Save(membership).Error; err != nil {
			return err
		}
		if err := RefreshMemberFlags(ctx, tx, membership.MemberID); err != nil {
			return err
		}
		resumed = membership
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("membership resumed",
		zap.Int64("membership_id", int64(resumed.ID)),
		zap.Timep("anchor_at", resumed.AnchorAt),
	)
	return resumed, nil
}

// Cancel ends a membership. Immediate cancellation removes the membership
// outright; deferred cancellation parks it in CANCELLING until the remote
// deletion event for the period end arrives.
func (s *Service) Cancel(ctx context.Context, req domain.CancelRequest) (*domain.Membership, error) {
	if s.provider == nil {
		return nil, domain.ErrProviderDisabled
	}

	var cancelled *domain.Membership
	err := s.db.Transaction(func(tx *gorm.DB) error {
		membership, err := s.memberships.FindByIDForUpdate(ctx, tx, req.MembershipID)
		if err != nil {
			return err
		}
		if membership.OrgID != req.OrgID {
			return domain.ErrMembershipNotFound
		}
		if membership.Status.IsTerminal() {
			return domain.ErrAlreadyCancelled
		}
		if membership.ExternalSubscriptionRef == nil {
			return domain.ErrMissingRemoteRef
		}

		if err := s.provider.CancelSubscription(ctx, *membership.ExternalSubscriptionRef, !req.Immediate); err != nil {
			return err
		}

		if req.Immediate {
			if err := tx.WithContext(ctx).Delete(&domain.Membership{}, "id = ?", membership.ID).Error; err != nil {
				return err
			}
			membership.Status = domain.StatusCancelled
		} else {
			if !domain.CanTransition(membership.Status, domain.StatusCancelling) {
				return domain.ErrInvalidTransition
			}
			membership.Status = domain.StatusCancelling
			membership.EndAt = membership.AnchorAt
			if err := tx.WithContext(ctx).Save(membership).Error; err != nil {
				return err
			}
		}

		if err := RefreshMemberFlags(ctx, tx, membership.MemberID); err != nil {
			return err
		}
		cancelled = membership
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("membership cancelled",
		zap.Int64("membership_id", int64(cancelled.ID)),
		zap.Bool("immediate", req.Immediate),
	)
	return cancelled, nil
}

// ApplyRemoteStatus converges the membership identified by its external
// subscription reference onto the status a remote event reports. Transitions
// outside the status table are logged and surfaced as ErrConflictingState;
// repeating the current status is a no-op.
func (s *Service) ApplyRemoteStatus(ctx context.Context, orgID snowflake.ID, subscriptionRef string, target domain.Status, endAt *time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		membership, err := s.memberships.FindByExternalRef(ctx, tx, orgID, subscriptionRef)
		if err != nil {
			return err
		}
		if membership.Status == target {
			return nil
		}
		if !domain.CanTransition(membership.Status, target) {
			s.log.Warn("transition rejected",
				zap.Int64("membership_id", int64(membership.ID)),
				zap.String("current", string(membership.Status)),
				zap.String("target", string(target)),
			)
			return domain.ErrConflictingState
		}

		if target == domain.StatusCancelled {
			// Remote deletion of a non-terminal membership removes the row
			// rather than archiving it.
			if err := tx.WithContext(ctx).Delete(&domain.Membership{}, "id = ?", membership.ID).Error; err != nil {
				return err
			}
			return RefreshMemberFlags(ctx, tx, membership.MemberID)
		}

		now := s.clock.Now().UTC()
		switch target {
		case domain.StatusActive:
			if membership.AnchorAt != nil {
				if days := pausedDays(membership.PauseStartAt, now); days > 0 {
					anchor := membership.AnchorAt.AddDate(0, 0, days)
					membership.AnchorAt = &anchor
				}
			}
			membership.PauseStartAt = nil
			membership.PauseEndAt = nil
			membership.EndAt = nil
		case domain.StatusCancelling:
			if endAt != nil {
				membership.EndAt = endAt
			} else {
				membership.EndAt = membership.AnchorAt
			}
		}
		membership.Status = target

		if err := tx.WithContext(ctx).Save(membership).Error; err != nil {
			return err
		}
		return RefreshMemberFlags(ctx, tx, membership.MemberID)
	})
}

// MarkPaid promotes a membership to ACTIVE on a successful payment. Only
// PENDING and PAST_DUE memberships qualify; a paid invoice against any other
// state, such as the closing invoice of a deferred cancellation, is left for
// subscription events to settle.
func (s *Service) MarkPaid(ctx context.Context, orgID snowflake.ID, subscriptionRef string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		membership, err := s.memberships.FindByExternalRef(ctx, tx, orgID, subscriptionRef)
		if err != nil {
			return err
		}
		if membership.Status != domain.StatusPending && membership.Status != domain.StatusPastDue {
			return nil
		}

		membership.Status = domain.StatusActive
		if err := tx.WithContext(ctx).Save(membership).Error; err != nil {
			return err
		}
		return RefreshMemberFlags(ctx, tx, membership.MemberID)
	})
}

// pausedDays counts the whole days between the pause start and now. A pause
// that never took effect contributes zero.
func pausedDays(pauseStart *time.Time, now time.Time) int {
	if pauseStart == nil || !pauseStart.Before(now) {
		return 0
	}
	return int(now.Sub(*pauseStart).Hours() / 24)
}

// statusRank orders membership statuses for the member's cached status; the
// highest-ranked status across live memberships wins.
var statusRank = map[domain.Status]int{
	domain.StatusActive:         7,
	domain.StatusCancelling:     6,
	domain.StatusPastDue:        5,
	domain.StatusPauseScheduled: 4,
	domain.StatusPaused:         3,
	domain.StatusPending:        2,
	domain.StatusInactive:       1,
}

// RefreshMemberFlags recomputes the member's denormalized membership flags
// from the memberships that remain after a change. The reconciliation sweep
// shares it so both write paths agree on the derivation.
func RefreshMemberFlags(ctx context.Context, tx *gorm.DB, memberID snowflake.ID) error {
	var memberships []domain.Membership
	if err := tx.WithContext(ctx).Where("member_id = ?", memberID).Find(&memberships).Error; err != nil {
		return err
	}

	var (
		delinquent bool
		pausedFlag bool
		cached     = "NONE"
		best       = 0
	)
	for _, m := range memberships {
		if m.Status == domain.StatusPastDue {
			delinquent = true
		}
		if m.Status == domain.StatusPaused || m.Status == domain.StatusPauseScheduled {
			pausedFlag = true
		}
		if rank := statusRank[m.Status]; rank > best {
			best = rank
			cached = string(m.Status)
		}
	}

	var member memberdomain.Member
	if err := tx.WithContext(ctx).First(&member, "id = ?", memberID).Error; err != nil {
		return err
	}

	hasEver := member.HasEverHadMembership || len(memberships) > 0
	if member.IsDelinquent == delinquent &&
		member.IsPaused == pausedFlag &&
		member.CachedStatus == cached &&
		member.HasEverHadMembership == hasEver {
		return nil
	}

	return tx.WithContext(ctx).
		Model(&memberdomain.Member{}).
		Where("id = ?", memberID).
		Updates(map[string]any{
			"is_delinquent":           delinquent,
			"is_paused":               pausedFlag,
			"cached_status":           cached,
			"has_ever_had_membership": hasEver,
		}).Error
}
