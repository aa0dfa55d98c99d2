package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/memberly/internal/membership/domain"
	"github.com/smallbiznis/memberly/pkg/db"
	"github.com/smallbiznis/memberly/pkg/repository"
)

// MembershipRepository is the query surface for memberships. External
// subscription references are unique-indexed, so FindByExternalRef is a
// point lookup rather than a scan.
type MembershipRepository interface {
	repository.Repository[domain.Membership]
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Membership, error)
	FindByExternalRef(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, subscriptionRef string) (*domain.Membership, error)
	ListByMember(ctx context.Context, memberID snowflake.ID) ([]domain.Membership, error)
	ListByOrg(ctx context.Context, orgID snowflake.ID) ([]domain.Membership, error)
}

type membershipRepository struct {
	repository.Repository[domain.Membership]
	db *gorm.DB
}

// New constructs a gorm-backed MembershipRepository.
func New(db *gorm.DB) MembershipRepository {
	return &membershipRepository{
		Repository: repository.ProvideStore[domain.Membership](db),
		db:         db,
	}
}

func (r *membershipRepository) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Membership, error) {
	var membership domain.Membership
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("id = ?", id).
		First(&membership).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrMembershipNotFound
		}
		return nil, err
	}
	return &membership, nil
}

// FindByExternalRef locks the matching row when called inside a transaction,
// serializing webhook and sweep writes against the same membership.
func (r *membershipRepository) FindByExternalRef(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, subscriptionRef string) (*domain.Membership, error) {
	if tx == nil {
		tx = r.db
	}
	var membership domain.Membership
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("org_id = ? AND external_subscription_ref = ?", orgID, subscriptionRef).
		First(&membership).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrMembershipNotFound
		}
		return nil, err
	}
	return &membership, nil
}

func (r *membershipRepository) ListByMember(ctx context.Context, memberID snowflake.ID) ([]domain.Membership, error) {
	var memberships []domain.Membership
	if err := r.db.WithContext(ctx).Where("member_id = ?", memberID).Find(&memberships).Error; err != nil {
		return nil, err
	}
	return memberships, nil
}

func (r *membershipRepository) ListByOrg(ctx context.Context, orgID snowflake.ID) ([]domain.Membership, error) {
	var memberships []domain.Membership
	if err := r.db.WithContext(ctx).Where("org_id = ?", orgID).Find(&memberships).Error; err != nil {
		return nil, err
	}
	return memberships, nil
}
