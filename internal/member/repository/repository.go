package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/memberly/internal/member/domain"
	"github.com/smallbiznis/memberly/pkg/db"
	"github.com/smallbiznis/memberly/pkg/repository"
)

// MemberRepository is the query surface for org members.
type MemberRepository interface {
	repository.Repository[domain.Member]
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Member, error)
	FindByCustomerRef(ctx context.Context, orgID snowflake.ID, customerRef string) (*domain.Member, error)
	ListByOrg(ctx context.Context, orgID snowflake.ID) ([]domain.Member, error)
}

type memberRepository struct {
	repository.Repository[domain.Member]
	db *gorm.DB
}

// New constructs a gorm-backed MemberRepository.
func New(db *gorm.DB) MemberRepository {
	return &memberRepository{
		Repository: repository.ProvideStore[domain.Member](db),
		db:         db,
	}
}

// FindByIDForUpdate loads the member inside the given transaction with a row
// lock, serializing concurrent sync and webhook writes for the same member.
func (r *memberRepository) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Member, error) {
	var member domain.Member
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("id = ?", id).
		First(&member).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

func (r *memberRepository) FindByCustomerRef(ctx context.Context, orgID snowflake.ID, customerRef string) (*domain.Member, error) {
	var member domain.Member
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND external_customer_ref = ?", orgID, customerRef).
		First(&member).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

func (r *memberRepository) ListByOrg(ctx context.Context, orgID snowflake.ID) ([]domain.Member, error) {
	var members []domain.Member
	if err := r.db.WithContext(ctx).Where("org_id = ?", orgID).Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}
