package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/memberly/internal/plan/domain"
	"github.com/smallbiznis/memberly/pkg/repository"
)

// PlanRepository is the query surface for membership plans. It embeds the
// generic store and adds the lookups the sync path needs.
type PlanRepository interface {
	repository.Repository[domain.Plan]
	FindByExternalPriceRef(ctx context.Context, orgID snowflake.ID, priceRef string) (*domain.Plan, error)
	FindByName(ctx context.Context, orgID snowflake.ID, name string) (*domain.Plan, error)
}

type planRepository struct {
	repository.Repository[domain.Plan]
	db *gorm.DB
}

// New constructs a gorm-backed PlanRepository.
func New(db *gorm.DB) PlanRepository {
	return &planRepository{
		Repository: repository.ProvideStore[domain.Plan](db),
		db:         db,
	}
}

func (r *planRepository) FindByExternalPriceRef(ctx context.Context, orgID snowflake.ID, priceRef string) (*domain.Plan, error) {
	var plan domain.Plan
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND external_price_ref = ?", orgID, priceRef).
		First(&plan).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) FindByName(ctx context.Context, orgID snowflake.ID, name string) (*domain.Plan, error) {
	var plan domain.Plan
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND name = ? AND archived = ?", orgID, name, false).
		First(&plan).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}
