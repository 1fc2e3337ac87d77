package repository

import (
	"context"
	"errors"
	"time"

	"coinledger/internal/model"

	"gorm.io/gorm"
)

type MiningRepository struct {
	db *gorm.DB
}

func NewMiningRepository(db *gorm.DB) *MiningRepository {
	return &MiningRepository{db: db}
}

// ============================================================================
// 矿机计划
// ============================================================================

func (r *MiningRepository) CreatePlan(ctx context.Context, plan *model.MiningPlan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *MiningRepository) GetPlan(ctx context.Context, tx *gorm.DB, planID int64) (*model.MiningPlan, error) {
	var plan model.MiningPlan
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", planID).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

func (r *MiningRepository) UpdatePlanActive(ctx context.Context, planID int64, active bool) error {
	result := r.db.WithContext(ctx).
		Model(&model.MiningPlan{}).
		Where("id = ?", planID).
		Update("is_active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrPlanNotFound
	}
	return nil
}

func (r *MiningRepository) ListPlans(ctx context.Context, activeOnly bool) ([]*model.MiningPlan, error) {
	var plans []*model.MiningPlan
	query := r.db.WithContext(ctx).Model(&model.MiningPlan{})
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	err := query.Order("id ASC").Find(&plans).Error
	return plans, err
}

// ============================================================================
// 挖矿投资
// ============================================================================

func (r *MiningRepository) CreateInvestment(ctx context.Context, tx *gorm.DB, investment *model.MiningInvestment) error {
	return conn(r.db, tx).WithContext(ctx).Create(investment).Error
}

func (r *MiningRepository) GetInvestment(ctx context.Context, tx *gorm.DB, investmentNo string) (*model.MiningInvestment, error) {
	var investment model.MiningInvestment
	err := conn(r.db, tx).WithContext(ctx).Where("investment_no = ?", investmentNo).First(&investment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrInvestmentNotFound
		}
		return nil, err
	}
	return &investment, nil
}

// SaveInvestment 乐观锁写回投资记录，同一笔投资的两次领取只有一次能成功
func (r *MiningRepository) SaveInvestment(ctx context.Context, tx *gorm.DB, investment *model.MiningInvestment, updates map[string]interface{}) error {
	updates["version"] = investment.Version + 1

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.MiningInvestment{}).
		Where("id = ? AND status = ? AND version = ?", investment.ID, model.InvestmentStatusActive, investment.Version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrOptimisticLock
	}
	investment.Version++
	return nil
}

func (r *MiningRepository) ListInvestments(ctx context.Context, accountID string) ([]*model.MiningInvestment, error) {
	var investments []*model.MiningInvestment
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&investments).Error
	return investments, err
}

// GetMaturedInvestments 已到期但还未结算的投资
func (r *MiningRepository) GetMaturedInvestments(ctx context.Context, now time.Time, limit int) ([]*model.MiningInvestment, error) {
	var investments []*model.MiningInvestment
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_date <= ?", model.InvestmentStatusActive, now).
		Order("end_date ASC").
		Limit(limit).
		Find(&investments).Error
	return investments, err
}
