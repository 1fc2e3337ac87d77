package repository

import (
	"context"
	"errors"

	"coinledger/internal/model"

	"gorm.io/gorm"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.SpotOrder) error {
	return conn(r.db, tx).WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) GetByOrderNo(ctx context.Context, tx *gorm.DB, orderNo string) (*model.SpotOrder, error) {
	var order model.SpotOrder
	err := conn(r.db, tx).WithContext(ctx).Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// Save 条件写回委托单
//
// 以读取时的 status + version 作为条件，校验状态流转是否合法
func (r *OrderRepository) Save(ctx context.Context, tx *gorm.DB, order *model.SpotOrder, fromStatus string, updates map[string]interface{}) error {
	if toStatus, ok := updates["status"].(string); ok && !model.CanOrderTransitionTo(fromStatus, toStatus) {
		return model.ErrInvalidState
	}
	updates["version"] = order.Version + 1

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.SpotOrder{}).
		Where("id = ? AND status = ? AND version = ?", order.ID, fromStatus, order.Version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrOptimisticLock
	}
	order.Version++
	return nil
}

func (r *OrderRepository) ListByAccount(ctx context.Context, accountID, status string, page, pageSize int) ([]*model.SpotOrder, int64, error) {
	var orders []*model.SpotOrder
	var total int64

	page, pageSize = normalizePage(page, pageSize)

	query := r.db.WithContext(ctx).Model(&model.SpotOrder{}).Where("account_id = ?", accountID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error

	return orders, total, err
}
