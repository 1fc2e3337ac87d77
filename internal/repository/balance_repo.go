package repository

import (
	"context"
	"errors"

	"coinledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

func (r *BalanceRepository) Get(ctx context.Context, tx *gorm.DB, accountID, currency string) (*model.AccountBalance, error) {
	var balance model.AccountBalance
	err := conn(r.db, tx).WithContext(ctx).
		Where("account_id = ? AND currency = ?", accountID, model.NormalizeCurrency(currency)).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// GetOrCreate 余额行不存在时以全零插入，并发插入由唯一索引兜底
func (r *BalanceRepository) GetOrCreate(ctx context.Context, tx *gorm.DB, accountID, currency string) (*model.AccountBalance, error) {
	balance, err := r.Get(ctx, tx, accountID, currency)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, model.ErrBalanceNotFound) {
		return nil, err
	}

	err = conn(r.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "currency"}},
			DoNothing: true,
		}).
		Create(model.ZeroBalance(accountID, currency)).Error
	if err != nil {
		return nil, err
	}

	return r.Get(ctx, tx, accountID, currency)
}

// CompareAndSwap 乐观锁写回余额
//
// UPDATE account_balance SET available=?, locked=?, total=?, version=version+1
// WHERE id = ? AND version = ?
//
// 影响行数为 0 说明期间有别人改过这一行，返回 ErrOptimisticLock，由上层整体重试
func (r *BalanceRepository) CompareAndSwap(ctx context.Context, tx *gorm.DB, balance *model.AccountBalance, available, locked decimal.Decimal) error {
	total := model.ComputeTotal(available, locked)

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.AccountBalance{}).
		Where("id = ? AND version = ?", balance.ID, balance.Version).
		Updates(map[string]interface{}{
			"available": available,
			"locked":    locked,
			"total":     total,
			"version":   balance.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrOptimisticLock
	}

	balance.Available = available
	balance.Locked = locked
	balance.Total = total
	balance.Version++
	return nil
}

func (r *BalanceRepository) ListByAccount(ctx context.Context, accountID string) ([]*model.AccountBalance, error) {
	var balances []*model.AccountBalance
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("currency ASC").
		Find(&balances).Error
	return balances, err
}

// conn 传入事务时使用事务，否则使用默认连接
func conn(db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return db
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
