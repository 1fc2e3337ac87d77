package repository

import (
	"context"
	"errors"
	"time"

	"coinledger/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.LedgerTransaction) error {
	return conn(r.db, tx).WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, tx *gorm.DB, transactionNo string) (*model.LedgerTransaction, error) {
	var trans model.LedgerTransaction
	err := conn(r.db, tx).WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// TransitionUpdate 状态流转时一并写入的处理信息
type TransitionUpdate struct {
	ProcessedBy    string
	ProcessingNote string
	TxHash         string
}

// TransitionStatus 条件更新流水状态
//
// 只有 status 仍等于 fromStatus 时才会更新，并发下只有一个调用方能成功
func (r *TransactionRepository) TransitionStatus(ctx context.Context, tx *gorm.DB, transactionNo, fromStatus, toStatus string, extra TransitionUpdate) error {
	if !model.CanTxTransitionTo(fromStatus, toStatus) {
		return model.ErrInvalidTransition
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	if extra.ProcessedBy != "" {
		updates["processed_by"] = extra.ProcessedBy
	}
	if extra.ProcessingNote != "" {
		updates["processing_note"] = extra.ProcessingNote
	}
	if extra.TxHash != "" {
		updates["tx_hash"] = extra.TxHash
	}
	if toStatus == model.TxStatusCompleted {
		now := time.Now()
		updates["completed_at"] = &now
	}

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.LedgerTransaction{}).
		Where("transaction_no = ? AND status = ?", transactionNo, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrInvalidTransition
	}
	return nil
}

// TransactionFilter 流水查询条件，空字段不参与过滤
type TransactionFilter struct {
	AccountID string
	Kind      string
	Status    string
	Currency  string
}

func (r *TransactionRepository) List(ctx context.Context, filter TransactionFilter, page, pageSize int) ([]*model.LedgerTransaction, int64, error) {
	var transactions []*model.LedgerTransaction
	var total int64

	page, pageSize = normalizePage(page, pageSize)

	query := r.db.WithContext(ctx).Model(&model.LedgerTransaction{})
	if filter.AccountID != "" {
		query = query.Where("account_id = ?", filter.AccountID)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Currency != "" {
		query = query.Where("currency = ?", model.NormalizeCurrency(filter.Currency))
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
		Find(&transactions).Error

	return transactions, total, err
}

func (r *TransactionRepository) ListByRelatedTrade(ctx context.Context, tx *gorm.DB, reference string) ([]*model.LedgerTransaction, error) {
	var transactions []*model.LedgerTransaction
	err := conn(r.db, tx).WithContext(ctx).
		Where("related_trade = ?", reference).
		Order("id ASC").
		Find(&transactions).Error
	return transactions, err
}
