package repository

import (
	"context"
	"errors"
	"time"

	"coinledger/internal/model"

	"gorm.io/gorm"
)

type P2PRepository struct {
	db *gorm.DB
}

func NewP2PRepository(db *gorm.DB) *P2PRepository {
	return &P2PRepository{db: db}
}

// ============================================================================
// 广告
// ============================================================================

func (r *P2PRepository) CreateOffer(ctx context.Context, tx *gorm.DB, offer *model.P2POffer) error {
	return conn(r.db, tx).WithContext(ctx).Create(offer).Error
}

func (r *P2PRepository) GetOfferByNo(ctx context.Context, tx *gorm.DB, offerNo string) (*model.P2POffer, error) {
	var offer model.P2POffer
	err := conn(r.db, tx).WithContext(ctx).Where("offer_no = ?", offerNo).First(&offer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrOfferNotFound
		}
		return nil, err
	}
	return &offer, nil
}

func (r *P2PRepository) GetOfferByID(ctx context.Context, tx *gorm.DB, offerID int64) (*model.P2POffer, error) {
	var offer model.P2POffer
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", offerID).First(&offer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrOfferNotFound
		}
		return nil, err
	}
	return &offer, nil
}

// SaveOffer 乐观锁写回广告
func (r *P2PRepository) SaveOffer(ctx context.Context, tx *gorm.DB, offer *model.P2POffer, updates map[string]interface{}) error {
	updates["version"] = offer.Version + 1

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.P2POffer{}).
		Where("id = ? AND version = ?", offer.ID, offer.Version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrOptimisticLock
	}
	offer.Version++
	return nil
}

// OfferFilter 广告查询条件
type OfferFilter struct {
	Currency     string
	FiatCurrency string
	SellerID     string
	Status       string
}

func (r *P2PRepository) ListOffers(ctx context.Context, filter OfferFilter, page, pageSize int) ([]*model.P2POffer, int64, error) {
	var offers []*model.P2POffer
	var total int64

	page, pageSize = normalizePage(page, pageSize)

	query := r.db.WithContext(ctx).Model(&model.P2POffer{})
	if filter.Currency != "" {
		query = query.Where("currency = ?", model.NormalizeCurrency(filter.Currency))
	}
	if filter.FiatCurrency != "" {
		query = query.Where("fiat_currency = ?", model.NormalizeCurrency(filter.FiatCurrency))
	}
	if filter.SellerID != "" {
		query = query.Where("seller_id = ?", filter.SellerID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
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
		Find(&offers).Error

	return offers, total, err
}

// ============================================================================
// 交易
// ============================================================================

func (r *P2PRepository) CreateTrade(ctx context.Context, tx *gorm.DB, trade *model.P2PTrade) error {
	return conn(r.db, tx).WithContext(ctx).Create(trade).Error
}

func (r *P2PRepository) GetTradeByNo(ctx context.Context, tx *gorm.DB, tradeNo string) (*model.P2PTrade, error) {
	var trade model.P2PTrade
	err := conn(r.db, tx).WithContext(ctx).Where("trade_no = ?", tradeNo).First(&trade).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrTradeNotFound
		}
		return nil, err
	}
	return &trade, nil
}

// UpdateTradeStatus 条件更新交易状态（WHERE status = fromStatus）
//
// 并发的 release / 仲裁 / 过期只有一个能拿到这一次状态流转
func (r *P2PRepository) UpdateTradeStatus(ctx context.Context, tx *gorm.DB, tradeNo, fromStatus, toStatus string, updates map[string]interface{}) error {
	if !model.CanP2PTransitionTo(fromStatus, toStatus) {
		return model.ErrInvalidState
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = toStatus
	if toStatus == model.P2PStatusCompleted {
		now := time.Now()
		updates["completed_at"] = &now
	}

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.P2PTrade{}).
		Where("trade_no = ? AND status = ?", tradeNo, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrInvalidState
	}
	return nil
}

// CountOpenTrades 广告下尚未终结的交易数
func (r *P2PRepository) CountOpenTrades(ctx context.Context, tx *gorm.DB, offerID int64) (int64, error) {
	var count int64
	err := conn(r.db, tx).WithContext(ctx).
		Model(&model.P2PTrade{}).
		Where("offer_id = ? AND status IN ?", offerID, []string{
			model.P2PStatusPending,
			model.P2PStatusPaymentPending,
			model.P2PStatusPaymentConfirmed,
			model.P2PStatusDisputed,
		}).
		Count(&count).Error
	return count, err
}

// GetExpiredTrades 超过付款时限仍未付款的交易
func (r *P2PRepository) GetExpiredTrades(ctx context.Context, now time.Time, limit int) ([]*model.P2PTrade, error) {
	var trades []*model.P2PTrade
	err := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?", []string{model.P2PStatusPending, model.P2PStatusPaymentPending}, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}

func (r *P2PRepository) ListTradesByAccount(ctx context.Context, accountID, status string, page, pageSize int) ([]*model.P2PTrade, int64, error) {
	var trades []*model.P2PTrade
	var total int64

	page, pageSize = normalizePage(page, pageSize)

	query := r.db.WithContext(ctx).Model(&model.P2PTrade{}).
		Where("buyer_id = ? OR seller_id = ?", accountID, accountID)
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
		Find(&trades).Error

	return trades, total, err
}
