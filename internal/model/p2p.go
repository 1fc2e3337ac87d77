package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OfferStatusActive    = "active"
	OfferStatusInactive  = "inactive"
	OfferStatusCompleted = "completed"
)

const (
	P2PStatusPending          = "pending"
	P2PStatusPaymentPending   = "payment_pending"
	P2PStatusPaymentConfirmed = "payment_confirmed"
	P2PStatusCompleted        = "completed"
	P2PStatusDisputed         = "disputed"
	P2PStatusCancelled        = "cancelled"
)

// ValidP2PTransitions P2P 交易状态流转表
//
//	pending -> payment_pending -> payment_confirmed -> completed
//	   \            \                  \
//	    +------------+------------------+--> disputed -> completed | cancelled
var ValidP2PTransitions = map[string][]string{
	P2PStatusPending:          {P2PStatusPaymentPending, P2PStatusDisputed, P2PStatusCancelled},
	P2PStatusPaymentPending:   {P2PStatusPaymentConfirmed, P2PStatusDisputed, P2PStatusCancelled},
	P2PStatusPaymentConfirmed: {P2PStatusCompleted, P2PStatusDisputed},
	P2PStatusDisputed:         {P2PStatusCompleted, P2PStatusCancelled},
}

func CanP2PTransitionTo(currentStatus, targetStatus string) bool {
	return canTransition(ValidP2PTransitions, currentStatus, targetStatus)
}

const (
	DisputeWinnerBuyer  = "buyer"
	DisputeWinnerSeller = "seller"
)

// P2POffer 卖方挂单，挂单数量在卖方冻结余额中托管
//
// 【不变量】
//   - Status 为 active 时，卖方 locked >= Amount；Amount 只减不增
//   - 0 <= Reserved <= Amount，Reserved 为进行中交易占用的数量
type P2POffer struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OfferNo          string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"offer_no"`
	SellerID         string          `gorm:"type:varchar(64);index;not null" json:"seller_id"`
	Currency         string          `gorm:"type:varchar(16);index;not null" json:"currency"`
	FiatCurrency     string          `gorm:"type:varchar(16);not null" json:"fiat_currency"`
	Amount           decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"`
	Reserved         decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"reserved"`
	MinLimit         decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"min_limit"`
	MaxLimit         decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"max_limit"`
	Price            decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"price"`
	PaymentMethods   string          `gorm:"type:varchar(256)" json:"payment_methods"` // 逗号分隔
	Terms            string          `gorm:"type:varchar(512)" json:"terms"`
	TimeLimitMinutes int             `gorm:"not null" json:"time_limit_minutes"`
	Status           string          `gorm:"type:varchar(20);index;not null" json:"status"`
	CompletedTrades  int             `gorm:"not null;default:0" json:"completed_trades"`
	Version          int             `gorm:"not null;default:0" json:"version"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (P2POffer) TableName() string {
	return "p2p_offer"
}

// Tradable 还能被新交易占用的数量
func (o *P2POffer) Tradable() decimal.Decimal {
	return o.Amount.Sub(o.Reserved)
}

// P2PTrade 一笔 P2P 成交
type P2PTrade struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TradeNo           string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"trade_no"`
	OfferID           int64           `gorm:"index;not null" json:"offer_id"`
	BuyerID           string          `gorm:"type:varchar(64);index;not null" json:"buyer_id"`
	SellerID          string          `gorm:"type:varchar(64);index;not null" json:"seller_id"`
	Currency          string          `gorm:"type:varchar(16);not null" json:"currency"`
	FiatCurrency      string          `gorm:"type:varchar(16);not null" json:"fiat_currency"`
	FiatAmount        decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"fiat_amount"`
	CryptoAmount      decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"crypto_amount"`
	Price             decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"price"`
	PaymentMethod     string          `gorm:"type:varchar(64)" json:"payment_method"`
	Status            string          `gorm:"type:varchar(20);index:idx_status_expires;not null" json:"status"`
	PaymentProof      string          `gorm:"type:varchar(512)" json:"payment_proof,omitempty"`
	DisputeReason     string          `gorm:"type:varchar(512)" json:"dispute_reason,omitempty"`
	DisputeInitiator  string          `gorm:"type:varchar(64)" json:"dispute_initiator,omitempty"`
	DisputeResolver   string          `gorm:"type:varchar(64)" json:"dispute_resolver,omitempty"`
	DisputeResolution string          `gorm:"type:varchar(512)" json:"dispute_resolution,omitempty"`
	DisputeOpenedAt   *time.Time      `json:"dispute_opened_at,omitempty"`
	DisputeResolvedAt *time.Time      `json:"dispute_resolved_at,omitempty"`
	ExpiresAt         time.Time       `gorm:"index:idx_status_expires;not null" json:"expires_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (P2PTrade) TableName() string {
	return "p2p_trade"
}

// IsParticipant 是否为交易双方之一
func (t *P2PTrade) IsParticipant(accountID string) bool {
	return accountID == t.BuyerID || accountID == t.SellerID
}

// CryptoForFiat crypto = fiat / price，向下截断到 18 位小数
func CryptoForFiat(fiatAmount, price decimal.Decimal) decimal.Decimal {
	return fiatAmount.DivRound(price, 24).Truncate(18)
}
