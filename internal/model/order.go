package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"
)

const (
	OrderKindMarket = "market"
	OrderKindLimit  = "limit"
	OrderKindStop   = "stop"
)

const (
	OrderStatusPending         = "pending"
	OrderStatusOpen            = "open"
	OrderStatusFilled          = "filled"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusCancelled       = "cancelled"
	OrderStatusRejected        = "rejected"
)

var ValidOrderTransitions = map[string][]string{
	OrderStatusPending:         {OrderStatusOpen, OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled},
	OrderStatusOpen:            {OrderStatusFilled, OrderStatusPartiallyFilled, OrderStatusCancelled},
	OrderStatusPartiallyFilled: {OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled},
}

func CanOrderTransitionTo(currentStatus, targetStatus string) bool {
	return canTransition(ValidOrderTransitions, currentStatus, targetStatus)
}

// SpotOrder 现货委托单
type SpotOrder struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo           string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	AccountID         string          `gorm:"type:varchar(64);index;not null" json:"account_id"`
	Side              string          `gorm:"type:varchar(8);not null" json:"side"`
	OrderKind         string          `gorm:"type:varchar(16);not null" json:"order_kind"`
	Pair              string          `gorm:"type:varchar(32);index;not null" json:"pair"`
	BaseCurrency      string          `gorm:"type:varchar(16);not null" json:"base_currency"`
	QuoteCurrency     string          `gorm:"type:varchar(16);not null" json:"quote_currency"`
	Amount            decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"`
	Price             decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"price"`
	StopPrice         decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"stop_price"`
	Filled            decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"filled"`
	Total             decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"total"`
	Fee               decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"fee"`
	LockedAmount      decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"locked_amount"` // 仍冻结在账户上的金额
	Status            string          `gorm:"type:varchar(20);index;not null" json:"status"`
	LockTransactionNo string          `gorm:"type:varchar(64)" json:"lock_transaction_no"`
	Version           int             `gorm:"not null;default:0" json:"version"`
	ExecutedAt        *time.Time      `json:"executed_at,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SpotOrder) TableName() string {
	return "spot_order"
}

// ComputeOrderTotals total = amount * price, fee = total * feeRate
func ComputeOrderTotals(amount, price, feeRate decimal.Decimal) (total, fee decimal.Decimal) {
	total = amount.Mul(price)
	fee = total.Mul(feeRate)
	return total, fee
}

// SplitPair "BTC/USDT" -> ("BTC", "USDT")
func SplitPair(pair string) (base, quote string, ok bool) {
	parts := strings.Split(strings.TrimSpace(pair), "/")
	if len(parts) != 2 {
		return "", "", false
	}
	base, quote = NormalizeCurrency(parts[0]), NormalizeCurrency(parts[1])
	if base == "" || quote == "" || base == quote {
		return "", "", false
	}
	return base, quote, true
}

// LockCurrency 委托单冻结的币种：买单冻结计价币，卖单冻结基础币
func (o *SpotOrder) LockCurrency() string {
	if o.Side == OrderSideBuy {
		return o.QuoteCurrency
	}
	return o.BaseCurrency
}

func (o *SpotOrder) Remaining() decimal.Decimal {
	return o.Amount.Sub(o.Filled)
}
