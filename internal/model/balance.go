package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Bucket 余额桶：可用 / 冻结
type Bucket string

const (
	BucketAvailable Bucket = "available"
	BucketLocked    Bucket = "locked"
)

func (b Bucket) Valid() bool {
	return b == BucketAvailable || b == BucketLocked
}

// AccountBalance 账户余额表，每个 账户×币种 一行
//
// 【不变量】
//  1. Available >= 0 且 Locked >= 0
//  2. Total == Available + Locked（每次写入前由 ComputeTotal 重新计算）
//  3. 只清零，不删除
type AccountBalance struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID string          `gorm:"type:varchar(64);not null;uniqueIndex:uk_account_currency" json:"account_id"`
	Currency  string          `gorm:"type:varchar(16);not null;uniqueIndex:uk_account_currency" json:"currency"`
	Available decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"available"`
	Locked    decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"locked"`
	Total     decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"total"`
	Version   int             `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AccountBalance) TableName() string {
	return "account_balance"
}

// NormalizeCurrency 币种统一转大写
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// ComputeTotal 总额 = 可用 + 冻结
func ComputeTotal(available, locked decimal.Decimal) decimal.Decimal {
	return available.Add(locked)
}

// ZeroBalance 尚未产生记录时的零余额
func ZeroBalance(accountID, currency string) *AccountBalance {
	return &AccountBalance{
		AccountID: accountID,
		Currency:  NormalizeCurrency(currency),
		Available: decimal.Zero,
		Locked:    decimal.Zero,
		Total:     decimal.Zero,
	}
}

// BalanceOp 余额变动类型
type BalanceOp string

const (
	OpCredit          BalanceOp = "credit"
	OpDebit           BalanceOp = "debit"
	OpMoveToLocked    BalanceOp = "move_to_locked"
	OpMoveToAvailable BalanceOp = "move_to_available"
)

// ApplyOp 纯函数：根据当前余额计算变动后的 (available, locked)，不修改入参。
// bucket 只对 credit / debit 有意义。
func ApplyOp(b *AccountBalance, op BalanceOp, bucket Bucket, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrInvalidAmount
	}

	available, locked := b.Available, b.Locked

	switch op {
	case OpCredit:
		switch bucket {
		case BucketAvailable:
			available = available.Add(amount)
		case BucketLocked:
			locked = locked.Add(amount)
		default:
			return decimal.Zero, decimal.Zero, ErrInvalidState
		}
	case OpDebit:
		switch bucket {
		case BucketAvailable:
			if available.LessThan(amount) {
				return decimal.Zero, decimal.Zero, ErrInsufficientBalance
			}
			available = available.Sub(amount)
		case BucketLocked:
			if locked.LessThan(amount) {
				return decimal.Zero, decimal.Zero, ErrInsufficientLocked
			}
			locked = locked.Sub(amount)
		default:
			return decimal.Zero, decimal.Zero, ErrInvalidState
		}
	case OpMoveToLocked:
		if available.LessThan(amount) {
			return decimal.Zero, decimal.Zero, ErrInsufficientBalance
		}
		available = available.Sub(amount)
		locked = locked.Add(amount)
	case OpMoveToAvailable:
		if locked.LessThan(amount) {
			return decimal.Zero, decimal.Zero, ErrInsufficientLocked
		}
		locked = locked.Sub(amount)
		available = available.Add(amount)
	default:
		return decimal.Zero, decimal.Zero, ErrInvalidState
	}

	return available, locked, nil
}
