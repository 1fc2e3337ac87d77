package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	InvestmentStatusActive    = "active"
	InvestmentStatusCompleted = "completed"
	InvestmentStatusCancelled = "cancelled"
)

// MiningPlan 云挖矿套餐
type MiningPlan struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name           string          `gorm:"type:varchar(64);not null" json:"name"`
	Currency       string          `gorm:"type:varchar(16);not null" json:"currency"`
	MinInvestment  decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"min_investment"`
	MaxInvestment  decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"max_investment"`
	DailyReturnPct decimal.Decimal `gorm:"type:decimal(10,4);not null" json:"daily_return_pct"` // 日收益率（百分比）
	DurationDays   int             `gorm:"not null" json:"duration_days"`
	Description    string          `gorm:"type:varchar(256)" json:"description"`
	IsActive       bool            `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MiningPlan) TableName() string {
	return "mining_plan"
}

// InRange 投资金额是否在套餐允许范围内（闭区间）
func (p *MiningPlan) InRange(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(p.MinInvestment) && amount.LessThanOrEqual(p.MaxInvestment)
}

// MiningInvestment 挖矿投资
//
// 【不变量】ReturnReceived <= TotalReturn
type MiningInvestment struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	InvestmentNo   string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"investment_no"`
	AccountID      string          `gorm:"type:varchar(64);index;not null" json:"account_id"`
	PlanID         int64           `gorm:"index;not null" json:"plan_id"`
	Currency       string          `gorm:"type:varchar(16);not null" json:"currency"`
	Amount         decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"`
	DailyReturnPct decimal.Decimal `gorm:"type:decimal(10,4);not null" json:"daily_return_pct"`
	TotalReturn    decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"total_return"`
	ReturnReceived decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"return_received"`
	StartDate      time.Time       `gorm:"not null" json:"start_date"`
	EndDate        time.Time       `gorm:"not null;index" json:"end_date"`
	LastPayoutDate *time.Time      `json:"last_payout_date,omitempty"`
	Version        int             `gorm:"not null;default:0" json:"version"`
	Status         string          `gorm:"type:varchar(20);index;not null" json:"status"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MiningInvestment) TableName() string {
	return "mining_investment"
}

var hundred = decimal.NewFromInt(100)

// DailyRate 百分比换算成小数
func DailyRate(dailyReturnPct decimal.Decimal) decimal.Decimal {
	return dailyReturnPct.Div(hundred)
}

// ComputeTotalReturn total = amount * pct/100 * days
func ComputeTotalReturn(amount, dailyReturnPct decimal.Decimal, durationDays int) decimal.Decimal {
	return amount.Mul(DailyRate(dailyReturnPct)).Mul(decimal.NewFromInt(int64(durationDays)))
}

// DailyEarning 每日收益
func (m *MiningInvestment) DailyEarning() decimal.Decimal {
	return m.Amount.Mul(DailyRate(m.DailyReturnPct))
}

// AccrualAnchor 计息起点：上次领取时间，从未领取过则为开始时间
func (m *MiningInvestment) AccrualAnchor() time.Time {
	if m.LastPayoutDate != nil {
		return *m.LastPayoutDate
	}
	return m.StartDate
}

// ElapsedDays 自计息起点起经过的整天数
func (m *MiningInvestment) ElapsedDays(now time.Time) int64 {
	elapsed := now.Sub(m.AccrualAnchor())
	if elapsed <= 0 {
		return 0
	}
	return int64(elapsed / (24 * time.Hour))
}

// Remaining 尚未发放的收益
func (m *MiningInvestment) Remaining() decimal.Decimal {
	return m.TotalReturn.Sub(m.ReturnReceived)
}
