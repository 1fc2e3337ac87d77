package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 流水类型常量
// ============================================================================

const (
	TxKindDeposit    = "deposit"    // 充值
	TxKindWithdrawal = "withdrawal" // 提现
	TxKindTrade      = "trade"      // 现货交易
	TxKindMining     = "mining"     // 云挖矿
	TxKindP2P        = "p2p"        // P2P 担保交易
	TxKindTransfer   = "transfer"   // 内部转账
	TxKindFee        = "fee"        // 手续费
	TxKindBonus      = "bonus"      // 奖励
)

var validTxKinds = map[string]bool{
	TxKindDeposit: true, TxKindWithdrawal: true, TxKindTrade: true, TxKindMining: true,
	TxKindP2P: true, TxKindTransfer: true, TxKindFee: true, TxKindBonus: true,
}

func IsValidTxKind(kind string) bool {
	return validTxKinds[kind]
}

// ============================================================================
// 流水状态
// ============================================================================

const (
	TxStatusPending    = "pending"
	TxStatusProcessing = "processing"
	TxStatusCompleted  = "completed"
	TxStatusFailed     = "failed"
	TxStatusCancelled  = "cancelled"
)

// ValidTxTransitions 流水状态流转表，completed / failed / cancelled 为终态
var ValidTxTransitions = map[string][]string{
	TxStatusPending:    {TxStatusProcessing, TxStatusCompleted, TxStatusFailed, TxStatusCancelled},
	TxStatusProcessing: {TxStatusCompleted, TxStatusFailed, TxStatusCancelled},
}

func CanTxTransitionTo(currentStatus, targetStatus string) bool {
	return canTransition(ValidTxTransitions, currentStatus, targetStatus)
}

func IsTxTerminal(status string) bool {
	_, ok := ValidTxTransitions[status]
	return !ok
}

func IsValidTxStatus(status string) bool {
	switch status {
	case TxStatusPending, TxStatusProcessing, TxStatusCompleted, TxStatusFailed, TxStatusCancelled:
		return true
	}
	return false
}

// ============================================================================
// 账户流水实体
// ============================================================================

// LedgerTransaction 账户流水表
// 记录账户的每一笔资金变动，是对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不删除；只有 status 及处理信息可以原地更新
// 2. 每一次余额变动恰好对应一条流水（新建，或者把发起时的 pending 流水翻转为终态）
// 3. Amount 带符号：正数入账，负数出账
type LedgerTransaction struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo  string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	AccountID      string          `gorm:"type:varchar(64);index:idx_account_created;not null" json:"account_id"`
	Kind           string          `gorm:"type:varchar(20);index;not null" json:"kind"`
	Currency       string          `gorm:"type:varchar(16);not null" json:"currency"`
	Amount         decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"`
	Fee            decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"fee"`
	Status         string          `gorm:"type:varchar(20);index;not null" json:"status"`
	Description    string          `gorm:"type:varchar(256)" json:"description"`
	RelatedTrade   string          `gorm:"type:varchar(64);index" json:"related_trade,omitempty"`
	RelatedMining  string          `gorm:"type:varchar(64);index" json:"related_mining,omitempty"`
	RelatedP2P     string          `gorm:"type:varchar(64);index" json:"related_p2p,omitempty"`
	Address        string          `gorm:"type:varchar(128)" json:"address,omitempty"`
	Network        string          `gorm:"type:varchar(32)" json:"network,omitempty"`
	TxHash         string          `gorm:"type:varchar(128)" json:"tx_hash,omitempty"`
	Confirmations  int             `gorm:"not null;default:0" json:"confirmations"`
	ProcessedBy    string          `gorm:"type:varchar(64)" json:"processed_by,omitempty"`
	ProcessingNote string          `gorm:"type:varchar(256)" json:"processing_note,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index:idx_account_created" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (LedgerTransaction) TableName() string {
	return "ledger_transaction"
}

// OwnedByFlow 充值、提现以及关联了业务单据的流水，由对应的业务流程负责收尾，
// 状态不能手工变更，否则冻结资金会失去对应的 pending 流水
func (t *LedgerTransaction) OwnedByFlow() bool {
	switch t.Kind {
	case TxKindDeposit, TxKindWithdrawal:
		return true
	}
	return t.RelatedTrade != "" || t.RelatedMining != "" || t.RelatedP2P != ""
}

// Related 流水关联的业务单据
type Related struct {
	Trade  string
	Mining string
	P2P    string
}

func canTransition(table map[string][]string, currentStatus, targetStatus string) bool {
	allowedStatuses, exists := table[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}
