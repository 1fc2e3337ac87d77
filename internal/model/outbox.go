package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 通知事件类型
const (
	EventBalanceChanged   = "balance.changed"
	EventTransactionState = "transaction.status"
	EventOrderState       = "order.status"
	EventMiningState      = "mining.status"
	EventP2PState         = "p2p.status"
)

// OutboxMessage 本地消息表，与业务数据在同一个事务中写入，由 OutboxSender 投递到 Kafka
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"` // 账户ID，保证同一账户的消息分区有序
	EventType  string    `gorm:"type:varchar(32);not null" json:"event_type"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// LedgerEvent 投递给通知渠道的消息体
type LedgerEvent struct {
	Type          string           `json:"type"`
	AccountID     string           `json:"account_id"`
	Currency      string           `json:"currency,omitempty"`
	Op            string           `json:"op,omitempty"`
	Bucket        string           `json:"bucket,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Available     *decimal.Decimal `json:"available,omitempty"`
	Locked        *decimal.Decimal `json:"locked,omitempty"`
	TransactionNo string           `json:"transaction_no,omitempty"`
	Reference     string           `json:"reference,omitempty"` // 订单号 / 投资号 / 交易号
	Status        string           `json:"status,omitempty"`
	Message       string           `json:"message,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}
