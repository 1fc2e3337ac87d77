package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coinledger/internal/model"
	"coinledger/internal/repository"
	"coinledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Entry 一次余额变动对应的流水
//
// Settle 为空时新建一条流水；否则不新建，而是把 Settle 指向的流水翻转为 SettleStatus
type Entry struct {
	Kind          string
	Status        string           // 为空时为 completed
	Amount        *decimal.Decimal // 带符号金额，为空时按变动方向推导
	Fee           decimal.Decimal
	Description   string
	Related       model.Related
	Address       string
	Network       string
	TxHash        string
	Confirmations int
	ProcessedBy   string
	Note          string

	Settle       string
	SettleStatus string
}

// Book 事务内的记账视图
//
// 同一个 Book 上的所有余额变动、流水、消息都在同一个数据库事务中提交或回滚
type Book struct {
	ctx    context.Context
	tx     *gorm.DB
	ledger *LedgerService

	observed []observation
}

type observation struct {
	op   string
	kind string
}

func (b *Book) Tx() *gorm.DB {
	return b.tx
}

func (b *Book) Context() context.Context {
	return b.ctx
}

func (b *Book) Credit(accountID, currency string, amount decimal.Decimal, bucket model.Bucket, entry Entry) (*model.AccountBalance, *model.LedgerTransaction, error) {
	return b.apply(model.OpCredit, accountID, currency, bucket, amount, entry)
}

func (b *Book) Debit(accountID, currency string, amount decimal.Decimal, bucket model.Bucket, entry Entry) (*model.AccountBalance, *model.LedgerTransaction, error) {
	return b.apply(model.OpDebit, accountID, currency, bucket, amount, entry)
}

func (b *Book) MoveToLocked(accountID, currency string, amount decimal.Decimal, entry Entry) (*model.AccountBalance, *model.LedgerTransaction, error) {
	return b.apply(model.OpMoveToLocked, accountID, currency, model.BucketAvailable, amount, entry)
}

func (b *Book) MoveToAvailable(accountID, currency string, amount decimal.Decimal, entry Entry) (*model.AccountBalance, *model.LedgerTransaction, error) {
	return b.apply(model.OpMoveToAvailable, accountID, currency, model.BucketLocked, amount, entry)
}

// apply 读余额 -> 内存中计算 -> 版本号条件写回 -> 记流水 -> 写消息
func (b *Book) apply(op model.BalanceOp, accountID, currency string, bucket model.Bucket, amount decimal.Decimal, entry Entry) (*model.AccountBalance, *model.LedgerTransaction, error) {
	balance, trans, err := b.doApply(op, accountID, currency, bucket, amount, entry)
	if err != nil {
		b.ledger.metrics.ObserveMutation(string(op), entry.Kind, err)
		return nil, nil, err
	}
	b.observed = append(b.observed, observation{op: string(op), kind: trans.Kind})
	return balance, trans, nil
}

func (b *Book) doApply(op model.BalanceOp, accountID, currency string, bucket model.Bucket, amount decimal.Decimal, entry Entry) (*model.AccountBalance, *model.LedgerTransaction, error) {
	currency = model.NormalizeCurrency(currency)
	if accountID == "" || currency == "" {
		return nil, nil, fmt.Errorf("账户或币种为空: %w", model.ErrInvalidParam)
	}
	if !amount.IsPositive() {
		return nil, nil, model.ErrInvalidAmount
	}
	if !bucket.Valid() {
		return nil, nil, fmt.Errorf("余额桶不合法: %w", model.ErrInvalidParam)
	}

	balance, err := b.ledger.balanceRepo.GetOrCreate(b.ctx, b.tx, accountID, currency)
	if err != nil {
		return nil, nil, fmt.Errorf("获取余额失败: %w", err)
	}

	available, locked, err := model.ApplyOp(balance, op, bucket, amount)
	if err != nil {
		return nil, nil, err
	}

	if err := b.ledger.balanceRepo.CompareAndSwap(b.ctx, b.tx, balance, available, locked); err != nil {
		return nil, nil, err
	}

	var trans *model.LedgerTransaction
	if entry.Settle != "" {
		trans, err = b.settle(entry)
	} else {
		trans, err = b.record(accountID, currency, signedAmount(op, amount, entry), entry)
	}
	if err != nil {
		return nil, nil, err
	}

	err = b.Notify(model.LedgerEvent{
		Type:          model.EventBalanceChanged,
		AccountID:     accountID,
		Currency:      currency,
		Op:            string(op),
		Bucket:        string(bucket),
		Amount:        decPtr(amount),
		Available:     decPtr(balance.Available),
		Locked:        decPtr(balance.Locked),
		TransactionNo: trans.TransactionNo,
	})
	if err != nil {
		return nil, nil, err
	}

	return balance, trans, nil
}

func signedAmount(op model.BalanceOp, amount decimal.Decimal, entry Entry) decimal.Decimal {
	if entry.Amount != nil {
		return *entry.Amount
	}
	switch op {
	case model.OpDebit, model.OpMoveToLocked:
		return amount.Neg()
	default:
		return amount
	}
}

// Record 只记流水，不动余额（例如待审核的充值申请）
func (b *Book) Record(accountID, currency string, amount decimal.Decimal, entry Entry) (*model.LedgerTransaction, error) {
	currency = model.NormalizeCurrency(currency)
	if accountID == "" || currency == "" {
		return nil, fmt.Errorf("账户或币种为空: %w", model.ErrInvalidParam)
	}
	return b.record(accountID, currency, amount, entry)
}

func (b *Book) record(accountID, currency string, amount decimal.Decimal, entry Entry) (*model.LedgerTransaction, error) {
	if !model.IsValidTxKind(entry.Kind) {
		return nil, fmt.Errorf("流水类型不合法 %q: %w", entry.Kind, model.ErrInvalidParam)
	}
	status := entry.Status
	if status == "" {
		status = model.TxStatusCompleted
	}
	if !model.IsValidTxStatus(status) {
		return nil, fmt.Errorf("流水状态不合法 %q: %w", status, model.ErrInvalidParam)
	}

	trans := &model.LedgerTransaction{
		TransactionNo:  idgen.TransactionNo(),
		AccountID:      accountID,
		Kind:           entry.Kind,
		Currency:       currency,
		Amount:         amount,
		Fee:            entry.Fee,
		Status:         status,
		Description:    entry.Description,
		RelatedTrade:   entry.Related.Trade,
		RelatedMining:  entry.Related.Mining,
		RelatedP2P:     entry.Related.P2P,
		Address:        entry.Address,
		Network:        entry.Network,
		TxHash:         entry.TxHash,
		Confirmations:  entry.Confirmations,
		ProcessedBy:    entry.ProcessedBy,
		ProcessingNote: entry.Note,
	}
	if status == model.TxStatusCompleted {
		now := time.Now()
		trans.CompletedAt = &now
	}

	if err := b.ledger.transactionRepo.Create(b.ctx, b.tx, trans); err != nil {
		return nil, fmt.Errorf("记录流水失败: %w", err)
	}
	return trans, nil
}

func (b *Book) settle(entry Entry) (*model.LedgerTransaction, error) {
	return b.Transition(entry.Settle, entry.SettleStatus, repository.TransitionUpdate{
		ProcessedBy:    entry.ProcessedBy,
		ProcessingNote: entry.Note,
		TxHash:         entry.TxHash,
	})
}

// Transition 在当前事务内翻转流水状态
func (b *Book) Transition(transactionNo, toStatus string, extra repository.TransitionUpdate) (*model.LedgerTransaction, error) {
	trans, err := b.ledger.transactionRepo.GetByTransactionNo(b.ctx, b.tx, transactionNo)
	if err != nil {
		return nil, err
	}

	if err := b.ledger.transactionRepo.TransitionStatus(b.ctx, b.tx, transactionNo, trans.Status, toStatus, extra); err != nil {
		return nil, err
	}
	trans.Status = toStatus

	err = b.Notify(model.LedgerEvent{
		Type:          model.EventTransactionState,
		AccountID:     trans.AccountID,
		Currency:      trans.Currency,
		TransactionNo: trans.TransactionNo,
		Status:        toStatus,
	})
	if err != nil {
		return nil, err
	}
	return trans, nil
}

// Notify 写入一条待投递的通知消息，和业务数据同事务
func (b *Book) Notify(event model.LedgerEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	msg := &model.OutboxMessage{
		MessageKey: event.AccountID,
		EventType:  event.Type,
		Topic:      b.ledger.cfg.Kafka.Topic.LedgerEvent,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := b.ledger.outboxRepo.Create(b.ctx, b.tx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

// Balance 事务内读取余额（不存在时返回零余额）
func (b *Book) Balance(accountID, currency string) (*model.AccountBalance, error) {
	balance, err := b.ledger.balanceRepo.Get(b.ctx, b.tx, accountID, currency)
	if err != nil {
		if errors.Is(err, model.ErrBalanceNotFound) {
			return model.ZeroBalance(accountID, currency), nil
		}
		return nil, err
	}
	return balance, nil
}

func decPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
