package service

import (
	"context"
	"fmt"

	"coinledger/internal/config"
	"coinledger/internal/infrastructure/lock"
	"coinledger/internal/model"
	"coinledger/internal/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================================
// 充值 / 提现 / 内部转账
// ============================================================================
//
// 充值：申请时只写一条 pending 流水，管理员审核通过后才入账
// 提现：申请时冻结 金额+手续费，审核通过后从冻结中扣除，驳回则解冻
//
// ============================================================================

type WalletService struct {
	ledger          *LedgerService
	locker          *lock.Locker
	cfg             *config.Config
	transactionRepo *repository.TransactionRepository
	logger          zerolog.Logger
}

func NewWalletService(db *gorm.DB, cfg *config.Config, ledger *LedgerService, locker *lock.Locker, logger zerolog.Logger) *WalletService {
	return &WalletService{
		ledger:          ledger,
		locker:          locker,
		cfg:             cfg,
		transactionRepo: repository.NewTransactionRepository(db),
		logger:          logger,
	}
}

type DepositRequest struct {
	AccountID string
	Currency  string
	Amount    decimal.Decimal
	Address   string
	TxHash    string
	Network   string
}

// RequestDeposit 提交充值申请，不动余额
func (s *WalletService) RequestDeposit(ctx context.Context, req *DepositRequest) (*model.LedgerTransaction, error) {
	if !req.Amount.IsPositive() {
		return nil, model.ErrInvalidAmount
	}

	var result *model.LedgerTransaction
	err := s.ledger.RunInTx(ctx, func(b *Book) error {
		trans, err := b.Record(req.AccountID, req.Currency, req.Amount, Entry{
			Kind:        model.TxKindDeposit,
			Status:      model.TxStatusPending,
			Description: fmt.Sprintf("充值 %s %s", req.Amount.String(), model.NormalizeCurrency(req.Currency)),
			Address:     req.Address,
			Network:     req.Network,
			TxHash:      req.TxHash,
		})
		if err != nil {
			return err
		}
		result = trans
		return b.Notify(model.LedgerEvent{
			Type:          model.EventTransactionState,
			AccountID:     trans.AccountID,
			Currency:      trans.Currency,
			Amount:        decPtr(trans.Amount),
			TransactionNo: trans.TransactionNo,
			Status:        trans.Status,
			Message:       "充值申请已提交",
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApproveDeposit 审核通过充值：入账可用余额，流水翻转为 completed
func (s *WalletService) ApproveDeposit(ctx context.Context, transactionNo, adminID, txHash, note string) (*model.LedgerTransaction, error) {
	var result *model.LedgerTransaction
	err := s.locker.WithLock(ctx, lock.TransactionLockKey(transactionNo), func() error {
		return s.ledger.RunInTx(ctx, func(b *Book) error {
			trans, err := s.pendingOfKind(b, transactionNo, model.TxKindDeposit)
			if err != nil {
				return err
			}
			_, settled, err := b.Credit(trans.AccountID, trans.Currency, trans.Amount, model.BucketAvailable, Entry{
				Settle:       trans.TransactionNo,
				SettleStatus: model.TxStatusCompleted,
				ProcessedBy:  adminID,
				Note:         note,
				TxHash:       txHash,
			})
			if err != nil {
				return err
			}
			result = settled
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("transaction_no", transactionNo).Str("admin", adminID).Msg("充值审核通过")
	return result, nil
}

// RejectDeposit 驳回充值
func (s *WalletService) RejectDeposit(ctx context.Context, transactionNo, adminID, reason string) (*model.LedgerTransaction, error) {
	var result *model.LedgerTransaction
	err := s.locker.WithLock(ctx, lock.TransactionLockKey(transactionNo), func() error {
		return s.ledger.RunInTx(ctx, func(b *Book) error {
			if _, err := s.pendingOfKind(b, transactionNo, model.TxKindDeposit); err != nil {
				return err
			}
			trans, err := b.Transition(transactionNo, model.TxStatusFailed, repository.TransitionUpdate{
				ProcessedBy:    adminID,
				ProcessingNote: reason,
			})
			if err != nil {
				return err
			}
			result = trans
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("transaction_no", transactionNo).Str("admin", adminID).Msg("充值已驳回")
	return result, nil
}

type WithdrawalRequest struct {
	AccountID string
	Currency  string
	Amount    decimal.Decimal
	Address   string
	Network   string
}

// WithdrawalFee 提现手续费 = amount * withdrawFeeRate
func (s *WalletService) WithdrawalFee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(s.cfg.Business.WithdrawFee())
}

// RequestWithdrawal 提交提现申请：冻结 金额+手续费，写 pending 流水（amount 为负数）
func (s *WalletService) RequestWithdrawal(ctx context.Context, req *WithdrawalRequest) (*model.LedgerTransaction, error) {
	if !req.Amount.IsPositive() {
		return nil, model.ErrInvalidAmount
	}
	if req.Address == "" {
		return nil, fmt.Errorf("提现地址不能为空: %w", model.ErrInvalidParam)
	}

	fee := s.WithdrawalFee(req.Amount)
	signed := req.Amount.Neg()

	var result *model.LedgerTransaction
	err := s.ledger.RunInTx(ctx, func(b *Book) error {
		_, trans, err := b.MoveToLocked(req.AccountID, req.Currency, req.Amount.Add(fee), Entry{
			Kind:        model.TxKindWithdrawal,
			Status:      model.TxStatusPending,
			Amount:      &signed,
			Fee:         fee,
			Description: fmt.Sprintf("提现 %s %s", req.Amount.String(), model.NormalizeCurrency(req.Currency)),
			Address:     req.Address,
			Network:     req.Network,
		})
		if err != nil {
			return err
		}
		result = trans
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApproveWithdrawal 审核通过提现：从冻结中扣除 金额+手续费，手续费记入平台账户
func (s *WalletService) ApproveWithdrawal(ctx context.Context, transactionNo, adminID, txHash, note string) (*model.LedgerTransaction, error) {
	var result *model.LedgerTransaction
	err := s.locker.WithLock(ctx, lock.TransactionLockKey(transactionNo), func() error {
		return s.ledger.RunInTx(ctx, func(b *Book) error {
			trans, err := s.pendingOfKind(b, transactionNo, model.TxKindWithdrawal)
			if err != nil {
				return err
			}
			amount := trans.Amount.Abs()

			_, settled, err := b.Debit(trans.AccountID, trans.Currency, amount.Add(trans.Fee), model.BucketLocked, Entry{
				Settle:       trans.TransactionNo,
				SettleStatus: model.TxStatusCompleted,
				ProcessedBy:  adminID,
				Note:         note,
				TxHash:       txHash,
			})
			if err != nil {
				return err
			}

			if trans.Fee.IsPositive() {
				_, _, err = b.Credit(s.cfg.Business.FeeAccountID, trans.Currency, trans.Fee, model.BucketAvailable, Entry{
					Kind:        model.TxKindFee,
					Description: fmt.Sprintf("提现手续费 %s", trans.TransactionNo),
				})
				if err != nil {
					return err
				}
			}

			result = settled
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("transaction_no", transactionNo).Str("admin", adminID).Msg("提现审核通过")
	return result, nil
}

// RejectWithdrawal 驳回提现：解冻 金额+手续费
func (s *WalletService) RejectWithdrawal(ctx context.Context, transactionNo, adminID, reason string) (*model.LedgerTransaction, error) {
	var result *model.LedgerTransaction
	err := s.locker.WithLock(ctx, lock.TransactionLockKey(transactionNo), func() error {
		return s.ledger.RunInTx(ctx, func(b *Book) error {
			trans, err := s.pendingOfKind(b, transactionNo, model.TxKindWithdrawal)
			if err != nil {
				return err
			}

			_, settled, err := b.MoveToAvailable(trans.AccountID, trans.Currency, trans.Amount.Abs().Add(trans.Fee), Entry{
				Settle:       trans.TransactionNo,
				SettleStatus: model.TxStatusFailed,
				ProcessedBy:  adminID,
				Note:         reason,
			})
			if err != nil {
				return err
			}
			result = settled
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("transaction_no", transactionNo).Str("admin", adminID).Msg("提现已驳回")
	return result, nil
}

// pendingOfKind 读取待处理的流水并校验类型
func (s *WalletService) pendingOfKind(b *Book, transactionNo, kind string) (*model.LedgerTransaction, error) {
	trans, err := s.transactionRepo.GetByTransactionNo(b.Context(), b.Tx(), transactionNo)
	if err != nil {
		return nil, err
	}
	if trans.Kind != kind {
		return nil, fmt.Errorf("流水类型为 %s: %w", trans.Kind, model.ErrInvalidState)
	}
	if model.IsTxTerminal(trans.Status) {
		return nil, model.ErrInvalidTransition
	}
	return trans, nil
}

type TransferRequest struct {
	FromAccountID string
	ToAccountID   string
	Currency      string
	Amount        decimal.Decimal
	Memo          string
}

// Transfer 内部转账：转出方可用余额扣减，转入方可用余额增加，同一事务
func (s *WalletService) Transfer(ctx context.Context, req *TransferRequest) (*model.LedgerTransaction, error) {
	if req.FromAccountID == req.ToAccountID {
		return nil, fmt.Errorf("不能给自己转账: %w", model.ErrInvalidParam)
	}
	if !req.Amount.IsPositive() {
		return nil, model.ErrInvalidAmount
	}

	var result *model.LedgerTransaction
	err := s.ledger.RunInTx(ctx, func(b *Book) error {
		_, out, err := b.Debit(req.FromAccountID, req.Currency, req.Amount, model.BucketAvailable, Entry{
			Kind:        model.TxKindTransfer,
			Description: fmt.Sprintf("转账给 %s %s", req.ToAccountID, req.Memo),
		})
		if err != nil {
			return err
		}
		_, _, err = b.Credit(req.ToAccountID, req.Currency, req.Amount, model.BucketAvailable, Entry{
			Kind:        model.TxKindTransfer,
			Description: fmt.Sprintf("来自 %s 的转账 %s", req.FromAccountID, req.Memo),
		})
		if err != nil {
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
