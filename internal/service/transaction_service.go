package service

import (
	"context"
	"fmt"

	"coinledger/internal/model"
	"coinledger/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionService 账户流水
type TransactionService struct {
	ledger          *LedgerService
	transactionRepo *repository.TransactionRepository
}

func NewTransactionService(db *gorm.DB, ledger *LedgerService) *TransactionService {
	return &TransactionService{
		ledger:          ledger,
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

type RecordRequest struct {
	AccountID   string
	Kind        string
	Currency    string
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	Status      string
	Description string
	Related     model.Related
}

// Record 写入一条流水，返回流水号
func (s *TransactionService) Record(ctx context.Context, req *RecordRequest) (string, error) {
	var transactionNo string
	err := s.ledger.RunInTx(ctx, func(b *Book) error {
		trans, err := b.Record(req.AccountID, req.Currency, req.Amount, Entry{
			Kind:        req.Kind,
			Status:      req.Status,
			Fee:         req.Fee,
			Description: req.Description,
			Related:     req.Related,
		})
		if err != nil {
			return err
		}
		transactionNo = trans.TransactionNo
		return nil
	})
	return transactionNo, err
}

// Transition 手工变更流水状态，终态流水返回 ErrInvalidTransition
//
// 充值、提现、订单冻结等流水只能走各自的审核 / 撤单流程，这里返回 ErrInvalidState
func (s *TransactionService) Transition(ctx context.Context, transactionNo, newStatus, note string) (*model.LedgerTransaction, error) {
	var result *model.LedgerTransaction
	err := s.ledger.RunInTx(ctx, func(b *Book) error {
		current, err := s.transactionRepo.GetByTransactionNo(ctx, b.Tx(), transactionNo)
		if err != nil {
			return err
		}
		if current.OwnedByFlow() {
			return fmt.Errorf("%s 流水需通过业务流程处理: %w", current.Kind, model.ErrInvalidState)
		}

		trans, err := b.Transition(transactionNo, newStatus, repository.TransitionUpdate{ProcessingNote: note})
		if err != nil {
			return err
		}
		result = trans
		return nil
	})
	return result, err
}

func (s *TransactionService) Get(ctx context.Context, transactionNo string) (*model.LedgerTransaction, error) {
	return s.transactionRepo.GetByTransactionNo(ctx, nil, transactionNo)
}

func (s *TransactionService) List(ctx context.Context, filter repository.TransactionFilter, page, pageSize int) ([]*model.LedgerTransaction, int64, error) {
	return s.transactionRepo.List(ctx, filter, page, pageSize)
}
