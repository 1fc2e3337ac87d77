package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coinledger/internal/config"
	"coinledger/internal/infrastructure/metrics"
	"coinledger/internal/model"
	"coinledger/internal/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================================
// 记账核心
// ============================================================================
//
// 【并发控制】
//
// 每一次余额变动都是：
//   1. 在事务内读取 (account, currency) 的余额行
//   2. 用 decimal 在内存中计算新的 available / locked（model.ApplyOp）
//   3. UPDATE ... WHERE id = ? AND version = ?
//
// 第 3 步影响行数为 0 说明被并发修改，返回 ErrOptimisticLock，
// 整个事务回滚，RunInTx 从头重试整个业务单元，超过次数后把错误返回给调用方。
//
// 【流水配对】
//
// 每一次余额变动恰好对应一条流水：新建一条，或者翻转发起时写下的 pending 流水。
//
// ============================================================================

type LedgerService struct {
	db              *gorm.DB
	cfg             *config.Config
	balanceRepo     *repository.BalanceRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	metrics         *metrics.Metrics
	logger          zerolog.Logger
}

func NewLedgerService(db *gorm.DB, cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) *LedgerService {
	return &LedgerService{
		db:              db,
		cfg:             cfg,
		balanceRepo:     repository.NewBalanceRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		metrics:         m,
		logger:          logger,
	}
}

// RunInTx 在一个数据库事务中执行 fn，乐观锁冲突时整体重试
func (s *LedgerService) RunInTx(ctx context.Context, fn func(b *Book) error) error {
	maxRetries := s.cfg.Ledger.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		book := &Book{ctx: ctx, ledger: s}
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			book.tx = tx
			return fn(book)
		})
		if err == nil {
			for _, o := range book.observed {
				s.metrics.ObserveMutation(o.op, o.kind, nil)
			}
			return nil
		}
		if !errors.Is(err, model.ErrOptimisticLock) {
			return err
		}

		s.metrics.ObserveRetry()
		s.logger.Debug().Int("attempt", attempt+1).Msg("乐观锁冲突，重试")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.Ledger.RetryBackoff * time.Duration(attempt+1)):
		}
	}
	return err
}

// GetBalance 查询余额，没有记录时返回零余额
func (s *LedgerService) GetBalance(ctx context.Context, accountID, currency string) (*model.AccountBalance, error) {
	balance, err := s.balanceRepo.Get(ctx, nil, accountID, currency)
	if err != nil {
		if errors.Is(err, model.ErrBalanceNotFound) {
			return model.ZeroBalance(accountID, currency), nil
		}
		return nil, err
	}
	return balance, nil
}

func (s *LedgerService) ListBalances(ctx context.Context, accountID string) ([]*model.AccountBalance, error) {
	return s.balanceRepo.ListByAccount(ctx, accountID)
}

// MutationRequest 单笔余额变动请求
type MutationRequest struct {
	AccountID string
	Currency  string
	Amount    decimal.Decimal
	Bucket    model.Bucket
	Entry     Entry
}

func (s *LedgerService) Credit(ctx context.Context, req *MutationRequest) (*model.AccountBalance, error) {
	return s.mutate(ctx, model.OpCredit, req)
}

func (s *LedgerService) Debit(ctx context.Context, req *MutationRequest) (*model.AccountBalance, error) {
	return s.mutate(ctx, model.OpDebit, req)
}

func (s *LedgerService) MoveToLocked(ctx context.Context, req *MutationRequest) (*model.AccountBalance, error) {
	req.Bucket = model.BucketAvailable
	return s.mutate(ctx, model.OpMoveToLocked, req)
}

func (s *LedgerService) MoveToAvailable(ctx context.Context, req *MutationRequest) (*model.AccountBalance, error) {
	req.Bucket = model.BucketLocked
	return s.mutate(ctx, model.OpMoveToAvailable, req)
}

func (s *LedgerService) mutate(ctx context.Context, op model.BalanceOp, req *MutationRequest) (*model.AccountBalance, error) {
	var result *model.AccountBalance
	err := s.RunInTx(ctx, func(b *Book) error {
		balance, _, err := b.apply(op, req.AccountID, req.Currency, req.Bucket, req.Amount, req.Entry)
		if err != nil {
			return err
		}
		result = balance
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s 失败: %w", op, err)
	}
	return result, nil
}
