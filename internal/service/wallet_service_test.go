package service

import (
	"context"
	"testing"

	"coinledger/internal/infrastructure/logging"
	"coinledger/internal/model"
	"coinledger/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWalletService(env *testEnv) *WalletService {
	return NewWalletService(env.db, env.cfg, env.ledger, env.locker, logging.Nop())
}

func TestDepositApproveFlow(t *testing.T) {
	env := newTestEnv(t)
	wallet := newWalletService(env)
	ctx := context.Background()

	trans, err := wallet.RequestDeposit(ctx, &DepositRequest{
		AccountID: "alice", Currency: "usdt", Amount: decimal.NewFromInt(100), Address: "0xabc", Network: "ERC20",
	})
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusPending, trans.Status)
	assert.Equal(t, model.TxKindDeposit, trans.Kind)

	// 审核前不入账
	env.assertBalance(t, "alice", "USDT", "0", "0")

	approved, err := wallet.ApproveDeposit(ctx, trans.TransactionNo, "admin-1", "0xhash", "ok")
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusCompleted, approved.Status)
	env.assertBalance(t, "alice", "USDT", "100", "0")

	// 入账翻转了原流水，没有新建流水
	assert.Equal(t, int64(1), env.countTransactions(t, "alice"))

	stored, err := repository.NewTransactionRepository(env.db).GetByTransactionNo(ctx, nil, trans.TransactionNo)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", stored.ProcessedBy)
	assert.Equal(t, "0xhash", stored.TxHash)

	// 重复审核
	_, err = wallet.ApproveDeposit(ctx, trans.TransactionNo, "admin-1", "", "")
	require.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = wallet.RejectDeposit(ctx, trans.TransactionNo, "admin-1", "late")
	require.ErrorIs(t, err, model.ErrInvalidTransition)
	env.assertBalance(t, "alice", "USDT", "100", "0")
}

func TestDepositReject(t *testing.T) {
	env := newTestEnv(t)
	wallet := newWalletService(env)
	ctx := context.Background()

	trans, err := wallet.RequestDeposit(ctx, &DepositRequest{AccountID: "alice", Currency: "BTC", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)

	rejected, err := wallet.RejectDeposit(ctx, trans.TransactionNo, "admin-1", "no funds on chain")
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusFailed, rejected.Status)
	env.assertBalance(t, "alice", "BTC", "0", "0")

	_, err = wallet.RequestDeposit(ctx, &DepositRequest{AccountID: "alice", Currency: "BTC", Amount: decimal.Zero})
	require.ErrorIs(t, err, model.ErrInvalidAmount)
}

func TestWithdrawalApproveFlow(t *testing.T) {
	env := newTestEnv(t)
	wallet := newWalletService(env)
	ctx := context.Background()
	env.fund(t, "alice", "USDT", "100")

	trans, err := wallet.RequestWithdrawal(ctx, &WithdrawalRequest{
		AccountID: "alice", Currency: "USDT", Amount: decimal.NewFromInt(50), Address: "0xdef",
	})
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusPending, trans.Status)
	assertDecimal(t, "-50", trans.Amount)
	assertDecimal(t, "0.5", trans.Fee)

	// 金额 + 1% 手续费 冻结
	env.assertBalance(t, "alice", "USDT", "49.5", "50.5")

	approved, err := wallet.ApproveWithdrawal(ctx, trans.TransactionNo, "admin-1", "0xchain", "")
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusCompleted, approved.Status)

	env.assertBalance(t, "alice", "USDT", "49.5", "0")
	env.assertBalance(t, env.cfg.Business.FeeAccountID, "USDT", "0.5", "0")

	_, err = wallet.RejectWithdrawal(ctx, trans.TransactionNo, "admin-1", "")
	require.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestWithdrawalReject(t *testing.T) {
	env := newTestEnv(t)
	wallet := newWalletService(env)
	ctx := context.Background()
	env.fund(t, "alice", "USDT", "100")

	trans, err := wallet.RequestWithdrawal(ctx, &WithdrawalRequest{
		AccountID: "alice", Currency: "USDT", Amount: decimal.NewFromInt(50), Address: "0xdef",
	})
	require.NoError(t, err)

	rejected, err := wallet.RejectWithdrawal(ctx, trans.TransactionNo, "admin-1", "address blacklisted")
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusFailed, rejected.Status)
	env.assertBalance(t, "alice", "USDT", "100", "0")
	env.assertBalance(t, env.cfg.Business.FeeAccountID, "USDT", "0", "0")
}

func TestWithdrawalValidation(t *testing.T) {
	env := newTestEnv(t)
	wallet := newWalletService(env)
	ctx := context.Background()
	env.fund(t, "alice", "USDT", "100")

	// 100 + 1 手续费 > 100
	_, err := wallet.RequestWithdrawal(ctx, &WithdrawalRequest{AccountID: "alice", Currency: "USDT", Amount: decimal.NewFromInt(100), Address: "0x1"})
	require.ErrorIs(t, err, model.ErrInsufficientBalance)

	_, err = wallet.RequestWithdrawal(ctx, &WithdrawalRequest{AccountID: "alice", Currency: "USDT", Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, model.ErrInvalidParam)

	env.assertBalance(t, "alice", "USDT", "100", "0")

	// 用充值审核接口处理提现单
	trans, err := wallet.RequestWithdrawal(ctx, &WithdrawalRequest{AccountID: "alice", Currency: "USDT", Amount: decimal.NewFromInt(10), Address: "0x1"})
	require.NoError(t, err)
	_, err = wallet.ApproveDeposit(ctx, trans.TransactionNo, "admin-1", "", "")
	require.ErrorIs(t, err, model.ErrInvalidState)
}

func TestTransfer(t *testing.T) {
	env := newTestEnv(t)
	wallet := newWalletService(env)
	ctx := context.Background()
	env.fund(t, "alice", "ETH", "2")

	trans, err := wallet.Transfer(ctx, &TransferRequest{FromAccountID: "alice", ToAccountID: "bob", Currency: "ETH", Amount: decimal.RequireFromString("0.75")})
	require.NoError(t, err)
	assert.Equal(t, model.TxKindTransfer, trans.Kind)
	assertDecimal(t, "-0.75", trans.Amount)

	env.assertBalance(t, "alice", "ETH", "1.25", "0")
	env.assertBalance(t, "bob", "ETH", "0.75", "0")

	_, err = wallet.Transfer(ctx, &TransferRequest{FromAccountID: "alice", ToAccountID: "alice", Currency: "ETH", Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, model.ErrInvalidParam)

	_, err = wallet.Transfer(ctx, &TransferRequest{FromAccountID: "alice", ToAccountID: "bob", Currency: "ETH", Amount: decimal.NewFromInt(5)})
	require.ErrorIs(t, err, model.ErrInsufficientBalance)

	env.assertBalance(t, "alice", "ETH", "1.25", "0")
	env.assertBalance(t, "bob", "ETH", "0.75", "0")
}

func TestTransactionServiceRecordAndTransition(t *testing.T) {
	env := newTestEnv(t)
	svc := NewTransactionService(env.db, env.ledger)
	ctx := context.Background()

	no, err := svc.Record(ctx, &RecordRequest{
		AccountID: "alice", Kind: model.TxKindBonus, Currency: "btc", Amount: decimal.NewFromInt(1),
		Status: model.TxStatusPending, Description: "活动奖励待发放",
	})
	require.NoError(t, err)
	require.NotEmpty(t, no)

	trans, err := svc.Transition(ctx, no, model.TxStatusProcessing, "确认中")
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusProcessing, trans.Status)

	trans, err = svc.Transition(ctx, no, model.TxStatusCancelled, "用户取消")
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusCancelled, trans.Status)

	_, err = svc.Transition(ctx, no, model.TxStatusCompleted, "")
	require.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = svc.Transition(ctx, "TXN-missing", model.TxStatusCompleted, "")
	require.ErrorIs(t, err, model.ErrTransactionNotFound)

	_, err = svc.Record(ctx, &RecordRequest{AccountID: "alice", Kind: "unknown", Currency: "BTC", Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, model.ErrInvalidParam)

	list, total, err := svc.List(ctx, repository.TransactionFilter{AccountID: "alice", Currency: "btc"}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)
	assert.Equal(t, "BTC", list[0].Currency)
	assert.Equal(t, "用户取消", list[0].ProcessingNote)
}

func TestTransitionRefusesFlowOwnedEntries(t *testing.T) {
	env := newTestEnv(t)
	wallet := newWalletService(env)
	txs := NewTransactionService(env.db, env.ledger)
	ctx := context.Background()
	env.fund(t, "alice", "USDT", "100")

	withdrawal, err := wallet.RequestWithdrawal(ctx, &WithdrawalRequest{
		AccountID: "alice", Currency: "USDT", Amount: decimal.NewFromInt(50), Address: "0xdef",
	})
	require.NoError(t, err)

	_, err = txs.Transition(ctx, withdrawal.TransactionNo, model.TxStatusFailed, "manual")
	require.ErrorIs(t, err, model.ErrInvalidState)

	// 流水仍是 pending，驳回流程可以解冻
	stored, err := txs.Get(ctx, withdrawal.TransactionNo)
	require.NoError(t, err)
	assert.Equal(t, model.TxStatusPending, stored.Status)
	env.assertBalance(t, "alice", "USDT", "49.5", "50.5")

	_, err = wallet.RejectWithdrawal(ctx, withdrawal.TransactionNo, "admin-1", "")
	require.NoError(t, err)
	env.assertBalance(t, "alice", "USDT", "100", "0")

	// 未审核的充值不能被手工置为完成
	deposit, err := wallet.RequestDeposit(ctx, &DepositRequest{AccountID: "alice", Currency: "USDT", Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	_, err = txs.Transition(ctx, deposit.TransactionNo, model.TxStatusCompleted, "")
	require.ErrorIs(t, err, model.ErrInvalidState)
	env.assertBalance(t, "alice", "USDT", "100", "0")

	// 订单冻结流水只能通过撤单 / 成交收尾
	trade := newTradeService(env)
	order, err := trade.PlaceOrder(ctx, &PlaceOrderRequest{
		AccountID: "alice", Side: model.OrderSideBuy, Pair: "BTC/USDT",
		Amount: decimal.NewFromInt(1), Price: decimal.NewFromInt(40), OrderKind: model.OrderKindLimit,
	})
	require.NoError(t, err)
	_, err = txs.Transition(ctx, order.LockTransactionNo, model.TxStatusCancelled, "")
	require.ErrorIs(t, err, model.ErrInvalidState)

	_, err = trade.CancelOrder(ctx, "alice", order.OrderNo)
	require.NoError(t, err)
	env.assertBalance(t, "alice", "USDT", "100", "0")
}
