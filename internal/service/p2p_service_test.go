package service

import (
	"context"
	"testing"
	"time"

	"coinledger/internal/infrastructure/logging"
	"coinledger/internal/model"
	"coinledger/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newP2PFixture(t *testing.T) (*testEnv, *P2PService, *fakeClock) {
	t.Helper()
	env := newTestEnv(t)
	svc := NewP2PService(env.db, env.cfg, env.ledger, env.locker, logging.Nop())
	clock := &fakeClock{now: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)}
	svc.SetNowFunc(clock.Now)
	return env, svc, clock
}

// 卖家 alice 挂 0.1 BTC，单价 50000 USD，单笔 100~5000 USD
func createOffer(t *testing.T, env *testEnv, svc *P2PService) *model.P2POffer {
	t.Helper()
	env.fund(t, "alice", "BTC", "1")
	offer, err := svc.CreateOffer(context.Background(), &CreateOfferRequest{
		SellerID:       "alice",
		Currency:       "btc",
		FiatCurrency:   "usd",
		Amount:         decimal.RequireFromString("0.1"),
		MinLimit:       decimal.NewFromInt(100),
		MaxLimit:       decimal.NewFromInt(5000),
		Price:          decimal.NewFromInt(50000),
		PaymentMethods: []string{"bank_transfer", " wise "},
	})
	require.NoError(t, err)
	return offer
}

func openTrade(t *testing.T, svc *P2PService, offerNo, buyer string, fiat int64) *model.P2PTrade {
	t.Helper()
	trade, err := svc.CreateTrade(context.Background(), &CreateTradeRequest{
		OfferNo:       offerNo,
		BuyerID:       buyer,
		FiatAmount:    decimal.NewFromInt(fiat),
		PaymentMethod: "bank_transfer",
	})
	require.NoError(t, err)
	return trade
}

func TestP2PCreateOfferLocksFunds(t *testing.T) {
	env, svc, _ := newP2PFixture(t)
	offer := createOffer(t, env, svc)

	assert.Equal(t, model.OfferStatusActive, offer.Status)
	assert.Equal(t, "BTC", offer.Currency)
	assert.Equal(t, "USD", offer.FiatCurrency)
	assert.Equal(t, "bank_transfer,wise", offer.PaymentMethods)
	assert.Equal(t, env.cfg.Business.P2PDefaultTimeLimitMinutes, offer.TimeLimitMinutes)
	env.assertBalance(t, "alice", "BTC", "0.9", "0.1")

	offers, total, err := svc.ListOffers(context.Background(), repository.OfferFilter{Currency: "btc", Status: model.OfferStatusActive}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, offers, 1)
	assert.Equal(t, offer.OfferNo, offers[0].OfferNo)
}

func TestP2PCreateOfferValidation(t *testing.T) {
	env, svc, _ := newP2PFixture(t)
	ctx := context.Background()
	env.fund(t, "alice", "BTC", "1")

	base := CreateOfferRequest{
		SellerID: "alice", Currency: "BTC", FiatCurrency: "USD",
		Amount: decimal.RequireFromString("0.1"), MinLimit: decimal.NewFromInt(100),
		MaxLimit: decimal.NewFromInt(5000), Price: decimal.NewFromInt(50000),
	}

	req := base
	req.MaxLimit = decimal.NewFromInt(50)
	_, err := svc.CreateOffer(ctx, &req)
	require.ErrorIs(t, err, model.ErrInvalidRange)

	req = base
	req.Price = decimal.Zero
	_, err = svc.CreateOffer(ctx, &req)
	require.ErrorIs(t, err, model.ErrInvalidAmount)

	req = base
	req.FiatCurrency = " "
	_, err = svc.CreateOffer(ctx, &req)
	require.ErrorIs(t, err, model.ErrInvalidParam)

	req = base
	req.Amount = decimal.NewFromInt(2)
	_, err = svc.CreateOffer(ctx, &req)
	require.ErrorIs(t, err, model.ErrInsufficientBalance)

	env.assertBalance(t, "alice", "BTC", "1", "0")
}

func TestP2PHappyPathRelease(t *testing.T) {
	env, svc, _ := newP2PFixture(t)
	ctx := context.Background()
	offer := createOffer(t, env, svc)

	trade := openTrade(t, svc, offer.OfferNo, "bob", 1000)
	assert.Equal(t, model.P2PStatusPaymentPending, trade.Status)
	assertDecimal(t, "0.02", trade.CryptoAmount)
	// 下单不动余额
	env.assertBalance(t, "alice", "BTC", "0.9", "0.1")

	// 卖家不能在买家付款前放币
	_, err := svc.Release(ctx, trade.TradeNo, "alice")
	require.ErrorIs(t, err, model.ErrInvalidState)

	_, err = svc.ConfirmPayment(ctx, trade.TradeNo, "alice", "")
	require.ErrorIs(t, err, model.ErrForbidden)

	trade, err = svc.ConfirmPayment(ctx, trade.TradeNo, "bob", "receipt-001")
	require.NoError(t, err)
	assert.Equal(t, model.P2PStatusPaymentConfirmed, trade.Status)

	_, err = svc.Release(ctx, trade.TradeNo, "bob")
	require.ErrorIs(t, err, model.ErrForbidden)

	trade, err = svc.Release(ctx, trade.TradeNo, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.P2PStatusCompleted, trade.Status)

	env.assertBalance(t, "alice", "BTC", "0.9", "0.08")
	env.assertBalance(t, "bob", "BTC", "0.02", "0")

	// 重复放币
	_, err = svc.Release(ctx, trade.TradeNo, "alice")
	require.ErrorIs(t, err, model.ErrInvalidState)
	env.assertBalance(t, "bob", "BTC", "0.02", "0")

	stored, err := svc.GetOffer(ctx, offer.OfferNo)
	require.NoError(t, err)
	assertDecimal(t, "0.08", stored.Amount)
	assert.True(t, stored.Reserved.IsZero())
	assert.Equal(t, 1, stored.CompletedTrades)
	assert.Equal(t, model.OfferStatusActive, stored.Status)

	got, err := svc.GetTrade(ctx, "bob", trade.TradeNo)
	require.NoError(t, err)
	assert.Equal(t, "receipt-001", got.PaymentProof)
	_, err = svc.GetTrade(ctx, "carol", trade.TradeNo)
	require.ErrorIs(t, err, model.ErrTradeNotFound)

	trades, total, err := svc.ListTrades(ctx, "bob", "", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, trades, 1)

	// 每次状态变化通知买卖双方：创建 / 确认 / 完成
	assert.Equal(t, int64(6), env.countOutbox(t, model.EventP2PState))
}

func TestP2PCreateTradeValidation(t *testing.T) {
	env, svc, _ := newP2PFixture(t)
	ctx := context.Background()
	offer := createOffer(t, env, svc)

	cases := []struct {
		name string
		req  CreateTradeRequest
		want error
	}{
		{"self trade", CreateTradeRequest{BuyerID: "alice", FiatAmount: decimal.NewFromInt(1000)}, model.ErrForbidden},
		{"below min", CreateTradeRequest{BuyerID: "bob", FiatAmount: decimal.NewFromInt(50)}, model.ErrInvalidRange},
		{"above max", CreateTradeRequest{BuyerID: "bob", FiatAmount: decimal.NewFromInt(6000)}, model.ErrInvalidRange},
		{"unknown method", CreateTradeRequest{BuyerID: "bob", FiatAmount: decimal.NewFromInt(1000), PaymentMethod: "cash"}, model.ErrInvalidParam},
		{"zero fiat", CreateTradeRequest{BuyerID: "bob", FiatAmount: decimal.Zero}, model.ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			req.OfferNo = offer.OfferNo
			_, err := svc.CreateTrade(ctx, &req)
			require.ErrorIs(t, err, tc.want)
		})
	}

	_, err := svc.CreateTrade(ctx, &CreateTradeRequest{OfferNo: "OFR-missing", BuyerID: "bob", FiatAmount: decimal.NewFromInt(1000)})
	require.ErrorIs(t, err, model.ErrNotFound)

	// 付款方式不区分大小写
	trade, err := svc.CreateTrade(ctx, &CreateTradeRequest{OfferNo: offer.OfferNo, BuyerID: "bob", FiatAmount: decimal.NewFromInt(500), PaymentMethod: "WISE"})
	require.NoError(t, err)
	assertDecimal(t, "0.01", trade.CryptoAmount)
}

func TestP2PInsufficientLocked(t *testing.T) {
	env, svc, _ := newP2PFixture(t)
	ctx := context.Background()
	env.fund(t, "alice", "BTC", "1")

	offer, err := svc.CreateOffer(ctx, &CreateOfferRequest{
		SellerID: "alice", Currency: "BTC", FiatCurrency: "USD",
		Amount: decimal.RequireFromString("0.01"), MinLimit: decimal.NewFromInt(100),
		MaxLimit: decimal.NewFromInt(5000), Price: decimal.NewFromInt(50000),
	})
	require.NoError(t, err)

	// 1000 USD = 0.02 BTC > 广告剩余 0.01
	_, err = svc.CreateTrade(ctx, &CreateTradeRequest{OfferNo: offer.OfferNo, BuyerID: "bob", FiatAmount: decimal.NewFromInt(1000)})
	require.ErrorIs(t, err, model.ErrInsufficientLocked)
	require.ErrorIs(t, err, model.ErrInsufficientBalance)
}

func TestP2PEscrowNotPromisedTwice(t *testing.T) {
	env, svc, clock := newP2PFixture(t)
	ctx := context.Background()
	offer := createOffer(t, env, svc)

	// 5000 USD = 0.1 BTC，占满整个广告
	first := openTrade(t, svc, offer.OfferNo, "bob", 5000)
	stored, err := svc.GetOffer(ctx, offer.OfferNo)
	require.NoError(t, err)
	assertDecimal(t, "0.1", stored.Reserved)
	assert.True(t, stored.Tradable().IsZero())

	for _, fiat := range []int64{5000, 100} {
		_, err = svc.CreateTrade(ctx, &CreateTradeRequest{OfferNo: offer.OfferNo, BuyerID: "carol", FiatAmount: decimal.NewFromInt(fiat)})
		require.ErrorIs(t, err, model.ErrInsufficientLocked)
	}

	// 第一笔超时后占用归还，carol 才能下单
	expired, err := svc.ExpireTrades(ctx, clock.now.Add(31*time.Minute), 100)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	second := openTrade(t, svc, offer.OfferNo, "carol", 5000)
	_, err = svc.ConfirmPayment(ctx, second.TradeNo, "carol", "")
	require.NoError(t, err)
	_, err = svc.Release(ctx, second.TradeNo, "alice")
	require.NoError(t, err)

	env.assertBalance(t, "alice", "BTC", "0.9", "0")
	env.assertBalance(t, "carol", "BTC", "0.1", "0")
	env.assertBalance(t, "bob", "BTC", "0", "0")

	stored, err = svc.GetOffer(ctx, offer.OfferNo)
	require.NoError(t, err)
	assert.True(t, stored.Amount.IsZero())
	assert.True(t, stored.Reserved.IsZero())
	assert.Equal(t, model.OfferStatusCompleted, stored.Status)

	got, err := svc.GetTrade(ctx, "bob", first.TradeNo)
	require.NoError(t, err)
	assert.Equal(t, model.P2PStatusCancelled, got.Status)
}

func TestP2PDisputeResolvedForBuyer(t *testing.T) {
	env, svc, _ := newP2PFixture(t)
	ctx := context.Background()
	offer := createOffer(t, env, svc)
	trade := openTrade(t, svc, offer.OfferNo, "bob", 1000)

	_, err := svc.ConfirmPayment(ctx, trade.TradeNo, "bob", "")
	require.NoError(t, err)

	_, err = svc.OpenDispute(ctx, trade.TradeNo, "carol", "not mine")
	require.ErrorIs(t, err, model.ErrForbidden)

	disputed, err := svc.OpenDispute(ctx, trade.TradeNo, "bob", "seller not releasing")
	require.NoError(t, err)
	assert.Equal(t, model.P2PStatusDisputed, disputed.Status)
	assert.Equal(t, "bob", disputed.DisputeInitiator)
	assert.NotNil(t, disputed.DisputeOpenedAt)

	// 申诉中卖家不能自行放币
	_, err = svc.Release(ctx, trade.TradeNo, "alice")
	require.ErrorIs(t, err, model.ErrInvalidState)

	_, err = svc.ResolveDispute(ctx, trade.TradeNo, "admin-1", "nobody", "")
	require.ErrorIs(t, err, model.ErrInvalidParam)

	resolved, err := svc.ResolveDispute(ctx, trade.TradeNo, "admin-1", model.DisputeWinnerBuyer, "payment verified")
	require.NoError(t, err)
	assert.Equal(t, model.P2PStatusCompleted, resolved.Status)
	assert.Equal(t, "admin-1", resolved.DisputeResolver)

	env.assertBalance(t, "alice", "BTC", "0.9", "0.08")
	env.assertBalance(t, "bob", "BTC", "0.02", "0")

	// 仲裁只生效一次
	_, err = svc.ResolveDispute(ctx, trade.TradeNo, "admin-2", model.DisputeWinnerSeller, "")
	require.ErrorIs(t, err, model.ErrInvalidState)
	env.assertBalance(t, "alice", "BTC", "0.9", "0.08")
	env.assertBalance(t, "bob", "BTC", "0.02", "0")
}

func TestP2PDisputeResolvedForSeller(t *testing.T) {
	env, svc, _ := newP2PFixture(t)
	ctx := context.Background()
	offer := createOffer(t, env, svc)
	trade := openTrade(t, svc, offer.OfferNo, "bob", 1000)

	_, err := svc.OpenDispute(ctx, trade.TradeNo, "alice", "no payment received")
	require.NoError(t, err)

	resolved, err := svc.ResolveDispute(ctx, trade.TradeNo, "admin-1", model.DisputeWinnerSeller, "no payment")
	require.NoError(t, err)
	assert.Equal(t, model.P2PStatusCancelled, resolved.Status)

	// 涉事数量退回卖家可用，广告数量同步扣减
	env.assertBalance(t, "alice", "BTC", "0.92", "0.08")
	env.assertBalance(t, "bob", "BTC", "0", "0")

	stored, err := svc.GetOffer(ctx, offer.OfferNo)
	require.NoError(t, err)
	assertDecimal(t, "0.08", stored.Amount)
	assert.Equal(t, 0, stored.CompletedTrades)
}

func TestP2PExpireTrades(t *testing.T) {
	env, svc, clock := newP2PFixture(t)
	ctx := context.Background()
	offer := createOffer(t, env, svc)

	unpaid := openTrade(t, svc, offer.OfferNo, "bob", 1000)
	paid := openTrade(t, svc, offer.OfferNo, "carol", 500)
	_, err := svc.ConfirmPayment(ctx, paid.TradeNo, "carol", "")
	require.NoError(t, err)

	expired, err := svc.ExpireTrades(ctx, clock.now.Add(10*time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)

	expired, err = svc.ExpireTrades(ctx, clock.now.Add(31*time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := svc.GetTrade(ctx, "", unpaid.TradeNo)
	require.NoError(t, err)
	assert.Equal(t, model.P2PStatusCancelled, got.Status)

	got, err = svc.GetTrade(ctx, "", paid.TradeNo)
	require.NoError(t, err)
	assert.Equal(t, model.P2PStatusPaymentConfirmed, got.Status)

	// 超时取消不动资金，币仍在广告中托管
	env.assertBalance(t, "alice", "BTC", "0.9", "0.1")
	stored, err := svc.GetOffer(ctx, offer.OfferNo)
	require.NoError(t, err)
	assertDecimal(t, "0.1", stored.Amount)
	// 只剩 carol 的 0.01 仍被占用
	assertDecimal(t, "0.01", stored.Reserved)

	_, err = svc.ConfirmPayment(ctx, unpaid.TradeNo, "bob", "")
	require.ErrorIs(t, err, model.ErrInvalidState)
}

func TestP2PCancelOffer(t *testing.T) {
	env, svc, _ := newP2PFixture(t)
	ctx := context.Background()
	offer := createOffer(t, env, svc)
	trade := openTrade(t, svc, offer.OfferNo, "bob", 1000)

	_, err := svc.CancelOffer(ctx, "bob", offer.OfferNo)
	require.ErrorIs(t, err, model.ErrForbidden)

	// 有进行中的交易时不能下架
	_, err = svc.CancelOffer(ctx, "alice", offer.OfferNo)
	require.ErrorIs(t, err, model.ErrInvalidState)

	_, err = svc.ConfirmPayment(ctx, trade.TradeNo, "bob", "")
	require.NoError(t, err)
	_, err = svc.Release(ctx, trade.TradeNo, "alice")
	require.NoError(t, err)

	cancelled, err := svc.CancelOffer(ctx, "alice", offer.OfferNo)
	require.NoError(t, err)
	assert.Equal(t, model.OfferStatusInactive, cancelled.Status)
	assert.True(t, cancelled.Amount.IsZero())

	env.assertBalance(t, "alice", "BTC", "0.98", "0")
	env.assertBalance(t, "bob", "BTC", "0.02", "0")

	_, err = svc.CreateTrade(ctx, &CreateTradeRequest{OfferNo: offer.OfferNo, BuyerID: "bob", FiatAmount: decimal.NewFromInt(1000)})
	require.ErrorIs(t, err, model.ErrOfferNotFound)

	_, err = svc.CancelOffer(ctx, "alice", offer.OfferNo)
	require.ErrorIs(t, err, model.ErrInvalidState)
}
