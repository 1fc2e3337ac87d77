package service

import (
	"context"
	"testing"
	"time"

	"coinledger/internal/infrastructure/logging"
	"coinledger/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newMiningFixture(t *testing.T) (*testEnv, *MiningService, *fakeClock, *model.MiningPlan) {
	t.Helper()
	env := newTestEnv(t)
	svc := NewMiningService(env.db, env.ledger, env.locker, logging.Nop())
	clock := &fakeClock{now: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
	svc.SetNowFunc(clock.Now)

	plan, err := svc.CreatePlan(context.Background(), &CreatePlanRequest{
		Name:           "S19 Pro",
		Currency:       "usdt",
		MinInvestment:  decimal.NewFromInt(100),
		MaxInvestment:  decimal.NewFromInt(10000),
		DailyReturnPct: decimal.NewFromInt(2),
		DurationDays:   30,
	})
	require.NoError(t, err)
	return env, svc, clock, plan
}

func TestMiningInvestAndClaimLifecycle(t *testing.T) {
	env, svc, clock, plan := newMiningFixture(t)
	ctx := context.Background()
	env.fund(t, "alice", "USDT", "2000")

	investment, err := svc.Invest(ctx, "alice", plan.ID, decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.Equal(t, model.InvestmentStatusActive, investment.Status)
	assertDecimal(t, "600", investment.TotalReturn)
	assert.Equal(t, clock.now.Add(30*24*time.Hour), investment.EndDate)
	env.assertBalance(t, "alice", "USDT", "1000", "0")

	_, err = svc.Claim(ctx, "alice", investment.InvestmentNo)
	require.ErrorIs(t, err, model.ErrNothingToClaim)

	clock.Advance(25 * time.Hour)
	result, err := svc.Claim(ctx, "alice", investment.InvestmentNo)
	require.NoError(t, err)
	assertDecimal(t, "20", result.Earned)
	assert.False(t, result.Completed)
	env.assertBalance(t, "alice", "USDT", "1020", "0")

	// 计息起点已经移到本次领取时间
	_, err = svc.Claim(ctx, "alice", investment.InvestmentNo)
	require.ErrorIs(t, err, model.ErrNothingToClaim)

	_, err = svc.Claim(ctx, "bob", investment.InvestmentNo)
	require.ErrorIs(t, err, model.ErrForbidden)

	// 到期：剩余收益 580 + 本金 1000
	clock.Advance(30 * 24 * time.Hour)
	result, err = svc.Claim(ctx, "alice", investment.InvestmentNo)
	require.NoError(t, err)
	assertDecimal(t, "580", result.Earned)
	assertDecimal(t, "1000", result.Principal)
	assert.True(t, result.Completed)
	env.assertBalance(t, "alice", "USDT", "2600", "0")

	_, err = svc.Claim(ctx, "alice", investment.InvestmentNo)
	require.ErrorIs(t, err, model.ErrInvalidState)

	stored, err := svc.GetInvestment(ctx, "alice", investment.InvestmentNo)
	require.NoError(t, err)
	assert.Equal(t, model.InvestmentStatusCompleted, stored.Status)
	assertDecimal(t, "600", stored.ReturnReceived)

	earnings, err := svc.Earnings(ctx, "alice")
	require.NoError(t, err)
	assertDecimal(t, "1000", earnings.TotalInvested)
	assertDecimal(t, "600", earnings.TotalEarned)
	assert.True(t, earnings.DailyEarnings.IsZero())
	assert.Equal(t, 0, earnings.ActiveCount)
}

func TestMiningInvestValidation(t *testing.T) {
	env, svc, _, plan := newMiningFixture(t)
	ctx := context.Background()
	env.fund(t, "alice", "USDT", "500")

	_, err := svc.Invest(ctx, "alice", plan.ID, decimal.NewFromInt(50))
	require.ErrorIs(t, err, model.ErrInvalidRange)

	_, err = svc.Invest(ctx, "alice", plan.ID, decimal.NewFromInt(20000))
	require.ErrorIs(t, err, model.ErrInvalidRange)

	_, err = svc.Invest(ctx, "alice", plan.ID, decimal.NewFromInt(600))
	require.ErrorIs(t, err, model.ErrInsufficientBalance)

	_, err = svc.Invest(ctx, "alice", 9999, decimal.NewFromInt(100))
	require.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, svc.UpdatePlanStatus(ctx, plan.ID, false))
	_, err = svc.Invest(ctx, "alice", plan.ID, decimal.NewFromInt(100))
	require.ErrorIs(t, err, model.ErrPlanNotFound)

	plans, err := svc.ListPlans(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, plans)

	env.assertBalance(t, "alice", "USDT", "500", "0")

	_, err = svc.CreatePlan(ctx, &CreatePlanRequest{
		Name: "bad", Currency: "BTC", MinInvestment: decimal.NewFromInt(10), MaxInvestment: decimal.NewFromInt(1),
		DailyReturnPct: decimal.NewFromInt(1), DurationDays: 10,
	})
	require.ErrorIs(t, err, model.ErrInvalidRange)
}

func TestMiningSettleMatured(t *testing.T) {
	env, svc, clock, plan := newMiningFixture(t)
	ctx := context.Background()
	env.fund(t, "alice", "USDT", "1000")
	env.fund(t, "bob", "USDT", "1000")

	first, err := svc.Invest(ctx, "alice", plan.ID, decimal.NewFromInt(500))
	require.NoError(t, err)
	clock.Advance(10 * 24 * time.Hour)
	_, err = svc.Invest(ctx, "bob", plan.ID, decimal.NewFromInt(500))
	require.NoError(t, err)

	// 只有 alice 的投资到期
	clock.Advance(21 * 24 * time.Hour)
	settled, err := svc.SettleMatured(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	// 500 + 500*2%*30
	env.assertBalance(t, "alice", "USDT", "1300", "0")
	env.assertBalance(t, "bob", "USDT", "500", "0")

	stored, err := svc.GetInvestment(ctx, "", first.InvestmentNo)
	require.NoError(t, err)
	assert.Equal(t, model.InvestmentStatusCompleted, stored.Status)

	settled, err = svc.SettleMatured(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, settled)

	earnings, err := svc.Earnings(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, earnings.ActiveCount)
	assertDecimal(t, "10", earnings.DailyEarnings)
}
