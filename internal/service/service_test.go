package service

import (
	"context"
	"testing"
	"time"

	"coinledger/internal/config"
	"coinledger/internal/infrastructure/cache"
	"coinledger/internal/infrastructure/database"
	"coinledger/internal/infrastructure/lock"
	"coinledger/internal/infrastructure/logging"
	"coinledger/internal/infrastructure/metrics"
	"coinledger/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	db      *gorm.DB
	cfg     *config.Config
	metrics *metrics.Metrics
	redis   *redis.Client
	locker  *lock.Locker
	prices  *cache.PriceCache
	ledger  *LedgerService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	return newTestEnvOn(t, db)
}

func newTestEnvOn(t *testing.T, db *gorm.DB) *testEnv {
	t.Helper()
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Default()
	cfg.Ledger.RetryBackoff = time.Millisecond
	cfg.Ledger.LockRetryInterval = 5 * time.Millisecond

	m := metrics.New(prometheus.NewRegistry())

	return &testEnv{
		db:      db,
		cfg:     cfg,
		metrics: m,
		redis:   client,
		locker:  lock.NewLocker(client, cfg.Ledger.LockTTL, cfg.Ledger.LockRetryInterval, cfg.Ledger.LockMaxRetries),
		prices:  cache.NewPriceCache(client),
		ledger:  NewLedgerService(db, cfg, m, logging.Nop()),
	}
}

// fund 给账户可用余额入账
func (e *testEnv) fund(t *testing.T, accountID, currency, amount string) {
	t.Helper()
	_, err := e.ledger.Credit(context.Background(), &MutationRequest{
		AccountID: accountID,
		Currency:  currency,
		Amount:    decimal.RequireFromString(amount),
		Bucket:    model.BucketAvailable,
		Entry:     Entry{Kind: model.TxKindBonus, Description: "测试入金"},
	})
	require.NoError(t, err)
}

// assertBalance 校验 available / locked，并校验 total = available + locked
func (e *testEnv) assertBalance(t *testing.T, accountID, currency, available, locked string) {
	t.Helper()
	balance, err := e.ledger.GetBalance(context.Background(), accountID, currency)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString(available).Equal(balance.Available),
		"%s %s available = %s, want %s", accountID, currency, balance.Available, available)
	assert.True(t, decimal.RequireFromString(locked).Equal(balance.Locked),
		"%s %s locked = %s, want %s", accountID, currency, balance.Locked, locked)
	assert.True(t, balance.Available.Add(balance.Locked).Equal(balance.Total),
		"%s %s total = %s", accountID, currency, balance.Total)
}

func (e *testEnv) countTransactions(t *testing.T, accountID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&model.LedgerTransaction{}).Where("account_id = ?", accountID).Count(&count).Error)
	return count
}

func (e *testEnv) countOutbox(t *testing.T, eventType string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&model.OutboxMessage{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "got %s, want %s", got, want)
}
