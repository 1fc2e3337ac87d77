package job

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"coinledger/internal/config"
	"coinledger/internal/infrastructure/database"
	"coinledger/internal/infrastructure/logging"
	"coinledger/internal/infrastructure/metrics"
	"coinledger/internal/infrastructure/mq"
	"coinledger/internal/model"
	"coinledger/internal/repository"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newOutboxFixture(t *testing.T, messages int) (*gorm.DB, *repository.OutboxRepository) {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	repo := repository.NewOutboxRepository(db)
	for i := 0; i < messages; i++ {
		require.NoError(t, repo.Create(context.Background(), nil, &model.OutboxMessage{
			MessageKey: "alice",
			EventType:  model.EventBalanceChanged,
			Topic:      "ledger_event",
			Payload:    `{"type":"balance.changed","account_id":"alice"}`,
			Status:     model.OutboxStatusPending,
		}))
	}
	return db, repo
}

func TestOutboxSenderPublishesToKafka(t *testing.T) {
	db, repo := newOutboxFixture(t, 2)
	cfg := config.Default()
	cfg.Business.MaxRetryCount = 1
	m := metrics.New(prometheus.NewRegistry())

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	publisher := mq.NewProducer(producer)
	t.Cleanup(func() { _ = publisher.Close() })

	sender := NewOutboxSender(db, cfg, publisher, m, logging.Nop())
	sent := sender.ProcessOnce(context.Background())
	assert.Equal(t, 1, sent)

	ctx := context.Background()
	count, err := repo.CountByStatus(ctx, model.OutboxStatusSent)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// max_retry_count = 1，第一次失败即标记 FAILED
	count, err = repo.CountByStatus(ctx, model.OutboxStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxPublished.WithLabelValues(model.EventBalanceChanged, "sent")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxPublished.WithLabelValues(model.EventBalanceChanged, "error")))

	// 没有待投递的消息
	assert.Equal(t, 0, sender.ProcessOnce(ctx))
}

type recordingPublisher struct {
	fail  int
	calls []string
}

func (p *recordingPublisher) SendMessage(_ context.Context, topic, key, value string) error {
	p.calls = append(p.calls, key)
	if p.fail > 0 {
		p.fail--
		return errors.New("broker unavailable")
	}
	return nil
}

func TestOutboxSenderRetriesUntilSent(t *testing.T) {
	db, repo := newOutboxFixture(t, 1)
	cfg := config.Default()
	cfg.Business.MaxRetryCount = 5

	publisher := &recordingPublisher{fail: 2}
	sender := NewOutboxSender(db, cfg, publisher, nil, logging.Nop())
	ctx := context.Background()

	assert.Equal(t, 0, sender.ProcessOnce(ctx))
	assert.Equal(t, 0, sender.ProcessOnce(ctx))
	assert.Equal(t, 1, sender.ProcessOnce(ctx))
	assert.Len(t, publisher.calls, 3)

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutboxSenderStopsOnContextCancel(t *testing.T) {
	db, _ := newOutboxFixture(t, 0)
	cfg := config.Default()
	cfg.Business.OutboxInterval = time.Millisecond

	sender := NewOutboxSender(db, cfg, &recordingPublisher{}, nil, logging.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sender.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sender did not stop")
	}
}

type fakeExpirer struct {
	lastNow time.Time
	limit   int
	result  int
	err     error
}

func (f *fakeExpirer) ExpireTrades(_ context.Context, now time.Time, limit int) (int, error) {
	f.lastNow = now
	f.limit = limit
	return f.result, f.err
}

func TestP2PTradeExpireJobRunOnce(t *testing.T) {
	expirer := &fakeExpirer{result: 3}
	job := NewP2PTradeExpireJob(config.Default(), expirer, logging.Nop())
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	job.nowFunc = func() time.Time { return fixed }

	assert.Equal(t, 3, job.RunOnce(context.Background()))
	assert.Equal(t, fixed, expirer.lastNow)
	assert.Equal(t, 100, expirer.limit)

	expirer.err = errors.New("db down")
	assert.Equal(t, 0, job.RunOnce(context.Background()))
}

type countingSettler struct {
	calls atomic.Int32
}

func (s *countingSettler) SettleMatured(context.Context, int) (int, error) {
	s.calls.Add(1)
	return 1, nil
}

func TestMiningSettleJobTicks(t *testing.T) {
	cfg := config.Default()
	cfg.Business.MiningSettleInterval = time.Millisecond
	settler := &countingSettler{}
	job := NewMiningSettleJob(cfg, settler, logging.Nop())

	done := make(chan struct{})
	go func() {
		job.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return settler.calls.Load() >= 2 }, time.Second, time.Millisecond)
	job.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not stop")
	}
}
