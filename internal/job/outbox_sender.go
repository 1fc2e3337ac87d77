package job

import (
	"context"
	"time"

	"coinledger/internal/config"
	"coinledger/internal/infrastructure/metrics"
	"coinledger/internal/model"
	"coinledger/internal/repository"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Publisher 通知渠道，生产环境为 Kafka
type Publisher interface {
	SendMessage(ctx context.Context, topic, key, value string) error
}

// OutboxSender 轮询本地消息表，把待投递的余额 / 状态变更通知发送到 Kafka
//
// 投递失败只记录日志并累加重试次数，超过 max_retry_count 标记为 FAILED，不影响记账
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	metrics    *metrics.Metrics
	cfg        *config.Config
	logger     zerolog.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, cfg *config.Config, publisher Publisher, m *metrics.Metrics, logger zerolog.Logger) *OutboxSender {
	interval := cfg.Business.OutboxInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		metrics:    m,
		cfg:        cfg,
		logger:     logger,
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("任务停止")
			return
		case <-ticker.C:
			s.ProcessOnce(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessOnce 投递一批待发送消息，返回成功条数
func (s *OutboxSender) ProcessOnce(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("查询消息失败")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.SendMessage(ctx, msg.Topic, msg.MessageKey, msg.Payload)
	s.metrics.ObservePublish(msg.EventType, err)

	if err == nil {
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID); updateErr != nil {
			s.logger.Error().Err(updateErr).Int64("id", msg.ID).Msg("更新消息状态失败")
			return false
		}
		s.logger.Debug().Int64("id", msg.ID).Str("event", msg.EventType).Str("key", msg.MessageKey).Msg("消息发送成功")
		return true
	}

	s.logger.Warn().Err(err).Int64("id", msg.ID).Int("retry_count", msg.RetryCount).Msg("消息发送失败")

	if err := s.outboxRepo.RecordFailure(ctx, msg, s.cfg.Business.MaxRetryCount); err != nil {
		s.logger.Error().Err(err).Int64("id", msg.ID).Msg("记录发送失败次数失败")
		return false
	}
	if msg.Status == model.OutboxStatusFailed {
		s.logger.Error().Int64("id", msg.ID).Msg("消息超过最大重试次数，标记为失败")
	}
	return false
}
