package job

import (
	"context"
	"time"

	"coinledger/internal/config"

	"github.com/rs/zerolog"
)

// TradeExpirer P2P 超时交易的处理方
type TradeExpirer interface {
	ExpireTrades(ctx context.Context, now time.Time, limit int) (int, error)
}

// P2PTradeExpireJob 定时取消超过付款时限的 P2P 交易
type P2PTradeExpireJob struct {
	expirer   TradeExpirer
	logger    zerolog.Logger
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
	nowFunc   func() time.Time
}

func NewP2PTradeExpireJob(cfg *config.Config, expirer TradeExpirer, logger zerolog.Logger) *P2PTradeExpireJob {
	interval := cfg.Business.P2PExpireInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &P2PTradeExpireJob{
		expirer:   expirer,
		logger:    logger,
		stopCh:    make(chan struct{}),
		interval:  interval,
		batchSize: 100,
		nowFunc:   time.Now,
	}
}

func (j *P2PTradeExpireJob) Start(ctx context.Context) {
	j.logger.Info().Dur("interval", j.interval).Msg("P2P 交易超时任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.logger.Info().Msg("任务停止")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *P2PTradeExpireJob) Stop() {
	close(j.stopCh)
}

func (j *P2PTradeExpireJob) RunOnce(ctx context.Context) int {
	expired, err := j.expirer.ExpireTrades(ctx, j.nowFunc(), j.batchSize)
	if err != nil {
		j.logger.Error().Err(err).Msg("查询超时交易失败")
		return 0
	}
	if expired > 0 {
		j.logger.Info().Int("count", expired).Msg("本次取消超时交易")
	}
	return expired
}

// MaturitySettler 到期投资的结算方
type MaturitySettler interface {
	SettleMatured(ctx context.Context, limit int) (int, error)
}

// MiningSettleJob 定时结算已到期但用户没有主动领取的挖矿投资
type MiningSettleJob struct {
	settler   MaturitySettler
	logger    zerolog.Logger
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewMiningSettleJob(cfg *config.Config, settler MaturitySettler, logger zerolog.Logger) *MiningSettleJob {
	interval := cfg.Business.MiningSettleInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &MiningSettleJob{
		settler:   settler,
		logger:    logger,
		stopCh:    make(chan struct{}),
		interval:  interval,
		batchSize: 50,
	}
}

func (j *MiningSettleJob) Start(ctx context.Context) {
	j.logger.Info().Dur("interval", j.interval).Msg("挖矿到期结算任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.logger.Info().Msg("任务停止")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *MiningSettleJob) Stop() {
	close(j.stopCh)
}

func (j *MiningSettleJob) RunOnce(ctx context.Context) int {
	settled, err := j.settler.SettleMatured(ctx, j.batchSize)
	if err != nil {
		j.logger.Error().Err(err).Msg("查询到期投资失败")
		return 0
	}
	if settled > 0 {
		j.logger.Info().Int("count", settled).Msg("本次结算到期投资")
	}
	return settled
}
