package idgen

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
//   0 - 41位时间戳 - 10位机器ID - 12位序列号
//   |   |            |            |
//   |   |            |            +-- 同一毫秒内的序列号（0-4095）
//   |   |            +-- 机器ID（0-1023）
//   |   +-- 毫秒级时间戳（可用约69年）
//   +-- 符号位，始终为0
//
// 业务单号 = 前缀 + 年月日时分秒 + 雪花ID后10位
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 起始时间戳（2024-01-01 00:00:00 UTC）
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// 业务单号前缀
const (
	PrefixTransaction = "TXN"
	PrefixOrder       = "ORD"
	PrefixInvestment  = "MIN"
	PrefixOffer       = "OFR"
	PrefixTrade       = "P2P"
)

// Snowflake 雪花算法ID生成器
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("workerID 必须在 0-%d 之间", maxWorkerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

var (
	mu               sync.Mutex
	defaultGenerator = &Snowflake{workerID: 1}
)

// Init 设置默认生成器的机器ID，多实例部署时每个实例必须不同
func Init(workerID int64) error {
	s, err := NewSnowflake(workerID)
	if err != nil {
		return err
	}
	mu.Lock()
	defaultGenerator = s
	mu.Unlock()
	return nil
}

// NextID 生成下一个ID
func NextID() int64 {
	mu.Lock()
	g := defaultGenerator
	mu.Unlock()
	return g.Generate()
}

// Generate 生成ID
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now <= s.timestamp {
		// 同一毫秒内（或时钟回拨），沿用上一个时间戳，序列号递增
		now = s.timestamp
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// 序列号用完，等待下一毫秒
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// NewNo 生成带前缀的业务单号，例如 TXN202401151430520123456789
func NewNo(prefix string) string {
	id := NextID()
	return fmt.Sprintf("%s%s%010d", prefix, time.Now().Format("20060102150405"), id%10000000000)
}

func TransactionNo() string { return NewNo(PrefixTransaction) }
func OrderNo() string { return NewNo(PrefixOrder) }
func InvestmentNo() string { return NewNo(PrefixInvestment) }
func OfferNo() string { return NewNo(PrefixOffer) }
func TradeNo() string { return NewNo(PrefixTrade) }
