package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnowflakeWorkerRange(t *testing.T) {
	_, err := NewSnowflake(-1)
	require.Error(t, err)
	_, err = NewSnowflake(maxWorkerID + 1)
	require.Error(t, err)

	s, err := NewSnowflake(maxWorkerID)
	require.NoError(t, err)
	id := s.Generate()
	assert.Equal(t, int64(maxWorkerID), (id>>workerIDShift)&maxWorkerID)
}

func TestGenerateIsMonotonicAndUnique(t *testing.T) {
	s, err := NewSnowflake(7)
	require.NoError(t, err)

	const n = 10000
	prev := int64(0)
	seen := make(map[int64]struct{}, n)
	for i := 0; i < n; i++ {
		id := s.Generate()
		require.Greater(t, id, prev)
		prev = id
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, n)
}

func TestNewNoConcurrent(t *testing.T) {
	require.NoError(t, Init(3))

	const workers, perWorker = 8, 200
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				no := TradeNo()
				mu.Lock()
				seen[no] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}

func TestPrefixes(t *testing.T) {
	cases := map[string]func() string{
		PrefixTransaction: TransactionNo,
		PrefixOrder:       OrderNo,
		PrefixInvestment:  InvestmentNo,
		PrefixOffer:       OfferNo,
		PrefixTrade:       TradeNo,
	}
	for prefix, gen := range cases {
		no := gen()
		assert.True(t, strings.HasPrefix(no, prefix), no)
		// 前缀 + 14 位时间 + 10 位序号
		assert.Len(t, no, len(prefix)+24)
	}
}
