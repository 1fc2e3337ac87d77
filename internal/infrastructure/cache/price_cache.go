package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"coinledger/internal/model"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

var ErrPriceNotFound = fmt.Errorf("暂无该交易对的行情: %w", model.ErrPriceUnavailable)

const priceKeyPrefix = "price:"

// PriceCache 交易对最新成交价，存放在 Redis 的 price:<PAIR> 键中
type PriceCache struct {
	client *redis.Client
}

func NewPriceCache(client *redis.Client) *PriceCache {
	return &PriceCache{client: client}
}

func priceKey(pair string) string {
	return priceKeyPrefix + strings.ToUpper(strings.TrimSpace(pair))
}

// CurrentPrice 读取最新价格
func (p *PriceCache) CurrentPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	raw, err := p.client.Get(ctx, priceKey(pair)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, ErrPriceNotFound
		}
		return decimal.Zero, err
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("行情数据格式错误: pair=%s: %w", pair, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, ErrPriceNotFound
	}
	return price, nil
}

// SetPrice 写入最新价格
func (p *PriceCache) SetPrice(ctx context.Context, pair string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("价格必须大于0: %s", price.String())
	}
	return p.client.Set(ctx, priceKey(pair), price.String(), 0).Err()
}
