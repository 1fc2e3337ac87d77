package service

import (
	"context"
	"fmt"
	"time"

	"coinledger/internal/config"
	"coinledger/internal/infrastructure/lock"
	"coinledger/internal/model"
	"coinledger/internal/repository"
	"coinledger/pkg/idgen"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PriceOracle 行情来源，市价单在下单时取价
type PriceOracle interface {
	CurrentPrice(ctx context.Context, pair string) (decimal.Decimal, error)
}

// ============================================================================
// 现货交易结算
// ============================================================================
//
// 下单：买单冻结计价币 amount*price，卖单冻结基础币 amount，冻结流水为 pending
// 成交：对手方为外部流动性
//   买：冻结计价币扣 qty*price，其中手续费 qty*price*rate 记入平台账户，基础币 +qty
//   卖：冻结基础币扣 qty，计价币 +(qty*price - 手续费)，手续费记入平台账户
// 全部成交时冻结流水翻转为 completed；撤单时剩余冻结解冻，冻结流水翻转为 cancelled
//
// ============================================================================

type TradeService struct {
	ledger    *LedgerService
	locker    *lock.Locker
	oracle    PriceOracle
	cfg       *config.Config
	orderRepo *repository.OrderRepository
	logger    zerolog.Logger
}

func NewTradeService(db *gorm.DB, cfg *config.Config, ledger *LedgerService, locker *lock.Locker, oracle PriceOracle, logger zerolog.Logger) *TradeService {
	return &TradeService{
		ledger:    ledger,
		locker:    locker,
		oracle:    oracle,
		cfg:       cfg,
		orderRepo: repository.NewOrderRepository(db),
		logger:    logger,
	}
}

type PlaceOrderRequest struct {
	AccountID string
	Side      string
	Pair      string
	Amount    decimal.Decimal
	Price     decimal.Decimal
	OrderKind string
	StopPrice decimal.Decimal
}

func (s *TradeService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*model.SpotOrder, error) {
	if req.Side != model.OrderSideBuy && req.Side != model.OrderSideSell {
		return nil, fmt.Errorf("买卖方向不合法 %q: %w", req.Side, model.ErrInvalidParam)
	}
	base, quote, ok := model.SplitPair(req.Pair)
	if !ok {
		return nil, fmt.Errorf("交易对不合法 %q: %w", req.Pair, model.ErrInvalidParam)
	}
	pair := base + "/" + quote
	if !req.Amount.IsPositive() {
		return nil, model.ErrInvalidAmount
	}

	price := req.Price
	switch req.OrderKind {
	case model.OrderKindMarket:
		if price.IsZero() {
			if s.oracle == nil {
				return nil, model.ErrPriceUnavailable
			}
			p, err := s.oracle.CurrentPrice(ctx, pair)
			if err != nil {
				return nil, fmt.Errorf("获取行情失败: %w", err)
			}
			price = p
		}
	case model.OrderKindLimit:
	case model.OrderKindStop:
		if !req.StopPrice.IsPositive() {
			return nil, model.ErrInvalidAmount
		}
	default:
		return nil, fmt.Errorf("订单类型不合法 %q: %w", req.OrderKind, model.ErrInvalidParam)
	}
	if !price.IsPositive() {
		return nil, model.ErrInvalidAmount
	}

	total, fee := model.ComputeOrderTotals(req.Amount, price, s.cfg.Business.TradingFee())

	order := &model.SpotOrder{
		AccountID:     req.AccountID,
		Side:          req.Side,
		OrderKind:     req.OrderKind,
		Pair:          pair,
		BaseCurrency:  base,
		QuoteCurrency: quote,
		Amount:        req.Amount,
		Price:         price,
		StopPrice:     req.StopPrice,
		Filled:        decimal.Zero,
		Total:         total,
		Fee:           fee,
	}
	lockAmount := req.Amount
	if req.Side == model.OrderSideBuy {
		lockAmount = total
	}

	err := s.ledger.RunInTx(ctx, func(b *Book) error {
		order.ID = 0
		order.Version = 0
		order.OrderNo = idgen.OrderNo()
		order.LockedAmount = lockAmount
		order.Status = model.OrderStatusOpen
		if req.OrderKind == model.OrderKindMarket {
			order.Status = model.OrderStatusPending
		}

		_, lockTrans, err := b.MoveToLocked(order.AccountID, order.LockCurrency(), lockAmount, Entry{
			Kind:        model.TxKindTrade,
			Status:      model.TxStatusPending,
			Description: fmt.Sprintf("%s %s %s 下单冻结", order.Pair, order.Side, order.Amount.String()),
			Related:     model.Related{Trade: order.OrderNo},
		})
		if err != nil {
			return err
		}
		order.LockTransactionNo = lockTrans.TransactionNo

		if err := s.orderRepo.Create(ctx, b.Tx(), order); err != nil {
			return fmt.Errorf("创建订单失败: %w", err)
		}

		if req.OrderKind == model.OrderKindMarket {
			return s.fill(b, order, order.Amount)
		}
		return s.notifyOrder(b, order)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("order_no", order.OrderNo).
		Str("account_id", order.AccountID).
		Str("pair", order.Pair).
		Str("side", order.Side).
		Str("amount", order.Amount.String()).
		Str("price", order.Price.String()).
		Str("status", order.Status).
		Msg("下单成功")
	return order, nil
}

// FillOrder 外部撮合成交回报，支持部分成交
func (s *TradeService) FillOrder(ctx context.Context, orderNo string, fillAmount decimal.Decimal) (*model.SpotOrder, error) {
	if !fillAmount.IsPositive() {
		return nil, model.ErrInvalidAmount
	}

	var result *model.SpotOrder
	err := s.locker.WithLock(ctx, lock.OrderLockKey(orderNo), func() error {
		return s.ledger.RunInTx(ctx, func(b *Book) error {
			order, err := s.orderRepo.GetByOrderNo(ctx, b.Tx(), orderNo)
			if err != nil {
				return err
			}
			if order.Status != model.OrderStatusOpen && order.Status != model.OrderStatusPartiallyFilled {
				return fmt.Errorf("订单状态为 %s: %w", order.Status, model.ErrInvalidState)
			}
			if err := s.fill(b, order, fillAmount); err != nil {
				return err
			}
			result = order
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// fill 按 order.Price 成交 qty，所有资金变动在调用方的事务中
func (s *TradeService) fill(b *Book, order *model.SpotOrder, qty decimal.Decimal) error {
	if qty.GreaterThan(order.Remaining()) {
		return fmt.Errorf("成交数量超过剩余数量: %w", model.ErrInvalidRange)
	}

	value := qty.Mul(order.Price)
	fee := value.Mul(s.cfg.Business.TradingFee())
	related := model.Related{Trade: order.OrderNo}
	feeAccount := s.cfg.Business.FeeAccountID

	var lockedUsed decimal.Decimal
	switch order.Side {
	case model.OrderSideBuy:
		lockedUsed = value
		_, _, err := b.Debit(order.AccountID, order.QuoteCurrency, value, model.BucketLocked, Entry{
			Kind:        model.TxKindTrade,
			Fee:         fee,
			Description: fmt.Sprintf("买入 %s %s 成交支付", qty.String(), order.BaseCurrency),
			Related:     related,
		})
		if err != nil {
			return err
		}
		_, _, err = b.Credit(order.AccountID, order.BaseCurrency, qty, model.BucketAvailable, Entry{
			Kind:        model.TxKindTrade,
			Description: fmt.Sprintf("买入 %s %s 成交到账", qty.String(), order.BaseCurrency),
			Related:     related,
		})
		if err != nil {
			return err
		}
	case model.OrderSideSell:
		lockedUsed = qty
		_, _, err := b.Debit(order.AccountID, order.BaseCurrency, qty, model.BucketLocked, Entry{
			Kind:        model.TxKindTrade,
			Description: fmt.Sprintf("卖出 %s %s 成交交割", qty.String(), order.BaseCurrency),
			Related:     related,
		})
		if err != nil {
			return err
		}
		proceeds := value.Sub(fee)
		if proceeds.IsPositive() {
			_, _, err = b.Credit(order.AccountID, order.QuoteCurrency, proceeds, model.BucketAvailable, Entry{
				Kind:        model.TxKindTrade,
				Fee:         fee,
				Description: fmt.Sprintf("卖出 %s %s 成交到账", qty.String(), order.BaseCurrency),
				Related:     related,
			})
			if err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("买卖方向不合法 %q: %w", order.Side, model.ErrInvalidState)
	}

	if fee.IsPositive() {
		_, _, err := b.Credit(feeAccount, order.QuoteCurrency, fee, model.BucketAvailable, Entry{
			Kind:        model.TxKindFee,
			Description: fmt.Sprintf("%s 交易手续费", order.Pair),
			Related:     related,
		})
		if err != nil {
			return err
		}
	}

	fromStatus := order.Status
	order.Filled = order.Filled.Add(qty)
	order.LockedAmount = order.LockedAmount.Sub(lockedUsed)
	updates := map[string]interface{}{
		"filled":        order.Filled,
		"locked_amount": order.LockedAmount,
	}

	if order.Filled.Equal(order.Amount) {
		order.Status = model.OrderStatusFilled
		now := time.Now()
		order.ExecutedAt = &now
		updates["executed_at"] = &now

		if _, err := b.Transition(order.LockTransactionNo, model.TxStatusCompleted, repository.TransitionUpdate{}); err != nil {
			return err
		}
	} else {
		order.Status = model.OrderStatusPartiallyFilled
	}
	updates["status"] = order.Status

	if err := s.orderRepo.Save(b.Context(), b.Tx(), order, fromStatus, updates); err != nil {
		return err
	}
	return s.notifyOrder(b, order)
}

// CancelOrder 撤单，剩余冻结金额全部解冻
func (s *TradeService) CancelOrder(ctx context.Context, accountID, orderNo string) (*model.SpotOrder, error) {
	var result *model.SpotOrder
	err := s.locker.WithLock(ctx, lock.OrderLockKey(orderNo), func() error {
		return s.ledger.RunInTx(ctx, func(b *Book) error {
			order, err := s.orderRepo.GetByOrderNo(ctx, b.Tx(), orderNo)
			if err != nil {
				return err
			}
			if order.AccountID != accountID {
				return model.ErrForbidden
			}
			if !model.CanOrderTransitionTo(order.Status, model.OrderStatusCancelled) {
				return fmt.Errorf("订单状态为 %s: %w", order.Status, model.ErrInvalidState)
			}

			if order.LockedAmount.IsPositive() {
				_, _, err = b.MoveToAvailable(order.AccountID, order.LockCurrency(), order.LockedAmount, Entry{
					Kind:        model.TxKindTrade,
					Description: fmt.Sprintf("%s 撤单解冻", order.Pair),
					Related:     model.Related{Trade: order.OrderNo},
				})
				if err != nil {
					return err
				}
			}
			if _, err := b.Transition(order.LockTransactionNo, model.TxStatusCancelled, repository.TransitionUpdate{ProcessingNote: "撤单"}); err != nil {
				return err
			}

			fromStatus := order.Status
			order.Status = model.OrderStatusCancelled
			order.LockedAmount = decimal.Zero
			err = s.orderRepo.Save(ctx, b.Tx(), order, fromStatus, map[string]interface{}{
				"status":        order.Status,
				"locked_amount": order.LockedAmount,
			})
			if err != nil {
				return err
			}
			result = order
			return s.notifyOrder(b, order)
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("order_no", orderNo).Str("account_id", accountID).Msg("撤单成功")
	return result, nil
}

// GetOrder 查询订单，accountID 非空时校验归属
func (s *TradeService) GetOrder(ctx context.Context, accountID, orderNo string) (*model.SpotOrder, error) {
	order, err := s.orderRepo.GetByOrderNo(ctx, nil, orderNo)
	if err != nil {
		return nil, err
	}
	if accountID != "" && order.AccountID != accountID {
		// 不暴露他人订单是否存在
		return nil, model.ErrOrderNotFound
	}
	return order, nil
}

func (s *TradeService) ListOrders(ctx context.Context, accountID, status string, page, pageSize int) ([]*model.SpotOrder, int64, error) {
	return s.orderRepo.ListByAccount(ctx, accountID, status, page, pageSize)
}

func (s *TradeService) notifyOrder(b *Book, order *model.SpotOrder) error {
	return b.Notify(model.LedgerEvent{
		Type:      model.EventOrderState,
		AccountID: order.AccountID,
		Currency:  order.LockCurrency(),
		Amount:    decPtr(order.Filled),
		Reference: order.OrderNo,
		Status:    order.Status,
	})
}

