package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

// ============================================================================
// P2P 担保交易
// ============================================================================
//
// 挂单时卖方的币从可用转入冻结，由平台托管：
//
//   payment_pending --买家确认付款--> payment_confirmed --卖家放币--> completed
//        |                                  |
//        +---------- 任一方发起申诉 ---------+--> disputed --仲裁--> completed(买家胜) | cancelled(卖家胜)
//
// 放币 / 仲裁都以 WHERE status = ? 条件更新交易状态，同一笔交易只会结算一次。
//
// ============================================================================

type P2PService struct {
	ledger      *LedgerService
	locker      *lock.Locker
	cfg         *config.Config
	p2pRepo     *repository.P2PRepository
	balanceRepo *repository.BalanceRepository
	logger      zerolog.Logger
	nowFunc     func() time.Time
}

func NewP2PService(db *gorm.DB, cfg *config.Config, ledger *LedgerService, locker *lock.Locker, logger zerolog.Logger) *P2PService {
	return &P2PService{
		ledger:      ledger,
		locker:      locker,
		cfg:         cfg,
		p2pRepo:     repository.NewP2PRepository(db),
		balanceRepo: repository.NewBalanceRepository(db),
		logger:      logger,
		nowFunc:     time.Now,
	}
}

func (s *P2PService) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.nowFunc = now
}

// ============================================================================
// 广告
// ============================================================================

type CreateOfferRequest struct {
	SellerID         string
	Currency         string
	FiatCurrency     string
	Amount           decimal.Decimal
	MinLimit         decimal.Decimal
	MaxLimit         decimal.Decimal
	Price            decimal.Decimal
	PaymentMethods   []string
	Terms            string
	TimeLimitMinutes int
}

// CreateOffer 发布卖单广告，挂单数量从卖方可用余额转入冻结
func (s *P2PService) CreateOffer(ctx context.Context, req *CreateOfferRequest) (*model.P2POffer, error) {
	if !req.Amount.IsPositive() || !req.Price.IsPositive() || !req.MinLimit.IsPositive() {
		return nil, model.ErrInvalidAmount
	}
	if req.MaxLimit.LessThan(req.MinLimit) {
		return nil, model.ErrInvalidRange
	}
	if model.NormalizeCurrency(req.FiatCurrency) == "" {
		return nil, fmt.Errorf("法币不能为空: %w", model.ErrInvalidParam)
	}

	timeLimit := req.TimeLimitMinutes
	if timeLimit <= 0 {
		timeLimit = s.cfg.Business.P2PDefaultTimeLimitMinutes
	}
	if timeLimit <= 0 {
		timeLimit = 30
	}

	methods := make([]string, 0, len(req.PaymentMethods))
	for _, m := range req.PaymentMethods {
		if m = strings.TrimSpace(m); m != "" {
			methods = append(methods, m)
		}
	}

	offer := &model.P2POffer{
		SellerID:         req.SellerID,
		Currency:         model.NormalizeCurrency(req.Currency),
		FiatCurrency:     model.NormalizeCurrency(req.FiatCurrency),
		Amount:           req.Amount,
		MinLimit:         req.MinLimit,
		MaxLimit:         req.MaxLimit,
		Price:            req.Price,
		PaymentMethods:   strings.Join(methods, ","),
		Terms:            req.Terms,
		TimeLimitMinutes: timeLimit,
		Status:           model.OfferStatusActive,
	}

	err := s.ledger.RunInTx(ctx, func(b *Book) error {
		offer.ID = 0
		offer.Version = 0
		offer.OfferNo = idgen.OfferNo()

		_, _, err := b.MoveToLocked(offer.SellerID, offer.Currency, offer.Amount, Entry{
			Kind:        model.TxKindP2P,
			Description: fmt.Sprintf("P2P 广告 %s 冻结", offer.OfferNo),
			Related:     model.Related{P2P: offer.OfferNo},
		})
		if err != nil {
			return err
		}
		if err := s.p2pRepo.CreateOffer(ctx, b.Tx(), offer); err != nil {
			return fmt.Errorf("创建广告失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("offer_no", offer.OfferNo).Str("seller_id", offer.SellerID).Str("amount", offer.Amount.String()).Msg("P2P 广告发布成功")
	return offer, nil
}

// CancelOffer 下架广告，没有进行中的交易时才允许，剩余数量解冻
func (s *P2PService) CancelOffer(ctx context.Context, sellerID, offerNo string) (*model.P2POffer, error) {
	var result *model.P2POffer
	err := s.locker.WithLock(ctx, lock.OfferLockKey(offerNo), func() error {
		return s.ledger.RunInTx(ctx, func(b *Book) error {
			offer, err := s.p2pRepo.GetOfferByNo(ctx, b.Tx(), offerNo)
			if err != nil {
				return err
			}
			if offer.SellerID != sellerID {
				return model.ErrForbidden
			}
			if offer.Status != model.OfferStatusActive {
				return fmt.Errorf("广告状态为 %s: %w", offer.Status, model.ErrInvalidState)
			}
			open, err := s.p2pRepo.CountOpenTrades(ctx, b.Tx(), offer.ID)
			if err != nil {
				return err
			}
			if open > 0 {
				return fmt.Errorf("广告还有 %d 笔进行中的交易: %w", open, model.ErrInvalidState)
			}

			if offer.Amount.IsPositive() {
				_, _, err = b.MoveToAvailable(offer.SellerID, offer.Currency, offer.Amount, Entry{
					Kind:        model.TxKindP2P,
					Description: fmt.Sprintf("P2P 广告 %s 下架解冻", offer.OfferNo),
					Related:     model.Related{P2P: offer.OfferNo},
				})
				if err != nil {
					return err
				}
			}

			offer.Amount = decimal.Zero
			offer.Status = model.OfferStatusInactive
			err = s.p2pRepo.SaveOffer(ctx, b.Tx(), offer, map[string]interface{}{
				"amount": offer.Amount,
				"status": offer.Status,
			})
			if err != nil {
				return err
			}
			result = offer
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *P2PService) GetOffer(ctx context.Context, offerNo string) (*model.P2POffer, error) {
	return s.p2pRepo.GetOfferByNo(ctx, nil, offerNo)
}

func (s *P2PService) ListOffers(ctx context.Context, filter repository.OfferFilter, page, pageSize int) ([]*model.P2POffer, int64, error) {
	return s.p2pRepo.ListOffers(ctx, filter, page, pageSize)
}

// ============================================================================
// 交易
// ============================================================================

type CreateTradeRequest struct {
	OfferNo       string
	BuyerID       string
	FiatAmount    decimal.Decimal
	PaymentMethod string
}

// CreateTrade 买家下单，不动余额，币仍然在卖方冻结余额中，只占用广告的可售数量
func (s *P2PService) CreateTrade(ctx context.Context, req *CreateTradeRequest) (*model.P2PTrade, error) {
	if !req.FiatAmount.IsPositive() {
		return nil, model.ErrInvalidAmount
	}

	var result *model.P2PTrade
	err := s.locker.WithLock(ctx, lock.OfferLockKey(req.OfferNo), func() error {
		return s.ledger.RunInTx(ctx, func(b *Book) error {
			offer, err := s.p2pRepo.GetOfferByNo(ctx, b.Tx(), req.OfferNo)
			if err != nil {
				return err
			}
			if offer.Status != model.OfferStatusActive {
				return model.ErrOfferNotFound
			}
			if offer.SellerID == req.BuyerID {
				return fmt.Errorf("不能购买自己的广告: %w", model.ErrForbidden)
			}
			if req.FiatAmount.LessThan(offer.MinLimit) || req.FiatAmount.GreaterThan(offer.MaxLimit) {
				return model.ErrInvalidRange
			}
			if req.PaymentMethod != "" && offer.PaymentMethods != "" && !containsMethod(offer.PaymentMethods, req.PaymentMethod) {
				return fmt.Errorf("不支持的付款方式 %q: %w", req.PaymentMethod, model.ErrInvalidParam)
			}

			crypto := model.CryptoForFiat(req.FiatAmount, offer.Price)
			if !crypto.IsPositive() {
				return model.ErrInvalidAmount
			}
			sellerBalance, err := b.Balance(offer.SellerID, offer.Currency)
			if err != nil {
				return err
			}
			if sellerBalance.Locked.LessThan(crypto) || offer.Tradable().LessThan(crypto) {
				return model.ErrInsufficientLocked
			}

			// 占用广告数量，同一份托管不会被多笔交易同时占用
			offer.Reserved = offer.Reserved.Add(crypto)
			if err := s.p2pRepo.SaveOffer(ctx, b.Tx(), offer, map[string]interface{}{"reserved": offer.Reserved}); err != nil {
				return err
			}

			now := s.nowFunc()
			trade := &model.P2PTrade{
				TradeNo:       idgen.TradeNo(),
				OfferID:       offer.ID,
				BuyerID:       req.BuyerID,
				SellerID:      offer.SellerID,
				Currency:      offer.Currency,
				FiatCurrency:  offer.FiatCurrency,
				FiatAmount:    req.FiatAmount,
				CryptoAmount:  crypto,
				Price:         offer.Price,
				PaymentMethod: req.PaymentMethod,
				Status:        model.P2PStatusPaymentPending,
				ExpiresAt:     now.Add(time.Duration(offer.TimeLimitMinutes) * time.Minute),
			}
			if err := s.p2pRepo.CreateTrade(ctx, b.Tx(), trade); err != nil {
				return fmt.Errorf("创建交易失败: %w", err)
			}
			result = trade
			return s.notifyTrade(b, trade)
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("trade_no", result.TradeNo).Str("buyer_id", result.BuyerID).Str("crypto_amount", result.CryptoAmount.String()).Msg("P2P 交易创建成功")
	return result, nil
}

func containsMethod(methods, method string) bool {
	for _, m := range strings.Split(methods, ",") {
		if strings.EqualFold(strings.TrimSpace(m), strings.TrimSpace(method)) {
			return true
		}
	}
	return false
}

// ConfirmPayment 买家确认已付款
func (s *P2PService) ConfirmPayment(ctx context.Context, tradeNo, buyerID, proof string) (*model.P2PTrade, error) {
	return s.transitionTrade(ctx, tradeNo, func(b *Book, trade *model.P2PTrade) error {
		if trade.BuyerID != buyerID {
			return model.ErrForbidden
		}
		if trade.Status != model.P2PStatusPaymentPending {
			return fmt.Errorf("交易状态为 %s: %w", trade.Status, model.ErrInvalidState)
		}
		trade.PaymentProof = proof
		return s.updateTrade(b, trade, model.P2PStatusPaymentConfirmed, map[string]interface{}{
			"payment_proof": proof,
		})
	})
}

// Release 卖家放币
func (s *P2PService) Release(ctx context.Context, tradeNo, sellerID string) (*model.P2PTrade, error) {
	trade, err := s.transitionTrade(ctx, tradeNo, func(b *Book, trade *model.P2PTrade) error {
		if trade.SellerID != sellerID {
			return model.ErrForbidden
		}
		if trade.Status != model.P2PStatusPaymentConfirmed {
			return fmt.Errorf("交易状态为 %s: %w", trade.Status, model.ErrInvalidState)
		}
		return s.settleToBuyer(b, trade, nil)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("trade_no", tradeNo).Str("crypto_amount", trade.CryptoAmount.String()).Msg("P2P 放币成功")
	return trade, nil
}

// OpenDispute 交易任一方在未终结的状态下发起申诉
func (s *P2PService) OpenDispute(ctx context.Context, tradeNo, initiatorID, reason string) (*model.P2PTrade, error) {
	return s.transitionTrade(ctx, tradeNo, func(b *Book, trade *model.P2PTrade) error {
		if !trade.IsParticipant(initiatorID) {
			return model.ErrForbidden
		}
		if !model.CanP2PTransitionTo(trade.Status, model.P2PStatusDisputed) {
			return fmt.Errorf("交易状态为 %s: %w", trade.Status, model.ErrInvalidState)
		}
		now := s.nowFunc()
		trade.DisputeReason = reason
		trade.DisputeInitiator = initiatorID
		trade.DisputeOpenedAt = &now
		return s.updateTrade(b, trade, model.P2PStatusDisputed, map[string]interface{}{
			"dispute_reason":    reason,
			"dispute_initiator": initiatorID,
			"dispute_opened_at": &now,
		})
	})
}

// ResolveDispute 仲裁：买家胜同放币；卖家胜则冻结退回卖家可用余额
func (s *P2PService) ResolveDispute(ctx context.Context, tradeNo, resolverID, winner, resolution string) (*model.P2PTrade, error) {
	if winner != model.DisputeWinnerBuyer && winner != model.DisputeWinnerSeller {
		return nil, fmt.Errorf("仲裁结果不合法 %q: %w", winner, model.ErrInvalidParam)
	}

	trade, err := s.transitionTrade(ctx, tradeNo, func(b *Book, trade *model.P2PTrade) error {
		if trade.Status != model.P2PStatusDisputed {
			return fmt.Errorf("交易状态为 %s: %w", trade.Status, model.ErrInvalidState)
		}

		now := s.nowFunc()
		trade.DisputeResolver = resolverID
		trade.DisputeResolution = resolution
		trade.DisputeResolvedAt = &now
		disputeFields := map[string]interface{}{
			"dispute_resolver":    resolverID,
			"dispute_resolution":  resolution,
			"dispute_resolved_at": &now,
		}

		if winner == model.DisputeWinnerBuyer {
			return s.settleToBuyer(b, trade, disputeFields)
		}
		return s.refundToSeller(b, trade, disputeFields)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("trade_no", tradeNo).Str("winner", winner).Str("resolver", resolverID).Msg("P2P 申诉已仲裁")
	return trade, nil
}

// settleToBuyer 卖方冻结 -crypto，买方可用 +crypto，广告数量 -crypto，交易完成
func (s *P2PService) settleToBuyer(b *Book, trade *model.P2PTrade, extra map[string]interface{}) error {
	if err := s.updateTrade(b, trade, model.P2PStatusCompleted, extra); err != nil {
		return err
	}

	related := model.Related{P2P: trade.TradeNo}
	_, _, err := b.Debit(trade.SellerID, trade.Currency, trade.CryptoAmount, model.BucketLocked, Entry{
		Kind:        model.TxKindP2P,
		Description: fmt.Sprintf("P2P 卖出给 %s", trade.BuyerID),
		Related:     related,
	})
	if err != nil {
		return err
	}
	_, _, err = b.Credit(trade.BuyerID, trade.Currency, trade.CryptoAmount, model.BucketAvailable, Entry{
		Kind:        model.TxKindP2P,
		Description: fmt.Sprintf("P2P 买入自 %s", trade.SellerID),
		Related:     related,
	})
	if err != nil {
		return err
	}

	return s.consumeOffer(b, trade, true)
}

// refundToSeller 卖方冻结退回可用，广告数量 -crypto，交易取消
func (s *P2PService) refundToSeller(b *Book, trade *model.P2PTrade, extra map[string]interface{}) error {
	if err := s.updateTrade(b, trade, model.P2PStatusCancelled, extra); err != nil {
		return err
	}

	_, _, err := b.MoveToAvailable(trade.SellerID, trade.Currency, trade.CryptoAmount, Entry{
		Kind:        model.TxKindP2P,
		Description: "P2P 仲裁退回",
		Related:     model.Related{P2P: trade.TradeNo},
	})
	if err != nil {
		return err
	}

	return s.consumeOffer(b, trade, false)
}

// consumeOffer 广告数量和占用同时扣减 crypto，扣到 0 时广告完结
func (s *P2PService) consumeOffer(b *Book, trade *model.P2PTrade, completed bool) error {
	offer, err := s.p2pRepo.GetOfferByID(b.Context(), b.Tx(), trade.OfferID)
	if err != nil {
		return err
	}
	if offer.Amount.LessThan(trade.CryptoAmount) {
		return model.ErrInsufficientLocked
	}

	offer.Amount = offer.Amount.Sub(trade.CryptoAmount)
	offer.Reserved = decimal.Max(offer.Reserved.Sub(trade.CryptoAmount), decimal.Zero)
	updates := map[string]interface{}{
		"amount":   offer.Amount,
		"reserved": offer.Reserved,
	}
	if completed {
		offer.CompletedTrades++
		updates["completed_trades"] = offer.CompletedTrades
	}
	if offer.Amount.IsZero() && offer.Status == model.OfferStatusActive {
		offer.Status = model.OfferStatusCompleted
		updates["status"] = offer.Status
	}
	return s.p2pRepo.SaveOffer(b.Context(), b.Tx(), offer, updates)
}

// ExpireTrades 取消超过付款时限仍未付款的交易，币留在广告中继续托管
func (s *P2PService) ExpireTrades(ctx context.Context, now time.Time, limit int) (int, error) {
	trades, err := s.p2pRepo.GetExpiredTrades(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, t := range trades {
		tradeNo := t.TradeNo
		_, err := s.transitionTrade(ctx, tradeNo, func(b *Book, trade *model.P2PTrade) error {
			if trade.Status != model.P2PStatusPending && trade.Status != model.P2PStatusPaymentPending {
				return model.ErrInvalidState
			}
			if err := s.updateTrade(b, trade, model.P2PStatusCancelled, nil); err != nil {
				return err
			}
			return s.releaseReservation(b, trade)
		})
		if err != nil {
			if errors.Is(err, model.ErrInvalidState) {
				continue
			}
			s.logger.Error().Err(err).Str("trade_no", tradeNo).Msg("P2P 交易超时取消失败")
			continue
		}
		expired++
	}
	return expired, nil
}

// releaseReservation 交易取消但币仍留在广告中，只归还占用
func (s *P2PService) releaseReservation(b *Book, trade *model.P2PTrade) error {
	offer, err := s.p2pRepo.GetOfferByID(b.Context(), b.Tx(), trade.OfferID)
	if err != nil {
		return err
	}
	offer.Reserved = decimal.Max(offer.Reserved.Sub(trade.CryptoAmount), decimal.Zero)
	return s.p2pRepo.SaveOffer(b.Context(), b.Tx(), offer, map[string]interface{}{"reserved": offer.Reserved})
}

func (s *P2PService) GetTrade(ctx context.Context, accountID, tradeNo string) (*model.P2PTrade, error) {
	trade, err := s.p2pRepo.GetTradeByNo(ctx, nil, tradeNo)
	if err != nil {
		return nil, err
	}
	if accountID != "" && !trade.IsParticipant(accountID) {
		return nil, model.ErrTradeNotFound
	}
	return trade, nil
}

func (s *P2PService) ListTrades(ctx context.Context, accountID, status string, page, pageSize int) ([]*model.P2PTrade, int64, error) {
	return s.p2pRepo.ListTradesByAccount(ctx, accountID, status, page, pageSize)
}

// transitionTrade 持有交易锁，在事务内读取交易并执行 fn
func (s *P2PService) transitionTrade(ctx context.Context, tradeNo string, fn func(b *Book, trade *model.P2PTrade) error) (*model.P2PTrade, error) {
	var result *model.P2PTrade
	err := s.locker.WithLock(ctx, lock.TradeLockKey(tradeNo), func() error {
		return s.ledger.RunInTx(ctx, func(b *Book) error {
			trade, err := s.p2pRepo.GetTradeByNo(ctx, b.Tx(), tradeNo)
			if err != nil {
				return err
			}
			if err := fn(b, trade); err != nil {
				return err
			}
			result = trade
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *P2PService) updateTrade(b *Book, trade *model.P2PTrade, toStatus string, extra map[string]interface{}) error {
	updates := map[string]interface{}{}
	for k, v := range extra {
		updates[k] = v
	}
	if err := s.p2pRepo.UpdateTradeStatus(b.Context(), b.Tx(), trade.TradeNo, trade.Status, toStatus, updates); err != nil {
		return err
	}
	trade.Status = toStatus
	return s.notifyTrade(b, trade)
}

func (s *P2PService) notifyTrade(b *Book, trade *model.P2PTrade) error {
	for _, accountID := range []string{trade.BuyerID, trade.SellerID} {
		err := b.Notify(model.LedgerEvent{
			Type:      model.EventP2PState,
			AccountID: accountID,
			Currency:  trade.Currency,
			Amount:    decPtr(trade.CryptoAmount),
			Reference: trade.TradeNo,
			Status:    trade.Status,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
