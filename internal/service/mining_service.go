package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coinledger/internal/infrastructure/lock"
	"coinledger/internal/model"
	"coinledger/internal/repository"
	"coinledger/pkg/idgen"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================================
// 云挖矿
// ============================================================================
//
// 投资：本金直接从可用余额扣除（不进入冻结）
// 领取：按整天数计息 days = floor((now - 上次领取时间|开始时间) / 24h)
//   - 未到期且 days < 1：ErrNothingToClaim
//   - 收益 = amount * pct/100 * days，累计发放不超过 total_return
//   - 到期（now >= end_date）：发放剩余收益并返还本金，投资完结
//
// ============================================================================

type MiningService struct {
	ledger     *LedgerService
	locker     *lock.Locker
	miningRepo *repository.MiningRepository
	logger     zerolog.Logger
	nowFunc    func() time.Time
}

func NewMiningService(db *gorm.DB, ledger *LedgerService, locker *lock.Locker, logger zerolog.Logger) *MiningService {
	return &MiningService{
		ledger:     ledger,
		locker:     locker,
		miningRepo: repository.NewMiningRepository(db),
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// SetNowFunc 替换时间源，测试中用来模拟时间流逝
func (s *MiningService) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.nowFunc = now
}

// ============================================================================
// 矿机计划
// ============================================================================

type CreatePlanRequest struct {
	Name           string
	Currency       string
	MinInvestment  decimal.Decimal
	MaxInvestment  decimal.Decimal
	DailyReturnPct decimal.Decimal
	DurationDays   int
	Description    string
}

func (s *MiningService) CreatePlan(ctx context.Context, req *CreatePlanRequest) (*model.MiningPlan, error) {
	if strings.TrimSpace(req.Name) == "" || model.NormalizeCurrency(req.Currency) == "" {
		return nil, fmt.Errorf("计划名称和币种不能为空: %w", model.ErrInvalidParam)
	}
	if !req.MinInvestment.IsPositive() || !req.DailyReturnPct.IsPositive() || req.DurationDays <= 0 {
		return nil, model.ErrInvalidAmount
	}
	if req.MaxInvestment.LessThan(req.MinInvestment) {
		return nil, model.ErrInvalidRange
	}

	plan := &model.MiningPlan{
		Name:           strings.TrimSpace(req.Name),
		Currency:       model.NormalizeCurrency(req.Currency),
		MinInvestment:  req.MinInvestment,
		MaxInvestment:  req.MaxInvestment,
		DailyReturnPct: req.DailyReturnPct,
		DurationDays:   req.DurationDays,
		Description:    req.Description,
		IsActive:       true,
	}
	if err := s.miningRepo.CreatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("创建矿机计划失败: %w", err)
	}
	return plan, nil
}

func (s *MiningService) UpdatePlanStatus(ctx context.Context, planID int64, active bool) error {
	return s.miningRepo.UpdatePlanActive(ctx, planID, active)
}

func (s *MiningService) ListPlans(ctx context.Context, activeOnly bool) ([]*model.MiningPlan, error) {
	return s.miningRepo.ListPlans(ctx, activeOnly)
}

// ============================================================================
// 投资与领取
// ============================================================================

func (s *MiningService) Invest(ctx context.Context, accountID string, planID int64, amount decimal.Decimal) (*model.MiningInvestment, error) {
	if !amount.IsPositive() {
		return nil, model.ErrInvalidAmount
	}

	plan, err := s.miningRepo.GetPlan(ctx, nil, planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, model.ErrPlanNotFound
	}
	if !plan.InRange(amount) {
		return nil, model.ErrInvalidRange
	}

	now := s.nowFunc()
	investment := &model.MiningInvestment{
		AccountID:      accountID,
		PlanID:         plan.ID,
		Currency:       plan.Currency,
		Amount:         amount,
		DailyReturnPct: plan.DailyReturnPct,
		TotalReturn:    model.ComputeTotalReturn(amount, plan.DailyReturnPct, plan.DurationDays),
		ReturnReceived: decimal.Zero,
		StartDate:      now,
		EndDate:        now.Add(time.Duration(plan.DurationDays) * 24 * time.Hour),
		Status:         model.InvestmentStatusActive,
	}

	err = s.ledger.RunInTx(ctx, func(b *Book) error {
		investment.ID = 0
		investment.InvestmentNo = idgen.InvestmentNo()

		_, _, err := b.Debit(accountID, plan.Currency, amount, model.BucketAvailable, Entry{
			Kind:        model.TxKindMining,
			Description: fmt.Sprintf("投资矿机 %s", plan.Name),
			Related:     model.Related{Mining: investment.InvestmentNo},
		})
		if err != nil {
			return err
		}
		if err := s.miningRepo.CreateInvestment(ctx, b.Tx(), investment); err != nil {
			return fmt.Errorf("创建投资记录失败: %w", err)
		}
		return s.notifyInvestment(b, investment, decimal.Zero)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("investment_no", investment.InvestmentNo).
		Str("account_id", accountID).
		Str("amount", amount.String()).
		Msg("挖矿投资成功")
	return investment, nil
}

// ClaimResult 一次领取的结果
type ClaimResult struct {
	Investment *model.MiningInvestment `json:"investment"`
	Earned     decimal.Decimal         `json:"earned"`
	Principal  decimal.Decimal         `json:"principal"`
	Completed  bool                    `json:"completed"`
}

func (s *MiningService) Claim(ctx context.Context, accountID, investmentNo string) (*ClaimResult, error) {
	var result *ClaimResult
	err := s.locker.WithLock(ctx, lock.InvestmentLockKey(investmentNo), func() error {
		return s.ledger.RunInTx(ctx, func(b *Book) error {
			r, err := s.claim(b, accountID, investmentNo)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("investment_no", investmentNo).
		Str("earned", result.Earned.String()).
		Bool("completed", result.Completed).
		Msg("挖矿收益领取成功")
	return result, nil
}

func (s *MiningService) claim(b *Book, accountID, investmentNo string) (*ClaimResult, error) {
	investment, err := s.miningRepo.GetInvestment(b.Context(), b.Tx(), investmentNo)
	if err != nil {
		return nil, err
	}
	if investment.AccountID != accountID {
		return nil, model.ErrForbidden
	}
	if investment.Status != model.InvestmentStatusActive {
		return nil, fmt.Errorf("投资状态为 %s: %w", investment.Status, model.ErrInvalidState)
	}

	now := s.nowFunc()
	days := investment.ElapsedDays(now)
	matured := !now.Before(investment.EndDate)
	if !matured && days < 1 {
		return nil, model.ErrNothingToClaim
	}

	remaining := investment.Remaining()
	earned := investment.DailyEarning().Mul(decimal.NewFromInt(days))
	if matured || earned.GreaterThan(remaining) {
		earned = remaining
	}
	if !matured && !earned.IsPositive() {
		return nil, model.ErrNothingToClaim
	}

	related := model.Related{Mining: investment.InvestmentNo}
	if earned.IsPositive() {
		_, _, err = b.Credit(investment.AccountID, investment.Currency, earned, model.BucketAvailable, Entry{
			Kind:        model.TxKindMining,
			Description: fmt.Sprintf("挖矿收益 %d 天", days),
			Related:     related,
		})
		if err != nil {
			return nil, err
		}
	}

	result := &ClaimResult{Investment: investment, Earned: earned, Principal: decimal.Zero}

	investment.ReturnReceived = investment.ReturnReceived.Add(earned)
	investment.LastPayoutDate = &now
	updates := map[string]interface{}{
		"return_received":  investment.ReturnReceived,
		"last_payout_date": &now,
	}

	if matured {
		_, _, err = b.Credit(investment.AccountID, investment.Currency, investment.Amount, model.BucketAvailable, Entry{
			Kind:        model.TxKindMining,
			Description: "挖矿到期返还本金",
			Related:     related,
		})
		if err != nil {
			return nil, err
		}
		investment.Status = model.InvestmentStatusCompleted
		updates["status"] = investment.Status
		result.Principal = investment.Amount
		result.Completed = true
	}

	if err := s.miningRepo.SaveInvestment(b.Context(), b.Tx(), investment, updates); err != nil {
		return nil, err
	}
	if err := s.notifyInvestment(b, investment, earned); err != nil {
		return nil, err
	}
	return result, nil
}

// SettleMatured 为已到期的投资自动结算剩余收益和本金
func (s *MiningService) SettleMatured(ctx context.Context, limit int) (int, error) {
	now := s.nowFunc()
	investments, err := s.miningRepo.GetMaturedInvestments(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, inv := range investments {
		if _, err := s.Claim(ctx, inv.AccountID, inv.InvestmentNo); err != nil {
			s.logger.Error().Err(err).Str("investment_no", inv.InvestmentNo).Msg("到期投资结算失败")
			continue
		}
		settled++
	}
	return settled, nil
}

func (s *MiningService) GetInvestment(ctx context.Context, accountID, investmentNo string) (*model.MiningInvestment, error) {
	investment, err := s.miningRepo.GetInvestment(ctx, nil, investmentNo)
	if err != nil {
		return nil, err
	}
	if accountID != "" && investment.AccountID != accountID {
		return nil, model.ErrInvestmentNotFound
	}
	return investment, nil
}

func (s *MiningService) ListInvestments(ctx context.Context, accountID string) ([]*model.MiningInvestment, error) {
	return s.miningRepo.ListInvestments(ctx, accountID)
}

// Earnings 账户挖矿汇总
type Earnings struct {
	TotalInvested decimal.Decimal `json:"total_invested"`
	TotalEarned   decimal.Decimal `json:"total_earned"`
	DailyEarnings decimal.Decimal `json:"daily_earnings"`
	ActiveCount   int             `json:"active_count"`
}

func (s *MiningService) Earnings(ctx context.Context, accountID string) (*Earnings, error) {
	investments, err := s.miningRepo.ListInvestments(ctx, accountID)
	if err != nil {
		return nil, err
	}

	e := &Earnings{
		TotalInvested: decimal.Zero,
		TotalEarned:   decimal.Zero,
		DailyEarnings: decimal.Zero,
	}
	for _, inv := range investments {
		e.TotalInvested = e.TotalInvested.Add(inv.Amount)
		e.TotalEarned = e.TotalEarned.Add(inv.ReturnReceived)
		if inv.Status == model.InvestmentStatusActive {
			e.DailyEarnings = e.DailyEarnings.Add(inv.DailyEarning())
			e.ActiveCount++
		}
	}
	return e, nil
}

func (s *MiningService) notifyInvestment(b *Book, investment *model.MiningInvestment, earned decimal.Decimal) error {
	return b.Notify(model.LedgerEvent{
		Type:      model.EventMiningState,
		AccountID: investment.AccountID,
		Currency:  investment.Currency,
		Amount:    decPtr(earned),
		Reference: investment.InvestmentNo,
		Status:    investment.Status,
	})
}
