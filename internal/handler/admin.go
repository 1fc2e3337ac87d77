package handler

import (
	"strconv"

	"coinledger/internal/model"
	"coinledger/internal/service"
	"coinledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ============================================================
// 管理端接口，身份来自 X-Admin-ID
// ============================================================

type ReviewRequest struct {
	TxHash string `json:"tx_hash"`
	Note   string `json:"note"`
}

func (h *Handler) bindReview(c *gin.Context) (*ReviewRequest, bool) {
	var req ReviewRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ParamError(c, "参数错误: "+err.Error())
			return nil, false
		}
	}
	return &req, true
}

// ApproveDeposit 充值审核通过
// POST /api/v1/admin/deposits/:no/approve
func (h *Handler) ApproveDeposit(c *gin.Context) {
	req, ok := h.bindReview(c)
	if !ok {
		return
	}
	trans, err := h.wallet.ApproveDeposit(c.Request.Context(), c.Param("no"), adminID(c), req.TxHash, req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, trans)
}

// RejectDeposit 充值驳回
// POST /api/v1/admin/deposits/:no/reject
func (h *Handler) RejectDeposit(c *gin.Context) {
	req, ok := h.bindReview(c)
	if !ok {
		return
	}
	trans, err := h.wallet.RejectDeposit(c.Request.Context(), c.Param("no"), adminID(c), req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, trans)
}

// ApproveWithdrawal 提现审核通过
// POST /api/v1/admin/withdrawals/:no/approve
func (h *Handler) ApproveWithdrawal(c *gin.Context) {
	req, ok := h.bindReview(c)
	if !ok {
		return
	}
	trans, err := h.wallet.ApproveWithdrawal(c.Request.Context(), c.Param("no"), adminID(c), req.TxHash, req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, trans)
}

// RejectWithdrawal 提现驳回，冻结金额退回
// POST /api/v1/admin/withdrawals/:no/reject
func (h *Handler) RejectWithdrawal(c *gin.Context) {
	req, ok := h.bindReview(c)
	if !ok {
		return
	}
	trans, err := h.wallet.RejectWithdrawal(c.Request.Context(), c.Param("no"), adminID(c), req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, trans)
}

type TransitionRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

// TransitionTransaction 手工变更流水状态
// POST /api/v1/admin/transactions/:no/status
func (h *Handler) TransitionTransaction(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	trans, err := h.transactions.Transition(c.Request.Context(), c.Param("no"), req.Status, req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, trans)
}

type AdjustRequest struct {
	AccountID   string          `json:"account_id" binding:"required"`
	Currency    string          `json:"currency" binding:"required"`
	Op          string          `json:"op" binding:"required,oneof=credit debit move_to_locked move_to_available"`
	Bucket      string          `json:"bucket" binding:"omitempty,oneof=available locked"`
	Amount      decimal.Decimal `json:"amount"`
	Kind        string          `json:"kind"`
	Description string          `json:"description"`
}

// AdjustBalance 人工调账（赠送、补偿、冲正）
// POST /api/v1/admin/ledger/adjust
func (h *Handler) AdjustBalance(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if req.Kind == "" {
		req.Kind = model.TxKindBonus
	}
	bucket := model.Bucket(req.Bucket)
	if bucket == "" {
		bucket = model.BucketAvailable
	}

	mutation := &service.MutationRequest{
		AccountID: req.AccountID,
		Currency:  req.Currency,
		Amount:    req.Amount,
		Bucket:    bucket,
		Entry: service.Entry{
			Kind:        req.Kind,
			Description: req.Description,
			ProcessedBy: adminID(c),
		},
	}

	ctx := c.Request.Context()
	var (
		balance *model.AccountBalance
		err     error
	)
	switch model.BalanceOp(req.Op) {
	case model.OpCredit:
		balance, err = h.ledger.Credit(ctx, mutation)
	case model.OpDebit:
		balance, err = h.ledger.Debit(ctx, mutation)
	case model.OpMoveToLocked:
		balance, err = h.ledger.MoveToLocked(ctx, mutation)
	case model.OpMoveToAvailable:
		balance, err = h.ledger.MoveToAvailable(ctx, mutation)
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	h.logger.Info().
		Str("admin", adminID(c)).
		Str("account_id", req.AccountID).
		Str("op", req.Op).
		Str("amount", req.Amount.String()).
		Msg("人工调账")
	response.Success(c, balance)
}

type FillRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// FillOrder 撮合成交回报
// POST /api/v1/admin/orders/:no/fill
func (h *Handler) FillOrder(c *gin.Context) {
	var req FillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	order, err := h.trade.FillOrder(c.Request.Context(), c.Param("no"), req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, order)
}

type SetPriceRequest struct {
	Pair  string          `json:"pair" binding:"required"`
	Price decimal.Decimal `json:"price"`
}

// SetPrice 更新交易对最新价格
// POST /api/v1/admin/prices
func (h *Handler) SetPrice(c *gin.Context) {
	var req SetPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if h.prices == nil {
		h.fail(c, model.ErrPriceUnavailable)
		return
	}
	if !req.Price.IsPositive() {
		h.fail(c, model.ErrInvalidAmount)
		return
	}
	if err := h.prices.SetPrice(c.Request.Context(), req.Pair, req.Price); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"pair": req.Pair, "price": req.Price})
}

type CreatePlanRequest struct {
	Name           string          `json:"name" binding:"required"`
	Currency       string          `json:"currency" binding:"required"`
	MinInvestment  decimal.Decimal `json:"min_investment"`
	MaxInvestment  decimal.Decimal `json:"max_investment"`
	DailyReturnPct decimal.Decimal `json:"daily_return_pct"`
	DurationDays   int             `json:"duration_days" binding:"required,gt=0"`
	Description    string          `json:"description"`
}

// CreatePlan 新建矿机计划
// POST /api/v1/admin/mining/plans
func (h *Handler) CreatePlan(c *gin.Context) {
	var req CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	plan, err := h.mining.CreatePlan(c.Request.Context(), &service.CreatePlanRequest{
		Name:           req.Name,
		Currency:       req.Currency,
		MinInvestment:  req.MinInvestment,
		MaxInvestment:  req.MaxInvestment,
		DailyReturnPct: req.DailyReturnPct,
		DurationDays:   req.DurationDays,
		Description:    req.Description,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, plan)
}

type PlanStatusRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// UpdatePlanStatus 上下架矿机计划
// POST /api/v1/admin/mining/plans/:id/status
func (h *Handler) UpdatePlanStatus(c *gin.Context) {
	planID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}
	var req PlanStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if err := h.mining.UpdatePlanStatus(c.Request.Context(), planID, *req.Active); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"id": planID, "active": *req.Active})
}

type ResolveDisputeRequest struct {
	Winner     string `json:"winner" binding:"required,oneof=buyer seller"`
	Resolution string `json:"resolution"`
}

// ResolveDispute 仲裁申诉
// POST /api/v1/admin/p2p/trades/:no/resolve
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	trade, err := h.p2p.ResolveDispute(c.Request.Context(), c.Param("no"), adminID(c), req.Winner, req.Resolution)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, trade)
}
