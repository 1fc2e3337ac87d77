package handler

import (
	"coinledger/internal/model"
	"coinledger/internal/repository"
	"coinledger/internal/service"
	"coinledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ============================================================
// 现货交易
// ============================================================

type PlaceOrderRequest struct {
	Side      string          `json:"side" binding:"required,oneof=buy sell"`
	Pair      string          `json:"pair" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	OrderType string          `json:"order_type" binding:"omitempty,oneof=market limit stop"`
	StopPrice decimal.Decimal `json:"stop_price"`
}

// PlaceOrder 下单，市价单不传价格时使用最新行情
// POST /api/v1/trading/orders
func (h *Handler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if req.OrderType == "" {
		req.OrderType = model.OrderKindMarket
	}

	order, err := h.trade.PlaceOrder(c.Request.Context(), &service.PlaceOrderRequest{
		AccountID: accountID(c),
		Side:      req.Side,
		Pair:      req.Pair,
		Amount:    req.Amount,
		Price:     req.Price,
		OrderKind: req.OrderType,
		StopPrice: req.StopPrice,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, order)
}

// ListOrders 我的订单
// GET /api/v1/trading/orders?status=&page=&page_size=
func (h *Handler) ListOrders(c *gin.Context) {
	page, pageSize := pagination(c)
	orders, total, err := h.trade.ListOrders(c.Request.Context(), accountID(c), c.Query("status"), page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, listResult(orders, total, page, pageSize))
}

// GetOrder 订单详情
// GET /api/v1/trading/orders/:no
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.trade.GetOrder(c.Request.Context(), accountID(c), c.Param("no"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, order)
}

// CancelOrder 撤单
// POST /api/v1/trading/orders/:no/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	order, err := h.trade.CancelOrder(c.Request.Context(), accountID(c), c.Param("no"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, order)
}

// ============================================================
// P2P
// ============================================================

type CreateOfferRequest struct {
	Currency         string          `json:"currency" binding:"required"`
	FiatCurrency     string          `json:"fiat_currency" binding:"required"`
	Amount           decimal.Decimal `json:"amount"`
	MinLimit         decimal.Decimal `json:"min_limit"`
	MaxLimit         decimal.Decimal `json:"max_limit"`
	Price            decimal.Decimal `json:"price"`
	PaymentMethods   []string        `json:"payment_methods"`
	Terms            string          `json:"terms"`
	TimeLimitMinutes int             `json:"time_limit_minutes" binding:"gte=0"`
}

// CreateOffer 发布卖币广告
// POST /api/v1/p2p/offers
func (h *Handler) CreateOffer(c *gin.Context) {
	var req CreateOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	offer, err := h.p2p.CreateOffer(c.Request.Context(), &service.CreateOfferRequest{
		SellerID:         accountID(c),
		Currency:         req.Currency,
		FiatCurrency:     req.FiatCurrency,
		Amount:           req.Amount,
		MinLimit:         req.MinLimit,
		MaxLimit:         req.MaxLimit,
		Price:            req.Price,
		PaymentMethods:   req.PaymentMethods,
		Terms:            req.Terms,
		TimeLimitMinutes: req.TimeLimitMinutes,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, offer)
}

// ListOffers 广告列表
// GET /api/v1/p2p/offers?currency=&fiat_currency=&page=&page_size=
func (h *Handler) ListOffers(c *gin.Context) {
	page, pageSize := pagination(c)
	filter := repository.OfferFilter{
		Currency:     c.Query("currency"),
		FiatCurrency: c.Query("fiat_currency"),
		Status:       c.DefaultQuery("status", model.OfferStatusActive),
	}

	offers, total, err := h.p2p.ListOffers(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, listResult(offers, total, page, pageSize))
}

// CancelOffer 下架广告
// POST /api/v1/p2p/offers/:no/cancel
func (h *Handler) CancelOffer(c *gin.Context) {
	offer, err := h.p2p.CancelOffer(c.Request.Context(), accountID(c), c.Param("no"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, offer)
}

type CreateTradeRequest struct {
	OfferNo       string          `json:"offer_no" binding:"required"`
	FiatAmount    decimal.Decimal `json:"fiat_amount"`
	PaymentMethod string          `json:"payment_method"`
}

// CreateTrade 买家下单
// POST /api/v1/p2p/trades
func (h *Handler) CreateTrade(c *gin.Context) {
	var req CreateTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trade, err := h.p2p.CreateTrade(c.Request.Context(), &service.CreateTradeRequest{
		OfferNo:       req.OfferNo,
		BuyerID:       accountID(c),
		FiatAmount:    req.FiatAmount,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, trade)
}

// ListTrades 我参与的交易
// GET /api/v1/p2p/trades?status=&page=&page_size=
func (h *Handler) ListTrades(c *gin.Context) {
	page, pageSize := pagination(c)
	trades, total, err := h.p2p.ListTrades(c.Request.Context(), accountID(c), c.Query("status"), page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, listResult(trades, total, page, pageSize))
}

// GetTrade 交易详情，仅交易双方可见
// GET /api/v1/p2p/trades/:no
func (h *Handler) GetTrade(c *gin.Context) {
	trade, err := h.p2p.GetTrade(c.Request.Context(), accountID(c), c.Param("no"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, trade)
}

type ConfirmPaymentRequest struct {
	PaymentProof string `json:"payment_proof"`
}

// ConfirmPayment 买家确认已付款
// POST /api/v1/p2p/trades/:no/confirm
func (h *Handler) ConfirmPayment(c *gin.Context) {
	var req ConfirmPaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ParamError(c, "参数错误: "+err.Error())
			return
		}
	}

	trade, err := h.p2p.ConfirmPayment(c.Request.Context(), c.Param("no"), accountID(c), req.PaymentProof)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, trade)
}

// Release 卖家放币
// POST /api/v1/p2p/trades/:no/release
func (h *Handler) Release(c *gin.Context) {
	trade, err := h.p2p.Release(c.Request.Context(), c.Param("no"), accountID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, trade)
}

type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// OpenDispute 发起申诉
// POST /api/v1/p2p/trades/:no/dispute
func (h *Handler) OpenDispute(c *gin.Context) {
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trade, err := h.p2p.OpenDispute(c.Request.Context(), c.Param("no"), accountID(c), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, trade)
}
