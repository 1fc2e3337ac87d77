package handler

import (
	"strconv"

	"coinledger/internal/infrastructure/cache"
	"coinledger/internal/model"
	"coinledger/internal/repository"
	"coinledger/internal/service"
	"coinledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func init() {
	// 请求体中出现未知字段直接拒绝
	binding.EnableDecoderDisallowUnknownFields = true
}

// Deps 处理器依赖的服务
type Deps struct {
	Ledger       *service.LedgerService
	Transactions *service.TransactionService
	Wallet       *service.WalletService
	Trade        *service.TradeService
	Mining       *service.MiningService
	P2P          *service.P2PService
	Prices       *cache.PriceCache
	Logger       zerolog.Logger
}

// Handler 统一处理器
type Handler struct {
	ledger       *service.LedgerService
	transactions *service.TransactionService
	wallet       *service.WalletService
	trade        *service.TradeService
	mining       *service.MiningService
	p2p          *service.P2PService
	prices       *cache.PriceCache
	logger       zerolog.Logger
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		ledger:       deps.Ledger,
		transactions: deps.Transactions,
		wallet:       deps.Wallet,
		trade:        deps.Trade,
		mining:       deps.Mining,
		p2p:          deps.P2P,
		prices:       deps.Prices,
		logger:       deps.Logger,
	}
}

// fail 业务错误按错误码返回，内部错误只记录日志
func (h *Handler) fail(c *gin.Context, err error) {
	code, _ := response.Classify(err)
	if code == response.CodeServerError {
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("请求处理失败")
	}
	response.FromError(c, err)
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

func listResult(list interface{}, total int64, page, pageSize int) gin.H {
	return gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	}
}

// ============================================================
// 余额与流水
// ============================================================

// GetBalance 查询单个币种余额
// GET /api/v1/balances/:currency
func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.ledger.GetBalance(c.Request.Context(), accountID(c), c.Param("currency"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, balance)
}

// ListBalances 查询全部币种余额
// GET /api/v1/balances
func (h *Handler) ListBalances(c *gin.Context) {
	balances, err := h.ledger.ListBalances(c.Request.Context(), accountID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, balances)
}

// ListTransactions 账户流水，最新的在前
// GET /api/v1/transactions?kind=&status=&currency=&page=&page_size=
func (h *Handler) ListTransactions(c *gin.Context) {
	page, pageSize := pagination(c)
	filter := repository.TransactionFilter{
		AccountID: accountID(c),
		Kind:      c.Query("kind"),
		Status:    c.Query("status"),
		Currency:  c.Query("currency"),
	}

	list, total, err := h.transactions.List(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, listResult(list, total, page, pageSize))
}

// GetTransaction 流水详情
// GET /api/v1/transactions/:no
func (h *Handler) GetTransaction(c *gin.Context) {
	trans, err := h.transactions.Get(c.Request.Context(), c.Param("no"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if trans.AccountID != accountID(c) {
		h.fail(c, model.ErrTransactionNotFound)
		return
	}
	response.Success(c, trans)
}

// ============================================================
// 钱包
// ============================================================

type DepositRequest struct {
	Currency string          `json:"currency" binding:"required"`
	Amount   decimal.Decimal `json:"amount"`
	Address  string          `json:"address"`
	TxHash   string          `json:"tx_hash"`
	Network  string          `json:"network"`
}

// Deposit 提交充值申请
// POST /api/v1/wallet/deposit
func (h *Handler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.wallet.RequestDeposit(c.Request.Context(), &service.DepositRequest{
		AccountID: accountID(c),
		Currency:  req.Currency,
		Amount:    req.Amount,
		Address:   req.Address,
		TxHash:    req.TxHash,
		Network:   req.Network,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, trans)
}

type WithdrawRequest struct {
	Currency string          `json:"currency" binding:"required"`
	Amount   decimal.Decimal `json:"amount"`
	Address  string          `json:"address" binding:"required"`
	Network  string          `json:"network"`
}

// Withdraw 提交提现申请，金额与手续费先冻结
// POST /api/v1/wallet/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.wallet.RequestWithdrawal(c.Request.Context(), &service.WithdrawalRequest{
		AccountID: accountID(c),
		Currency:  req.Currency,
		Amount:    req.Amount,
		Address:   req.Address,
		Network:   req.Network,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, trans)
}

type TransferRequest struct {
	ToAccountID string          `json:"to_account_id" binding:"required"`
	Currency    string          `json:"currency" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Memo        string          `json:"memo"`
}

// Transfer 内部转账
// POST /api/v1/wallet/transfer
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.wallet.Transfer(c.Request.Context(), &service.TransferRequest{
		FromAccountID: accountID(c),
		ToAccountID:   req.ToAccountID,
		Currency:      req.Currency,
		Amount:        req.Amount,
		Memo:          req.Memo,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, trans)
}

// ============================================================
// 挖矿
// ============================================================

// ListPlans 可投资的矿机计划
// GET /api/v1/mining/plans
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.mining.ListPlans(c.Request.Context(), true)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, plans)
}

type InvestRequest struct {
	PlanID int64           `json:"plan_id" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

// Invest 投资矿机
// POST /api/v1/mining/invest
func (h *Handler) Invest(c *gin.Context) {
	var req InvestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	investment, err := h.mining.Invest(c.Request.Context(), accountID(c), req.PlanID, req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, investment)
}

// Claim 领取挖矿收益
// POST /api/v1/mining/investments/:no/claim
func (h *Handler) Claim(c *gin.Context) {
	result, err := h.mining.Claim(c.Request.Context(), accountID(c), c.Param("no"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// ListInvestments 我的挖矿投资
// GET /api/v1/mining/investments
func (h *Handler) ListInvestments(c *gin.Context) {
	investments, err := h.mining.ListInvestments(c.Request.Context(), accountID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, investments)
}

// Earnings 挖矿收益汇总
// GET /api/v1/mining/earnings
func (h *Handler) Earnings(c *gin.Context) {
	earnings, err := h.mining.Earnings(c.Request.Context(), accountID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, earnings)
}
