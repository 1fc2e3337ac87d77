package handler

import (
	"coinledger/internal/infrastructure/metrics"
	"coinledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, registry *prometheus.Registry, m *metrics.Metrics, metricsPath string, logger zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())
	r.Use(MetricsMiddleware(m))

	r.GET("/health", func(c *gin.Context) {
		response.Success(c, gin.H{"status": "ok"})
	})
	if registry != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.GET(metricsPath, gin.WrapH(metrics.Handler(registry)))
	}

	api := r.Group("/api/v1")

	user := api.Group("")
	user.Use(AccountMiddleware())
	{
		user.GET("/balances", h.ListBalances)
		user.GET("/balances/:currency", h.GetBalance)

		user.GET("/transactions", h.ListTransactions)
		user.GET("/transactions/:no", h.GetTransaction)

		wallet := user.Group("/wallet")
		{
			wallet.POST("/deposit", h.Deposit)
			wallet.POST("/withdraw", h.Withdraw)
			wallet.POST("/transfer", h.Transfer)
		}

		trading := user.Group("/trading")
		{
			trading.POST("/orders", h.PlaceOrder)
			trading.GET("/orders", h.ListOrders)
			trading.GET("/orders/:no", h.GetOrder)
			trading.POST("/orders/:no/cancel", h.CancelOrder)
		}

		mining := user.Group("/mining")
		{
			mining.GET("/plans", h.ListPlans)
			mining.POST("/invest", h.Invest)
			mining.GET("/investments", h.ListInvestments)
			mining.POST("/investments/:no/claim", h.Claim)
			mining.GET("/earnings", h.Earnings)
		}

		p2p := user.Group("/p2p")
		{
			p2p.GET("/offers", h.ListOffers)
			p2p.POST("/offers", h.CreateOffer)
			p2p.POST("/offers/:no/cancel", h.CancelOffer)
			p2p.POST("/trades", h.CreateTrade)
			p2p.GET("/trades", h.ListTrades)
			p2p.GET("/trades/:no", h.GetTrade)
			p2p.POST("/trades/:no/confirm", h.ConfirmPayment)
			p2p.POST("/trades/:no/release", h.Release)
			p2p.POST("/trades/:no/dispute", h.OpenDispute)
		}
	}

	admin := api.Group("/admin")
	admin.Use(AdminMiddleware())
	{
		admin.POST("/deposits/:no/approve", h.ApproveDeposit)
		admin.POST("/deposits/:no/reject", h.RejectDeposit)
		admin.POST("/withdrawals/:no/approve", h.ApproveWithdrawal)
		admin.POST("/withdrawals/:no/reject", h.RejectWithdrawal)
		admin.POST("/transactions/:no/status", h.TransitionTransaction)
		admin.POST("/ledger/adjust", h.AdjustBalance)
		admin.POST("/orders/:no/fill", h.FillOrder)
		admin.POST("/prices", h.SetPrice)
		admin.POST("/mining/plans", h.CreatePlan)
		admin.POST("/mining/plans/:id/status", h.UpdatePlanStatus)
		admin.POST("/p2p/trades/:no/resolve", h.ResolveDispute)
	}

	return r
}
