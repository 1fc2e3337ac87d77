package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"coinledger/internal/infrastructure/metrics"
	"coinledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	HeaderAccountID = "X-Account-ID"
	HeaderAdminID   = "X-Admin-ID"
	HeaderRequestID = "X-Request-ID"

	ctxAccountID = "account_id"
	ctxAdminID   = "admin_id"
)

// LoggerMiddleware 访问日志
func LoggerMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(HeaderRequestID, requestID)

		c.Next()

		if query != "" {
			path = path + "?" + query
		}

		logger.Info().
			Str("request_id", requestID).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", path).
			Msg("http")
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error().Interface("panic", err).Str("path", c.Request.URL.Path).Msg("PANIC")
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
					Code:    response.CodeServerError,
					Message: "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, X-Request-ID, X-Account-ID, X-Admin-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// MetricsMiddleware 请求计数与耗时，path 使用路由模板避免标签爆炸
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.ObserveRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// AccountMiddleware 从 X-Account-ID 读取调用方账户（由网关完成认证）
func AccountMiddleware() gin.HandlerFunc {
	return identityMiddleware(HeaderAccountID, ctxAccountID)
}

// AdminMiddleware 管理端接口从 X-Admin-ID 读取操作人
func AdminMiddleware() gin.HandlerFunc {
	return identityMiddleware(HeaderAdminID, ctxAdminID)
}

func identityMiddleware(header, key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(header))
		if id == "" {
			response.Unauthorized(c, "缺少 "+header)
			return
		}
		c.Set(key, id)
		c.Next()
	}
}

func accountID(c *gin.Context) string {
	return c.GetString(ctxAccountID)
}

func adminID(c *gin.Context) string {
	return c.GetString(ctxAdminID)
}
