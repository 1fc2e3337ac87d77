package response

import (
	"errors"
	"net/http"

	"coinledger/internal/model"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// 业务错误码
const (
	CodeInsufficientBalance = 1001
	CodeInsufficientLocked  = 1002
	CodeInvalidAmount       = 1003
	CodeInvalidState        = 1004
	CodeInvalidRange        = 1005
	CodeInvalidTransition   = 1006
	CodeNothingToClaim      = 1007
	CodeConcurrentUpdate    = 1008
	CodePriceUnavailable    = 1009
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func Unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
		Code:    CodeUnauthorized,
		Message: message,
	})
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}

// FromError 把业务错误映射为错误码，未识别的错误统一返回服务器内部错误，不透出细节
func FromError(c *gin.Context, err error) {
	code, message := Classify(err)
	Error(c, code, message)
}

// Classify 返回错误对应的错误码和对外提示
//
// ErrInsufficientLocked 包裹了 ErrInsufficientBalance，必须先判断
func Classify(err error) (int, string) {
	switch {
	case err == nil:
		return CodeSuccess, "success"
	case errors.Is(err, model.ErrInsufficientLocked):
		return CodeInsufficientLocked, "冻结余额不足"
	case errors.Is(err, model.ErrInsufficientBalance):
		return CodeInsufficientBalance, "余额不足"
	case errors.Is(err, model.ErrInvalidAmount):
		return CodeInvalidAmount, "金额不合法"
	case errors.Is(err, model.ErrInvalidRange):
		return CodeInvalidRange, "金额超出允许范围"
	case errors.Is(err, model.ErrInvalidTransition):
		return CodeInvalidTransition, "状态不允许变更"
	case errors.Is(err, model.ErrInvalidState):
		return CodeInvalidState, "当前状态不允许该操作"
	case errors.Is(err, model.ErrNothingToClaim):
		return CodeNothingToClaim, "暂无可领取收益"
	case errors.Is(err, model.ErrOptimisticLock):
		return CodeConcurrentUpdate, "并发更新冲突，请重试"
	case errors.Is(err, model.ErrPriceUnavailable):
		return CodePriceUnavailable, "行情价格不可用"
	case errors.Is(err, model.ErrForbidden):
		return CodeForbidden, "无权操作"
	case errors.Is(err, model.ErrNotFound):
		return CodeNotFound, err.Error()
	case errors.Is(err, model.ErrInvalidParam):
		return CodeParamError, err.Error()
	default:
		return CodeServerError, "服务器内部错误"
	}
}
