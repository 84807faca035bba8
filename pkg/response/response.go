package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeNotFound     = 404
	CodeServerError  = 500
)

// 业务错误码
const (
	CodeUnresolvedTenant    = 1001 // 无法路由到商户
	CodeTransactionNotFound = 1002 // 本地无对应交易（孤儿事件）
	CodeInvalidSignature    = 1003 // 签名校验失败
	CodeBillingFailed       = 1004 // 开票失败
	CodeReconcileFailed     = 1005 // 对账执行失败
	CodeSettingsInvalid     = 1006 // 商户配置不合法
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

// Error 业务失败但仍返回 200，渠道回调以 HTTP 状态码判断是否重投
func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

// ErrorWithStatus 需要明确 HTTP 状态码的场景（回调拒收时触发渠道重投）
func ErrorWithStatus(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}
