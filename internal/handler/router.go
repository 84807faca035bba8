package handler

import (
	"billsystem/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 渠道回调入口（按渠道名区分：mercadopago / stripe / ...）
		api.POST("/webhook/:provider", h.ReceiveWebhook)

		// 交易相关
		transaction := api.Group("/transaction")
		{
			transaction.POST("/create", h.CreateTransaction)
			transaction.GET("/detail", h.GetTransaction)
			transaction.GET("/list", h.ListTransactions)
			transaction.POST("/refund", h.RefundTransaction)
			transaction.POST("/cancel", h.CancelTransaction)
		}

		// 开票相关
		billing := api.Group("/billing")
		{
			billing.POST("/confirm", h.ConfirmBilling)
		}

		// 对账相关
		reconcile := api.Group("/reconcile")
		{
			reconcile.POST("/run", h.RunReconcile)
			reconcile.GET("/logs", h.ListReconcileLogs)
		}

		// 商户配置
		settings := api.Group("/settings")
		{
			settings.PUT("/active", h.SetActiveSettings)
			settings.GET("/active", h.GetActiveSettings)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
