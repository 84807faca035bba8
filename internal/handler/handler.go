package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"billsystem/internal/config"
	"billsystem/internal/model"
	"billsystem/internal/provider"
	"billsystem/internal/repository"
	"billsystem/internal/service"
	"billsystem/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	tenantService      *service.TenantService
	webhookService     *service.WebhookService
	billingService     *service.BillingService
	reconcileService   *service.ReconcileService
	transactionService *service.TransactionService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	invoicingClient := provider.NewHTTPInvoicingClient(
		cfg.Invoicing.BaseURL,
		cfg.Invoicing.APIKey,
		time.Duration(cfg.Invoicing.TimeoutSeconds)*time.Second,
	)
	paymentClient := provider.NewHTTPPaymentClient(
		cfg.Payment.BaseURL,
		cfg.Payment.APIKey,
		time.Duration(cfg.Payment.TimeoutSeconds)*time.Second,
	)

	billingService := service.NewBillingService(db, rdb, cfg, invoicingClient)
	webhookService := service.NewWebhookService(db, cfg, billingService)

	return &Handler{
		tenantService:      service.NewTenantService(db, cfg),
		webhookService:     webhookService,
		billingService:     billingService,
		reconcileService:   service.NewReconcileService(db, cfg, billingService, webhookService),
		transactionService: service.NewTransactionService(db, cfg, paymentClient),
	}
}

// ============================================================
// 回调接入
// ============================================================

// ReceiveWebhook 接收渠道回调
// POST /api/v1/webhook/:provider
//
// 【应答规则】只有"路由不到商户"和"本地无对应交易"回非 2xx
// （触发渠道重投）；签名失败回 401；其余结果一律 200 ——
// 事件已留痕，再让渠道重投只会造成重投风暴
func (h *Handler) ReceiveWebhook(c *gin.Context) {
	providerName := c.Param("provider")

	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil || len(rawBody) == 0 {
		response.ParamError(c, "读取回调报文失败")
		return
	}

	signatureHeader := c.GetHeader("X-Signature")
	tenantHeader := c.GetHeader("X-Tenant-ID")

	settings, err := h.tenantService.ResolveTenant(c.Request.Context(), rawBody, signatureHeader, tenantHeader)
	if err != nil {
		if errors.Is(err, service.ErrUnresolvedTenant) {
			response.ErrorWithStatus(c, http.StatusNotFound, response.CodeUnresolvedTenant, "无法路由到商户")
			return
		}
		response.ErrorWithStatus(c, http.StatusInternalServerError, response.CodeServerError, err.Error())
		return
	}

	if !h.tenantService.VerifySignature(settings, rawBody, signatureHeader) {
		response.ErrorWithStatus(c, http.StatusUnauthorized, response.CodeInvalidSignature, "签名校验失败")
		return
	}

	result, err := h.webhookService.Ingest(c.Request.Context(), settings, providerName, rawBody)
	if err != nil {
		if errors.Is(err, service.ErrOrphanEvent) {
			// 本地还没有这笔交易，让渠道稍后重投
			response.ErrorWithStatus(c, http.StatusNotFound, response.CodeTransactionNotFound, "本地无对应交易")
			return
		}
		response.ErrorWithStatus(c, http.StatusInternalServerError, response.CodeServerError, err.Error())
		return
	}

	response.Success(c, result)
}

// ============================================================
// 交易相关接口
// ============================================================

// CreateTransactionRequest 创建交易请求
type CreateTransactionRequest struct {
	TenantID    int64  `json:"tenant_id" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	Currency    string `json:"currency"`
	CustomerDoc string `json:"customer_doc"`
}

// CreateTransaction 显式创建交易（同时创建渠道支付意向）
// POST /api/v1/transaction/create
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		response.ParamError(c, "amount 格式错误")
		return
	}

	trans, err := h.transactionService.CreateTransaction(c.Request.Context(), &service.CreateTransactionRequest{
		TenantID:    req.TenantID,
		Amount:      amount,
		Currency:    req.Currency,
		CustomerDoc: req.CustomerDoc,
	})
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, trans)
}

// GetTransaction 查询交易详情
// GET /api/v1/transaction/detail?external_id=xxx
func (h *Handler) GetTransaction(c *gin.Context) {
	externalID := c.Query("external_id")
	if externalID == "" {
		response.ParamError(c, "external_id 参数不能为空")
		return
	}

	trans, err := h.transactionService.GetTransaction(c.Request.Context(), externalID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			response.Error(c, response.CodeTransactionNotFound, "交易不存在")
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, trans)
}

// ListTransactions 查询商户交易列表
// GET /api/v1/transaction/list?tenant_id=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	tenantID, err := strconv.ParseInt(c.Query("tenant_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "tenant_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	list, total, err := h.transactionService.ListTransactions(c.Request.Context(), tenantID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// RefundTransaction 发起退款
// POST /api/v1/transaction/refund
func (h *Handler) RefundTransaction(c *gin.Context) {
	var req struct {
		ExternalID string `json:"external_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.transactionService.RequestRefund(c.Request.Context(), req.ExternalID); err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"message": "退款请求已提交，等待渠道回调确认",
	})
}

// CancelTransaction 取消未支付交易
// POST /api/v1/transaction/cancel
func (h *Handler) CancelTransaction(c *gin.Context) {
	var req struct {
		ExternalID string `json:"external_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.transactionService.CancelTransaction(c.Request.Context(), req.ExternalID); err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"message": "交易已取消",
	})
}

// ============================================================
// 开票相关接口
// ============================================================

// ConfirmBilling 人工确认开票
// POST /api/v1/billing/confirm
func (h *Handler) ConfirmBilling(c *gin.Context) {
	var req struct {
		ExternalID string `json:"external_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	outcome, err := h.billingService.ConfirmBilling(c.Request.Context(), req.ExternalID)
	if err != nil {
		response.Error(c, response.CodeBillingFailed, err.Error())
		return
	}

	response.Success(c, outcome)
}

// ============================================================
// 对账相关接口
// ============================================================

// RunReconcile 手动触发对账
// POST /api/v1/reconcile/run
func (h *Handler) RunReconcile(c *gin.Context) {
	var req struct {
		TenantID int64  `json:"tenant_id" binding:"required"`
		Start    string `json:"start" binding:"required"` // RFC3339
		End      string `json:"end" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		response.ParamError(c, "start 时间格式错误")
		return
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		response.ParamError(c, "end 时间格式错误")
		return
	}
	if !end.After(start) {
		response.ParamError(c, "end 必须晚于 start")
		return
	}

	result, err := h.reconcileService.Reconcile(c.Request.Context(), req.TenantID, start, end)
	if err != nil {
		response.Error(c, response.CodeReconcileFailed, err.Error())
		return
	}

	response.Success(c, result)
}

// ListReconcileLogs 查询对账历史
// GET /api/v1/reconcile/logs?tenant_id=xxx&page=1&page_size=10
func (h *Handler) ListReconcileLogs(c *gin.Context) {
	tenantID, err := strconv.ParseInt(c.Query("tenant_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "tenant_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	list, total, err := h.reconcileService.ListLogs(c.Request.Context(), tenantID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 商户配置接口
// ============================================================

// SetSettingsRequest 激活商户配置请求
type SetSettingsRequest struct {
	TenantID             int64  `json:"tenant_id" binding:"required"`
	CompanyTaxID         string `json:"company_tax_id" binding:"required"`
	CompanyLegalName     string `json:"company_legal_name" binding:"required"`
	PointOfSale          int    `json:"point_of_sale" binding:"required"`
	InvoiceDocType       int    `json:"invoice_doc_type" binding:"required"`
	VATRate              string `json:"vat_rate" binding:"required"`
	BillOnlyWhenPaid     bool   `json:"bill_only_when_paid"`
	RequireConfirmation  bool   `json:"require_confirmation"`
	DefaultFinalConsumer bool   `json:"default_final_consumer"`
	FinalConsumerDoc     string `json:"final_consumer_doc"`
	CreditNoteStrategy   string `json:"credit_note_strategy"`
	WebhookSecret        string `json:"webhook_secret" binding:"required"`
}

// SetActiveSettings 激活新开票配置（原子替换旧配置）
// PUT /api/v1/settings/active
func (h *Handler) SetActiveSettings(c *gin.Context) {
	var req SetSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	vatRate, err := decimal.NewFromString(req.VATRate)
	if err != nil {
		response.ParamError(c, "vat_rate 格式错误")
		return
	}

	strategy := req.CreditNoteStrategy
	if strategy == "" {
		strategy = model.CreditNoteStrategyAutomatic
	}
	finalConsumerDoc := req.FinalConsumerDoc
	if finalConsumerDoc == "" {
		finalConsumerDoc = "0"
	}

	settings := &model.BillingSettings{
		TenantID:             req.TenantID,
		CompanyTaxID:         req.CompanyTaxID,
		CompanyLegalName:     req.CompanyLegalName,
		PointOfSale:          req.PointOfSale,
		InvoiceDocType:       req.InvoiceDocType,
		VATRate:              vatRate,
		BillOnlyWhenPaid:     req.BillOnlyWhenPaid,
		RequireConfirmation:  req.RequireConfirmation,
		DefaultFinalConsumer: req.DefaultFinalConsumer,
		FinalConsumerDoc:     finalConsumerDoc,
		CreditNoteStrategy:   strategy,
		WebhookSecret:        req.WebhookSecret,
	}

	if err := h.tenantService.SetActiveSettings(c.Request.Context(), settings); err != nil {
		response.Error(c, response.CodeSettingsInvalid, err.Error())
		return
	}

	response.Success(c, settings)
}

// GetActiveSettings 查询商户当前激活配置
// GET /api/v1/settings/active?tenant_id=xxx
func (h *Handler) GetActiveSettings(c *gin.Context) {
	tenantID, err := strconv.ParseInt(c.Query("tenant_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "tenant_id 参数错误")
		return
	}

	settings, err := h.tenantService.GetActiveSettings(c.Request.Context(), tenantID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	if settings == nil {
		response.Error(c, response.CodeSettingsInvalid, "商户配置不存在")
		return
	}

	response.Success(c, settings)
}
