package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 开票渠道客户端
// ============================================================================
//
// 【关键点】对渠道的调用是阻塞 IO，必须带超时。
// 超时/网络错误一律算 ErrProviderUnavailable，由上层记为 ERROR 结果，
// 交给对账任务重试 —— 绝不能留下"不知道开没开出来"的模糊态。
//
// ============================================================================

// InvoiceHeader 票头
type InvoiceHeader struct {
	CompanyTaxID string `json:"company_tax_id"`
	PointOfSale  int    `json:"point_of_sale"`
	DocType      int    `json:"doc_type"`
}

// InvoiceCustomer 对手方
type InvoiceCustomer struct {
	DocType int    `json:"doc_type"` // 80 CUIT / 96 DNI / 99 最终消费者
	DocNo   string `json:"doc_no"`
	Name    string `json:"name,omitempty"`
}

// InvoiceLineItem 票面行项目
type InvoiceLineItem struct {
	Description string          `json:"description"`
	Reference   string          `json:"reference"` // 交易的渠道支付ID，用于对账回溯
	NetAmount   decimal.Decimal `json:"net_amount"`
	VATAmount   decimal.Decimal `json:"vat_amount"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// InvoiceRequest 开票请求（发票与贷记单同构）
type InvoiceRequest struct {
	Header   InvoiceHeader     `json:"header"`
	Customer InvoiceCustomer   `json:"customer"`
	Items    []InvoiceLineItem `json:"items"`
}

// InvoiceResult 渠道返回
// Success=false 表示业务层拒绝（报文合法但渠道不受理），不是传输错误
type InvoiceResult struct {
	Success  bool     `json:"success"`
	CAE      string   `json:"cae"`
	Number   string   `json:"number"`
	PDFURL   string   `json:"pdf_url"`
	Messages []string `json:"messages"`
}

// InvoicingClient 开票渠道接口，便于测试替换
type InvoicingClient interface {
	SubmitInvoice(ctx context.Context, req *InvoiceRequest) (*InvoiceResult, error)
	SubmitCreditNote(ctx context.Context, req *InvoiceRequest) (*InvoiceResult, error)
}

// HTTPInvoicingClient 真实 HTTP 实现
type HTTPInvoicingClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPInvoicingClient(baseURL, apiKey string, timeout time.Duration) *HTTPInvoicingClient {
	return &HTTPInvoicingClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPInvoicingClient) SubmitInvoice(ctx context.Context, req *InvoiceRequest) (*InvoiceResult, error) {
	return c.submit(ctx, "/api/v1/invoices", req)
}

func (c *HTTPInvoicingClient) SubmitCreditNote(ctx context.Context, req *InvoiceRequest) (*InvoiceResult, error) {
	return c.submit(ctx, "/api/v1/credit-notes", req)
}

func (c *HTTPInvoicingClient) submit(ctx context.Context, path string, req *InvoiceRequest) (*InvoiceResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("序列化开票请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("构造开票请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// 超时也走这个分支，统一当渠道不可用处理
		return nil, fmt.Errorf("开票渠道不可用: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取开票响应失败: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("开票渠道异常: status=%d", resp.StatusCode)
	}

	var result InvoiceResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("解析开票响应失败: %w", err)
	}
	return &result, nil
}
