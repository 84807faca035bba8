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

// PaymentIntentRequest 创建支付意向
type PaymentIntentRequest struct {
	Reference string          `json:"reference"` // 本地交易参考号
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

// PaymentIntentResult 渠道返回的支付意向
// ID 即后续 webhook 里的支付标识，本地交易以它做唯一键
type PaymentIntentResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// PaymentClient 支付渠道出站接口
type PaymentClient interface {
	CreateIntent(ctx context.Context, req *PaymentIntentRequest) (*PaymentIntentResult, error)
	CancelIntent(ctx context.Context, externalID string) (*PaymentIntentResult, error)
	RefundIntent(ctx context.Context, externalID string) (*PaymentIntentResult, error)
}

// HTTPPaymentClient 真实 HTTP 实现
type HTTPPaymentClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPPaymentClient(baseURL, apiKey string, timeout time.Duration) *HTTPPaymentClient {
	return &HTTPPaymentClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPPaymentClient) CreateIntent(ctx context.Context, req *PaymentIntentRequest) (*PaymentIntentResult, error) {
	return c.post(ctx, "/api/v1/payment-intents", req)
}

func (c *HTTPPaymentClient) CancelIntent(ctx context.Context, externalID string) (*PaymentIntentResult, error) {
	return c.post(ctx, fmt.Sprintf("/api/v1/payment-intents/%s/cancel", externalID), nil)
}

func (c *HTTPPaymentClient) RefundIntent(ctx context.Context, externalID string) (*PaymentIntentResult, error) {
	return c.post(ctx, fmt.Sprintf("/api/v1/payment-intents/%s/refund", externalID), nil)
}

func (c *HTTPPaymentClient) post(ctx context.Context, path string, payload interface{}) (*PaymentIntentResult, error) {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("序列化支付请求失败: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("构造支付请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("支付渠道不可用: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取支付响应失败: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("支付渠道拒绝: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var result PaymentIntentResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("解析支付响应失败: %w", err)
	}
	return &result, nil
}
