package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() *InvoiceRequest {
	return &InvoiceRequest{
		Header: InvoiceHeader{
			CompanyTaxID: "30500010912",
			PointOfSale:  3,
			DocType:      6,
		},
		Customer: InvoiceCustomer{DocType: 80, DocNo: "20123456786"},
		Items: []InvoiceLineItem{
			{
				Description: "交易 MP-1",
				Reference:   "MP-1",
				NetAmount:   decimal.RequireFromString("100.00"),
				VATAmount:   decimal.RequireFromString("21.00"),
				TotalAmount: decimal.RequireFromString("121.00"),
			},
		},
	}
}

func TestHTTPInvoicingClientSubmitInvoice(t *testing.T) {
	t.Run("success response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/invoices", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var req InvoiceRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "MP-1", req.Items[0].Reference)

			json.NewEncoder(w).Encode(InvoiceResult{
				Success: true,
				CAE:     "71234567890123",
				Number:  "0003-00001234",
				PDFURL:  "https://cdn.example.com/inv.pdf",
			})
		}))
		defer server.Close()

		client := NewHTTPInvoicingClient(server.URL, "test-key", 5*time.Second)
		result, err := client.SubmitInvoice(context.Background(), sampleRequest())
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, "71234567890123", result.CAE)
		assert.Equal(t, "0003-00001234", result.Number)
	})

	t.Run("business rejection is not a transport error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(InvoiceResult{
				Success:  false,
				Messages: []string{"CUIT 无效"},
			})
		}))
		defer server.Close()

		client := NewHTTPInvoicingClient(server.URL, "test-key", 5*time.Second)
		result, err := client.SubmitInvoice(context.Background(), sampleRequest())
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, []string{"CUIT 无效"}, result.Messages)
	})

	t.Run("server error is a transport error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := NewHTTPInvoicingClient(server.URL, "test-key", 5*time.Second)
		result, err := client.SubmitInvoice(context.Background(), sampleRequest())
		assert.Error(t, err)
		assert.Nil(t, result)
	})

	t.Run("timeout is a transport error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
			json.NewEncoder(w).Encode(InvoiceResult{Success: true})
		}))
		defer server.Close()

		client := NewHTTPInvoicingClient(server.URL, "test-key", 50*time.Millisecond)
		result, err := client.SubmitInvoice(context.Background(), sampleRequest())
		assert.Error(t, err)
		assert.Nil(t, result)
	})
}

func TestHTTPInvoicingClientSubmitCreditNote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/credit-notes", r.URL.Path)
		json.NewEncoder(w).Encode(InvoiceResult{
			Success: true,
			Number:  "0003-00000099",
			CAE:     "71234567890999",
		})
	}))
	defer server.Close()

	client := NewHTTPInvoicingClient(server.URL, "test-key", 5*time.Second)
	result, err := client.SubmitCreditNote(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "0003-00000099", result.Number)
}
