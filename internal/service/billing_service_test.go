package service

import (
	"testing"

	"billsystem/internal/model"
	"billsystem/pkg/cuit"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeNetVAT(t *testing.T) {
	t.Run("standard 21 percent", func(t *testing.T) {
		net, vat := ComputeNetVAT(decimal.RequireFromString("121.00"), decimal.RequireFromString("0.21"))
		assert.True(t, net.Equal(decimal.RequireFromString("100.00")), "net=%s", net)
		assert.True(t, vat.Equal(decimal.RequireFromString("21.00")), "vat=%s", vat)
	})

	t.Run("rounding keeps net plus vat equal to total", func(t *testing.T) {
		total := decimal.RequireFromString("99.99")
		net, vat := ComputeNetVAT(total, decimal.RequireFromString("0.21"))
		assert.True(t, net.Add(vat).Equal(total), "net=%s vat=%s", net, vat)
	})

	t.Run("zero rate", func(t *testing.T) {
		total := decimal.RequireFromString("50.00")
		net, vat := ComputeNetVAT(total, decimal.Zero)
		assert.True(t, net.Equal(total))
		assert.True(t, vat.IsZero())
	})
}

func TestResolveCounterpart(t *testing.T) {
	settings := &model.BillingSettings{
		DefaultFinalConsumer: true,
		FinalConsumerDoc:     "0",
	}

	t.Run("valid cuit", func(t *testing.T) {
		customer, err := ResolveCounterpart("20123456786", settings)
		require.NoError(t, err)
		assert.Equal(t, cuit.DocTypeCUIT, customer.DocType)
		assert.Equal(t, "20123456786", customer.DocNo)
	})

	t.Run("invalid cuit becomes dni", func(t *testing.T) {
		customer, err := ResolveCounterpart("12345678", settings)
		require.NoError(t, err)
		assert.Equal(t, cuit.DocTypeDNI, customer.DocType)
	})

	t.Run("blank doc falls back to final consumer", func(t *testing.T) {
		customer, err := ResolveCounterpart("", settings)
		require.NoError(t, err)
		assert.Equal(t, cuit.DocTypeFinalConsumer, customer.DocType)
		assert.Equal(t, "0", customer.DocNo)
	})

	t.Run("blank doc without fallback is an error", func(t *testing.T) {
		strict := &model.BillingSettings{
			DefaultFinalConsumer: false,
			FinalConsumerDoc:     "0",
		}
		_, err := ResolveCounterpart("", strict)
		assert.Error(t, err)
	})
}

func TestBuildInvoiceRequest(t *testing.T) {
	trans := &model.Transaction{
		ExternalID:  "MP-789",
		Amount:      decimal.RequireFromString("121.00"),
		CustomerDoc: "20123456786",
	}
	settings := &model.BillingSettings{
		CompanyTaxID:   "30500010912",
		PointOfSale:    3,
		InvoiceDocType: 6,
		VATRate:        decimal.RequireFromString("0.21"),
	}

	customer, err := ResolveCounterpart(trans.CustomerDoc, &model.BillingSettings{
		DefaultFinalConsumer: true,
		FinalConsumerDoc:     "0",
	})
	require.NoError(t, err)

	req := BuildInvoiceRequest(trans, settings, customer)

	assert.Equal(t, "30500010912", req.Header.CompanyTaxID)
	assert.Equal(t, 3, req.Header.PointOfSale)
	assert.Equal(t, 6, req.Header.DocType)
	assert.Equal(t, cuit.DocTypeCUIT, req.Customer.DocType)

	require.Len(t, req.Items, 1)
	item := req.Items[0]
	assert.Equal(t, "MP-789", item.Reference)
	assert.True(t, item.NetAmount.Equal(decimal.RequireFromString("100.00")))
	assert.True(t, item.VATAmount.Equal(decimal.RequireFromString("21.00")))
	assert.True(t, item.TotalAmount.Equal(trans.Amount))
}
