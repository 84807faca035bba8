package service

import (
	"testing"
	"time"

	"billsystem/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWebhookPayload(t *testing.T) {
	t.Run("payment_id form", func(t *testing.T) {
		raw := []byte(`{"payment_id":"MP-100","result":{"status":"approved","transactionDatetime":"2026-01-15T10:30:00Z"}}`)
		externalID, status, txTime, err := ParseWebhookPayload(raw)
		require.NoError(t, err)
		assert.Equal(t, "MP-100", externalID)
		assert.Equal(t, "approved", status)
		require.NotNil(t, txTime)
		assert.Equal(t, time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC), txTime.UTC())
	})

	t.Run("order_id carries the same identifier", func(t *testing.T) {
		raw := []byte(`{"order_id":"ORD-7","result":{"status":"refunded"}}`)
		externalID, status, txTime, err := ParseWebhookPayload(raw)
		require.NoError(t, err)
		assert.Equal(t, "ORD-7", externalID)
		assert.Equal(t, "refunded", status)
		assert.Nil(t, txTime)
	})

	t.Run("payment_id wins over order_id", func(t *testing.T) {
		raw := []byte(`{"payment_id":"MP-1","order_id":"ORD-1","result":{"status":"approved"}}`)
		externalID, _, _, err := ParseWebhookPayload(raw)
		require.NoError(t, err)
		assert.Equal(t, "MP-1", externalID)
	})

	t.Run("missing identifier", func(t *testing.T) {
		_, _, _, err := ParseWebhookPayload([]byte(`{"result":{"status":"approved"}}`))
		assert.Error(t, err)
	})

	t.Run("missing status", func(t *testing.T) {
		_, _, _, err := ParseWebhookPayload([]byte(`{"payment_id":"MP-1","result":{}}`))
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, _, _, err := ParseWebhookPayload([]byte(`{not json`))
		assert.Error(t, err)
	})

	t.Run("unparseable datetime does not fail the event", func(t *testing.T) {
		raw := []byte(`{"payment_id":"MP-2","result":{"status":"approved","transactionDatetime":"15/01/2026"}}`)
		_, _, txTime, err := ParseWebhookPayload(raw)
		require.NoError(t, err)
		assert.Nil(t, txTime)
	})
}

func TestMapProviderStatus(t *testing.T) {
	cases := map[string]string{
		"authorized":     model.TxStatusAuthorized,
		"pre_authorized": model.TxStatusAuthorized,
		"approved":       model.TxStatusPaid,
		"paid":           model.TxStatusPaid,
		"accredited":     model.TxStatusPaid,
		"rejected":       model.TxStatusFailed,
		"denied":         model.TxStatusFailed,
		"cancelled":      model.TxStatusFailed,
		"expired":        model.TxStatusFailed,
		"refunded":       model.TxStatusRefunded,
		"charged_back":   model.TxStatusRefunded,
	}
	for providerStatus, want := range cases {
		assert.Equal(t, want, MapProviderStatus(providerStatus), providerStatus)
	}

	t.Run("case and whitespace insensitive", func(t *testing.T) {
		assert.Equal(t, model.TxStatusPaid, MapProviderStatus("  APPROVED "))
		assert.Equal(t, model.TxStatusRefunded, MapProviderStatus("Charged_Back"))
	})

	t.Run("unknown status maps conservatively to failed", func(t *testing.T) {
		assert.Equal(t, model.TxStatusFailed, MapProviderStatus("in_mediation"))
		assert.Equal(t, model.TxStatusFailed, MapProviderStatus(""))
	})
}
