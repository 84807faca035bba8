package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

func TestVerify(t *testing.T) {
	body := []byte(`{"payment_id":"MP-123","result":{"status":"approved"}}`)
	secret := "tenant-secret-1"
	raw := sign(body, secret)

	t.Run("base64 encoding", func(t *testing.T) {
		assert.True(t, Verify(body, base64.StdEncoding.EncodeToString(raw), secret))
	})

	t.Run("lowercase hex encoding", func(t *testing.T) {
		assert.True(t, Verify(body, hex.EncodeToString(raw), secret))
	})

	t.Run("uppercase hex encoding", func(t *testing.T) {
		// 部分渠道会送大写十六进制，统一转小写后比较
		hexSig := hex.EncodeToString(raw)
		upper := ""
		for _, c := range hexSig {
			if c >= 'a' && c <= 'f' {
				upper += string(c - 32)
			} else {
				upper += string(c)
			}
		}
		assert.True(t, Verify(body, upper, secret))
	})

	t.Run("sha256= prefixed hex", func(t *testing.T) {
		assert.True(t, Verify(body, "sha256="+hex.EncodeToString(raw), secret))
	})

	t.Run("surrounding whitespace tolerated", func(t *testing.T) {
		assert.True(t, Verify(body, "  "+hex.EncodeToString(raw)+"  ", secret))
	})

	t.Run("single byte change in body fails", func(t *testing.T) {
		mutated := append([]byte{}, body...)
		mutated[0] ^= 0x01
		assert.False(t, Verify(mutated, hex.EncodeToString(raw), secret))
	})

	t.Run("wrong secret fails", func(t *testing.T) {
		assert.False(t, Verify(body, hex.EncodeToString(raw), "other-secret"))
	})

	t.Run("malformed signature fails without panic", func(t *testing.T) {
		assert.False(t, Verify(body, "not-base64-not-hex-!!!", secret))
		assert.False(t, Verify(body, "sha256=", secret))
		assert.False(t, Verify(body, "", secret))
	})

	t.Run("empty secret never verifies", func(t *testing.T) {
		assert.False(t, Verify(body, hex.EncodeToString(raw), ""))
	})
}

func TestVerifierVerifyRequest(t *testing.T) {
	body := []byte(`{"payment_id":"MP-456"}`)
	tenantSecret := "tenant-secret"
	fallbackSecret := "process-fallback"

	t.Run("tenant secret accepted", func(t *testing.T) {
		v := NewVerifier(tenantSecret, fallbackSecret, false)
		sig := hex.EncodeToString(sign(body, tenantSecret))
		assert.True(t, v.VerifyRequest(body, sig))
	})

	t.Run("fallback secret accepted when tenant secret mismatches", func(t *testing.T) {
		v := NewVerifier(tenantSecret, fallbackSecret, false)
		sig := hex.EncodeToString(sign(body, fallbackSecret))
		assert.True(t, v.VerifyRequest(body, sig))
	})

	t.Run("missing signature rejected in strict mode", func(t *testing.T) {
		v := NewVerifier(tenantSecret, fallbackSecret, false)
		assert.False(t, v.VerifyRequest(body, ""))
		assert.False(t, v.VerifyRequest(body, "   "))
	})

	t.Run("missing signature allowed only in unsigned mode", func(t *testing.T) {
		v := NewVerifier(tenantSecret, "", true)
		assert.True(t, v.VerifyRequest(body, ""))

		// 弱模式只放行"缺失"，不放行"错误"
		assert.False(t, v.VerifyRequest(body, "deadbeef"))
	})

	t.Run("no secret configured rejects signed request", func(t *testing.T) {
		v := NewVerifier("", "", false)
		sig := hex.EncodeToString(sign(body, tenantSecret))
		assert.False(t, v.VerifyRequest(body, sig))
	})
}
