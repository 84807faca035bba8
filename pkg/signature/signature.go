package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// ============================================================================
// Webhook 签名校验
// ============================================================================
//
// 【为什么要兼容三种签名格式？】
//
// 不同渠道（甚至同一渠道的不同版本）对 HMAC-SHA256 的表示方式不一致：
//   1. base64 编码
//   2. 小写十六进制
//   3. 带前缀的十六进制：sha256=<hex>
// 三种都试过才能判定失败，避免因为格式问题误杀合法回调。
//
// 【关键点】比较必须是常数时间的（hmac.Equal），
// 逐字节短路比较会泄露时序信息，攻击者可以逐位猜出签名。
//
// ============================================================================

// Verify 用指定密钥校验报文签名
// 任何畸形输入都返回 false，不抛错
func Verify(rawBody []byte, presented, secret string) bool {
	sig := strings.TrimSpace(presented)
	if sig == "" || secret == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	// 格式3：sha256=<value>，去掉前缀后按剩余部分继续判断
	if rest, ok := strings.CutPrefix(sig, "sha256="); ok {
		sig = strings.TrimSpace(rest)
	}

	// 格式1：base64
	if decoded, err := base64.StdEncoding.DecodeString(sig); err == nil {
		if hmac.Equal(decoded, expected) {
			return true
		}
	}

	// 格式2：十六进制（统一转小写再解码）
	if decoded, err := hex.DecodeString(strings.ToLower(sig)); err == nil {
		if hmac.Equal(decoded, expected) {
			return true
		}
	}

	return false
}

// Verifier 绑定密钥与弱校验策略的校验器
type Verifier struct {
	secret         string
	fallbackSecret string // 租户尚未解析时使用的进程级兜底密钥
	allowUnsigned  bool   // 仅供测试/沙箱环境：缺失签名直接放行
}

func NewVerifier(secret, fallbackSecret string, allowUnsigned bool) *Verifier {
	return &Verifier{
		secret:         secret,
		fallbackSecret: fallbackSecret,
		allowUnsigned:  allowUnsigned,
	}
}

// VerifyRequest 校验一次投递
// allowUnsigned 是显式的弱模式，生产环境必须关闭
func (v *Verifier) VerifyRequest(rawBody []byte, presented string) bool {
	if strings.TrimSpace(presented) == "" {
		return v.allowUnsigned
	}
	if v.secret != "" && Verify(rawBody, presented, v.secret) {
		return true
	}
	if v.fallbackSecret != "" && Verify(rawBody, presented, v.fallbackSecret) {
		return true
	}
	return false
}
