// Package webhook 校验推送通知的签名头：t=<timestamp>,v0=<hex(hmac_sha256(secret, "<timestamp>." + body))>
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const signatureVersion = "v0"

var (
	// ErrMissingSignature 表示配置了密钥但请求未携带签名头。
	ErrMissingSignature = errors.New("missing webhook signature")
	// ErrMalformedSignature 表示签名头格式不符合 t=<digits>,v0=<hex>。
	ErrMalformedSignature = errors.New("malformed webhook signature")
	// ErrSignatureMismatch 表示签名与重新计算的结果不一致。
	ErrSignatureMismatch = errors.New("webhook signature mismatch")
	// ErrTimestampOutOfRange 表示签名时间超出允许的时间窗口。
	ErrTimestampOutOfRange = errors.New("webhook timestamp outside tolerance")
)

// Verifier 校验签名。secret 为空时处于“未校验”模式，所有请求直接放行。
// tolerance 大于 0 时结果还取决于当前时间；用固定的时间戳与请求体校验时应传入 0。
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier 创建校验器。tolerance 为 0 表示不检查时间窗口。
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Enabled 报告是否配置了密钥。
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify 校验原始请求体与签名头。
func (v *Verifier) Verify(body []byte, header string) error {
	if !v.Enabled() {
		return nil
	}
	if strings.TrimSpace(header) == "" {
		return ErrMissingSignature
	}
	tsRaw, ts, sig, err := parseHeader(header)
	if err != nil {
		return err
	}
	if v.tolerance > 0 {
		signedAt := time.Unix(ts, 0)
		if d := v.now().Sub(signedAt); d > v.tolerance || d < -v.tolerance {
			return ErrTimestampOutOfRange
		}
	}
	// 按签名头中的原始时间戳文本计算，前导零也参与签名
	expected := computeMAC(v.secret, tsRaw, body)
	if !hmac.Equal(expected, sig) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign 生成与 Verify 对应的签名头，供发送方与测试使用。
func Sign(secret string, ts time.Time, body []byte) string {
	mac := computeMAC([]byte(secret), strconv.FormatInt(ts.Unix(), 10), body)
	return fmt.Sprintf("t=%d,%s=%s", ts.Unix(), signatureVersion, hex.EncodeToString(mac))
}

func computeMAC(secret []byte, ts string, body []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(body)
	return h.Sum(nil)
}

// parseHeader 只接受恰好两段、顺序固定的头；多余字段、乱序或其他版本都视为格式错误。
func parseHeader(header string) (string, int64, []byte, error) {
	parts := strings.Split(header, ",")
	if len(parts) != 2 {
		return "", 0, nil, ErrMalformedSignature
	}
	tsRaw, ok := strings.CutPrefix(parts[0], "t=")
	if !ok || tsRaw == "" || !isDigits(tsRaw) {
		return "", 0, nil, ErrMalformedSignature
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return "", 0, nil, ErrMalformedSignature
	}
	sigRaw, ok := strings.CutPrefix(parts[1], signatureVersion+"=")
	if !ok || sigRaw == "" {
		return "", 0, nil, ErrMalformedSignature
	}
	sig, err := hex.DecodeString(sigRaw)
	if err != nil {
		return "", 0, nil, ErrMalformedSignature
	}
	return tsRaw, ts, sig, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
