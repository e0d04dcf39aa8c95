// Package gateway 负责支付网关回调的验签与事件解析。
package gateway

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

var (
	// ErrSignatureInvalid 签名缺失、格式错误或不匹配
	ErrSignatureInvalid = errors.New("signature invalid")
)

// SignatureHeader 解析后的签名头：t=<unix>,te=<test>,li=<live>
type SignatureHeader struct {
	Timestamp     string
	TestSignature string
	LiveSignature string
}

// ParseSignatureHeader 解析逗号分隔的签名头，未知字段忽略
func ParseSignatureHeader(header string) (SignatureHeader, error) {
	var sh SignatureHeader
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			sh.Timestamp = value
		case "te":
			sh.TestSignature = value
		case "li":
			sh.LiveSignature = value
		}
	}
	if sh.Timestamp == "" {
		return sh, fmt.Errorf("%w: missing timestamp", ErrSignatureInvalid)
	}
	if sh.TestSignature == "" && sh.LiveSignature == "" {
		return sh, fmt.Errorf("%w: missing signature", ErrSignatureInvalid)
	}
	return sh, nil
}

// Sign 计算 "<timestamp>.<body>" 的 HMAC-SHA256 十六进制摘要
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier 校验回调签名
type Verifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier 创建签名校验器，tolerance 为 0 时不检查时间戳偏差
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{
		secret:    secret,
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Configured 是否配置了签名密钥
func (v *Verifier) Configured() bool {
	return v.secret != ""
}

// Verify 校验签名头，te 或 li 任一匹配即通过。未配置密钥时直接通过。
func (v *Verifier) Verify(header string, body []byte) error {
	if !v.Configured() {
		return nil
	}

	sh, err := ParseSignatureHeader(header)
	if err != nil {
		return err
	}

	if v.tolerance > 0 {
		unix, err := strconv.ParseInt(sh.Timestamp, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid timestamp", ErrSignatureInvalid)
		}
		skew := v.now().Sub(time.Unix(unix, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > v.tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureInvalid)
		}
	}

	expected := []byte(Sign(v.secret, sh.Timestamp, body))
	for _, candidate := range []string{sh.TestSignature, sh.LiveSignature} {
		if candidate == "" {
			continue
		}
		if hmac.Equal([]byte(strings.ToLower(candidate)), expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: digest mismatch", ErrSignatureInvalid)
}
