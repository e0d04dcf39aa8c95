package gateway

import (
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsk_test_secret"

func signedHeader(secret, ts string, body []byte, liveOnly bool) string {
	sig := Sign(secret, ts, body)
	if liveOnly {
		return fmt.Sprintf("t=%s,te=,li=%s", ts, sig)
	}
	return fmt.Sprintf("t=%s,te=%s,li=", ts, sig)
}

func TestParseSignatureHeader(t *testing.T) {
	t.Run("解析完整签名头", func(t *testing.T) {
		sh, err := ParseSignatureHeader("t=1700000000, te=abc ,li=def")
		require.NoError(t, err)
		assert.Equal(t, "1700000000", sh.Timestamp)
		assert.Equal(t, "abc", sh.TestSignature)
		assert.Equal(t, "def", sh.LiveSignature)
	})

	t.Run("缺少时间戳", func(t *testing.T) {
		_, err := ParseSignatureHeader("te=abc,li=def")
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("缺少签名", func(t *testing.T) {
		_, err := ParseSignatureHeader("t=1700000000,te=,li=")
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("空签名头", func(t *testing.T) {
		_, err := ParseSignatureHeader("")
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})
}

func TestVerifier_Verify(t *testing.T) {
	body := []byte(`{"data":{"id":"evt_1"}}`)
	ts := "1700000000"

	t.Run("测试签名匹配", func(t *testing.T) {
		v := NewVerifier(testSecret, 0)
		assert.NoError(t, v.Verify(signedHeader(testSecret, ts, body, false), body))
	})

	t.Run("正式签名匹配", func(t *testing.T) {
		v := NewVerifier(testSecret, 0)
		assert.NoError(t, v.Verify(signedHeader(testSecret, ts, body, true), body))
	})

	t.Run("错误密钥签名被拒绝", func(t *testing.T) {
		v := NewVerifier(testSecret, 0)
		err := v.Verify(signedHeader("wrong_secret", ts, body, false), body)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("请求体被篡改", func(t *testing.T) {
		v := NewVerifier(testSecret, 0)
		err := v.Verify(signedHeader(testSecret, ts, body, false), []byte(`{"data":{"id":"evt_2"}}`))
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("签名针对头部中的时间戳", func(t *testing.T) {
		v := NewVerifier(testSecret, 0)
		header := fmt.Sprintf("t=%s,te=%s", "1700000001", Sign(testSecret, ts, body))
		assert.ErrorIs(t, v.Verify(header, body), ErrSignatureInvalid)
	})

	t.Run("未配置密钥直接通过", func(t *testing.T) {
		v := NewVerifier("", 0)
		assert.False(t, v.Configured())
		assert.NoError(t, v.Verify("", body))
	})

	t.Run("时间戳超出容忍范围", func(t *testing.T) {
		now := time.Unix(1700000000, 0)
		v := NewVerifier(testSecret, 5*time.Minute)
		v.now = func() time.Time { return now }

		stale := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
		assert.ErrorIs(t, v.Verify(signedHeader(testSecret, stale, body, false), body), ErrSignatureInvalid)

		fresh := strconv.FormatInt(now.Add(-time.Minute).Unix(), 10)
		assert.NoError(t, v.Verify(signedHeader(testSecret, fresh, body, false), body))
	})
}
