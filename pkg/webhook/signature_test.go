package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "wsec_test"

func fixedVerifier(now time.Time, tolerance time.Duration) *Verifier {
	v := NewVerifier(secret, tolerance)
	v.now = func() time.Time { return now }
	return v
}

func TestVerify_MatchesIndependentComputation(t *testing.T) {
	body := []byte(`{"conversation_id":"conv_123"}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("1700000000." + string(body)))
	header := fmt.Sprintf("t=1700000000,v0=%s", hex.EncodeToString(mac.Sum(nil)))

	v := fixedVerifier(time.Unix(1700000000, 0), 0)
	assert.NoError(t, v.Verify(body, header))
	assert.Equal(t, header, Sign(secret, time.Unix(1700000000, 0), body))
}

func TestVerify_OneByteFlipRejects(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte("audio-payload")
	header := Sign(secret, now, body)
	v := fixedVerifier(now, 0)
	require.NoError(t, v.Verify(body, header))

	for i := range body {
		flipped := append([]byte(nil), body...)
		flipped[i] ^= 0x01
		assert.ErrorIs(t, v.Verify(flipped, header), ErrSignatureMismatch, "body byte %d", i)
	}

	sigStart := len(header) - 64
	for i := sigStart; i < len(header); i++ {
		b := []byte(header)
		if b[i] == '0' {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
		assert.ErrorIs(t, v.Verify(body, string(b)), ErrSignatureMismatch, "signature byte %d", i)
	}
}

func TestVerify_MalformedHeaders(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte("x")
	valid := Sign(secret, now, body)
	sig := valid[len("t=1700000000,v0="):]
	v := fixedVerifier(now, 0)

	cases := []string{
		"v0=" + sig + ",t=1700000000",
		"t=1700000000,v1=" + sig,
		"t=1700000000,v0=" + sig + ",extra=1",
		"t=,v0=" + sig,
		"t=17e8,v0=" + sig,
		"t=1700000000,v0=",
		"t=1700000000,v0=zz",
		"t=1700000000",
		"garbage",
	}
	for _, h := range cases {
		assert.ErrorIs(t, v.Verify(body, h), ErrMalformedSignature, h)
	}
	assert.ErrorIs(t, v.Verify(body, ""), ErrMissingSignature)
}

func TestVerify_UnverifiedModeWithoutSecret(t *testing.T) {
	v := NewVerifier("", time.Minute)
	assert.False(t, v.Enabled())
	assert.NoError(t, v.Verify([]byte("anything"), ""))
	assert.NoError(t, v.Verify([]byte("anything"), "garbage"))
}

func TestVerify_Tolerance(t *testing.T) {
	signedAt := time.Unix(1700000000, 0)
	body := []byte("x")
	header := Sign(secret, signedAt, body)

	assert.NoError(t, fixedVerifier(signedAt.Add(29*time.Minute), 30*time.Minute).Verify(body, header))
	assert.ErrorIs(t, fixedVerifier(signedAt.Add(31*time.Minute), 30*time.Minute).Verify(body, header), ErrTimestampOutOfRange)
	assert.ErrorIs(t, fixedVerifier(signedAt.Add(-31*time.Minute), 30*time.Minute).Verify(body, header), ErrTimestampOutOfRange)
	assert.NoError(t, fixedVerifier(signedAt.Add(24*time.Hour), 0).Verify(body, header))
}

func TestVerify_UsesTimestampTextFromHeader(t *testing.T) {
	body := []byte("payload")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("01700000000." + string(body)))
	header := "t=01700000000,v0=" + hex.EncodeToString(mac.Sum(nil))

	v := fixedVerifier(time.Unix(1700000000, 0), 0)
	assert.NoError(t, v.Verify(body, header))

	// 按数值重新格式化后的时间戳签名不能通过带前导零的头
	canonical := Sign(secret, time.Unix(1700000000, 0), body)
	_, sig, _ := strings.Cut(canonical, ",")
	assert.ErrorIs(t, v.Verify(body, "t=01700000000,"+sig), ErrSignatureMismatch)
}
