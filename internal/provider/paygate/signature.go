package paygate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrBadSignature  = errors.New("callback signature mismatch")
	ErrStaleCallback = errors.New("callback timestamp outside tolerance")
)

// Sign computes the hex HMAC-SHA256 of "<payload>.<timestamp>".
func Sign(payload []byte, timestamp int64, secret string) string {
	message := fmt.Sprintf("%s.%d", string(payload), timestamp)
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks the X-Signature / X-Timestamp pair of a callback.
func VerifySignature(payload []byte, timestampHeader, signature, secret string, tolerance time.Duration, now time.Time) error {
	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if tolerance > 0 && skew > tolerance {
		return ErrStaleCallback
	}
	expected := Sign(payload, ts, secret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
