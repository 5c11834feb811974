// internal/infra/httpapi/signature.go
package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidTimestamp       = errors.New("invalid timestamp")
	ErrTimestampOutsideWindow = errors.New("timestamp outside allowed window")
	ErrInvalidSignature       = errors.New("invalid signature")
)

// SignatureWindow bounds the clock skew accepted on X-Timestamp.
const SignatureWindow = 5 * time.Minute

// VerifySignature checks a hex HMAC-SHA256 of "<ts>.<body>" and the timestamp freshness.
func VerifySignature(secret, timestampHeader, signatureHeader string, body []byte, now time.Time) error {
	tsHeader := strings.TrimSpace(timestampHeader)
	tsInt, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	ts := time.Unix(tsInt, 0).UTC()
	now = now.UTC()
	if ts.Before(now.Add(-SignatureWindow)) || ts.After(now.Add(SignatureWindow)) {
		return ErrTimestampOutsideWindow
	}

	provided, err := hex.DecodeString(strings.TrimSpace(signatureHeader))
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(provided, mac(secret, tsHeader, body)) {
		return ErrInvalidSignature
	}
	return nil
}

// SignHex computes the signature a sender puts in X-Signature.
func SignHex(secret, timestampHeader string, body []byte) string {
	return hex.EncodeToString(mac(secret, timestampHeader, body))
}

func mac(secret, ts string, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write([]byte(ts))
	_, _ = h.Write([]byte{'.'})
	_, _ = h.Write(body)
	return h.Sum(nil)
}
