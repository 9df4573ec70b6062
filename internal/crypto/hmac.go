package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for HMAC-authenticated exchange requests.
type HMACAuth struct {
	Key    string // API key, sent as a header
	Secret string // API secret, the HMAC key
}

// SignQuery appends the request timestamp to the query parameters and
// returns the encoded query string with its signature attached. The
// signature is HMAC-SHA256(secret, query) hex-encoded, computed over the
// encoded query exactly as transmitted.
func (h *HMACAuth) SignQuery(params url.Values) string {
	return h.SignQueryAt(params, time.Now().UnixMilli())
}

// SignQueryAt is SignQuery with a caller-supplied millisecond timestamp,
// for deterministic testing.
func (h *HMACAuth) SignQueryAt(params url.Values, unixMilli int64) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(unixMilli, 10))

	encoded := params.Encode()
	return encoded + "&signature=" + hmacSHA256Hex([]byte(h.Secret), encoded)
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key, hex-encoded.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
