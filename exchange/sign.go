package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"
)

// Sign returns the hex HMAC-SHA256 of the canonical query string.
func Sign(secret string, params url.Values) string {
	// Encode sorts by key.
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(params.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

// signParams adds the authentication fields and the signature to params and
// returns the encoded query string ready to send.
func signParams(apiKey, secret string, recvWindow int64, now time.Time, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", apiKey)
	params.Set("timestamp", strconv.FormatInt(now.UnixMilli(), 10))
	params.Set("recv_window", strconv.FormatInt(recvWindow, 10))
	params.Set("sign", Sign(secret, params))
	return params.Encode()
}
