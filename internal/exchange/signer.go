package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strings"
)

// ErrEmptySecret is returned when signing is attempted without a secret key
var ErrEmptySecret = errors.New("secret key is empty")

// Sign computes the HMAC-SHA256 of message keyed by secretKey, as lowercase hex
func Sign(secretKey []byte, message string) (string, error) {
	if len(secretKey) == 0 {
		return "", ErrEmptySecret
	}
	mac := hmac.New(sha256.New, secretKey)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// canonicalQuery renders params sorted by key. The result is both the signed
// message and the query string sent on the wire, so it must not be re-encoded.
func canonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

// signedQuery returns the canonical query with its signature appended
func signedQuery(secretKey string, params map[string]string) (string, error) {
	query := canonicalQuery(params)
	signature, err := Sign([]byte(secretKey), query)
	if err != nil {
		return "", err
	}
	return query + "&signature=" + signature, nil
}
