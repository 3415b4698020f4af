package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// HexHMACSHA256 computes HMAC-SHA256 of message using key and returns the
// result hex-encoded. Binance signs the request query string this way;
// Bybit v5 signs timestamp+key+recvWindow+payload.
func HexHMACSHA256(key, message string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Base64HMACSHA256 computes HMAC-SHA256 of message using key and returns
// the result base64 standard-encoded. OKX signs
// timestamp+method+path+body this way.
func Base64HMACSHA256(key, message string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SHA512Hex returns the hex-encoded SHA-512 digest of s. Upbit and
// Bithumb embed the request query string in the auth token as this hash.
func SHA512Hex(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Redact shortens secret material for logging.
func Redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return fmt.Sprintf("%s****", s[:4])
}
