package mtcrypto

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
)

// SHA1 returns the SHA-1 digest of data.
func SHA1(data ...[]byte) []byte {
	h := sha1.New()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// SHA256 returns the SHA-256 digest of data.
func SHA256(data ...[]byte) []byte {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// HMACSHA256 returns HMAC-SHA256(key, data).
func HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// ConstantTimeCompare reports whether a and b are equal, in time
// independent of their contents (but not of their length).
func ConstantTimeCompare(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
