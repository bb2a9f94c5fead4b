package mtcrypto

import "crypto/rand"

// SecureRandom returns n cryptographically secure random bytes.
func SecureRandom(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
