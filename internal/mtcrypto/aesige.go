package mtcrypto

import (
	"crypto/aes"
	"errors"
)

// ErrInvalidIGEInput is returned when the plaintext/ciphertext or IV
// passed to the IGE routines is not a whole number of blocks, or the
// IV is not exactly two blocks long.
var ErrInvalidIGEInput = errors.New("mtcrypto: ige input must be a multiple of the block size")

const ivLen = 2 * aes.BlockSize

// IGEEncrypt encrypts plaintext with AES-256 in Infinite Garble
// Extension mode, as used for every encrypted MTProto message (§4.4).
// iv must be 32 bytes: the first 16 are the "previous ciphertext"
// seed, the last 16 the "previous plaintext" seed.
func IGEEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != ivLen || len(plaintext)%aes.BlockSize != 0 || len(plaintext) == 0 {
		return nil, ErrInvalidIGEInput
	}

	prevCipher := append([]byte(nil), iv[:aes.BlockSize]...)
	prevPlain := append([]byte(nil), iv[aes.BlockSize:]...)

	out := make([]byte, len(plaintext))
	var x, y [aes.BlockSize]byte
	for off := 0; off < len(plaintext); off += aes.BlockSize {
		plainBlock := plaintext[off : off+aes.BlockSize]
		xorBytes(x[:], plainBlock, prevCipher)
		block.Encrypt(y[:], x[:])
		xorBytes(out[off:off+aes.BlockSize], y[:], prevPlain)

		prevCipher = append(prevCipher[:0], out[off:off+aes.BlockSize]...)
		prevPlain = append(prevPlain[:0], plainBlock...)
	}
	return out, nil
}

// IGEDecrypt is the inverse of IGEEncrypt.
func IGEDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != ivLen || len(ciphertext)%aes.BlockSize != 0 || len(ciphertext) == 0 {
		return nil, ErrInvalidIGEInput
	}

	prevCipher := append([]byte(nil), iv[:aes.BlockSize]...)
	prevPlain := append([]byte(nil), iv[aes.BlockSize:]...)

	out := make([]byte, len(ciphertext))
	var x, y [aes.BlockSize]byte
	for off := 0; off < len(ciphertext); off += aes.BlockSize {
		cipherBlock := ciphertext[off : off+aes.BlockSize]
		xorBytes(x[:], cipherBlock, prevPlain)
		block.Decrypt(y[:], x[:])
		xorBytes(out[off:off+aes.BlockSize], y[:], prevCipher)

		prevCipher = append(prevCipher[:0], cipherBlock...)
		prevPlain = append(prevPlain[:0], out[off:off+aes.BlockSize]...)
	}
	return out, nil
}

func xorBytes(dst, a, b []byte) {
	for i := range dst {
		dst[i] = a[i] ^ b[i]
	}
}
