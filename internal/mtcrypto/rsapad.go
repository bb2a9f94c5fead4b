package mtcrypto

import (
	"errors"
	"math/big"
)

// ErrRSAKeyUnknown is returned when no configured public key's
// fingerprint matches any the server offered (§4.2).
var ErrRSAKeyUnknown = errors.New("mtcrypto: no configured rsa public key matches server fingerprint")

// RSAPublicKey is one of Telegram's baked-in long-term RSA keys.
type RSAPublicKey struct {
	N           *big.Int
	E           *big.Int
	Fingerprint uint64
}

const (
	rsaPadDataLen   = 192
	rsaPadHashedLen = rsaPadDataLen + 32 // data_pad_reversed + sha256
	rsaPadTotalLen  = 32 + rsaPadHashedLen
)

// RSAPad implements Telegram's "RSA_PAD" padding scheme (§4.2): data
// (at most 144 bytes) is padded to 192 bytes, mixed with a random
// 256-bit AES key and IGE-encrypted under a zero IV, hashed to build
// a 2048-bit big-endian integer smaller than the modulus, and finally
// RSA-encrypted.
func RSAPad(data []byte, key *RSAPublicKey, randSource func(int) ([]byte, error)) ([]byte, error) {
	if len(data) > 144 {
		return nil, errors.New("mtcrypto: rsa_pad input must be <= 144 bytes")
	}
	dataWithPadding := make([]byte, rsaPadDataLen)
	copy(dataWithPadding, data)
	pad, err := randSource(rsaPadDataLen - len(data))
	if err != nil {
		return nil, err
	}
	copy(dataWithPadding[len(data):], pad)

	dataPadReversed := reverseBytes(dataWithPadding)

	for {
		aesKey, err := randSource(32)
		if err != nil {
			return nil, err
		}
		dataWithHash := append(append([]byte(nil), dataPadReversed...), SHA256(aesKey, dataWithPadding)...)

		zeroIV := make([]byte, 32)
		aesEncrypted, err := IGEEncrypt(aesKey, zeroIV, dataWithHash)
		if err != nil {
			return nil, err
		}

		hashOfEncrypted := SHA256(aesEncrypted)
		tempKeyXor := make([]byte, 32)
		for i := range tempKeyXor {
			tempKeyXor[i] = aesKey[i] ^ hashOfEncrypted[i]
		}

		keyAESEncrypted := append(append([]byte(nil), tempKeyXor...), aesEncrypted...)
		if len(keyAESEncrypted) != rsaPadTotalLen {
			return nil, errors.New("mtcrypto: internal rsa_pad length mismatch")
		}

		m := new(big.Int).SetBytes(keyAESEncrypted)
		if m.Cmp(key.N) >= 0 {
			continue // retry with a fresh random aes key, per spec
		}

		c := new(big.Int).Exp(m, key.E, key.N)
		out := make([]byte, 256)
		c.FillBytes(out)
		return out, nil
	}
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
