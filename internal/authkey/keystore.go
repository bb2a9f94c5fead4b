// Package authkey implements the auth-key handshake state machine
// (§4.3): ReqPQ -> ReqDHParams -> SetClientDHParams -> Done | Retry.
// It is sans-I/O in the same spirit as internal/sender: each method
// takes the bytes just read off the wire and returns the bytes to
// write next, leaving the actual read/write to internal/netdriver.
package authkey

import (
	"math/big"

	"github.com/LonamiWebs/gomtproto/internal/mtcrypto"
	"github.com/LonamiWebs/gomtproto/internal/tl"
)

// KeyStore resolves one of the server's offered RSA fingerprints to a
// known public key (§4.2's "baked-in" long-term RSA keys).
type KeyStore interface {
	Lookup(fingerprints []uint64) (*mtcrypto.RSAPublicKey, bool)
}

// StaticKeyStore is a KeyStore backed by a fixed in-memory set, the
// shape a production client loads its compiled-in Telegram DC keys
// into.
type StaticKeyStore struct {
	byFingerprint map[uint64]*mtcrypto.RSAPublicKey
}

// NewStaticKeyStore indexes keys by their fingerprint.
func NewStaticKeyStore(keys ...*mtcrypto.RSAPublicKey) *StaticKeyStore {
	s := &StaticKeyStore{byFingerprint: make(map[uint64]*mtcrypto.RSAPublicKey, len(keys))}
	for _, k := range keys {
		s.byFingerprint[k.Fingerprint] = k
	}
	return s
}

// Lookup returns the first configured key whose fingerprint appears in
// fingerprints, preserving the server's offered preference order.
func (s *StaticKeyStore) Lookup(fingerprints []uint64) (*mtcrypto.RSAPublicKey, bool) {
	for _, fp := range fingerprints {
		if k, ok := s.byFingerprint[fp]; ok {
			return k, true
		}
	}
	return nil, false
}

// Fingerprint computes an RSA public key's MTProto fingerprint: the low
// 64 bits of SHA1 of the key's TL-serialized (n, e) pair (§4.2).
func Fingerprint(n, e *big.Int) uint64 {
	w := tl.NewWriter()
	w.BytesField(n.Bytes())
	w.BytesField(e.Bytes())
	digest := mtcrypto.SHA1(w.Bytes())
	return leUint64(digest[len(digest)-8:])
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
