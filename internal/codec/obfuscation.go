package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
)

// NonceLength is the size of the cleartext nonce exchanged at
// connection start (§4.1).
const NonceLength = 64

// clearPrefixLength is how much of the nonce is sent as opaque random
// bytes before the protocol-id field.
const clearPrefixLength = 56

// ErrShortNonce is returned when a nonce shorter than NonceLength is
// supplied to NewObfuscator.
var ErrShortNonce = errors.New("codec: obfuscation nonce must be 64 bytes")

// Obfuscator XORs a stream with a per-direction AES-CTR keystream
// derived from the 64-byte connection nonce (§4.1). The first 56 bytes
// of the nonce are opaque random data; bytes 57-60 encode the protocol
// id the peer should expect framing in.
type Obfuscator struct {
	writeStream cipher.Stream
	readStream  cipher.Stream
}

// BuildNonce fills a fresh 64-byte nonce: 56 random bytes, the 4-byte
// little-endian protocolID, and 4 bytes of random padding.
func BuildNonce(random56 []byte, protocolID uint32, pad4 []byte) ([]byte, error) {
	if len(random56) != clearPrefixLength {
		return nil, errors.New("codec: random56 must be 56 bytes")
	}
	if len(pad4) != 4 {
		return nil, errors.New("codec: pad4 must be 4 bytes")
	}
	nonce := make([]byte, NonceLength)
	copy(nonce[:clearPrefixLength], random56)
	binary.LittleEndian.PutUint32(nonce[clearPrefixLength:clearPrefixLength+4], protocolID)
	copy(nonce[clearPrefixLength+4:], pad4)
	return nonce, nil
}

// ProtocolID reports the protocol id encoded in a nonce built by
// BuildNonce.
func ProtocolID(nonce []byte) (uint32, error) {
	if len(nonce) != NonceLength {
		return 0, ErrShortNonce
	}
	return binary.LittleEndian.Uint32(nonce[clearPrefixLength : clearPrefixLength+4]), nil
}

// NewObfuscator derives the client's write/read keystreams from nonce.
// isClient selects which half of the (key, iv) material this side
// encrypts with versus decrypts with: the client encrypts with the
// forward-derived key and decrypts with the reversed one; the server
// (or a server-role test harness) is the mirror image.
func NewObfuscator(nonce []byte, isClient bool) (*Obfuscator, error) {
	if len(nonce) != NonceLength {
		return nil, ErrShortNonce
	}

	fwdKey := append([]byte(nil), nonce[8:40]...)
	fwdIV := append([]byte(nil), nonce[40:56]...)

	reversed := reverse(nonce[8:56])
	revKey := reversed[:32]
	revIV := reversed[32:48]

	encKey, encIV, decKey, decIV := fwdKey, fwdIV, revKey, revIV
	if !isClient {
		encKey, encIV, decKey, decIV = revKey, revIV, fwdKey, fwdIV
	}

	writeStream, err := newCTRStream(encKey, encIV)
	if err != nil {
		return nil, err
	}
	readStream, err := newCTRStream(decKey, decIV)
	if err != nil {
		return nil, err
	}
	return &Obfuscator{writeStream: writeStream, readStream: readStream}, nil
}

func newCTRStream(key, iv []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(block, iv), nil
}

// EncryptWrite XORs data with the outbound keystream in place and
// returns it. Must be called with successive chunks in send order.
func (o *Obfuscator) EncryptWrite(data []byte) []byte {
	o.writeStream.XORKeyStream(data, data)
	return data
}

// DecryptRead XORs data with the inbound keystream in place and
// returns it. Must be called with successive chunks in receive order.
func (o *Obfuscator) DecryptRead(data []byte) []byte {
	o.readStream.XORKeyStream(data, data)
	return data
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
