package msgcodec

import "github.com/LonamiWebs/gomtproto/internal/mtcrypto"

// deriveKeys implements MTProto 2.0's key derivation function (§4.4):
// given the auth key, the 16-byte msg_key, and the direction selector
// x (0 for client-to-server, 8 for server-to-client), it returns the
// 32-byte AES key and 32-byte IGE IV for that message.
func deriveKeys(authKey, msgKey []byte, x int) (aesKey, aesIV []byte) {
	a := mtcrypto.SHA256(msgKey, authKey[x:x+36])
	b := mtcrypto.SHA256(authKey[40+x:40+x+36], msgKey)

	aesKey = concat(a[0:8], b[8:24], a[24:32])
	aesIV = concat(b[0:8], a[8:24], b[24:32])
	return aesKey, aesIV
}

// msgKeyLarge computes SHA256(substr(auth_key, 88+x, 32) ‖ plain),
// the intermediate value msg_key is truncated from (§4.4).
func msgKeyLarge(authKey, plain []byte, x int) []byte {
	return mtcrypto.SHA256(authKey[88+x:88+x+32], plain)
}

func concat(parts ...[]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
