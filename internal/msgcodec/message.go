// Package msgcodec implements the encrypted MTProto message layer
// (§4.4): message-id/seqno assignment (msgid.go), the encrypt/decrypt
// envelope around the auth key (this file), container packing
// (container.go), and the gzip-packing heuristic (gzip.go).
package msgcodec

import (
	"encoding/binary"
	"errors"

	"github.com/LonamiWebs/gomtproto/internal/mtcrypto"
	"github.com/LonamiWebs/gomtproto/internal/session"
)

// ErrBadAuthKey is returned when decryption's recomputed msg_key does
// not match the one on the wire. The spec requires the recipient to
// disconnect and treat the auth key as potentially compromised (§4.4).
var ErrBadAuthKey = errors.New("msgcodec: msg_key mismatch, auth key compromised")

// ErrKeyIDMismatch is returned when the frame's key_id does not match
// the session's current auth key.
var ErrKeyIDMismatch = errors.New("msgcodec: key_id does not match session auth key")

const (
	minPadding = 12
	maxPadding = 1024

	clientToServer = 0
	serverToClient = 8
)

// EncryptedMessage is a fully-assembled outbound envelope, ready to be
// framed by the codec package and written to the wire.
type EncryptedMessage struct {
	KeyID      uint64
	MsgKey     []byte
	Ciphertext []byte
}

// Bytes concatenates key_id ‖ msg_key ‖ ciphertext, the wire layout of
// an encrypted frame's payload (§4.4).
func (m *EncryptedMessage) Bytes() []byte {
	out := make([]byte, 8+16+len(m.Ciphertext))
	binary.LittleEndian.PutUint64(out[0:8], m.KeyID)
	copy(out[8:24], m.MsgKey)
	copy(out[24:], m.Ciphertext)
	return out
}

// SerializeOutbound builds the encrypted envelope for body, already
// assigned msgID and seqNo, per §4.4's "Serialize outbound" recipe.
// randFn supplies the random padding bytes (and must be cryptographically
// secure in production; tests may substitute a deterministic source).
func SerializeOutbound(s *session.Session, msgID int64, seqNo int32, body []byte, randFn func(int) ([]byte, error)) (*EncryptedMessage, error) {
	return serialize(s, msgID, seqNo, body, randFn, clientToServer)
}

// SerializeInboundForTest builds a frame using the server-to-client key
// derivation (x=8), letting a test stand in for the server side of a
// conversation without a second implementation of the KDF. Production
// code only ever calls DecryptInbound on the receiving side; this
// exists solely so other packages' tests can manufacture frames
// DecryptInbound will accept.
func SerializeInboundForTest(s *session.Session, msgID int64, seqNo int32, body []byte, randFn func(int) ([]byte, error)) ([]byte, error) {
	enc, err := serialize(s, msgID, seqNo, body, randFn, serverToClient)
	if err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

func serialize(s *session.Session, msgID int64, seqNo int32, body []byte, randFn func(int) ([]byte, error), direction int) (*EncryptedMessage, error) {
	authKey := s.Key.Bytes()
	defer zero(authKey)

	plain := buildPlain(s.ServerSalt, s.SessionID, msgID, seqNo, body)

	padLen, err := choosePaddingLength(len(plain), randFn)
	if err != nil {
		return nil, err
	}
	pad, err := randFn(padLen)
	if err != nil {
		return nil, err
	}
	plain = append(plain, pad...)

	msgKeyLargeDigest := msgKeyLarge(authKey, plain, direction)
	msgKey := msgKeyLargeDigest[8:24]

	aesKey, aesIV := deriveKeys(authKey, msgKey, direction)
	ciphertext, err := mtcrypto.IGEEncrypt(aesKey, aesIV, plain)
	if err != nil {
		return nil, err
	}

	return &EncryptedMessage{
		KeyID:      s.Key.KeyID(),
		MsgKey:     append([]byte(nil), msgKey...),
		Ciphertext: ciphertext,
	}, nil
}

// DecryptInbound mirrors SerializeOutbound with x=8 (§4.4's
// "Deserialize inbound"): it verifies the frame's key_id, recomputes
// msg_key from the decrypted plaintext and compares it in constant
// time, then returns the session_id/msg_id/seq_no/body tuple.
func DecryptInbound(s *session.Session, frame []byte) (sessionID, msgID int64, seqNo int32, body []byte, err error) {
	return deserialize(s, frame, serverToClient)
}

// DecryptOutboundForTest mirrors DecryptInbound but with x=0, letting a
// test inspect a frame this side just serialized via SerializeOutbound
// (which production code never needs to decrypt itself).
func DecryptOutboundForTest(s *session.Session, frame []byte) (sessionID, msgID int64, seqNo int32, body []byte, err error) {
	return deserialize(s, frame, clientToServer)
}

func deserialize(s *session.Session, frame []byte, direction int) (sessionID, msgID int64, seqNo int32, body []byte, err error) {
	if len(frame) < 8+16+16 {
		return 0, 0, 0, nil, errors.New("msgcodec: frame too short")
	}
	keyID := binary.LittleEndian.Uint64(frame[0:8])
	if keyID != s.Key.KeyID() {
		return 0, 0, 0, nil, ErrKeyIDMismatch
	}
	msgKey := frame[8:24]
	ciphertext := frame[24:]

	authKey := s.Key.Bytes()
	defer zero(authKey)

	aesKey, aesIV := deriveKeys(authKey, msgKey, direction)
	plain, err := mtcrypto.IGEDecrypt(aesKey, aesIV, ciphertext)
	if err != nil {
		return 0, 0, 0, nil, err
	}

	recomputed := msgKeyLarge(authKey, plain, direction)[8:24]
	if !mtcrypto.ConstantTimeCompare(recomputed, msgKey) {
		return 0, 0, 0, nil, ErrBadAuthKey
	}

	if len(plain) < 32 {
		return 0, 0, 0, nil, errors.New("msgcodec: decrypted plaintext too short")
	}
	salt := int64(binary.LittleEndian.Uint64(plain[0:8]))
	_ = salt
	sid := int64(binary.LittleEndian.Uint64(plain[8:16]))
	mid := int64(binary.LittleEndian.Uint64(plain[16:24]))
	seq := int32(binary.LittleEndian.Uint32(plain[24:28]))
	bodyLen := binary.LittleEndian.Uint32(plain[28:32])
	if int(32+bodyLen) > len(plain) {
		return 0, 0, 0, nil, errors.New("msgcodec: body length exceeds plaintext")
	}
	bodyBytes := append([]byte(nil), plain[32:32+bodyLen]...)

	return sid, mid, seq, bodyBytes, nil
}

func buildPlain(serverSalt, sessionID, msgID int64, seqNo int32, body []byte) []byte {
	out := make([]byte, 32+len(body))
	binary.LittleEndian.PutUint64(out[0:8], uint64(serverSalt))
	binary.LittleEndian.PutUint64(out[8:16], uint64(sessionID))
	binary.LittleEndian.PutUint64(out[16:24], uint64(msgID))
	binary.LittleEndian.PutUint32(out[24:28], uint32(seqNo))
	binary.LittleEndian.PutUint32(out[28:32], uint32(len(body)))
	copy(out[32:], body)
	return out
}

// choosePaddingLength returns a padding length in [minPadding,
// maxPadding] such that (plainLen + padding) % 16 == 0 (§4.4).
func choosePaddingLength(plainLen int, randFn func(int) ([]byte, error)) (int, error) {
	// Start from the minimum and walk up to the next 16-byte boundary,
	// then add random extra whole 16-byte blocks for unpredictability.
	base := minPadding
	for (plainLen+base)%16 != 0 {
		base++
	}
	extraBlocksMax := (maxPadding - base) / 16
	if extraBlocksMax > 0 {
		b, err := randFn(1)
		if err != nil {
			return 0, err
		}
		extra := int(b[0]) % (extraBlocksMax + 1)
		base += extra * 16
	}
	if base < minPadding {
		base = minPadding
	}
	if base > maxPadding {
		base = maxPadding
	}
	return base, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
