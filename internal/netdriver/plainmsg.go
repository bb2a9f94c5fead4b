package netdriver

import (
	"encoding/binary"
	"errors"
)

// errShortPlainMessage is returned when a buffer is too small to hold
// even a plain message's header.
var errShortPlainMessage = errors.New("netdriver: frame too short for a plain message")

// encodePlainMessage builds the unencrypted envelope used during the
// handshake (§4.3): auth_key_id=0 ‖ message_id ‖ message_length ‖ body.
func encodePlainMessage(msgID int64, body []byte) []byte {
	out := make([]byte, 20+len(body))
	binary.LittleEndian.PutUint64(out[0:8], 0)
	binary.LittleEndian.PutUint64(out[8:16], uint64(msgID))
	binary.LittleEndian.PutUint32(out[16:20], uint32(len(body)))
	copy(out[20:], body)
	return out
}

// decodePlainMessage strips a plain envelope and returns its body. It
// rejects frames whose auth_key_id is nonzero, since those belong to
// the encrypted layer (internal/msgcodec), not the handshake.
func decodePlainMessage(frame []byte) (msgID int64, body []byte, err error) {
	if len(frame) < 20 {
		return 0, nil, errShortPlainMessage
	}
	keyID := binary.LittleEndian.Uint64(frame[0:8])
	if keyID != 0 {
		return 0, nil, errors.New("netdriver: plain message carries a nonzero auth_key_id")
	}
	msgID = int64(binary.LittleEndian.Uint64(frame[8:16]))
	length := binary.LittleEndian.Uint32(frame[16:20])
	if int(20+length) > len(frame) {
		return 0, nil, errors.New("netdriver: plain message body length exceeds frame")
	}
	body = append([]byte(nil), frame[20:20+length]...)
	return msgID, body, nil
}

// nextPlainMsgID hands out a strictly increasing message id for the
// unencrypted handshake phase, using the same "current time in the
// high 32 bits" convention as msgcodec.AssignMessageID, but without
// requiring a Session (none exists until the handshake completes).
func nextPlainMsgID(last *int64, unixNowSeconds int64) int64 {
	candidate := (unixNowSeconds << 32) &^ 3
	if candidate <= *last {
		candidate = (*last + 4) &^ 3
	}
	*last = candidate
	return candidate
}
