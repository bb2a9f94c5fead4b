// Package session holds the per-connection state a Sender exclusively
// owns (§3 Session, AuthKey) plus the PendingRequest bookkeeping shared
// between a request's originator and the Sender's internal map.
package session

import (
	"encoding/binary"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/LonamiWebs/gomtproto/internal/mtcrypto"
)

// AuthKeyLength is the fixed size of an MTProto auth key (§3).
const AuthKeyLength = 256

// AuthKey is the long-lived 2048-bit shared secret produced by the
// handshake (§4.3). The raw bytes are held in a memguard locked buffer
// so the key material is mlock'd and wiped on Destroy, matching the
// spec's "destroyed only when the session is explicitly dropped or the
// server signals AUTH_KEY_UNREGISTERED" lifecycle (§3).
type AuthKey struct {
	buf   *memguard.LockedBuffer
	keyID uint64
}

// NewAuthKey wraps raw (which must be AuthKeyLength bytes) in guarded
// memory and derives its key id from the low 8 bytes of SHA1(raw), the
// convention MTProto uses on the wire for auth_key_id. The contents of
// raw are wiped once they have been copied into guarded memory.
func NewAuthKey(raw []byte) (*AuthKey, error) {
	if len(raw) != AuthKeyLength {
		return nil, ErrInvalidAuthKeyLength
	}
	digest := mtcrypto.SHA1(raw)
	keyID := binary.LittleEndian.Uint64(digest[len(digest)-8:])

	buf := memguard.NewBufferFromBytes(raw)
	return &AuthKey{buf: buf, keyID: keyID}, nil
}

// ErrInvalidAuthKeyLength is returned by NewAuthKey when raw is not
// exactly AuthKeyLength bytes.
var ErrInvalidAuthKeyLength = errInvalidAuthKeyLength{}

type errInvalidAuthKeyLength struct{}

func (errInvalidAuthKeyLength) Error() string {
	return "session: auth key must be exactly 256 bytes"
}

// Bytes returns a copy of the raw auth key bytes. Callers must not
// retain it beyond the immediate encrypt/decrypt call.
func (k *AuthKey) Bytes() []byte {
	return append([]byte(nil), k.buf.Bytes()...)
}

// KeyID returns the 64-bit key id derived at construction (§3, §8
// invariant 4).
func (k *AuthKey) KeyID() uint64 { return k.keyID }

// Destroy wipes the guarded buffer. Safe to call more than once.
func (k *AuthKey) Destroy() {
	k.buf.Destroy()
}

// UpdateState is the per-account/per-channel update counter set the
// Reconciler advances (§3 UpdateState, §4.8).
type UpdateState struct {
	PTS  int32
	QTS  int32
	Date int32
	Seq  int32

	ChannelPTS map[int64]int32
}

// Session is the tuple of (DC address, AuthKey, salt, session id,
// sequence counter, update counters) a Sender exclusively owns (§3).
type Session struct {
	mu sync.Mutex

	DCID int
	Addr string
	Port int

	Key *AuthKey

	ServerSalt int64
	SessionID  int64

	lastMsgID           int64
	contentRelatedCount uint32
	TimeOffset          int64

	Updates UpdateState
}

// New returns an empty Session for a fresh DC address; Key is filled
// in once the handshake completes.
func New(dcID int, addr string, port int) *Session {
	return &Session{
		DCID: dcID,
		Addr: addr,
		Port: port,
		Updates: UpdateState{
			ChannelPTS: make(map[int64]int32),
		},
	}
}

// Lock/Unlock expose the Session's mutex directly so the owning Sender
// can group several field reads/writes into one critical section
// (e.g. assigning a msg id and bumping the seqno counter atomically).
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// LastMsgID returns the most recently assigned message id, for the
// monotonicity check in §3 MessageId.
func (s *Session) LastMsgID() int64 { return s.lastMsgID }

// SetLastMsgID records the most recently assigned message id. Callers
// must hold the Session lock.
func (s *Session) SetLastMsgID(id int64) { s.lastMsgID = id }

// ContentRelatedCount returns the running count of content-related
// messages sent, used to derive SeqNo (§3).
func (s *Session) ContentRelatedCount() uint32 { return s.contentRelatedCount }

// IncrementContentRelatedCount bumps the counter after a
// content-related message is assigned a seqno. Callers must hold the
// Session lock.
func (s *Session) IncrementContentRelatedCount() {
	s.contentRelatedCount++
}

// PendingRequest is (assigned message-id, body, completion slot,
// flags, retry count) as described in §3. It is shared by the request
// originator (through the Handle) and the Sender's internal map.
type PendingRequest struct {
	MsgID int64
	Body  []byte

	AckRequired     bool
	IsGzipCandidate bool
	OrderedGroupID  uint64

	RetryCount int

	resultCh chan Result
	once     sync.Once
}

// Result is what a PendingRequest resolves to.
type Result struct {
	Payload []byte
	Err     error
}

// NewPendingRequest allocates a PendingRequest with a buffered
// completion channel of capacity 1 (a single send never blocks the
// Sender's synchronous push_inbound).
func NewPendingRequest(msgID int64, body []byte, ackRequired, gzipCandidate bool) *PendingRequest {
	return &PendingRequest{
		MsgID:           msgID,
		Body:            body,
		AckRequired:     ackRequired,
		IsGzipCandidate: gzipCandidate,
		resultCh:        make(chan Result, 1),
	}
}

// Complete resolves the request exactly once; subsequent calls are
// no-ops, matching the "exactly one of RpcComplete/Cancelled" property
// (§8 invariant 7).
func (p *PendingRequest) Complete(res Result) {
	p.once.Do(func() {
		p.resultCh <- res
	})
}

// Wait blocks until the request completes.
func (p *PendingRequest) Wait() Result {
	return <-p.resultCh
}

// Done returns the completion channel for use in a select statement.
func (p *PendingRequest) Done() <-chan Result {
	return p.resultCh
}
