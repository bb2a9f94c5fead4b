// Package sessionstore implements §4.7's session persistence: a
// Store interface with Load/Save/Clear, a default go.etcd.io/bbolt
// store, and a teacher-idiom atomic file store for deployments that
// cannot embed bbolt. Either implementation must make the auth key
// durable immediately after a successful handshake, before any
// subsequent request is sent, and detect a concurrent writer against
// the same on-disk session.
package sessionstore

import (
	"github.com/LonamiWebs/gomtproto/internal/session"
)

// Record is the on-disk shape of a Session: a plain DTO so the
// encoding (CBOR) never has to reach into session.Session's guarded
// auth-key buffer or its mutex.
type Record struct {
	DCID int
	Addr string
	Port int

	AuthKey    []byte
	ServerSalt int64
	SessionID  int64
	TimeOffset int64

	UpdatesPTS  int32
	UpdatesQTS  int32
	UpdatesDate int32
	UpdatesSeq  int32
	ChannelPTS  map[int64]int32

	// PeerHashes caches the (access_hash) half of a peer reference the
	// core API needs to address users/chats/channels by id alone,
	// avoiding a refetch on every call (§12 supplemented feature).
	PeerHashes map[int64]int64
}

// ToRecord snapshots s into a Record suitable for encoding. The
// caller must hold no conflicting lock; ToRecord takes s's lock
// itself.
func ToRecord(s *session.Session) *Record {
	s.Lock()
	defer s.Unlock()

	rec := &Record{
		DCID:        s.DCID,
		Addr:        s.Addr,
		Port:        s.Port,
		ServerSalt:  s.ServerSalt,
		SessionID:   s.SessionID,
		TimeOffset:  s.TimeOffset,
		UpdatesPTS:  s.Updates.PTS,
		UpdatesQTS:  s.Updates.QTS,
		UpdatesDate: s.Updates.Date,
		UpdatesSeq:  s.Updates.Seq,
		ChannelPTS:  make(map[int64]int32, len(s.Updates.ChannelPTS)),
	}
	if s.Key != nil {
		rec.AuthKey = s.Key.Bytes()
	}
	for k, v := range s.Updates.ChannelPTS {
		rec.ChannelPTS[k] = v
	}
	return rec
}

// Session rebuilds a session.Session from a Record, e.g. after Load.
func (r *Record) Session() (*session.Session, error) {
	s := session.New(r.DCID, r.Addr, r.Port)
	if len(r.AuthKey) > 0 {
		key, err := session.NewAuthKey(r.AuthKey)
		if err != nil {
			return nil, err
		}
		s.Key = key
	}
	s.ServerSalt = r.ServerSalt
	s.SessionID = r.SessionID
	s.TimeOffset = r.TimeOffset
	s.Updates.PTS = r.UpdatesPTS
	s.Updates.QTS = r.UpdatesQTS
	s.Updates.Date = r.UpdatesDate
	s.Updates.Seq = r.UpdatesSeq
	for k, v := range r.ChannelPTS {
		s.Updates.ChannelPTS[k] = v
	}
	return s, nil
}

// Store persists and retrieves the single session this process owns
// (§4.7). Implementations must be safe for concurrent Save calls from
// the updates reconciler's periodic persistence and the network
// driver's post-handshake persistence.
type Store interface {
	// Load returns the previously saved Record, or ok=false if none
	// exists yet.
	Load() (rec *Record, ok bool, err error)
	// Save durably persists rec, replacing whatever was saved before.
	Save(rec *Record) error
	// Clear removes any persisted session, e.g. on logout.
	Clear() error
	// Close releases any resources (file handles, locks) the store
	// holds open.
	Close() error
}
