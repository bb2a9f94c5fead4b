package sessionstore

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"

	"github.com/LonamiWebs/gomtproto/internal/coreerr"
)

// DefaultLockWait is how long BboltStore waits for another process's
// flock on the same file before giving up and reporting
// coreerr.SessionLockedError (§4.7, §6).
const DefaultLockWait = 2 * time.Second

var (
	bucketSession = []byte("session")
	bucketUpdates = []byte("updates")
	bucketPeers   = []byte("peers")

	keyCurrent = []byte("current")
)

// BboltStore is the default Store (§4.7's implementation binding): one
// bucket per logical region (session, updates, peers), every Save
// committed in a single Update transaction so the auth key, DC
// address, salt, session id, and update counters move to disk
// together or not at all.
type BboltStore struct {
	db *bbolt.DB
}

// OpenBboltStore opens (creating if absent) a bbolt database at path.
// bbolt's own flock-based open timeout is what surfaces
// coreerr.SessionLockedError when another process already holds the
// file.
func OpenBboltStore(path string, lockWait time.Duration) (*BboltStore, error) {
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: lockWait})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, &coreerr.SessionLockedError{Path: path}
		}
		return nil, &coreerr.IoError{Err: err}
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSession, bucketUpdates, bucketPeers} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, &coreerr.IoError{Err: err}
	}

	return &BboltStore{db: db}, nil
}

// sessionFields is the session/DC/auth-key half of a Record, stored in
// the "session" bucket.
type sessionFields struct {
	DCID       int
	Addr       string
	Port       int
	AuthKey    []byte
	ServerSalt int64
	SessionID  int64
	TimeOffset int64
}

// updateFields is the pts/qts/date/seq half plus the per-channel pts,
// stored in the "updates" bucket so the reconciler's periodic
// persistence (§4.8) does not need to touch the auth key at all.
type updateFields struct {
	PTS        int32
	QTS        int32
	Date       int32
	Seq        int32
	ChannelPTS map[int64]int32
}

func (b *BboltStore) Load() (*Record, bool, error) {
	rec := &Record{ChannelPTS: make(map[int64]int32), PeerHashes: make(map[int64]int64)}
	found := false

	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketSession).Get(keyCurrent)
		if raw == nil {
			return nil
		}
		found = true

		var sf sessionFields
		if err := cbor.Unmarshal(raw, &sf); err != nil {
			return err
		}
		rec.DCID, rec.Addr, rec.Port = sf.DCID, sf.Addr, sf.Port
		rec.AuthKey, rec.ServerSalt, rec.SessionID, rec.TimeOffset = sf.AuthKey, sf.ServerSalt, sf.SessionID, sf.TimeOffset

		if rawUpdates := tx.Bucket(bucketUpdates).Get(keyCurrent); rawUpdates != nil {
			var uf updateFields
			if err := cbor.Unmarshal(rawUpdates, &uf); err != nil {
				return err
			}
			rec.UpdatesPTS, rec.UpdatesQTS, rec.UpdatesDate, rec.UpdatesSeq = uf.PTS, uf.QTS, uf.Date, uf.Seq
			for channelID, pts := range uf.ChannelPTS {
				rec.ChannelPTS[channelID] = pts
			}
		}

		return tx.Bucket(bucketPeers).ForEach(func(k, v []byte) error {
			if len(k) != 8 || len(v) != 8 {
				return nil
			}
			peerID := int64(binary.BigEndian.Uint64(k))
			accessHash := int64(binary.BigEndian.Uint64(v))
			rec.PeerHashes[peerID] = accessHash
			return nil
		})
	})
	if err != nil {
		return nil, false, &coreerr.IoError{Err: err}
	}
	if !found {
		return nil, false, nil
	}
	return rec, true, nil
}

func (b *BboltStore) Save(rec *Record) error {
	sf := sessionFields{
		DCID: rec.DCID, Addr: rec.Addr, Port: rec.Port,
		AuthKey: rec.AuthKey, ServerSalt: rec.ServerSalt,
		SessionID: rec.SessionID, TimeOffset: rec.TimeOffset,
	}
	sfBytes, err := cbor.Marshal(sf)
	if err != nil {
		return err
	}
	uf := updateFields{PTS: rec.UpdatesPTS, QTS: rec.UpdatesQTS, Date: rec.UpdatesDate, Seq: rec.UpdatesSeq, ChannelPTS: rec.ChannelPTS}
	ufBytes, err := cbor.Marshal(uf)
	if err != nil {
		return err
	}

	err = b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketSession).Put(keyCurrent, sfBytes); err != nil {
			return err
		}
		if err := tx.Bucket(bucketUpdates).Put(keyCurrent, ufBytes); err != nil {
			return err
		}
		peers := tx.Bucket(bucketPeers)
		for peerID, accessHash := range rec.PeerHashes {
			k, v := make([]byte, 8), make([]byte, 8)
			binary.BigEndian.PutUint64(k, uint64(peerID))
			binary.BigEndian.PutUint64(v, uint64(accessHash))
			if err := peers.Put(k, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &coreerr.IoError{Err: err}
	}
	return nil
}

func (b *BboltStore) Clear() error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSession, bucketUpdates, bucketPeers} {
			if err := tx.DeleteBucket(name); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &coreerr.IoError{Err: err}
	}
	return nil
}

func (b *BboltStore) Close() error {
	return b.db.Close()
}
