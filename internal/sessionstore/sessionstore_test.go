package sessionstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleRecord() *Record {
	return &Record{
		DCID:        2,
		Addr:        "149.154.167.50",
		Port:        443,
		AuthKey:     make([]byte, 256),
		ServerSalt:  1234567890,
		SessionID:   42,
		TimeOffset:  -3,
		UpdatesPTS:  100,
		UpdatesQTS:  5,
		UpdatesDate: 1700000000,
		UpdatesSeq:  7,
		ChannelPTS:  map[int64]int32{1001: 50, 1002: 75},
		PeerHashes:  map[int64]int64{555: 999, 777: 111},
	}
}

func TestBboltStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenBboltStore(filepath.Join(dir, "session.bbolt"), 0)
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.Load()
	require.NoError(t, err)
	require.False(t, ok)

	rec := sampleRecord()
	require.NoError(t, store.Save(rec))

	loaded, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.DCID, loaded.DCID)
	require.Equal(t, rec.Addr, loaded.Addr)
	require.Equal(t, rec.Port, loaded.Port)
	require.Equal(t, rec.AuthKey, loaded.AuthKey)
	require.Equal(t, rec.ServerSalt, loaded.ServerSalt)
	require.Equal(t, rec.SessionID, loaded.SessionID)
	require.Equal(t, rec.TimeOffset, loaded.TimeOffset)
	require.Equal(t, rec.UpdatesPTS, loaded.UpdatesPTS)
	require.Equal(t, rec.UpdatesQTS, loaded.UpdatesQTS)
	require.Equal(t, rec.UpdatesDate, loaded.UpdatesDate)
	require.Equal(t, rec.UpdatesSeq, loaded.UpdatesSeq)
	require.Equal(t, rec.PeerHashes, loaded.PeerHashes)
}

func TestBboltStoreClearResetsBuckets(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenBboltStore(filepath.Join(dir, "session.bbolt"), 0)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(sampleRecord()))
	require.NoError(t, store.Clear())

	_, ok, err := store.Load()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBboltStoreOpenTimesOutWhenLocked(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.bbolt")

	first, err := OpenBboltStore(path, 0)
	require.NoError(t, err)
	defer first.Close()

	_, err = OpenBboltStore(path, 10000000) // 10ms, well under a human blink
	require.Error(t, err)
	require.ErrorContains(t, err, "locked")
}

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.dat")

	store, err := OpenFileStore(path, []byte("correct horse battery staple"))
	require.NoError(t, err)

	_, ok, err := store.Load()
	require.NoError(t, err)
	require.False(t, ok)

	rec := sampleRecord()
	require.NoError(t, store.Save(rec))

	loaded, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.AuthKey, loaded.AuthKey)
	require.Equal(t, rec.ServerSalt, loaded.ServerSalt)
	require.Equal(t, rec.ChannelPTS, loaded.ChannelPTS)
	require.Equal(t, rec.PeerHashes, loaded.PeerHashes)

	// Re-opening with the same passphrase must derive the same key and
	// read back what was written, mirroring disk.go's reopen path.
	reopened, err := OpenFileStore(path, []byte("correct horse battery staple"))
	require.NoError(t, err)
	again, ok, err := reopened.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.SessionID, again.SessionID)
}

func TestFileStoreWrongPassphraseFailsToDecrypt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.dat")

	store, err := OpenFileStore(path, []byte("right passphrase"))
	require.NoError(t, err)
	require.NoError(t, store.Save(sampleRecord()))

	wrong, err := OpenFileStore(path, []byte("wrong passphrase"))
	require.NoError(t, err)
	_, _, err = wrong.Load()
	require.Error(t, err)
}

func TestFileStoreClearRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.dat")

	store, err := OpenFileStore(path, []byte("passphrase"))
	require.NoError(t, err)
	require.NoError(t, store.Save(sampleRecord()))
	require.NoError(t, store.Clear())

	_, ok, err := store.Load()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecordSessionConversionRoundTrip(t *testing.T) {
	rec := sampleRecord()

	sess, err := rec.Session()
	require.NoError(t, err)
	require.Equal(t, rec.DCID, sess.DCID)
	require.Equal(t, rec.ServerSalt, sess.ServerSalt)
	require.Equal(t, rec.SessionID, sess.SessionID)
	require.Equal(t, rec.ChannelPTS, sess.Updates.ChannelPTS)

	back := ToRecord(sess)
	require.Equal(t, rec.AuthKey, back.AuthKey)
	require.Equal(t, rec.UpdatesPTS, back.UpdatesPTS)
	require.Equal(t, rec.ChannelPTS, back.ChannelPTS)
}
