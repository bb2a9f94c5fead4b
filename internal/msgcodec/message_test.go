package msgcodec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LonamiWebs/gomtproto/internal/mtcrypto"
	"github.com/LonamiWebs/gomtproto/internal/session"
)

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	raw, err := mtcrypto.SecureRandom(session.AuthKeyLength)
	require.NoError(t, err)
	key, err := session.NewAuthKey(raw)
	require.NoError(t, err)

	s := session.New(2, "149.154.167.50", 443)
	s.Key = key
	s.ServerSalt = 0x1122334455
	s.SessionID = 0x6677889900aabbcc
	return s
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	for _, size := range []int{1, 16, 512, 1024, 10000, 1_000_000} {
		s := newTestSession(t)
		body, err := mtcrypto.SecureRandom(size)
		require.NoError(t, err)

		msgID := AssignMessageID(s, time.Now().Unix(), true)
		seqNo := NextSeqNo(s, true)

		enc, err := SerializeOutbound(s, msgID, seqNo, body, mtcrypto.SecureRandom)
		require.NoError(t, err)

		frame := enc.Bytes()
		gotSessionID, gotMsgID, gotSeqNo, gotBody, err := DecryptOutboundForTest(s, frame)
		require.NoError(t, err)
		require.Equal(t, s.SessionID, gotSessionID)
		require.Equal(t, msgID, gotMsgID)
		require.Equal(t, seqNo, gotSeqNo)
		require.Equal(t, body, gotBody)
	}
}

func TestMessageIDStrictlyMonotonic(t *testing.T) {
	s := newTestSession(t)
	now := time.Now().Unix()

	var last int64
	for i := 0; i < 5000; i++ {
		id := AssignMessageID(s, now, true)
		require.Greater(t, id, last)
		last = id
	}
}

func TestSeqNoFormula(t *testing.T) {
	s := newTestSession(t)

	require.Equal(t, int32(1), NextSeqNo(s, true))  // count 0 -> 2*0+1
	require.Equal(t, int32(3), NextSeqNo(s, true))  // count 1 -> 2*1+1
	require.Equal(t, int32(4), NextSeqNo(s, false)) // count 2, non-content -> 2*2+0
	require.Equal(t, int32(5), NextSeqNo(s, true))  // count 2 -> 2*2+1
}

func TestBadAuthKeyOnTamperedFrame(t *testing.T) {
	s := newTestSession(t)
	msgID := AssignMessageID(s, time.Now().Unix(), true)
	seqNo := NextSeqNo(s, true)

	enc, err := SerializeOutbound(s, msgID, seqNo, []byte("hello"), mtcrypto.SecureRandom)
	require.NoError(t, err)

	frame := enc.Bytes()
	frame[len(frame)-1] ^= 0xff // flip a ciphertext bit

	_, _, _, _, err = DecryptOutboundForTest(s, frame)
	require.ErrorIs(t, err, ErrBadAuthKey)
}

func TestGzipOnlyUsedWhenSmaller(t *testing.T) {
	small := []byte("short body")
	_, ok, err := GzipIfSmaller(small)
	require.NoError(t, err)
	require.False(t, ok)

	compressible := make([]byte, 4096) // all zero, compresses extremely well
	packed, ok, err := GzipIfSmaller(compressible)
	require.NoError(t, err)
	require.True(t, ok)
	require.Less(t, len(packed), len(compressible))

	incompressible, err := mtcrypto.SecureRandom(4096)
	require.NoError(t, err)
	_, ok, err = GzipIfSmaller(incompressible)
	require.NoError(t, err)
	require.False(t, ok)
}
