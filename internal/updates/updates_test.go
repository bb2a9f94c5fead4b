package updates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LonamiWebs/gomtproto/internal/mtcrypto"
	"github.com/LonamiWebs/gomtproto/internal/sender"
	"github.com/LonamiWebs/gomtproto/internal/session"
	"github.com/LonamiWebs/gomtproto/internal/sessionstore"
	"github.com/LonamiWebs/gomtproto/internal/tl"
)

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	raw, err := mtcrypto.SecureRandom(session.AuthKeyLength)
	require.NoError(t, err)
	key, err := session.NewAuthKey(raw)
	require.NoError(t, err)

	sess := session.New(1, "127.0.0.1", 443)
	sess.Key = key
	sess.ServerSalt = 0x0102030405060708
	sess.SessionID = 0x1122334455667788
	return sess
}

func newTestReconciler(t *testing.T) (*Reconciler, *sender.Sender) {
	t.Helper()
	sess := newTestSession(t)
	snd := sender.New(sess, mtcrypto.SecureRandom)
	snd.SetAuthorized()
	return New(sess, snd), snd
}

func TestHandleSeqAppliesExactSuccessor(t *testing.T) {
	r, _ := newTestReconciler(t)
	r.sess.Updates.Seq = 10

	verdict := r.HandleSeq(11, 11, 1700000000)
	require.Equal(t, Applied, verdict)
	require.EqualValues(t, 11, r.sess.Updates.Seq)
	require.EqualValues(t, 1700000000, r.sess.Updates.Date)
}

func TestHandleSeqDetectsGapAndIssuesGetDifference(t *testing.T) {
	r, snd := newTestReconciler(t)
	r.sess.Updates.Seq = 10

	verdict := r.HandleSeq(12, 12, 1700000000)
	require.Equal(t, Detected, verdict)
	require.EqualValues(t, 10, r.sess.Updates.Seq) // unchanged until difference resolves

	frame, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	require.NotNil(t, frame, "a getDifference request should have been pushed")
}

func TestHandleSeqDiscardsDuplicate(t *testing.T) {
	r, snd := newTestReconciler(t)
	r.sess.Updates.Seq = 10

	verdict := r.HandleSeq(9, 9, 1700000000)
	require.Equal(t, Duplicate, verdict)

	frame, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	require.Nil(t, frame, "a duplicate must not trigger a fetch")
}

func TestHandleAccountPTSAppliesAndDetectsGap(t *testing.T) {
	r, _ := newTestReconciler(t)
	r.sess.Updates.PTS = 100

	require.Equal(t, Applied, r.HandleAccountPTS(105, 5))
	require.EqualValues(t, 105, r.sess.Updates.PTS)

	require.Equal(t, Detected, r.HandleAccountPTS(120, 5))
	require.EqualValues(t, 105, r.sess.Updates.PTS) // unchanged, gap still open
}

func TestHandleChannelPTSIsIndependentPerChannel(t *testing.T) {
	r, snd := newTestReconciler(t)
	r.sess.Updates.ChannelPTS[1001] = 50

	require.Equal(t, Applied, r.HandleChannelPTS(1001, 52, 2))
	require.EqualValues(t, 52, r.sess.Updates.ChannelPTS[1001])

	require.Equal(t, Detected, r.HandleChannelPTS(1001, 70, 2))

	frame, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	require.NotNil(t, frame, "a channel gap should push getChannelDifference")

	// A second, unrelated channel's gap check must issue its own fetch
	// independent of channel 1001's pending one.
	require.Equal(t, Detected, r.HandleChannelPTS(2002, 40, 2))
	frame2, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	require.NotNil(t, frame2)
}

func TestDispatchReleasesShortMessageImmediately(t *testing.T) {
	r, _ := newTestReconciler(t)
	r.sess.Updates.PTS = 10

	payload := tl.EncodeBoxed(&tl.UpdateShortMessage{
		ID: 1, UserID: 42, Message: "hi", PTS: 11, PTSCount: 1, Date: 1700000000,
	})
	r.Dispatch(sender.Event{Kind: sender.EventUpdateReceived, Payload: payload})

	ready := r.Ready()
	require.Len(t, ready, 1)
	require.Equal(t, payload, ready[0].Body)
}

func TestDispatchBuffersDuringGapThenReleasesOnDifferenceCompletion(t *testing.T) {
	r, snd := newTestReconciler(t)
	r.sess.Updates.PTS = 10

	gapPayload := tl.EncodeBoxed(&tl.UpdateShortMessage{
		ID: 1, UserID: 42, Message: "gap", PTS: 30, PTSCount: 1, Date: 1700000000,
	})
	r.Dispatch(sender.Event{Kind: sender.EventUpdateReceived, Payload: gapPayload})
	require.Empty(t, r.Ready(), "buffered update must not be released before the fetch resolves")
	require.NotNil(t, r.pendingDifference)

	diffResponse := []byte("decoded-elsewhere")
	r.Dispatch(sender.Event{Kind: sender.EventRPCComplete, Handle: r.pendingDifference, Payload: diffResponse})

	ready := r.Ready()
	require.Len(t, ready, 2)
	require.Equal(t, diffResponse, ready[0].Body)
	require.Equal(t, gapPayload, ready[1].Body)
	require.Nil(t, r.pendingDifference)

	_, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
}

func TestDispatchRetriesFailedDifferenceOnceThenDisconnects(t *testing.T) {
	r, snd := newTestReconciler(t)
	r.sess.Updates.PTS = 10

	var disconnectErr error
	disconnects := 0
	r.SetDisconnector(func(err error) {
		disconnects++
		disconnectErr = err
	})

	gapPayload := tl.EncodeBoxed(&tl.UpdateShortMessage{
		ID: 1, UserID: 42, Message: "gap", PTS: 30, PTSCount: 1, Date: 1700000000,
	})
	r.Dispatch(sender.Event{Kind: sender.EventUpdateReceived, Payload: gapPayload})
	require.NotNil(t, r.pendingDifference)
	firstHandle := r.pendingDifference

	boom := require.AnError
	r.Dispatch(sender.Event{Kind: sender.EventRPCComplete, Handle: firstHandle, Err: boom})

	require.Empty(t, r.Ready(), "a failed fetch must not release what was buffered during the gap")
	require.Zero(t, disconnects, "the first failure only retries, it does not disconnect yet")
	require.NotNil(t, r.pendingDifference, "the retry must have issued a fresh getDifference")
	require.NotSame(t, firstHandle, r.pendingDifference)

	frame, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	require.NotNil(t, frame, "the retried getDifference should be on the wire")

	secondHandle := r.pendingDifference
	r.Dispatch(sender.Event{Kind: sender.EventRPCComplete, Handle: secondHandle, Err: boom})

	require.Empty(t, r.Ready(), "a second consecutive failure still must not release buffered updates")
	require.Equal(t, 1, disconnects, "a second consecutive failure must drop the connection")
	require.ErrorIs(t, disconnectErr, boom)
	require.Nil(t, r.pendingDifference)

	// A later gap is free to retry from scratch.
	r.Dispatch(sender.Event{Kind: sender.EventUpdateReceived, Payload: gapPayload})
	require.NotNil(t, r.pendingDifference)
}

func TestDispatchReleasesBufferedUpdatesOnceDifferenceEventuallySucceeds(t *testing.T) {
	r, _ := newTestReconciler(t)
	r.sess.Updates.PTS = 10

	gapPayload := tl.EncodeBoxed(&tl.UpdateShortMessage{
		ID: 1, UserID: 42, Message: "gap", PTS: 30, PTSCount: 1, Date: 1700000000,
	})
	r.Dispatch(sender.Event{Kind: sender.EventUpdateReceived, Payload: gapPayload})
	firstHandle := r.pendingDifference

	r.Dispatch(sender.Event{Kind: sender.EventRPCComplete, Handle: firstHandle, Err: require.AnError})
	require.NotNil(t, r.pendingDifference)
	retryHandle := r.pendingDifference

	diffResponse := []byte("decoded-elsewhere")
	r.Dispatch(sender.Event{Kind: sender.EventRPCComplete, Handle: retryHandle, Payload: diffResponse})

	ready := r.Ready()
	require.Len(t, ready, 2)
	require.Equal(t, diffResponse, ready[0].Body)
	require.Equal(t, gapPayload, ready[1].Body)
}

func TestDispatchRetriesFailedChannelDifferenceOnceThenDisconnects(t *testing.T) {
	r, snd := newTestReconciler(t)
	r.sess.Updates.ChannelPTS[1001] = 50

	var disconnects int
	r.SetDisconnector(func(error) { disconnects++ })

	require.Equal(t, Detected, r.HandleChannelPTS(1001, 70, 2))
	firstHandle := r.pendingChannelDiff[1001]

	r.Dispatch(sender.Event{Kind: sender.EventRPCComplete, Handle: firstHandle, Err: require.AnError})
	require.Zero(t, disconnects)
	retryHandle, ok := r.pendingChannelDiff[1001]
	require.True(t, ok, "the retry must have re-issued getChannelDifference for the same channel")
	require.NotSame(t, firstHandle, retryHandle)

	frame, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	require.NotNil(t, frame)

	r.Dispatch(sender.Event{Kind: sender.EventRPCComplete, Handle: retryHandle, Err: require.AnError})
	require.Equal(t, 1, disconnects)
	_, stillPending := r.pendingChannelDiff[1001]
	require.False(t, stillPending)
}

func TestDispatchIssuesGetDifferenceForOpaqueUpdatesContainer(t *testing.T) {
	r, snd := newTestReconciler(t)

	opaque := tl.EncodeBoxed(&tl.RawObject{CRCValue: tl.CRCUpdatesCombined, Body: []byte("opaque-vectors")})
	r.Dispatch(sender.Event{Kind: sender.EventUpdateReceived, Payload: opaque})

	require.NotNil(t, r.pendingDifference)
	frame, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	require.NotNil(t, frame)
}

func TestPersisterSavesOnTickAndOnStop(t *testing.T) {
	sess := newTestSession(t)
	dir := t.TempDir()
	store, err := sessionstore.OpenBboltStore(dir+"/session.bbolt", 0)
	require.NoError(t, err)
	defer store.Close()

	p := NewPersister(sess, store, 20*time.Millisecond, 1000000)
	p.Start()
	time.Sleep(60 * time.Millisecond)
	p.Stop()

	rec, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sess.DCID, rec.DCID)
}
