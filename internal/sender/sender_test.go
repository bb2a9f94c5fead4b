package sender

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LonamiWebs/gomtproto/internal/coreerr"
	"github.com/LonamiWebs/gomtproto/internal/msgcodec"
	"github.com/LonamiWebs/gomtproto/internal/mtcrypto"
	"github.com/LonamiWebs/gomtproto/internal/session"
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

// serverReply encrypts body as if the server sent it back, using the
// same shared auth key but the server-to-client key derivation (x=8).
func serverReply(t *testing.T, s *session.Session, msgID int64, seqNo int32, obj tl.Object) []byte {
	t.Helper()
	body := tl.EncodeBoxed(obj)
	enc, err := msgcodec.SerializeInboundForTest(s, msgID, seqNo, body, mtcrypto.SecureRandom)
	require.NoError(t, err)
	return enc
}

func TestPushPollMatchesReply(t *testing.T) {
	sess := newTestSession(t)
	snd := New(sess, mtcrypto.SecureRandom)
	snd.SetAuthorized()

	h := snd.Push(tl.EncodeBoxed(&tl.HelpGetConfig{}), PushOptions{AckRequired: true, GzipCandidate: true})

	frame, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	require.NotNil(t, frame)

	_, reqMsgID, _, _, err := msgcodec.DecryptOutboundForTest(sess, frame)
	require.NoError(t, err)
	require.Len(t, snd.inFlight, 1)

	reply := serverReply(t, sess, reqMsgID+1, 1, &tl.RPCResult{
		ReqMsgID: reqMsgID,
		Body:     tl.EncodeBoxed(&tl.RawObject{CRCValue: 0x1, Body: []byte("ok")}),
	})

	events, err := snd.PushInbound(reply)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EventRPCComplete, events[0].Kind)
	require.Equal(t, h, events[0].Handle)
	require.NoError(t, events[0].Err)

	result, ok := snd.Completion(h)
	require.False(t, ok) // completed requests are dropped from the map
	_ = result
}

func TestCancelCompletesImmediatelyAndDropsLateReply(t *testing.T) {
	sess := newTestSession(t)
	snd := New(sess, mtcrypto.SecureRandom)
	snd.SetAuthorized()

	h := snd.Push(tl.EncodeBoxed(&tl.HelpGetConfig{}), PushOptions{AckRequired: true})
	frame, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	_, reqMsgID, _, _, err := msgcodec.DecryptOutboundForTest(sess, frame)
	require.NoError(t, err)

	pr, ok := snd.Completion(h)
	require.True(t, ok)

	snd.Cancel(h)
	res := pr.Wait()
	require.ErrorIs(t, res.Err, coreerr.ErrCancelled)

	// A late reply for the cancelled request must not panic or resurrect it.
	reply := serverReply(t, sess, reqMsgID+1, 1, &tl.RPCResult{
		ReqMsgID: reqMsgID,
		Body:     tl.EncodeBoxed(&tl.RawObject{CRCValue: 0x1, Body: []byte("ok")}),
	})
	events, err := snd.PushInbound(reply)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestFloodWaitBelowThresholdRetriesWithoutSurfacing(t *testing.T) {
	sess := newTestSession(t)
	snd := New(sess, mtcrypto.SecureRandom)
	snd.SetAuthorized()
	snd.FloodSleepThreshold = 60

	h := snd.Push(tl.EncodeBoxed(&tl.HelpGetConfig{}), PushOptions{AckRequired: true})
	frame, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	_, reqMsgID, _, _, err := msgcodec.DecryptOutboundForTest(sess, frame)
	require.NoError(t, err)

	reply := serverReply(t, sess, reqMsgID+1, 1, &tl.RPCResult{
		ReqMsgID: reqMsgID,
		Body:     tl.EncodeBoxed(&tl.RPCError{ErrorCode: 420, ErrorMessage: "FLOOD_WAIT_5"}),
	})
	events, err := snd.PushInbound(reply)
	require.NoError(t, err)
	require.Empty(t, events) // delayed internally, not surfaced as a failure

	pr, ok := snd.Completion(h)
	require.True(t, ok)
	select {
	case <-pr.Done():
		t.Fatal("request completed early; flood wait should have delayed it")
	default:
	}

	require.Len(t, snd.delayed, 1)
	snd.Tick(time.Now().Add(10 * time.Second))
	require.Empty(t, snd.delayed)
	require.Equal(t, 1, snd.queue.Length())
}

func TestMigrateErrorSurfacesEventAndFailsHandle(t *testing.T) {
	sess := newTestSession(t)
	snd := New(sess, mtcrypto.SecureRandom)
	snd.SetAuthorized()

	h := snd.Push(tl.EncodeBoxed(&tl.HelpGetConfig{}), PushOptions{AckRequired: true})
	frame, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	_, reqMsgID, _, _, err := msgcodec.DecryptOutboundForTest(sess, frame)
	require.NoError(t, err)

	reply := serverReply(t, sess, reqMsgID+1, 1, &tl.RPCResult{
		ReqMsgID: reqMsgID,
		Body:     tl.EncodeBoxed(&tl.RPCError{ErrorCode: 303, ErrorMessage: "PHONE_MIGRATE_2"}),
	})
	events, err := snd.PushInbound(reply)
	require.NoError(t, err)
	require.Len(t, events, 2)

	var sawMigrate, sawComplete bool
	for _, ev := range events {
		switch ev.Kind {
		case EventMigrate:
			sawMigrate = true
			require.Equal(t, "PHONE", ev.MigrateKind)
			require.Equal(t, 2, ev.MigrateDC)
		case EventRPCComplete:
			sawComplete = true
			require.Equal(t, h, ev.Handle)
			var migrateErr *coreerr.MigrateError
			require.True(t, coreerr.As(ev.Err, &migrateErr))
		}
	}
	require.True(t, sawMigrate)
	require.True(t, sawComplete)
}

func TestOrderedBatchSkipsLaterEntriesOnFailure(t *testing.T) {
	sess := newTestSession(t)
	snd := New(sess, mtcrypto.SecureRandom)
	snd.SetAuthorized()

	bodies := [][]byte{
		tl.EncodeBoxed(&tl.HelpGetConfig{}),
		tl.EncodeBoxed(&tl.HelpGetConfig{}),
		tl.EncodeBoxed(&tl.HelpGetConfig{}),
	}
	handles := snd.PushMany(bodies, true)
	require.Len(t, handles, 3)

	frame, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	require.NotNil(t, frame)
	require.Len(t, snd.inFlight, 3)

	var firstMsgID int64
	for msgID, item := range snd.inFlight {
		if item.handle == handles[0] {
			firstMsgID = msgID
		}
	}
	require.NotZero(t, firstMsgID)

	reply := serverReply(t, sess, firstMsgID+1, 1, &tl.RPCResult{
		ReqMsgID: firstMsgID,
		Body:     tl.EncodeBoxed(&tl.RPCError{ErrorCode: 400, ErrorMessage: "SOME_ERROR"}),
	})
	events, err := snd.PushInbound(reply)
	require.NoError(t, err)

	var completed, skipped int
	for _, ev := range events {
		require.Equal(t, EventRPCComplete, ev.Kind)
		if ev.Handle == handles[0] {
			completed++
			require.Error(t, ev.Err)
		} else {
			skipped++
			require.ErrorIs(t, ev.Err, errSkippedPriorFailure)
		}
	}
	require.Equal(t, 1, completed)
	require.Equal(t, 2, skipped)
	require.Empty(t, snd.inFlight)
}

func TestBadServerSaltResendsWithFreshMsgID(t *testing.T) {
	sess := newTestSession(t)
	snd := New(sess, mtcrypto.SecureRandom)
	snd.SetAuthorized()

	snd.Push(tl.EncodeBoxed(&tl.HelpGetConfig{}), PushOptions{AckRequired: true})
	frame, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	_, reqMsgID, _, _, err := msgcodec.DecryptOutboundForTest(sess, frame)
	require.NoError(t, err)

	reply := serverReply(t, sess, reqMsgID+1, 1, &tl.BadServerSalt{
		BadMsgID: reqMsgID, BadMsgSeqno: 1, ErrorCode: 48, NewServerSalt: 0xabad1dea,
	})
	events, err := snd.PushInbound(reply)
	require.NoError(t, err)
	require.Empty(t, events)

	require.Equal(t, int64(0xabad1dea), sess.ServerSalt)
	require.Equal(t, 1, snd.queue.Length())
	require.Empty(t, snd.inFlight)

	frame2, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	require.NotNil(t, frame2)
	require.Len(t, snd.inFlight, 1)
}

func TestBadServerSaltSurfacesErrorOnceMaxRetriesExceeded(t *testing.T) {
	sess := newTestSession(t)
	snd := New(sess, mtcrypto.SecureRandom)
	snd.SetAuthorized()
	snd.MaxRetries = 2

	h := snd.Push(tl.EncodeBoxed(&tl.HelpGetConfig{}), PushOptions{AckRequired: true})

	for i := 0; i < snd.MaxRetries; i++ {
		frame, err := snd.PollOutbound(time.Now())
		require.NoError(t, err)
		_, reqMsgID, _, _, err := msgcodec.DecryptOutboundForTest(sess, frame)
		require.NoError(t, err)

		reply := serverReply(t, sess, reqMsgID+1, 1, &tl.BadServerSalt{
			BadMsgID: reqMsgID, BadMsgSeqno: 1, ErrorCode: 48, NewServerSalt: int64(i) + 1,
		})
		events, err := snd.PushInbound(reply)
		require.NoError(t, err)
		require.Empty(t, events) // still within budget, resent silently
		require.Equal(t, 1, snd.queue.Length())
	}

	// One more bad_server_salt exceeds MaxRetries and must surface.
	frame, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	_, reqMsgID, _, _, err := msgcodec.DecryptOutboundForTest(sess, frame)
	require.NoError(t, err)

	reply := serverReply(t, sess, reqMsgID+1, 1, &tl.BadServerSalt{
		BadMsgID: reqMsgID, BadMsgSeqno: 1, ErrorCode: 48, NewServerSalt: 0xdead,
	})
	events, err := snd.PushInbound(reply)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EventRPCComplete, events[0].Kind)
	require.Equal(t, h, events[0].Handle)
	require.Error(t, events[0].Err)

	_, ok := snd.Completion(h)
	require.False(t, ok)
}

func TestBadMsgNotificationSurfacesErrorOnceMaxRetriesExceeded(t *testing.T) {
	sess := newTestSession(t)
	snd := New(sess, mtcrypto.SecureRandom)
	snd.SetAuthorized()
	snd.MaxRetries = 1

	h := snd.Push(tl.EncodeBoxed(&tl.HelpGetConfig{}), PushOptions{AckRequired: true})

	frame, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	_, reqMsgID, _, _, err := msgcodec.DecryptOutboundForTest(sess, frame)
	require.NoError(t, err)
	reply := serverReply(t, sess, reqMsgID+1, 1, &tl.BadMsgNotification{
		BadMsgID: reqMsgID, BadMsgSeqno: 1, ErrorCode: 16,
	})
	events, err := snd.PushInbound(reply)
	require.NoError(t, err)
	require.Empty(t, events)

	frame2, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	_, reqMsgID2, _, _, err := msgcodec.DecryptOutboundForTest(sess, frame2)
	require.NoError(t, err)
	reply2 := serverReply(t, sess, reqMsgID2+1, 1, &tl.BadMsgNotification{
		BadMsgID: reqMsgID2, BadMsgSeqno: 1, ErrorCode: 17,
	})
	events2, err := snd.PushInbound(reply2)
	require.NoError(t, err)
	require.Len(t, events2, 1)
	require.Equal(t, EventRPCComplete, events2[0].Kind)
	require.Equal(t, h, events2[0].Handle)
	require.Error(t, events2[0].Err)
}

func TestDisconnectSurfacesErrorOnceMaxRetriesExceeded(t *testing.T) {
	sess := newTestSession(t)
	snd := New(sess, mtcrypto.SecureRandom)
	snd.SetAuthorized()
	snd.MaxRetries = 1

	h := snd.Push(tl.EncodeBoxed(&tl.HelpGetConfig{}), PushOptions{AckRequired: true})
	_, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)

	events := snd.Disconnect(coreerr.ErrDisconnected)
	require.Len(t, events, 1)
	require.Equal(t, EventDisconnect, events[0].Kind)
	require.Equal(t, 1, snd.queue.Length())

	snd.SetAuthorized()
	_, err = snd.PollOutbound(time.Now())
	require.NoError(t, err)

	events2 := snd.Disconnect(coreerr.ErrDisconnected)
	require.Len(t, events2, 2)

	var sawComplete bool
	for _, ev := range events2 {
		if ev.Kind == EventRPCComplete {
			sawComplete = true
			require.Equal(t, h, ev.Handle)
			require.Error(t, ev.Err)
		}
	}
	require.True(t, sawComplete)
	require.Empty(t, snd.queue.Length())
}

func TestFloodWaitSurfacesErrorOnceMaxRetriesExceeded(t *testing.T) {
	sess := newTestSession(t)
	snd := New(sess, mtcrypto.SecureRandom)
	snd.SetAuthorized()
	snd.MaxRetries = 1
	snd.FloodSleepThreshold = 60

	h := snd.Push(tl.EncodeBoxed(&tl.HelpGetConfig{}), PushOptions{AckRequired: true})
	frame, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	_, reqMsgID, _, _, err := msgcodec.DecryptOutboundForTest(sess, frame)
	require.NoError(t, err)
	reply := serverReply(t, sess, reqMsgID+1, 1, &tl.RPCResult{
		ReqMsgID: reqMsgID,
		Body:     tl.EncodeBoxed(&tl.RPCError{ErrorCode: 420, ErrorMessage: "FLOOD_WAIT_5"}),
	})
	events, err := snd.PushInbound(reply)
	require.NoError(t, err)
	require.Empty(t, events)
	require.Len(t, snd.delayed, 1)
	snd.Tick(time.Now().Add(10 * time.Second))
	require.Equal(t, 1, snd.queue.Length())

	frame2, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	_, reqMsgID2, _, _, err := msgcodec.DecryptOutboundForTest(sess, frame2)
	require.NoError(t, err)
	reply2 := serverReply(t, sess, reqMsgID2+1, 1, &tl.RPCResult{
		ReqMsgID: reqMsgID2,
		Body:     tl.EncodeBoxed(&tl.RPCError{ErrorCode: 420, ErrorMessage: "FLOOD_WAIT_5"}),
	})
	events2, err := snd.PushInbound(reply2)
	require.NoError(t, err)
	require.Len(t, events2, 1)
	require.Equal(t, EventRPCComplete, events2[0].Kind)
	require.Equal(t, h, events2[0].Handle)
	var floodErr *coreerr.FloodWaitError
	require.True(t, coreerr.As(events2[0].Err, &floodErr))
	require.Empty(t, snd.delayed)
}

func TestRpcMcgetFailRetriesThenSurfaces(t *testing.T) {
	sess := newTestSession(t)
	snd := New(sess, mtcrypto.SecureRandom)
	snd.SetAuthorized()
	snd.MaxRetries = 1

	h := snd.Push(tl.EncodeBoxed(&tl.HelpGetConfig{}), PushOptions{AckRequired: true})
	frame, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	_, reqMsgID, _, _, err := msgcodec.DecryptOutboundForTest(sess, frame)
	require.NoError(t, err)
	reply := serverReply(t, sess, reqMsgID+1, 1, &tl.RPCResult{
		ReqMsgID: reqMsgID,
		Body:     tl.EncodeBoxed(&tl.RPCError{ErrorCode: 500, ErrorMessage: "RPC_MCGET_FAIL"}),
	})
	events, err := snd.PushInbound(reply)
	require.NoError(t, err)
	require.Empty(t, events)
	require.Equal(t, 1, snd.queue.Length())

	frame2, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	_, reqMsgID2, _, _, err := msgcodec.DecryptOutboundForTest(sess, frame2)
	require.NoError(t, err)
	reply2 := serverReply(t, sess, reqMsgID2+1, 1, &tl.RPCResult{
		ReqMsgID: reqMsgID2,
		Body:     tl.EncodeBoxed(&tl.RPCError{ErrorCode: 500, ErrorMessage: "RPC_MCGET_FAIL"}),
	})
	events2, err := snd.PushInbound(reply2)
	require.NoError(t, err)
	require.Len(t, events2, 1)
	require.Equal(t, EventRPCComplete, events2[0].Kind)
	require.Equal(t, h, events2[0].Handle)
	var mcgetErr *coreerr.RpcMcgetFailError
	require.True(t, coreerr.As(events2[0].Err, &mcgetErr))
}

func TestDisconnectRetainsInFlightAndQueued(t *testing.T) {
	sess := newTestSession(t)
	snd := New(sess, mtcrypto.SecureRandom)
	snd.SetAuthorized()

	snd.Push(tl.EncodeBoxed(&tl.HelpGetConfig{}), PushOptions{AckRequired: true})
	_, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	require.Len(t, snd.inFlight, 1)

	snd.Push(tl.EncodeBoxed(&tl.HelpGetConfig{}), PushOptions{AckRequired: true})
	require.Equal(t, 1, snd.queue.Length())

	events := snd.Disconnect(coreerr.ErrDisconnected)
	require.Len(t, events, 1)
	require.Equal(t, EventDisconnect, events[0].Kind)
	require.Empty(t, snd.inFlight)
	require.Equal(t, 2, snd.queue.Length())
}

func TestCloseFailsEverythingWithDisconnected(t *testing.T) {
	sess := newTestSession(t)
	snd := New(sess, mtcrypto.SecureRandom)
	snd.SetAuthorized()

	h1 := snd.Push(tl.EncodeBoxed(&tl.HelpGetConfig{}), PushOptions{AckRequired: true})
	_, err := snd.PollOutbound(time.Now())
	require.NoError(t, err)
	h2 := snd.Push(tl.EncodeBoxed(&tl.HelpGetConfig{}), PushOptions{AckRequired: true})

	events := snd.Close(coreerr.ErrDisconnected)
	var handlesSeen int
	for _, ev := range events {
		if ev.Kind == EventRPCComplete {
			handlesSeen++
			require.ErrorIs(t, ev.Err, coreerr.ErrDisconnected)
			require.True(t, ev.Handle == h1 || ev.Handle == h2)
		}
	}
	require.Equal(t, 2, handlesSeen)
}
