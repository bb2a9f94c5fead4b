package netdriver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LonamiWebs/gomtproto/internal/authkey"
	"github.com/LonamiWebs/gomtproto/internal/codec"
	"github.com/LonamiWebs/gomtproto/internal/msgcodec"
	"github.com/LonamiWebs/gomtproto/internal/mtcrypto"
	"github.com/LonamiWebs/gomtproto/internal/sender"
	"github.com/LonamiWebs/gomtproto/internal/session"
	"github.com/LonamiWebs/gomtproto/internal/tl"
)

// fakeFileDC plays the server side of a post-handshake connection: it
// decrypts whatever request arrives, using the session id the request
// itself carries (it has no prior knowledge of it), and replies with
// an rpc_result carrying replyPayload.
func fakeFileDC(t *testing.T, conn net.Conn, c *codec.Codec, key []byte, replyPayload []byte) {
	t.Helper()
	authKey, err := session.NewAuthKey(key)
	require.NoError(t, err)
	sess := &session.Session{Key: authKey, ServerSalt: 99}

	r := bufio.NewReaderSize(conn, 64*1024)
	buf := make([]byte, 0, 64*1024)
	tmp := make([]byte, 32*1024)
	for {
		frame, consumed, err := c.DecodeFrame(buf)
		if err == nil {
			buf = buf[consumed:]
			sessionID, reqMsgID, _, _, err := msgcodec.DecryptOutboundForTest(sess, frame)
			require.NoError(t, err)
			sess.SessionID = sessionID

			replyBody := tl.EncodeBoxed(&tl.RPCResult{
				ReqMsgID: reqMsgID,
				Body:     tl.EncodeBoxed(&tl.RawObject{CRCValue: 0xdeadbeef, Body: replyPayload}),
			})
			encFrame, err := msgcodec.SerializeInboundForTest(sess, reqMsgID+1, 1, replyBody, mtcrypto.SecureRandom)
			require.NoError(t, err)
			_, err = conn.Write(c.EncodeFrame(encFrame))
			require.NoError(t, err)
			return
		}
		require.ErrorIs(t, err, codec.ErrUnexpectedEOF)
		n, err := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		require.NoError(t, err)
	}
}

func TestReplayFileMigrationResolvesOriginalHandle(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	key := bytes.Repeat([]byte{0x42}, session.AuthKeyLength)
	replyPayload := []byte("file bytes from secondary dc")

	c := codec.New(codec.Intermediate)
	done := make(chan struct{})
	serverKey := append([]byte(nil), key...)
	go func() {
		fakeFileDC(t, serverConn, c, serverKey, replyPayload)
		close(done)
	}()

	drv := New(Config{DCID: 1, Addr: "unused", Port: 0})
	h := drv.snd.Push([]byte("upload.getFile request body"), sender.PushOptions{})

	ev := sender.Event{
		Kind:        sender.EventMigrate,
		Handle:      h,
		Payload:     []byte("upload.getFile request body"),
		MigrateKind: "FILE",
		MigrateDC:   2,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	drv.replayFileMigration(ctx, clientConn, c, &authkey.Result{AuthKey: key, ServerSalt: 1}, ev)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fake DC never saw the replayed request")
	}

	select {
	case outEv := <-drv.events:
		require.Equal(t, sender.EventRPCComplete, outEv.Kind)
		require.Same(t, h, outEv.Handle)
		require.NoError(t, outEv.Err)
		require.Equal(t, tl.EncodeBoxed(&tl.RawObject{CRCValue: 0xdeadbeef, Body: replyPayload}), outEv.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("CompleteMigratedReplay never emitted an EventRPCComplete")
	}

	_, ok := drv.snd.Completion(h)
	require.False(t, ok, "handle should be resolved, not still pending")
}

func TestFailReplayResolvesHandleWithError(t *testing.T) {
	drv := New(Config{DCID: 1, Addr: "unused", Port: 0})
	h := drv.snd.Push([]byte("request body"), sender.PushOptions{})

	boom := errors.New("migration target unreachable")
	drv.failReplay(h, boom)

	select {
	case outEv := <-drv.events:
		require.Equal(t, sender.EventRPCComplete, outEv.Kind)
		require.Same(t, h, outEv.Handle)
		require.ErrorIs(t, outEv.Err, boom)
	default:
		t.Fatal("expected an EventRPCComplete on failReplay")
	}
}
