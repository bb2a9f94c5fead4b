// Package netdriver owns the only goroutines and only I/O in this
// module (§4.6, §5): it dials a DC, runs the handshake, then drives
// internal/sender's sans-I/O state machine with a reader task, a
// writer task, and a ticker, reconnecting with exponential backoff and
// reacting to EventMigrate by opening a fresh connection to another
// DC. internal/sender and internal/authkey never touch the network
// themselves; this package is where their push/poll/tick calls meet
// an actual net.Conn.
package netdriver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"
	"golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/LonamiWebs/gomtproto/internal/authkey"
	"github.com/LonamiWebs/gomtproto/internal/codec"
	"github.com/LonamiWebs/gomtproto/internal/coreerr"
	"github.com/LonamiWebs/gomtproto/internal/metrics"
	"github.com/LonamiWebs/gomtproto/internal/mtcrypto"
	"github.com/LonamiWebs/gomtproto/internal/sender"
	"github.com/LonamiWebs/gomtproto/internal/session"
)

// Resolver maps a DC id to a dialable address, for migration (§4.6,
// §12 DC address table). A nil Resolver means migration only fails
// loudly via an EventMigrate the caller must handle itself.
type Resolver func(dcID int) (addr string, port int, ok bool)

// Config configures one Driver. Zero values fall back to the §4.6
// defaults.
type Config struct {
	DCID      int
	Addr      string
	Port      int
	Mode      codec.Mode
	Obfuscate bool

	DialTimeout         time.Duration
	PingInterval        time.Duration
	PingDisconnectDelay time.Duration
	ReconnectBaseDelay  time.Duration
	ReconnectMaxDelay   time.Duration
	MaxConcurrentDials  int64

	// ProxyAddr, if set, routes every dial through a SOCKS5 proxy at
	// this address (golang.org/x/net/proxy), matching the teacher
	// stack's support for proxied transports.
	ProxyAddr string

	KeyStore authkey.KeyStore
	Resolver Resolver

	// Metrics, if non-nil, records reconnect attempts and frames
	// written (§11). A nil Metrics is always safe to pass through.
	Metrics *metrics.Metrics

	// Dialer overrides the default context-aware TCP (or proxied)
	// dialer; tests substitute one backed by net.Pipe.
	Dialer func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Driver runs one logical connection to a DC, transparently
// reconnecting and migrating as instructed by Sender/Handshake events.
type Driver struct {
	cfg     Config
	logger  *charmlog.Logger
	dialSem *semaphore.Weighted

	sess *session.Session
	snd  *sender.Sender

	events chan sender.Event

	connMu sync.Mutex
	conn   net.Conn

	lastPlainMsgID int64

	keepaliveMu sync.Mutex
	keepalive   *keepalive
}

// errDeadPeer marks a connection torn down because the server stayed
// silent past the ping_delay_disconnect deadline.
var errDeadPeer = errors.New("netdriver: peer silent past ping_delay_disconnect deadline")

// New returns a Driver that has not yet connected; call Run to start
// it, in its own goroutine or under an errgroup.
func New(cfg Config) *Driver {
	if cfg.MaxConcurrentDials <= 0 {
		cfg.MaxConcurrentDials = 2 // primary DC plus one in-flight migration
	}
	if cfg.Dialer == nil {
		cfg.Dialer = defaultDialer(cfg.ProxyAddr, cfg.DialTimeout)
	}

	sess := session.New(cfg.DCID, cfg.Addr, cfg.Port)
	return &Driver{
		cfg:     cfg,
		logger:  charmlog.NewWithOptions(os.Stderr, charmlog.Options{ReportTimestamp: true, Prefix: "netdriver"}),
		dialSem: semaphore.NewWeighted(cfg.MaxConcurrentDials),
		sess:    sess,
		snd:     sender.New(sess, mtcrypto.SecureRandom),
		events:  make(chan sender.Event, 256),
	}
}

// Events returns the channel of RPC completions, updates, disconnects
// and migration notices the Driver emits (§4.6, §5 bounded queues).
func (d *Driver) Events() <-chan sender.Event { return d.events }

// Push enqueues an RPC through the underlying Sender. It is safe to
// call concurrently with Run.
func (d *Driver) Push(body []byte, opts sender.PushOptions) *sender.Handle {
	return d.snd.Push(body, opts)
}

// PushMany enqueues an ordered or unordered batch (§4.5).
func (d *Driver) PushMany(bodies [][]byte, ordered bool) []*sender.Handle {
	return d.snd.PushMany(bodies, ordered)
}

// Cancel aborts a pending or in-flight request (§5 Cancellation).
func (d *Driver) Cancel(h *sender.Handle) { d.snd.Cancel(h) }

// Close fails every queued, in-flight, and delayed request with
// coreerr.ErrDisconnected and reports the events on the Driver's own
// channel, for a caller that wants completions delivered through the
// same channel Run feeds. Run itself should be stopped via context
// cancellation; Close only settles the Sender's bookkeeping.
func (d *Driver) Close() {
	for _, ev := range d.snd.Close(coreerr.ErrDisconnected) {
		d.emit(ev)
	}
}

// SessionData returns the session's current (dc, addr, port, auth key,
// salt, session id) tuple for persistence (§4.7, §6).
func (d *Driver) SessionData() *session.Session { return d.sess }

// Sender returns the underlying sans-I/O Sender, for a caller (the
// updates reconciler) that needs to originate its own requests
// (getDifference/getChannelDifference) or wait on a Handle's
// completion directly rather than through the Driver's own Push.
func (d *Driver) Sender() *sender.Sender { return d.snd }

// Disconnect forcibly drops the connection currently in service, if
// any, so Run's usual backoff-and-redial path takes over (§4.6). The
// updates reconciler calls this when a getDifference/getChannelDifference
// fetch has failed twice in a row (once, plus one retry), per §4.8:
// "the fetch is retried once on transient failure and then the
// connection is dropped to trigger re-authorization of state." This
// only closes the socket; Run's own error handling does the rest
// (Sender.Disconnect bookkeeping, backoff, redial).
func (d *Driver) Disconnect(reason error) {
	d.connMu.Lock()
	conn := d.conn
	d.connMu.Unlock()
	if conn == nil {
		return
	}
	d.logger.Warn("forcing disconnect", "reason", reason)
	conn.Close()
}

func defaultDialer(proxyAddr string, timeout time.Duration) func(context.Context, string, string) (net.Conn, error) {
	base := &net.Dialer{Timeout: timeout}
	if proxyAddr == "" {
		return base.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		d, err := proxy.SOCKS5(network, proxyAddr, nil, base)
		if err != nil {
			return nil, err
		}
		if ctxDialer, ok := d.(proxy.ContextDialer); ok {
			return ctxDialer.DialContext(ctx, network, addr)
		}
		return d.Dial(network, addr)
	}
}

// Run dials, handshakes, and services the connection until ctx is
// cancelled, reconnecting with exponential backoff (§4.6) whenever the
// connection drops. It returns only when ctx is done or a fatal,
// non-retryable error occurs (a bad auth key).
func (d *Driver) Run(ctx context.Context) error {
	defer close(d.events)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := d.runOnce(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		var badKey *coreerr.BadAuthKeyError
		if coreerr.As(err, &badKey) {
			d.logger.Error("auth key compromised, giving up", "err", err)
			return err
		}

		for _, ev := range d.snd.Disconnect(&coreerr.IoError{Err: err}) {
			d.emit(ev)
		}

		delay := nextBackoff(attempt, d.cfg.ReconnectBaseDelay, d.cfg.ReconnectMaxDelay, reconnectJitterFrac, rand.Float64)
		d.logger.Warn("connection lost, reconnecting", "attempt", attempt, "delay", delay, "err", err)
		d.cfg.Metrics.ReconnectsInc()
		attempt++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runOnce dials once, performs the handshake if needed, then services
// the connection's reader/writer/ticker tasks until it fails or ctx is
// done.
func (d *Driver) runOnce(ctx context.Context) error {
	if err := d.dialSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.dialSem.Release(1)

	conn, err := d.cfg.Dialer(ctx, "tcp", net.JoinHostPort(d.cfg.Addr, fmt.Sprint(d.cfg.Port)))
	if err != nil {
		return err
	}
	defer conn.Close()

	if d.cfg.Obfuscate {
		conn, err = dialObfuscated(conn, protocolIDFor(d.cfg.Mode))
		if err != nil {
			return err
		}
	}

	d.connMu.Lock()
	d.conn = conn
	d.connMu.Unlock()
	defer func() {
		d.connMu.Lock()
		d.conn = nil
		d.connMu.Unlock()
	}()

	frameCodec := codec.New(d.cfg.Mode)
	if !d.cfg.Obfuscate {
		if err := d.writeStreamMagic(conn, frameCodec); err != nil {
			return err
		}
	}

	if d.sess.Key == nil {
		d.snd.SetHandshaking()
		result, err := d.handshake(ctx, conn, frameCodec)
		if err != nil {
			return err
		}
		key, err := session.NewAuthKey(result.AuthKey)
		if err != nil {
			return err
		}
		d.sess.Lock()
		d.sess.Key = key
		d.sess.ServerSalt = result.ServerSalt
		d.sess.TimeOffset = result.TimeOffset
		d.sess.Unlock()

		sessionID, err := randomSessionID()
		if err != nil {
			return err
		}
		d.sess.Lock()
		d.sess.SessionID = sessionID
		d.sess.Unlock()
	}
	d.snd.SetAuthorized()

	return d.serve(ctx, conn, frameCodec)
}

// writeStreamMagic sends the one-time framing magic a fresh TCP
// connection must open with (§4.1).
func (d *Driver) writeStreamMagic(conn net.Conn, c *codec.Codec) error {
	if c.Mode != codec.Abridged {
		_, err := conn.Write(codec.IntermediateMagic[:])
		return err
	}
	_, err := conn.Write([]byte{codec.AbridgedMagic})
	return err
}

// protocolIDFor returns the obfuscation protocol tag matching mode's
// cleartext magic (§4.1): 0xefefefef for abridged, 0xeeeeeeee for
// intermediate.
func protocolIDFor(mode codec.Mode) uint32 {
	if mode == codec.Abridged {
		return 0xefefefef
	}
	return 0xeeeeeeee
}

func randomSessionID() (int64, error) {
	raw, err := mtcrypto.SecureRandom(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(raw)), nil
}

// serve runs the reader, writer, and ticker tasks for one established,
// authorized connection until one of them reports a fatal error.
func (d *Driver) serve(ctx context.Context, conn net.Conn, c *codec.Codec) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.readLoop(gctx, conn, c) })
	g.Go(func() error { return d.writeLoop(gctx, conn, c) })

	return g.Wait()
}
