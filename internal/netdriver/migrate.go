package netdriver

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"time"

	"github.com/LonamiWebs/gomtproto/internal/authkey"
	"github.com/LonamiWebs/gomtproto/internal/codec"
	"github.com/LonamiWebs/gomtproto/internal/coreerr"
	"github.com/LonamiWebs/gomtproto/internal/mtcrypto"
	"github.com/LonamiWebs/gomtproto/internal/sender"
	"github.com/LonamiWebs/gomtproto/internal/session"
)

// onMigrate reacts to an EventMigrate surfaced by the Sender (§4.5,
// §4.6): it resolves the target DC's address and, if a Resolver was
// configured, opens a secondary connection and performs a fresh
// handshake against it in the background. For a FILE migration the
// event carries the one request that triggered it (ev.Handle,
// ev.Payload); once the secondary connection is authorized this
// replays that single request over it and resolves the original
// Handle with whatever comes back, without disturbing the still-live
// primary connection (§8 scenario 5). Any other migration kind only
// proves the new DC reachable and authorizable; promoting it to the
// primary connection is left to the caller (internal/dc or the public
// Client), matching the spec's "open a secondary connection,
// export/import authorization" description.
func (d *Driver) onMigrate(ev sender.Event) {
	fail := func(err error) {
		if ev.MigrateKind == "FILE" && ev.Handle != nil {
			d.failReplay(ev.Handle, err)
		}
	}

	if d.cfg.Resolver == nil {
		d.logger.Warn("migrate requested but no DC resolver configured", "kind", ev.MigrateKind, "dc", ev.MigrateDC)
		fail(&coreerr.MigrateError{Kind: ev.MigrateKind, DC: ev.MigrateDC})
		return
	}
	addr, port, ok := d.cfg.Resolver(ev.MigrateDC)
	if !ok {
		d.logger.Warn("migrate target dc not resolvable", "dc", ev.MigrateDC)
		fail(&coreerr.MigrateError{Kind: ev.MigrateKind, DC: ev.MigrateDC})
		return
	}

	d.logger.Info("migration target resolved", "kind", ev.MigrateKind, "dc", ev.MigrateDC, "addr", addr, "port", port)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		defer cancel()

		conn, err := d.cfg.Dialer(ctx, "tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
		if err != nil {
			d.logger.Warn("migration probe dial failed", "dc", ev.MigrateDC, "err", err)
			fail(&coreerr.IoError{Err: err})
			return
		}
		defer conn.Close()

		if d.cfg.Obfuscate {
			conn, err = dialObfuscated(conn, protocolIDFor(d.cfg.Mode))
			if err != nil {
				d.logger.Warn("migration probe obfuscation setup failed", "dc", ev.MigrateDC, "err", err)
				fail(err)
				return
			}
		}

		probeCodec := codec.New(d.cfg.Mode)
		if !d.cfg.Obfuscate {
			if err := d.writeStreamMagic(conn, probeCodec); err != nil {
				d.logger.Warn("migration probe handshake magic failed", "dc", ev.MigrateDC, "err", err)
				fail(err)
				return
			}
		}
		result, err := d.handshake(ctx, conn, probeCodec)
		if err != nil {
			d.logger.Warn("migration probe handshake failed", "dc", ev.MigrateDC, "err", err)
			fail(err)
			return
		}
		d.logger.Info("migration target authorized", "dc", ev.MigrateDC)

		if ev.MigrateKind != "FILE" || ev.Handle == nil {
			d.logger.Info("migration target authorized, ready for promotion", "dc", ev.MigrateDC)
			return
		}

		d.replayFileMigration(ctx, conn, probeCodec, result, ev)
	}()
}

// replayFileMigration sends ev.Payload over conn, a fresh connection to
// ev.MigrateDC already authorized into result, and resolves ev.Handle
// on the Driver's primary Sender with whatever reply comes back (§4.5
// Migration, §8 scenario 5: "DC migration on file").
func (d *Driver) replayFileMigration(ctx context.Context, conn net.Conn, c *codec.Codec, result *authkey.Result, ev sender.Event) {
	key, err := session.NewAuthKey(result.AuthKey)
	if err != nil {
		d.failReplay(ev.Handle, err)
		return
	}
	sess := session.New(ev.MigrateDC, "", 0)
	sess.Key = key
	sess.ServerSalt = result.ServerSalt
	sess.TimeOffset = result.TimeOffset
	sessionID, err := randomSessionID()
	if err != nil {
		d.failReplay(ev.Handle, err)
		return
	}
	sess.SessionID = sessionID

	replaySnd := sender.New(sess, mtcrypto.SecureRandom)
	replaySnd.SetAuthorized()
	h := replaySnd.Push(ev.Payload, sender.PushOptions{AckRequired: true, GzipCandidate: true})

	frame, err := replaySnd.PollOutbound(time.Now())
	if err != nil || frame == nil {
		d.failReplay(ev.Handle, err)
		return
	}
	if _, err := conn.Write(c.EncodeFrame(frame)); err != nil {
		d.failReplay(ev.Handle, &coreerr.IoError{Err: err})
		return
	}

	result2, err := d.awaitReplayReply(ctx, conn, c, replaySnd, h)
	if err != nil {
		d.failReplay(ev.Handle, err)
		return
	}
	for _, outEv := range d.snd.CompleteMigratedReplay(ev.Handle, result2) {
		d.emit(outEv)
	}
}

// awaitReplayReply reads frames off conn, feeding them to replaySnd,
// until it reports h complete or ctx's deadline passes.
func (d *Driver) awaitReplayReply(ctx context.Context, conn net.Conn, c *codec.Codec, replaySnd *sender.Sender, h *sender.Handle) (session.Result, error) {
	if dl, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(dl)
	}
	r := bufio.NewReaderSize(conn, 64*1024)
	buf := make([]byte, 0, 64*1024)
	tmp := make([]byte, 32*1024)

	for {
		if ctx.Err() != nil {
			return session.Result{}, ctx.Err()
		}

		frame, consumed, err := c.DecodeFrame(buf)
		if err == nil {
			buf = append([]byte(nil), buf[consumed:]...)
			events, pushErr := replaySnd.PushInbound(frame)
			for _, ev := range events {
				if ev.Kind == sender.EventRPCComplete && ev.Handle == h {
					return session.Result{Payload: ev.Payload, Err: ev.Err}, nil
				}
			}
			if pushErr != nil {
				return session.Result{}, pushErr
			}
			continue
		}
		if err != codec.ErrUnexpectedEOF {
			return session.Result{}, &coreerr.ProtocolError{Err: err}
		}

		n, rerr := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if rerr != nil {
			return session.Result{}, &coreerr.IoError{Err: rerr}
		}
	}
}

// failReplay completes h with err directly on the primary Sender so a
// caller blocked on the original file request's Handle never hangs
// when the secondary connection, handshake, or replay itself fails.
func (d *Driver) failReplay(h *sender.Handle, err error) {
	for _, ev := range d.snd.CompleteMigratedReplay(h, session.Result{Err: err}) {
		d.emit(ev)
	}
}
