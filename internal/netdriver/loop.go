package netdriver

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/LonamiWebs/gomtproto/internal/codec"
	"github.com/LonamiWebs/gomtproto/internal/coreerr"
	"github.com/LonamiWebs/gomtproto/internal/sender"
	"github.com/LonamiWebs/gomtproto/internal/tl"
)

// tickInterval is how often the writer task drives Sender.Tick and
// checks for due pings (§4.6: "tick on 100 ms timer").
const tickInterval = 100 * time.Millisecond

// readLoop decodes frames off conn and feeds them to the Sender,
// forwarding whatever events fall out. It returns once the connection
// errors or ctx is done.
func (d *Driver) readLoop(ctx context.Context, conn net.Conn, c *codec.Codec) error {
	r := bufio.NewReaderSize(conn, 64*1024)
	buf := make([]byte, 0, 64*1024)
	tmp := make([]byte, 32*1024)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		frame, consumed, err := c.DecodeFrame(buf)
		if err == nil {
			buf = append([]byte(nil), buf[consumed:]...)
			if err := d.onFrame(frame); err != nil {
				return err
			}
			continue
		}
		if err != codec.ErrUnexpectedEOF {
			return &coreerr.ProtocolError{Err: err}
		}

		n, err := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			return &coreerr.IoError{Err: err}
		}
	}
}

// onFrame decrypts and dispatches one inbound frame, emitting whatever
// events it produces and reacting to a reported migration.
func (d *Driver) onFrame(frame []byte) error {
	d.keepaliveActivity()

	events, err := d.snd.PushInbound(frame)
	for _, ev := range events {
		d.emit(ev)
		if ev.Kind == sender.EventMigrate {
			d.onMigrate(ev)
		}
	}
	return err
}

// writeLoop periodically drains the Sender's outbound queue (and its
// own ticker-driven retry/ack bookkeeping) onto conn, and issues the
// ping_delay_disconnect keepalive on its own cadence (§4.6).
func (d *Driver) writeLoop(ctx context.Context, conn net.Conn, c *codec.Codec) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	ka := newKeepalive(d.cfg.PingInterval, d.cfg.PingDisconnectDelay, time.Now())
	d.keepaliveMu.Lock()
	d.keepalive = ka
	d.keepaliveMu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, ev := range d.snd.Tick(now) {
				d.emit(ev)
			}

			if ka.deadPeer(now) {
				return &coreerr.IoError{Err: errDeadPeer}
			}
			if ka.duePing(now) {
				d.snd.Push(tl.EncodeBoxed(&tl.PingDelayDisconnect{
					PingID:          int64(now.UnixNano()),
					DisconnectDelay: int32(ka.disconnectDelay / time.Second),
				}), sender.PushOptions{})
			}

			frame, err := d.snd.PollOutbound(now)
			if err != nil {
				return &coreerr.ProtocolError{Err: err}
			}
			if frame == nil {
				continue
			}
			if _, err := conn.Write(c.EncodeFrame(frame)); err != nil {
				return &coreerr.IoError{Err: err}
			}
			d.cfg.Metrics.MessagesSentInc()
		}
	}
}

func (d *Driver) keepaliveActivity() {
	d.keepaliveMu.Lock()
	defer d.keepaliveMu.Unlock()
	if d.keepalive != nil {
		d.keepalive.recordActivity(time.Now())
	}
}

func (d *Driver) emit(ev sender.Event) {
	select {
	case d.events <- ev:
	default:
		d.logger.Warn("event channel full, dropping event", "kind", ev.Kind)
	}
}
