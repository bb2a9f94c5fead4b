package netdriver

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/LonamiWebs/gomtproto/internal/authkey"
	"github.com/LonamiWebs/gomtproto/internal/codec"
	"github.com/LonamiWebs/gomtproto/internal/coreerr"
	"github.com/LonamiWebs/gomtproto/internal/mtcrypto"
)

// handshakeTimeout bounds the whole four-step exchange; a real DC
// replies within a couple of round trips.
const handshakeTimeout = 30 * time.Second

// handshake drives authkey.Handshake over conn using the plain message
// envelope (§4.3), synchronously: the handshake has no concurrency of
// its own, so a plain blocking request/response loop suffices.
func (d *Driver) handshake(ctx context.Context, conn net.Conn, c *codec.Codec) (*authkey.Result, error) {
	hs := authkey.New(d.cfg.KeyStore, mtcrypto.SecureRandom)
	r := bufio.NewReaderSize(conn, 16*1024)

	deadline := time.Now().Add(handshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, &coreerr.IoError{Err: err}
	}
	defer conn.SetDeadline(time.Time{})

	body, err := hs.Start()
	if err != nil {
		return nil, err
	}
	if err := d.sendPlain(conn, c, body); err != nil {
		return nil, err
	}

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		reply, err := d.recvPlain(r, c)
		if err != nil {
			return nil, err
		}

		outbound, done, result, err := hs.HandleMessage(reply)
		if err != nil {
			return nil, &coreerr.ProtocolError{Err: err}
		}
		if done {
			return result, nil
		}
		if outbound != nil {
			if err := d.sendPlain(conn, c, outbound); err != nil {
				return nil, err
			}
		}
	}
}

func (d *Driver) sendPlain(conn net.Conn, c *codec.Codec, body []byte) error {
	msgID := nextPlainMsgID(&d.lastPlainMsgID, time.Now().Unix())
	frame := c.EncodeFrame(encodePlainMessage(msgID, body))
	if _, err := conn.Write(frame); err != nil {
		return &coreerr.IoError{Err: err}
	}
	return nil
}

func (d *Driver) recvPlain(r *bufio.Reader, c *codec.Codec) ([]byte, error) {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)

	for {
		if frame, consumed, err := c.DecodeFrame(buf); err == nil {
			_ = consumed
			_, body, err := decodePlainMessage(frame)
			if err != nil {
				return nil, &coreerr.ProtocolError{Err: err}
			}
			return body, nil
		} else if err != codec.ErrUnexpectedEOF {
			return nil, &coreerr.ProtocolError{Err: err}
		}

		n, err := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			return nil, &coreerr.IoError{Err: err}
		}
	}
}
