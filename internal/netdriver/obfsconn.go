package netdriver

import (
	"net"

	"github.com/LonamiWebs/gomtproto/internal/codec"
	"github.com/LonamiWebs/gomtproto/internal/mtcrypto"
)

// obfsConn wraps a net.Conn so every byte crossing it is XORed with
// the connection's per-direction obfuscation keystream (§4.1). Once
// established it behaves like any other net.Conn; callers (readLoop,
// writeLoop, handshake) never need to know obfuscation is in play.
type obfsConn struct {
	net.Conn
	obfs *codec.Obfuscator
}

// dialObfuscated performs the cleartext nonce exchange that bootstraps
// obfuscation, then returns a conn that transparently (de)obfuscates
// everything sent or received afterward, including the framing magic.
func dialObfuscated(conn net.Conn, protocolID uint32) (net.Conn, error) {
	random56, err := mtcrypto.SecureRandom(56)
	if err != nil {
		return nil, err
	}
	pad4, err := mtcrypto.SecureRandom(4)
	if err != nil {
		return nil, err
	}
	nonce, err := codec.BuildNonce(random56, protocolID, pad4)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(nonce); err != nil {
		return nil, err
	}

	obfs, err := codec.NewObfuscator(nonce, true)
	if err != nil {
		return nil, err
	}
	return &obfsConn{Conn: conn, obfs: obfs}, nil
}

func (c *obfsConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.obfs.DecryptRead(p[:n])
	}
	return n, err
}

func (c *obfsConn) Write(p []byte) (int, error) {
	out := append([]byte(nil), p...)
	c.obfs.EncryptWrite(out)
	return c.Conn.Write(out)
}
