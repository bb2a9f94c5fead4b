package netdriver

import "time"

// DefaultPingInterval and DefaultPingDisconnectDelay implement §4.6's
// ping_delay_disconnect keepalive: a ping carrying a 75 s disconnect
// deadline is sent every 60 s, and the connection is torn down if the
// server is silent past that deadline.
const (
	DefaultPingInterval        = 60 * time.Second
	DefaultPingDisconnectDelay = 75 * time.Second
)

// keepalive tracks when the next ping_delay_disconnect should be sent
// and when the peer should be declared dead for staying silent.
type keepalive struct {
	interval        time.Duration
	disconnectDelay time.Duration
	lastPingAt      time.Time
	lastActivityAt  time.Time
}

func newKeepalive(interval, disconnectDelay time.Duration, now time.Time) *keepalive {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	if disconnectDelay <= 0 {
		disconnectDelay = DefaultPingDisconnectDelay
	}
	return &keepalive{
		interval:        interval,
		disconnectDelay: disconnectDelay,
		lastPingAt:      now,
		lastActivityAt:  now,
	}
}

// recordActivity notes that a frame was received, resetting the
// dead-peer clock.
func (k *keepalive) recordActivity(now time.Time) {
	k.lastActivityAt = now
}

// duePing reports whether it is time to send another ping, and if so
// advances the internal clock so it is not reported due again.
func (k *keepalive) duePing(now time.Time) bool {
	if now.Sub(k.lastPingAt) < k.interval {
		return false
	}
	k.lastPingAt = now
	return true
}

// deadPeer reports whether the peer has been silent past the
// disconnect deadline.
func (k *keepalive) deadPeer(now time.Time) bool {
	return now.Sub(k.lastActivityAt) > k.disconnectDelay
}
