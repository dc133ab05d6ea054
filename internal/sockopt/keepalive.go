// Package sockopt applies OS-level TCP keepalive tuning to accepted
// and dialed sockets. It continues the teacher's use of
// golang.org/x/sys for direct socket-level syscalls (the teacher uses
// it to read netlink socket diagnostics; here it sets keepalive
// options the stdlib net package does not expose per-platform).
package sockopt

import (
	"net"
	"time"
)

// KeepaliveConfig mirrors spec §4.2's Setup step: idle 60s, interval
// 10s, 9 probes where the platform allows tuning; otherwise SO_KEEPALIVE
// alone with the OS default cadence.
type KeepaliveConfig struct {
	Idle     time.Duration
	Interval time.Duration
	Count    int
}

// DefaultKeepalive returns the spec's fixed keepalive parameters.
func DefaultKeepalive() KeepaliveConfig {
	return KeepaliveConfig{
		Idle:     60 * time.Second,
		Interval: 10 * time.Second,
		Count:    9,
	}
}

// Tune enables TCP keepalive on conn and applies cfg. On platforms
// where interval/probe-count are not individually tunable, SO_KEEPALIVE
// and the idle period are set and the OS default interval and probe
// count apply.
func Tune(conn *net.TCPConn, cfg KeepaliveConfig) error {
	if err := conn.SetKeepAlive(true); err != nil {
		return err
	}
	if err := conn.SetKeepAlivePeriod(cfg.Idle); err != nil {
		// Not fatal: some platforms / kernels only honor SO_KEEPALIVE
		// and fall back to their own default idle/interval/count.
		return nil
	}
	return tunePlatform(conn, cfg)
}

// SetDeadline applies the read deadline spec §4.2 requires on both
// client and backend sockets.
func SetDeadline(conn net.Conn, timeout time.Duration) error {
	return conn.SetReadDeadline(time.Now().Add(timeout))
}
