//go:build linux

package sockopt

import (
	"net"

	"golang.org/x/sys/unix"
)

// tunePlatform sets TCP_KEEPIDLE/TCP_KEEPINTVL/TCP_KEEPCNT directly,
// since the stdlib's SetKeepAlivePeriod only maps to TCP_KEEPIDLE on
// Linux and leaves interval/probe-count at their kernel defaults.
func tunePlatform(conn *net.TCPConn, cfg KeepaliveConfig) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, int(cfg.Idle.Seconds())); e != nil {
			sockErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(cfg.Interval.Seconds())); e != nil {
			sockErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, cfg.Count); e != nil {
			sockErr = e
			return
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}
