//go:build !linux

package sockopt

import "net"

// tunePlatform is a no-op on platforms where Go does not expose
// per-option keepalive tuning beyond SetKeepAlivePeriod; SO_KEEPALIVE
// and the idle period set in Tune still apply.
func tunePlatform(conn *net.TCPConn, cfg KeepaliveConfig) error {
	return nil
}
