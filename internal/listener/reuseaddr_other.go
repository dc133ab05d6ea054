//go:build !linux

package listener

import "syscall"

// reuseAddrControl is a no-op on platforms where this package does not
// special-case the socket option; net.ListenConfig still binds fine
// without it, just without the restart-friendly reuse behavior.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
