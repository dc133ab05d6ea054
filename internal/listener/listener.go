// Package listener implements the Accept Loop (spec §4.3): bind,
// accept, dial the backend, and spawn a Connection Pipe per client.
//
// Grounded on the teacher's main.go/collector.Run orchestration shape
// (a Run(ctx, ...) that loops until cancellation and reports counts)
// and, for the specific accept/dial/spawn sequence, on the pack's
// Ankit-Kulkarni-go-experiments/transparentProxy startProxy, whose
// "accept, dial, go handle()" structure this generalizes with
// per-connection ids, keepalive tuning, and backoff on accept errors.
package listener

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pavlosdr/rpi-modbus-proxy/internal/config"
	"github.com/pavlosdr/rpi-modbus-proxy/internal/pipe"
	"github.com/pavlosdr/rpi-modbus-proxy/internal/proxylog"
)

const acceptBacklog = 50

// Loop owns the listening socket for the life of the process (spec §5)
// and assigns each accepted client a monotonically increasing id.
type Loop struct {
	cfg    config.Config
	log    *proxylog.Logger
	nextID uint64
}

// New creates a Loop. It does not bind the socket yet; call Run.
func New(cfg config.Config, log *proxylog.Logger) *Loop {
	return &Loop{cfg: cfg, log: log}
}

// Run binds the configured address and accepts clients until ctx is
// canceled. Cancellation also reaches every in-flight connection: each
// Connection Pipe closes its sockets and logs its summary, and Run
// returns only after all of them have finished. In-flight connections
// are not left to drain on their own.
func (l *Loop) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", l.cfg.ListenIP, l.cfg.ListenPort)
	lc := net.ListenConfig{
		Control: reuseAddrControl,
	}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listener: bind %s: %w", addr, err)
	}
	l.log.Infof("listener", "listening on %s, forwarding to %s:%d",
		addr, l.cfg.ProxyTargetIP, l.cfg.ProxyTargetPort)

	var wg sync.WaitGroup
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			l.log.Warnf("listener", "accept error: %v", err)
			time.Sleep(1 * time.Second)
			continue
		}

		id := atomic.AddUint64(&l.nextID, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.handle(ctx, id, conn)
		}()
	}

	wg.Wait()
	return nil
}

// handle dials the backend for one accepted client and, on success,
// spawns its Connection Pipe. Dial failure fails the acceptance and
// closes the client; it is never retried (spec §7).
func (l *Loop) handle(ctx context.Context, id uint64, client net.Conn) {
	backendAddr := fmt.Sprintf("%s:%d", l.cfg.ProxyTargetIP, l.cfg.ProxyTargetPort)
	dialer := net.Dialer{Timeout: time.Duration(l.cfg.SockTimeoutS) * time.Second}
	backend, err := dialer.DialContext(ctx, "tcp", backendAddr)
	if err != nil {
		l.log.Errorf(fmt.Sprintf("conn-%d", id), "dial backend %s failed: %v", backendAddr, err)
		client.Close()
		return
	}

	conn, err := pipe.New(id, client, backend, l.cfg, l.log)
	if err != nil {
		l.log.Errorf(fmt.Sprintf("conn-%d", id), "setup failed: %v", err)
		client.Close()
		backend.Close()
		return
	}
	l.log.Infof(fmt.Sprintf("conn-%d", id), "accepted peer=%s -> backend=%s", conn.PeerAddr, backendAddr)
	conn.Run(ctx)
}
