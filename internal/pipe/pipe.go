// Package pipe implements the Connection Pipe (spec §4.2): the per-
// connection forwarder that owns one client socket and one backend
// socket, maintains the pending FIFO, and applies the reconciliation
// policy to backend responses.
//
// The teacher multiplexes many sockets from a single polling loop
// (collector.Run ticks a netlink syscall). A Modbus proxy instead owns
// exactly two sockets per connection and must wait-any over both with
// a timeout (spec §4.2, §5); the idiomatic Go shape for that is one
// reader goroutine per socket feeding an owning goroutine over
// channels, rather than a multiplexing syscall, per spec §9's note
// that "lightweight tasks with explicit cancellation" are preferred in
// a systems-language rewrite.
package pipe

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pavlosdr/rpi-modbus-proxy/internal/config"
	"github.com/pavlosdr/rpi-modbus-proxy/internal/metrics"
	"github.com/pavlosdr/rpi-modbus-proxy/internal/modbus"
	"github.com/pavlosdr/rpi-modbus-proxy/internal/proxylog"
	"github.com/pavlosdr/rpi-modbus-proxy/internal/sockopt"
)

// Stats holds the per-direction byte/frame counters kept on every
// Connection (spec §3).
type Stats struct {
	UpBytes    uint64
	UpFrames   uint64
	DownBytes  uint64
	DownFrames uint64
}

// Connection owns one accepted client socket and the backend socket
// dialed for it. It is created by the Accept Loop and destroyed
// strictly after both sockets are closed and the final summary is
// emitted (spec §3, invariant I4).
type Connection struct {
	ID       uint64
	PeerAddr string

	client  net.Conn
	backend net.Conn
	cfg     config.Config
	log     *proxylog.Logger

	pending     pendingFIFO
	stats       Stats
	startedAt   time.Time
	lastStatsAt time.Time
}

// New constructs a Connection. Both sockets are expected to already be
// dialed/accepted; New applies keepalive tuning and the initial read
// deadline to both (spec §4.2 "Setup").
func New(id uint64, client, backend net.Conn, cfg config.Config, log *proxylog.Logger) (*Connection, error) {
	timeout := time.Duration(cfg.SockTimeoutS) * time.Second
	ka := sockopt.DefaultKeepalive()

	for _, c := range []net.Conn{client, backend} {
		if tc, ok := c.(*net.TCPConn); ok {
			if err := sockopt.Tune(tc, ka); err != nil {
				return nil, fmt.Errorf("pipe: keepalive tuning: %w", err)
			}
		}
		if err := sockopt.SetDeadline(c, timeout); err != nil {
			return nil, fmt.Errorf("pipe: initial deadline: %w", err)
		}
	}

	now := time.Now()
	return &Connection{
		ID:          id,
		PeerAddr:    client.RemoteAddr().String(),
		client:      client,
		backend:     backend,
		cfg:         cfg,
		log:         log,
		startedAt:   now,
		lastStatsAt: now,
	}, nil
}

func (c *Connection) name() string {
	return fmt.Sprintf("conn-%d", c.ID)
}

// readEvent is what a reader goroutine reports to the owning Run loop.
type readEvent struct {
	data    []byte
	timeout bool
	err     error // io.EOF on orderly close, otherwise a fatal read error
}

// readLoop repeatedly sets a read deadline and reads from conn,
// reporting each outcome on out. It exits when a non-timeout error
// occurs or stop is closed.
func readLoop(conn net.Conn, bufSize int, timeout time.Duration, out chan<- readEvent, stop <-chan struct{}) {
	buf := make([]byte, bufSize)
	for {
		if err := sockopt.SetDeadline(conn, timeout); err != nil {
			select {
			case out <- readEvent{err: err}:
			case <-stop:
			}
			return
		}
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				select {
				case out <- readEvent{timeout: true}:
				case <-stop:
					return
				}
				continue
			}
			select {
			case out <- readEvent{err: err}:
			case <-stop:
			}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case out <- readEvent{data: data}:
		case <-stop:
			return
		}
	}
}

// Run forwards frames between client and backend until either side
// closes or errors, or ctx is canceled. It always closes both sockets and emits the final
// summary before returning (spec §4.2 "Teardown", §7).
func (c *Connection) Run(ctx context.Context) {
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	timeout := time.Duration(c.cfg.SockTimeoutS) * time.Second
	clientCh := make(chan readEvent)
	backendCh := make(chan readEvent)
	stop := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); readLoop(c.client, c.cfg.BufferSize, timeout, clientCh, stop) }()
	go func() { defer wg.Done(); readLoop(c.backend, c.cfg.BufferSize, timeout, backendCh, stop) }()

	// Closing stop first unblocks any reader goroutine parked on its
	// "out <-" send; teardown then closes both sockets so a reader
	// blocked inside Read() also returns. Only once both readers have
	// exited (wg.Wait) do we emit the final summary, so it can't race
	// with a read still in flight.
	defer func() {
		close(stop)
		c.closeSockets()
		wg.Wait()
		c.logTeardown()
	}()

	var statsTicker *time.Ticker
	var statsC <-chan time.Time
	if c.cfg.LogStatsIntervalS > 0 {
		statsTicker = time.NewTicker(time.Duration(c.cfg.LogStatsIntervalS) * time.Second)
		defer statsTicker.Stop()
		statsC = statsTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-clientCh:
			if ev.timeout {
				c.log.Debugf(c.name(), "idle client")
				continue
			}
			if ev.err != nil {
				if ev.err != io.EOF {
					c.log.Warnf(c.name(), "client read error: %v", ev.err)
				}
				return
			}
			if !c.onClientFrame(ev.data) {
				return
			}

		case ev := <-backendCh:
			if ev.timeout {
				c.log.Debugf(c.name(), "idle backend")
				continue
			}
			if ev.err != nil {
				if ev.err != io.EOF {
					c.log.Warnf(c.name(), "backend read error: %v", ev.err)
				}
				return
			}
			if !c.onBackendFrame(ev.data) {
				return
			}

		case <-statsC:
			c.logStats()
		}
	}
}

// onClientFrame enqueues the pending entry (if the frame parses) and
// forwards the bytes untouched to the backend. Returns false if the
// connection must close.
func (c *Connection) onClientFrame(data []byte) bool {
	h, parsed := modbus.ParseHeader(data)
	if parsed {
		if c.pending.hasTID(h.TID) {
			c.log.Warnf(c.name(), "duplicate_request tid=%d", h.TID)
		}
		c.pending.push(pendingFromHeader(h, time.Now()))
	}
	c.logFrame("C>W", data, h, parsed)

	c.stats.UpBytes += uint64(len(data))
	c.stats.UpFrames++
	metrics.BytesTotal.WithLabelValues("up").Add(float64(len(data)))
	metrics.FramesTotal.WithLabelValues("up").Inc()

	if _, err := writeFull(c.backend, data); err != nil {
		c.log.Warnf(c.name(), "backend write error: %v", err)
		return false
	}
	return true
}

// onBackendFrame applies the reconciliation policy (spec §4.2 table)
// and forwards the (possibly rewritten) frame to the client. Returns
// false if the connection must close.
func (c *Connection) onBackendFrame(data []byte) bool {
	h, parsed := modbus.ParseHeader(data)
	if !parsed {
		c.logFrame("W>C", data, h, parsed)
		c.forwardToClient(data)
		return true
	}
	c.logFrame("W>C", data, h, parsed)

	fwd, shouldForward := c.reconcile(data, h)
	metrics.PendingDepthHistogram.Observe(float64(c.pending.len()))
	if !shouldForward {
		return true
	}
	return c.forwardToClient(fwd)
}

// reconcile implements the spec §4.2 reconciliation table for a single
// backend response with parsed header h. It returns the bytes to
// forward (possibly rewritten) and whether to forward at all.
func (c *Connection) reconcile(data []byte, h modbus.Header) ([]byte, bool) {
	head, haveHead := c.pending.head()

	if !haveHead {
		if !c.cfg.DropStraySilent {
			c.log.Warnf(c.name(), "stray_response tid=%d", h.TID)
		}
		metrics.StrayResponseTotal.Inc()
		return data, c.cfg.PassStray
	}

	if c.cfg.StrictUID && h.UID != head.UID {
		c.log.Warnf(c.name(), "uid_mismatch resp_uid=%d expected_uid=%d tid=%d", h.UID, head.UID, h.TID)
		metrics.UIDMismatchTotal.Inc()
	}

	if head.TID == h.TID {
		c.log.Debugf(c.name(), "rtt=%dms tid=%d", time.Since(head.SentAt).Milliseconds(), h.TID)
		c.pending.pop()
		return data, true
	}

	expected := head.TID

	if c.cfg.TIDRewrite {
		c.log.Infof(c.name(), "out_of_order tid_rewrite %d->%d rtt=%dms", h.TID, expected, time.Since(head.SentAt).Milliseconds())
		metrics.TIDRewriteTotal.Inc()
		c.pending.pop()
		return modbus.RewriteTID(data, expected), true
	}

	if c.cfg.TIDStrict {
		if !c.cfg.DropStraySilent {
			c.log.Warnf(c.name(), "tid_mismatch expected=%d got=%d pending=%d", expected, h.TID, c.pending.len())
		}
		metrics.TIDMismatchTotal.Inc()
		return data, c.cfg.PassStray
	}

	if !c.cfg.DropStraySilent {
		c.log.Warnf(c.name(), "stray_response tid=%d expected=%d", h.TID, expected)
	}
	metrics.StrayResponseTotal.Inc()
	return data, c.cfg.PassStray
}

func (c *Connection) forwardToClient(data []byte) bool {
	c.stats.DownBytes += uint64(len(data))
	c.stats.DownFrames++
	metrics.BytesTotal.WithLabelValues("down").Add(float64(len(data)))
	metrics.FramesTotal.WithLabelValues("down").Inc()

	if _, err := writeFull(c.client, data); err != nil {
		c.log.Warnf(c.name(), "client write error: %v", err)
		return false
	}
	return true
}

// writeFull commits a write in full, retrying transparently on a short
// write (spec §5).
func writeFull(w io.Writer, data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := w.Write(data[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (c *Connection) logFrame(dir string, data []byte, h modbus.Header, parsed bool) {
	if !c.log.Enabled(proxylog.Debug) {
		return
	}
	var msg string
	if parsed {
		msg = fmt.Sprintf("%s len=%d tid=%d uid=%d func=%d", dir, len(data), h.TID, h.UID, h.Func)
	} else {
		msg = fmt.Sprintf("%s len=%d unparsed", dir, len(data))
	}
	if c.cfg.LogHexdump {
		n := c.cfg.LogSampleBytes
		if n > len(data) {
			n = len(data)
		}
		if n > 0 {
			msg += " " + hexPreview(data[:n])
		}
	}
	c.log.Debugf(c.name(), "%s", msg)
}

func hexPreview(b []byte) string {
	var sb strings.Builder
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02x", v)
	}
	return sb.String()
}

func (c *Connection) logStats() {
	elapsed := time.Since(c.lastStatsAt).Seconds()
	c.log.Infof(c.name(), "stats up_bytes=%d up_frames=%d down_bytes=%d down_frames=%d elapsed=%.1fs",
		c.stats.UpBytes, c.stats.UpFrames, c.stats.DownBytes, c.stats.DownFrames, elapsed)
	c.lastStatsAt = time.Now()
}

// closeSockets closes both sockets best-effort (spec §7: close failures
// are never fatal, they are not even logged since the connection is
// already on its way out).
func (c *Connection) closeSockets() {
	c.client.Close()
	c.backend.Close()
}

// logTeardown emits the pending-residue warning (if any) plus the
// final summary record (spec §4.2 "Teardown").
func (c *Connection) logTeardown() {
	if c.pending.len() > 0 {
		tids := c.pending.tids()
		c.log.Warnf(c.name(), "closing with pending=%d (unanswered tids: %s)", c.pending.len(), formatTIDs(tids))
	}

	duration := time.Since(c.startedAt)
	metrics.ConnectionDurationHistogram.Observe(duration.Seconds())
	c.log.Infof(c.name(), "closed peer=%s duration=%.3fs up_bytes=%d up_frames=%d down_bytes=%d down_frames=%d",
		c.PeerAddr, duration.Seconds(), c.stats.UpBytes, c.stats.UpFrames, c.stats.DownBytes, c.stats.DownFrames)
}

func formatTIDs(tids []uint16) string {
	parts := make([]string, len(tids))
	for i, t := range tids {
		parts[i] = fmt.Sprintf("%d", t)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
