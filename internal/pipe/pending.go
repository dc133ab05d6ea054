package pipe

import (
	"time"

	"github.com/pavlosdr/rpi-modbus-proxy/internal/modbus"
)

// Pending is one outstanding client request awaiting a backend
// response, per spec §3. It carries what reconciliation needs: the
// transaction id to match against, the unit id for the optional
// strict_uid check, the function code (reserved for future
// diagnostics; not currently compared), and the time it was sent so a
// matching response can report its rtt.
type Pending struct {
	TID    uint16
	UID    uint8
	Func   uint8
	SentAt time.Time
}

// pendingFIFO is a strict FIFO: head is popped, new entries go to the
// tail, no random access. It belongs exclusively to the Connection
// goroutine that owns it (spec §5: "pending is accessed from the
// single task owning the connection; no external synchronisation is
// required").
type pendingFIFO struct {
	entries []Pending
}

func (q *pendingFIFO) push(p Pending) {
	q.entries = append(q.entries, p)
}

func (q *pendingFIFO) head() (Pending, bool) {
	if len(q.entries) == 0 {
		return Pending{}, false
	}
	return q.entries[0], true
}

func (q *pendingFIFO) pop() {
	if len(q.entries) == 0 {
		return
	}
	// Avoid retaining the popped element's backing array slot forever
	// under a long-lived connection.
	q.entries[0] = Pending{}
	q.entries = q.entries[1:]
}

func (q *pendingFIFO) len() int {
	return len(q.entries)
}

func (q *pendingFIFO) tids() []uint16 {
	out := make([]uint16, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.TID
	}
	return out
}

// hasTID reports whether tid is already outstanding, used to detect a
// client reusing a transaction id before its prior response arrived
// (spec §4.4 `duplicate_request`).
func (q *pendingFIFO) hasTID(tid uint16) bool {
	for _, e := range q.entries {
		if e.TID == tid {
			return true
		}
	}
	return false
}

func pendingFromHeader(h modbus.Header, sentAt time.Time) Pending {
	return Pending{TID: h.TID, UID: h.UID, Func: h.Func, SentAt: sentAt}
}
