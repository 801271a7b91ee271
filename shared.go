package mq

import (
	"io"
	"log/slog"
	"sync"

	"github.com/lakeshorelabs/mqttcore/internal/packets"
)

// Io is the framed byte-transport boundary a Shared state is built on
// top of: encode a packet, close the connection, and report whether it
// is already closed. The shipped implementation is netIo (session.go),
// which wraps any io.ReadWriteCloser; tests use an in-memory fake.
type Io interface {
	Encode(pkt packets.Packet) error
	Close() error
	IsClosed() bool
}

// Shared is the per-connection singleton described in spec section 3:
// it owns the (opaque) codec and io handle, the peer's advertised
// Receive Maximum, the 16-bit id counter, and the Queues record. It is
// held by shared ownership across the Sink and the Session's read
// loop, and mutated only inside withQueues's short critical section.
type Shared struct {
	mu     sync.Mutex
	io     Io
	cap    int // Receive Maximum; 0 means unbounded (treated as 65535)
	nextID uint16
	q      *queues
	closed bool

	log *slog.Logger
}

// NewShared constructs a Shared state for a freshly established
// connection. cap is the peer's Receive Maximum (0 => unbounded).
func NewShared(io Io, cap int, log *slog.Logger) *Shared {
	if log == nil {
		log = noopLogger()
	}
	return &Shared{
		io:  io,
		cap: cap,
		q:   newQueues(),
		log: log,
	}
}

func (s *Shared) effectiveCap() int {
	if s.cap <= 0 {
		return 65535
	}
	return s.cap
}

// withQueues runs f with exclusive access to the Queues record. Per
// spec 4.1, the critical section must never await/block on I/O; f
// is expected to return quickly.
func (s *Shared) withQueues(f func(q *queues)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s.q)
}

// nextPacketID returns the next free 16-bit id, starting at the last
// allocated plus one, skipping ids already in q.inflight and skipping 0.
// Must be called with s.mu held (i.e. from inside withQueues, or from a
// caller that otherwise holds the lock).
func (s *Shared) nextPacketID(q *queues) uint16 {
	for {
		s.nextID++
		if s.nextID == 0 {
			s.nextID = 1
		}
		if _, inUse := q.inflight[s.nextID]; !inUse {
			return s.nextID
		}
	}
}

// hasCredit reports whether the number of inflight publish/publish2
// entries is below cap. Must be called with s.mu held.
func (s *Shared) hasCredit(q *queues) bool {
	return q.inflightQoSCount() < s.effectiveCap()
}

// isClosed reports whether the connection has been torn down.
func (s *Shared) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
