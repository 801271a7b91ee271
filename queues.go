package mq

import (
	"context"
	"log/slog"
	"sync"
)

// inflightEntry is one outstanding publish/subscribe/unsubscribe awaiting
// its acknowledgement. The one-shot channel is the Go equivalent of the
// source's one-shot sender: exactly one value (or a close) is ever sent
// on it, guarded by sync.Once via ackChan.
type inflightEntry struct {
	kind  AckType
	ack   *ackChan
}

// ackChan is a single-send, single-receive channel used to deliver an
// Ack (or a terminal error) to exactly one waiting goroutine. It mirrors
// the teacher's token type (token.go), generalized to carry an Ack
// payload instead of only a completion error.
type ackChan struct {
	done chan struct{}
	ack  Ack
	err  error
	once sync.Once
}

func newAckChan() *ackChan {
	return &ackChan{done: make(chan struct{})}
}

// resolve delivers ack (success) exactly once. A second call is a no-op,
// matching the "ignore a closed receiver" policy from pktAck's contract.
func (c *ackChan) resolve(ack Ack) {
	c.once.Do(func() {
		c.ack = ack
		close(c.done)
	})
}

// drop closes the channel without a value, the equivalent of a dropped
// one-shot sender. Any waiter observes this as Disconnected.
func (c *ackChan) drop(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// wait blocks until resolve or drop is called, or ctx is cancelled, and
// returns the delivered ack or the terminal error.
func (c *ackChan) wait(ctx context.Context) (Ack, error) {
	select {
	case <-c.done:
		if c.err != nil {
			return nil, c.err
		}
		return c.ack, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// waiter is a single admission-control ticket: a goroutine blocked in
// Sink.Ready() parks one of these on Queues.waiters and is released
// either by pktAck freeing a slot or by Close dropping it.
type waiter struct {
	ready     chan struct{}
	alive     bool // false once dropped instead of signalled
	abandoned bool // true if its goroutine gave up (ctx cancelled) before being freed
	once      sync.Once
}

func newWaiter() *waiter {
	return &waiter{ready: make(chan struct{})}
}

func (w *waiter) signal() {
	w.once.Do(func() {
		w.alive = true
		close(w.ready)
	})
}

func (w *waiter) dropSignal() {
	w.once.Do(func() {
		w.alive = false
		close(w.ready)
	})
}

// queues holds the three fields of the data model's Queues record:
// inflight, inflight_order (with its sentinel-0 tombstones), and the
// waiters FIFO. All mutation happens under Shared.mu; see Shared.withQueues.
type queues struct {
	inflight      map[uint16]*inflightEntry
	inflightOrder []uint16
	waiters       []*waiter
}

func newQueues() *queues {
	return &queues{
		inflight: make(map[uint16]*inflightEntry),
	}
}

// register records a new inflight entry for id and appends it to the
// send-order sequence. Returns false (PacketIdInUse) if id is already
// occupied.
func (q *queues) register(id uint16, kind AckType, ack *ackChan) bool {
	if _, exists := q.inflight[id]; exists {
		return false
	}
	q.inflight[id] = &inflightEntry{kind: kind, ack: ack}
	q.inflightOrder = append(q.inflightOrder, id)
	return true
}

// tombstone marks a just-appended encode failure's slot with the
// sentinel 0 so a later, already-in-flight ack for a sibling packet
// doesn't desync from inflightOrder. Per spec 4.2's policy notes.
func (q *queues) tombstone(id uint16) {
	delete(q.inflight, id)
	for i := len(q.inflightOrder) - 1; i >= 0; i-- {
		if q.inflightOrder[i] == id {
			q.inflightOrder[i] = 0
			return
		}
	}
}

// pktAckResult is the outcome of a single pktAck call, decided while
// the caller still holds Shared.mu so the ack send and waiter pop can
// happen in the same scheduling turn (spec 5: "immediate, same stack turn").
type pktAckResult struct {
	delivered   *inflightEntry
	mismatch    bool // Unexpected(type, expected) should be raised
	expectedFor AckType
	freedWaiter *waiter
}

// deliver implements the pktAck contract from spec 4.2, steps 1-5. It
// must be called with Shared.mu held; it never blocks.
func (q *queues) deliver(log *slog.Logger, id uint16, kind AckType) pktAckResult {
	for {
		if len(q.inflightOrder) == 0 {
			log.Debug("spurious ack, no inflight entries", "packet_id", id)
			return pktAckResult{}
		}
		head := q.inflightOrder[0]
		if head == 0 {
			q.inflightOrder = q.inflightOrder[1:]
			continue
		}
		if head != id {
			log.Warn("ack out of order, not popping", "expected", head, "got", id)
			return pktAckResult{}
		}
		entry, ok := q.inflight[head]
		if !ok {
			// Head id has no entry (shouldn't happen absent the sentinel
			// case above); pop and keep scanning rather than wedge.
			q.inflightOrder = q.inflightOrder[1:]
			continue
		}
		if !entry.kind.matchesAck(kind) {
			return pktAckResult{mismatch: true, expectedFor: entry.kind}
		}

		q.inflightOrder = q.inflightOrder[1:]
		delete(q.inflight, head)

		result := pktAckResult{delivered: entry}
		for len(q.waiters) > 0 {
			w := q.waiters[0]
			q.waiters = q.waiters[1:]
			if w.abandoned {
				// Its waiting goroutine already gave up (ctx cancelled);
				// retry with the next one instead of wasting this slot.
				continue
			}
			result.freedWaiter = w
			break
		}
		return result
	}
}

// matchesAck mirrors AckType.IsMatch against the AckType carried by a
// decoded wire ack; PUBREC and the phase-1 PUBACK both satisfy AckPublish.
func (k AckType) matchesAck(got AckType) bool {
	return k == got
}

// inflightQoSCount reports the number of inflight entries that count
// against Receive Maximum: publish phases only, per spec 3's invariant
// `|{id : AckType ∈ {Publish, Publish2}}| ≤ cap`.
func (q *queues) inflightQoSCount() int {
	n := 0
	for _, e := range q.inflight {
		if e.kind == AckPublish || e.kind == AckPublish2 {
			n++
		}
	}
	return n
}

// clear drops every inflight entry and waiter, used by Sink.Close. Every
// holder of an ackChan observes Disconnected.
func (q *queues) clear(err error) {
	for _, e := range q.inflight {
		e.ack.drop(err)
	}
	q.inflight = make(map[uint16]*inflightEntry)
	q.inflightOrder = nil
	for _, w := range q.waiters {
		w.dropSignal()
	}
	q.waiters = nil
}
