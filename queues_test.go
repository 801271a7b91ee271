package mq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestAckChanResolveThenWait(t *testing.T) {
	c := newAckChan()
	want := PublishAck{baseAck{packetID: 7}}
	c.resolve(want)

	got, err := c.wait(context.Background())
	if err != nil {
		t.Fatalf("wait returned error: %v", err)
	}
	if got != want {
		t.Fatalf("wait() = %v, want %v", got, want)
	}
}

func TestAckChanDropThenWait(t *testing.T) {
	c := newAckChan()
	wantErr := errors.New("boom")
	c.drop(wantErr)

	_, err := c.wait(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("wait() error = %v, want %v", err, wantErr)
	}
}

func TestAckChanResolveIsIdempotent(t *testing.T) {
	c := newAckChan()
	c.resolve(PublishAck{baseAck{packetID: 1}})
	c.resolve(PublishAck{baseAck{packetID: 2}}) // second call must be a no-op

	got, err := c.wait(context.Background())
	if err != nil {
		t.Fatalf("wait returned error: %v", err)
	}
	if got.(PublishAck).PacketID() != 1 {
		t.Fatalf("second resolve overwrote the first: got packet id %d", got.(PublishAck).PacketID())
	}
}

func TestAckChanWaitRespectsContextCancellation(t *testing.T) {
	c := newAckChan()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("wait() error = %v, want context.Canceled", err)
	}
}

func TestQueuesRegisterRejectsDuplicateID(t *testing.T) {
	q := newQueues()
	if !q.register(1, AckPublish, newAckChan()) {
		t.Fatal("first register of id 1 should succeed")
	}
	if q.register(1, AckPublish, newAckChan()) {
		t.Fatal("second register of the same id should fail")
	}
}

func TestQueuesDeliverInOrder(t *testing.T) {
	q := newQueues()
	log := discardLogger()

	ac1 := newAckChan()
	ac2 := newAckChan()
	q.register(1, AckPublish, ac1)
	q.register(2, AckPublish, ac2)

	result := q.deliver(log, 1, AckPublish)
	if result.mismatch {
		t.Fatal("unexpected mismatch for in-order delivery")
	}
	if result.delivered == nil || result.delivered.ack != ac1 {
		t.Fatal("deliver() did not return the head entry")
	}

	result2 := q.deliver(log, 2, AckPublish)
	if result2.delivered == nil || result2.delivered.ack != ac2 {
		t.Fatal("deliver() did not return the second entry in order")
	}
}

func TestQueuesDeliverOutOfOrderDoesNotPop(t *testing.T) {
	q := newQueues()
	log := discardLogger()

	q.register(1, AckPublish, newAckChan())
	q.register(2, AckPublish, newAckChan())

	result := q.deliver(log, 2, AckPublish)
	if result.delivered != nil {
		t.Fatal("out-of-order ack must not pop anything")
	}
	if _, ok := q.inflight[1]; !ok {
		t.Fatal("head entry 1 must remain inflight after an out-of-order ack")
	}
}

func TestQueuesDeliverMismatchedAckType(t *testing.T) {
	q := newQueues()
	log := discardLogger()

	q.register(1, AckPublish, newAckChan())
	result := q.deliver(log, 1, AckSubscribe)
	if !result.mismatch {
		t.Fatal("expected a mismatch when the ack type does not match the registered kind")
	}
	if result.expectedFor != AckPublish {
		t.Fatalf("expectedFor = %v, want AckPublish", result.expectedFor)
	}
	if _, ok := q.inflight[1]; !ok {
		t.Fatal("mismatched delivery must not pop the entry")
	}
}

func TestQueuesTombstoneSkippedBySubsequentDeliver(t *testing.T) {
	q := newQueues()
	log := discardLogger()

	q.register(1, AckPublish, newAckChan())
	ac2 := newAckChan()
	q.register(2, AckPublish, ac2)

	q.tombstone(1)

	result := q.deliver(log, 2, AckPublish)
	if result.delivered == nil || result.delivered.ack != ac2 {
		t.Fatal("deliver() must skip the sentinel-0 tombstone and reach id 2")
	}
}

func TestQueuesDeliverFreesOldestNonAbandonedWaiter(t *testing.T) {
	q := newQueues()
	log := discardLogger()

	q.register(1, AckPublish, newAckChan())

	abandoned := newWaiter()
	abandoned.abandoned = true
	alive := newWaiter()
	q.waiters = append(q.waiters, abandoned, alive)

	result := q.deliver(log, 1, AckPublish)
	if result.freedWaiter != alive {
		t.Fatal("deliver() should skip an abandoned waiter and free the next one")
	}
}

func TestQueuesInflightQoSCountIgnoresSubscriptions(t *testing.T) {
	q := newQueues()
	q.register(1, AckPublish, newAckChan())
	q.register(2, AckPublish2, newAckChan())
	q.register(3, AckSubscribe, newAckChan())
	q.register(4, AckUnsubscribe, newAckChan())

	if got := q.inflightQoSCount(); got != 2 {
		t.Fatalf("inflightQoSCount() = %d, want 2", got)
	}
}

func TestQueuesClearDropsEveryWaiterAndInflightEntry(t *testing.T) {
	q := newQueues()
	ac := newAckChan()
	q.register(1, AckPublish, ac)
	w := newWaiter()
	q.waiters = append(q.waiters, w)

	wantErr := errors.New("closed")
	q.clear(wantErr)

	if len(q.inflight) != 0 || len(q.inflightOrder) != 0 || len(q.waiters) != 0 {
		t.Fatal("clear() must empty every queue")
	}

	_, err := ac.wait(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("dropped ackChan wait() error = %v, want %v", err, wantErr)
	}
	select {
	case <-w.ready:
		if w.alive {
			t.Fatal("cleared waiter must be signalled as not-alive")
		}
	default:
		t.Fatal("clear() must close every waiter's ready channel")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWaiterSignalIsIdempotent(t *testing.T) {
	w := newWaiter()
	w.signal()
	w.dropSignal() // must be a no-op: the once already fired

	select {
	case <-w.ready:
	case <-time.After(time.Second):
		t.Fatal("ready channel was not closed")
	}
	if !w.alive {
		t.Fatal("first signal() call should have won, leaving alive true")
	}
}
