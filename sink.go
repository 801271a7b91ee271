package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lakeshorelabs/mqttcore/internal/packets"
)

// ErrDisconnected is returned to any awaiter whose inflight entry or
// admission waiter is torn down by a connection close, per spec 7's
// Disconnected kind.
var ErrDisconnected = errors.New("mqtt: disconnected")

// PacketIDInUseError reports that a caller-supplied packet id, or an id
// collision during QoS-2 phase transition, could not be registered.
// Spec 7: PacketIdInUse(id).
type PacketIDInUseError struct{ ID uint16 }

func (e *PacketIDInUseError) Error() string {
	return fmt.Sprintf("mqtt: packet id %d already in use", e.ID)
}

// FailError wraps a non-success Ack: the peer answered, but with a
// reason code other than success. Spec 7: Fail(ack). Embeds the same
// MqttError the client's publish/subscribe paths return, so callers
// can match a reason code with errors.Is regardless of which half of
// the package produced the error.
type FailError struct {
	Ack Ack
	*MqttError
}

func newFailError(ack Ack) *FailError {
	return &FailError{Ack: ack, MqttError: &MqttError{ReasonCode: ReasonCode(ack.ReasonCode())}}
}

func (e *FailError) Error() string {
	return fmt.Sprintf("mqtt: %s failed with reason code 0x%02X", e.Ack.PacketType(), e.Ack.ReasonCode())
}

// Unwrap exposes the embedded MqttError to errors.As and IsReasonCode.
func (e *FailError) Unwrap() error { return e.MqttError }

// UnexpectedAckError is a protocol-level mismatch between an ack's type
// and the AckType its inflight slot actually expects. Spec 7:
// Unexpected(type, expected); the reader treats this as fatal.
type UnexpectedAckError struct {
	Got      AckType
	Expected AckType
}

func (e *UnexpectedAckError) Error() string {
	return fmt.Sprintf("mqtt: unexpected ack %s, expected %s", e.Got, e.Expected)
}

// EncodeError reports that the codec rejected an outbound packet. Fatal
// for the affected future; does not by itself close the connection.
type EncodeError struct{ Cause error }

func (e *EncodeError) Error() string { return fmt.Sprintf("mqtt: encode failed: %v", e.Cause) }
func (e *EncodeError) Unwrap() error { return e.Cause }

// Sink is the public outbound send surface described in spec 4.2: it
// owns credit accounting, the publish/subscribe/unsubscribe builders,
// and the pktAck ingress used by the connection's read loop.
type Sink struct {
	shared  *Shared
	version uint8 // 4 (v3.1.1) or 5
}

// NewSink wraps shared with the builder-level send surface.
func NewSink(shared *Shared, version uint8) *Sink {
	return &Sink{shared: shared, version: version}
}

// IsOpen reports whether the underlying connection is still usable.
func (s *Sink) IsOpen() bool { return !s.shared.isClosed() }

// Credit returns cap - |inflight Publish/Publish2|, saturating at 0.
func (s *Sink) Credit() int {
	var credit int
	s.shared.withQueues(func(q *queues) {
		used := q.inflightQoSCount()
		cap := s.shared.effectiveCap()
		if used >= cap {
			credit = 0
		} else {
			credit = cap - used
		}
	})
	return credit
}

// Ready blocks until a send slot is available (true) or the connection
// closes (false), per spec 4.2's ready() contract.
func (s *Sink) Ready(ctx context.Context) (bool, error) {
	if s.shared.isClosed() {
		return false, nil
	}

	var w *waiter
	s.shared.withQueues(func(q *queues) {
		if s.shared.hasCredit(q) {
			return
		}
		w = newWaiter()
		q.waiters = append(q.waiters, w)
	})
	if w == nil {
		return true, nil
	}

	select {
	case <-w.ready:
		return w.alive, nil
	case <-ctx.Done():
		s.shared.withQueues(func(*queues) { w.abandoned = true })
		return false, ctx.Err()
	}
}

// Close best-effort sends a DISCONNECT and tears down the transport,
// then unconditionally clears inflight entries and waiters so every
// awaiter observes ErrDisconnected.
func (s *Sink) Close() error {
	return s.CloseWithReason(ReasonCodeNormalDisconnect)
}

// CloseWithReason is Close with an explicit v5 DISCONNECT reason code.
func (s *Sink) CloseWithReason(reason ReasonCode) error {
	s.shared.mu.Lock()
	alreadyClosed := s.shared.closed
	s.shared.closed = true
	s.shared.mu.Unlock()

	if !alreadyClosed {
		_ = s.shared.io.Encode(&packets.DisconnectPacket{
			ReasonCode: uint8(reason),
			Version:    s.version,
		})
		_ = s.shared.io.Close()
	}

	s.shared.withQueues(func(q *queues) {
		q.clear(ErrDisconnected)
	})
	return nil
}

// encodeOrTombstone attempts io.Encode; on failure it tombstones id (if
// non-zero) with the sentinel-0 policy from spec 4.2's policy notes and
// returns an EncodeError instead of leaving the slot dangling.
func (s *Sink) encodeOrTombstone(pkt packets.Packet, id uint16) error {
	if err := s.shared.io.Encode(pkt); err != nil {
		if id != 0 {
			s.shared.withQueues(func(q *queues) { q.tombstone(id) })
		}
		return &EncodeError{Cause: err}
	}
	return nil
}

// SendAtMostOnce implements QoS-0 publish: no inflight entry, no
// waiter, fails only if the connection is already closed.
func (s *Sink) SendAtMostOnce(b *PublishBuilder) error {
	if !s.IsOpen() {
		return ErrDisconnected
	}
	pkt := b.toPacket(0, false)
	return s.encodeOrTombstone(pkt, 0)
}

// admit runs the shared admission-control preamble used by
// SendAtLeastOnce, SendExactlyOnce, Subscribe and Unsubscribe: block for
// credit (publish only), then allocate/register a packet id.
//
// kind is the AckType to register for id; qosGated means the admission
// check happens (Receive Maximum applies only to publishes).
func (s *Sink) admit(ctx context.Context, callerID uint16, kind AckType, qosGated bool) (uint16, *ackChan, error) {
	if !s.IsOpen() {
		return 0, nil, ErrDisconnected
	}

	if qosGated {
		ok, err := s.Ready(ctx)
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			return 0, nil, ErrDisconnected
		}
	}

	var id uint16
	var ac *ackChan
	var idErr error
	s.shared.withQueues(func(q *queues) {
		if callerID != 0 {
			id = callerID
		} else {
			id = s.shared.nextPacketID(q)
		}
		ac = newAckChan()
		if !q.register(id, kind, ac) {
			idErr = &PacketIDInUseError{ID: id}
		}
	})
	if idErr != nil {
		return 0, nil, idErr
	}
	return id, ac, nil
}

// SendAtLeastOnce implements the QoS-1 publish state machine of spec
// 4.2: admission, id allocation/registration, then an encode+await-with-
// timeout loop that sets dup=true on every retry after the first.
func (s *Sink) SendAtLeastOnce(ctx context.Context, b *PublishBuilder, timeout time.Duration) (PublishAck, error) {
	id, ac, err := s.admit(ctx, b.packetID, AckPublish, true)
	if err != nil {
		return PublishAck{}, err
	}

	dup := false
	for {
		pkt := b.toPacket(id, dup)
		if err := s.encodeOrTombstone(pkt, id); err != nil {
			return PublishAck{}, err
		}

		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		ack, err := ac.wait(waitCtx)
		cancel()

		if err == nil {
			pa := ack.(PublishAck)
			if pa.success() {
				return pa, nil
			}
			return PublishAck{}, newFailError(pa)
		}
		if errors.Is(err, ErrDisconnected) {
			return PublishAck{}, ErrDisconnected
		}
		if errors.Is(err, context.DeadlineExceeded) {
			dup = true
			continue
		}
		// Outer ctx itself was cancelled rather than the per-attempt timeout.
		return PublishAck{}, err
	}
}

// SendExactlyOnce implements the two-phase QoS-2 state machine of spec
// 4.2: phase 1 (PUBLISH/PUBREC) identical to QoS-1 but keyed on
// AckPublish, then phase 2 (PUBREL/PUBCOMP) re-registering the same id
// under AckPublish2.
func (s *Sink) SendExactlyOnce(ctx context.Context, b *PublishBuilder, timeout time.Duration) (PublishAck2, error) {
	id, ac, err := s.admit(ctx, b.packetID, AckPublish, true)
	if err != nil {
		return PublishAck2{}, err
	}

	dup := false
	for {
		pkt := b.toPacket(id, dup)
		if err := s.encodeOrTombstone(pkt, id); err != nil {
			return PublishAck2{}, err
		}

		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		ack, err := ac.wait(waitCtx)
		cancel()

		if err == nil {
			pa := ack.(PublishAck)
			if !pa.success() {
				return PublishAck2{}, newFailError(pa)
			}
			break
		}
		if errors.Is(err, ErrDisconnected) {
			return PublishAck2{}, ErrDisconnected
		}
		if errors.Is(err, context.DeadlineExceeded) {
			dup = true
			continue
		}
		return PublishAck2{}, err
	}

	// Phase 2: PUBREL/PUBCOMP, same id, AckType::Publish2.
	ac2 := newAckChan()
	var idErr error
	s.shared.withQueues(func(q *queues) {
		if !q.register(id, AckPublish2, ac2) {
			idErr = &PacketIDInUseError{ID: id}
		}
	})
	if idErr != nil {
		return PublishAck2{}, idErr
	}

	dup = false
	for {
		pkt := &packets.PubrelPacket{PacketID: id, Version: s.version}
		if dup {
			// PUBREL carries no dup bit on the wire; retransmission is
			// simply re-encoding the same packet on timeout.
		}
		if err := s.encodeOrTombstone(pkt, id); err != nil {
			return PublishAck2{}, err
		}

		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		ack, err := ac2.wait(waitCtx)
		cancel()

		if err == nil {
			pa2 := ack.(PublishAck2)
			if pa2.success() {
				return pa2, nil
			}
			return PublishAck2{}, newFailError(pa2)
		}
		if errors.Is(err, ErrDisconnected) {
			return PublishAck2{}, ErrDisconnected
		}
		if errors.Is(err, context.DeadlineExceeded) {
			dup = true
			continue
		}
		return PublishAck2{}, err
	}
}

// Subscribe encodes a SUBSCRIBE and awaits a single SUBACK, unbounded
// (no retry loop: duplicates are the broker's responsibility, and no
// per-call timeout is threaded through per spec 4.2/9's open question).
func (s *Sink) Subscribe(ctx context.Context, b *SubscribeBuilder) (SubscribeAck, error) {
	id, ac, err := s.admit(ctx, b.packetID, AckSubscribe, false)
	if err != nil {
		return SubscribeAck{}, err
	}
	pkt := b.toPacket(id)
	if err := s.encodeOrTombstone(pkt, id); err != nil {
		return SubscribeAck{}, err
	}
	ack, err := ac.wait(ctx)
	if err != nil {
		return SubscribeAck{}, err
	}
	return ack.(SubscribeAck), nil
}

// Unsubscribe is Subscribe's mirror for UNSUBSCRIBE/UNSUBACK.
func (s *Sink) Unsubscribe(ctx context.Context, b *UnsubscribeBuilder) (UnsubscribeAck, error) {
	id, ac, err := s.admit(ctx, b.packetID, AckUnsubscribe, false)
	if err != nil {
		return UnsubscribeAck{}, err
	}
	pkt := b.toPacket(id)
	if err := s.encodeOrTombstone(pkt, id); err != nil {
		return UnsubscribeAck{}, err
	}
	ack, err := ac.wait(ctx)
	if err != nil {
		return UnsubscribeAck{}, err
	}
	return ack.(UnsubscribeAck), nil
}

// Ping encodes a PINGREQ; the PINGRESP is handled by control dispatch,
// not by the sink (it carries no packet id and is not inflight-tracked).
func (s *Sink) Ping() error {
	if !s.IsOpen() {
		return ErrDisconnected
	}
	return s.encodeOrTombstone(&packets.PingreqPacket{}, 0)
}

// Pong encodes a PINGRESP in reply to a peer's PINGREQ. Like Ping, it
// carries no packet id and is not inflight-tracked.
func (s *Sink) Pong() error {
	if !s.IsOpen() {
		return ErrDisconnected
	}
	return s.encodeOrTombstone(&packets.PingrespPacket{}, 0)
}

// PktAck is the reader's ingress call for every acknowledgement-bearing
// inbound packet (PUBACK, PUBREC, PUBCOMP, SUBACK, UNSUBACK). It
// implements the five-step contract of spec 4.2 verbatim.
func (s *Sink) PktAck(ack Ack) error {
	var result pktAckResult
	s.shared.withQueues(func(q *queues) {
		result = q.deliver(s.shared.log, ack.PacketID(), ack.PacketType())
	})

	if result.mismatch {
		return &UnexpectedAckError{Got: ack.PacketType(), Expected: result.expectedFor}
	}
	if result.delivered != nil {
		result.delivered.ack.resolve(ack)
	}
	if result.freedWaiter != nil {
		result.freedWaiter.signal()
	}
	return nil
}
