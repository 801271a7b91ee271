package mq

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lakeshorelabs/mqttcore/internal/packets"
)

// netIo adapts a bufio-wrapped net.Conn (or any ReadWriteCloser) to the
// Shared.Io boundary: Encode serializes one packet, guarded by a write
// mutex since the reactor's read loop and user-initiated sends both
// call it concurrently.
type netIo struct {
	rw      io.ReadWriteCloser
	closed  chan struct{}
	closeMu chan struct{} // 1-buffered, acts as a write mutex
}

func newNetIo(rw io.ReadWriteCloser) *netIo {
	n := &netIo{rw: rw, closed: make(chan struct{}), closeMu: make(chan struct{}, 1)}
	n.closeMu <- struct{}{}
	return n
}

func (n *netIo) Encode(pkt packets.Packet) error {
	<-n.closeMu
	defer func() { n.closeMu <- struct{}{} }()
	_, err := pkt.WriteTo(n.rw)
	return err
}

func (n *netIo) Close() error {
	select {
	case <-n.closed:
	default:
		close(n.closed)
	}
	return n.rw.Close()
}

func (n *netIo) IsClosed() bool {
	select {
	case <-n.closed:
		return true
	default:
		return false
	}
}

// Session is the per-connection reactor: it owns the read loop (wire
// bytes → Ack/Publish dispatch), the keepalive loop, and the Sink/Router/
// ControlService wiring described in SPEC_FULL's session component.
// Grounded on logic.go's readLoop/writeLoop pair, generalized from its
// direct per-packet handle* methods to dispatch through RouterService
// and ControlService instead.
type Session struct {
	shared  *Shared
	sink    *Sink
	router  *RouterService
	control ControlService
	version uint8
	reader  *bufio.Reader
	maxPkt  int
	keepAlive time.Duration
	log     *slog.Logger

	group  *errgroup.Group
	gctx   context.Context
	cancel context.CancelFunc
}

// NewSession wires a live connection's Io, RouterService, and
// ControlService into a Session. keepAlive of 0 disables the keepalive
// loop. version is 4 (v3.1.1) or 5.
func NewSession(rw io.ReadWriteCloser, cap int, router *RouterService, control ControlService, version uint8, keepAlive time.Duration, log *slog.Logger) *Session {
	if log == nil {
		log = noopLogger()
	}
	io := newNetIo(rw)
	shared := NewShared(io, cap, log)
	return &Session{
		shared:    shared,
		sink:      NewSink(shared, version),
		router:    router,
		control:   control,
		version:   version,
		reader:    bufio.NewReader(rw),
		keepAlive: keepAlive,
		log:       log,
	}
}

// Sink returns the outbound send surface for this session.
func (s *Session) Sink() *Sink { return s.sink }

// Run starts the read and (if keepAlive > 0) keepalive loops under an
// errgroup.Group, matching SPEC_FULL's decision to manage a session's
// goroutine lifecycle with golang.org/x/sync/errgroup rather than a bare
// sync.WaitGroup: the first loop to fail cancels the group's context and
// its error is what Run returns, instead of being silently dropped.
func (s *Session) Run(ctx context.Context) error {
	gctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(gctx)
	s.group, s.gctx, s.cancel = g, gctx, cancel
	defer cancel()

	g.Go(func() error { return s.readLoop(gctx) })
	if s.keepAlive > 0 {
		g.Go(func() error { return s.keepAliveLoop(gctx) })
	}

	err := g.Wait()
	var uae *UnexpectedAckError
	if errors.As(err, &uae) {
		_ = s.sink.CloseWithReason(ReasonCodeProtocolError)
	} else {
		_ = s.sink.Close()
	}
	return err
}

// Stop cancels the session's goroutines and closes the connection.
func (s *Session) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.sink.Close()
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pkt, err := packets.ReadPacket(s.reader, s.version, s.maxPkt)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := s.dispatch(ctx, pkt); err != nil {
			return err
		}
	}
}

// dispatch routes one decoded inbound packet to the router (PUBLISH),
// the sink (acks), or control dispatch (everything else), per the
// component boundaries of spec 4.
func (s *Session) dispatch(ctx context.Context, pkt packets.Packet) error {
	switch p := pkt.(type) {
	case *packets.PublishPacket:
		return s.dispatchPublish(ctx, p)
	case *packets.PubackPacket:
		return s.sink.PktAck(ackFromPuback(p))
	case *packets.PubrecPacket:
		return s.sink.PktAck(ackFromPubrec(p))
	case *packets.PubrelPacket:
		return s.sink.encodeOrTombstone(&packets.PubcompPacket{PacketID: p.PacketID, Version: s.version}, 0)
	case *packets.PubcompPacket:
		return s.sink.PktAck(ackFromPubcomp(p))
	case *packets.SubackPacket:
		return s.sink.PktAck(ackFromSuback(p))
	case *packets.UnsubackPacket:
		return s.sink.PktAck(ackFromUnsuback(p))
	default:
		return dispatchControl(ctx, s.control, s.sink, pkt)
	}
}

func (s *Session) dispatchPublish(ctx context.Context, p *packets.PublishPacket) error {
	if reason, invalid := validateInboundPublish(p); invalid {
		return s.rejectPublish(p, reason)
	}

	if err := s.router.Ready(ctx); err != nil {
		return err
	}
	pub := &Publish{
		Topic:      p.Topic,
		Payload:    p.Payload,
		QoS:        p.QoS,
		Dup:        p.Dup,
		Retain:     p.Retain,
		PacketID:   p.PacketID,
		Properties: toPublicProperties(p.Properties),
	}
	if p.Properties != nil && p.Properties.Presence&packets.PresTopicAlias != 0 {
		alias := p.Properties.TopicAlias
		pub.TopicAlias = &alias
	}
	ack, err := s.router.Call(ctx, pub)
	if err != nil {
		return err
	}

	switch p.QoS {
	case 1:
		return s.sink.encodeOrTombstone(&packets.PubackPacket{
			PacketID:   p.PacketID,
			ReasonCode: ack.ReasonCode(),
			Version:    s.version,
		}, 0)
	case 2:
		return s.sink.encodeOrTombstone(&packets.PubrecPacket{
			PacketID:   p.PacketID,
			ReasonCode: ack.ReasonCode(),
			Version:    s.version,
		}, 0)
	default:
		return nil
	}
}

// validateInboundPublish checks an inbound PUBLISH's topic and payload
// before it reaches the router, reporting the v5.0 reason code a
// malformed topic or oversized payload should be acked with.
func validateInboundPublish(p *packets.PublishPacket) (ReasonCode, bool) {
	if err := validatePublishTopic(p.Topic); err != nil {
		return ReasonCodeTopicNameInvalid, true
	}
	if err := validatePayloadSize(p.Payload); err != nil {
		return ReasonCodePacketTooLarge, true
	}
	return 0, false
}

// rejectPublish acks a PUBLISH the router never sees with reason,
// mirroring dispatchPublish's own ack-by-QoS branching.
func (s *Session) rejectPublish(p *packets.PublishPacket, reason ReasonCode) error {
	switch p.QoS {
	case 1:
		return s.sink.encodeOrTombstone(&packets.PubackPacket{
			PacketID:   p.PacketID,
			ReasonCode: uint8(reason),
			Version:    s.version,
		}, 0)
	case 2:
		return s.sink.encodeOrTombstone(&packets.PubrecPacket{
			PacketID:   p.PacketID,
			ReasonCode: uint8(reason),
			Version:    s.version,
		}, 0)
	default:
		return nil
	}
}

func (s *Session) keepAliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sink.Ping(); err != nil {
				return err
			}
		}
	}
}
