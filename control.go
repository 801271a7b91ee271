package mq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lakeshorelabs/mqttcore/internal/packets"
)

// ControlKind identifies which non-PUBLISH event a ControlMessage
// carries, per spec 4.4's ControlMessage variant set.
type ControlKind int

const (
	ControlPing ControlKind = iota
	ControlDisconnect
	ControlSubscribe
	ControlUnsubscribe
	ControlClosed
	ControlError
	ControlProtocolError
	ControlAuth
)

func (k ControlKind) String() string {
	switch k {
	case ControlPing:
		return "Ping"
	case ControlDisconnect:
		return "Disconnect"
	case ControlSubscribe:
		return "Subscribe"
	case ControlUnsubscribe:
		return "Unsubscribe"
	case ControlClosed:
		return "Closed"
	case ControlError:
		return "Error"
	case ControlProtocolError:
		return "ProtocolError"
	case ControlAuth:
		return "Auth"
	default:
		return "Unknown"
	}
}

// ControlMessage is the uniform envelope for every non-PUBLISH event the
// connection reactor hands to a ControlService, per spec 4.4.
type ControlMessage struct {
	Kind       ControlKind
	Disconnect *packets.DisconnectPacket
	Subscribe  *packets.SubscribePacket
	Unsubscribe *packets.UnsubscribePacket
	Auth       *packets.AuthPacket
	Err        error
}

// ControlResultKind is the action a ControlService asks the reactor to
// take once it has handled a ControlMessage.
type ControlResultKind int

const (
	// ControlResultNone takes no further reactor action (the ack, if
	// any, was already sent by the service itself).
	ControlResultNone ControlResultKind = iota
	// ControlResultDisconnect tells the reactor to send DISCONNECT (v5
	// only, carrying Reason) and tear down the connection.
	ControlResultDisconnect
	// ControlResultPong tells the reactor to answer a PINGREQ with its
	// built-in PINGRESP ack.
	ControlResultPong
)

// ControlResult is a ControlService's verdict on one ControlMessage.
// Reason is only meaningful on v5 connections and only when Kind is
// ControlResultDisconnect.
type ControlResult struct {
	Kind   ControlResultKind
	Reason ReasonCode
}

func controlResultNone() ControlResult { return ControlResult{Kind: ControlResultNone} }

func controlResultDisconnect(reason ReasonCode) ControlResult {
	return ControlResult{Kind: ControlResultDisconnect, Reason: reason}
}

// ControlService handles the non-PUBLISH events of one connection.
type ControlService interface {
	Call(ctx context.Context, msg ControlMessage) (ControlResult, error)
}

// ControlServiceFunc adapts a plain function to ControlService.
type ControlServiceFunc func(ctx context.Context, msg ControlMessage) (ControlResult, error)

func (f ControlServiceFunc) Call(ctx context.Context, msg ControlMessage) (ControlResult, error) {
	return f(ctx, msg)
}

// defaultV3ControlService is the v3.1.1 fallback control handler: it
// acknowledges PING and DISCONNECT; every other variant is logged and
// answered with a Disconnect result. v3.1.1 DISCONNECT carries no
// reason code, so the result's Reason is not sent on the wire.
type defaultV3ControlService struct{ log *slog.Logger }

// NewDefaultV3ControlService returns the baseline v3.1.1 control
// handler: every variant other than Ping/Disconnect is logged and
// answered with a Disconnect result.
func NewDefaultV3ControlService(log *slog.Logger) ControlService {
	if log == nil {
		log = noopLogger()
	}
	return &defaultV3ControlService{log: log}
}

func (s *defaultV3ControlService) Call(_ context.Context, msg ControlMessage) (ControlResult, error) {
	switch msg.Kind {
	case ControlPing:
		return ControlResult{Kind: ControlResultPong}, nil
	case ControlDisconnect:
		return controlResultNone(), nil
	default:
		s.log.Warn("control service not configured for v3.1.1", "kind", msg.Kind.String())
		return ControlResult{Kind: ControlResultDisconnect}, nil
	}
}

// defaultV5ControlService is the v5.0 fallback control handler: PING
// and DISCONNECT are acknowledged with no further action; every other
// variant is logged and answered with a DISCONNECT carrying
// UnspecifiedError, since an unconfigured v5 control surface cannot
// meaningfully continue the session.
type defaultV5ControlService struct{ log *slog.Logger }

// NewDefaultV5ControlService returns the baseline v5.0 control handler.
func NewDefaultV5ControlService(log *slog.Logger) ControlService {
	if log == nil {
		log = noopLogger()
	}
	return &defaultV5ControlService{log: log}
}

func (s *defaultV5ControlService) Call(_ context.Context, msg ControlMessage) (ControlResult, error) {
	switch msg.Kind {
	case ControlPing:
		return ControlResult{Kind: ControlResultPong}, nil
	case ControlDisconnect:
		return controlResultNone(), nil
	default:
		s.log.Warn("control service not configured", "kind", msg.Kind.String())
		return controlResultDisconnect(ReasonCodeUnspecifiedError), nil
	}
}

// dispatchControl is the reactor-facing entry point: it builds the
// ControlMessage for a decoded non-PUBLISH packet and invokes svc,
// applying the ControlResult against sink. Grounded on logic.go's
// handleIncoming switch, generalized from direct per-packet handler
// methods to a uniform message/result pair.
func dispatchControl(ctx context.Context, svc ControlService, sink *Sink, pkt packets.Packet) error {
	msg, ok := controlMessageFor(pkt)
	if !ok {
		return fmt.Errorf("mqtt: %T is not a control packet", pkt)
	}

	result, err := svc.Call(ctx, msg)
	if err != nil {
		return err
	}
	switch result.Kind {
	case ControlResultDisconnect:
		return sink.CloseWithReason(result.Reason)
	case ControlResultPong:
		return sink.Pong()
	}
	return nil
}

func controlMessageFor(pkt packets.Packet) (ControlMessage, bool) {
	switch p := pkt.(type) {
	case *packets.PingreqPacket:
		return ControlMessage{Kind: ControlPing}, true
	case *packets.DisconnectPacket:
		return ControlMessage{Kind: ControlDisconnect, Disconnect: p}, true
	case *packets.SubscribePacket:
		return ControlMessage{Kind: ControlSubscribe, Subscribe: p}, true
	case *packets.UnsubscribePacket:
		return ControlMessage{Kind: ControlUnsubscribe, Unsubscribe: p}, true
	case *packets.AuthPacket:
		return ControlMessage{Kind: ControlAuth, Auth: p}, true
	default:
		return ControlMessage{}, false
	}
}
