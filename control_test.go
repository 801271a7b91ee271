package mq

import (
	"context"
	"testing"

	"github.com/lakeshorelabs/mqttcore/internal/packets"
)

func TestDefaultV3ControlServicePingAcksAndDisconnectIsNoop(t *testing.T) {
	svc := NewDefaultV3ControlService(nil)

	result, err := svc.Call(context.Background(), ControlMessage{Kind: ControlPing})
	if err != nil {
		t.Fatalf("Call(Ping): %v", err)
	}
	if result.Kind != ControlResultPong {
		t.Fatalf("Call(Ping).Kind = %v, want ControlResultPong", result.Kind)
	}

	result, err = svc.Call(context.Background(), ControlMessage{Kind: ControlDisconnect})
	if err != nil {
		t.Fatalf("Call(Disconnect): %v", err)
	}
	if result.Kind != ControlResultNone {
		t.Fatalf("Call(Disconnect).Kind = %v, want ControlResultNone", result.Kind)
	}
}

func TestDefaultV3ControlServiceUnhandledVariantDisconnects(t *testing.T) {
	svc := NewDefaultV3ControlService(nil)
	result, err := svc.Call(context.Background(), ControlMessage{Kind: ControlSubscribe})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Kind != ControlResultDisconnect {
		t.Fatalf("v3 unhandled control result = %v, want ControlResultDisconnect", result.Kind)
	}
}

func TestDefaultV5ControlServicePingAcksAndDisconnectIsNoop(t *testing.T) {
	svc := NewDefaultV5ControlService(nil)

	result, err := svc.Call(context.Background(), ControlMessage{Kind: ControlPing})
	if err != nil {
		t.Fatalf("Call(Ping): %v", err)
	}
	if result.Kind != ControlResultPong {
		t.Fatalf("Call(Ping).Kind = %v, want ControlResultPong", result.Kind)
	}

	result, err = svc.Call(context.Background(), ControlMessage{Kind: ControlDisconnect})
	if err != nil {
		t.Fatalf("Call(Disconnect): %v", err)
	}
	if result.Kind != ControlResultNone {
		t.Fatalf("Call(Disconnect).Kind = %v, want ControlResultNone", result.Kind)
	}
}

func TestDefaultV5ControlServiceUnhandledVariantDisconnectsWithReason(t *testing.T) {
	svc := NewDefaultV5ControlService(nil)
	result, err := svc.Call(context.Background(), ControlMessage{Kind: ControlSubscribe})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Kind != ControlResultDisconnect {
		t.Fatalf("v5 unhandled control result = %v, want ControlResultDisconnect", result.Kind)
	}
	if result.Reason != ReasonCodeUnspecifiedError {
		t.Fatalf("disconnect reason = %v, want ReasonCodeUnspecifiedError", result.Reason)
	}
}

func TestControlMessageForRecognizesEveryControlPacketType(t *testing.T) {
	cases := []struct {
		name string
		pkt  packets.Packet
		kind ControlKind
	}{
		{"pingreq", &packets.PingreqPacket{}, ControlPing},
		{"disconnect", &packets.DisconnectPacket{}, ControlDisconnect},
		{"subscribe", &packets.SubscribePacket{}, ControlSubscribe},
		{"unsubscribe", &packets.UnsubscribePacket{}, ControlUnsubscribe},
		{"auth", &packets.AuthPacket{}, ControlAuth},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, ok := controlMessageFor(tc.pkt)
			if !ok {
				t.Fatalf("controlMessageFor(%T) returned ok=false", tc.pkt)
			}
			if msg.Kind != tc.kind {
				t.Fatalf("controlMessageFor(%T).Kind = %v, want %v", tc.pkt, msg.Kind, tc.kind)
			}
		})
	}
}

func TestControlMessageForRejectsNonControlPacket(t *testing.T) {
	if _, ok := controlMessageFor(&packets.PublishPacket{}); ok {
		t.Fatal("controlMessageFor(*PublishPacket) should return ok=false")
	}
}

func TestDispatchControlClosesSinkOnDisconnectResult(t *testing.T) {
	sink, io := newTestSink(10)
	svc := ControlServiceFunc(func(context.Context, ControlMessage) (ControlResult, error) {
		return controlResultDisconnect(ReasonCodeUnspecifiedError), nil
	})

	if err := dispatchControl(context.Background(), svc, sink, &packets.PingreqPacket{}); err != nil {
		t.Fatalf("dispatchControl: %v", err)
	}
	if !io.IsClosed() {
		t.Fatal("dispatchControl with a Disconnect result should close the connection")
	}
}

func TestDispatchControlEncodesPingrespForDefaultServices(t *testing.T) {
	for _, svc := range []ControlService{NewDefaultV3ControlService(nil), NewDefaultV5ControlService(nil)} {
		sink, io := newTestSink(10)
		if err := dispatchControl(context.Background(), svc, sink, &packets.PingreqPacket{}); err != nil {
			t.Fatalf("dispatchControl: %v", err)
		}
		if _, ok := io.last().(*packets.PingrespPacket); !ok {
			t.Fatalf("last encoded packet = %T, want *packets.PingrespPacket", io.last())
		}
	}
}
