package mq

import "github.com/lakeshorelabs/mqttcore/internal/packets"

// AckType identifies the kind of acknowledgement an inflight entry is
// waiting for. It is the Go stand-in for the source's AckType enum used
// to validate that an incoming ack matches the outstanding request.
type AckType int

const (
	// AckPublish is expected for a QoS-1 PUBLISH (PUBACK) or phase 1 of a
	// QoS-2 PUBLISH (PUBREC).
	AckPublish AckType = iota
	// AckPublish2 is expected for phase 2 of a QoS-2 PUBLISH (PUBCOMP).
	AckPublish2
	// AckSubscribe is expected for a SUBSCRIBE (SUBACK).
	AckSubscribe
	// AckUnsubscribe is expected for an UNSUBSCRIBE (UNSUBACK).
	AckUnsubscribe
)

func (t AckType) String() string {
	switch t {
	case AckPublish:
		return "Publish"
	case AckPublish2:
		return "Publish2"
	case AckSubscribe:
		return "Subscribe"
	case AckUnsubscribe:
		return "Unsubscribe"
	default:
		return "Unknown"
	}
}

// Ack is the generic envelope the connection's read loop hands to
// Sink.pktAck for every acknowledgement-bearing inbound packet: PUBACK,
// PUBREC, PUBCOMP, SUBACK, UNSUBACK.
type Ack interface {
	// PacketID returns the packet identifier the ack refers to.
	PacketID() uint16
	// PacketType reports which AckType this envelope satisfies.
	PacketType() AckType
	// IsMatch reports whether this ack can resolve an inflight entry
	// of the given AckType.
	IsMatch(want AckType) bool
	// ReasonCode is the MQTT v5 reason code (0 on v3.1.1 success acks).
	ReasonCode() uint8
	// ReasonString is the optional v5 human-readable reason.
	ReasonString() string
	// Properties returns the v5 properties attached to the ack, or nil.
	Properties() *Properties
}

type baseAck struct {
	packetID   uint16
	kind       AckType
	reasonCode uint8
	reasonStr  string
	props      *Properties
}

func (a baseAck) PacketID() uint16        { return a.packetID }
func (a baseAck) PacketType() AckType     { return a.kind }
func (a baseAck) IsMatch(want AckType) bool { return a.kind == want }
func (a baseAck) ReasonCode() uint8       { return a.reasonCode }
func (a baseAck) ReasonString() string    { return a.reasonStr }
func (a baseAck) Properties() *Properties { return a.props }

// PublishAck acknowledges a QoS-1 publish (PUBACK) or phase 1 of a QoS-2
// publish (PUBREC).
type PublishAck struct{ baseAck }

// PublishAck2 acknowledges phase 2 of a QoS-2 publish (PUBCOMP).
type PublishAck2 struct{ baseAck }

// SubscribeAck acknowledges a SUBSCRIBE, carrying one reason code per
// requested topic filter, in request order.
type SubscribeAck struct {
	baseAck
	ReasonCodes []uint8
}

// UnsubscribeAck acknowledges an UNSUBSCRIBE, carrying one reason code
// per requested topic filter (v5 only; empty on v3.1.1).
type UnsubscribeAck struct {
	baseAck
	ReasonCodes []uint8
}

// success reports whether a single-reason-code ack succeeded. Reason
// codes 0x00-0x7F indicate success per the MQTT v5 spec; PublishAck and
// PublishAck2 use this. SubscribeAck/UnsubscribeAck check their own
// per-filter ReasonCodes instead.
func (a baseAck) success() bool {
	return a.reasonCode < 0x80
}

func ackFromPuback(p *packets.PubackPacket) PublishAck {
	return PublishAck{baseAck{
		packetID:   p.PacketID,
		kind:       AckPublish,
		reasonCode: p.ReasonCode,
		props:      toPublicProperties(p.Properties),
	}}
}

func ackFromPubrec(p *packets.PubrecPacket) PublishAck {
	return PublishAck{baseAck{
		packetID:   p.PacketID,
		kind:       AckPublish,
		reasonCode: p.ReasonCode,
		props:      toPublicProperties(p.Properties),
	}}
}

func ackFromPubcomp(p *packets.PubcompPacket) PublishAck2 {
	return PublishAck2{baseAck{
		packetID:   p.PacketID,
		kind:       AckPublish2,
		reasonCode: p.ReasonCode,
		props:      toPublicProperties(p.Properties),
	}}
}

func ackFromSuback(p *packets.SubackPacket) SubscribeAck {
	rc := uint8(0)
	if len(p.ReturnCodes) > 0 {
		rc = p.ReturnCodes[0]
	}
	return SubscribeAck{
		baseAck: baseAck{
			packetID:   p.PacketID,
			kind:       AckSubscribe,
			reasonCode: rc,
			props:      toPublicProperties(p.Properties),
		},
		ReasonCodes: p.ReturnCodes,
	}
}

func ackFromUnsuback(p *packets.UnsubackPacket) UnsubscribeAck {
	rc := uint8(0)
	if len(p.ReasonCodes) > 0 {
		rc = p.ReasonCodes[0]
	}
	return UnsubscribeAck{
		baseAck: baseAck{
			packetID:   p.PacketID,
			kind:       AckUnsubscribe,
			reasonCode: rc,
			props:      toPublicProperties(p.Properties),
		},
		ReasonCodes: p.ReasonCodes,
	}
}
