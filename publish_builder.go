package mq

import (
	"context"
	"time"

	"github.com/lakeshorelabs/mqttcore/internal/packets"
)

// PublishBuilder is the typed builder surface from spec 6:
// `sink.publish(topic, payload).packet_id(id?).dup(b).retain().properties(f).send_at_most_once()`
// and friends. It is produced by Sink.Publish and consumed by exactly
// one of the three SendXxx terminal calls.
type PublishBuilder struct {
	sink       *Sink
	topic      string
	payload    []byte
	qos        uint8
	packetID   uint16
	retain     bool
	properties *Properties
}

// Publish begins constructing an outbound PUBLISH for topic/payload.
// QoS defaults to 0; set it explicitly with the fluent
// QoS/Retain/PacketID/Properties setters below.
func (s *Sink) Publish(topic string, payload []byte) *PublishBuilder {
	return &PublishBuilder{sink: s, topic: topic, payload: payload}
}

// QoS sets the publish's Quality of Service level (0, 1, or 2).
func (b *PublishBuilder) QoS(qos uint8) *PublishBuilder {
	b.qos = qos
	return b
}

// PacketID sets a caller-supplied packet id instead of letting the sink
// allocate one via Shared.nextPacketID. Ignored for QoS 0.
func (b *PublishBuilder) PacketID(id uint16) *PublishBuilder {
	b.packetID = id
	return b
}

// Retain sets the PUBLISH retain flag.
func (b *PublishBuilder) Retain(retain bool) *PublishBuilder {
	b.retain = retain
	return b
}

// Properties attaches MQTT v5.0 properties (user properties, content
// type, and so on); ignored on v3.1.1 connections.
func (b *PublishBuilder) Properties(p *Properties) *PublishBuilder {
	b.properties = p
	return b
}

// toPacket materializes the wire PUBLISH for this builder at the given
// packet id and dup flag. id is 0 for QoS 0.
func (b *PublishBuilder) toPacket(id uint16, dup bool) *packets.PublishPacket {
	return &packets.PublishPacket{
		Topic:      b.topic,
		Payload:    b.payload,
		QoS:        b.qos,
		Retain:     b.retain,
		Dup:        dup,
		PacketID:   id,
		Version:    b.sink.version,
		Properties: toInternalProperties(b.properties),
	}
}

// validate rejects a topic/payload combination that would never make it
// onto the wire cleanly, before any packet id is allocated or admission
// is blocked on.
func (b *PublishBuilder) validate() error {
	if err := validatePublishTopic(b.topic); err != nil {
		return err
	}
	return validatePayloadSize(b.payload)
}

// SendAtMostOnce sends with QoS 0 (fire-and-forget). Any QoS set via
// QoS() is ignored; this call always encodes QoS 0 on the wire.
func (b *PublishBuilder) SendAtMostOnce() error {
	if err := b.validate(); err != nil {
		return err
	}
	b.qos = 0
	return b.sink.SendAtMostOnce(b)
}

// SendAtLeastOnce sends with QoS 1, re-sending with dup=true each time
// timeout passes without an ack, until an ack arrives, ctx is done, or
// the connection closes.
func (b *PublishBuilder) SendAtLeastOnce(ctx context.Context, timeout time.Duration) (PublishAck, error) {
	if err := b.validate(); err != nil {
		return PublishAck{}, err
	}
	b.qos = 1
	return b.sink.SendAtLeastOnce(ctx, b, timeout)
}

// SendExactlyOnce sends with QoS 2, running the two-phase PUBLISH/PUBREC
// then PUBREL/PUBCOMP exchange described in spec 4.2.
func (b *PublishBuilder) SendExactlyOnce(ctx context.Context, timeout time.Duration) (PublishAck2, error) {
	if err := b.validate(); err != nil {
		return PublishAck2{}, err
	}
	b.qos = 2
	return b.sink.SendExactlyOnce(ctx, b, timeout)
}
