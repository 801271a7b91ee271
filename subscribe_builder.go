package mq

import (
	"context"

	"github.com/lakeshorelabs/mqttcore/internal/packets"
)

// topicFilter is one entry of a SubscribeBuilder's topic-filter list.
type topicFilter struct {
	filter            string
	qos               uint8
	noLocal           bool
	retainAsPublished bool
	retainHandling    uint8
}

// SubscribeBuilder is the typed builder surface
// `sink.subscribe(subscription_id?).packet_id(id?).topic_filter(f, opts).property(k, v).send()`
// from spec 6.
type SubscribeBuilder struct {
	sink           *Sink
	packetID       uint16
	filters        []topicFilter
	subscriptionID int
	properties     *Properties
}

// SubscribeBuilder begins constructing an outbound SUBSCRIBE.
func (s *Sink) SubscribeBuilder() *SubscribeBuilder {
	return &SubscribeBuilder{sink: s}
}

// PacketID sets a caller-supplied packet id.
func (b *SubscribeBuilder) PacketID(id uint16) *SubscribeBuilder {
	b.packetID = id
	return b
}

// TopicFilter adds one topic filter with its per-filter QoS and v5.0
// subscription options.
func (b *SubscribeBuilder) TopicFilter(filter string, qos uint8, noLocal, retainAsPublished bool, retainHandling uint8) *SubscribeBuilder {
	b.filters = append(b.filters, topicFilter{
		filter:            filter,
		qos:               qos,
		noLocal:           noLocal,
		retainAsPublished: retainAsPublished,
		retainHandling:    retainHandling,
	})
	return b
}

// SubscriptionIdentifier sets the v5.0 Subscription Identifier property,
// echoed back on every PUBLISH matching this subscription.
func (b *SubscribeBuilder) SubscriptionIdentifier(id int) *SubscribeBuilder {
	b.subscriptionID = id
	return b
}

// Property sets an arbitrary v5.0 user property on the SUBSCRIBE.
func (b *SubscribeBuilder) Property(key, value string) *SubscribeBuilder {
	if b.properties == nil {
		b.properties = NewProperties()
	}
	b.properties.SetUserProperty(key, value)
	return b
}

func (b *SubscribeBuilder) toPacket(id uint16) *packets.SubscribePacket {
	pkt := &packets.SubscribePacket{
		PacketID: id,
		Version:  b.sink.version,
	}
	for _, f := range b.filters {
		pkt.Topics = append(pkt.Topics, f.filter)
		pkt.QoS = append(pkt.QoS, f.qos)
		pkt.NoLocal = append(pkt.NoLocal, f.noLocal)
		pkt.RetainAsPublished = append(pkt.RetainAsPublished, f.retainAsPublished)
		pkt.RetainHandling = append(pkt.RetainHandling, f.retainHandling)
	}
	props := toInternalProperties(b.properties)
	if b.subscriptionID > 0 {
		if props == nil {
			props = &packets.Properties{}
		}
		props.SubscriptionIdentifier = []int{b.subscriptionID}
	}
	pkt.Properties = props
	return pkt
}

// Send encodes the SUBSCRIBE and awaits its SUBACK.
func (b *SubscribeBuilder) Send(ctx context.Context) (SubscribeAck, error) {
	for _, f := range b.filters {
		if err := validateSubscribeTopic(f.filter); err != nil {
			return SubscribeAck{}, err
		}
	}
	return b.sink.Subscribe(ctx, b)
}

// UnsubscribeBuilder is spec 6's unsubscribe builder, the mirror of
// SubscribeBuilder over UNSUBSCRIBE/UNSUBACK.
type UnsubscribeBuilder struct {
	sink       *Sink
	packetID   uint16
	topics     []string
	properties *Properties
}

// UnsubscribeBuilder begins constructing an outbound UNSUBSCRIBE.
func (s *Sink) UnsubscribeBuilder() *UnsubscribeBuilder {
	return &UnsubscribeBuilder{sink: s}
}

// PacketID sets a caller-supplied packet id.
func (b *UnsubscribeBuilder) PacketID(id uint16) *UnsubscribeBuilder {
	b.packetID = id
	return b
}

// Topic adds one topic filter to unsubscribe from.
func (b *UnsubscribeBuilder) Topic(filter string) *UnsubscribeBuilder {
	b.topics = append(b.topics, filter)
	return b
}

// Property sets an arbitrary v5.0 user property on the UNSUBSCRIBE.
func (b *UnsubscribeBuilder) Property(key, value string) *UnsubscribeBuilder {
	if b.properties == nil {
		b.properties = NewProperties()
	}
	b.properties.SetUserProperty(key, value)
	return b
}

func (b *UnsubscribeBuilder) toPacket(id uint16) *packets.UnsubscribePacket {
	return &packets.UnsubscribePacket{
		PacketID:   id,
		Topics:     b.topics,
		Version:    b.sink.version,
		Properties: toInternalProperties(b.properties),
	}
}

// Send encodes the UNSUBSCRIBE and awaits its UNSUBACK.
func (b *UnsubscribeBuilder) Send(ctx context.Context) (UnsubscribeAck, error) {
	return b.sink.Unsubscribe(ctx, b)
}
