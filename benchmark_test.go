package mq

import (
	"bytes"
	"testing"

	"github.com/lakeshorelabs/mqttcore/internal/packets"
)

// BenchmarkDecoding measures the cost of reading/decoding packets.
func BenchmarkDecoding_Publish_Small(b *testing.B) {
	pkt := &packets.PublishPacket{
		Topic:    "sensors/temperature",
		Payload:  []byte("25.5"),
		QoS:      1,
		PacketID: 10,
	}
	encoded := encodeToBytes(pkt)
	r := bytes.NewReader(encoded)

	for b.Loop() {
		r.Reset(encoded)
		_, err := packets.ReadPacket(r, 4, 0)
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecoding_Publish_Large(b *testing.B) {
	payload := make([]byte, 2048) // 2KB, fits in 4KB pool
	pkt := &packets.PublishPacket{
		Topic:    "data/large",
		Payload:  payload,
		QoS:      1,
		PacketID: 10,
	}
	encoded := encodeToBytes(pkt)
	r := bytes.NewReader(encoded)

	for b.Loop() {
		r.Reset(encoded)
		_, err := packets.ReadPacket(r, 4, 0)
		if err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSinkPublishThroughput measures the QoS-0 send path end to end
// against an in-memory Io, mirroring the decode benchmarks above but
// exercising Sink/Shared instead of the raw codec.
func BenchmarkSinkPublishThroughput(b *testing.B) {
	sink, _ := newTestSink(1000)
	payload := []byte("payload")

	for b.Loop() {
		if err := sink.Publish("bench/topic", payload).SendAtMostOnce(); err != nil {
			b.Fatal(err)
		}
	}
}
