package server

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Firehose streams every published event onto a kafka topic for
// downstream consumers (notification workers, moderation audit). It is
// strictly fire-and-forget: the originating write has already committed,
// so failures are logged and never surfaced.
type Firehose struct {
	log    *log.Logger
	writer *kafka.Writer
}

func NewFirehose(logger *log.Logger, brokers []string, topic string) *Firehose {
	w := &kafka.Writer{
		Addr:  kafka.TCP(brokers...),
		Topic: topic,
		// the hash balancer pins a room key to one partition, so
		// per-room order survives partitioning
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}

	return &Firehose{log: logger, writer: w}
}

// Send enqueues the event keyed by room. Called from the hub run loop;
// the writer is async, so enqueueing returns without waiting on the
// broker and events enter the batch in publish order.
func (f *Firehose) Send(ev *Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		f.log.Println("firehose: marshal event:", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	err = f.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Room.String()),
		Value: payload,
		Time:  time.Now(),
	})
	if err != nil {
		f.log.Printf("firehose: write event for room %q: %v", ev.Room, err)
	}
}

func (f *Firehose) Close() error {
	return f.writer.Close()
}
