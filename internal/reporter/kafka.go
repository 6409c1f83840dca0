package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultTopic receives run events when no topic is configured.
const DefaultTopic = "fabric.publisher.events"

// KafkaSink publishes events to a Kafka topic keyed by run id.
type KafkaSink struct {
	w *kafka.Writer
}

// NewKafkaSink builds a sink for a comma-separated broker list.
func NewKafkaSink(brokers, topic string) (*KafkaSink, error) {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaSink{w: &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}}, nil
}

// Topic returns the destination topic.
func (k *KafkaSink) Topic() string { return k.w.Topic }

func (k *KafkaSink) Emit(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return k.w.WriteMessages(ctx, kafka.Message{Key: []byte(evt.RunID), Value: data})
}

func (k *KafkaSink) Close() error { return k.w.Close() }
