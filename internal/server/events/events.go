// Package events publishes a notification for every post that reaches a
// terminal status, keyed by post id.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// PostEvent is the JSON message sent on a terminal transition.
type PostEvent struct {
	PostID  string    `json:"post_id"`
	Status  string    `json:"status"`
	EventID string    `json:"event_id,omitempty"`
	Error   string    `json:"error,omitempty"`
	Channel string    `json:"channel,omitempty"`
	At      time.Time `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, ev PostEvent) error
	Close() error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, PostEvent) error { return nil }
func (Nop) Close() error                            { return nil }

type KafkaNotifier struct {
	topic    string
	producer sarama.SyncProducer
}

func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	cfg := sarama.NewConfig()

	// required by SyncProducer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 500 * time.Millisecond

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create sarama sync producer: %w", err)
	}
	return NewKafkaNotifierWithProducer(prod, topic), nil
}

func NewKafkaNotifierWithProducer(p sarama.SyncProducer, topic string) *KafkaNotifier {
	return &KafkaNotifier{topic: topic, producer: p}
}

func (n *KafkaNotifier) Notify(_ context.Context, ev PostEvent) error {
	if ev.PostID == "" {
		return fmt.Errorf("post id is empty")
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal post event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     n.topic,
		Key:       sarama.StringEncoder(ev.PostID),
		Value:     sarama.ByteEncoder(b),
		Timestamp: ev.At,
	}
	if _, _, err := n.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send kafka message: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.producer.Close()
}
