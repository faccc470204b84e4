package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// KafkaSender publishes notifications as JSON to a topic, keyed by recipient
// so one recipient's messages stay ordered within a partition.
type KafkaSender struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaSender connects a synchronous producer to brokers.
func NewKafkaSender(brokers []string, topic string) (*KafkaSender, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Timeout = 5 * time.Second
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewKafkaSenderWithProducer(prod, topic), nil
}

// NewKafkaSenderWithProducer wraps an existing producer.
func NewKafkaSenderWithProducer(p sarama.SyncProducer, topic string) *KafkaSender {
	return &KafkaSender{producer: p, topic: topic}
}

// Send implements Sender. The producer call is synchronous; ctx is only
// checked before publishing.
func (k *KafkaSender) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(m.RecipientID),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(m.Event)},
		},
	})
	return err
}

// Close closes the producer.
func (k *KafkaSender) Close() error { return k.producer.Close() }

// LogSender writes notifications to a logger. Used when no broker is
// configured.
type LogSender struct {
	Log zerolog.Logger
}

// Send implements Sender.
func (l LogSender) Send(_ context.Context, m Message) error {
	l.Log.Info().
		Str("event", string(m.Event)).
		Str("recipient_id", m.RecipientID).
		Str("platform_id", m.PlatformID).
		Interface("detail", m.Detail).
		Msg("notification")
	return nil
}
