package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/mbd888/mevguard/internal/journey"
)

// EventJourney is the envelope type of a terminal journey.
const EventJourney = "journey.terminal"

// Envelope wraps every message published to Kafka.
type Envelope struct {
	Type string          `json:"type"`
	TS   int64           `json:"ts"`
	Data json.RawMessage `json:"data"`
}

// KafkaReporter publishes terminal journeys to a topic, keyed by
// transaction ID so one transaction's messages share a partition.
type KafkaReporter struct {
	topic    string
	producer sarama.SyncProducer
}

// NewKafkaReporter dials brokers with a synchronous producer.
func NewKafkaReporter(brokers []string, topic string, cfg *sarama.Config) (*KafkaReporter, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
		cfg.Producer.RequiredAcks = sarama.WaitForAll
		cfg.Producer.Retry.Max = 3
	}
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaReporterWithProducer(p, topic), nil
}

// NewKafkaReporterWithProducer wraps an existing producer.
func NewKafkaReporterWithProducer(p sarama.SyncProducer, topic string) *KafkaReporter {
	return &KafkaReporter{topic: topic, producer: p}
}

// Report publishes j. The sync producer does not take a context; ctx only
// short-circuits when it has already ended.
func (k *KafkaReporter) Report(ctx context.Context, j *journey.Journey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode journey: %w", err)
	}
	b, err := json.Marshal(Envelope{Type: EventJourney, TS: time.Now().UnixMilli(), Data: data})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(j.TxID.String()),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

// Close flushes and closes the producer.
func (k *KafkaReporter) Close() error {
	return k.producer.Close()
}
