package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"transfer-ledger/pkg/notify"

	"github.com/segmentio/kafka-go"
)

// Sink publishes TransferCompleted events to a Kafka topic, keyed by transfer id.
type Sink struct {
	writer *kafka.Writer
	config Config
}

// Config configures the Kafka sink.
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	// RequiredAcks: -1 waits for all in-sync replicas, 1 for the leader only
	RequiredAcks int
}

// DefaultConfig returns the default sink configuration.
func DefaultConfig() Config {
	return Config{
		Brokers:      []string{"localhost:9092"},
		Topic:        "transfer_completed",
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		RequiredAcks: int(kafka.RequireAll),
	}
}

// New creates a sink. The writer connects lazily on the first send.
func New(config Config) (*Sink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka: no topic configured")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           config.BatchTimeout,
		WriteTimeout:           config.WriteTimeout,
		RequiredAcks:           kafka.RequiredAcks(config.RequiredAcks),
		AllowAutoTopicCreation: true,
	}

	return &Sink{writer: writer, config: config}, nil
}

func (s *Sink) Name() string {
	return "kafka:" + s.config.Topic
}

// Send writes one message. Messages of the same transfer land on the same partition.
func (s *Sink) Send(ctx context.Context, event notify.TransferCompleted) error {
	msg, err := message(event)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s: %w", event.TransferID, err)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.writer.Close()
}

func message(event notify.TransferCompleted) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.TransferID),
		Value: data,
		Time:  event.At,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte("transfer_completed")},
		},
	}
	if event.OperationID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "operation_id", Value: []byte(event.OperationID)})
	}
	return msg, nil
}

var _ notify.Sink = (*Sink)(nil)
