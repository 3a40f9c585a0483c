package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eduvault/backend/internal/logger"
	"github.com/segmentio/kafka-go"
)

// SettlementRecorded is published once a settlement has a ledger reference
type SettlementRecorded struct {
	IntentID        string    `json:"intent_id"`
	StudentID       string    `json:"student_id"`
	Provider        string    `json:"provider"`
	SettlementID    string    `json:"settlement_id"`
	Amount          float64   `json:"amount"`
	Currency        string    `json:"currency"`
	LedgerReference string    `json:"ledger_reference"`
	Degraded        bool      `json:"degraded"`
	ReceiptURL      string    `json:"receipt_url"`
	RecordedAt      time.Time `json:"recorded_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes settlement events to a Kafka topic
type Producer struct {
	writer messageWriter
	topic  string
}

// NewProducer creates a producer for topic on brokers
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}

	return &Producer{writer: writer, topic: topic}
}

// PublishSettlement publishes event keyed by student so one student's
// settlements stay ordered on a partition.
func (p *Producer) PublishSettlement(ctx context.Context, event SettlementRecorded) error {
	return p.Publish(ctx, event.StudentID, event)
}

// Publish serialises value as JSON and writes it under key
func (p *Producer) Publish(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}
	if requestID := logger.RequestIDFromContext(ctx); requestID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "X-Request-Id", Value: []byte(requestID)})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", p.topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
