// Package alert escalates failed compensations: a debit that was taken and
// could not be credited back needs a human.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rustyeddy/trading-executor/executor"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes escalations as JSON, keyed by account so the events of
// one account stay ordered.
type Kafka struct {
	w     MessageWriter
	topic string
}

var _ executor.Escalator = (*Kafka)(nil)

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			MaxAttempts:            5,
			WriteBackoffMin:        100 * time.Millisecond,
			WriteBackoffMax:        time.Second,
		},
		topic: topic,
	}
}

// NewKafkaWriter wraps an existing writer. The writer must have its topic set.
func NewKafkaWriter(w MessageWriter, topic string) *Kafka {
	return &Kafka{w: w, topic: topic}
}

func (k *Kafka) Escalate(ctx context.Context, e executor.Escalation) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal escalation: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.TraderID + "|" + e.AccountID),
		Value: data,
		Time:  e.Time,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte("compensation_failed")},
			{Key: "process_id", Value: []byte(e.ProcessID)},
		},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish escalation to %s: %w", k.topic, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.w.Close()
}

// Log writes escalations to a logger at ERROR. The serve command always
// runs it, next to Kafka when brokers are configured.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Escalate(_ context.Context, e executor.Escalation) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("ESCALATION: manual balance correction required",
		"alert", true,
		"saga_id", e.SagaID,
		"process_id", e.ProcessID,
		"trader_id", e.TraderID,
		"account_id", e.AccountID,
		"position_id", e.PositionID,
		"amount", e.Amount.String(),
		"create_error", e.CreateError,
		"compensation_error", e.CompensationErr,
	)
	return nil
}

// Multi sends to every escalator and joins their errors.
type Multi []executor.Escalator

func (m Multi) Escalate(ctx context.Context, e executor.Escalation) error {
	var errs []error
	for _, esc := range m {
		if err := esc.Escalate(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
