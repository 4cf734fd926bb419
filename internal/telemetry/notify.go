package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joshsymonds/remediator/internal/models"
	"github.com/segmentio/kafka-go"
)

// Notifier publishes processing notifications.
type Notifier interface {
	Notify(ctx context.Context, n *models.Notification) error
}

// SQSSendAPI is the subset of the SQS client the notifier uses.
type SQSSendAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSNotifier sends notifications to a side queue.
type SQSNotifier struct {
	client   SQSSendAPI
	queueURL string
}

// NewSQSNotifier creates a queue notifier.
func NewSQSNotifier(client SQSSendAPI, queueURL string) *SQSNotifier {
	return &SQSNotifier{client: client, queueURL: queueURL}
}

// Notify implements Notifier.
func (s *SQSNotifier) Notify(ctx context.Context, n *models.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// MessageWriter is the subset of *kafka.Writer the Kafka notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier writes notifications to a Kafka topic keyed by finding id.
type KafkaNotifier struct {
	writer MessageWriter
}

const (
	kafkaBatchTimeout = 10 * time.Millisecond
	kafkaWriteTimeout = 5 * time.Second
)

// NewKafkaWriter builds a writer for the given brokers and topic. Notifications are written
// one at a time from the worker loop, so batches flush immediately.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
		BatchSize:    1,
		BatchTimeout: kafkaBatchTimeout,
		WriteTimeout: kafkaWriteTimeout,
	}
}

// NewKafkaNotifier creates a Kafka notifier.
func NewKafkaNotifier(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

// Notify implements Notifier.
func (k *KafkaNotifier) Notify(ctx context.Context, n *models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	msg := kafka.Message{
		Value: data,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(n.Status)},
		},
	}
	if n.Finding != nil {
		msg.Key = []byte(n.Finding.FindingID)
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}

// MultiNotifier fans a notification out to every sink.
type MultiNotifier []Notifier

// Notify implements Notifier. All sinks are attempted; errors are joined.
func (m MultiNotifier) Notify(ctx context.Context, n *models.Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemoryNotifier records notifications in memory.
type MemoryNotifier struct {
	Err           error
	notifications []models.Notification
	mu            sync.Mutex
}

// Notify implements Notifier.
func (m *MemoryNotifier) Notify(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.notifications = append(m.notifications, *n)
	return nil
}

// Notifications returns a copy of the recorded notifications.
func (m *MemoryNotifier) Notifications() []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Notification(nil), m.notifications...)
}
