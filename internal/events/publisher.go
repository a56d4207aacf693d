package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
)

// EventPublisher defines the interface for publishing session events.
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, event *SessionEvent) error
	Close() error
}

// KafkaEventPublisher implements EventPublisher using Watermill with Kafka.
type KafkaEventPublisher struct {
	publisher message.Publisher
	logger    *slog.Logger
	topicName string
}

// PublisherConfig holds configuration for the event publisher.
type PublisherConfig struct {
	KafkaBrokers []string
	TopicName    string
	Logger       *slog.Logger
}

// NewKafkaEventPublisher creates a new Kafka-based event publisher using Watermill.
func NewKafkaEventPublisher(config PublisherConfig) (*KafkaEventPublisher, error) {
	logger := watermill.NewSlogLogger(config.Logger)

	publisherConfig := kafka.PublisherConfig{
		Brokers:   config.KafkaBrokers,
		Marshaler: kafka.DefaultMarshaler{},
	}

	publisher, err := kafka.NewPublisher(publisherConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka publisher: %w", err)
	}

	return &KafkaEventPublisher{
		publisher: publisher,
		logger:    config.Logger,
		topicName: config.TopicName,
	}, nil
}

// PublishSessionEvent publishes a session event to Kafka.
func (p *KafkaEventPublisher) PublishSessionEvent(ctx context.Context, event *SessionEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal session event: %w", err)
	}

	msg := message.NewMessage(event.ID, eventBytes)
	msg.Metadata.Set("event_type", string(event.Type))
	msg.Metadata.Set("source", event.Source)
	msg.Metadata.Set("version", event.Version)
	msg.Metadata.Set("timestamp", event.Timestamp.Format("2006-01-02T15:04:05Z07:00"))

	if err := p.publisher.Publish(p.topicName, msg); err != nil {
		p.logger.Error("Failed to publish session event",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err)
		return fmt.Errorf("failed to publish session event: %w", err)
	}

	p.logger.Debug("Published session event",
		"event_id", event.ID,
		"event_type", event.Type,
		"topic", p.topicName)

	return nil
}

// Close closes the publisher and releases resources.
func (p *KafkaEventPublisher) Close() error {
	return p.publisher.Close()
}

// NoopEventPublisher discards events. Used when no brokers are configured.
type NoopEventPublisher struct{}

func (NoopEventPublisher) PublishSessionEvent(ctx context.Context, event *SessionEvent) error {
	return nil
}

func (NoopEventPublisher) Close() error { return nil }

// MockEventPublisher is a mock implementation for testing. Safe for
// concurrent use.
type MockEventPublisher struct {
	mu     sync.Mutex
	events []SessionEvent
}

// NewMockEventPublisher creates a new mock event publisher.
func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{
		events: make([]SessionEvent, 0),
	}
}

// PublishSessionEvent stores the event in memory (for testing).
func (m *MockEventPublisher) PublishSessionEvent(ctx context.Context, event *SessionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

// Close is a no-op for the mock publisher.
func (m *MockEventPublisher) Close() error {
	return nil
}

// PublishedEvents returns all published events (for testing).
func (m *MockEventPublisher) PublishedEvents() []SessionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionEvent, len(m.events))
	copy(out, m.events)
	return out
}

// EventsOfType returns all published events of the given type (for testing).
func (m *MockEventPublisher) EventsOfType(eventType EventType) []SessionEvent {
	var out []SessionEvent
	for _, e := range m.PublishedEvents() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
