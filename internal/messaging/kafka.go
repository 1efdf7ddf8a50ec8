package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/temcen/dinewise/internal/config"
	"github.com/temcen/dinewise/pkg/models"
)

const (
	breakerFailureThreshold = 5
	breakerOpenTimeout      = 30 * time.Second
)

const (
	EventFeedbackRecorded   = "recommendation.feedback"
	EventPreferencesUpdated = "preferences.updated"
)

// Event is the envelope written to every topic.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	UserID    uuid.UUID       `json:"user_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// messageWriter is the part of *kafka.Writer the bus needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type MessageBus struct {
	writer       messageWriter
	breaker      *gobreaker.CircuitBreaker[struct{}]
	topics       map[string]string
	writeTimeout time.Duration
	logger       *logrus.Logger
}

// NewMessageBus returns a bus that publishes to Kafka. With kafka.enabled=false
// every publish is a no-op.
func NewMessageBus(cfg *config.Config, logger *logrus.Logger) (*MessageBus, error) {
	mb := &MessageBus{
		topics: map[string]string{
			EventFeedbackRecorded:   cfg.Kafka.Topics.Feedback,
			EventPreferencesUpdated: cfg.Kafka.Topics.Preferences,
		},
		writeTimeout: cfg.Kafka.WriteTimeout,
		logger:       logger,
	}

	// Writes fail fast after consecutive broker failures
	mb.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "kafka-producer",
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Kafka circuit breaker changed state")
		},
	})

	if !cfg.Kafka.Enabled {
		logger.Info("Kafka disabled, domain events will not be published")
		return mb, nil
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka enabled but no brokers configured")
	}

	// Topic is set per message so one writer serves every event type
	mb.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Balancer:     &kafka.Hash{}, // keyed by user id
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
		WriteTimeout: cfg.Kafka.WriteTimeout,
	}

	return mb, nil
}

// Enabled reports whether events leave the process.
func (mb *MessageBus) Enabled() bool {
	return mb != nil && mb.writer != nil
}

func (mb *MessageBus) PublishFeedback(ctx context.Context, feedback *models.RecommendationFeedback) error {
	return mb.publish(ctx, EventFeedbackRecorded, feedback.UserID, feedback)
}

func (mb *MessageBus) PublishPreferencesUpdated(ctx context.Context, userID uuid.UUID, prefs models.Preferences) error {
	return mb.publish(ctx, EventPreferencesUpdated, userID, prefs)
}

func (mb *MessageBus) publish(ctx context.Context, eventType string, userID uuid.UUID, payload any) error {
	if !mb.Enabled() {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	event := Event{
		ID:        uuid.New(),
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Payload:   body,
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := mb.topics[eventType]
	message := kafka.Message{
		Topic: topic,
		Key:   []byte(userID.String()),
		Value: eventBytes,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID.String())},
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
		},
	}

	if mb.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, mb.writeTimeout)
		defer cancel()
	}

	_, err = mb.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, mb.writer.WriteMessages(ctx, message)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s to Kafka: %w", eventType, err)
	}

	mb.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": eventType,
		"topic":      topic,
		"user_id":    userID,
	}).Debug("Event published to Kafka")

	return nil
}

func (mb *MessageBus) Close() error {
	if !mb.Enabled() {
		return nil
	}
	if err := mb.writer.Close(); err != nil {
		return fmt.Errorf("failed to close producer: %w", err)
	}
	return nil
}
