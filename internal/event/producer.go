package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/astroxblogs/authgate/internal/domain"
	pkgkafka "github.com/astroxblogs/authgate/pkg/kafka"
)

// Kafka topic constants for principal lifecycle events. Downstream consumers
// (the personalization email job, audit tooling) subscribe to these.
const (
	TopicOperatorCreated      = "astroxblogs.principal.operator_created"
	TopicPrincipalDeactivated = "astroxblogs.principal.deactivated"
	TopicSessionRevoked       = "astroxblogs.session.revoked"
)

// Aggregate type constant.
const AggregateTypePrincipal = "principal"

// Source identifier for events originating from this service.
const SourceAuthgate = "authgate"

// OperatorCreatedData is the payload for an operator_created event.
type OperatorCreatedData struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// PrincipalDeactivatedData is the payload for a deactivated event.
type PrincipalDeactivatedData struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// SessionRevokedData is the payload for a session_revoked event.
type SessionRevokedData struct {
	PrincipalID string `json:"principal_id"`
	Trigger     string `json:"trigger"` // logout | mismatch | deactivation
}

// Producer publishes principal lifecycle events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger}
}

// PublishOperatorCreated publishes an operator_created event.
func (p *Producer) PublishOperatorCreated(ctx context.Context, principal *domain.Principal) error {
	data := OperatorCreatedData{
		ID:       principal.ID,
		Username: principal.Username,
		Role:     string(principal.Role),
	}
	return p.publish(ctx, TopicOperatorCreated, principal.ID, data)
}

// PublishPrincipalDeactivated publishes a deactivated event.
func (p *Producer) PublishPrincipalDeactivated(ctx context.Context, principal *domain.Principal) error {
	data := PrincipalDeactivatedData{
		ID:       principal.ID,
		Username: principal.Username,
	}
	return p.publish(ctx, TopicPrincipalDeactivated, principal.ID, data)
}

// PublishSessionRevoked publishes a session_revoked event.
func (p *Producer) PublishSessionRevoked(ctx context.Context, principalID, trigger string) error {
	data := SessionRevokedData{
		PrincipalID: principalID,
		Trigger:     trigger,
	}
	return p.publish(ctx, TopicSessionRevoked, principalID, data)
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, AggregateTypePrincipal, SourceAuthgate, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}
