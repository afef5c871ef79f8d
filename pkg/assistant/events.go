package assistant

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
)

// TopicActionApplied is the topic applied-action events are published on.
const TopicActionApplied = "assistant.action.applied"

// ActionAppliedEvent is the payload published after an apply request has been
// executed and the ledger record moved to applied.
type ActionAppliedEvent struct {
	SessionID          string      `json:"sessionId"`
	RequestID          string      `json:"requestId"`
	AssistantMessageID string      `json:"assistantMessageId"`
	ArtifactID         string      `json:"artifactId,omitempty"`
	SourceKey          string      `json:"sourceKey,omitempty"`
	TemplateID         string      `json:"templateId,omitempty"`
	TemplateUpdated    bool        `json:"templateUpdated"`
	Status             ApplyStatus `json:"status"`
	OccurredAt         time.Time   `json:"occurredAt"`
}

// ApplyEventPublisher publishes applied-action events over a watermill
// publisher. Failures are caller's to log; apply results are never rolled
// back because of a publish error.
type ApplyEventPublisher struct {
	publisher message.Publisher
	clock     Clock
}

func NewApplyEventPublisher(publisher message.Publisher, clock Clock) (*ApplyEventPublisher, error) {
	if publisher == nil {
		return nil, errors.New("event publisher: publisher is nil")
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &ApplyEventPublisher{publisher: publisher, clock: clock}, nil
}

func (p *ApplyEventPublisher) PublishApplied(ctx context.Context, cmd ApplyCommand, result ApplyResult) error {
	event := ActionAppliedEvent{
		SessionID:          cmd.SessionID,
		RequestID:          cmd.RequestID,
		AssistantMessageID: cmd.AssistantMessageID,
		ArtifactID:         result.ArtifactID,
		SourceKey:          result.SourceKey,
		TemplateID:         result.TemplateID,
		TemplateUpdated:    result.TemplateUpdated,
		Status:             result.Status,
		OccurredAt:         p.clock.Now(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "event publisher: marshal event")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := p.publisher.Publish(TopicActionApplied, msg); err != nil {
		return errors.Wrap(err, "event publisher: publish")
	}
	return nil
}
