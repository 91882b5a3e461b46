package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/messenger-gateway/internal/messenger"
)

// DefaultSource is the EventBridge source used when none is configured.
const DefaultSource = "messenger-gateway"

// detailType is the EventBridge detail-type of forwarded events.
const detailType = "MessengerEvent"

// EventPublisher is the subset of the EventBridge client used by Forward.
type EventPublisher interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// ForwardedEvent is the detail document published to EventBridge. The
// original event JSON is carried unmodified.
type ForwardedEvent struct {
	PageID    string          `json:"pageId"`
	SenderID  string          `json:"senderId"`
	Kind      string          `json:"kind"`
	Timestamp int64           `json:"timestamp"`
	Event     json.RawMessage `json:"event"`
}

// Forward publishes every event it receives to an EventBridge bus, leaving
// the reply to downstream consumers.
type Forward struct {
	client EventPublisher
	bus    string
	source string
}

// NewForward creates a Forward handler. An empty bus selects the account's
// default event bus.
func NewForward(client EventPublisher, bus, source string) (*Forward, error) {
	if client == nil {
		return nil, errors.New("EventBridge client is required")
	}
	if source == "" {
		source = DefaultSource
	}
	return &Forward{client: client, bus: bus, source: source}, nil
}

func (h *Forward) Handle(ctx context.Context, event messenger.MessagingEvent, creds Credentials) error {
	raw := event.Raw
	if len(raw) == 0 {
		var err error
		if raw, err = json.Marshal(event); err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
	}

	detail, err := json.Marshal(ForwardedEvent{
		PageID:    creds.PageID,
		SenderID:  event.Sender.ID,
		Kind:      string(event.Kind()),
		Timestamp: event.Timestamp,
		Event:     raw,
	})
	if err != nil {
		return fmt.Errorf("marshal detail: %w", err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(h.source),
		DetailType: aws.String(detailType),
		Detail:     aws.String(string(detail)),
	}
	if h.bus != "" {
		entry.EventBusName = aws.String(h.bus)
	}

	result, err := h.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("pageId", creds.PageID).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, e := range result.Entries {
			if e.ErrorCode != nil || e.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(e.ErrorCode)).
					Str("errorMessage", aws.ToString(e.ErrorMessage)).
					Str("pageId", creds.PageID).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
			}
		}
	}

	log.Debug().Str("pageId", creds.PageID).Str("kind", string(event.Kind())).Msg("Event forwarded to EventBridge")
	return nil
}
