package handler

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/fpang/messenger-gateway/internal/messenger"
)

// DefaultPrefix is used by the prefix handler when none is configured.
const DefaultPrefix = "You said: "

// Echo replies to every text message with the same text, optionally prefixed.
// Echoes of the page's own messages are ignored so the page never answers
// itself.
type Echo struct {
	senders SenderFactory
	prefix  string
}

// NewEcho creates an Echo handler.
func NewEcho(senders SenderFactory, prefix string) (*Echo, error) {
	if senders == nil {
		return nil, errors.New("sender factory is required")
	}
	return &Echo{senders: senders, prefix: prefix}, nil
}

func (h *Echo) Handle(ctx context.Context, event messenger.MessagingEvent, creds Credentials) error {
	if event.Kind() != messenger.KindMessage || event.Text() == "" {
		log.Debug().
			Str("pageId", creds.PageID).
			Str("kind", string(event.Kind())).
			Msg("Echo handler: nothing to reply to")
		return nil
	}

	return h.senders(creds.AccessToken).SendText(ctx, event.Sender.ID, h.prefix+event.Text())
}
