// Package handler defines the per-page message handlers the dispatcher
// invokes and the table that builds them from configuration.
//
// A handler receives one normalized messaging event together with the
// credentials of the page the event was addressed to. Handlers that reply do
// so through a Sender bound to those credentials, so a reply can never go out
// under another page's token.
package handler

import (
	"context"
	"fmt"
	"sort"

	"github.com/fpang/messenger-gateway/internal/messenger"
)

// Credentials identify the page an event belongs to.
type Credentials struct {
	PageID      string
	AccessToken string
}

// Handler processes one messaging event for one page.
type Handler interface {
	Handle(ctx context.Context, event messenger.MessagingEvent, creds Credentials) error
}

// Func adapts a function to the Handler interface.
type Func func(ctx context.Context, event messenger.MessagingEvent, creds Credentials) error

func (f Func) Handle(ctx context.Context, event messenger.MessagingEvent, creds Credentials) error {
	return f(ctx, event, creds)
}

// Sender is the outbound half of the Send API used by replying handlers.
type Sender interface {
	SendText(ctx context.Context, recipientID, text string) error
	SendAction(ctx context.Context, recipientID string, action messenger.SenderAction) error
}

// SenderFactory returns a Sender bound to a page access token.
type SenderFactory func(accessToken string) Sender

// MessengerSenders returns a SenderFactory backed by the Graph API client.
func MessengerSenders(opts ...messenger.Option) SenderFactory {
	return func(accessToken string) Sender {
		return messenger.NewClient(accessToken, opts...)
	}
}

// Kind names a handler variant in configuration.
type Kind string

const (
	KindEcho      Kind = "echo"
	KindPrefix    Kind = "prefix"
	KindForward   Kind = "forward"
	KindAssistant Kind = "assistant"
)

// Spec is the configuration for one handler instance.
type Spec struct {
	Kind         Kind
	Prefix       string
	EventBus     string
	SystemPrompt string
}

// Deps carries the shared clients handlers are built from. Fields a handler
// kind does not use may be nil.
type Deps struct {
	Senders   SenderFactory
	Events    EventPublisher
	Generator Generator
	Source    string
}

type constructor func(spec Spec, deps Deps) (Handler, error)

var constructors = map[Kind]constructor{
	KindEcho: func(_ Spec, deps Deps) (Handler, error) {
		return NewEcho(deps.Senders, "")
	},
	KindPrefix: func(spec Spec, deps Deps) (Handler, error) {
		prefix := spec.Prefix
		if prefix == "" {
			prefix = DefaultPrefix
		}
		return NewEcho(deps.Senders, prefix)
	},
	KindForward: func(spec Spec, deps Deps) (Handler, error) {
		return NewForward(deps.Events, spec.EventBus, deps.Source)
	},
	KindAssistant: func(spec Spec, deps Deps) (Handler, error) {
		return NewAssistant(deps.Generator, deps.Senders, spec.SystemPrompt)
	},
}

// Build constructs the handler described by spec.
func Build(spec Spec, deps Deps) (Handler, error) {
	ctor, ok := constructors[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown handler kind %q (known: %v)", spec.Kind, Kinds())
	}
	h, err := ctor(spec, deps)
	if err != nil {
		return nil, fmt.Errorf("build %s handler: %w", spec.Kind, err)
	}
	return h, nil
}

// Kinds lists the registered handler kinds in sorted order.
func Kinds() []string {
	kinds := make([]string, 0, len(constructors))
	for k := range constructors {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	return kinds
}
