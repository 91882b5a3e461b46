package dispatch

import (
	"errors"
	"fmt"

	"github.com/fpang/messenger-gateway/internal/messenger"
)

var (
	// ErrMalformedPayload is returned by Parse when the body is not a valid envelope.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnknownPage marks an entry whose page id is not registered. The
	// entry is skipped and the rest of the envelope is still dispatched.
	ErrUnknownPage = errors.New("unknown page")

	// ErrHandlerFailure is matched by every HandlerError.
	ErrHandlerFailure = errors.New("handler failure")

	// ErrDraining is returned by Start once Wait has begun.
	ErrDraining = errors.New("dispatcher is draining")
)

// HandlerError records a failed or panicking handler invocation.
type HandlerError struct {
	PageID   string
	SenderID string
	Kind     messenger.EventKind
	Panic    bool
	Err      error
}

func (e *HandlerError) Error() string {
	what := "failed"
	if e.Panic {
		what = "panicked"
	}
	return fmt.Sprintf("handler %s for page %s (%s event from %s): %v", what, e.PageID, e.Kind, e.SenderID, e.Err)
}

// Unwrap exposes both ErrHandlerFailure and the handler's own error to
// errors.Is and errors.As.
func (e *HandlerError) Unwrap() []error {
	return []error{ErrHandlerFailure, e.Err}
}
