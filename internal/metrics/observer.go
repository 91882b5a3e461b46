package metrics

import (
	"io"
	"strconv"
	"sync"
	"time"
)

// Delivery outcomes.
const (
	DeliveryAccepted         = "accepted"
	DeliveryInvalidSignature = "invalid_signature"
	DeliveryMalformed        = "malformed"
	DeliveryTooLarge         = "too_large"
	DeliveryReadError        = "read_error"
	DeliveryDraining         = "draining"
)

// Handler invocation results.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultPanic   = "panic"
	ResultTimeout = "timeout"
)

// Observer receives gateway measurements. Implementations must be safe for
// concurrent use.
type Observer interface {
	Request(route, method string, status int, elapsed time.Duration)
	Handshake(ok bool)
	Delivery(outcome string)
	Entry(resolved bool)
	Event(handler, kind, result string, elapsed time.Duration)
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) Request(string, string, int, time.Duration) {}
func (Nop) Handshake(bool) {}
func (Nop) Delivery(string) {}
func (Nop) Entry(bool) {}
func (Nop) Event(string, string, string, time.Duration) {}

// EMF writes one EMF document per measurement.
type EMF struct {
	namespace string

	mu  sync.Mutex
	out io.Writer
}

// NewEMF creates an EMF observer writing to out (stdout when nil).
func NewEMF(namespace string, out io.Writer) *EMF {
	return &EMF{namespace: namespace, out: out}
}

// flush serializes writes so concurrent documents never interleave.
func (e *EMF) flush(r *Recorder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r.Flush()
}

func (e *EMF) recorder() *Recorder {
	return NewRecorder(e.namespace, e.out)
}

func (e *EMF) Request(route, method string, status int, elapsed time.Duration) {
	e.flush(e.recorder().
		Dimension("Route", route).
		Dimension("Method", method).
		Count("Requests").
		Duration("RequestLatency", elapsed).
		Property("status", strconv.Itoa(status)))
}

func (e *EMF) Handshake(ok bool) {
	result := "failed"
	if ok {
		result = "verified"
	}
	e.flush(e.recorder().Dimension("Result", result).Count("Handshakes"))
}

func (e *EMF) Delivery(outcome string) {
	e.flush(e.recorder().Dimension("Outcome", outcome).Count("Deliveries"))
}

func (e *EMF) Entry(resolved bool) {
	name := "EntriesResolved"
	if !resolved {
		name = "EntriesUnknownPage"
	}
	e.flush(e.recorder().Count(name))
}

func (e *EMF) Event(handler, kind, result string, elapsed time.Duration) {
	e.flush(e.recorder().
		Dimension("Handler", handler).
		Dimension("Result", result).
		Count("Events").
		Duration("HandlerLatency", elapsed).
		Property("kind", kind))
}
