// Package dispatch turns a verified webhook body into handler invocations.
//
// Processing happens in three steps:
//
//	Parse  decode and validate the envelope (nothing reaches handlers on failure)
//	Plan   resolve each entry's page and group its events into lanes
//	Run    invoke handlers, lanes in parallel, events within a lane in order
//
// A lane holds the events of one sender on one page, so a user's messages
// are handled in the order Meta delivered them while different users are
// served concurrently. Handler errors and panics are contained per event.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fpang/messenger-gateway/internal/messenger"
	"github.com/fpang/messenger-gateway/internal/metrics"
	"github.com/fpang/messenger-gateway/internal/registry"
)

const (
	defaultMaxConcurrency = 8
	defaultMaxInFlight    = 64
	defaultHandlerTimeout = 10 * time.Second
)

// Pages resolves page ids. *registry.Registry implements it.
type Pages interface {
	Lookup(pageID string) (registry.Page, bool)
}

// Options configures a Dispatcher.
type Options struct {
	// MaxConcurrency bounds the lanes running at once per Run.
	MaxConcurrency int
	// MaxInFlight bounds the lanes running at once across all Runs, so
	// background dispatch cannot grow with the request rate.
	MaxInFlight int
	// HandlerTimeout bounds each handler invocation.
	HandlerTimeout time.Duration
	Observer       metrics.Observer
}

// Dispatcher routes envelopes to page handlers.
type Dispatcher struct {
	pages    Pages
	validate *validator.Validate
	limit    int
	timeout  time.Duration
	obs      metrics.Observer
	lanes    *semaphore.Weighted

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

// New creates a Dispatcher resolving pages through pages.
func New(pages Pages, opts Options) *Dispatcher {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultMaxConcurrency
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = defaultMaxInFlight
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = defaultHandlerTimeout
	}
	if opts.Observer == nil {
		opts.Observer = metrics.Nop{}
	}
	return &Dispatcher{
		pages:    pages,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		limit:    opts.MaxConcurrency,
		timeout:  opts.HandlerTimeout,
		obs:      opts.Observer,
		lanes:    semaphore.NewWeighted(int64(opts.MaxInFlight)),
	}
}

// Parse decodes body into an envelope. Invalid JSON or a structurally
// incomplete envelope (missing object, entry list, entry id, sender or
// recipient id) returns an error wrapping ErrMalformedPayload.
func (d *Dispatcher) Parse(body []byte) (*messenger.Envelope, error) {
	var env messenger.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := d.validate.Struct(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &env, nil
}

type lane struct {
	page     registry.Page
	senderID string
	events   []messenger.MessagingEvent
}

// Plan is the resolved work for one envelope.
type Plan struct {
	Object  string
	Entries int
	Skipped int
	Events  int

	lanes []lane
}

// Empty reports whether the plan has nothing to invoke.
func (p Plan) Empty() bool {
	return len(p.lanes) == 0
}

// Report summarises a Run.
type Report struct {
	Entries int
	Skipped int
	Events  int
	Failed  int
}

// Plan resolves each entry's page id. Entries for unregistered pages are
// logged and skipped. Envelopes for objects other than "page" produce an
// empty plan.
func (d *Dispatcher) Plan(env *messenger.Envelope) Plan {
	p := Plan{Object: env.Object}
	if env.Object != messenger.ObjectPage {
		log.Info().Str("object", env.Object).Int("entries", len(env.Entry)).Msg("Ignoring delivery for non-page object")
		return p
	}

	index := make(map[[2]string]int)
	for _, entry := range env.Entry {
		p.Entries++
		page, ok := d.pages.Lookup(entry.ID)
		d.obs.Entry(ok)
		if !ok {
			p.Skipped++
			log.Warn().
				Err(ErrUnknownPage).
				Str("pageId", entry.ID).
				Int("events", len(entry.Messaging)).
				Msg("Skipping entry for unregistered page")
			continue
		}

		for _, ev := range entry.Messaging {
			key := [2]string{entry.ID, ev.Sender.ID}
			i, ok := index[key]
			if !ok {
				i = len(p.lanes)
				index[key] = i
				p.lanes = append(p.lanes, lane{page: page, senderID: ev.Sender.ID})
			}
			p.lanes[i].events = append(p.lanes[i].events, ev)
			p.Events++
		}
	}
	return p
}

// Run invokes the handlers for every event in p and waits for them. At most
// MaxConcurrency lanes of p run at once, and at most MaxInFlight lanes run
// across the whole dispatcher. Failures are counted in the report and never
// stop other events.
func (d *Dispatcher) Run(ctx context.Context, p Plan) Report {
	var failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(d.limit)

	for _, ln := range p.lanes {
		g.Go(func() error {
			if err := d.lanes.Acquire(ctx, 1); err != nil {
				failed.Add(int64(len(ln.events)))
				log.Warn().Err(err).Str("pageId", ln.page.ID).Int("events", len(ln.events)).Msg("Lane abandoned before start")
				return nil
			}
			defer d.lanes.Release(1)

			for _, ev := range ln.events {
				if err := d.invoke(ctx, ln.page, ev); err != nil {
					failed.Add(1)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return Report{
		Entries: p.Entries,
		Skipped: p.Skipped,
		Events:  p.Events,
		Failed:  int(failed.Load()),
	}
}

// Start runs p in the background. The work keeps ctx's values but not its
// cancellation, so a client disconnecting after the acknowledgment does not
// abort handlers. Use Wait to drain before exit. Once Wait has been called,
// Start accepts no more work and returns ErrDraining.
func (d *Dispatcher) Start(ctx context.Context, p Plan) error {
	if p.Empty() {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return ErrDraining
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.inflight.Done()
		report := d.Run(ctx, p)
		evt := log.Debug()
		if report.Failed > 0 {
			evt = log.Warn()
		}
		evt.
			Int("entries", report.Entries).
			Int("skipped", report.Skipped).
			Int("events", report.Events).
			Int("failed", report.Failed).
			Msg("Background dispatch finished")
	}()
	return nil
}

// Wait stops Start from accepting work, then blocks until every Start-ed
// plan has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	d.draining = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight handlers: %w", ctx.Err())
	}
}

// invoke calls one handler under the handler timeout, converting errors and
// panics into *HandlerError.
func (d *Dispatcher) invoke(ctx context.Context, page registry.Page, ev messenger.MessagingEvent) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	kind := ev.Kind()
	handlerName := string(page.Kind)
	if handlerName == "" {
		handlerName = "custom"
	}

	start := time.Now()
	result := metrics.ResultOK

	defer func() {
		if r := recover(); r != nil {
			result = metrics.ResultPanic
			err = &HandlerError{
				PageID:   page.ID,
				SenderID: ev.Sender.ID,
				Kind:     kind,
				Panic:    true,
				Err:      fmt.Errorf("%v", r),
			}
			log.Error().
				Err(err).
				Str("pageId", page.ID).
				Str("stack", string(debug.Stack())).
				Msg("Handler panicked")
		} else if err != nil {
			log.Error().
				Err(err).
				Str("pageId", page.ID).
				Str("handler", handlerName).
				Str("kind", string(kind)).
				Msg("Handler failed")
		}
		d.obs.Event(handlerName, string(kind), result, time.Since(start))
	}()

	if herr := page.Handler.Handle(ctx, ev, page.Credentials()); herr != nil {
		result = metrics.ResultError
		if errors.Is(herr, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result = metrics.ResultTimeout
		}
		return &HandlerError{
			PageID:   page.ID,
			SenderID: ev.Sender.ID,
			Kind:     kind,
			Err:      herr,
		}
	}

	log.Debug().
		Str("pageId", page.ID).
		Str("handler", handlerName).
		Str("kind", string(kind)).
		Dur("elapsed", time.Since(start)).
		Msg("Handler completed")
	return nil
}
