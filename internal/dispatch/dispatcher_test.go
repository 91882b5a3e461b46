package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/fpang/messenger-gateway/internal/handler"
	"github.com/fpang/messenger-gateway/internal/messenger"
	"github.com/fpang/messenger-gateway/internal/metrics"
	"github.com/fpang/messenger-gateway/internal/registry"
)

type call struct {
	pageID string
	token  string
	sender string
	text   string
}

// recorder is a handler that records every invocation.
type recorder struct {
	mu    sync.Mutex
	calls []call
	fn    func(ctx context.Context, ev messenger.MessagingEvent) error
}

func (r *recorder) Handle(ctx context.Context, ev messenger.MessagingEvent, creds handler.Credentials) error {
	r.mu.Lock()
	r.calls = append(r.calls, call{pageID: creds.PageID, token: creds.AccessToken, sender: ev.Sender.ID, text: ev.Text()})
	r.mu.Unlock()
	if r.fn != nil {
		return r.fn(ctx, ev)
	}
	return nil
}

func (r *recorder) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func entry(pageID string, events ...string) string {
	var msgs []string
	for i, ev := range events {
		sender, text, _ := strings.Cut(ev, ":")
		msgs = append(msgs, fmt.Sprintf(
			`{"sender":{"id":%q},"recipient":{"id":%q},"timestamp":%d,"message":{"mid":"m%d","text":%q}}`,
			sender, pageID, i+1, i, text))
	}
	return fmt.Sprintf(`{"id":%q,"time":1,"messaging":[%s]}`, pageID, strings.Join(msgs, ","))
}

func envelope(entries ...string) []byte {
	return []byte(`{"object":"page","entry":[` + strings.Join(entries, ",") + `]}`)
}

func mustPlan(t *testing.T, d *Dispatcher, body []byte) Plan {
	t.Helper()
	env, err := d.Parse(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return d.Plan(env)
}

// --- Parse ---

func TestParse_Valid(t *testing.T) {
	d := New(registry.New(), Options{})
	env, err := d.Parse(envelope(entry("123", "user-1:yo")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.Entry) != 1 || env.Entry[0].Messaging[0].Text() != "yo" {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestParse_EmptyEntryList(t *testing.T) {
	d := New(registry.New(), Options{})
	if _, err := d.Parse([]byte(`{"object":"page","entry":[]}`)); err != nil {
		t.Errorf("empty entry list should parse, got %v", err)
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `not json`},
		{"truncated", `{"object":"page","entry":[`},
		{"trailing garbage", `{"object":"page","entry":[]} x`},
		{"wrong type", `{"object":"page","entry":{}}`},
		{"missing object", `{"entry":[]}`},
		{"missing entry", `{"object":"page"}`},
		{"entry without id", `{"object":"page","entry":[{"time":1,"messaging":[]}]}`},
		{"event without sender", `{"object":"page","entry":[{"id":"1","messaging":[{"recipient":{"id":"1"},"message":{"text":"x"}}]}]}`},
		{"event without recipient", `{"object":"page","entry":[{"id":"1","messaging":[{"sender":{"id":"u"},"message":{"text":"x"}}]}]}`},
	}

	d := New(registry.New(), Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := d.Parse([]byte(tt.body))
			if !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("expected ErrMalformedPayload, got %v", err)
			}
			if env != nil {
				t.Error("no envelope should be returned on failure")
			}
		})
	}
}

// --- Plan / Run ---

func TestRun_DeliversToRegisteredPage(t *testing.T) {
	h := &recorder{}
	reg := registry.New()
	reg.Register("123", "page-token", h)
	d := New(reg, Options{})

	report := d.Run(context.Background(), mustPlan(t, d, envelope(entry("123", "user-1:yo"))))

	calls := h.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0] != (call{pageID: "123", token: "page-token", sender: "user-1", text: "yo"}) {
		t.Errorf("unexpected call: %+v", calls[0])
	}
	if report.Events != 1 || report.Failed != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestRun_OnlyRegisteredEntriesDispatched(t *testing.T) {
	reg := registry.New()
	handlers := map[string]*recorder{"a": {}, "b": {}}
	reg.Register("a", "tok-a", handlers["a"])
	reg.Register("b", "tok-b", handlers["b"])

	promReg := prometheus.NewRegistry()
	obs := metrics.NewPrometheus(promReg)
	d := New(reg, Options{Observer: obs})

	body := envelope(
		entry("a", "u1:one"),
		entry("x", "u2:lost"),
		entry("b", "u3:two"),
		entry("y", "u4:lost"),
		entry("a", "u5:three"),
	)
	plan := mustPlan(t, d, body)
	if plan.Entries != 5 || plan.Skipped != 2 || plan.Events != 3 {
		t.Fatalf("unexpected plan: %+v", plan)
	}

	d.Run(context.Background(), plan)

	if got := len(handlers["a"].snapshot()); got != 2 {
		t.Errorf("page a: expected 2 calls, got %d", got)
	}
	if got := len(handlers["b"].snapshot()); got != 1 {
		t.Errorf("page b: expected 1 call, got %d", got)
	}
	for _, c := range handlers["a"].snapshot() {
		if c.token != "tok-a" {
			t.Errorf("page a handler got foreign credentials: %+v", c)
		}
	}
	if got := testutil.ToFloat64(obs.EntriesTotal.WithLabelValues("unknown_page")); got != 2 {
		t.Errorf("unknown_page entries = %v, want 2", got)
	}
}

func TestPlan_NonPageObject(t *testing.T) {
	h := &recorder{}
	reg := registry.New()
	reg.Register("123", "tok", h)
	d := New(reg, Options{})

	plan := mustPlan(t, d, []byte(`{"object":"instagram","entry":[`+entry("123", "u:hi")+`]}`))
	if !plan.Empty() || plan.Object != "instagram" {
		t.Errorf("expected empty plan for non-page object, got %+v", plan)
	}
}

func TestRun_FailureIsolation(t *testing.T) {
	failing := &recorder{fn: func(context.Context, messenger.MessagingEvent) error {
		return errors.New("send API down")
	}}
	panicking := &recorder{fn: func(context.Context, messenger.MessagingEvent) error {
		panic("nil map")
	}}
	healthy := &recorder{}

	reg := registry.New()
	reg.Register("fail", "t1", failing)
	reg.Register("panic", "t2", panicking)
	reg.Register("ok", "t3", healthy)

	promReg := prometheus.NewRegistry()
	obs := metrics.NewPrometheus(promReg)
	d := New(reg, Options{Observer: obs})

	body := envelope(
		entry("fail", "u1:a", "u1:b"),
		entry("panic", "u2:c"),
		entry("ok", "u3:d", "u4:e"),
	)
	report := d.Run(context.Background(), mustPlan(t, d, body))

	if report.Failed != 3 {
		t.Errorf("expected 3 failures, got %d", report.Failed)
	}
	if got := len(failing.snapshot()); got != 2 {
		t.Errorf("a failure must not stop later events in the lane: got %d calls", got)
	}
	if got := len(healthy.snapshot()); got != 2 {
		t.Errorf("healthy handler: expected 2 calls, got %d", got)
	}
	if got := testutil.ToFloat64(obs.EventsTotal.WithLabelValues("custom", "message", metrics.ResultPanic)); got != 1 {
		t.Errorf("panic results = %v, want 1", got)
	}
}

func TestInvoke_HandlerError(t *testing.T) {
	cause := errors.New("boom")
	h := &recorder{fn: func(context.Context, messenger.MessagingEvent) error { return cause }}
	reg := registry.New()
	reg.Register("123", "tok", h)
	d := New(reg, Options{})

	page, _ := reg.Lookup("123")
	err := d.invoke(context.Background(), page, messenger.MessagingEvent{Sender: messenger.Participant{ID: "u"}})

	var herr *HandlerError
	if !errors.As(err, &herr) {
		t.Fatalf("expected *HandlerError, got %T", err)
	}
	if !errors.Is(err, ErrHandlerFailure) || !errors.Is(err, cause) {
		t.Errorf("HandlerError should match ErrHandlerFailure and the cause: %v", err)
	}
	if herr.PageID != "123" || herr.SenderID != "u" || herr.Panic {
		t.Errorf("unexpected HandlerError: %+v", herr)
	}
}

func TestInvoke_Panic(t *testing.T) {
	h := &recorder{fn: func(context.Context, messenger.MessagingEvent) error { panic("kaboom") }}
	reg := registry.New()
	reg.Register("123", "tok", h)
	d := New(reg, Options{})

	page, _ := reg.Lookup("123")
	err := d.invoke(context.Background(), page, messenger.MessagingEvent{})

	var herr *HandlerError
	if !errors.As(err, &herr) || !herr.Panic {
		t.Fatalf("expected panicking HandlerError, got %v", err)
	}
	if !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("panic value missing from error: %v", err)
	}
}

func TestInvoke_Timeout(t *testing.T) {
	h := &recorder{fn: func(ctx context.Context, _ messenger.MessagingEvent) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	reg := registry.New()
	reg.Register("123", "tok", h)

	promReg := prometheus.NewRegistry()
	obs := metrics.NewPrometheus(promReg)
	d := New(reg, Options{HandlerTimeout: 20 * time.Millisecond, Observer: obs})

	page, _ := reg.Lookup("123")
	err := d.invoke(context.Background(), page, messenger.MessagingEvent{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if got := testutil.ToFloat64(obs.EventsTotal.WithLabelValues("custom", "unknown", metrics.ResultTimeout)); got != 1 {
		t.Errorf("timeout results = %v, want 1", got)
	}
}

func TestRun_PerSenderOrder(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]string{}
	h := &recorder{fn: func(_ context.Context, ev messenger.MessagingEvent) error {
		// Earlier messages sleep longer; order must still hold within a sender.
		if ev.Text() == "1" {
			time.Sleep(20 * time.Millisecond)
		}
		mu.Lock()
		seen[ev.Sender.ID] = append(seen[ev.Sender.ID], ev.Text())
		mu.Unlock()
		return nil
	}}
	reg := registry.New()
	reg.Register("123", "tok", h)
	d := New(reg, Options{MaxConcurrency: 4})

	body := envelope(
		entry("123", "alice:1", "bob:1", "alice:2"),
		entry("123", "alice:3", "bob:2"),
	)
	plan := mustPlan(t, d, body)
	if len(plan.lanes) != 2 {
		t.Fatalf("expected 2 lanes (alice, bob), got %d", len(plan.lanes))
	}
	d.Run(context.Background(), plan)

	if got := strings.Join(seen["alice"], ","); got != "1,2,3" {
		t.Errorf("alice order = %s, want 1,2,3", got)
	}
	if got := strings.Join(seen["bob"], ","); got != "1,2" {
		t.Errorf("bob order = %s, want 1,2", got)
	}
}

func TestRun_ConcurrencyLimit(t *testing.T) {
	var current, peak atomic.Int64
	h := &recorder{fn: func(context.Context, messenger.MessagingEvent) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return nil
	}}
	reg := registry.New()
	reg.Register("123", "tok", h)
	d := New(reg, Options{MaxConcurrency: 2})

	var events []string
	for i := 0; i < 8; i++ {
		events = append(events, fmt.Sprintf("user-%d:hi", i))
	}
	d.Run(context.Background(), mustPlan(t, d, envelope(entry("123", events...))))

	if peak.Load() > 2 {
		t.Errorf("peak concurrency %d exceeds limit 2", peak.Load())
	}
	if got := len(h.snapshot()); got != 8 {
		t.Errorf("expected 8 calls, got %d", got)
	}
}

func TestRun_SharedInFlightLimit(t *testing.T) {
	var current, peak atomic.Int64
	h := &recorder{fn: func(context.Context, messenger.MessagingEvent) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return nil
	}}
	reg := registry.New()
	reg.Register("123", "tok", h)
	d := New(reg, Options{MaxConcurrency: 4, MaxInFlight: 2})

	var wg sync.WaitGroup
	for r := 0; r < 3; r++ {
		var events []string
		for i := 0; i < 4; i++ {
			events = append(events, fmt.Sprintf("user-%d-%d:hi", r, i))
		}
		p := mustPlan(t, d, envelope(entry("123", events...)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Run(context.Background(), p)
		}()
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Errorf("peak concurrency %d exceeds dispatcher limit 2", peak.Load())
	}
	if got := len(h.snapshot()); got != 12 {
		t.Errorf("expected 12 calls, got %d", got)
	}
}

func TestRun_CancelledWhileQueued(t *testing.T) {
	release := make(chan struct{})
	h := &recorder{fn: func(context.Context, messenger.MessagingEvent) error {
		<-release
		return nil
	}}
	reg := registry.New()
	reg.Register("123", "tok", h)
	d := New(reg, Options{MaxConcurrency: 2, MaxInFlight: 2})

	busy := mustPlan(t, d, envelope(entry("123", "a:hi", "b:hi")))
	done := make(chan Report)
	go func() { done <- d.Run(context.Background(), busy) }()

	// Both slots are held once the handlers have been entered.
	deadline := time.Now().Add(2 * time.Second)
	for len(h.snapshot()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("handlers never started")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	report := d.Run(ctx, mustPlan(t, d, envelope(entry("123", "c:hi"))))
	if report.Failed != 1 {
		t.Errorf("expected queued event counted as failed, got %+v", report)
	}

	close(release)
	if r := <-done; r.Failed != 0 {
		t.Errorf("busy run failed: %+v", r)
	}
	if got := len(h.snapshot()); got != 2 {
		t.Errorf("expected 2 calls, got %d", got)
	}
}

// --- Start / Wait ---

func TestStart_DetachedFromCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	var ctxErr atomic.Value
	h := &recorder{fn: func(ctx context.Context, _ messenger.MessagingEvent) error {
		<-release
		ctxErr.Store(fmt.Sprint(ctx.Err()))
		return nil
	}}
	reg := registry.New()
	reg.Register("123", "tok", h)
	d := New(reg, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx, mustPlan(t, d, envelope(entry("123", "u:yo"))))
	cancel() // the request goes away after the acknowledgment
	close(release)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	if err := d.Wait(waitCtx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if got := ctxErr.Load(); got != "<nil>" {
		t.Errorf("handler context was cancelled with the request: %v", got)
	}
	if len(h.snapshot()) != 1 {
		t.Error("handler was not invoked")
	}
}

func TestStart_EmptyPlan(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := New(registry.New(), Options{})
	d.Start(context.Background(), mustPlan(t, d, envelope(entry("unknown", "u:yo"))))

	if err := d.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestWait_Deadline(t *testing.T) {
	release := make(chan struct{})
	h := &recorder{fn: func(context.Context, messenger.MessagingEvent) error {
		<-release
		return nil
	}}
	reg := registry.New()
	reg.Register("123", "tok", h)
	d := New(reg, Options{})

	d.Start(context.Background(), mustPlan(t, d, envelope(entry("123", "u:yo"))))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := d.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	close(release)
	if err := d.Wait(context.Background()); err != nil {
		t.Errorf("wait after release: %v", err)
	}
}

func TestStart_RefusedAfterWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &recorder{}
	reg := registry.New()
	reg.Register("123", "tok", h)
	d := New(reg, Options{})

	if err := d.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	err := d.Start(context.Background(), mustPlan(t, d, envelope(entry("123", "u:yo"))))
	if !errors.Is(err, ErrDraining) {
		t.Fatalf("expected ErrDraining, got %v", err)
	}
	if got := len(h.snapshot()); got != 0 {
		t.Errorf("expected no calls after drain, got %d", got)
	}
}

func TestStart_ConcurrentWithWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &recorder{}
	reg := registry.New()
	reg.Register("123", "tok", h)
	d := New(reg, Options{})
	p := mustPlan(t, d, envelope(entry("123", "u:yo")))

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Start(context.Background(), p) == nil {
				accepted.Add(1)
			}
		}()
	}
	if err := d.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	wg.Wait()

	// Every accepted plan finished before Wait returned.
	if got := int64(len(h.snapshot())); got != accepted.Load() {
		t.Errorf("accepted %d plans, %d handled", accepted.Load(), got)
	}
}
