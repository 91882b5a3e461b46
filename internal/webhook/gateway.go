// Package webhook is the HTTP front of the gateway. It serves Meta's
// webhook endpoint:
//
//	GET  /webhook  subscription handshake (hub.verify_token / hub.challenge)
//	POST /webhook  signed event notifications
//	GET  /health   liveness and page count
//
// Every other path or verb answers 404.
//
// Deliveries are authenticated with the X-Hub-Signature-256 (or
// X-Hub-Signature) HMAC of the raw body before anything is parsed, then
// handed to the dispatcher. Meta retries deliveries that are not
// acknowledged within 20 seconds, so in async mode the 200 is written before
// handlers run.
//
// Reference: https://developers.facebook.com/docs/messenger-platform/webhooks
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/messenger-gateway/internal/dispatch"
	"github.com/fpang/messenger-gateway/internal/metrics"
	"github.com/fpang/messenger-gateway/internal/signature"
)

// defaultMaxBodySize is the request body cap (1 MB). Meta batches up to 1000
// updates per notification, which stays well under this limit.
const defaultMaxBodySize = 1 << 20

// ackBody is the response body for an accepted delivery.
const ackBody = "EVENT_RECEIVED"

// Options configures a Gateway.
type Options struct {
	VerifyToken string
	AppSecret   string

	// Sync runs handlers before acknowledging. Use on Lambda.
	Sync         bool
	MaxBodyBytes int64
	PageCount    int
	Observer     metrics.Observer
}

// Gateway routes webhook requests.
type Gateway struct {
	handshake  Handshake
	appSecret  string
	dispatcher *dispatch.Dispatcher
	sync       bool
	maxBody    int64
	pageCount  int
	obs        metrics.Observer
	router     chi.Router
}

// New creates a Gateway dispatching verified deliveries through d.
func New(d *dispatch.Dispatcher, opts Options) *Gateway {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodySize
	}
	if opts.Observer == nil {
		opts.Observer = metrics.Nop{}
	}

	g := &Gateway{
		handshake:  NewHandshake(opts.VerifyToken),
		appSecret:  opts.AppSecret,
		dispatcher: d,
		sync:       opts.Sync,
		maxBody:    opts.MaxBodyBytes,
		pageCount:  opts.PageCount,
		obs:        opts.Observer,
	}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(requestID)
	r.Use(accessLog())
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware(g.obs))

	r.Get("/webhook", g.handleVerification)
	r.Post("/webhook", g.handleEvent)
	r.Get("/health", g.handleHealth)

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	g.router = r
	return g
}

// Router returns the underlying router so callers can mount extra routes
// such as /metrics.
func (g *Gateway) Router() chi.Router {
	return g.router
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "not found", http.StatusNotFound)
}

// handleVerification processes the subscription handshake.
func (g *Gateway) handleVerification(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)

	challenge, err := g.handshake.Verify(r.URL.Query())
	if err != nil {
		logger.Warn().
			Bool("hasChallenge", r.URL.Query().Get(paramChallenge) != "").
			Str("mode", r.URL.Query().Get(paramMode)).
			Msg("Webhook verification failed")
		g.obs.Handshake(false)
		writeText(w, http.StatusBadRequest, verificationFailureBody(r.URL.RawQuery))
		return
	}

	logger.Info().Msg("Webhook verification successful")
	g.obs.Handshake(true)
	writeText(w, http.StatusOK, challenge)
}

// handleEvent authenticates, parses and dispatches an event notification.
func (g *Gateway) handleEvent(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn().Int64("limit", tooLarge.Limit).Msg("Webhook event: body too large")
			g.obs.Delivery(metrics.DeliveryTooLarge)
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		logger.Error().Err(err).Msg("Webhook event: failed to read body")
		g.obs.Delivery(metrics.DeliveryReadError)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if err := signature.Validate(body, signature.FromRequest(r.Header), g.appSecret); err != nil {
		logger.Warn().Int("bodySize", len(body)).Msg("Webhook event: invalid signature")
		g.obs.Delivery(metrics.DeliveryInvalidSignature)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	env, err := g.dispatcher.Parse(body)
	if err != nil {
		logger.Warn().Err(err).Int("bodySize", len(body)).Msg("Webhook event: malformed payload")
		g.obs.Delivery(metrics.DeliveryMalformed)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	plan := g.dispatcher.Plan(env)
	logger.Info().
		Str("object", plan.Object).
		Int("entries", plan.Entries).
		Int("skipped", plan.Skipped).
		Int("events", plan.Events).
		Msg("Webhook event received")

	if g.sync {
		report := g.dispatcher.Run(context.WithoutCancel(r.Context()), plan)
		if report.Failed > 0 {
			logger.Warn().Int("failed", report.Failed).Int("events", report.Events).Msg("Some handlers failed")
		}
	} else if err := g.dispatcher.Start(r.Context(), plan); err != nil {
		// Unacknowledged deliveries are retried by Meta.
		logger.Warn().Err(err).Int("events", plan.Events).Msg("Webhook event: shutting down, delivery refused")
		g.obs.Delivery(metrics.DeliveryDraining)
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	g.obs.Delivery(metrics.DeliveryAccepted)
	writeText(w, http.StatusOK, ackBody)
}

type healthResponse struct {
	Status string `json:"status"`
	Pages  int    `json:"pages"`
	Mode   string `json:"mode"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	mode := "async"
	if g.sync {
		mode = "sync"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Pages: g.pageCount, Mode: mode})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
