// Package app assembles a runnable gateway from configuration. Both the
// server binary and the Lambda entry point build through here so that the
// two deployments share one wiring.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/fpang/messenger-gateway/internal/config"
	"github.com/fpang/messenger-gateway/internal/dispatch"
	"github.com/fpang/messenger-gateway/internal/handler"
	"github.com/fpang/messenger-gateway/internal/messenger"
	"github.com/fpang/messenger-gateway/internal/metrics"
	"github.com/fpang/messenger-gateway/internal/registry"
	"github.com/fpang/messenger-gateway/internal/webhook"
)

// Options overrides the clients Build would otherwise create.
type Options struct {
	// Events is used by forward pages. When nil and a page needs it, an
	// EventBridge client is created from the default AWS config.
	Events handler.EventPublisher
	// Generator is used by assistant pages. When nil and a page needs it, a
	// Gemini client is created from cfg.Assistant.
	Generator handler.Generator
	// Senders overrides the Graph API client factory.
	Senders handler.SenderFactory
	// MetricsOut receives EMF lines. Defaults to stdout.
	MetricsOut io.Writer
	// ForceSync runs handlers before acknowledging regardless of
	// cfg.Dispatch.Mode.
	ForceSync bool
}

// App is a wired gateway.
type App struct {
	Config     *config.Config
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Gateway    *webhook.Gateway
	Observer   metrics.Observer
	Sync       bool
}

// Build wires the registry, dispatcher and HTTP gateway described by cfg.
// cfg must already be validated.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	obs, promReg := NewObserver(cfg.Metrics, opts.MetricsOut)

	deps, err := buildDeps(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	reg, err := registry.Load(cfg.Pages, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to build page registry: %w", err)
	}

	d := dispatch.New(reg, dispatch.Options{
		MaxConcurrency: cfg.Dispatch.MaxConcurrency,
		MaxInFlight:    cfg.Dispatch.MaxInFlight,
		HandlerTimeout: cfg.Dispatch.HandlerTimeout,
		Observer:       obs,
	})

	sync := opts.ForceSync || cfg.Dispatch.Mode == config.ModeSync
	gw := webhook.New(d, webhook.Options{
		VerifyToken:  cfg.VerifyToken,
		AppSecret:    cfg.AppSecret,
		Sync:         sync,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		PageCount:    reg.Len(),
		Observer:     obs,
	})
	if promReg != nil {
		gw.Router().Method(http.MethodGet, "/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	}

	return &App{
		Config:     cfg,
		Registry:   reg,
		Dispatcher: d,
		Gateway:    gw,
		Observer:   obs,
		Sync:       sync,
	}, nil
}

// NewObserver returns the metrics observer for the configured backend. For
// Prometheus it also returns the registry to expose on /metrics.
func NewObserver(cfg config.MetricsConfig, out io.Writer) (metrics.Observer, *prometheus.Registry) {
	switch cfg.Backend {
	case config.MetricsPrometheus:
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		return metrics.NewPrometheus(reg), reg
	case config.MetricsEMF:
		if out == nil {
			out = os.Stdout
		}
		return metrics.NewEMF(cfg.Namespace, out), nil
	default:
		return metrics.Nop{}, nil
	}
}

func buildDeps(ctx context.Context, cfg *config.Config, opts Options) (handler.Deps, error) {
	deps := handler.Deps{
		Senders:   opts.Senders,
		Events:    opts.Events,
		Generator: opts.Generator,
		Source:    cfg.Forward.Source,
	}

	if deps.Senders == nil {
		httpClient := &http.Client{Timeout: cfg.Graph.Timeout}
		deps.Senders = handler.MessengerSenders(
			messenger.WithBaseURL(cfg.Graph.BaseURL),
			messenger.WithHTTPClient(httpClient),
		)
	}

	if deps.Events == nil && cfg.UsesHandler(string(handler.KindForward)) {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return deps, fmt.Errorf("failed to load AWS config: %w", err)
		}
		deps.Events = eventbridge.NewFromConfig(awsCfg)
		log.Debug().Str("region", awsCfg.Region).Msg("EventBridge client initialized")
	}

	if deps.Generator == nil && cfg.UsesHandler(string(handler.KindAssistant)) {
		gen, err := handler.NewGemini(ctx, cfg.Assistant.APIKey, cfg.Assistant.Model)
		if err != nil {
			return deps, err
		}
		deps.Generator = gen
		log.Debug().Str("model", cfg.Assistant.Model).Msg("Gemini client initialized")
	}

	return deps, nil
}
