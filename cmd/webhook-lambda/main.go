// Package main provides the Lambda entry point for the Messenger webhook
// gateway.
//
// The function sits behind an API Gateway HTTP API (payload format 2.0) and
// serves the same routes as the server binary:
//   - GET /webhook: Meta verification handshake
//   - POST /webhook: signed event notifications
//
// Secrets missing from the environment are loaded from SSM Parameter Store
// at cold start:
//   - /messenger-gateway/prod/app-secret
//   - /messenger-gateway/prod/webhook-verify-token
//   - /messenger-gateway/prod/page-tokens/<page id>
//   - /messenger-gateway/prod/gemini-api-key (assistant pages only)
//
// Dispatch is always synchronous: the execution environment is frozen once
// the response is returned, so handlers must finish first.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/messenger-gateway/internal/app"
	"github.com/fpang/messenger-gateway/internal/config"
	"github.com/fpang/messenger-gateway/internal/handler"
	"github.com/fpang/messenger-gateway/internal/lambdaboot"
	"github.com/fpang/messenger-gateway/internal/logging"
)

var gateway *app.App

func init() {
	initStart := time.Now()
	ctx := context.Background()

	logging.Init(logging.EnvOrDefault("LOG_LEVEL", "info"), "json")

	cfg, err := config.LoadRaw("")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Metrics.Backend == config.MetricsPrometheus {
		// Nothing scrapes a Lambda; publish through CloudWatch EMF instead.
		cfg.Metrics.Backend = config.MetricsEMF
	}
	cfg.Dispatch.Mode = config.ModeSync
	logging.Init(cfg.Log.Level, "json")

	clients := lambdaboot.InitAWS(ctx)
	params, err := lambdaboot.ResolveSecrets(ctx, clients.SSM, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load secrets from SSM")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	gateway, err = app.Build(ctx, cfg, app.Options{
		Events:    lambdaboot.EventBridgeFor(clients.Config, cfg),
		ForceSync: true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build gateway")
	}

	startup := lambdaboot.StartupLog("webhook-lambda", initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Pages(gateway.Registry.Kinds()).
		Config("dispatchMode", config.ModeSync).
		Config("metrics", cfg.Metrics.Backend).
		Feature("forward", cfg.UsesHandler(string(handler.KindForward))).
		Feature("assistant", cfg.UsesHandler(string(handler.KindAssistant)))
	for label, path := range params {
		startup.SSMParam(label, path)
	}
	for _, p := range cfg.Pages {
		if p.Handler == string(handler.KindForward) && p.EventBus != "" {
			startup.EventBus(p.ID, p.EventBus)
		}
	}
	startup.Log()
}

func main() {
	adapter := httpadapter.NewV2(gateway.Gateway)
	lambda.Start(adapter.ProxyWithContext)
}
