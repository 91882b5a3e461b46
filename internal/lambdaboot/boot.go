// Package lambdaboot provides the Lambda cold-start bootstrap for the gateway.
//
// The Lambda reads the same configuration as the server binary, but secrets
// (app secret, verify token, page access tokens, Gemini key) usually live in
// SSM Parameter Store rather than the environment. This package resolves
// them at init so main stays a short composition of helpers.
package lambdaboot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/messenger-gateway/internal/config"
	"github.com/fpang/messenger-gateway/internal/handler"
	"github.com/fpang/messenger-gateway/internal/logging"
)

// Default SSM parameter paths. Each can be overridden by the matching
// SSM_*_PARAM environment variable.
const (
	DefaultAppSecretParam   = "/messenger-gateway/prod/app-secret"
	DefaultVerifyTokenParam = "/messenger-gateway/prod/webhook-verify-token"
	DefaultGeminiKeyParam   = "/messenger-gateway/prod/gemini-api-key"
	DefaultPageTokenPrefix  = "/messenger-gateway/prod/page-tokens/"
)

// ParameterStore is the subset of the SSM client used for secret lookups.
type ParameterStore interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// AWSClients holds the AWS SDK clients used by the Lambda.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config and returns it along with an SSM client.
func InitAWS(ctx context.Context) AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// EventBridgeFor returns an EventBridge client when cfg has pages using the
// forward handler, nil otherwise.
func EventBridgeFor(awsCfg aws.Config, cfg *config.Config) handler.EventPublisher {
	if !cfg.UsesHandler(string(handler.KindForward)) {
		return nil
	}
	return eventbridge.NewFromConfig(awsCfg)
}

// LoadSecret returns current when non-empty. Otherwise it reads the
// SecureString parameter named by the paramEnv environment variable, or
// defaultPath when that variable is unset. The parameter path is returned
// for startup logging.
func LoadSecret(ctx context.Context, store ParameterStore, current, paramEnv, defaultPath string) (value, path string, err error) {
	if current != "" {
		return current, "", nil
	}
	path = logging.EnvOrDefault(paramEnv, defaultPath)

	start := time.Now()
	result, err := store.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", path, fmt.Errorf("read SSM parameter %s: %w", path, err)
	}
	if result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		return "", path, fmt.Errorf("SSM parameter %s is empty", path)
	}
	log.Debug().Str("param", path).Dur("elapsed", time.Since(start)).Msg("Secret loaded from SSM")
	return aws.ToString(result.Parameter.Value), path, nil
}

// ResolveSecrets fills every secret cfg is missing from SSM and returns the
// parameter paths it read, keyed by label. Page access tokens are read from
// <prefix><page id>, where the prefix comes from SSM_PAGE_TOKEN_PREFIX.
func ResolveSecrets(ctx context.Context, store ParameterStore, cfg *config.Config) (map[string]string, error) {
	params := make(map[string]string)
	var errs []error

	resolve := func(label string, dst *string, paramEnv, defaultPath string) {
		value, path, err := LoadSecret(ctx, store, *dst, paramEnv, defaultPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
			return
		}
		*dst = value
		if path != "" {
			params[label] = path
		}
	}

	resolve("appSecret", &cfg.AppSecret, "SSM_APP_SECRET_PARAM", DefaultAppSecretParam)
	resolve("verifyToken", &cfg.VerifyToken, "SSM_WEBHOOK_VERIFY_TOKEN_PARAM", DefaultVerifyTokenParam)

	if cfg.UsesHandler(string(handler.KindAssistant)) {
		resolve("geminiApiKey", &cfg.Assistant.APIKey, "SSM_GEMINI_API_KEY_PARAM", DefaultGeminiKeyParam)
	}

	prefix := logging.EnvOrDefault("SSM_PAGE_TOKEN_PREFIX", DefaultPageTokenPrefix)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	for i := range cfg.Pages {
		page := &cfg.Pages[i]
		if page.ID == "" {
			continue
		}
		resolve("page:"+page.ID, &page.AccessToken, "", prefix+page.ID)
	}

	return params, errors.Join(errs...)
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).
		Mode("lambda").
		InitDuration(time.Since(initStart))
}
