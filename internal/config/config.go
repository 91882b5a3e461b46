// Package config provides configuration loading for the messenger gateway.
//
// Settings come from an optional YAML file and the environment. Environment
// variables use the MESSENGER_GATEWAY_ prefix (MESSENGER_GATEWAY_SERVER_ADDR
// overrides server.addr). The unprefixed names used by earlier single-binary
// deployments are still honoured: APP_SECRET, WEBHOOK_VERIFY_TOKEN, PORT,
// ECHO_PAGE_ID/ECHO_ACCESS_TOKEN and PREFIX_PAGE_ID/PREFIX_ACCESS_TOKEN.
package config

import (
	"time"

	"github.com/fpang/messenger-gateway/internal/messenger"
)

// Dispatch modes.
const (
	// ModeAsync acknowledges a delivery before its handlers finish.
	ModeAsync = "async"
	// ModeSync runs handlers to completion before acknowledging. Required on
	// Lambda, where the execution environment freezes after the response.
	ModeSync = "sync"
)

// Metrics backends.
const (
	MetricsPrometheus = "prometheus"
	MetricsEMF        = "emf"
	MetricsNone       = "none"
)

// Config is the complete gateway configuration. It is built once at startup
// and not modified afterwards.
type Config struct {
	AppSecret   string `mapstructure:"app_secret" validate:"required"`
	VerifyToken string `mapstructure:"verify_token" validate:"required"`

	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Forward   ForwardConfig   `mapstructure:"forward"`
	Assistant AssistantConfig `mapstructure:"assistant"`

	Pages []PageConfig `mapstructure:"pages" validate:"dive"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

type DispatchConfig struct {
	Mode           string        `mapstructure:"mode" validate:"oneof=async sync"`
	MaxConcurrency int           `mapstructure:"max_concurrency" validate:"min=1"`
	MaxInFlight    int           `mapstructure:"max_in_flight" validate:"gtefield=MaxConcurrency"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout" validate:"gt=0"`
}

type GraphConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	AppID   string        `mapstructure:"app_id"`
}

type MetricsConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=prometheus emf none"`
	Namespace string `mapstructure:"namespace"`
}

// ForwardConfig holds defaults for pages using the forward handler.
type ForwardConfig struct {
	EventBus string `mapstructure:"event_bus"`
	Source   string `mapstructure:"source"`
}

// AssistantConfig holds the Gemini settings for pages using the assistant handler.
type AssistantConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// PageConfig binds a page id to its access token and handler.
type PageConfig struct {
	ID           string `mapstructure:"id" validate:"required"`
	AccessToken  string `mapstructure:"access_token" validate:"required"`
	Handler      string `mapstructure:"handler" validate:"required,oneof=echo prefix forward assistant"`
	Prefix       string `mapstructure:"prefix"`
	EventBus     string `mapstructure:"event_bus"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

// SetDefaults fills optional fields left empty by the file and environment.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = ModeAsync
	}
	if c.Dispatch.MaxConcurrency == 0 {
		c.Dispatch.MaxConcurrency = 8
	}
	if c.Dispatch.MaxInFlight == 0 {
		c.Dispatch.MaxInFlight = max(64, c.Dispatch.MaxConcurrency)
	}
	if c.Dispatch.HandlerTimeout == 0 {
		c.Dispatch.HandlerTimeout = 10 * time.Second
	}
	if c.Graph.BaseURL == "" {
		c.Graph.BaseURL = messenger.DefaultBaseURL
	}
	if c.Graph.Timeout == 0 {
		c.Graph.Timeout = 30 * time.Second
	}
	if c.Metrics.Backend == "" {
		c.Metrics.Backend = MetricsPrometheus
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "MessengerGateway"
	}
	for i := range c.Pages {
		if c.Pages[i].EventBus == "" {
			c.Pages[i].EventBus = c.Forward.EventBus
		}
	}
}

// UsesHandler reports whether any page is configured with the given handler kind.
func (c *Config) UsesHandler(kind string) bool {
	for _, p := range c.Pages {
		if p.Handler == kind {
			return true
		}
	}
	return false
}
