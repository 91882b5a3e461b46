package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/messenger-gateway/internal/messenger"
	"github.com/fpang/messenger-gateway/internal/textutil"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-3-flash-preview"

// DefaultSystemPrompt is used by the assistant handler when none is configured.
const DefaultSystemPrompt = "You are a helpful assistant replying to customers in Facebook Messenger. Keep replies short, friendly, and in plain text without markdown."

// Generator produces a reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, prompt string) (string, error)
}

// Gemini is a Generator backed by the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini generator for the given API key and model.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("Gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Generate(ctx context.Context, systemPrompt, prompt string) (string, error) {
	var config *genai.GenerateContentConfig
	if systemPrompt != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{
				Parts: []*genai.Part{{Text: systemPrompt}},
			},
		}
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	log.Debug().
		Str("model", g.model).
		Dur("elapsed", time.Since(start)).
		Int("responseLength", len(resp.Text())).
		Msg("Gemini reply generated")
	return resp.Text(), nil
}

// Assistant answers text messages with a generated reply.
type Assistant struct {
	generator    Generator
	senders      SenderFactory
	systemPrompt string
}

// NewAssistant creates an Assistant handler.
func NewAssistant(generator Generator, senders SenderFactory, systemPrompt string) (*Assistant, error) {
	if generator == nil {
		return nil, errors.New("generator is required")
	}
	if senders == nil {
		return nil, errors.New("sender factory is required")
	}
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Assistant{generator: generator, senders: senders, systemPrompt: systemPrompt}, nil
}

func (h *Assistant) Handle(ctx context.Context, event messenger.MessagingEvent, creds Credentials) error {
	var prompt string
	switch event.Kind() {
	case messenger.KindMessage:
		prompt = event.Text()
	case messenger.KindPostback:
		prompt = event.Postback.Title
	}
	if prompt == "" {
		return nil
	}

	sender := h.senders(creds.AccessToken)

	// Typing indicator failures are not fatal.
	if err := sender.SendAction(ctx, event.Sender.ID, messenger.ActionTypingOn); err != nil {
		log.Warn().Err(err).Str("pageId", creds.PageID).Msg("Failed to send typing indicator")
	}

	reply, err := h.generator.Generate(ctx, h.systemPrompt, prompt)
	if err != nil {
		return fmt.Errorf("generate reply: %w", err)
	}

	reply = textutil.StripMarkdownFences(reply)
	if reply == "" {
		log.Warn().Str("pageId", creds.PageID).Msg("Generator returned an empty reply")
		return nil
	}

	return sender.SendText(ctx, event.Sender.ID, reply)
}
