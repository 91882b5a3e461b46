// Package messenger provides the Messenger Platform data types delivered to
// the webhook and a client for the Graph API Send endpoint.
//
// Each Client is bound to one Page access token. Replies for an event must
// go out with the token of the page the event was addressed to, so callers
// build a Client per page rather than sharing one.
//
// See: https://developers.facebook.com/docs/messenger-platform/reference/send-api
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/messenger-gateway/internal/textutil"
)

const (
	// DefaultBaseURL is the Graph API base URL.
	DefaultBaseURL = "https://graph.facebook.com/v22.0"

	// defaultTimeout is the HTTP client timeout for API calls.
	defaultTimeout = 30 * time.Second

	// MaxTextLength is the Send API limit for a text message.
	MaxTextLength = 2000
)

// Messaging types accepted by the Send API.
const (
	MessagingTypeResponse = "RESPONSE"
	MessagingTypeUpdate   = "UPDATE"
)

// SenderAction is a typing indicator or read receipt.
type SenderAction string

const (
	ActionMarkSeen  SenderAction = "mark_seen"
	ActionTypingOn  SenderAction = "typing_on"
	ActionTypingOff SenderAction = "typing_off"
)

// Client sends messages on behalf of a single Page.
type Client struct {
	httpClient  *http.Client
	accessToken string
	baseURL     string
}

type options struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures a Client or TokenClient.
type Option func(*options)

// WithBaseURL overrides the Graph API base URL.
func WithBaseURL(u string) Option {
	return func(o *options) {
		if u != "" {
			o.baseURL = u
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewClient creates a Send API client for the Page owning accessToken.
func NewClient(accessToken string, opts ...Option) *Client {
	o := buildOptions(opts)
	return &Client{
		httpClient:  o.httpClient,
		accessToken: accessToken,
		baseURL:     o.baseURL,
	}
}

// --- API types ---

type sendRequest struct {
	Recipient     Participant      `json:"recipient"`
	MessagingType string           `json:"messaging_type,omitempty"`
	Message       *outboundMessage `json:"message,omitempty"`
	SenderAction  SenderAction     `json:"sender_action,omitempty"`
}

type outboundMessage struct {
	Text string `json:"text"`
}

type sendResponse struct {
	RecipientID string    `json:"recipient_id"`
	MessageID   string    `json:"message_id"`
	Error       *APIError `json:"error,omitempty"`
}

// APIError is the error object returned by the Graph API.
type APIError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode,omitempty"`
	FBTraceID string `json:"fbtrace_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph API error: %s (type: %s, code: %d)", e.Message, e.Type, e.Code)
}

// --- Sending ---

// SendText sends text to recipientID as a RESPONSE message. Text longer
// than MaxTextLength is split on line or word boundaries and sent as
// consecutive messages. Empty text is a no-op.
func (c *Client) SendText(ctx context.Context, recipientID, text string) error {
	for i, chunk := range textutil.Split(text, MaxTextLength) {
		resp, err := c.post(ctx, sendRequest{
			Recipient:     Participant{ID: recipientID},
			MessagingType: MessagingTypeResponse,
			Message:       &outboundMessage{Text: chunk},
		})
		if err != nil {
			return fmt.Errorf("send text (part %d): %w", i+1, err)
		}
		log.Debug().
			Str("recipientId", recipientID).
			Str("messageId", resp.MessageID).
			Int("part", i+1).
			Int("length", len(chunk)).
			Msg("Message sent")
	}
	return nil
}

// SendAction sends a sender action such as typing_on to recipientID.
func (c *Client) SendAction(ctx context.Context, recipientID string, action SenderAction) error {
	if _, err := c.post(ctx, sendRequest{
		Recipient:    Participant{ID: recipientID},
		SenderAction: action,
	}); err != nil {
		return fmt.Errorf("send action %s: %w", action, err)
	}
	return nil
}

// post sends a JSON request to /me/messages. The access token travels in the
// Authorization header and is never logged.
func (c *Client) post(ctx context.Context, payload sendRequest) (*sendResponse, error) {
	startTime := time.Now()

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/me/messages"
	log.Debug().Str("method", http.MethodPost).Str("path", "/me/messages").Msg("Send API request")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	httpResp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		err = redactURL(err)
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Err(err).Msg("Send API response")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	log.Debug().Int("statusCode", httpResp.StatusCode).Dur("duration", duration).Msg("Send API response")

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp sendResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse response (status %d): %w (body: %s)", httpResp.StatusCode, err, truncate(string(body), 200))
	}

	if resp.Error != nil {
		log.Error().
			Str("errorMessage", resp.Error.Message).
			Str("errorType", resp.Error.Type).
			Int("errorCode", resp.Error.Code).
			Str("fbtraceId", resp.Error.FBTraceID).
			Msg("Send API error")
		return nil, resp.Error
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", httpResp.StatusCode, truncate(string(body), 200))
	}

	return &resp, nil
}

// redactURL strips the query string from a *url.Error so that credentials
// passed as query parameters never reach error text or logs.
func redactURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if i := strings.IndexByte(urlErr.URL, '?'); i >= 0 {
			urlErr.URL = urlErr.URL[:i]
		}
	}
	return err
}

// truncate returns the first n characters of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
