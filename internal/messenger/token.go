// Page access token helpers.
//
// Page tokens pasted from the App Dashboard are short-lived. The usual setup
// exchanges a short-lived user token for a long-lived one, then reads the
// page's own token with it; a page token obtained that way does not expire.
// See: https://developers.facebook.com/docs/facebook-login/guides/access-tokens/get-long-lived

package messenger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
)

// TokenClient calls the Graph API token endpoints.
type TokenClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewTokenClient creates a TokenClient.
func NewTokenClient(opts ...Option) *TokenClient {
	o := buildOptions(opts)
	return &TokenClient{httpClient: o.httpClient, baseURL: o.baseURL}
}

// LongLivedToken holds the result of a token exchange.
type LongLivedToken struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int64 // seconds; 0 when the token does not expire
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	Error       *APIError `json:"error,omitempty"`
}

type pageTokenResponse struct {
	ID          string    `json:"id"`
	AccessToken string    `json:"access_token"`
	Error       *APIError `json:"error,omitempty"`
}

// ExchangeUserToken exchanges a short-lived user token for a long-lived one.
//
// Endpoint: GET {base}/oauth/access_token
//
//	?grant_type=fb_exchange_token
//	&client_id={app_id}
//	&client_secret={app_secret}
//	&fb_exchange_token={short_lived_token}
func (c *TokenClient) ExchangeUserToken(ctx context.Context, appID, appSecret, shortToken string) (*LongLivedToken, error) {
	params := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {appID},
		"client_secret":     {appSecret},
		"fb_exchange_token": {shortToken},
	}

	log.Debug().Str("appId", appID).Msg("Exchanging short-lived user token for long-lived token")

	var result tokenResponse
	if err := c.get(ctx, "/oauth/access_token", params, "", &result); err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("token exchange: %w", result.Error)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("token exchange: no access token in response")
	}

	log.Info().Int64("expiresIn", result.ExpiresIn).Msg("Long-lived user token obtained")

	return &LongLivedToken{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
		ExpiresIn:   result.ExpiresIn,
	}, nil
}

// PageToken reads the access token of pageID using a user token that has a
// role on the page.
//
// Endpoint: GET {base}/{page_id}?fields=access_token, with the user token as
// a bearer credential.
func (c *TokenClient) PageToken(ctx context.Context, pageID, userToken string) (string, error) {
	params := url.Values{"fields": {"access_token"}}

	var result pageTokenResponse
	if err := c.get(ctx, "/"+url.PathEscape(pageID), params, userToken, &result); err != nil {
		return "", fmt.Errorf("page token: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("page token: %w", result.Error)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("page token: no access token for page %s", pageID)
	}

	log.Info().Str("pageId", pageID).Msg("Page access token obtained")
	return result.AccessToken, nil
}

// get issues a GET request. The token exchange must carry the app secret in
// the query, so transport errors are redacted before they are wrapped.
func (c *TokenClient) get(ctx context.Context, path string, params url.Values, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", redactURL(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response (status %d): %w (body: %s)", resp.StatusCode, err, truncate(string(body), 300))
	}
	return nil
}
