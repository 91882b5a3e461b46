package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpang/messenger-gateway/internal/config"
	"github.com/fpang/messenger-gateway/internal/messenger"
)

var (
	tokenUserFlag   string
	tokenPageIDFlag string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Obtain page access tokens from the Graph API",
	Long: `Token helps provision page access tokens. First exchange a short-lived
user token from the Graph API Explorer for a long-lived one, then fetch the
page token for each page the gateway serves.

Examples:
  messenger-gateway token exchange --user-token EAAB...
  messenger-gateway token page --page-id 1234567890 --user-token EAAB...`,
}

var tokenExchangeCmd = &cobra.Command{
	Use:   "exchange",
	Short: "Exchange a short-lived user token for a long-lived one",
	Args:  cobra.NoArgs,
	RunE:  runTokenExchange,
}

var tokenPageCmd = &cobra.Command{
	Use:   "page",
	Short: "Fetch the access token of a page",
	Args:  cobra.NoArgs,
	RunE:  runTokenPage,
}

func init() {
	tokenCmd.PersistentFlags().StringVar(&tokenUserFlag, "user-token", "", "User access token")
	_ = tokenCmd.MarkPersistentFlagRequired("user-token")
	tokenPageCmd.Flags().StringVar(&tokenPageIDFlag, "page-id", "", "Facebook page ID")
	_ = tokenPageCmd.MarkFlagRequired("page-id")

	tokenCmd.AddCommand(tokenExchangeCmd, tokenPageCmd)
}

func newTokenClient(cfg *config.Config) *messenger.TokenClient {
	return messenger.NewTokenClient(
		messenger.WithBaseURL(cfg.Graph.BaseURL),
		messenger.WithHTTPClient(&http.Client{Timeout: cfg.Graph.Timeout}),
	)
}

func runTokenExchange(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Graph.AppID == "" || cfg.AppSecret == "" {
		return errors.New("token exchange needs graph.app_id (APP_ID) and app_secret (APP_SECRET)")
	}

	tok, err := newTokenClient(cfg).ExchangeUserToken(cmd.Context(), cfg.Graph.AppID, cfg.AppSecret, tokenUserFlag)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, tok.AccessToken)
	if tok.ExpiresIn > 0 {
		expires := time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
		fmt.Fprintf(out, "# expires %s\n", expires.UTC().Format(time.RFC3339))
	}
	return nil
}

func runTokenPage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tok, err := newTokenClient(cfg).PageToken(cmd.Context(), tokenPageIDFlag, tokenUserFlag)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
