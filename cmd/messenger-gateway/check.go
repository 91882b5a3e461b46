package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpang/messenger-gateway/internal/config"
)

var checkURLFlag string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and list the configured pages",
	Long: `Check loads configuration exactly as serve would, validates it, and
prints the page table. Secrets and tokens are never printed.

With --url it also queries the /health endpoint of a running gateway.

Examples:
  messenger-gateway check
  messenger-gateway check --url https://bot.example.com`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkURLFlag, "url", "", "Base URL of a running gateway to check")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "addr:      %s\n", cfg.Server.Addr)
	fmt.Fprintf(out, "dispatch:  %s (concurrency %d, timeout %s)\n",
		cfg.Dispatch.Mode, cfg.Dispatch.MaxConcurrency, cfg.Dispatch.HandlerTimeout)
	fmt.Fprintf(out, "metrics:   %s\n", cfg.Metrics.Backend)
	fmt.Fprintf(out, "pages:     %d\n\n", len(cfg.Pages))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PAGE ID\tHANDLER\tDETAIL")
	for _, p := range cfg.Pages {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID, p.Handler, pageDetail(p))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if checkURLFlag == "" {
		return nil
	}
	return checkHealth(cmd, checkURLFlag)
}

type healthStatus struct {
	Status string `json:"status"`
	Pages  int    `json:"pages"`
	Mode   string `json:"mode"`
}

func checkHealth(cmd *cobra.Command, baseURL string) error {
	url := strings.TrimSuffix(baseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %s", resp.Status)
	}
	var hs healthStatus
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nremote:    %s (%d pages, %s)\n", hs.Status, hs.Pages, hs.Mode)
	return nil
}

func pageDetail(p config.PageConfig) string {
	switch p.Handler {
	case "prefix":
		return fmt.Sprintf("prefix=%q", p.Prefix)
	case "forward":
		return "bus=" + busName(p.EventBus)
	case "assistant":
		if p.SystemPrompt != "" {
			return "custom system prompt"
		}
	}
	return ""
}
