package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type exportResponse struct {
	Column string   `json:"column"`
	Rows   []string `json:"rows"`
	Error  string   `json:"error,omitempty"`
}

func newExportCmd() *cobra.Command {
	var (
		api     string
		header  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "export <exchange_id>",
		Short: "Print the exported rows of an answer",
		Long: `Print a finished answer as a single-column table, one row per line.

Failed exchanges export their failure message.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			export, err := fetchExport(ctx, api, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if header {
				fmt.Fprintln(out, export.Column)
			}
			for _, row := range export.Rows {
				fmt.Fprintln(out, row)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&api, "api", "http://localhost:8080", "zuvachat HTTP address")
	cmd.Flags().BoolVar(&header, "header", false, "Print the column name first")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	return cmd
}

func fetchExport(ctx context.Context, api, exchangeID string) (*exportResponse, error) {
	endpoint := strings.TrimRight(api, "/") + "/v1/exchanges/" + url.PathEscape(exchangeID) + "/export"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch export: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var export exportResponse
	if err := json.Unmarshal(body, &export); err != nil {
		return nil, fmt.Errorf("failed to decode response (%s): %w", resp.Status, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("export failed (%s): %s", resp.Status, export.Error)
	}
	return &export, nil
}
