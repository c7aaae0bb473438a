package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"

	"github.com/galadril/domoticz-mcp/internal/server"
)

const (
	defaultHealthcheckURL     = "http://127.0.0.1:8765/health"
	defaultHealthcheckTimeout = 3 * time.Second
	defaultHealthcheckRetries = 3
)

// healthcheckOptions configures a single healthcheck run.
type healthcheckOptions struct {
	URL        string
	Timeout    time.Duration
	Retries    uint
	HTTPClient *http.Client
}

func newHealthcheckCmd() *cobra.Command {
	opts := healthcheckOptions{}

	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check that a running MCP server is healthy",
		Long: `Query the /health endpoint of a running domoticz-mcp server and exit
non-zero unless it reports "healthy". Each attempt is bounded by --timeout and
failed attempts are retried with exponential backoff.

Suitable as a container HEALTHCHECK or a supervisor liveness probe.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			status, err := runHealthcheck(ctx, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", opts.URL, status)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", defaultHealthcheckURL, "Health endpoint to query")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", defaultHealthcheckTimeout, "Timeout of a single attempt")
	cmd.Flags().UintVar(&opts.Retries, "retries", defaultHealthcheckRetries, "Maximum number of attempts")

	return cmd
}

// runHealthcheck returns the reported status once the endpoint answers 200
// with status "healthy".
func runHealthcheck(ctx context.Context, opts healthcheckOptions) (string, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultHealthcheckTimeout
	}
	if opts.Retries == 0 {
		opts.Retries = 1
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	operation := func() (string, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, opts.URL, nil)
		if err != nil {
			return "", backoff.Permanent(fmt.Errorf("invalid health URL: %w", err))
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return "", err
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("health endpoint returned %d", resp.StatusCode)
		}

		var health server.ServiceHealthResponse
		if err := json.Unmarshal(body, &health); err != nil {
			return "", fmt.Errorf("invalid health response: %w", err)
		}
		if health.Status != "healthy" {
			return "", fmt.Errorf("server reported status %q", health.Status)
		}
		return health.Status, nil
	}

	status, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(opts.Retries),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return "", permanent.Unwrap()
		}
		return "", fmt.Errorf("healthcheck failed: %w", err)
	}
	return status, nil
}
