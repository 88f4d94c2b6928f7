package main

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/dutharness/internal/client"
)

// Exit codes for dutctl commands.
const (
	ExitCodeError = 1
	// ExitCodeUnavailable is returned when the server refused to schedule the request.
	ExitCodeUnavailable = 2
)

const defaultServer = "http://localhost:8080"

type rootOptions struct {
	server  string
	timeout time.Duration
}

func (o *rootOptions) client() *client.Client {
	return client.New(o.server, &http.Client{Timeout: o.timeout})
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "dutctl",
		Short: "Configure and run test cases on a device under test",
		Long: `dutctl talks to a dutharness server. It configures and starts test
cases and inspects the reports they produce.`,
		SilenceUsage: true,
	}

	server := os.Getenv("DUT_SERVER")
	if server == "" {
		server = defaultServer
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", server, "dutharness server URL (env DUT_SERVER)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "HTTP request timeout")

	cmd.AddCommand(
		newTestCasesCmd(opts),
		newConfigureCmd(opts),
		newStartCmd(opts),
		newStateCmd(opts),
		newRunsCmd(opts),
		newReportsCmd(opts),
	)
	return cmd
}

func exitCode(err error) int {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		return ExitCodeUnavailable
	}
	return ExitCodeError
}
