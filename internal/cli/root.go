// Package cli implements titlectl, the command line front end of the
// titlesync control API.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dgnsrekt/titlesync/internal/config"
	"github.com/spf13/cobra"
)

type options struct {
	server  string
	window  int64
	timeout time.Duration
	client  *http.Client
}

// NewRootCmd builds the titlectl command tree. httpClient may be nil.
func NewRootCmd(cfg *config.ClientConfig, httpClient *http.Client) *cobra.Command {
	opts := &options{client: httpClient}

	cmd := &cobra.Command{
		Use:           "titlectl",
		Short:         "Name browser windows through titlesync",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `titlectl names browser windows by opening a marker tab titled [Label].
titlesync then prefixes the label onto the active tab of that window so the
window title bar shows it.`,
	}

	cmd.PersistentFlags().StringVar(&opts.server, "server", cfg.ServerURL, "titlesync control API base url")
	cmd.PersistentFlags().Int64VarP(&opts.window, "window", "w", 0, "Window id (defaults to the window of the active tab)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", time.Duration(cfg.TimeoutMS)*time.Millisecond, "Request timeout")

	cmd.AddCommand(
		newSetCmd(opts),
		newClearCmd(opts),
		newWindowsCmd(opts),
		newSyncCmd(opts),
	)
	return cmd
}

// Execute runs titlectl against os.Args and exits non-zero on failure.
func Execute() {
	cmd := NewRootCmd(config.LoadClient(), nil)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "titlectl:", err)
		os.Exit(1)
	}
}

func (o *options) newClient() *Client {
	return NewClient(o.server, o.client)
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

// resolveWindow returns the --window flag, or the active window when unset.
func (o *options) resolveWindow(ctx context.Context, c *Client) (int64, error) {
	if o.window != 0 {
		return o.window, nil
	}
	active, err := c.ActiveWindow(ctx)
	if err != nil {
		return 0, fmt.Errorf("find active window: %w", err)
	}
	return int64(active.WindowID), nil
}
