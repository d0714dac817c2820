package cli

import (
	"bufio"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set [label]",
		Short: "Name a window",
		Long: `Open a marker tab titled [label] as the first tab of the window and close
the previous marker. Without a label, titlectl asks for one on stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.newClient()

			label := ""
			if len(args) == 1 {
				label = args[0]
			} else {
				label = promptLabel(cmd, opts, c)
			}
			if strings.TrimSpace(label) == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No label given, nothing changed.")
				return nil
			}

			// The request timeout starts once the user has answered.
			ctx, cancel := opts.context(cmd)
			defer cancel()
			window, err := opts.resolveWindow(ctx, c)
			if err != nil {
				return err
			}
			info, err := c.SetTitle(ctx, window, label)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Window %d is now [%s]\n", info.WindowID, info.Label)
			return nil
		},
	}
}

// promptLabel asks for a label on the command's input, listing configured
// presets first. A preset may be picked by its number. An unreadable input
// reads as no answer.
func promptLabel(cmd *cobra.Command, opts *options, c *Client) string {
	out := cmd.OutOrStdout()
	ctx, cancel := opts.context(cmd)
	presets, err := c.Presets(ctx)
	cancel()
	if err != nil {
		slog.Debug("titlectl presets unavailable", "server", opts.server, "error", err)
		presets = nil
	}
	for i, p := range presets {
		fmt.Fprintf(out, "  %d) %s\n", i+1, p)
	}
	fmt.Fprint(out, "What title do you want to assign? ")

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		slog.Debug("titlectl prompt read failed", "error", err)
		return ""
	}
	line = strings.TrimSpace(line)
	for i, p := range presets {
		if line == fmt.Sprint(i+1) {
			return p
		}
	}
	return line
}

func newClearCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove a window's label",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			c := opts.newClient()

			window, err := opts.resolveWindow(ctx, c)
			if err != nil {
				return err
			}
			removed, err := c.ClearTitle(ctx, window)
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(cmd.OutOrStdout(), "Window %d has no label\n", window)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Window %d label cleared\n", window)
			return nil
		},
	}
}

func newWindowsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "windows",
		Short: "List windows and their labels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			windows, err := opts.newClient().Windows(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WINDOW\tLABEL\tTABS")
			for _, w := range windows {
				label := w.Label
				if label == "" {
					label = "-"
				}
				fmt.Fprintf(tw, "%d\t%s\t%d\n", w.WindowID, label, w.TabCount)
			}
			return tw.Flush()
		},
	}
}

func newSyncCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Apply titles now",
		Long:  "Scan the --window given, or every window, and fix tab titles immediately.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			mutations, err := opts.newClient().Sync(ctx, opts.window)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range mutations {
				if m.Error != "" {
					fmt.Fprintf(out, "%s: %q failed: %s\n", m.TabID, m.To, m.Error)
					continue
				}
				fmt.Fprintf(out, "%s: %q -> %q\n", m.TabID, m.From, m.To)
			}
			fmt.Fprintf(out, "%d title(s) changed\n", len(mutations))
			return nil
		},
	}
}
