// Package marker creates and removes the marker tab that names a window.
package marker

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/dgnsrekt/titlesync/internal/relay"
	"github.com/dgnsrekt/titlesync/internal/tabs"
	"github.com/dgnsrekt/titlesync/internal/telemetry"
	"github.com/dgnsrekt/titlesync/internal/title"
)

const (
	DefaultLoadTimeout = 5 * time.Second
	pollInterval       = 50 * time.Millisecond
)

// TitleWaiter is implemented by providers that can block until a tab's
// document reports a given title.
type TitleWaiter interface {
	WaitForTitle(ctx context.Context, id tabs.TabID, want string) error
}

// Change is published on the marker feed.
type Change struct {
	Action   string        `json:"action"`
	WindowID tabs.WindowID `json:"window_id"`
	Label    string        `json:"label"`
	TabID    tabs.TabID    `json:"tab_id,omitempty"`
}

// Flow runs marker creation and removal against a provider.
type Flow struct {
	provider    tabs.Provider
	sync        func(ctx context.Context, window tabs.WindowID) error
	loadTimeout time.Duration
	broker      *relay.Broker
	telemetry   *telemetry.Provider
}

// Options configures a Flow.
type Options struct {
	// Sync re-scans a window after its marker changed. Nil skips the re-scan.
	Sync        func(ctx context.Context, window tabs.WindowID) error
	LoadTimeout time.Duration
	Broker      *relay.Broker
	Telemetry   *telemetry.Provider
}

func New(provider tabs.Provider, opts Options) *Flow {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	return &Flow{
		provider:    provider,
		sync:        opts.Sync,
		loadTimeout: opts.LoadTimeout,
		broker:      opts.Broker,
		telemetry:   opts.Telemetry,
	}
}

// URL returns the data url of a marker page for label.
func URL(label string) string {
	marker := html.EscapeString(title.MarkerTitle(label))
	page := "<title>" + marker + "</title><h1>" + marker + "</h1>"
	return "data:text/html," + url.PathEscape(page)
}

// Current returns the marker tab of window.
func (f *Flow) Current(ctx context.Context, window tabs.WindowID) (tabs.Tab, bool, error) {
	list, err := f.provider.Query(ctx, tabs.InWindow(window))
	if err != nil {
		return tabs.Tab{}, false, err
	}
	m, ok := title.FindMarker(list)
	return m, ok, nil
}

// Set names window label: a new marker tab opens in the window (first, where
// the host can place it), the previous marker closes once the new one has
// loaded, and the window is re-synced. A marker tab that lands in another
// window or never loads is closed and the previous marker stays.
func (f *Flow) Set(ctx context.Context, window tabs.WindowID, label string) (tabs.Tab, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return tabs.Tab{}, tabs.NewError(tabs.CodeValidation, "label is required", nil)
	}

	previous, hadPrevious, err := f.Current(ctx, window)
	if err != nil {
		return tabs.Tab{}, err
	}

	created, err := f.provider.Create(ctx, tabs.CreateOptions{
		URL:        URL(label),
		WindowID:   window,
		Index:      0,
		Background: true,
	})
	if err != nil {
		return tabs.Tab{}, fmt.Errorf("create marker tab: %w", err)
	}

	if created.WindowID != window {
		f.discard(ctx, created)
		return tabs.Tab{}, tabs.NewError(tabs.CodeEvalFailure,
			fmt.Sprintf("marker tab opened in window %d instead of %d", created.WindowID, window), nil)
	}

	want := title.MarkerTitle(label)
	if err := f.waitForTitle(ctx, created.ID, want); err != nil {
		f.discard(ctx, created)
		return tabs.Tab{}, err
	}
	created.Title = want

	if hadPrevious && previous.ID != created.ID {
		if err := f.provider.Remove(ctx, previous.ID); err != nil && !tabs.IsNotFound(err) {
			slog.Warn("marker remove previous failed", "window_id", window, "tab_id", previous.ID, "error", err)
		}
	}
	slog.Info("marker set", "window_id", window, "label", label, "tab_id", created.ID)

	f.telemetry.RecordMarker(ctx, "set")
	f.broker.PublishJSON(relay.FeedMarker, Change{Action: "set", WindowID: window, Label: label, TabID: created.ID})
	f.resync(ctx, window)
	return created, nil
}

// Clear removes the marker of window so its tabs revert. A window without a
// marker is left alone.
func (f *Flow) Clear(ctx context.Context, window tabs.WindowID) (bool, error) {
	current, ok, err := f.Current(ctx, window)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := f.provider.Remove(ctx, current.ID); err != nil && !tabs.IsNotFound(err) {
		return false, fmt.Errorf("remove marker tab: %w", err)
	}
	label := title.Label(current.Title)
	slog.Info("marker cleared", "window_id", window, "label", label)

	f.telemetry.RecordMarker(ctx, "clear")
	f.broker.PublishJSON(relay.FeedMarker, Change{Action: "clear", WindowID: window, Label: label, TabID: current.ID})
	f.resync(ctx, window)
	return true, nil
}

func (f *Flow) waitForTitle(ctx context.Context, id tabs.TabID, want string) error {
	ctx, cancel := context.WithTimeout(ctx, f.loadTimeout)
	defer cancel()

	if w, ok := f.provider.(TitleWaiter); ok {
		return w.WaitForTitle(ctx, id, want)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		tab, err := f.provider.Get(ctx, id)
		if err == nil && tab.Title == want {
			return nil
		}
		if err != nil && tabs.IsNotFound(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return tabs.NewError(tabs.CodeEvalTimeout, "marker tab did not load", ctx.Err())
		case <-ticker.C:
		}
	}
}

// discard closes a marker tab that cannot stand, leaving the previous marker
// in place.
func (f *Flow) discard(ctx context.Context, tab tabs.Tab) {
	ctx = context.WithoutCancel(ctx)
	ctx, cancel := context.WithTimeout(ctx, f.loadTimeout)
	defer cancel()
	if err := f.provider.Remove(ctx, tab.ID); err != nil && !tabs.IsNotFound(err) {
		slog.Warn("marker discard failed", "tab_id", tab.ID, "window_id", tab.WindowID, "error", err)
		return
	}
	slog.Warn("marker tab discarded", "tab_id", tab.ID, "window_id", tab.WindowID)
}

func (f *Flow) resync(ctx context.Context, window tabs.WindowID) {
	if f.sync == nil {
		return
	}
	if err := f.sync(ctx, window); err != nil {
		slog.Debug("marker re-sync failed", "window_id", window, "error", err)
	}
}
