package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgnsrekt/titlesync/internal/marker"
	"github.com/dgnsrekt/titlesync/internal/tabs"
	"github.com/dgnsrekt/titlesync/internal/telemetry"
	"github.com/dgnsrekt/titlesync/internal/title"
	"github.com/dgnsrekt/titlesync/internal/titlesync"
)

// WindowInfo summarizes one browser window.
type WindowInfo struct {
	WindowID    tabs.WindowID `json:"window_id"`
	Label       string        `json:"label"`
	MarkerTabID tabs.TabID    `json:"marker_tab_id,omitempty"`
	ActiveTabID tabs.TabID    `json:"active_tab_id,omitempty"`
	TabCount    int           `json:"tab_count"`
}

// TabView is a tab together with the title the synchronizer wants for it.
type TabView struct {
	ID         tabs.TabID    `json:"id"`
	WindowID   tabs.WindowID `json:"window_id"`
	Index      int           `json:"index"`
	Title      string        `json:"title"`
	Desired    string        `json:"desired"`
	URL        string        `json:"url"`
	Active     bool          `json:"active"`
	Marker     bool          `json:"marker"`
	Restricted bool          `json:"restricted"`
}

// Service wraps window title operations for the API and CLI.
type Service struct {
	provider   tabs.Provider
	sync       *titlesync.Synchronizer
	markers    *marker.Flow
	telemetry  *telemetry.Provider
	restricted []string
	presets    []string
}

// Options carries the optional parts of a Service.
type Options struct {
	Telemetry         *telemetry.Provider
	RestrictedSchemes []string
	Presets           []string
}

func NewService(provider tabs.Provider, sync *titlesync.Synchronizer, markers *marker.Flow, opts Options) *Service {
	restricted := opts.RestrictedSchemes
	if restricted == nil {
		restricted = title.DefaultRestrictedSchemes
	}
	return &Service{
		provider:   provider,
		sync:       sync,
		markers:    markers,
		telemetry:  opts.Telemetry,
		restricted: restricted,
		presets:    opts.Presets,
	}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &tabs.CodedError{Code: tabs.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

func windowNotFound(window tabs.WindowID) error {
	return &tabs.CodedError{Code: tabs.CodeWindowNotFound, Message: fmt.Sprintf("window %d not found", window)}
}

// ListWindows returns every window in host order.
func (s *Service) ListWindows(ctx context.Context) ([]WindowInfo, error) {
	list, err := s.provider.Query(ctx, tabs.Filter{})
	if err != nil {
		return nil, err
	}
	var order []tabs.WindowID
	grouped := make(map[tabs.WindowID][]tabs.Tab)
	for _, t := range list {
		if _, ok := grouped[t.WindowID]; !ok {
			order = append(order, t.WindowID)
		}
		grouped[t.WindowID] = append(grouped[t.WindowID], t)
	}
	out := make([]WindowInfo, 0, len(order))
	for _, id := range order {
		out = append(out, summarize(id, grouped[id]))
	}
	return out, nil
}

func (s *Service) GetWindow(ctx context.Context, window tabs.WindowID) (WindowInfo, error) {
	list, err := s.provider.Query(ctx, tabs.InWindow(window))
	if err != nil {
		return WindowInfo{}, err
	}
	if len(list) == 0 {
		return WindowInfo{}, windowNotFound(window)
	}
	return summarize(window, list), nil
}

// ActiveWindow returns the window holding the first active tab in host order.
func (s *Service) ActiveWindow(ctx context.Context) (WindowInfo, error) {
	active, err := s.provider.Query(ctx, tabs.ActiveOnly())
	if err != nil {
		return WindowInfo{}, err
	}
	if len(active) == 0 {
		return WindowInfo{}, &tabs.CodedError{Code: tabs.CodeWindowNotFound, Message: "no active window"}
	}
	return s.GetWindow(ctx, active[0].WindowID)
}

// ListTabs returns the tabs of window with their desired titles.
func (s *Service) ListTabs(ctx context.Context, window tabs.WindowID) ([]TabView, error) {
	list, desired, err := s.sync.Preview(ctx, window)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, windowNotFound(window)
	}
	m, hasMarker := title.FindMarker(list)
	out := make([]TabView, 0, len(list))
	for _, t := range list {
		out = append(out, TabView{
			ID:         t.ID,
			WindowID:   t.WindowID,
			Index:      t.Index,
			Title:      t.Title,
			Desired:    desired[t.ID],
			URL:        t.URL,
			Active:     t.Active,
			Marker:     hasMarker && m.ID == t.ID,
			Restricted: title.Restricted(t.URL, s.restricted),
		})
	}
	return out, nil
}

// SetTitle names window label through a new marker tab.
func (s *Service) SetTitle(ctx context.Context, window tabs.WindowID, label string) (WindowInfo, error) {
	if err := s.requireNonEmpty(label, "label"); err != nil {
		return WindowInfo{}, err
	}
	if _, err := s.markers.Set(ctx, window, strings.TrimSpace(label)); err != nil {
		return WindowInfo{}, err
	}
	return s.GetWindow(ctx, window)
}

// ClearTitle removes the marker of window. It reports whether one existed.
func (s *Service) ClearTitle(ctx context.Context, window tabs.WindowID) (bool, error) {
	return s.markers.Clear(ctx, window)
}

// Sync scans window immediately, or every window when window is nil.
func (s *Service) Sync(ctx context.Context, window *tabs.WindowID) ([]titlesync.Mutation, error) {
	if window == nil {
		return s.sync.SyncAll(ctx), nil
	}
	return s.sync.SyncWindow(ctx, *window)
}

func (s *Service) Stats(ctx context.Context) (map[string]int64, error) {
	return s.telemetry.Snapshot(ctx)
}

func (s *Service) Presets() []string {
	out := make([]string, len(s.presets))
	copy(out, s.presets)
	return out
}

func summarize(window tabs.WindowID, list []tabs.Tab) WindowInfo {
	info := WindowInfo{WindowID: window, TabCount: len(list)}
	if m, ok := title.FindMarker(list); ok {
		info.Label = title.Label(m.Title)
		info.MarkerTabID = m.ID
	}
	for _, t := range list {
		if t.Active {
			info.ActiveTabID = t.ID
			break
		}
	}
	return info
}
