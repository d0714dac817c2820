// Package titlesync keeps the titles of every tab in a window consistent with
// the window's marker tab.
package titlesync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/titlesync/internal/relay"
	"github.com/dgnsrekt/titlesync/internal/tabs"
	"github.com/dgnsrekt/titlesync/internal/telemetry"
	"github.com/dgnsrekt/titlesync/internal/title"
	"github.com/google/uuid"
)

const (
	DefaultInterval    = 2 * time.Second
	defaultCallTimeout = 5 * time.Second
)

// Options configures a Synchronizer. Zero values pick defaults.
type Options struct {
	RestrictedSchemes []string
	Interval          time.Duration
	CallTimeout       time.Duration
	Broker            *relay.Broker
	Telemetry         *telemetry.Provider
}

// Mutation describes one title change the synchronizer requested.
type Mutation struct {
	TabID    tabs.TabID    `json:"tab_id"`
	WindowID tabs.WindowID `json:"window_id"`
	From     string        `json:"from"`
	To       string        `json:"to"`
	Error    string        `json:"error,omitempty"`
}

// ScanResult is published on the scan feed after a scan changed titles.
type ScanResult struct {
	ScanID    string        `json:"scan_id"`
	WindowID  tabs.WindowID `json:"window_id"`
	Mutations int           `json:"mutations"`
	Failed    int           `json:"failed"`
}

// Synchronizer applies the title rule to windows on demand, on a timer and on
// host tab events.
type Synchronizer struct {
	provider tabs.Provider
	opts     Options

	mu      sync.Mutex
	applied map[tabs.TabID]string
}

// New returns a Synchronizer bound to provider.
func New(provider tabs.Provider, opts Options) *Synchronizer {
	if opts.RestrictedSchemes == nil {
		opts.RestrictedSchemes = title.DefaultRestrictedSchemes
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	return &Synchronizer{
		provider: provider,
		opts:     opts,
		applied:  make(map[tabs.TabID]string),
	}
}

// Run drives the synchronizer until ctx is done: one full scan at start, then
// a full scan per tick and a targeted scan per host event.
func (s *Synchronizer) Run(ctx context.Context) error {
	slog.Info("titlesync started", "interval", s.opts.Interval.String())
	s.SyncAll(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	events := s.provider.Events()

	for {
		select {
		case <-ctx.Done():
			slog.Info("titlesync stopped")
			return ctx.Err()
		case <-ticker.C:
			s.SyncAll(ctx)
		case evt, ok := <-events:
			if !ok {
				slog.Warn("titlesync event feed closed")
				events = nil
				continue
			}
			s.HandleEvent(ctx, evt)
		}
	}
}

// HandleEvent reacts to one host tab event.
func (s *Synchronizer) HandleEvent(ctx context.Context, evt tabs.Event) {
	slog.Debug("titlesync event", "kind", evt.Kind, "tab_id", evt.TabID, "window_id", evt.WindowID)
	switch evt.Kind {
	case tabs.EventUpdated:
		if _, err := s.SyncTab(ctx, evt.TabID); err != nil {
			slog.Debug("titlesync tab scan failed", "tab_id", evt.TabID, "error", err)
		}
		return
	case tabs.EventRemoved:
		s.forget(evt.TabID)
	}
	if _, err := s.SyncWindow(ctx, evt.WindowID); err != nil {
		slog.Debug("titlesync window scan failed", "window_id", evt.WindowID, "error", err)
	}
}

// SyncAll scans every window that has an active tab.
func (s *Synchronizer) SyncAll(ctx context.Context) []Mutation {
	ctx, span := s.opts.Telemetry.StartScan(ctx, "all")
	defer span.End()
	s.opts.Telemetry.RecordScan(ctx, "all")

	active, err := s.query(ctx, tabs.ActiveOnly())
	if err != nil {
		slog.Debug("titlesync active tab query failed", "error", err)
		return nil
	}
	seen := make(map[tabs.WindowID]bool, len(active))
	var out []Mutation
	for _, t := range active {
		if seen[t.WindowID] {
			continue
		}
		seen[t.WindowID] = true
		applied, err := s.SyncWindow(ctx, t.WindowID)
		if err != nil {
			slog.Debug("titlesync window scan failed", "window_id", t.WindowID, "error", err)
			continue
		}
		out = append(out, applied...)
	}
	return out
}

// SyncWindow applies the title rule to every tab of window. A window that is
// gone or has no tabs yields no mutations.
func (s *Synchronizer) SyncWindow(ctx context.Context, window tabs.WindowID) ([]Mutation, error) {
	ctx, span := s.opts.Telemetry.StartScan(ctx, "window")
	defer span.End()
	s.opts.Telemetry.RecordScan(ctx, "window")

	list, err := s.query(ctx, tabs.InWindow(window))
	if err != nil {
		if tabs.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return s.apply(ctx, s.plan(list)), nil
}

// SyncTab applies the title rule to a single tab, using the marker of the
// window the tab lives in.
func (s *Synchronizer) SyncTab(ctx context.Context, id tabs.TabID) ([]Mutation, error) {
	ctx, span := s.opts.Telemetry.StartScan(ctx, "tab")
	defer span.End()
	s.opts.Telemetry.RecordScan(ctx, "tab")

	tab, err := s.get(ctx, id)
	if err != nil {
		if tabs.IsNotFound(err) {
			s.forget(id)
			return nil, nil
		}
		return nil, err
	}
	list, err := s.query(ctx, tabs.InWindow(tab.WindowID))
	if err != nil {
		if tabs.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var only []title.Update
	for _, u := range s.plan(list) {
		if u.Tab.ID == id {
			only = append(only, u)
		}
	}
	return s.apply(ctx, only), nil
}

// Preview returns the tabs of window alongside the title each should carry,
// without changing anything.
func (s *Synchronizer) Preview(ctx context.Context, window tabs.WindowID) ([]tabs.Tab, map[tabs.TabID]string, error) {
	list, err := s.query(ctx, tabs.InWindow(window))
	if err != nil {
		return nil, nil, err
	}
	desired := make(map[tabs.TabID]string, len(list))
	for _, t := range list {
		desired[t.ID] = t.Title
	}
	for _, u := range s.plan(list) {
		desired[u.Tab.ID] = u.Title
	}
	return list, desired, nil
}

// AppliedPrefix reports the label last prefixed onto tab id.
func (s *Synchronizer) AppliedPrefix(id tabs.TabID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied[id]
}

func (s *Synchronizer) plan(list []tabs.Tab) []title.Update {
	s.mu.Lock()
	applied := make(map[tabs.TabID]string, len(s.applied))
	for id, label := range s.applied {
		applied[id] = label
	}
	s.mu.Unlock()
	return title.Plan(list, s.opts.RestrictedSchemes, applied)
}

// apply requests each update in turn. Failures are logged and left for the
// next scan to retry.
func (s *Synchronizer) apply(ctx context.Context, updates []title.Update) []Mutation {
	if len(updates) == 0 {
		return nil
	}
	scanID := uuid.NewString()
	out := make([]Mutation, 0, len(updates))
	for _, u := range updates {
		m := Mutation{TabID: u.Tab.ID, WindowID: u.Tab.WindowID, From: u.Tab.Title, To: u.Title}

		callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
		err := s.provider.SetTitle(callCtx, u.Tab.ID, u.Title)
		cancel()
		s.opts.Telemetry.RecordMutation(ctx, err)

		if err != nil {
			m.Error = err.Error()
			slog.Warn("titlesync update title failed", "scan_id", scanID, "tab_id", u.Tab.ID, "to", u.Title, "error", err)
		} else {
			s.remember(u.Tab.ID, u.Prefix)
			slog.Info("titlesync update title", "scan_id", scanID, "tab_id", u.Tab.ID, "window_id", u.Tab.WindowID, "from", u.Tab.Title, "to", u.Title)
		}
		s.opts.Broker.PublishJSON(relay.FeedMutation, m)
		out = append(out, m)
	}
	s.opts.Broker.PublishJSON(relay.FeedScan, ScanResult{
		ScanID:    scanID,
		WindowID:  updates[0].Tab.WindowID,
		Mutations: len(out),
		Failed:    failed(out),
	})
	return out
}

func failed(list []Mutation) int {
	n := 0
	for _, m := range list {
		if m.Error != "" {
			n++
		}
	}
	return n
}

func (s *Synchronizer) remember(id tabs.TabID, prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prefix == "" {
		delete(s.applied, id)
		return
	}
	s.applied[id] = prefix
}

func (s *Synchronizer) forget(id tabs.TabID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.applied, id)
}

func (s *Synchronizer) query(ctx context.Context, f tabs.Filter) ([]tabs.Tab, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	return s.provider.Query(callCtx, f)
}

func (s *Synchronizer) get(ctx context.Context, id tabs.TabID) (tabs.Tab, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	return s.provider.Get(callCtx, id)
}
