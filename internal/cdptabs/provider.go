// Package cdptabs implements the tab provider for a Chromium browser reached
// over the DevTools protocol.
package cdptabs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/titlesync/internal/tabs"
)

const (
	eventBufSize   = 256
	activatedHook  = "__titlesyncActivated"
	visibilityExpr = `document.visibilityState`
)

// hookJS reports the tab becoming visible, which is how an activation looks
// from inside the page.
const hookJS = `(function () {
  if (window.__titlesyncHooked) { return; }
  window.__titlesyncHooked = true;
  document.addEventListener("visibilitychange", function () {
    if (document.visibilityState === "visible" && typeof ` + activatedHook + ` === "function") {
      ` + activatedHook + `("visible");
    }
  });
})()`

type tabSession struct {
	mu        sync.Mutex
	sessionID string
	hooked    bool
}

type rawEvent struct {
	method    string
	sessionID string
	params    json.RawMessage
}

// Provider is a tabs.Provider backed by a Chromium remote debugging endpoint.
type Provider struct {
	cdpURL      string
	evalTimeout time.Duration

	mu       sync.Mutex
	cdp      *rawCDP
	sessions map[target.ID]*tabSession
	windows  map[target.ID]browser.WindowID
	unreg    []func()

	raw    chan rawEvent
	events chan tabs.Event
	done   chan struct{}
	once   sync.Once
}

var _ tabs.Provider = (*Provider)(nil)

// New returns a provider for the endpoint at cdpURL (http://host:port).
func New(cdpURL string, evalTimeout time.Duration) *Provider {
	if evalTimeout <= 0 {
		evalTimeout = 5 * time.Second
	}
	return &Provider{
		cdpURL:      strings.TrimRight(cdpURL, "/"),
		evalTimeout: evalTimeout,
		sessions:    make(map[target.ID]*tabSession),
		windows:     make(map[target.ID]browser.WindowID),
		raw:         make(chan rawEvent, eventBufSize),
		events:      make(chan tabs.Event, eventBufSize),
		done:        make(chan struct{}),
	}
}

// Connect dials the browser and subscribes to target discovery.
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(ctx); err != nil {
		return err
	}
	go p.translate()
	return nil
}

func (p *Provider) connectLocked(ctx context.Context) error {
	if p.cdpURL == "" {
		return tabs.NewError(tabs.CodeCDPUnavailable, "missing CDP URL", nil)
	}
	slog.Info("cdptabs connect start", "cdp_url", p.cdpURL)
	p.cleanupLocked()

	cdp := newRawCDP(p.cdpURL)
	if err := cdp.connect(ctx); err != nil {
		return tabs.NewError(tabs.CodeCDPUnavailable, "connect to CDP failed", err)
	}
	for _, method := range []string{
		"Target.targetCreated",
		"Target.targetDestroyed",
		"Target.targetInfoChanged",
		"Target.detachedFromTarget",
		"Runtime.bindingCalled",
	} {
		m := method
		p.unreg = append(p.unreg, cdp.onEvent(m, func(sessionID string, params json.RawMessage) {
			p.enqueue(rawEvent{method: m, sessionID: sessionID, params: params})
		}))
	}
	if err := cdp.setDiscoverTargets(ctx, true); err != nil {
		cdp.close()
		return tabs.NewError(tabs.CodeCDPUnavailable, "enable target discovery failed", err)
	}
	p.cdp = cdp
	slog.Info("cdptabs connect ok", "cdp_url", p.cdpURL)
	return nil
}

// Close detaches every session and closes the event feed. Tabs stay open.
func (p *Provider) Close() error {
	p.mu.Lock()
	p.cleanupLocked()
	p.mu.Unlock()
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *Provider) cleanupLocked() {
	for _, fn := range p.unreg {
		fn()
	}
	p.unreg = nil
	if p.cdp != nil {
		for _, s := range p.sessions {
			s.mu.Lock()
			if s.sessionID != "" {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				if err := p.cdp.detachFromTarget(ctx, s.sessionID); err != nil {
					slog.Debug("cdptabs detach failed", "session_id", s.sessionID, "error", err)
				}
				cancel()
				s.sessionID = ""
			}
			s.mu.Unlock()
		}
		p.cdp.close()
		p.cdp = nil
	}
	p.sessions = make(map[target.ID]*tabSession)
	p.windows = make(map[target.ID]browser.WindowID)
}

// client returns the live CDP connection, reconnecting once when it dropped.
func (p *Provider) client(ctx context.Context) (*rawCDP, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cdp != nil && p.cdp.connected() {
		return p.cdp, nil
	}
	slog.Warn("cdptabs connection lost, reconnecting", "cdp_url", p.cdpURL)
	if err := p.connectLocked(ctx); err != nil {
		return nil, err
	}
	return p.cdp, nil
}

func (p *Provider) Query(ctx context.Context, f tabs.Filter) ([]tabs.Tab, error) {
	cdp, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	targets, err := cdp.listTargets(ctx)
	if err != nil {
		return nil, tabs.NewError(tabs.CodeCDPUnavailable, "failed to list targets", err)
	}

	seen := make(map[target.ID]bool, len(targets))
	index := make(map[tabs.WindowID]int)
	var out []tabs.Tab
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		seen[t.TargetID] = true
		window, err := p.windowOf(ctx, cdp, t.TargetID)
		if err != nil {
			slog.Debug("cdptabs window lookup failed", "target_id", t.TargetID, "error", err)
			continue
		}
		tab := tabs.Tab{
			ID:       tabs.TabID(t.TargetID),
			WindowID: window,
			Index:    index[window],
			Title:    t.Title,
			URL:      t.URL,
		}
		index[window]++
		if f.WindowID != nil && *f.WindowID != window {
			continue
		}
		tab.Active = p.visible(ctx, cdp, t.TargetID)
		if f.Match(tab) {
			out = append(out, tab)
		}
	}
	p.prune(seen)
	slog.Debug("cdptabs query", "targets", len(targets), "matched", len(out))
	return out, nil
}

func (p *Provider) Get(ctx context.Context, id tabs.TabID) (tabs.Tab, error) {
	cdp, err := p.client(ctx)
	if err != nil {
		return tabs.Tab{}, err
	}
	targets, err := cdp.listTargets(ctx)
	if err != nil {
		return tabs.Tab{}, tabs.NewError(tabs.CodeCDPUnavailable, "failed to list targets", err)
	}

	index := make(map[tabs.WindowID]int)
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		window, err := p.windowOf(ctx, cdp, t.TargetID)
		if err != nil {
			continue
		}
		pos := index[window]
		index[window]++
		if tabs.TabID(t.TargetID) != id {
			continue
		}
		return tabs.Tab{
			ID:       id,
			WindowID: window,
			Index:    pos,
			Title:    t.Title,
			URL:      t.URL,
			Active:   p.visible(ctx, cdp, t.TargetID),
		}, nil
	}
	return tabs.Tab{}, tabs.NewError(tabs.CodeTabNotFound, "tab not found: "+string(id), nil)
}

// Create opens a tab. The DevTools protocol opens new tabs in the most
// recently focused window and has no tab index, so Create first focuses
// WindowID through its visible tab. Index is ignored. The returned tab
// carries the window it actually landed in.
func (p *Provider) Create(ctx context.Context, opts tabs.CreateOptions) (tabs.Tab, error) {
	cdp, err := p.client(ctx)
	if err != nil {
		return tabs.Tab{}, err
	}
	if opts.WindowID != 0 {
		p.focusWindow(ctx, cdp, opts.WindowID)
	}
	id, err := cdp.createTarget(ctx, opts.URL, opts.Background)
	if err != nil {
		return tabs.Tab{}, tabs.NewError(tabs.CodeEvalFailure, "create target failed", err)
	}
	window, err := p.windowOf(ctx, cdp, id)
	if err != nil {
		slog.Warn("cdptabs window lookup for new tab failed", "target_id", id, "error", err)
	}
	if opts.WindowID != 0 && window != opts.WindowID {
		slog.Warn("cdptabs tab opened in another window", "target_id", id, "requested_window", opts.WindowID, "window", window)
	}
	slog.Info("cdptabs tab created", "target_id", id, "window_id", window, "background", opts.Background)
	return tabs.Tab{ID: tabs.TabID(id), WindowID: window, URL: opts.URL, Active: !opts.Background}, nil
}

// focusWindow brings window to the front by activating its visible tab, or
// its first tab when none reports visible.
func (p *Provider) focusWindow(ctx context.Context, cdp *rawCDP, window tabs.WindowID) {
	list, err := p.Query(ctx, tabs.InWindow(window))
	if err != nil || len(list) == 0 {
		slog.Debug("cdptabs focus window skipped", "window_id", window, "tabs", len(list), "error", err)
		return
	}
	pick := list[0]
	for _, t := range list {
		if t.Active {
			pick = t
			break
		}
	}
	if err := cdp.activateTarget(ctx, target.ID(pick.ID)); err != nil {
		slog.Debug("cdptabs focus window failed", "window_id", window, "target_id", pick.ID, "error", err)
	}
}

func (p *Provider) Remove(ctx context.Context, id tabs.TabID) error {
	cdp, err := p.client(ctx)
	if err != nil {
		return err
	}
	if err := cdp.closeTarget(ctx, target.ID(id)); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "no target") {
			return tabs.NewError(tabs.CodeTabNotFound, "tab not found: "+string(id), err)
		}
		return tabs.NewError(tabs.CodeEvalFailure, "close target failed", err)
	}
	p.forget(target.ID(id))
	slog.Info("cdptabs tab removed", "target_id", id)
	return nil
}

func (p *Provider) SetTitle(ctx context.Context, id tabs.TabID, title string) error {
	cdp, err := p.client(ctx)
	if err != nil {
		return err
	}
	sessionID, err := p.ensureSession(ctx, cdp, target.ID(id))
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(title)
	if err != nil {
		return tabs.NewError(tabs.CodeValidation, "title not encodable", err)
	}

	evalCtx, cancel := context.WithTimeout(ctx, p.evalTimeout)
	defer cancel()
	js := fmt.Sprintf(`(function () { document.title = %s; return document.title; })()`, encoded)
	if _, err := cdp.evaluate(evalCtx, sessionID, js); err != nil {
		if evalCtx.Err() != nil {
			return tabs.NewError(tabs.CodeEvalTimeout, "set title timed out", err)
		}
		p.dropSession(target.ID(id))
		return tabs.NewError(tabs.CodeEvalFailure, "set title failed", err)
	}
	return nil
}

func (p *Provider) Events() <-chan tabs.Event {
	return p.events
}

func (p *Provider) windowOf(ctx context.Context, cdp *rawCDP, id target.ID) (tabs.WindowID, error) {
	window, err := cdp.windowForTarget(ctx, id)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	p.windows[id] = window
	p.mu.Unlock()
	return tabs.WindowID(window), nil
}

// visible probes document.visibilityState; a probe failure reads as hidden.
func (p *Provider) visible(ctx context.Context, cdp *rawCDP, id target.ID) bool {
	sessionID, err := p.ensureSession(ctx, cdp, id)
	if err != nil {
		slog.Debug("cdptabs visibility probe skipped", "target_id", id, "error", err)
		return false
	}
	evalCtx, cancel := context.WithTimeout(ctx, p.evalTimeout)
	defer cancel()
	raw, err := cdp.evaluate(evalCtx, sessionID, visibilityExpr)
	if err != nil {
		slog.Debug("cdptabs visibility probe failed", "target_id", id, "error", err)
		p.dropSession(id)
		return false
	}
	var state string
	if err := json.Unmarshal(raw, &state); err != nil {
		return false
	}
	return state == "visible"
}

func (p *Provider) session(id target.ID) *tabSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	if !ok {
		s = &tabSession{}
		p.sessions[id] = s
	}
	return s
}

func (p *Provider) ensureSession(ctx context.Context, cdp *rawCDP, id target.ID) (string, error) {
	s := p.session(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessionID == "" {
		sid, err := cdp.attachToTarget(ctx, id)
		if err != nil {
			return "", tabs.NewError(tabs.CodeCDPUnavailable, "attach to target failed", err)
		}
		s.sessionID = sid
		s.hooked = false
		slog.Debug("cdptabs session attached", "target_id", id, "session_id", sid)
	}
	if !s.hooked {
		if err := cdp.installBinding(ctx, s.sessionID, activatedHook, hookJS); err != nil {
			slog.Debug("cdptabs activation hook failed", "target_id", id, "error", err)
		} else {
			s.hooked = true
		}
	}
	return s.sessionID, nil
}

func (p *Provider) dropSession(id target.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, id)
}

func (p *Provider) forget(id target.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, id)
	delete(p.windows, id)
}

func (p *Provider) prune(seen map[target.ID]bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.sessions {
		if !seen[id] {
			delete(p.sessions, id)
		}
	}
	for id := range p.windows {
		if !seen[id] {
			delete(p.windows, id)
		}
	}
}

func (p *Provider) targetForSession(sessionID string) (target.ID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, s := range p.sessions {
		s.mu.Lock()
		match := s.sessionID == sessionID
		s.mu.Unlock()
		if match {
			return id, true
		}
	}
	return "", false
}

func (p *Provider) lastWindow(id target.ID) (browser.WindowID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.windows[id]
	return w, ok
}

func (p *Provider) enqueue(evt rawEvent) {
	select {
	case p.raw <- evt:
	default:
		slog.Debug("cdptabs event dropped", "method", evt.method)
	}
}

func (p *Provider) publish(evt tabs.Event) {
	select {
	case p.events <- evt:
	default:
		slog.Debug("cdptabs tab event dropped", "event", evt.String())
	}
}
