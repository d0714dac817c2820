package cdptabs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/titlesync/internal/tabs"
)

type targetInfoParams struct {
	TargetInfo struct {
		TargetID target.ID `json:"targetId"`
		Type     string    `json:"type"`
		Title    string    `json:"title"`
		URL      string    `json:"url"`
	} `json:"targetInfo"`
}

// translate turns raw CDP notifications into tab events. It runs apart from
// the read loop because resolving windows needs round trips of its own.
func (p *Provider) translate() {
	defer close(p.events)
	for {
		select {
		case <-p.done:
			return
		case evt := <-p.raw:
			p.handleRaw(evt)
		}
	}
}

func (p *Provider) handleRaw(evt rawEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), p.evalTimeout)
	defer cancel()

	switch evt.method {
	case "Target.targetCreated":
		var params targetInfoParams
		if json.Unmarshal(evt.params, &params) != nil || params.TargetInfo.Type != "page" {
			return
		}
		id := params.TargetInfo.TargetID
		window, ok := p.resolveWindow(ctx, id)
		if !ok {
			return
		}
		p.publish(tabs.Event{Kind: tabs.EventCreated, TabID: tabs.TabID(id), WindowID: window})

	case "Target.targetDestroyed":
		var params struct {
			TargetID target.ID `json:"targetId"`
		}
		if json.Unmarshal(evt.params, &params) != nil {
			return
		}
		window, ok := p.lastWindow(params.TargetID)
		p.forget(params.TargetID)
		if !ok {
			return
		}
		p.publish(tabs.Event{Kind: tabs.EventRemoved, TabID: tabs.TabID(params.TargetID), WindowID: tabs.WindowID(window)})

	case "Target.targetInfoChanged":
		var params targetInfoParams
		if json.Unmarshal(evt.params, &params) != nil || params.TargetInfo.Type != "page" {
			return
		}
		info := params.TargetInfo
		previous, known := p.lastWindow(info.TargetID)
		window, ok := p.resolveWindow(ctx, info.TargetID)
		if !ok {
			return
		}
		id := tabs.TabID(info.TargetID)
		if known && tabs.WindowID(previous) != window {
			p.publish(tabs.Event{Kind: tabs.EventDetached, TabID: id, WindowID: tabs.WindowID(previous)})
			p.publish(tabs.Event{Kind: tabs.EventAttached, TabID: id, WindowID: window})
			return
		}
		p.publish(tabs.Event{
			Kind:     tabs.EventUpdated,
			TabID:    id,
			WindowID: window,
			Change:   &tabs.Change{Title: info.Title, URL: info.URL},
		})

	case "Target.detachedFromTarget":
		var params struct {
			SessionID string    `json:"sessionId"`
			TargetID  target.ID `json:"targetId"`
		}
		if json.Unmarshal(evt.params, &params) != nil {
			return
		}
		if id, ok := p.targetForSession(params.SessionID); ok {
			p.dropSession(id)
		}

	case "Runtime.bindingCalled":
		var params struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(evt.params, &params) != nil || params.Name != activatedHook {
			return
		}
		id, ok := p.targetForSession(evt.sessionID)
		if !ok {
			return
		}
		window, ok := p.resolveWindow(ctx, id)
		if !ok {
			return
		}
		p.publish(tabs.Event{Kind: tabs.EventActivated, TabID: tabs.TabID(id), WindowID: window})
	}
}

func (p *Provider) resolveWindow(ctx context.Context, id target.ID) (tabs.WindowID, bool) {
	p.mu.Lock()
	cdp := p.cdp
	p.mu.Unlock()
	if cdp == nil {
		return 0, false
	}
	window, err := p.windowOf(ctx, cdp, id)
	if err != nil {
		slog.Debug("cdptabs event window lookup failed", "target_id", id, "error", err)
		return 0, false
	}
	return window, true
}
