// Package tabs holds the tab model shared by the synchronizer and the host
// providers, together with the provider contract itself.
package tabs

import (
	"context"
	"fmt"
)

// TabID identifies a tab. For Chromium it is the CDP target id.
type TabID string

// WindowID identifies a browser window.
type WindowID int64

// Tab is a snapshot of one host tab.
type Tab struct {
	ID       TabID    `json:"id"`
	WindowID WindowID `json:"window_id"`
	// Index is the position in host order within the window. For Chromium
	// that is the /json/list order, most recently active first, not the tab
	// strip position.
	Index  int    `json:"index"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Active bool   `json:"active"`
}

// Filter narrows a Query. Nil fields match everything.
type Filter struct {
	WindowID *WindowID
	Active   *bool
}

// InWindow returns a filter matching the tabs of one window.
func InWindow(id WindowID) Filter {
	return Filter{WindowID: &id}
}

// ActiveOnly returns a filter matching the active tab of every window.
func ActiveOnly() Filter {
	active := true
	return Filter{Active: &active}
}

// Match reports whether t passes the filter.
func (f Filter) Match(t Tab) bool {
	if f.WindowID != nil && *f.WindowID != t.WindowID {
		return false
	}
	if f.Active != nil && *f.Active != t.Active {
		return false
	}
	return true
}

// CreateOptions describes a tab to open.
type CreateOptions struct {
	URL        string
	WindowID   WindowID
	Index      int
	Background bool
}

// EventKind names a host tab event.
type EventKind string

const (
	EventActivated EventKind = "activated"
	EventCreated   EventKind = "created"
	EventRemoved   EventKind = "removed"
	EventUpdated   EventKind = "updated"
	EventAttached  EventKind = "attached"
	EventDetached  EventKind = "detached"
	EventMoved     EventKind = "moved"
)

// Change carries the fields reported by an updated event.
type Change struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Event is one entry of the provider event feed.
type Event struct {
	Kind     EventKind `json:"kind"`
	TabID    TabID     `json:"tab_id"`
	WindowID WindowID  `json:"window_id"`
	Change   *Change   `json:"change,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s tab=%s window=%d", e.Kind, e.TabID, e.WindowID)
}

// Provider is the host tab inventory and mutation interface.
type Provider interface {
	// Query returns the tabs matching f in host order.
	Query(ctx context.Context, f Filter) ([]Tab, error)
	// Get returns a single tab, or a CodeTabNotFound error once it is closed.
	Get(ctx context.Context, id TabID) (Tab, error)
	Create(ctx context.Context, opts CreateOptions) (Tab, error)
	Remove(ctx context.Context, id TabID) error
	// SetTitle assigns document.title inside the tab.
	SetTitle(ctx context.Context, id TabID, title string) error
	// Events returns the host event feed. The channel closes when the
	// provider shuts down.
	Events() <-chan Event
}
