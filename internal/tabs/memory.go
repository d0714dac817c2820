package tabs

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
	"sync"
)

const memoryEventBufSize = 256

var dataTitlePattern = regexp.MustCompile(`(?is)<title>(.*?)</title>`)

// Mutation records one SetTitle call served by a Memory provider.
type Mutation struct {
	TabID TabID
	From  string
	To    string
}

type memoryWindow struct {
	tabs   []*Tab
	active TabID
}

// Memory is an in-process Provider. It keeps windows and tabs in insertion
// order and reports every change on its event feed, the way a browser would.
type Memory struct {
	mu        sync.Mutex
	windows   map[WindowID]*memoryWindow
	order     []WindowID
	nextTab   int
	mutations []Mutation
	queryErr  error
	events    chan Event
	closed    bool
}

// NewMemory returns an empty in-memory provider.
func NewMemory() *Memory {
	return &Memory{
		windows: make(map[WindowID]*memoryWindow),
		events:  make(chan Event, memoryEventBufSize),
	}
}

// Open appends a tab to window, creating the window when needed. The first
// tab of a window becomes its active tab.
func (m *Memory) Open(window WindowID, title, rawURL string) Tab {
	m.mu.Lock()
	w := m.windowLocked(window)
	t := m.newTabLocked(window, title, rawURL)
	w.tabs = append(w.tabs, t)
	if w.active == "" {
		w.active = t.ID
	}
	out := m.snapshotLocked(w, t)
	m.mu.Unlock()

	m.emit(Event{Kind: EventCreated, TabID: out.ID, WindowID: window})
	return out
}

// Activate makes id the active tab of its window.
func (m *Memory) Activate(id TabID) error {
	m.mu.Lock()
	w, _, _, ok := m.findLocked(id)
	if !ok {
		m.mu.Unlock()
		return NewError(CodeTabNotFound, "tab not found: "+string(id), nil)
	}
	w.active = id
	window := m.windowOfLocked(id)
	m.mu.Unlock()

	m.emit(Event{Kind: EventActivated, TabID: id, WindowID: window})
	return nil
}

// Navigate changes the title and url of a tab as a page load would.
func (m *Memory) Navigate(id TabID, title, rawURL string) error {
	m.mu.Lock()
	_, t, _, ok := m.findLocked(id)
	if !ok {
		m.mu.Unlock()
		return NewError(CodeTabNotFound, "tab not found: "+string(id), nil)
	}
	t.Title = title
	t.URL = rawURL
	window := t.WindowID
	m.mu.Unlock()

	m.emit(Event{Kind: EventUpdated, TabID: id, WindowID: window, Change: &Change{Title: title, URL: rawURL}})
	return nil
}

// Move detaches id from its window and inserts it into window at index.
func (m *Memory) Move(id TabID, window WindowID, index int) error {
	m.mu.Lock()
	from, t, pos, ok := m.findLocked(id)
	if !ok {
		m.mu.Unlock()
		return NewError(CodeTabNotFound, "tab not found: "+string(id), nil)
	}
	oldWindow := t.WindowID
	from.tabs = append(from.tabs[:pos], from.tabs[pos+1:]...)
	if from.active == id {
		from.active = firstID(from.tabs)
	}
	to := m.windowLocked(window)
	t.WindowID = window
	to.tabs = insertAt(to.tabs, t, index)
	if to.active == "" {
		to.active = id
	}
	m.mu.Unlock()

	if oldWindow == window {
		m.emit(Event{Kind: EventMoved, TabID: id, WindowID: window})
		return nil
	}
	m.emit(Event{Kind: EventDetached, TabID: id, WindowID: oldWindow})
	m.emit(Event{Kind: EventAttached, TabID: id, WindowID: window})
	return nil
}

// CloseWindow removes a window and all of its tabs.
func (m *Memory) CloseWindow(window WindowID) {
	m.mu.Lock()
	w, ok := m.windows[window]
	var ids []TabID
	if ok {
		for _, t := range w.tabs {
			ids = append(ids, t.ID)
		}
		delete(m.windows, window)
		m.order = removeWindowID(m.order, window)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.emit(Event{Kind: EventRemoved, TabID: id, WindowID: window})
	}
}

// FailQueries makes every following Query return err. Pass nil to recover.
func (m *Memory) FailQueries(err error) {
	m.mu.Lock()
	m.queryErr = err
	m.mu.Unlock()
}

// Mutations returns the SetTitle calls served so far.
func (m *Memory) Mutations() []Mutation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Mutation, len(m.mutations))
	copy(out, m.mutations)
	return out
}

// ResetMutations clears the recorded SetTitle calls.
func (m *Memory) ResetMutations() {
	m.mu.Lock()
	m.mutations = nil
	m.mu.Unlock()
}

// Close shuts the event feed.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.events)
	}
}

func (m *Memory) Query(ctx context.Context, f Filter) ([]Tab, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}

	var out []Tab
	for _, wid := range m.order {
		w := m.windows[wid]
		for _, t := range w.tabs {
			snap := m.snapshotLocked(w, t)
			if f.Match(snap) {
				out = append(out, snap)
			}
		}
	}
	return out, nil
}

func (m *Memory) Get(ctx context.Context, id TabID) (Tab, error) {
	if err := ctx.Err(); err != nil {
		return Tab{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, t, _, ok := m.findLocked(id)
	if !ok {
		return Tab{}, NewError(CodeTabNotFound, "tab not found: "+string(id), nil)
	}
	return m.snapshotLocked(w, t), nil
}

func (m *Memory) Create(ctx context.Context, opts CreateOptions) (Tab, error) {
	if err := ctx.Err(); err != nil {
		return Tab{}, err
	}
	m.mu.Lock()
	w, ok := m.windows[opts.WindowID]
	if !ok {
		m.mu.Unlock()
		return Tab{}, NewError(CodeWindowNotFound, fmt.Sprintf("window not found: %d", opts.WindowID), nil)
	}
	t := m.newTabLocked(opts.WindowID, titleFromURL(opts.URL), opts.URL)
	w.tabs = insertAt(w.tabs, t, opts.Index)
	if !opts.Background || w.active == "" {
		w.active = t.ID
	}
	out := m.snapshotLocked(w, t)
	m.mu.Unlock()

	m.emit(Event{Kind: EventCreated, TabID: out.ID, WindowID: out.WindowID})
	if !opts.Background {
		m.emit(Event{Kind: EventActivated, TabID: out.ID, WindowID: out.WindowID})
	}
	return out, nil
}

func (m *Memory) Remove(ctx context.Context, id TabID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	w, t, pos, ok := m.findLocked(id)
	if !ok {
		m.mu.Unlock()
		return NewError(CodeTabNotFound, "tab not found: "+string(id), nil)
	}
	window := t.WindowID
	w.tabs = append(w.tabs[:pos], w.tabs[pos+1:]...)
	if w.active == id {
		w.active = firstID(w.tabs)
	}
	if len(w.tabs) == 0 {
		delete(m.windows, window)
		m.order = removeWindowID(m.order, window)
	}
	m.mu.Unlock()

	m.emit(Event{Kind: EventRemoved, TabID: id, WindowID: window})
	return nil
}

func (m *Memory) SetTitle(ctx context.Context, id TabID, title string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	_, t, _, ok := m.findLocked(id)
	if !ok {
		m.mu.Unlock()
		return NewError(CodeTabNotFound, "tab not found: "+string(id), nil)
	}
	m.mutations = append(m.mutations, Mutation{TabID: id, From: t.Title, To: title})
	t.Title = title
	window := t.WindowID
	m.mu.Unlock()

	m.emit(Event{Kind: EventUpdated, TabID: id, WindowID: window, Change: &Change{Title: title}})
	return nil
}

func (m *Memory) Events() <-chan Event {
	return m.events
}

func (m *Memory) emit(evt Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.events <- evt:
	default:
	}
}

func (m *Memory) windowLocked(id WindowID) *memoryWindow {
	w, ok := m.windows[id]
	if !ok {
		w = &memoryWindow{}
		m.windows[id] = w
		m.order = append(m.order, id)
	}
	return w
}

func (m *Memory) newTabLocked(window WindowID, title, rawURL string) *Tab {
	m.nextTab++
	return &Tab{
		ID:       TabID(fmt.Sprintf("tab-%d", m.nextTab)),
		WindowID: window,
		Title:    title,
		URL:      rawURL,
	}
}

func (m *Memory) findLocked(id TabID) (*memoryWindow, *Tab, int, bool) {
	for _, w := range m.windows {
		for i, t := range w.tabs {
			if t.ID == id {
				return w, t, i, true
			}
		}
	}
	return nil, nil, 0, false
}

func (m *Memory) windowOfLocked(id TabID) WindowID {
	_, t, _, ok := m.findLocked(id)
	if !ok {
		return 0
	}
	return t.WindowID
}

func (m *Memory) snapshotLocked(w *memoryWindow, t *Tab) Tab {
	out := *t
	out.Active = w.active == t.ID
	for i, other := range w.tabs {
		if other.ID == t.ID {
			out.Index = i
			break
		}
	}
	return out
}

func insertAt(list []*Tab, t *Tab, index int) []*Tab {
	if index < 0 || index > len(list) {
		index = len(list)
	}
	list = append(list, nil)
	copy(list[index+1:], list[index:])
	list[index] = t
	return list
}

func firstID(list []*Tab) TabID {
	if len(list) == 0 {
		return ""
	}
	return list[0].ID
}

func removeWindowID(order []WindowID, id WindowID) []WindowID {
	out := order[:0]
	for _, w := range order {
		if w != id {
			out = append(out, w)
		}
	}
	return out
}

// titleFromURL mimics the title a browser shows after loading rawURL: the
// <title> of an html data url, or the url itself.
func titleFromURL(rawURL string) string {
	const prefix = "data:text/html,"
	if !strings.HasPrefix(rawURL, prefix) {
		return rawURL
	}
	body, err := url.PathUnescape(rawURL[len(prefix):])
	if err != nil {
		body = rawURL[len(prefix):]
	}
	if m := dataTitlePattern.FindStringSubmatch(body); m != nil {
		return html.UnescapeString(m[1])
	}
	return rawURL
}
