package cdptabs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/titlesync/internal/tabs"
	"github.com/gobwas/ws/wsutil"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type fakeRequest struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId"`
	Params    json.RawMessage `json:"params"`
}

// fakeBrowser answers CDP commands on the server end of a pipe.
type fakeBrowser struct {
	t      *testing.T
	conn   net.Conn
	writeM sync.Mutex
	handle func(req fakeRequest) (any, string)

	mu       sync.Mutex
	requests []fakeRequest
}

func newFakeBrowser(t *testing.T, handle func(req fakeRequest) (any, string)) (*fakeBrowser, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	fb := &fakeBrowser{t: t, conn: server, handle: handle}
	go fb.serve()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return fb, client
}

func (fb *fakeBrowser) serve() {
	for {
		data, err := wsutil.ReadClientText(fb.conn)
		if err != nil {
			return
		}
		var req fakeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		fb.mu.Lock()
		fb.requests = append(fb.requests, req)
		fb.mu.Unlock()

		result, errMsg := fb.handle(req)
		reply := map[string]any{"id": req.ID}
		if errMsg != "" {
			reply["error"] = map[string]any{"code": -32000, "message": errMsg}
		} else {
			if result == nil {
				result = map[string]any{}
			}
			reply["result"] = result
		}
		fb.write(reply)
	}
}

func (fb *fakeBrowser) write(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		fb.t.Errorf("marshal fake reply: %v", err)
		return
	}
	fb.writeM.Lock()
	defer fb.writeM.Unlock()
	if err := wsutil.WriteServerText(fb.conn, data); err != nil {
		return
	}
}

func (fb *fakeBrowser) emit(method, sessionID string, params any) {
	msg := map[string]any{"method": method, "params": params}
	if sessionID != "" {
		msg["sessionId"] = sessionID
	}
	fb.write(msg)
}

func (fb *fakeBrowser) requestsFor(method string) []fakeRequest {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	var out []fakeRequest
	for _, r := range fb.requests {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

func listHandler(t *testing.T, targets []map[string]any) http.RoundTripper {
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/json/list" {
			return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader(``))}, nil
		}
		payload, err := json.Marshal(targets)
		if err != nil {
			t.Fatalf("json.Marshal() = %v", err)
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(string(payload)))}, nil
	})
}

// browserHandler serves windows and visibility for a fixed layout.
func browserHandler(windows map[string]int64, visible map[string]bool) func(req fakeRequest) (any, string) {
	return func(req fakeRequest) (any, string) {
		var params struct {
			TargetID   string `json:"targetId"`
			Expression string `json:"expression"`
		}
		_ = json.Unmarshal(req.Params, &params)
		switch req.Method {
		case "Browser.getWindowForTarget":
			w, ok := windows[params.TargetID]
			if !ok {
				return nil, "No target with given id found"
			}
			return map[string]any{"windowId": w, "bounds": map[string]any{}}, ""
		case "Target.attachToTarget":
			return map[string]any{"sessionId": "s-" + params.TargetID}, ""
		case "Target.closeTarget":
			if _, ok := windows[params.TargetID]; !ok {
				return nil, "No target with given id found"
			}
			return map[string]any{"success": true}, ""
		case "Target.createTarget":
			return map[string]any{"targetId": "new"}, ""
		case "Runtime.evaluate":
			if params.Expression == visibilityExpr {
				id := strings.TrimPrefix(req.SessionID, "s-")
				state := "hidden"
				if visible[id] {
					state = "visible"
				}
				return map[string]any{"result": map[string]any{"type": "string", "value": state}}, ""
			}
			return map[string]any{"result": map[string]any{"type": "undefined"}}, ""
		}
		return map[string]any{}, ""
	}
}

func newTestProvider(t *testing.T, transport http.RoundTripper, handle func(req fakeRequest) (any, string)) (*Provider, *fakeBrowser) {
	t.Helper()
	fb, conn := newFakeBrowser(t, handle)
	p := New("http://example.com", time.Second)
	cdp := newRawCDP("http://example.com")
	cdp.client = &http.Client{Transport: transport}
	cdp.conn = conn
	go cdp.readLoop(conn)
	p.cdp = cdp
	return p, fb
}

func TestQueryWrapsListTargetsError(t *testing.T) {
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusInternalServerError, Body: io.NopCloser(strings.NewReader(`oops`))}, nil
	})
	p, _ := newTestProvider(t, transport, browserHandler(nil, nil))

	_, err := p.Query(context.Background(), tabs.Filter{})
	if err == nil {
		t.Fatal("expected Query() to fail")
	}
	var coded *tabs.CodedError
	if !errors.As(err, &coded) {
		t.Fatalf("expected *tabs.CodedError, got %T", err)
	}
	if coded.Code != tabs.CodeCDPUnavailable {
		t.Fatalf("error code = %s; want %s", coded.Code, tabs.CodeCDPUnavailable)
	}
	if !strings.Contains(coded.Message, "failed to list targets") {
		t.Fatalf("error message = %q; want to contain %q", coded.Message, "failed to list targets")
	}
}

func TestQueryResolvesWindowsAndVisibility(t *testing.T) {
	targets := []map[string]any{
		{"id": "m", "type": "page", "title": "[Work]", "url": "data:text/html,x"},
		{"id": "sw", "type": "service_worker", "title": "sw", "url": "https://example.com/sw.js"},
		{"id": "a", "type": "page", "title": "Inbox", "url": "https://mail.example.com"},
		{"id": "o", "type": "page", "title": "Other", "url": "https://other.example.com"},
		{"id": "b", "type": "page", "title": "Docs", "url": "https://docs.example.com"},
	}
	windows := map[string]int64{"m": 1, "a": 1, "o": 2, "b": 1}
	visible := map[string]bool{"a": true, "o": true}
	p, fb := newTestProvider(t, listHandler(t, targets), browserHandler(windows, visible))

	got, err := p.Query(context.Background(), tabs.InWindow(1))
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}
	want := []tabs.Tab{
		{ID: "m", WindowID: 1, Index: 0, Title: "[Work]", URL: "data:text/html,x"},
		{ID: "a", WindowID: 1, Index: 1, Title: "Inbox", URL: "https://mail.example.com", Active: true},
		{ID: "b", WindowID: 1, Index: 2, Title: "Docs", URL: "https://docs.example.com"},
	}
	if len(got) != len(want) {
		t.Fatalf("Query() = %+v; want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tab[%d] = %+v; want %+v", i, got[i], want[i])
		}
	}
	if n := len(fb.requestsFor("Runtime.addBinding")); n != 3 {
		t.Fatalf("Runtime.addBinding calls = %d; want 3", n)
	}

	active, err := p.Query(context.Background(), tabs.ActiveOnly())
	if err != nil {
		t.Fatalf("Query(active) = %v", err)
	}
	if len(active) != 2 || active[0].ID != "a" || active[1].ID != "o" {
		t.Fatalf("Query(active) = %+v; want tabs a and o", active)
	}
}

func TestGetReportsMissingTab(t *testing.T) {
	targets := []map[string]any{{"id": "a", "type": "page", "title": "Inbox", "url": "https://mail.example.com"}}
	p, _ := newTestProvider(t, listHandler(t, targets), browserHandler(map[string]int64{"a": 1}, nil))

	tab, err := p.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("Get(a) = %v", err)
	}
	if tab.WindowID != 1 || tab.Title != "Inbox" {
		t.Fatalf("Get(a) = %+v", tab)
	}
	if _, err := p.Get(context.Background(), "gone"); !tabs.HasCode(err, tabs.CodeTabNotFound) {
		t.Fatalf("Get(gone) error = %v; want %s", err, tabs.CodeTabNotFound)
	}
}

func TestSetTitleAssignsDocumentTitle(t *testing.T) {
	p, fb := newTestProvider(t, listHandler(t, nil), browserHandler(map[string]int64{"a": 1}, nil))

	if err := p.SetTitle(context.Background(), "a", `Work "Inbox"`); err != nil {
		t.Fatalf("SetTitle() = %v", err)
	}
	var found bool
	for _, req := range fb.requestsFor("Runtime.evaluate") {
		var params struct {
			Expression string `json:"expression"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			t.Fatalf("unmarshal params: %v", err)
		}
		if strings.Contains(params.Expression, `document.title = "Work \"Inbox\""`) {
			found = true
			if req.SessionID != "s-a" {
				t.Fatalf("session = %q; want %q", req.SessionID, "s-a")
			}
		}
	}
	if !found {
		t.Fatal("no Runtime.evaluate assigning document.title")
	}
}

func TestRemoveMapsMissingTarget(t *testing.T) {
	p, _ := newTestProvider(t, listHandler(t, nil), browserHandler(map[string]int64{"a": 1}, nil))

	if err := p.Remove(context.Background(), "a"); err != nil {
		t.Fatalf("Remove(a) = %v", err)
	}
	err := p.Remove(context.Background(), "gone")
	if !tabs.HasCode(err, tabs.CodeTabNotFound) {
		t.Fatalf("Remove(gone) error = %v; want %s", err, tabs.CodeTabNotFound)
	}
}

func TestCreateOpensTarget(t *testing.T) {
	p, fb := newTestProvider(t, listHandler(t, nil), browserHandler(map[string]int64{"new": 3}, nil))

	tab, err := p.Create(context.Background(), tabs.CreateOptions{URL: "data:text/html,x", WindowID: 3, Background: true})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if tab.ID != "new" || tab.WindowID != 3 || tab.Active {
		t.Fatalf("Create() = %+v", tab)
	}
	reqs := fb.requestsFor("Target.createTarget")
	if len(reqs) != 1 {
		t.Fatalf("Target.createTarget calls = %d; want 1", len(reqs))
	}
	var params struct {
		URL        string `json:"url"`
		Background bool   `json:"background"`
	}
	if err := json.Unmarshal(reqs[0].Params, &params); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if params.URL != "data:text/html,x" || !params.Background {
		t.Fatalf("createTarget params = %+v", params)
	}
}

func TestEventsTranslateTargetLifecycle(t *testing.T) {
	windows := map[string]int64{"a": 4}
	p, fb := newTestProvider(t, listHandler(t, nil), browserHandler(windows, nil))
	p.unreg = append(p.unreg,
		p.cdp.onEvent("Target.targetCreated", func(sid string, params json.RawMessage) {
			p.enqueue(rawEvent{method: "Target.targetCreated", sessionID: sid, params: params})
		}),
		p.cdp.onEvent("Target.targetDestroyed", func(sid string, params json.RawMessage) {
			p.enqueue(rawEvent{method: "Target.targetDestroyed", sessionID: sid, params: params})
		}),
	)
	go p.translate()
	t.Cleanup(func() { _ = p.Close() })

	fb.emit("Target.targetCreated", "", map[string]any{
		"targetInfo": map[string]any{"targetId": "a", "type": "page", "title": "Inbox", "url": "https://mail.example.com"},
	})
	evt := nextEvent(t, p.Events())
	if evt.Kind != tabs.EventCreated || evt.TabID != "a" || evt.WindowID != 4 {
		t.Fatalf("event = %+v; want created a in window 4", evt)
	}

	fb.emit("Target.targetDestroyed", "", map[string]any{"targetId": string(target.ID("a"))})
	evt = nextEvent(t, p.Events())
	if evt.Kind != tabs.EventRemoved || evt.TabID != "a" || evt.WindowID != 4 {
		t.Fatalf("event = %+v; want removed a from window 4", evt)
	}
}

func nextEvent(t *testing.T, ch <-chan tabs.Event) tabs.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tab event")
	}
	return tabs.Event{}
}

// titleHandler reports loading for the first reads of document.title, then
// title. Other commands fall through to browserHandler.
func titleHandler(windows map[string]int64, loadingReads int, title string) func(req fakeRequest) (any, string) {
	base := browserHandler(windows, nil)
	var mu sync.Mutex
	reads := 0
	return func(req fakeRequest) (any, string) {
		var params struct {
			Expression string `json:"expression"`
		}
		_ = json.Unmarshal(req.Params, &params)
		if req.Method != "Runtime.evaluate" || params.Expression != "document.title" {
			return base(req)
		}
		mu.Lock()
		reads++
		n := reads
		mu.Unlock()
		value := "data:text/html,..."
		if n > loadingReads {
			value = title
		}
		return map[string]any{"result": map[string]any{"type": "string", "value": value}}, ""
	}
}

func TestWaitForTitleKeepsTabOpen(t *testing.T) {
	p, fb := newTestProvider(t, listHandler(t, nil), titleHandler(map[string]int64{"m": 1}, 2, "[Work]"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.WaitForTitle(ctx, "m", "[Work]"); err != nil {
		t.Fatalf("WaitForTitle() = %v", err)
	}

	var reads int
	for _, req := range fb.requestsFor("Runtime.evaluate") {
		var params struct {
			Expression string `json:"expression"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			t.Fatalf("unmarshal params: %v", err)
		}
		if params.Expression != "document.title" {
			continue
		}
		reads++
		if req.SessionID != "s-m" {
			t.Fatalf("session = %q; want %q", req.SessionID, "s-m")
		}
	}
	if reads != 3 {
		t.Fatalf("document.title reads = %d; want 3", reads)
	}
	for _, method := range []string{"Target.closeTarget", "Target.detachFromTarget"} {
		if n := len(fb.requestsFor(method)); n != 0 {
			t.Fatalf("%s calls = %d; want 0", method, n)
		}
	}
}

func TestWaitForTitleTimesOut(t *testing.T) {
	p, fb := newTestProvider(t, listHandler(t, nil), titleHandler(map[string]int64{"m": 1}, 1000, "[Work]"))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := p.WaitForTitle(ctx, "m", "[Work]")
	if !tabs.HasCode(err, tabs.CodeEvalTimeout) {
		t.Fatalf("WaitForTitle() error = %v; want %s", err, tabs.CodeEvalTimeout)
	}
	if n := len(fb.requestsFor("Target.closeTarget")); n != 0 {
		t.Fatalf("Target.closeTarget calls = %d; want 0", n)
	}
}

func TestCreateFocusesRequestedWindow(t *testing.T) {
	targets := []map[string]any{
		{"id": "a", "type": "page", "title": "Inbox", "url": "https://mail.example.com"},
		{"id": "b", "type": "page", "title": "Docs", "url": "https://docs.example.com"},
	}
	windows := map[string]int64{"a": 3, "b": 3, "new": 3}
	p, fb := newTestProvider(t, listHandler(t, targets), browserHandler(windows, map[string]bool{"b": true}))

	if _, err := p.Create(context.Background(), tabs.CreateOptions{URL: "data:text/html,x", WindowID: 3, Background: true}); err != nil {
		t.Fatalf("Create() = %v", err)
	}

	fb.mu.Lock()
	var order []string
	for _, req := range fb.requests {
		if req.Method == "Target.activateTarget" || req.Method == "Target.createTarget" {
			order = append(order, req.Method)
		}
	}
	fb.mu.Unlock()
	if strings.Join(order, ",") != "Target.activateTarget,Target.createTarget" {
		t.Fatalf("command order = %q; want activate before create", order)
	}

	var params struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(fb.requestsFor("Target.activateTarget")[0].Params, &params); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if params.TargetID != "b" {
		t.Fatalf("activated target = %q; want the visible tab %q", params.TargetID, "b")
	}
}
