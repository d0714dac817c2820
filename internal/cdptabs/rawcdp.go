package cdptabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var errNotConnected = errors.New("rawcdp: not connected")

// rawCDP speaks the DevTools protocol over a single browser-level WebSocket.
// Page commands travel on flat sessions (sessionId in the outer envelope).
type rawCDP struct {
	httpBase string
	client   *http.Client

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan json.RawMessage

	eventMu       sync.RWMutex
	eventHandlers map[string][]eventHandler
}

type eventHandler struct {
	id int64
	fn func(sessionID string, params json.RawMessage)
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newRawCDP(httpBase string) *rawCDP {
	return &rawCDP{
		httpBase:      strings.TrimRight(httpBase, "/"),
		pending:       make(map[int64]chan json.RawMessage),
		eventHandlers: make(map[string][]eventHandler),
	}
}

func (r *rawCDP) httpClient() *http.Client {
	if r.client != nil {
		return r.client
	}
	return http.DefaultClient
}

func (r *rawCDP) connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return nil
	}

	wsURL, err := r.browserWSURL(ctx)
	if err != nil {
		return fmt.Errorf("rawcdp: browser ws url: %w", err)
	}

	slog.Debug("rawcdp connecting", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("rawcdp: dial: %w", err)
	}
	r.conn = conn
	r.pending = make(map[int64]chan json.RawMessage)
	go r.readLoop(conn)
	return nil
}

func (r *rawCDP) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			slog.Debug("rawcdp close failed", "error", err)
		}
		r.conn = nil
	}
}

func (r *rawCDP) connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

func (r *rawCDP) readLoop(conn net.Conn) {
	defer r.closeAllPending()
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("rawcdp read loop exit", "error", err)
			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
			}
			r.mu.Unlock()
			return
		}

		var msg struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		switch {
		case msg.ID > 0:
			r.pendingMu.Lock()
			ch, ok := r.pending[msg.ID]
			delete(r.pending, msg.ID)
			r.pendingMu.Unlock()
			if ok {
				ch <- json.RawMessage(data)
			}
		case msg.Method != "":
			r.dispatchEvent(msg.Method, msg.SessionID, msg.Params)
		}
	}
}

func (r *rawCDP) closeAllPending() {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	for id, ch := range r.pending {
		close(ch)
		delete(r.pending, id)
	}
}

// call sends method on sessionID ("" for the browser session), waits for the
// reply and decodes its result into out when out is non-nil.
func (r *rawCDP) call(ctx context.Context, sessionID, method string, params, out any) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}

	id := r.seq.Add(1)
	req := struct {
		ID        int64  `json:"id"`
		Method    string `json:"method"`
		SessionID string `json:"sessionId,omitempty"`
		Params    any    `json:"params,omitempty"`
	}{ID: id, Method: method, SessionID: sessionID, Params: params}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("rawcdp: marshal %s: %w", method, err)
	}

	ch := make(chan json.RawMessage, 1)
	r.pendingMu.Lock()
	r.pending[id] = ch
	r.pendingMu.Unlock()

	r.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	r.mu.Unlock()
	if err != nil {
		r.dropPending(id)
		return fmt.Errorf("rawcdp: send %s: %w", method, err)
	}

	var raw json.RawMessage
	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("rawcdp: %s: connection closed", method)
		}
		raw = resp
	case <-ctx.Done():
		r.dropPending(id)
		return ctx.Err()
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *cdpError       `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("rawcdp: unmarshal %s: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("rawcdp: %s: %s", method, envelope.Error.Message)
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("rawcdp: decode %s: %w", method, err)
	}
	return nil
}

func (r *rawCDP) dropPending(id int64) {
	r.pendingMu.Lock()
	delete(r.pending, id)
	r.pendingMu.Unlock()
}

func (r *rawCDP) attachToTarget(ctx context.Context, id target.ID) (string, error) {
	params := struct {
		TargetID target.ID `json:"targetId"`
		Flatten  bool      `json:"flatten"`
	}{TargetID: id, Flatten: true}
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := r.call(ctx, "", "Target.attachToTarget", params, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

func (r *rawCDP) detachFromTarget(ctx context.Context, sessionID string) error {
	params := struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sessionID}
	return r.call(ctx, "", "Target.detachFromTarget", params, nil)
}

func (r *rawCDP) createTarget(ctx context.Context, rawURL string, background bool) (target.ID, error) {
	params := struct {
		URL        string `json:"url"`
		Background bool   `json:"background,omitempty"`
	}{URL: rawURL, Background: background}
	var out struct {
		TargetID target.ID `json:"targetId"`
	}
	if err := r.call(ctx, "", "Target.createTarget", params, &out); err != nil {
		return "", err
	}
	return out.TargetID, nil
}

func (r *rawCDP) closeTarget(ctx context.Context, id target.ID) error {
	params := struct {
		TargetID target.ID `json:"targetId"`
	}{TargetID: id}
	return r.call(ctx, "", "Target.closeTarget", params, nil)
}

func (r *rawCDP) activateTarget(ctx context.Context, id target.ID) error {
	params := struct {
		TargetID target.ID `json:"targetId"`
	}{TargetID: id}
	return r.call(ctx, "", "Target.activateTarget", params, nil)
}

func (r *rawCDP) setDiscoverTargets(ctx context.Context, discover bool) error {
	params := struct {
		Discover bool `json:"discover"`
	}{Discover: discover}
	return r.call(ctx, "", "Target.setDiscoverTargets", params, nil)
}

func (r *rawCDP) windowForTarget(ctx context.Context, id target.ID) (browser.WindowID, error) {
	params := struct {
		TargetID target.ID `json:"targetId"`
	}{TargetID: id}
	var out struct {
		WindowID browser.WindowID `json:"windowId"`
	}
	if err := r.call(ctx, "", "Browser.getWindowForTarget", params, &out); err != nil {
		return 0, err
	}
	return out.WindowID, nil
}

// evaluate runs js in the session's main world and returns the by-value
// result as raw JSON.
func (r *rawCDP) evaluate(ctx context.Context, sessionID, js string) (json.RawMessage, error) {
	params := struct {
		Expression    string `json:"expression"`
		ReturnByValue bool   `json:"returnByValue"`
		AwaitPromise  bool   `json:"awaitPromise"`
	}{Expression: js, ReturnByValue: true, AwaitPromise: true}

	var out struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := r.call(ctx, sessionID, "Runtime.evaluate", params, &out); err != nil {
		return nil, err
	}
	if out.ExceptionDetails != nil {
		return nil, fmt.Errorf("rawcdp: eval exception: %s", out.ExceptionDetails.Text)
	}
	return out.Result.Value, nil
}

// installBinding exposes name to page scripts and runs source in the current
// document and in every document loaded later in the session.
func (r *rawCDP) installBinding(ctx context.Context, sessionID, name, source string) error {
	if err := r.call(ctx, sessionID, "Runtime.enable", nil, nil); err != nil {
		return err
	}
	binding := struct {
		Name string `json:"name"`
	}{Name: name}
	if err := r.call(ctx, sessionID, "Runtime.addBinding", binding, nil); err != nil {
		return err
	}
	script := struct {
		Source string `json:"source"`
	}{Source: source}
	if err := r.call(ctx, sessionID, "Page.addScriptToEvaluateOnNewDocument", script, nil); err != nil {
		return err
	}
	_, err := r.evaluate(ctx, sessionID, source)
	return err
}

// listTargets fetches open targets via the HTTP /json/list endpoint, in the
// order the browser reports them.
func (r *rawCDP) listTargets(ctx context.Context) ([]*target.Info, error) {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(listCtx, http.MethodGet, r.httpBase+"/json/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rawcdp: /json/list: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}

	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{
			TargetID: target.ID(e.ID),
			Type:     e.Type,
			Title:    e.Title,
			URL:      e.URL,
		})
	}
	return out, nil
}

// browserWSURL fetches the WebSocket debugger URL from /json/version.
func (r *rawCDP) browserWSURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.httpBase+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := r.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rawcdp: /json/version: HTTP %d", resp.StatusCode)
	}

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", errors.New("empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}

// onEvent registers fn for a CDP event method and returns its unregister func.
// Handlers run on the read loop and must not issue commands themselves.
func (r *rawCDP) onEvent(method string, fn func(sessionID string, params json.RawMessage)) func() {
	id := r.seq.Add(1)
	r.eventMu.Lock()
	r.eventHandlers[method] = append(r.eventHandlers[method], eventHandler{id: id, fn: fn})
	r.eventMu.Unlock()
	return func() {
		r.eventMu.Lock()
		defer r.eventMu.Unlock()
		handlers := r.eventHandlers[method]
		for i, h := range handlers {
			if h.id == id {
				r.eventHandlers[method] = append(handlers[:i], handlers[i+1:]...)
				break
			}
		}
	}
}

func (r *rawCDP) dispatchEvent(method, sessionID string, params json.RawMessage) {
	r.eventMu.RLock()
	handlers := make([]eventHandler, len(r.eventHandlers[method]))
	copy(handlers, r.eventHandlers[method])
	r.eventMu.RUnlock()
	for _, h := range handlers {
		h.fn(sessionID, params)
	}
}
