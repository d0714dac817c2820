package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dgnsrekt/titlesync/internal/controller"
	"github.com/dgnsrekt/titlesync/internal/relay"
	"github.com/dgnsrekt/titlesync/internal/tabs"
	"github.com/dgnsrekt/titlesync/internal/titlesync"
)

type stubService struct {
	err       error
	lastLabel string
	synced    *tabs.WindowID
	syncAll   bool
}

func (s *stubService) ListWindows(ctx context.Context) ([]controller.WindowInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []controller.WindowInfo{{WindowID: 1, Label: "Work", TabCount: 2}}, nil
}
func (s *stubService) GetWindow(ctx context.Context, window tabs.WindowID) (controller.WindowInfo, error) {
	if s.err != nil {
		return controller.WindowInfo{}, s.err
	}
	return controller.WindowInfo{WindowID: window}, nil
}
func (s *stubService) ActiveWindow(ctx context.Context) (controller.WindowInfo, error) {
	return controller.WindowInfo{WindowID: 1}, s.err
}
func (s *stubService) ListTabs(ctx context.Context, window tabs.WindowID) ([]controller.TabView, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []controller.TabView{{ID: "a", WindowID: window, Title: "Mail", Desired: "Work Mail"}}, nil
}
func (s *stubService) SetTitle(ctx context.Context, window tabs.WindowID, label string) (controller.WindowInfo, error) {
	s.lastLabel = label
	if s.err != nil {
		return controller.WindowInfo{}, s.err
	}
	return controller.WindowInfo{WindowID: window, Label: label}, nil
}
func (s *stubService) ClearTitle(ctx context.Context, window tabs.WindowID) (bool, error) {
	return s.err == nil, s.err
}
func (s *stubService) Sync(ctx context.Context, window *tabs.WindowID) ([]titlesync.Mutation, error) {
	s.synced = window
	s.syncAll = window == nil
	return nil, s.err
}
func (s *stubService) Stats(ctx context.Context) (map[string]int64, error) {
	return map[string]int64{"titlesync.scans": 3}, s.err
}
func (s *stubService) Presets() []string { return []string{"Work"} }

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDocsDarkMode(t *testing.T) {
	w := do(t, NewServer(&stubService{}, nil), http.MethodGet, "/docs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `data-theme="dark"`) {
		t.Fatalf("docs missing dark theme marker")
	}
}

func TestEventsDocs(t *testing.T) {
	w := do(t, NewServer(&stubService{}, nil), http.MethodGet, "/docs/events", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/api/v1/events") {
		t.Fatalf("status = %d body = %q", w.Code, w.Body.String())
	}
}

func TestListWindows(t *testing.T) {
	w := do(t, NewServer(&stubService{}, nil), http.MethodGet, "/api/v1/windows", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Windows []controller.WindowInfo `json:"windows"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Windows) != 1 || body.Windows[0].Label != "Work" {
		t.Fatalf("windows = %+v", body.Windows)
	}
}

func TestSetTitle(t *testing.T) {
	svc := &stubService{}
	w := do(t, NewServer(svc, nil), http.MethodPut, "/api/v1/windows/7/title", `{"label":"Project X"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if svc.lastLabel != "Project X" {
		t.Fatalf("label = %q; want %q", svc.lastLabel, "Project X")
	}
}

func TestSyncWindowQuery(t *testing.T) {
	svc := &stubService{}
	h := NewServer(svc, nil)

	if w := do(t, h, http.MethodPost, "/api/v1/sync?window_id=4", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if svc.synced == nil || *svc.synced != 4 {
		t.Fatalf("synced = %v; want window 4", svc.synced)
	}

	if w := do(t, h, http.MethodPost, "/api/v1/sync", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if !svc.syncAll {
		t.Fatalf("sync without window_id did not scan every window")
	}
}

func TestHealthDegraded(t *testing.T) {
	svc := &stubService{err: tabs.NewError(tabs.CodeCDPUnavailable, "browser unreachable", nil)}
	w := do(t, NewServer(svc, nil), http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "degraded") {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{tabs.CodeValidation, http.StatusBadRequest},
		{tabs.CodeTabNotFound, http.StatusNotFound},
		{tabs.CodeWindowNotFound, http.StatusNotFound},
		{tabs.CodeCDPUnavailable, http.StatusBadGateway},
		{tabs.CodeEvalFailure, http.StatusInternalServerError},
		{tabs.CodeEvalTimeout, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		svc := &stubService{err: tabs.NewError(tt.code, "boom", nil)}
		w := do(t, NewServer(svc, nil), http.MethodGet, "/api/v1/windows/1/tabs", "")
		if w.Code != tt.want {
			t.Errorf("%s: status = %d; want %d", tt.code, w.Code, tt.want)
		}
	}

	svc := &stubService{err: errors.New("plain")}
	if w := do(t, NewServer(svc, nil), http.MethodGet, "/api/v1/windows/1/tabs", ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("plain error status = %d; want 500", w.Code)
	}
}

func TestStatsCountsStreamClients(t *testing.T) {
	broker := relay.NewBroker()
	id, _ := broker.Subscribe()
	defer broker.Unsubscribe(id)

	w := do(t, NewServer(&stubService{}, broker), http.MethodGet, "/api/v1/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Counters    map[string]int64 `json:"counters"`
		Subscribers int              `json:"subscribers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Subscribers != 1 || body.Counters["titlesync.scans"] != 3 {
		t.Fatalf("stats = %+v", body)
	}
}

func TestEventsRouteRequiresBroker(t *testing.T) {
	w := do(t, NewServer(&stubService{}, nil), http.MethodGet, "/api/v1/events", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d; want 404 without broker", w.Code)
	}
}
