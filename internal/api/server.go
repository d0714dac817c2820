package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/titlesync/internal/controller"
	"github.com/dgnsrekt/titlesync/internal/relay"
	"github.com/dgnsrekt/titlesync/internal/tabs"
	"github.com/dgnsrekt/titlesync/internal/titlesync"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Service interface {
	ListWindows(ctx context.Context) ([]controller.WindowInfo, error)
	GetWindow(ctx context.Context, window tabs.WindowID) (controller.WindowInfo, error)
	ActiveWindow(ctx context.Context) (controller.WindowInfo, error)
	ListTabs(ctx context.Context, window tabs.WindowID) ([]controller.TabView, error)
	SetTitle(ctx context.Context, window tabs.WindowID, label string) (controller.WindowInfo, error)
	ClearTitle(ctx context.Context, window tabs.WindowID) (bool, error)
	Sync(ctx context.Context, window *tabs.WindowID) ([]titlesync.Mutation, error)
	Stats(ctx context.Context) (map[string]int64, error)
	Presets() []string
}

type windowIDInput struct {
	WindowID int64 `path:"window_id" doc:"Browser window id"`
}

type windowOutput struct {
	Body controller.WindowInfo
}

// NewServer builds the HTTP control surface. broker may be nil, in which case
// the event stream is not mounted.
func NewServer(svc Service, broker *relay.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("titlesync API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		writeHTML(w, docsHTML)
	})
	router.Get("/docs/events", func(w http.ResponseWriter, r *http.Request) {
		writeHTML(w, eventsDocsHTML)
	})
	if broker != nil {
		router.Get("/api/v1/events", relay.SSEHandler(broker))
	}

	registerWindowHandlers(api, svc)
	registerMiscHandlers(api, svc, broker)

	return router
}

func writeHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := w.Write([]byte(body)); err != nil {
		slog.Debug("docs response write failed", "error", err)
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *tabs.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case tabs.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case tabs.CodeTabNotFound, tabs.CodeWindowNotFound:
			return huma.Error404NotFound(coded.Message)
		case tabs.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case tabs.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
