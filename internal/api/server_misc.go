package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/titlesync/internal/relay"
	"github.com/dgnsrekt/titlesync/internal/tabs"
	"github.com/dgnsrekt/titlesync/internal/titlesync"
)

func registerMiscHandlers(api huma.API, svc Service, broker *relay.Broker) {
	type healthOutput struct {
		Body struct {
			Status  string `json:"status"`
			Windows int    `json:"windows"`
			Error   string `json:"error,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/api/v1/health", Summary: "Health check", Description: "Reports \"degraded\" while the browser cannot be queried.", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			windows, err := svc.ListWindows(ctx)
			if err != nil {
				out.Body.Status = "degraded"
				out.Body.Error = err.Error()
				return out, nil
			}
			out.Body.Status = "ok"
			out.Body.Windows = len(windows)
			return out, nil
		})

	type syncOutput struct {
		Body struct {
			Mutations []titlesync.Mutation `json:"mutations"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "sync", Method: http.MethodPost, Path: "/api/v1/sync", Summary: "Apply the title rule now", Tags: []string{"Title"}},
		func(ctx context.Context, input *struct {
			WindowID int64 `query:"window_id" doc:"Window to scan. Omit to scan every window."`
		}) (*syncOutput, error) {
			var window *tabs.WindowID
			if input.WindowID != 0 {
				w := tabs.WindowID(input.WindowID)
				window = &w
			}
			mutations, err := svc.Sync(ctx, window)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &syncOutput{}
			out.Body.Mutations = mutations
			if out.Body.Mutations == nil {
				out.Body.Mutations = []titlesync.Mutation{}
			}
			return out, nil
		})

	type statsOutput struct {
		Body struct {
			Counters    map[string]int64 `json:"counters"`
			Subscribers int              `json:"subscribers"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-stats", Method: http.MethodGet, Path: "/api/v1/stats", Summary: "Synchronizer counters", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*statsOutput, error) {
			counters, err := svc.Stats(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &statsOutput{}
			out.Body.Counters = counters
			if broker != nil {
				out.Body.Subscribers = broker.ClientCount()
			}
			return out, nil
		})

	type presetsOutput struct {
		Body struct {
			Presets []string `json:"presets"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-presets", Method: http.MethodGet, Path: "/api/v1/presets", Summary: "Configured label presets", Tags: []string{"Title"}},
		func(ctx context.Context, input *struct{}) (*presetsOutput, error) {
			out := &presetsOutput{}
			out.Body.Presets = svc.Presets()
			return out, nil
		})
}
