package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/titlesync/internal/controller"
	"github.com/dgnsrekt/titlesync/internal/tabs"
)

func registerWindowHandlers(api huma.API, svc Service) {
	type listWindowsOutput struct {
		Body struct {
			Windows []controller.WindowInfo `json:"windows"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-windows", Method: http.MethodGet, Path: "/api/v1/windows", Summary: "List browser windows with their labels", Tags: []string{"Windows"}},
		func(ctx context.Context, input *struct{}) (*listWindowsOutput, error) {
			windows, err := svc.ListWindows(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listWindowsOutput{}
			out.Body.Windows = windows
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-active-window", Method: http.MethodGet, Path: "/api/v1/windows/active", Summary: "Get the window holding the active tab", Tags: []string{"Windows"}},
		func(ctx context.Context, input *struct{}) (*windowOutput, error) {
			info, err := svc.ActiveWindow(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &windowOutput{Body: info}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-window", Method: http.MethodGet, Path: "/api/v1/windows/{window_id}", Summary: "Get one window", Tags: []string{"Windows"}},
		func(ctx context.Context, input *windowIDInput) (*windowOutput, error) {
			info, err := svc.GetWindow(ctx, tabs.WindowID(input.WindowID))
			if err != nil {
				return nil, mapErr(err)
			}
			return &windowOutput{Body: info}, nil
		})

	type listTabsOutput struct {
		Body struct {
			WindowID int64                `json:"window_id"`
			Tabs     []controller.TabView `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/windows/{window_id}/tabs", Summary: "List tabs with their current and desired titles", Tags: []string{"Windows"}},
		func(ctx context.Context, input *windowIDInput) (*listTabsOutput, error) {
			views, err := svc.ListTabs(ctx, tabs.WindowID(input.WindowID))
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listTabsOutput{}
			out.Body.WindowID = input.WindowID
			out.Body.Tabs = views
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "set-window-title", Method: http.MethodPut, Path: "/api/v1/windows/{window_id}/title", Summary: "Name a window by opening a marker tab", Tags: []string{"Title"}},
		func(ctx context.Context, input *struct {
			WindowID int64 `path:"window_id"`
			Body     struct {
				Label string `json:"label" required:"true" doc:"Window label, shown as the marker tab title [label]"`
			}
		}) (*windowOutput, error) {
			info, err := svc.SetTitle(ctx, tabs.WindowID(input.WindowID), input.Body.Label)
			if err != nil {
				return nil, mapErr(err)
			}
			return &windowOutput{Body: info}, nil
		})

	type clearTitleOutput struct {
		Body struct {
			WindowID int64 `json:"window_id"`
			Removed  bool  `json:"removed"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "clear-window-title", Method: http.MethodDelete, Path: "/api/v1/windows/{window_id}/title", Summary: "Remove the marker tab of a window", Tags: []string{"Title"}},
		func(ctx context.Context, input *windowIDInput) (*clearTitleOutput, error) {
			removed, err := svc.ClearTitle(ctx, tabs.WindowID(input.WindowID))
			if err != nil {
				return nil, mapErr(err)
			}
			out := &clearTitleOutput{}
			out.Body.WindowID = input.WindowID
			out.Body.Removed = removed
			return out, nil
		})
}
