package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dgnsrekt/titlesync/internal/controller"
	"github.com/dgnsrekt/titlesync/internal/titlesync"
)

// Client talks to the titlesync control API.
type Client struct {
	base string
	http *http.Client
}

func NewClient(base string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: base, http: httpClient}
}

// APIError is a non-2xx response from the control API.
type APIError struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%d)", e.Detail, e.Status)
	}
	return fmt.Sprintf("%s (%d)", e.Title, e.Status)
}

func (c *Client) Windows(ctx context.Context) ([]controller.WindowInfo, error) {
	var out struct {
		Windows []controller.WindowInfo `json:"windows"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/windows", nil, &out)
	return out.Windows, err
}

func (c *Client) ActiveWindow(ctx context.Context) (controller.WindowInfo, error) {
	var out controller.WindowInfo
	err := c.do(ctx, http.MethodGet, "/api/v1/windows/active", nil, &out)
	return out, err
}

func (c *Client) SetTitle(ctx context.Context, window int64, label string) (controller.WindowInfo, error) {
	var out controller.WindowInfo
	body := map[string]string{"label": label}
	err := c.do(ctx, http.MethodPut, windowPath(window)+"/title", body, &out)
	return out, err
}

func (c *Client) ClearTitle(ctx context.Context, window int64) (bool, error) {
	var out struct {
		Removed bool `json:"removed"`
	}
	err := c.do(ctx, http.MethodDelete, windowPath(window)+"/title", nil, &out)
	return out.Removed, err
}

// Sync scans window, or every window when window is 0.
func (c *Client) Sync(ctx context.Context, window int64) ([]titlesync.Mutation, error) {
	path := "/api/v1/sync"
	if window != 0 {
		path += "?" + url.Values{"window_id": {strconv.FormatInt(window, 10)}}.Encode()
	}
	var out struct {
		Mutations []titlesync.Mutation `json:"mutations"`
	}
	err := c.do(ctx, http.MethodPost, path, nil, &out)
	return out.Mutations, err
}

func (c *Client) Presets(ctx context.Context) ([]string, error) {
	var out struct {
		Presets []string `json:"presets"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/presets", nil, &out)
	return out.Presets, err
}

func windowPath(window int64) string {
	return "/api/v1/windows/" + strconv.FormatInt(window, 10)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("titlesync unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || (apiErr.Title == "" && apiErr.Detail == "") {
			apiErr.Title = http.StatusText(resp.StatusCode)
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
