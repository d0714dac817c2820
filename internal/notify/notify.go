// Package notify posts window label changes to an ntfy style endpoint.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dgnsrekt/titlesync/internal/relay"
)

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	if strings.TrimSpace(endpoint) == "" {
		return errors.New("ntfy endpoint is required")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", "titlesync")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}

type markerChange struct {
	Action   string `json:"action"`
	WindowID int64  `json:"window_id"`
	Label    string `json:"label"`
}

// Message renders a marker feed payload, reporting false for payloads that
// are not label changes.
func Message(payload string) (string, bool) {
	var c markerChange
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return "", false
	}
	switch c.Action {
	case "set":
		return fmt.Sprintf("Window %d is now [%s]", c.WindowID, c.Label), true
	case "clear":
		return fmt.Sprintf("Window %d is no longer [%s]", c.WindowID, c.Label), true
	}
	return "", false
}

// Forward posts every marker change published on broker to endpoint until ctx
// is done. Delivery failures are logged and dropped.
func Forward(ctx context.Context, broker *relay.Broker, client *http.Client, endpoint string) {
	id, events := broker.Subscribe()
	defer broker.Unsubscribe(id)
	slog.Info("notify forwarding label changes", "endpoint", endpoint)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Feed != relay.FeedMarker {
				continue
			}
			msg, ok := Message(evt.Payload)
			if !ok {
				continue
			}
			if err := Send(ctx, client, endpoint, msg); err != nil {
				slog.Warn("notify send failed", "endpoint", endpoint, "error", err)
			}
		}
	}
}
