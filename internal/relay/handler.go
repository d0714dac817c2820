package relay

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const heartbeatInterval = 15 * time.Second

// SSEHandler streams relay events as Server-Sent Events. Clients may narrow
// the stream with ?feeds=mutation,marker.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		feeds := parseFeeds(r.URL.Query().Get("feeds"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if feeds != nil && !feeds[evt.Feed] {
					continue
				}
				fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Feed, evt.Payload)
				flusher.Flush()
			}
		}
	}
}

// parseFeeds returns nil when every feed is wanted.
func parseFeeds(raw string) map[string]bool {
	var out map[string]bool
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f == "" {
			continue
		}
		if out == nil {
			out = make(map[string]bool)
		}
		out[f] = true
	}
	return out
}
