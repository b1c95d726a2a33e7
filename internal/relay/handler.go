package relay

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const heartbeatInterval = 15 * time.Second

// SSEHandler streams broker events. ?feeds=capture,batch narrows the stream
// and a Last-Event-ID header (or ?since=) replays backlogged events first.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		feeds := feedSet(r.URL.Query().Get("feeds"))
		after := lastEventID(r)

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, events := broker.Subscribe(after)
		defer broker.Unsubscribe(id)

		ping := time.NewTicker(heartbeatInterval)
		defer ping.Stop()

		for {
			var err error
			select {
			case <-r.Context().Done():
				return
			case <-ping.C:
				_, err = fmt.Fprint(w, ": ping\n\n")
			case evt, open := <-events:
				if !open {
					return
				}
				if len(feeds) > 0 && !feeds[evt.Feed] {
					continue
				}
				_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Feed, evt.Payload)
			}
			if err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func lastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("since")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func feedSet(q string) map[string]bool {
	feeds := map[string]bool{}
	for _, f := range strings.Split(q, ",") {
		if f = strings.TrimSpace(f); f != "" {
			feeds[f] = true
		}
	}
	return feeds
}
