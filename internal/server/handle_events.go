package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/arcanadesk/tarot/internal/i18n"
	"github.com/arcanadesk/tarot/internal/reading"
)

func handleEvents(sessions *reading.Manager, broker *Broker, tr *i18n.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := ownedSession(r, sessions)
		if !ok {
			writeError(w, http.StatusNotFound, "reading not found")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		ch := broker.Subscribe(s.ID())
		defer broker.Unsubscribe(s.ID(), ch)

		// Current state first, so the client never waits for a change.
		resp := newReadingResponse(s.Snapshot(), tr)
		initial, _ := json.Marshal(Event{Type: "state", Reading: &resp})
		fmt.Fprintf(w, "event: state\ndata: %s\n\n", initial)
		flusher.Flush()

		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case data := <-ch:
				var ev Event
				_ = json.Unmarshal(data, &ev)
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
				flusher.Flush()
				if ev.Type == "closed" {
					return
				}
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}
