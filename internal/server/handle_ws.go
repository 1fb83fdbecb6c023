package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/arcanadesk/tarot/internal/i18n"
	"github.com/arcanadesk/tarot/internal/reading"
)

// WSMessage is sent to WebSocket clients: a broker event, or an error for
// the action with the same Ref.
type WSMessage struct {
	Type    string           `json:"type"`
	Ref     string           `json:"ref,omitempty"`
	Reading *ReadingResponse `json:"reading,omitempty"`
	Error   *ErrorResponse   `json:"error,omitempty"`
	Target  string           `json:"target,omitempty"`
	From    string           `json:"from,omitempty"`
}

// WSAction is an ActionRequest with a client reference echoed in errors.
type WSAction struct {
	ActionRequest
	Ref string `json:"ref,omitempty"`
}

// handleReadingWS accepts actions and streams state on one connection.
// Actions run concurrently so that a navigation can cancel a pending
// interpretation. Browsers on other origins are refused unless their host
// matches one of originPatterns.
func handleReadingWS(logger *slog.Logger, sessions *reading.Manager, broker *Broker, tr *i18n.Catalog, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := ownedSession(r, sessions)
		if !ok {
			writeError(w, http.StatusNotFound, "reading not found")
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept failed", "origin", r.Header.Get("Origin"), "error", err)
			return
		}
		defer conn.CloseNow()

		ch := broker.Subscribe(s.ID())
		defer broker.Unsubscribe(s.ID(), ch)

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
		defer cancel()

		resp := newReadingResponse(s.Snapshot(), tr)
		if err := wsjson.Write(ctx, conn, WSMessage{Type: "state", Reading: &resp}); err != nil {
			return
		}

		g, gctx := errgroup.WithContext(ctx)
		lang := s.Snapshot().Lang

		g.Go(func() error {
			for {
				var msg WSAction
				if err := wsjson.Read(gctx, conn, &msg); err != nil {
					return err
				}
				g.Go(func() error {
					err := dispatch(gctx, sessions, s, msg.ActionRequest)
					if err == nil {
						return nil
					}
					out := WSMessage{Type: "error", Ref: msg.Ref}
					if errors.Is(err, errUnknownAction) {
						out.Error = &ErrorResponse{Error: err.Error()}
					} else {
						status, body := readingError(err, tr, lang)
						if status >= http.StatusInternalServerError {
							logger.Error("reading action failed", "session_id", s.ID(), "error", err)
						}
						out.Error = &body
					}
					return wsjson.Write(gctx, conn, out)
				})
			}
		})

		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case data := <-ch:
					var ev Event
					if err := json.Unmarshal(data, &ev); err != nil {
						return err
					}
					out := WSMessage{Type: ev.Type, Reading: ev.Reading, Target: ev.Target, From: ev.From}
					if err := wsjson.Write(gctx, conn, out); err != nil {
						return err
					}
					if ev.Type == "closed" {
						conn.Close(websocket.StatusNormalClosure, "reading closed")
						return nil
					}
				}
			}
		})

		err = g.Wait()
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
			return
		}
		logger.Debug("websocket ended", "session_id", s.ID(), "error", err)
	}
}
