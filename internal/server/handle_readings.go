package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arcanadesk/tarot/internal/i18n"
	"github.com/arcanadesk/tarot/internal/interpret"
	"github.com/arcanadesk/tarot/internal/reading"
	"github.com/arcanadesk/tarot/internal/tarot"
)

// StartReadingRequest is the request body for POST /api/readings.
type StartReadingRequest struct {
	SpreadID string `json:"spreadId"`
	DeckID   string `json:"deckId,omitempty"`
	Lang     string `json:"lang,omitempty"`
	Tone     string `json:"tone,omitempty"`
	Detailed bool   `json:"detailed,omitempty"`
}

// ActionRequest drives a reading. Question is used by begin and follow_up,
// Count by draw, All by reveal, Phase by navigate.
type ActionRequest struct {
	Action   string `json:"action"`
	Question string `json:"question,omitempty"`
	Count    int    `json:"count,omitempty"`
	All      bool   `json:"all,omitempty"`
	Phase    string `json:"phase,omitempty"`
}

var errUnknownAction = errors.New("unknown action")

type sessionSettings struct {
	minShuffle   time.Duration
	maxFollowUps int
}

func handleStartReading(sessions *reading.Manager, catalog *tarot.Catalog, tr *i18n.Catalog, h *hub, settings sessionSettings) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartReadingRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		lang := requestLang(r, tr)
		if req.Lang != "" {
			lang = tr.Resolve(req.Lang)
		}

		spread, err := catalog.Spread(req.SpreadID)
		if err != nil {
			writeJSON(w, http.StatusNotFound, ErrorResponse{
				Error: tr.T(lang, "reading.spreadNotFound"),
				Code:  "reading.spreadNotFound",
			})
			return
		}
		if req.DeckID == "" {
			req.DeckID = tarot.DefaultDeckID
		}
		if _, err := catalog.Deck(r.Context(), req.DeckID); err != nil {
			writeError(w, http.StatusBadRequest, "unknown deck")
			return
		}

		tone := interpret.Tone(req.Tone)
		switch tone {
		case "":
			tone = interpret.ToneNeutral
		case interpret.ToneNeutral, interpret.ToneGentle, interpret.ToneDirect:
		default:
			writeError(w, http.StatusBadRequest, "tone must be neutral, gentle or direct")
			return
		}

		s := sessions.Start(userFrom(r), reading.Options{
			Spread:       spread,
			DeckID:       req.DeckID,
			Lang:         lang,
			Style:        interpret.Style{Tone: tone, Detailed: req.Detailed},
			MinShuffle:   settings.minShuffle,
			MaxFollowUps: settings.maxFollowUps,
			OnReset:      h.reset,
			OnChange:     h.changed,
		})
		writeJSON(w, http.StatusCreated, newReadingResponse(s.Snapshot(), tr))
	}
}

// ownedSession returns the caller's live session with the {id} URL param.
func ownedSession(r *http.Request, sessions *reading.Manager) (*reading.Session, bool) {
	s, ok := sessions.Get(chi.URLParam(r, "id"))
	if !ok || s.UserID() != userFrom(r) {
		return nil, false
	}
	return s, true
}

func writeNotFound(w http.ResponseWriter, tr *i18n.Catalog, lang string) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{
		Error: tr.T(lang, "reading.notFound"),
		Code:  "reading.notFound",
	})
}

func handleCurrentReading(sessions *reading.Manager, tr *i18n.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := sessions.Current(userFrom(r))
		if !ok {
			writeNotFound(w, tr, requestLang(r, tr))
			return
		}
		writeJSON(w, http.StatusOK, newReadingResponse(s.Snapshot(), tr))
	}
}

func handleGetReading(sessions *reading.Manager, tr *i18n.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := ownedSession(r, sessions)
		if !ok {
			writeNotFound(w, tr, requestLang(r, tr))
			return
		}
		writeJSON(w, http.StatusOK, newReadingResponse(s.Snapshot(), tr))
	}
}

func handleExitReading(sessions *reading.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := ownedSession(r, sessions)
		if !ok {
			writeError(w, http.StatusNotFound, "reading not found")
			return
		}
		sessions.Remove(s.ID())
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleReadingAction(logger *slog.Logger, sessions *reading.Manager, tr *i18n.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := ownedSession(r, sessions)
		if !ok {
			writeNotFound(w, tr, requestLang(r, tr))
			return
		}

		var req ActionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		lang := s.Snapshot().Lang
		if err := dispatch(r.Context(), sessions, s, req); err != nil {
			if errors.Is(err, errUnknownAction) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeReadingError(w, logger, tr, lang, err)
			return
		}
		writeJSON(w, http.StatusOK, newReadingResponse(s.Snapshot(), tr))
	}
}

// dispatch applies one user action to the session. Leaving the flow also
// drops the session from the manager.
func dispatch(ctx context.Context, sessions *reading.Manager, s *reading.Session, req ActionRequest) error {
	switch req.Action {
	case "begin":
		return s.Begin(ctx, req.Question)
	case "stop_shuffle":
		return s.StopShuffle()
	case "draw":
		return s.DrawCards(ctx, req.Count)
	case "reveal":
		return s.Reveal(req.All)
	case "complete":
		return s.CompleteReveal(ctx)
	case "follow_up":
		return s.AskFollowUp(ctx, req.Question)
	case "navigate":
		p, err := reading.ParsePhase(req.Phase)
		if err != nil {
			return fmt.Errorf("%w: %w", reading.ErrNavigationRejected, err)
		}
		return s.NavigateTo(p)
	case "back":
		exited, err := s.Back()
		if exited {
			sessions.Remove(s.ID())
		}
		return err
	case "exit":
		sessions.Remove(s.ID())
		return nil
	default:
		return fmt.Errorf("%w %q", errUnknownAction, req.Action)
	}
}
