package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/arcanadesk/tarot/internal/i18n"
	"github.com/arcanadesk/tarot/internal/reading"
)

// hub connects reading sessions to their subscribers and to history.
type hub struct {
	logger  *slog.Logger
	broker  *Broker
	history *HistoryStore
	tr      *i18n.Catalog
}

func newHub(logger *slog.Logger, broker *Broker, history *HistoryStore, tr *i18n.Catalog) *hub {
	return &hub{logger: logger, broker: broker, history: history, tr: tr}
}

// changed publishes the new state and records readings that produced an
// interpretation.
func (h *hub) changed(s reading.Snapshot) {
	resp := newReadingResponse(s, h.tr)
	h.broker.Publish(s.ID, Event{Type: "state", Reading: &resp})

	if s.Phase != reading.PhaseReading || s.Interpretation == nil || s.Pending {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.history.Save(ctx, s); err != nil {
		h.logger.Error("saving reading", "session_id", s.ID, "error", err)
	}
}

// reset tells subscribers that state produced after target was dropped.
// It runs under the session lock and must not block.
func (h *hub) reset(target reading.Phase, before reading.Snapshot) {
	h.logger.Debug("reading reset", "session_id", before.ID, "from", before.Phase.String(), "to", target.String())
	h.broker.Publish(before.ID, Event{Type: "reset", Target: target.String(), From: before.Phase.String()})
}

func (h *hub) discarded(s *reading.Session) {
	h.broker.Publish(s.ID(), Event{Type: "closed"})
}
