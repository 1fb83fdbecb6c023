package server

import (
	"net/http"

	"github.com/arcanadesk/tarot/internal/i18n"
	"github.com/arcanadesk/tarot/internal/reading"
	"github.com/arcanadesk/tarot/internal/tarot"
)

// PhaseInfo is one entry of GET /api/phases.
type PhaseInfo struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
	Label string `json:"label"`
}

// PhasesResponse is the response for GET /api/phases.
type PhasesResponse struct {
	Lang   string      `json:"lang"`
	Phases []PhaseInfo `json:"phases"`
}

func handleSpreads(catalog *tarot.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spreads, err := catalog.Spreads()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, spreads)
	}
}

func handlePhases(tr *i18n.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lang := requestLang(r, tr)
		resp := PhasesResponse{Lang: lang}
		for _, p := range reading.Phases() {
			resp.Phases = append(resp.Phases, PhaseInfo{
				ID:    p.String(),
				Order: p.Order(),
				Label: tr.T(lang, "phase."+p.String()),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
