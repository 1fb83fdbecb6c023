package server

import (
	"time"

	"github.com/arcanadesk/tarot/internal/i18n"
	"github.com/arcanadesk/tarot/internal/interpret"
	"github.com/arcanadesk/tarot/internal/reading"
	"github.com/arcanadesk/tarot/internal/tarot"
)

// CardResponse is a card slot of the spread. Face-down cards carry only
// their position.
type CardResponse struct {
	Position     int               `json:"position"`
	PositionName string            `json:"positionName"`
	Revealed     bool              `json:"revealed"`
	ID           string            `json:"id,omitempty"`
	Name         string            `json:"name,omitempty"`
	Orientation  tarot.Orientation `json:"orientation,omitempty"`
	Meaning      string            `json:"meaning,omitempty"`
}

// StepResponse is one stepper entry with its localized label.
type StepResponse struct {
	Phase     string `json:"phase"`
	Label     string `json:"label"`
	Completed bool   `json:"completed"`
	Current   bool   `json:"current"`
	Future    bool   `json:"future"`
	Locked    bool   `json:"locked"`
	Clickable bool   `json:"clickable"`
}

// BackResponse says what the back control does.
type BackResponse struct {
	Exit  bool   `json:"exit"`
	Phase string `json:"phase,omitempty"`
}

// ReadingResponse is the client view of a live reading.
type ReadingResponse struct {
	ID             string             `json:"id"`
	Phase          string             `json:"phase"`
	CreditsSpent   bool               `json:"creditsSpent"`
	Question       string             `json:"question"`
	Spread         tarot.Spread       `json:"spread"`
	DeckID         string             `json:"deckId"`
	Lang           string             `json:"lang"`
	Cards          []CardResponse     `json:"cards"`
	Interpretation *interpret.Result  `json:"interpretation,omitempty"`
	FollowUps      []reading.FollowUp `json:"followUps"`
	FollowUpsLeft  int                `json:"followUpsLeft"`
	Pending        bool               `json:"pending"`
	Closed         bool               `json:"closed"`
	Version        uint64             `json:"version"`
	Steps          []StepResponse     `json:"steps"`
	Segments       []bool             `json:"segments"`
	Back           BackResponse       `json:"back"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

func newReadingResponse(s reading.Snapshot, tr *i18n.Catalog) ReadingResponse {
	resp := ReadingResponse{
		ID:             s.ID,
		Phase:          s.Phase.String(),
		CreditsSpent:   s.CreditsSpent,
		Question:       s.Question,
		Spread:         s.Spread,
		DeckID:         s.DeckID,
		Lang:           s.Lang,
		Cards:          make([]CardResponse, 0, s.Spread.CardCount()),
		Interpretation: s.Interpretation,
		FollowUps:      s.FollowUps,
		FollowUpsLeft:  s.FollowUpsLeft,
		Pending:        s.Pending,
		Closed:         s.Closed,
		Version:        s.Version,
		Steps:          make([]StepResponse, len(s.Stepper.Steps)),
		Segments:       s.Stepper.Segments,
		Back:           BackResponse{Exit: s.Back.Exit},
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	if resp.FollowUps == nil {
		resp.FollowUps = []reading.FollowUp{}
	}
	if !s.Back.Exit {
		resp.Back.Phase = s.Back.Phase.String()
	}

	for _, c := range s.Cards {
		cr := CardResponse{
			Position:     c.Position,
			PositionName: s.Spread.PositionName(c.Position),
			Revealed:     c.Revealed,
		}
		if c.Revealed {
			cr.ID = c.ID
			cr.Name = c.Name
			cr.Orientation = c.Orientation
			cr.Meaning = c.Meaning(c.Orientation)
		}
		resp.Cards = append(resp.Cards, cr)
	}

	for i, st := range s.Stepper.Steps {
		resp.Steps[i] = StepResponse{
			Phase:     st.Phase.String(),
			Label:     tr.T(s.Lang, "phase."+st.Phase.String()),
			Completed: st.Completed,
			Current:   st.Current,
			Future:    st.Future,
			Locked:    st.Locked,
			Clickable: st.Clickable,
		}
	}
	return resp
}
