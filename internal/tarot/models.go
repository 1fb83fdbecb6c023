// Package tarot defines cards, decks and spreads, and draws cards from a
// deck. It has no I/O beyond the embedded deck and spread data.
package tarot

// RNG abstracts random number generation for deterministic testing.
type RNG interface {
	// Intn returns a non-negative random int in [0, n).
	Intn(n int) int
}

// Orientation represents the orientation of a drawn tarot card.
type Orientation string

const (
	Upright  Orientation = "upright"
	Reversed Orientation = "reversed"
)

// Card represents a single tarot card in a deck.
type Card struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Arcana   string   `json:"arcana"`
	Number   int      `json:"number"`
	Keywords []string `json:"keywords"`
	Upright  string   `json:"upright"`
	Reversed string   `json:"reversed"`
}

// Meaning returns the short meaning for the given orientation.
func (c Card) Meaning(o Orientation) string {
	if o == Reversed && c.Reversed != "" {
		return c.Reversed
	}
	return c.Upright
}

// DrawnCard is a card that has been drawn into a spread position.
type DrawnCard struct {
	Card
	Position    int         `json:"position"`
	Orientation Orientation `json:"orientation"`
}

// Deck is a collection of tarot cards.
type Deck struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Cards []Card `json:"cards"`
}

// Position is a named slot of a spread, 1-based.
type Position struct {
	Name    string `yaml:"name" json:"name"`
	Meaning string `yaml:"meaning" json:"meaning"`
}

// Spread describes a layout: how many cards are drawn, what each position
// means and how many credits a reading with it costs.
type Spread struct {
	ID             string     `yaml:"id" json:"id"`
	Name           string     `yaml:"name" json:"name"`
	Description    string     `yaml:"description" json:"description"`
	Positions      []Position `yaml:"positions" json:"positions"`
	Cost           int64      `yaml:"cost" json:"cost"`
	FollowUpCost   int64      `yaml:"follow_up_cost" json:"followUpCost"`
	AllowReversals bool       `yaml:"allow_reversals" json:"allowReversals"`
}

// CardCount is the number of cards the spread requires.
func (s Spread) CardCount() int { return len(s.Positions) }

// PositionName returns the name of the 1-based position, or "" if out of range.
func (s Spread) PositionName(pos int) string {
	if pos < 1 || pos > len(s.Positions) {
		return ""
	}
	return s.Positions[pos-1].Name
}
