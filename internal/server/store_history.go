package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arcanadesk/tarot/internal/reading"
	"github.com/arcanadesk/tarot/internal/tarot"
)

// timeLayout matches strftime('%Y-%m-%dT%H:%M:%fZ') used in SQL defaults.
const timeLayout = "2006-01-02T15:04:05.000Z"

// HistorySummary is one line of GET /api/history.
type HistorySummary struct {
	ID        string `json:"id"`
	SpreadID  string `json:"spreadId"`
	Question  string `json:"question"`
	FollowUps int    `json:"followUps"`
	CreatedAt string `json:"createdAt"`
}

// HistoryEntry is a finished reading as stored.
type HistoryEntry struct {
	ID             string             `json:"id"`
	SpreadID       string             `json:"spreadId"`
	DeckID         string             `json:"deckId"`
	Lang           string             `json:"lang"`
	Question       string             `json:"question"`
	Cards          []tarot.DrawnCard  `json:"cards"`
	Interpretation string             `json:"interpretation"`
	FollowUps      []reading.FollowUp `json:"followUps"`
	CreatedAt      string             `json:"createdAt"`
	UpdatedAt      string             `json:"updatedAt"`
}

// HistoryStore persists readings that reached the Reading phase.
type HistoryStore struct {
	db *sql.DB
}

func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Save upserts the reading. Later saves of the same session replace its
// cards, interpretation and follow-ups.
func (s *HistoryStore) Save(ctx context.Context, snap reading.Snapshot) error {
	cards := make([]tarot.DrawnCard, len(snap.Cards))
	for i, c := range snap.Cards {
		cards[i] = c.DrawnCard
	}
	cardsJSON, err := json.Marshal(cards)
	if err != nil {
		return fmt.Errorf("encoding cards: %w", err)
	}
	followUps := snap.FollowUps
	if followUps == nil {
		followUps = []reading.FollowUp{}
	}
	followUpsJSON, err := json.Marshal(followUps)
	if err != nil {
		return fmt.Errorf("encoding follow-ups: %w", err)
	}
	var interpretation string
	if snap.Interpretation != nil {
		interpretation = snap.Interpretation.Text
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO readings (id, user_id, spread_id, deck_id, lang, question, cards, interpretation, follow_ups, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			question = excluded.question,
			cards = excluded.cards,
			interpretation = excluded.interpretation,
			follow_ups = excluded.follow_ups,
			updated_at = excluded.updated_at
	`, snap.ID, snap.UserID, snap.Spread.ID, snap.DeckID, snap.Lang, snap.Question,
		string(cardsJSON), interpretation, string(followUpsJSON),
		formatTime(snap.CreatedAt), formatTime(snap.UpdatedAt))
	return err
}

// List returns the user's readings, newest first.
func (s *HistoryStore) List(ctx context.Context, userID string, limit int) ([]HistorySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, spread_id, question, json_array_length(follow_ups), created_at
		FROM readings
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []HistorySummary{}
	for rows.Next() {
		var h HistorySummary
		if err := rows.Scan(&h.ID, &h.SpreadID, &h.Question, &h.FollowUps, &h.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, h)
	}
	return items, rows.Err()
}

// Get returns one of the user's readings.
func (s *HistoryStore) Get(ctx context.Context, userID, id string) (HistoryEntry, error) {
	var (
		h             HistoryEntry
		cardsJSON     string
		followUpsJSON string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, spread_id, deck_id, lang, question, cards, interpretation, follow_ups, created_at, updated_at
		FROM readings
		WHERE id = ? AND user_id = ?
	`, id, userID).Scan(&h.ID, &h.SpreadID, &h.DeckID, &h.Lang, &h.Question,
		&cardsJSON, &h.Interpretation, &followUpsJSON, &h.CreatedAt, &h.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return h, ErrNotFound
	}
	if err != nil {
		return h, err
	}
	if err := json.Unmarshal([]byte(cardsJSON), &h.Cards); err != nil {
		return h, fmt.Errorf("decoding cards: %w", err)
	}
	if err := json.Unmarshal([]byte(followUpsJSON), &h.FollowUps); err != nil {
		return h, fmt.Errorf("decoding follow-ups: %w", err)
	}
	return h, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
