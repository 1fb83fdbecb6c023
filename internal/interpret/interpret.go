// Package interpret turns a drawn spread into reading text through an
// OpenAI-compatible chat completion API.
package interpret

import (
	"context"
	"errors"

	"github.com/arcanadesk/tarot/internal/tarot"
)

var (
	ErrUpstream         = errors.New("upstream LLM failure")
	ErrRateLimited      = errors.New("upstream LLM rate limited")
	ErrTimeout          = errors.New("upstream LLM timed out")
	ErrInvalidResponse  = errors.New("LLM returned invalid JSON after retry")
	ErrRetriesExhausted = errors.New("interpretation retries exhausted")
)

// Tone selects the voice of the reading.
type Tone string

const (
	ToneNeutral Tone = "neutral"
	ToneGentle  Tone = "gentle"
	ToneDirect  Tone = "direct"
)

// Style flags shape the generated text.
type Style struct {
	Tone     Tone `json:"tone"`
	Detailed bool `json:"detailed"`
}

// Request holds everything needed to interpret a spread.
type Request struct {
	DeckID   string            `json:"deckId"`
	Spread   tarot.Spread      `json:"spread"`
	Cards    []tarot.DrawnCard `json:"cards"`
	Question string            `json:"question"`
	Lang     string            `json:"lang"`
	Style    Style             `json:"style"`
}

// FollowUpRequest asks a further question about an existing reading.
type FollowUpRequest struct {
	Request
	Reading  string   `json:"reading"`
	Previous []string `json:"previous"`
	FollowUp string   `json:"followUp"`
}

// Result is the structured text returned by the model.
type Result struct {
	Text       string `json:"text"`
	Style      string `json:"style"`
	Disclaimer string `json:"disclaimer"`
	Model      string `json:"model,omitempty"`
}

// Interpreter generates readings and follow-up answers.
type Interpreter interface {
	Interpret(ctx context.Context, req Request) (Result, error)
	FollowUp(ctx context.Context, req FollowUpRequest) (Result, error)
}

// IsRetryable reports whether err is a transient failure worth retrying:
// network errors, timeouts, rate limits and 5xx upstream responses.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 429 || se.Code >= 500
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrUpstream) && !errors.Is(err, ErrInvalidResponse)
}
