package reading

import (
	"errors"

	"github.com/arcanadesk/tarot/internal/interpret"
)

var (
	ErrWrongPhase          = errors.New("action not available in current phase")
	ErrPhaseSkip           = errors.New("forward transition must move exactly one phase")
	ErrNavigationRejected  = errors.New("navigation rejected")
	ErrEffectPending       = errors.New("an effect is still in progress")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrShuffleTooShort     = errors.New("shuffle too short")
	ErrInvalidDrawCount    = errors.New("invalid draw count")
	ErrRevealIncomplete    = errors.New("not every card is revealed")
	ErrQuestionRequired    = errors.New("question required")
	ErrQuestionTooLong     = errors.New("question too long")
	ErrFollowUpLimit       = errors.New("follow-up limit reached")
	ErrInterpretation      = errors.New("interpretation failed")
	ErrSessionClosed       = errors.New("session closed")
	ErrSuperseded          = errors.New("result superseded by navigation")
	ErrNotFound            = errors.New("reading not found")
)

// InsufficientCreditsError carries the numbers for the user-facing message.
type InsufficientCreditsError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientCreditsError) Error() string {
	return ErrInsufficientCredits.Error()
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }

var messageKeys = []struct {
	err error
	key string
}{
	{ErrInsufficientCredits, "reading.insufficientCredits"},
	{ErrNavigationRejected, "reading.navigationRejected"},
	{ErrEffectPending, "reading.busy"},
	{ErrWrongPhase, "reading.wrongPhase"},
	{ErrPhaseSkip, "reading.wrongPhase"},
	{ErrShuffleTooShort, "reading.shuffleTooShort"},
	{ErrInvalidDrawCount, "reading.invalidDrawCount"},
	{ErrRevealIncomplete, "reading.revealIncomplete"},
	{ErrQuestionRequired, "reading.questionRequired"},
	{ErrQuestionTooLong, "reading.questionTooLong"},
	{ErrFollowUpLimit, "reading.followUpLimit"},
	{ErrSuperseded, "reading.superseded"},
	{ErrSessionClosed, "reading.sessionClosed"},
	{ErrNotFound, "reading.notFound"},
}

// MessageKey maps err to its localization key. Interpretation failures
// distinguish timeouts; anything unknown gets "" and is an internal error.
func MessageKey(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrInterpretation) {
		if errors.Is(err, interpret.ErrTimeout) {
			return "reading.interpretationTimeout"
		}
		return "reading.interpretationFailed"
	}
	for _, m := range messageKeys {
		if errors.Is(err, m.err) {
			return m.key
		}
	}
	return ""
}
