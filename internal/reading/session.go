package reading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/arcanadesk/tarot/internal/interpret"
	"github.com/arcanadesk/tarot/internal/tarot"
)

// MaxQuestionLength bounds questions and follow-ups, in characters.
const MaxQuestionLength = 500

// CreditCheck is the answer to "can this user afford cost".
type CreditCheck struct {
	Sufficient bool
	Balance    int64
}

// CreditService checks and spends a user's credits. Deduct and Refund
// must be idempotent per key.
type CreditService interface {
	Check(ctx context.Context, userID string, cost int64) (CreditCheck, error)
	Deduct(ctx context.Context, userID string, amount int64, reason, idempotencyKey string) error
	Refund(ctx context.Context, userID string, amount int64, reason, idempotencyKey string) error
}

// CardSource draws cards that are not already on the table.
type CardSource interface {
	Draw(ctx context.Context, deckID string, n int, exclude []string, allowReversed bool) ([]tarot.DrawnCard, error)
}

// Interpreter produces reading text and follow-up answers.
type Interpreter = interpret.Interpreter

// ResetFunc lets the host discard its own state when the user navigates
// back to target. before is the session as it was prior to the reset. It
// runs under the session lock: it must not block or call into the session.
type ResetFunc func(target Phase, before Snapshot)

// Options configure a single reading.
type Options struct {
	Spread tarot.Spread
	DeckID string
	Lang   string
	Style  interpret.Style
	// MinShuffle is how long the shuffle must run before it can be stopped.
	MinShuffle   time.Duration
	MaxFollowUps int
	// Policy replaces BackwardOnly as the base navigability rule. The
	// credit lock is always applied on top.
	Policy  Policy
	OnReset ResetFunc
	// OnChange receives snapshots in version order, one call at a time.
	// A snapshot older than one already delivered is dropped. It must not
	// call mutating methods of the session.
	OnChange func(Snapshot)
}

// Deps are the collaborators a session calls out to.
type Deps struct {
	Credits     CreditService
	Cards       CardSource
	Interpreter Interpreter
	Logger      *slog.Logger
	Now         func() time.Time
	// OnTransition observes every committed phase change.
	OnTransition func(from, to Phase)
}

type effect int

const (
	effectNone effect = iota
	// effectBlocking must finish before anything else happens.
	effectBlocking
	// effectCancellable is abandoned by navigation or Close.
	effectCancellable
)

type card struct {
	tarot.DrawnCard
	revealed bool
}

// CardView is a drawn card as seen from outside the session.
type CardView struct {
	tarot.DrawnCard
	Revealed bool `json:"revealed"`
}

// FollowUp is one answered follow-up question.
type FollowUp struct {
	Question string           `json:"question"`
	Answer   interpret.Result `json:"answer"`
	AskedAt  time.Time        `json:"askedAt"`
}

// Snapshot is an immutable copy of a session's state.
type Snapshot struct {
	ID             string            `json:"id"`
	UserID         string            `json:"userId"`
	Phase          Phase             `json:"phase"`
	CreditsSpent   bool              `json:"creditsSpent"`
	Question       string            `json:"question"`
	Spread         tarot.Spread      `json:"spread"`
	DeckID         string            `json:"deckId"`
	Lang           string            `json:"lang"`
	Style          interpret.Style   `json:"style"`
	Cards          []CardView        `json:"cards"`
	Interpretation *interpret.Result `json:"interpretation,omitempty"`
	FollowUps      []FollowUp        `json:"followUps"`
	FollowUpsLeft  int               `json:"followUpsLeft"`
	Pending        bool              `json:"pending"`
	Closed         bool              `json:"closed"`
	Version        uint64            `json:"version"`
	Stepper        Stepper           `json:"stepper"`
	Back           BackAction        `json:"back"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// Session is one reading in progress. It is the only writer of its phase;
// every method is safe for concurrent use.
type Session struct {
	id     string
	userID string
	opts   Options
	deps   Deps
	log    *slog.Logger

	mu             sync.Mutex
	phase          Phase
	creditsSpent   bool
	question       string
	cards          []card
	interpretation *interpret.Result
	followUps      []FollowUp
	followUpSeq    int
	shuffleStarted time.Time

	pending    effect
	cancel     context.CancelFunc
	generation uint64
	version    uint64
	closed     bool
	createdAt  time.Time
	updatedAt  time.Time

	notifyMu sync.Mutex
	notified uint64
}

// NewSession creates a session in PhaseIntro.
func NewSession(id, userID string, opts Options, deps Deps) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.DeckID == "" {
		opts.DeckID = tarot.DefaultDeckID
	}
	now := deps.Now()
	return &Session{
		id:        id,
		userID:    userID,
		opts:      opts,
		deps:      deps,
		log:       deps.Logger.With("session_id", id, "user_id", userID),
		createdAt: now,
		updatedAt: now,
	}
}

func (s *Session) ID() string     { return s.id }
func (s *Session) UserID() string { return s.userID }

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// UpdatedAt is the time of the last committed change.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// Begin submits the question and pays for the reading, moving from Intro
// to ShuffleAnimating. Nothing changes if validation or payment fails.
func (s *Session) Begin(ctx context.Context, question string) error {
	question = strings.TrimSpace(question)
	if err := validateQuestion(question); err != nil {
		return err
	}

	cost := s.opts.Spread.Cost
	if cost <= 0 {
		return s.commit(func() error {
			if err := s.readyLocked(PhaseIntro); err != nil {
				return err
			}
			return s.beginLocked(question)
		})
	}

	err := s.commit(func() error {
		if err := s.readyLocked(PhaseIntro); err != nil {
			return err
		}
		s.setPendingLocked(effectBlocking)
		return nil
	})
	if err != nil {
		return err
	}

	reason := "reading:" + s.opts.Spread.ID
	payErr := s.pay(ctx, cost, reason, s.id)

	err = s.commit(func() error {
		s.setPendingLocked(effectNone)
		if s.closed {
			return ErrSessionClosed
		}
		if payErr != nil {
			return payErr
		}
		s.creditsSpent = true
		return s.beginLocked(question)
	})
	if err != nil && payErr == nil {
		s.refund(ctx, cost, reason, s.id)
	}
	return err
}

func (s *Session) beginLocked(question string) error {
	s.question = question
	s.shuffleStarted = s.deps.Now()
	return s.advanceLocked(PhaseShuffleAnimating)
}

// StopShuffle ends the shuffle once it ran for at least MinShuffle.
func (s *Session) StopShuffle() error {
	return s.commit(func() error {
		if err := s.readyLocked(PhaseShuffleAnimating); err != nil {
			return err
		}
		if s.deps.Now().Sub(s.shuffleStarted) < s.opts.MinShuffle {
			return ErrShuffleTooShort
		}
		return s.advanceLocked(PhaseDrawing)
	})
}

// DrawCards draws n more cards, or every remaining card when n is 0. The
// session moves to Revealing once the spread is complete.
func (s *Session) DrawCards(ctx context.Context, n int) error {
	var exclude []string
	err := s.commit(func() error {
		if err := s.readyLocked(PhaseDrawing); err != nil {
			return err
		}
		remaining := s.opts.Spread.CardCount() - len(s.cards)
		if n == 0 {
			n = remaining
		}
		if n < 0 || n > remaining {
			return ErrInvalidDrawCount
		}
		exclude = make([]string, len(s.cards))
		for i, c := range s.cards {
			exclude[i] = c.ID
		}
		s.setPendingLocked(effectBlocking)
		return nil
	})
	if err != nil {
		return err
	}

	drawn, drawErr := s.deps.Cards.Draw(ctx, s.opts.DeckID, n, exclude, s.opts.Spread.AllowReversals)

	return s.commit(func() error {
		s.setPendingLocked(effectNone)
		if s.closed {
			return ErrSessionClosed
		}
		if drawErr != nil {
			return fmt.Errorf("draw cards: %w", drawErr)
		}
		for _, d := range drawn {
			s.cards = append(s.cards, card{DrawnCard: d})
		}
		s.touchLocked()
		if len(s.cards) < s.opts.Spread.CardCount() {
			return nil
		}
		return s.advanceLocked(PhaseRevealing)
	})
}

// Reveal turns over the next hidden card, or every card when all is set.
// The phase stays Revealing until CompleteReveal.
func (s *Session) Reveal(all bool) error {
	return s.commit(func() error {
		if err := s.readyLocked(PhaseRevealing); err != nil {
			return err
		}
		for i := range s.cards {
			if s.cards[i].revealed {
				continue
			}
			s.cards[i].revealed = true
			if !all {
				break
			}
		}
		s.touchLocked()
		return nil
	})
}

// CompleteReveal requests the interpretation and moves to Reading once it
// arrives. A navigation or Close while waiting discards the result.
func (s *Session) CompleteReveal(ctx context.Context) error {
	var (
		req interpret.Request
		gen uint64
	)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := s.commit(func() error {
		if err := s.readyLocked(PhaseRevealing); err != nil {
			return err
		}
		for _, c := range s.cards {
			if !c.revealed {
				return ErrRevealIncomplete
			}
		}
		req = s.requestLocked()
		gen = s.startCancellableLocked(cancel)
		return nil
	})
	if err != nil {
		return err
	}

	res, genErr := s.deps.Interpreter.Interpret(ctx, req)

	return s.commit(func() error {
		if err := s.finishCancellableLocked(gen); err != nil {
			return err
		}
		if genErr != nil {
			s.log.Warn("interpretation failed", "error", genErr)
			return fmt.Errorf("%w: %w", ErrInterpretation, genErr)
		}
		s.interpretation = &res
		return s.advanceLocked(PhaseReading)
	})
}

// AskFollowUp answers a further question about the reading. It may cost
// credits and is limited to MaxFollowUps per reading.
func (s *Session) AskFollowUp(ctx context.Context, question string) error {
	question = strings.TrimSpace(question)
	if err := validateQuestion(question); err != nil {
		return err
	}

	var (
		req  interpret.FollowUpRequest
		gen  uint64
		seq  int
		cost = s.opts.Spread.FollowUpCost
	)
	err := s.commit(func() error {
		if err := s.readyLocked(PhaseReading); err != nil {
			return err
		}
		if len(s.followUps) >= s.opts.MaxFollowUps {
			return ErrFollowUpLimit
		}
		s.followUpSeq++
		seq = s.followUpSeq
		s.setPendingLocked(effectBlocking)
		return nil
	})
	if err != nil {
		return err
	}

	var (
		payErr error
		reason = "followup:" + s.opts.Spread.ID
		key    = fmt.Sprintf("%s:followup:%d", s.id, seq)
	)
	if cost > 0 {
		payErr = s.pay(ctx, cost, reason, key)
	}
	charged := cost > 0 && payErr == nil

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	err = s.commit(func() error {
		s.setPendingLocked(effectNone)
		if s.closed {
			return ErrSessionClosed
		}
		if payErr != nil {
			return payErr
		}
		req = interpret.FollowUpRequest{
			Request:  s.requestLocked(),
			Reading:  s.interpretation.Text,
			FollowUp: question,
		}
		for _, f := range s.followUps {
			req.Previous = append(req.Previous, fmt.Sprintf("Q: %s\nA: %s", f.Question, f.Answer.Text))
		}
		gen = s.startCancellableLocked(cancel)
		return nil
	})
	if err != nil {
		if charged {
			s.refund(ctx, cost, reason, key)
		}
		return err
	}

	res, genErr := s.deps.Interpreter.FollowUp(ctx, req)

	err = s.commit(func() error {
		if err := s.finishCancellableLocked(gen); err != nil {
			return err
		}
		if genErr != nil {
			s.log.Warn("follow-up failed", "error", genErr)
			return fmt.Errorf("%w: %w", ErrInterpretation, genErr)
		}
		s.followUps = append(s.followUps, FollowUp{
			Question: question,
			Answer:   res,
			AskedAt:  s.deps.Now(),
		})
		s.touchLocked()
		return nil
	})
	if err != nil && charged {
		s.refund(ctx, cost, reason, key)
	}
	return err
}

// NavigateTo moves back to an earlier phase: validate, reset dependent
// state, run the host reset hook, then commit. A rejected navigation
// changes nothing.
func (s *Session) NavigateTo(target Phase) error {
	return s.commit(func() error {
		return s.navigateLocked(target)
	})
}

// Back follows the stepper's back control: the nearest navigable earlier
// phase, or exit. It reports whether the session was closed.
func (s *Session) Back() (exited bool, err error) {
	var action BackAction
	err = s.commit(func() error {
		if s.closed {
			return ErrSessionClosed
		}
		if s.pending == effectBlocking {
			return ErrEffectPending
		}
		action = BuildStepper(s.phase, s.policyLocked()).Back()
		if action.Exit {
			s.closeLocked()
			return nil
		}
		return s.navigateLocked(action.Phase)
	})
	return action.Exit && err == nil, err
}

// Close ends the session. In-flight interpretation is cancelled and its
// result dropped. Closing twice is a no-op.
func (s *Session) Close() {
	_ = s.commit(func() error {
		if s.closed {
			return ErrSessionClosed
		}
		s.closeLocked()
		return nil
	})
}

func (s *Session) closeLocked() {
	s.cancelEffectLocked()
	s.closed = true
	s.touchLocked()
	s.log.Info("reading closed", "phase", s.phase.String())
}

func (s *Session) navigateLocked(target Phase) error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.policyLocked().CanNavigateTo(target, s.phase) {
		return ErrNavigationRejected
	}
	if s.pending == effectBlocking {
		return ErrEffectPending
	}

	before := s.snapshotLocked()
	s.cancelEffectLocked()
	s.resetLocked(target)
	if s.opts.OnReset != nil {
		s.opts.OnReset(target, before)
	}

	from := s.phase
	s.phase = target
	s.touchLocked()
	s.transitioned(from, target)
	return nil
}

// resetLocked clears everything produced at or after target.
func (s *Session) resetLocked(target Phase) {
	if target.Order() <= PhaseRevealing.Order() {
		s.interpretation = nil
		s.followUps = nil
		for i := range s.cards {
			s.cards[i].revealed = false
		}
	}
	if target.Order() <= PhaseDrawing.Order() {
		s.cards = nil
	}
	if target.Order() <= PhaseShuffleAnimating.Order() {
		s.shuffleStarted = s.deps.Now()
	}
}

// advanceLocked is the only forward transition: exactly one phase on.
func (s *Session) advanceLocked(to Phase) error {
	if to.Order() != s.phase.Order()+1 {
		return fmt.Errorf("%w: %s to %s", ErrPhaseSkip, s.phase, to)
	}
	from := s.phase
	s.phase = to
	s.touchLocked()
	s.transitioned(from, to)
	return nil
}

func (s *Session) transitioned(from, to Phase) {
	s.log.Info("phase changed", "from", from.String(), "to", to.String())
	if s.deps.OnTransition != nil {
		s.deps.OnTransition(from, to)
	}
}

func (s *Session) readyLocked(want Phase) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.pending != effectNone {
		return ErrEffectPending
	}
	if s.phase != want {
		return ErrWrongPhase
	}
	return nil
}

func (s *Session) setPendingLocked(e effect) {
	if s.pending != e {
		s.pending = e
		s.touchLocked()
	}
}

func (s *Session) startCancellableLocked(cancel context.CancelFunc) uint64 {
	s.setPendingLocked(effectCancellable)
	s.cancel = cancel
	return s.generation
}

// finishCancellableLocked decides whether a returning effect may still
// apply its result.
func (s *Session) finishCancellableLocked(gen uint64) error {
	if gen != s.generation {
		if s.closed {
			return ErrSessionClosed
		}
		return ErrSuperseded
	}
	s.setPendingLocked(effectNone)
	s.cancel = nil
	return nil
}

func (s *Session) cancelEffectLocked() {
	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.pending == effectCancellable {
		s.pending = effectNone
	}
}

func (s *Session) pay(ctx context.Context, cost int64, reason, key string) error {
	check, err := s.deps.Credits.Check(ctx, s.userID, cost)
	if err != nil {
		return fmt.Errorf("check credits: %w", err)
	}
	if !check.Sufficient {
		return &InsufficientCreditsError{Balance: check.Balance, Required: cost}
	}
	if err := s.deps.Credits.Deduct(ctx, s.userID, cost, reason, key); err != nil {
		var ie interface{ InsufficientCredits() (int64, int64) }
		if errors.As(err, &ie) {
			balance, required := ie.InsufficientCredits()
			return &InsufficientCreditsError{Balance: balance, Required: required}
		}
		return fmt.Errorf("deduct credits: %w", err)
	}
	s.log.Info("credits deducted", "amount", cost, "reason", reason)
	return nil
}

// refund returns a charge whose result was never applied. The refund key
// is derived from the charge key, so a charge is refunded at most once.
// It outlives ctx: a cancelled request must not keep the credits.
func (s *Session) refund(ctx context.Context, amount int64, reason, chargeKey string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.deps.Credits.Refund(ctx, s.userID, amount, "refund:"+reason, "refund:"+chargeKey); err != nil {
		s.log.Error("refund failed", "amount", amount, "key", chargeKey, "error", err)
		return
	}
	s.log.Info("credits refunded", "amount", amount, "reason", reason)
}

func (s *Session) requestLocked() interpret.Request {
	cards := make([]tarot.DrawnCard, len(s.cards))
	for i, c := range s.cards {
		cards[i] = c.DrawnCard
	}
	return interpret.Request{
		DeckID:   s.opts.DeckID,
		Spread:   s.opts.Spread,
		Cards:    cards,
		Question: s.question,
		Lang:     s.opts.Lang,
		Style:    s.opts.Style,
	}
}

func (s *Session) policyLocked() Policy {
	base := s.opts.Policy
	if base == nil {
		base = BackwardOnly{}
	}
	return WithLock(base, CreditLock(s.creditsSpent))
}

func (s *Session) touchLocked() {
	s.version++
	s.updatedAt = s.deps.Now()
}

func (s *Session) snapshotLocked() Snapshot {
	stepper := BuildStepper(s.phase, s.policyLocked())
	snap := Snapshot{
		ID:            s.id,
		UserID:        s.userID,
		Phase:         s.phase,
		CreditsSpent:  s.creditsSpent,
		Question:      s.question,
		Spread:        s.opts.Spread,
		DeckID:        s.opts.DeckID,
		Lang:          s.opts.Lang,
		Style:         s.opts.Style,
		Cards:         make([]CardView, len(s.cards)),
		FollowUps:     append([]FollowUp(nil), s.followUps...),
		FollowUpsLeft: max(s.opts.MaxFollowUps-len(s.followUps), 0),
		Pending:       s.pending != effectNone,
		Closed:        s.closed,
		Version:       s.version,
		Stepper:       stepper,
		Back:          stepper.Back(),
		CreatedAt:     s.createdAt,
		UpdatedAt:     s.updatedAt,
	}
	for i, c := range s.cards {
		snap.Cards[i] = CardView{DrawnCard: c.DrawnCard, Revealed: c.revealed}
	}
	if s.interpretation != nil {
		res := *s.interpretation
		snap.Interpretation = &res
	}
	return snap
}

// commit runs fn under the lock. When fn changed the session, OnChange
// receives the resulting snapshot after the lock is released.
func (s *Session) commit(fn func() error) error {
	var (
		snap    Snapshot
		changed bool
	)
	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		before := s.version
		err := fn()
		if changed = s.version != before; changed {
			snap = s.snapshotLocked()
		}
		return err
	}()
	if changed && s.opts.OnChange != nil {
		s.notify(snap)
	}
	return err
}

// notify hands snap to OnChange unless a newer version already went out.
// Concurrent commits race to this point after unlocking, so the check
// keeps observers from ending on a stale state.
func (s *Session) notify(snap Snapshot) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if snap.Version <= s.notified {
		return
	}
	s.notified = snap.Version
	s.opts.OnChange(snap)
}

func validateQuestion(q string) error {
	if q == "" {
		return ErrQuestionRequired
	}
	if utf8.RuneCountInString(q) > MaxQuestionLength {
		return ErrQuestionTooLong
	}
	return nil
}
