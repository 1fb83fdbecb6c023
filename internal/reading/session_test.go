package reading

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arcanadesk/tarot/internal/interpret"
	"github.com/arcanadesk/tarot/internal/tarot"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type insufficientErr struct{ balance, required int64 }

func (e insufficientErr) Error() string                       { return "insufficient" }
func (e insufficientErr) InsufficientCredits() (int64, int64) { return e.balance, e.required }

type fakeCredits struct {
	mu      sync.Mutex
	balance int64
	keys    map[string]int64
	refunds map[string]int64

	// Deduct signals started and waits on block when they are set.
	block   chan struct{}
	started chan struct{}
}

func newFakeCredits(balance int64) *fakeCredits {
	return &fakeCredits{
		balance: balance,
		keys:    make(map[string]int64),
		refunds: make(map[string]int64),
	}
}

func (f *fakeCredits) Balance() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance
}

func (f *fakeCredits) Check(_ context.Context, _ string, cost int64) (CreditCheck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return CreditCheck{Sufficient: f.balance >= cost, Balance: f.balance}, nil
}

func (f *fakeCredits) Deduct(_ context.Context, _ string, amount int64, _, key string) error {
	f.mu.Lock()
	block, started := f.block, f.started
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		return nil
	}
	if f.balance < amount {
		return insufficientErr{f.balance, amount}
	}
	f.balance -= amount
	f.keys[key] = amount
	return nil
}

func (f *fakeCredits) Refund(_ context.Context, _ string, amount int64, _, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.refunds[key]; ok {
		return nil
	}
	f.balance += amount
	f.refunds[key] = amount
	return nil
}

type fakeInterpreter struct {
	mu      sync.Mutex
	calls   int
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeInterpreter) wait(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	block, started, err := f.block, f.started, f.err
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeInterpreter) set(fn func(*fakeInterpreter)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeInterpreter) Interpret(ctx context.Context, req interpret.Request) (interpret.Result, error) {
	if err := f.wait(ctx); err != nil {
		return interpret.Result{}, err
	}
	return interpret.Result{Text: "The cards speak of " + req.Question, Style: "neutral"}, nil
}

func (f *fakeInterpreter) FollowUp(ctx context.Context, req interpret.FollowUpRequest) (interpret.Result, error) {
	if err := f.wait(ctx); err != nil {
		return interpret.Result{}, err
	}
	return interpret.Result{Text: "About " + req.FollowUp + " after " + req.Reading}, nil
}

func threeCardSpread() tarot.Spread {
	return tarot.Spread{
		ID:   "three_card",
		Name: "Past, Present, Future",
		Positions: []tarot.Position{
			{Name: "Past"}, {Name: "Present"}, {Name: "Future"},
		},
		Cost:           1,
		FollowUpCost:   1,
		AllowReversals: true,
	}
}

type harness struct {
	session *Session
	credits *fakeCredits
	interp  *fakeInterpreter
	clock   *testClock
	changes []Snapshot
	mu      sync.Mutex
}

func (h *harness) lastChange() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.changes[len(h.changes)-1]
}

func newHarness(t *testing.T, balance int64, tweak func(*Options)) *harness {
	t.Helper()
	h := &harness{
		credits: newFakeCredits(balance),
		interp:  &fakeInterpreter{},
		clock:   &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	opts := Options{
		Spread:       threeCardSpread(),
		Lang:         "en",
		MinShuffle:   2 * time.Second,
		MaxFollowUps: 2,
		OnChange: func(s Snapshot) {
			h.mu.Lock()
			h.changes = append(h.changes, s)
			h.mu.Unlock()
		},
	}
	if tweak != nil {
		tweak(&opts)
	}
	deps := Deps{
		Credits:     h.credits,
		Cards:       tarot.NewDealer(tarot.NewCatalog(), rand.New(rand.NewSource(7))),
		Interpreter: h.interp,
		Now:         h.clock.Now,
	}
	h.session = NewSession("sess-1", "user-1", opts, deps)
	return h
}

// toRevealed drives a session up to Revealing with every card turned.
func (h *harness) toRevealed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	s := h.session
	if err := s.Begin(ctx, "Will the move go well?"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	h.clock.Advance(3 * time.Second)
	if err := s.StopShuffle(); err != nil {
		t.Fatalf("StopShuffle: %v", err)
	}
	if err := s.DrawCards(ctx, 0); err != nil {
		t.Fatalf("DrawCards: %v", err)
	}
	if err := s.Reveal(true); err != nil {
		t.Fatalf("Reveal: %v", err)
	}
}

// toReading drives a session through every phase.
func (h *harness) toReading(t *testing.T) {
	t.Helper()
	h.toRevealed(t)
	if err := h.session.CompleteReveal(context.Background()); err != nil {
		t.Fatalf("CompleteReveal: %v", err)
	}
	if got := h.session.Phase(); got != PhaseReading {
		t.Fatalf("phase = %v, want %v", got, PhaseReading)
	}
}

func wantErr(t *testing.T, got, want error) {
	t.Helper()
	if !errors.Is(got, want) {
		t.Errorf("err = %v, want %v", got, want)
	}
}

func TestSessionHappyPath(t *testing.T) {
	h := newHarness(t, 5, nil)
	ctx := context.Background()
	s := h.session

	if got := s.Phase(); got != PhaseIntro {
		t.Fatalf("phase = %v, want %v", got, PhaseIntro)
	}
	if err := s.Begin(ctx, "  Will the move go well?  "); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if got := s.Phase(); got != PhaseShuffleAnimating {
		t.Errorf("phase = %v, want %v", got, PhaseShuffleAnimating)
	}
	if got := h.credits.Balance(); got != 4 {
		t.Errorf("balance = %d, want 4", got)
	}

	snap := s.Snapshot()
	if !snap.CreditsSpent {
		t.Error("CreditsSpent = false, want true")
	}
	if snap.Question != "Will the move go well?" {
		t.Errorf("question = %q, want trimmed", snap.Question)
	}
	if !snap.Stepper.Steps[0].Locked {
		t.Error("intro step not locked after payment")
	}

	wantErr(t, s.StopShuffle(), ErrShuffleTooShort)
	h.clock.Advance(2 * time.Second)
	if err := s.StopShuffle(); err != nil {
		t.Fatalf("StopShuffle: %v", err)
	}
	if got := s.Phase(); got != PhaseDrawing {
		t.Errorf("phase = %v, want %v", got, PhaseDrawing)
	}

	if err := s.DrawCards(ctx, 1); err != nil {
		t.Fatalf("DrawCards(1): %v", err)
	}
	if got := s.Phase(); got != PhaseDrawing {
		t.Errorf("phase after partial draw = %v, want %v", got, PhaseDrawing)
	}
	if err := s.DrawCards(ctx, 2); err != nil {
		t.Fatalf("DrawCards(2): %v", err)
	}
	if got := s.Phase(); got != PhaseRevealing {
		t.Errorf("phase = %v, want %v", got, PhaseRevealing)
	}

	snap = s.Snapshot()
	if len(snap.Cards) != 3 {
		t.Fatalf("len(cards) = %d, want 3", len(snap.Cards))
	}
	ids := map[string]bool{}
	for i, c := range snap.Cards {
		if c.Position != i+1 {
			t.Errorf("cards[%d].Position = %d, want %d", i, c.Position, i+1)
		}
		if c.Revealed {
			t.Errorf("cards[%d] revealed before Reveal", i)
		}
		ids[c.ID] = true
	}
	if len(ids) != 3 {
		t.Errorf("distinct cards = %d, want 3", len(ids))
	}

	wantErr(t, s.CompleteReveal(ctx), ErrRevealIncomplete)
	if err := s.Reveal(false); err != nil {
		t.Fatalf("Reveal(false): %v", err)
	}
	if cards := s.Snapshot().Cards; !cards[0].Revealed || cards[1].Revealed {
		t.Errorf("after one reveal: revealed = [%v %v], want [true false]", cards[0].Revealed, cards[1].Revealed)
	}
	if err := s.Reveal(true); err != nil {
		t.Fatalf("Reveal(true): %v", err)
	}

	if err := s.CompleteReveal(ctx); err != nil {
		t.Fatalf("CompleteReveal: %v", err)
	}
	snap = s.Snapshot()
	if snap.Phase != PhaseReading {
		t.Errorf("phase = %v, want %v", snap.Phase, PhaseReading)
	}
	if snap.Interpretation == nil || !strings.Contains(snap.Interpretation.Text, "Will the move go well?") {
		t.Errorf("interpretation = %+v, want text about the question", snap.Interpretation)
	}
	if last := h.lastChange(); !reflect.DeepEqual(last, snap) {
		t.Errorf("last OnChange = version %d, want version %d", last.Version, snap.Version)
	}
}

func TestSessionBeginValidation(t *testing.T) {
	h := newHarness(t, 5, nil)
	ctx := context.Background()

	wantErr(t, h.session.Begin(ctx, "   "), ErrQuestionRequired)
	wantErr(t, h.session.Begin(ctx, strings.Repeat("я", MaxQuestionLength+1)), ErrQuestionTooLong)
	if err := h.session.Begin(ctx, strings.Repeat("я", MaxQuestionLength)); err != nil {
		t.Errorf("Begin at max length: %v", err)
	}
}

func TestSessionInsufficientCredits(t *testing.T) {
	h := newHarness(t, 0, nil)

	err := h.session.Begin(context.Background(), "Any luck?")
	var ie *InsufficientCreditsError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want InsufficientCreditsError", err)
	}
	if ie.Balance != 0 || ie.Required != 1 {
		t.Errorf("err = %+v, want balance 0 required 1", ie)
	}
	if got := MessageKey(err); got != "reading.insufficientCredits" {
		t.Errorf("MessageKey = %q, want reading.insufficientCredits", got)
	}

	snap := h.session.Snapshot()
	if snap.Phase != PhaseIntro || snap.CreditsSpent || snap.Pending {
		t.Errorf("snapshot = phase %v spent %v pending %v, want intro unchanged", snap.Phase, snap.CreditsSpent, snap.Pending)
	}
}

func TestSessionFreeSpreadLeavesIntroOpen(t *testing.T) {
	h := newHarness(t, 0, func(o *Options) {
		o.Spread.Cost = 0
	})
	if err := h.session.Begin(context.Background(), "Quick one"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if h.session.Snapshot().CreditsSpent {
		t.Error("CreditsSpent = true for a free spread")
	}
	if err := h.session.NavigateTo(PhaseIntro); err != nil {
		t.Fatalf("NavigateTo(intro): %v", err)
	}
	if got := h.session.Phase(); got != PhaseIntro {
		t.Errorf("phase = %v, want %v", got, PhaseIntro)
	}
}

func TestSessionWrongPhase(t *testing.T) {
	h := newHarness(t, 5, nil)
	ctx := context.Background()
	s := h.session

	wantErr(t, s.StopShuffle(), ErrWrongPhase)
	wantErr(t, s.DrawCards(ctx, 1), ErrWrongPhase)
	wantErr(t, s.Reveal(true), ErrWrongPhase)
	wantErr(t, s.CompleteReveal(ctx), ErrWrongPhase)
	wantErr(t, s.AskFollowUp(ctx, "more?"), ErrWrongPhase)
	if got := s.Phase(); got != PhaseIntro {
		t.Errorf("phase = %v, want %v", got, PhaseIntro)
	}
}

func TestSessionDrawCount(t *testing.T) {
	h := newHarness(t, 5, nil)
	ctx := context.Background()
	if err := h.session.Begin(ctx, "Q"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	h.clock.Advance(time.Minute)
	if err := h.session.StopShuffle(); err != nil {
		t.Fatalf("StopShuffle: %v", err)
	}

	wantErr(t, h.session.DrawCards(ctx, 4), ErrInvalidDrawCount)
	wantErr(t, h.session.DrawCards(ctx, -1), ErrInvalidDrawCount)
	if n := len(h.session.Snapshot().Cards); n != 0 {
		t.Errorf("len(cards) = %d, want 0", n)
	}
}

func TestSessionNoSkipForward(t *testing.T) {
	h := newHarness(t, 5, nil)
	s := h.session

	s.mu.Lock()
	err := s.advanceLocked(PhaseRevealing)
	s.mu.Unlock()
	wantErr(t, err, ErrPhaseSkip)
	if got := s.Phase(); got != PhaseIntro {
		t.Errorf("phase = %v, want %v", got, PhaseIntro)
	}

	s.mu.Lock()
	err = s.advanceLocked(PhaseIntro)
	s.mu.Unlock()
	wantErr(t, err, ErrPhaseSkip)
}

func TestSessionNavigateResetsBeforeCommit(t *testing.T) {
	var (
		calls   []Phase
		phaseAt Phase
		before  Snapshot
		h       *harness
	)
	h = newHarness(t, 5, func(o *Options) {
		o.OnReset = func(target Phase, b Snapshot) {
			calls = append(calls, target)
			before = b
			// The hook runs under the session lock, so read state directly.
			phaseAt = h.session.phase
		}
	})
	h.toReading(t)

	if err := h.session.NavigateTo(PhaseDrawing); err != nil {
		t.Fatalf("NavigateTo: %v", err)
	}
	if !reflect.DeepEqual(calls, []Phase{PhaseDrawing}) {
		t.Errorf("OnReset targets = %v, want [drawing]", calls)
	}
	if phaseAt != PhaseReading || before.Phase != PhaseReading {
		t.Errorf("hook saw phase %v, before %v, want reading for both", phaseAt, before.Phase)
	}
	if before.Interpretation == nil || len(before.Cards) != 3 {
		t.Errorf("before snapshot lost state: interpretation %v, %d cards", before.Interpretation, len(before.Cards))
	}

	snap := h.session.Snapshot()
	if snap.Phase != PhaseDrawing {
		t.Errorf("phase = %v, want %v", snap.Phase, PhaseDrawing)
	}
	if len(snap.Cards) != 0 || snap.Interpretation != nil || len(snap.FollowUps) != 0 {
		t.Errorf("state after reset: %d cards, interpretation %v, %d follow-ups", len(snap.Cards), snap.Interpretation, len(snap.FollowUps))
	}
	if !snap.CreditsSpent {
		t.Error("CreditsSpent cleared by navigation")
	}
}

func TestSessionNavigateToRevealingKeepsCards(t *testing.T) {
	h := newHarness(t, 5, nil)
	h.toReading(t)
	if err := h.session.AskFollowUp(context.Background(), "And work?"); err != nil {
		t.Fatalf("AskFollowUp: %v", err)
	}

	if err := h.session.NavigateTo(PhaseRevealing); err != nil {
		t.Fatalf("NavigateTo: %v", err)
	}
	snap := h.session.Snapshot()
	if len(snap.Cards) != 3 {
		t.Fatalf("len(cards) = %d, want 3", len(snap.Cards))
	}
	for i, c := range snap.Cards {
		if c.Revealed {
			t.Errorf("cards[%d] still revealed", i)
		}
	}
	if snap.Interpretation != nil || len(snap.FollowUps) != 0 {
		t.Errorf("interpretation %v, %d follow-ups, want both cleared", snap.Interpretation, len(snap.FollowUps))
	}
}

func TestSessionNavigateRejected(t *testing.T) {
	resets := 0
	h := newHarness(t, 5, func(o *Options) {
		o.OnReset = func(Phase, Snapshot) { resets++ }
	})
	h.toReading(t)
	before := h.session.Snapshot()

	wantErr(t, h.session.NavigateTo(PhaseIntro), ErrNavigationRejected)
	wantErr(t, h.session.NavigateTo(PhaseReading), ErrNavigationRejected)
	if resets != 0 {
		t.Errorf("OnReset calls = %d, want 0", resets)
	}
	if after := h.session.Snapshot(); !reflect.DeepEqual(after, before) {
		t.Errorf("snapshot changed: version %d, want %d", after.Version, before.Version)
	}
}

func TestSessionNavigateRestartsShuffleTimer(t *testing.T) {
	h := newHarness(t, 5, nil)
	ctx := context.Background()
	if err := h.session.Begin(ctx, "Q"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	h.clock.Advance(5 * time.Second)
	if err := h.session.StopShuffle(); err != nil {
		t.Fatalf("StopShuffle: %v", err)
	}

	if err := h.session.NavigateTo(PhaseShuffleAnimating); err != nil {
		t.Fatalf("NavigateTo: %v", err)
	}
	wantErr(t, h.session.StopShuffle(), ErrShuffleTooShort)
	h.clock.Advance(2 * time.Second)
	if err := h.session.StopShuffle(); err != nil {
		t.Errorf("StopShuffle after restart: %v", err)
	}
}

func TestSessionInterpretationFailureKeepsPhase(t *testing.T) {
	h := newHarness(t, 5, nil)
	ctx := context.Background()
	h.interp.set(func(f *fakeInterpreter) { f.err = interpret.ErrTimeout })
	h.toRevealed(t)

	err := h.session.CompleteReveal(ctx)
	if !errors.Is(err, ErrInterpretation) {
		t.Fatalf("err = %v, want ErrInterpretation", err)
	}
	if got := MessageKey(err); got != "reading.interpretationTimeout" {
		t.Errorf("MessageKey = %q, want reading.interpretationTimeout", got)
	}
	if snap := h.session.Snapshot(); snap.Phase != PhaseRevealing || snap.Pending {
		t.Errorf("after failure: phase %v pending %v, want revealing idle", snap.Phase, snap.Pending)
	}

	h.interp.set(func(f *fakeInterpreter) { f.err = errors.New("boom") })
	if got := MessageKey(h.session.CompleteReveal(ctx)); got != "reading.interpretationFailed" {
		t.Errorf("MessageKey = %q, want reading.interpretationFailed", got)
	}

	h.interp.set(func(f *fakeInterpreter) { f.err = nil })
	if err := h.session.CompleteReveal(ctx); err != nil {
		t.Fatalf("retry CompleteReveal: %v", err)
	}
	if got := h.session.Phase(); got != PhaseReading {
		t.Errorf("phase = %v, want %v", got, PhaseReading)
	}
}

func TestSessionNavigationSupersedesInterpretation(t *testing.T) {
	h := newHarness(t, 5, nil)
	ctx := context.Background()
	h.toRevealed(t)
	h.interp.set(func(f *fakeInterpreter) {
		f.block = make(chan struct{})
		f.started = make(chan struct{})
	})

	done := make(chan error, 1)
	go func() { done <- h.session.CompleteReveal(ctx) }()
	<-h.interp.started

	if !h.session.Snapshot().Pending {
		t.Error("Pending = false while interpreting")
	}
	wantErr(t, h.session.Reveal(false), ErrEffectPending)

	if err := h.session.NavigateTo(PhaseDrawing); err != nil {
		t.Fatalf("NavigateTo: %v", err)
	}

	select {
	case err := <-done:
		wantErr(t, err, ErrSuperseded)
	case <-time.After(time.Second):
		t.Fatal("interpretation was not cancelled")
	}

	snap := h.session.Snapshot()
	if snap.Phase != PhaseDrawing || snap.Interpretation != nil || snap.Pending {
		t.Errorf("snapshot = phase %v interpretation %v pending %v, want drawing with nothing pending", snap.Phase, snap.Interpretation, snap.Pending)
	}
}

func TestSessionCloseCancelsInterpretation(t *testing.T) {
	h := newHarness(t, 5, nil)
	ctx := context.Background()
	h.toRevealed(t)
	h.interp.set(func(f *fakeInterpreter) {
		f.block = make(chan struct{})
		f.started = make(chan struct{})
	})

	done := make(chan error, 1)
	go func() { done <- h.session.CompleteReveal(ctx) }()
	<-h.interp.started
	h.session.Close()

	wantErr(t, <-done, ErrSessionClosed)
	if !h.session.Snapshot().Closed {
		t.Error("Closed = false after Close")
	}
	wantErr(t, h.session.NavigateTo(PhaseDrawing), ErrSessionClosed)
	wantErr(t, h.session.Begin(ctx, "Q"), ErrSessionClosed)
}

func TestSessionFollowUps(t *testing.T) {
	h := newHarness(t, 5, nil)
	ctx := context.Background()
	h.toReading(t)
	if got := h.credits.Balance(); got != 4 {
		t.Errorf("balance = %d, want 4", got)
	}

	if err := h.session.AskFollowUp(ctx, "What about love?"); err != nil {
		t.Fatalf("first follow-up: %v", err)
	}
	if err := h.session.AskFollowUp(ctx, "And money?"); err != nil {
		t.Fatalf("second follow-up: %v", err)
	}
	wantErr(t, h.session.AskFollowUp(ctx, "One more?"), ErrFollowUpLimit)

	snap := h.session.Snapshot()
	if len(snap.FollowUps) != 2 {
		t.Fatalf("len(followUps) = %d, want 2", len(snap.FollowUps))
	}
	if snap.FollowUps[0].Question != "What about love?" {
		t.Errorf("followUps[0].Question = %q", snap.FollowUps[0].Question)
	}
	if !strings.Contains(snap.FollowUps[1].Answer.Text, "And money?") {
		t.Errorf("followUps[1].Answer = %q, want it to mention the question", snap.FollowUps[1].Answer.Text)
	}
	if snap.FollowUpsLeft != 0 {
		t.Errorf("FollowUpsLeft = %d, want 0", snap.FollowUpsLeft)
	}
	if got := h.credits.Balance(); got != 2 {
		t.Errorf("balance = %d, want 2", got)
	}
	if _, ok := h.credits.keys["sess-1:followup:2"]; !ok || len(h.credits.keys) != 3 {
		t.Errorf("charge keys = %v, want reading plus two follow-ups", h.credits.keys)
	}
}

func TestSessionFollowUpInsufficientCredits(t *testing.T) {
	h := newHarness(t, 1, nil)
	h.toReading(t)

	wantErr(t, h.session.AskFollowUp(context.Background(), "More?"), ErrInsufficientCredits)
	snap := h.session.Snapshot()
	if len(snap.FollowUps) != 0 || snap.Pending || snap.Phase != PhaseReading {
		t.Errorf("snapshot = %d follow-ups pending %v phase %v, want unchanged reading", len(snap.FollowUps), snap.Pending, snap.Phase)
	}
	if len(h.credits.refunds) != 0 {
		t.Errorf("refunds = %v, want none for an unpaid follow-up", h.credits.refunds)
	}
}

func TestSessionCloseDuringPaymentRefunds(t *testing.T) {
	h := newHarness(t, 5, nil)
	h.credits.block = make(chan struct{})
	h.credits.started = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.session.Begin(context.Background(), "Will it work out?") }()
	<-h.credits.started

	// Close must not wait for the blocking payment.
	h.session.Close()
	close(h.credits.block)

	wantErr(t, <-done, ErrSessionClosed)
	if got := h.credits.Balance(); got != 5 {
		t.Errorf("balance = %d, want 5 after refund", got)
	}
	if got := h.credits.refunds["refund:sess-1"]; got != 1 {
		t.Errorf("refunds = %v, want 1 under refund:sess-1", h.credits.refunds)
	}
	if snap := h.session.Snapshot(); snap.CreditsSpent || snap.Phase != PhaseIntro {
		t.Errorf("snapshot = spent %v phase %v, want unspent intro", snap.CreditsSpent, snap.Phase)
	}
}

func TestSessionUndeliveredFollowUpRefunds(t *testing.T) {
	tests := []struct {
		name    string
		cut     func(t *testing.T, h *harness)
		wantErr error
	}{
		{"closed", func(_ *testing.T, h *harness) { h.session.Close() }, ErrSessionClosed},
		{"superseded", func(t *testing.T, h *harness) {
			if err := h.session.NavigateTo(PhaseRevealing); err != nil {
				t.Errorf("NavigateTo: %v", err)
			}
		}, ErrSuperseded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 5, nil)
			h.toReading(t)
			h.interp.set(func(f *fakeInterpreter) {
				f.block = make(chan struct{})
				f.started = make(chan struct{})
			})

			done := make(chan error, 1)
			go func() { done <- h.session.AskFollowUp(context.Background(), "And love?") }()
			<-h.interp.started
			tt.cut(t, h)

			wantErr(t, <-done, tt.wantErr)
			if got := h.credits.Balance(); got != 4 {
				t.Errorf("balance = %d, want 4: only the reading stays paid", got)
			}
			if _, ok := h.credits.refunds["refund:sess-1:followup:1"]; !ok {
				t.Errorf("refunds = %v, want follow-up refund", h.credits.refunds)
			}
		})
	}
}

func TestSessionFollowUpFailureRefunds(t *testing.T) {
	h := newHarness(t, 5, nil)
	h.toReading(t)
	h.interp.set(func(f *fakeInterpreter) { f.err = interpret.ErrTimeout })

	wantErr(t, h.session.AskFollowUp(context.Background(), "And love?"), ErrInterpretation)
	if got := h.credits.Balance(); got != 4 {
		t.Errorf("balance = %d, want 4", got)
	}
	if got := h.session.Snapshot().FollowUpsLeft; got != 2 {
		t.Errorf("FollowUpsLeft = %d, want 2", got)
	}
}

func TestSessionChangesDeliveredInOrder(t *testing.T) {
	var (
		mu        sync.Mutex
		delivered []Snapshot
		once      sync.Once
		blocked   = make(chan struct{})
		release   = make(chan struct{})
	)
	h := newHarness(t, 5, func(o *Options) {
		o.OnChange = func(s Snapshot) {
			// Hold the Reading notification until a newer commit lands.
			if s.Phase == PhaseReading && !s.Pending {
				once.Do(func() {
					close(blocked)
					<-release
				})
			}
			mu.Lock()
			delivered = append(delivered, s)
			mu.Unlock()
		}
	})
	h.toRevealed(t)

	revealDone := make(chan error, 1)
	go func() { revealDone <- h.session.CompleteReveal(context.Background()) }()
	<-blocked

	navDone := make(chan error, 1)
	go func() { navDone <- h.session.NavigateTo(PhaseDrawing) }()
	deadline := time.Now().Add(time.Second)
	for h.session.Phase() != PhaseDrawing {
		if time.Now().After(deadline) {
			t.Fatal("navigation did not commit")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)

	if err := <-revealDone; err != nil {
		t.Fatalf("CompleteReveal: %v", err)
	}
	if err := <-navDone; err != nil {
		t.Fatalf("NavigateTo: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(delivered); i++ {
		if delivered[i].Version <= delivered[i-1].Version {
			t.Fatalf("delivery %d has version %d after %d", i, delivered[i].Version, delivered[i-1].Version)
		}
	}
	last := delivered[len(delivered)-1]
	if last.Phase != PhaseDrawing || last.Version != h.session.Snapshot().Version {
		t.Errorf("last delivered = phase %v version %d, want the current drawing state", last.Phase, last.Version)
	}
}

func TestSessionNotifyDropsStale(t *testing.T) {
	var got []uint64
	h := newHarness(t, 5, func(o *Options) {
		o.OnChange = func(s Snapshot) { got = append(got, s.Version) }
	})

	h.session.notify(Snapshot{Version: 5})
	h.session.notify(Snapshot{Version: 3})
	h.session.notify(Snapshot{Version: 5})
	h.session.notify(Snapshot{Version: 6})

	if !reflect.DeepEqual(got, []uint64{5, 6}) {
		t.Errorf("delivered versions = %v, want [5 6]", got)
	}
}

func TestSessionBack(t *testing.T) {
	h := newHarness(t, 5, nil)
	h.toReading(t)
	s := h.session

	for _, want := range []Phase{PhaseRevealing, PhaseDrawing, PhaseShuffleAnimating} {
		exited, err := s.Back()
		if err != nil {
			t.Fatalf("Back: %v", err)
		}
		if exited {
			t.Fatalf("Back exited at %v", s.Phase())
		}
		if got := s.Phase(); got != want {
			t.Errorf("phase = %v, want %v", got, want)
		}
	}

	// Intro is locked after payment, so back now leaves the flow.
	exited, err := s.Back()
	if err != nil {
		t.Fatalf("Back: %v", err)
	}
	if !exited || !s.Snapshot().Closed {
		t.Errorf("exited = %v closed = %v, want both true", exited, s.Snapshot().Closed)
	}
}

func TestSessionConcurrentActions(t *testing.T) {
	h := newHarness(t, 100, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.session.Begin(ctx, "Q")
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		if !errors.Is(err, ErrEffectPending) && !errors.Is(err, ErrWrongPhase) {
			t.Errorf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("successful begins = %d, want 1", ok)
	}
	if got := h.credits.Balance(); got != 99 {
		t.Errorf("balance = %d, want 99", got)
	}
}
