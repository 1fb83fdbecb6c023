package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/arcanadesk/tarot/internal/auth"
	"github.com/arcanadesk/tarot/internal/credits"
	"github.com/arcanadesk/tarot/internal/database"
	"github.com/arcanadesk/tarot/internal/i18n"
	"github.com/arcanadesk/tarot/internal/interpret"
	"github.com/arcanadesk/tarot/internal/metrics"
	"github.com/arcanadesk/tarot/internal/migrations"
	"github.com/arcanadesk/tarot/internal/reading"
	"github.com/arcanadesk/tarot/internal/tarot"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

type stubInterpreter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubInterpreter) Interpret(_ context.Context, req interpret.Request) (interpret.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return interpret.Result{}, s.err
	}
	return interpret.Result{Text: "The " + req.Spread.Name + " speaks of change.", Style: string(req.Style.Tone)}, nil
}

func (s *stubInterpreter) FollowUp(_ context.Context, req interpret.FollowUpRequest) (interpret.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return interpret.Result{}, s.err
	}
	return interpret.Result{Text: "About " + req.FollowUp + ": patience."}, nil
}

type testEnv struct {
	t        *testing.T
	handler  http.Handler
	server   *Server
	ledger   *credits.Ledger
	verifier *auth.Verifier
	sessions *reading.Manager
	interp   *stubInterpreter
	admins   *SQLiteAdminStore
}

func newTestEnv(t *testing.T, configure ...func(*Deps)) *testEnv {
	t.Helper()

	db, err := database.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr, err := i18n.Load()
	if err != nil {
		t.Fatalf("i18n: %v", err)
	}

	catalog := tarot.NewCatalog()
	ledger := credits.NewLedger(db, logger)
	interp := &stubInterpreter{}
	sessions := reading.NewManager(reading.Deps{
		Credits:     ledger,
		Cards:       tarot.NewDealer(catalog, rand.New(rand.NewSource(3))),
		Interpreter: interp,
		Logger:      logger,
	}, time.Hour)

	deps := Deps{
		DB:             db,
		Ledger:         ledger,
		Catalog:        catalog,
		Sessions:       sessions,
		Verifier:       auth.NewVerifier(testSecret, "test"),
		I18n:           tr,
		Metrics:        metrics.New(),
		MaxFollowUps:   2,
		RateLimitRPS:   100,
		RateLimitBurst: 100,
	}
	for _, fn := range configure {
		fn(&deps)
	}

	srv := New(":0", logger, deps, nil)
	return &testEnv{
		t:        t,
		handler:  srv.Handler(),
		server:   srv,
		ledger:   ledger,
		verifier: deps.Verifier,
		sessions: sessions,
		interp:   interp,
		admins:   NewSQLiteAdminStore(db),
	}
}

func (e *testEnv) token(userID string) string {
	e.t.Helper()
	tok, err := e.verifier.Issue(userID, time.Hour)
	if err != nil {
		e.t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (e *testEnv) grant(userID string, amount int64) {
	e.t.Helper()
	if _, err := e.ledger.Grant(context.Background(), userID, amount, "test", ""); err != nil {
		e.t.Fatalf("grant: %v", err)
	}
}

// do sends a request as userID (anonymous when empty) and returns the recorder.
func (e *testEnv) do(method, path, userID string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(userID))
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) start(userID, spreadID string) ReadingResponse {
	e.t.Helper()
	w := e.do(http.MethodPost, "/api/readings", userID, StartReadingRequest{SpreadID: spreadID})
	if w.Code != http.StatusCreated {
		e.t.Fatalf("start reading: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decode[ReadingResponse](e.t, w)
}

func (e *testEnv) act(userID, id string, req ActionRequest) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.do(http.MethodPost, "/api/readings/"+id+"/actions", userID, req)
}

func (e *testEnv) mustAct(userID, id string, req ActionRequest) ReadingResponse {
	e.t.Helper()
	w := e.act(userID, id, req)
	if w.Code != http.StatusOK {
		e.t.Fatalf("%s: expected 200, got %d: %s", req.Action, w.Code, w.Body.String())
	}
	return decode[ReadingResponse](e.t, w)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v", v, err)
	}
	return v
}
