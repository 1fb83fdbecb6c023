package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"
	"github.com/swaggest/swgui/v5emb"

	"github.com/arcanadesk/tarot/internal/credits"
	"github.com/arcanadesk/tarot/internal/handler/health"
	"github.com/arcanadesk/tarot/internal/tarot"
)

// HealthResponse documents GET /healthz: one result per dependency.
type HealthResponse map[string]health.Result

type readingIDPath struct {
	ID string `path:"id"`
}

type userIDPath struct {
	UserID string `path:"userID"`
}

type tokenQuery struct {
	ID    string `path:"id"`
	Token string `query:"token" description:"Bearer token, for clients that cannot set headers."`
}

type langQuery struct {
	Lang string `query:"lang" description:"Language tag; Accept-Language is used when absent."`
}

type limitQuery struct {
	Limit int `query:"limit" description:"Maximum number of entries, at most 200."`
}

type actionInput struct {
	ActionRequest
	ID string `path:"id"`
}

type grantInput struct {
	AdminGrantRequest
	UserID string `path:"userID"`
}

type operation struct {
	method, path, summary, description string
	req                                any
	resp                               map[int]any
	contentType                        string
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Tarot Reading API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Backend API for the tarot reading flow: credits, readings, history and admin tools.")

	ops := []operation{
		{http.MethodGet, "/healthz", "Health check", "Returns the health status of backend dependencies.", nil,
			map[int]any{http.StatusOK: HealthResponse{}, http.StatusServiceUnavailable: HealthResponse{}}, ""},
		{http.MethodGet, "/api/spreads", "List spreads", "Returns every spread with positions and credit cost.", nil,
			map[int]any{http.StatusOK: []tarot.Spread{}}, ""},
		{http.MethodGet, "/api/phases", "Reading phases", "Returns the ordered phases of a reading with localized labels.", langQuery{},
			map[int]any{http.StatusOK: PhasesResponse{}}, ""},
		{http.MethodGet, "/api/credits", "Credit balance", "Returns the caller's credit balance. Requires Bearer token.", nil,
			map[int]any{http.StatusOK: BalanceResponse{}, http.StatusUnauthorized: ErrorResponse{}}, ""},
		{http.MethodGet, "/api/credits/history", "Credit history", "Returns the caller's ledger entries, newest first. Requires Bearer token.", limitQuery{},
			map[int]any{http.StatusOK: []credits.Transaction{}, http.StatusUnauthorized: ErrorResponse{}}, ""},
		{http.MethodPost, "/api/readings", "Start reading", "Starts a fresh reading in the intro phase, discarding the caller's previous one. Requires Bearer token.", StartReadingRequest{},
			map[int]any{http.StatusCreated: ReadingResponse{}, http.StatusBadRequest: ErrorResponse{}, http.StatusNotFound: ErrorResponse{}, http.StatusTooManyRequests: ErrorResponse{}}, ""},
		{http.MethodGet, "/api/readings/current", "Current reading", "Returns the caller's live reading. Requires Bearer token.", nil,
			map[int]any{http.StatusOK: ReadingResponse{}, http.StatusNotFound: ErrorResponse{}}, ""},
		{http.MethodGet, "/api/readings/{id}", "Get reading", "Returns the state of a live reading, with face-down cards hidden. Requires Bearer token.", readingIDPath{},
			map[int]any{http.StatusOK: ReadingResponse{}, http.StatusNotFound: ErrorResponse{}}, ""},
		{http.MethodPost, "/api/readings/{id}/actions", "Reading action",
			"Applies one action: begin, stop_shuffle, draw, reveal, complete, follow_up, navigate, back or exit. Requires Bearer token.", actionInput{},
			map[int]any{
				http.StatusOK:              ReadingResponse{},
				http.StatusBadRequest:      ErrorResponse{},
				http.StatusPaymentRequired: ErrorResponse{},
				http.StatusNotFound:        ErrorResponse{},
				http.StatusConflict:        ErrorResponse{},
				http.StatusTooManyRequests: ErrorResponse{},
				http.StatusBadGateway:      ErrorResponse{},
				http.StatusGatewayTimeout:  ErrorResponse{},
			}, ""},
		{http.MethodDelete, "/api/readings/{id}", "Exit reading", "Leaves the reading flow. Requires Bearer token.", readingIDPath{},
			map[int]any{http.StatusNoContent: nil, http.StatusNotFound: ErrorResponse{}}, ""},
		{http.MethodGet, "/api/readings/{id}/events", "SSE event stream", "Server-Sent Events stream of state, reset and closed events. Pass token as query parameter.", tokenQuery{},
			map[int]any{http.StatusOK: nil}, "text/event-stream"},
		{http.MethodGet, "/api/readings/{id}/ws", "WebSocket channel", "Upgrades to a WebSocket that accepts actions and streams state. Pass token as query parameter.", tokenQuery{},
			map[int]any{http.StatusSwitchingProtocols: nil}, "text/plain"},
		{http.MethodGet, "/api/history", "Reading history", "Returns the caller's finished readings, newest first. Requires Bearer token.", limitQuery{},
			map[int]any{http.StatusOK: []HistorySummary{}, http.StatusUnauthorized: ErrorResponse{}}, ""},
		{http.MethodGet, "/api/history/{id}", "Finished reading", "Returns one finished reading with cards and follow-ups. Requires Bearer token.", readingIDPath{},
			map[int]any{http.StatusOK: HistoryEntry{}, http.StatusNotFound: ErrorResponse{}}, ""},
		{http.MethodPost, "/api/admin/login", "Admin login", "Authenticate with email and password. Sets admin_session cookie.", AdminLoginRequest{},
			map[int]any{http.StatusOK: AdminMeResponse{}, http.StatusUnauthorized: ErrorResponse{}}, ""},
		{http.MethodPost, "/api/admin/logout", "Admin logout", "Ends the admin session and expires the cookie.", nil,
			map[int]any{http.StatusOK: AdminLogoutResponse{}}, ""},
		{http.MethodGet, "/api/admin/me", "Current admin", "Returns the currently authenticated admin. Requires admin_session cookie.", nil,
			map[int]any{http.StatusOK: AdminMeResponse{}, http.StatusUnauthorized: ErrorResponse{}}, ""},
		{http.MethodGet, "/api/admin/users/{userID}/credits", "User credits", "Returns a user's balance and ledger. Requires admin_session cookie.", userIDPath{},
			map[int]any{http.StatusOK: AdminUserCreditsResponse{}, http.StatusUnauthorized: ErrorResponse{}}, ""},
		{http.MethodPost, "/api/admin/users/{userID}/credits", "Grant credits", "Adds credits to a user's balance. Requires admin_session cookie.", grantInput{},
			map[int]any{http.StatusOK: BalanceResponse{}, http.StatusBadRequest: ErrorResponse{}, http.StatusUnauthorized: ErrorResponse{}}, ""},
	}

	for _, op := range ops {
		oc, err := r.NewOperationContext(op.method, op.path)
		if err != nil {
			continue
		}
		oc.SetSummary(op.summary)
		oc.SetDescription(op.description)
		if op.req != nil {
			oc.AddReqStructure(op.req)
		}
		for status, body := range op.resp {
			opts := []openapi.ContentOption{openapi.WithHTTPStatus(status)}
			if body == nil && op.contentType != "" {
				opts = append(opts, openapi.WithContentType(op.contentType))
			}
			oc.AddRespStructure(body, opts...)
		}
		_ = r.AddOperation(oc)
	}

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

func handleSwaggerUI() http.HandlerFunc {
	return v5emb.New("Tarot Reading API", "/openapi.json", "/docs").ServeHTTP
}
