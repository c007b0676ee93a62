package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// IdempotencyKeyHeader may carry the request id instead of the body.
const IdempotencyKeyHeader = "Idempotency-Key"

// Gateway serves the NoteLedger API as HTTP/JSON on a grpc-gateway
// ServeMux. Errors are status errors mapped by HTTPStatusFromCode.
type Gateway struct {
	mux       *runtime.ServeMux
	svc       NoteLedgerServer
	marshaler runtime.Marshaler
	logger    zerolog.Logger
}

type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

func NewGateway(svc NoteLedgerServer, logger zerolog.Logger) (*Gateway, error) {
	g := &Gateway{
		svc:       svc,
		marshaler: &runtime.JSONBuiltin{},
		logger:    logger,
	}
	g.mux = runtime.NewServeMux(runtime.WithErrorHandler(g.errorHandler))

	// Later registrations take precedence, so literal segments such as
	// /v1/notes/count come after the {note_id} routes they overlap.
	routes := []route{
		{http.MethodPost, "/v1/notes", g.createNote},
		{http.MethodGet, "/v1/notes/{note_id}", g.getNoteStatus},
		{http.MethodGet, "/v1/notes/count", g.noteCount},
		{http.MethodPost, "/v1/notes/{note_id}/investments", g.invest},
		{http.MethodPost, "/v1/notes/{note_id}/yield", g.depositYield},
		{http.MethodGet, "/v1/notes/{note_id}/yield", g.depositHistory},
		{http.MethodGet, "/v1/notes/{note_id}/claimable/{investor}", g.claimable},
		{http.MethodGet, "/v1/notes/{note_id}/stakes/{investor}", g.stake},
		{http.MethodPost, "/v1/notes/{note_id}/claims", g.claim},
		{http.MethodGet, "/v1/notes/{note_id}/audit", g.auditNote},

		{http.MethodGet, "/v1/admin/journal", g.listJournal},
		{http.MethodGet, "/v1/admin/event-log", g.eventLogInfo},
		{http.MethodGet, "/v1/admin/integrity", g.verifyIntegrity},
		{http.MethodPost, "/v1/admin/snapshots", g.takeSnapshot},
		{http.MethodGet, "/v1/admin/status", g.systemStatus},
	}
	for _, rt := range routes {
		if err := g.mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return g, nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

// ============================================================================
// Commands
// ============================================================================

func (g *Gateway) createNote(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req CreateNoteRequest
	if !g.decode(w, r, &req) {
		return
	}
	req.RequestID = requestID(r, req.RequestID)
	g.reply(w, r, func(ctx context.Context) (any, error) { return g.svc.CreateNote(ctx, &req) })
}

func (g *Gateway) invest(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req InvestRequest
	if !g.decode(w, r, &req) || !g.noteID(w, r, params, &req.NoteID) {
		return
	}
	req.RequestID = requestID(r, req.RequestID)
	g.reply(w, r, func(ctx context.Context) (any, error) { return g.svc.Invest(ctx, &req) })
}

func (g *Gateway) depositYield(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req DepositYieldRequest
	if !g.decode(w, r, &req) || !g.noteID(w, r, params, &req.NoteID) {
		return
	}
	req.RequestID = requestID(r, req.RequestID)
	g.reply(w, r, func(ctx context.Context) (any, error) { return g.svc.DepositYield(ctx, &req) })
}

func (g *Gateway) claim(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req ClaimRequest
	if !g.decode(w, r, &req) || !g.noteID(w, r, params, &req.NoteID) {
		return
	}
	req.RequestID = requestID(r, req.RequestID)
	g.reply(w, r, func(ctx context.Context) (any, error) { return g.svc.Claim(ctx, &req) })
}

// ============================================================================
// Reads
// ============================================================================

func (g *Gateway) getNoteStatus(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req GetNoteStatusRequest
	if !g.noteID(w, r, params, &req.NoteID) {
		return
	}
	g.reply(w, r, func(ctx context.Context) (any, error) { return g.svc.GetNoteStatus(ctx, &req) })
}

func (g *Gateway) noteCount(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.reply(w, r, func(ctx context.Context) (any, error) { return g.svc.NoteCount(ctx, &NoteCountRequest{}) })
}

func (g *Gateway) claimable(w http.ResponseWriter, r *http.Request, params map[string]string) {
	req := InvestorRequest{Investor: params["investor"]}
	if !g.noteID(w, r, params, &req.NoteID) {
		return
	}
	g.reply(w, r, func(ctx context.Context) (any, error) { return g.svc.Claimable(ctx, &req) })
}

func (g *Gateway) stake(w http.ResponseWriter, r *http.Request, params map[string]string) {
	req := InvestorRequest{Investor: params["investor"]}
	if !g.noteID(w, r, params, &req.NoteID) {
		return
	}
	g.reply(w, r, func(ctx context.Context) (any, error) { return g.svc.GetStake(ctx, &req) })
}

func (g *Gateway) depositHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req DepositHistoryRequest
	if !g.noteID(w, r, params, &req.NoteID) {
		return
	}
	g.reply(w, r, func(ctx context.Context) (any, error) { return g.svc.DepositHistory(ctx, &req) })
}

// ============================================================================
// Admin
// ============================================================================

func (g *Gateway) auditNote(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req AuditNoteRequest
	if !g.noteID(w, r, params, &req.NoteID) {
		return
	}
	g.reply(w, r, func(ctx context.Context) (any, error) { return g.svc.AuditNote(ctx, &req) })
}

func (g *Gateway) listJournal(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req ListJournalRequest
	q := r.URL.Query()
	if v := q.Get("after"); v != "" {
		after, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			g.fail(w, r, status.Errorf(codes.InvalidArgument, "after: %v", err))
			return
		}
		req.After = after
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			g.fail(w, r, status.Errorf(codes.InvalidArgument, "limit: %v", err))
			return
		}
		req.Limit = limit
	}
	g.reply(w, r, func(ctx context.Context) (any, error) { return g.svc.ListJournal(ctx, &req) })
}

func (g *Gateway) eventLogInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.reply(w, r, func(ctx context.Context) (any, error) { return g.svc.GetEventLogInfo(ctx, &EventLogInfoRequest{}) })
}

func (g *Gateway) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.reply(w, r, func(ctx context.Context) (any, error) { return g.svc.VerifyIntegrity(ctx, &VerifyIntegrityRequest{}) })
}

func (g *Gateway) takeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.reply(w, r, func(ctx context.Context) (any, error) { return g.svc.TakeSnapshot(ctx, &TakeSnapshotRequest{}) })
}

func (g *Gateway) systemStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.reply(w, r, func(ctx context.Context) (any, error) { return g.svc.GetSystemStatus(ctx, &SystemStatusRequest{}) })
}

// --- helpers ---

func (g *Gateway) reply(w http.ResponseWriter, r *http.Request, call func(context.Context) (any, error)) {
	resp, err := call(r.Context())
	if err != nil {
		g.fail(w, r, err)
		return
	}

	body, err := g.marshaler.Marshal(resp)
	if err != nil {
		g.fail(w, r, status.Errorf(codes.Internal, "marshal response: %v", err))
		return
	}
	w.Header().Set("Content-Type", g.marshaler.ContentType(resp))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (g *Gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	runtime.HTTPError(r.Context(), g.mux, g.marshaler, w, r, err)
}

func (g *Gateway) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := g.marshaler.NewDecoder(r.Body).Decode(v); err != nil {
		g.fail(w, r, status.Errorf(codes.InvalidArgument, "invalid request body: %v", err))
		return false
	}
	return true
}

func (g *Gateway) noteID(w http.ResponseWriter, r *http.Request, params map[string]string, dst *uint64) bool {
	id, err := parseNoteID(params["note_id"])
	if err != nil {
		g.fail(w, r, toStatus(err))
		return false
	}
	*dst = id
	return true
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (g *Gateway) errorHandler(ctx context.Context, _ *runtime.ServeMux, m runtime.Marshaler, w http.ResponseWriter, r *http.Request, err error) {
	st := status.Convert(err)
	httpStatus := HTTPStatusFromCode(st.Code())

	// Routing failures (unknown path, wrong method) carry their own status.
	var hse *runtime.HTTPStatusError
	if errors.As(err, &hse) {
		st = status.Convert(hse.Err)
		httpStatus = hse.HTTPStatus
	}
	if httpStatus >= http.StatusInternalServerError {
		g.logger.Warn().Err(err).Str("path", r.URL.Path).Int("status", httpStatus).Msg("request failed")
	}

	body, merr := m.Marshal(errorBody{Code: st.Code().String(), Message: st.Message()})
	if merr != nil {
		body = []byte(`{"code":"Internal","message":"failed to marshal error"}`)
	}
	w.Header().Set("Content-Type", m.ContentType(nil))
	w.WriteHeader(httpStatus)
	w.Write(body)
}

// requestID prefers the body's request id and falls back to the
// Idempotency-Key header.
func requestID(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get(IdempotencyKeyHeader)
}
