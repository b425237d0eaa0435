// Package runner receives repository dispatches on behalf of a self-hosted
// automation runner and hands them to the arbiter.
package runner

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/hiscore/internal/adapters/http/api"
	"github.com/okian/hiscore/internal/adapters/trigger"
	"github.com/okian/hiscore/internal/app"
	"github.com/okian/hiscore/internal/domain/arbiter"
	"github.com/okian/hiscore/internal/domain/model"
	"github.com/okian/hiscore/internal/domain/score"
	"github.com/okian/hiscore/pkg/logger"
)

const maxDispatchBytes = 64 << 10

// Arbiter accepts dispatch events for asynchronous arbitration.
type Arbiter interface {
	Enqueue(ctx context.Context, e model.DispatchEvent) bool
	Stats() app.Stats
}

// Server serves the runner HTTP surface.
type Server struct {
	arbiter   Arbiter
	actions   arbiter.ReviewActions
	owner     string
	repo      string
	token     []byte
	validator *score.Validator
	log       logger.Logger
}

// New creates a runner server accepting dispatches for repository
// ("owner/name") authenticated with token.
func New(arb Arbiter, repository, token string, opts ...Option) (*Server, error) {
	owner, repo, err := trigger.SplitRepository(repository)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrMissingToken
	}
	s := &Server{
		arbiter:   arb,
		owner:     owner,
		repo:      repo,
		token:     []byte(token),
		validator: score.NewValidator(),
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register attaches all runner routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}

	mux.HandleFunc("POST /repos/{owner}/{repo}/dispatches", api.MetricsMiddleware(s.authorized(s.handleDispatch), "dispatches"))
	if s.actions != nil {
		mux.HandleFunc("POST /reviews/{slot}/merge", api.MetricsMiddleware(s.authorized(s.handleMerge), "review_merge"))
		mux.HandleFunc("POST /reviews/{slot}/close", api.MetricsMiddleware(s.authorized(s.handleClose), "review_close"))
		mux.HandleFunc("GET /records/{slot}", api.MetricsMiddleware(s.handleRecord, "records"))
	}
	mux.HandleFunc("GET /healthz", api.MetricsMiddleware(s.handleHealth, "healthz"))
	mux.Handle("GET /metrics", api.MetricsHandler())
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.validToken(r.Header.Get("Authorization")) {
			s.log.Warn(r.Context(), "unauthorized runner request", logger.String("path", r.URL.Path))
			writeMessage(w, http.StatusUnauthorized, ErrUnauthorized.Error())
			return
		}
		next(w, r)
	}
}

// validToken accepts "Bearer <token>" and "token <token>".
func (s *Server) validToken(header string) bool {
	scheme, value, ok := strings.Cut(header, " ")
	if !ok {
		return false
	}
	if !strings.EqualFold(scheme, "bearer") && !strings.EqualFold(scheme, "token") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(value)), s.token) == 1
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !strings.EqualFold(r.PathValue("owner"), s.owner) || !strings.EqualFold(r.PathValue("repo"), s.repo) {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}

	var req model.DispatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDispatchBytes)).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}

	e, err := s.decodeEvent(req)
	if err != nil {
		s.log.Warn(ctx, "dispatch refused", logger.Error(err))
		writeMessage(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if !s.arbiter.Enqueue(ctx, e) {
		w.Header().Set("Retry-After", "1")
		writeMessage(w, http.StatusTooManyRequests, "arbiter queue is full")
		return
	}
	s.log.Debug(ctx, "dispatch queued",
		logger.String("dispatch_id", e.ID),
		logger.Int("score", e.Score),
		logger.String("player", e.Player),
	)
	w.WriteHeader(http.StatusNoContent)
}

// decodeEvent checks the event type and re-validates the payload; the
// runner never trusts that the gateway validated it.
func (s *Server) decodeEvent(req model.DispatchRequest) (model.DispatchEvent, error) {
	if req.EventType != model.EventTypeUpdateScore {
		return model.DispatchEvent{}, fmt.Errorf("%w: %q", ErrUnsupportedEvent, req.EventType)
	}
	return DecodePayload(s.validator, req.ClientPayload)
}

// DecodePayload parses and validates an update-score client payload.
func DecodePayload(v *score.Validator, raw json.RawMessage) (model.DispatchEvent, error) {
	var p model.DispatchPayload
	if len(raw) == 0 {
		return model.DispatchEvent{}, fmt.Errorf("%w: missing", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.DispatchEvent{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if p.EventType != "" && p.EventType != model.EventTypeUpdateScore {
		return model.DispatchEvent{}, fmt.Errorf("%w: %q", ErrUnsupportedEvent, p.EventType)
	}
	sub, err := v.ValidateValues(p.Score, p.Player)
	if err != nil {
		return model.DispatchEvent{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	e := p.Event()
	e.Player = sub.Player
	return e, nil
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	slot := r.PathValue("slot")
	rec, err := s.actions.Merge(r.Context(), slot)
	if err != nil {
		s.actionError(w, r, "merge", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	slot := r.PathValue("slot")
	if err := s.actions.Discard(r.Context(), slot); err != nil {
		s.actionError(w, r, "close", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.actions.Published(r.Context(), r.PathValue("slot"))
	if err != nil {
		s.actionError(w, r, "read", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) actionError(w http.ResponseWriter, r *http.Request, action string, err error) {
	if errors.Is(err, arbiter.ErrNoProposal) {
		writeMessage(w, http.StatusNotFound, err.Error())
		return
	}
	s.log.Error(r.Context(), "review action failed",
		logger.String("action", action),
		logger.String("slot", r.PathValue("slot")),
		logger.Error(err),
	)
	writeMessage(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "arbiter": s.arbiter.Stats()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
