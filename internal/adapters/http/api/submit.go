package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/okian/hiscore/internal/app"
	"github.com/okian/hiscore/internal/domain/model"
	"github.com/okian/hiscore/internal/domain/score"
	"github.com/okian/hiscore/pkg/logger"
)

const (
	maxBodyBytes   = 4 << 10
	allowedMethods = "POST, OPTIONS"

	msgInvalidRequest   = "Invalid request"
	msgRateLimited      = "Too many submissions, please wait before trying again"
	msgInternal         = "Internal server error"
	msgMethodNotAllowed = "Method not allowed"
	msgNotFound         = "Not found"
)

// Submitter accepts one validated, rate-limited submission.
type Submitter interface {
	Submit(ctx context.Context, source string, in score.Input) (model.DispatchEvent, error)
}

// SubmitHandler handles score submissions.
type SubmitHandler struct {
	submitter Submitter
	ipHeader  string
	log       logger.Logger
}

// NewSubmitHandler creates a submit handler. ipHeader names a trusted proxy
// header to read the caller address from; empty uses the TCP peer.
func NewSubmitHandler(s Submitter, ipHeader string, log logger.Logger) *SubmitHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &SubmitHandler{submitter: s, ipHeader: ipHeader, log: log}
}

// HandleSubmit handles POST / and POST /submit.
func (h *SubmitHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit"
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", allowedMethods)
		writeError(w, http.StatusMethodNotAllowed, msgMethodNotAllowed)
		return
	}

	var in score.Input
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	err := dec.Decode(&in)
	if err == nil {
		// Exactly one JSON value.
		if _, tail := dec.Token(); !errors.Is(tail, io.EOF) {
			err = errors.New("trailing data after submission")
		}
	}
	if err != nil {
		h.log.Debug(ctx, "undecodable submission", logger.Error(WrapKind(op, ErrBadRequest, err)))
		writeError(w, http.StatusBadRequest, msgInvalidRequest)
		return
	}

	_, err = h.submitter.Submit(ctx, clientSource(r, h.ipHeader), in)
	if err == nil {
		writeJSON(w, http.StatusOK, successResponse{Success: true})
		return
	}

	if app.IsClientError(err) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if retry, ok := app.RetryAfter(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: msgRateLimited, RetryAfter: retry})
		return
	}

	h.log.Error(ctx, "submission failed", logger.Error(WrapKind(op, ErrInternal, err)))
	writeError(w, http.StatusInternalServerError, msgInternal)
}

// HandleNotFound answers paths outside the gateway routes.
func HandleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, msgNotFound)
}
