// Package app wires domain components into the gateway and arbiter services.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/okian/hiscore/internal/domain/model"
	"github.com/okian/hiscore/internal/domain/ratelimit"
	"github.com/okian/hiscore/internal/domain/score"
	"github.com/okian/hiscore/pkg/logger"
	"github.com/okian/hiscore/pkg/metrics"
)

// Validator checks raw submissions.
type Validator interface {
	Validate(in score.Input) (model.Submission, error)
}

// RateLimiter is the split check/record contract of the limiter.
type RateLimiter interface {
	Check(ctx context.Context, source string) (ratelimit.Decision, error)
	Record(ctx context.Context, source string) error
}

// Trigger forwards accepted submissions.
type Trigger interface {
	Dispatch(ctx context.Context, e model.DispatchEvent) error
}

// Gateway accepts score submissions.
type Gateway struct {
	validator Validator
	limiter   RateLimiter
	trigger   Trigger
	now       func() time.Time
	newID     func() string
	logger    logger.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayLogger sets the logger.
func WithGatewayLogger(l logger.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithGatewayClock overrides the submission clock.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// WithValidator replaces the default score validator.
func WithValidator(v Validator) GatewayOption {
	return func(g *Gateway) {
		if v != nil {
			g.validator = v
		}
	}
}

// WithIDGenerator overrides dispatch ID generation.
func WithIDGenerator(f func() string) GatewayOption {
	return func(g *Gateway) {
		if f != nil {
			g.newID = f
		}
	}
}

// NewGateway creates a Gateway.
func NewGateway(limiter RateLimiter, trigger Trigger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		validator: score.NewValidator(),
		limiter:   limiter,
		trigger:   trigger,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Submit validates, rate-limits and forwards one submission from source.
//
// Errors: *score.Rejection, *ratelimit.DeniedError, ErrRateLimitUnavailable, ErrDispatch.
// The rate-limit entry is written only after a successful dispatch.
func (g *Gateway) Submit(ctx context.Context, source string, in score.Input) (model.DispatchEvent, error) {
	sub, err := g.validator.Validate(in)
	if err != nil {
		metrics.RecordSubmission("invalid")
		g.logger.Debug(ctx, "submission rejected", logger.String("source", source), logger.Error(err))
		return model.DispatchEvent{}, err
	}

	decision, err := g.limiter.Check(ctx, source)
	if err != nil {
		metrics.RecordSubmission("error")
		g.logger.Error(ctx, "rate limit check failed", logger.String("source", source), logger.Error(err))
		return model.DispatchEvent{}, fmt.Errorf("%w: %w", ErrRateLimitUnavailable, err)
	}
	metrics.RecordRateLimitDecision(decision.Allowed)
	if !decision.Allowed {
		metrics.RecordSubmission("rate_limited")
		g.logger.Debug(ctx, "submission rate limited",
			logger.String("source", source),
			logger.Int("retry_after", decision.RetryAfter),
		)
		return model.DispatchEvent{}, &ratelimit.DeniedError{RetryAfter: decision.RetryAfter}
	}

	event := model.DispatchEvent{
		ID:          g.newID(),
		Score:       sub.Score,
		Player:      sub.Player,
		SubmittedAt: g.now(),
	}
	if err := g.trigger.Dispatch(ctx, event); err != nil {
		metrics.RecordSubmission("dispatch_failed")
		return model.DispatchEvent{}, fmt.Errorf("%w: %w", ErrDispatch, err)
	}

	if err := g.limiter.Record(ctx, source); err != nil {
		// The dispatch already went out, so the request still succeeds.
		g.logger.Warn(ctx, "rate limit record failed", logger.String("source", source), logger.Error(err))
	}

	metrics.RecordSubmission("accepted")
	g.logger.Info(ctx, "submission accepted",
		logger.String("dispatch_id", event.ID),
		logger.Int("score", event.Score),
		logger.String("player", event.Player),
	)
	return event, nil
}

// IsClientError reports whether err is a validation rejection.
func IsClientError(err error) bool {
	return score.IsRejection(err)
}

// RetryAfter extracts the denial delay from err.
func RetryAfter(err error) (int, bool) {
	var denied *ratelimit.DeniedError
	if errors.As(err, &denied) {
		return denied.RetryAfter, true
	}
	return 0, false
}
