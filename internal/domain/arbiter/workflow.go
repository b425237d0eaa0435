package arbiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/okian/hiscore/internal/domain/model"
	"github.com/okian/hiscore/internal/domain/score"
	"github.com/okian/hiscore/pkg/logger"
	"github.com/okian/hiscore/pkg/metrics"
)

const (
	// DefaultSlot is the single leaderboard identity.
	DefaultSlot = "highscore"

	defaultMaxAttempts   = 5
	defaultRetryInterval = 50 * time.Millisecond
	maxRetryInterval     = 2 * time.Second
)

// Workflow runs score arbitration for one slot.
type Workflow struct {
	store         Store
	locker        Locker
	validator     *score.Validator
	slot          string
	maxAttempts   int
	retryInterval time.Duration
	log           logger.Logger
}

// NewWorkflow creates a Workflow over store.
func NewWorkflow(store Store, opts ...Option) *Workflow {
	w := &Workflow{
		store:         store,
		locker:        NewKeyedLocker(),
		validator:     score.NewValidator(),
		slot:          DefaultSlot,
		maxAttempts:   defaultMaxAttempts,
		retryInterval: defaultRetryInterval,
		log:           logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Slot returns the arbitrated slot.
func (w *Workflow) Slot() string { return w.slot }

// Run arbitrates one dispatch event.
func (w *Workflow) Run(ctx context.Context, e model.DispatchEvent) (Result, error) {
	start := time.Now()

	sub, err := w.validator.ValidateValues(e.Score, e.Player)
	if err != nil {
		metrics.RecordWorkflowRun("invalid", float64(time.Since(start).Milliseconds()))
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	e.Player = sub.Player

	unlock, err := w.locker.Lock(ctx, w.slot)
	if err != nil {
		metrics.RecordWorkflowRun("error", float64(time.Since(start).Milliseconds()))
		return Result{}, fmt.Errorf("lock slot %s: %w", w.slot, err)
	}
	defer unlock()

	res, err := w.runWithRetry(ctx, e)
	elapsed := float64(time.Since(start).Milliseconds())
	if err != nil {
		metrics.RecordWorkflowRun("error", elapsed)
		w.log.Error(ctx, "arbitration failed",
			logger.String("slot", w.slot),
			logger.String("dispatch_id", e.ID),
			logger.Int("attempts", res.Attempts),
			logger.Error(err),
		)
		return res, err
	}

	metrics.RecordWorkflowRun(string(res.Outcome), elapsed)
	w.log.Info(ctx, "arbitration finished",
		logger.String("slot", w.slot),
		logger.String("dispatch_id", e.ID),
		logger.String("outcome", string(res.Outcome)),
		logger.Int("score", e.Score),
		logger.String("player", e.Player),
		logger.Int("candidate", res.Candidate.Score),
		logger.Bool("healed", res.Healed),
		logger.Int("attempts", res.Attempts),
	)
	return res, nil
}

func (w *Workflow) runWithRetry(ctx context.Context, e model.DispatchEvent) (Result, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.retryInterval
	eb.MaxInterval = maxRetryInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(w.maxAttempts-1)), ctx)

	var (
		res      Result
		attempts int
	)
	op := func() error {
		attempts++
		r, err := w.attempt(ctx, e)
		if errors.Is(err, ErrConflict) {
			metrics.RecordWorkflowConflict()
			w.log.Debug(ctx, "proposal write conflict, retrying",
				logger.String("slot", w.slot),
				logger.Int("attempt", attempts),
			)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		res = r
		return nil
	}

	err := backoff.Retry(op, policy)
	res.Attempts = attempts
	if errors.Is(err, ErrConflict) {
		return res, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
	}
	return res, err
}

// attempt is one read-compare-write pass.
func (w *Workflow) attempt(ctx context.Context, e model.DispatchEvent) (Result, error) {
	snap, err := w.store.Resolve(ctx, w.slot)
	if err != nil {
		return Result{}, fmt.Errorf("resolve %s: %w", w.slot, err)
	}

	candidate := snap.Candidate()
	rec := e.Record()

	if !Beats(rec, candidate) {
		res := Result{Outcome: OutcomeRejectedNotHigher, Candidate: candidate}
		if snap.Proposal == nil {
			return res, nil
		}
		// A previous run may have died between writing the proposal and opening its review.
		review, healed, err := w.ensureReview(ctx, Change{Record: *snap.Proposal, Published: snap.Published})
		if err != nil {
			return Result{}, err
		}
		res.Review = review
		res.Healed = healed
		return res, nil
	}

	if err := w.store.WriteProposal(ctx, w.slot, snap, rec); err != nil {
		return Result{}, fmt.Errorf("write proposal: %w", err)
	}

	change := Change{Record: rec, Published: snap.Published, EventID: e.ID}
	review, err := w.publish(ctx, change)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeProposed, Candidate: rec, Review: review}, nil
}

// publish creates the review thread, or notes the revision on the open one.
func (w *Workflow) publish(ctx context.Context, change Change) (*Review, error) {
	open, err := w.store.OpenReview(ctx, w.slot)
	if err != nil {
		return nil, fmt.Errorf("find review: %w", err)
	}

	if open == nil {
		created, err := w.store.CreateReview(ctx, w.slot, change)
		switch {
		case err == nil:
			metrics.RecordReviewPublished("created")
			return &created, nil
		case !errors.Is(err, ErrConflict):
			return nil, fmt.Errorf("create review: %w", err)
		}
		// Opened concurrently; comment on that one instead.
		open, err = w.store.OpenReview(ctx, w.slot)
		if err != nil {
			return nil, fmt.Errorf("find review: %w", err)
		}
		if open == nil {
			return nil, fmt.Errorf("%w: review closed during create", ErrConflict)
		}
	}

	if err := w.store.CommentReview(ctx, w.slot, *open, change); err != nil {
		return nil, fmt.Errorf("comment review #%d: %w", open.Number, err)
	}
	metrics.RecordReviewPublished("commented")
	return open, nil
}

func (w *Workflow) ensureReview(ctx context.Context, change Change) (*Review, bool, error) {
	open, err := w.store.OpenReview(ctx, w.slot)
	if err != nil {
		return nil, false, fmt.Errorf("find review: %w", err)
	}
	if open != nil {
		return open, false, nil
	}

	created, err := w.store.CreateReview(ctx, w.slot, change)
	if errors.Is(err, ErrConflict) {
		open, err = w.store.OpenReview(ctx, w.slot)
		if err != nil {
			return nil, false, fmt.Errorf("find review: %w", err)
		}
		return open, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create review: %w", err)
	}
	metrics.RecordReviewPublished("healed")
	return &created, true, nil
}
