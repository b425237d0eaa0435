// Package trigger signals the arbitration workflow through a repository
// dispatch call. Each accepted submission produces exactly one call and
// failures are never retried here.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/okian/hiscore/internal/domain/model"
	"github.com/okian/hiscore/pkg/logger"
	"github.com/okian/hiscore/pkg/metrics"
)

const (
	defaultBaseURL = "https://api.github.com/"
	defaultTimeout = 5 * time.Second
)

// Client dispatches accepted submissions.
type Client struct {
	owner      string
	repo       string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	gh         *github.Client
	log        logger.Logger
}

// New creates a Client for repository ("owner/name") authenticated with token.
func New(repository, token string, opts ...Option) (*Client, error) {
	owner, repo, err := SplitRepository(repository)
	if err != nil {
		return nil, err
	}

	c := &Client{
		owner:      owner,
		repo:       repo,
		baseURL:    defaultBaseURL,
		timeout:    defaultTimeout,
		httpClient: &http.Client{},
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	hc := *c.httpClient
	hc.Timeout = c.timeout

	gh := github.NewClient(&hc).WithAuthToken(token)
	base, err := url.Parse(c.baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, c.baseURL)
	}
	base.Path = ensureSlash(base.Path)
	gh.BaseURL = base
	c.gh = gh
	return c, nil
}

// Dispatch sends one update-score dispatch for e.
func (c *Client) Dispatch(ctx context.Context, e model.DispatchEvent) error {
	payload, err := json.Marshal(e.Payload())
	if err != nil {
		return fmt.Errorf("%w: encode payload: %w", ErrDispatchFailed, err)
	}
	raw := json.RawMessage(payload)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	_, resp, err := c.gh.Repositories.Dispatch(ctx, c.owner, c.repo, github.DispatchRequestOptions{
		EventType:     model.EventTypeUpdateScore,
		ClientPayload: &raw,
	})
	latency := float64(time.Since(start).Milliseconds())

	if err != nil {
		metrics.RecordTriggerDispatch(false, latency)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.log.Error(ctx, "repository dispatch failed",
			logger.String("repository", c.owner+"/"+c.repo),
			logger.String("dispatch_id", e.ID),
			logger.Int("status", status),
			logger.String("reason", failureReason(err)),
		)
		if status != 0 {
			return fmt.Errorf("%w: status %d", ErrDispatchFailed, status)
		}
		return fmt.Errorf("%w: %s", ErrDispatchFailed, failureReason(err))
	}

	metrics.RecordTriggerDispatch(true, latency)
	c.log.Debug(ctx, "repository dispatch sent",
		logger.String("dispatch_id", e.ID),
		logger.Int("score", e.Score),
		logger.String("player", e.Player),
	)
	return nil
}

// failureReason classifies err without echoing request details.
func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "timeout"
	}
	var ge *github.ErrorResponse
	if errors.As(err, &ge) {
		return "rejected"
	}
	return "transport"
}

// SplitRepository parses "owner/name".
func SplitRepository(repository string) (string, string, error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(repository), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRepository, repository)
	}
	return owner, repo, nil
}

func ensureSlash(p string) string {
	if !strings.HasSuffix(p, "/") {
		return p + "/"
	}
	return p
}
