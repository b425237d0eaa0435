package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/hiscore/pkg/logger"
)

// Result classes of a single submission.
const (
	resultAccepted    = "accepted"
	resultInvalid     = "invalid"
	resultRateLimited = "rate_limited"
	resultFailed      = "failed"
)

const workerChannelMultiplier = 2

// HTTPClient wraps http.Client with timeout.
type HTTPClient struct {
	client *http.Client
}

func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// Get performs a GET request.
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with a JSON body and extra headers.
func (c *HTTPClient) Post(ctx context.Context, url string, body any, header http.Header) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	return c.client.Do(req)
}

// submitAll posts subs through a worker pool and fills stats.
func submitAll(ctx context.Context, config *Config, subs []Submission, stats *Stats) {
	log := logger.Get()
	log.Info(ctx, "submitting", logger.Int("count", len(subs)), logger.Int("workers", config.Workers))

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/"

	var (
		submitted, accepted, invalid, limited, failed atomic.Int64
		mu                                            sync.Mutex
		high                                          = -1
	)

	ch := make(chan Submission, config.Workers*workerChannelMultiplier)
	var wg sync.WaitGroup

	for range config.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range ch {
				result, resp := submitOne(ctx, client, url, config.SourceHeader, sub)
				submitted.Add(1)
				switch result {
				case resultAccepted:
					accepted.Add(1)
					if n, ok := sub.Score.(int); ok {
						mu.Lock()
						high = max(high, n)
						mu.Unlock()
					}
				case resultInvalid:
					invalid.Add(1)
				case resultRateLimited:
					limited.Add(1)
				default:
					failed.Add(1)
				}
				if config.Verbose {
					log.Info(ctx, "response",
						logger.String("result", result),
						logger.Any("score", sub.Score),
						logger.Any("player", sub.Player),
						logger.String("error", resp.Error),
						logger.Int("retryAfter", resp.RetryAfter),
					)
				}
			}
		}()
	}

	go func() {
		defer close(ch)
		for _, sub := range subs {
			select {
			case <-ctx.Done():
				return
			case ch <- sub:
			}
		}
	}()

	wg.Wait()

	stats.Submitted = int(submitted.Load())
	stats.Accepted = int(accepted.Load())
	stats.Invalid = int(invalid.Load())
	stats.RateLimited = int(limited.Load())
	stats.Failed = int(failed.Load())
	stats.HighScore = high
}

// submitOne posts one submission and classifies the reply.
func submitOne(ctx context.Context, client *HTTPClient, url, sourceHeader string, sub Submission) (string, Response) {
	var header http.Header
	if sourceHeader != "" {
		header = http.Header{http.CanonicalHeaderKey(sourceHeader): {sub.Source}}
	}

	resp, err := client.Post(ctx, url, sub, header)
	if err != nil {
		return resultFailed, Response{Error: err.Error()}
	}
	defer resp.Body.Close()

	var out Response
	body, err := io.ReadAll(resp.Body)
	if err == nil {
		_ = json.Unmarshal(body, &out)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resultAccepted, out
	case http.StatusBadRequest:
		return resultInvalid, out
	case http.StatusTooManyRequests:
		return resultRateLimited, out
	default:
		return resultFailed, out
	}
}
