package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/okian/hiscore/pkg/logger"
)

const (
	outputFilePermission = 0o600
	percentageMultiplier = 100
)

// Run executes a load run and returns its statistics.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	if config.Workers < 1 {
		config.Workers = 1
	}
	stats := &Stats{StartTime: time.Now()}

	logger.Get().Info(ctx, "starting gateway load run",
		logger.String("baseURL", config.BaseURL),
		logger.Int("count", config.Count),
		logger.Int("workers", config.Workers),
		logger.Duration("timeout", config.Timeout),
		logger.String("sourceHeader", config.SourceHeader),
	)

	if err := checkHealth(ctx, config); err != nil {
		return nil, fmt.Errorf("gateway health check failed: %w", err)
	}

	subs := generate(ctx, config, stats)
	if config.OutputFile != "" {
		if err := saveSubmissions(ctx, config.OutputFile, subs); err != nil {
			return nil, err
		}
	}

	submitAll(ctx, config, subs, stats)

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)
	return stats, nil
}

func checkHealth(ctx context.Context, config *Config) error {
	resp, err := newHTTPClient(config.Timeout).Get(ctx, config.BaseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}

func saveSubmissions(ctx context.Context, filename string, subs []Submission) error {
	data, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal submissions: %w", err)
	}
	if err := os.WriteFile(filename, data, outputFilePermission); err != nil {
		return fmt.Errorf("failed to write submissions: %w", err)
	}
	logger.Get().Info(ctx, "submissions saved", logger.String("filename", filename))
	return nil
}

func displayFinalStats(ctx context.Context, stats *Stats) {
	var acceptRate, perSecond float64
	if stats.Submitted > 0 {
		acceptRate = float64(stats.Accepted) / float64(stats.Submitted) * percentageMultiplier
	}
	if stats.Duration > 0 {
		perSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("generated", stats.Generated),
		logger.Int("submitted", stats.Submitted),
		logger.Int("accepted", stats.Accepted),
		logger.Int("invalid", stats.Invalid),
		logger.Int("rateLimited", stats.RateLimited),
		logger.Int("failed", stats.Failed),
		logger.Int("highScore", stats.HighScore),
		logger.Duration("duration", stats.Duration),
		logger.Float64("acceptRate", acceptRate),
		logger.Float64("perSecond", perSecond),
	)
}
