// Command submit posts generated score submissions to a running gateway and
// reports how they were answered. With the defaults it sends exactly one.
package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/hiscore/internal/loadtest"
	"github.com/okian/hiscore/pkg/logger"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultRunTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL      = flag.String("url", "http://localhost:8080", "Base URL of the gateway")
		count        = flag.Int("n", 1, "Number of submissions to send")
		workers      = flag.Int("workers", runtime.NumCPU(), "Number of concurrent workers")
		timeout      = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		scoreValue   = flag.Int("score", -1, "Fixed score; negative picks a random one")
		player       = flag.String("player", "", "Fixed player tag; empty picks a random one")
		invalidEvery = flag.Int("invalid-every", 0, "Make every n-th submission malformed")
		sourceHeader = flag.String("source-header", "", "Header carrying a distinct source address per submission")
		output       = flag.String("output", "", "File receiving the generated submissions")
		verbose      = flag.Bool("verbose", false, "Log every response")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	stats, err := loadtest.Run(ctx, &loadtest.Config{
		BaseURL:      *baseURL,
		Count:        *count,
		Workers:      *workers,
		Timeout:      *timeout,
		Score:        *scoreValue,
		Player:       *player,
		InvalidEvery: *invalidEvery,
		SourceHeader: *sourceHeader,
		OutputFile:   *output,
		Verbose:      *verbose || *count == 1,
	})
	if err != nil {
		os.Stderr.WriteString("run failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	if stats.Failed > 0 {
		os.Exit(2)
	}
}
