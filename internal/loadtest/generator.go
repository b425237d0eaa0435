package loadtest

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/okian/hiscore/internal/domain/score"
	"github.com/okian/hiscore/pkg/logger"
)

const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// malformed submissions cycle through these shapes.
var malformed = []Submission{ //nolint:gochecknoglobals // fixed fixture table
	{Score: score.MaxScore + 1, Player: "AAA"},
	{Score: -1, Player: "AAA"},
	{Score: 12.5, Player: "AAA"},
	{Score: "100", Player: "AAA"},
	{Score: 100, Player: "AB"},
	{Score: 100, Player: "A1C"},
	{Score: 100, Player: nil},
}

// generate builds config.Count submissions. Each gets a distinct source so a
// gateway trusting SourceHeader does not rate-limit the run against itself.
func generate(ctx context.Context, config *Config, stats *Stats) []Submission {
	logger.Get().Info(ctx, "generating submissions", logger.Int("count", config.Count))

	subs := make([]Submission, config.Count)
	for i := range subs {
		if config.InvalidEvery > 0 && (i+1)%config.InvalidEvery == 0 {
			subs[i] = malformed[(i/config.InvalidEvery)%len(malformed)]
		} else {
			subs[i] = Submission{Score: pickScore(config.Score), Player: pickPlayer(config.Player)}
		}
		subs[i].Source = sourceAddress(i)
	}

	stats.Generated = len(subs)
	return subs
}

func pickScore(fixed int) int {
	if fixed >= 0 {
		return fixed
	}
	return rand.IntN(score.MaxScore + 1)
}

func pickPlayer(fixed string) string {
	if fixed != "" {
		return fixed
	}
	b := make([]byte, 3)
	for i := range b {
		b[i] = letters[rand.IntN(len(letters))]
	}
	return string(b)
}

// sourceAddress maps i onto the 198.18.0.0/15 benchmarking range.
func sourceAddress(i int) string {
	return fmt.Sprintf("198.%d.%d.%d", 18+(i>>16)&1, (i>>8)&0xff, i&0xff)
}
