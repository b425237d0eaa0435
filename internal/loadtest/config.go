// Package loadtest drives a running gateway with generated submissions and
// tallies the responses by class.
package loadtest

import "time"

// Config holds configuration for a load run.
type Config struct {
	BaseURL      string        // Base URL of the gateway
	Count        int           // Number of submissions to send
	Workers      int           // Number of concurrent workers
	Timeout      time.Duration // HTTP request timeout
	Score        int           // Fixed score; negative means random
	Player       string        // Fixed player tag; empty means random
	InvalidEvery int           // Every n-th submission is malformed; 0 disables
	SourceHeader string        // Header carrying a per-submission source address; empty sends none
	OutputFile   string        // Optional file receiving the generated submissions
	Verbose      bool          // Log every response
}

// Submission is the body POSTed to the gateway.
type Submission struct {
	Score  any    `json:"score"`
	Player any    `json:"player"`
	Source string `json:"-"`
}

// Response is the gateway reply body.
type Response struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// Stats holds run statistics.
type Stats struct {
	Generated   int
	Submitted   int
	Accepted    int
	Invalid     int
	RateLimited int
	Failed      int
	HighScore   int // highest accepted score
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
}
