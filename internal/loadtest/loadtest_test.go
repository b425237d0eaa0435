package loadtest_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/hiscore/internal/adapters/http/api"
	"github.com/okian/hiscore/internal/app"
	"github.com/okian/hiscore/internal/domain/model"
	"github.com/okian/hiscore/internal/domain/ratelimit"
	"github.com/okian/hiscore/internal/loadtest"
	"github.com/okian/hiscore/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type countingTrigger struct {
	calls atomic.Int64
	fail  bool
}

func (c *countingTrigger) Dispatch(context.Context, model.DispatchEvent) error {
	if c.fail {
		return errors.New("trigger down")
	}
	c.calls.Add(1)
	return nil
}

func newGateway(trig app.Trigger) *httptest.Server {
	store := ratelimit.NewMemoryStore(ratelimit.WithSweepInterval(0))
	gw := app.NewGateway(ratelimit.NewLimiter(store), trig)
	mux := http.NewServeMux()
	api.NewServer(gw, api.WithClientIPHeader("X-Forwarded-For")).Register(context.Background(), mux)
	return httptest.NewServer(mux)
}

func TestRun(t *testing.T) {
	if err := logger.Init(); err != nil {
		t.Fatal(err)
	}

	Convey("Given a running gateway", t, func() {
		ctx := context.Background()
		trig := &countingTrigger{}
		srv := newGateway(trig)
		defer srv.Close()

		Convey("When every submission comes from its own source", func() {
			out := filepath.Join(t.TempDir(), "subs.json")
			stats, err := loadtest.Run(ctx, &loadtest.Config{
				BaseURL:      srv.URL,
				Count:        20,
				Workers:      4,
				Timeout:      5 * time.Second,
				Score:        -1,
				InvalidEvery: 5,
				SourceHeader: "X-Forwarded-For",
				OutputFile:   out,
			})

			Convey("Then valid ones are accepted and malformed ones rejected", func() {
				So(err, ShouldBeNil)
				So(stats.Generated, ShouldEqual, 20)
				So(stats.Submitted, ShouldEqual, 20)
				So(stats.Invalid, ShouldEqual, 4)
				So(stats.Accepted, ShouldEqual, 16)
				So(stats.RateLimited, ShouldEqual, 0)
				So(trig.calls.Load(), ShouldEqual, 16)
				_, statErr := os.Stat(out)
				So(statErr, ShouldBeNil)
			})
		})

		Convey("When one source submits repeatedly", func() {
			stats, err := loadtest.Run(ctx, &loadtest.Config{
				BaseURL: srv.URL,
				Count:   5,
				Workers: 1,
				Timeout: 5 * time.Second,
				Score:   700,
				Player:  "BOB",
			})

			Convey("Then only the first is accepted", func() {
				So(err, ShouldBeNil)
				So(stats.Accepted, ShouldEqual, 1)
				So(stats.RateLimited, ShouldEqual, 4)
				So(stats.HighScore, ShouldEqual, 700)
			})
		})
	})

	Convey("Given a gateway whose trigger fails", t, func() {
		srv := newGateway(&countingTrigger{fail: true})
		defer srv.Close()

		stats, err := loadtest.Run(context.Background(), &loadtest.Config{
			BaseURL: srv.URL, Count: 3, Workers: 1, Timeout: time.Second, Score: -1, SourceHeader: "X-Forwarded-For",
		})

		Convey("Then every submission counts as failed", func() {
			So(err, ShouldBeNil)
			So(stats.Failed, ShouldEqual, 3)
			So(stats.HighScore, ShouldEqual, -1)
		})
	})

	Convey("Given no gateway", t, func() {
		_, err := loadtest.Run(context.Background(), &loadtest.Config{BaseURL: "http://127.0.0.1:1", Count: 1, Timeout: time.Second})
		So(err, ShouldNotBeNil)
	})
}
