package ratelimit_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/hiscore/internal/domain/ratelimit"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMemoryStore(t *testing.T) {
	Convey("Given a memory store with a fake clock", t, func() {
		ctx := context.Background()
		clock := newFakeClock()
		s := ratelimit.NewMemoryStore(ratelimit.WithSweepInterval(0), ratelimit.WithMemoryClock(clock.Now))
		defer s.Close()

		Convey("When a key is set", func() {
			at := clock.Now()
			So(s.Set(ctx, "k", at, time.Minute), ShouldBeNil)

			Convey("Then it can be read back before expiry", func() {
				got, ok, err := s.Get(ctx, "k")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(got.Equal(at), ShouldBeTrue)
			})

			Convey("Then it disappears at expiry", func() {
				clock.Advance(time.Minute)
				_, ok, _ := s.Get(ctx, "k")
				So(ok, ShouldBeFalse)
			})

			Convey("Then overwriting keeps the size stable", func() {
				So(s.Set(ctx, "k", at.Add(time.Second), time.Minute), ShouldBeNil)
				So(s.Size(), ShouldEqual, 1)
			})
		})

		Convey("When expired entries are swept", func() {
			for i := 0; i < 5; i++ {
				So(s.Set(ctx, fmt.Sprintf("k%d", i), clock.Now(), time.Duration(i+1)*time.Second), ShouldBeNil)
			}
			clock.Advance(3 * time.Second)
			removed := s.Sweep()

			Convey("Then only expired entries are removed", func() {
				So(removed, ShouldEqual, 3)
				So(s.Size(), ShouldEqual, 2)
			})
		})

		Convey("When closed twice", func() {
			So(s.Close(), ShouldBeNil)
			So(s.Close(), ShouldBeNil)
		})
	})
}

func TestMemoryStoreSweeper(t *testing.T) {
	Convey("Given a store with a fast sweeper", t, func() {
		s := ratelimit.NewMemoryStore(ratelimit.WithSweepInterval(5 * time.Millisecond))
		defer s.Close()
		So(s.Set(context.Background(), "short", time.Now(), time.Millisecond), ShouldBeNil)

		Convey("Then the entry is eventually purged", func() {
			deadline := time.Now().Add(time.Second)
			for s.Size() > 0 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			So(s.Size(), ShouldEqual, 0)
		})
	})
}

func TestMemoryStoreConcurrency(t *testing.T) {
	Convey("Given concurrent writers on the same key", t, func() {
		ctx := context.Background()
		s := ratelimit.NewMemoryStore(ratelimit.WithSweepInterval(0))
		defer s.Close()
		l := ratelimit.NewLimiter(s)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = l.CheckAndRecord(ctx, "same")
			}()
		}
		wg.Wait()

		Convey("Then races are benign and one entry remains", func() {
			So(s.Size(), ShouldEqual, 1)
		})
	})
}
