package arbiter_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/okian/hiscore/internal/domain/arbiter"
	"github.com/okian/hiscore/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

const slot = arbiter.DefaultSlot

func event(id string, score int, player string) model.DispatchEvent {
	return model.DispatchEvent{ID: id, Score: score, Player: player, SubmittedAt: time.UnixMilli(1_700_000_000_000)}
}

// flakyStore injects failures around a MemoryStore.
type flakyStore struct {
	*arbiter.MemoryStore
	mu              sync.Mutex
	conflicts       int
	createConflicts int
	skipReview      bool
	writes          int
}

func (f *flakyStore) WriteProposal(ctx context.Context, s string, snap arbiter.Snapshot, rec model.Record) error {
	f.mu.Lock()
	if f.conflicts > 0 {
		f.conflicts--
		f.mu.Unlock()
		return arbiter.ErrConflict
	}
	f.writes++
	f.mu.Unlock()
	return f.MemoryStore.WriteProposal(ctx, s, snap, rec)
}

func (f *flakyStore) CreateReview(ctx context.Context, s string, c arbiter.Change) (arbiter.Review, error) {
	f.mu.Lock()
	if f.skipReview {
		f.skipReview = false
		f.mu.Unlock()
		return arbiter.Review{}, errors.New("crashed before review")
	}
	if f.createConflicts > 0 {
		f.createConflicts--
		f.mu.Unlock()
		// Someone else opened it first.
		if _, err := f.MemoryStore.CreateReview(ctx, s, c); err != nil {
			return arbiter.Review{}, err
		}
		return arbiter.Review{}, arbiter.ErrConflict
	}
	f.mu.Unlock()
	return f.MemoryStore.CreateReview(ctx, s, c)
}

func TestWorkflowScenarios(t *testing.T) {
	Convey("Given a published record of 300 and no open proposal", t, func() {
		ctx := context.Background()
		store := arbiter.NewMemoryStore()
		store.SetPublished(slot, model.Record{Score: 300, Name: "ANN", Timestamp: 1})
		w := arbiter.NewWorkflow(store, arbiter.WithRetryInterval(time.Millisecond))

		Convey("When 500 by BOB arrives", func() {
			res, err := w.Run(ctx, event("e1", 500, "bob"))

			Convey("Then a proposal is written and one review opened", func() {
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, arbiter.OutcomeProposed)
				So(res.Candidate, ShouldResemble, model.Record{Score: 500, Name: "BOB", Timestamp: 1_700_000_000_000})
				So(res.Review, ShouldNotBeNil)
				So(res.Attempts, ShouldEqual, 1)

				snap, _ := store.Resolve(ctx, slot)
				So(snap.Proposal, ShouldNotBeNil)
				So(snap.Proposal.Score, ShouldEqual, 500)
				So(snap.Published.Score, ShouldEqual, 300)

				notes := store.Notes(slot)
				So(len(notes), ShouldEqual, 1)
				So(notes[0], ShouldContainSubstring, "previous: 300 by ANN")
			})

			Convey("And 200 by SUE is rejected without mutation", func() {
				before, _ := store.Resolve(ctx, slot)
				res, err := w.Run(ctx, event("e2", 200, "SUE"))
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, arbiter.OutcomeRejectedNotHigher)
				So(res.Candidate.Score, ShouldEqual, 500)
				after, _ := store.Resolve(ctx, slot)
				So(after, ShouldResemble, before)
				So(len(store.Notes(slot)), ShouldEqual, 1)
			})

			Convey("And 700 by SUE revises the same review in place", func() {
				first := *res.Review
				res, err := w.Run(ctx, event("e3", 700, "SUE"))
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, arbiter.OutcomeProposed)
				So(res.Review.Number, ShouldEqual, first.Number)

				open, _ := store.OpenReview(ctx, slot)
				So(open.Title, ShouldContainSubstring, "700 by SUE")
				notes := store.Notes(slot)
				So(len(notes), ShouldEqual, 2)
				So(notes[1], ShouldContainSubstring, "700")
			})

			Convey("And an equal score by another player keeps the first", func() {
				res, err := w.Run(ctx, event("e4", 500, "ZED"))
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, arbiter.OutcomeRejectedNotHigher)
				So(res.Candidate.Name, ShouldEqual, "BOB")
			})

			Convey("And replaying the same event is a no-op", func() {
				res, err := w.Run(ctx, event("e1", 500, "BOB"))
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, arbiter.OutcomeRejectedNotHigher)
				So(len(store.Notes(slot)), ShouldEqual, 1)
			})

			Convey("And after a merge the next run compares against the published record", func() {
				published, err := store.Merge(ctx, slot)
				So(err, ShouldBeNil)
				So(published.Score, ShouldEqual, 500)

				open, _ := store.OpenReview(ctx, slot)
				So(open, ShouldBeNil)

				res, err := w.Run(ctx, event("e5", 400, "CAT"))
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, arbiter.OutcomeRejectedNotHigher)

				res, err = w.Run(ctx, event("e6", 501, "CAT"))
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, arbiter.OutcomeProposed)
				So(res.Review.Number, ShouldNotEqual, 0)
			})

			Convey("And after a discard the published record is unchanged", func() {
				So(store.Discard(ctx, slot), ShouldBeNil)
				p, _ := store.Published(ctx, slot)
				So(p.Score, ShouldEqual, 300)
				So(errors.Is(store.Discard(ctx, slot), arbiter.ErrNoProposal), ShouldBeTrue)
			})
		})

		Convey("When an event is not a valid submission", func() {
			_, err := w.Run(ctx, event("bad", 1_000_000, "BOB"))
			_, err2 := w.Run(ctx, event("bad", 10, "B0B"))

			Convey("Then it is refused before touching the store", func() {
				So(errors.Is(err, arbiter.ErrInvalidEvent), ShouldBeTrue)
				So(errors.Is(err2, arbiter.ErrInvalidEvent), ShouldBeTrue)
				snap, _ := store.Resolve(ctx, slot)
				So(snap.Proposal, ShouldBeNil)
			})
		})
	})

	Convey("Given an empty slot", t, func() {
		ctx := context.Background()
		store := arbiter.NewMemoryStore()
		w := arbiter.NewWorkflow(store)

		Convey("Then a zero score never displaces the absent record", func() {
			res, err := w.Run(ctx, event("z", 0, "AAA"))
			So(err, ShouldBeNil)
			So(res.Outcome, ShouldEqual, arbiter.OutcomeRejectedNotHigher)
		})

		Convey("Then the first positive score is proposed", func() {
			res, err := w.Run(ctx, event("one", 1, "AAA"))
			So(err, ShouldBeNil)
			So(res.Outcome, ShouldEqual, arbiter.OutcomeProposed)
		})
	})
}

func TestWorkflowConflicts(t *testing.T) {
	Convey("Given a store that loses compare-and-swap twice", t, func() {
		ctx := context.Background()
		store := &flakyStore{MemoryStore: arbiter.NewMemoryStore(), conflicts: 2}
		w := arbiter.NewWorkflow(store, arbiter.WithRetryInterval(time.Millisecond), arbiter.WithMaxAttempts(5))

		res, err := w.Run(ctx, event("c1", 900, "BOB"))

		Convey("Then the run retries and succeeds", func() {
			So(err, ShouldBeNil)
			So(res.Outcome, ShouldEqual, arbiter.OutcomeProposed)
			So(res.Attempts, ShouldEqual, 3)
		})
	})

	Convey("Given a store that always conflicts", t, func() {
		ctx := context.Background()
		store := &flakyStore{MemoryStore: arbiter.NewMemoryStore(), conflicts: 100}
		w := arbiter.NewWorkflow(store, arbiter.WithRetryInterval(time.Millisecond), arbiter.WithMaxAttempts(3))

		res, err := w.Run(ctx, event("c2", 900, "BOB"))

		Convey("Then the attempt budget is respected", func() {
			So(errors.Is(err, arbiter.ErrRetriesExhausted), ShouldBeTrue)
			So(errors.Is(err, arbiter.ErrConflict), ShouldBeTrue)
			So(res.Attempts, ShouldEqual, 3)
			snap, _ := store.Resolve(ctx, slot)
			So(snap.Proposal, ShouldBeNil)
		})
	})

	Convey("Given a review opened concurrently", t, func() {
		ctx := context.Background()
		store := &flakyStore{MemoryStore: arbiter.NewMemoryStore(), createConflicts: 1}
		w := arbiter.NewWorkflow(store)

		res, err := w.Run(ctx, event("c3", 100, "BOB"))

		Convey("Then the run comments on the existing review", func() {
			So(err, ShouldBeNil)
			So(res.Outcome, ShouldEqual, arbiter.OutcomeProposed)
			So(res.Review, ShouldNotBeNil)
			So(len(store.Notes(slot)), ShouldEqual, 2)
		})
	})
}

func TestWorkflowHeal(t *testing.T) {
	Convey("Given a run that wrote its proposal but crashed before the review", t, func() {
		ctx := context.Background()
		store := &flakyStore{MemoryStore: arbiter.NewMemoryStore(), skipReview: true}
		w := arbiter.NewWorkflow(store)

		_, err := w.Run(ctx, event("h1", 800, "BOB"))
		So(err, ShouldNotBeNil)
		open, _ := store.OpenReview(ctx, slot)
		So(open, ShouldBeNil)

		Convey("When the event is re-triggered", func() {
			res, err := w.Run(ctx, event("h1", 800, "BOB"))

			Convey("Then the missing review is created without rewriting", func() {
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, arbiter.OutcomeRejectedNotHigher)
				So(res.Healed, ShouldBeTrue)
				So(res.Review, ShouldNotBeNil)
				So(store.writes, ShouldEqual, 1)
			})

			Convey("And a further replay neither heals nor writes", func() {
				res, err := w.Run(ctx, event("h1", 800, "BOB"))
				So(err, ShouldBeNil)
				So(res.Healed, ShouldBeFalse)
				So(store.writes, ShouldEqual, 1)
			})
		})
	})
}

func TestWorkflowProperties(t *testing.T) {
	Convey("Given shuffled and duplicated events run concurrently", t, func() {
		ctx := context.Background()
		store := arbiter.NewMemoryStore()
		store.SetPublished(slot, model.Record{Score: 250, Name: "OLD"})
		w := arbiter.NewWorkflow(store, arbiter.WithRetryInterval(time.Millisecond))

		rng := rand.New(rand.NewSource(42))
		scores := make([]int, 0, 40)
		for i := 0; i < 20; i++ {
			s := rng.Intn(1000)
			scores = append(scores, s, s)
		}
		rng.Shuffle(len(scores), func(i, j int) { scores[i], scores[j] = scores[j], scores[i] })

		maxScore := 250
		for _, s := range scores {
			if s > maxScore {
				maxScore = s
			}
		}

		var wg sync.WaitGroup
		for i, s := range scores {
			wg.Add(1)
			go func(i, s int) {
				defer wg.Done()
				_, err := w.Run(ctx, event(fmt.Sprintf("p%d", i), s, "ABC"))
				if err != nil {
					t.Errorf("run: %v", err)
				}
			}(i, s)
		}
		wg.Wait()

		Convey("Then the candidate is the maximum and at most one review is open", func() {
			snap, _ := store.Resolve(ctx, slot)
			So(snap.Candidate().Score, ShouldEqual, maxScore)
			So(snap.Published.Score, ShouldEqual, 250)

			open, _ := store.OpenReview(ctx, slot)
			if maxScore > 250 {
				So(open, ShouldNotBeNil)
				So(snap.Proposal.Score, ShouldEqual, maxScore)
			}
		})
	})
}

func TestSnapshotCandidate(t *testing.T) {
	Convey("Given snapshots", t, func() {
		pub := model.Record{Score: 300, Name: "ANN"}
		hi := model.Record{Score: 500, Name: "BOB"}
		lo := model.Record{Score: 100, Name: "SUE"}

		So(arbiter.Snapshot{Published: pub}.Candidate(), ShouldResemble, pub)
		So(arbiter.Snapshot{Published: pub, Proposal: &hi}.Candidate(), ShouldResemble, hi)
		So(arbiter.Snapshot{Published: pub, Proposal: &lo}.Candidate(), ShouldResemble, pub)
		So(arbiter.Beats(hi, pub), ShouldBeTrue)
		So(arbiter.Beats(pub, pub), ShouldBeFalse)
	})
}

func TestKeyedLocker(t *testing.T) {
	Convey("Given a keyed locker", t, func() {
		l := arbiter.NewKeyedLocker()
		ctx := context.Background()

		unlock, err := l.Lock(ctx, "a")
		So(err, ShouldBeNil)

		Convey("Then another slot is independent", func() {
			u2, err := l.Lock(ctx, "b")
			So(err, ShouldBeNil)
			u2()
		})

		Convey("Then the same slot blocks until released", func() {
			waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
			defer cancel()
			_, err := l.Lock(waitCtx, "a")
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)

			unlock()
			unlock()
			u3, err := l.Lock(ctx, "a")
			So(err, ShouldBeNil)
			u3()
		})
	})
}
