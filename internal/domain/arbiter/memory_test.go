package arbiter_test

import (
	"context"
	"errors"
	"testing"

	"github.com/okian/hiscore/internal/domain/arbiter"
	"github.com/okian/hiscore/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMemoryStoreCAS(t *testing.T) {
	Convey("Given two runs that read the same empty slot", t, func() {
		ctx := context.Background()
		store := arbiter.NewMemoryStore()
		a, _ := store.Resolve(ctx, "s")
		b, _ := store.Resolve(ctx, "s")

		So(store.WriteProposal(ctx, "s", a, model.Record{Score: 10, Name: "AAA"}), ShouldBeNil)
		err := store.WriteProposal(ctx, "s", b, model.Record{Score: 5, Name: "BBB"})

		Convey("Then the stale writer conflicts", func() {
			So(errors.Is(err, arbiter.ErrConflict), ShouldBeTrue)
			snap, _ := store.Resolve(ctx, "s")
			So(snap.Proposal.Name, ShouldEqual, "AAA")
			So(snap.Version, ShouldNotBeEmpty)
		})

		Convey("Then a fresh read can overwrite", func() {
			fresh, _ := store.Resolve(ctx, "s")
			So(store.WriteProposal(ctx, "s", fresh, model.Record{Score: 20, Name: "CCC"}), ShouldBeNil)
		})
	})
}

func TestMemoryStoreReviews(t *testing.T) {
	Convey("Given an open review", t, func() {
		ctx := context.Background()
		store := arbiter.NewMemoryStore()
		change := arbiter.Change{Record: model.Record{Score: 10, Name: "AAA"}}
		r, err := store.CreateReview(ctx, "s", change)
		So(err, ShouldBeNil)

		Convey("Then a second review conflicts", func() {
			_, err := store.CreateReview(ctx, "s", change)
			So(errors.Is(err, arbiter.ErrConflict), ShouldBeTrue)
		})

		Convey("Then commenting on an unknown review conflicts", func() {
			err := store.CommentReview(ctx, "s", arbiter.Review{Number: r.Number + 1}, change)
			So(errors.Is(err, arbiter.ErrConflict), ShouldBeTrue)
		})
	})

	Convey("Given a proposal lower than a published record set out of band", t, func() {
		ctx := context.Background()
		store := arbiter.NewMemoryStore()
		snap, _ := store.Resolve(ctx, "s")
		So(store.WriteProposal(ctx, "s", snap, model.Record{Score: 10, Name: "AAA"}), ShouldBeNil)
		store.SetPublished("s", model.Record{Score: 50, Name: "ZZZ"})

		Convey("Then merging never lowers the published record", func() {
			rec, err := store.Merge(ctx, "s")
			So(err, ShouldBeNil)
			So(rec.Score, ShouldEqual, 50)
			_, err = store.Merge(ctx, "s")
			So(errors.Is(err, arbiter.ErrNoProposal), ShouldBeTrue)
		})
	})
}

func TestChangeText(t *testing.T) {
	Convey("Given a change over an empty slot", t, func() {
		c := arbiter.Change{Record: model.Record{Score: 500, Name: "BOB"}, EventID: "abc"}

		So(c.Title(), ShouldEqual, "New high score: 500 by BOB")
		So(c.Body(), ShouldContainSubstring, "previous: none")
		So(c.Body(), ShouldContainSubstring, "abc")
		So(c.Note(), ShouldContainSubstring, "500")
	})
}
