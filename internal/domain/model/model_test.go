package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/okian/hiscore/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDispatchEventConversions(t *testing.T) {
	Convey("Given a dispatch event", t, func() {
		at := time.UnixMilli(1_700_000_000_123)
		e := model.DispatchEvent{ID: "abc", Score: 500, Player: "BOB", SubmittedAt: at}

		Convey("When converted to artifact content", func() {
			r := e.Record()

			Convey("Then name and epoch millis are carried", func() {
				So(r, ShouldResemble, model.Record{Score: 500, Name: "BOB", Timestamp: 1_700_000_000_123})
				So(r.Time().Equal(at), ShouldBeTrue)
				So(r.String(), ShouldEqual, "500 by BOB")
			})
		})

		Convey("When converted to the wire payload", func() {
			p := e.Payload()
			raw, err := json.Marshal(p)
			So(err, ShouldBeNil)

			Convey("Then the payload uses the update-score event type", func() {
				So(string(raw), ShouldContainSubstring, `"eventType":"update-score"`)
				So(string(raw), ShouldContainSubstring, `"player":"BOB"`)
				So(string(raw), ShouldContainSubstring, `"timestamp":1700000000123`)
			})

			Convey("Then the payload converts back to the same event", func() {
				back := p.Event()
				So(back.ID, ShouldEqual, e.ID)
				So(back.Score, ShouldEqual, e.Score)
				So(back.Player, ShouldEqual, e.Player)
				So(back.SubmittedAt.Equal(at), ShouldBeTrue)
			})
		})
	})
}

func TestRecordZero(t *testing.T) {
	Convey("Given records", t, func() {
		So(model.Record{}.IsZero(), ShouldBeTrue)
		So(model.Record{Score: 0, Name: "AAA"}.IsZero(), ShouldBeFalse)
	})
}
