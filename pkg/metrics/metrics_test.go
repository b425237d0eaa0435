package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given a fresh registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When creating a manager with custom options", func() {
			m := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 2, 3}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then its collectors are registered under the namespace", func() {
				So(m, ShouldNotBeNil)
				m.submissions.WithLabelValues("accepted").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_unit_submissions_total" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When empty options are given", func() {
			m := NewManager(WithNamespace(""), WithSubsystem(""), WithHistogramBuckets(nil), WithPrometheusRegistry(registry))

			Convey("Then defaults are kept", func() {
				So(m.namespace, ShouldEqual, "hiscore")
				So(m.subsystem, ShouldEqual, "pipeline")
				So(len(m.histogramBuckets), ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestGlobalRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording gateway metrics", func() {
			before := testutil.ToFloat64(globalManager.submissions.WithLabelValues("rate_limited"))
			RecordSubmission("rate_limited")
			RecordRateLimitDecision(false)
			RecordRateLimitDecision(true)
			RecordTriggerDispatch(true, 12)
			RecordTriggerDispatch(false, 5000)

			Convey("Then counters move", func() {
				So(testutil.ToFloat64(globalManager.submissions.WithLabelValues("rate_limited")), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.rateLimitDecisions.WithLabelValues("denied")), ShouldBeGreaterThanOrEqualTo, 1)
				So(testutil.ToFloat64(globalManager.triggerDispatches.WithLabelValues("failed")), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})

		Convey("When recording arbiter metrics", func() {
			So(func() {
				RecordWorkflowRun("proposed", 30)
				RecordWorkflowConflict()
				RecordReviewPublished("created")
				RecordDispatchDuplicate()
				UpdateQueueSize(3)
				UpdateQueueCapacity(10)
				RecordQueueRejected("full")
				UpdateWorkerCount(2)
			}, ShouldNotPanic)
			So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 3)
			So(testutil.ToFloat64(globalManager.workerCount), ShouldEqual, 2)
		})

		Convey("When recording HTTP and system metrics", func() {
			So(func() {
				RecordHTTPRequest("submit", "POST", "200")
				RecordHTTPRequestDuration("submit", "POST", "200", 3)
				RecordHTTPError("submit", "POST", "client_error")
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(10)
				RecordSystemGCPauseTime(0.2)
			}, ShouldNotPanic)
		})

		Convey("Then the exported registry exposes the pipeline metrics", func() {
			RecordSubmission("accepted")
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			var names []string
			for _, f := range families {
				names = append(names, f.GetName())
			}
			So(strings.Join(names, ","), ShouldContainSubstring, "hiscore_pipeline_submissions_total")
		})
	})
}
