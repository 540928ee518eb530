package feedtines

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

var _ = Describe("Stat", func() {
	var stat *Stat

	BeforeEach(func() {
		stat = newStat()
	})

	Describe("addRequest()", func() {
		It("counts successful requests", func() {
			testTime := time.Now()
			stat.addRequest(testTime, true)

			Expect(stat.Requests).To(Equal(1))
			Expect(stat.Failed).To(BeZero())
			Expect(stat.timestamps).To(ContainElement(testTime))
		})

		It("counts failed requests", func() {
			stat.addRequest(time.Now(), false)

			Expect(stat.Requests).To(Equal(1))
			Expect(stat.Failed).To(Equal(1))
			Expect(stat.timestamps).To(BeEmpty())
		})

		It("keeps only the last minute of timestamps", func() {
			now := time.Now()
			stat.addRequest(now.Add(-3*time.Minute), true)
			stat.addRequest(now.Add(-2*time.Minute), true)
			stat.addRequest(now.Add(-30*time.Second), true)
			stat.addRequest(now, true)

			Expect(stat.timestamps).To(Equal([]time.Time{now.Add(-30 * time.Second), now}))
			Expect(stat.processed).To(Equal(4))
		})
	})

	Describe("rpm()", func() {
		When("no timestamps", func() {
			It("returns 0", func() {
				Expect(stat.rpm()).To(Equal(0))
			})
		})

		It("returns count requests within last minute", func() {
			now := time.Now()
			stat.addRequest(now.Add(-2*time.Minute), true)
			stat.addRequest(now.Add(-30*time.Second), true)
			stat.addRequest(now, true)

			Expect(stat.rpm()).To(Equal(2))
		})
	})

	Describe("provider()", func() {
		It("returns the same statistics for the same url", func() {
			Expect(stat.provider("http://a.example")).To(BeIdenticalTo(stat.provider("http://a.example")))
		})

		It("keeps first-seen order", func() {
			stat.provider("http://b.example")
			stat.provider("http://a.example")
			stat.provider("http://b.example")

			Expect(stat.order).To(Equal([]string{"http://b.example", "http://a.example"}))
		})
	})

	Describe("MarshalJSON()", func() {
		It("marshals statistics to JSON", func() {
			now := time.Now()
			stat.addRequest(now.Add(-30*time.Second), true)
			stat.addRequest(now, true)
			stat.addRequest(now, false)
			stat.provider("http://a.example")

			data, err := json.Marshal(stat)
			Expect(err).NotTo(HaveOccurred())

			var result map[string]any
			err = json.Unmarshal(data, &result)
			Expect(err).NotTo(HaveOccurred())

			Expect(result).To(HaveKeyWithValue("requests", float64(3)))
			Expect(result).To(HaveKeyWithValue("failed", float64(1)))
			Expect(result).To(HaveKeyWithValue("rpm", float64(2)))
			Expect(result).To(HaveKeyWithValue("processed", float64(2)))
			Expect(result["providers"]).To(ConsistOf(HaveKeyWithValue("url", "http://a.example")))
		})
	})
})

var _ = Describe("providerStat", func() {
	var ps *providerStat

	BeforeEach(func() {
		ps = &providerStat{url: "http://a.example"}
	})

	Describe("start() and finish()", func() {
		It("tracks attempts in flight", func() {
			startedAt := ps.start()
			Expect(ps.requests).To(Equal(1))

			ps.finish(startedAt, nil)
			Expect(ps.requests).To(BeZero())
			Expect(ps.positive).To(Equal(1))
		})

		It("counts failures", func() {
			ps.finish(ps.start(), errors.New("boom"))
			Expect(ps.negative).To(Equal(1))
		})

		It("records latency", func() {
			ps.finish(time.Now().Add(-50*time.Millisecond), nil)
			Expect(ps.latency).To(BeNumerically(">=", 50))
		})
	})

	Describe("efficiency()", func() {
		When("no attempts", func() {
			It("returns 0", func() {
				Expect(ps.efficiency()).To(BeZero())
			})
		})

		It("returns the success rate", func() {
			ps.finish(ps.start(), nil)
			ps.finish(ps.start(), nil)
			ps.finish(ps.start(), errors.New("boom"))

			Expect(ps.efficiency()).To(Equal(float64(67)))
		})
	})

	Describe("fiveFailInRow()", func() {
		It("returns false with fewer than five attempts", func() {
			for range 4 {
				ps.finish(ps.start(), errors.New("boom"))
			}
			Expect(ps.fiveFailInRow()).To(BeFalse())
		})

		It("returns true after five failures", func() {
			ps.finish(ps.start(), nil)
			for range 5 {
				ps.finish(ps.start(), errors.New("boom"))
			}
			Expect(ps.fiveFailInRow()).To(BeTrue())
		})

		It("returns false once a later attempt succeeds", func() {
			for range 5 {
				ps.finish(ps.start(), errors.New("boom"))
			}
			ps.finish(ps.start(), nil)
			Expect(ps.fiveFailInRow()).To(BeFalse())
		})
	})

	Describe("toMap()", func() {
		It("exposes all counters", func() {
			ps.finish(ps.start(), nil)

			Expect(ps.toMap()).To(And(
				HaveKeyWithValue("url", "http://a.example"),
				HaveKeyWithValue("positive", 1),
				HaveKeyWithValue("negative", 0),
				HaveKeyWithValue("requests", 0),
				HaveKeyWithValue("efficiency", float64(100)),
				HaveKeyWithValue("failing", false),
			))
		})
	})
})
