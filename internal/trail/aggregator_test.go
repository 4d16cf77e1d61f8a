package trail_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"fleetwatch.dev/fleetwatch/internal/trail"
	"fleetwatch.dev/fleetwatch/pkg/fleet"
)

var _ = Describe("Aggregator", func() {
	var (
		agg  *trail.Aggregator
		base time.Time
	)

	sampleAt := func(owner string, offset time.Duration) fleet.LocationSample {
		return fleet.LocationSample{
			OwnerID:   owner,
			Latitude:  59.33 + offset.Seconds()/100000,
			Longitude: 18.06,
			Timestamp: base.Add(offset),
		}
	}

	BeforeEach(func() {
		base = time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
		agg = trail.NewAggregator(trail.Config{
			MaxSamples: 200,
			MaxAge:     24 * time.Hour,
			Now:        func() time.Time { return base.Add(time.Hour) },
		})
	})

	Describe("Ingest", func() {
		It("should reject samples without an owner", func() {
			err := agg.Ingest(fleet.LocationSample{Timestamp: base})
			Expect(err).To(HaveOccurred())
		})

		It("should keep the trail sorted regardless of arrival order", func() {
			offsets := []time.Duration{
				5 * time.Minute, time.Minute, 4 * time.Minute, 2 * time.Minute, 3 * time.Minute,
			}
			for _, off := range offsets {
				Expect(agg.Ingest(sampleAt("vessel-1", off))).To(Succeed())
			}

			got := agg.TrailFor("vessel-1")
			Expect(got).To(HaveLen(5))
			for i := 1; i < len(got); i++ {
				Expect(got[i].Timestamp.Before(got[i-1].Timestamp)).To(BeFalse())
			}
		})

		It("should be idempotent for identical samples", func() {
			s := sampleAt("vessel-1", time.Minute)
			Expect(agg.Ingest(s)).To(Succeed())
			Expect(agg.Ingest(s)).To(Succeed())

			Expect(agg.TrailFor("vessel-1")).To(HaveLen(1))
			last, ok := agg.LastPosition("vessel-1")
			Expect(ok).To(BeTrue())
			Expect(last).To(Equal(s))
		})

		It("should keep distinct samples that share a timestamp", func() {
			a := sampleAt("vessel-1", time.Minute)
			b := a
			b.Latitude += 0.01

			Expect(agg.Ingest(a)).To(Succeed())
			Expect(agg.Ingest(b)).To(Succeed())
			Expect(agg.TrailFor("vessel-1")).To(HaveLen(2))
		})

		It("should never mix owners in one trail", func() {
			Expect(agg.Ingest(sampleAt("vessel-1", time.Minute))).To(Succeed())
			Expect(agg.Ingest(sampleAt("vessel-2", 2*time.Minute))).To(Succeed())

			for _, s := range agg.TrailFor("vessel-1") {
				Expect(s.OwnerID).To(Equal("vessel-1"))
			}
			Expect(agg.TrailFor("vessel-2")).To(HaveLen(1))
		})
	})

	Describe("retention", func() {
		It("should retain only the N most recent samples", func() {
			bounded := trail.NewAggregator(trail.Config{
				MaxSamples: 3,
				MaxAge:     24 * time.Hour,
				Now:        func() time.Time { return base.Add(time.Hour) },
			})

			for i := 1; i <= 5; i++ {
				Expect(bounded.Ingest(sampleAt("vessel-1", time.Duration(i)*time.Minute))).To(Succeed())
			}

			got := bounded.TrailFor("vessel-1")
			Expect(got).To(HaveLen(3))
			Expect(got[0].Timestamp).To(Equal(base.Add(3 * time.Minute)))
			Expect(got[2].Timestamp).To(Equal(base.Add(5 * time.Minute)))
		})

		It("should evict samples older than the age bound", func() {
			now := base.Add(30 * time.Hour)
			aged := trail.NewAggregator(trail.Config{
				MaxSamples: 200,
				MaxAge:     24 * time.Hour,
				Now:        func() time.Time { return now },
			})

			// Within the window.
			fresh := sampleAt("vessel-1", 29 * time.Hour)
			Expect(aged.Ingest(fresh)).To(Succeed())
			// Outside the window; dropped on the next insertion.
			Expect(aged.Ingest(sampleAt("vessel-1", time.Minute))).To(Succeed())

			got := aged.TrailFor("vessel-1")
			Expect(got).To(HaveLen(1))
			Expect(got[0].Timestamp).To(Equal(fresh.Timestamp))
		})

		It("should update the last position after eviction", func() {
			bounded := trail.NewAggregator(trail.Config{
				MaxSamples: 2,
				MaxAge:     24 * time.Hour,
				Now:        func() time.Time { return base.Add(time.Hour) },
			})

			for i := 1; i <= 4; i++ {
				Expect(bounded.Ingest(sampleAt("vessel-1", time.Duration(i)*time.Minute))).To(Succeed())
			}

			last, ok := bounded.LastPosition("vessel-1")
			Expect(ok).To(BeTrue())
			Expect(last.Timestamp).To(Equal(base.Add(4 * time.Minute)))
		})
	})

	Describe("LastPosition", func() {
		It("should be absent for unknown owners", func() {
			_, ok := agg.LastPosition("vessel-404")
			Expect(ok).To(BeFalse())
		})

		It("should track the newest timestamp, not the newest arrival", func() {
			Expect(agg.Ingest(sampleAt("vessel-1", 10*time.Minute))).To(Succeed())
			Expect(agg.Ingest(sampleAt("vessel-1", 2*time.Minute))).To(Succeed())

			last, ok := agg.LastPosition("vessel-1")
			Expect(ok).To(BeTrue())
			Expect(last.Timestamp).To(Equal(base.Add(10 * time.Minute)))
		})
	})

	Describe("concurrent ingest", func() {
		It("should serialize same-owner ingests and keep order invariants", func() {
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_ = agg.Ingest(sampleAt("vessel-1", time.Duration(i)*time.Second))
				}(i)
			}
			wg.Wait()

			got := agg.TrailFor("vessel-1")
			Expect(got).To(HaveLen(50))
			for i := 1; i < len(got); i++ {
				Expect(got[i].Timestamp.Before(got[i-1].Timestamp)).To(BeFalse())
			}
		})

		It("should keep different owners independent", func() {
			var wg sync.WaitGroup
			owners := []string{"vessel-1", "vessel-2", "vessel-3"}
			for _, owner := range owners {
				for i := 0; i < 20; i++ {
					wg.Add(1)
					go func(owner string, i int) {
						defer wg.Done()
						_ = agg.Ingest(sampleAt(owner, time.Duration(i)*time.Second))
					}(owner, i)
				}
			}
			wg.Wait()

			for _, owner := range owners {
				Expect(agg.TrailFor(owner)).To(HaveLen(20))
			}
			Expect(agg.Owners()).To(Equal(owners))
		})
	})
})
