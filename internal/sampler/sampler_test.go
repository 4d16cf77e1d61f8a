package sampler_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"fleetwatch.dev/fleetwatch/internal/sampler"
	"fleetwatch.dev/fleetwatch/pkg/fleet"
	"fleetwatch.dev/fleetwatch/pkg/mq/mock"
)

var _ = Describe("Sampler", func() {
	var (
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		sink *mock.MockClient
	)

	BeforeEach(func() {
		sink = mock.NewMockClient()
	})

	fixedProvider := func(lat, lon float64) sampler.Provider {
		return sampler.ProviderFunc(func(ctx context.Context) (sampler.Position, error) {
			return sampler.Position{Latitude: lat, Longitude: lon}, nil
		})
	}

	newSampler := func(provider sampler.Provider, interval time.Duration) *sampler.Sampler {
		s, err := sampler.New(&sampler.Config{
			Logger:   logger,
			Provider: provider,
			Sink:     sink,
			OwnerID:  "owner-1",
			Interval: interval,
		})
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	Describe("New", func() {
		It("should reject a nil config", func() {
			_, err := sampler.New(nil)
			Expect(err).To(HaveOccurred())
		})

		It("should reject a missing provider", func() {
			_, err := sampler.New(&sampler.Config{
				Logger:   logger,
				Sink:     sink,
				OwnerID:  "owner-1",
				Interval: time.Second,
			})
			Expect(err).To(HaveOccurred())
		})

		It("should reject a non-positive interval", func() {
			_, err := sampler.New(&sampler.Config{
				Logger:   logger,
				Provider: fixedProvider(0, 0),
				Sink:     sink,
				OwnerID:  "owner-1",
			})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("sampling loop", func() {
		It("should publish one sample immediately on start", func() {
			s := newSampler(fixedProvider(63.43, 10.39), time.Hour)
			Expect(s.Start(context.Background())).To(Succeed())
			defer s.Stop()

			Eventually(sink.Pushed).Should(HaveLen(1))

			var sample fleet.LocationSample
			Expect(json.Unmarshal(sink.Pushed()[0], &sample)).To(Succeed())
			Expect(sample.OwnerID).To(Equal("owner-1"))
			Expect(sample.Latitude).To(BeNumerically("~", 63.43, 0.0001))
			Expect(sample.Longitude).To(BeNumerically("~", 10.39, 0.0001))
			Expect(sample.Timestamp).NotTo(BeZero())
		})

		It("should keep publishing on the configured cadence", func() {
			s := newSampler(fixedProvider(1, 2), 20*time.Millisecond)
			Expect(s.Start(context.Background())).To(Succeed())
			defer s.Stop()

			Eventually(func() int {
				return len(sink.Pushed())
			}).Should(BeNumerically(">=", 3))
		})

		It("should refuse a second start while running", func() {
			s := newSampler(fixedProvider(1, 2), time.Hour)
			Expect(s.Start(context.Background())).To(Succeed())
			defer s.Stop()

			Expect(s.Start(context.Background())).To(HaveOccurred())
		})

		It("should skip ticks while an attempt is in flight", func() {
			var calls atomic.Int64
			block := make(chan struct{})
			hanging := sampler.ProviderFunc(func(ctx context.Context) (sampler.Position, error) {
				calls.Add(1)
				select {
				case <-block:
				case <-ctx.Done():
				}
				return sampler.Position{}, nil
			})

			s := newSampler(hanging, 10*time.Millisecond)
			Expect(s.Start(context.Background())).To(Succeed())
			defer func() {
				close(block)
				s.Stop()
			}()

			Eventually(calls.Load).Should(Equal(int64(1)))
			Consistently(calls.Load, 100*time.Millisecond).Should(Equal(int64(1)))
		})

		It("should absorb provider failures and continue", func() {
			var calls atomic.Int64
			flaky := sampler.ProviderFunc(func(ctx context.Context) (sampler.Position, error) {
				if calls.Add(1) == 1 {
					return sampler.Position{}, errors.New("no fix")
				}
				return sampler.Position{Latitude: 1, Longitude: 2}, nil
			})

			s := newSampler(flaky, 20*time.Millisecond)
			Expect(s.Start(context.Background())).To(Succeed())
			defer s.Stop()

			Eventually(func() int {
				return len(sink.Pushed())
			}).Should(BeNumerically(">=", 1))
		})

		It("should discard the result of an attempt in flight at stop", func() {
			block := make(chan struct{})
			hanging := sampler.ProviderFunc(func(ctx context.Context) (sampler.Position, error) {
				<-block
				return sampler.Position{Latitude: 1, Longitude: 2}, nil
			})

			s := newSampler(hanging, time.Hour)
			Expect(s.Start(context.Background())).To(Succeed())

			s.Stop()
			close(block)

			Consistently(sink.Pushed, 100*time.Millisecond).Should(BeEmpty())
		})
	})

	Describe("SetInterval", func() {
		It("should reject a non-positive interval", func() {
			s := newSampler(fixedProvider(1, 2), time.Second)
			Expect(s.SetInterval(0)).To(HaveOccurred())
			Expect(s.Interval()).To(Equal(time.Second))
		})

		It("should record the new cadence without restarting the elapsed interval", func() {
			s := newSampler(fixedProvider(1, 2), time.Hour)
			Expect(s.Start(context.Background())).To(Succeed())
			defer s.Stop()

			Eventually(sink.Pushed).Should(HaveLen(1))
			Expect(s.SetInterval(10 * time.Millisecond)).To(Succeed())
			Expect(s.Interval()).To(Equal(10 * time.Millisecond))
		})
	})
})
