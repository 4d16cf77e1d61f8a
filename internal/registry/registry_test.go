package registry_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"fleetwatch.dev/fleetwatch/internal/registry"
	"fleetwatch.dev/fleetwatch/pkg/fleet"
)

// fakeFetcher serves canned listings and can block to simulate a slow
// upstream.
type fakeFetcher struct {
	mu      sync.Mutex
	devices []fleet.DeviceRecord
	err     error
	block   chan struct{}
	calls   atomic.Int64
}

func (f *fakeFetcher) FetchDevices(ctx context.Context) ([]fleet.DeviceRecord, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]fleet.DeviceRecord, len(f.devices))
	copy(out, f.devices)
	return out, nil
}

func (f *fakeFetcher) set(devices []fleet.DeviceRecord, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = devices
	f.err = err
}

func device(id string, active bool) fleet.DeviceRecord {
	return fleet.DeviceRecord{
		DeviceID:          id,
		DeviceType:        fleet.DeviceGPSTracker,
		OwnerID:           "owner-" + id,
		IsActive:          active,
		LastCommunication: time.Now().UTC(),
	}
}

var _ = Describe("Registry", func() {
	var (
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		fetcher *fakeFetcher
		reg     *registry.Registry
	)

	BeforeEach(func() {
		fetcher = &fakeFetcher{}
		var err error
		reg, err = registry.New(&registry.Config{
			Logger:  logger,
			Fetcher: fetcher,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("New", func() {
		It("should reject a nil config", func() {
			_, err := registry.New(nil)
			Expect(err).To(HaveOccurred())
		})

		It("should reject a missing fetcher", func() {
			_, err := registry.New(&registry.Config{Logger: logger})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Refresh", func() {
		It("should replace the set wholesale", func() {
			fetcher.set([]fleet.DeviceRecord{device("b", true), device("a", false)}, nil)
			Expect(reg.Refresh(context.Background())).To(Succeed())

			devices := reg.Devices()
			Expect(devices).To(HaveLen(2))
			Expect(devices[0].DeviceID).To(Equal("a"))
			Expect(devices[1].DeviceID).To(Equal("b"))

			// A device absent from the next listing is removed locally.
			fetcher.set([]fleet.DeviceRecord{device("b", true)}, nil)
			Expect(reg.Refresh(context.Background())).To(Succeed())

			_, ok := reg.Device("a")
			Expect(ok).To(BeFalse())
			Expect(reg.Devices()).To(HaveLen(1))
		})

		It("should keep the previous set when a refresh fails", func() {
			fetcher.set([]fleet.DeviceRecord{device("a", true)}, nil)
			Expect(reg.Refresh(context.Background())).To(Succeed())
			gen := reg.Generation()

			fetcher.set(nil, errors.New("listing unavailable"))
			err := reg.Refresh(context.Background())
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("listing unavailable"))

			Expect(reg.Devices()).To(HaveLen(1))
			Expect(reg.Generation()).To(Equal(gen))
		})

		It("should coalesce concurrent refreshes into one fetch", func() {
			fetcher.set([]fleet.DeviceRecord{device("a", true)}, nil)
			fetcher.block = make(chan struct{})

			var wg sync.WaitGroup
			errs := make([]error, 3)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs[i] = reg.Refresh(context.Background())
				}(i)
			}

			// Let all three callers reach the registry before releasing.
			Eventually(func() int64 { return fetcher.calls.Load() }).Should(Equal(int64(1)))
			Consistently(func() int64 { return fetcher.calls.Load() }).Should(Equal(int64(1)))
			close(fetcher.block)
			wg.Wait()

			for _, err := range errs {
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(fetcher.calls.Load()).To(Equal(int64(1)))
			Expect(reg.Generation()).To(Equal(uint64(1)))
		})

		It("should increase the generation monotonically", func() {
			fetcher.set([]fleet.DeviceRecord{device("a", true)}, nil)
			Expect(reg.Refresh(context.Background())).To(Succeed())
			Expect(reg.Refresh(context.Background())).To(Succeed())
			Expect(reg.Generation()).To(Equal(uint64(2)))
		})
	})

	Describe("Status", func() {
		It("should derive online from the active flag", func() {
			fetcher.set([]fleet.DeviceRecord{device("a", true), device("b", false)}, nil)
			Expect(reg.Refresh(context.Background())).To(Succeed())

			Expect(reg.Status("a")).To(Equal(fleet.StatusOnline))
			Expect(reg.Status("b")).To(Equal(fleet.StatusOffline))
		})

		It("should treat unknown devices as offline", func() {
			Expect(reg.Status("nope")).To(Equal(fleet.StatusOffline))
		})
	})
})

var _ = Describe("Derivations", func() {
	intp := func(v int) *int { return &v }

	Describe("Battery", func() {
		It("should bucket levels", func() {
			Expect(registry.Battery(nil)).To(Equal(registry.BatteryUnknown))
			Expect(registry.Battery(intp(0))).To(Equal(registry.BatteryLow))
			Expect(registry.Battery(intp(19))).To(Equal(registry.BatteryLow))
			Expect(registry.Battery(intp(20))).To(Equal(registry.BatteryMedium))
			Expect(registry.Battery(intp(70))).To(Equal(registry.BatteryMedium))
			Expect(registry.Battery(intp(71))).To(Equal(registry.BatteryHigh))
			Expect(registry.Battery(intp(100))).To(Equal(registry.BatteryHigh))
		})
	})

	Describe("SignalBars", func() {
		It("should clamp to [0,5] and default absent to 0", func() {
			Expect(registry.SignalBars(nil)).To(Equal(0))
			Expect(registry.SignalBars(intp(-2))).To(Equal(0))
			Expect(registry.SignalBars(intp(3))).To(Equal(3))
			Expect(registry.SignalBars(intp(9))).To(Equal(5))
		})
	})
})
