package simulate_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"fleetwatch.dev/fleetwatch/pkg/fleet"
	"fleetwatch.dev/fleetwatch/pkg/mq/mock"
	"fleetwatch.dev/fleetwatch/pkg/simulate"
)

// memorySeeder collects seeded devices.
type memorySeeder struct {
	mu      sync.Mutex
	devices []fleet.DeviceRecord
}

func (s *memorySeeder) UpsertDevice(_ context.Context, device fleet.DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = append(s.devices, device)
	return nil
}

func (s *memorySeeder) seeded() []fleet.DeviceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]fleet.DeviceRecord, len(s.devices))
	copy(out, s.devices)
	return out
}

var _ = Describe("Simulator", func() {
	var (
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		seeder *memorySeeder
		sink   *mock.MockClient
	)

	BeforeEach(func() {
		seeder = &memorySeeder{}
		sink = mock.NewMockClient()
	})

	Describe("New", func() {
		It("should reject a nil config", func() {
			_, err := simulate.New(nil)
			Expect(err).To(HaveOccurred())
		})

		It("should reject a non-positive vessel count", func() {
			_, err := simulate.New(&simulate.Config{
				Logger:   logger,
				Seeder:   seeder,
				Sink:     sink,
				Interval: time.Second,
			})
			Expect(err).To(HaveOccurred())
		})

		It("should reject a non-positive interval", func() {
			_, err := simulate.New(&simulate.Config{
				Logger:      logger,
				Seeder:      seeder,
				Sink:        sink,
				VesselCount: 1,
			})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Run", func() {
		It("should seed the fleet and stream movement until canceled", func() {
			sim, err := simulate.New(&simulate.Config{
				Logger:      logger,
				Seeder:      seeder,
				Sink:        sink,
				VesselCount: 3,
				Interval:    10 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()

			Expect(sim.Run(ctx)).To(Succeed())

			Expect(seeder.seeded()).To(HaveLen(3))
			Expect(len(sink.Pushed())).To(BeNumerically(">=", 3))

			owners := make(map[string]bool)
			for _, device := range seeder.seeded() {
				owners[device.OwnerID] = true
			}
			for _, body := range sink.Pushed() {
				var sample fleet.LocationSample
				Expect(json.Unmarshal(body, &sample)).To(Succeed())
				Expect(owners).To(HaveKey(sample.OwnerID))
			}
		})
	})
})
