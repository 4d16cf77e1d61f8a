package simulate_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"fleetwatch.dev/fleetwatch/pkg/fleet"
	"fleetwatch.dev/fleetwatch/pkg/simulate"
)

var _ = Describe("Generator", func() {
	Describe("NewTrackerDevice", func() {
		It("should populate the device record", func() {
			seeded, err := simulate.NewTrackerDevice()
			Expect(err).NotTo(HaveOccurred())

			record := seeded.Record
			Expect(record.DeviceID).NotTo(BeEmpty())
			Expect(record.OwnerID).NotTo(BeEmpty())
			Expect(record.IMEI).To(HaveLen(15))
			Expect(record.DeviceType).To(BeElementOf(
				fleet.DeviceGPSTracker, fleet.DeviceSmartphone, fleet.DeviceSatellite,
			))
			Expect(record.LastCommunication).NotTo(BeZero())
			Expect(record.BatteryLevel).NotTo(BeNil())
			Expect(*record.BatteryLevel).To(And(
				BeNumerically(">=", 0),
				BeNumerically("<=", 100),
			))
			Expect(record.SignalStrength).NotTo(BeNil())
			Expect(*record.SignalStrength).To(And(
				BeNumerically(">=", 0),
				BeNumerically("<=", 5),
			))
		})

		It("should generate distinct device ids", func() {
			first, err := simulate.NewTrackerDevice()
			Expect(err).NotTo(HaveOccurred())
			second, err := simulate.NewTrackerDevice()
			Expect(err).NotTo(HaveOccurred())

			Expect(first.Record.DeviceID).NotTo(Equal(second.Record.DeviceID))
		})

		It("should seed a valid start position", func() {
			seeded, err := simulate.NewTrackerDevice()
			Expect(err).NotTo(HaveOccurred())

			Expect(seeded.Latitude).To(And(
				BeNumerically(">=", -90),
				BeNumerically("<=", 90),
			))
			Expect(seeded.Longitude).To(And(
				BeNumerically(">=", -180),
				BeNumerically("<=", 180),
			))
		})
	})

	Describe("VesselGenerator", func() {
		It("should tag samples with the device owner", func() {
			seeded, err := simulate.NewTrackerDevice()
			Expect(err).NotTo(HaveOccurred())

			vessel := simulate.NewVesselGenerator(seeded.Record, seeded.Latitude, seeded.Longitude)
			sample := vessel.Next(time.Minute)
			Expect(sample.OwnerID).To(Equal(seeded.Record.OwnerID))
		})

		It("should keep movement within physical bounds", func() {
			seeded, err := simulate.NewTrackerDevice()
			Expect(err).NotTo(HaveOccurred())

			vessel := simulate.NewVesselGenerator(seeded.Record, seeded.Latitude, seeded.Longitude)
			for i := 0; i < 200; i++ {
				sample := vessel.Next(time.Minute)
				Expect(sample.Latitude).To(And(
					BeNumerically(">=", -90),
					BeNumerically("<=", 90),
				))
				Expect(sample.Longitude).To(And(
					BeNumerically(">=", -180),
					BeNumerically("<=", 180),
				))
				Expect(sample.Speed).To(And(
					BeNumerically(">=", 0),
					BeNumerically("<=", 14),
				))
				Expect(sample.Heading).To(And(
					BeNumerically(">=", 0),
					BeNumerically("<", 360),
				))
			}
		})

		It("should drain the battery over time", func() {
			seeded, err := simulate.NewTrackerDevice()
			Expect(err).NotTo(HaveOccurred())

			vessel := simulate.NewVesselGenerator(seeded.Record, seeded.Latitude, seeded.Longitude)
			before := vessel.Battery()
			for i := 0; i < 100; i++ {
				vessel.Next(time.Minute)
			}
			Expect(vessel.Battery()).To(BeNumerically("<=", before))
		})
	})
})
