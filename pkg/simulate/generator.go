// Package simulate generates a fake fleet for demos and end-to-end tests:
// tracker devices for the device listing and random-walk vessel movement
// for the telemetry queue.
package simulate

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"fleetwatch.dev/fleetwatch/pkg/fleet"
)

// TrackerDevice is the fake-data template for one tracker unit.
type TrackerDevice struct {
	OwnerID     string  `fake:"{lastname}"`
	PhoneNumber string  `fake:"{phone}"`
	Latitude    float64 `fake:"{latitude}"`
	Longitude   float64 `fake:"{longitude}"`
}

var deviceTypes = []fleet.DeviceType{
	fleet.DeviceGPSTracker,
	fleet.DeviceSmartphone,
	fleet.DeviceSatellite,
}

// SeededDevice is one generated device plus the start position its vessel
// walks from.
type SeededDevice struct {
	Record    fleet.DeviceRecord
	Latitude  float64
	Longitude float64
}

// NewTrackerDevice generates one fake device. Most of the fleet is active
// so that command dispatch can be exercised against it.
func NewTrackerDevice() (SeededDevice, error) {
	var tpl TrackerDevice
	if err := gofakeit.Struct(&tpl); err != nil {
		return SeededDevice{}, err
	}

	battery := rand.Intn(101)
	signal := rand.Intn(6)
	deviceID := uuid.NewString()

	// Owner ids must be unique across the fleet or trails would merge.
	owner := fmt.Sprintf("%s-%s", strings.ToLower(tpl.OwnerID), deviceID[:8])

	return SeededDevice{
		Record: fleet.DeviceRecord{
			DeviceID:          deviceID,
			DeviceType:        deviceTypes[rand.Intn(len(deviceTypes))],
			OwnerID:           owner,
			IMEI:              gofakeit.DigitN(15),
			PhoneNumber:       tpl.PhoneNumber,
			IsActive:          rand.Float64() < 0.8,
			LastCommunication: time.Now().UTC(),
			BatteryLevel:      &battery,
			SignalStrength:    &signal,
		},
		Latitude:  tpl.Latitude,
		Longitude: tpl.Longitude,
	}, nil
}

// VesselGenerator produces a plausible movement track for one vessel: a
// random walk over heading and speed, with the position integrated from
// both.
type VesselGenerator struct {
	ownerID   string
	latitude  float64
	longitude float64
	heading   float64 // degrees, 0 = north
	speed     float64 // knots
	battery   float64
}

// NewVesselGenerator creates a generator starting at the device's seeded
// position.
func NewVesselGenerator(device fleet.DeviceRecord, latitude, longitude float64) *VesselGenerator {
	battery := 100.0
	if device.BatteryLevel != nil {
		battery = float64(*device.BatteryLevel)
	}

	return &VesselGenerator{
		ownerID:   device.OwnerID,
		latitude:  latitude,
		longitude: longitude,
		heading:   rand.Float64() * 360,
		speed:     2 + rand.Float64()*8,
		battery:   battery,
	}
}

// Next advances the vessel by elapsed and returns the resulting sample.
func (g *VesselGenerator) Next(elapsed time.Duration) fleet.LocationSample {
	// Drift heading and speed a little each step.
	g.heading = math.Mod(g.heading+(rand.Float64()-0.5)*30+360, 360)
	g.speed = clamp(g.speed+(rand.Float64()-0.5)*2, 0, 14)
	g.battery = clamp(g.battery-rand.Float64()*0.05, 0, 100)

	// One knot is one nautical mile per hour; one nautical mile is one
	// minute of latitude.
	distance := g.speed * elapsed.Hours() / 60
	rad := g.heading * math.Pi / 180
	g.latitude = clamp(g.latitude+distance*math.Cos(rad), -90, 90)
	g.longitude += distance * math.Sin(rad) / math.Cos(g.latitude*math.Pi/180)
	if g.longitude > 180 {
		g.longitude -= 360
	} else if g.longitude < -180 {
		g.longitude += 360
	}

	return fleet.LocationSample{
		OwnerID:   g.ownerID,
		Latitude:  g.latitude,
		Longitude: g.longitude,
		Timestamp: time.Now().UTC(),
		Speed:     g.speed,
		Heading:   g.heading,
		Accuracy:  3 + rand.Float64()*10,
	}
}

// Battery returns the simulated battery level, for refreshing the device
// listing.
func (g *VesselGenerator) Battery() int {
	return int(g.battery)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
