// Package fleet defines the domain types shared between the sampler, the
// tracker backend, and the command dispatch path: device records, location
// samples, and the JSON command envelope the relay expects.
package fleet

import "time"

// DeviceType identifies the kind of tracker hardware attached to a vessel.
type DeviceType string

const (
	DeviceGPSTracker DeviceType = "gps_tracker"
	DeviceSmartphone DeviceType = "smartphone"
	DeviceSatellite  DeviceType = "satellite"
)

// DeviceStatus is the derived operational status of a device. It is never
// stored; it is recomputed from the raw record fields on every read.
type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
)

// FreshnessWindow is the single threshold used everywhere a consumer asks
// whether a device's last communication is recent enough to trust.
const FreshnessWindow = 2 * time.Hour

// DeviceRecord is one tracker unit as reported by the fleet device listing.
// Records are replaced wholesale on every registry refresh; nothing mutates
// them in place.
type DeviceRecord struct {
	DeviceID          string     `json:"deviceId"`
	DeviceType        DeviceType `json:"deviceType"`
	OwnerID           string     `json:"ownerId"`
	IMEI              string     `json:"imei"`
	PhoneNumber       string     `json:"phoneNumber"`
	IsActive          bool       `json:"isActive"`
	LastCommunication time.Time  `json:"lastCommunication"`
	// BatteryLevel is 0-100; nil when the device does not report it.
	BatteryLevel *int `json:"batteryLevel,omitempty"`
	// SignalStrength is 0-5; nil when the device does not report it.
	SignalStrength *int `json:"signalStrength,omitempty"`
}

// Status derives the operational status from the raw record. Online means
// exactly that the backend's enable flag is set; freshness is a separate,
// layered concern (see Fresh).
func (d DeviceRecord) Status() DeviceStatus {
	if d.IsActive {
		return StatusOnline
	}
	return StatusOffline
}

// Fresh reports whether the device has communicated within FreshnessWindow
// of now. Two calls at different times may disagree without any mutation
// having occurred.
func (d DeviceRecord) Fresh(now time.Time) bool {
	if d.LastCommunication.IsZero() {
		return false
	}
	return now.Sub(d.LastCommunication) <= FreshnessWindow
}
