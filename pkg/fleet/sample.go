package fleet

import "time"

// LocationSample is one position report for an owner's vessel. Samples are
// immutable once created and may arrive out of timestamp order; consumers
// sort before deriving "most recent".
type LocationSample struct {
	OwnerID   string    `json:"ownerId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Speed     float64   `json:"speed,omitempty"`
	Heading   float64   `json:"heading,omitempty"`
	Altitude  float64   `json:"altitude,omitempty"`
	Accuracy  float64   `json:"accuracy,omitempty"`
}

// Same reports whether two samples describe the identical report: same
// owner, same instant, same coordinates. Used to make ingest idempotent.
func (s LocationSample) Same(o LocationSample) bool {
	return s.OwnerID == o.OwnerID &&
		s.Timestamp.Equal(o.Timestamp) &&
		s.Latitude == o.Latitude &&
		s.Longitude == o.Longitude
}
