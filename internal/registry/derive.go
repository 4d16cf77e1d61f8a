package registry

// BatteryBucket is the presentation bucket for a reported battery level.
type BatteryBucket string

const (
	BatteryUnknown BatteryBucket = "unknown"
	BatteryLow     BatteryBucket = "low"
	BatteryMedium  BatteryBucket = "medium"
	BatteryHigh    BatteryBucket = "high"
)

// Battery buckets a 0-100 battery level: low below 20, high above 70,
// medium in between. A device that does not report battery is unknown.
func Battery(level *int) BatteryBucket {
	switch {
	case level == nil:
		return BatteryUnknown
	case *level < 20:
		return BatteryLow
	case *level > 70:
		return BatteryHigh
	default:
		return BatteryMedium
	}
}

// SignalBars clamps a reported signal strength to [0,5] bars; absent
// readings render as 0 bars.
func SignalBars(strength *int) int {
	if strength == nil || *strength < 0 {
		return 0
	}
	if *strength > 5 {
		return 5
	}
	return *strength
}
