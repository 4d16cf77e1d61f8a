package dispatch

import (
	"fmt"
	"strconv"

	"fleetwatch.dev/fleetwatch/pkg/fleet"
)

// validatePayload checks the payload against the command type before any
// network call. Seal/Unseal require exactly six digits; SetInterval a
// positive integer number of seconds; RequestLocation no payload.
func validatePayload(cmdType fleet.CommandType, payload string) error {
	switch cmdType {
	case fleet.CommandRequestLocation:
		if payload != "" {
			return fmt.Errorf("RequestLocation takes no payload, got %q", payload)
		}
		return nil

	case fleet.CommandSeal, fleet.CommandUnseal:
		if !isSixDigitKey(payload) {
			return fmt.Errorf("elock key must be exactly 6 digits")
		}
		return nil

	case fleet.CommandSetInterval:
		seconds, err := strconv.Atoi(payload)
		if err != nil {
			return fmt.Errorf("interval must be an integer number of seconds: %v", err)
		}
		if seconds <= 0 {
			return fmt.Errorf("interval must be positive, got %d", seconds)
		}
		return nil

	default:
		return fmt.Errorf("unknown command type %q", cmdType)
	}
}

func isSixDigitKey(key string) bool {
	if len(key) != 6 {
		return false
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
