package dispatch

import (
	"strconv"

	"fleetwatch.dev/fleetwatch/pkg/fleet"
)

// buildBatch renders a validated request as the relay's wire format: one
// envelope list keyed by target device. Offline caching is always off; an
// unreachable device must fail fast rather than queue silently.
func buildBatch(req fleet.CommandRequest, keyValidTime int) fleet.CommandBatch {
	return fleet.CommandBatch{
		Commands: map[string][]fleet.CommandEnvelope{
			req.TargetDeviceID: {buildEnvelope(req, keyValidTime)},
		},
		CacheCommandsWhenOffline: false,
	}
}

func buildEnvelope(req fleet.CommandRequest, keyValidTime int) fleet.CommandEnvelope {
	env := fleet.CommandEnvelope{DeviceID: req.TargetDeviceID}

	switch req.Type {
	case fleet.CommandSeal, fleet.CommandUnseal:
		cmdType := fleet.ElockSeal
		if req.Type == fleet.CommandUnseal {
			cmdType = fleet.ElockUnseal
		}
		validTime := keyValidTime
		env.Type = fleet.EnvelopeElockCommand
		env.Elock = &fleet.ElockCommand{
			CmdType:   cmdType,
			LockID:    req.TargetDeviceID,
			Bill:      req.ID,
			Key:       req.Payload,
			ValidTime: &validTime,
		}

	case fleet.CommandSetInterval:
		// Payload is validated before we get here.
		seconds, _ := strconv.Atoi(req.Payload)
		env.Type = fleet.EnvelopeParamSetting
		env.ParamSettingList = []fleet.ParamSetting{{
			CommandID:                     req.ID,
			DefaultLocationUploadInterval: &seconds,
		}}

	default:
		env.Type = fleet.EnvelopeRequestLocation
	}

	return env
}
