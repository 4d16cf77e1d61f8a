package fleet

// The types below are the bit-exact JSON contract the command relay expects.
// Field names must not change without coordinating with the relay.

// EnvelopeType selects which payload branch of a CommandEnvelope is set.
type EnvelopeType string

const (
	EnvelopeRequestLocation EnvelopeType = "RequestLocation"
	EnvelopeElockCommand    EnvelopeType = "ElockCommand"
	EnvelopeParamSetting    EnvelopeType = "ParamSetting"
)

// ElockCmdType is the actuator direction of an elock command.
type ElockCmdType string

const (
	ElockSeal   ElockCmdType = "SEAL"
	ElockUnseal ElockCmdType = "UNSEAL"
)

// ElockCommand carries a seal/unseal actuation authenticated by a 6-digit
// key. LockID always equals the target device id; Bill correlates the
// relay's acknowledgement back to the originating request.
type ElockCommand struct {
	CmdType           ElockCmdType `json:"cmdType"`
	LockID            string       `json:"lockId"`
	Bill              string       `json:"bill"`
	LineCode          int          `json:"lineCode"`
	Gate              int          `json:"gate"`
	Key               string       `json:"key"`
	ValidTime         *int         `json:"validTime,omitempty"`
	BusinessDataSeqNo string       `json:"businessDataSeqNo,omitempty"`
}

// ParamSetting adjusts reporting cadences on the device. Only the intervals
// being changed are set.
type ParamSetting struct {
	CommandID                      string `json:"commandId"`
	HeartbeatInterval              *int   `json:"heartbeatInterval,omitempty"`
	DefaultLocationUploadInterval  *int   `json:"defaultLocationUploadInterval,omitempty"`
	InAlarmLocationUploadInterval  *int   `json:"inAlarmLocationUploadInterval,omitempty"`
	SleepingLocationUploadInterval *int   `json:"sleepingLocationUploadInterval,omitempty"`
}

// CommandEnvelope is one protocol command addressed to one device. Exactly
// one of the optional payload branches is set, matching Type.
type CommandEnvelope struct {
	DeviceID         string         `json:"deviceId"`
	Type             EnvelopeType   `json:"type"`
	Elock            *ElockCommand  `json:"elockCommand,omitempty"`
	ParamSettingList []ParamSetting `json:"paramSettingList,omitempty"`
}

// CommandBatch is the outbound unit sent to the relay: one list of command
// envelopes per target device. CacheCommandsWhenOffline is always false for
// this subsystem; an offline device must fail fast, not queue silently.
type CommandBatch struct {
	Commands                 map[string][]CommandEnvelope `json:"commands"`
	CacheCommandsWhenOffline bool                         `json:"cacheCommandsWhenOffline"`
}

// AckStatus is the relay's verdict on a delivered command.
type AckStatus string

const (
	AckOK    AckStatus = "ACK"
	AckError AckStatus = "ERROR"
)

// CommandAck is the inbound acknowledgement consumed from the relay's ack
// queue. CommandID carries the dispatcher's correlation id (the elock Bill
// or param-setting CommandID).
type CommandAck struct {
	CommandID string    `json:"commandId"`
	DeviceID  string    `json:"deviceId"`
	Status    AckStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
}
