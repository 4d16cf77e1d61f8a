package fleet

import "time"

// CommandType is one of the abstract device actions an operator can issue.
type CommandType string

const (
	CommandRequestLocation CommandType = "RequestLocation"
	CommandSeal            CommandType = "Seal"
	CommandUnseal          CommandType = "Unseal"
	CommandSetInterval     CommandType = "SetInterval"
)

// CommandState is the lifecycle state of a dispatched command. Pending is
// the only non-terminal state; a command leaves it at most once.
type CommandState string

const (
	CommandPending  CommandState = "Pending"
	CommandAcked    CommandState = "Acked"
	CommandFailed   CommandState = "Failed"
	CommandTimedOut CommandState = "TimedOut"
)

// Terminal reports whether the state is one a command never leaves.
func (s CommandState) Terminal() bool {
	return s == CommandAcked || s == CommandFailed || s == CommandTimedOut
}

// FailReason explains why a command resolved to Failed.
type FailReason string

const (
	ReasonInvalidPayload FailReason = "InvalidPayload"
	ReasonDeviceOffline  FailReason = "DeviceOffline"
	ReasonDeviceBusy     FailReason = "DeviceBusy"
	ReasonRelayError     FailReason = "RelayError"
)

// CommandRequest models exactly one device interaction. It is not retried
// automatically; the operator issues a new request instead.
type CommandRequest struct {
	ID             string       `json:"id"`
	TargetDeviceID string       `json:"targetDeviceId"`
	Type           CommandType  `json:"commandType"`
	Payload        string       `json:"payload,omitempty"`
	IssuedAt       time.Time    `json:"issuedAt"`
	State          CommandState `json:"state"`
	Reason         FailReason   `json:"reason,omitempty"`
	ResolvedAt     time.Time    `json:"resolvedAt,omitzero"`
}
