// Package dispatch translates operator-initiated device actions into
// protocol envelopes, sends them to the hardware relay, and tracks each
// command's lifecycle to a terminal state.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetwatch.dev/fleetwatch/pkg/fleet"
	"fleetwatch.dev/fleetwatch/pkg/metrics"
)

const (
	// DefaultAckTimeout bounds the wait for a relay acknowledgement.
	DefaultAckTimeout = 15 * time.Second

	// DefaultRetainTerminal is how long terminal commands stay queryable
	// before the audit sweep discards them.
	DefaultRetainTerminal = 10 * time.Minute

	// defaultKeyValidTime is how long an elock key remains valid on the
	// device, in seconds.
	defaultKeyValidTime = 180
)

// Dispatch rejections, reported synchronously before any I/O.
var (
	ErrInvalidPayload = errors.New("invalid command payload")
	ErrDeviceOffline  = errors.New("device is offline")
	ErrDeviceBusy     = errors.New("a command is already pending for this device")
)

// Relay delivers a command batch to the external hardware relay.
type Relay interface {
	Send(ctx context.Context, batch fleet.CommandBatch) error
}

// RegistryView is the slice of the device registry the dispatcher consults
// for eligibility checks.
type RegistryView interface {
	Device(deviceID string) (fleet.DeviceRecord, bool)
}

// AuditStore persists commands once they reach a terminal state. The
// archive implements it; the dispatcher works without one.
type AuditStore interface {
	SaveCommand(ctx context.Context, cmd fleet.CommandRequest) error
}

// Config holds the configuration for the Dispatcher.
type Config struct {
	Logger   *slog.Logger
	Relay    Relay
	Registry RegistryView
	// AckTimeout bounds the wait for an acknowledgement (DefaultAckTimeout if <= 0).
	AckTimeout time.Duration
	// RetainTerminal is the audit retention window (DefaultRetainTerminal if <= 0).
	RetainTerminal time.Duration
	// Audit is optional; nil disables persistence of terminal commands.
	Audit AuditStore
	// Metrics is the optional Prometheus metrics collector.
	Metrics *metrics.DispatchMetrics
}

// Dispatcher enforces one pending command per device; dispatches to
// different devices proceed fully in parallel.
type Dispatcher struct {
	logger         *slog.Logger
	relay          Relay
	registry       RegistryView
	ackTimeout     time.Duration
	retainTerminal time.Duration
	audit          AuditStore
	metrics        *metrics.DispatchMetrics

	mu       sync.Mutex
	pending  map[string]string        // deviceID -> command id
	commands map[string]*commandEntry // command id -> entry
}

type commandEntry struct {
	req     fleet.CommandRequest
	timeout *time.Timer
	sentAt  time.Time
}

// New creates a new Dispatcher instance.
func New(cfg *Config) (*Dispatcher, error) {
	if cfg == nil {
		return nil, errors.New("dispatcher config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Relay == nil {
		return nil, errors.New("relay cannot be nil")
	}
	if cfg.Registry == nil {
		return nil, errors.New("registry cannot be nil")
	}

	ackTimeout := cfg.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	retain := cfg.RetainTerminal
	if retain <= 0 {
		retain = DefaultRetainTerminal
	}

	return &Dispatcher{
		logger:         cfg.Logger,
		relay:          cfg.Relay,
		registry:       cfg.Registry,
		ackTimeout:     ackTimeout,
		retainTerminal: retain,
		audit:          cfg.Audit,
		metrics:        cfg.Metrics,
		pending:        make(map[string]string),
		commands:       make(map[string]*commandEntry),
	}, nil
}

// Dispatch validates and sends one command to one device. Validation and
// eligibility failures resolve the returned request to Failed before any
// network call; otherwise the request is returned Pending and resolves to
// Acked, Failed, or TimedOut as the relay responds (or does not).
func (d *Dispatcher) Dispatch(ctx context.Context, deviceID string, cmdType fleet.CommandType, payload string) (fleet.CommandRequest, error) {
	req := fleet.CommandRequest{
		ID:             uuid.NewString(),
		TargetDeviceID: deviceID,
		Type:           cmdType,
		Payload:        payload,
		IssuedAt:       time.Now().UTC(),
		State:          fleet.CommandPending,
	}

	if d.metrics != nil {
		d.metrics.CommandsDispatched.WithLabelValues(string(cmdType)).Inc()
	}

	if err := validatePayload(cmdType, payload); err != nil {
		return d.rejected(req, fleet.ReasonInvalidPayload), fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	// The relay would also refuse an offline device, but the operator gets
	// the verdict here without a round trip.
	device, ok := d.registry.Device(deviceID)
	if !ok || device.Status() != fleet.StatusOnline {
		return d.rejected(req, fleet.ReasonDeviceOffline), ErrDeviceOffline
	}

	d.mu.Lock()
	if pendingID, busy := d.pending[deviceID]; busy {
		d.mu.Unlock()
		d.logger.Warn("command rejected, device busy",
			"device_id", deviceID,
			"pending_command_id", pendingID,
		)
		return d.rejected(req, fleet.ReasonDeviceBusy), ErrDeviceBusy
	}

	entry := &commandEntry{req: req, sentAt: time.Now()}
	d.pending[deviceID] = req.ID
	d.commands[req.ID] = entry
	entry.timeout = time.AfterFunc(d.ackTimeout, func() {
		d.resolve(req.ID, fleet.CommandTimedOut, "", "")
	})
	if d.metrics != nil {
		d.metrics.PendingCommands.Inc()
	}
	d.mu.Unlock()

	batch := buildBatch(req, defaultKeyValidTime)
	if err := d.relay.Send(ctx, batch); err != nil {
		d.logger.Error("relay send failed",
			"device_id", deviceID,
			"command_id", req.ID,
			"error", err,
		)
		d.resolve(req.ID, fleet.CommandFailed, fleet.ReasonRelayError, err.Error())
		cmd, _ := d.Command(req.ID)
		return cmd, fmt.Errorf("relay send failed: %w", err)
	}

	d.logger.Info("command dispatched",
		"device_id", deviceID,
		"command_id", req.ID,
		"command_type", cmdType,
	)

	cmd, _ := d.Command(req.ID)
	return cmd, nil
}

// HandleAck resolves the pending command the ack correlates to. Acks for
// unknown or already-terminal commands are logged and dropped.
func (d *Dispatcher) HandleAck(ack fleet.CommandAck) {
	commandID := ack.CommandID
	if commandID == "" {
		// RequestLocation envelopes carry no correlation id; the relay acks
		// by device. One-pending-per-device makes the lookup unambiguous.
		d.mu.Lock()
		commandID = d.pending[ack.DeviceID]
		d.mu.Unlock()
	}

	if ack.Status == fleet.AckOK {
		d.resolve(commandID, fleet.CommandAcked, "", "")
		return
	}
	d.resolve(commandID, fleet.CommandFailed, fleet.ReasonRelayError, ack.Error)
}

// Command returns the tracked request for the given command id, if it is
// still within the audit retention window.
func (d *Dispatcher) Command(commandID string) (fleet.CommandRequest, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.commands[commandID]
	if !ok {
		return fleet.CommandRequest{}, false
	}
	return entry.req, true
}

// Commands returns all tracked requests, newest first.
func (d *Dispatcher) Commands() []fleet.CommandRequest {
	d.mu.Lock()
	out := make([]fleet.CommandRequest, 0, len(d.commands))
	for _, entry := range d.commands {
		out = append(out, entry.req)
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out
}

// PendingFor returns the pending request for a device, if any.
func (d *Dispatcher) PendingFor(deviceID string) (fleet.CommandRequest, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.pending[deviceID]
	if !ok {
		return fleet.CommandRequest{}, false
	}
	return d.commands[id].req, true
}

// rejected records a synchronous pre-dispatch failure so the operator can
// still query it, and schedules its audit sweep.
func (d *Dispatcher) rejected(req fleet.CommandRequest, reason fleet.FailReason) fleet.CommandRequest {
	req.State = fleet.CommandFailed
	req.Reason = reason
	req.ResolvedAt = time.Now().UTC()

	d.mu.Lock()
	d.commands[req.ID] = &commandEntry{req: req}
	d.mu.Unlock()

	d.afterTerminal(req)
	return req
}

// resolve transitions a command out of Pending exactly once. Terminal
// states are sticky; late acks and timer races are no-ops.
func (d *Dispatcher) resolve(commandID string, state fleet.CommandState, reason fleet.FailReason, detail string) {
	d.mu.Lock()
	entry, ok := d.commands[commandID]
	if !ok {
		d.mu.Unlock()
		d.logger.Debug("ignoring resolution for unknown command", "command_id", commandID)
		return
	}
	if entry.req.State != fleet.CommandPending {
		d.mu.Unlock()
		return
	}

	entry.req.State = state
	entry.req.Reason = reason
	entry.req.ResolvedAt = time.Now().UTC()
	if entry.timeout != nil {
		entry.timeout.Stop()
	}
	delete(d.pending, entry.req.TargetDeviceID)
	req := entry.req
	sentAt := entry.sentAt
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.PendingCommands.Dec()
		if state == fleet.CommandAcked {
			d.metrics.AckLatency.Observe(time.Since(sentAt).Seconds())
		}
	}

	d.logger.Info("command resolved",
		"command_id", commandID,
		"device_id", req.TargetDeviceID,
		"state", state,
		"reason", reason,
		"detail", detail,
	)

	d.afterTerminal(req)
}

// afterTerminal records metrics, persists the audit row, and schedules the
// retention sweep for a command that just became terminal.
func (d *Dispatcher) afterTerminal(req fleet.CommandRequest) {
	if d.metrics != nil {
		d.metrics.CommandsResolved.WithLabelValues(string(req.Type), string(req.State)).Inc()
	}

	if d.audit != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := d.audit.SaveCommand(ctx, req); err != nil {
				d.logger.Error("failed to persist command audit",
					"command_id", req.ID,
					"error", err,
				)
			}
		}()
	}

	time.AfterFunc(d.retainTerminal, func() {
		d.mu.Lock()
		delete(d.commands, req.ID)
		d.mu.Unlock()
	})
}
