package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"fleetwatch.dev/fleetwatch/pkg/fleet"
)

// Store wraps the database with the persistence operations the tracker
// needs: the device listing for registry refreshes, sample archiving, and
// the command audit log.
type Store struct {
	logger *slog.Logger
	db     *gorm.DB
}

// NewStore creates a new Store instance.
func NewStore(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Store{logger: logger, db: db}, nil
}

// FetchDevices returns the full device listing. The registry replaces its
// snapshot wholesale with whatever this returns.
func (s *Store) FetchDevices(ctx context.Context) ([]fleet.DeviceRecord, error) {
	var rows []FleetDevice
	if err := s.db.WithContext(ctx).Order("device_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch device listing: %w", err)
	}

	devices := make([]fleet.DeviceRecord, 0, len(rows))
	for _, row := range rows {
		devices = append(devices, row.Record())
	}
	return devices, nil
}

// UpsertDevice creates or updates one row in the device listing.
func (s *Store) UpsertDevice(ctx context.Context, device fleet.DeviceRecord) error {
	row := &FleetDevice{
		DeviceID:          device.DeviceID,
		DeviceType:        string(device.DeviceType),
		OwnerID:           device.OwnerID,
		IMEI:              device.IMEI,
		PhoneNumber:       device.PhoneNumber,
		IsActive:          device.IsActive,
		LastCommunication: device.LastCommunication,
		BatteryLevel:      device.BatteryLevel,
		SignalStrength:    device.SignalStrength,
	}

	result := s.db.WithContext(ctx).
		Where("device_id = ?", row.DeviceID).
		Assign(map[string]interface{}{
			"device_type":        row.DeviceType,
			"owner_id":           row.OwnerID,
			"imei":               row.IMEI,
			"phone_number":       row.PhoneNumber,
			"is_active":          row.IsActive,
			"last_communication": row.LastCommunication,
			"battery_level":      row.BatteryLevel,
			"signal_strength":    row.SignalStrength,
		}).
		FirstOrCreate(row)

	if result.Error != nil {
		return fmt.Errorf("failed to upsert device: %w", result.Error)
	}
	return nil
}

// SaveSample archives one location sample. A redelivered sample with the
// same owner, instant, and coordinates is a no-op, so the consumer can
// safely requeue on failure.
func (s *Store) SaveSample(ctx context.Context, sample fleet.LocationSample) error {
	row := &SampleRecord{
		OwnerID:   sample.OwnerID,
		Timestamp: sample.Timestamp.UTC(),
		Latitude:  sample.Latitude,
		Longitude: sample.Longitude,
		Speed:     sample.Speed,
		Heading:   sample.Heading,
		Altitude:  sample.Altitude,
		Accuracy:  sample.Accuracy,
	}

	result := s.db.WithContext(ctx).
		Where("owner_id = ? AND timestamp = ? AND latitude = ? AND longitude = ?",
			row.OwnerID, row.Timestamp, row.Latitude, row.Longitude).
		FirstOrCreate(row)

	if result.Error != nil {
		return fmt.Errorf("failed to save sample: %w", result.Error)
	}
	return nil
}

// SamplesFor returns the archived history for an owner, newest first,
// capped at limit.
func (s *Store) SamplesFor(ctx context.Context, ownerID string, limit int) ([]fleet.LocationSample, error) {
	var rows []SampleRecord
	query := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("timestamp DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch sample history: %w", err)
	}

	samples := make([]fleet.LocationSample, 0, len(rows))
	for _, row := range rows {
		samples = append(samples, row.Sample())
	}
	return samples, nil
}

// SaveCommand records a resolved command in the audit log. Terminal states
// never change, so a repeated save for the same command id is a no-op.
func (s *Store) SaveCommand(ctx context.Context, cmd fleet.CommandRequest) error {
	row := &CommandAudit{
		CommandID:      cmd.ID,
		TargetDeviceID: cmd.TargetDeviceID,
		CommandType:    string(cmd.Type),
		Payload:        cmd.Payload,
		State:          string(cmd.State),
		Reason:         string(cmd.Reason),
		IssuedAt:       cmd.IssuedAt,
		ResolvedAt:     cmd.ResolvedAt,
	}

	result := s.db.WithContext(ctx).
		Where("command_id = ?", row.CommandID).
		FirstOrCreate(row)

	if result.Error != nil {
		return fmt.Errorf("failed to save command audit: %w", result.Error)
	}
	return nil
}
