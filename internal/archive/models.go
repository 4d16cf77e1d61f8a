// Package archive is the PostgreSQL persistence layer: the fleet device
// listing the registry refreshes from, the location sample history, and the
// command audit log.
package archive

import (
	"time"

	"gorm.io/gorm"

	"fleetwatch.dev/fleetwatch/pkg/fleet"
)

// FleetDevice is one tracker unit in the device listing. The registry
// treats this table as the source of truth on every refresh.
type FleetDevice struct {
	DeviceID          string         `gorm:"uniqueIndex;not null"`
	DeviceType        string         `gorm:"not null"`
	OwnerID           string         `gorm:"index:idx_device_owner;not null"`
	IMEI              string         `gorm:"not null"`
	PhoneNumber       string         `gorm:"not null"`
	IsActive          bool           `gorm:"not null"`
	LastCommunication time.Time      `gorm:"index:idx_last_communication"`
	BatteryLevel      *int           `gorm:""`
	SignalStrength    *int           `gorm:""`
	CreatedAt         time.Time      `gorm:"autoCreateTime"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime"`
	DeletedAt         gorm.DeletedAt `gorm:"index"`
	ID                uint           `gorm:"primaryKey"`
}

// TableName specifies the table name for FleetDevice model.
func (FleetDevice) TableName() string {
	return "fleet_devices"
}

// Record converts the row to the shared domain record.
func (d FleetDevice) Record() fleet.DeviceRecord {
	return fleet.DeviceRecord{
		DeviceID:          d.DeviceID,
		DeviceType:        fleet.DeviceType(d.DeviceType),
		OwnerID:           d.OwnerID,
		IMEI:              d.IMEI,
		PhoneNumber:       d.PhoneNumber,
		IsActive:          d.IsActive,
		LastCommunication: d.LastCommunication,
		BatteryLevel:      d.BatteryLevel,
		SignalStrength:    d.SignalStrength,
	}
}

// SampleRecord is one archived location sample. The in-memory trails are
// bounded; this table is the long history behind them.
type SampleRecord struct {
	OwnerID   string    `gorm:"index:idx_owner_timestamp;not null"`
	Timestamp time.Time `gorm:"index:idx_owner_timestamp;not null"`
	Latitude  float64   `gorm:"not null"`
	Longitude float64   `gorm:"not null"`
	Speed     float64   `gorm:"not null"`
	Heading   float64   `gorm:"not null"`
	Altitude  float64   `gorm:"not null"`
	Accuracy  float64   `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	ID        uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for SampleRecord model.
func (SampleRecord) TableName() string {
	return "location_samples"
}

// Sample converts the row to the shared domain sample.
func (s SampleRecord) Sample() fleet.LocationSample {
	return fleet.LocationSample{
		OwnerID:   s.OwnerID,
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Timestamp: s.Timestamp,
		Speed:     s.Speed,
		Heading:   s.Heading,
		Altitude:  s.Altitude,
		Accuracy:  s.Accuracy,
	}
}

// CommandAudit is one resolved command. Rows are written once a command
// reaches a terminal state and are never updated.
type CommandAudit struct {
	CommandID      string    `gorm:"uniqueIndex;not null"`
	TargetDeviceID string    `gorm:"index:idx_audit_device;not null"`
	CommandType    string    `gorm:"not null"`
	Payload        string    `gorm:""`
	State          string    `gorm:"not null"`
	Reason         string    `gorm:""`
	IssuedAt       time.Time `gorm:"not null"`
	ResolvedAt     time.Time `gorm:""`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	ID             uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for CommandAudit model.
func (CommandAudit) TableName() string {
	return "command_audits"
}
