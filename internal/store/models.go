// Package store provides the PostgreSQL persistence layer for users,
// chambers, telemetry, and credential records.
package store

import (
	"time"
)

// Chamber liveness states.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusWarning = "warning"
	StatusAlert   = "alert"
)

// Alert rule parameters. One rule may exist per (chamber, parameter).
const (
	ParamTemperature = "temperature"
	ParamHumidity    = "humidity"
	ParamCO2         = "co2"
	ParamEthylene    = "ethylene"
)

// ValidParameter reports whether p names a telemetry channel that alert
// rules can be configured for.
func ValidParameter(p string) bool {
	switch p {
	case ParamTemperature, ParamHumidity, ParamCO2, ParamEthylene:
		return true
	}
	return false
}

// User represents a viewer account.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"not null" json:"name"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"-"`
}

// TableName specifies the table name for the User model.
func (User) TableName() string {
	return "users"
}

// Chamber represents a physical ripening chamber. Chambers are provisioned
// out-of-band; this service only mutates their liveness fields.
type Chamber struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	SerialNumber string     `gorm:"uniqueIndex;not null" json:"serial_number"`
	Name         string     `gorm:"not null" json:"name"`
	Location     string     `json:"location"`
	Status       string     `gorm:"not null;default:offline" json:"status"`
	LastSeen     *time.Time `gorm:"index:idx_chambers_last_seen" json:"last_seen"`
	UserID       uint       `gorm:"index;not null" json:"user_id"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"-"`
}

// TableName specifies the table name for the Chamber model.
func (Chamber) TableName() string {
	return "chambers"
}

// SensorReading is one telemetry sample. Rows are append-only.
type SensorReading struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ChamberID   uint      `gorm:"index:idx_readings_chamber_timestamp;not null" json:"chamber_id"`
	Temperature float64   `gorm:"not null" json:"temperature"`
	Humidity    float64   `gorm:"not null" json:"humidity"`
	CO2         float64   `gorm:"column:co2;not null" json:"co2"`
	Ethylene    float64   `gorm:"not null" json:"ethylene"`
	Timestamp   time.Time `gorm:"index:idx_readings_chamber_timestamp;not null" json:"timestamp"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"-"`
}

// TableName specifies the table name for the SensorReading model.
func (SensorReading) TableName() string {
	return "sensor_readings"
}

// DeviceEvent records a chamber lifecycle occurrence, such as a liveness
// transition.
type DeviceEvent struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ChamberID      uint      `gorm:"index;not null" json:"chamber_id"`
	EventType      string    `gorm:"not null" json:"event_type"`
	Message        string    `json:"message"`
	EventTimestamp time.Time `gorm:"index;not null" json:"event_timestamp"`
}

// TableName specifies the table name for the DeviceEvent model.
func (DeviceEvent) TableName() string {
	return "device_events"
}

// AlertRule is a per-chamber, per-parameter threshold configuration.
type AlertRule struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ChamberID uint      `gorm:"uniqueIndex:idx_alert_rules_chamber_parameter;not null" json:"chamber_id"`
	Parameter string    `gorm:"uniqueIndex:idx_alert_rules_chamber_parameter;not null" json:"parameter"`
	MinValue  float64   `json:"min_value"`
	MaxValue  float64   `json:"max_value"`
	Enabled   bool      `gorm:"not null;default:true" json:"enabled"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for the AlertRule model.
func (AlertRule) TableName() string {
	return "alert_rules"
}

// RefreshToken is the durable side of a rotating session credential. Only
// the SHA-256 hash of the secret is ever stored.
type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	TokenHash string    `gorm:"uniqueIndex;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for the RefreshToken model.
func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

// PasswordResetToken is a one-time credential for password recovery.
// UsedAt is set exactly once; a used or expired token never resets again.
type PasswordResetToken struct {
	ID        uint       `gorm:"primaryKey"`
	UserID    uint       `gorm:"index;not null"`
	TokenHash string     `gorm:"uniqueIndex;not null"`
	ExpiresAt time.Time  `gorm:"not null"`
	UsedAt    *time.Time `gorm:""`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
}

// TableName specifies the table name for the PasswordResetToken model.
func (PasswordResetToken) TableName() string {
	return "password_reset_tokens"
}

// ChamberWithReading pairs a chamber with its most recent reading for the
// dashboard listing.
type ChamberWithReading struct {
	Chamber
	CurrentReading *SensorReading `json:"current_reading"`
}
