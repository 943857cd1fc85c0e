package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail is returned when a user registration collides with
	// an existing email.
	ErrDuplicateEmail = errors.New("email already registered")
)

// Store wraps a GORM connection with typed accessors. The database is the
// single source of truth; conflicting writes are serialized through its
// unique constraints and single-statement updates.
type Store struct {
	db *gorm.DB
}

// New creates a Store on top of an open GORM connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- Users ---

// CreateUser inserts a new user. Returns ErrDuplicateEmail when the email
// is already taken.
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	err := s.db.WithContext(ctx).Create(user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UserByEmail fetches a user by email. Returns ErrNotFound when absent.
func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user by email: %w", err)
	}
	return &user, nil
}

// UserByID fetches a user by id. Returns ErrNotFound when absent.
func (s *Store) UserByID(ctx context.Context, id uint) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user by id: %w", err)
	}
	return &user, nil
}

// UpdatePassword replaces a user's password hash.
func (s *Store) UpdatePassword(ctx context.Context, userID uint, passwordHash string) error {
	err := s.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", userID).
		Update("password_hash", passwordHash).Error
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// --- Refresh tokens ---

// CreateRefreshToken inserts a new refresh token row.
func (s *Store) CreateRefreshToken(ctx context.Context, token *RefreshToken) error {
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

// RefreshTokenByHash looks up a refresh token by its secret hash.
// Returns ErrNotFound when absent.
func (s *Store) RefreshTokenByHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	var token RefreshToken
	err := s.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query refresh token: %w", err)
	}
	return &token, nil
}

// DeleteRefreshToken removes a refresh token row by id and reports whether
// a row was actually deleted. Rotation relies on this: with concurrent
// refreshes of the same secret, the single DELETE serializes through the
// store and exactly one caller observes a deleted row.
func (s *Store) DeleteRefreshToken(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&RefreshToken{}, id)
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete refresh token: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteRefreshTokenByHash removes a refresh token row by secret hash.
// Deleting a nonexistent token is not an error.
func (s *Store) DeleteRefreshTokenByHash(ctx context.Context, tokenHash string) error {
	err := s.db.WithContext(ctx).Where("token_hash = ?", tokenHash).Delete(&RefreshToken{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// --- Password reset tokens ---

// CreatePasswordResetToken inserts a new reset token row.
func (s *Store) CreatePasswordResetToken(ctx context.Context, token *PasswordResetToken) error {
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return fmt.Errorf("failed to create password reset token: %w", err)
	}
	return nil
}

// PasswordResetTokenByHash looks up a reset token by its secret hash.
// Returns ErrNotFound when absent.
func (s *Store) PasswordResetTokenByHash(ctx context.Context, tokenHash string) (*PasswordResetToken, error) {
	var token PasswordResetToken
	err := s.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query password reset token: %w", err)
	}
	return &token, nil
}

// ConsumePasswordResetToken marks a reset token used and reports whether
// this call was the one that consumed it. The UPDATE is guarded by
// used_at IS NULL so a concurrent second reset with the same token loses.
func (s *Store) ConsumePasswordResetToken(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&PasswordResetToken{}).
		Where("id = ? AND used_at IS NULL", id).
		Update("used_at", time.Now().UTC())
	if res.Error != nil {
		return false, fmt.Errorf("failed to consume password reset token: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// --- Chambers ---

// ChamberBySerial fetches a chamber by serial number. Returns ErrNotFound
// when absent.
func (s *Store) ChamberBySerial(ctx context.Context, serial string) (*Chamber, error) {
	var chamber Chamber
	err := s.db.WithContext(ctx).Where("serial_number = ?", serial).First(&chamber).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query chamber by serial: %w", err)
	}
	return &chamber, nil
}

// ChamberOwned reports whether the chamber exists and belongs to the user.
func (s *Store) ChamberOwned(ctx context.Context, chamberID, userID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Chamber{}).
		Where("id = ? AND user_id = ?", chamberID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check chamber ownership: %w", err)
	}
	return count > 0, nil
}

// TouchChamber refreshes a chamber's last-seen timestamp and marks it
// online in a single statement. Repeated touches of an online chamber are
// cheap no-ops at the data level.
func (s *Store) TouchChamber(ctx context.Context, chamberID uint, seenAt time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&Chamber{}).
		Where("id = ?", chamberID).
		Updates(map[string]interface{}{
			"last_seen": seenAt,
			"status":    StatusOnline,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to touch chamber: %w", err)
	}
	return nil
}

// MarkStaleOffline transitions every chamber whose last-seen timestamp is
// strictly older than the cutoff, and which is not already offline, to the
// offline state. Returns the ids of the transitioned chambers. A chamber
// touched concurrently gets a fresh last_seen in its own single statement
// and falls outside the predicate.
func (s *Store) MarkStaleOffline(ctx context.Context, cutoff time.Time) ([]uint, error) {
	var stale []Chamber
	res := s.db.WithContext(ctx).
		Model(&stale).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}}}).
		Where("last_seen IS NOT NULL AND last_seen < ? AND status <> ?", cutoff, StatusOffline).
		Update("status", StatusOffline)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to mark stale chambers offline: %w", res.Error)
	}

	ids := make([]uint, 0, len(stale))
	for _, c := range stale {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// --- Readings ---

// InsertReading appends a telemetry sample.
func (s *Store) InsertReading(ctx context.Context, reading *SensorReading) error {
	if err := s.db.WithContext(ctx).Create(reading).Error; err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// LatestReading returns the most recent reading for a chamber, or nil when
// the chamber has no readings yet.
func (s *Store) LatestReading(ctx context.Context, chamberID uint) (*SensorReading, error) {
	var reading SensorReading
	err := s.db.WithContext(ctx).
		Where("chamber_id = ?", chamberID).
		Order("timestamp DESC").
		First(&reading).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest reading: %w", err)
	}
	return &reading, nil
}

// ListChambersWithLatest returns the user's chambers ordered by name, each
// with its most recent reading attached.
func (s *Store) ListChambersWithLatest(ctx context.Context, userID uint) ([]ChamberWithReading, error) {
	var chambers []Chamber
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("name").
		Find(&chambers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chambers: %w", err)
	}

	result := make([]ChamberWithReading, 0, len(chambers))
	for _, chamber := range chambers {
		latest, err := s.LatestReading(ctx, chamber.ID)
		if err != nil {
			return nil, err
		}
		result = append(result, ChamberWithReading{Chamber: chamber, CurrentReading: latest})
	}
	return result, nil
}

// ReadingsInRange returns readings for a chamber newer than since, in
// chronological (oldest-first) order, capped at limit rows counted from the
// newest. Ownership is enforced in the query; an unowned chamber yields an
// empty result, indistinguishable from one with no data.
func (s *Store) ReadingsInRange(ctx context.Context, chamberID, userID uint, since time.Time, limit int) ([]SensorReading, error) {
	var readings []SensorReading
	err := s.db.WithContext(ctx).
		Joins("JOIN chambers ON chambers.id = sensor_readings.chamber_id").
		Where("sensor_readings.chamber_id = ? AND chambers.user_id = ? AND sensor_readings.timestamp >= ?",
			chamberID, userID, since).
		Order("sensor_readings.timestamp DESC").
		Limit(limit).
		Find(&readings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}

	// Newest-first from the index scan; charts want oldest-first.
	for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
		readings[i], readings[j] = readings[j], readings[i]
	}
	return readings, nil
}

// --- Device events ---

// InsertDeviceEvent appends a chamber lifecycle event.
func (s *Store) InsertDeviceEvent(ctx context.Context, event *DeviceEvent) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to insert device event: %w", err)
	}
	return nil
}

// RecentDeviceEvents returns the newest events for a chamber the user owns.
// An unowned chamber yields an empty result.
func (s *Store) RecentDeviceEvents(ctx context.Context, chamberID, userID uint, limit int) ([]DeviceEvent, error) {
	var events []DeviceEvent
	err := s.db.WithContext(ctx).
		Joins("JOIN chambers ON chambers.id = device_events.chamber_id").
		Where("device_events.chamber_id = ? AND chambers.user_id = ?", chamberID, userID).
		Order("device_events.event_timestamp DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query device events: %w", err)
	}
	return events, nil
}

// --- Alert rules ---

// AlertRules returns the alert rules for a chamber the user owns.
// An unowned chamber yields an empty result.
func (s *Store) AlertRules(ctx context.Context, chamberID, userID uint) ([]AlertRule, error) {
	var rules []AlertRule
	err := s.db.WithContext(ctx).
		Joins("JOIN chambers ON chambers.id = alert_rules.chamber_id").
		Where("alert_rules.chamber_id = ? AND chambers.user_id = ?", chamberID, userID).
		Order("alert_rules.parameter").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query alert rules: %w", err)
	}
	return rules, nil
}

// UpsertAlertRule idempotently creates or updates the rule for the
// chamber/parameter pair through the unique constraint.
func (s *Store) UpsertAlertRule(ctx context.Context, rule *AlertRule) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chamber_id"}, {Name: "parameter"}},
			DoUpdates: clause.AssignmentColumns([]string{"min_value", "max_value", "enabled"}),
		}).
		Create(rule).Error
	if err != nil {
		return fmt.Errorf("failed to upsert alert rule: %w", err)
	}
	return nil
}
