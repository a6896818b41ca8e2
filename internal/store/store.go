// Package store persists relay configuration documents. A document is one
// RelaySettings row plus its RelayTarget set, addressed by a string key.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/courier/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Document field names accepted by SetField and AddToSet.
const (
	FieldSourceChannelID  = "source_channel_id"
	FieldTargetChannelIDs = "target_channel_ids"
	FieldIsRunning        = "is_running"
	FieldPendingInput     = "pending_input"
)

var (
	// ErrNotFound is returned by GetDocument when no document exists for a key.
	ErrNotFound = errors.New("store: document not found")
	// ErrUnknownField is returned when a field name has no backing column.
	ErrUnknownField = errors.New("store: unknown field")
)

// scalarColumns maps scalar document fields to relay_settings columns.
var scalarColumns = map[string]string{
	FieldSourceChannelID: "source_channel_id",
	FieldIsRunning:       "is_running",
	FieldPendingInput:    "pending_input",
}

// Document is the storage-level view of a configuration record.
type Document struct {
	SourceChannelID  *int64
	TargetChannelIDs []int64
	IsRunning        bool
	PendingInput     string
}

// Store is a key-value document store with atomic single-field updates.
type Store interface {
	GetDocument(ctx context.Context, key string) (Document, error)
	UpsertDocument(ctx context.Context, key string, doc Document) error
	SetField(ctx context.Context, key, field string, value any) error
	AddToSet(ctx context.Context, key, field string, value int64) error
}

// GormStore implements Store on top of a GORM database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GormStore. The relay tables must already exist.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	return &GormStore{db: db}, nil
}

// GetDocument loads the document stored under key, or ErrNotFound.
func (s *GormStore) GetDocument(ctx context.Context, key string) (Document, error) {
	var row models.RelaySettings
	err := s.db.WithContext(ctx).
		Preload("Targets", func(tx *gorm.DB) *gorm.DB { return tx.Order("channel_id") }).
		Where("settings_key = ?", key).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("store: get %q: %w", key, err)
	}

	doc := Document{
		SourceChannelID:  row.SourceChannelID,
		IsRunning:        row.IsRunning,
		PendingInput:     row.PendingInput,
		TargetChannelIDs: make([]int64, 0, len(row.Targets)),
	}
	for _, t := range row.Targets {
		doc.TargetChannelIDs = append(doc.TargetChannelIDs, t.ChannelID)
	}
	return doc, nil
}

// UpsertDocument writes doc under key, replacing any existing document
// including its target set.
func (s *GormStore) UpsertDocument(ctx context.Context, key string, doc Document) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.RelaySettings{
			Key:             key,
			SourceChannelID: doc.SourceChannelID,
			IsRunning:       doc.IsRunning,
			PendingInput:    doc.PendingInput,
		}
		if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "settings_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"source_channel_id", "is_running", "pending_input", "updated_at"}),
		}).Create(&row).Error; err != nil {
			return err
		}

		if err := tx.Where("settings_key = ?", key).Delete(&models.RelayTarget{}).Error; err != nil {
			return err
		}
		for _, id := range doc.TargetChannelIDs {
			if err := insertTarget(tx, key, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: upsert %q: %w", key, err)
	}
	return nil
}

// SetField atomically updates a single scalar field of the document.
func (s *GormStore) SetField(ctx context.Context, key, field string, value any) error {
	column, ok := scalarColumns[field]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	result := s.db.WithContext(ctx).Model(&models.RelaySettings{}).
		Where("settings_key = ?", key).
		Update(column, value)
	if result.Error != nil {
		return fmt.Errorf("store: set %s on %q: %w", field, key, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddToSet inserts value into a set-valued field. Adding an existing
// member is a no-op.
func (s *GormStore) AddToSet(ctx context.Context, key, field string, value int64) error {
	if field != FieldTargetChannelIDs {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	if err := insertTarget(s.db.WithContext(ctx), key, value); err != nil {
		return fmt.Errorf("store: add %d to %s on %q: %w", value, field, key, err)
	}
	return nil
}

func insertTarget(tx *gorm.DB, key string, id int64) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.RelayTarget{
		SettingsKey: key,
		ChannelID:   id,
	}).Error
}
