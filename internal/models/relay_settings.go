package models

import "time"

// RelaySettings is the single global relay configuration record, stored
// under a fixed well-known key. Target channels live in RelayTarget.
type RelaySettings struct {
	Key             string `gorm:"primaryKey;size:32;column:settings_key"`
	SourceChannelID *int64
	IsRunning       bool   `gorm:"not null;default:false"`
	PendingInput    string `gorm:"size:16;not null;default:none"`
	UpdatedAt       time.Time

	Targets []RelayTarget `gorm:"foreignKey:SettingsKey;references:Key"`
}

// RelayTarget is one member of a settings record's target set. The
// composite primary key keeps the set free of duplicates.
type RelayTarget struct {
	SettingsKey string `gorm:"primaryKey;size:32"`
	ChannelID   int64  `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt   time.Time
}
