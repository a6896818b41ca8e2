// Package settings owns the single global relay configuration record. It is
// the only component that mutates the record; every mutation goes through a
// typed method that translates to one Store operation.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zulandar/courier/internal/store"
)

// DefaultKey is the well-known key of the configuration record.
const DefaultKey = "config"

// PendingInput tracks what the operator's next free-text message means.
type PendingInput string

const (
	PendingNone    PendingInput = "none"
	AwaitingSource PendingInput = "awaiting_source"
	AwaitingTarget PendingInput = "awaiting_target"
)

// Record is a snapshot of the configuration record.
type Record struct {
	SourceChannelID  *int64
	TargetChannelIDs []int64
	IsRunning        bool
	PendingInput     PendingInput
}

// Source returns the source channel id and whether one is configured.
func (r Record) Source() (int64, bool) {
	if r.SourceChannelID == nil {
		return 0, false
	}
	return *r.SourceChannelID, true
}

// HasTarget reports whether id is in the target set.
func (r Record) HasTarget(id int64) bool {
	for _, t := range r.TargetChannelIDs {
		if t == id {
			return true
		}
	}
	return false
}

// Validator decides whether an operator-supplied integer is plausible as a
// channel id on the active platform.
type Validator func(id int64) error

// TelegramChannelID accepts ids carrying the -100 prefix Telegram uses for
// channels and supergroups.
func TelegramChannelID(id int64) error {
	if !strings.HasPrefix(strconv.FormatInt(id, 10), "-100") {
		return &ValidationError{ChannelID: id, Reason: "channel ids start with -100"}
	}
	return nil
}

// PositiveChannelID accepts any positive id (Discord snowflakes).
func PositiveChannelID(id int64) error {
	if id <= 0 {
		return &ValidationError{ChannelID: id, Reason: "channel ids are positive"}
	}
	return nil
}

// Outcome describes the result of InterpretPendingText.
type Outcome struct {
	Applied   bool         // false when no input was pending
	Mode      PendingInput // the mode that was satisfied
	ChannelID int64
}

// Manager is the Configuration Manager.
type Manager struct {
	store    store.Store
	key      string
	validate Validator
}

// ManagerOpts holds parameters for creating a Manager.
type ManagerOpts struct {
	Store     store.Store
	Key       string    // defaults to DefaultKey
	Validator Validator // defaults to TelegramChannelID
}

// NewManager creates a Manager.
func NewManager(opts ManagerOpts) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("settings: store is required")
	}
	key := opts.Key
	if key == "" {
		key = DefaultKey
	}
	validate := opts.Validator
	if validate == nil {
		validate = TelegramChannelID
	}
	return &Manager{store: opts.Store, key: key, validate: validate}, nil
}

func defaultDocument() store.Document {
	return store.Document{
		TargetChannelIDs: []int64{},
		PendingInput:     string(PendingNone),
	}
}

// Get returns the current record, creating and persisting the default
// record when none exists yet. It never reports "not found".
func (m *Manager) Get(ctx context.Context) (Record, error) {
	doc, err := m.store.GetDocument(ctx, m.key)
	if errors.Is(err, store.ErrNotFound) {
		doc = defaultDocument()
		if err := m.store.UpsertDocument(ctx, m.key, doc); err != nil {
			return Record{}, &PersistenceError{Op: "create default", Err: err}
		}
		return toRecord(doc), nil
	}
	if err != nil {
		return Record{}, &PersistenceError{Op: "get", Err: err}
	}
	return toRecord(doc), nil
}

func toRecord(doc store.Document) Record {
	targets := doc.TargetChannelIDs
	if targets == nil {
		targets = []int64{}
	}
	mode := PendingInput(doc.PendingInput)
	if mode == "" {
		mode = PendingNone
	}
	return Record{
		SourceChannelID:  doc.SourceChannelID,
		TargetChannelIDs: targets,
		IsRunning:        doc.IsRunning,
		PendingInput:     mode,
	}
}

// SetField sets one field of the record. Values are not validated here.
func (m *Manager) SetField(ctx context.Context, field string, value any) error {
	err := m.store.SetField(ctx, m.key, field, value)
	if errors.Is(err, store.ErrNotFound) {
		if _, err := m.Get(ctx); err != nil {
			return err
		}
		err = m.store.SetField(ctx, m.key, field, value)
	}
	if errors.Is(err, store.ErrUnknownField) {
		return fmt.Errorf("settings: set %s: %w", field, err)
	}
	if err != nil {
		return &PersistenceError{Op: "set " + field, Err: err}
	}
	return nil
}

// SetSource sets the source channel.
func (m *Manager) SetSource(ctx context.Context, id int64) error {
	return m.SetField(ctx, store.FieldSourceChannelID, id)
}

// AddTarget inserts id into the target set. Adding a present id is a no-op.
func (m *Manager) AddTarget(ctx context.Context, id int64) error {
	if _, err := m.Get(ctx); err != nil {
		return err
	}
	if err := m.store.AddToSet(ctx, m.key, store.FieldTargetChannelIDs, id); err != nil {
		return &PersistenceError{Op: "add target", Err: err}
	}
	return nil
}

// SetRunning sets the running flag.
func (m *Manager) SetRunning(ctx context.Context, running bool) error {
	return m.SetField(ctx, store.FieldIsRunning, running)
}

// ToggleRunning flips the running flag and returns the new value.
func (m *Manager) ToggleRunning(ctx context.Context) (bool, error) {
	rec, err := m.Get(ctx)
	if err != nil {
		return false, err
	}
	next := !rec.IsRunning
	if err := m.SetRunning(ctx, next); err != nil {
		return rec.IsRunning, err
	}
	return next, nil
}

// BeginAwaiting records that the next free-text message is a source or
// target channel id.
func (m *Manager) BeginAwaiting(ctx context.Context, mode PendingInput) error {
	if mode != AwaitingSource && mode != AwaitingTarget {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	return m.SetField(ctx, store.FieldPendingInput, string(mode))
}

// CancelAwaiting clears the pending-input mode.
func (m *Manager) CancelAwaiting(ctx context.Context) error {
	return m.SetField(ctx, store.FieldPendingInput, string(PendingNone))
}

// InterpretPendingText applies text as the value the record is waiting
// for. With nothing pending it returns an Outcome with Applied=false and
// touches nothing. Parse and validation failures leave the mode in place
// so the operator can retry.
func (m *Manager) InterpretPendingText(ctx context.Context, text string) (Outcome, error) {
	rec, err := m.Get(ctx)
	if err != nil {
		return Outcome{}, err
	}
	mode := rec.PendingInput
	if mode != AwaitingSource && mode != AwaitingTarget {
		return Outcome{}, nil
	}

	input := strings.TrimSpace(text)
	id, err := strconv.ParseInt(input, 10, 64)
	if err != nil {
		return Outcome{}, &ParseError{Input: input, Err: err}
	}
	if err := m.validate(id); err != nil {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			err = &ValidationError{ChannelID: id, Reason: err.Error()}
		}
		return Outcome{}, err
	}

	switch mode {
	case AwaitingSource:
		err = m.SetSource(ctx, id)
	case AwaitingTarget:
		err = m.AddTarget(ctx, id)
	}
	if err != nil {
		return Outcome{}, err
	}
	if err := m.CancelAwaiting(ctx); err != nil {
		return Outcome{}, err
	}
	return Outcome{Applied: true, Mode: mode, ChannelID: id}, nil
}
