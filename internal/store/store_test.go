package store

import (
	"context"
	"errors"
	"testing"

	"github.com/zulandar/courier/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.RelaySettings{}, &models.RelayTarget{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(openTestDB(t))
	if err != nil {
		t.Fatalf("NewGormStore: %v", err)
	}
	return s
}

func int64Ptr(v int64) *int64 { return &v }

func TestNewGormStore_NilDB(t *testing.T) {
	_, err := NewGormStore(nil)
	if err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetDocument(context.Background(), "config")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertDocument_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := Document{
		SourceChannelID:  int64Ptr(-1001),
		TargetChannelIDs: []int64{-1003, -1002},
		IsRunning:        true,
		PendingInput:     "awaiting_target",
	}
	if err := s.UpsertDocument(ctx, "config", want); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	got, err := s.GetDocument(ctx, "config")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.SourceChannelID == nil || *got.SourceChannelID != -1001 {
		t.Errorf("SourceChannelID = %v, want -1001", got.SourceChannelID)
	}
	if !got.IsRunning {
		t.Error("IsRunning = false, want true")
	}
	if got.PendingInput != "awaiting_target" {
		t.Errorf("PendingInput = %q", got.PendingInput)
	}
	if len(got.TargetChannelIDs) != 2 {
		t.Fatalf("TargetChannelIDs = %v, want 2 entries", got.TargetChannelIDs)
	}
}

func TestUpsertDocument_ReplacesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertDocument(ctx, "config", Document{
		SourceChannelID:  int64Ptr(-1001),
		TargetChannelIDs: []int64{-1002, -1003},
		IsRunning:        true,
		PendingInput:     "none",
	}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertDocument(ctx, "config", Document{
		TargetChannelIDs: []int64{-1009},
		PendingInput:     "none",
	}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.GetDocument(ctx, "config")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.SourceChannelID != nil {
		t.Errorf("SourceChannelID = %d, want nil", *got.SourceChannelID)
	}
	if got.IsRunning {
		t.Error("IsRunning should have been reset")
	}
	if len(got.TargetChannelIDs) != 1 || got.TargetChannelIDs[0] != -1009 {
		t.Errorf("TargetChannelIDs = %v, want [-1009]", got.TargetChannelIDs)
	}
}

func TestUpsertDocument_DefaultsPendingInput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertDocument(ctx, "config", Document{}); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	got, err := s.GetDocument(ctx, "config")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.PendingInput != "none" {
		t.Errorf("PendingInput = %q, want column default none", got.PendingInput)
	}
	if got.TargetChannelIDs == nil || len(got.TargetChannelIDs) != 0 {
		t.Errorf("TargetChannelIDs = %#v, want empty non-nil", got.TargetChannelIDs)
	}
}

func TestSetField(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertDocument(ctx, "config", Document{PendingInput: "none"}); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	if err := s.SetField(ctx, "config", FieldSourceChannelID, int64(-100555)); err != nil {
		t.Fatalf("SetField source: %v", err)
	}
	if err := s.SetField(ctx, "config", FieldIsRunning, true); err != nil {
		t.Fatalf("SetField running: %v", err)
	}
	if err := s.SetField(ctx, "config", FieldPendingInput, "awaiting_source"); err != nil {
		t.Fatalf("SetField pending: %v", err)
	}

	got, err := s.GetDocument(ctx, "config")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.SourceChannelID == nil || *got.SourceChannelID != -100555 {
		t.Errorf("SourceChannelID = %v, want -100555", got.SourceChannelID)
	}
	if !got.IsRunning {
		t.Error("IsRunning = false, want true")
	}
	if got.PendingInput != "awaiting_source" {
		t.Errorf("PendingInput = %q", got.PendingInput)
	}

	if err := s.SetField(ctx, "config", FieldIsRunning, false); err != nil {
		t.Fatalf("SetField running=false: %v", err)
	}
	got, _ = s.GetDocument(ctx, "config")
	if got.IsRunning {
		t.Error("IsRunning = true after setting false")
	}
}

func TestSetField_UnknownField(t *testing.T) {
	s := newTestStore(t)
	err := s.SetField(context.Background(), "config", "owner", 1)
	if !errors.Is(err, ErrUnknownField) {
		t.Errorf("err = %v, want ErrUnknownField", err)
	}
}

func TestSetField_MissingDocument(t *testing.T) {
	s := newTestStore(t)
	err := s.SetField(context.Background(), "config", FieldIsRunning, true)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAddToSet_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertDocument(ctx, "config", Document{PendingInput: "none"}); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.AddToSet(ctx, "config", FieldTargetChannelIDs, -1007); err != nil {
			t.Fatalf("AddToSet #%d: %v", i+1, err)
		}
	}
	if err := s.AddToSet(ctx, "config", FieldTargetChannelIDs, -1008); err != nil {
		t.Fatalf("AddToSet: %v", err)
	}

	got, err := s.GetDocument(ctx, "config")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if len(got.TargetChannelIDs) != 2 {
		t.Errorf("TargetChannelIDs = %v, want 2 unique entries", got.TargetChannelIDs)
	}
}

func TestAddToSet_UnknownField(t *testing.T) {
	s := newTestStore(t)
	err := s.AddToSet(context.Background(), "config", FieldSourceChannelID, 1)
	if !errors.Is(err, ErrUnknownField) {
		t.Errorf("err = %v, want ErrUnknownField", err)
	}
}

func TestStore_ClosedDB(t *testing.T) {
	db := openTestDB(t)
	s, _ := NewGormStore(db)
	sqlDB, _ := db.DB()
	sqlDB.Close()

	ctx := context.Background()
	if _, err := s.GetDocument(ctx, "config"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("GetDocument on closed db: err = %v, want driver error", err)
	}
	if err := s.SetField(ctx, "config", FieldIsRunning, true); err == nil {
		t.Error("SetField on closed db should fail")
	}
	if err := s.AddToSet(ctx, "config", FieldTargetChannelIDs, 1); err == nil {
		t.Error("AddToSet on closed db should fail")
	}
	if err := s.UpsertDocument(ctx, "config", Document{}); err == nil {
		t.Error("UpsertDocument on closed db should fail")
	}
}
