package runlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mailroute/mailroute/pkg/logging"
)

func record(user string, at time.Time, status Status) *RunRecord {
	return &RunRecord{
		UserID:      user,
		RunTime:     at,
		DataType:    "Lead",
		Source:      "Email",
		Destination: "crm",
		Status:      status,
	}
}

func TestMemoryStoreAppendAssignsID(t *testing.T) {
	store := NewMemoryStore()
	rec := record("u1", time.Now(), StatusProcessed)

	if err := store.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if rec.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("ID not assigned")
	}
}

func TestMemoryStoreRejectsInvalid(t *testing.T) {
	store := NewMemoryStore()

	tests := []struct {
		name string
		rec  *RunRecord
	}{
		{"missing user", record("", time.Now(), StatusSuccess)},
		{"zero time", record("u1", time.Time{}, StatusSuccess)},
		{"bad status", record("u1", time.Now(), Status("Done"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.Append(context.Background(), tt.rec); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMemoryStoreListByUserNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rec := record("u1", base.Add(time.Duration(i)*time.Hour), StatusProcessed)
		if err := store.Append(context.Background(), rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := store.Append(context.Background(), record("u2", base, StatusSkip)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, err := store.ListByUser(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].RunTime.After(records[i-1].RunTime) {
			t.Error("records not ordered newest first")
		}
	}
}

func TestMemoryStoreListLimit(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now()
	for i := 0; i < 5; i++ {
		if err := store.Append(context.Background(), record("u1", base.Add(time.Duration(i)*time.Minute), StatusSuccess)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	records, err := store.ListByUser(context.Background(), "u1", 2)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("got %d records, want 2", len(records))
	}
}

type failingStore struct{}

func (failingStore) Append(ctx context.Context, rec *RunRecord) error {
	return errors.New("connection reset")
}

func (failingStore) ListByUser(ctx context.Context, userID string, limit int) ([]RunRecord, error) {
	return nil, errors.New("connection reset")
}

func TestLogSwallowsStoreFailure(t *testing.T) {
	// Must not panic or propagate: audit failures never change run outcome.
	Log(context.Background(), failingStore{}, logging.NewNopLogger(), record("u1", time.Now(), StatusFailed))
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusSuccess, StatusFailed, StatusProcessed, StatusSkip} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Status("success").Valid() {
		t.Error("status values are case sensitive")
	}
}
