package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/alertbot/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "feedback.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_CreatesDatabaseOnFirstUse(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	rows, err := s.ListFeedback(context.Background())
	if err != nil {
		t.Fatalf("ListFeedback failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty store, got %d rows", len(rows))
	}
}

func TestSQLite_SaveAndListInOrder(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, reason := range []string{"first", "second", "third"} {
		f := &domain.Feedback{
			CustomerID:            "cust-1",
			ECN:                   "ecn-1",
			XAID:                  "xa-1",
			SessionID:             "sess-1",
			OriginalPromptMessage: "subscribe me",
			SatisfactoryMessage:   "yes",
			Reason:                reason,
			Timestamp:             base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveFeedback(ctx, f); err != nil {
			t.Fatalf("SaveFeedback(%s) failed: %v", reason, err)
		}
	}

	rows, err := s.ListFeedback(ctx)
	if err != nil {
		t.Fatalf("ListFeedback failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i, want := range []string{"first", "second", "third"} {
		if rows[i].Reason != want {
			t.Errorf("row %d reason = %q, want %q", i, rows[i].Reason, want)
		}
	}
	if !rows[1].Timestamp.Equal(base.Add(time.Minute)) {
		t.Errorf("timestamp = %v, want %v", rows[1].Timestamp, base.Add(time.Minute))
	}
	if rows[0].CustomerID != "cust-1" || rows[0].XAID != "xa-1" {
		t.Errorf("identifiers not round-tripped: %+v", rows[0])
	}
}

func TestSQLite_ReopenKeepsRecords(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "feedback.db")
	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	if err := s.SaveFeedback(context.Background(), &domain.Feedback{SessionID: "s", Timestamp: time.Now()}); err != nil {
		t.Fatalf("SaveFeedback failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	rows, err := reopened.ListFeedback(context.Background())
	if err != nil {
		t.Fatalf("ListFeedback failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row after reopen, got %d", len(rows))
	}
}

func TestWriteFeedbackCSV_FixedHeader(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := WriteFeedbackCSV(&buf, []domain.Feedback{{
		CustomerID:            "c",
		ECN:                   "e",
		XAID:                  "x",
		OriginalPromptMessage: "hello, world",
		SessionID:             "s",
		Timestamp:             ts,
		SatisfactoryMessage:   "no",
		Reason:                "slow",
	}})
	if err != nil {
		t.Fatalf("WriteFeedbackCSV failed: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header + 1 row, got %d records", len(records))
	}
	want := []string{"CustomerId", "ECN", "XAID", "OriginalPromptMessage", "SessionId", "Timestamp", "SatisfactoryMessage", "Reason"}
	for i, col := range want {
		if records[0][i] != col {
			t.Errorf("header[%d] = %q, want %q", i, records[0][i], col)
		}
	}
	row := records[1]
	if row[3] != "hello, world" || row[4] != "s" || row[5] != "2024-05-01T12:30:00Z" {
		t.Errorf("unexpected row: %v", row)
	}
}

func TestIsConflictError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY: database busy"), true},
		{errors.New("database is locked (5)"), true},
		{errors.New("no such table"), false},
	}
	for _, tc := range cases {
		if got := IsConflictError(tc.err); got != tc.want {
			t.Errorf("IsConflictError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
