package telemetry

import (
	"path/filepath"
	"testing"
)

func sample(taskID, kind string, ts int64) Report {
	return Report{
		TaskID:    taskID,
		Kind:      kind,
		Plan:      "Direct",
		Predicted: 100,
		Observed:  128,
		Timestamp: ts,
	}
}

func TestInMemoryAppendAndRecent(t *testing.T) {
	s := NewStore("", WithInMemory())
	if err := s.Initialize(); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	defer s.Close()

	for i := int64(1); i <= 3; i++ {
		if err := s.Append(sample("t", "SAXPY", i)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	recent, err := s.Recent(2)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(recent))
	}
	if recent[0].Timestamp != 3 || recent[1].Timestamp != 2 {
		t.Errorf("expected newest first, got timestamps %d, %d", recent[0].Timestamp, recent[1].Timestamp)
	}

	n, err := s.Count()
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 reports, got %d", n)
	}
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	s := NewStore("")
	if err := s.Initialize(); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	defer s.Close()

	if err := s.Append(Report{TaskID: "t", Kind: "GEMM", Plan: "Naive"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	recent, err := s.Recent(1)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if recent[0].ID == "" {
		t.Error("expected an assigned report id")
	}
	if recent[0].Timestamp == 0 {
		t.Error("expected an assigned timestamp")
	}
}

func TestSQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.db")
	s := NewStore(path)
	if err := s.Initialize(); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	defer s.Close()

	if s.useInMemory {
		t.Skip("sqlite unavailable, fell back to memory")
	}

	if err := s.Append(sample("task-1", "CONVOLUTION", 10)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := s.Append(sample("task-2", "CONVOLUTION", 20)); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	recent, err := s.Recent(5)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(recent))
	}
	if recent[0].TaskID != "task-2" {
		t.Errorf("expected newest report first, got %q", recent[0].TaskID)
	}

	n, err := s.Count()
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows, got %d", n)
	}
}

func TestRecentZero(t *testing.T) {
	s := NewStore("")
	_ = s.Initialize()
	defer s.Close()

	recent, err := s.Recent(0)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if recent != nil {
		t.Errorf("expected nil for n=0, got %v", recent)
	}
}
