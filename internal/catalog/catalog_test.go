package catalog

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.sqlite")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestInsertAndListSessions(t *testing.T) {
	c := newTestCatalog(t)
	start := time.Now().Truncate(time.Second)

	if err := c.InsertSession(Session{ID: "s1", Title: "standup", StartedAt: start, Transcriber: "vosk", Summarizer: "gemini"}); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}

	sessions, err := c.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s1" || sessions[0].Status != "active" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
}

func TestActiveSessionReturnsMostRecentActive(t *testing.T) {
	c := newTestCatalog(t)
	base := time.Now().Truncate(time.Second)

	if err := c.InsertSession(Session{ID: "s1", StartedAt: base}); err != nil {
		t.Fatalf("InsertSession s1: %v", err)
	}
	if err := c.InsertSession(Session{ID: "s2", StartedAt: base.Add(time.Minute)}); err != nil {
		t.Fatalf("InsertSession s2: %v", err)
	}

	active, err := c.ActiveSession()
	if err != nil {
		t.Fatalf("ActiveSession: %v", err)
	}
	if active == nil || active.ID != "s2" {
		t.Fatalf("active = %+v, want s2", active)
	}
}

func TestActiveSessionNoneReturnsNil(t *testing.T) {
	c := newTestCatalog(t)
	active, err := c.ActiveSession()
	if err != nil {
		t.Fatalf("ActiveSession: %v", err)
	}
	if active != nil {
		t.Fatalf("expected nil, got %+v", active)
	}
}

func TestFinalizeSessionUpdatesStatusAndEndedAt(t *testing.T) {
	c := newTestCatalog(t)
	start := time.Now().Truncate(time.Second)

	if err := c.InsertSession(Session{ID: "s1", StartedAt: start}); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}
	end := start.Add(30 * time.Minute)
	if err := c.FinalizeSession("s1", end); err != nil {
		t.Fatalf("FinalizeSession: %v", err)
	}

	active, err := c.ActiveSession()
	if err != nil {
		t.Fatalf("ActiveSession: %v", err)
	}
	if active != nil {
		t.Fatal("expected no active session after finalize")
	}

	sessions, err := c.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Status != "finalized" || sessions[0].EndedAt == nil {
		t.Fatalf("unexpected session state: %+v", sessions[0])
	}
	if !sessions[0].EndedAt.Equal(end) {
		t.Fatalf("ended_at = %v, want %v", sessions[0].EndedAt, end)
	}
}
