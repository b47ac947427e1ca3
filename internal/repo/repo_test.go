package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/db"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/events"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/migrate"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.New(conn)
	r.Now = func() time.Time { return time.Date(2025, 12, 9, 8, 0, 0, 0, time.UTC) }
	return r
}

func TestLoadMissingKey(t *testing.T) {
	r := newTestRepo(t)
	if _, err := r.Load(context.Background(), "projects"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveOverwritesDocument(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if err := r.Save(ctx, "projects", []byte(`[{"name":"a"}]`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := r.Save(ctx, "projects", []byte(`[]`)); err != nil {
		t.Fatalf("save again: %v", err)
	}
	got, err := r.Load(ctx, "projects")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != "[]" {
		t.Fatalf("expected overwritten payload, got %s", got)
	}
	keys, err := r.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if keys["projects"] != "2025-12-09T08:00:00Z" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestSaveJournalsAction(t *testing.T) {
	r := newTestRepo(t)
	ctx := events.WithAction(context.Background(), events.Action{
		Type:       "request.transitioned",
		EntityKind: "request",
		EntityID:   "r1",
		ActorID:    "manager@dar.sa",
		Payload:    events.EventPayload{"to": "completed"},
	})
	if err := r.Save(ctx, "requests", []byte(`[]`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := r.Save(context.Background(), "users", []byte(`[]`)); err != nil {
		t.Fatalf("save without action: %v", err)
	}
	evts, err := r.LatestEvents(context.Background(), 10, repo.EventFilter{})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 1 {
		t.Fatalf("expected one journaled event, got %d", len(evts))
	}
	e := evts[0]
	if e.Type != "request.transitioned" || e.Collection != "requests" || e.EntityID != "r1" || e.ActorID != "manager@dar.sa" {
		t.Fatalf("unexpected event %+v", e)
	}
	if e.Payload != `{"to":"completed"}` {
		t.Fatalf("unexpected payload %s", e.Payload)
	}
	filtered, err := r.LatestEvents(context.Background(), 10, repo.EventFilter{Type: "project.created"})
	if err != nil || len(filtered) != 0 {
		t.Fatalf("filter should exclude event: %v %d", err, len(filtered))
	}
}
