package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tbourn/go-chat-stream/internal/repo"
)

func TestPurgeIdempotency(t *testing.T) {
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "maint.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()

	if _, err := repo.CreateIdempotency(ctx, db, "u1", "c1", "old", "m1", 200, time.Millisecond); err != nil {
		t.Fatalf("seed old: %v", err)
	}
	if _, err := repo.CreateIdempotency(ctx, db, "u1", "c1", "fresh", "m2", 200, time.Hour); err != nil {
		t.Fatalf("seed fresh: %v", err)
	}

	if n := purgeIdempotency(ctx, db, time.Now().Add(time.Minute)); n != 1 {
		t.Fatalf("purged %d want 1", n)
	}
	if _, err := repo.GetIdempotency(ctx, db, "u1", "c1", "fresh", time.Now()); err != nil {
		t.Fatalf("fresh record gone: %v", err)
	}
}

func TestNewMaintenance(t *testing.T) {
	c, err := newMaintenance(nil, time.Minute)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if n := len(c.Entries()); n != 1 {
		t.Fatalf("entries = %d", n)
	}
}
