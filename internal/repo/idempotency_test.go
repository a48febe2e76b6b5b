package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

func TestGetIdempotency_BlankInputs_NotFound(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	now := time.Now().UTC()
	if _, err := GetIdempotency(context.Background(), db, "u1", " ", "k", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blank chat: want ErrNotFound, got %v", err)
	}
	if _, err := GetIdempotency(context.Background(), db, "u1", "c1", "", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blank key: want ErrNotFound, got %v", err)
	}
}

func TestCreateAndGetIdempotency(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	ctx := context.Background()

	rec, err := CreateIdempotency(ctx, db, "u1", "c1", "k1", "m1", 200, time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID == "" || !rec.ExpiresAt.After(rec.CreatedAt) {
		t.Fatalf("unexpected record: %+v", rec)
	}

	got, err := GetIdempotency(ctx, db, "u1", "c1", "k1", time.Now().UTC())
	if err != nil || got.MessageID != "m1" {
		t.Fatalf("get: %+v %v", got, err)
	}

	if _, err := CreateIdempotency(ctx, db, "u1", "c1", "k1", "m2", 200, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}

	// expired records are invisible
	if _, err := GetIdempotency(ctx, db, "u1", "c1", "k1", time.Now().UTC().Add(2*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired: want ErrNotFound, got %v", err)
	}
}

func TestPurgeExpiredIdempotency(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	ctx := context.Background()

	if _, err := CreateIdempotency(ctx, db, "u1", "c1", "old", "m1", 200, time.Millisecond); err != nil {
		t.Fatalf("create old: %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, "u1", "c1", "fresh", "m2", 200, time.Hour); err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	n, err := PurgeExpiredIdempotency(ctx, db, time.Now().UTC().Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("purge = %d, %v; want 1", n, err)
	}
	var left int64
	db.Model(&domain.Idempotency{}).Count(&left)
	if left != 1 {
		t.Fatalf("remaining = %d; want 1", left)
	}
}

func TestIdempotency_ScopedByUserAndChat(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := CreateIdempotency(ctx, db, "u1", "c1", "k", "m1", 200, time.Hour); err != nil {
		t.Fatalf("create: %v", err)
	}
	// same key in another chat or for another user is a separate record
	if _, err := CreateIdempotency(ctx, db, "u1", "c2", "k", "m2", 200, time.Hour); err != nil {
		t.Fatalf("other chat: %v", err)
	}
	if _, err := GetIdempotency(ctx, db, "u2", "c1", "k", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign user: want ErrNotFound, got %v", err)
	}
	got, err := GetIdempotency(ctx, db, "u1", "c2", "k", now)
	if err != nil || got.MessageID != "m2" {
		t.Fatalf("other chat get = %+v, %v", got, err)
	}
}
