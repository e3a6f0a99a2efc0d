package sink

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/parley/pkg/types"
)

type mockDB struct {
	execFunc func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func TestPostgres_Migrate(t *testing.T) {
	t.Parallel()

	var got string
	db := &mockDB{execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		got = sql
		return pgconn.CommandTag{}, nil
	}}
	if err := NewPostgres(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !strings.Contains(got, "CREATE TABLE IF NOT EXISTS translations") {
		t.Errorf("Migrate SQL = %q", got)
	}
}

func TestPostgres_MigrateError(t *testing.T) {
	t.Parallel()

	db := &mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, errors.New("permission denied")
	}}
	err := NewPostgres(db).Migrate(context.Background())
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Errorf("err = %v", err)
	}
}

func TestPostgres_Deliver(t *testing.T) {
	t.Parallel()

	var args []any
	db := &mockDB{execFunc: func(_ context.Context, sql string, a ...any) (pgconn.CommandTag, error) {
		if !strings.Contains(sql, "INSERT INTO translations") {
			t.Errorf("unexpected SQL: %s", sql)
		}
		args = a
		return pgconn.CommandTag{}, nil
	}}

	conf := 0.9
	at := time.Unix(1700000000, 0)
	r := types.TranslationResult{
		SessionID:      "s1",
		SpeakerID:      "u1",
		DisplayName:    "Alice",
		Transcript:     "hello",
		Translation:    "こんにちは",
		SourceLanguage: "en",
		TargetLanguage: "ja",
		Confidence:     &conf,
		CapturedAt:     at,
	}
	if err := NewPostgres(db).Deliver(context.Background(), "text-1", r); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(args) != 12 {
		t.Fatalf("args = %d, want 12", len(args))
	}
	id, err := uuid.Parse(args[0].(string))
	if err != nil || id.Version() != 7 {
		t.Errorf("row id = %v (%v), want a UUIDv7", args[0], err)
	}
	if args[1] != "s1" || args[2] != "text-1" || args[6] != "こんにちは" || args[8] != "ja" {
		t.Errorf("args = %v", args)
	}
	if c, ok := args[9].(*float64); !ok || c == nil || *c != 0.9 {
		t.Errorf("confidence arg = %v", args[9])
	}
	if args[11] != at {
		t.Errorf("captured_at arg = %v, want %v", args[11], at)
	}
}

func TestPostgres_DeliverError(t *testing.T) {
	t.Parallel()

	boom := errors.New("conn reset")
	db := &mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, boom
	}}
	if err := NewPostgres(db).Deliver(context.Background(), "c", types.TranslationResult{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapping %v", err, boom)
	}
}
