package sink

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/parley/pkg/types"
)

// Schema is the SQL DDL for the translation log. Execute it via
// [Postgres.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS translations (
    id               UUID PRIMARY KEY,
    session_id       TEXT NOT NULL,
    channel_id       TEXT NOT NULL,
    speaker_id       TEXT NOT NULL,
    display_name     TEXT NOT NULL DEFAULT '',
    transcript       TEXT NOT NULL DEFAULT '',
    translation      TEXT NOT NULL DEFAULT '',
    source_language  TEXT NOT NULL DEFAULT '',
    target_language  TEXT NOT NULL,
    confidence       DOUBLE PRECISION,
    degraded         BOOLEAN NOT NULL DEFAULT false,
    captured_at      TIMESTAMPTZ NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_translations_session ON translations(session_id, captured_at);
`

// DB is the database interface used by [Postgres]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres archives every result in the translations table.
type Postgres struct {
	db DB
}

var _ Sink = (*Postgres)(nil)

// NewPostgres returns a Postgres sink using db. Call [Postgres.Migrate]
// before the first delivery.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// Name implements [Sink].
func (p *Postgres) Name() string { return "postgres" }

// Migrate creates the translations table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("sink: postgres migrate: %w", err)
	}
	return nil
}

// Deliver implements [Sink]. Rows are keyed by a UUIDv7 so the primary key
// sorts by insertion time.
func (p *Postgres) Deliver(ctx context.Context, channelID string, r types.TranslationResult) error {
	const query = `
		INSERT INTO translations (
			id, session_id, channel_id, speaker_id, display_name,
			transcript, translation, source_language, target_language,
			confidence, degraded, captured_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("row id: %w", err)
	}
	_, err = p.db.Exec(ctx, query,
		id.String(), r.SessionID, channelID, r.SpeakerID, r.DisplayName,
		r.Transcript, r.Translation, r.SourceLanguage, r.TargetLanguage,
		r.Confidence, r.Degraded, r.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}
