// Package postgres provides an optional pgvector-backed index of known
// identities for deployments whose person database outgrows the JSON
// document. The camera manager uses it, when configured, to answer
// nearest-embedding queries in SQL instead of scanning the store snapshot.
//
// The pgvector extension must be available in the target database;
// [Open] installs it via CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/argushq/argus/internal/store"
)

const ddlPeople = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS people (
    id               TEXT         PRIMARY KEY,
    name             TEXT         NOT NULL,
    embedding        vector(%d)   NOT NULL,
    last_seen_camera TEXT         NOT NULL DEFAULT '',
    last_seen_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_people_embedding
    ON people USING hnsw (embedding vector_cosine_ops);`

// PeopleIndex is a PostgreSQL-backed identity index. All operations are safe
// for concurrent use.
type PeopleIndex struct {
	pool *pgxpool.Pool
}

// Open establishes a connection pool to dsn, registers pgvector types on
// every connection, and ensures the people table exists.
//
// embeddingDimensions must match the face-embedding length produced by the
// vision service (128 for the reference implementation).
func Open(ctx context.Context, dsn string, embeddingDimensions int) (*PeopleIndex, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("people index: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("people index: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("people index: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, fmt.Sprintf(ddlPeople, embeddingDimensions)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("people index: migrate: %w", err)
	}

	return &PeopleIndex{pool: pool}, nil
}

// Add upserts a known identity.
func (x *PeopleIndex) Add(ctx context.Context, p store.Person) error {
	const q = `
		INSERT INTO people (id, name, embedding, last_seen_camera, last_seen_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    name             = EXCLUDED.name,
		    embedding        = EXCLUDED.embedding,
		    last_seen_camera = EXCLUDED.last_seen_camera,
		    last_seen_at     = EXCLUDED.last_seen_at`

	var lastSeen any
	if !p.LastSeenAt.IsZero() {
		lastSeen = p.LastSeenAt
	}
	_, err := x.pool.Exec(ctx, q, p.ID, p.Name, toVector(p.Embedding), p.LastSeenCamera, lastSeen)
	if err != nil {
		return fmt.Errorf("people index: add: %w", err)
	}
	return nil
}

// Nearest returns the known identity closest (cosine) to embedding along
// with the similarity score. ok is false when the table is empty.
func (x *PeopleIndex) Nearest(ctx context.Context, embedding []float64) (p store.Person, similarity float64, ok bool, err error) {
	const q = `
		SELECT id, name, embedding, last_seen_camera, last_seen_at,
		       1 - (embedding <=> $1) AS similarity
		FROM   people
		ORDER  BY embedding <=> $1
		LIMIT  1`

	var (
		vec    pgvector.Vector
		seenAt *time.Time
	)
	row := x.pool.QueryRow(ctx, q, toVector(embedding))
	err = row.Scan(&p.ID, &p.Name, &vec, &p.LastSeenCamera, &seenAt, &similarity)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Person{}, 0, false, nil
	}
	if err != nil {
		return store.Person{}, 0, false, fmt.Errorf("people index: nearest: %w", err)
	}
	p.Embedding = fromVector(vec)
	if seenAt != nil {
		p.LastSeenAt = *seenAt
	}
	return p, similarity, true, nil
}

// UpdateLastSeen records where and when a known person was last matched.
func (x *PeopleIndex) UpdateLastSeen(ctx context.Context, personID, cameraID string, at time.Time) error {
	const q = `UPDATE people SET last_seen_camera = $2, last_seen_at = $3 WHERE id = $1`
	tag, err := x.pool.Exec(ctx, q, personID, cameraID, at)
	if err != nil {
		return fmt.Errorf("people index: update last seen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("people index: person %q not found", personID)
	}
	return nil
}

// Close releases the connection pool.
func (x *PeopleIndex) Close() {
	x.pool.Close()
}

func toVector(embedding []float64) pgvector.Vector {
	f32 := make([]float32, len(embedding))
	for i, v := range embedding {
		f32[i] = float32(v)
	}
	return pgvector.NewVector(f32)
}

func fromVector(v pgvector.Vector) []float64 {
	f32 := v.Slice()
	out := make([]float64, len(f32))
	for i, f := range f32 {
		out[i] = float64(f)
	}
	return out
}
