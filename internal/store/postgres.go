package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Schema creates the records table. Volatility is NUMERIC so that the
// exact binary fraction survives the round trip.
const Schema = `CREATE TABLE IF NOT EXISTS volatility_records (
	id                     UUID PRIMARY KEY,
	source                 TEXT NOT NULL,
	sample_count           INTEGER NOT NULL,
	scale                  SMALLINT NOT NULL,
	reference_raw          BIGINT NOT NULL,
	optimized_raw          BIGINT NOT NULL,
	circuit_raw            BIGINT NOT NULL,
	volatility             NUMERIC NOT NULL,
	reference_vs_optimized NUMERIC(20, 0) NOT NULL,
	within_tolerance       BOOLEAN NOT NULL,
	artifact_id            UUID,
	created_at             TIMESTAMPTZ NOT NULL
)`

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) Save(ctx context.Context, r *Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO volatility_records (id, source, sample_count, scale,
		        reference_raw, optimized_raw, circuit_raw, volatility,
		        reference_vs_optimized, within_tolerance, artifact_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10, NULLIF($11, '')::UUID, $12)`,
		r.ID, r.Source, r.SampleCount, int16(r.Scale),
		r.Reference, r.Optimized, r.Circuit, r.Volatility.String(),
		fmt.Sprint(r.ReferenceVsOptimized), r.WithinTolerance, r.ArtifactID, r.CreatedAt,
	)
	return err
}

const selectRecord = `SELECT id::TEXT, source, sample_count, scale,
        reference_raw, optimized_raw, circuit_raw, volatility::TEXT,
        reference_vs_optimized::TEXT, within_tolerance,
        COALESCE(artifact_id::TEXT, ''), created_at
 FROM volatility_records`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, selectRecord+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, selectRecord+` ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AttachArtifact(ctx context.Context, id, artifactID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE volatility_records SET artifact_id = $2::UUID WHERE id = $1`, id, artifactID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	var scale int16
	var vol, gap string
	if err := row.Scan(&r.ID, &r.Source, &r.SampleCount, &scale,
		&r.Reference, &r.Optimized, &r.Circuit, &vol,
		&gap, &r.WithinTolerance, &r.ArtifactID, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Scale = uint8(scale)
	var err error
	if r.Volatility, err = decimal.NewFromString(vol); err != nil {
		return nil, fmt.Errorf("parse volatility %q: %w", vol, err)
	}
	if _, err := fmt.Sscan(gap, &r.ReferenceVsOptimized); err != nil {
		return nil, fmt.Errorf("parse divergence %q: %w", gap, err)
	}
	return &r, nil
}
