package history

import (
	"context"
	"database/sql"
	"errors"

	"crm-telephony/pkg/utils"
)

// PostgresRepo persists call records via database/sql (pgx stdlib driver).
//
// Assumed table:
//
//	CREATE TABLE call_records (
//	  id               TEXT PRIMARY KEY,
//	  entity_id        TEXT NOT NULL DEFAULT '',
//	  phone_number     TEXT NOT NULL,
//	  type             TEXT NOT NULL,
//	  duration_seconds INT  NOT NULL DEFAULT 0,
//	  provider_call_id TEXT NOT NULL DEFAULT '',
//	  provider         TEXT NOT NULL,
//	  disposition      TEXT NOT NULL,
//	  created_at       TIMESTAMPTZ NOT NULL,
//	  updated_at       TIMESTAMPTZ NOT NULL
//	);
//
// Records are insert-then-update only; there is no delete path.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Insert(ctx context.Context, rec CallRecord) error {
	const q = `
INSERT INTO call_records (
  id, entity_id, phone_number, type, duration_seconds, provider_call_id, provider, disposition, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := r.db.ExecContext(ctx, q,
		rec.ID,
		rec.EntityID,
		rec.PhoneNumber,
		rec.Type,
		rec.DurationSeconds,
		rec.ProviderCallID,
		rec.Provider,
		rec.Disposition,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Update(ctx context.Context, id string, apply func(*CallRecord)) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Lock the row so the answer/final-duration writes serialize.
		const sel = `
SELECT id, entity_id, phone_number, type, duration_seconds, provider_call_id, provider, disposition, created_at, updated_at
FROM call_records
WHERE id = $1
FOR UPDATE
`
		var rec CallRecord
		if err := tx.QueryRowContext(ctx, sel, id).Scan(
			&rec.ID,
			&rec.EntityID,
			&rec.PhoneNumber,
			&rec.Type,
			&rec.DurationSeconds,
			&rec.ProviderCallID,
			&rec.Provider,
			&rec.Disposition,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		apply(&rec)

		const upd = `
UPDATE call_records
SET entity_id = $2,
    duration_seconds = $3,
    provider_call_id = $4,
    disposition = $5,
    updated_at = $6
WHERE id = $1
`
		_, err := tx.ExecContext(ctx, upd,
			rec.ID,
			rec.EntityID,
			rec.DurationSeconds,
			rec.ProviderCallID,
			rec.Disposition,
			rec.UpdatedAt,
		)
		return err
	})
}

func (r *PostgresRepo) List(ctx context.Context, limit int) ([]CallRecord, error) {
	const q = `
SELECT id, entity_id, phone_number, type, duration_seconds, provider_call_id, provider, disposition, created_at, updated_at
FROM call_records
ORDER BY created_at DESC
LIMIT $1
`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallRecord, 0, limit)
	for rows.Next() {
		var rec CallRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.EntityID,
			&rec.PhoneNumber,
			&rec.Type,
			&rec.DurationSeconds,
			&rec.ProviderCallID,
			&rec.Provider,
			&rec.Disposition,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
