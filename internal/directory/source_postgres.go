package directory

import (
	"context"
	"database/sql"
	"log/slog"
)

// PostgresSource reads the contact directory from the CRM database. Each
// Snapshot call is an independent query; failures degrade to an empty
// snapshot so caller identification stays non-fatal.
//
// Expected schema:
//
//	CREATE TABLE contacts (
//	    id         TEXT PRIMARY KEY,
//	    name       TEXT NOT NULL,
//	    company    TEXT NOT NULL DEFAULT '',
//	    phone      TEXT NOT NULL,
//	    avatar_ref TEXT NOT NULL DEFAULT ''
//	);
type PostgresSource struct {
	db  *sql.DB
	log *slog.Logger
}

func NewPostgresSource(db *sql.DB, log *slog.Logger) *PostgresSource {
	return &PostgresSource{db: db, log: log}
}

// Snapshot returns the current directory rows.
func (s *PostgresSource) Snapshot(ctx context.Context) []Entry {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, company, phone, avatar_ref FROM contacts WHERE phone <> ''`)
	if err != nil {
		s.log.Warn("directory query failed", "err", err)
		return nil
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Name, &e.Company, &e.Phone, &e.AvatarRef); err != nil {
			s.log.Warn("directory row scan failed", "err", err)
			return out
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		s.log.Warn("directory rows failed", "err", err)
	}
	return out
}
