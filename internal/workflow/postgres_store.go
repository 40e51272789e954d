package workflow

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists sessions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// sessionColumns is the SELECT column list for sessions.
const sessionColumns = `id, dataset_handle, stage,
	state_selection, facility_level, age_group,
	version, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, s *Session) error {
	s.Version = 1
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, dataset_handle, stage,
			state_selection, facility_level, age_group,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.DatasetHandle, string(s.Stage),
		nullStr(s.Selections.State), nullStr(s.Selections.FacilityLevel), nullStr(s.Selections.AgeGroup),
		s.Version, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// Save writes the session guarded by the version column. Zero rows affected
// means another writer bumped the version first.
func (p *PostgresStore) Save(ctx context.Context, s *Session) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE sessions SET
			stage = $1, state_selection = $2, facility_level = $3, age_group = $4,
			version = version + 1, updated_at = $5
		WHERE id = $6 AND version = $7`,
		string(s.Stage), nullStr(s.Selections.State), nullStr(s.Selections.FacilityLevel), nullStr(s.Selections.AgeGroup),
		s.UpdatedAt, s.ID, s.Version,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing session from a stale version.
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, s.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrSessionNotFound
		}
		return ErrVersionConflict
	}
	s.Version++
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (p *PostgresStore) ListIdle(ctx context.Context, before time.Time, limit int) ([]*Session, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		WHERE updated_at < $1
		ORDER BY updated_at ASC LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var stage string
	var state, level, age sql.NullString

	err := row.Scan(
		&s.ID, &s.DatasetHandle, &stage,
		&state, &level, &age,
		&s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	s.Stage = Stage(stage)
	s.Selections.State = state.String
	s.Selections.FacilityLevel = level.String
	s.Selections.AgeGroup = age.String
	return &s, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
