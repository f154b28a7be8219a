package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"probeselect/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS selections (
	id              TEXT PRIMARY KEY,
	created_at      INTEGER NOT NULL,
	best_endpoint   TEXT NOT NULL,
	all_unreachable INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_selections_created_at ON selections (created_at);

CREATE TABLE IF NOT EXISTS selection_probes (
	selection_id    TEXT NOT NULL REFERENCES selections (id) ON DELETE CASCADE,
	position        INTEGER NOT NULL,
	endpoint        TEXT NOT NULL,
	latency_seconds REAL,
	PRIMARY KEY (selection_id, position)
);
CREATE INDEX IF NOT EXISTS idx_selection_probes_endpoint ON selection_probes (endpoint);
`

// ErrNotFound is returned when a selection id is unknown.
var ErrNotFound = errors.New("selection not found")

// Store keeps a history of selections in sqlite. A NULL latency marks an
// unreachable probe.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the sqlite database at path and applies
// the schema.
func NewStore(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// sqlite serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordSelection stores rec and its probes in one transaction.
func (s *Store) RecordSelection(ctx context.Context, rec models.SelectionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO selections (id, created_at, best_endpoint, all_unreachable) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.CreatedAt.UnixNano(), rec.BestEndpoint, rec.AllUnreachable)
	if err != nil {
		return fmt.Errorf("insert selection: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO selection_probes (selection_id, position, endpoint, latency_seconds) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range rec.Probes {
		if _, err := stmt.ExecContext(ctx, rec.ID, p.Position, p.Endpoint, nullLatency(p.Latency)); err != nil {
			return fmt.Errorf("insert probe %d: %w", p.Position, err)
		}
	}
	return tx.Commit()
}

// GetSelection returns one stored selection.
func (s *Store) GetSelection(ctx context.Context, id string) (models.SelectionRecord, error) {
	var rec models.SelectionRecord
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, best_endpoint, all_unreachable FROM selections WHERE id = ?`, id).
		Scan(&rec.ID, &createdAt, &rec.BestEndpoint, &rec.AllUnreachable)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()

	probes, err := s.probesFor(ctx, []string{rec.ID})
	if err != nil {
		return rec, err
	}
	rec.Probes = probes[rec.ID]
	return rec, nil
}

// RecentSelections returns up to limit selections, newest first.
func (s *Store) RecentSelections(ctx context.Context, limit int) ([]models.SelectionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, best_endpoint, all_unreachable FROM selections
		 ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.SelectionRecord
	var ids []string
	for rows.Next() {
		var rec models.SelectionRecord
		var createdAt int64
		if err := rows.Scan(&rec.ID, &createdAt, &rec.BestEndpoint, &rec.AllUnreachable); err != nil {
			return nil, err
		}
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		records = append(records, rec)
		ids = append(ids, rec.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	probes, err := s.probesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Probes = probes[records[i].ID]
	}
	return records, nil
}

func (s *Store) probesFor(ctx context.Context, ids []string) (map[string][]models.EndpointLatency, error) {
	out := make(map[string][]models.EndpointLatency, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	stmt, err := s.db.PrepareContext(ctx,
		`SELECT position, endpoint, latency_seconds FROM selection_probes
		 WHERE selection_id = ? ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for _, id := range ids {
		rows, err := stmt.QueryContext(ctx, id)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var p models.EndpointLatency
			var lat sql.NullFloat64
			if err := rows.Scan(&p.Position, &p.Endpoint, &lat); err != nil {
				rows.Close()
				return nil, err
			}
			p.Latency = fromNull(lat)
			out[id] = append(out[id], p)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// EndpointLatencies returns every stored latency for endpoint measured at or
// after since, oldest first.
func (s *Store) EndpointLatencies(ctx context.Context, endpoint string, since time.Time) ([]models.Latency, error) {
	var from int64
	if !since.IsZero() {
		from = since.UnixNano()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.latency_seconds FROM selection_probes p
		 JOIN selections s ON s.id = p.selection_id
		 WHERE p.endpoint = ? AND s.created_at >= ?
		 ORDER BY s.created_at, p.position`, endpoint, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Latency
	for rows.Next() {
		var lat sql.NullFloat64
		if err := rows.Scan(&lat); err != nil {
			return nil, err
		}
		out = append(out, fromNull(lat))
	}
	return out, rows.Err()
}

// CountSelections returns the number of stored selections.
func (s *Store) CountSelections(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM selections`).Scan(&n)
	return n, err
}

// PruneBefore deletes selections created before t and returns how many were
// removed. Their probes go with them.
func (s *Store) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM selections WHERE created_at < ?`, t.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullLatency(l models.Latency) sql.NullFloat64 {
	if l.IsUnreachable() {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: l.Seconds(), Valid: true}
}

func fromNull(n sql.NullFloat64) models.Latency {
	if !n.Valid {
		return models.Unreachable
	}
	return models.Latency(n.Float64)
}
