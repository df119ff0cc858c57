// Package sqlite implements store.Store on a local SQLite database. It
// backs tests and single-node deployments; postgres is the deployment
// driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/opencollections/lod-gateway/internal/model"
	"github.com/opencollections/lod-gateway/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Open opens (or creates) the database at path with WAL journaling and
// foreign keys enabled, and applies the embedded schema.
func Open(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema applies the embedded DDL statements.
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// NewWithDB constructs a store backed by an opened SQLite database.
func NewWithDB(db *sql.DB) store.Store { return &sqliteStore{db: db} }

type sqliteStore struct{ db *sql.DB }

func (s *sqliteStore) Records() store.RecordReader      { return &records{q: s.db} }
func (s *sqliteStore) Versions() store.VersionReader    { return &versions{q: s.db} }
func (s *sqliteStore) Activities() store.ActivityReader { return &activities{q: s.db} }
func (s *sqliteStore) Ping(ctx context.Context) error   { return s.db.PingContext(ctx) }
func (s *sqliteStore) Close() error                     { return s.db.Close() }

func (s *sqliteStore) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

type sqliteTx struct{ tx *sql.Tx }

func (t *sqliteTx) Records() store.RecordWriter      { return &records{q: t.tx} }
func (t *sqliteTx) Versions() store.VersionWriter    { return &versions{q: t.tx} }
func (t *sqliteTx) Activities() store.ActivityWriter { return &activities{q: t.tx} }
func (t *sqliteTx) Commit() error                    { return t.tx.Commit() }
func (t *sqliteTx) Rollback() error                  { return t.tx.Rollback() }

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// --- records ---

type records struct{ q querier }

const recordColumns = `id, entity_id, entity_type, data, checksum, datetime_created, datetime_updated, datetime_deleted`

func scanRecord(row *sql.Row) (*model.Record, error) {
	var out model.Record
	var data sql.NullString
	var deleted sql.NullTime
	if err := row.Scan(&out.ID, &out.EntityID, &out.EntityType, &data, &out.Checksum,
		&out.DateTimeCreated, &out.DateTimeUpdated, &deleted); err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	if data.Valid {
		out.Data = []byte(data.String)
	}
	if deleted.Valid {
		t := deleted.Time
		out.DateTimeDeleted = &t
	}
	return &out, nil
}

func (r *records) GetByEntityID(ctx context.Context, entityID string) (*model.Record, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE entity_id = ?`, entityID)
	return scanRecord(row)
}

func (r *records) GetLive(ctx context.Context, entityID string) (*model.Record, error) {
	row := r.q.QueryRowContext(ctx, `
        SELECT `+recordColumns+` FROM records WHERE entity_id = ? AND datetime_deleted IS NULL
    `, entityID)
	return scanRecord(row)
}

// GetForUpdate relies on SQLite's single-writer transaction model for
// serialization; there is no row-level FOR UPDATE to take.
func (r *records) GetForUpdate(ctx context.Context, entityID string) (*model.Record, error) {
	return r.GetByEntityID(ctx, entityID)
}

func (r *records) Create(ctx context.Context, rec *model.Record) (*model.Record, error) {
	res, err := r.q.ExecContext(ctx, `
        INSERT INTO records (entity_id, entity_type, data, checksum, datetime_created, datetime_updated)
        VALUES (?,?,?,?,?,?)
    `, rec.EntityID, rec.EntityType, nullIfEmpty(rec.Data), rec.Checksum, rec.DateTimeCreated, rec.DateTimeUpdated)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	out := *rec
	out.ID = id
	return &out, nil
}

func (r *records) Update(ctx context.Context, rec *model.Record) error {
	_, err := r.q.ExecContext(ctx, `
        UPDATE records SET data = ?, checksum = ?, datetime_updated = ?, datetime_deleted = NULL
        WHERE id = ?
    `, nullIfEmpty(rec.Data), rec.Checksum, rec.DateTimeUpdated, rec.ID)
	return err
}

func (r *records) Tombstone(ctx context.Context, recordID int64, when time.Time) error {
	_, err := r.q.ExecContext(ctx, `
        UPDATE records SET data = NULL, datetime_updated = ?, datetime_deleted = ?
        WHERE id = ?
    `, when, when, recordID)
	return err
}

// --- versions ---

type versions struct{ q querier }

func (v *versions) ListByRecord(ctx context.Context, recordID int64) ([]*model.Version, error) {
	rows, err := v.q.QueryContext(ctx, `
        SELECT id, entity_id, record_id, data, checksum, datetime_created, datetime_updated
        FROM versions WHERE record_id = ? ORDER BY datetime_updated DESC
    `, recordID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Version
	for rows.Next() {
		var ver model.Version
		var data sql.NullString
		if err := rows.Scan(&ver.ID, &ver.EntityID, &ver.RecordID, &data, &ver.Checksum,
			&ver.DateTimeCreated, &ver.DateTimeUpdated); err != nil {
			return nil, err
		}
		if data.Valid {
			ver.Data = []byte(data.String)
		}
		out = append(out, &ver)
	}
	return out, rows.Err()
}

func (v *versions) GetByEntityID(ctx context.Context, entityID string) (*model.Version, error) {
	row := v.q.QueryRowContext(ctx, `
        SELECT id, entity_id, record_id, data, checksum, datetime_created, datetime_updated
        FROM versions WHERE entity_id = ?
    `, entityID)
	var ver model.Version
	var data sql.NullString
	err := row.Scan(&ver.ID, &ver.EntityID, &ver.RecordID, &data, &ver.Checksum,
		&ver.DateTimeCreated, &ver.DateTimeUpdated)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if data.Valid {
		ver.Data = []byte(data.String)
	}
	return &ver, nil
}

func (v *versions) Create(ctx context.Context, ver *model.Version) (*model.Version, error) {
	res, err := v.q.ExecContext(ctx, `
        INSERT INTO versions (entity_id, record_id, data, checksum, datetime_created, datetime_updated)
        VALUES (?,?,?,?,?,?)
    `, ver.EntityID, ver.RecordID, nullIfEmpty(ver.Data), ver.Checksum, ver.DateTimeCreated, ver.DateTimeUpdated)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	out := *ver
	out.ID = id
	return &out, nil
}

func (v *versions) DeleteByRecord(ctx context.Context, recordID int64) (int64, error) {
	res, err := v.q.ExecContext(ctx, `DELETE FROM versions WHERE record_id = ?`, recordID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- activities ---

type activities struct{ q querier }

func activityWhere(f model.ActivityFilter) (string, []any) {
	var conds []string
	var args []any
	if f.EntityID != "" {
		conds = append(conds, "r.entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.EntityType != "" {
		conds = append(conds, "r.entity_type = ?")
		args = append(args, f.EntityType)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (a *activities) Count(ctx context.Context, f model.ActivityFilter) (int, error) {
	where, args := activityWhere(f)
	var n int
	row := a.q.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM activities a JOIN records r ON r.id = a.record_id
    `+where, args...)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (a *activities) Page(ctx context.Context, f model.ActivityFilter, limit, offset int) ([]*model.Activity, error) {
	where, args := activityWhere(f)
	args = append(args, limit, offset)
	rows, err := a.q.QueryContext(ctx, `
        SELECT a.id, a.uuid, a.record_id, a.event, a.datetime_created, r.entity_id, r.entity_type
        FROM activities a JOIN records r ON r.id = a.record_id
    `+where+` ORDER BY a.id ASC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Activity
	for rows.Next() {
		var act model.Activity
		if err := rows.Scan(&act.ID, &act.UUID, &act.RecordID, &act.Event,
			&act.DateTimeCreated, &act.EntityID, &act.EntityType); err != nil {
			return nil, err
		}
		out = append(out, &act)
	}
	return out, rows.Err()
}

func (a *activities) GetByUUID(ctx context.Context, uuid string) (*model.Activity, error) {
	var act model.Activity
	row := a.q.QueryRowContext(ctx, `
        SELECT a.id, a.uuid, a.record_id, a.event, a.datetime_created, r.entity_id, r.entity_type
        FROM activities a JOIN records r ON r.id = a.record_id
        WHERE a.uuid = ?
    `, uuid)
	if err := row.Scan(&act.ID, &act.UUID, &act.RecordID, &act.Event,
		&act.DateTimeCreated, &act.EntityID, &act.EntityType); err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &act, nil
}

func (a *activities) ListIDsByRecord(ctx context.Context, recordID int64) ([]int64, error) {
	rows, err := a.q.QueryContext(ctx, `
        SELECT id FROM activities WHERE record_id = ? ORDER BY id ASC
    `, recordID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (a *activities) Create(ctx context.Context, act *model.Activity) (*model.Activity, error) {
	res, err := a.q.ExecContext(ctx, `
        INSERT INTO activities (uuid, record_id, event, datetime_created)
        VALUES (?,?,?,?)
    `, act.UUID, act.RecordID, act.Event, act.DateTimeCreated)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	out := *act
	out.ID = id
	return &out, nil
}

func (a *activities) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := a.q.ExecContext(ctx, `DELETE FROM activities WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// helpers

func nullIfEmpty(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
