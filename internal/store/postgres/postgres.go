// Package postgres implements store.Store on PostgreSQL via the pgx
// stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/opencollections/lod-gateway/internal/model"
	"github.com/opencollections/lod-gateway/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Open opens a PostgreSQL connection and verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema applies the embedded DDL statements. Deployments normally
// run migrations out of band; this covers local and test setups.
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

// NewWithDB constructs a store backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

func (s *pgStore) Records() store.RecordReader      { return &records{q: s.db} }
func (s *pgStore) Versions() store.VersionReader    { return &versions{q: s.db} }
func (s *pgStore) Activities() store.ActivityReader { return &activities{q: s.db} }
func (s *pgStore) Ping(ctx context.Context) error   { return s.db.PingContext(ctx) }
func (s *pgStore) Close() error                     { return s.db.Close() }

func (s *pgStore) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct{ tx *sql.Tx }

func (t *pgTx) Records() store.RecordWriter      { return &records{q: t.tx} }
func (t *pgTx) Versions() store.VersionWriter    { return &versions{q: t.tx} }
func (t *pgTx) Activities() store.ActivityWriter { return &activities{q: t.tx} }
func (t *pgTx) Commit() error                    { return t.tx.Commit() }
func (t *pgTx) Rollback() error                  { return t.tx.Rollback() }

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
	row := r.q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE entity_id = $1`, entityID)
	return scanRecord(row)
}

func (r *records) GetLive(ctx context.Context, entityID string) (*model.Record, error) {
	row := r.q.QueryRowContext(ctx, `
        SELECT `+recordColumns+` FROM records WHERE entity_id = $1 AND datetime_deleted IS NULL
    `, entityID)
	return scanRecord(row)
}

// GetForUpdate locks the record row so concurrent ingests of the same
// entity id serialize on their read-modify-write.
func (r *records) GetForUpdate(ctx context.Context, entityID string) (*model.Record, error) {
	row := r.q.QueryRowContext(ctx, `
        SELECT `+recordColumns+` FROM records WHERE entity_id = $1 FOR UPDATE
    `, entityID)
	return scanRecord(row)
}

func (r *records) Create(ctx context.Context, rec *model.Record) (*model.Record, error) {
	var id int64
	row := r.q.QueryRowContext(ctx, `
        INSERT INTO records (entity_id, entity_type, data, checksum, datetime_created, datetime_updated)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id
    `, rec.EntityID, rec.EntityType, nullIfEmpty(rec.Data), rec.Checksum, rec.DateTimeCreated, rec.DateTimeUpdated)
	if err := row.Scan(&id); err != nil {
		return nil, err
	}
	out := *rec
	out.ID = id
	return &out, nil
}

func (r *records) Update(ctx context.Context, rec *model.Record) error {
	_, err := r.q.ExecContext(ctx, `
        UPDATE records SET data = $1, checksum = $2, datetime_updated = $3, datetime_deleted = NULL
        WHERE id = $4
    `, nullIfEmpty(rec.Data), rec.Checksum, rec.DateTimeUpdated, rec.ID)
	return err
}

func (r *records) Tombstone(ctx context.Context, recordID int64, when time.Time) error {
	_, err := r.q.ExecContext(ctx, `
        UPDATE records SET data = NULL, datetime_updated = $1, datetime_deleted = $2
        WHERE id = $3
    `, when, when, recordID)
	return err
}

// --- versions ---

type versions struct{ q querier }

func (v *versions) ListByRecord(ctx context.Context, recordID int64) ([]*model.Version, error) {
	rows, err := v.q.QueryContext(ctx, `
        SELECT id, entity_id, record_id, data, checksum, datetime_created, datetime_updated
        FROM versions WHERE record_id = $1 ORDER BY datetime_updated DESC
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
        FROM versions WHERE entity_id = $1
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
	var id int64
	row := v.q.QueryRowContext(ctx, `
        INSERT INTO versions (entity_id, record_id, data, checksum, datetime_created, datetime_updated)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id
    `, ver.EntityID, ver.RecordID, nullIfEmpty(ver.Data), ver.Checksum, ver.DateTimeCreated, ver.DateTimeUpdated)
	if err := row.Scan(&id); err != nil {
		return nil, err
	}
	out := *ver
	out.ID = id
	return &out, nil
}

func (v *versions) DeleteByRecord(ctx context.Context, recordID int64) (int64, error) {
	res, err := v.q.ExecContext(ctx, `DELETE FROM versions WHERE record_id = $1`, recordID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- activities ---

type activities struct{ q querier }

func activityWhere(f model.ActivityFilter, firstArg int) (string, []any) {
	var conds []string
	var args []any
	n := firstArg
	if f.EntityID != "" {
		conds = append(conds, fmt.Sprintf("r.entity_id = $%d", n))
		args = append(args, f.EntityID)
		n++
	}
	if f.EntityType != "" {
		conds = append(conds, fmt.Sprintf("r.entity_type = $%d", n))
		args = append(args, f.EntityType)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (a *activities) Count(ctx context.Context, f model.ActivityFilter) (int, error) {
	where, args := activityWhere(f, 1)
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
	where, args := activityWhere(f, 1)
	limitPos := len(args) + 1
	args = append(args, limit, offset)
	rows, err := a.q.QueryContext(ctx, fmt.Sprintf(`
        SELECT a.id, a.uuid, a.record_id, a.event, a.datetime_created, r.entity_id, r.entity_type
        FROM activities a JOIN records r ON r.id = a.record_id
    %s ORDER BY a.id ASC LIMIT $%d OFFSET $%d`, where, limitPos, limitPos+1), args...)
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
        WHERE a.uuid = $1
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
        SELECT id FROM activities WHERE record_id = $1 ORDER BY id ASC
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
	var id int64
	row := a.q.QueryRowContext(ctx, `
        INSERT INTO activities (uuid, record_id, event, datetime_created)
        VALUES ($1,$2,$3,$4)
        RETURNING id
    `, act.UUID, act.RecordID, act.Event, act.DateTimeCreated)
	if err := row.Scan(&id); err != nil {
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
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	res, err := a.q.ExecContext(ctx, `DELETE FROM activities WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullIfEmpty(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
