// Package store defines persistence interfaces for records, versions and
// activities. Implementations live under internal/store/<driver>/
// (postgres for deployments, sqlite for tests and single-node setups).
package store

import (
	"context"
	"time"

	"github.com/opencollections/lod-gateway/internal/model"
)

// Store exposes read access plus transaction creation. All mutations run
// on a Tx owned by the caller; drivers never commit inside a method, so
// the ingest orchestrator can hold every record, version and activity
// write of a batch in one relational transaction.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Records() RecordReader
	Versions() VersionReader
	Activities() ActivityReader
	Ping(ctx context.Context) error
	Close() error
}

// Tx groups the mutation surfaces of one relational transaction.
type Tx interface {
	Records() RecordWriter
	Versions() VersionWriter
	Activities() ActivityWriter
	Commit() error
	Rollback() error
}

type RecordReader interface {
	// GetByEntityID resolves a record including tombstones.
	GetByEntityID(ctx context.Context, entityID string) (*model.Record, error)
	// GetLive resolves a record excluding tombstones.
	GetLive(ctx context.Context, entityID string) (*model.Record, error)
}

type RecordWriter interface {
	// GetForUpdate resolves a record and locks its row for the duration
	// of the transaction so concurrent ingests of the same entity id
	// serialize. Returns model.ErrNotFound when the entity is unknown.
	GetForUpdate(ctx context.Context, entityID string) (*model.Record, error)
	Create(ctx context.Context, rec *model.Record) (*model.Record, error)
	// Update overwrites data, checksum and datetime_updated from rec.
	Update(ctx context.Context, rec *model.Record) error
	// Tombstone clears data and stamps datetime_deleted.
	Tombstone(ctx context.Context, recordID int64, when time.Time) error
}

type VersionReader interface {
	// ListByRecord returns versions newest-first by datetime_updated.
	ListByRecord(ctx context.Context, recordID int64) ([]*model.Version, error)
	// GetByEntityID resolves one archived snapshot by the entity id it
	// was assigned at archival time, for serving memento URIs.
	GetByEntityID(ctx context.Context, entityID string) (*model.Version, error)
}

type VersionWriter interface {
	Create(ctx context.Context, v *model.Version) (*model.Version, error)
	// DeleteByRecord discards all versions of a record, returning the
	// number removed.
	DeleteByRecord(ctx context.Context, recordID int64) (int64, error)
}

type ActivityReader interface {
	// Count returns the current activity total under the filter. Feed
	// pagination recomputes this on every request.
	Count(ctx context.Context, f model.ActivityFilter) (int, error)
	// Page returns activities ordered by ascending primary key.
	Page(ctx context.Context, f model.ActivityFilter, limit, offset int) ([]*model.Activity, error)
	GetByUUID(ctx context.Context, uuid string) (*model.Activity, error)
	// ListIDsByRecord returns activity primary keys for one record in
	// ascending order, for truncation bookkeeping.
	ListIDsByRecord(ctx context.Context, recordID int64) ([]int64, error)
}

type ActivityWriter interface {
	Create(ctx context.Context, a *model.Activity) (*model.Activity, error)
	// DeleteByIDs removes the given activity rows, returning the number
	// removed. Used only by administrative truncation.
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
}
