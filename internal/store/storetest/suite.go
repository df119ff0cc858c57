// Package storetest holds a compliance suite run against every
// store.Store driver.
package storetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/opencollections/lod-gateway/internal/model"
	"github.com/opencollections/lod-gateway/internal/store"
)

// Run exercises the store contract. makeStore must return a clean,
// isolated store.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("RecordLifecycle", func(t *testing.T) { testRecordLifecycle(t, makeStore(t)) })
	t.Run("VersionOrdering", func(t *testing.T) { testVersionOrdering(t, makeStore(t)) })
	t.Run("ActivityPagination", func(t *testing.T) { testActivityPagination(t, makeStore(t)) })
	t.Run("ActivityFilters", func(t *testing.T) { testActivityFilters(t, makeStore(t)) })
}

func mustBegin(t *testing.T, s store.Store) store.Tx {
	t.Helper()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	return tx
}

func createRecord(t *testing.T, s store.Store, entityID, entityType string, data string) *model.Record {
	t.Helper()
	now := time.Now().UTC()
	tx := mustBegin(t, s)
	rec, err := tx.Records().Create(context.Background(), &model.Record{
		EntityID:        entityID,
		EntityType:      entityType,
		Data:            json.RawMessage(data),
		Checksum:        "c0",
		DateTimeCreated: now,
		DateTimeUpdated: now,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return rec
}

func appendActivity(t *testing.T, s store.Store, recordID int64, event string) *model.Activity {
	t.Helper()
	tx := mustBegin(t, s)
	act, err := tx.Activities().Create(context.Background(), &model.Activity{
		UUID:            uuid.New().String(),
		RecordID:        recordID,
		Event:           event,
		DateTimeCreated: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return act
}

func testRecordLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := createRecord(t, s, "object/1", "Object", `{"x":1}`)
	require.NotZero(t, rec.ID)

	got, err := s.Records().GetByEntityID(ctx, "object/1")
	require.NoError(t, err)
	require.Equal(t, `{"x":1}`, string(got.Data))
	require.False(t, got.IsTombstoned())

	_, err = s.Records().GetByEntityID(ctx, "object/none")
	require.ErrorIs(t, err, model.ErrNotFound)

	// update
	tx := mustBegin(t, s)
	got.Data = json.RawMessage(`{"x":2}`)
	got.Checksum = "c1"
	got.DateTimeUpdated = got.DateTimeUpdated.Add(time.Millisecond)
	require.NoError(t, tx.Records().Update(ctx, got))
	require.NoError(t, tx.Commit())

	got2, err := s.Records().GetLive(ctx, "object/1")
	require.NoError(t, err)
	require.Equal(t, `{"x":2}`, string(got2.Data))
	require.True(t, got2.DateTimeUpdated.After(rec.DateTimeUpdated))

	// tombstone: data cleared, excluded from live lookups, still addressable
	tx = mustBegin(t, s)
	require.NoError(t, tx.Records().Tombstone(ctx, got2.ID, time.Now().UTC()))
	require.NoError(t, tx.Commit())

	_, err = s.Records().GetLive(ctx, "object/1")
	require.ErrorIs(t, err, model.ErrNotFound)

	dead, err := s.Records().GetByEntityID(ctx, "object/1")
	require.NoError(t, err)
	require.True(t, dead.IsTombstoned())
	require.Nil(t, dead.Data)
}

func testVersionOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := createRecord(t, s, "object/2", "Object", `{"n":0}`)

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		tx := mustBegin(t, s)
		_, err := tx.Versions().Create(ctx, &model.Version{
			EntityID:        uuid.New().String(),
			RecordID:        rec.ID,
			Data:            json.RawMessage(`{"n":` + string(rune('0'+i)) + `}`),
			Checksum:        "v",
			DateTimeCreated: base.Add(time.Duration(i) * time.Second),
			DateTimeUpdated: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
	}

	vers, err := s.Versions().ListByRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, vers, 3)
	for i := 1; i < len(vers); i++ {
		require.True(t, vers[i-1].DateTimeUpdated.After(vers[i].DateTimeUpdated),
			"versions must list newest first")
	}

	// versions stay addressable by their own entity id
	got, err := s.Versions().GetByEntityID(ctx, vers[0].EntityID)
	require.NoError(t, err)
	require.Equal(t, rec.ID, got.RecordID)

	_, err = s.Versions().GetByEntityID(ctx, uuid.New().String())
	require.ErrorIs(t, err, model.ErrNotFound)

	tx := mustBegin(t, s)
	n, err := tx.Versions().DeleteByRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.EqualValues(t, 3, n)
}

func testActivityPagination(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := createRecord(t, s, "object/3", "Object", `{}`)

	var acts []*model.Activity
	acts = append(acts, appendActivity(t, s, rec.ID, model.EventCreate))
	for i := 0; i < 4; i++ {
		acts = append(acts, appendActivity(t, s, rec.ID, model.EventUpdate))
	}

	n, err := s.Activities().Count(ctx, model.ActivityFilter{})
	require.NoError(t, err)
	require.Equal(t, 5, n)

	// delete the two oldest out of band, the way administrative
	// truncation does; page arithmetic must tolerate the gap
	tx := mustBegin(t, s)
	removed, err := tx.Activities().DeleteByIDs(ctx, []int64{acts[0].ID, acts[1].ID})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.EqualValues(t, 2, removed)

	n, err = s.Activities().Count(ctx, model.ActivityFilter{})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	page, err := s.Activities().Page(ctx, model.ActivityFilter{}, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, acts[2].UUID, page[0].UUID)
	require.Equal(t, "object/3", page[0].EntityID)

	// uuid lookup
	got, err := s.Activities().GetByUUID(ctx, acts[2].UUID)
	require.NoError(t, err)
	require.Equal(t, rec.ID, got.RecordID)

	_, err = s.Activities().GetByUUID(ctx, uuid.New().String())
	require.ErrorIs(t, err, model.ErrNotFound)

	ids, err := s.Activities().ListIDsByRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, ids, 3)
}

func testActivityFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	obj := createRecord(t, s, "object/4", "Object", `{}`)
	grp := createRecord(t, s, "group/1", "Group", `{}`)

	appendActivity(t, s, obj.ID, model.EventCreate)
	appendActivity(t, s, obj.ID, model.EventUpdate)
	appendActivity(t, s, grp.ID, model.EventCreate)

	n, err := s.Activities().Count(ctx, model.ActivityFilter{EntityID: "object/4"})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = s.Activities().Count(ctx, model.ActivityFilter{EntityType: "Group"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	page, err := s.Activities().Page(ctx, model.ActivityFilter{EntityType: "Group"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "group/1", page[0].EntityID)
}
