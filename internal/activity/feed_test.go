package activity

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencollections/lod-gateway/internal/model"
	"github.com/opencollections/lod-gateway/internal/store"
	"github.com/opencollections/lod-gateway/internal/store/sqlite"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "feed_test.db"))
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	st := sqlite.NewWithDB(db)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// seed creates one record and n activities for it, uuids "<entityID>-1"
// through "<entityID>-n" in feed order.
func seed(t *testing.T, st store.Store, entityID string, n int) *model.Record {
	t.Helper()
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec, err := tx.Records().Create(ctx, &model.Record{
		EntityID:        entityID,
		EntityType:      "Object",
		Data:            []byte(`{"id":"x"}`),
		Checksum:        "abc",
		DateTimeCreated: base,
		DateTimeUpdated: base,
	})
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	for i := 1; i <= n; i++ {
		event := model.EventUpdate
		if i == 1 {
			event = model.EventCreate
		}
		_, err := tx.Activities().Create(ctx, &model.Activity{
			UUID:            fmt.Sprintf("%s-%d", entityID, i),
			RecordID:        rec.ID,
			Event:           event,
			DateTimeCreated: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("create activity %d: %v", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return rec
}

func deleteOldest(t *testing.T, st store.Store, rec *model.Record, n int) {
	t.Helper()
	ctx := context.Background()
	ids, err := st.Activities().ListIDsByRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("list ids: %v", err)
	}
	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Activities().DeleteByIDs(ctx, ids[:n]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestFeed_PaginationUnderDeletion(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, "http://gw.example.org", 2)
	ctx := context.Background()
	rec := seed(t, st, "object/1", 5)

	deleteOldest(t, st, rec, 2)

	col, err := svc.Collection(ctx, model.ActivityFilter{})
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	if col.TotalItems != 3 {
		t.Fatalf("totalItems = %d, want 3", col.TotalItems)
	}
	if col.Last == nil || col.Last.ID != "http://gw.example.org/activity-stream/page/2" {
		t.Fatalf("last page ref = %+v", col.Last)
	}

	// the partial page is page 1: only the oldest survivor
	p1, err := svc.Page(ctx, model.ActivityFilter{}, 1)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(p1.OrderedItems) != 1 {
		t.Fatalf("page 1 has %d items, want 1", len(p1.OrderedItems))
	}
	if want := "http://gw.example.org/activity-stream/object/1-3"; p1.OrderedItems[0].ID != want {
		t.Fatalf("page 1 item = %s, want %s", p1.OrderedItems[0].ID, want)
	}
	if p1.Prev != nil {
		t.Fatalf("page 1 has a prev link")
	}
	if p1.Next == nil || p1.Next.ID != "http://gw.example.org/activity-stream/page/2" {
		t.Fatalf("page 1 next = %+v", p1.Next)
	}

	// the last page is full
	p2, err := svc.Page(ctx, model.ActivityFilter{}, 2)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(p2.OrderedItems) != 2 {
		t.Fatalf("page 2 has %d items, want 2", len(p2.OrderedItems))
	}
	if p2.Next != nil {
		t.Fatalf("last page has a next link")
	}

	for _, n := range []int{0, 3} {
		if _, err := svc.Page(ctx, model.ActivityFilter{}, n); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("page %d: err = %v, want not found", n, err)
		}
	}
}

func TestFeed_EmptyCollection(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, "http://gw.example.org", 2)
	ctx := context.Background()

	col, err := svc.Collection(ctx, model.ActivityFilter{})
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	if col.TotalItems != 0 || col.First != nil || col.Last != nil {
		t.Fatalf("empty collection = %+v", col)
	}
	if _, err := svc.Page(ctx, model.ActivityFilter{}, 1); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("page of empty feed: %v", err)
	}
	if _, err := svc.ResolveAlias(ctx, model.ActivityFilter{}, "first"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("alias of empty feed: %v", err)
	}
}

func TestFeed_Aliases(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, "http://gw.example.org", 2)
	ctx := context.Background()
	seed(t, st, "object/2", 5)

	if n, err := svc.ResolveAlias(ctx, model.ActivityFilter{}, "first"); err != nil || n != 1 {
		t.Fatalf("first = %d, %v", n, err)
	}
	for _, alias := range []string{"last", "current"} {
		if n, err := svc.ResolveAlias(ctx, model.ActivityFilter{}, alias); err != nil || n != 3 {
			t.Fatalf("%s = %d, %v", alias, n, err)
		}
	}
	if _, err := svc.ResolveAlias(ctx, model.ActivityFilter{}, "latest"); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("unknown alias: %v", err)
	}
}

func TestFeed_Filters(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, "http://gw.example.org", 10)
	ctx := context.Background()
	seed(t, st, "object/3", 2)
	seed(t, st, "object/4", 3)

	col, err := svc.Collection(ctx, model.ActivityFilter{EntityID: "object/3"})
	if err != nil {
		t.Fatalf("filtered collection: %v", err)
	}
	if col.TotalItems != 2 {
		t.Fatalf("entity filter totalItems = %d, want 2", col.TotalItems)
	}
	if col.ID != "http://gw.example.org/activity-stream/entity/object/3" {
		t.Fatalf("filtered stream id = %s", col.ID)
	}

	col, err = svc.Collection(ctx, model.ActivityFilter{EntityType: "Object"})
	if err != nil {
		t.Fatalf("type filter: %v", err)
	}
	if col.TotalItems != 5 {
		t.Fatalf("type filter totalItems = %d, want 5", col.TotalItems)
	}
}

func TestFeed_ActivityLookup(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, "http://gw.example.org", 2)
	ctx := context.Background()
	seed(t, st, "object/5", 1)

	item, err := svc.Activity(ctx, "object/5-1")
	if err != nil {
		t.Fatalf("activity lookup: %v", err)
	}
	if item.Type != model.EventCreate {
		t.Fatalf("item type = %s", item.Type)
	}
	if item.Object == nil || item.Object.ID != "http://gw.example.org/data/object/5" {
		t.Fatalf("item object = %+v", item.Object)
	}

	if _, err := svc.Activity(ctx, "no-such-uuid"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("missing activity: %v", err)
	}
}

func TestTruncate(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, "http://gw.example.org", 2)
	ctx := context.Background()
	rec := seed(t, st, "object/6", 5)

	// keeping at least as many as exist removes nothing
	n, err := svc.Truncate(ctx, "object/6", 5, false)
	if err != nil {
		t.Fatalf("truncate floor: %v", err)
	}
	if n != 0 {
		t.Fatalf("truncate floor removed %d", n)
	}

	// keep latest 2 plus the oldest: activities 2 and 3 go
	n, err = svc.Truncate(ctx, "object/6", 2, true)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if n != 2 {
		t.Fatalf("removed %d, want 2", n)
	}
	ids, _ := st.Activities().ListIDsByRecord(ctx, rec.ID)
	if len(ids) != 3 {
		t.Fatalf("%d activities survive, want 3", len(ids))
	}

	// without keepOldest the Create goes too
	n, err = svc.Truncate(ctx, "object/6", 2, false)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if n != 1 {
		t.Fatalf("removed %d, want 1", n)
	}

	if _, err := svc.Truncate(ctx, "object/never", 1, false); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("truncate unknown entity: %v", err)
	}
}
