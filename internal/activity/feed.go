// Package activity serves the paginated ActivityStreams change feed and
// its maintenance operations. Pages are fixed-size windows over the
// surviving activities in insertion order, tolerant of rows removed by
// truncation.
package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opencollections/lod-gateway/internal/model"
	"github.com/opencollections/lod-gateway/internal/store"
)

const streamContext = "https://www.w3.org/ns/activitystreams"

// Ref is a linked object reference in feed documents.
type Ref struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Collection is the feed's top-level OrderedCollection document.
type Collection struct {
	Context    string `json:"@context"`
	Summary    string `json:"summary,omitempty"`
	ID         string `json:"id"`
	Type       string `json:"type"`
	TotalItems int    `json:"totalItems"`
	First      *Ref   `json:"first,omitempty"`
	Last       *Ref   `json:"last,omitempty"`
}

// Page is one OrderedCollectionPage of the feed.
type Page struct {
	Context      string `json:"@context"`
	ID           string `json:"id"`
	Type         string `json:"type"`
	PartOf       *Ref   `json:"partOf"`
	Prev         *Ref   `json:"prev,omitempty"`
	Next         *Ref   `json:"next,omitempty"`
	OrderedItems []Item `json:"orderedItems"`
}

// Item is one activity entry.
type Item struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created time.Time `json:"created"`
	Object  *Ref      `json:"object"`
}

// Service builds feed documents from the activity log.
type Service struct {
	store    store.Store
	baseURL  string
	pageSize int
}

func NewService(st store.Store, baseURL string, pageSize int) *Service {
	return &Service{store: st, baseURL: strings.TrimRight(baseURL, "/"), pageSize: pageSize}
}

// Collection returns the feed's top document with totalItems and
// first/last page references for the given filter.
func (s *Service) Collection(ctx context.Context, f model.ActivityFilter) (*Collection, error) {
	count, err := s.store.Activities().Count(ctx, f)
	if err != nil {
		return nil, err
	}
	col := &Collection{
		Context:    streamContext,
		Summary:    "Change activity for the records served by this gateway",
		ID:         s.streamID(f),
		Type:       "OrderedCollection",
		TotalItems: count,
	}
	if pages := s.totalPages(count); pages > 0 {
		col.First = s.pageRef(f, 1)
		col.Last = s.pageRef(f, pages)
	}
	return col, nil
}

// Page returns page n of the feed, 1-based. Pages outside
// [1, totalPages] do not exist.
func (s *Service) Page(ctx context.Context, f model.ActivityFilter, n int) (*Page, error) {
	count, err := s.store.Activities().Count(ctx, f)
	if err != nil {
		return nil, err
	}
	pages := s.totalPages(count)
	if n < 1 || n > pages {
		return nil, fmt.Errorf("%w: feed page %d", model.ErrNotFound, n)
	}

	// Pages are anchored to the newest end of the feed: the last page is
	// always full and any partial page is page 1. Truncating old
	// activities then shrinks the front of the feed without reshuffling
	// recent pages.
	pad := pages*s.pageSize - count
	offset, limit := (n-1)*s.pageSize-pad, s.pageSize
	if n == 1 {
		offset, limit = 0, s.pageSize-pad
	}

	acts, err := s.store.Activities().Page(ctx, f, limit, offset)
	if err != nil {
		return nil, err
	}

	page := &Page{
		Context: streamContext,
		ID:      s.pageID(f, n),
		Type:    "OrderedCollectionPage",
		PartOf:  &Ref{ID: s.streamID(f), Type: "OrderedCollection"},
	}
	if n > 1 {
		page.Prev = s.pageRef(f, n-1)
	}
	if n < pages {
		page.Next = s.pageRef(f, n+1)
	}
	page.OrderedItems = make([]Item, 0, len(acts))
	for _, a := range acts {
		page.OrderedItems = append(page.OrderedItems, s.item(a))
	}
	return page, nil
}

// ResolveAlias maps the symbolic page names to page numbers. "current"
// is the last page, where new activities land.
func (s *Service) ResolveAlias(ctx context.Context, f model.ActivityFilter, alias string) (int, error) {
	count, err := s.store.Activities().Count(ctx, f)
	if err != nil {
		return 0, err
	}
	pages := s.totalPages(count)
	if pages == 0 {
		return 0, fmt.Errorf("%w: feed is empty", model.ErrNotFound)
	}
	switch alias {
	case "first":
		return 1, nil
	case "last", "current":
		return pages, nil
	default:
		return 0, fmt.Errorf("%w: unknown page alias %q", model.ErrValidation, alias)
	}
}

// Activity returns one feed entry by its stable UUID.
func (s *Service) Activity(ctx context.Context, id string) (*Item, error) {
	a, err := s.store.Activities().GetByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	item := s.item(a)
	return &item, nil
}

// Truncate removes a record's oldest activities, keeping the most recent
// keep entries. With keepOldest the record's very first activity (its
// Create) survives as well. Returns the number removed; asking to keep
// at least as many as exist removes nothing.
func (s *Service) Truncate(ctx context.Context, entityID string, keep int, keepOldest bool) (int64, error) {
	rec, err := s.store.Records().GetByEntityID(ctx, entityID)
	if err != nil {
		return 0, err
	}
	ids, err := s.store.Activities().ListIDsByRecord(ctx, rec.ID)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	if keep >= len(ids) {
		return 0, nil
	}

	cut := ids[:len(ids)-keep]
	if keepOldest && len(cut) > 0 {
		cut = cut[1:]
	}
	if len(cut) == 0 {
		return 0, nil
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	n, err := tx.Activities().DeleteByIDs(ctx, cut)
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func (s *Service) totalPages(count int) int {
	if count == 0 {
		return 0
	}
	return (count + s.pageSize - 1) / s.pageSize
}

func (s *Service) item(a *model.Activity) Item {
	objType := a.EntityType
	if objType == "" {
		objType = "Object"
	}
	return Item{
		ID:      s.baseURL + "/activity-stream/" + a.UUID,
		Type:    a.Event,
		Created: a.DateTimeCreated,
		Object:  &Ref{ID: s.recordURL(a.EntityID), Type: objType},
	}
}

func (s *Service) streamID(f model.ActivityFilter) string {
	switch {
	case f.EntityID != "":
		return s.baseURL + "/activity-stream/entity/" + strings.TrimLeft(f.EntityID, "/")
	case f.EntityType != "":
		return s.baseURL + "/activity-stream/type/" + f.EntityType
	default:
		return s.baseURL + "/activity-stream"
	}
}

func (s *Service) pageID(f model.ActivityFilter, n int) string {
	return fmt.Sprintf("%s/page/%d", s.streamID(f), n)
}

func (s *Service) pageRef(f model.ActivityFilter, n int) *Ref {
	return &Ref{ID: s.pageID(f, n), Type: "OrderedCollectionPage"}
}

func (s *Service) recordURL(entityID string) string {
	return s.baseURL + "/data/" + strings.TrimLeft(entityID, "/")
}
