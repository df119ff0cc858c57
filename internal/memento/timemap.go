// Package memento renders the version archive of one entity as a
// Memento-style TimeMap, in JSON or application/link-format.
package memento

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opencollections/lod-gateway/internal/store"
)

// Link is one temporal link of a TimeMap.
type Link struct {
	URI      string `json:"uri"`
	Rel      string `json:"rel"`
	Datetime string `json:"datetime,omitempty"`
	From     string `json:"from,omitempty"`
	Until    string `json:"until,omitempty"`
}

// Service builds TimeMaps from the record store and version archive.
type Service struct {
	store   store.Store
	baseURL string
}

func NewService(st store.Store, baseURL string) *Service {
	return &Service{store: st, baseURL: strings.TrimRight(baseURL, "/")}
}

// TimeMap lists the temporal links for an entity: the map itself, the
// original resource doubling as timegate, and one memento per archived
// version, newest first. Unknown entities yield model.ErrNotFound.
func (s *Service) TimeMap(ctx context.Context, entityID string) ([]Link, error) {
	rec, err := s.store.Records().GetByEntityID(ctx, entityID)
	if err != nil {
		return nil, err
	}
	versions, err := s.store.Versions().ListByRecord(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	until := rec.DateTimeUpdated
	from := rec.DateTimeCreated
	if len(versions) > 0 {
		from = versions[len(versions)-1].DateTimeUpdated
	}

	links := []Link{
		{
			URI:   s.baseURL + "/timemap/" + strings.TrimLeft(entityID, "/"),
			Rel:   "self",
			From:  httpTime(from),
			Until: httpTime(until),
		},
		{
			URI:      s.recordURL(entityID),
			Rel:      "original timegate",
			Datetime: httpTime(rec.DateTimeUpdated),
		},
	}

	for i, v := range versions {
		rel := "memento"
		switch {
		case len(versions) == 1:
			rel = "first last memento"
		case i == 0:
			rel = "last memento"
		case i == len(versions)-1:
			rel = "first memento"
		}
		links = append(links, Link{
			URI:      s.recordURL(v.EntityID),
			Rel:      rel,
			Datetime: httpTime(v.DateTimeUpdated),
		})
	}
	return links, nil
}

// LinkFormat renders the TimeMap in application/link-format.
func LinkFormat(links []Link) string {
	var b strings.Builder
	for i, l := range links {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "<%s>; rel=%q", l.URI, l.Rel)
		if l.Datetime != "" {
			fmt.Fprintf(&b, "; datetime=%q", l.Datetime)
		}
		if l.From != "" {
			fmt.Fprintf(&b, "; from=%q", l.From)
		}
		if l.Until != "" {
			fmt.Fprintf(&b, "; until=%q", l.Until)
		}
	}
	b.WriteString("\n")
	return b.String()
}

func (s *Service) recordURL(entityID string) string {
	return s.baseURL + "/data/" + strings.TrimLeft(entityID, "/")
}

func httpTime(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}
