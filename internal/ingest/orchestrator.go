// Package ingest coordinates batch writes across the relational store
// and the triple store. The relational work for a batch runs in one
// transaction; graph synchronization happens afterwards against captured
// pre-images, so a partial graph failure can be compensated and the
// transaction rolled back. There is no two-phase commit: consistency is
// best effort with the relational store as ground truth, repairable via
// Reconcile.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/opencollections/lod-gateway/internal/checksum"
	"github.com/opencollections/lod-gateway/internal/model"
	"github.com/opencollections/lod-gateway/internal/rdf"
	"github.com/opencollections/lod-gateway/internal/store"
)

// phases of one batch, for logging and error context.
type phase string

const (
	phaseValidating  phase = "validating"
	phaseRelational  phase = "writing-relational"
	phaseGraph       phase = "writing-graph"
	phaseCommitted   phase = "committed"
	phaseRollingBack phase = "rolling-back"
)

// Reconciliation outcomes, reported per entity id.
const (
	OutcomeRefreshed       = "refreshed"
	OutcomeDeleted         = "deleted"
	OutcomeConnectionError = "connection_error"
)

// GraphStore is the synchronizer surface the orchestrator drives.
// *graph.Client satisfies it.
type GraphStore interface {
	GraphName(entityID string) string
	Capture(ctx context.Context, name string) (string, bool, error)
	Replace(ctx context.Context, name, statements string) error
	Delete(ctx context.Context, name string) error
}

// Config selects versioning behaviour.
type Config struct {
	// KeepVersions archives the pre-update state of a record on every
	// supplanting write.
	KeepVersions bool
	// KeepVersionsForDeleted additionally archives the pre-delete state
	// on tombstoning. When false, tombstoning discards the record's
	// existing versions.
	KeepVersionsForDeleted bool
}

// Orchestrator is the per-batch coordinator.
type Orchestrator struct {
	store  store.Store
	graphs GraphStore // nil disables graph synchronization
	cfg    Config
	log    zerolog.Logger
}

func New(st store.Store, gs GraphStore, cfg Config, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{store: st, graphs: gs, cfg: cfg, log: log}
}

// GraphSyncEnabled reports whether a triple store is configured.
func (o *Orchestrator) GraphSyncEnabled() bool { return o.graphs != nil }

// batchLine is one validated input document.
type batchLine struct {
	entityID   string
	entityType string
	doc        json.RawMessage
	tombstone  bool
}

// touched tracks an entity mutated by the relational phase, with the
// data its graph must reflect (nil for tombstones).
type touched struct {
	entityID string
	data     json.RawMessage
}

// IngestBatch applies a newline-delimited batch of JSON-LD documents.
// It returns, per input entity id, the relative path now serving the
// record, or nil when a delete addressed an id that was never seen.
// The batch is all or nothing.
func (o *Orchestrator) IngestBatch(ctx context.Context, r io.Reader) (map[string]*string, error) {
	lines, err := parseBatch(r)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return map[string]*string{}, nil
	}

	tx, err := o.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	results := make(map[string]*string, len(lines))
	var mutations []touched
	for _, line := range lines {
		mut, path, err := o.applyLine(ctx, tx, line)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", phaseRelational, line.entityID, err)
		}
		results[line.entityID] = path
		if mut != nil {
			mutations = append(mutations, *mut)
		}
	}

	if o.graphs != nil {
		if err := o.syncGraphs(ctx, mutations); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		// Graphs already hold the new state but the relational write was
		// aborted. Log the drift; Reconcile repairs it from the records.
		if o.graphs != nil {
			for _, m := range mutations {
				o.log.Error().Str("entity", m.entityID).Str("phase", string(phaseRollingBack)).
					Msg("commit failed after graph push, entity needs reconciliation")
			}
		}
		return nil, fmt.Errorf("commit: %w", err)
	}
	o.log.Info().Int("records", len(mutations)).Str("phase", string(phaseCommitted)).Msg("batch committed")
	return results, nil
}

// parseBatch validates every line before any store is touched. The
// first invalid line aborts the whole batch with its 1-based number.
func parseBatch(r io.Reader) ([]batchLine, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var lines []batchLine
	n := 0
	for scanner.Scan() {
		n++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, &model.BatchError{Line: n, Err: fmt.Errorf("%w: malformed JSON", model.ErrValidation)}
		}
		id, _ := doc["id"].(string)
		if id == "" {
			return nil, &model.BatchError{Line: n, Err: fmt.Errorf("%w: missing identifier", model.ErrValidation)}
		}
		entityType, _ := doc["type"].(string)
		del, _ := doc["_delete"].(bool)
		line := batchLine{entityID: id, entityType: entityType, tombstone: del}
		if !del {
			line.doc = json.RawMessage(raw)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	return lines, nil
}

// applyLine routes one document into create, update or tombstone and
// appends the matching activity. Returns the graph mutation to perform,
// or nil when nothing changed (deleting a never-seen or already
// tombstoned id).
func (o *Orchestrator) applyLine(ctx context.Context, tx store.Tx, line batchLine) (*touched, *string, error) {
	existing, err := tx.Records().GetForUpdate(ctx, line.entityID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, nil, err
	}

	switch {
	case existing == nil && line.tombstone:
		// deleting an id that was never seen: explicit no-op marker
		return nil, nil, nil

	case existing == nil:
		rec, err := o.createRecord(ctx, tx, line)
		if err != nil {
			return nil, nil, err
		}
		if err := o.recordActivity(ctx, tx, rec.ID, model.EventCreate, rec.DateTimeUpdated); err != nil {
			return nil, nil, err
		}
		path := line.entityID
		return &touched{entityID: line.entityID, data: line.doc}, &path, nil

	case line.tombstone:
		if existing.IsTombstoned() {
			return nil, nil, nil
		}
		now, err := o.tombstoneRecord(ctx, tx, existing)
		if err != nil {
			return nil, nil, err
		}
		if err := o.recordActivity(ctx, tx, existing.ID, model.EventDelete, now); err != nil {
			return nil, nil, err
		}
		path := line.entityID
		return &touched{entityID: line.entityID, data: nil}, &path, nil

	default:
		now, err := o.updateRecord(ctx, tx, existing, line)
		if err != nil {
			return nil, nil, err
		}
		if err := o.recordActivity(ctx, tx, existing.ID, model.EventUpdate, now); err != nil {
			return nil, nil, err
		}
		path := line.entityID
		return &touched{entityID: line.entityID, data: line.doc}, &path, nil
	}
}

func (o *Orchestrator) createRecord(ctx context.Context, tx store.Tx, line batchLine) (*model.Record, error) {
	sum, err := checksum.Digest(line.doc)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return tx.Records().Create(ctx, &model.Record{
		EntityID:        line.entityID,
		EntityType:      line.entityType,
		Data:            line.doc,
		Checksum:        sum,
		DateTimeCreated: now,
		DateTimeUpdated: now,
	})
}

func (o *Orchestrator) updateRecord(ctx context.Context, tx store.Tx, existing *model.Record, line batchLine) (time.Time, error) {
	if o.cfg.KeepVersions && existing.Data != nil {
		if err := o.archiveVersion(ctx, tx, existing); err != nil {
			return time.Time{}, err
		}
	}
	sum, err := checksum.Digest(line.doc)
	if err != nil {
		return time.Time{}, err
	}
	now := nextUpdateTime(existing.DateTimeUpdated)
	existing.Data = line.doc
	existing.Checksum = sum
	existing.DateTimeUpdated = now
	return now, tx.Records().Update(ctx, existing)
}

func (o *Orchestrator) tombstoneRecord(ctx context.Context, tx store.Tx, existing *model.Record) (time.Time, error) {
	if o.cfg.KeepVersions {
		if o.cfg.KeepVersionsForDeleted {
			if existing.Data != nil {
				if err := o.archiveVersion(ctx, tx, existing); err != nil {
					return time.Time{}, err
				}
			}
		} else {
			if _, err := tx.Versions().DeleteByRecord(ctx, existing.ID); err != nil {
				return time.Time{}, err
			}
		}
	}
	now := nextUpdateTime(existing.DateTimeUpdated)
	return now, tx.Records().Tombstone(ctx, existing.ID, now)
}

// archiveVersion snapshots the record state about to be supplanted. The
// version carries the superseded record's own update time, not the wall
// clock of archival.
func (o *Orchestrator) archiveVersion(ctx context.Context, tx store.Tx, rec *model.Record) error {
	_, err := tx.Versions().Create(ctx, &model.Version{
		EntityID:        uuid.New().String(),
		RecordID:        rec.ID,
		Data:            rec.Data,
		Checksum:        rec.Checksum,
		DateTimeCreated: rec.DateTimeUpdated,
		DateTimeUpdated: rec.DateTimeUpdated,
	})
	return err
}

func (o *Orchestrator) recordActivity(ctx context.Context, tx store.Tx, recordID int64, event string, when time.Time) error {
	_, err := tx.Activities().Create(ctx, &model.Activity{
		UUID:            uuid.New().String(),
		RecordID:        recordID,
		Event:           event,
		DateTimeCreated: when,
	})
	return err
}

// graphMutation is a rollback image taken before touching one graph.
type graphMutation struct {
	name     string
	pre      string
	preFound bool
}

// syncGraphs pushes every touched entity's graph, capturing pre-images
// first. On any fatal error or retry exhaustion it restores all touched
// graphs from the captures and reports the failure; the caller then
// rolls back the relational transaction.
func (o *Orchestrator) syncGraphs(ctx context.Context, mutations []touched) error {
	var applied []graphMutation
	for _, m := range mutations {
		name := o.graphs.GraphName(m.entityID)

		pre, found, err := o.graphs.Capture(ctx, name)
		if err != nil {
			o.restoreGraphs(ctx, applied)
			return fmt.Errorf("%s capture %s: %w", phaseGraph, m.entityID, err)
		}
		applied = append(applied, graphMutation{name: name, pre: pre, preFound: found})

		if err := o.graphs.Delete(ctx, name); err != nil {
			o.restoreGraphs(ctx, applied)
			return fmt.Errorf("%s delete %s: %w", phaseGraph, m.entityID, err)
		}
		if m.data == nil {
			continue
		}
		statements, err := rdf.Expand(m.data)
		if err != nil {
			o.restoreGraphs(ctx, applied)
			return fmt.Errorf("%s expand %s: %w", phaseGraph, m.entityID, err)
		}
		if err := o.graphs.Replace(ctx, name, statements); err != nil {
			o.restoreGraphs(ctx, applied)
			return fmt.Errorf("%s replace %s: %w", phaseGraph, m.entityID, err)
		}
	}
	return nil
}

// restoreGraphs reinstates captured pre-images, best effort. Failures
// here are logged and skipped; Reconcile repairs any remaining drift
// from the relational store afterwards.
func (o *Orchestrator) restoreGraphs(ctx context.Context, applied []graphMutation) {
	for _, m := range applied {
		var err error
		if m.preFound {
			err = o.graphs.Replace(ctx, m.name, m.pre)
		} else {
			err = o.graphs.Delete(ctx, m.name)
		}
		if err != nil {
			o.log.Error().Err(err).Str("graph", m.name).Str("phase", string(phaseRollingBack)).
				Msg("failed to restore graph pre-image")
		}
	}
}

// Reconcile re-derives and re-pushes graph state for the given entity
// ids from the record store, treating it as ground truth. Outcomes are
// per id so operators can re-run just the failures.
func (o *Orchestrator) Reconcile(ctx context.Context, ids []string) map[string]string {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		out[id] = o.reconcileOne(ctx, id)
	}
	return out
}

func (o *Orchestrator) reconcileOne(ctx context.Context, entityID string) string {
	name := o.graphs.GraphName(entityID)

	rec, err := o.store.Records().GetByEntityID(ctx, entityID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return OutcomeConnectionError
	}

	if rec == nil || rec.IsTombstoned() {
		if err := o.graphs.Delete(ctx, name); err != nil {
			o.log.Error().Err(err).Str("entity", entityID).Msg("reconcile delete failed")
			return OutcomeConnectionError
		}
		return OutcomeDeleted
	}

	statements, err := rdf.Expand(rec.Data)
	if err != nil {
		o.log.Error().Err(err).Str("entity", entityID).Msg("reconcile expansion failed")
		return OutcomeConnectionError
	}
	if err := o.graphs.Replace(ctx, name, statements); err != nil {
		o.log.Error().Err(err).Str("entity", entityID).Msg("reconcile replace failed")
		return OutcomeConnectionError
	}
	return OutcomeRefreshed
}

// nextUpdateTime returns the current UTC time, nudged forward when the
// clock has not advanced past the previous write.
func nextUpdateTime(prev time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}
