package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tilemap.ai/internal/persistence/archive"
	"tilemap.ai/internal/persistence/snapshot"
	"tilemap.ai/internal/protocol"
	"tilemap.ai/internal/tilemap"
)

var (
	ErrNotFound      = errors.New("document: map not found")
	ErrNothingToUndo = errors.New("document: nothing to undo")
	ErrNothingToRedo = errors.New("document: nothing to redo")
	ErrTooLarge      = errors.New("document: edit too large")
)

const snapshotName = "map.tmd.zst"

// Edit actions as recorded in the edit log.
const (
	ActionPaint   = "PAINT"
	ActionUndo    = "UNDO"
	ActionRedo    = "REDO"
	ActionImport  = "IMPORT"
	ActionRestore = "RESTORE"
)

// EditResult describes an applied edit.
type EditResult struct {
	Revision uint64
	Changed  int
	Bounds   tilemap.OptionTileRect
}

// Document is one editable tile map. Every edit goes through SwapTiles; the
// swapped-out buffer is kept as the inverse edit on the undo stack.
type Document struct {
	id        string
	dir       string
	createdAt string

	mu            sync.Mutex
	name          string
	data          *tilemap.Data
	revision      uint64
	savedRevision uint64
	undo          []tilemap.TilesUpdate
	redo          []tilemap.TilesUpdate

	opts  Options
	edits EditLogger
	log   *logrus.Entry
}

func newDocument(id, name, dir string, data *tilemap.Data, revision uint64, opts Options) *Document {
	d := &Document{
		id:            id,
		dir:           dir,
		name:          name,
		data:          data,
		revision:      revision,
		savedRevision: revision,
		opts:          opts,
		log:           opts.logger().WithField("map_id", id),
	}
	if opts.NewEditLogger != nil {
		d.edits = opts.NewEditLogger(dir)
	}
	return d
}

func (d *Document) ID() string        { return d.id }
func (d *Document) CreatedAt() string { return d.createdAt }

func (d *Document) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

func (d *Document) Revision() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.revision
}

// Dirty reports whether there are edits since the last save.
func (d *Document) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.revision != d.savedRevision
}

func (d *Document) SnapshotPath() string { return filepath.Join(d.dir, snapshotName) }

func (d *Document) Get(p tilemap.Vec2) (tilemap.Handle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.data.Get(p)
}

// View returns the revision and every tile inside bounds; None means the
// whole map.
func (d *Document) View(bounds tilemap.OptionTileRect) (uint64, tilemap.TilesUpdate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out tilemap.TilesUpdate
	for p, h := range d.data.Bounded(bounds) {
		if bounds.IsNone() || bounds.Contains(p) {
			out.Set(p, h)
		}
	}
	return d.revision, out
}

func (d *Document) BoundingRect() tilemap.OptionTileRect {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.data.BoundingRect()
}

func (d *Document) TileCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.data.Len()
}

func (d *Document) CanUndo() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.undo) > 0
}

func (d *Document) CanRedo() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.redo) > 0
}

// Paint writes update into the map. update is not modified. Later writes to
// the same cell win; cells that already hold the written handle are dropped,
// so an edit that changes nothing leaves the revision alone.
func (d *Document) Paint(actor string, update tilemap.TilesUpdate) (EditResult, error) {
	if limit := d.opts.MaxEdit; limit > 0 && len(update) > limit {
		return EditResult{}, fmt.Errorf("%w: %d tiles (max %d)", ErrTooLarge, len(update), limit)
	}
	buf := update.Clone()
	buf.Normalize()

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applyLocked(actor, ActionPaint, buf), nil
}

func (d *Document) applyLocked(actor, action string, buf tilemap.TilesUpdate) EditResult {
	// Drop no-op cells so the undo entry only holds real changes.
	kept := buf[:0]
	for _, u := range buf {
		if d.data.GetOrEmpty(u.Pos) != u.Handle {
			kept = append(kept, u)
		}
	}
	buf = kept
	if len(buf) == 0 {
		return EditResult{Revision: d.revision}
	}

	next := buf.Clone()
	d.data.SwapTiles(buf)
	// buf now holds the previous handles: the inverse of this edit.
	d.pushUndo(buf)
	d.redo = nil
	d.revision++

	res := EditResult{Revision: d.revision, Changed: len(buf), Bounds: bounds(buf)}
	d.record(actor, action, res, buf, next)
	return res
}

// Undo reverts the latest edit.
func (d *Document) Undo(actor string) (EditResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.undo) == 0 {
		return EditResult{Revision: d.revision}, ErrNothingToUndo
	}
	buf := d.undo[len(d.undo)-1]
	d.undo = d.undo[:len(d.undo)-1]
	before := buf.Clone()
	d.data.SwapTiles(buf)
	d.redo = append(d.redo, buf)
	d.revision++

	res := EditResult{Revision: d.revision, Changed: len(buf), Bounds: bounds(buf)}
	d.record(actor, ActionUndo, res, buf, before)
	return res, nil
}

// Redo re-applies the latest undone edit.
func (d *Document) Redo(actor string) (EditResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.redo) == 0 {
		return EditResult{Revision: d.revision}, ErrNothingToRedo
	}
	buf := d.redo[len(d.redo)-1]
	d.redo = d.redo[:len(d.redo)-1]
	before := buf.Clone()
	d.data.SwapTiles(buf)
	d.pushUndo(buf)
	d.revision++

	res := EditResult{Revision: d.revision, Changed: len(buf), Bounds: bounds(buf)}
	d.record(actor, ActionRedo, res, buf, before)
	return res, nil
}

func (d *Document) pushUndo(buf tilemap.TilesUpdate) {
	d.undo = append(d.undo, buf)
	if depth := d.opts.UndoDepth; depth > 0 && len(d.undo) > depth {
		n := copy(d.undo, d.undo[len(d.undo)-depth:])
		clear(d.undo[n:])
		d.undo = d.undo[:n]
	}
}

func (d *Document) record(actor, action string, res EditResult, from, to tilemap.TilesUpdate) {
	entry := EditEntry{
		MapID:    d.id,
		Revision: res.Revision,
		Actor:    actor,
		Action:   action,
		Tiles:    res.Changed,
		Bounds:   protocol.RectArray(res.Bounds),
		At:       time.Now().UTC().Format(time.RFC3339Nano),
	}
	if d.edits != nil {
		entry.Changes = make([]TileChange, len(from))
		for i := range from {
			entry.Changes[i] = TileChange{
				Pos:  [2]int32{from[i].Pos.X, from[i].Pos.Y},
				From: from[i].Handle.String(),
				To:   to[i].Handle.String(),
			}
		}
		if err := d.edits.WriteEdit(entry); err != nil {
			d.log.WithError(err).Warn("edit log write failed")
		}
		entry.Changes = nil
	}
	if d.opts.Index != nil {
		_ = d.opts.Index.WriteEdit(entry)
	}
	d.log.WithFields(logrus.Fields{
		"revision": res.Revision,
		"action":   action,
		"actor":    actor,
		"tiles":    res.Changed,
	}).Debug("edit applied")
}

// resumeAfterLog handles edits that reached the edit log but not the
// snapshot. The revision moves past them and one RESTORE edit reverts their
// cells to the loaded content, so revisions are never reused and the log
// still replays to the map. A damaged log tail is skipped with a warning.
func (d *Document) resumeAfterLog(read func(mapDir string, fn func(EditEntry) error) error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	saved := d.revision
	last := saved
	logged := map[tilemap.Vec2]string{}
	err := read(d.dir, func(e EditEntry) error {
		if e.Revision <= saved {
			return nil
		}
		last = max(last, e.Revision)
		for _, c := range e.Changes {
			logged[tilemap.V(c.Pos[0], c.Pos[1])] = c.To
		}
		return nil
	})
	if err != nil {
		d.log.WithError(err).Warn("edit log read stopped early")
	}
	if last == saved {
		return
	}

	var from, to tilemap.TilesUpdate
	for p, text := range logged {
		was, err := tilemap.ParseHandle(text)
		if err != nil {
			d.log.WithError(err).WithField("pos", p).Warn("unreadable logged handle")
			continue
		}
		if cur := d.data.GetOrEmpty(p); cur != was {
			from.Set(p, was)
			to.Set(p, cur)
		}
	}
	sort.Slice(from, func(i, j int) bool { return from[i].Pos.Less(from[j].Pos) })
	sort.Slice(to, func(i, j int) bool { return to[i].Pos.Less(to[j].Pos) })

	d.revision = last
	if len(from) > 0 {
		d.revision++
		res := EditResult{Revision: d.revision, Changed: len(from), Bounds: bounds(from)}
		d.record("", ActionRestore, res, from, to)
	}
	d.log.WithFields(logrus.Fields{
		"saved_revision": saved,
		"revision":       d.revision,
		"reverted":       len(from),
	}).Warn("edit log is ahead of snapshot")
}

func bounds(u tilemap.TilesUpdate) tilemap.OptionTileRect {
	var r tilemap.OptionTileRect
	for _, t := range u {
		r.Push(t.Pos)
	}
	return r
}

// Save archives the previous snapshot, drops empty chunks and writes the
// map. It returns what was written.
func (d *Document) Save() (SaveInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	path := d.SnapshotPath()
	archivedPath, archived, err := archive.ArchiveSnapshot(d.dir, path, d.revision)
	if err != nil {
		d.log.WithError(err).Warn("archive previous snapshot failed")
	} else if archived {
		if _, err := archive.Prune(d.dir, d.opts.ArchiveKeep); err != nil {
			d.log.WithError(err).Warn("archive prune failed")
		}
	}

	hdr := snapshot.HeaderFor(d.id, d.name, d.revision, d.data)
	if err := snapshot.WriteSnapshot(path, hdr, d.data, d.opts.Snapshot); err != nil {
		return SaveInfo{}, fmt.Errorf("save %s: %w", d.id, err)
	}
	d.savedRevision = d.revision

	info := SaveInfo{
		MapID:    d.id,
		Revision: d.revision,
		Path:     path,
		Chunks:   d.data.ChunkCount(),
		Tiles:    d.data.Len(),
		SavedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if archived {
		info.ArchivedPath = archivedPath
	}
	if d.opts.Index != nil {
		d.opts.Index.RecordSave(info)
	}
	d.log.WithFields(logrus.Fields{
		"revision": info.Revision,
		"chunks":   info.Chunks,
		"tiles":    info.Tiles,
	}).Info("map saved")
	return info, nil
}

// ExportJSON returns the map in the JSON interchange format.
func (d *Document) ExportJSON() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return json.Marshal(protocol.NewExport(d.id, d.name, d.data))
}

// ImportJSON replaces the whole map content with an export. The replacement
// is a single undoable edit.
func (d *Document) ImportJSON(actor string, raw []byte) (EditResult, error) {
	_, incoming, err := protocol.ParseExport(raw)
	if err != nil {
		return EditResult{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	var buf tilemap.TilesUpdate
	for p := range d.data.All() {
		buf.Erase(p)
	}
	for p, h := range incoming.All() {
		buf.Set(p, h)
	}
	buf.Normalize()
	return d.applyLocked(actor, ActionImport, buf), nil
}

func (d *Document) close() error {
	if c, ok := d.edits.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
