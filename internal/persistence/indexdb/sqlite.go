package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tilemap.ai/internal/document"
)

const schemaVersion = "1"

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// Senders hold sendMu shared; Close holds it exclusively to close ch.
	sendMu sync.RWMutex
	closed atomic.Bool

	dropEdit atomic.Uint64
	dropMap  atomic.Uint64
	dropSave atomic.Uint64
}

type reqKind int

const (
	reqEdit reqKind = iota + 1
	reqMap
	reqSave
	reqFlush
)

type req struct {
	kind reqKind

	edit document.EditEntry
	m    document.MapInfo
	save document.SaveInfo
	done chan struct{}
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int

	DropEditTotal uint64
	DropMapTotal  uint64
	DropSaveTotal uint64
}

type MapRow struct {
	ID        string
	Name      string
	CreatedAt string

	LastRevision uint64
	Saves        int
}

type SaveRow struct {
	MapID    string
	Revision uint64
	Path     string
	Chunks   int
	Tiles    int
	SavedAt  string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS maps (
			map_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS saves (
			map_id TEXT NOT NULL,
			revision INTEGER NOT NULL,
			path TEXT NOT NULL,
			chunks INTEGER NOT NULL,
			tiles INTEGER NOT NULL,
			saved_at TEXT NOT NULL,
			PRIMARY KEY (map_id, revision)
		);`,
		`CREATE TABLE IF NOT EXISTS edits (
			map_id TEXT NOT NULL,
			revision INTEGER NOT NULL,
			actor TEXT,
			action TEXT NOT NULL,
			tiles INTEGER NOT NULL,
			min_x INTEGER,
			min_y INTEGER,
			max_x INTEGER,
			max_y INTEGER,
			at TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (map_id, revision, action)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_edits_actor ON edits(actor, map_id);`,
		`CREATE INDEX IF NOT EXISTS idx_edits_bounds ON edits(map_id, min_x, min_y);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','` + schemaVersion + `');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.sendMu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.sendMu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropEditTotal: s.dropEdit.Load(),
		DropMapTotal:  s.dropMap.Load(),
		DropSaveTotal: s.dropSave.Load(),
	}
}

func (s *SQLiteIndex) WriteEdit(entry document.EditEntry) error {
	if s == nil {
		return nil
	}
	// Drop if the indexer falls behind; the JSONL edit log remains the source of truth.
	s.enqueue(req{kind: reqEdit, edit: entry}, &s.dropEdit)
	return nil
}

func (s *SQLiteIndex) RecordMap(info document.MapInfo) {
	if s == nil || info.ID == "" {
		return
	}
	s.enqueue(req{kind: reqMap, m: info}, &s.dropMap)
}

func (s *SQLiteIndex) RecordSave(info document.SaveInfo) {
	if s == nil || info.MapID == "" {
		return
	}
	s.enqueue(req{kind: reqSave, save: info}, &s.dropSave)
}

func (s *SQLiteIndex) enqueue(r req, dropped *atomic.Uint64) {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		dropped.Add(1)
	}
}

// Flush waits until every request queued before the call is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	s.sendMu.RLock()
	if s.closed.Load() {
		s.sendMu.RUnlock()
		return nil
	}
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
		s.sendMu.RUnlock()
	case <-ctx.Done():
		s.sendMu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListMaps flushes pending writes and returns every recorded map with its
// latest saved revision.
func (s *SQLiteIndex) ListMaps(ctx context.Context) ([]MapRow, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.map_id, m.name, m.created_at, COALESCE(MAX(s.revision), 0), COUNT(s.revision)
		FROM maps m LEFT JOIN saves s ON s.map_id = m.map_id
		GROUP BY m.map_id
		ORDER BY m.created_at, m.map_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MapRow
	for rows.Next() {
		var r MapRow
		var rev int64
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatedAt, &rev, &r.Saves); err != nil {
			return nil, err
		}
		r.LastRevision = uint64(rev)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestSave returns the newest save of mapID, or false when it was never saved.
func (s *SQLiteIndex) LatestSave(ctx context.Context, mapID string) (SaveRow, bool, error) {
	if err := s.Flush(ctx); err != nil {
		return SaveRow{}, false, err
	}
	var r SaveRow
	var rev int64
	err := s.db.QueryRowContext(ctx, `
		SELECT map_id, revision, path, chunks, tiles, saved_at
		FROM saves WHERE map_id = ?
		ORDER BY revision DESC LIMIT 1`, mapID).
		Scan(&r.MapID, &rev, &r.Path, &r.Chunks, &r.Tiles, &r.SavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SaveRow{}, false, nil
	}
	if err != nil {
		return SaveRow{}, false, err
	}
	r.Revision = uint64(rev)
	return r, true, nil
}

// EditCount returns how many edits are indexed for mapID.
func (s *SQLiteIndex) EditCount(ctx context.Context, mapID string) (int, error) {
	if err := s.Flush(ctx); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edits WHERE map_id = ?`, mapID).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEdit, _ := s.db.Prepare(`INSERT OR REPLACE INTO edits(map_id,revision,actor,action,tiles,min_x,min_y,max_x,max_y,at,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertMap, _ := s.db.Prepare(`INSERT OR REPLACE INTO maps(map_id,name,created_at) VALUES(?,?,?)`)
	insertSave, _ := s.db.Prepare(`INSERT OR REPLACE INTO saves(map_id,revision,path,chunks,tiles,saved_at) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertEdit, insertMap, insertSave} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	// Commits on a timer as well so readers are not held off by an idle tx.
	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var r req
		var ok bool
		select {
		case r, ok = <-s.ch:
			if !ok {
				commit()
				return
			}
		case <-ticker.C:
			commit()
			continue
		}

		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEdit:
			e := r.edit
			raw, _ := json.Marshal(e)
			var minX, minY, maxX, maxY any
			if b := e.Bounds; b != nil {
				minX, minY = b[0], b[1]
				maxX, maxY = b[0]+b[2]-1, b[1]+b[3]-1
			}
			exec(insertEdit, e.MapID, int64(e.Revision), e.Actor, e.Action, e.Tiles, minX, minY, maxX, maxY, e.At, string(raw))
		case reqMap:
			exec(insertMap, r.m.ID, r.m.Name, r.m.CreatedAt)
		case reqSave:
			sv := r.save
			exec(insertSave, sv.MapID, int64(sv.Revision), sv.Path, sv.Chunks, sv.Tiles, sv.SavedAt)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}
}
