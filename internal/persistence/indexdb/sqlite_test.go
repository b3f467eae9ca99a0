package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"tilemap.ai/internal/document"
)

func TestSQLiteIndex_MapsAndSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()
	ctx := context.Background()

	idx.RecordMap(document.MapInfo{ID: "a", Name: "first", CreatedAt: "2026-01-01T00:00:00Z"})
	idx.RecordMap(document.MapInfo{ID: "b", Name: "second", CreatedAt: "2026-01-02T00:00:00Z"})
	idx.RecordSave(document.SaveInfo{MapID: "a", Revision: 3, Path: "/maps/a/map.tmd.zst", Chunks: 1, Tiles: 5})
	idx.RecordSave(document.SaveInfo{MapID: "a", Revision: 9, Path: "/maps/a/map.tmd.zst", Chunks: 2, Tiles: 7})

	maps, err := idx.ListMaps(ctx)
	if err != nil {
		t.Fatalf("ListMaps: %v", err)
	}
	if len(maps) != 2 || maps[0].ID != "a" || maps[1].ID != "b" {
		t.Fatalf("maps = %+v", maps)
	}
	if maps[0].LastRevision != 9 || maps[0].Saves != 2 || maps[1].Saves != 0 {
		t.Fatalf("save summary = %+v", maps)
	}

	last, ok, err := idx.LatestSave(ctx, "a")
	if err != nil || !ok || last.Revision != 9 || last.Tiles != 7 {
		t.Fatalf("LatestSave = %+v,%v,%v", last, ok, err)
	}
	if _, ok, err := idx.LatestSave(ctx, "b"); err != nil || ok {
		t.Fatalf("LatestSave(b) = %v,%v", ok, err)
	}
}

func TestSQLiteIndex_WriteEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	_ = idx.WriteEdit(document.EditEntry{MapID: "m", Revision: 1, Actor: "u1", Action: "PAINT", Tiles: 4, Bounds: &[4]int32{-2, 3, 2, 2}})
	_ = idx.WriteEdit(document.EditEntry{MapID: "m", Revision: 2, Action: "UNDO", Tiles: 4})
	if n, err := idx.EditCount(context.Background(), "m"); err != nil || n != 2 {
		t.Fatalf("EditCount = %d,%v", n, err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var minX, minY, maxX, maxY int64
	var actor string
	row := db.QueryRow(`SELECT actor,min_x,min_y,max_x,max_y FROM edits WHERE map_id='m' AND revision=1`)
	if err := row.Scan(&actor, &minX, &minY, &maxX, &maxY); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if actor != "u1" || minX != -2 || minY != 3 || maxX != -1 || maxY != 4 {
		t.Fatalf("row mismatch: %s %d %d %d %d", actor, minX, minY, maxX, maxY)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqEdit}

	_ = s.WriteEdit(document.EditEntry{MapID: "m", Revision: 2})
	s.RecordMap(document.MapInfo{ID: "m"})
	s.RecordSave(document.SaveInfo{MapID: "m", Revision: 2})

	st := s.Stats()
	if st.DropEditTotal != 1 || st.DropMapTotal != 1 || st.DropSaveTotal != 1 {
		t.Fatalf("drops = %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}

	var nilIdx *SQLiteIndex
	_ = nilIdx.WriteEdit(document.EditEntry{})
	nilIdx.RecordSave(document.SaveInfo{MapID: "m"})
}

func TestSQLiteIndex_SendsRaceClose(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			<-start
			for i := 0; i < 500; i++ {
				_ = idx.WriteEdit(document.EditEntry{MapID: "m", Revision: uint64(w*1000 + i), Action: "PAINT"})
				idx.RecordSave(document.SaveInfo{MapID: "m", Revision: uint64(i)})
				idx.RecordMap(document.MapInfo{ID: "m"})
				_ = idx.Flush(context.Background())
			}
		}(w)
	}
	close(start)
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	wg.Wait()

	if err := idx.Flush(context.Background()); err != nil {
		t.Fatalf("Flush after Close: %v", err)
	}
	_ = idx.WriteEdit(document.EditEntry{MapID: "m", Revision: 1})
}
