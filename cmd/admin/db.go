package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"tilemap.ai/internal/config"
	"tilemap.ai/internal/persistence/indexdb"
)

// dbCmd queries the read-model index: "maps" (default) or "map -id <id>".
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index.db)")
	mapID := fs.String("id", "", "map id (for the map query)")
	_ = fs.Parse(args)

	q := "maps"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	cfg := config.Default()
	cfg.DataDir = *dataDir
	cfg.Index.Path = *dbPath

	idx, err := indexdb.OpenSQLite(cfg.IndexPath())
	if err != nil {
		fail(1, "open:", err)
	}
	defer idx.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch q {
	case "maps":
		rows, err := idx.ListMaps(ctx)
		if err != nil {
			fail(1, "query:", err)
		}
		for _, r := range rows {
			fmt.Printf("%s\trev=%d\tsaves=%d\t%s\n", r.ID, r.LastRevision, r.Saves, r.Name)
		}
	case "map":
		if *mapID == "" {
			fail(2, "missing -id")
		}
		edits, err := idx.EditCount(ctx, *mapID)
		if err != nil {
			fail(1, "query:", err)
		}
		save, ok, err := idx.LatestSave(ctx, *mapID)
		if err != nil {
			fail(1, "query:", err)
		}
		fmt.Printf("map=%s edits=%d\n", *mapID, edits)
		if ok {
			fmt.Printf("latest save: revision=%d chunks=%d tiles=%d at=%s path=%s\n",
				save.Revision, save.Chunks, save.Tiles, save.SavedAt, save.Path)
		} else {
			fmt.Println("never saved")
		}
	default:
		fail(2, "unknown query:", q)
	}
}
