package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tilemap.ai/internal/document"
	"tilemap.ai/internal/persistence/archive"
	persistlog "tilemap.ai/internal/persistence/log"
	"tilemap.ai/internal/persistence/snapshot"
	"tilemap.ai/internal/tilemap"
)

func main() {
	var (
		mapDir   = flag.String("map", "", "map directory (required)")
		fromPath = flag.String("from", "", "base snapshot (default: oldest archived revision)")
		toRev    = flag.Uint64("to_rev", 0, "stop at revision (inclusive, default: current snapshot revision)")
	)
	flag.Parse()

	if strings.TrimSpace(*mapDir) == "" {
		fmt.Fprintln(os.Stderr, "missing -map")
		os.Exit(2)
	}

	base := strings.TrimSpace(*fromPath)
	if base == "" {
		revs, err := archive.Revisions(*mapDir)
		if err != nil || len(revs) == 0 {
			fmt.Fprintln(os.Stderr, "no archived revision to start from; provide -from")
			os.Exit(2)
		}
		base = filepath.Join(*mapDir, "archives", revs[0], "map.tmd.zst")
	}
	baseHdr, data, err := snapshot.ReadSnapshot(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read base snapshot:", err)
		os.Exit(1)
	}
	curHdr, current, err := snapshot.ReadSnapshot(filepath.Join(*mapDir, "map.tmd.zst"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read current snapshot:", err)
		os.Exit(1)
	}
	end := *toRev
	if end == 0 || end > curHdr.Revision {
		end = curHdr.Revision
	}

	fmt.Printf("base map=%s revision=%d tiles=%d; replaying to revision %d\n", baseHdr.MapID, baseHdr.Revision, baseHdr.Tiles, end)

	var edits []document.EditEntry
	err = persistlog.ReadEdits(*mapDir, func(e document.EditEntry) error {
		edits = append(edits, e)
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read edit log:", err)
		os.Exit(1)
	}

	res := replay(data, edits, baseHdr.Revision, end)
	fmt.Printf("replayed edits=%d cells=%d mismatched_from=%d last_revision=%d\n", res.Edits, res.Cells, res.Mismatched, res.Last)
	if res.Last != end {
		fmt.Fprintf(os.Stderr, "edit log ends at revision %d, wanted %d\n", res.Last, end)
		os.Exit(1)
	}
	if end != curHdr.Revision {
		return
	}
	if p, ok := firstDiff(data, current); ok {
		fmt.Fprintf(os.Stderr, "DIVERGED at (%d,%d): replay=%v snapshot=%v\n", p.X, p.Y, data.GetOrEmpty(p), current.GetOrEmpty(p))
		os.Exit(1)
	}
	fmt.Println("OK: replay matches current snapshot")
}

type replayResult struct {
	Edits      int
	Cells      int
	Mismatched int
	Last       uint64
}

// replay applies every logged edit with from < revision <= to in revision
// order. A change whose recorded "from" differs from the map is counted as
// mismatched but still applied.
func replay(data *tilemap.Data, edits []document.EditEntry, from, to uint64) replayResult {
	res := replayResult{Last: from}
	next := from + 1
	for _, e := range edits {
		if e.Revision != next || e.Revision > to {
			continue
		}
		for _, c := range e.Changes {
			p := tilemap.V(c.Pos[0], c.Pos[1])
			want, err := tilemap.ParseHandle(c.To)
			if err != nil {
				res.Mismatched++
				continue
			}
			if prev := data.Replace(p, want); prev.String() != c.From {
				res.Mismatched++
			}
			res.Cells++
		}
		res.Edits++
		res.Last = e.Revision
		next++
	}
	return res
}

func firstDiff(a, b *tilemap.Data) (tilemap.Vec2, bool) {
	for p, h := range a.All() {
		if b.GetOrEmpty(p) != h {
			return p, true
		}
	}
	for p, h := range b.All() {
		if a.GetOrEmpty(p) != h {
			return p, true
		}
	}
	return tilemap.Vec2{}, false
}
