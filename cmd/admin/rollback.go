package main

import (
	"flag"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"tilemap.ai/internal/document"
	persistlog "tilemap.ai/internal/persistence/log"
	"tilemap.ai/internal/persistence/snapshot"
	"tilemap.ai/internal/protocol"
	"tilemap.ai/internal/tilemap"
)

func rollbackCmd(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	mapDir := fs.String("map", "", "map directory (required)")
	sinceRev := fs.Uint64("since_rev", 0, "undo edits from this revision on (inclusive, required)")
	rect := fs.String("rect", "", "only revert cells inside x,y,w,h (optional)")
	outPath := fs.String("out", "", "output snapshot path (default: <map>/map.rollback.tmd.zst)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*mapDir) == "" {
		fail(2, "missing -map")
	}
	if *sinceRev == 0 {
		fail(2, "missing -since_rev")
	}
	area, err := parseRect(*rect)
	if err != nil {
		fail(2, "bad -rect:", err)
	}

	src := filepath.Join(*mapDir, "map.tmd.zst")
	hdr, data, err := snapshot.ReadSnapshot(src)
	if err != nil {
		fail(1, "read snapshot:", err)
	}
	edits, err := readEdits(*mapDir, *sinceRev, hdr.Revision)
	if err != nil {
		fail(1, "read edit log:", err)
	}
	if len(edits) == 0 {
		fmt.Println("no matching edits; nothing to rollback")
		return
	}

	applied, skipped, err := applyRollback(data, edits, area)
	if err != nil {
		fail(1, "rollback:", err)
	}

	if strings.TrimSpace(*outPath) == "" {
		*outPath = filepath.Join(*mapDir, "map.rollback.tmd.zst")
	}
	out := snapshot.HeaderFor(hdr.MapID, hdr.Name, hdr.Revision, data)
	if err := snapshot.WriteSnapshot(*outPath, out, data, snapshot.Options{}); err != nil {
		fail(1, "write snapshot:", err)
	}
	fmt.Printf("rollback ok: map=%s revision=%d since=%d edits=%d applied=%d skipped=%d out=%s\n",
		hdr.MapID, hdr.Revision, *sinceRev, len(edits), applied, skipped, *outPath)
}

// readEdits returns the logged edits with since <= revision <= upTo, newest
// first.
func readEdits(mapDir string, since, upTo uint64) ([]document.EditEntry, error) {
	var out []document.EditEntry
	err := persistlog.ReadEdits(mapDir, func(e document.EditEntry) error {
		if e.Revision >= since && e.Revision <= upTo {
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Revision > out[j].Revision })
	return out, nil
}

// applyRollback writes back the "from" handle of every change inside area.
func applyRollback(data *tilemap.Data, edits []document.EditEntry, area tilemap.OptionTileRect) (applied, skipped int, err error) {
	for _, e := range edits {
		for _, c := range e.Changes {
			p := tilemap.V(c.Pos[0], c.Pos[1])
			if !area.IsNone() && !area.Contains(p) {
				skipped++
				continue
			}
			h, err := tilemap.ParseHandle(c.From)
			if err != nil {
				return applied, skipped, fmt.Errorf("revision %d: %w", e.Revision, err)
			}
			data.Replace(p, h)
			applied++
		}
	}
	return applied, skipped, nil
}

func parseRect(s string) (tilemap.OptionTileRect, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return tilemap.OptionTileRect{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return tilemap.OptionTileRect{}, fmt.Errorf("expected x,y,w,h")
	}
	var a [4]int32
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return tilemap.OptionTileRect{}, err
		}
		a[i] = int32(n)
	}
	return protocol.RectFromArray(&a)
}
