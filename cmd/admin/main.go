package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"tilemap.ai/internal/config"
	"tilemap.ai/internal/document"
	"tilemap.ai/internal/persistence/snapshot"
	"tilemap.ai/internal/protocol"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "info":
			infoCmd(os.Args[2:])
			return
		case "compact":
			compactCmd(os.Args[2:])
			return
		case "export":
			exportCmd(os.Args[2:])
			return
		case "import":
			importCmd(os.Args[2:])
			return
		case "rollback":
			rollbackCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "save":
			saveCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func fail(code int, args ...any) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(code)
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	cfg := config.Default()
	cfg.DataDir = *dataDir
	store, err := document.NewStore(cfg.MapsDir(), document.Options{})
	if err != nil {
		fail(1, "open:", err)
	}
	maps, err := store.List()
	if err != nil {
		fail(1, "list:", err)
	}
	for _, m := range maps {
		fmt.Printf("%s\t%s\t%s\n", m.ID, m.CreatedAt, m.Name)
	}
}

// snapshotArg resolves the snapshot path from -in or the first positional arg.
func snapshotArg(fs *flag.FlagSet, in string) string {
	p := strings.TrimSpace(in)
	if p == "" && fs.NArg() > 0 {
		p = fs.Arg(0)
	}
	if p == "" {
		fail(2, "missing snapshot path")
	}
	if st, err := os.Stat(p); err == nil && st.IsDir() {
		// A map directory holds its snapshot under a fixed name.
		p = filepath.Join(p, "map.tmd.zst")
	}
	return p
}

func infoCmd(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	in := fs.String("in", "", "snapshot file or map directory")
	_ = fs.Parse(args)

	hdr, err := snapshot.ReadHeader(snapshotArg(fs, *in))
	if err != nil {
		fail(1, "read header:", err)
	}
	b, _ := json.MarshalIndent(hdr, "", "  ")
	fmt.Println(string(b))
}

func compactCmd(args []string) {
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	in := fs.String("in", "", "snapshot file or map directory")
	out := fs.String("out", "", "output path (default: rewrite in place)")
	level := fs.String("level", "best", "zstd level: fastest|default|better|best")
	_ = fs.Parse(args)

	path := snapshotArg(fs, *in)
	lvl, err := snapshot.ParseLevel(*level)
	if err != nil {
		fail(2, "bad -level:", err)
	}
	hdr, data, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fail(1, "read snapshot:", err)
	}
	before := data.ChunkCount()
	dst := strings.TrimSpace(*out)
	if dst == "" {
		dst = path
	}
	hdr = snapshot.HeaderFor(hdr.MapID, hdr.Name, hdr.Revision, data)
	if err := snapshot.WriteSnapshot(dst, hdr, data, snapshot.Options{Level: lvl}); err != nil {
		fail(1, "write snapshot:", err)
	}
	fmt.Printf("compact ok: chunks=%d->%d tiles=%d out=%s\n", before, data.ChunkCount(), data.Len(), dst)
}

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	in := fs.String("in", "", "snapshot file or map directory")
	out := fs.String("out", "", "output json path (default: stdout)")
	_ = fs.Parse(args)

	hdr, data, err := snapshot.ReadSnapshot(snapshotArg(fs, *in))
	if err != nil {
		fail(1, "read snapshot:", err)
	}
	b, err := json.MarshalIndent(protocol.NewExport(hdr.MapID, hdr.Name, data), "", "  ")
	if err != nil {
		fail(1, "encode:", err)
	}
	if strings.TrimSpace(*out) == "" {
		fmt.Println(string(b))
		return
	}
	if err := os.WriteFile(*out, b, 0o644); err != nil {
		fail(1, "write:", err)
	}
}

func importCmd(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	in := fs.String("in", "", "export json path")
	out := fs.String("out", "", "output snapshot path (required)")
	name := fs.String("name", "", "map name (default: from the export)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*in) == "" && fs.NArg() > 0 {
		*in = fs.Arg(0)
	}
	if strings.TrimSpace(*in) == "" || strings.TrimSpace(*out) == "" {
		fail(2, "usage: admin import -in map.json -out map.tmd.zst")
	}
	raw, err := os.ReadFile(*in)
	if err != nil {
		fail(1, "read:", err)
	}
	ex, data, err := protocol.ParseExport(raw)
	if err != nil {
		fail(1, "parse export:", err)
	}
	id := ex.MapID
	if id == "" {
		id = uuid.NewString()
	}
	n := ex.Name
	if *name != "" {
		n = *name
	}
	if err := snapshot.WriteSnapshot(*out, snapshot.HeaderFor(id, n, 0, data), data, snapshot.Options{}); err != nil {
		fail(1, "write snapshot:", err)
	}
	fmt.Printf("import ok: map=%s tiles=%d out=%s\n", id, data.Len(), *out)
}
