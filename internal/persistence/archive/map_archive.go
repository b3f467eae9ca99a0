package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"tilemap.ai/internal/persistence/snapshot"
)

type RevisionArchiveMeta struct {
	MapID     string `json:"map_id"`
	Revision  uint64 `json:"revision"`
	Snapshot  string `json:"snapshot"`
	Chunks    int    `json:"chunks"`
	Tiles     int    `json:"tiles"`
	CreatedAt string `json:"created_at"`
}

const revPrefix = "rev_"

// ArchiveSnapshot copies the snapshot currently at snapshotPath into
// `mapDir/archives/rev_<NNNNNN>/` before it is overwritten. Nothing is
// archived when there is no snapshot yet or it already has revision rev.
func ArchiveSnapshot(mapDir, snapshotPath string, rev uint64) (archivedPath string, archived bool, err error) {
	hdr, err := snapshot.ReadHeader(snapshotPath)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if hdr.Revision == rev {
		return "", false, nil
	}

	archiveDir := filepath.Join(mapDir, "archives", fmt.Sprintf("%s%06d", revPrefix, hdr.Revision))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}
	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := RevisionArchiveMeta{
		MapID:     hdr.MapID,
		Revision:  hdr.Revision,
		Snapshot:  filepath.Base(dst),
		Chunks:    hdr.Chunks,
		Tiles:     hdr.Tiles,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}
	return dst, true, nil
}

// Revisions lists archived revision directories of mapDir, oldest first.
func Revisions(mapDir string) ([]string, error) {
	ents, err := os.ReadDir(filepath.Join(mapDir, "archives"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	type entry struct {
		name string
		rev  uint64
	}
	var found []entry
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		rev, ok := revisionOf(e.Name())
		if !ok {
			continue
		}
		found = append(found, entry{name: e.Name(), rev: rev})
	}
	// Padding stops at six digits, so names alone do not order revisions.
	sort.Slice(found, func(i, j int) bool { return found[i].rev < found[j].rev })
	out := make([]string, len(found))
	for i, e := range found {
		out[i] = e.name
	}
	return out, nil
}

// revisionOf parses the revision out of an archive directory name.
func revisionOf(name string) (uint64, bool) {
	digits, ok := strings.CutPrefix(name, revPrefix)
	if !ok || digits == "" {
		return 0, false
	}
	rev, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return rev, true
}

// Prune keeps the newest keep revisions. keep <= 0 keeps everything.
func Prune(mapDir string, keep int) (removed int, err error) {
	if keep <= 0 {
		return 0, nil
	}
	revs, err := Revisions(mapDir)
	if err != nil {
		return 0, err
	}
	for len(revs) > keep {
		if err := os.RemoveAll(filepath.Join(mapDir, "archives", revs[0])); err != nil {
			return removed, err
		}
		revs = revs[1:]
		removed++
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
