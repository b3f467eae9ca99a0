package r2s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"tilemap.ai/internal/document"
)

type fakeUploader struct {
	mu    sync.Mutex
	keys  []string
	fails int
}

func (f *fakeUploader) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("transient")
	}
	f.keys = append(f.keys, key)
	return nil
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestMirrorUploadsSaveAndArchive(t *testing.T) {
	data := t.TempDir()
	snap := filepath.Join(data, "maps", "m1", "map.tmd.zst")
	arch := filepath.Join(data, "maps", "m1", "archives", "rev_000003", "map.tmd.zst")
	touch(t, snap)
	touch(t, arch)
	touch(t, filepath.Join(filepath.Dir(arch), "meta.json"))

	up := &fakeUploader{fails: 1}
	m := NewMirror(up, MirrorConfig{DataDir: data, Prefix: "/backups/"})
	m.backoff = time.Millisecond
	m.RecordSave(document.SaveInfo{MapID: "m1", Path: snap, ArchivedPath: arch})
	m.RecordSave(document.SaveInfo{MapID: "m1", Path: filepath.Join(t.TempDir(), "elsewhere.zst")})
	m.Close()

	sort.Strings(up.keys)
	want := []string{
		"backups/maps/m1/archives/rev_000003/map.tmd.zst",
		"backups/maps/m1/archives/rev_000003/meta.json",
		"backups/maps/m1/map.tmd.zst",
	}
	if strings.Join(up.keys, ",") != strings.Join(want, ",") {
		t.Fatalf("keys = %v", up.keys)
	}
	st := m.Stats()
	if st.UploadSuccessTotal != 3 || st.EnqueuedTotal != 4 || st.UploadFailTotal != 0 {
		t.Fatalf("stats = %+v", st)
	}

	// Enqueue after Close is ignored.
	m.Enqueue(snap)
	if m.Stats().EnqueuedTotal != 4 {
		t.Fatalf("enqueue after close counted")
	}
}

func TestClientPutFileSigns(t *testing.T) {
	var gotPath, gotAuth, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{Endpoint: srv.URL, Bucket: "tiles", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	local := filepath.Join(t.TempDir(), "meta.json")
	if err := os.WriteFile(local, []byte(`{"revision":1}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.PutFile(context.Background(), "maps/a b/meta.json", local); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	if gotPath != "/tiles/maps/a%20b/meta.json" {
		t.Fatalf("path = %s", gotPath)
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AK/20260102/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature=") {
		t.Fatalf("auth = %s", gotAuth)
	}
	if gotType != "application/json" || gotBody != `{"revision":1}` {
		t.Fatalf("type=%s body=%s", gotType, gotBody)
	}

	if err := c.PutFile(context.Background(), "  ", local); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(ClientConfig{Endpoint: "r2.example", Bucket: "b"}); err == nil {
		t.Fatalf("expected error without keys")
	}
}

func TestMirrorEnqueueRacesClose(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{}
	m := NewMirror(up, MirrorConfig{DataDir: dir, Workers: 2, QueueCapacity: 4, EnqueueWait: time.Millisecond})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				m.Enqueue(filepath.Join(dir, "maps", fmt.Sprintf("m%d", w), "map.tmd.zst"))
			}
		}(w)
	}
	m.Close()
	wg.Wait()

	st := m.Stats()
	if st.EnqueuedTotal > 8*200 {
		t.Fatalf("enqueued %d, more than were sent", st.EnqueuedTotal)
	}
}
