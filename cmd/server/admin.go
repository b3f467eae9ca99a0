package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"tilemap.ai/internal/document"
	"tilemap.ai/internal/transport/ws"
)

type adminState struct {
	Maps      []loadedMap `json:"maps"`
	ViewHits  uint64      `json:"view_cache_hits"`
	Sessions  int         `json:"sessions"`
	IndexDrop uint64      `json:"index_dropped"`
}

type loadedMap struct {
	ID       string `json:"map_id"`
	Name     string `json:"name"`
	Revision uint64 `json:"revision"`
	Tiles    int    `json:"tiles"`
	Dirty    bool   `json:"dirty"`
}

func collectState(store *document.Store, srv *ws.Server, idx *runtimeIndex) adminState {
	st := adminState{ViewHits: srv.ViewCacheHits(), Sessions: srv.SessionCount()}
	for _, doc := range store.Loaded() {
		st.Maps = append(st.Maps, loadedMap{
			ID:       doc.ID(),
			Name:     doc.Name(),
			Revision: doc.Revision(),
			Tiles:    doc.TileCount(),
			Dirty:    doc.Dirty(),
		})
	}
	if idx != nil && idx.sqlite != nil {
		s := idx.sqlite.Stats()
		st.IndexDrop = s.DropEditTotal + s.DropMapTotal + s.DropSaveTotal
	}
	if idx != nil && idx.remote != nil {
		st.IndexDrop += idx.remote.Stats().QueueDroppedTotal
	}
	return st
}

func metricsHandler(store *document.Store, srv *ws.Server, idx *runtimeIndex) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		st := collectState(store, srv, idx)

		fmt.Fprintf(rw, "# HELP tilemap_loaded_maps Maps held in memory.\n")
		fmt.Fprintf(rw, "# TYPE tilemap_loaded_maps gauge\n")
		fmt.Fprintf(rw, "tilemap_loaded_maps %d\n", len(st.Maps))

		fmt.Fprintf(rw, "# HELP tilemap_sessions Connected editor sessions.\n")
		fmt.Fprintf(rw, "# TYPE tilemap_sessions gauge\n")
		fmt.Fprintf(rw, "tilemap_sessions %d\n", st.Sessions)

		fmt.Fprintf(rw, "# HELP tilemap_map_revision Current revision per loaded map.\n")
		fmt.Fprintf(rw, "# TYPE tilemap_map_revision gauge\n")
		for _, m := range st.Maps {
			fmt.Fprintf(rw, "tilemap_map_revision{map=%q} %d\n", m.ID, m.Revision)
		}
		fmt.Fprintf(rw, "# HELP tilemap_map_tiles Occupied cells per loaded map.\n")
		fmt.Fprintf(rw, "# TYPE tilemap_map_tiles gauge\n")
		for _, m := range st.Maps {
			fmt.Fprintf(rw, "tilemap_map_tiles{map=%q} %d\n", m.ID, m.Tiles)
		}

		fmt.Fprintf(rw, "# HELP tilemap_view_cache_hits_total View cache hits.\n")
		fmt.Fprintf(rw, "# TYPE tilemap_view_cache_hits_total counter\n")
		fmt.Fprintf(rw, "tilemap_view_cache_hits_total %d\n", st.ViewHits)

		fmt.Fprintf(rw, "# HELP tilemap_index_dropped_total Index events dropped under backpressure.\n")
		fmt.Fprintf(rw, "# TYPE tilemap_index_dropped_total counter\n")
		fmt.Fprintf(rw, "tilemap_index_dropped_total %d\n", st.IndexDrop)

		if idx != nil && idx.mirror != nil {
			ms := idx.mirror.Stats()
			fmt.Fprintf(rw, "# HELP tilemap_mirror_queue_depth Pending snapshot uploads.\n")
			fmt.Fprintf(rw, "# TYPE tilemap_mirror_queue_depth gauge\n")
			fmt.Fprintf(rw, "tilemap_mirror_queue_depth %d\n", ms.QueueDepth)
			fmt.Fprintf(rw, "# HELP tilemap_mirror_uploads_total Snapshot uploads by result.\n")
			fmt.Fprintf(rw, "# TYPE tilemap_mirror_uploads_total counter\n")
			fmt.Fprintf(rw, "tilemap_mirror_uploads_total{result=%q} %d\n", "ok", ms.UploadSuccessTotal)
			fmt.Fprintf(rw, "tilemap_mirror_uploads_total{result=%q} %d\n", "fail", ms.UploadFailTotal)
			fmt.Fprintf(rw, "tilemap_mirror_uploads_total{result=%q} %d\n", "dropped", ms.DroppedTotal)
		}
	}
}

// registerAdmin adds the local-only admin endpoints.
func registerAdmin(mux *http.ServeMux, store *document.Store, srv *ws.Server, idx *runtimeIndex) {
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(collectState(store, srv, idx))
	})
	mux.HandleFunc("/admin/v1/save", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		if err := store.SaveAll(); err != nil {
			rw.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "maps": len(store.Loaded())})
	})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
