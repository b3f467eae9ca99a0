package ws

import (
	"encoding/json"
	"errors"
	"net/http"

	"tilemap.ai/internal/document"
)

// MapsHandler serves GET /v1/maps.
func (s *Server) MapsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		maps, err := s.store.List()
		if err != nil {
			s.log.WithError(err).Error("list maps")
			http.Error(rw, "internal error", http.StatusInternalServerError)
			return
		}
		if maps == nil {
			maps = []document.MapInfo{}
		}
		rw.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(rw).Encode(maps)
	}
}

// ExportHandler serves GET /v1/maps/{id}/export.
func (s *Server) ExportHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		doc, err := s.store.Open(r.PathValue("id"))
		if errors.Is(err, document.ErrNotFound) {
			http.NotFound(rw, r)
			return
		}
		if err != nil {
			s.log.WithError(err).Error("open map for export")
			http.Error(rw, "internal error", http.StatusInternalServerError)
			return
		}
		b, err := doc.ExportJSON()
		if err != nil {
			http.Error(rw, "internal error", http.StatusInternalServerError)
			return
		}
		rw.Header().Set("content-type", "application/json")
		_, _ = rw.Write(b)
	}
}

// Routes registers the socket and HTTP endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/ws", s.Handler())
	mux.HandleFunc("GET /v1/maps", s.MapsHandler())
	mux.HandleFunc("GET /v1/maps/{id}/export", s.ExportHandler())
}
