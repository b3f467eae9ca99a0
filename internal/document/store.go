package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tilemap.ai/internal/persistence/snapshot"
	"tilemap.ai/internal/tilemap"
)

const metaName = "map.json"

type Options struct {
	UndoDepth   int
	MaxEdit     int
	ArchiveKeep int
	Snapshot    snapshot.Options

	Index  Index
	Logger logrus.FieldLogger

	// NewEditLogger opens the edit log of a map directory. Nil disables
	// edit logging.
	NewEditLogger func(mapDir string) EditLogger
	// ReadEdits walks the edit log of a map directory in write order. When
	// set, Open resumes after the newest logged revision.
	ReadEdits func(mapDir string, fn func(EditEntry) error) error
}

func (o Options) logger() logrus.FieldLogger {
	if o.Logger == nil {
		return logrus.StandardLogger()
	}
	return o.Logger
}

// Store owns the documents under one maps directory, one subdirectory per
// map id.
type Store struct {
	dir  string
	opts Options
	log  logrus.FieldLogger

	mu   sync.Mutex
	docs map[string]*Document
}

func NewStore(dir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{
		dir:  dir,
		opts: opts,
		log:  opts.logger().WithField("component", "store"),
		docs: map[string]*Document{},
	}, nil
}

// Create makes a new empty map and saves it so it can be reopened.
func (s *Store) Create(name string) (*Document, error) {
	id := uuid.NewString()
	dir := filepath.Join(s.dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	info := MapInfo{ID: id, Name: name, CreatedAt: time.Now().UTC().Format(time.RFC3339Nano)}
	b, _ := json.MarshalIndent(info, "", "  ")
	if err := os.WriteFile(filepath.Join(dir, metaName), b, 0o644); err != nil {
		return nil, err
	}

	doc := newDocument(id, name, dir, tilemap.NewData(), 0, s.opts)
	doc.createdAt = info.CreatedAt
	if _, err := doc.Save(); err != nil {
		_ = doc.close()
		return nil, err
	}
	if s.opts.Index != nil {
		s.opts.Index.RecordMap(info)
	}

	s.mu.Lock()
	s.docs[id] = doc
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{"map_id": id, "name": name}).Info("map created")
	return doc, nil
}

// Open returns the loaded document for id, loading it from disk on first use.
func (s *Store) Open(id string) (*Document, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[id]; ok {
		return doc, nil
	}

	dir := filepath.Join(s.dir, id)
	hdr, data, err := snapshot.ReadSnapshot(filepath.Join(dir, snapshotName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", id, err)
	}
	doc := newDocument(id, hdr.Name, dir, data, hdr.Revision, s.opts)
	if s.opts.ReadEdits != nil {
		doc.resumeAfterLog(s.opts.ReadEdits)
	}
	if info, err := readMeta(dir); err == nil {
		doc.createdAt = info.CreatedAt
	}
	s.docs[id] = doc
	s.log.WithFields(logrus.Fields{
		"map_id":   id,
		"revision": hdr.Revision,
		"tiles":    hdr.Tiles,
	}).Info("map loaded")
	return doc, nil
}

// Get returns an already loaded document.
func (s *Store) Get(id string) (*Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	return doc, ok
}

// Loaded returns the documents currently in memory ordered by id.
func (s *Store) Loaded() []*Document {
	s.mu.Lock()
	out := make([]*Document, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// List describes every map on disk, loaded or not, oldest first.
func (s *Store) List() ([]MapInfo, error) {
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []MapInfo
	for _, e := range ents {
		if !e.IsDir() || !validID(e.Name()) {
			continue
		}
		info, err := readMeta(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		if doc, ok := s.Get(info.ID); ok {
			info.Name = doc.Name()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SaveAll saves every loaded document with unsaved edits.
func (s *Store) SaveAll() error {
	var errs []error
	for _, doc := range s.Loaded() {
		if !doc.Dirty() {
			continue
		}
		if _, err := doc.Save(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close saves dirty documents and releases their edit logs.
func (s *Store) Close() error {
	err := s.SaveAll()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, doc := range s.docs {
		if cerr := doc.close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		delete(s.docs, id)
	}
	return err
}

func readMeta(dir string) (MapInfo, error) {
	var info MapInfo
	b, err := os.ReadFile(filepath.Join(dir, metaName))
	if err != nil {
		return info, err
	}
	err = json.Unmarshal(b, &info)
	return info, err
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
