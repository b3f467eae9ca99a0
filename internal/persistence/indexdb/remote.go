package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"tilemap.ai/internal/document"
)

// RemoteConfig points a RemoteIndex at an HTTP ingest endpoint that accepts
// {"events":[...]} batches.
type RemoteConfig struct {
	Endpoint      string
	Token         string
	Source        string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Logger        logrus.FieldLogger
}

// RemoteIndex mirrors index events to a remote service. A failed batch is
// kept and retried on the next flush.
type RemoteIndex struct {
	cfg        RemoteConfig
	httpClient *http.Client

	ch   chan remoteEvent
	wg   sync.WaitGroup
	once sync.Once

	sendMu sync.RWMutex
	closed atomic.Bool

	dropped   atomic.Uint64
	flushFail atomic.Uint64
	sent      atomic.Uint64
}

type remoteEvent struct {
	Kind    string `json:"kind"`
	Source  string `json:"source"`
	Payload any    `json:"payload"`
}

type RemoteStats struct {
	QueueDroppedTotal uint64
	FlushFailTotal    uint64
	SentTotal         uint64
}

func OpenRemote(cfg RemoteConfig) (*RemoteIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Source = strings.TrimSpace(cfg.Source)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty index ingest endpoint")
	}
	if cfg.Source == "" {
		cfg.Source = "tilemap"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	d := &RemoteIndex{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan remoteEvent, 32768),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

func (d *RemoteIndex) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.sendMu.Lock()
		d.closed.Store(true)
		close(d.ch)
		d.sendMu.Unlock()
		d.wg.Wait()
	})
	return nil
}

func (d *RemoteIndex) Stats() RemoteStats {
	if d == nil {
		return RemoteStats{}
	}
	return RemoteStats{
		QueueDroppedTotal: d.dropped.Load(),
		FlushFailTotal:    d.flushFail.Load(),
		SentTotal:         d.sent.Load(),
	}
}

func (d *RemoteIndex) WriteEdit(entry document.EditEntry) error {
	// Per-cell changes stay in the local edit log.
	entry.Changes = nil
	d.enqueue("edit", entry)
	return nil
}

func (d *RemoteIndex) RecordMap(info document.MapInfo)   { d.enqueue("map", info) }
func (d *RemoteIndex) RecordSave(info document.SaveInfo) { d.enqueue("save", info) }

func (d *RemoteIndex) enqueue(kind string, payload any) {
	if d == nil {
		return
	}
	d.sendMu.RLock()
	defer d.sendMu.RUnlock()
	if d.closed.Load() {
		return
	}
	select {
	case d.ch <- remoteEvent{Kind: kind, Source: d.cfg.Source, Payload: payload}:
	default:
		d.dropped.Add(1)
		d.cfg.Logger.WithField("kind", kind).Warn("remote index queue full; dropping event")
	}
}

func (d *RemoteIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]remoteEvent, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFail.Add(1)
			d.cfg.Logger.WithError(err).WithField("batch", len(batch)).Warn("remote index flush failed")
			if limit := 64 * d.cfg.BatchSize; len(batch) > limit {
				drop := len(batch) - limit
				d.dropped.Add(uint64(drop))
				batch = append(batch[:0], batch[drop:]...)
			}
			return
		}
		d.sent.Add(uint64(len(batch)))
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *RemoteIndex) sendBatch(events []remoteEvent) error {
	body := struct {
		Events []remoteEvent `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-tilemap-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

// Tee fans index events out to several indexes. Nil entries are skipped.
func Tee(indexes ...document.Index) document.Index {
	var out tee
	for _, idx := range indexes {
		if idx != nil {
			out = append(out, idx)
		}
	}
	return out
}

type tee []document.Index

func (t tee) WriteEdit(entry document.EditEntry) error {
	var first error
	for _, idx := range t {
		if err := idx.WriteEdit(entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t tee) RecordMap(info document.MapInfo) {
	for _, idx := range t {
		idx.RecordMap(info)
	}
}

func (t tee) RecordSave(info document.SaveInfo) {
	for _, idx := range t {
		idx.RecordSave(info)
	}
}
