package indexdb

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"tilemap.ai/internal/document"
)

func TestRemoteIndex_RetainsBatchOnFlushFailure(t *testing.T) {
	var mu sync.Mutex
	reqCount := 0
	var kinds []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqCount++
		thisReq := reqCount
		mu.Unlock()

		if thisReq <= 3 {
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}

		var body struct {
			Events []remoteEvent `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		mu.Lock()
		for _, ev := range body.Events {
			kinds = append(kinds, ev.Kind)
		}
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	idx, err := OpenRemote(RemoteConfig{
		Endpoint:      srv.URL,
		BatchSize:     1,
		FlushInterval: 20 * time.Millisecond,
		HTTPTimeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("OpenRemote: %v", err)
	}
	defer func() { _ = idx.Close() }()

	if err := idx.WriteEdit(document.EditEntry{MapID: "m", Revision: 1, Action: "PAINT"}); err != nil {
		t.Fatalf("WriteEdit: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(kinds) >= 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	got := append([]string(nil), kinds...)
	mu.Unlock()
	if len(got) < 1 || got[0] != "edit" {
		t.Fatalf("expected retained batch to be delivered, got %v", got)
	}

	st := idx.Stats()
	if st.FlushFailTotal == 0 {
		t.Fatalf("expected flush failures to be recorded, got 0")
	}
	if st.QueueDroppedTotal != 0 {
		t.Fatalf("unexpected queue drops: %d", st.QueueDroppedTotal)
	}
}

type countingIndex struct{ edits, maps, saves int }

func (c *countingIndex) WriteEdit(document.EditEntry) error { c.edits++; return nil }
func (c *countingIndex) RecordMap(document.MapInfo)         { c.maps++ }
func (c *countingIndex) RecordSave(document.SaveInfo)       { c.saves++ }

func TestTeeSkipsNil(t *testing.T) {
	a, b := &countingIndex{}, &countingIndex{}
	idx := Tee(a, nil, b)
	_ = idx.WriteEdit(document.EditEntry{})
	idx.RecordMap(document.MapInfo{})
	idx.RecordSave(document.SaveInfo{})
	if *a != (countingIndex{1, 1, 1}) || *b != (countingIndex{1, 1, 1}) {
		t.Fatalf("tee counts a=%+v b=%+v", *a, *b)
	}
}
