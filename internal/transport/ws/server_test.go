package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tilemap.ai/internal/document"
	"tilemap.ai/internal/protocol"
)

func newTestServer(t *testing.T) (*Server, *document.Store, string) {
	t.Helper()
	store, err := document.NewStore(t.TempDir(), document.Options{MaxEdit: 1000})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	srv, err := NewServer(store, Options{ViewCacheMaxCost: 1 << 20, ValidateMessages: true})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		srv.Close()
		_ = store.Close()
	})
	return srv, store, "ws" + strings.TrimPrefix(hs.URL, "http")
}

func dial(t *testing.T, url string, hello string) (*websocket.Conn, protocol.WelcomeMsg) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := conn.WriteMessage(websocket.TextMessage, []byte(hello)); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	var w protocol.WelcomeMsg
	read(t, conn, &w)
	return conn, w
}

func read(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(msg, v); err != nil {
		t.Fatalf("decode %s: %v", msg, err)
	}
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestPaintViewUndoOverSocket(t *testing.T) {
	srv, _, url := newTestServer(t)
	conn, welcome := dial(t, url, `{"type":"HELLO","protocol_version":"1.0","client_name":"ed","name":"demo"}`)
	if welcome.Type != protocol.TypeWelcome || welcome.MapID == "" || welcome.Bounds != nil || welcome.ChunkSize != [2]int{16, 16} {
		t.Fatalf("welcome = %+v", welcome)
	}

	send(t, conn, `{"type":"PAINT","protocol_version":"1.0","req_id":"p1","tiles":[{"x":-1,"y":-1,"handle":[0,0,1,1]},{"x":20,"y":3,"handle":[1,0,0,0]}]}`)
	var a protocol.AckMsg
	read(t, conn, &a)
	if !a.Accepted || a.ReqID != "p1" || a.Revision != 1 || a.Changed != 2 || !a.CanUndo || a.CanRedo {
		t.Fatalf("paint ack = %+v", a)
	}

	view := `{"type":"VIEW","protocol_version":"1.0","req_id":"v1","rect":[-16,-16,32,32]}`
	send(t, conn, view)
	var tiles protocol.TilesMsg
	read(t, conn, &tiles)
	if tiles.Revision != 1 || len(tiles.Tiles) != 1 || tiles.Tiles[0].X != -1 {
		t.Fatalf("view = %+v", tiles)
	}
	send(t, conn, view)
	read(t, conn, &tiles)
	if srv.ViewCacheHits() != 1 {
		t.Fatalf("second VIEW should hit the cache, hits=%d", srv.ViewCacheHits())
	}

	send(t, conn, `{"type":"UNDO","protocol_version":"1.0","req_id":"u1"}`)
	read(t, conn, &a)
	if !a.Accepted || a.ReqID != "u1" || a.Revision != 2 || a.CanUndo || !a.CanRedo {
		t.Fatalf("undo ack = %+v", a)
	}
	send(t, conn, `{"type":"VIEW","protocol_version":"1.0","req_id":"v2"}`)
	var all protocol.TilesMsg
	read(t, conn, &all)
	if all.Revision != 2 || len(all.Tiles) != 0 {
		t.Fatalf("view after undo = %+v", all)
	}

	send(t, conn, `{"type":"UNDO","protocol_version":"1.0","req_id":"u2"}`)
	a = protocol.AckMsg{}
	read(t, conn, &a)
	if a.Accepted || a.Code != protocol.ErrNothingToUndo || !a.CanRedo {
		t.Fatalf("second undo ack = %+v", a)
	}

	send(t, conn, `{"type":"REDO","protocol_version":"1.0","req_id":"r1"}`)
	a = protocol.AckMsg{}
	read(t, conn, &a)
	if !a.Accepted || a.AckFor != protocol.TypeRedo || a.Revision != 3 || !a.CanUndo || a.CanRedo {
		t.Fatalf("redo ack = %+v", a)
	}
}

func TestPaintRejectsBadInput(t *testing.T) {
	_, _, url := newTestServer(t)
	conn, _ := dial(t, url, `{"type":"HELLO","protocol_version":"1.0","name":"demo"}`)

	send(t, conn, `{"type":"PAINT","protocol_version":"1.0","req_id":"p1","tiles":[{"x":0,"y":0,"handle":[1,2]}]}`)
	var a protocol.AckMsg
	read(t, conn, &a)
	if a.Accepted || a.Code != protocol.ErrBadRequest || a.ReqID != "p1" {
		t.Fatalf("ack = %+v", a)
	}

	send(t, conn, `{"type":"PAINT","protocol_version":"1.0","req_id":"p2","tiles":[{"x":0,"y":0,"handle":[-32768,-32768,-32768,-32768]}]}`)
	read(t, conn, &a)
	if a.Accepted || a.Code != protocol.ErrInvalidHandle {
		t.Fatalf("ack = %+v", a)
	}

	send(t, conn, `{"type":"JUMP","protocol_version":"1.0"}`)
	var e protocol.ErrorMsg
	read(t, conn, &e)
	if e.Type != protocol.TypeError || e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("error = %+v", e)
	}
}

func TestEditsAreBroadcast(t *testing.T) {
	_, _, url := newTestServer(t)
	first, welcome := dial(t, url, `{"type":"HELLO","protocol_version":"1.0","client_name":"a","name":"shared"}`)
	second, w2 := dial(t, url, `{"type":"HELLO","protocol_version":"1.0","client_name":"b","map_id":"`+welcome.MapID+`"}`)
	if w2.MapID != welcome.MapID {
		t.Fatalf("joined %s, want %s", w2.MapID, welcome.MapID)
	}

	send(t, first, `{"type":"PAINT","protocol_version":"1.0","req_id":"p1","tiles":[{"x":5,"y":6,"handle":[0,0,0,0]}]}`)
	var a protocol.AckMsg
	read(t, first, &a)

	var ev protocol.EditedMsg
	read(t, second, &ev)
	if ev.Type != protocol.TypeEdited || ev.Revision != 1 || ev.Action != document.ActionPaint || ev.Bounds == nil || *ev.Bounds != [4]int32{5, 6, 1, 1} {
		t.Fatalf("edited = %+v", ev)
	}
}

func TestHandshakeUnknownMap(t *testing.T) {
	_, _, url := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	send(t, conn, `{"type":"HELLO","protocol_version":"1.0","map_id":"6f1c7f5e-3a7b-4c36-9d0a-3b0e2f2f9a10"}`)
	var e protocol.ErrorMsg
	read(t, conn, &e)
	if e.Code != protocol.ErrMapNotFound {
		t.Fatalf("error = %+v", e)
	}
}

func TestHandshakeRequiresMapOrName(t *testing.T) {
	_, _, url := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	send(t, conn, `{"type":"HELLO","protocol_version":"1.0","client_name":"ed"}`)
	var e protocol.ErrorMsg
	read(t, conn, &e)
	if e.Code != protocol.ErrBadRequest {
		t.Fatalf("error = %+v", e)
	}
}
