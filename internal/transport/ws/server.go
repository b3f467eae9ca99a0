package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"tilemap.ai/internal/document"
	"tilemap.ai/internal/protocol"
	"tilemap.ai/internal/tilemap"
)

// Options.ValidateMessages checks PAINT and VIEW against the embedded
// schemas before decoding them.
type Options struct {
	Logger           logrus.FieldLogger
	ViewCacheMaxCost int64
	ValidateMessages bool
}

type Server struct {
	store    *document.Store
	log      logrus.FieldLogger
	views    *viewCache
	validate bool

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]map[*session]struct{}
}

type session struct {
	id     string
	client string
	doc    *document.Document
	out    chan []byte
}

func NewServer(store *document.Store, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	views, err := newViewCache(opts.ViewCacheMaxCost)
	if err != nil {
		return nil, err
	}
	s := &Server{
		store:    store,
		log:      logger.WithField("component", "ws"),
		views:    views,
		validate: opts.ValidateMessages,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: map[string]map[*session]struct{}{},
	}
	return s, nil
}

func (s *Server) Close() { s.views.close() }

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess, welcome := s.handshake(conn)
		if sess == nil {
			return
		}
		// Join before WELCOME so no edit made after the client sees it is missed.
		s.join(sess)
		defer s.leave(sess)
		if err := writeJSON(conn, welcome); err != nil {
			return
		}
		log := s.log.WithFields(logrus.Fields{"session": sess.id, "map_id": sess.doc.ID(), "client": sess.client})
		log.Info("session started")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-sess.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			reply := s.dispatch(sess, msg)
			if reply == nil {
				continue
			}
			b, err := json.Marshal(reply)
			if err != nil {
				log.WithError(err).Error("encode reply")
				continue
			}
			select {
			case sess.out <- b:
			case <-ctx.Done():
			}
		}
		log.Info("session ended")
	}
}

func (s *Server) handshake(conn *websocket.Conn) (*session, protocol.WelcomeMsg) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, protocol.WelcomeMsg{}
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return nil, protocol.WelcomeMsg{}
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, "bad HELLO")
		return nil, protocol.WelcomeMsg{}
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, errorMsg(protocol.ErrProtoVersion, "protocol_version must be "+protocol.Version))
		closeWith(conn, "bad protocol_version")
		return nil, protocol.WelcomeMsg{}
	}
	if s.validate {
		if err := protocol.Validate("hello.schema.json", msg); err != nil {
			_ = writeJSON(conn, errorMsg(protocol.ErrBadRequest, err.Error()))
			closeWith(conn, "bad HELLO")
			return nil, protocol.WelcomeMsg{}
		}
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	var doc *document.Document
	switch {
	case strings.TrimSpace(hello.MapID) != "":
		doc, err = s.store.Open(strings.TrimSpace(hello.MapID))
	case strings.TrimSpace(hello.Name) != "":
		doc, err = s.store.Create(strings.TrimSpace(hello.Name))
	default:
		err = errors.New("map_id or name is required")
	}
	if err != nil {
		code := protocol.ErrBadRequest
		if errors.Is(err, document.ErrNotFound) {
			code = protocol.ErrMapNotFound
		} else if errors.Is(err, tilemap.ErrDataFormat) {
			code = protocol.ErrDataFormat
		}
		_ = writeJSON(conn, errorMsg(code, err.Error()))
		closeWith(conn, "map unavailable")
		return nil, protocol.WelcomeMsg{}
	}

	sess := &session{
		id:     uuid.NewString(),
		client: hello.ClientName,
		doc:    doc,
		out:    make(chan []byte, 64),
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		MapID:           doc.ID(),
		Name:            doc.Name(),
		Revision:        doc.Revision(),
		ChunkSize:       [2]int{tilemap.ChunkWidth, tilemap.ChunkHeight},
		Bounds:          protocol.RectArray(doc.BoundingRect()),
	}
	return sess, welcome
}

func (s *Server) dispatch(sess *session, msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return errorMsg(protocol.ErrProtoBadRequest, "invalid json")
	}
	if base.ProtocolVersion != "" && base.ProtocolVersion != protocol.Version {
		return errorMsg(protocol.ErrProtoVersion, "protocol_version must be "+protocol.Version)
	}
	switch base.Type {
	case protocol.TypeView:
		return s.handleView(sess, msg)
	case protocol.TypePaint:
		return s.handlePaint(sess, base, msg)
	case protocol.TypeUndo, protocol.TypeRedo:
		return s.handleHistory(sess, base, msg)
	default:
		return errorMsg(protocol.ErrProtoBadRequest, "unknown message type "+base.Type)
	}
}

func (s *Server) handleView(sess *session, msg []byte) any {
	if s.validate {
		if err := protocol.Validate("view.schema.json", msg); err != nil {
			return errorMsg(protocol.ErrBadRequest, err.Error())
		}
	}
	var req protocol.ViewMsg
	if err := json.Unmarshal(msg, &req); err != nil {
		return errorMsg(protocol.ErrBadRequest, err.Error())
	}
	bounds, err := protocol.RectFromArray(req.Rect)
	if err != nil {
		return errorMsg(protocol.ErrBadRequest, err.Error())
	}

	rev := sess.doc.Revision()
	key := viewKey(sess.doc.ID(), rev, req.Rect)
	tiles, ok := s.views.get(key)
	if !ok {
		var upd tilemap.TilesUpdate
		rev, upd = sess.doc.View(bounds)
		tiles = make([]protocol.Tile, len(upd))
		for i, u := range upd {
			tiles[i] = protocol.TileOf(u.Pos, u.Handle)
		}
		s.views.set(viewKey(sess.doc.ID(), rev, req.Rect), tiles)
	}
	return protocol.TilesMsg{
		Type:            protocol.TypeTiles,
		ProtocolVersion: protocol.Version,
		ReqID:           req.ReqID,
		MapID:           sess.doc.ID(),
		Revision:        rev,
		Rect:            req.Rect,
		Tiles:           tiles,
	}
}

func (s *Server) handlePaint(sess *session, base protocol.BaseMessage, msg []byte) any {
	if s.validate {
		if err := protocol.Validate("paint.schema.json", msg); err != nil {
			return ack(base.ReqID, protocol.TypePaint, false, protocol.ErrBadRequest, err.Error(), sess.doc.Revision())
		}
	}
	var req protocol.PaintMsg
	if err := json.Unmarshal(msg, &req); err != nil {
		return ack(base.ReqID, protocol.TypePaint, false, protocol.ErrBadRequest, err.Error(), sess.doc.Revision())
	}
	update, err := protocol.ToUpdate(req.Tiles)
	if err != nil {
		return ack(req.ReqID, protocol.TypePaint, false, protocol.ErrInvalidHandle, err.Error(), sess.doc.Revision())
	}
	res, err := sess.doc.Paint(sess.client, update)
	if err != nil {
		return ack(req.ReqID, protocol.TypePaint, false, editErrorCode(err), err.Error(), sess.doc.Revision())
	}
	s.broadcast(sess, document.ActionPaint, res)
	return editAck(sess.doc, req.ReqID, protocol.TypePaint, res)
}

func (s *Server) handleHistory(sess *session, base protocol.BaseMessage, msg []byte) any {
	var req protocol.HistoryMsg
	if err := json.Unmarshal(msg, &req); err != nil {
		return ack(base.ReqID, base.Type, false, protocol.ErrBadRequest, err.Error(), sess.doc.Revision())
	}
	var (
		res    document.EditResult
		err    error
		action string
	)
	if req.Type == protocol.TypeUndo {
		res, err = sess.doc.Undo(sess.client)
		action = document.ActionUndo
	} else {
		res, err = sess.doc.Redo(sess.client)
		action = document.ActionRedo
	}
	if err != nil {
		a := ack(req.ReqID, req.Type, false, editErrorCode(err), err.Error(), res.Revision)
		a.CanUndo, a.CanRedo = sess.doc.CanUndo(), sess.doc.CanRedo()
		return a
	}
	s.broadcast(sess, action, res)
	return editAck(sess.doc, req.ReqID, req.Type, res)
}

// editAck accepts an applied edit. CanUndo and CanRedo are read after the
// edit and may already be stale when another session edits the same map.
func editAck(doc *document.Document, reqID, ackFor string, res document.EditResult) protocol.AckMsg {
	a := ack(reqID, ackFor, true, "", "", res.Revision)
	a.Changed = res.Changed
	a.CanUndo, a.CanRedo = doc.CanUndo(), doc.CanRedo()
	return a
}

func editErrorCode(err error) string {
	switch {
	case errors.Is(err, document.ErrNothingToUndo):
		return protocol.ErrNothingToUndo
	case errors.Is(err, document.ErrNothingToRedo):
		return protocol.ErrNothingToRedo
	case errors.Is(err, document.ErrTooLarge):
		return protocol.ErrTooLarge
	case errors.Is(err, tilemap.ErrDataFormat):
		return protocol.ErrDataFormat
	}
	return protocol.ErrInternal
}

func (s *Server) join(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.sessions[sess.doc.ID()]
	if m == nil {
		m = map[*session]struct{}{}
		s.sessions[sess.doc.ID()] = m
	}
	m[sess] = struct{}{}
}

func (s *Server) leave(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.sessions[sess.doc.ID()]
	delete(m, sess)
	if len(m) == 0 {
		delete(s.sessions, sess.doc.ID())
	}
}

// broadcast tells the other sessions on the same map about an edit. Slow
// sessions miss the notification rather than stall the editor.
func (s *Server) broadcast(from *session, action string, res document.EditResult) {
	if res.Changed == 0 {
		return
	}
	b, err := json.Marshal(protocol.EditedMsg{
		Type:            protocol.TypeEdited,
		ProtocolVersion: protocol.Version,
		MapID:           from.doc.ID(),
		Revision:        res.Revision,
		Action:          action,
		Bounds:          protocol.RectArray(res.Bounds),
	})
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for other := range s.sessions[from.doc.ID()] {
		if other == from {
			continue
		}
		select {
		case other.out <- b:
		default:
			s.log.WithField("session", other.id).Warn("session queue full; dropping EDITED")
		}
	}
}

// ViewCacheHits reports how many VIEW requests were answered from cache.
func (s *Server) ViewCacheHits() uint64 { return s.views.hits() }

// SessionCount returns the number of connected sessions across all maps.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, set := range s.sessions {
		n += len(set)
	}
	return n
}

func ack(reqID, ackFor string, accepted bool, code, message string, rev uint64) protocol.AckMsg {
	return protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		AckFor:          ackFor,
		Accepted:        accepted,
		Code:            code,
		Message:         message,
		Revision:        rev,
	}
}

func errorMsg(code, message string) protocol.ErrorMsg {
	return protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         message,
	}
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
