package protocol

// HELLO (client -> server). An empty MapID with a Name creates a new map.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	MapID           string `json:"map_id,omitempty"`
	Name            string `json:"name,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	SessionID       string    `json:"session_id"`
	MapID           string    `json:"map_id"`
	Name            string    `json:"name"`
	Revision        uint64    `json:"revision"`
	ChunkSize       [2]int    `json:"chunk_size"`
	Bounds          *[4]int32 `json:"bounds"`
}

// VIEW (client -> server). A nil Rect asks for the whole map.
type ViewMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	ReqID           string    `json:"req_id"`
	Rect            *[4]int32 `json:"rect,omitempty"`
}

// TILES (server -> client), the answer to VIEW.
type TilesMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	ReqID           string    `json:"req_id"`
	MapID           string    `json:"map_id"`
	Revision        uint64    `json:"revision"`
	Rect            *[4]int32 `json:"rect"`
	Tiles           []Tile    `json:"tiles"`
}

// PAINT (client -> server). A tile with a null handle erases the cell.
type PaintMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Tiles           []Tile `json:"tiles"`
}

// UNDO / REDO (client -> server)
type HistoryMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Revision        uint64 `json:"revision"`
	Changed         int    `json:"changed,omitempty"`
	CanUndo         bool   `json:"can_undo"`
	CanRedo         bool   `json:"can_redo"`
}

// EDITED (server -> client) tells other sessions on the same map that
// Bounds changed at Revision.
type EditedMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	MapID           string    `json:"map_id"`
	Revision        uint64    `json:"revision"`
	Action          string    `json:"action"`
	Bounds          *[4]int32 `json:"bounds,omitempty"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
