package document

// EditLogger receives one entry per applied edit.
type EditLogger interface {
	WriteEdit(entry EditEntry) error
}

// Index keeps a queryable record of maps, saves and edits. Implementations
// must not block the caller.
type Index interface {
	EditLogger
	RecordMap(info MapInfo)
	RecordSave(info SaveInfo)
}

type EditEntry struct {
	MapID    string       `json:"map_id"`
	Revision uint64       `json:"revision"`
	Actor    string       `json:"actor,omitempty"`
	Action   string       `json:"action"` // PAINT, UNDO, REDO, IMPORT, RESTORE
	Tiles    int          `json:"tiles"`
	Bounds   *[4]int32    `json:"bounds,omitempty"`
	Changes  []TileChange `json:"changes,omitempty"`
	At       string       `json:"at"`
}

// TileChange records one cell of an edit. Handles use their text form, so
// an erased cell has To == "Empty".
type TileChange struct {
	Pos  [2]int32 `json:"pos"`
	From string   `json:"from"`
	To   string   `json:"to"`
}

type MapInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// SaveInfo.ArchivedPath is set when the save first copied the previous
// snapshot into the map's archives.
type SaveInfo struct {
	MapID        string `json:"map_id"`
	Revision     uint64 `json:"revision"`
	Path         string `json:"path"`
	ArchivedPath string `json:"archived_path,omitempty"`
	Chunks       int    `json:"chunks"`
	Tiles        int    `json:"tiles"`
	SavedAt      string `json:"saved_at"`
}
