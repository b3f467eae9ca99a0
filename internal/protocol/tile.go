package protocol

import (
	"fmt"

	"tilemap.ai/internal/tilemap"
)

// Tile is one cell on the wire. Handle is [page.x, page.y, tile.x, tile.y];
// nil means the cell is empty.
type Tile struct {
	X      int32     `json:"x"`
	Y      int32     `json:"y"`
	Handle *[4]int16 `json:"handle"`
}

func TileOf(p tilemap.Vec2, h tilemap.Handle) Tile {
	t := Tile{X: p.X, Y: p.Y}
	if !h.IsEmpty() {
		t.Handle = &[4]int16{h.Page.X, h.Page.Y, h.Tile.X, h.Tile.Y}
	}
	return t
}

func (t Tile) Pos() tilemap.Vec2 { return tilemap.V(t.X, t.Y) }

// TileHandle returns the handle carried by t. Spelling out the empty
// sentinel as four minimums is rejected; use null instead.
func (t Tile) TileHandle() (tilemap.Handle, error) {
	if t.Handle == nil {
		return tilemap.Empty, nil
	}
	h := tilemap.NewHandle(t.Handle[0], t.Handle[1], t.Handle[2], t.Handle[3])
	if h.IsEmpty() {
		return h, fmt.Errorf("tile (%d,%d): empty handle must be null", t.X, t.Y)
	}
	return h, nil
}

// ToUpdate converts wire tiles into an update buffer.
func ToUpdate(tiles []Tile) (tilemap.TilesUpdate, error) {
	u := make(tilemap.TilesUpdate, 0, len(tiles))
	for _, t := range tiles {
		h, err := t.TileHandle()
		if err != nil {
			return nil, err
		}
		u.Set(t.Pos(), h)
	}
	return u, nil
}

// CollectTiles drains seq into wire tiles, in iteration order.
func CollectTiles(seq func(yield func(tilemap.Vec2, tilemap.Handle) bool)) []Tile {
	out := []Tile{}
	for p, h := range seq {
		out = append(out, TileOf(p, h))
	}
	return out
}

func RectArray(r tilemap.OptionTileRect) *[4]int32 {
	rect, ok := r.Rect()
	if !ok {
		return nil
	}
	return &[4]int32{rect.X(), rect.Y(), rect.W(), rect.H()}
}

// RectFromArray reads an [x,y,w,h] rect. Nil gives None; a non-positive size
// is an error.
func RectFromArray(a *[4]int32) (tilemap.OptionTileRect, error) {
	if a == nil {
		return tilemap.None, nil
	}
	if a[2] <= 0 || a[3] <= 0 {
		return tilemap.None, fmt.Errorf("rect %v has non-positive size", *a)
	}
	return tilemap.Some(tilemap.NewTileRect(a[0], a[1], a[2], a[3])), nil
}
