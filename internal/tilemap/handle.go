package tilemap

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PalettePosition is a page or tile position inside a tile set, packed into 16 bits per axis.
type PalettePosition struct {
	X int16
	Y int16
}

// Handle identifies one tile definition: which page of the tile set and which
// cell inside that page. It is 8 bytes and compared by value.
//
// The zero Handle is a real tile (page 0,0 cell 0,0); absence is Empty.
type Handle struct {
	Page PalettePosition
	Tile PalettePosition
}

// Empty marks a slot with no tile.
var Empty = Handle{
	Page: PalettePosition{X: math.MinInt16, Y: math.MinInt16},
	Tile: PalettePosition{X: math.MinInt16, Y: math.MinInt16},
}

func NewHandle(pageX, pageY, tileX, tileY int16) Handle {
	return Handle{
		Page: PalettePosition{X: pageX, Y: pageY},
		Tile: PalettePosition{X: tileX, Y: tileY},
	}
}

// TryNewHandle builds a handle from 32-bit page and tile positions.
// It fails when any coordinate does not fit in an int16.
func TryNewHandle(page, tile Vec2) (Handle, bool) {
	pp, ok := toPalette(page)
	if !ok {
		return Empty, false
	}
	tp, ok := toPalette(tile)
	if !ok {
		return Empty, false
	}
	return Handle{Page: pp, Tile: tp}, true
}

func toPalette(v Vec2) (PalettePosition, bool) {
	if v.X < math.MinInt16 || v.X > math.MaxInt16 || v.Y < math.MinInt16 || v.Y > math.MaxInt16 {
		return PalettePosition{}, false
	}
	return PalettePosition{X: int16(v.X), Y: int16(v.Y)}, true
}

func (h Handle) IsEmpty() bool { return h == Empty }

func (h Handle) PageVec() Vec2 { return Vec2{X: int32(h.Page.X), Y: int32(h.Page.Y)} }
func (h Handle) TileVec() Vec2 { return Vec2{X: int32(h.Tile.X), Y: int32(h.Tile.Y)} }

func (h Handle) String() string {
	if h.IsEmpty() {
		return "Empty"
	}
	return fmt.Sprintf("(%d,%d):(%d,%d)", h.Page.X, h.Page.Y, h.Tile.X, h.Tile.Y)
}

// Compare orders handles by page (y descending, then x) and then by tile
// (y descending, then x), matching the top-to-bottom, left-to-right layout of
// a palette.
func (h Handle) Compare(o Handle) int {
	if c := cmpDesc(h.Page.Y, o.Page.Y); c != 0 {
		return c
	}
	if c := cmpAsc(h.Page.X, o.Page.X); c != 0 {
		return c
	}
	if c := cmpDesc(h.Tile.Y, o.Tile.Y); c != 0 {
		return c
	}
	return cmpAsc(h.Tile.X, o.Tile.X)
}

func cmpAsc(a, b int16) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpDesc(a, b int16) int { return -cmpAsc(a, b) }

// ParseHandle reads a handle from text. "Empty" (any case) yields Empty;
// otherwise the text must contain exactly four integers, separated by any
// characters other than digits and '-'.
func ParseHandle(s string) (Handle, error) {
	if strings.EqualFold(strings.TrimSpace(s), "empty") {
		return Empty, nil
	}
	words := strings.FieldsFunc(s, func(r rune) bool {
		return r != '-' && (r < '0' || r > '9')
	})
	if len(words) != 4 {
		return Empty, fmt.Errorf("parse handle %q: want 4 numbers, got %d", s, len(words))
	}
	var v [4]int16
	for i, w := range words {
		n, err := strconv.ParseInt(w, 10, 16)
		if err != nil {
			return Empty, fmt.Errorf("parse handle %q: %w", s, err)
		}
		v[i] = int16(n)
	}
	return NewHandle(v[0], v[1], v[2], v[3]), nil
}
