package tilemap

import (
	"fmt"
	"iter"
)

// Vec2 is a tile coordinate on the unbounded integer plane.
type Vec2 struct {
	X int32
	Y int32
}

func V(x, y int32) Vec2 { return Vec2{X: x, Y: y} }

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }

// Less orders positions top row first, then left to right.
func (v Vec2) Less(o Vec2) bool {
	if v.Y != o.Y {
		return v.Y > o.Y
	}
	return v.X < o.X
}

func minVec(a, b Vec2) Vec2 { return Vec2{X: min(a.X, b.X), Y: min(a.Y, b.Y)} }
func maxVec(a, b Vec2) Vec2 { return Vec2{X: max(a.X, b.X), Y: max(a.Y, b.Y)} }

// TileRect is a WxH block of cells with its origin at the left-bottom corner.
// The y axis points up. Position+Size is outside the rect: the right-top cell
// is Position+Size-(1,1).
type TileRect struct {
	Position Vec2
	Size     Vec2
}

func NewTileRect(x, y, w, h int32) TileRect {
	return TileRect{Position: Vec2{X: x, Y: y}, Size: Vec2{X: w, Y: h}}
}

// RectFromPoints returns the smallest rect containing both cells.
func RectFromPoints(p0, p1 Vec2) TileRect {
	lo := minVec(p0, p1)
	hi := maxVec(p0, p1)
	return TileRect{Position: lo, Size: hi.Sub(lo).Add(Vec2{X: 1, Y: 1})}
}

func (r TileRect) X() int32 { return r.Position.X }
func (r TileRect) Y() int32 { return r.Position.Y }
func (r TileRect) W() int32 { return r.Size.X }
func (r TileRect) H() int32 { return r.Size.Y }

func (r TileRect) LeftBottom() Vec2 { return r.Position }
func (r TileRect) RightTop() Vec2 {
	return Vec2{X: r.Position.X + r.Size.X - 1, Y: r.Position.Y + r.Size.Y - 1}
}
func (r TileRect) LeftTop() Vec2     { return Vec2{X: r.Position.X, Y: r.Position.Y + r.Size.Y - 1} }
func (r TileRect) RightBottom() Vec2 { return Vec2{X: r.Position.X + r.Size.X - 1, Y: r.Position.Y} }

// Contains and Intersects compare in int64 so rects that reach
// math.MaxInt32 do not wrap.
func (r TileRect) Contains(p Vec2) bool {
	return inSpan(p.X, r.Position.X, r.Size.X) && inSpan(p.Y, r.Position.Y, r.Size.Y)
}

func (r TileRect) Intersects(o TileRect) bool {
	return spansOverlap(r.Position.X, r.Size.X, o.Position.X, o.Size.X) &&
		spansOverlap(r.Position.Y, r.Size.Y, o.Position.Y, o.Size.Y)
}

func inSpan(v, lo, size int32) bool {
	return v >= lo && int64(v) < int64(lo)+int64(size)
}

func spansOverlap(a, aSize, b, bSize int32) bool {
	return int64(b) < int64(a)+int64(aSize) && int64(a) < int64(b)+int64(bSize)
}

// Push grows the rect so it contains p.
func (r *TileRect) Push(p Vec2) {
	*r = RectFromPoints(minVec(p, r.LeftBottom()), maxVec(p, r.RightTop()))
}

func (r *TileRect) ExtendToContain(o TileRect) {
	*r = RectFromPoints(minVec(r.LeftBottom(), o.LeftBottom()), maxVec(r.RightTop(), o.RightTop()))
}

func (r TileRect) Inflate(dw, dh int32) TileRect {
	return TileRect{
		Position: Vec2{X: r.Position.X - dw, Y: r.Position.Y - dh},
		Size:     Vec2{X: r.Size.X + 2*dw, Y: r.Size.Y + 2*dh},
	}
}

// Deflate shrinks the rect on every side; the result is None when nothing is left.
func (r TileRect) Deflate(dw, dh int32) OptionTileRect {
	if r.Size.X <= 2*dw || r.Size.Y <= 2*dh {
		return None
	}
	return Some(TileRect{
		Position: Vec2{X: r.Position.X + dw, Y: r.Position.Y + dh},
		Size:     Vec2{X: r.Size.X - 2*dw, Y: r.Size.Y - 2*dh},
	})
}

// ClipBy returns the intersection of r and o.
func (r TileRect) ClipBy(o TileRect) OptionTileRect {
	if !r.Intersects(o) {
		return None
	}
	return Some(RectFromPoints(maxVec(r.LeftBottom(), o.LeftBottom()), minVec(r.RightTop(), o.RightTop())))
}

// Cells yields every cell of the rect, bottom row first, x fastest.
func (r TileRect) Cells() iter.Seq[Vec2] {
	return func(yield func(Vec2) bool) {
		for y := int32(0); y < r.Size.Y; y++ {
			for x := int32(0); x < r.Size.X; x++ {
				if !yield(r.Position.Add(Vec2{X: x, Y: y})) {
					return
				}
			}
		}
	}
}

// OptionTileRect is a TileRect that may hold nothing.
type OptionTileRect struct {
	rect TileRect
	ok   bool
}

var None = OptionTileRect{}

func Some(r TileRect) OptionTileRect { return OptionTileRect{rect: r, ok: true} }

func (o OptionTileRect) IsNone() bool               { return !o.ok }
func (o OptionTileRect) Rect() (TileRect, bool)     { return o.rect, o.ok }
func (o OptionTileRect) Contains(p Vec2) bool       { return o.ok && o.rect.Contains(p) }
func (o OptionTileRect) Intersects(r TileRect) bool { return o.ok && o.rect.Intersects(r) }

// W and H are zero for None.
func (o OptionTileRect) W() int32 {
	if !o.ok {
		return 0
	}
	return o.rect.Size.X
}

func (o OptionTileRect) H() int32 {
	if !o.ok {
		return 0
	}
	return o.rect.Size.Y
}

func (o *OptionTileRect) Push(p Vec2) {
	if !o.ok {
		*o = Some(NewTileRect(p.X, p.Y, 1, 1))
		return
	}
	o.rect.Push(p)
}

func (o *OptionTileRect) ExtendToContain(r TileRect) {
	if !o.ok {
		*o = Some(r)
		return
	}
	o.rect.ExtendToContain(r)
}

func (o OptionTileRect) Cells() iter.Seq[Vec2] {
	if !o.ok {
		return func(func(Vec2) bool) {}
	}
	return o.rect.Cells()
}

func (o OptionTileRect) String() string {
	if !o.ok {
		return "None"
	}
	return o.rect.String()
}

func (r TileRect) String() string {
	return fmt.Sprintf("[%d,%d %dx%d]", r.Position.X, r.Position.Y, r.Size.X, r.Size.Y)
}
