package tilemap

// TileUpdate is one entry of a TilesUpdate. An Empty handle erases the tile.
type TileUpdate struct {
	Pos    Vec2
	Handle Handle
}

// TilesUpdate is an ordered batch of tile writes. Data.SwapTiles applies it
// in place and leaves the undo batch behind, so one buffer serves both undo
// and redo. That only holds when every position appears once; call Normalize
// on batches that may repeat a position.
type TilesUpdate []TileUpdate

func (u *TilesUpdate) Set(p Vec2, h Handle) { *u = append(*u, TileUpdate{Pos: p, Handle: h}) }
func (u *TilesUpdate) Erase(p Vec2)         { u.Set(p, Empty) }

// FillRect writes h into every cell of r.
func (u *TilesUpdate) FillRect(r TileRect, h Handle) {
	for p := range r.Cells() {
		u.Set(p, h)
	}
}

// Line writes h along the Bresenham line from start to end, both included.
func (u *TilesUpdate) Line(start, end Vec2, h Handle) {
	x0, y0, x1, y1 := start.X, start.Y, end.X, end.Y
	steep := abs32(y1-y0) > abs32(x1-x0)
	if steep {
		x0, y0 = y0, x0
		x1, y1 = y1, x1
	}
	if x0 > x1 {
		x0, x1 = x1, x0
		y0, y1 = y1, y0
	}
	dx := x1 - x0
	dy := abs32(y1 - y0)
	step := int32(-1)
	if y0 < y1 {
		step = 1
	}
	e := dx / 2
	y := y0
	for x := x0; x <= x1; x++ {
		if steep {
			u.Set(Vec2{X: y, Y: x}, h)
		} else {
			u.Set(Vec2{X: x, Y: y}, h)
		}
		e -= dy
		if e < 0 {
			y += step
			e += dx
		}
	}
}

// Normalize drops repeated positions, keeping the last write for each at the
// place of its first occurrence.
func (u *TilesUpdate) Normalize() {
	last := make(map[Vec2]Handle, len(*u))
	for _, t := range *u {
		last[t.Pos] = t.Handle
	}
	if len(last) == len(*u) {
		return
	}
	out := (*u)[:0]
	for _, t := range *u {
		h, ok := last[t.Pos]
		if !ok {
			continue
		}
		out = append(out, TileUpdate{Pos: t.Pos, Handle: h})
		delete(last, t.Pos)
	}
	*u = out
}

func (u TilesUpdate) Positions() []Vec2 {
	out := make([]Vec2, len(u))
	for i, t := range u {
		out[i] = t.Pos
	}
	return out
}

// Clone copies the batch so the copy can be swapped independently.
func (u TilesUpdate) Clone() TilesUpdate {
	out := make(TilesUpdate, len(u))
	copy(out, u)
	return out
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
