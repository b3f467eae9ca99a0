package tilemap

import (
	"math"
	"sort"
	"testing"
)

func h(a, b, c, d int16) Handle { return NewHandle(a, b, c, d) }

func sortedTiles(seq func(func(Vec2, Handle) bool)) []TileUpdate {
	var out []TileUpdate
	seq(func(p Vec2, h Handle) bool {
		out = append(out, TileUpdate{Pos: p, Handle: h})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Pos.Less(out[j].Pos) })
	return out
}

func sampleTiles() []TileUpdate {
	return []TileUpdate{
		{Pos: V(0, 0), Handle: h(1, 2, 3, 4)},
		{Pos: V(-1, -2), Handle: h(1, 2, 3, 0)},
		{Pos: V(16, 16), Handle: h(1, 2, 3, 5)},
		{Pos: V(-1, -1), Handle: h(1, 2, 3, 6)},
		{Pos: V(-17, 0), Handle: h(1, 2, 3, 7)},
	}
}

func TestChunkPosition(t *testing.T) {
	cases := []struct {
		in, origin, local Vec2
	}{
		{V(16, 16), V(16, 16), V(0, 0)},
		{V(0, 0), V(0, 0), V(0, 0)},
		{V(-5, 5), V(-16, 0), V(11, 5)},
		{V(-16, 5), V(-16, 0), V(0, 5)},
		{V(-17, 5), V(-32, 0), V(15, 5)},
		{V(-1, -1), V(-16, -16), V(15, 15)},
		{V(-1, -17), V(-16, -32), V(15, 15)},
	}
	for _, c := range cases {
		origin, local := ChunkPosition(c.in)
		if origin != c.origin || local != c.local {
			t.Fatalf("ChunkPosition(%v) = %v,%v want %v,%v", c.in, origin, local, c.origin, c.local)
		}
	}
}

func TestChunkPosition_OriginAlignedAndLocalInRange(t *testing.T) {
	for x := int32(-70); x <= 70; x += 3 {
		for y := int32(-70); y <= 70; y += 7 {
			origin, local := ChunkPosition(V(x, y))
			if origin.X%16 != 0 || origin.Y%16 != 0 {
				t.Fatalf("origin %v of (%d,%d) not a multiple of 16", origin, x, y)
			}
			if local.X < 0 || local.X >= 16 || local.Y < 0 || local.Y >= 16 {
				t.Fatalf("local %v of (%d,%d) out of range", local, x, y)
			}
			if origin.Add(local) != V(x, y) {
				t.Fatalf("origin+local != position for (%d,%d)", x, y)
			}
		}
	}
}

func TestSetGet(t *testing.T) {
	d := NewData()
	for _, tile := range sampleTiles() {
		d.Set(tile.Pos, tile.Handle)
	}
	for _, tile := range sampleTiles() {
		got, ok := d.Get(tile.Pos)
		if !ok || got != tile.Handle {
			t.Fatalf("Get(%v) = %v,%v want %v", tile.Pos, got, ok, tile.Handle)
		}
	}
	if _, ok := d.Get(V(100, 100)); ok {
		t.Fatalf("expected no tile at (100,100)")
	}
	if d.ChunkCount() != 4 {
		t.Fatalf("Get must not create chunks: got %d chunks", d.ChunkCount())
	}
}

func TestZeroHandleIsATile(t *testing.T) {
	d := NewData()
	d.Set(V(3, 3), Handle{})
	if got, ok := d.Get(V(3, 3)); !ok || got != (Handle{}) {
		t.Fatalf("zero handle not stored: %v,%v", got, ok)
	}
}

func TestRemove(t *testing.T) {
	d := NewData()
	d.Remove(V(5, 5))
	if d.ChunkCount() != 0 {
		t.Fatalf("Remove created a chunk")
	}
	d.Set(V(5, 5), h(1, 1, 1, 1))
	d.Remove(V(5, 5))
	d.Remove(V(5, 5))
	if _, ok := d.Get(V(5, 5)); ok {
		t.Fatalf("tile still present after Remove")
	}
	if d.ChunkCount() != 1 {
		t.Fatalf("Remove must not drop the chunk, got %d chunks", d.ChunkCount())
	}
}

func TestReplace(t *testing.T) {
	d := NewData()
	if prev := d.Replace(V(1, 1), Empty); !prev.IsEmpty() {
		t.Fatalf("expected Empty from fresh map, got %v", prev)
	}
	if d.ChunkCount() != 0 {
		t.Fatalf("Replace with Empty created a chunk")
	}
	h1, h2 := h(0, 0, 1, 1), h(0, 0, 2, 2)
	if prev := d.Replace(V(1, 1), h1); !prev.IsEmpty() {
		t.Fatalf("expected Empty, got %v", prev)
	}
	if prev := d.Replace(V(1, 1), h2); prev != h1 {
		t.Fatalf("expected %v, got %v", h1, prev)
	}
	if prev := d.Replace(V(1, 1), Empty); prev != h2 {
		t.Fatalf("expected %v, got %v", h2, prev)
	}
	if _, ok := d.Get(V(1, 1)); ok {
		t.Fatalf("tile still present after replace with Empty")
	}
}

func TestSwapTilesIsSelfInverse(t *testing.T) {
	d := NewData()
	for _, tile := range sampleTiles() {
		d.Set(tile.Pos, tile.Handle)
	}
	before := d.Clone()

	update := TilesUpdate{
		{Pos: V(0, 0), Handle: h(9, 9, 9, 9)},
		{Pos: V(-1, -1), Handle: Empty},
		{Pos: V(40, -40), Handle: h(7, 7, 7, 7)},
		{Pos: V(200, 200), Handle: Empty},
	}
	d.SwapTiles(update)

	if got, _ := d.Get(V(0, 0)); got != h(9, 9, 9, 9) {
		t.Fatalf("paint not applied at (0,0): %v", got)
	}
	if _, ok := d.Get(V(-1, -1)); ok {
		t.Fatalf("erase not applied at (-1,-1)")
	}
	if update[0].Handle != h(1, 2, 3, 4) || update[1].Handle != h(1, 2, 3, 6) {
		t.Fatalf("update does not hold the previous handles: %v", update)
	}
	if !update[2].Handle.IsEmpty() || !update[3].Handle.IsEmpty() {
		t.Fatalf("expected Empty for previously vacant positions: %v", update)
	}

	d.SwapTiles(update)
	if !d.Equal(before) {
		t.Fatalf("second swap did not restore the map")
	}
	if update[0].Handle != h(9, 9, 9, 9) || update[2].Handle != h(7, 7, 7, 7) {
		t.Fatalf("second swap did not restore the update: %v", update)
	}
}

func TestCreateChunks(t *testing.T) {
	d := NewData()
	want := map[Vec2]bool{}
	for _, tile := range sampleTiles() {
		d.Set(tile.Pos, tile.Handle)
		origin, _ := ChunkPosition(tile.Pos)
		want[origin] = true
	}
	got := d.ChunkOrigins()
	if len(got) != len(want) {
		t.Fatalf("got %d chunks %v, want %d", len(got), got, len(want))
	}
	for _, origin := range got {
		if !want[origin] {
			t.Fatalf("unexpected chunk %v", origin)
		}
	}
}

func TestIterFullChunk(t *testing.T) {
	d := NewData()
	required := map[Vec2]bool{}
	for x := int32(0); x < ChunkWidth; x++ {
		for y := int32(0); y < ChunkHeight; y++ {
			d.Set(V(x, y), h(0, 0, 0, 0))
			required[V(x, y)] = true
		}
	}
	count := 0
	for p := range d.All() {
		if !required[p] {
			t.Fatalf("unexpected or repeated position %v", p)
		}
		delete(required, p)
		count++
	}
	if count != ChunkArea || len(required) != 0 {
		t.Fatalf("iterated %d positions, %d missing", count, len(required))
	}
}

func TestIterMatchesInsertedTiles(t *testing.T) {
	d := NewData()
	want := sampleTiles()
	for _, tile := range want {
		d.Set(tile.Pos, tile.Handle)
	}
	sort.Slice(want, func(i, j int) bool { return want[i].Pos.Less(want[j].Pos) })

	got := sortedTiles(d.All())
	if len(got) != len(want) {
		t.Fatalf("got %d tiles want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tile %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestIterIsRestartable(t *testing.T) {
	d := NewData()
	for _, tile := range sampleTiles() {
		d.Set(tile.Pos, tile.Handle)
	}
	seq := d.All()
	first := sortedTiles(seq)
	second := sortedTiles(seq)
	if len(first) != 5 || len(second) != 5 {
		t.Fatalf("expected 5 tiles on both passes, got %d and %d", len(first), len(second))
	}
}

func TestIteratorNext(t *testing.T) {
	d := NewData()
	d.Set(V(-3, 4), h(1, 1, 1, 1))
	d.Set(V(4, -3), h(2, 2, 2, 2))
	d.Remove(V(4, -3))

	it := d.Iter()
	p, got, ok := it.Next()
	if !ok || p != V(-3, 4) || got != h(1, 1, 1, 1) {
		t.Fatalf("Next = %v,%v,%v", p, got, ok)
	}
	if _, _, ok := it.Next(); ok {
		t.Fatalf("expected exhausted iterator")
	}
	if _, _, ok := it.Next(); ok {
		t.Fatalf("exhausted iterator must stay exhausted")
	}
}

func TestShrinkToFit(t *testing.T) {
	d := NewData()
	for x := int32(0); x < ChunkWidth; x++ {
		for y := int32(0); y < ChunkHeight; y++ {
			d.Set(V(x, y), h(1, 0, int16(x), int16(y)))
		}
	}
	d.Set(V(-1, 0), h(5, 5, 5, 5))
	d.Set(V(-2, 0), h(5, 5, 5, 5))
	d.Remove(V(-2, 0))

	for x := int32(0); x < ChunkWidth; x++ {
		for y := int32(0); y < ChunkHeight; y++ {
			d.Remove(V(x, y))
		}
	}
	if d.ChunkCount() != 2 {
		t.Fatalf("chunks must survive removal until shrink, got %d", d.ChunkCount())
	}
	d.ShrinkToFit()
	d.ShrinkToFit()
	if d.ChunkCount() != 1 || d.Chunk(V(-16, 0)) == nil {
		t.Fatalf("expected only chunk (-16,0), got %v", d.ChunkOrigins())
	}

	empty := NewData()
	empty.ShrinkToFit()
	if empty.ChunkCount() != 0 {
		t.Fatalf("shrink on empty map created chunks")
	}
}

func TestBoundedIter(t *testing.T) {
	d := NewData()
	for _, tile := range sampleTiles() {
		d.Set(tile.Pos, tile.Handle)
	}

	bounds := Some(NewTileRect(0, 0, 4, 4))
	for p := range d.Bounded(bounds) {
		origin, _ := ChunkPosition(p)
		if origin != V(0, 0) {
			t.Fatalf("bounded iteration reached chunk %v", origin)
		}
	}

	// A rect touching one cell of chunk (16,16) pulls in the whole chunk.
	touching := Some(NewTileRect(10, 10, 7, 7))
	got := sortedTiles(d.Bounded(touching))
	if len(got) != 2 {
		t.Fatalf("expected tiles from chunks (0,0) and (16,16), got %v", got)
	}

	all := sortedTiles(d.All())
	unbounded := sortedTiles(d.Bounded(None))
	if len(all) != len(unbounded) {
		t.Fatalf("unbounded iteration differs: %d vs %d", len(all), len(unbounded))
	}
	for i := range all {
		if all[i] != unbounded[i] {
			t.Fatalf("unbounded tile %d differs: %v vs %v", i, all[i], unbounded[i])
		}
	}
}

func TestBoundingRect(t *testing.T) {
	d := NewData()
	if !d.BoundingRect().IsNone() {
		t.Fatalf("expected None for empty map")
	}
	for _, tile := range sampleTiles() {
		d.Set(tile.Pos, tile.Handle)
	}
	r, ok := d.BoundingRect().Rect()
	if !ok {
		t.Fatalf("expected a bounding rect")
	}
	if r != RectFromPoints(V(-17, -2), V(16, 16)) {
		t.Fatalf("bounding rect = %v", r)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	d := NewData()
	d.Set(V(1, 1), h(1, 1, 1, 1))
	c := d.Clone()
	c.Set(V(1, 1), h(2, 2, 2, 2))
	if got, _ := d.Get(V(1, 1)); got != h(1, 1, 1, 1) {
		t.Fatalf("clone shares chunks with the original")
	}
}

func TestZeroValueData(t *testing.T) {
	var d Data
	if _, ok := d.Get(V(0, 0)); ok {
		t.Fatalf("zero Data reported a tile")
	}
	d.Set(V(0, 0), h(1, 1, 1, 1))
	if d.Len() != 1 {
		t.Fatalf("zero Data did not accept a write")
	}
}

func TestBoundedIterAtInt32Edge(t *testing.T) {
	d := NewData()
	p := V(math.MaxInt32-7, 0)
	d.Set(p, h(1, 2, 3, 4))
	d.Set(V(math.MinInt32, 0), h(5, 6, 7, 8))

	got := sortedTiles(d.Bounded(Some(NewTileRect(p.X, p.Y, 1, 1))))
	if len(got) != 1 || got[0].Pos != p {
		t.Fatalf("bounded tiles = %v", got)
	}
}
