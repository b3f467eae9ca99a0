package tilemap

import (
	"iter"
	"sort"
)

// Data stores the tile handles of a tile map in 16x16 chunks keyed by chunk
// origin. Only chunks that have been written exist; chunks that become fully
// empty stay until ShrinkToFit.
//
// Data is not safe for concurrent use.
type Data struct {
	content map[Vec2]*Chunk
}

func NewData() *Data {
	return &Data{content: map[Vec2]*Chunk{}}
}

func (d *Data) chunks() map[Vec2]*Chunk {
	if d.content == nil {
		d.content = map[Vec2]*Chunk{}
	}
	return d.content
}

// Get returns the handle at p. It reports false when no tile is there.
func (d *Data) Get(p Vec2) (Handle, bool) {
	origin, local := ChunkPosition(p)
	ch, ok := d.content[origin]
	if !ok {
		return Empty, false
	}
	h := ch.At(local)
	if h.IsEmpty() {
		return Empty, false
	}
	return h, true
}

// GetOrEmpty is Get without the flag.
func (d *Data) GetOrEmpty(p Vec2) Handle {
	h, _ := d.Get(p)
	return h
}

func (d *Data) Set(p Vec2, h Handle) {
	origin, local := ChunkPosition(p)
	d.chunkAt(origin).Set(local, h)
}

func (d *Data) chunkAt(origin Vec2) *Chunk {
	chunks := d.chunks()
	ch, ok := chunks[origin]
	if !ok {
		ch = NewChunk()
		chunks[origin] = ch
	}
	return ch
}

// Replace writes h at p and returns what was there before, Empty meaning no
// tile. Writing Empty where no chunk exists is a no-op.
func (d *Data) Replace(p Vec2, h Handle) Handle {
	origin, local := ChunkPosition(p)
	if ch, ok := d.content[origin]; ok {
		prev := ch.At(local)
		ch.Set(local, h)
		return prev
	}
	if h.IsEmpty() {
		return Empty
	}
	d.chunkAt(origin).Set(local, h)
	return Empty
}

func (d *Data) Remove(p Vec2) {
	origin, local := ChunkPosition(p)
	if ch, ok := d.content[origin]; ok {
		ch.Set(local, Empty)
	}
}

// ShrinkToFit drops every chunk that holds no tiles.
func (d *Data) ShrinkToFit() {
	for origin, ch := range d.content {
		if ch.IsEmpty() {
			delete(d.content, origin)
		}
	}
}

// SwapTiles applies update and leaves in it the handles that undo the change:
// calling SwapTiles twice with the same update restores the map.
func (d *Data) SwapTiles(update TilesUpdate) {
	for i := range update {
		update[i].Handle = d.Replace(update[i].Pos, update[i].Handle)
	}
}

// ChunkCount is the number of stored chunks, including empty ones not yet shrunk.
func (d *Data) ChunkCount() int { return len(d.content) }

// Len counts occupied tiles.
func (d *Data) Len() int {
	n := 0
	for _, ch := range d.content {
		for _, h := range ch {
			if !h.IsEmpty() {
				n++
			}
		}
	}
	return n
}

// ChunkOrigins returns the stored chunk origins, top row first, then left to right.
func (d *Data) ChunkOrigins() []Vec2 {
	out := make([]Vec2, 0, len(d.content))
	for origin := range d.content {
		out = append(out, origin)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Chunk returns the stored chunk at origin, or nil.
func (d *Data) Chunk(origin Vec2) *Chunk { return d.content[origin] }

// PutChunk stores ch at origin, replacing any chunk there. Origin must be a
// chunk origin.
func (d *Data) PutChunk(origin Vec2, ch *Chunk) {
	if o, _ := ChunkPosition(origin); o != origin {
		panic("tilemap: PutChunk origin is not chunk aligned")
	}
	d.chunks()[origin] = ch
}

func (d *Data) Clone() *Data {
	out := &Data{content: make(map[Vec2]*Chunk, len(d.content))}
	for origin, ch := range d.content {
		cp := *ch
		out.content[origin] = &cp
	}
	return out
}

// Equal reports whether both maps hold the same tiles. Empty chunks are ignored.
func (d *Data) Equal(o *Data) bool {
	if d.Len() != o.Len() {
		return false
	}
	for p, h := range d.All() {
		if got, ok := o.Get(p); !ok || got != h {
			return false
		}
	}
	return true
}

// Iter returns a fresh iterator over every (position, handle) pair. Chunks
// come in map order; tiles within a chunk in row-major order.
func (d *Data) Iter() *Iterator {
	return d.newIterator(func(Vec2) bool { return true })
}

// BoundedIter is Iter restricted to chunks whose 16x16 area intersects
// bounds. Tiles of an intersecting chunk that lie outside bounds are still
// reported. A None bounds means no restriction.
func (d *Data) BoundedIter(bounds OptionTileRect) *Iterator {
	r, ok := bounds.Rect()
	if !ok {
		return d.Iter()
	}
	return d.newIterator(func(origin Vec2) bool {
		return r.Intersects(NewTileRect(origin.X, origin.Y, ChunkWidth, ChunkHeight))
	})
}

// All ranges over Iter. Each range starts from the beginning.
func (d *Data) All() iter.Seq2[Vec2, Handle] {
	return func(yield func(Vec2, Handle) bool) {
		d.Iter().All()(yield)
	}
}

func (d *Data) Bounded(bounds OptionTileRect) iter.Seq2[Vec2, Handle] {
	return func(yield func(Vec2, Handle) bool) {
		d.BoundedIter(bounds).All()(yield)
	}
}

// BoundingRect is the smallest rect covering every occupied tile, or None.
func (d *Data) BoundingRect() OptionTileRect {
	rect := None
	for p := range d.All() {
		rect.Push(p)
	}
	return rect
}
