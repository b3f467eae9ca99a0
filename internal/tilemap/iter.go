package tilemap

import "iter"

// Iterator walks a Data chunk by chunk: an outer cursor over the chunk
// origins accepted by a predicate, and an inner ChunkIterator over the
// current chunk. Nothing is materialized beyond the list of origins.
//
// Mutating the Data while iterating is not supported.
type Iterator struct {
	data    *Data
	accept  func(origin Vec2) bool
	origins []Vec2
	next    int
	started bool
	chunk   ChunkIterator
}

func (d *Data) newIterator(accept func(Vec2) bool) *Iterator {
	return &Iterator{data: d, accept: accept}
}

func (it *Iterator) start() {
	it.started = true
	it.origins = make([]Vec2, 0, len(it.data.content))
	for origin := range it.data.content {
		it.origins = append(it.origins, origin)
	}
}

func (it *Iterator) nextChunk() bool {
	for it.next < len(it.origins) {
		origin := it.origins[it.next]
		it.next++
		ch := it.data.content[origin]
		if ch == nil || !it.accept(origin) {
			continue
		}
		it.chunk = ch.Iter(origin)
		return true
	}
	return false
}

// Next returns the next occupied position and its handle.
func (it *Iterator) Next() (Vec2, Handle, bool) {
	if !it.started {
		it.start()
	}
	for {
		if p, h, ok := it.chunk.Next(); ok {
			return p, h, true
		}
		if !it.nextChunk() {
			return Vec2{}, Empty, false
		}
	}
}

// All adapts the remaining items to a range-over-func sequence.
func (it *Iterator) All() iter.Seq2[Vec2, Handle] {
	return func(yield func(Vec2, Handle) bool) {
		for {
			p, h, ok := it.Next()
			if !ok || !yield(p, h) {
				return
			}
		}
	}
}
