package tilemap

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	ChunkWidth  = 16
	ChunkHeight = 16
	ChunkArea   = ChunkWidth * ChunkHeight

	widthBits  = ChunkWidth - 1
	heightBits = ChunkHeight - 1

	// HandleSize is the encoded size of one handle inside a chunk blob.
	HandleSize = 8
)

// ErrDataFormat is returned when persisted tile data has the wrong shape.
var ErrDataFormat = errors.New("tilemap: data format error")

// ChunkPosition splits a tile position into the origin of its chunk and the
// position of the tile inside that chunk. The origin is rounded toward
// negative infinity on both axes, so (-1,-17) lands in chunk (-16,-32) at (15,15).
func ChunkPosition(p Vec2) (origin, local Vec2) {
	origin = Vec2{X: p.X &^ widthBits, Y: p.Y &^ heightBits}
	return origin, p.Sub(origin)
}

// Chunk is a dense 16x16 block of handles, x fastest.
type Chunk [ChunkArea]Handle

func NewChunk() *Chunk {
	c := new(Chunk)
	for i := range c {
		c[i] = Empty
	}
	return c
}

func index(local Vec2) int {
	if local.X < 0 || local.X >= ChunkWidth || local.Y < 0 || local.Y >= ChunkHeight {
		panic(fmt.Sprintf("tilemap: chunk index out of range: (%d,%d)", local.X, local.Y))
	}
	return int(local.X) + int(local.Y)*ChunkWidth
}

func (c *Chunk) At(local Vec2) Handle { return c[index(local)] }

func (c *Chunk) Set(local Vec2, h Handle) { c[index(local)] = h }

func (c *Chunk) IsEmpty() bool {
	for _, h := range c {
		if h != Empty {
			return false
		}
	}
	return true
}

// Iter walks the occupied slots of the chunk in row-major order, reporting
// positions shifted by offset.
func (c *Chunk) Iter(offset Vec2) ChunkIterator {
	return ChunkIterator{chunk: c, offset: offset}
}

// ChunkIterator is a cursor over one chunk. The zero value is exhausted.
type ChunkIterator struct {
	chunk  *Chunk
	offset Vec2
	cursor int
}

func (it *ChunkIterator) Next() (Vec2, Handle, bool) {
	if it.chunk == nil {
		return Vec2{}, Empty, false
	}
	for it.cursor < ChunkArea {
		i := it.cursor
		it.cursor++
		h := it.chunk[i]
		if h.IsEmpty() {
			continue
		}
		local := Vec2{X: int32(i % ChunkWidth), Y: int32(i / ChunkWidth)}
		return local.Add(it.offset), h, true
	}
	return Vec2{}, Empty, false
}

// MarshalBinary encodes the chunk as a flat blob of ChunkArea handles,
// each as four little-endian int16 (page x, page y, tile x, tile y).
func (c *Chunk) MarshalBinary() ([]byte, error) {
	return c.AppendBinary(make([]byte, 0, ChunkArea*HandleSize))
}

func (c *Chunk) AppendBinary(b []byte) ([]byte, error) {
	for _, h := range c {
		b = binary.LittleEndian.AppendUint16(b, uint16(h.Page.X))
		b = binary.LittleEndian.AppendUint16(b, uint16(h.Page.Y))
		b = binary.LittleEndian.AppendUint16(b, uint16(h.Tile.X))
		b = binary.LittleEndian.AppendUint16(b, uint16(h.Tile.Y))
	}
	return b, nil
}

// UnmarshalBinary decodes a blob written by MarshalBinary. The blob must hold
// exactly ChunkArea handles; anything else is ErrDataFormat and leaves c untouched.
func (c *Chunk) UnmarshalBinary(b []byte) error {
	if len(b)%HandleSize != 0 {
		return fmt.Errorf("%w: chunk blob of %d bytes is not a whole number of handles", ErrDataFormat, len(b))
	}
	if n := len(b) / HandleSize; n != ChunkArea {
		return fmt.Errorf("%w: wrong number of handles in a chunk: got %d want %d", ErrDataFormat, n, ChunkArea)
	}
	for i := range c {
		o := i * HandleSize
		c[i] = NewHandle(
			int16(binary.LittleEndian.Uint16(b[o:])),
			int16(binary.LittleEndian.Uint16(b[o+2:])),
			int16(binary.LittleEndian.Uint16(b[o+4:])),
			int16(binary.LittleEndian.Uint16(b[o+6:])),
		)
	}
	return nil
}
