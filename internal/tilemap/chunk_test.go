package tilemap

import (
	"errors"
	"testing"
)

func TestNewChunkIsEmpty(t *testing.T) {
	c := NewChunk()
	if !c.IsEmpty() {
		t.Fatalf("new chunk not empty")
	}
	c.Set(V(15, 15), h(0, 0, 0, 0))
	if c.IsEmpty() {
		t.Fatalf("chunk with a tile reported empty")
	}
}

func TestChunkIndexOutOfRangePanics(t *testing.T) {
	for _, local := range []Vec2{V(-1, 0), V(16, 0), V(0, -1), V(0, 16)} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic for local %v", local)
				}
			}()
			NewChunk().At(local)
		}()
	}
}

func TestChunkIterRowMajorWithOffset(t *testing.T) {
	c := NewChunk()
	c.Set(V(3, 1), h(0, 0, 3, 1))
	c.Set(V(0, 2), h(0, 0, 0, 2))
	c.Set(V(15, 0), h(0, 0, 15, 0))

	it := c.Iter(V(-16, 32))
	want := []Vec2{V(-1, 32), V(-13, 33), V(-16, 34)}
	for i, w := range want {
		p, _, ok := it.Next()
		if !ok || p != w {
			t.Fatalf("item %d: got %v,%v want %v", i, p, ok, w)
		}
	}
	if _, _, ok := it.Next(); ok {
		t.Fatalf("expected end of chunk")
	}
}

func TestChunkBinaryRoundTrip(t *testing.T) {
	c := NewChunk()
	c.Set(V(0, 0), h(-1, 2, -3, 4))
	c.Set(V(15, 15), h(32767, -32768, 0, 1))

	b, err := c.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(b) != ChunkArea*HandleSize {
		t.Fatalf("blob is %d bytes, want %d", len(b), ChunkArea*HandleSize)
	}
	// Empty is four int16 minimums: 0x8000 little-endian.
	if b[8] != 0x00 || b[9] != 0x80 {
		t.Fatalf("unexpected encoding of Empty: % x", b[8:16])
	}

	var got Chunk
	if err := got.UnmarshalBinary(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != *c {
		t.Fatalf("round trip mismatch")
	}
}

func TestChunkUnmarshalRejectsWrongLength(t *testing.T) {
	good, _ := NewChunk().MarshalBinary()
	for _, b := range [][]byte{
		nil,
		good[:len(good)-HandleSize],
		append(append([]byte{}, good...), good[:HandleSize]...),
		good[:len(good)-3],
	} {
		c := NewChunk()
		c.Set(V(1, 1), h(1, 1, 1, 1))
		err := c.UnmarshalBinary(b)
		if !errors.Is(err, ErrDataFormat) {
			t.Fatalf("len %d: expected ErrDataFormat, got %v", len(b), err)
		}
		if c.At(V(1, 1)) != h(1, 1, 1, 1) {
			t.Fatalf("failed decode modified the chunk")
		}
	}
}
