package snapshot

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"tilemap.ai/internal/tilemap"
)

const Version = 1

var magic = [4]byte{'T', 'M', 'D', '1'}

// ErrBadMagic means the body of a snapshot is not tile map data.
var ErrBadMagic = errors.New("snapshot: bad magic")

// maxBlobHandles bounds the per-chunk allocation when reading untrusted files.
// Anything above ChunkArea is rejected by the chunk decoder anyway.
const maxBlobHandles = 4 * tilemap.ChunkArea

// Header is the first line of a snapshot. Revision is the edit revision of
// the document when it was saved; Bounds is x,y,w,h or null for an empty map.
type Header struct {
	Version  int       `json:"version"`
	MapID    string    `json:"map_id"`
	Name     string    `json:"name,omitempty"`
	Revision uint64    `json:"revision"`
	Chunks   int       `json:"chunks"`
	Tiles    int       `json:"tiles"`
	Bounds   *[4]int32 `json:"bounds"`
}

// HeaderFor describes data. It does not shrink data first.
func HeaderFor(mapID, name string, revision uint64, data *tilemap.Data) Header {
	hdr := Header{
		Version:  Version,
		MapID:    mapID,
		Name:     name,
		Revision: revision,
		Chunks:   data.ChunkCount(),
		Tiles:    data.Len(),
	}
	if r, ok := data.BoundingRect().Rect(); ok {
		hdr.Bounds = &[4]int32{r.X(), r.Y(), r.W(), r.H()}
	}
	return hdr
}

type Options struct {
	Level zstd.EncoderLevel
}

// ParseLevel maps a config compression name to a zstd level.
func ParseLevel(s string) (zstd.EncoderLevel, error) {
	switch s {
	case "", "default":
		return zstd.SpeedDefault, nil
	case "fastest":
		return zstd.SpeedFastest, nil
	case "better":
		return zstd.SpeedBetterCompression, nil
	case "best":
		return zstd.SpeedBestCompression, nil
	}
	return zstd.SpeedDefault, fmt.Errorf("unknown compression level %q", s)
}

// WriteSnapshot stores data at path. Empty chunks are dropped from data
// before writing so files only carry occupied chunks.
func WriteSnapshot(path string, hdr Header, data *tilemap.Data, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data.ShrinkToFit()
	hdr.Version = Version
	hdr.Chunks = data.ChunkCount()
	hdr.Tiles = data.Len()

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := writeTo(f, hdr, data, opts); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeTo(w io.Writer, hdr Header, data *tilemap.Data, opts Options) error {
	level := opts.Level
	if level == 0 {
		level = zstd.SpeedDefault
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(level))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(hdr)
	if err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := Encode(bw, data); err != nil {
		_ = enc.Close()
		return fmt.Errorf("encode tiles: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (Header, *tilemap.Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer f.Close()
	return readFrom(f)
}

// ReadHeader reads only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var hdr Header
	f, err := os.Open(path)
	if err != nil {
		return hdr, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return hdr, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return hdr, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &hdr); err != nil {
		return hdr, fmt.Errorf("%w: header: %v", tilemap.ErrDataFormat, err)
	}
	return hdr, nil
}

func readFrom(r io.Reader) (Header, *tilemap.Data, error) {
	var hdr Header
	dec, err := zstd.NewReader(r)
	if err != nil {
		return hdr, nil, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return hdr, nil, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &hdr); err != nil {
		return hdr, nil, fmt.Errorf("%w: header: %v", tilemap.ErrDataFormat, err)
	}
	if hdr.Version != Version {
		return hdr, nil, fmt.Errorf("%w: unsupported snapshot version %d", tilemap.ErrDataFormat, hdr.Version)
	}
	data, err := Decode(br)
	if err != nil {
		return hdr, nil, fmt.Errorf("decode tiles: %w", err)
	}
	return hdr, data, nil
}

// Encode writes the binary body: magic, chunk count, then per chunk its
// origin, its handle count and the chunk blob. Chunks are written in
// ChunkOrigins order so equal maps encode to equal bytes.
func Encode(w io.Writer, data *tilemap.Data) error {
	origins := data.ChunkOrigins()
	var hdr [8]byte
	copy(hdr[:4], magic[:])
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(origins)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	buf := make([]byte, 0, 12+tilemap.ChunkArea*tilemap.HandleSize)
	for _, origin := range origins {
		buf = buf[:0]
		buf = binary.LittleEndian.AppendUint32(buf, uint32(origin.X))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(origin.Y))
		buf = binary.LittleEndian.AppendUint32(buf, tilemap.ChunkArea)
		buf, _ = data.Chunk(origin).AppendBinary(buf)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads a body written by Encode.
func Decode(r io.Reader) (*tilemap.Data, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", tilemap.ErrDataFormat, err)
	}
	if [4]byte(hdr[:4]) != magic {
		return nil, ErrBadMagic
	}
	count := binary.LittleEndian.Uint32(hdr[4:])
	data := tilemap.NewData()
	var entry [12]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, entry[:]); err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %v", tilemap.ErrDataFormat, i, err)
		}
		origin := tilemap.V(
			int32(binary.LittleEndian.Uint32(entry[0:])),
			int32(binary.LittleEndian.Uint32(entry[4:])),
		)
		n := binary.LittleEndian.Uint32(entry[8:])
		if n > maxBlobHandles {
			return nil, fmt.Errorf("%w: chunk %v claims %d handles", tilemap.ErrDataFormat, origin, n)
		}
		if o, _ := tilemap.ChunkPosition(origin); o != origin {
			return nil, fmt.Errorf("%w: chunk origin %v is not aligned", tilemap.ErrDataFormat, origin)
		}
		if data.Chunk(origin) != nil {
			return nil, fmt.Errorf("%w: duplicate chunk %v", tilemap.ErrDataFormat, origin)
		}
		blob := make([]byte, int(n)*tilemap.HandleSize)
		if _, err := io.ReadFull(r, blob); err != nil {
			return nil, fmt.Errorf("%w: chunk %v: %v", tilemap.ErrDataFormat, origin, err)
		}
		ch := tilemap.NewChunk()
		if err := ch.UnmarshalBinary(blob); err != nil {
			return nil, fmt.Errorf("chunk %v: %w", origin, err)
		}
		data.PutChunk(origin, ch)
	}
	return data, nil
}
