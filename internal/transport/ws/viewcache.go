package ws

import (
	"strconv"
	"strings"

	"github.com/dgraph-io/ristretto/v2"

	"tilemap.ai/internal/protocol"
)

// Rough encoded size of one tile, used as cache cost.
const tileCost = 40

// viewCache memoises VIEW answers. Keys carry the map revision, so an edit
// makes every older entry unreachable and they age out by cost.
type viewCache struct {
	c *ristretto.Cache[string, []protocol.Tile]
}

func newViewCache(maxCost int64) (*viewCache, error) {
	if maxCost <= 0 {
		return nil, nil
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []protocol.Tile]{
		NumCounters: 100000,
		MaxCost:     maxCost,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &viewCache{c: c}, nil
}

func viewKey(mapID string, rev uint64, rect *[4]int32) string {
	var b strings.Builder
	b.WriteString(mapID)
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(rev, 10))
	b.WriteByte('|')
	if rect == nil {
		b.WriteString("*")
	} else {
		for i, v := range rect {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatInt(int64(v), 10))
		}
	}
	return b.String()
}

func (v *viewCache) get(key string) ([]protocol.Tile, bool) {
	if v == nil {
		return nil, false
	}
	return v.c.Get(key)
}

func (v *viewCache) set(key string, tiles []protocol.Tile) {
	if v == nil {
		return
	}
	v.c.Set(key, tiles, int64(len(tiles))*tileCost+1)
	v.c.Wait()
}

func (v *viewCache) hits() uint64 {
	if v == nil {
		return 0
	}
	return v.c.Metrics.Hits()
}

func (v *viewCache) close() {
	if v != nil {
		v.c.Close()
	}
}
