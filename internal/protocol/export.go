package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tilemap.ai/internal/tilemap"
)

const ExportVersion = 1

// ExportV1 is the JSON interchange form of a whole map.
type ExportV1 struct {
	Version int    `json:"version"`
	MapID   string `json:"map_id"`
	Name    string `json:"name,omitempty"`
	Tiles   []Tile `json:"tiles"`
}

const schemaBase = "https://tilemap.ai/schemas/"

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var (
	schemaOnce sync.Once
	schemas    map[string]*jsonschema.Schema
	schemaErr  error
)

func compileSchemas() {
	schemas = map[string]*jsonschema.Schema{}
	ents, err := schemaFS.ReadDir("schemas")
	if err != nil {
		schemaErr = err
		return
	}
	c := jsonschema.NewCompiler()
	for _, e := range ents {
		b, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			schemaErr = err
			return
		}
		if err := c.AddResource(schemaBase+e.Name(), bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("%s: %w", e.Name(), err)
			return
		}
	}
	for _, e := range ents {
		s, err := c.Compile(schemaBase + e.Name())
		if err != nil {
			schemaErr = fmt.Errorf("compile %s: %w", e.Name(), err)
			return
		}
		schemas[e.Name()] = s
	}
}

// Validate checks raw JSON against the embedded schema called name,
// e.g. "export.schema.json".
func Validate(name string, raw []byte) error {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return schemaErr
	}
	s, ok := schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return s.Validate(v)
}

func ValidateExport(raw []byte) error { return Validate("export.schema.json", raw) }

// NewExport lists every tile of data.
func NewExport(mapID, name string, data *tilemap.Data) ExportV1 {
	return ExportV1{
		Version: ExportVersion,
		MapID:   mapID,
		Name:    name,
		Tiles:   CollectTiles(data.All()),
	}
}

// ParseExport validates raw and builds the map it describes.
func ParseExport(raw []byte) (ExportV1, *tilemap.Data, error) {
	var ex ExportV1
	if err := ValidateExport(raw); err != nil {
		return ex, nil, fmt.Errorf("%w: %v", tilemap.ErrDataFormat, err)
	}
	if err := json.Unmarshal(raw, &ex); err != nil {
		return ex, nil, fmt.Errorf("%w: %v", tilemap.ErrDataFormat, err)
	}
	data := tilemap.NewData()
	for _, t := range ex.Tiles {
		h, err := t.TileHandle()
		if err != nil {
			return ex, nil, fmt.Errorf("%w: %v", tilemap.ErrDataFormat, err)
		}
		if h.IsEmpty() {
			continue
		}
		data.Set(t.Pos(), h)
	}
	return ex, data, nil
}
