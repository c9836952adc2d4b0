package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	uerrors "github.com/ZebulonRouseFrantzich/packsync/internal/errors"
)

// Format names a manifest document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// FormatFromPath picks a format from a file extension. Unknown extensions
// are read as YAML, which also accepts JSON documents.
func FormatFromPath(p string) Format {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".toml":
		return FormatTOML
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, uerrors.Wrap(err, uerrors.ErrManifestRejected, "reading manifest").WithPath(path)
	}
	m, err := Decode(data, FormatFromPath(path))
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Decode parses and validates a manifest document.
func Decode(data []byte, format Format) (*Manifest, error) {
	var m Manifest
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &m)
	case FormatTOML:
		err = toml.Unmarshal(data, &m)
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&m)
	default:
		err = fmt.Errorf("unknown manifest format %q", format)
	}
	if err != nil {
		return nil, uerrors.Wrap(err, uerrors.ErrManifestRejected, "decoding manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
