package manifest

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format names the two surface encodings spec.md §4.A/§6 accepts. Both
// decode into the identical Capsule model.
type Format string

const (
	// FormatYAML is the "tag-and-tree" encoding.
	FormatYAML Format = "yaml"
	// FormatTOML is the "key-value-tree" encoding.
	FormatTOML Format = "toml"
)

// FormatFromExtension maps a manifest file's extension to its Format. An
// unrecognized extension returns "" so callers can require an explicit hint.
func FormatFromExtension(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return ""
	}
}

// Parse decodes bytes into a validated Capsule using the given format hint.
// Unknown fields in either encoding are rejected, per spec.md §4.A.
func Parse(data []byte, format Format) (*Capsule, error) {
	var c Capsule
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil {
			return nil, &ParseError{Format: "yaml", Reason: err.Error()}
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &c)
		if err != nil {
			return nil, &ParseError{Format: "toml", Reason: err.Error()}
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, &ParseError{Format: "toml", Reason: fmt.Sprintf("unknown field(s): %v", undecoded)}
		}
	default:
		return nil, &ParseError{Reason: fmt.Sprintf("unrecognized format hint %q", format)}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ParseFile reads and parses a manifest, inferring its format from the file
// extension unless an explicit hint is given.
func ParseFile(readFile func(string) ([]byte, error), path string, hint Format) (*Capsule, error) {
	format := hint
	if format == "" {
		format = FormatFromExtension(path)
	}
	if format == "" {
		return nil, &ParseError{Reason: fmt.Sprintf("cannot infer format for %q; pass an explicit hint", path)}
	}
	data, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %q: %w", path, err)
	}
	return Parse(data, format)
}
