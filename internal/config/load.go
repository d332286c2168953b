package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/vango-dev/vstore/internal/errors"
)

// Format identifies a configuration file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatOf picks the encoding from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", errors.New("E303").WithDetailf("file %q", path)
}

// LoadFile reads a benchmark configuration. The file's "profile" key (or
// the default profile) supplies every value the file leaves out.
func LoadFile(path string) (Bench, error) {
	format, err := FormatOf(path)
	if err != nil {
		return Bench{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Bench{}, errors.New("E301").WithDetailf("file %q", path).Wrap(err)
	}

	raw, err := decodeRaw(data, format)
	if err != nil {
		return Bench{}, errors.New("E301").
			WithDetailf("parse %s: %v", filepath.Base(path), err).
			WithSuggestion(fmt.Sprintf("Check that %s is valid %s", filepath.Base(path), strings.ToUpper(string(format))))
	}

	name, _ := raw["profile"].(string)
	b, err := Profile(name)
	if err != nil {
		return Bench{}, err
	}
	if err := decodeInto(&b, raw); err != nil {
		return Bench{}, errors.New("E302").WithDetailf("file %q", path).Wrap(err)
	}
	return b, b.Validate()
}

// Apply merges flag-style overrides into b. Keys follow the file layout;
// nested sections use maps ({"log": {"level": "debug"}}). Values may be
// strings, which are converted to the field's type.
func (b *Bench) Apply(overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}
	if err := decodeInto(b, overrides); err != nil {
		return errors.New("E305").Wrap(err)
	}
	return nil
}

// Write encodes b in the given format. The result loads back with
// LoadFile.
func (b Bench) Write(w io.Writer, format Format) error {
	m := b.toMap()
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	case FormatTOML:
		return toml.NewEncoder(w).Encode(m)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return err
		}
		return enc.Close()
	}
	return errors.New("E303").WithDetailf("format %q", format)
}

func decodeRaw(data []byte, format Format) (map[string]any, error) {
	raw := make(map[string]any)
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func decodeInto(b *Bench, raw map[string]any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           b,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToByteSizeHook(),
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

func (b Bench) toMap() map[string]any {
	return map[string]any{
		"profile":     b.Profile,
		"writers":     b.Writers,
		"subscribers": b.Subscribers,
		"scopes":      b.Scopes,
		"duration":    b.Duration.String(),
		"rate":        b.Rate,
		"recursion":   b.Recursion,
		"strategy":    b.Strategy,
		"redirect":    b.Redirect,
		"max_procs":   b.MaxProcs,
		"mem_limit":   b.MemLimit.String(),
		"output":      b.Output,
		"trace":       b.Trace,
		"metrics": map[string]any{
			"enabled": b.Metrics.Enabled,
			"addr":    b.Metrics.Addr,
		},
		"log": map[string]any{
			"level":  b.Log.Level,
			"format": b.Log.Format,
		},
	}
}
