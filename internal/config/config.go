package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/gjson"
)

// FileName is the per-project configuration file at the workspace root.
const FileName = ".bibli.toml"

type Completion struct {
	MaxItems  int      `json:"max_items" toml:"max_items"`
	DocFormat []string `json:"doc_format" toml:"doc_format"`
}

type Hover struct {
	CharacterLimit int      `json:"character_limit" toml:"character_limit"`
	DocFormat      []string `json:"doc_format" toml:"doc_format"`
}

type Config struct {
	Bibfiles       []string   `json:"bibfiles" toml:"bibfiles"`
	CitePrefix     string     `json:"cite_prefix" toml:"cite_prefix"`
	Lenient        bool       `json:"lenient" toml:"lenient"`
	Completion     Completion `json:"completion" toml:"completion"`
	Hover          Hover      `json:"hover" toml:"hover"`
	FileExtensions []string   `json:"file_extensions" toml:"file_extensions"`
	PollInterval   Duration   `json:"poll_interval" toml:"poll_interval"`
	Cache          bool       `json:"cache" toml:"cache"`
	Root           string     `json:"root" toml:"root"` // only for dump!
}

var defaultConfig = Config{
	CitePrefix: "@",
	Completion: Completion{
		DocFormat: []string{"# {entry_type}: {title}\n", "_{author}_", "---"},
	},
	Hover: Hover{
		CharacterLimit: 400,
		DocFormat:      []string{"# {entry_type}: {title}\n", "- _{author}_", "---"},
	},
	FileExtensions: []string{".md", ".markdown", ".qmd", ".rmd", ".tex", ".typ", ".txt"},
	PollInterval:   Duration(2 * time.Second),
	Cache:          true,
	Root:           ".",
}

// Default returns a copy of the built-in configuration.
func Default() Config {
	return defaultConfig.clone()
}

func (c Config) clone() Config {
	c.Bibfiles = append([]string(nil), c.Bibfiles...)
	c.FileExtensions = append([]string(nil), c.FileExtensions...)
	c.Completion.DocFormat = append([]string(nil), c.Completion.DocFormat...)
	c.Hover.DocFormat = append([]string(nil), c.Hover.DocFormat...)
	return c
}

// Load overlays v onto the defaults.
func Load(v any) (Config, error) {
	return Default().Overlay(v)
}

// Overlay returns a copy of cfg with the fields present in v overwritten.
// v is any value that marshals to a JSON object, typically the loosely
// typed initializationOptions of a client.
func (cfg Config) Overlay(v any) (Config, error) {
	out := cfg.clone()
	if v == nil {
		return out, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return Config{}, fmt.Errorf("failed to marshal source: %w", err)
	}

	// only fields present in src will overwrite.
	if err := json.Unmarshal(data, &out); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal into Config: %w", err)
	}

	return out, nil
}

// LoadFromJSON reads JSON from r into a Config.
func LoadFromJSON(r io.Reader) (Config, error) {
	cfg := Default()

	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFile overlays a TOML file onto cfg. A missing file leaves cfg as is
// and returns an error matching os.ErrNotExist.
func (cfg Config) LoadFile(path string) (Config, error) {
	out := cfg.clone()
	if _, err := toml.DecodeFile(path, &out); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
		return cfg, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return out, nil
}

// FromSettings picks the bibli section out of raw client settings. Settings
// may be the section itself or an object holding it under a "bibli" key.
// It returns nil when raw holds no object.
func FromSettings(raw []byte) any {
	if !gjson.ValidBytes(raw) {
		return nil
	}
	result := gjson.GetBytes(raw, "bibli")
	if !result.IsObject() {
		result = gjson.ParseBytes(raw)
	}
	if !result.IsObject() {
		return nil
	}
	return result.Value()
}

// Duration is a time.Duration written as "2s" in JSON and TOML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}
