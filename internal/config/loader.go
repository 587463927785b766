package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/pelletier/go-toml/v2"
)

// ManifestFilenames lists the two accepted manifest names in preference
// order (spec §4.3 step 4: prefer agent.toml, else agent.json).
var ManifestFilenames = []string{"agent.toml", "agent.json"}

// LoadManifest locates and parses the manifest inside an extracted bundle
// directory, applying ${VAR} interpolation and section defaults.
func LoadManifest(installDir string) (*Manifest, error) {
	for _, name := range ManifestFilenames {
		path := filepath.Join(installDir, name)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, &LoadError{File: name, Err: err}
		}

		data = ExpandEnv(data)

		m := defaultManifest()
		if err := unmarshalManifest(name, data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
		}
		if err := m.Validate(); err != nil {
			return nil, err
		}
		return &m, nil
	}
	return nil, ErrManifestNotFound
}

// unmarshalManifest dispatches to the TOML or JSON decoder and merges the
// parsed sections over the supplied defaults with dario.cat/mergo, mirroring
// the teacher's defaults-then-override merge strategy.
func unmarshalManifest(filename string, data []byte, dst *Manifest) error {
	var parsed Manifest
	switch filepath.Ext(filename) {
	case ".toml":
		if err := toml.Unmarshal(data, &parsed); err != nil {
			return err
		}
	case ".json":
		if err := json.Unmarshal(data, &parsed); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unrecognized manifest extension %q", filepath.Ext(filename))
	}
	return mergo.Merge(dst, parsed, mergo.WithOverride)
}
