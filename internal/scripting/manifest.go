package scripting

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// GameScripts configures one game's helper scripts.
type GameScripts struct {
	// ScriptDir is the directory of *.lua helper scripts, relative to the
	// manifest file.
	ScriptDir string `yaml:"script_dir"`
	// InstructionLimit overrides DefaultInstructionLimit for this game's VM.
	// 0 = use DefaultInstructionLimit.
	InstructionLimit int `yaml:"instruction_limit"`
}

// Manifest maps game identifiers to their helper script configuration.
type Manifest struct {
	Games map[string]GameScripts `yaml:"games"`
}

// LoadManifest reads and parses a games.yaml manifest.
//
// Precondition: path must be a readable YAML file.
// Postcondition: Returns a non-nil Manifest, or an error on parse failure or
// unknown fields.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scripting: reading manifest %q: %w", path, err)
	}
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("scripting: parsing manifest %q: %w", path, err)
	}
	return &m, nil
}

// LoadFromManifest loads a VM for every game in the manifest. Script
// directories resolve relative to the manifest's own directory.
func (m *Manager) LoadFromManifest(manifestPath string) error {
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return err
	}
	base := filepath.Dir(manifestPath)
	for game, cfg := range manifest.Games {
		dir := cfg.ScriptDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(base, dir)
		}
		if err := m.LoadGame(game, dir, cfg.InstructionLimit); err != nil {
			return err
		}
	}
	return nil
}
