// Package skills implements the signed extension-module lifecycle:
// manifest parsing, Ed25519 signing and verification,
// content-addressable storage, dependency bootstrap, subprocess and
// embedded-script supervision, and tick-driven reconciliation.
package skills

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// excludedTopLevel lists the top-level directory entries skipped by the
// content-hash walk: ephemeral state that must not affect identity.
var excludedTopLevel = map[string]bool{
	".venv":        true,
	".git":         true,
	"data":         true,
	"skill.log":    true,
	".signature":   true,
	"__pycache__":  true,
	"node_modules": true,
}

// VenvPolicy controls whether a Python virtual environment is bootstrapped.
type VenvPolicy string

const (
	VenvAuto   VenvPolicy = "auto"
	VenvAlways VenvPolicy = "always"
	VenvNever  VenvPolicy = "never"
)

// Isolation selects the running representation a skill uses.
type Isolation string

const (
	IsolationProcess   Isolation = "process"
	IsolationContainer Isolation = "container"
)

// RunMode distinguishes a long-lived daemon skill from a one-shot task.
type RunMode string

const (
	RunModeDaemon  RunMode = "daemon"
	RunModeOneshot RunMode = "oneshot"
)

// Manifest is the per-skill TOML descriptor read from skill.toml.
type Manifest struct {
	Name       string            `toml:"name"`
	EntryPoint string            `toml:"entry_point"`
	Enabled    bool              `toml:"enabled"`
	RunMode    RunMode           `toml:"run_mode"`
	VenvPolicy VenvPolicy        `toml:"venv_policy"`
	Isolation  Isolation         `toml:"isolation"`
	Image      string            `toml:"image"`
	Env        map[string]string `toml:"env"`
}

// ManifestFileName is the conventional manifest filename inside a skill
// directory.
const ManifestFileName = "skill.toml"

// LoadManifest parses the manifest at dir/skill.toml, applying the same
// defaulting as the rest of the ambient config stack.
func LoadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return Manifest{}, fmt.Errorf("skills: read manifest in %s: %w", dir, err)
	}

	var m Manifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return Manifest{}, fmt.Errorf("skills: parse manifest in %s: %w", dir, err)
	}
	if strings.TrimSpace(m.Name) == "" {
		return Manifest{}, fmt.Errorf("skills: manifest in %s missing name", dir)
	}
	if strings.TrimSpace(m.EntryPoint) == "" {
		return Manifest{}, fmt.Errorf("skills: manifest in %s missing entry_point", dir)
	}
	if m.RunMode == "" {
		m.RunMode = RunModeDaemon
	}
	if m.VenvPolicy == "" {
		m.VenvPolicy = VenvAuto
	}
	if m.Isolation == "" {
		m.Isolation = IsolationProcess
	}
	if m.Isolation == IsolationContainer && strings.TrimSpace(m.Image) == "" {
		return Manifest{}, fmt.Errorf("skills: manifest in %s requests container isolation but sets no image", dir)
	}
	return m, nil
}

// WriteManifest persists m as dir/skill.toml, used by the import flow
// when patching the name field to match an override.
func WriteManifest(dir string, m Manifest) error {
	f, err := os.Create(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return fmt.Errorf("skills: write manifest in %s: %w", dir, err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(m)
}

// ContentHash walks dir deterministically, skipping excludedTopLevel
// entries, and returns the hex SHA-256 of the concatenated
// "path\x00size\x00filehash\n" records in sorted path order — stable
// across re-imports of identical content regardless of filesystem
// iteration order.
func ContentHash(dir string) (string, error) {
	var relPaths []string
	fileHashes := make(map[string]string)
	fileSizes := make(map[string]int64)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("skills: read dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if excludedTopLevel[e.Name()] {
			continue
		}
		root := filepath.Join(dir, e.Name())
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("skills: read %s: %w", path, err)
			}
			sum := sha256.Sum256(data)
			relPaths = append(relPaths, rel)
			fileHashes[rel] = hex.EncodeToString(sum[:])
			fileSizes[rel] = int64(len(data))
			return nil
		})
		if walkErr != nil {
			return "", walkErr
		}
	}

	sort.Strings(relPaths)

	h := sha256.New()
	for _, rel := range relPaths {
		fmt.Fprintf(h, "%s\x00%d\x00%s\n", rel, fileSizes[rel], fileHashes[rel])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
