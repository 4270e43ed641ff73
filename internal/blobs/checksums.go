package blobs

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the checksum manifest written next to the archives.
const ManifestFile = ".checksums"

// Manifest records the BLAKE3 hash of each archive in a bin directory.
type Manifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// HashFile computes the hex BLAKE3 hash of a file.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Snapshot hashes every *.a file in dir, keyed by file name.
func Snapshot(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	hashes := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".a" {
			continue
		}
		h, err := HashFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", e.Name(), err)
		}
		hashes[e.Name()] = h
	}
	return hashes, nil
}

// Compare checks that before and after hold the same files with identical
// hashes. Files are checked in name order and the first difference is reported.
func Compare(before, after map[string]string) error {
	b, a := sortedKeys(before), sortedKeys(after)
	if strings.Join(b, ",") != strings.Join(a, ",") {
		return fmt.Errorf("artifact set changed between rebuilds: before %v, after %v", b, a)
	}
	for _, name := range b {
		if before[name] != after[name] {
			return fmt.Errorf("%s differs between rebuilds", name)
		}
	}
	return nil
}

// WriteManifest snapshots dir and writes the manifest into it.
func WriteManifest(dir string) (*Manifest, error) {
	hashes, err := Snapshot(dir)
	if err != nil {
		return nil, err
	}
	m := &Manifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      hashes,
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}
	return m, nil
}

// LoadManifest reads the manifest from dir.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checksums file not found (run 'cmci xtask lock-blobs')")
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if m.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", m.Version)
	}
	return &m, nil
}

// VerifyManifest checks the archives in dir against the stored manifest.
func VerifyManifest(dir string) error {
	m, err := LoadManifest(dir)
	if err != nil {
		return err
	}
	current, err := Snapshot(dir)
	if err != nil {
		return err
	}
	for _, name := range sortedKeys(m.Hashes) {
		h, ok := current[name]
		if !ok {
			return fmt.Errorf("%s is in checksums but missing from disk", name)
		}
		if h != m.Hashes[name] {
			return fmt.Errorf("hash mismatch for %s: expected %s, got %s", name, m.Hashes[name], h)
		}
	}
	for _, name := range sortedKeys(current) {
		if _, ok := m.Hashes[name]; !ok {
			return fmt.Errorf("%s has no hash in checksums (run 'cmci xtask lock-blobs')", name)
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
