package config

import (
	"os"
	"path/filepath"
)

// DefaultFileName is the config file looked up in the working directory.
const DefaultFileName = "cmci.yaml"

// EnvConfigPath names the environment variable that points at a config file.
const EnvConfigPath = "CMCI_CONFIG"

// Discover finds a config file by checking standard locations.
// Priority order: $CMCI_CONFIG, ./cmci.yaml, ./.cmci/cmci.yaml
func Discover() (string, bool) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}

	for _, candidate := range []string{
		DefaultFileName,
		filepath.Join(".cmci", DefaultFileName),
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}
