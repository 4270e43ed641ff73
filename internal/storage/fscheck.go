package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// sharedMounts are filesystems where SQLite's file locks cannot be trusted.
// CI runners commonly put caches and workspaces on them.
var sharedMounts = map[string]bool{
	"afpfs":  true,
	"ceph":   true,
	"cifs":   true,
	"nfs":    true,
	"smbfs":  true,
	"smb2":   true,
	"webdav": true,
}

// errUndetectable marks platforms where the filesystem type cannot be read.
var errUndetectable = errors.New("filesystem detection is unsupported on this platform")

// SharedMountError reports a history database placed on a shared mount.
type SharedMountError struct {
	Path   string
	FSType string
}

func (e *SharedMountError) Error() string {
	return fmt.Sprintf("history database %q is on %s, where SQLite locking is unreliable; set state.path in cmci.yaml to runner-local disk",
		e.Path, e.FSType)
}

// CheckHistoryPath fails when the history database at path would live on a
// shared mount. The file need not exist yet; its nearest existing parent is
// inspected. Platforms without detection always pass.
func CheckHistoryPath(path string) error {
	return checkHistoryPath(path, detectFilesystemType)
}

func checkHistoryPath(path string, detect func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("history path is empty")
	}

	dir, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve history path %q: %w", path, err)
	}

	fsType, err := detect(dir)
	switch {
	case errors.Is(err, errUndetectable):
		return nil
	case err != nil:
		return fmt.Errorf("detect filesystem for %q: %w", dir, err)
	case sharedMounts[strings.ToLower(strings.TrimSpace(fsType))]:
		return &SharedMountError{Path: path, FSType: fsType}
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing parent")
		}
		p = parent
	}
}
