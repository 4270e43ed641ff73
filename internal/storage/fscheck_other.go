//go:build !darwin && !linux

package storage

func detectFilesystemType(path string) (string, error) {
	return "", errUndetectable
}
