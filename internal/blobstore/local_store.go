package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// UploadsMount is the HTTP mount under which locally stored audio is served.
const UploadsMount = "/uploads/"

// File and directory permissions for locally persisted audio.
const (
	filePermissions = 0o600
	dirPermissions  = 0o750
)

// ErrUnsafePath indicates a storage path that would escape the uploads root.
var ErrUnsafePath = errors.New("blob path escapes the uploads root")

// LocalStore implements Store on the local filesystem, mirroring the same
// relative path layout as the primary backend under a static-served root.
type LocalStore struct {
	rootDir       string
	publicBaseURL string
}

// NewLocalStore creates the uploads root if needed and returns the store.
func NewLocalStore(rootDir, publicBaseURL string) (*LocalStore, error) {
	err := os.MkdirAll(rootDir, dirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create uploads root '%s': %w", rootDir, err)
	}

	return &LocalStore{
		rootDir:       rootDir,
		publicBaseURL: publicBaseURL,
	}, nil
}

// RootDir returns the directory the store writes under, for the HTTP layer
// to mount as a static file server.
func (l *LocalStore) RootDir() string {
	return l.rootDir
}

// Save writes the audio bytes under the uploads root and returns the URL at
// which the local server serves them.
func (l *LocalStore) Save(_ context.Context, path string, data []byte) (string, error) {
	fullPath, err := l.resolve(path)
	if err != nil {
		return "", err
	}

	err = os.MkdirAll(filepath.Dir(fullPath), dirPermissions)
	if err != nil {
		return "", fmt.Errorf("failed to create blob directory for '%s': %w", path, err)
	}

	err = os.WriteFile(fullPath, data, filePermissions)
	if err != nil {
		return "", fmt.Errorf("failed to write blob '%s': %w", path, err)
	}

	return joinURL(l.publicBaseURL, UploadsMount, path), nil
}

// resolve maps a relative storage path onto the uploads root, rejecting
// traversal outside of it.
func (l *LocalStore) resolve(path string) (string, error) {
	fullPath := filepath.Join(l.rootDir, filepath.FromSlash(path))

	root := filepath.Clean(l.rootDir) + string(os.PathSeparator)
	if !strings.HasPrefix(fullPath, root) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, path)
	}

	return fullPath, nil
}
