package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aliskhannn/image-gallery/internal/model"
)

// ErrInvalidName is returned for blob names that would escape the base directory.
var ErrInvalidName = errors.New("invalid blob name")

// Storage provides a simple file-based storage backend.
// It stores blobs flat under a base directory on the local filesystem.
type Storage struct {
	basePath string
}

// NewStorage creates a new Storage rooted at basePath, creating the directory if needed.
func NewStorage(basePath string) (*Storage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", basePath, err)
	}

	return &Storage{basePath: basePath}, nil
}

// BasePath returns the directory the storage writes into.
func (s *Storage) BasePath() string {
	return s.basePath
}

// Save streams src into a temporary file and renames it to name once fully written.
// It returns the number of bytes stored.
func (s *Storage) Save(_ context.Context, name string, src io.Reader) (int64, error) {
	dstPath, err := s.path(name)
	if err != nil {
		return 0, err
	}

	// Temp files are hidden so a concurrent rescan never picks them up.
	tmp, err := os.CreateTemp(s.basePath, ".upload-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, src)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to save file %s: %w", name, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to close file %s: %w", name, err)
	}

	if err := os.Rename(tmpPath, dstPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to move file %s into place: %w", name, err)
	}

	return n, nil
}

// Open opens the blob and returns a reader together with its info.
func (s *Storage) Open(_ context.Context, name string) (io.ReadCloser, model.BlobInfo, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, model.BlobInfo{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, model.BlobInfo{}, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, model.BlobInfo{}, fmt.Errorf("failed to stat file %s: %w", name, err)
	}

	if !fi.Mode().IsRegular() {
		f.Close()
		return nil, model.BlobInfo{}, fmt.Errorf("open %s: %w", name, os.ErrNotExist)
	}

	return f, toBlobInfo(fi), nil
}

// Delete removes the blob from storage.
// A missing blob is reported as an error wrapping os.ErrNotExist.
func (s *Storage) Delete(_ context.Context, name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	return os.Remove(path)
}

// List enumerates every entry of the base directory.
// Entries that disappear between the directory read and the stat are skipped.
func (s *Storage) List(_ context.Context) ([]model.BlobInfo, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", s.basePath, err)
	}

	blobs := make([]model.BlobInfo, 0, len(entries))
	for _, entry := range entries {
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		blobs = append(blobs, toBlobInfo(fi))
	}

	return blobs, nil
}

func (s *Storage) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return filepath.Join(s.basePath, name), nil
}

func toBlobInfo(fi os.FileInfo) model.BlobInfo {
	return model.BlobInfo{
		Name:    fi.Name(),
		Size:    fi.Size(),
		Regular: fi.Mode().IsRegular(),
		ModTime: fi.ModTime(),
	}
}
