package rawstorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// FilesystemStorage is the local-mode Storage rooted at a directory.
//
// Writes go to a temp file in the same directory and are renamed into place,
// so readers never observe a partial object.
type FilesystemStorage struct {
	root   string
	logger *zap.Logger
}

// NewFilesystemStorage creates the root directory if needed.
func NewFilesystemStorage(root string, logger *zap.Logger) (*FilesystemStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root %s: %w", root, err)
	}
	return &FilesystemStorage{root: root, logger: logger}, nil
}

func (s *FilesystemStorage) abs(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

// Put stores the object, failing with ErrPathCollision if it already exists.
func (s *FilesystemStorage) Put(ctx context.Context, path string, r io.Reader, size int64) error {
	if err := validatePath(path); err != nil {
		return err
	}
	dst := s.abs(path)
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("%w: %s", ErrPathCollision, path)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return fmt.Errorf("creating temp object: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		return fmt.Errorf("writing object %s: %w", path, err)
	}
	if size >= 0 && written != size {
		return fmt.Errorf("object %s: wrote %d bytes, expected %d", path, written, size)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("committing object %s: %w", path, err)
	}

	s.logger.Debug("stored blob", zap.String("path", path), zap.Int64("size", written))
	return nil
}

// Get opens the object for streaming.
func (s *FilesystemStorage) Get(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	if err := validatePath(path); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(s.abs(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, 0, fmt.Errorf("opening object %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat object %s: %w", path, err)
	}
	return f, info.Size(), nil
}

// Delete removes the object; missing objects are ignored.
func (s *FilesystemStorage) Delete(ctx context.Context, path string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if err := os.Remove(s.abs(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting object %s: %w", path, err)
	}
	return nil
}

// DeletePrefix removes the whole subtree under prefix.
func (s *FilesystemStorage) DeletePrefix(ctx context.Context, prefix string) error {
	if err := validatePath(prefix); err != nil {
		return err
	}
	if err := os.RemoveAll(s.abs(prefix)); err != nil {
		return fmt.Errorf("deleting prefix %s: %w", prefix, err)
	}
	s.logger.Debug("deleted blob prefix", zap.String("prefix", prefix))
	return nil
}

// Exists reports object presence.
func (s *FilesystemStorage) Exists(ctx context.Context, path string) (bool, error) {
	if err := validatePath(path); err != nil {
		return false, err
	}
	_, err := os.Stat(s.abs(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", path, err)
}

// Health verifies the root directory is accessible.
func (s *FilesystemStorage) Health(ctx context.Context) error {
	if _, err := os.Stat(s.root); err != nil {
		return fmt.Errorf("storage root unavailable: %w", err)
	}
	return nil
}
