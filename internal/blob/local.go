package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const contentTypeSuffix = ".content-type"

// LocalStore keeps blobs as files under BaseDir
type LocalStore struct {
	BaseDir string
}

// NewLocalStore creates the base directory and returns a store rooted there
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory %s: %w", baseDir, err)
	}
	return &LocalStore{BaseDir: baseDir}, nil
}

// Put writes body to a file named after key
func (s *LocalStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	// Write to a temp file first so a failed copy never leaves a partial blob
	tmp, err := os.CreateTemp(s.BaseDir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: body}); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close blob %s: %w", key, err)
	}

	if err := os.WriteFile(path+contentTypeSuffix, []byte(contentType), 0644); err != nil {
		return fmt.Errorf("failed to save content type for %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to store blob %s: %w", key, err)
	}

	return nil
}

// Get opens the file stored under key
func (s *LocalStore) Get(ctx context.Context, key string) (*Object, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open blob %s: %w", key, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat blob %s: %w", key, err)
	}

	contentType, err := os.ReadFile(path + contentTypeSuffix)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		file.Close()
		return nil, fmt.Errorf("failed to read content type for %s: %w", key, err)
	}

	return &Object{
		Body:        file,
		ContentType: string(contentType),
		Size:        info.Size(),
	}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." || strings.HasSuffix(key, contentTypeSuffix) {
		return "", fmt.Errorf("%w %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.BaseDir, key), nil
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
