package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// FSStore хранит объекты в каталоге локальной файловой системы.
type FSStore struct {
	root string
}

// NewFSStore создаёт хранилище с корнем root; каталог создаётся при первой записи.
func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

// Put атомарно записывает объект через временный файл и rename.
func (s *FSStore) Put(ctx context.Context, key, _ string, body io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write blob %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close blob %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish blob %s: %w", key, err)
	}
	return nil
}

// Get открывает объект на чтение; вызывающий закрывает reader.
func (s *FSStore) Get(ctx context.Context, key string) (io.ReadCloser, domain.BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.BlobInfo{}, err
	}
	path, err := s.path(key)
	if err != nil {
		return nil, domain.BlobInfo{}, err
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.BlobInfo{}, domain.ErrBlobNotFound
	}
	if err != nil {
		return nil, domain.BlobInfo{}, fmt.Errorf("open blob %s: %w", key, err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, domain.BlobInfo{}, fmt.Errorf("stat blob %s: %w", key, err)
	}

	return f, domain.BlobInfo{
		ContentType:  contentTypeByExt(key),
		Size:         stat.Size(),
		LastModified: stat.ModTime().UTC(),
	}, nil
}

// Delete удаляет файл объекта.
func (s *FSStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

// path не выпускает ключ за пределы корня.
func (s *FSStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + strings.TrimSpace(key))
	if clean == "/" {
		return "", fmt.Errorf("empty blob key")
	}
	return filepath.Join(s.root, clean), nil
}

func contentTypeByExt(key string) string {
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

var _ domain.BlobStore = (*FSStore)(nil)
