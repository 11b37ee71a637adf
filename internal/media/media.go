// Package media сохраняет изображения сущностей в объектное хранилище и строит миниатюры.
package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultThumbnailWidth  = 300
	defaultThumbnailHeight = 300
	thumbnailQuality       = 85
)

// Stored — ключи сохранённого оригинала и миниатюры.
type Stored struct {
	Image     string
	Thumbnail string
}

// Library сохраняет изображения под путями вида <entity>/images/<name>-<uuid><ext>.
type Library struct {
	blobs  domain.BlobStore
	root   string
	width  int
	height int
	logger *log.Entry
}

// NewLibrary создаёт библиотеку поверх объектного хранилища.
func NewLibrary(blobs domain.BlobStore) *Library {
	return &Library{
		blobs:  blobs,
		width:  defaultThumbnailWidth,
		height: defaultThumbnailHeight,
		logger: log.WithField("component", "media-library"),
	}
}

// WithThumbnailSize переопределяет габариты миниатюр.
func (l *Library) WithThumbnailSize(width, height int) *Library {
	if width > 0 && height > 0 {
		l.width, l.height = width, height
	}
	return l
}

// WithImportRoot задаёт каталог, от которого разрешаются относительные пути ImportFile.
func (l *Library) WithImportRoot(root string) *Library {
	l.root = root
	return l
}

// ImportFile копирует локальный файл в хранилище. Миниатюра строится, только если thumbnail == true.
func (l *Library) ImportFile(ctx context.Context, entity, srcPath string, thumbnail bool) (Stored, error) {
	if l.root != "" && !filepath.IsAbs(srcPath) {
		srcPath = filepath.Join(l.root, filepath.FromSlash(srcPath))
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return Stored{}, fmt.Errorf("read image %s: %w", srcPath, err)
	}
	return l.Save(ctx, entity, filepath.Base(srcPath), bytes.NewReader(data), thumbnail)
}

// Save сохраняет оригинал и при необходимости миниатюру JPEG.
func (l *Library) Save(ctx context.Context, entity, name string, body io.Reader, thumbnail bool) (Stored, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return Stored{}, fmt.Errorf("read image body: %w", err)
	}

	ext := strings.ToLower(path.Ext(name))
	base := strings.TrimSuffix(path.Base(name), path.Ext(name))
	suffix := uuid.NewString()[:8]

	stored := Stored{Image: path.Join(entity, "images", fmt.Sprintf("%s-%s%s", base, suffix, ext))}
	if err := l.blobs.Put(ctx, stored.Image, contentType(ext), bytes.NewReader(data)); err != nil {
		return Stored{}, fmt.Errorf("store image: %w", err)
	}

	if !thumbnail {
		return stored, nil
	}

	thumb, err := l.thumbnail(data)
	if err != nil {
		// Оригинал уже сохранён; без миниатюры сущность остаётся валидной.
		l.logger.WithError(err).WithField("image", stored.Image).Warn("thumbnail generation failed")
		return stored, nil
	}
	stored.Thumbnail = path.Join(entity, "thumbnails", fmt.Sprintf("%s-%s.jpg", base, suffix))
	if err := l.blobs.Put(ctx, stored.Thumbnail, "image/jpeg", bytes.NewReader(thumb)); err != nil {
		return Stored{}, fmt.Errorf("store thumbnail: %w", err)
	}
	return stored, nil
}

// Remove удаляет оригинал и миниатюру. Ошибки логируются: удаление — уборка после сбоя.
func (l *Library) Remove(ctx context.Context, stored Stored) {
	for _, key := range []string{stored.Image, stored.Thumbnail} {
		if key == "" {
			continue
		}
		if err := l.blobs.Delete(ctx, key); err != nil {
			l.logger.WithError(err).WithField("key", key).Warn("orphaned media was not removed")
		}
	}
}

func (l *Library) thumbnail(data []byte) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	var dst image.Image = imaging.Fit(src, l.width, l.height, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, imaging.JPEG, imaging.JPEGQuality(thumbnailQuality)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func contentType(ext string) string {
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
