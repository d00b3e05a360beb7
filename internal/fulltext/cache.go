package fulltext

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Cache stores retrieval outcomes by key. Get reports a miss for absent or
// unreadable entries; it never fails.
type Cache interface {
	Get(ctx context.Context, key string) (*Document, bool)
	Put(ctx context.Context, key string, doc *Document) error
}

// DiskCache keeps <key>.json (metadata and warnings) and <key>.xml (content)
// in one directory.
type DiskCache struct {
	dir string
}

// NewDiskCache creates dir if needed and returns a cache rooted there.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "fulltext: create cache dir %s", dir)
	}
	return &DiskCache{dir: dir}, nil
}

func (c *DiskCache) paths(key string) (meta, content string) {
	return filepath.Join(c.dir, key+".json"), filepath.Join(c.dir, key+".xml")
}

// Get implements Cache.
func (c *DiskCache) Get(_ context.Context, key string) (*Document, bool) {
	metaPath, contentPath := c.paths(key)

	raw, err := os.ReadFile(metaPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			zap.L().Warn("cache entry unreadable", zap.String("cache_key", key), zap.Error(err))
		}
		return nil, false
	}

	doc := NewDocument("", "")
	if err := json.Unmarshal(raw, doc); err != nil {
		zap.L().Warn("cache entry corrupt, ignoring", zap.String("cache_key", key), zap.Error(err))
		return nil, false
	}
	if doc.Warnings == nil {
		doc.Warnings = make([]string, 0, 2)
	}

	if content, err := os.ReadFile(contentPath); err == nil {
		doc.Content = string(content)
	}
	return doc, true
}

// Put implements Cache. Content is written before metadata so a reader never
// sees metadata pointing at a half-written document.
func (c *DiskCache) Put(_ context.Context, key string, doc *Document) error {
	metaPath, contentPath := c.paths(key)

	if doc.Content != "" {
		if err := writeAtomic(contentPath, []byte(doc.Content)); err != nil {
			return err
		}
	}

	meta, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return eris.Wrap(err, "fulltext: marshal cache metadata")
	}
	return writeAtomic(metaPath, meta)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return eris.Wrap(err, "fulltext: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "fulltext: write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "fulltext: close %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "fulltext: rename into %s", path)
	}
	return nil
}
