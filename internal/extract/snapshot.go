package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonesrussell/newspipe/internal/domain"
	"github.com/jonesrussell/newspipe/internal/urlnorm"
)

// ErrSnapshotMiss means no snapshot exists for the URL.
var ErrSnapshotMiss = errors.New("snapshot not cached")

// SnapshotCache stores raw page HTML on disk, keyed by the hash of the
// normalized URL. Fetch methods write snapshots after a successful fetch so
// re-extraction never refetches the page.
type SnapshotCache struct {
	dir string
}

// NewSnapshotCache creates a snapshot cache rooted at dir.
func NewSnapshotCache(dir string) (*SnapshotCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}

	return &SnapshotCache{dir: dir}, nil
}

// Put stores the HTML snapshot for a URL.
func (c *SnapshotCache) Put(url, html string) error {
	path, err := c.path(url)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	return nil
}

// Get returns the stored HTML for a URL, or ErrSnapshotMiss.
func (c *SnapshotCache) Get(url string) (string, error) {
	path, err := c.path(url)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrSnapshotMiss
		}

		return "", fmt.Errorf("read snapshot: %w", err)
	}

	return string(data), nil
}

func (c *SnapshotCache) path(url string) (string, error) {
	hash, err := urlnorm.Hash(url)
	if err != nil {
		return "", fmt.Errorf("snapshot key: %w", err)
	}

	return filepath.Join(c.dir, hash+".html"), nil
}

// SnapshotMethod extracts from a previously cached page snapshot.
type SnapshotMethod struct {
	cache  *SnapshotCache
	parser *ContentParser
}

// NewSnapshotMethod creates the cached-snapshot extractor.
func NewSnapshotMethod(cache *SnapshotCache, parser *ContentParser) *SnapshotMethod {
	return &SnapshotMethod{cache: cache, parser: parser}
}

// Name returns the persisted extraction method name.
func (m *SnapshotMethod) Name() string {
	return domain.ExtractionMethodSnapshot
}

// Extract parses article content from the cached snapshot, if one exists.
func (m *SnapshotMethod) Extract(_ context.Context, url string) (*Result, error) {
	html, err := m.cache.Get(url)
	if err != nil {
		return nil, err
	}

	result, err := m.parser.Parse(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	result.HTML = html

	return result, nil
}
