// Package collector gathers raw content for ingest cycles. The file feed
// collector reads YAML or JSON feed documents and Markdown notes with YAML
// frontmatter from a file or a directory tree.
package collector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/scrypster/vibegraph/internal/engine"
	"github.com/scrypster/vibegraph/pkg/types"
)

// FeedDocument is the on-disk shape of a YAML or JSON feed file. JSON is
// read through the YAML decoder.
type FeedDocument struct {
	Source string     `yaml:"source"`
	Items  []FeedItem `yaml:"items"`
}

// FeedItem is one entry of a feed document.
type FeedItem struct {
	ID          string            `yaml:"id"`
	URL         string            `yaml:"url"`
	Title       string            `yaml:"title"`
	Body        string            `yaml:"body"`
	CollectedAt time.Time         `yaml:"collected_at"`
	Metadata    map[string]string `yaml:"metadata"`
}

// FileFeed collects content from a feed file or a directory of them.
type FileFeed struct {
	path string
	now  func() time.Time
}

// NewFileFeed creates a collector reading path, which may be a file or a
// directory.
func NewFileFeed(path string) *FileFeed {
	return &FileFeed{path: path, now: time.Now}
}

// Name returns the collector name used in registries: the base name of the
// path without extension.
func (f *FileFeed) Name() string {
	base := filepath.Base(f.path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Collect reads every supported file under the path in lexical order.
// A file that fails to parse is logged and skipped; a missing path is an
// error.
func (f *FileFeed) Collect(ctx context.Context) ([]types.RawContent, error) {
	files, err := feedFiles(f.path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list feed files", goerr.V("path", f.path))
	}

	var out []types.RawContent
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, err := f.readFile(file)
		if err != nil {
			log.WithError(err).WithField("file", file).Warn("skipping unreadable feed file")
			continue
		}
		out = append(out, items...)
	}

	log.WithFields(log.Fields{
		"path":  f.path,
		"files": len(files),
		"items": len(out),
	}).Debug("Collected feed")
	return out, nil
}

func (f *FileFeed) readFile(path string) ([]types.RawContent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read file")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to stat file")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		item, err := parseNote(data, path, info.ModTime())
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, nil
		}
		return []types.RawContent{*item}, nil
	default:
		return f.parseDocument(data, path, info.ModTime())
	}
}

func (f *FileFeed) parseDocument(data []byte, path string, modTime time.Time) ([]types.RawContent, error) {
	var doc FeedDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		// A bare list of items is accepted too.
		var items []FeedItem
		if listErr := yaml.Unmarshal(data, &items); listErr != nil {
			return nil, goerr.Wrap(err, "invalid feed document")
		}
		doc.Items = items
	}

	source := doc.Source
	if source == "" {
		source = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	out := make([]types.RawContent, 0, len(doc.Items))
	for i, item := range doc.Items {
		if strings.TrimSpace(item.Body) == "" && strings.TrimSpace(item.Title) == "" {
			continue
		}
		rc := types.RawContent{
			ID:          item.ID,
			Source:      source,
			URL:         item.URL,
			Title:       item.Title,
			Body:        item.Body,
			CollectedAt: item.CollectedAt,
			Metadata:    item.Metadata,
		}
		if rc.Body == "" {
			rc.Body = rc.Title
		}
		if rc.ID == "" {
			rc.ID = contentID(path, i, rc.URL+rc.Title+rc.Body)
		}
		if rc.CollectedAt.IsZero() {
			rc.CollectedAt = modTime
		}
		out = append(out, rc)
	}
	return out, nil
}

// feedFiles returns path itself when it is a file, or every feed and note
// file below it. Hidden directories are skipped.
func feedFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if isFeedFile(d.Name()) {
			files = append(files, p)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

func isFeedFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json", ".md", ".markdown":
		return true
	}
	return false
}

// contentID derives a stable id for an item that has none.
func contentID(path string, index int, content string) string {
	sum := sha256.Sum256([]byte(path + "\x00" + content))
	return "raw_" + hex.EncodeToString(sum[:8]) + "_" + strconv.Itoa(index)
}

var _ engine.Collector = (*FileFeed)(nil)
