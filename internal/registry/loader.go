// Package registry discovers models on disk. GGUF files are listed with the
// metadata found in their headers; replay scripts can be listed too so the
// scripted engine can be served like any other model.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"

	"github.com/mx37/grapheneos-ai/internal/llm"
	"github.com/mx37/grapheneos-ai/pkg/types"
)

// GGUFExtension is the suffix of model files.
const GGUFExtension = ".gguf"

const defaultHeaderTTL = 10 * time.Minute

// headerResult is a cached header sniff. Failures are cached too so a
// broken file is not re-read on every scan.
type headerResult struct {
	hdr llm.GGUFHeader
	err error
}

// Scanner lists models in a directory. Header reads are cached by path,
// size and modification time, so repeated scans only touch changed files.
type Scanner struct {
	extensions []string
	log        zerolog.Logger
	headers    *ttlcache.Cache[string, headerResult]
}

// Option customizes a Scanner.
type Option func(*Scanner)

// WithExtensions adds file suffixes (case-insensitive) listed besides .gguf.
// Files with these suffixes are listed without header metadata.
func WithExtensions(exts ...string) Option {
	return func(s *Scanner) {
		for _, e := range exts {
			s.extensions = append(s.extensions, strings.ToLower(e))
		}
	}
}

// WithLogger sets the logger used for unreadable headers.
func WithLogger(l zerolog.Logger) Option { return func(s *Scanner) { s.log = l } }

// WithHeaderTTL sets how long a header read stays cached.
func WithHeaderTTL(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.headers = newHeaderCache(d)
		}
	}
}

func newHeaderCache(ttl time.Duration) *ttlcache.Cache[string, headerResult] {
	return ttlcache.New[string, headerResult](
		ttlcache.WithTTL[string, headerResult](ttl),
		ttlcache.WithDisableTouchOnHit[string, headerResult](),
	)
}

// NewScanner returns a Scanner for GGUF files plus any extra extensions.
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		log:     zerolog.Nop(),
		headers: newHeaderCache(defaultHeaderTTL),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scan lists models found directly in dir, sorted by ID. The ID is the full
// file name including its extension.
func (s *Scanner) Scan(dir string) ([]types.Model, error) {
	base, err := expandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		p := filepath.Join(abs, name)
		switch {
		case ext == GGUFExtension:
			models = append(models, s.ggufModel(name, p, e))
		case slices.Contains(s.extensions, ext):
			m := types.Model{ID: name, Name: strings.TrimSuffix(name, filepath.Ext(name)), Path: p, Family: "replay"}
			if fi, err := e.Info(); err == nil {
				m.SizeBytes = fi.Size()
			}
			models = append(models, m)
		}
	}
	s.headers.DeleteExpired()
	slices.SortFunc(models, func(a, b types.Model) int { return strings.Compare(a.ID, b.ID) })
	return models, nil
}

// ggufModel builds a listing entry, enriched from the file header when it
// can be read.
func (s *Scanner) ggufModel(name, path string, e os.DirEntry) types.Model {
	m := types.Model{ID: name, Name: name, Path: path, Quant: QuantFromName(name)}
	fi, err := e.Info()
	if err != nil {
		return m
	}
	m.SizeBytes = fi.Size()
	hdr, err := s.header(path, fi)
	if err != nil {
		s.log.Debug().Err(err).Str("path", path).Msg("gguf header unreadable")
		return m
	}
	if hdr.Name != "" {
		m.Name = hdr.Name
	}
	m.Family = hdr.Architecture
	m.ContextLength = hdr.ContextLength
	return m
}

func (s *Scanner) header(path string, fi os.FileInfo) (llm.GGUFHeader, error) {
	key := fmt.Sprintf("%s|%d|%d", path, fi.Size(), fi.ModTime().UnixNano())
	if item := s.headers.Get(key); item != nil {
		r := item.Value()
		return r.hdr, r.err
	}
	hdr, err := llm.ReadGGUFHeader(path)
	s.headers.Set(key, headerResult{hdr: hdr, err: err}, ttlcache.DefaultTTL)
	return hdr, err
}

// CachedHeaders reports how many header reads are cached.
func (s *Scanner) CachedHeaders() int { return s.headers.Len() }

// LoadDir scans dir for *.gguf files with a default Scanner.
func LoadDir(dir string) ([]types.Model, error) {
	return NewScanner().Scan(dir)
}

// expandHome expands a leading '~' to the user's home directory.
func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	// handle cases like ~/models/llm
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// ExpandHome is expandHome for other packages resolving user paths.
func ExpandHome(path string) (string, error) { return expandHome(path) }
