// Package cache stores downloaded s9pk archives on disk, keyed by
// package id and version, so a later install of the same
// (id, version, hash) can skip the network entirely.
package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/embassyd/pkg/archive"
	"github.com/cuemby/embassyd/pkg/log"
	"github.com/cuemby/embassyd/pkg/metrics"
	"github.com/cuemby/embassyd/pkg/types"
)

// Cache is rooted at a single directory; one file per (pkg, version).
type Cache struct {
	root string
}

// New returns a Cache rooted at root, creating it if necessary.
func New(root string) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}
	return &Cache{root: root}, nil
}

// Path returns the on-disk location a given (pkg, version) would
// occupy, whether or not it currently exists.
func (c *Cache) Path(pkg types.PackageId, version types.Version) string {
	return filepath.Join(c.root, string(pkg), version.String(), string(pkg)+".s9pk")
}

// Probe reports whether a cached file for (pkg, version) exists and its
// declared hash (per its own s9pk header, not a re-hash of the whole
// file) matches want. Any error opening, parsing or statting the file
// downgrades to a cache miss rather than propagating, matching
// spec.md's "open failures are treated as a miss, not fatal".
func (c *Cache) Probe(pkg types.PackageId, version types.Version, want types.ContentHash) bool {
	path := c.Path(pkg, version)
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithComponent("cache").Warn().Err(err).Str("path", path).Msg("cache probe open failed, treating as miss")
		}
		metrics.CacheMissesTotal.Inc()
		return false
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		log.WithComponent("cache").Warn().Err(err).Str("path", path).Msg("cache probe stat failed, treating as miss")
		metrics.CacheMissesTotal.Inc()
		return false
	}

	rdr, err := archive.FromReader(f, st.Size())
	if err != nil {
		log.WithComponent("cache").Warn().Err(err).Str("path", path).Msg("cache probe parse failed, treating as miss")
		metrics.CacheMissesTotal.Inc()
		return false
	}

	if rdr.HashStr() != string(want) {
		metrics.CacheMissesTotal.Inc()
		return false
	}
	metrics.CacheHitsTotal.Inc()
	return true
}

// Replace opens a fresh, truncated file for (pkg, version), creating
// parent directories as needed. The caller is responsible for closing
// (and, per spec.md's fsync-after-write convention, syncing) the
// returned file once the download completes.
func (c *Cache) Replace(pkg types.PackageId, version types.Version) (*os.File, error) {
	path := c.Path(pkg, version)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating cache file: %w", err)
	}
	return f, nil
}

// Open opens the cached file for reading; callers should Probe first.
func (c *Cache) Open(pkg types.PackageId, version types.Version) (*os.File, error) {
	return os.Open(c.Path(pkg, version))
}
