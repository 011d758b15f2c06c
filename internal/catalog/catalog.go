// Package catalog caches item metadata from the upstream /mapping endpoint.
// Readers get lock-free lookups against an immutable map that refresh swaps
// wholesale; a disk copy lets the process answer lookups before the first
// refresh completes.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/getools/gesniper/internal/domain"
)

const cacheFile = "item_cache.json"

// Fetcher is the slice of the upstream client the catalog needs.
type Fetcher interface {
	FetchMapping(ctx context.Context) ([]domain.ItemMeta, error)
}

// Catalog is the process-wide item metadata cache.
type Catalog struct {
	fetcher   Fetcher
	cachePath string
	items     atomic.Pointer[map[domain.ItemID]domain.ItemMeta]
	refreshed atomic.Int64
	log       zerolog.Logger
}

// New builds an empty catalog. cacheRoot may be empty to disable the disk
// copy.
func New(fetcher Fetcher, cacheRoot string, log zerolog.Logger) *Catalog {
	c := &Catalog{
		fetcher: fetcher,
		log:     log.With().Str("component", "catalog").Logger(),
	}
	if cacheRoot != "" {
		c.cachePath = filepath.Join(cacheRoot, cacheFile)
	}
	empty := map[domain.ItemID]domain.ItemMeta{}
	c.items.Store(&empty)
	return c
}

// Get returns the metadata for one item.
func (c *Catalog) Get(id domain.ItemID) (domain.ItemMeta, bool) {
	m := *c.items.Load()
	meta, ok := m[id]
	return meta, ok
}

// BuyLimit returns the exchange buy limit, zero when unknown.
func (c *Catalog) BuyLimit(id domain.ItemID) int {
	meta, ok := c.Get(id)
	if !ok {
		return 0
	}
	return meta.BuyLimit
}

// Name returns the item name, empty when unknown.
func (c *Catalog) Name(id domain.ItemID) string {
	meta, _ := c.Get(id)
	return meta.Name
}

// Len reports how many items are loaded.
func (c *Catalog) Len() int {
	return len(*c.items.Load())
}

// LastRefresh is the unix time of the last successful refresh, zero if none.
func (c *Catalog) LastRefresh() int64 {
	return c.refreshed.Load()
}

// Refresh fetches the full mapping and swaps it in. On failure the previous
// map stays live.
func (c *Catalog) Refresh(ctx context.Context) error {
	metas, err := c.fetcher.FetchMapping(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh item catalog: %w", err)
	}
	if len(metas) == 0 {
		return fmt.Errorf("failed to refresh item catalog: empty mapping")
	}

	m := make(map[domain.ItemID]domain.ItemMeta, len(metas))
	for _, meta := range metas {
		m[meta.ID] = meta
	}
	c.items.Store(&m)
	c.refreshed.Store(time.Now().Unix())
	c.log.Info().Int("items", len(m)).Msg("item catalog refreshed")

	if c.cachePath != "" {
		if err := c.writeDiskCache(metas); err != nil {
			c.log.Warn().Err(err).Msg("failed to persist item cache")
		}
	}
	return nil
}

// LoadFromDisk primes the catalog from the cached copy. Missing cache is not
// an error; a corrupt one is.
func (c *Catalog) LoadFromDisk() error {
	if c.cachePath == "" {
		return nil
	}
	raw, err := os.ReadFile(c.cachePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read item cache: %w", err)
	}
	var metas []domain.ItemMeta
	if err := json.Unmarshal(raw, &metas); err != nil {
		return fmt.Errorf("failed to decode item cache: %w", err)
	}
	m := make(map[domain.ItemID]domain.ItemMeta, len(metas))
	for _, meta := range metas {
		m[meta.ID] = meta
	}
	c.items.Store(&m)
	c.log.Info().Int("items", len(m)).Msg("item catalog primed from disk")
	return nil
}

func (c *Catalog) writeDiskCache(metas []domain.ItemMeta) error {
	if err := os.MkdirAll(filepath.Dir(c.cachePath), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	raw, err := json.Marshal(metas)
	if err != nil {
		return fmt.Errorf("failed to encode item cache: %w", err)
	}
	tmp := c.cachePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write item cache: %w", err)
	}
	if err := os.Rename(tmp, c.cachePath); err != nil {
		return fmt.Errorf("failed to replace item cache: %w", err)
	}
	return nil
}
