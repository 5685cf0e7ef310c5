package geonames

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kyxap1/geonames-cache/internal/cache"
	"github.com/kyxap1/geonames-cache/internal/country"
	"github.com/kyxap1/geonames-cache/internal/geoip"
	"github.com/kyxap1/geonames-cache/internal/store"
	"github.com/kyxap1/geonames-cache/internal/types"

	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when no country matches an identifier
var ErrNotFound = errors.New("country not found")

// ManagerInterface is the country service used by the HTTP handlers
type ManagerInterface interface {
	Lookup(ctx context.Context, ids ...country.Identifier) ([]*types.CountryInfo, error)
	LookupOne(ctx context.Context, raw string) (*types.CountryInfo, error)
	CountryForIP(ctx context.Context, ip string) (*types.CountryInfo, error)
	GetCacheStats() map[string]interface{}
	GetStatus(ctx context.Context) map[string]interface{}
	Close() error
}

// Options configures a Manager
type Options struct {
	DataPath        string
	SourceURL       string
	Filters         country.FeatureFilters
	CacheEnabled    bool
	CacheTTL        time.Duration
	CacheMaxEntries int
	Resolver        *geoip.Resolver
	HTTPClient      *http.Client
}

// Manager resolves countries through storage, a response cache and an
// optional GeoIP database, and imports the GeoNames country dump
type Manager struct {
	db         *store.DB
	repo       *country.Repository
	cache      *cache.CountryCache
	resolver   *geoip.Resolver
	dataPath   string
	sourceURL  string
	filters    country.FeatureFilters
	httpClient *http.Client
	logger     *logrus.Logger

	importMu sync.Mutex
}

// NewManager creates a manager over db
func NewManager(db *store.DB, opts Options, logger *logrus.Logger) *Manager {
	m := &Manager{
		db:         db,
		repo:       country.NewRepository(db, nil, opts.Filters, logger),
		resolver:   opts.Resolver,
		dataPath:   opts.DataPath,
		sourceURL:  opts.SourceURL,
		filters:    opts.Filters,
		httpClient: opts.HTTPClient,
		logger:     logger,
	}
	if m.httpClient == nil {
		m.httpClient = &http.Client{Timeout: 2 * time.Minute}
	}

	if opts.CacheEnabled {
		m.cache = cache.New(opts.CacheTTL, opts.CacheMaxEntries, logger)
		logger.Infof("Country cache initialized with TTL: %v, Max entries: %d", opts.CacheTTL, opts.CacheMaxEntries)
	}

	return m
}

// Lookup resolves identifiers to countries in input order, one entry per
// distinct country. Cached countries are served without a query; the rest
// are loaded in one batch through a fresh registry.
func (m *Manager) Lookup(ctx context.Context, ids ...country.Identifier) ([]*types.CountryInfo, error) {
	found := make([]*types.CountryInfo, len(ids))
	var pending []country.Identifier
	var pendingAt []int

	for i, id := range ids {
		if info, ok := m.cached(id); ok {
			found[i] = info
			continue
		}
		pending = append(pending, id)
		pendingAt = append(pendingAt, i)
	}

	if len(pending) > 0 {
		reg := country.NewRegistry()
		if _, err := m.repo.Load(ctx, reg, pending...); err != nil {
			return nil, err
		}

		for j, id := range pending {
			c := registered(reg, id)
			if c == nil {
				continue
			}
			info := c.Info()
			found[pendingAt[j]] = info
			if m.cache != nil {
				m.cache.SetCountry(info)
			}
		}
	}

	return distinct(found), nil
}

// LookupOne resolves a single geoname id or ISO2 code
func (m *Manager) LookupOne(ctx context.Context, raw string) (*types.CountryInfo, error) {
	countries, err := m.Lookup(ctx, country.ParseIdentifier(raw))
	if err != nil {
		return nil, err
	}
	if len(countries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, raw)
	}
	return countries[0], nil
}

// CountryForIP resolves the country an IP address is located in
func (m *Manager) CountryForIP(ctx context.Context, ip string) (*types.CountryInfo, error) {
	geonameID, code, err := m.resolver.CountryForIP(ip)
	if err != nil {
		return nil, err
	}

	ids := []country.Identifier{country.ID(geonameID)}
	if code != "" {
		ids = append(ids, country.Code(code))
	}
	countries, err := m.Lookup(ctx, ids...)
	if err != nil {
		return nil, err
	}
	if len(countries) == 0 {
		return nil, fmt.Errorf("%w: geoname id %d for %s", ErrNotFound, geonameID, ip)
	}
	return countries[0], nil
}

func (m *Manager) cached(id country.Identifier) (*types.CountryInfo, bool) {
	if m.cache == nil {
		return nil, false
	}
	switch v := id.(type) {
	case country.ID:
		return m.cache.Get(cache.IDKey(int(v)))
	case country.Code:
		return m.cache.Get(cache.CodeKey(string(v)))
	}
	return nil, false
}

// registered finds the entity an identifier resolved to after a load
func registered(reg *country.Registry, id country.Identifier) *country.Country {
	switch v := id.(type) {
	case country.CountryRef:
		return v.Country
	case country.ID:
		c, _ := reg.ByID(int(v))
		return c
	case country.Code:
		c, _ := reg.ByCode(string(v))
		return c
	}
	return nil
}

func distinct(found []*types.CountryInfo) []*types.CountryInfo {
	out := make([]*types.CountryInfo, 0, len(found))
	seen := make(map[string]bool, len(found))
	for _, info := range found {
		if info == nil {
			continue
		}
		key := fmt.Sprintf("%d/%s", info.GeonameID, info.ISO2)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, info)
	}
	return out
}

// GetCacheStats returns cache statistics
func (m *Manager) GetCacheStats() map[string]interface{} {
	if m.cache == nil {
		return map[string]interface{}{"enabled": false}
	}
	stats := m.cache.GetStats()
	stats["enabled"] = true
	return stats
}

// GetStatus reports storage, dump and GeoIP state
func (m *Manager) GetStatus(ctx context.Context) map[string]interface{} {
	status := map[string]interface{}{
		"table_prefix": m.db.Prefix(),
		"pool":         m.db.Stats(),
		"geoip":        m.resolver.Status(),
		"dump":         m.dumpStatus(),
	}

	if err := m.db.Ping(ctx); err != nil {
		status["database"] = map[string]interface{}{"available": false, "error": err.Error()}
		return status
	}

	database := map[string]interface{}{"available": true}
	var count int
	row := m.db.QueryRow(ctx, "SELECT COUNT(*) FROM "+country.CountriesTable)
	if err := row.Scan(&count); err != nil {
		database["error"] = err.Error()
	} else {
		database["countries"] = count
	}
	status["database"] = database

	return status
}

// EnsureSchema creates the country tables when missing
func (m *Manager) EnsureSchema(ctx context.Context) error {
	return m.db.EnsureSchema(ctx)
}

// HasDump reports whether a country dump has been imported
func (m *Manager) HasDump() bool {
	_, err := os.Stat(filepath.Join(m.dataPath, DumpFile))
	return err == nil
}

func (m *Manager) dumpStatus() map[string]interface{} {
	path := filepath.Join(m.dataPath, DumpFile)
	status := map[string]interface{}{
		"path":   path,
		"exists": false,
	}

	info, err := os.Stat(path)
	if err != nil {
		return status
	}
	status["exists"] = true
	status["size"] = info.Size()
	status["modified"] = info.ModTime().Format(time.RFC3339)

	if checksum, err := os.ReadFile(path + ".checksum"); err == nil {
		status["checksum"] = string(checksum)
	}
	return status
}

// Close stops the cache and releases the GeoIP database and storage
func (m *Manager) Close() error {
	if m.cache != nil {
		m.cache.Close()
	}
	if err := m.resolver.Close(); err != nil {
		m.logger.Warnf("Failed to close GeoIP database: %v", err)
	}
	return m.db.Close()
}
