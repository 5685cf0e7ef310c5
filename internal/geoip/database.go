package geoip

import (
	"errors"
	"fmt"
	"net"
	"sync"

	geoip2 "github.com/oschwald/geoip2-golang"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotConfigured is returned when no GeoIP database is loaded
	ErrNotConfigured = errors.New("geoip database not configured")

	// ErrInvalidIP is returned for unparsable addresses
	ErrInvalidIP = errors.New("invalid IP address")

	// ErrNoCountry is returned when the database has no country for an IP
	ErrNoCountry = errors.New("no country for IP address")
)

// Resolver maps IP addresses to GeoNames country ids using a MaxMind
// country database. A nil *Resolver is valid and reports ErrNotConfigured.
type Resolver struct {
	path   string
	reader *geoip2.Reader
	logger *logrus.Logger
	mu     sync.RWMutex
}

// Open loads the database at path and checks it answers lookups
func Open(path string, logger *logrus.Logger) (*Resolver, error) {
	r := &Resolver{path: path, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload reopens the database file, replacing the current reader only when
// the new one is usable
func (r *Resolver) Reload() error {
	if r == nil {
		return ErrNotConfigured
	}

	reader, err := geoip2.Open(r.path)
	if err != nil {
		return fmt.Errorf("failed to open GeoIP database %s: %w", r.path, err)
	}
	if _, err := reader.Country(net.ParseIP("8.8.8.8")); err != nil {
		if cerr := reader.Close(); cerr != nil {
			r.logger.Warnf("Failed to close GeoIP database %s: %v", r.path, cerr)
		}
		return fmt.Errorf("GeoIP database functional test failed: %w", err)
	}

	r.mu.Lock()
	old := r.reader
	r.reader = reader
	r.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			r.logger.Warnf("Failed to close previous GeoIP database: %v", err)
		}
	}

	meta := reader.Metadata()
	r.logger.WithFields(logrus.Fields{
		"path":          r.path,
		"database_type": meta.DatabaseType,
		"build_epoch":   meta.BuildEpoch,
	}).Info("GeoIP database loaded")
	return nil
}

// CountryForIP returns the geoname id and ISO code of the country an IP is
// located in, falling back to the registered country
func (r *Resolver) CountryForIP(ip string) (int, string, error) {
	if r == nil {
		return 0, "", ErrNotConfigured
	}

	addr := net.ParseIP(ip)
	if addr == nil {
		return 0, "", fmt.Errorf("%w: %s", ErrInvalidIP, ip)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.reader == nil {
		return 0, "", ErrNotConfigured
	}

	record, err := r.reader.Country(addr)
	if err != nil {
		return 0, "", fmt.Errorf("GeoIP lookup failed for %s: %w", ip, err)
	}

	if record.Country.GeoNameID != 0 {
		return int(record.Country.GeoNameID), record.Country.IsoCode, nil
	}
	if record.RegisteredCountry.GeoNameID != 0 {
		return int(record.RegisteredCountry.GeoNameID), record.RegisteredCountry.IsoCode, nil
	}
	return 0, "", fmt.Errorf("%w: %s", ErrNoCountry, ip)
}

// Status describes the loaded database
func (r *Resolver) Status() map[string]interface{} {
	if r == nil {
		return map[string]interface{}{"configured": false}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	status := map[string]interface{}{
		"configured": true,
		"path":       r.path,
		"loaded":     r.reader != nil,
	}
	if r.reader != nil {
		meta := r.reader.Metadata()
		status["database_type"] = meta.DatabaseType
		status["build_epoch"] = meta.BuildEpoch
	}
	return status
}

// Close releases the database
func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reader == nil {
		return nil
	}
	err := r.reader.Close()
	r.reader = nil
	return err
}
