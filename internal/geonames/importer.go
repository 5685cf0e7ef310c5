package geonames

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kyxap1/geonames-cache/internal/country"
	"github.com/kyxap1/geonames-cache/internal/countryinfo"

	"github.com/sirupsen/logrus"
)

// DumpFile is the name of the stored country dump under the data path
const DumpFile = "countryInfo.txt"

const (
	backupTimeFormat = "20060102-150405"
	keepBackups      = 5
)

// ImportResult summarizes an import run
type ImportResult struct {
	Source    string        `json:"source"`
	Checksum  string        `json:"checksum"`
	Skipped   bool          `json:"skipped"`
	Countries int           `json:"countries"`
	Created   int           `json:"created"`
	Updated   int           `json:"updated"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Import downloads the country dump and upserts every country. An unchanged
// dump is skipped unless force is set.
func (m *Manager) Import(ctx context.Context, force bool) (*ImportResult, error) {
	return m.ImportURL(ctx, m.sourceURL, force)
}

// ImportURL imports the dump published at url
func (m *Manager) ImportURL(ctx context.Context, url string, force bool) (*ImportResult, error) {
	m.importMu.Lock()
	defer m.importMu.Unlock()

	tempDir, cleanup, err := m.prepareDirs()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	m.logger.Infof("Downloading country dump from %s", url)
	tempPath := filepath.Join(tempDir, DumpFile)
	checksum, err := m.download(ctx, url, tempPath)
	if err != nil {
		return nil, fmt.Errorf("failed to download country dump: %w", err)
	}

	return m.importDump(ctx, url, tempPath, checksum, force)
}

// ImportFile imports a dump from the local filesystem
func (m *Manager) ImportFile(ctx context.Context, path string, force bool) (*ImportResult, error) {
	m.importMu.Lock()
	defer m.importMu.Unlock()

	tempDir, cleanup, err := m.prepareDirs()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	tempPath := filepath.Join(tempDir, DumpFile)
	if err := copyFile(path, tempPath); err != nil {
		return nil, fmt.Errorf("failed to copy country dump: %w", err)
	}
	checksum, err := calculateFileChecksum(tempPath)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return m.importDump(ctx, path, tempPath, checksum, force)
}

func (m *Manager) prepareDirs() (string, func(), error) {
	for _, dir := range []string{m.dataPath, filepath.Join(m.dataPath, "backup")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	tempDir, err := os.MkdirTemp(m.dataPath, "import-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(tempDir); err != nil {
			m.logger.Warnf("Failed to remove temp directory during cleanup: %v", err)
		}
	}
	return tempDir, cleanup, nil
}

// importDump stores the parsed dump, then swaps the file and checksum into
// place. The stored dump is left untouched when storage fails.
func (m *Manager) importDump(ctx context.Context, source, tempPath, checksum string, force bool) (*ImportResult, error) {
	start := time.Now()
	result := &ImportResult{Source: source, Checksum: checksum}

	prodPath := filepath.Join(m.dataPath, DumpFile)
	checksumPath := prodPath + ".checksum"

	if !force {
		if saved, err := os.ReadFile(checksumPath); err == nil && string(saved) == checksum {
			m.logger.Infof("Country dump unchanged (checksum %s...), skipping import", checksum[:8])
			result.Skipped = true
			result.Duration = time.Since(start)
			return result, nil
		}
	}

	catalog, err := countryinfo.Load(tempPath)
	if err != nil {
		return nil, fmt.Errorf("country dump verification failed: %w", err)
	}
	if catalog.Len() == 0 {
		return nil, errors.New("country dump verification failed: no countries")
	}
	result.Countries = catalog.Len()

	if err := m.store(ctx, catalog, result); err != nil {
		result.Duration = time.Since(start)
		return result, err
	}

	if err := m.backupCurrentDump(); err != nil {
		m.logger.Warnf("Failed to backup current country dump: %v", err)
	}
	if err := os.Rename(tempPath, prodPath); err != nil {
		return nil, fmt.Errorf("failed to move country dump into place: %w", err)
	}
	if err := os.WriteFile(checksumPath, []byte(checksum), 0644); err != nil {
		m.logger.Warnf("Failed to save checksum: %v", err)
	}

	if m.cache != nil {
		m.cache.Clear()
	}

	result.Duration = time.Since(start)
	m.logger.WithFields(logrus.Fields{
		"countries":   result.Countries,
		"created":     result.Created,
		"updated":     result.Updated,
		"checksum":    checksum[:8] + "...",
		"duration_ms": result.Duration.Milliseconds(),
	}).Info("Country dump imported")
	return result, nil
}

// store upserts every catalog record. Countries already in storage are
// refreshed from the dump; new ones are filled by the repository from the
// catalog itself.
func (m *Manager) store(ctx context.Context, catalog *countryinfo.Catalog, result *ImportResult) error {
	records := catalog.Records()
	repo := country.NewRepository(m.db, catalog, m.filters, m.logger)
	reg := country.NewRegistry()

	ids := make([]country.Identifier, 0, len(records))
	for _, rec := range records {
		ids = append(ids, country.Code(rec.ISO))
	}
	if _, err := repo.Load(ctx, reg, ids...); err != nil {
		return fmt.Errorf("failed to load stored countries: %w", err)
	}

	var errs []error
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}

		c, exists := reg.ByCode(rec.ISO)
		if exists && c.LoadedFromCountryTable() {
			if err := c.Apply(rec.CountryFields()); err != nil {
				result.Failed++
				errs = append(errs, fmt.Errorf("%s: %w", rec.ISO, err))
				continue
			}
		} else if !exists {
			c = reg.NewCountry()
			if err := c.SetISO2(rec.ISO); err != nil {
				result.Failed++
				errs = append(errs, fmt.Errorf("%s: %w", rec.ISO, err))
				continue
			}
		}

		if err := repo.Save(ctx, c); err != nil {
			m.logger.WithError(err).WithField("iso2", rec.ISO).Warn("Failed to save country")
			result.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", rec.ISO, err))
			continue
		}

		if exists {
			result.Updated++
		} else {
			result.Created++
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to import %d of %d countries: %w", len(errs), len(records), errors.Join(errs...))
	}
	return nil
}

// download streams url into path and returns its SHA-256 checksum
func (m *Manager) download(ctx context.Context, url, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			m.logger.Warnf("Failed to close response body: %v", err)
		}
	}()

	m.logger.Debugf("HTTP response status: %d %s", resp.StatusCode, resp.Status)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create dump file: %w", err)
	}
	defer func() {
		if err := out.Close(); err != nil {
			m.logger.Warnf("Failed to close dump file: %v", err)
		}
	}()

	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, hash), resp.Body); err != nil {
		return "", fmt.Errorf("failed to write dump file: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// backupCurrentDump copies the stored dump and its checksum into the
// backup directory, keeping the most recent ones
func (m *Manager) backupCurrentDump() error {
	src := filepath.Join(m.dataPath, DumpFile)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}

	backupDir := filepath.Join(m.dataPath, "backup")
	timestamp := time.Now().Format(backupTimeFormat)
	base := strings.TrimSuffix(DumpFile, filepath.Ext(DumpFile))

	if err := copyFile(src, filepath.Join(backupDir, fmt.Sprintf("%s-%s.txt", base, timestamp))); err != nil {
		return err
	}
	if _, err := os.Stat(src + ".checksum"); err == nil {
		dst := filepath.Join(backupDir, fmt.Sprintf("%s-%s.checksum", base, timestamp))
		if err := copyFile(src+".checksum", dst); err != nil {
			return err
		}
	}

	m.cleanupOldBackups(backupDir, keepBackups)
	return nil
}

// cleanupOldBackups removes all but the newest keepCount backups
func (m *Manager) cleanupOldBackups(backupDir string, keepCount int) {
	files, err := os.ReadDir(backupDir)
	if err != nil {
		m.logger.Warnf("Failed to read backup directory: %v", err)
		return
	}

	groups := make(map[string][]string)
	for _, file := range files {
		name := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
		if len(name) < len(backupTimeFormat) {
			continue
		}
		timestamp := name[len(name)-len(backupTimeFormat):]
		if _, err := time.Parse(backupTimeFormat, timestamp); err != nil {
			continue
		}
		groups[timestamp] = append(groups[timestamp], file.Name())
	}

	timestamps := make([]string, 0, len(groups))
	for timestamp := range groups {
		timestamps = append(timestamps, timestamp)
	}
	if len(timestamps) <= keepCount {
		return
	}
	sort.Strings(timestamps)

	for _, timestamp := range timestamps[:len(timestamps)-keepCount] {
		for _, name := range groups[timestamp] {
			if err := os.Remove(filepath.Join(backupDir, name)); err != nil {
				m.logger.Warnf("Failed to remove old backup %s: %v", name, err)
			} else {
				m.logger.Debugf("Removed old backup: %s", name)
			}
		}
	}
}

// calculateFileChecksum returns the SHA-256 of a file
func calculateFileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
