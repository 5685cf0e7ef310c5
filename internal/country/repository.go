package country

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kyxap1/geonames-cache/internal/store"

	"github.com/sirupsen/logrus"
)

// ErrNoSource is returned by Save when data is missing and no source is set
var ErrNoSource = errors.New("no country source configured")

// Source provides records missing from storage
type Source interface {
	// Get returns the full location record of a geoname id
	Get(ctx context.Context, geonameID int, style string) (Fields, error)
	// CountryInfo returns the country-level record of an ISO2 code
	CountryInfo(ctx context.Context, code string) (Fields, error)
}

// Repository loads and saves countries
type Repository struct {
	db      *store.DB
	source  Source
	filters FeatureFilters
	logger  *logrus.Logger
}

// NewRepository creates a repository. source may be nil when the
// repository is only used for loading.
func NewRepository(db *store.DB, source Source, filters FeatureFilters, logger *logrus.Logger) *Repository {
	if filters == nil {
		filters = DefaultFeatureFilters
	}
	return &Repository{
		db:      db,
		source:  source,
		filters: filters,
		logger:  logger,
	}
}

// Load resolves identifiers to entities. Identifiers already known to reg
// are served from it; the rest are fetched with a single query and merged
// into reg. Invalid identifiers are logged and skipped.
func (r *Repository) Load(ctx context.Context, reg *Registry, ids ...Identifier) ([]*Country, error) {
	resolutions := make([]Resolution, 0, len(ids))
	var geonameIDs []int
	var codes []string
	seenID := make(map[int]bool)
	seenCode := make(map[string]bool)

	for _, id := range ids {
		res := Classify(reg, id, r.logger)
		switch res.Kind {
		case Invalid:
			continue
		case ByID:
			if !seenID[res.ID] {
				seenID[res.ID] = true
				geonameIDs = append(geonameIDs, res.ID)
			}
		case ByCode:
			if !seenCode[res.Code] {
				seenCode[res.Code] = true
				codes = append(codes, res.Code)
			}
		}
		resolutions = append(resolutions, res)
	}

	if lookup, ok := BuildLookup(geonameIDs, codes, r.filters); ok {
		r.logger.WithFields(logrus.Fields{
			"ids":   len(geonameIDs),
			"codes": len(codes),
		}).Debug("Loading countries from storage")

		rows, err := r.db.Query(ctx, lookup.Query, lookup.Args...)
		if err != nil {
			return nil, fmt.Errorf("failed to load countries: %w", err)
		}
		parsed, err := scanRows(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}

		if err := Merge(reg, parsed); err != nil {
			return nil, fmt.Errorf("failed to merge countries: %w", err)
		}
	}

	return collect(reg, resolutions), nil
}

// Save writes the entity to both tables. Missing location or country data
// is first fetched from the source, one call per missing part. Nothing is
// written when a fetch fails.
func (r *Repository) Save(ctx context.Context, c *Country) error {
	needLocation := c.idLocation == 0 && c.idAPI == 0
	needCountry := c.idCountry == 0 && c.iso2 != ""

	// without a geoname id the country record has to come first
	if needCountry && c.geonameID == 0 {
		if err := r.fetchCountry(ctx, c); err != nil {
			return err
		}
		needCountry = false
	}

	if c.geonameID <= 0 {
		return fmt.Errorf("cannot save country %q: %w", c.iso2, ErrInvalidIdentifier)
	}

	if needLocation {
		if r.source == nil {
			return fmt.Errorf("cannot load location %d: %w", c.geonameID, ErrNoSource)
		}
		fields, err := r.source.Get(ctx, c.geonameID, "full")
		if err != nil {
			return fmt.Errorf("failed to load location %d: %w", c.geonameID, err)
		}
		if err := c.Apply(fields); err != nil {
			return fmt.Errorf("failed to apply location %d: %w", c.geonameID, err)
		}
		c.idAPI = c.geonameID
	}

	if needCountry {
		if err := r.fetchCountry(ctx, c); err != nil {
			return err
		}
	}

	err := r.db.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.Exec(ctx, countryUpsert, countryValues(c)...); err != nil {
			return fmt.Errorf("failed to save country %d: %w", c.geonameID, err)
		}
		if _, err := tx.Exec(ctx, locationUpsert, locationValues(c)...); err != nil {
			return fmt.Errorf("failed to save location %d: %w", c.geonameID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.idCountry = c.geonameID
	c.idLocation = c.geonameID

	r.logger.WithFields(logrus.Fields{
		"geoname_id": c.geonameID,
		"iso2":       c.iso2,
	}).Debug("Country saved")
	return nil
}

func (r *Repository) fetchCountry(ctx context.Context, c *Country) error {
	if r.source == nil {
		return fmt.Errorf("cannot load country info %s: %w", c.iso2, ErrNoSource)
	}
	fields, err := r.source.CountryInfo(ctx, c.iso2)
	if err != nil {
		return fmt.Errorf("failed to load country info %s: %w", c.iso2, err)
	}
	if err := c.Apply(fields); err != nil {
		return fmt.Errorf("failed to apply country info %s: %w", c.iso2, err)
	}
	return nil
}

// column is an upserted column; numeric columns treat 0 as empty
type column struct {
	name    string
	numeric bool
}

var countryColumns = []column{
	{"geoname_id", true}, {"iso2", false}, {"iso3", false}, {"isoN", true},
	{"fips", false}, {"country", false}, {"capital", false}, {"languages", false},
	{"continent", false}, {"neighbours", false}, {"area", true}, {"population", true},
	{"tld", false}, {"currency_code", false}, {"currency_name", false}, {"phone", false},
	{"postal_code_format", false}, {"postal_code_regex", false},
}

var locationColumns = []column{
	{"geoname_id", true}, {"name", false}, {"ascii_name", false},
	{"latitude", true}, {"longitude", true}, {"feature_class", false},
	{"feature_code", false}, {"country_code", false}, {"admin1_code", false},
	{"population", true}, {"elevation", true}, {"timezone", false},
}

var (
	countryUpsert  = buildUpsert(CountriesTable, countryColumns)
	locationUpsert = buildUpsert(LocationsTable, locationColumns)
)

// buildUpsert renders an insert keyed on the first column whose update
// clause keeps the stored value whenever the new one is empty
func buildUpsert(table string, cols []column) string {
	names := make([]string, len(cols))
	updates := []string{"`db_update` = CURRENT_TIMESTAMP"}
	for i, col := range cols {
		names[i] = "`" + col.name + "`"
		if i == 0 {
			continue
		}
		empty := "''"
		if col.numeric {
			empty = "0"
		}
		updates = append(updates, fmt.Sprintf("`%s` = COALESCE(NULLIF(VALUES(`%s`), %s), `%s`)",
			col.name, col.name, empty, col.name))
	}

	return fmt.Sprintf("INSERT INTO %s\n(%s)\nVALUES (%s)\nON DUPLICATE KEY UPDATE\n      %s",
		table,
		strings.Join(names, ", "),
		placeholders(len(cols)),
		strings.Join(updates, "\n    , "),
	)
}

func countryValues(c *Country) []interface{} {
	name := c.Country
	if name == "" {
		name = c.AsciiName
	}
	return []interface{}{
		c.geonameID,
		nullIfEmpty(c.iso2),
		nullIfEmpty(c.ISO3),
		c.ISONumeric,
		nullIfEmpty(c.FipsCode),
		nullIfEmpty(name),
		nullIfEmpty(c.Capital),
		nullIfEmpty(c.Languages),
		nullIfEmpty(c.ContinentCode),
		nullIfEmpty(c.Neighbours),
		c.Area,
		c.Population,
		nullIfEmpty(c.TLD),
		nullIfEmpty(c.CurrencyCode),
		nullIfEmpty(c.CurrencyName),
		nullIfEmpty(c.Phone),
		nullIfEmpty(c.PostalCodeFormat),
		nullIfEmpty(c.PostalCodeRegex),
	}
}

func locationValues(c *Country) []interface{} {
	name := c.Name
	if name == "" {
		name = c.Country
	}
	return []interface{}{
		c.geonameID,
		nullIfEmpty(name),
		nullIfEmpty(c.AsciiName),
		c.Latitude,
		c.Longitude,
		nullIfEmpty(c.FeatureClass),
		nullIfEmpty(c.FeatureCode),
		nullIfEmpty(c.iso2),
		nullIfEmpty(c.Admin1Code),
		c.Population,
		c.Elevation,
		nullIfEmpty(c.TimeZone),
	}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
