package country

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Table names carry the `wp_` placeholder prefix, rewritten by the store
const (
	CountriesTable = "`wp_geonames_countries`"
	LocationsTable = "`wp_geonames_locations_cache`"
)

// FeatureFilters maps a GeoNames feature class to the feature codes that
// mark a location cache row as a country
type FeatureFilters map[string][]string

// DefaultFeatureFilters covers independent, dependent, freely associated
// and semi-independent political entities and territories
var DefaultFeatureFilters = FeatureFilters{
	"A": {"PCL", "PCLD", "PCLF", "PCLI", "PCLIX", "PCLS", "TERR"},
}

// sql renders the filter as a parenthesized condition on l.feature_class
// and l.feature_code. Classes are sorted so the statement text is stable.
func (f FeatureFilters) sql() (string, []interface{}) {
	classes := make([]string, 0, len(f))
	for class, codes := range f {
		if len(codes) > 0 {
			classes = append(classes, class)
		}
	}
	if len(classes) == 0 {
		return "", nil
	}
	sort.Strings(classes)

	var parts []string
	var args []interface{}
	for _, class := range classes {
		codes := f[class]
		parts = append(parts, fmt.Sprintf("(l.feature_class = ? AND l.feature_code IN (%s))", placeholders(len(codes))))
		args = append(args, class)
		for _, code := range codes {
			args = append(args, code)
		}
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// Lookup is a parameterized statement
type Lookup struct {
	Query string
	Args  []interface{}
}

const lookupColumns = `
     %s                                 AS id
    ,l.geoname_id                       AS id_location
    ,c.geoname_id                       AS id_country
    ,c.iso2, c.iso3, c.isoN, c.fips, c.country, c.capital, c.languages
    ,c.continent, c.neighbours, c.area, c.population, c.tld
    ,c.currency_code, c.currency_name, c.phone
    ,c.postal_code_format, c.postal_code_regex
    ,l.name, l.ascii_name, l.latitude, l.longitude
    ,l.feature_class, l.feature_code, l.country_code, l.admin1_code
    ,l.population                       AS location_population
    ,l.elevation, l.timezone`

// BuildLookup builds one query returning the country table rows matched by
// id or code, each joined with its location cache row, together with the
// location cache rows matched by id, or by country code when they carry a
// country feature, each joined with its country row. It reports false when
// there is nothing to look up.
func BuildLookup(ids []int, codes []string, filters FeatureFilters) (Lookup, bool) {
	var branches []string
	var args []interface{}

	var conds []string
	if len(ids) > 0 {
		conds = append(conds, fmt.Sprintf("c.geoname_id IN (%s)", placeholders(len(ids))))
		for _, id := range ids {
			args = append(args, id)
		}
	}
	if len(codes) > 0 {
		conds = append(conds, fmt.Sprintf("c.iso2 IN (%s)", placeholders(len(codes))))
		for _, code := range codes {
			args = append(args, code)
		}
	}
	if len(conds) == 0 {
		return Lookup{}, false
	}
	branches = append(branches, fmt.Sprintf(
		"SELECT%s\nFROM %s c\nLEFT JOIN %s l ON c.geoname_id = l.geoname_id\nWHERE %s",
		fmt.Sprintf(lookupColumns, "COALESCE(l.geoname_id, c.geoname_id)"),
		CountriesTable, LocationsTable, strings.Join(conds, " OR "),
	))

	var locConds []string
	if len(ids) > 0 {
		locConds = append(locConds, fmt.Sprintf("l.geoname_id IN (%s)", placeholders(len(ids))))
		for _, id := range ids {
			args = append(args, id)
		}
	}
	// code matches in the location cache must carry a country feature
	if featureSQL, featureArgs := filters.sql(); len(codes) > 0 && featureSQL != "" {
		locConds = append(locConds, fmt.Sprintf("(l.country_code IN (%s) AND %s)", placeholders(len(codes)), featureSQL))
		for _, code := range codes {
			args = append(args, code)
		}
		args = append(args, featureArgs...)
	}
	if len(locConds) > 0 {
		branches = append(branches, fmt.Sprintf(
			"SELECT%s\nFROM %s l\nLEFT JOIN %s c ON c.geoname_id = l.geoname_id\nWHERE %s",
			fmt.Sprintf(lookupColumns, "COALESCE(c.geoname_id, l.geoname_id)"),
			LocationsTable, CountriesTable, strings.Join(locConds, " OR "),
		))
	}

	return Lookup{Query: strings.Join(branches, "\nUNION\n"), Args: args}, true
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Row is one result row of a Lookup
type Row struct {
	ID                 int
	IDLocation         sql.NullInt64
	IDCountry          sql.NullInt64
	ISO2               sql.NullString
	ISO3               sql.NullString
	ISONumeric         sql.NullInt64
	Fips               sql.NullString
	Country            sql.NullString
	Capital            sql.NullString
	Languages          sql.NullString
	Continent          sql.NullString
	Neighbours         sql.NullString
	Area               sql.NullInt64
	Population         sql.NullInt64
	TLD                sql.NullString
	CurrencyCode       sql.NullString
	CurrencyName       sql.NullString
	Phone              sql.NullString
	PostalCodeFormat   sql.NullString
	PostalCodeRegex    sql.NullString
	Name               sql.NullString
	AsciiName          sql.NullString
	Latitude           sql.NullFloat64
	Longitude          sql.NullFloat64
	FeatureClass       sql.NullString
	FeatureCode        sql.NullString
	CountryCode        sql.NullString
	Admin1Code         sql.NullString
	LocationPopulation sql.NullInt64
	Elevation          sql.NullInt64
	TimeZone           sql.NullString
}

func (r *Row) dest() []interface{} {
	return []interface{}{
		&r.ID, &r.IDLocation, &r.IDCountry,
		&r.ISO2, &r.ISO3, &r.ISONumeric, &r.Fips, &r.Country, &r.Capital, &r.Languages,
		&r.Continent, &r.Neighbours, &r.Area, &r.Population, &r.TLD,
		&r.CurrencyCode, &r.CurrencyName, &r.Phone,
		&r.PostalCodeFormat, &r.PostalCodeRegex,
		&r.Name, &r.AsciiName, &r.Latitude, &r.Longitude,
		&r.FeatureClass, &r.FeatureCode, &r.CountryCode, &r.Admin1Code,
		&r.LocationPopulation,
		&r.Elevation, &r.TimeZone,
	}
}

// Fields converts the row into storage-named fields, leaving out NULLs
func (r *Row) Fields() Fields {
	f := Fields{"geoname_id": r.ID}

	ints := map[string]sql.NullInt64{
		"id_location": r.IDLocation,
		"id_country":  r.IDCountry,
		"isoN":        r.ISONumeric,
		"area":        r.Area,
		"elevation":   r.Elevation,
	}
	for key, v := range ints {
		if v.Valid {
			f[key] = v.Int64
		}
	}

	if r.Population.Valid && r.Population.Int64 != 0 {
		f["population"] = r.Population.Int64
	} else if r.LocationPopulation.Valid {
		f["population"] = r.LocationPopulation.Int64
	}

	// the country table's code is authoritative; the location cache code
	// is only used for rows without a country table match
	if r.ISO2.Valid && r.ISO2.String != "" {
		f["iso2"] = r.ISO2.String
	} else if r.CountryCode.Valid {
		f["country_code"] = r.CountryCode.String
	}

	strs := map[string]sql.NullString{
		"iso3":               r.ISO3,
		"fips":               r.Fips,
		"country":            r.Country,
		"capital":            r.Capital,
		"languages":          r.Languages,
		"continent":          r.Continent,
		"neighbours":         r.Neighbours,
		"tld":                r.TLD,
		"currency_code":      r.CurrencyCode,
		"currency_name":      r.CurrencyName,
		"phone":              r.Phone,
		"postal_code_format": r.PostalCodeFormat,
		"postal_code_regex":  r.PostalCodeRegex,
		"name":               r.Name,
		"ascii_name":         r.AsciiName,
		"feature_class":      r.FeatureClass,
		"feature_code":       r.FeatureCode,
		"admin1_code":        r.Admin1Code,
		"timezone":           r.TimeZone,
	}
	for key, v := range strs {
		if v.Valid {
			f[key] = v.String
		}
	}

	if r.Latitude.Valid {
		f["latitude"] = r.Latitude.Float64
	}
	if r.Longitude.Valid {
		f["longitude"] = r.Longitude.Float64
	}

	return f
}

// scanRows reads every row of a Lookup result
func scanRows(rows *sql.Rows) ([]Row, error) {
	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, fmt.Errorf("failed to scan country row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read country rows: %w", err)
	}
	return out, nil
}
