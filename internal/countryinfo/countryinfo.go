package countryinfo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/kyxap1/geonames-cache/internal/country"

	"github.com/spf13/cast"
)

// ErrNotFound is returned when the catalog has no record for an id or code
var ErrNotFound = errors.New("country not found in catalog")

// DefaultURL is the GeoNames country info dump
const DefaultURL = "https://download.geonames.org/export/dump/countryInfo.txt"

const columns = 19

// Record is one line of countryInfo.txt
type Record struct {
	ISO                string
	ISO3               string
	ISONumeric         int
	Fips               string
	Country            string
	Capital            string
	Area               int64
	Population         int64
	Continent          string
	TLD                string
	CurrencyCode       string
	CurrencyName       string
	Phone              string
	PostalCodeFormat   string
	PostalCodeRegex    string
	Languages          string
	GeonameID          int
	Neighbours         string
	EquivalentFipsCode string
}

// CountryFields returns the record named like a GeoNames countryInfo
// web service response
func (r *Record) CountryFields() country.Fields {
	return country.Fields{
		"geonameId":        r.GeonameID,
		"countryCode":      r.ISO,
		"isoAlpha3":        r.ISO3,
		"isoNumeric":       r.ISONumeric,
		"fipsCode":         r.Fips,
		"countryName":      r.Country,
		"capital":          r.Capital,
		"areaInSqKm":       r.Area,
		"population":       r.Population,
		"continent":        r.Continent,
		"tld":              r.TLD,
		"currencyCode":     r.CurrencyCode,
		"currencyName":     r.CurrencyName,
		"phone":            r.Phone,
		"postalCodeFormat": r.PostalCodeFormat,
		"postalCodeRegex":  r.PostalCodeRegex,
		"languages":        r.Languages,
		"neighbours":       r.Neighbours,
	}
}

// LocationFields returns the record as a location. The dump lists
// political entities only, so every record is an A.PCLI feature.
func (r *Record) LocationFields(style string) country.Fields {
	f := country.Fields{
		"geonameId":   r.GeonameID,
		"name":        r.Country,
		"countryCode": r.ISO,
		"fcl":         "A",
		"fcode":       "PCLI",
	}
	if style == "full" {
		f["toponymName"] = r.Country
		f["population"] = r.Population
		f["continentCode"] = r.Continent
	}
	return f
}

// Parse reads countryInfo.txt. Comment lines and lines without an ISO
// code or geoname id are skipped.
func Parse(r io.Reader) ([]Record, error) {
	var records []Record

	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanLines)

	line := 0
	for scanner.Scan() {
		line++
		t := scanner.Text()
		if len(strings.TrimSpace(t)) == 0 || t[0] == '#' {
			continue
		}

		fields := strings.SplitN(t, "\t", columns)
		for len(fields) < columns {
			fields = append(fields, "")
		}
		if fields[0] == "" || fields[16] == "" || fields[16] == "0" {
			continue
		}

		rec, err := parseRecord(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read country info: %w", err)
	}

	return records, nil
}

func parseRecord(fields []string) (Record, error) {
	isoNumeric, err := toInt(fields[2])
	if err != nil {
		return Record{}, fmt.Errorf("iso numeric: %w", err)
	}
	// areas are published with a fractional part for small territories
	area, err := cast.ToFloat64E(orZero(fields[6]))
	if err != nil {
		return Record{}, fmt.Errorf("area: %w", err)
	}
	population, err := toInt(fields[7])
	if err != nil {
		return Record{}, fmt.Errorf("population: %w", err)
	}
	geonameID, err := toInt(fields[16])
	if err != nil {
		return Record{}, fmt.Errorf("geoname id: %w", err)
	}

	return Record{
		ISO:                country.NormalizeCode(fields[0]),
		ISO3:               fields[1],
		ISONumeric:         int(isoNumeric),
		Fips:               fields[3],
		Country:            fields[4],
		Capital:            fields[5],
		Area:               int64(area),
		Population:         population,
		Continent:          fields[8],
		TLD:                fields[9],
		CurrencyCode:       fields[10],
		CurrencyName:       fields[11],
		Phone:              fields[12],
		PostalCodeFormat:   fields[13],
		PostalCodeRegex:    fields[14],
		Languages:          fields[15],
		GeonameID:          int(geonameID),
		Neighbours:         fields[17],
		EquivalentFipsCode: strings.TrimSpace(fields[18]),
	}, nil
}

// toInt parses base 10; ISO numeric codes carry leading zeros
func toInt(s string) (int64, error) {
	return cast.ToInt64E(orZero(strings.TrimLeft(strings.TrimSpace(s), "0")))
}

func orZero(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "0"
	}
	return s
}

// Catalog indexes dump records by geoname id and ISO code. It implements
// country.Source.
type Catalog struct {
	byID   map[int]*Record
	byCode map[string]*Record
}

// NewCatalog indexes records. Later duplicates replace earlier ones.
func NewCatalog(records []Record) *Catalog {
	c := &Catalog{
		byID:   make(map[int]*Record, len(records)),
		byCode: make(map[string]*Record, len(records)),
	}
	for i := range records {
		rec := &records[i]
		c.byID[rec.GeonameID] = rec
		c.byCode[rec.ISO] = rec
	}
	return c
}

// Load parses the dump at path into a catalog
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open country info: %w", err)
	}
	defer f.Close()

	records, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return NewCatalog(records), nil
}

// Len returns the number of countries
func (c *Catalog) Len() int {
	return len(c.byID)
}

// Records returns every record ordered by ISO code
func (c *Catalog) Records() []*Record {
	out := make([]*Record, 0, len(c.byID))
	for _, rec := range c.byID {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ISO < out[j].ISO
	})
	return out
}

// Get returns the location fields of a geoname id
func (c *Catalog) Get(ctx context.Context, geonameID int, style string) (country.Fields, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := c.byID[geonameID]
	if !ok {
		return nil, fmt.Errorf("geoname id %d: %w", geonameID, ErrNotFound)
	}
	return rec.LocationFields(style), nil
}

// CountryInfo returns the country fields of an ISO code
func (c *Catalog) CountryInfo(ctx context.Context, code string) (country.Fields, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := c.byCode[country.NormalizeCode(code)]
	if !ok {
		return nil, fmt.Errorf("country code %q: %w", code, ErrNotFound)
	}
	return rec.CountryFields(), nil
}
