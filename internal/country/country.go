package country

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kyxap1/geonames-cache/internal/types"

	"github.com/spf13/cast"
)

var (
	// ErrIdentityConflict is returned when a geoname id or ISO2 code would
	// change on an entity, or would be claimed by a second entity.
	ErrIdentityConflict = errors.New("identity conflict")

	// ErrInvalidIdentifier is returned for non-positive ids and empty codes
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// Country is a country entity backed by the country table and the
// location cache. Identity fields are immutable once set; use the setters.
type Country struct {
	geonameID int
	iso2      string

	// load markers: geoname id seen in each backing table, or from the source
	idCountry  int
	idLocation int
	idAPI      int

	registry *Registry

	ISO3             string
	ISONumeric       int
	FipsCode         string
	Country          string
	Capital          string
	Area             int64
	Population       int64
	ContinentCode    string
	TLD              string
	CurrencyCode     string
	CurrencyName     string
	Phone            string
	PostalCodeFormat string
	PostalCodeRegex  string
	Languages        string
	Neighbours       string

	Name         string
	AsciiName    string
	Latitude     float64
	Longitude    float64
	FeatureClass string
	FeatureCode  string
	Admin1Code   string
	Elevation    int
	TimeZone     string
}

// GeonameID returns the geoname id, zero when unset
func (c *Country) GeonameID() int {
	return c.geonameID
}

// ISO2 returns the ISO 3166-1 alpha-2 code, empty when unset
func (c *Country) ISO2() string {
	return c.iso2
}

// SetGeonameID sets the geoname id and registers it
func (c *Country) SetGeonameID(id int) error {
	if id <= 0 {
		return fmt.Errorf("%w: geoname id %d", ErrInvalidIdentifier, id)
	}
	return c.assignIdentity(id, "")
}

// SetISO2 sets the country code and registers it
func (c *Country) SetISO2(code string) error {
	code = NormalizeCode(code)
	if code == "" {
		return fmt.Errorf("%w: empty country code", ErrInvalidIdentifier)
	}
	return c.assignIdentity(0, code)
}

// assignIdentity sets id and/or code. Both are validated against the entity
// and the registry before anything is mutated.
func (c *Country) assignIdentity(id int, code string) error {
	if id > 0 && c.geonameID > 0 && c.geonameID != id {
		return fmt.Errorf("%w: geoname id of an object cannot be changed, old: %d, new: %d",
			ErrIdentityConflict, c.geonameID, id)
	}
	if code != "" && c.iso2 != "" && c.iso2 != code {
		return fmt.Errorf("%w: country code of an object cannot be changed, old: %s, new: %s",
			ErrIdentityConflict, c.iso2, code)
	}

	if c.registry != nil {
		if err := c.registry.claim(c, id, code); err != nil {
			return err
		}
	}

	if id > 0 {
		c.geonameID = id
	}
	if code != "" {
		c.iso2 = code
	}
	return nil
}

// LoadedFromCountryTable reports whether a country table row was merged
func (c *Country) LoadedFromCountryTable() bool {
	return c.idCountry > 0
}

// LoadedFromLocationCache reports whether a location cache row was merged
func (c *Country) LoadedFromLocationCache() bool {
	return c.idLocation > 0
}

// Apply merges f into the entity. Non-empty values replace the current
// ones; empty and zero values never erase data. Identity fields go through
// the same checks as the setters. Every value is converted before the
// entity changes, so a failed Apply leaves it untouched.
func (c *Country) Apply(f Fields) error {
	values := f.normalize()

	id, err := intField(values, fieldGeonameID)
	if err != nil {
		return err
	}
	code, err := stringField(values, fieldISO2)
	if err != nil {
		return err
	}
	code = NormalizeCode(code)
	if id < 0 {
		return fmt.Errorf("%w: geoname id %d", ErrInvalidIdentifier, id)
	}

	var writes []func()

	markers := map[string]*int{
		fieldIDCountry:  &c.idCountry,
		fieldIDLocation: &c.idLocation,
	}
	for name, dst := range markers {
		n, err := intField(values, name)
		if err != nil {
			return err
		}
		if n > 0 {
			dst, v := dst, int(n)
			writes = append(writes, func() { *dst = v })
		}
	}

	smallInts := map[string]*int{
		fieldISONumeric: &c.ISONumeric,
		fieldElevation:  &c.Elevation,
	}
	for name, dst := range smallInts {
		n, err := intField(values, name)
		if err != nil {
			return err
		}
		if n != 0 {
			dst, v := dst, int(n)
			writes = append(writes, func() { *dst = v })
		}
	}

	strs := map[string]*string{
		fieldISO3:             &c.ISO3,
		fieldFipsCode:         &c.FipsCode,
		fieldCountry:          &c.Country,
		fieldCapital:          &c.Capital,
		fieldContinent:        &c.ContinentCode,
		fieldTLD:              &c.TLD,
		fieldCurrencyCode:     &c.CurrencyCode,
		fieldCurrencyName:     &c.CurrencyName,
		fieldPhone:            &c.Phone,
		fieldPostalCodeFormat: &c.PostalCodeFormat,
		fieldPostalCodeRegex:  &c.PostalCodeRegex,
		fieldLanguages:        &c.Languages,
		fieldNeighbours:       &c.Neighbours,
		fieldName:             &c.Name,
		fieldAsciiName:        &c.AsciiName,
		fieldFeatureClass:     &c.FeatureClass,
		fieldFeatureCode:      &c.FeatureCode,
		fieldAdmin1Code:       &c.Admin1Code,
		fieldTimeZone:         &c.TimeZone,
	}
	for name, dst := range strs {
		s, err := stringField(values, name)
		if err != nil {
			return err
		}
		if s != "" {
			dst, v := dst, s
			writes = append(writes, func() { *dst = v })
		}
	}

	ints := map[string]*int64{
		fieldArea:       &c.Area,
		fieldPopulation: &c.Population,
	}
	for name, dst := range ints {
		n, err := intField(values, name)
		if err != nil {
			return err
		}
		if n != 0 {
			dst, v := dst, n
			writes = append(writes, func() { *dst = v })
		}
	}

	floats := map[string]*float64{
		fieldLatitude:  &c.Latitude,
		fieldLongitude: &c.Longitude,
	}
	for name, dst := range floats {
		v, ok := values[name]
		if !ok {
			continue
		}
		n, err := cast.ToFloat64E(v)
		if err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
		if n != 0 {
			dst := dst
			writes = append(writes, func() { *dst = n })
		}
	}

	if id > 0 || code != "" {
		if err := c.assignIdentity(int(id), code); err != nil {
			return err
		}
	}
	for _, write := range writes {
		write()
	}
	return nil
}

// Info returns the public view of the entity
func (c *Country) Info() *types.CountryInfo {
	return &types.CountryInfo{
		GeonameID:        c.geonameID,
		ISO2:             c.iso2,
		ISO3:             c.ISO3,
		ISONumeric:       c.ISONumeric,
		FipsCode:         c.FipsCode,
		Country:          c.Country,
		Name:             c.Name,
		Capital:          c.Capital,
		Area:             c.Area,
		Population:       c.Population,
		Continent:        c.ContinentCode,
		TLD:              c.TLD,
		CurrencyCode:     c.CurrencyCode,
		CurrencyName:     c.CurrencyName,
		Phone:            c.Phone,
		PostalCodeFormat: c.PostalCodeFormat,
		PostalCodeRegex:  c.PostalCodeRegex,
		Languages:        c.Languages,
		Neighbours:       c.Neighbours,
		Latitude:         c.Latitude,
		Longitude:        c.Longitude,
		TimeZone:         c.TimeZone,
	}
}

// NormalizeCode trims and upper-cases a country code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func stringField(values Fields, name string) (string, error) {
	v, ok := values[name]
	if !ok {
		return "", nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("field %s: %w", name, err)
	}
	return s, nil
}

func intField(values Fields, name string) (int64, error) {
	v, ok := values[name]
	if !ok {
		return 0, nil
	}
	if s, isString := v.(string); isString {
		if strings.TrimSpace(s) == "" {
			return 0, nil
		}
		v = decimal(s)
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		// GeoNames publishes some areas with a fractional part
		f, ferr := cast.ToFloat64E(v)
		if ferr != nil {
			return 0, fmt.Errorf("field %s: %w", name, err)
		}
		n = int64(f)
	}
	return n, nil
}

// decimal strips leading zeros so numeric strings such as ISO numeric
// codes ("036") are read in base 10
func decimal(s string) string {
	s = strings.TrimSpace(s)
	sign := ""
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		sign, s = s[:1], s[1:]
	}
	s = strings.TrimLeft(s, "0")
	if s == "" || s[0] == '.' {
		s = "0" + s
	}
	return sign + s
}
