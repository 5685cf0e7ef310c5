package country

import "sort"

// Fields is a loosely typed record, as decoded from a storage row, a dump
// line or a JSON object. Keys may use any alias known to canonicalField.
type Fields map[string]interface{}

// Canonical field names understood by Country.Apply
const (
	fieldGeonameID        = "geonameId"
	fieldISO2             = "iso2"
	fieldISO3             = "iso3"
	fieldISONumeric       = "isoN"
	fieldFipsCode         = "fipsCode"
	fieldCountry          = "country"
	fieldCapital          = "capital"
	fieldArea             = "area"
	fieldPopulation       = "population"
	fieldContinent        = "continentCode"
	fieldTLD              = "tld"
	fieldCurrencyCode     = "currencyCode"
	fieldCurrencyName     = "currencyName"
	fieldPhone            = "phone"
	fieldPostalCodeFormat = "postalCodeFormat"
	fieldPostalCodeRegex  = "postalCodeRegex"
	fieldLanguages        = "languages"
	fieldNeighbours       = "neighbours"
	fieldName             = "name"
	fieldAsciiName        = "asciiName"
	fieldLatitude         = "latitude"
	fieldLongitude        = "longitude"
	fieldFeatureClass     = "featureClass"
	fieldFeatureCode      = "featureCode"
	fieldAdmin1Code       = "admin1Code"
	fieldElevation        = "elevation"
	fieldTimeZone         = "timezone"
	fieldIDCountry        = "idCountry"
	fieldIDLocation       = "idLocation"
)

var aliases = map[string]string{
	"id":                   fieldGeonameID,
	"geoname_id":           fieldGeonameID,
	"geonameid":            fieldGeonameID,
	"country_id":           fieldGeonameID,
	"countryId":            fieldGeonameID,
	"country_code":         fieldISO2,
	"countryCode":          fieldISO2,
	"iso":                  fieldISO2,
	"isoAlpha3":            fieldISO3,
	"iso_alpha3":           fieldISO3,
	"isoNumeric":           fieldISONumeric,
	"iso_numeric":          fieldISONumeric,
	"fips":                 fieldFipsCode,
	"equivalentFipsCode":   fieldFipsCode,
	"equivalent_fips_code": fieldFipsCode,
	"countryName":          fieldCountry,
	"country_name":         fieldCountry,
	"areaInSqKm":           fieldArea,
	"area_in_sq_km":        fieldArea,
	"continent":            fieldContinent,
	"continent_code":       fieldContinent,
	"currency_code":        fieldCurrencyCode,
	"currency_name":        fieldCurrencyName,
	"postal_code_format":   fieldPostalCodeFormat,
	"postal_code_regex":    fieldPostalCodeRegex,
	"ascii_name":           fieldAsciiName,
	"asciiname":            fieldAsciiName,
	"toponymName":          fieldAsciiName,
	"lat":                  fieldLatitude,
	"lng":                  fieldLongitude,
	"fcl":                  fieldFeatureClass,
	"feature_class":        fieldFeatureClass,
	"fcode":                fieldFeatureCode,
	"feature_code":         fieldFeatureCode,
	"admin1_code":          fieldAdmin1Code,
	"adminCode1":           fieldAdmin1Code,
	"time_zone":            fieldTimeZone,
	"timeZone":             fieldTimeZone,
	"id_country":           fieldIDCountry,
	"id_location":          fieldIDLocation,
}

var canonical = map[string]bool{
	fieldGeonameID: true, fieldISO2: true, fieldISO3: true, fieldISONumeric: true,
	fieldFipsCode: true, fieldCountry: true, fieldCapital: true, fieldArea: true,
	fieldPopulation: true, fieldContinent: true, fieldTLD: true, fieldCurrencyCode: true,
	fieldCurrencyName: true, fieldPhone: true, fieldPostalCodeFormat: true,
	fieldPostalCodeRegex: true, fieldLanguages: true, fieldNeighbours: true,
	fieldName: true, fieldAsciiName: true, fieldLatitude: true, fieldLongitude: true,
	fieldFeatureClass: true, fieldFeatureCode: true, fieldAdmin1Code: true,
	fieldElevation: true, fieldTimeZone: true, fieldIDCountry: true, fieldIDLocation: true,
}

// canonicalField resolves a key to its canonical field name
func canonicalField(key string) (string, bool) {
	if canonical[key] {
		return key, true
	}
	name, ok := aliases[key]
	return name, ok
}

// normalize returns a copy of f keyed by canonical names. When several
// aliases of one field are present, the canonical key wins, then the first
// alias in sorted key order.
func (f Fields) normalize() Fields {
	out := make(Fields, len(f))
	for _, key := range sortedKeys(f) {
		value := f[key]
		if value == nil {
			continue
		}
		name, ok := canonicalField(key)
		if !ok {
			continue
		}
		if _, exists := out[name]; exists && name != key {
			continue
		}
		out[name] = value
	}
	return out
}

func sortedKeys(f Fields) []string {
	keys := make([]string, 0, len(f))
	for key := range f {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
