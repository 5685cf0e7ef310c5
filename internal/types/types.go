package types

import "strconv"

// Location represents a row of the location cache
type Location struct {
	GeonameID     int     `json:"geoname_id" xml:"geoname_id" csv:"geoname_id"`
	Name          string  `json:"name" xml:"name" csv:"name"`
	AsciiName     string  `json:"ascii_name" xml:"ascii_name" csv:"ascii_name"`
	Latitude      float64 `json:"latitude" xml:"latitude" csv:"latitude"`
	Longitude     float64 `json:"longitude" xml:"longitude" csv:"longitude"`
	FeatureClass  string  `json:"feature_class" xml:"feature_class" csv:"feature_class"`
	FeatureCode   string  `json:"feature_code" xml:"feature_code" csv:"feature_code"`
	CountryCode   string  `json:"country_code" xml:"country_code" csv:"country_code"`
	Admin1Code    string  `json:"admin1_code" xml:"admin1_code" csv:"admin1_code"`
	ContinentCode string  `json:"continent_code" xml:"continent_code" csv:"continent_code"`
	Population    int64   `json:"population" xml:"population" csv:"population"`
	Elevation     int     `json:"elevation" xml:"elevation" csv:"elevation"`
	TimeZone      string  `json:"timezone" xml:"timezone" csv:"timezone"`
}

// CountryInfo is the public view of a cached country
type CountryInfo struct {
	GeonameID        int     `json:"geoname_id" xml:"geoname_id" csv:"geoname_id"`
	ISO2             string  `json:"iso2" xml:"iso2" csv:"iso2"`
	ISO3             string  `json:"iso3" xml:"iso3" csv:"iso3"`
	ISONumeric       int     `json:"iso_numeric" xml:"iso_numeric" csv:"iso_numeric"`
	FipsCode         string  `json:"fips_code" xml:"fips_code" csv:"fips_code"`
	Country          string  `json:"country" xml:"country" csv:"country"`
	Name             string  `json:"name" xml:"name" csv:"name"`
	Capital          string  `json:"capital" xml:"capital" csv:"capital"`
	Area             int64   `json:"area" xml:"area" csv:"area"`
	Population       int64   `json:"population" xml:"population" csv:"population"`
	Continent        string  `json:"continent" xml:"continent" csv:"continent"`
	TLD              string  `json:"tld" xml:"tld" csv:"tld"`
	CurrencyCode     string  `json:"currency_code" xml:"currency_code" csv:"currency_code"`
	CurrencyName     string  `json:"currency_name" xml:"currency_name" csv:"currency_name"`
	Phone            string  `json:"phone" xml:"phone" csv:"phone"`
	PostalCodeFormat string  `json:"postal_code_format" xml:"postal_code_format" csv:"postal_code_format"`
	PostalCodeRegex  string  `json:"postal_code_regex" xml:"postal_code_regex" csv:"postal_code_regex"`
	Languages        string  `json:"languages" xml:"languages" csv:"languages"`
	Neighbours       string  `json:"neighbours" xml:"neighbours" csv:"neighbours"`
	Latitude         float64 `json:"latitude" xml:"latitude" csv:"latitude"`
	Longitude        float64 `json:"longitude" xml:"longitude" csv:"longitude"`
	TimeZone         string  `json:"timezone" xml:"timezone" csv:"timezone"`
}

// CSVHeader lists the CSV column names in record order
func CSVHeader() []string {
	return []string{
		"geoname_id", "iso2", "iso3", "iso_numeric", "fips_code", "country",
		"name", "capital", "area", "population", "continent", "tld",
		"currency_code", "currency_name", "phone", "postal_code_format",
		"postal_code_regex", "languages", "neighbours", "latitude",
		"longitude", "timezone",
	}
}

// CSVRecord renders the country in CSVHeader order
func (c *CountryInfo) CSVRecord() []string {
	return []string{
		strconv.Itoa(c.GeonameID),
		c.ISO2,
		c.ISO3,
		strconv.Itoa(c.ISONumeric),
		c.FipsCode,
		c.Country,
		c.Name,
		c.Capital,
		strconv.FormatInt(c.Area, 10),
		strconv.FormatInt(c.Population, 10),
		c.Continent,
		c.TLD,
		c.CurrencyCode,
		c.CurrencyName,
		c.Phone,
		c.PostalCodeFormat,
		c.PostalCodeRegex,
		c.Languages,
		c.Neighbours,
		strconv.FormatFloat(c.Latitude, 'f', 6, 64),
		strconv.FormatFloat(c.Longitude, 'f', 6, 64),
		c.TimeZone,
	}
}
