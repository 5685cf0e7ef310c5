package types

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"strings"
	"testing"
)

func TestCountryInfo_JSONFieldNames(t *testing.T) {
	info := CountryInfo{
		GeonameID:    6252001,
		ISO2:         "US",
		ISO3:         "USA",
		ISONumeric:   840,
		Country:      "United States",
		Capital:      "Washington",
		Area:         9629091,
		CurrencyCode: "USD",
	}

	data, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("Failed to marshal to JSON: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}

	expected := map[string]interface{}{
		"geoname_id":    float64(6252001),
		"iso2":          "US",
		"iso3":          "USA",
		"iso_numeric":   float64(840),
		"country":       "United States",
		"capital":       "Washington",
		"area":          float64(9629091),
		"currency_code": "USD",
	}

	for key, want := range expected {
		if got := decoded[key]; got != want {
			t.Errorf("JSON field %s: got %v, want %v", key, got, want)
		}
	}
}

func TestCountryInfo_XMLSpecialCharacters(t *testing.T) {
	info := CountryInfo{
		ISO2:    "XX",
		Country: "Test & <XML> \"Country\"",
	}

	data, err := xml.Marshal(info)
	if err != nil {
		t.Fatalf("Failed to marshal to XML: %v", err)
	}

	var decoded CountryInfo
	if err := xml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal from XML: %v", err)
	}

	if decoded.Country != info.Country {
		t.Errorf("XML escaping lost data: got %q, want %q", decoded.Country, info.Country)
	}
}

func TestCountryInfo_CSVRecordMatchesHeader(t *testing.T) {
	info := &CountryInfo{
		GeonameID:  3017382,
		ISO2:       "FR",
		Country:    "France",
		Languages:  "fr-FR,frp,br,co,ca,eu,oc",
		Neighbours: "CH,DE,BE,LU,IT,AD,MC,ES",
		Latitude:   46,
		Longitude:  2,
	}

	header := CSVHeader()
	record := info.CSVRecord()

	if len(header) != len(record) {
		t.Fatalf("header has %d columns, record has %d", len(header), len(record))
	}

	columns := make(map[string]string, len(header))
	for i, name := range header {
		columns[name] = record[i]
	}

	tests := map[string]string{
		"geoname_id": "3017382",
		"iso2":       "FR",
		"country":    "France",
		"languages":  "fr-FR,frp,br,co,ca,eu,oc",
		"latitude":   "46.000000",
		"longitude":  "2.000000",
	}

	for name, want := range tests {
		if got := columns[name]; got != want {
			t.Errorf("column %s: got %q, want %q", name, got, want)
		}
	}
}

func TestCountryInfo_CSVQuoting(t *testing.T) {
	info := &CountryInfo{
		ISO2:         "BQ",
		Country:      "Bonaire, Saint Eustatius and Saba",
		CurrencyName: "Dollar \"US\"",
	}

	var buf strings.Builder
	writer := csv.NewWriter(&buf)
	if err := writer.Write(CSVHeader()); err != nil {
		t.Fatalf("Failed to write CSV header: %v", err)
	}
	if err := writer.Write(info.CSVRecord()); err != nil {
		t.Fatalf("Failed to write CSV record: %v", err)
	}
	writer.Flush()

	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("Failed to read CSV back: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("Expected 2 CSV rows, got %d", len(rows))
	}
	if rows[1][5] != info.Country {
		t.Errorf("country column: got %q, want %q", rows[1][5], info.Country)
	}
	if rows[1][13] != info.CurrencyName {
		t.Errorf("currency_name column: got %q, want %q", rows[1][13], info.CurrencyName)
	}
}
