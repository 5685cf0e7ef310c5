package country

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/kyxap1/geonames-cache/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus/hooks/test"
)

var lookupColumnNames = []string{
	"id", "id_location", "id_country",
	"iso2", "iso3", "isoN", "fips", "country", "capital", "languages",
	"continent", "neighbours", "area", "population", "tld",
	"currency_code", "currency_name", "phone",
	"postal_code_format", "postal_code_regex",
	"name", "ascii_name", "latitude", "longitude",
	"feature_class", "feature_code", "country_code", "admin1_code",
	"location_population", "elevation", "timezone",
}

// lookupRow builds a result row with every column NULL except those in values
func lookupRow(values map[string]driver.Value) []driver.Value {
	row := make([]driver.Value, len(lookupColumnNames))
	for i, name := range lookupColumnNames {
		row[i] = values[name]
	}
	return row
}

type fakeSource struct {
	locations map[int]Fields
	countries map[string]Fields
	err       error
	calls     []string
}

func (s *fakeSource) Get(ctx context.Context, geonameID int, style string) (Fields, error) {
	s.calls = append(s.calls, "get")
	if s.err != nil {
		return nil, s.err
	}
	f, ok := s.locations[geonameID]
	if !ok {
		return nil, errors.New("location not found")
	}
	return f, nil
}

func (s *fakeSource) CountryInfo(ctx context.Context, code string) (Fields, error) {
	s.calls = append(s.calls, "countryInfo")
	if s.err != nil {
		return nil, s.err
	}
	f, ok := s.countries[code]
	if !ok {
		return nil, errors.New("country not found")
	}
	return f, nil
}

func newTestRepository(t *testing.T, prefix string, source Source) (*Repository, sqlmock.Sqlmock, *test.Hook) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	logger, hook := test.NewNullLogger()
	db := store.New(conn, prefix, logger)
	return NewRepository(db, source, nil, logger), mock, hook
}

func TestRepository_LoadByID(t *testing.T) {
	repo, mock, _ := newTestRepository(t, "wp_", nil)

	lookup, _ := BuildLookup([]int{840}, nil, DefaultFeatureFilters)
	args := make([]driver.Value, len(lookup.Args))
	for i, a := range lookup.Args {
		args[i] = a
	}

	mock.ExpectQuery(regexp.QuoteMeta(lookup.Query)).
		WithArgs(args...).
		WillReturnRows(sqlmock.NewRows(lookupColumnNames).AddRow(lookupRow(map[string]driver.Value{
			"id":          int64(840),
			"id_country":  int64(840),
			"iso2":        "US",
			"iso3":        "USA",
			"country":     "United States",
			"capital":     "Washington",
			"area":        int64(9629091),
			"population":  int64(327167434),
			"id_location": int64(840),
			"name":        "United States",
			"latitude":    39.76,
			"longitude":   -98.5,
		})...))

	reg := NewRegistry()
	countries, err := repo.Load(context.Background(), reg, ID(840))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(countries) != 1 {
		t.Fatalf("Expected 1 country, got %d", len(countries))
	}
	us := countries[0]
	if us.ISO2() != "US" || us.GeonameID() != 840 {
		t.Errorf("Unexpected identity %d/%s", us.GeonameID(), us.ISO2())
	}
	if us.Capital != "Washington" || us.Area != 9629091 {
		t.Errorf("Row data not merged: capital %q area %d", us.Capital, us.Area)
	}
	if got, _ := reg.ByCode("US"); got != us {
		t.Error("Loaded entity is not registered by code")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestRepository_LoadLocationOnlyByID(t *testing.T) {
	repo, mock, _ := newTestRepository(t, "wp_", nil)

	// a location cache row outside the country features, with no country row
	mock.ExpectQuery(regexp.QuoteMeta("WHERE l.geoname_id IN (?)")).
		WithArgs(6697173, 6697173).
		WillReturnRows(sqlmock.NewRows(lookupColumnNames).AddRow(lookupRow(map[string]driver.Value{
			"id":            int64(6697173),
			"id_location":   int64(6697173),
			"name":          "Antarctica",
			"feature_class": "L",
			"feature_code":  "CONT",
			"country_code":  "AQ",
			"latitude":      -78.15856,
			"longitude":     16.40626,
		})...))

	reg := NewRegistry()
	countries, err := repo.Load(context.Background(), reg, ID(6697173))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(countries) != 1 {
		t.Fatalf("Expected 1 country, got %d", len(countries))
	}
	aq := countries[0]
	if aq.GeonameID() != 6697173 || aq.Name != "Antarctica" {
		t.Errorf("Unexpected country %d/%q", aq.GeonameID(), aq.Name)
	}
	if !aq.LoadedFromLocationCache() || aq.LoadedFromCountryTable() {
		t.Errorf("Expected a location cache row only, got location %v country %v",
			aq.LoadedFromLocationCache(), aq.LoadedFromCountryTable())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestRepository_LoadRegisteredIssuesNoQuery(t *testing.T) {
	repo, mock, _ := newTestRepository(t, "wp_", nil)

	reg := NewRegistry()
	us := reg.NewCountry()
	if err := us.Apply(Fields{"geoname_id": 6252001, "iso2": "US"}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	countries, err := repo.Load(context.Background(), reg, Code("US"), Code("US"), ID(6252001))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(countries) != 1 || countries[0] != us {
		t.Errorf("Expected the registered instance once, got %d entities", len(countries))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unexpected database activity: %v", err)
	}
}

func TestRepository_LoadInvalidInput(t *testing.T) {
	repo, mock, hook := newTestRepository(t, "wp_", nil)

	countries, err := repo.Load(context.Background(), NewRegistry(), Object{Fields: Fields{"invalidShape": true}})
	if err != nil {
		t.Fatalf("Invalid input must not fail the load: %v", err)
	}
	if len(countries) != 0 {
		t.Errorf("Expected no countries, got %d", len(countries))
	}
	if len(hook.Entries) != 1 {
		t.Errorf("Expected one log entry, got %d", len(hook.Entries))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unexpected database activity: %v", err)
	}
}

func TestRepository_LoadKeepsInputOrder(t *testing.T) {
	repo, mock, _ := newTestRepository(t, "wp_", nil)

	reg := NewRegistry()
	us := reg.NewCountry()
	if err := us.Apply(Fields{"geoname_id": 6252001, "iso2": "US"}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	mock.ExpectQuery("UNION").
		WillReturnRows(sqlmock.NewRows(lookupColumnNames).
			AddRow(lookupRow(map[string]driver.Value{
				"id": int64(2921044), "id_country": int64(2921044), "iso2": "DE",
			})...).
			AddRow(lookupRow(map[string]driver.Value{
				"id": int64(3017382), "id_country": int64(3017382), "iso2": "FR",
			})...))

	countries, err := repo.Load(context.Background(), reg, Code("fr"), ID(6252001), Code("DE"), Code("XX"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var got []string
	for _, c := range countries {
		got = append(got, c.ISO2())
	}
	if strings.Join(got, ",") != "FR,US,DE" {
		t.Errorf("Expected FR,US,DE, got %v", got)
	}
}

func TestRepository_LoadStorageError(t *testing.T) {
	repo, mock, _ := newTestRepository(t, "wp_", nil)

	mock.ExpectQuery("UNION").WillReturnError(errors.New("connection lost"))

	_, err := repo.Load(context.Background(), NewRegistry(), ID(840))
	if err == nil {
		t.Fatal("Expected storage error to propagate")
	}
	if !strings.Contains(err.Error(), "connection lost") {
		t.Errorf("Expected underlying error message, got %v", err)
	}
}

func TestRepository_LoadTablePrefix(t *testing.T) {
	repo, mock, _ := newTestRepository(t, "geo_", nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM `geo_geonames_countries` c")).
		WillReturnRows(sqlmock.NewRows(lookupColumnNames))

	countries, err := repo.Load(context.Background(), NewRegistry(), Code("US"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(countries) != 0 {
		t.Errorf("Expected no countries for an empty result, got %d", len(countries))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestBuildUpsert_Coalesce(t *testing.T) {
	for _, want := range []string{
		"INSERT INTO `wp_geonames_countries`",
		"ON DUPLICATE KEY UPDATE",
		"`db_update` = CURRENT_TIMESTAMP",
		"`capital` = COALESCE(NULLIF(VALUES(`capital`), ''), `capital`)",
		"`area` = COALESCE(NULLIF(VALUES(`area`), 0), `area`)",
	} {
		if !strings.Contains(countryUpsert, want) {
			t.Errorf("Country upsert missing %q:\n%s", want, countryUpsert)
		}
	}
	if strings.Contains(countryUpsert, "`geoname_id` = COALESCE") {
		t.Error("Key column must not be part of the update clause")
	}
	if got := strings.Count(countryUpsert, "?"); got != len(countryColumns) {
		t.Errorf("Expected %d placeholders, got %d", len(countryColumns), got)
	}
	if got := strings.Count(locationUpsert, "?"); got != len(locationColumns) {
		t.Errorf("Expected %d placeholders, got %d", len(locationColumns), got)
	}
}

func TestRepository_SaveCoalesce(t *testing.T) {
	repo, mock, _ := newTestRepository(t, "wp_", nil)

	// already loaded from both tables, so nothing is fetched
	c := NewRegistry().NewCountry()
	err := c.Apply(Fields{
		"geoname_id":  6252001,
		"iso2":        "US",
		"capital":     "Washington",
		"id_country":  6252001,
		"id_location": 6252001,
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(countryUpsert)).
		WithArgs(6252001, "US", nil, 0, nil, nil, "Washington", nil, nil, nil, 0, 0, nil, nil, nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(locationUpsert)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := repo.Save(context.Background(), c); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestRepository_SaveFetchesMissingData(t *testing.T) {
	source := &fakeSource{
		countries: map[string]Fields{
			"US": {"geonameId": 6252001, "countryCode": "US", "capital": "Washington", "areaInSqKm": "9629091.0"},
		},
		locations: map[int]Fields{
			6252001: {"geonameId": 6252001, "name": "United States", "fcl": "A", "fcode": "PCLI", "lat": "39.76", "lng": "-98.5"},
		},
	}
	repo, mock, _ := newTestRepository(t, "wp_", source)

	c := NewRegistry().NewCountry()
	if err := c.SetISO2("us"); err != nil {
		t.Fatalf("SetISO2 failed: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(countryUpsert)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(locationUpsert)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := repo.Save(context.Background(), c); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if strings.Join(source.calls, ",") != "countryInfo,get" {
		t.Errorf("Expected one country info call then one location call, got %v", source.calls)
	}
	if c.GeonameID() != 6252001 || c.Area != 9629091 || c.FeatureCode != "PCLI" {
		t.Errorf("Source data not merged: id %d area %d fcode %q", c.GeonameID(), c.Area, c.FeatureCode)
	}
	if !c.LoadedFromCountryTable() || !c.LoadedFromLocationCache() {
		t.Error("Expected storage markers after a successful save")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestRepository_SaveSourceFailure(t *testing.T) {
	sourceErr := errors.New("service unavailable")
	repo, mock, _ := newTestRepository(t, "wp_", &fakeSource{err: sourceErr})

	c := NewRegistry().NewCountry()
	if err := c.SetGeonameID(6252001); err != nil {
		t.Fatalf("SetGeonameID failed: %v", err)
	}

	err := repo.Save(context.Background(), c)
	if !errors.Is(err, sourceErr) {
		t.Fatalf("Expected source error, got %v", err)
	}

	// nothing may reach storage
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unexpected database activity: %v", err)
	}
}

func TestRepository_SaveWithoutSource(t *testing.T) {
	repo, _, _ := newTestRepository(t, "wp_", nil)

	c := NewRegistry().NewCountry()
	if err := c.SetGeonameID(6252001); err != nil {
		t.Fatalf("SetGeonameID failed: %v", err)
	}
	if err := repo.Save(context.Background(), c); !errors.Is(err, ErrNoSource) {
		t.Errorf("Expected ErrNoSource, got %v", err)
	}
}

func TestRepository_SaveRollsBack(t *testing.T) {
	repo, mock, _ := newTestRepository(t, "wp_", nil)

	c := NewRegistry().NewCountry()
	if err := c.SetGeonameID(6252001); err != nil {
		t.Fatalf("SetGeonameID failed: %v", err)
	}
	// location already fetched from the source
	c.idAPI = 6252001

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(countryUpsert)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(locationUpsert)).WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	if err := repo.Save(context.Background(), c); err == nil {
		t.Fatal("Expected save to fail")
	}
	if c.LoadedFromCountryTable() {
		t.Error("Storage markers set despite rollback")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}
