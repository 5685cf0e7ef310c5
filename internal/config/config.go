package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/kyxap1/geonames-cache/internal/country"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// FileEnv names the environment variable pointing at an optional YAML
// config file
const FileEnv = "GEONAMES_CONFIG"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Port int `json:"port"`

	// Storage configuration
	DSN         string `json:"-"`
	TablePrefix string `json:"table_prefix"`

	// Import configuration
	DataPath       string `json:"data_path"`
	CountryInfoURL string `json:"country_info_url"`
	UpdateInterval string `json:"update_interval"`
	AutoUpdate     bool   `json:"auto_update"`

	// GeoIP configuration
	GeoIPDB string `json:"geoip_db"`

	// Cache configuration
	CacheEnabled    bool          `json:"cache_enabled"`
	CacheTTL        time.Duration `json:"cache_ttl"`
	CacheMaxEntries int           `json:"cache_max_entries"`

	// Logging configuration
	LogLevel string `json:"log_level"`

	// Feature classes and codes marking country rows in the location cache
	CountryFeatures string `json:"country_features"`
}

var defaults = map[string]interface{}{
	"http_port":         8080,
	"db_dsn":            "geonames:geonames@tcp(127.0.0.1:3306)/geonames?charset=utf8mb4",
	"table_prefix":      "wp_",
	"data_path":         "./data",
	"country_info_url":  "https://download.geonames.org/export/dump/countryInfo.txt",
	"update_interval":   "0 0 */2 * *", // every 2 days
	"auto_update":       true,
	"geoip_db":          "",
	"cache_enabled":     true,
	"cache_ttl":         time.Hour,
	"cache_max_entries": 10000,
	"log_level":         "info",
	"country_features":  "A:PCL,PCLD,PCLF,PCLI,PCLIX,PCLS,TERR",
}

// LoadConfig loads configuration from the environment and, when
// GEONAMES_CONFIG is set, from a YAML file. Environment variables win over
// the file. Invalid values fall back to the defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path := os.Getenv(FileEnv); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	return &Config{
		Port:            getInt(v, "http_port"),
		DSN:             getStr(v, "db_dsn"),
		TablePrefix:     getStr(v, "table_prefix"),
		DataPath:        getStr(v, "data_path"),
		CountryInfoURL:  getStr(v, "country_info_url"),
		UpdateInterval:  getStr(v, "update_interval"),
		AutoUpdate:      getBool(v, "auto_update"),
		GeoIPDB:         getStr(v, "geoip_db"),
		CacheEnabled:    getBool(v, "cache_enabled"),
		CacheTTL:        getDuration(v, "cache_ttl"),
		CacheMaxEntries: getInt(v, "cache_max_entries"),
		LogLevel:        getStr(v, "log_level"),
		CountryFeatures: getStr(v, "country_features"),
	}, nil
}

// FeatureFilters parses CountryFeatures, written as "A:PCL,PCLI;P:PPLC"
func (c *Config) FeatureFilters() (country.FeatureFilters, error) {
	return ParseFeatureFilters(c.CountryFeatures)
}

// ParseFeatureFilters parses "CLASS:CODE,CODE;CLASS:CODE" lists
func ParseFeatureFilters(s string) (country.FeatureFilters, error) {
	filters := country.FeatureFilters{}
	for _, group := range strings.Split(s, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}

		class, codes, ok := strings.Cut(group, ":")
		class = strings.ToUpper(strings.TrimSpace(class))
		if !ok || class == "" {
			return nil, fmt.Errorf("invalid feature filter %q: expected CLASS:CODE[,CODE]", group)
		}

		for _, code := range strings.Split(codes, ",") {
			code = strings.ToUpper(strings.TrimSpace(code))
			if code != "" {
				filters[class] = append(filters[class], code)
			}
		}
		if len(filters[class]) == 0 {
			return nil, fmt.Errorf("invalid feature filter %q: no feature codes", group)
		}
		sort.Strings(filters[class])
	}
	return filters, nil
}

// getStr returns the value of key, or its default when empty
func getStr(v *viper.Viper, key string) string {
	if s, err := cast.ToStringE(v.Get(key)); err == nil && s != "" {
		return s
	}
	return cast.ToString(defaults[key])
}

// getInt returns the value of key, or its default when not an integer
func getInt(v *viper.Viper, key string) int {
	if n, err := cast.ToIntE(v.Get(key)); err == nil {
		return n
	}
	return cast.ToInt(defaults[key])
}

// getBool returns the value of key, or its default when not a boolean
func getBool(v *viper.Viper, key string) bool {
	if b, err := cast.ToBoolE(v.Get(key)); err == nil {
		return b
	}
	return cast.ToBool(defaults[key])
}

// getDuration returns the value of key, or its default when not a duration
func getDuration(v *viper.Viper, key string) time.Duration {
	if d, err := cast.ToDurationE(v.Get(key)); err == nil && d > 0 {
		return d
	}
	return cast.ToDuration(defaults[key])
}
