package store

import (
	"context"
	"fmt"
)

var schema = []string{
	"CREATE TABLE IF NOT EXISTS `wp_geonames_countries` (" + `
    geoname_id          INT UNSIGNED        NOT NULL,
    iso2                CHAR(2)             NULL,
    iso3                CHAR(3)             NULL,
    isoN                SMALLINT UNSIGNED   NULL,
    fips                VARCHAR(3)          NULL,
    country             VARCHAR(200)        NULL,
    capital             VARCHAR(200)        NULL,
    languages           VARCHAR(200)        NULL,
    continent           CHAR(2)             NULL,
    neighbours          VARCHAR(100)        NULL,
    area                BIGINT UNSIGNED     NULL,
    population          BIGINT UNSIGNED     NULL,
    tld                 VARCHAR(10)         NULL,
    currency_code       CHAR(3)             NULL,
    currency_name       VARCHAR(50)         NULL,
    phone               VARCHAR(50)         NULL,
    postal_code_format  VARCHAR(100)        NULL,
    postal_code_regex   VARCHAR(255)        NULL,
    db_update           TIMESTAMP           NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (geoname_id),
    UNIQUE KEY iso2 (iso2)
) DEFAULT CHARSET=utf8mb4`,
	"CREATE TABLE IF NOT EXISTS `wp_geonames_locations_cache` (" + `
    geoname_id          INT UNSIGNED        NOT NULL,
    name                VARCHAR(200)        NULL,
    ascii_name          VARCHAR(200)        NULL,
    latitude            DECIMAL(10,5)       NULL,
    longitude           DECIMAL(10,5)       NULL,
    feature_class       CHAR(1)             NULL,
    feature_code        VARCHAR(10)         NULL,
    country_code        CHAR(2)             NULL,
    admin1_code         VARCHAR(20)         NULL,
    population          BIGINT              NULL,
    elevation           INT                 NULL,
    timezone            VARCHAR(40)         NULL,
    db_update           TIMESTAMP           NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (geoname_id),
    KEY country_feature (country_code, feature_class, feature_code)
) DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates the country and location cache tables if missing
func (db *DB) EnsureSchema(ctx context.Context) error {
	return db.WithTx(ctx, func(tx *Tx) error {
		for _, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create schema: %w", err)
			}
		}
		db.logger.Infof("Schema ready (table prefix %q)", db.prefix)
		return nil
	})
}
