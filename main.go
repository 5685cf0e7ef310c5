package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kyxap1/geonames-cache/internal/config"
	"github.com/kyxap1/geonames-cache/internal/country"
	"github.com/kyxap1/geonames-cache/internal/geoip"
	"github.com/kyxap1/geonames-cache/internal/geonames"
	"github.com/kyxap1/geonames-cache/internal/handlers"
	"github.com/kyxap1/geonames-cache/internal/store"
	"github.com/kyxap1/geonames-cache/internal/types"
)

var version = "dev"

var (
	cfg    *config.Config
	logger *logrus.Logger

	// openDB opens storage for a command
	openDB = func(c *config.Config) (*store.DB, error) {
		return store.Open(c.DSN, c.TablePrefix, logger)
	}
)

func init() {
	logger = logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	var err error
	cfg, err = config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if err := newRootCmd().Execute(); err != nil {
		logger.Fatal(err)
	}
}

// newRootCmd builds the command tree with flags bound to cfg
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "geonames-cache",
		Short: "GeoNames country cache server",
		Long: `A country lookup service backed by a MySQL cache of GeoNames country
and location records, refreshed from the GeoNames countryInfo dump.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogLevel(cfg.LogLevel)
		},
		RunE: runServer,
	}

	flags := rootCmd.PersistentFlags()
	flags.IntVarP(&cfg.Port, "port", "p", cfg.Port, "HTTP port to listen on")
	flags.StringVar(&cfg.DSN, "dsn", cfg.DSN, "MySQL data source name")
	flags.StringVar(&cfg.TablePrefix, "table-prefix", cfg.TablePrefix, "Table name prefix")
	flags.StringVar(&cfg.DataPath, "data-path", cfg.DataPath, "Directory for the country dump and its backups")
	flags.StringVar(&cfg.CountryInfoURL, "country-info-url", cfg.CountryInfoURL, "URL of the GeoNames countryInfo dump")
	flags.BoolVar(&cfg.AutoUpdate, "auto-update", cfg.AutoUpdate, "Enable scheduled country imports")
	flags.StringVar(&cfg.UpdateInterval, "update-interval", cfg.UpdateInterval, "Country import schedule (cron format)")
	flags.StringVar(&cfg.GeoIPDB, "geoip-db", cfg.GeoIPDB, "Path to a MaxMind country database")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flags.StringVar(&cfg.CountryFeatures, "country-features", cfg.CountryFeatures, "Feature classes and codes of country locations")

	flags.BoolVar(&cfg.CacheEnabled, "cache-enabled", cfg.CacheEnabled, "Enable country caching")
	flags.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Cache TTL duration")
	flags.IntVar(&cfg.CacheMaxEntries, "cache-max-entries", cfg.CacheMaxEntries, "Maximum cache entries")

	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newLookupCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func configureLogLevel(name string) {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		logger.Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

// maskDSN hides the password of a MySQL DSN for logging
func maskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "<invalid dsn>"
	}
	if parsed.Passwd != "" {
		parsed.Passwd = "****"
	}
	return parsed.FormatDSN()
}

// openManager connects storage and the optional GeoIP database
func openManager(withCache bool) (*geonames.Manager, error) {
	filters, err := cfg.FeatureFilters()
	if err != nil {
		return nil, err
	}

	logger.Debugf("Connecting to %s", maskDSN(cfg.DSN))
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	var resolver *geoip.Resolver
	if cfg.GeoIPDB != "" {
		resolver, err = geoip.Open(cfg.GeoIPDB, logger)
		if err != nil {
			logger.Warnf("GeoIP lookups disabled: %v", err)
			resolver = nil
		}
	}

	return geonames.NewManager(db, geonames.Options{
		DataPath:        cfg.DataPath,
		SourceURL:       cfg.CountryInfoURL,
		Filters:         filters,
		CacheEnabled:    withCache && cfg.CacheEnabled,
		CacheTTL:        cfg.CacheTTL,
		CacheMaxEntries: cfg.CacheMaxEntries,
		Resolver:        resolver,
	}, logger), nil
}

func runServer(cmd *cobra.Command, args []string) error {
	logger.Info("Starting GeoNames country cache server...")

	manager, err := openManager(true)
	if err != nil {
		return fmt.Errorf("failed to initialize country manager: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	err = manager.EnsureSchema(ctx)
	cancel()
	if err != nil {
		manager.Close()
		return err
	}

	if cfg.CacheEnabled {
		logger.Infof("Cache enabled - TTL: %v, Max entries: %d", cfg.CacheTTL, cfg.CacheMaxEntries)
	} else {
		logger.Info("Cache disabled")
	}

	apiHandler := handlers.NewAPIHandler(manager, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      apiHandler.SetupRoutes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var cronScheduler *cron.Cron
	if cfg.AutoUpdate {
		cronScheduler, err = scheduleImports(manager, cfg.UpdateInterval)
		if err != nil {
			logger.Errorf("Failed to setup cron scheduler: %v", err)
		} else {
			logger.Infof("Scheduled country imports: %s", cfg.UpdateInterval)
		}
	}

	var wg sync.WaitGroup
	serverErrChan := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Infof("Starting HTTP server on port %d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Received shutdown signal, shutting down gracefully...")
	case err := <-serverErrChan:
		logger.Errorf("Server error: %v", err)
		gracefulShutdown(server, cronScheduler, manager, &wg)
		return err
	}

	return gracefulShutdown(server, cronScheduler, manager, &wg)
}

// scheduleImports starts a cron job importing the country dump. The job
// also runs once right away when no dump has been imported yet.
func scheduleImports(manager *geonames.Manager, spec string) (*cron.Cron, error) {
	job := func() {
		logger.Info("Running scheduled country import...")
		result, err := manager.Import(context.Background(), false)
		if err != nil {
			logger.Errorf("Failed to import countries: %v", err)
			return
		}
		if result.Skipped {
			logger.Info("Country dump unchanged")
			return
		}
		logger.Info("Country import completed successfully")
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(spec, job); err != nil {
		return nil, err
	}
	scheduler.Start()

	if !manager.HasDump() {
		go job()
	}
	return scheduler, nil
}

// gracefulShutdown handles graceful shutdown of all services
func gracefulShutdown(server *http.Server, cronScheduler *cron.Cron, manager geonames.ManagerInterface, wg *sync.WaitGroup) error {
	logger.Info("Starting graceful shutdown...")

	if cronScheduler != nil {
		logger.Info("Stopping cron scheduler...")
		<-cronScheduler.Stop().Done()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
		server.Close()
	} else {
		logger.Info("HTTP server shut down gracefully")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("All server goroutines finished")
	case <-ctx.Done():
		logger.Warn("Timeout waiting for server goroutines to finish")
	}

	if err := manager.Close(); err != nil {
		logger.Errorf("Country manager close error: %v", err)
	} else {
		logger.Info("Database connections closed")
	}

	logger.Info("Graceful shutdown completed")
	return nil
}

func newImportCmd() *cobra.Command {
	var file, url string
	var force bool

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import the GeoNames country dump",
		Long: `Download the GeoNames countryInfo dump (or read it from --file) and
upsert every country into storage. An unchanged dump is skipped unless
--force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" && url != "" {
				return errors.New("--file and --url are mutually exclusive")
			}

			manager, err := openManager(false)
			if err != nil {
				return err
			}
			defer manager.Close()

			var result *geonames.ImportResult
			switch {
			case file != "":
				result, err = manager.ImportFile(cmd.Context(), file, force)
			case url != "":
				result, err = manager.ImportURL(cmd.Context(), url, force)
			default:
				result, err = manager.Import(cmd.Context(), force)
			}
			if result != nil {
				printImportResult(cmd.OutOrStdout(), result)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Import a local countryInfo.txt instead of downloading")
	cmd.Flags().StringVar(&url, "url", "", "Download the dump from this URL")
	cmd.Flags().BoolVar(&force, "force", false, "Import even when the dump is unchanged")
	return cmd
}

func printImportResult(w io.Writer, result *geonames.ImportResult) {
	fmt.Fprintf(w, "Source: %s\n", result.Source)
	if result.Skipped {
		fmt.Fprintln(w, "Country dump unchanged, import skipped")
		return
	}
	fmt.Fprintf(w, "Countries: %d\n", result.Countries)
	fmt.Fprintf(w, "  Created: %d\n", result.Created)
	fmt.Fprintf(w, "  Updated: %d\n", result.Updated)
	fmt.Fprintf(w, "  Failed:  %d\n", result.Failed)
	fmt.Fprintf(w, "Checksum: %s\n", result.Checksum)
	fmt.Fprintf(w, "Duration: %v\n", result.Duration.Round(time.Millisecond))
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the country tables",
		Long:  `Create the country table and the location cache table when missing.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := openManager(false)
			if err != nil {
				return err
			}
			defer manager.Close()

			if err := manager.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema ready (table prefix %s)\n", cfg.TablePrefix)
			return nil
		},
	}
}

func newLookupCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "lookup ID...",
		Short: "Look up countries by geoname id or ISO2 code",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "csv" {
				return fmt.Errorf("unsupported format: %s", format)
			}

			manager, err := openManager(false)
			if err != nil {
				return err
			}
			defer manager.Close()

			ids := make([]country.Identifier, len(args))
			for i, arg := range args {
				ids[i] = country.ParseIdentifier(arg)
			}

			countries, err := manager.Lookup(cmd.Context(), ids...)
			if err != nil {
				return err
			}
			return printCountries(cmd.OutOrStdout(), format, countries)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format (json, csv)")
	return cmd
}

func printCountries(w io.Writer, format string, countries []*types.CountryInfo) error {
	if format == "csv" {
		writer := csv.NewWriter(w)
		if err := writer.Write(types.CSVHeader()); err != nil {
			return err
		}
		for _, info := range countries {
			if err := writer.Write(info.CSVRecord()); err != nil {
				return err
			}
		}
		writer.Flush()
		return writer.Error()
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(countries)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check storage, dump and GeoIP status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := openManager(false)
			if err != nil {
				return err
			}
			defer manager.Close()

			printStatus(cmd.OutOrStdout(), manager.GetStatus(cmd.Context()))
			return nil
		},
	}
}

func printStatus(w io.Writer, status map[string]interface{}) {
	fmt.Fprintln(w, "Service Status:")
	fmt.Fprintln(w, "===============")
	fmt.Fprintf(w, "Table prefix: %v\n", status["table_prefix"])

	sections := []string{"database", "dump", "geoip", "pool"}
	for _, name := range sections {
		info, ok := status[name].(map[string]interface{})
		if !ok {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", name)

		keys := make([]string, 0, len(info))
		for key := range info {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(w, "  %s: %v\n", key, info[key])
		}
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version and build information.`,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "GeoNames Cache %s\n", version)
			fmt.Fprintf(out, "Table prefix: %s\n", cfg.TablePrefix)
			fmt.Fprintf(out, "Cache support: %v\n", cfg.CacheEnabled)
			fmt.Fprintf(out, "GeoIP support: %v\n", cfg.GeoIPDB != "")
		},
	}
}
