package sqlconvention

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// ErrConfigValidation is returned when configuration validation fails
var ErrConfigValidation = errors.New("configuration validation failed")

// Config represents the sqlconvention configuration
type Config struct {
	TestsDir        string              `yaml:"tests_dir"`
	DatasetsDir     string              `yaml:"datasets_dir"`
	DefaultDatabase string              `yaml:"default_database"`
	Databases       map[string]Database `yaml:"databases"`
	Run             RunConfig           `yaml:"run"`
	Tables          TablesConfig        `yaml:"tables"`
	Log             LogConfig           `yaml:"log"`
}

// Database represents database connection configuration
type Database struct {
	Driver     string  `yaml:"driver"`
	Connection string  `yaml:"connection"`
	Dialect    Dialect `yaml:"dialect"`
}

// RunConfig represents test selection and scheduling settings
type RunConfig struct {
	Parallel      int           `yaml:"parallel"`
	Timeout       time.Duration `yaml:"timeout"`
	Groups        []string      `yaml:"groups"`
	ExcludeGroups []string      `yaml:"exclude_groups"`
}

// TablesConfig represents table provisioning settings
type TablesConfig struct {
	NamePrefix          string `yaml:"name_prefix"`
	DropMutableTables   *bool  `yaml:"drop_mutable_tables"`   // nil means true
	DropImmutableTables *bool  `yaml:"drop_immutable_tables"` // nil means true
	ProvisionParallel   int    `yaml:"provision_parallel"`
}

// LogConfig represents logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// ShouldDropMutable returns true unless mutable table dropping was disabled
func (t TablesConfig) ShouldDropMutable() bool {
	return t.DropMutableTables == nil || *t.DropMutableTables
}

// ShouldDropImmutable returns true unless immutable table dropping was disabled
func (t TablesConfig) ShouldDropImmutable() bool {
	return t.DropImmutableTables == nil || *t.DropImmutableTables
}

// LoadConfig loads configuration from the specified file
func LoadConfig(configPath string) (*Config, error) {
	// Load .env files first
	err := loadEnvFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to load environment files: %w", err)
	}

	// Check if config file exists
	_, err = os.Stat(configPath)
	if os.IsNotExist(err) {
		config := getDefaultConfig()
		expandConfigEnvVars(config)

		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML with strict mode to detect unknown fields
	var config Config

	err = yaml.UnmarshalWithOptions(data, &config, yaml.Strict())
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	expandConfigEnvVars(&config)
	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// validateConfig validates the configuration for common errors and inconsistencies
func validateConfig(config *Config) error {
	validDialects := map[Dialect]bool{
		DialectPostgres: true,
		DialectMySQL:    true,
		DialectMariaDB:  true,
		DialectSQLite:   true,
	}

	for name, db := range config.Databases {
		if db.Driver == "" {
			return fmt.Errorf("%w: database '%s': driver is required", ErrConfigValidation, name)
		}

		if db.Connection == "" {
			return fmt.Errorf("%w: database '%s': connection is required", ErrConfigValidation, name)
		}

		if !validDialects[db.Dialect] {
			return fmt.Errorf("%w: database '%s': invalid dialect '%s': must be one of postgres, mysql, mariadb, sqlite", ErrConfigValidation, name, db.Dialect)
		}
	}

	if config.DefaultDatabase != "" && len(config.Databases) > 0 {
		if _, ok := config.Databases[config.DefaultDatabase]; !ok {
			return fmt.Errorf("%w: default_database '%s' is not configured", ErrConfigValidation, config.DefaultDatabase)
		}
	}

	if config.Run.Parallel < 0 {
		return fmt.Errorf("%w: run.parallel must be non-negative, got %d", ErrConfigValidation, config.Run.Parallel)
	}

	if config.Run.Timeout < 0 {
		return fmt.Errorf("%w: run.timeout must be >= 0, got %s", ErrConfigValidation, config.Run.Timeout)
	}

	if config.Tables.ProvisionParallel < 0 {
		return fmt.Errorf("%w: tables.provision_parallel must be non-negative, got %d", ErrConfigValidation, config.Tables.ProvisionParallel)
	}

	if config.Log.Format != "" && config.Log.Format != "console" && config.Log.Format != "json" {
		return fmt.Errorf("%w: log.format '%s' is invalid: must be one of console, json", ErrConfigValidation, config.Log.Format)
	}

	return nil
}

// getDefaultConfig returns the default configuration
func getDefaultConfig() *Config {
	return &Config{
		TestsDir:    "./sql-tests/testcases",
		DatasetsDir: "./sql-tests/datasets",
		Databases:   make(map[string]Database),
		Run: RunConfig{
			Parallel: runtime.NumCPU(),
			Timeout:  2 * time.Minute,
		},
		Tables: TablesConfig{
			ProvisionParallel: 4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// applyDefaults applies default values to missing configuration fields
func applyDefaults(config *Config) {
	defaults := getDefaultConfig()

	if config.TestsDir == "" {
		config.TestsDir = defaults.TestsDir
	}

	if config.DatasetsDir == "" {
		config.DatasetsDir = defaults.DatasetsDir
	}

	if config.Databases == nil {
		config.Databases = make(map[string]Database)
	}

	for name, db := range config.Databases {
		if db.Dialect == "" {
			db.Dialect = DialectForDriver(db.Driver)
			config.Databases[name] = db
		}
	}

	// A single configured database is the implicit default
	if config.DefaultDatabase == "" && len(config.Databases) == 1 {
		for name := range config.Databases {
			config.DefaultDatabase = name
		}
	}

	if config.Run.Parallel == 0 {
		config.Run.Parallel = defaults.Run.Parallel
	}

	if config.Run.Timeout == 0 {
		config.Run.Timeout = defaults.Run.Timeout
	}

	if config.Tables.ProvisionParallel == 0 {
		config.Tables.ProvisionParallel = defaults.Tables.ProvisionParallel
	}

	if config.Log.Level == "" {
		config.Log.Level = defaults.Log.Level
	}

	if config.Log.Format == "" {
		config.Log.Format = defaults.Log.Format
	}
}

// loadEnvFiles loads .env files if they exist
func loadEnvFiles() error {
	if fileExists(".env") {
		err := godotenv.Load(".env")
		if err != nil {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	return nil
}

var (
	bracedEnvVar = regexp.MustCompile(`\$\{([^}]+)\}`)
	bareEnvVar   = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// expandEnvVars expands environment variables in the format ${VAR} or $VAR
func expandEnvVars(s string) string {
	s = bracedEnvVar.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})

	return bareEnvVar.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[1:])
	})
}

// expandConfigEnvVars expands environment variables in connection settings and paths
func expandConfigEnvVars(config *Config) {
	for name, db := range config.Databases {
		db.Connection = expandEnvVars(db.Connection)
		db.Driver = expandEnvVars(db.Driver)
		config.Databases[name] = db
	}

	config.TestsDir = expandEnvVars(config.TestsDir)
	config.DatasetsDir = expandEnvVars(config.DatasetsDir)
	config.Log.File = expandEnvVars(config.Log.File)
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
