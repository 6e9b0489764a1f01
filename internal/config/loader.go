// Package config loads server settings from config.yaml with
// DTDB_-prefixed environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/m-sperlich/digital-twin-db/internal/db"
	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	Server   Server
	Database db.Config
	Audit    Audit
	Ingest   Ingest
	Authz    Authz
	Logging  Logging
}

// Server configures the HTTP listener.
type Server struct {
	Port        int
	CORSOrigins []string
}

// Audit bounds the audit query surfaces.
type Audit struct {
	HistoryLimit    int
	RecentLimit     int
	MaxLineageDepth int
}

// Ingest bounds file uploads.
type Ingest struct {
	MaxRows int
}

// Authz toggles write restrictions.
type Authz struct {
	// OwnerOnlyUpdates restricts updates and deletes to the user who
	// created the variant.
	OwnerOnlyUpdates bool
}

// Logging selects the zap profile.
type Logging struct {
	Development bool
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() Config {
	return Config{
		Server: Server{
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		Database: db.DefaultConfig(),
		Audit: Audit{
			HistoryLimit:    100,
			RecentLimit:     50,
			MaxLineageDepth: 10000,
		},
		Ingest: Ingest{
			MaxRows: 50000,
		},
	}
}

// Load reads config.yaml from configPath and applies environment
// overrides such as DTDB_DATABASE_HOST or DTDB_SERVER_PORT. A missing
// file is not an error; defaults cover every key.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix("DTDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if v.IsSet("server.port") {
		cfg.Server.Port = v.GetInt("server.port")
	}
	if v.IsSet("server.cors_origins") {
		cfg.Server.CORSOrigins = v.GetStringSlice("server.cors_origins")
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("database.max_conns") {
		cfg.Database.MaxConns = v.GetInt32("database.max_conns")
	}

	if v.IsSet("audit.history_limit") {
		cfg.Audit.HistoryLimit = v.GetInt("audit.history_limit")
	}
	if v.IsSet("audit.recent_limit") {
		cfg.Audit.RecentLimit = v.GetInt("audit.recent_limit")
	}
	if v.IsSet("audit.max_lineage_depth") {
		cfg.Audit.MaxLineageDepth = v.GetInt("audit.max_lineage_depth")
	}

	if v.IsSet("ingest.max_rows") {
		cfg.Ingest.MaxRows = v.GetInt("ingest.max_rows")
	}
	if v.IsSet("authz.owner_only_updates") {
		cfg.Authz.OwnerOnlyUpdates = v.GetBool("authz.owner_only_updates")
	}
	if v.IsSet("logging.development") {
		cfg.Logging.Development = v.GetBool("logging.development")
	}

	return cfg, nil
}

// Addr renders the listen address for http.Server.
func (s Server) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}
