// Package config loads service settings from an optional YAML file and
// environment variables. Environment values win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Store       string            `yaml:"store"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Auth        AuthConfig        `yaml:"auth"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
}

type ServerConfig struct {
	Port        string `yaml:"port"`
	CORSOrigins string `yaml:"cors_origins"`
	BodyLimitMB int    `yaml:"body_limit_mb"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// AuthConfig guards the mutating upload routes. An empty secret leaves
// them open.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type IngestConfig struct {
	BatchSize   int `yaml:"batch_size"`
	Concurrency int `yaml:"concurrency"`
}

// SnapshotConfig picks where the leaderboard reads from: a hosted CSV URL,
// a local file, or the upload store (UploadID, or latest when empty).
type SnapshotConfig struct {
	URL      string        `yaml:"url"`
	Path     string        `yaml:"path"`
	UploadID string        `yaml:"upload_id"`
	TTL      time.Duration `yaml:"ttl"`
}

type LeaderboardConfig struct {
	TopN int `yaml:"top_n"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:        "8080",
			CORSOrigins: "*",
			BodyLimitMB: 50,
		},
		Store:       StorePostgres,
		Ingest:      IngestConfig{BatchSize: 500, Concurrency: 1},
		Snapshot:    SnapshotConfig{TTL: 10 * time.Minute},
		Leaderboard: LeaderboardConfig{TopN: 200},
	}
}

// Load reads filename when it is non-empty, applies environment overrides
// and validates the result.
func Load(filename string) (Config, error) {
	cfg := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.CORSOrigins, "CORS_ORIGINS")
	setString(&cfg.Store, "STORE")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Snapshot.URL, "SNAPSHOT_URL")
	setString(&cfg.Snapshot.Path, "SNAPSHOT_PATH")
	setString(&cfg.Snapshot.UploadID, "SNAPSHOT_UPLOAD_ID")

	for key, dst := range map[string]*int{
		"BODY_LIMIT_MB":      &cfg.Server.BodyLimitMB,
		"INGEST_BATCH_SIZE":  &cfg.Ingest.BatchSize,
		"INGEST_CONCURRENCY": &cfg.Ingest.Concurrency,
		"LEADERBOARD_TOP_N":  &cfg.Leaderboard.TopN,
	} {
		if err := setInt(dst, key); err != nil {
			return err
		}
	}

	if v := strings.TrimSpace(os.Getenv("SNAPSHOT_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SNAPSHOT_TTL: %w", err)
		}
		cfg.Snapshot.TTL = d
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", key, err)
	}
	*dst = n
	return nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StorePostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("DATABASE_URL is not set"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("PORT is not set"))
	}
	if c.Ingest.BatchSize <= 0 {
		errs = append(errs, errors.New("ingest batch size must be positive"))
	}
	if c.Ingest.Concurrency <= 0 {
		errs = append(errs, errors.New("ingest concurrency must be positive"))
	}
	if c.Leaderboard.TopN <= 0 {
		errs = append(errs, errors.New("leaderboard top_n must be positive"))
	}
	if c.Server.BodyLimitMB <= 0 {
		errs = append(errs, errors.New("body limit must be positive"))
	}
	return errors.Join(errs...)
}
