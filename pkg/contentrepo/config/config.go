package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/content-odata/pkg/contentrepo"
	"github.com/tendant/content-odata/pkg/contentrepo/blobkey"
	"github.com/tendant/content-odata/pkg/contentrepo/events"
	"github.com/tendant/content-odata/pkg/contentrepo/repo/memory"
	repopg "github.com/tendant/content-odata/pkg/contentrepo/repo/postgres"
	"github.com/tendant/content-odata/pkg/contentrepo/schema"
	fsstorage "github.com/tendant/content-odata/pkg/contentrepo/storage/fs"
	memorystorage "github.com/tendant/content-odata/pkg/contentrepo/storage/memory"
	s3storage "github.com/tendant/content-odata/pkg/contentrepo/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:                  "8080",
		Environment:           "development",
		DatabaseType:          "memory",
		DBSchema:              "content",
		AutoMigrate:           true,
		DefaultStorageBackend: "memory",
		StorageBackends: []StorageBackendConfig{
			{
				Name:   "memory",
				Type:   "memory",
				Config: map[string]interface{}{},
			},
		},
		ServiceRoot:        "/odata.svc",
		EventSource:        events.DefaultSource,
		EnableEventLogging: true,
		ObjectKeyGenerator: "git-like",
	}
}

// ServerConfig represents configuration for the content repository and its OData service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"
	DBSchema     string // Postgres schema to use (default: content)
	AutoMigrate  bool   // Create the nodes table on startup

	// Storage configuration
	DefaultStorageBackend string
	StorageBackends       []StorageBackendConfig
	ObjectKeyGenerator    string // "git-like", "flat"

	// OData service
	ServiceRoot     string // URL prefix of the OData service (default: /odata.svc)
	ContentTypesDir string // Directory with additional content type definitions

	// Events
	EventsURL          string // CloudEvents HTTP target; empty disables delivery
	EventSource        string
	EnableEventLogging bool
}

// StorageBackendConfig represents configuration for a storage backend
type StorageBackendConfig struct {
	Name   string
	Type   string // "memory", "fs", "s3"
	Config map[string]interface{}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	if !strings.HasPrefix(c.ServiceRoot, "/") || len(c.ServiceRoot) < 2 {
		return fmt.Errorf("service root must be an absolute path, got %q", c.ServiceRoot)
	}

	if _, err := keyGenerator(c.ObjectKeyGenerator); err != nil {
		return err
	}

	// Ensure default storage backend exists in configured backends
	found := false
	for _, backend := range c.StorageBackends {
		if backend.Name == c.DefaultStorageBackend {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("default storage backend '%s' not found in configured backends", c.DefaultStorageBackend)
	}

	return nil
}

// BuildService creates a Service instance from the server configuration
func (c *ServerConfig) BuildService() (contentrepo.Service, error) {
	var options []contentrepo.Option

	// Set up repository
	repo, err := c.buildRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	options = append(options, contentrepo.WithRepository(repo))

	// Set up storage backends
	for _, backendConfig := range c.StorageBackends {
		store, err := c.buildStorageBackend(backendConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build storage backend %s: %w", backendConfig.Name, err)
		}
		options = append(options, contentrepo.WithBlobStore(backendConfig.Name, store))
	}
	options = append(options, contentrepo.WithDefaultBackend(c.DefaultStorageBackend))

	gen, err := keyGenerator(c.ObjectKeyGenerator)
	if err != nil {
		return nil, err
	}
	options = append(options, contentrepo.WithKeyGenerator(gen))

	// Set up content types
	types, err := c.buildContentTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to load content types: %w", err)
	}
	options = append(options, contentrepo.WithContentTypes(types))

	// Set up event sink
	sink, err := c.buildEventSink()
	if err != nil {
		return nil, fmt.Errorf("failed to build event sink: %w", err)
	}
	options = append(options, contentrepo.WithEventSink(sink))

	return contentrepo.New(options...)
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository() (contentrepo.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil
	case "postgres":
		if c.DatabaseURL == "" {
			return nil, errors.New("database_url is required for postgres")
		}
		pool, err := newPool(c.DatabaseURL, c.DBSchema)
		if err != nil {
			return nil, err
		}
		if c.AutoMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := repopg.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return repopg.NewWithPool(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// newPool opens a pgx pool whose sessions use the given schema.
func newPool(databaseURL, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres and optionally sets search_path for the session.
// It fails if the schema (when provided) does not exist.
func PingPostgres(databaseURL, schema string) error {
	if databaseURL == "" {
		return errors.New("database_url is required")
	}
	pool, err := newPool(databaseURL, schema)
	if err != nil {
		return err
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// buildStorageBackend creates a BlobStore based on the backend configuration
func (c *ServerConfig) buildStorageBackend(config StorageBackendConfig) (contentrepo.BlobStore, error) {
	switch config.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		fsConfig := fsstorage.Config{
			BaseDir:   getString(config.Config, "base_dir", "./data/storage"),
			URLPrefix: getString(config.Config, "url_prefix", ""),
		}
		return fsstorage.New(fsConfig)

	case "s3":
		s3Config := s3storage.Config{
			Region:                 getString(config.Config, "region", "us-east-1"),
			Bucket:                 getString(config.Config, "bucket", ""),
			AccessKeyID:            getString(config.Config, "access_key_id", ""),
			SecretAccessKey:        getString(config.Config, "secret_access_key", ""),
			Endpoint:               getString(config.Config, "endpoint", ""),
			UsePathStyle:           getBool(config.Config, "use_path_style", false),
			PresignDuration:        getInt(config.Config, "presign_duration", 3600),
			EnableSSE:              getBool(config.Config, "enable_sse", false),
			SSEAlgorithm:           getString(config.Config, "sse_algorithm", "AES256"),
			SSEKMSKeyID:            getString(config.Config, "sse_kms_key_id", ""),
			CreateBucketIfNotExist: getBool(config.Config, "create_bucket_if_not_exist", false),
			Prefix:                 getString(config.Config, "prefix", ""),
		}
		return s3storage.New(s3Config)

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", config.Type)
	}
}

func (c *ServerConfig) buildContentTypes() (*schema.Manager, error) {
	m, err := schema.NewManager()
	if err != nil {
		return nil, err
	}
	if c.ContentTypesDir == "" {
		return m, nil
	}
	installed, err := m.InstallDir(c.ContentTypesDir)
	if err != nil {
		return nil, err
	}
	slog.Info("content types installed", "dir", c.ContentTypesDir, "count", len(installed))
	return m, nil
}

func (c *ServerConfig) buildEventSink() (contentrepo.EventSink, error) {
	var sinks events.Multi
	if c.EnableEventLogging {
		sinks = append(sinks, events.NewLogSink(nil))
	}
	if c.EventsURL != "" {
		sink, err := events.NewHTTPSink(c.EventsURL, events.WithSource(c.EventSource))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	switch len(sinks) {
	case 0:
		return contentrepo.NewNoopEventSink(), nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

func keyGenerator(name string) (blobkey.Generator, error) {
	switch name {
	case "", "git-like", "default":
		return blobkey.NewGitLikeGenerator(), nil
	case "flat":
		return blobkey.NewFlatGenerator(), nil
	default:
		return nil, fmt.Errorf("invalid object key generator: %s (valid: git-like, flat)", name)
	}
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}

func getBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
		if str, ok := value.(string); ok {
			if b, err := strconv.ParseBool(str); err == nil {
				return b
			}
		}
	}
	return defaultValue
}

func getInt(config map[string]interface{}, key string, defaultValue int) int {
	if value, exists := config[key]; exists {
		if i, ok := value.(int); ok {
			return i
		}
		if str, ok := value.(string); ok {
			if i, err := strconv.Atoi(str); err == nil {
				return i
			}
		}
		if f, ok := value.(float64); ok {
			return int(f)
		}
	}
	return defaultValue
}
