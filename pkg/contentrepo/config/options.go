package config

import (
	"fmt"
	"strings"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithAutoMigrate enables or disables table creation on startup
func WithAutoMigrate(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.AutoMigrate = enabled
		return nil
	}
}

// WithDefaultStorage sets the default storage backend name
func WithDefaultStorage(name string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			return fmt.Errorf("default storage backend name cannot be empty")
		}
		c.DefaultStorageBackend = name
		return nil
	}
}

// WithMemoryStorage adds a memory storage backend.
// If name is empty, defaults to "memory"
func WithMemoryStorage(name string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "memory"
		}
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, StorageBackendConfig{Name: name, Type: "memory"})
		return nil
	}
}

// WithFilesystemStorage adds a filesystem storage backend.
// If name is empty, defaults to "fs"
func WithFilesystemStorage(name, baseDir, urlPrefix string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "fs"
		}
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}

		backend := StorageBackendConfig{
			Name: name,
			Type: "fs",
			Config: map[string]interface{}{
				"base_dir": baseDir,
			},
		}
		if urlPrefix != "" {
			backend.Config["url_prefix"] = urlPrefix
		}

		c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
		return nil
	}
}

// WithS3Storage adds an S3 storage backend.
// If name is empty, defaults to "s3"
func WithS3Storage(name, bucket, region string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "s3"
		}
		if bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		if region == "" {
			region = "us-east-1"
		}

		backend := StorageBackendConfig{
			Name: name,
			Type: "s3",
			Config: map[string]interface{}{
				"bucket": bucket,
				"region": region,
			},
		}

		c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
		return nil
	}
}

// s3Backend returns the named S3 backend, adding an empty one when missing.
func (c *ServerConfig) s3Backend(name string) *StorageBackendConfig {
	for i := range c.StorageBackends {
		if c.StorageBackends[i].Name == name && c.StorageBackends[i].Type == "s3" {
			if c.StorageBackends[i].Config == nil {
				c.StorageBackends[i].Config = map[string]interface{}{}
			}
			return &c.StorageBackends[i]
		}
	}
	c.StorageBackends = append(c.StorageBackends, StorageBackendConfig{
		Name:   name,
		Type:   "s3",
		Config: map[string]interface{}{},
	})
	return &c.StorageBackends[len(c.StorageBackends)-1]
}

// WithS3Credentials sets AWS credentials for S3 storage
func WithS3Credentials(name, accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "s3"
		}
		b := c.s3Backend(name)
		b.Config["access_key_id"] = accessKeyID
		b.Config["secret_access_key"] = secretAccessKey
		return nil
	}
}

// WithS3Endpoint sets a custom S3 endpoint (for MinIO, LocalStack, etc.)
func WithS3Endpoint(name, endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "s3"
		}
		b := c.s3Backend(name)
		b.Config["endpoint"] = endpoint
		b.Config["use_path_style"] = usePathStyle
		return nil
	}
}

// WithS3PresignDuration sets the presigned URL duration for S3 (in seconds)
func WithS3PresignDuration(name string, durationSeconds int) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "s3"
		}
		if durationSeconds <= 0 {
			return fmt.Errorf("presign duration must be positive, got: %d", durationSeconds)
		}
		c.s3Backend(name).Config["presign_duration"] = durationSeconds
		return nil
	}
}

// WithObjectKeyGenerator sets the blob key layout: "git-like" or "flat"
func WithObjectKeyGenerator(generator string) Option {
	return func(c *ServerConfig) error {
		if _, err := keyGenerator(generator); err != nil {
			return err
		}
		c.ObjectKeyGenerator = generator
		return nil
	}
}

// WithServiceRoot sets the URL prefix of the OData service
func WithServiceRoot(root string) Option {
	return func(c *ServerConfig) error {
		root = strings.Trim(root, "/")
		if root == "" {
			return fmt.Errorf("service root cannot be empty")
		}
		c.ServiceRoot = "/" + root
		return nil
	}
}

// WithContentTypesDir loads additional content type definitions from dir
func WithContentTypesDir(dir string) Option {
	return func(c *ServerConfig) error {
		c.ContentTypesDir = dir
		return nil
	}
}

// WithEventsURL delivers content events as CloudEvents to url
func WithEventsURL(url, source string) Option {
	return func(c *ServerConfig) error {
		c.EventsURL = url
		if source != "" {
			c.EventSource = source
		}
		return nil
	}
}

// WithEventLogging enables or disables event logging
func WithEventLogging(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableEventLogging = enabled
		return nil
	}
}

// WithDefaults resets the configuration to library defaults
func WithDefaults() Option {
	return func(c *ServerConfig) error {
		*c = defaults()
		return nil
	}
}
