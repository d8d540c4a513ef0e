// Package config loads service configuration from defaults, an optional
// YAML file, and POKEFANTASIA_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/3leaps/pokefantasia/pkg/variant"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// POKEFANTASIA_SERVER_PORT=8080.
const EnvPrefix = "POKEFANTASIA"

// Server holds the HTTP listener settings.
type Server struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Store holds the sqlite job store settings.
type Store struct {
	Path string `mapstructure:"path"`
}

// Storage selects the object storage backend. "s3" targets real or
// S3-compatible storage; "file" keeps objects under BaseDir for local
// development.
type Storage struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
}

// S3 holds settings shared by every bucket when the s3 backend is active.
type S3 struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// BucketPair names the source and output buckets for one backend class.
type BucketPair struct {
	Source string `mapstructure:"source"`
	Output string `mapstructure:"output"`
}

// Buckets maps each backend class to its bucket pair.
type Buckets struct {
	TypeID     BucketPair `mapstructure:"typeid"`
	TypeConv   BucketPair `mapstructure:"typecov"`
	FormatConv BucketPair `mapstructure:"formatcov"`
}

// Pair returns the bucket pair for a backend class.
func (b Buckets) Pair(class variant.BackendClass) (BucketPair, error) {
	switch class {
	case variant.ClassTypeID:
		return b.TypeID, nil
	case variant.ClassTypeConv:
		return b.TypeConv, nil
	case variant.ClassFormatConv:
		return b.FormatConv, nil
	default:
		return BucketPair{}, fmt.Errorf("no buckets for backend class %q", class)
	}
}

// Model locates the classification model artifact.
type Model struct {
	Bucket string `mapstructure:"bucket"`
	Key    string `mapstructure:"key"`
}

// Inference holds the generative image endpoint settings.
type Inference struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Trigger holds the redis delivery queue settings for object-created
// events.
type Trigger struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Queue         string        `mapstructure:"queue"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout"`
	MaxPerSecond  float64       `mapstructure:"max_per_second"`
}

// Compute holds the worker-side execution settings.
type Compute struct {
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

// Logging holds the log settings.
type Logging struct {
	Level string `mapstructure:"level"`
}

// Config is the full service configuration.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Store     Store     `mapstructure:"store"`
	Storage   Storage   `mapstructure:"storage"`
	S3        S3        `mapstructure:"s3"`
	Buckets   Buckets   `mapstructure:"buckets"`
	Model     Model     `mapstructure:"model"`
	Inference Inference `mapstructure:"inference"`
	Trigger   Trigger   `mapstructure:"trigger"`
	Compute   Compute   `mapstructure:"compute"`
	Logging   Logging   `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("store.path", "pokefantasia.db")

	v.SetDefault("storage.backend", "s3")
	v.SetDefault("storage.base_dir", "objects")

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.force_path_style", false)

	v.SetDefault("buckets.typeid.source", "pokefantasia-typeid-source")
	v.SetDefault("buckets.typeid.output", "pokefantasia-typeid-output")
	v.SetDefault("buckets.typecov.source", "pokefantasia-typecov-source")
	v.SetDefault("buckets.typecov.output", "pokefantasia-typecov-output")
	v.SetDefault("buckets.formatcov.source", "pokefantasia-formatcov-source")
	v.SetDefault("buckets.formatcov.output", "pokefantasia-formatcov-output")

	v.SetDefault("model.bucket", "pokefantasia-models")
	v.SetDefault("model.key", "pokemon_model/centroids.json")

	v.SetDefault("inference.endpoint", "http://localhost:9000/convert")
	v.SetDefault("inference.timeout", 60*time.Second)

	v.SetDefault("trigger.redis_addr", "localhost:6379")
	v.SetDefault("trigger.redis_db", 0)
	v.SetDefault("trigger.queue", "pokefantasia:objects")
	v.SetDefault("trigger.poll_timeout", 5*time.Second)
	v.SetDefault("trigger.max_per_second", 8.0)

	v.SetDefault("compute.op_timeout", 90*time.Second)

	v.SetDefault("logging.level", "info")
}

// Load reads configuration from defaults, the given file when non-empty,
// and environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail deep inside a
// request or worker loop.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Storage.Backend {
	case "s3", "file":
	default:
		return fmt.Errorf("invalid storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "file" && c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir required for file backend")
	}
	for _, class := range []variant.BackendClass{
		variant.ClassTypeID, variant.ClassTypeConv, variant.ClassFormatConv,
	} {
		pair, err := c.Buckets.Pair(class)
		if err != nil {
			return err
		}
		if pair.Source == "" || pair.Output == "" {
			return fmt.Errorf("buckets for %s must name source and output", class)
		}
	}
	if c.Trigger.Queue == "" {
		return fmt.Errorf("trigger.queue must be set")
	}
	return nil
}
