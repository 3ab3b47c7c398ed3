// Package config loads labelcache configuration from a file and the
// environment and validates it against an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix prefixes every environment variable, e.g.
// LABELCACHE_STORE_BACKEND for store.backend.
const DefaultEnvPrefix = "LABELCACHE"

//go:embed schema.cue
var schemaCUE string

// Config is the full runtime configuration.
type Config struct {
	Storage     StorageConfig `json:"storage"     mapstructure:"storage"`
	Store       StoreConfig   `json:"store"       mapstructure:"store"`
	Labeler     LabelerConfig `json:"labeler"     mapstructure:"labeler"`
	AWS         AWSConfig     `json:"aws"         mapstructure:"aws"`
	Timeouts    Timeouts      `json:"timeouts"    mapstructure:"timeouts"`
	Concurrency int           `json:"concurrency" mapstructure:"concurrency"`
	Presign     PresignConfig `json:"presign"     mapstructure:"presign"`
	HTTP        HTTPConfig    `json:"http"        mapstructure:"http"`
	Metrics     MetricsConfig `json:"metrics"     mapstructure:"metrics"`
	Log         LogConfig     `json:"log"         mapstructure:"log"`
}

// StorageConfig selects where uploaded objects live.
type StorageConfig struct {
	Backend         string `json:"backend"          mapstructure:"backend"`
	Bucket          string `json:"bucket"           mapstructure:"bucket"`
	Root            string `json:"root,omitempty"   mapstructure:"root"`
	FingerprintMode string `json:"fingerprint_mode" mapstructure:"fingerprint_mode"`
}

// StoreConfig selects the result store backend.
type StoreConfig struct {
	Backend       string `json:"backend"                  mapstructure:"backend"`
	Path          string `json:"path,omitempty"           mapstructure:"path"`
	DSN           string `json:"dsn,omitempty"            mapstructure:"dsn"`
	Table         string `json:"table,omitempty"          mapstructure:"table"`
	RedisAddr     string `json:"redis_addr,omitempty"     mapstructure:"redis_addr"`
	RedisPassword string `json:"redis_password,omitempty" mapstructure:"redis_password"`
	RedisDB       int    `json:"redis_db,omitempty"       mapstructure:"redis_db"`
	RedisPrefix   string `json:"redis_prefix,omitempty"   mapstructure:"redis_prefix"`
}

// LabelerConfig selects the labeling backend and match policy.
type LabelerConfig struct {
	Backend   string  `json:"backend"            mapstructure:"backend"`
	Endpoint  string  `json:"endpoint,omitempty" mapstructure:"endpoint"`
	Target    string  `json:"target"             mapstructure:"target"`
	MaxLabels int     `json:"max_labels"         mapstructure:"max_labels"`
	RateLimit float64 `json:"rate_limit"         mapstructure:"rate_limit"`
	Burst     int     `json:"burst"              mapstructure:"burst"`
}

// AWSConfig configures the shared AWS client config.
// Endpoint and UsePathStyle target S3-compatible stores such as MinIO.
type AWSConfig struct {
	Region          string `json:"region"                      mapstructure:"region"`
	Endpoint        string `json:"endpoint,omitempty"          mapstructure:"endpoint"`
	UsePathStyle    bool   `json:"use_path_style"              mapstructure:"use_path_style"`
	AccessKeyID     string `json:"access_key_id,omitempty"     mapstructure:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
}

// Timeouts bound each remote call.
type Timeouts struct {
	Metadata time.Duration `json:"metadata" mapstructure:"metadata"`
	Store    time.Duration `json:"store"    mapstructure:"store"`
	Classify time.Duration `json:"classify" mapstructure:"classify"`
}

// PresignConfig configures upload URLs.
type PresignConfig struct {
	Expiry time.Duration `json:"expiry" mapstructure:"expiry"`
}

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Namespace string `json:"namespace" mapstructure:"namespace"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `json:"level"  mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
}

// Defaults returns the built-in default values keyed by config path.
func Defaults() map[string]any {
	return map[string]any{
		"storage.backend":          "s3",
		"storage.bucket":           "",
		"storage.root":             "",
		"storage.fingerprint_mode": "etag",
		"store.backend":            "sqlite",
		"store.path":               "labelcache.db",
		"store.dsn":                "",
		"store.table":              "",
		"store.redis_addr":         "localhost:6379",
		"store.redis_password":     "",
		"store.redis_db":           0,
		"store.redis_prefix":       "labelcache:record:",
		"labeler.backend":          "rekognition",
		"labeler.endpoint":         "",
		"labeler.target":           "Cat",
		"labeler.max_labels":       10,
		"labeler.rate_limit":       0.0,
		"labeler.burst":            1,
		"aws.region":               "us-east-1",
		"aws.endpoint":             "",
		"aws.use_path_style":       false,
		"aws.access_key_id":        "",
		"aws.secret_access_key":    "",
		"timeouts.metadata":        5 * time.Second,
		"timeouts.store":           5 * time.Second,
		"timeouts.classify":        30 * time.Second,
		"concurrency":              8,
		"presign.expiry":           30 * time.Minute,
		"http.addr":                ":8080",
		"metrics.namespace":        "labelcache",
		"log.level":                "info",
		"log.format":               "text",
	}
}

// legacyEnv maps config keys to environment variables used by earlier
// deployments of the service.
var legacyEnv = map[string]string{
	"storage.bucket": "REKOGNITION_BUCKET_NAME",
	"store.table":    "IDEMPOTENCY_TABLE_NAME",
	"aws.region":     "AWS_REGION",
}

// Option adjusts loading.
type Option func(*viper.Viper)

// WithDefaults overrides built-in defaults, e.g. a deployment-specific
// store backend.
func WithDefaults(defaults map[string]any) Option {
	return func(v *viper.Viper) {
		for k, val := range defaults {
			v.SetDefault(k, val)
		}
	}
}

// WithOverrides sets values that win over the file and the environment,
// as used for command-line flags.
func WithOverrides(values map[string]any) Option {
	return func(v *viper.Viper) {
		for k, val := range values {
			v.Set(k, val)
		}
	}
}

// Load reads configuration from path (optional) and the environment, then
// validates it. An empty path searches for labelcache.yaml in the working
// directory; a missing file is not an error unless path was given.
func Load(path string, opts ...Option) (*Config, error) {
	v := viper.NewWithOptions(
		viper.KeyDelimiter("."),
		viper.EnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")),
	)
	v.SetEnvPrefix(DefaultEnvPrefix)
	v.AutomaticEnv()

	for key, val := range Defaults() {
		v.SetDefault(key, val)
	}
	for key, env := range legacyEnv {
		_ = v.BindEnv(key, envName(key), env)
	}
	for _, opt := range opts {
		opt(v)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("labelcache")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if errs := Validate(cfg); len(errs) > 0 {
		return nil, &InvalidError{Errors: errs}
	}
	return cfg, nil
}

func envName(key string) string {
	return DefaultEnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// ValidationError is one schema violation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// InvalidError reports every violation found in a configuration.
type InvalidError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *InvalidError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Validate checks cfg against the embedded schema.
// Returns all errors found (does not fail-fast).
func Validate(cfg *Config) []ValidationError {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return []ValidationError{{Field: "schema", Message: err.Error()}}
	}

	value := ctx.Encode(cfg)
	if err := value.Err(); err != nil {
		return []ValidationError{{Message: err.Error()}}
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)

	// CUE keeps only the most severe error of a combined result, so a
	// conflict anywhere hides missing required values elsewhere. Every
	// leaf is checked on its own as well as the value as a whole.
	var out []ValidationError
	seen := make(map[ValidationError]bool)
	collect := func(err error) {
		for _, e := range cueerrors.Errors(err) {
			format, args := e.Msg()
			ve := ValidationError{
				Field:   strings.Join(e.Path(), "."),
				Message: fmt.Sprintf(format, args...),
			}
			if seen[ve] {
				continue
			}
			seen[ve] = true
			out = append(out, ve)
		}
	}
	collect(unified.Validate(cue.Concrete(true)))
	walkLeaves(unified, func(leaf cue.Value) {
		collect(leaf.Validate(cue.Concrete(true)))
	})
	return out
}

// walkLeaves calls fn for every non-struct field below v.
func walkLeaves(v cue.Value, fn func(cue.Value)) {
	if v.IncompleteKind() != cue.StructKind {
		fn(v)
		return
	}
	it, err := v.Fields()
	if err != nil {
		fn(v)
		return
	}
	for it.Next() {
		walkLeaves(it.Value(), fn)
	}
}
