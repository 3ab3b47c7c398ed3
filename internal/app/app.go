// Package app assembles a ready-to-run pipeline from configuration.
//
// Clients are created once per process and shared by every event; Build is
// the only place that knows which concrete backends exist.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/labelcache/internal/config"
	"github.com/roach88/labelcache/internal/coordinator"
	"github.com/roach88/labelcache/internal/fingerprint"
	"github.com/roach88/labelcache/internal/labeler"
	"github.com/roach88/labelcache/internal/observe"
	"github.com/roach88/labelcache/internal/presign"
	"github.com/roach88/labelcache/internal/store"
)

// Runtime holds the process-scoped pipeline.
type Runtime struct {
	Config      *config.Config
	Logger      *slog.Logger
	Registry    *prometheus.Registry
	Store       store.Store
	Resolver    fingerprint.Resolver
	Invoker     *labeler.Invoker
	Coordinator *coordinator.Coordinator

	// Presign is nil unless objects live in S3.
	Presign *presign.Gateway

	awsCfg *aws.Config
	fs     afero.Fs
}

// Option adjusts Build.
type Option func(*buildOptions)

type buildOptions struct {
	fs             afero.Fs
	tracerProvider trace.TracerProvider
	coordinator    coordinator.Options
}

// WithFs replaces the OS filesystem used by the fs storage backend.
func WithFs(fs afero.Fs) Option {
	return func(o *buildOptions) { o.fs = fs }
}

// WithTracerProvider sets the tracer provider for coordinator spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *buildOptions) { o.tracerProvider = tp }
}

// WithCoordinatorOptions seeds the coordinator options (clock, IDs) before
// configuration-derived fields are applied.
func WithCoordinatorOptions(opts coordinator.Options) Option {
	return func(o *buildOptions) { o.coordinator = opts }
}

// Build creates every client named by cfg.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Runtime, error) {
	bo := buildOptions{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&bo)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		fs:       bo.fs,
	}
	rt.Registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	var err error
	if rt.Store, err = rt.buildStore(ctx); err != nil {
		return nil, err
	}
	if rt.Resolver, err = rt.buildResolver(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	labelBackend, err := rt.buildLabeler(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Invoker = labeler.NewInvoker(labelBackend,
		labeler.WithPolicy(labeler.Policy{Target: cfg.Labeler.Target, MaxLabels: cfg.Labeler.MaxLabels}),
		labeler.WithRateLimit(cfg.Labeler.RateLimit, cfg.Labeler.Burst),
	)

	observer, err := observe.NewPrometheusObserver(cfg.Metrics.Namespace, rt.Registry)
	if err != nil {
		rt.Close()
		return nil, err
	}

	copts := bo.coordinator
	copts.Logger = logger
	copts.Observer = observer
	copts.TracerProvider = bo.tracerProvider
	copts.MetadataTimeout = cfg.Timeouts.Metadata
	copts.StoreTimeout = cfg.Timeouts.Store
	copts.ClassifyTimeout = cfg.Timeouts.Classify
	copts.Concurrency = cfg.Concurrency
	rt.Coordinator = coordinator.New(rt.Resolver, rt.Store, rt.Invoker, copts)

	if cfg.Storage.Backend == "s3" {
		awsCfg, err := rt.awsConfig(ctx)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Presign = presign.NewGateway(s3.NewPresignClient(rt.s3Client(awsCfg)), cfg.Storage.Bucket, cfg.Presign.Expiry, logger)
	}

	logger.Debug("runtime ready",
		"storage", cfg.Storage.Backend,
		"store", cfg.Store.Backend,
		"labeler", cfg.Labeler.Backend,
		"target", cfg.Labeler.Target)
	return rt, nil
}

// Close releases the store connection.
func (rt *Runtime) Close() error {
	if rt.Store == nil {
		return nil
	}
	return rt.Store.Close()
}

func (rt *Runtime) buildStore(ctx context.Context) (store.Store, error) {
	sc := rt.Config.Store
	switch sc.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		s, err := store.OpenSQLite(sc.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := store.OpenPostgres(ctx, sc.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	case "redis":
		s := store.NewRedisStore(store.RedisOptions{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
			Prefix:   sc.RedisPrefix,
		})
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return s, nil
	case "dynamodb":
		awsCfg, err := rt.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if ep := rt.Config.AWS.Endpoint; ep != "" {
				o.BaseEndpoint = aws.String(ep)
			}
		})
		return store.NewDynamoStore(client, sc.Table), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}
}

func (rt *Runtime) buildResolver(ctx context.Context) (fingerprint.Resolver, error) {
	sc := rt.Config.Storage
	switch sc.Backend {
	case "fs":
		return fingerprint.NewFSResolver(afero.NewBasePathFs(rt.fs, sc.Root)), nil
	case "s3":
		mode, err := fingerprint.ParseMode(sc.FingerprintMode)
		if err != nil {
			return nil, err
		}
		awsCfg, err := rt.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return fingerprint.NewS3Resolver(rt.s3Client(awsCfg), mode, rt.Logger.With("component", "resolver")), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}

func (rt *Runtime) buildLabeler(ctx context.Context) (labeler.Labeler, error) {
	lc := rt.Config.Labeler
	switch lc.Backend {
	case "http":
		var opts []labeler.HTTPOption
		if rt.Config.Storage.Backend == "fs" {
			opts = append(opts, labeler.WithContentSource(afero.NewReadOnlyFs(afero.NewBasePathFs(rt.fs, rt.Config.Storage.Root))))
		}
		return labeler.NewHTTPLabeler(lc.Endpoint, opts...), nil
	case "rekognition":
		if rt.Config.Storage.Backend != "s3" {
			return nil, fmt.Errorf("rekognition labeler requires storage.backend=s3, got %q", rt.Config.Storage.Backend)
		}
		awsCfg, err := rt.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return labeler.NewRekognitionLabeler(rt.rekognitionClient(awsCfg)), nil
	default:
		return nil, fmt.Errorf("unknown labeler backend %q", lc.Backend)
	}
}

// awsConfig loads the shared AWS config on first use.
func (rt *Runtime) awsConfig(ctx context.Context) (aws.Config, error) {
	if rt.awsCfg != nil {
		return *rt.awsCfg, nil
	}
	ac := rt.Config.AWS
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(ac.Region)}
	if ac.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ac.AccessKeyID, ac.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	rt.awsCfg = &cfg
	return cfg, nil
}

func (rt *Runtime) s3Client(cfg aws.Config) *s3.Client {
	ac := rt.Config.AWS
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if ac.Endpoint != "" {
			o.BaseEndpoint = aws.String(ac.Endpoint)
		}
		o.UsePathStyle = ac.UsePathStyle
	})
}

func (rt *Runtime) rekognitionClient(cfg aws.Config) *rekognition.Client {
	return rekognition.NewFromConfig(cfg, func(o *rekognition.Options) {
		if ep := rt.Config.AWS.Endpoint; ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
	})
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// ParseLevel converts a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
