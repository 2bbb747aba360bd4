package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/therealutkarshpriyadarshi/hlsbatch/pkg/models"
)

// ErrMissingValue marks a required configuration value that is absent
var ErrMissingValue = errors.New("missing required configuration value")

// EnvPrefix is prepended to every environment override, e.g.
// HLSBATCH_SOURCE_BUCKETNAME overrides source.bucketName.
const EnvPrefix = "HLSBATCH"

// Destination kinds
const (
	DestinationS3    = "s3"
	DestinationLocal = "local"
)

// Key schemes for the single-video upload flow
const (
	KeySchemeUUID     = "uuid"
	KeySchemeBaseName = "basename"
)

// Config holds all configuration for the application
type Config struct {
	Source      StorageConfig
	Destination DestinationConfig
	Staging     StagingConfig
	Encoder     EncoderConfig
	Pipeline    PipelineConfig
	Logging     LoggingConfig
	Metrics     MetricsConfig
	Server      ServerConfig
	Auth        AuthConfig
	Redis       RedisConfig
	Queue       QueueConfig
	Database    DatabaseConfig
	Tracing     TracingConfig
	Webhook     WebhookConfig
}

// StorageConfig holds object storage connection settings
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	PathStyle       bool
	Prefix          string // only keys under this prefix are listed
}

// DestinationConfig holds where HLS artifacts are published
type DestinationConfig struct {
	Kind          string // s3 or local
	Storage       StorageConfig `mapstructure:",squash"`
	PublicBaseURL string
	PublicRead    bool
	LocalDir      string
}

// StagingConfig holds local scratch space settings
type StagingConfig struct {
	Root       string
	StaleAfter time.Duration
	LockFile   string
}

// EncoderConfig holds transcoding engine settings
type EncoderConfig struct {
	FFmpegPath      string
	FFprobePath     string
	VideoCodec      string
	AudioCodec      string
	AudioBitrate    int // kbps
	Preset          string
	SegmentDuration int // seconds, identical for every rendition
	Timeout         time.Duration
	MaxConcurrent   int
	ProbeSource     bool
}

// PipelineConfig holds orchestration policy
type PipelineConfig struct {
	SourceSuffixes  []string
	Layout          string
	OutputPrefix    string
	UploadKeyScheme string
	Ladder          []models.RenditionSpec
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxUploadSize   int64
}

// AuthConfig holds upload endpoint protection settings
type AuthConfig struct {
	JWTSecret    string
	RateLimitRPS int
	RateBurst    int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled   bool
	Host      string
	Port      int
	Password  string
	DB        int
	StatusTTL time.Duration
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// TracingConfig holds Jaeger configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// WebhookConfig holds completion notification settings
type WebhookConfig struct {
	URLs    []string
	Secret  string
	Timeout time.Duration
}

// Load reads configuration from an optional file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.normalize()

	return &config, nil
}

// normalize fills derived values that have no static default
func (c *Config) normalize() {
	if len(c.Pipeline.Ladder) == 0 {
		c.Pipeline.Ladder = models.DefaultLadder()
	}

	// The destination reuses the source connection unless configured on its own
	dst := &c.Destination.Storage
	if dst.Endpoint == "" {
		dst.Endpoint = c.Source.Endpoint
		dst.UseSSL = c.Source.UseSSL
		dst.PathStyle = c.Source.PathStyle
	}
	if dst.AccessKeyID == "" && dst.SecretAccessKey == "" {
		dst.AccessKeyID = c.Source.AccessKeyID
		dst.SecretAccessKey = c.Source.SecretAccessKey
	}
	if dst.Region == "" {
		dst.Region = c.Source.Region
	}
	if dst.BucketName == "" {
		dst.BucketName = c.Source.BucketName
	}

	if c.Pipeline.OutputPrefix != "" && !strings.HasSuffix(c.Pipeline.OutputPrefix, "/") {
		c.Pipeline.OutputPrefix += "/"
	}
}

// Validate checks everything a batch scan needs
func (c *Config) Validate() error {
	return errors.Join(c.ValidateSource(), c.ValidateDestination(), c.ValidatePipeline())
}

// ValidateSource checks the source bucket settings
func (c *Config) ValidateSource() error {
	return validateStorage("source", c.Source)
}

// ValidateDestination checks the publishing target settings
func (c *Config) ValidateDestination() error {
	switch c.Destination.Kind {
	case DestinationS3:
		return validateStorage("destination", c.Destination.Storage)
	case DestinationLocal:
		if c.Destination.LocalDir == "" {
			return fmt.Errorf("%w: destination.localDir", ErrMissingValue)
		}
		return nil
	default:
		return fmt.Errorf("unknown destination.kind %q", c.Destination.Kind)
	}
}

// ValidatePipeline checks encoder and orchestration settings
func (c *Config) ValidatePipeline() error {
	var errs []error

	if err := models.ValidateLadder(c.Pipeline.Ladder); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.ladder: %w", err))
	}
	if !models.Layout(c.Pipeline.Layout).Valid() {
		errs = append(errs, fmt.Errorf("unknown pipeline.layout %q", c.Pipeline.Layout))
	}
	if c.Pipeline.UploadKeyScheme != KeySchemeUUID && c.Pipeline.UploadKeyScheme != KeySchemeBaseName {
		errs = append(errs, fmt.Errorf("unknown pipeline.uploadKeyScheme %q", c.Pipeline.UploadKeyScheme))
	}
	if len(c.Pipeline.SourceSuffixes) == 0 {
		errs = append(errs, fmt.Errorf("%w: pipeline.sourceSuffixes", ErrMissingValue))
	}
	if c.Encoder.SegmentDuration <= 0 {
		errs = append(errs, fmt.Errorf("encoder.segmentDuration must be positive, got %d", c.Encoder.SegmentDuration))
	}
	if c.Staging.Root == "" {
		errs = append(errs, fmt.Errorf("%w: staging.root", ErrMissingValue))
	}

	return errors.Join(errs...)
}

func validateStorage(section string, s StorageConfig) error {
	var errs []error
	required := map[string]string{
		"endpoint":        s.Endpoint,
		"accessKeyID":     s.AccessKeyID,
		"secretAccessKey": s.SecretAccessKey,
		"bucketName":      s.BucketName,
	}
	for _, name := range []string{"endpoint", "accessKeyID", "secretAccessKey", "bucketName"} {
		if required[name] == "" {
			errs = append(errs, fmt.Errorf("%w: %s.%s", ErrMissingValue, section, name))
		}
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Storage defaults; credentials default to empty so the env overrides bind
	for _, section := range []string{"source", "destination"} {
		v.SetDefault(section+".endpoint", "")
		v.SetDefault(section+".accessKeyID", "")
		v.SetDefault(section+".secretAccessKey", "")
		v.SetDefault(section+".bucketName", "")
		v.SetDefault(section+".region", "")
		v.SetDefault(section+".useSSL", false)
		v.SetDefault(section+".pathStyle", false)
		v.SetDefault(section+".prefix", "")
	}
	v.SetDefault("source.region", "us-east-1")
	v.SetDefault("destination.kind", DestinationS3)
	v.SetDefault("destination.publicBaseURL", "")
	v.SetDefault("destination.publicRead", false)
	v.SetDefault("destination.localDir", "")

	// Staging defaults
	v.SetDefault("staging.root", "/tmp/hlsbatch")
	v.SetDefault("staging.staleAfter", "24h")
	v.SetDefault("staging.lockFile", "")

	// Encoder defaults
	v.SetDefault("encoder.ffmpegPath", "ffmpeg")
	v.SetDefault("encoder.ffprobePath", "ffprobe")
	v.SetDefault("encoder.videoCodec", "libx264")
	v.SetDefault("encoder.audioCodec", "aac")
	v.SetDefault("encoder.audioBitrate", 128)
	v.SetDefault("encoder.preset", "veryfast")
	v.SetDefault("encoder.segmentDuration", 6)
	v.SetDefault("encoder.timeout", "2h")
	v.SetDefault("encoder.maxConcurrent", 2)
	v.SetDefault("encoder.probeSource", true)

	// Pipeline defaults
	v.SetDefault("pipeline.sourceSuffixes", []string{".mp4"})
	v.SetDefault("pipeline.layout", string(models.LayoutNamed))
	v.SetDefault("pipeline.outputPrefix", "")
	v.SetDefault("pipeline.uploadKeyScheme", KeySchemeUUID)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "2h")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.maxUploadSize", 8<<30) // 8GB

	// Auth defaults
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.rateLimitRPS", 1)
	v.SetDefault("auth.rateBurst", 2)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.statusTTL", "168h")

	// Queue defaults
	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "movies")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 5)
	v.SetDefault("database.minConns", 1)

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "hlsbatch")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")

	// Webhook defaults
	v.SetDefault("webhook.urls", []string{})
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.timeout", "30s")
}
