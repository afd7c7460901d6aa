// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. LANGFILTER_PIPELINE_BATCH_SIZE.
const EnvPrefix = "LANGFILTER"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Source     SourceConfig     `mapstructure:"source"`
	WorkDir    string           `mapstructure:"work_dir"`
	Input      InputConfig      `mapstructure:"input"`
	Output     OutputConfig     `mapstructure:"output"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Extractor  ExtractorConfig  `mapstructure:"extractor"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	DB         DBConfig         `mapstructure:"db"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// SourceConfig describes the remote archive host.
type SourceConfig struct {
	BaseURL                      string `mapstructure:"base_url"`
	UserAgent                    string `mapstructure:"user_agent"`
	ResponseHeaderTimeoutSeconds int    `mapstructure:"response_header_timeout_seconds"`
	// RequestsPerSecond throttles downloads per host; zero disables throttling.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// InputConfig points at the shard list and the window of it to process.
type InputConfig struct {
	PathsFile string `mapstructure:"paths_file"`
	Offset    int    `mapstructure:"offset"`
	Limit     int    `mapstructure:"limit"`
}

// OutputConfig controls where batch files are written.
type OutputConfig struct {
	Dir          string `mapstructure:"dir"`
	FileTemplate string `mapstructure:"file_template"`
}

// PipelineConfig governs batch width and the classification stage.
type PipelineConfig struct {
	BatchSize       int    `mapstructure:"batch_size"`
	ClassifyWorkers int    `mapstructure:"classify_workers"`
	TargetLabel     string `mapstructure:"target_label"`
	ChunkBytes      int    `mapstructure:"chunk_bytes"`
}

// ExtractorConfig tunes payload decoding and text extraction.
type ExtractorConfig struct {
	DetectCharset bool `mapstructure:"detect_charset"`
	MinChars      int  `mapstructure:"min_chars"`
	// MaxRecordBytes bounds the response block buffered per record; larger records are skipped.
	MaxRecordBytes int64 `mapstructure:"max_record_bytes"`
}

// ClassifierConfig tunes the language detector.
type ClassifierConfig struct {
	Languages           []string `mapstructure:"languages"`
	MinRelativeDistance float64  `mapstructure:"min_relative_distance"`
	LowAccuracy         bool     `mapstructure:"low_accuracy"`
	Preload             bool     `mapstructure:"preload"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the optional ops HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// StorageConfig selects where finished batch files are uploaded.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for batch completion notices.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls access to the run ledger database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Storage backends.
const (
	StorageNone  = "none"
	StorageLocal = "local"
	StorageGCS   = "gcs"
)

// Load builds a Config from defaults, an optional file, the environment and
// overrides, in increasing order of precedence. Override keys use the dotted
// config names, e.g. "pipeline.batch_size".
func Load(path string, overrides map[string]any) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.base_url", "https://data.commoncrawl.org")
	v.SetDefault("source.user_agent", "warc-langfilter/0.1")
	v.SetDefault("source.response_header_timeout_seconds", 60)
	v.SetDefault("source.requests_per_second", 0.0)
	v.SetDefault("source.burst", 1)
	v.SetDefault("work_dir", "work")
	v.SetDefault("input.paths_file", "")
	v.SetDefault("input.offset", 0)
	v.SetDefault("input.limit", 0)
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.file_template", "part-%06d.jsonl")
	v.SetDefault("pipeline.batch_size", 6)
	v.SetDefault("pipeline.classify_workers", physicalCores())
	v.SetDefault("pipeline.target_label", "vie_Latn")
	v.SetDefault("pipeline.chunk_bytes", 32<<20)
	v.SetDefault("extractor.detect_charset", false)
	v.SetDefault("extractor.min_chars", 0)
	v.SetDefault("extractor.max_record_bytes", 64<<20)
	v.SetDefault("classifier.languages", []string{})
	v.SetDefault("classifier.min_relative_distance", 0.0)
	v.SetDefault("classifier.low_accuracy", false)
	v.SetDefault("classifier.preload", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 9090)
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.prefix", "langfilter")
	v.SetDefault("storage.content_type", "application/x-ndjson")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "warc-langfilter")
}

// physicalCores sizes the classifier pool; logical CPUs are the fallback.
func physicalCores() int {
	n, err := cpu.Counts(false)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Source.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("source.base_url must be an http(s) URL, got %q", c.Source.BaseURL)
	}
	if c.Source.ResponseHeaderTimeoutSeconds <= 0 {
		return fmt.Errorf("source.response_header_timeout_seconds must be > 0")
	}
	if c.Source.RequestsPerSecond < 0 {
		return fmt.Errorf("source.requests_per_second must be >= 0")
	}
	if strings.TrimSpace(c.WorkDir) == "" {
		return fmt.Errorf("work_dir is required")
	}
	if strings.TrimSpace(c.Input.PathsFile) == "" {
		return fmt.Errorf("input.paths_file is required")
	}
	if c.Input.Offset < 0 || c.Input.Limit < 0 {
		return fmt.Errorf("input.offset and input.limit must be >= 0")
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return fmt.Errorf("output.dir is required")
	}
	if c.Output.FileTemplate == "" {
		return fmt.Errorf("output.file_template is required")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Pipeline.ClassifyWorkers <= 0 {
		return fmt.Errorf("pipeline.classify_workers must be > 0")
	}
	if c.Pipeline.TargetLabel == "" {
		return fmt.Errorf("pipeline.target_label is required")
	}
	if c.Pipeline.ChunkBytes <= 0 {
		return fmt.Errorf("pipeline.chunk_bytes must be > 0")
	}
	if c.Extractor.MaxRecordBytes <= 0 {
		return fmt.Errorf("extractor.max_record_bytes must be > 0")
	}
	if c.Extractor.MinChars < 0 {
		return fmt.Errorf("extractor.min_chars must be >= 0")
	}
	if c.Classifier.MinRelativeDistance < 0 || c.Classifier.MinRelativeDistance > 0.99 {
		return fmt.Errorf("classifier.min_relative_distance must be within [0, 0.99]")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	switch c.Storage.Backend {
	case StorageNone, "":
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of none, local, gcs; got %q", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.DB.DSN != "" && c.DB.MaxConns <= 0 {
		return fmt.Errorf("db.max_conns must be > 0 when a dsn is set")
	}
	return nil
}

// ResponseHeaderTimeout converts the configured seconds into a duration.
func (c Config) ResponseHeaderTimeout() time.Duration {
	return time.Duration(c.Source.ResponseHeaderTimeoutSeconds) * time.Second
}
