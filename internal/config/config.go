// Package config provides configuration loading and management for the registry aggregator.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/toolhive-registry-aggregator/internal/telemetry"
)

const (
	// SourceFormatUpstream is the upstream MCP registry format (cursor pagination)
	SourceFormatUpstream = "upstream"

	// SourceFormatSmithery is the Smithery registry format (page pagination)
	SourceFormatSmithery = "smithery"
)

const (
	// DefaultDataDir is where records, outcomes, progress and exports are kept
	DefaultDataDir = "./data"

	// DefaultRetryAttempts is the retry budget shared by every source client
	DefaultRetryAttempts = 3

	// DefaultRetryBaseDelay is the base backoff delay
	DefaultRetryBaseDelay = 2 * time.Second

	// DefaultIntrospectionConcurrency is the size of one introspection batch
	DefaultIntrospectionConcurrency = 10

	// DefaultIntrospectionTimeout bounds a single capability query
	DefaultIntrospectionTimeout = 30 * time.Second

	// DefaultMaxErrorLength bounds stored error strings
	DefaultMaxErrorLength = 200

	// DefaultDescriptionLimit bounds descriptions in the index projection
	DefaultDescriptionLimit = 200

	// DefaultAPIAddress is the listen address of the read API
	DefaultAPIAddress = ":8080"

	// MaxUpstreamPageSize is the largest page the upstream registry accepts
	MaxUpstreamPageSize = 100
)

// EnvPrefix is the prefix of environment variables overriding CLI flags
const EnvPrefix = "THV_AGGREGATOR"

// ErrNoSources is returned when a configuration declares no usable source
var ErrNoSources = errors.New("at least one source must be configured")

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// DataDir is the root of all persisted state. Defaults to ./data
	DataDir string `yaml:"dataDir,omitempty"`

	Retry         *RetryConfig         `yaml:"retry,omitempty"`
	Sources       []SourceConfig       `yaml:"sources"`
	Introspection *IntrospectionConfig `yaml:"introspection,omitempty"`
	Merge         *MergeConfig         `yaml:"merge,omitempty"`
	API           *APIConfig           `yaml:"api,omitempty"`
	Telemetry     *telemetry.Config    `yaml:"telemetry,omitempty"`
}

// RetryConfig is the shared resilience policy of every source client
type RetryConfig struct {
	MaxAttempts int    `yaml:"maxAttempts,omitempty"`
	BaseDelay   string `yaml:"baseDelay,omitempty"`
}

// SourceConfig defines a single source registry
type SourceConfig struct {
	// Name is the source identifier; it becomes SourceEntityRecord.SourceID
	Name string `yaml:"name"`

	// Format selects the payload shape and pagination strategy
	Format string `yaml:"format"`

	// Endpoint is the API base URL, e.g. https://registry.modelcontextprotocol.io/v0.
	// The fetcher appends /servers.
	Endpoint string `yaml:"endpoint"`

	PageSize int `yaml:"pageSize,omitempty"`

	// Priority ranks sources during deduplication; higher wins ties
	Priority int `yaml:"priority,omitempty"`

	Timeout   string `yaml:"timeout,omitempty"`
	PageDelay string `yaml:"pageDelay,omitempty"`

	// FetchDetails enables the per-record detail request of page-paginated sources
	FetchDetails *bool `yaml:"fetchDetails,omitempty"`

	Disabled bool              `yaml:"disabled,omitempty"`
	Auth     *AuthConfig       `yaml:"auth,omitempty"`
	Filter   *NameFilterConfig `yaml:"filter,omitempty"`
}

// AuthConfig describes where a source's bearer credential comes from
type AuthConfig struct {
	// TokenFile is read first when set; surrounding whitespace is trimmed
	TokenFile string `yaml:"tokenFile,omitempty"`

	// TokenEnv lists environment variables checked in order
	TokenEnv []string `yaml:"tokenEnv,omitempty"`
}

// NameFilterConfig defines name-based filtering
type NameFilterConfig struct {
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`
}

// IntrospectionConfig tunes capability probing
type IntrospectionConfig struct {
	Concurrency    int    `yaml:"concurrency,omitempty"`
	Timeout        string `yaml:"timeout,omitempty"`
	MaxErrorLength int    `yaml:"maxErrorLength,omitempty"`
}

// MergeConfig tunes the merge step
type MergeConfig struct {
	DescriptionLimit int `yaml:"descriptionLimit,omitempty"`
}

// APIConfig configures the read API server
type APIConfig struct {
	Address string `yaml:"address,omitempty"`
}

// Default returns the configuration used when no file is given: the official
// upstream registry and Smithery, in that priority order.
func Default() *Config {
	return &Config{
		Sources: []SourceConfig{
			{
				Name:     "official",
				Format:   SourceFormatUpstream,
				Endpoint: "https://registry.modelcontextprotocol.io/v0",
				Priority: 1,
			},
			{
				Name:     "smithery",
				Format:   SourceFormatSmithery,
				Endpoint: "https://registry.smithery.ai",
				Priority: 2,
				Auth:     &AuthConfig{TokenEnv: []string{"SMITHERY_API_KEY", "SMITHERY_BEARER_AUTH"}},
			},
		},
	}
}

// LoadConfig loads and parses configuration. Without WithConfigPath it returns Default().
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse validates raw YAML against the schema, decodes it and applies semantic validation
func Parse(data []byte) (*Config, error) {
	if err := validateSchema(data); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetDataDir returns the data directory, using DefaultDataDir if not specified
func (c *Config) GetDataDir() string {
	if c.DataDir == "" {
		return DefaultDataDir
	}
	return c.DataDir
}

// EnabledSources returns the sources that are not disabled, in declaration order
func (c *Config) EnabledSources() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Sources))
	for _, src := range c.Sources {
		if !src.Disabled {
			out = append(out, src)
		}
	}
	return out
}

// Source looks up a source by name
func (c *Config) Source(name string) (SourceConfig, bool) {
	for _, src := range c.Sources {
		if src.Name == name {
			return src, true
		}
	}
	return SourceConfig{}, false
}

// SelectSources resolves requested source names. No names selects every
// enabled source; an explicitly named source runs even when disabled.
func (c *Config) SelectSources(names []string) ([]SourceConfig, error) {
	if len(names) == 0 {
		enabled := c.EnabledSources()
		if len(enabled) == 0 {
			return nil, ErrNoSources
		}
		return enabled, nil
	}

	out := make([]SourceConfig, 0, len(names))
	for _, name := range names {
		src, ok := c.Source(name)
		if !ok {
			return nil, fmt.Errorf("unknown source '%s'", name)
		}
		out = append(out, src)
	}
	return out, nil
}

// SourcePriorities returns the configured ranking used by deduplication
func (c *Config) SourcePriorities() map[string]int {
	out := make(map[string]int, len(c.Sources))
	for _, src := range c.Sources {
		out[src.Name] = src.Priority
	}
	return out
}

// GetRetryAttempts returns the retry budget
func (c *Config) GetRetryAttempts() int {
	if c.Retry == nil || c.Retry.MaxAttempts <= 0 {
		return DefaultRetryAttempts
	}
	return c.Retry.MaxAttempts
}

// GetRetryBaseDelay returns the base backoff delay
func (c *Config) GetRetryBaseDelay() time.Duration {
	if c.Retry == nil {
		return DefaultRetryBaseDelay
	}
	return durationOr(c.Retry.BaseDelay, DefaultRetryBaseDelay)
}

// GetIntrospectionConcurrency returns the introspection batch size
func (c *Config) GetIntrospectionConcurrency() int {
	if c.Introspection == nil || c.Introspection.Concurrency <= 0 {
		return DefaultIntrospectionConcurrency
	}
	return c.Introspection.Concurrency
}

// GetIntrospectionTimeout returns the per-query timeout
func (c *Config) GetIntrospectionTimeout() time.Duration {
	if c.Introspection == nil {
		return DefaultIntrospectionTimeout
	}
	return durationOr(c.Introspection.Timeout, DefaultIntrospectionTimeout)
}

// GetMaxErrorLength returns the cap applied to stored error strings
func (c *Config) GetMaxErrorLength() int {
	if c.Introspection == nil || c.Introspection.MaxErrorLength <= 0 {
		return DefaultMaxErrorLength
	}
	return c.Introspection.MaxErrorLength
}

// GetDescriptionLimit returns the index description limit
func (c *Config) GetDescriptionLimit() int {
	if c.Merge == nil || c.Merge.DescriptionLimit <= 0 {
		return DefaultDescriptionLimit
	}
	return c.Merge.DescriptionLimit
}

// GetAPIAddress returns the read API listen address
func (c *Config) GetAPIAddress() string {
	if c.API == nil || c.API.Address == "" {
		return DefaultAPIAddress
	}
	return c.API.Address
}

// GetPageSize returns the page size, defaulting per format
func (s *SourceConfig) GetPageSize() int {
	if s.PageSize > 0 {
		return s.PageSize
	}
	if s.Format == SourceFormatSmithery {
		return 50
	}
	return MaxUpstreamPageSize
}

// GetTimeout returns the per-request timeout, defaulting per format
func (s *SourceConfig) GetTimeout() time.Duration {
	def := 30 * time.Second
	if s.Format == SourceFormatSmithery {
		def = 60 * time.Second
	}
	return durationOr(s.Timeout, def)
}

// GetPageDelay returns the courtesy delay between page requests
func (s *SourceConfig) GetPageDelay() time.Duration {
	def := 100 * time.Millisecond
	if s.Format == SourceFormatSmithery {
		def = 50 * time.Millisecond
	}
	return durationOr(s.PageDelay, def)
}

// DetailsEnabled reports whether per-record detail requests are made
func (s *SourceConfig) DetailsEnabled() bool {
	return s.FetchDetails == nil || *s.FetchDetails
}

// GetToken resolves the bearer credential using the following priority:
// 1. Read from TokenFile if specified
// 2. The first non-empty variable listed in TokenEnv
//
// A source without auth, or whose variables are all unset, gets an empty token.
func (s *SourceConfig) GetToken() (string, error) {
	if s.Auth == nil {
		return "", nil
	}

	if s.Auth.TokenFile != "" {
		data, err := os.ReadFile(filepath.Clean(s.Auth.TokenFile))
		if err != nil {
			return "", fmt.Errorf("failed to read token from file %s: %w", s.Auth.TokenFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	for _, name := range s.Auth.TokenEnv {
		if v := os.Getenv(name); v != "" {
			return v, nil
		}
	}
	return "", nil
}

func durationOr(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// validate performs semantic validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if len(c.EnabledSources()) == 0 {
		return ErrNoSources
	}

	if c.Retry != nil {
		if err := validateDuration(c.Retry.BaseDelay, "retry.baseDelay"); err != nil {
			return err
		}
	}
	if c.Introspection != nil {
		if err := validateDuration(c.Introspection.Timeout, "introspection.timeout"); err != nil {
			return err
		}
	}

	sourceNames := make(map[string]bool)
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("source[%d]: name is required", i)
		}
		if sourceNames[src.Name] {
			return fmt.Errorf("source[%d]: duplicate source name '%s'", i, src.Name)
		}
		sourceNames[src.Name] = true

		if err := validateSourceConfig(&src, i); err != nil {
			return err
		}
	}

	return nil
}

// validateSourceConfig validates a single source configuration
func validateSourceConfig(src *SourceConfig, index int) error {
	prefix := fmt.Sprintf("source[%d] (%s)", index, src.Name)

	if src.Name != filepath.Base(src.Name) || strings.HasPrefix(src.Name, ".") {
		return fmt.Errorf("%s: name must be usable as a directory name", prefix)
	}

	switch src.Format {
	case SourceFormatUpstream:
		if src.PageSize > MaxUpstreamPageSize {
			return fmt.Errorf("%s: pageSize must not exceed %d for %s sources", prefix, MaxUpstreamPageSize, src.Format)
		}
	case SourceFormatSmithery:
	default:
		return fmt.Errorf("%s: format must be %s or %s, got '%s'",
			prefix, SourceFormatUpstream, SourceFormatSmithery, src.Format)
	}

	if src.Endpoint == "" {
		return fmt.Errorf("%s: endpoint is required", prefix)
	}
	if !strings.HasPrefix(src.Endpoint, "http://") && !strings.HasPrefix(src.Endpoint, "https://") {
		return fmt.Errorf("%s: endpoint must be an http(s) URL", prefix)
	}

	if err := validateDuration(src.Timeout, prefix+": timeout"); err != nil {
		return err
	}
	return validateDuration(src.PageDelay, prefix+": pageDelay")
}

func validateDuration(raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '30s', '100ms'): %w", field, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must not be negative", field)
	}
	return nil
}
