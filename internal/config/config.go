package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/agentworkforce/gtaskfs/internal/taskdoc"
	"github.com/agentworkforce/gtaskfs/internal/tasksapi"
)

const (
	DefaultPath       = "gtaskfs.yml"
	DefaultListenAddr = "127.0.0.1:8787"
	envPrefix         = "GTASKFS_"
)

// Config is the gtaskfs.yml file overlaid with GTASKFS_* variables.
type Config struct {
	APIBaseURL     string        `yaml:"api_base_url"`
	Token          string        `yaml:"token,omitempty"`
	TokenFile      string        `yaml:"token_file,omitempty"`
	SchemaRef      string        `yaml:"schema_ref,omitempty"`
	StrictSchema   bool          `yaml:"strict_schema"`
	DiagnosticsDSN string        `yaml:"diagnostics_dsn,omitempty"`
	LogLevel       string        `yaml:"log_level"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	ListenAddr     string        `yaml:"listen_addr"`
	JWTSecret      string        `yaml:"jwt_secret,omitempty"`
	MountPoint     string        `yaml:"mount_point,omitempty"`
	MirrorDir      string        `yaml:"mirror_dir,omitempty"`
}

func Default() Config {
	return Config{
		APIBaseURL:  tasksapi.DefaultBaseURL,
		SchemaRef:   taskdoc.DefaultSchemaRef,
		LogLevel:    "info",
		HTTPTimeout: 20 * time.Second,
		MaxRetries:  3,
		ListenAddr:  DefaultListenAddr,
		MirrorDir:   defaultMirrorDir(),
	}
}

// Load reads path over the defaults, then applies the environment. A
// missing file is only an error when required is set.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse YAML %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !required:
	default:
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files that exist. Values
// already set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func (c *Config) ApplyEnv() error {
	c.APIBaseURL = envOrDefault("API_BASE_URL", c.APIBaseURL)
	c.Token = envOrDefault("TOKEN", c.Token)
	c.TokenFile = envOrDefault("TOKEN_FILE", c.TokenFile)
	c.SchemaRef = envOrDefault("SCHEMA_REF", c.SchemaRef)
	c.DiagnosticsDSN = envOrDefault("DIAGNOSTICS_DSN", c.DiagnosticsDSN)
	c.LogLevel = envOrDefault("LOG_LEVEL", c.LogLevel)
	c.ListenAddr = envOrDefault("LISTEN_ADDR", c.ListenAddr)
	c.JWTSecret = envOrDefault("JWT_SECRET", c.JWTSecret)
	c.MountPoint = envOrDefault("MOUNT_POINT", c.MountPoint)
	c.MirrorDir = envOrDefault("MIRROR_DIR", c.MirrorDir)

	var err error
	if c.StrictSchema, err = boolEnv("STRICT_SCHEMA", c.StrictSchema); err != nil {
		return err
	}
	if c.HTTPTimeout, err = durationEnv("HTTP_TIMEOUT", c.HTTPTimeout); err != nil {
		return err
	}
	if c.MaxRetries, err = intEnv("MAX_RETRIES", c.MaxRetries); err != nil {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("api_base_url is required")
	}
	parsed, err := url.Parse(c.APIBaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("api_base_url must be an absolute URL: %q", c.APIBaseURL)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "trace", "debug", "info", "warn", "error", "disabled":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// TokenProvider prefers an inline token over the token file. It returns
// nil when neither is configured.
func (c Config) TokenProvider() tasksapi.TokenProvider {
	if strings.TrimSpace(c.Token) != "" {
		return tasksapi.StaticToken(c.Token)
	}
	if strings.TrimSpace(c.TokenFile) != "" {
		return tasksapi.FileToken(c.TokenFile)
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(envPrefix + name)); value != "" {
		return value
	}
	return fallback
}

func intEnv(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s%s=%q: %w", envPrefix, name, raw, err)
	}
	return value, nil
}

func boolEnv(name string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s%s=%q: %w", envPrefix, name, raw, err)
	}
	return value, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + name))
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s%s=%q: %w", envPrefix, name, raw, err)
	}
	return value, nil
}

func defaultMirrorDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return dir + string(os.PathSeparator) + "gtaskfs"
	}
	return ".gtaskfs"
}
