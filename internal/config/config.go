package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	apperrors "github.com/gmsas95/chronosage/internal/errors"
	"github.com/gmsas95/chronosage/internal/scheduler"
)

// Config holds all configuration for ChronoSage
type Config struct {
	App       AppConfig       `mapstructure:"app" yaml:"app"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Calendar  CalendarConfig  `mapstructure:"calendar" yaml:"calendar"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Security  SecurityConfig  `mapstructure:"security" yaml:"security"`
	Jobs      JobsConfig      `mapstructure:"jobs" yaml:"jobs"`
}

type AppConfig struct {
	Title    string `mapstructure:"title" yaml:"title"`
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
	Debug    bool   `mapstructure:"debug" yaml:"debug"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string `mapstructure:"address" yaml:"address"`
	Port         int    `mapstructure:"port" yaml:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// LLMConfig holds the chat-completions endpoint used for interpretation
type LLMConfig struct {
	APIKey            string  `mapstructure:"api_key" yaml:"api_key"`
	BaseURL           string  `mapstructure:"base_url" yaml:"base_url"`
	Model             string  `mapstructure:"model" yaml:"model"`
	Timeout           int     `mapstructure:"timeout" yaml:"timeout"`
	MaxTokens         int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature       float64 `mapstructure:"temperature" yaml:"temperature"`
	RequestsPerMinute int     `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// CalendarConfig holds Google Calendar settings
type CalendarConfig struct {
	CredentialsFile string   `mapstructure:"credentials_file" yaml:"credentials_file"`
	TokenFile       string   `mapstructure:"token_file" yaml:"token_file"`
	Scopes          []string `mapstructure:"scopes" yaml:"scopes"`
	CalendarID      string   `mapstructure:"calendar_id" yaml:"calendar_id"`
	MaxEvents       int      `mapstructure:"max_events" yaml:"max_events"`
	MaxDaysAhead    int      `mapstructure:"max_days_ahead" yaml:"max_days_ahead"`
	BusyCacheTTL    int      `mapstructure:"busy_cache_ttl" yaml:"busy_cache_ttl"`
}

// SchedulerConfig holds slot finder settings
type SchedulerConfig struct {
	WorkingHours    scheduler.WorkingHours `mapstructure:"working_hours" yaml:"working_hours"`
	MaxSuggestions  int                    `mapstructure:"max_suggestions" yaml:"max_suggestions"`
	DefaultDuration int                    `mapstructure:"default_duration" yaml:"default_duration"`
	Scorer          string                 `mapstructure:"scorer" yaml:"scorer"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir" yaml:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path" yaml:"badger_path"`
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	JWTSecret     string   `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	AdminPassword string   `mapstructure:"admin_password" yaml:"admin_password"`
	AllowOrigins  []string `mapstructure:"allow_origins" yaml:"allow_origins"`
}

// JobsConfig holds cron specs for background maintenance
type JobsConfig struct {
	CacheGC        string `mapstructure:"cache_gc" yaml:"cache_gc"`
	ActivityPrune  string `mapstructure:"activity_prune" yaml:"activity_prune"`
	ActivityMaxAge int    `mapstructure:"activity_max_age_days" yaml:"activity_max_age_days"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}
	dataDir = expandPath(dataDir)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.Set("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "chronosage.db"))
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "badger"))
	v.SetDefault("calendar.credentials_file", filepath.Join(dataDir, "credentials.json"))
	v.SetDefault("calendar.token_file", filepath.Join(dataDir, "token.json"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "chronosage.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.WrapAs(apperrors.ErrConfigInvalid, fmt.Errorf("read %s: %w", configPath, err))
		}
	}

	// CHRONOSAGE_SERVER_PORT, CHRONOSAGE_CALENDAR_MAX_EVENTS, ...
	v.SetEnvPrefix("CHRONOSAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.title", "ChronoSage")
	v.SetDefault("app.timezone", "America/Denver")
	v.SetDefault("app.debug", false)

	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 60)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.requests_per_minute", 60)

	v.SetDefault("calendar.scopes", []string{"https://www.googleapis.com/auth/calendar"})
	v.SetDefault("calendar.calendar_id", "primary")
	v.SetDefault("calendar.max_events", 10)
	v.SetDefault("calendar.max_days_ahead", 30)
	v.SetDefault("calendar.busy_cache_ttl", 300)

	hours := scheduler.DefaultWorkingHours()
	v.SetDefault("scheduler.working_hours.start_hour", hours.StartHour)
	v.SetDefault("scheduler.working_hours.end_hour", hours.EndHour)
	v.SetDefault("scheduler.max_suggestions", scheduler.DefaultMaxSuggestions)
	v.SetDefault("scheduler.default_duration", 60)
	v.SetDefault("scheduler.scorer", "constant")

	v.SetDefault("security.allow_origins", []string{"*"})

	v.SetDefault("jobs.cache_gc", "@every 30m")
	v.SetDefault("jobs.activity_prune", "@daily")
	v.SetDefault("jobs.activity_max_age_days", 90)
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "chronosage")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "chronosage")
}

// loadEnvOverrides picks up keys viper has no default for, plus the
// unprefixed aliases users already have set.
func loadEnvOverrides(cfg *Config) {
	if key := ResolveEnvWithAliases("CHRONOSAGE_LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if tz := ResolveEnvWithAliases("CHRONOSAGE_APP_TIMEZONE"); tz != "" {
		cfg.App.Timezone = tz
	}
	if port := os.Getenv("CHRONOSAGE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	cfg.Security.JWTSecret = GetEnvDefault("CHRONOSAGE_SECURITY_JWT_SECRET", cfg.Security.JWTSecret)
	if pw := ResolveEnvWithAliases("CHRONOSAGE_SECURITY_ADMIN_PASSWORD"); pw != "" {
		cfg.Security.AdminPassword = pw
	}

	cfg.Calendar.CredentialsFile = expandPath(cfg.Calendar.CredentialsFile)
	cfg.Calendar.TokenFile = expandPath(cfg.Calendar.TokenFile)
}

func validate(cfg *Config) error {
	invalid := func(format string, args ...any) error {
		return apperrors.WrapAs(apperrors.ErrConfigInvalid, fmt.Errorf(format, args...))
	}

	if _, err := time.LoadLocation(cfg.App.Timezone); err != nil {
		return invalid("app.timezone %q: %w", cfg.App.Timezone, err)
	}
	if err := cfg.Scheduler.WorkingHours.Validate(); err != nil {
		return invalid("scheduler: %w", err)
	}
	if cfg.Scheduler.MaxSuggestions <= 0 {
		return invalid("scheduler.max_suggestions must be positive")
	}
	if cfg.Scheduler.DefaultDuration <= 0 {
		return invalid("scheduler.default_duration must be positive")
	}
	switch cfg.Scheduler.Scorer {
	case "constant", "preference":
	default:
		return invalid("scheduler.scorer %q must be constant or preference", cfg.Scheduler.Scorer)
	}
	if cfg.Calendar.MaxEvents <= 0 {
		return invalid("calendar.max_events must be positive")
	}
	if cfg.Calendar.MaxDaysAhead <= 0 {
		return invalid("calendar.max_days_ahead must be positive")
	}
	if cfg.LLM.RequestsPerMinute < 0 {
		return invalid("llm.requests_per_minute must not be negative")
	}

	// Tokens issued with a generated secret do not survive a restart.
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	return nil
}

// Location returns the configured time zone. Load has already validated it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// BusyCacheTTL returns the free/busy cache lifetime; zero disables caching.
func (c *Config) BusyCacheTTL() time.Duration {
	return time.Duration(c.Calendar.BusyCacheTTL) * time.Second
}

// LookAhead is the window searched for upcoming and matching events.
func (c *Config) LookAhead() time.Duration {
	return time.Duration(c.Calendar.MaxDaysAhead) * 24 * time.Hour
}

// WriteTemplate writes cfg as YAML to path. Secrets are left out.
func WriteTemplate(path string, cfg *Config) error {
	out := *cfg
	out.LLM.APIKey = ""
	out.Security.JWTSecret = ""
	out.Security.AdminPassword = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	header := []byte("# ChronoSage configuration. Secrets belong in the environment or .env.\n")
	return os.WriteFile(path, append(header, data...), 0600)
}
