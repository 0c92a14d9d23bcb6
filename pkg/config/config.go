package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Scheduling    SchedulingConfig
	Availability  AvailabilityConfig
	Notifications NotificationsConfig
	Timesheets    TimesheetConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Issuer            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulingConfig holds the booking policy and the default availability window.
type SchedulingConfig struct {
	Timezone        string
	DayStart        string
	DayEnd          string
	SlotGranularity time.Duration
	AdvanceNotice   time.Duration
	MaxLeadTime     time.Duration
	ClockInLead     time.Duration
}

// Location resolves the configured time zone, falling back to UTC.
func (c SchedulingConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AvailabilityConfig governs caching of computed slots.
type AvailabilityConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// NotificationsConfig sizes the lesson event dispatcher.
type NotificationsConfig struct {
	Workers      int
	BufferSize   int
	MaxRetries   int
	RetryDelay   time.Duration
	DrainTimeout time.Duration
}

// TimesheetConfig bounds timesheet queries.
type TimesheetConfig struct {
	MaxRange time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Issuer:            v.GetString("JWT_ISSUER"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Scheduling = SchedulingConfig{
		Timezone:        v.GetString("SCHEDULING_TIMEZONE"),
		DayStart:        v.GetString("SCHEDULING_DAY_START"),
		DayEnd:          v.GetString("SCHEDULING_DAY_END"),
		SlotGranularity: parseDuration(v.GetString("SCHEDULING_SLOT_GRANULARITY"), 30*time.Minute),
		AdvanceNotice:   parseDuration(v.GetString("SCHEDULING_ADVANCE_NOTICE"), 24*time.Hour),
		MaxLeadTime:     parseDuration(v.GetString("SCHEDULING_MAX_LEAD_TIME"), 30*24*time.Hour),
		ClockInLead:     parseDuration(v.GetString("SCHEDULING_CLOCK_IN_LEAD"), 10*time.Minute),
	}

	cfg.Availability = AvailabilityConfig{
		CacheEnabled: v.GetBool("ENABLE_AVAILABILITY_CACHE"),
		CacheTTL:     parseDuration(v.GetString("AVAILABILITY_CACHE_TTL"), 2*time.Minute),
	}

	cfg.Notifications = NotificationsConfig{
		Workers:      v.GetInt("NOTIFICATIONS_WORKERS"),
		BufferSize:   v.GetInt("NOTIFICATIONS_BUFFER_SIZE"),
		MaxRetries:   v.GetInt("NOTIFICATIONS_MAX_RETRIES"),
		RetryDelay:   parseDuration(v.GetString("NOTIFICATIONS_RETRY_DELAY"), time.Second),
		DrainTimeout: parseDuration(v.GetString("NOTIFICATIONS_DRAIN_TIMEOUT"), 5*time.Second),
	}

	cfg.Timesheets = TimesheetConfig{
		MaxRange: parseDuration(v.GetString("TIMESHEET_MAX_RANGE"), 93*24*time.Hour),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "tutoring")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "tutoring-api")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHEDULING_TIMEZONE", "UTC")
	v.SetDefault("SCHEDULING_DAY_START", "08:00")
	v.SetDefault("SCHEDULING_DAY_END", "21:00")
	v.SetDefault("SCHEDULING_SLOT_GRANULARITY", "30m")
	v.SetDefault("SCHEDULING_ADVANCE_NOTICE", "24h")
	v.SetDefault("SCHEDULING_MAX_LEAD_TIME", "720h")
	v.SetDefault("SCHEDULING_CLOCK_IN_LEAD", "10m")

	v.SetDefault("ENABLE_AVAILABILITY_CACHE", false)
	v.SetDefault("AVAILABILITY_CACHE_TTL", "2m")

	v.SetDefault("NOTIFICATIONS_WORKERS", 2)
	v.SetDefault("NOTIFICATIONS_BUFFER_SIZE", 64)
	v.SetDefault("NOTIFICATIONS_MAX_RETRIES", 3)
	v.SetDefault("NOTIFICATIONS_RETRY_DELAY", "1s")
	v.SetDefault("NOTIFICATIONS_DRAIN_TIMEOUT", "5s")

	v.SetDefault("TIMESHEET_MAX_RANGE", "2232h")
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
