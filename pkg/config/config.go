package config

import (
	"errors"
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

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Chronos     ChronosConfig
	FreeBusy    FreeBusyConfig
	Import      ImportConfig
	Maintenance MaintenanceConfig
	Scheduling  SchedulingConfig
	Export      ExportConfig
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
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ChronosConfig tunes the recurrence/scheduling core.
type ChronosConfig struct {
	// MaxOccurrences caps how many occurrences a single series may expand
	// to inside one request before the expansion is aborted.
	MaxOccurrences int
	// DefaultTimeZone is used when neither the session nor the event carries
	// a resolvable zone.
	DefaultTimeZone string
}

// FreeBusyConfig governs the free/busy performer.
type FreeBusyConfig struct {
	// AvailabilityEnabled turns on reconciliation against declared
	// availability calendars (stage B). Off by default.
	AvailabilityEnabled bool
	MaxAttendees        int
	MaxEventsPerUser    int
	CacheTTL            time.Duration
}

// ImportConfig drives batch iCalendar ingestion.
type ImportConfig struct {
	DefaultUIDConflictStrategy string
	MaxComponents              int
}

// MaintenanceConfig controls the periodic cleanup job.
type MaintenanceConfig struct {
	Enabled            bool
	CronSpec           string
	TombstoneRetention time.Duration
}

// SchedulingConfig sizes the post-commit notification dispatch queue.
type SchedulingConfig struct {
	Workers    int
	BufferSize int
}

// ExportConfig locates rendered agenda files and bounds download links.
type ExportConfig struct {
	Dir         string
	DownloadTTL time.Duration
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
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

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
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Chronos = ChronosConfig{
		MaxOccurrences:  v.GetInt("CHRONOS_MAX_OCCURRENCES"),
		DefaultTimeZone: v.GetString("CHRONOS_DEFAULT_TIMEZONE"),
	}

	cfg.FreeBusy = FreeBusyConfig{
		AvailabilityEnabled: v.GetBool("ENABLE_AVAILABILITY"),
		MaxAttendees:        v.GetInt("FREEBUSY_MAX_ATTENDEES"),
		MaxEventsPerUser:    v.GetInt("FREEBUSY_MAX_EVENTS_PER_USER"),
		CacheTTL:            parseDuration(v.GetString("FREEBUSY_CACHE_TTL"), time.Minute),
	}

	cfg.Import = ImportConfig{
		DefaultUIDConflictStrategy: v.GetString("IMPORT_UID_CONFLICT_STRATEGY"),
		MaxComponents:              v.GetInt("IMPORT_MAX_COMPONENTS"),
	}

	cfg.Maintenance = MaintenanceConfig{
		Enabled:            v.GetBool("ENABLE_MAINTENANCE"),
		CronSpec:           v.GetString("MAINTENANCE_CRON"),
		TombstoneRetention: parseDuration(v.GetString("TOMBSTONE_RETENTION"), 90*24*time.Hour),
	}

	cfg.Scheduling = SchedulingConfig{
		Workers:    v.GetInt("SCHEDULING_WORKERS"),
		BufferSize: v.GetInt("SCHEDULING_BUFFER_SIZE"),
	}

	cfg.Export = ExportConfig{
		Dir:         v.GetString("EXPORT_DIR"),
		DownloadTTL: parseDuration(v.GetString("EXPORT_DOWNLOAD_TTL"), 24*time.Hour),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "chronos")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CHRONOS_MAX_OCCURRENCES", 1000)
	v.SetDefault("CHRONOS_DEFAULT_TIMEZONE", "UTC")

	v.SetDefault("ENABLE_AVAILABILITY", false)
	v.SetDefault("FREEBUSY_MAX_ATTENDEES", 100)
	v.SetDefault("FREEBUSY_MAX_EVENTS_PER_USER", 10000)
	v.SetDefault("FREEBUSY_CACHE_TTL", "1m")

	v.SetDefault("IMPORT_UID_CONFLICT_STRATEGY", "THROW")
	v.SetDefault("IMPORT_MAX_COMPONENTS", 1000)

	v.SetDefault("ENABLE_MAINTENANCE", false)
	v.SetDefault("MAINTENANCE_CRON", "@hourly")
	v.SetDefault("TOMBSTONE_RETENTION", "2160h")

	v.SetDefault("SCHEDULING_WORKERS", 2)
	v.SetDefault("SCHEDULING_BUFFER_SIZE", 64)

	v.SetDefault("EXPORT_DIR", "./exports")
	v.SetDefault("EXPORT_DOWNLOAD_TTL", "24h")
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
