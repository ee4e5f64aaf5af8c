package config

import "time"

// DetectorConfig holds runtime configuration for the burst detector service.
type DetectorConfig struct {
	Environment        string
	Debug              bool
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	ServiceToken       string
	TrackerRedisAddr   string
	TrackerRedisPass   string
	TrackerRedisDB     int
	TrackerTimeout     time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	ScanInterval       time.Duration
	ScanWindow         time.Duration
	IncidentStaleAfter time.Duration
	HistoryFetchLimit  int
	WSEventBuffer      int
}

// LoadDetectorConfig constructs a DetectorConfig from environment variables.
func LoadDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Environment:        GetString("APP_ENV", "development"),
		Debug:              GetBool("LOG_DEBUG", false),
		Addr:               GetString("DETECTOR_ADDR", ":4600"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://burstguard:burstguard@db:5432/burstguard?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		ServiceToken:       GetString("DETECTOR_SERVICE_TOKEN", ""),
		TrackerRedisAddr:   GetString("TRACKER_REDIS_ADDR", ""),
		TrackerRedisPass:   GetString("TRACKER_REDIS_PASSWORD", ""),
		TrackerRedisDB:     GetInt("TRACKER_REDIS_DB", 0),
		TrackerTimeout:     time.Duration(GetInt("TRACKER_TIMEOUT_MS", 250)) * time.Millisecond,
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 1),
		ScanInterval:       time.Duration(GetInt("SCAN_INTERVAL_SECONDS", 900)) * time.Second,
		ScanWindow:         time.Duration(GetInt("SCAN_WINDOW_SECONDS", 1800)) * time.Second,
		IncidentStaleAfter: time.Duration(GetInt("INCIDENT_STALE_SECONDS", 7200)) * time.Second,
		HistoryFetchLimit:  GetInt("HISTORY_FETCH_LIMIT", 20),
		WSEventBuffer:      GetInt("WS_EVENT_BUFFER", 100),
	}
}
