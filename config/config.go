package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Fetch modes.
const (
	FetchHTTP    = "http"
	FetchBrowser = "browser"
)

// DealBands are the drop-percentage thresholds used to classify a price
// against its benchmark. They must satisfy Fair < Hot < FarBelow.
type DealBands struct {
	FarBelowPct float64
	HotDealPct  float64
	FairPct     float64
}

// TierCaps bound how many listings a digest returns per plan.
type TierCaps struct {
	Base int
	Mid  int
	Top  int
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	StoreDriver      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	SQLitePath       string

	ScanInterval       time.Duration
	RegionDelay        time.Duration
	DetailJitterMin    time.Duration
	DetailJitterMax    time.Duration
	NotifyInterval     time.Duration
	RequestMinInterval time.Duration
	RequestTimeout     time.Duration

	RetentionDays       int
	PriceFloor          int64
	BenchmarkMinSamples int
	BenchmarkCacheTTL   time.Duration
	Deal                DealBands
	Caps                TierCaps
	DescriptionLimit    int
	TrialDays           int

	Timezone       string
	Location       *time.Location
	SearchCategory string
	FetchMode      string
	ChromeBin      string
	Regions        []Region

	CredentialsPath      string
	TelegramToken        string
	TelegramAPIBase      string
	AdminChatID          int64
	NtfyURL              string
	RedisAddr            string
	RedisPassword        string
	APIAddr              string
	IngestCSVPath        string
	UpgradeImageURL      string
	StoreConnectAttempts int
}

// Load reads the .env file and returns a populated Config struct.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "carwatch"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "carwatch"),
		PostgresDB:       getEnv("POSTGRES_DB", "carwatch"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		SQLitePath:       getEnv("SQLITE_PATH", "./data/carwatch.db"),

		ScanInterval:       getEnvDuration("SCAN_INTERVAL", 60*time.Second),
		RegionDelay:        getEnvDuration("REGION_DELAY", 3*time.Second),
		DetailJitterMin:    getEnvDuration("DETAIL_JITTER_MIN", 1500*time.Millisecond),
		DetailJitterMax:    getEnvDuration("DETAIL_JITTER_MAX", 3500*time.Millisecond),
		NotifyInterval:     getEnvDuration("NOTIFY_INTERVAL", 500*time.Millisecond),
		RequestMinInterval: getEnvDuration("REQUEST_MIN_INTERVAL", 300*time.Millisecond),
		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", 20*time.Second),

		RetentionDays:       getEnvInt("RETENTION_DAYS", 14),
		PriceFloor:          int64(getEnvInt("PRICE_FLOOR", 50_000_000)),
		BenchmarkMinSamples: getEnvInt("BENCHMARK_MIN_SAMPLES", 3),
		BenchmarkCacheTTL:   getEnvDuration("BENCHMARK_CACHE_TTL", 10*time.Minute),
		Deal: DealBands{
			FarBelowPct: getEnvFloat("DEAL_FAR_BELOW_PCT", 40),
			HotDealPct:  getEnvFloat("DEAL_HOT_PCT", 10),
			FairPct:     getEnvFloat("DEAL_FAIR_PCT", 5),
		},
		Caps: TierCaps{
			Base: getEnvInt("TIER_CAP_BASE", 3),
			Mid:  getEnvInt("TIER_CAP_MID", 10),
			Top:  getEnvInt("TIER_CAP_TOP", 50),
		},
		DescriptionLimit: getEnvInt("DESCRIPTION_LIMIT", 300),
		TrialDays:        getEnvInt("TRIAL_DAYS", 2),

		Timezone:       getEnv("TIMEZONE", "Asia/Tehran"),
		SearchCategory: getEnv("SEARCH_CATEGORY", "cars"),
		FetchMode:      strings.ToLower(getEnv("FETCH_MODE", FetchHTTP)),
		ChromeBin:      getEnv("CHROME_BIN", ""),

		CredentialsPath:      getEnv("CREDENTIALS_PATH", "./data/credentials.json"),
		TelegramToken:        getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAPIBase:      getEnv("TELEGRAM_API_BASE", "https://api.telegram.org"),
		AdminChatID:          int64(getEnvInt("ADMIN_CHAT_ID", 0)),
		NtfyURL:              getEnv("NTFY_URL", ""),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		APIAddr:              getEnv("API_ADDR", "127.0.0.1:8088"),
		IngestCSVPath:        getEnv("INGEST_CSV_PATH", ""),
		UpgradeImageURL:      getEnv("UPGRADE_IMAGE_URL", "https://carwatch.example/static/locked-listing.jpg"),
		StoreConnectAttempts: getEnvInt("STORE_CONNECT_ATTEMPTS", 10),
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: load timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	regions, err := LoadRegions(getEnv("REGIONS_FILE", ""))
	if err != nil {
		return nil, err
	}
	if ids := getEnv("REGION_IDS", ""); ids != "" {
		regions, err = FilterRegions(regions, ids)
		if err != nil {
			return nil, err
		}
	}
	cfg.Regions = regions

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants.
func (c *Config) Validate() error {
	var errs []error
	if c.StoreDriver != DriverPostgres && c.StoreDriver != DriverSQLite {
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.StoreDriver))
	}
	if c.FetchMode != FetchHTTP && c.FetchMode != FetchBrowser {
		errs = append(errs, fmt.Errorf("FETCH_MODE must be %q or %q, got %q", FetchHTTP, FetchBrowser, c.FetchMode))
	}
	if c.ScanInterval <= 0 {
		errs = append(errs, errors.New("SCAN_INTERVAL must be positive"))
	}
	if c.DetailJitterMax < c.DetailJitterMin {
		errs = append(errs, errors.New("DETAIL_JITTER_MAX must not be below DETAIL_JITTER_MIN"))
	}
	if c.RetentionDays <= 0 {
		errs = append(errs, errors.New("RETENTION_DAYS must be positive"))
	}
	if c.BenchmarkMinSamples < 1 {
		errs = append(errs, errors.New("BENCHMARK_MIN_SAMPLES must be at least 1"))
	}
	if !(c.Deal.FairPct < c.Deal.HotDealPct && c.Deal.HotDealPct < c.Deal.FarBelowPct) {
		errs = append(errs, fmt.Errorf("deal bands must satisfy fair < hot < far-below, got %.1f/%.1f/%.1f",
			c.Deal.FairPct, c.Deal.HotDealPct, c.Deal.FarBelowPct))
	}
	if len(c.Regions) == 0 {
		errs = append(errs, errors.New("no regions configured"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Retention returns the listing retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// Region looks up a configured region by id.
func (c *Config) Region(id int) (Region, bool) {
	for _, r := range c.Regions {
		if r.ID == id {
			return r, true
		}
	}
	return Region{}, false
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := getEnv(key, ""); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := getEnv(key, ""); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := getEnv(key, "")
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
