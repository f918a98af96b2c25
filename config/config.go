package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"inboxwarm/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

// WarmupConfig holds the pacing knobs of the orchestrator. All durations
// are configured in milliseconds so the test environment can zero them.
type WarmupConfig struct {
	MinDelayMs        int `json:"min_delay_ms"`         // inter-lead delay lower bound
	MaxDelayMs        int `json:"max_delay_ms"`         // inter-lead delay upper bound
	ReplyDelayMinMs   int `json:"reply_delay_min_ms"`   // human delay before the lead replies
	ReplyDelayMaxMs   int `json:"reply_delay_max_ms"`
	IMAPWaitTimeoutMs int `json:"imap_wait_timeout_ms"` // wait-budget per subscription
	PollIntervalMs    int `json:"poll_interval_ms"`     // UNSEEN fallback scan interval
}

type Config struct {
	Environment    string       `json:"environment"`
	ServerPort     string       `json:"server_port"`
	EncryptionKey  string       `json:"-"`
	APIJWTSecret   string       `json:"-"`
	TextGenAPIKey  string       `json:"-"`
	SentryDSN      string       `json:"-"`
	DBHost         string       `json:"db_host"`
	DBPort         string       `json:"db_port"`
	DBUser         string       `json:"db_user"`
	DBPassword     string       `json:"-"`
	DBName         string       `json:"db_name"`
	DBSSLMode      string       `json:"db_ssl_mode"`
	DBMaxIdleConns int          `json:"db_max_idle_conns"`
	DBMaxOpenConns int          `json:"db_max_open_conns"`
	RateLimitStart int          `json:"rate_limit_start"`
	Redis          RedisConfig  `json:"redis"`
	Warmup         WarmupConfig `json:"warmup"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
		APIJWTSecret:   getEnv("API_JWT_SECRET", ""),
		TextGenAPIKey:  getEnv("TEXTGEN_API_KEY", ""),
		SentryDSN:      getEnv("SENTRY_DSN", ""),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "inboxwarm"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
		RateLimitStart: getEnvAsInt("RATE_LIMIT_WARMUP_START", 30),
		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ADDRESS", "") != "",
			Address:  getEnv("REDIS_ADDRESS", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Warmup: WarmupConfig{
			MinDelayMs:        getEnvAsInt("MIN_DELAY_MS", 180000),
			MaxDelayMs:        getEnvAsInt("MAX_DELAY_MS", 300000),
			ReplyDelayMinMs:   getEnvAsInt("REPLY_DELAY_MIN_MS", 180000),
			ReplyDelayMaxMs:   getEnvAsInt("REPLY_DELAY_MAX_MS", 300000),
			IMAPWaitTimeoutMs: getEnvAsInt("IMAP_WAIT_TIMEOUT_MS", 600000),
			PollIntervalMs:    getEnvAsInt("POLL_INTERVAL_MS", 30000),
		},
	}

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(AppConfig.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(AppConfig.EncryptionKey))
	}
	if AppConfig.Warmup.MinDelayMs > AppConfig.Warmup.MaxDelayMs {
		return fmt.Errorf("MIN_DELAY_MS must not exceed MAX_DELAY_MS")
	}
	if AppConfig.Warmup.ReplyDelayMinMs > AppConfig.Warmup.ReplyDelayMaxMs {
		return fmt.Errorf("REPLY_DELAY_MIN_MS must not exceed REPLY_DELAY_MAX_MS")
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("✅ Successfully connected to the database")
	log.Println("🔄 Starting database migration...")
	if err := MigrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✅ Database migration completed")
	return nil
}

// MigrateDB creates or updates the warm-up tables. Also used by the test
// suites against an in-memory database.
func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.DomainAccount{},
		&models.LeadAccount{},
		&models.WarmupSession{},
		&models.MailLogEntry{},
	)
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		log.Printf("⚠️ Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("🔧 Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Warmup pacing: inter-lead %d-%dms, reply %d-%dms, wait budget %dms",
		AppConfig.Warmup.MinDelayMs,
		AppConfig.Warmup.MaxDelayMs,
		AppConfig.Warmup.ReplyDelayMinMs,
		AppConfig.Warmup.ReplyDelayMaxMs,
		AppConfig.Warmup.IMAPWaitTimeoutMs)
}
