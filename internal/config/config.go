package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Directories
	DataDir     string
	DownloadDir string // videos/ and audio/ are created beneath it

	// History store
	HistoryURL           string
	HistoryEngine        string // file, postgres, mysql or redis
	DBMaxConnections     int
	TableName            string
	KeyPrefix            string // For Redis
	DatabaseQueryTimeout time.Duration

	// External tools
	YTDLPPath  string
	FFmpegPath string

	// Client identity rotation
	UserAgents []string
	Proxies    []string

	// Downloads
	MaxActiveDownloads int // 0 = unlimited
	RateLimitRetries   int
	RateLimitDelay     time.Duration
	RecordTTL          time.Duration // terminal records are evicted after this, 0 = never

	// Batches
	BatchPollInterval time.Duration
	BatchMaxPolls     int
	BatchParallel     int

	// Scheduler
	SchedulePollInterval time.Duration
	ScheduleFile         string

	// Circuit Breaker
	CircuitBreakerThreshold   int           // failures before opening
	CircuitBreakerTimeout     time.Duration // time to wait before half-open
	CircuitBreakerMaxRequests int           // max requests in half-open state

	// Upload storage
	StorageType       string // "s3", "local" or "" to disable uploads
	StoragePath       string // For local filesystem storage
	UploadBucket      string
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool
	StorageMaxRetries int
	StorageRetryDelay time.Duration
	StorageTimeout    time.Duration

	// Signed file links
	EnforceSigning bool
	SigningSecret  []byte
	LinkTTL        time.Duration

	// Server
	Port        string
	EnableHTTPS bool

	// Let's Encrypt
	LetsEncryptDomains  []string
	LetsEncryptCacheDir string
	LetsEncryptEmail    string

	// Metrics
	MetricsUsername string
	MetricsPassword string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}

	downloadDir := os.Getenv("DOWNLOAD_DIR")
	if downloadDir == "" {
		downloadDir = "./downloads"
	}

	historyURL := os.Getenv("HISTORY_URL")
	if historyURL == "" {
		historyURL = "file://" + filepath.ToSlash(filepath.Join(dataDir, "download_history.json"))
	}
	u, err := url.Parse(historyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid HISTORY_URL: %w", err)
	}
	engine := u.Scheme
	if engine == "" {
		engine = "file"
	}

	tableName := os.Getenv("TABLE_NAME")
	if tableName == "" {
		tableName = "download_history"
	}

	keyPrefix := os.Getenv("KEY_PREFIX")
	if keyPrefix == "" {
		keyPrefix = "tasvid:"
	}

	ytdlpPath := os.Getenv("YTDLP_PATH")
	if ytdlpPath == "" {
		ytdlpPath = "yt-dlp"
	}

	ffmpegPath := os.Getenv("FFMPEG_PATH")
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	scheduleFile := os.Getenv("SCHEDULE_FILE")
	if scheduleFile == "" {
		scheduleFile = filepath.Join(dataDir, "scheduled.json")
	}

	enforceSigning, _ := strconv.ParseBool(os.Getenv("ENFORCE_SIGNING"))
	enableHTTPS, _ := strconv.ParseBool(os.Getenv("ENABLE_HTTPS"))
	s3UsePathStyle, _ := strconv.ParseBool(os.Getenv("S3_USE_PATH_STYLE"))

	if enforceSigning && os.Getenv("SIGNING_SECRET") == "" {
		return nil, fmt.Errorf("SIGNING_SECRET required when ENFORCE_SIGNING=true")
	}

	var letsEncryptDomains []string
	if enableHTTPS {
		letsEncryptDomains = parseStringList(os.Getenv("LETSENCRYPT_DOMAINS"))
		if len(letsEncryptDomains) == 0 {
			return nil, fmt.Errorf("LETSENCRYPT_DOMAINS required when ENABLE_HTTPS=true")
		}
	}

	letsEncryptCacheDir := os.Getenv("LETSENCRYPT_CACHE_DIR")
	if letsEncryptCacheDir == "" {
		letsEncryptCacheDir = "./certs"
	}

	storageType := os.Getenv("STORAGE_TYPE")
	storagePath := os.Getenv("STORAGE_PATH")
	if storageType == "" && storagePath != "" {
		storageType = "local"
	}

	s3Region := os.Getenv("S3_REGION")
	if s3Region == "" {
		s3Region = "auto"
	}

	batchMaxPolls := parseInt(os.Getenv("BATCH_MAX_POLLS"), 600)
	if batchMaxPolls < 1 {
		return nil, fmt.Errorf("invalid BATCH_MAX_POLLS: %d", batchMaxPolls)
	}

	batchParallel := parseInt(os.Getenv("BATCH_PARALLEL"), 1)
	if batchParallel < 1 {
		return nil, fmt.Errorf("invalid BATCH_PARALLEL: %d", batchParallel)
	}

	return &Config{
		DataDir:                   dataDir,
		DownloadDir:               downloadDir,
		HistoryURL:                historyURL,
		HistoryEngine:             engine,
		DBMaxConnections:          parseInt(os.Getenv("DB_MAX_CONNECTIONS"), 10),
		TableName:                 tableName,
		KeyPrefix:                 keyPrefix,
		DatabaseQueryTimeout:      parseDuration(os.Getenv("DATABASE_QUERY_TIMEOUT"), 5*time.Second),
		YTDLPPath:                 ytdlpPath,
		FFmpegPath:                ffmpegPath,
		UserAgents:                parseStringListSep(os.Getenv("USER_AGENTS"), "|"),
		Proxies:                   parseStringList(os.Getenv("PROXIES")),
		MaxActiveDownloads:        parseInt(os.Getenv("MAX_ACTIVE_DOWNLOADS"), 0),
		RateLimitRetries:          parseInt(os.Getenv("RATE_LIMIT_RETRIES"), 3),
		RateLimitDelay:            parseDuration(os.Getenv("RATE_LIMIT_DELAY"), 10*time.Second),
		RecordTTL:                 parseDuration(os.Getenv("RECORD_TTL"), time.Hour),
		BatchPollInterval:         parseDuration(os.Getenv("BATCH_POLL_INTERVAL"), time.Second),
		BatchMaxPolls:             batchMaxPolls,
		BatchParallel:             batchParallel,
		SchedulePollInterval:      parseDuration(os.Getenv("SCHEDULE_POLL_INTERVAL"), time.Minute),
		ScheduleFile:              scheduleFile,
		CircuitBreakerThreshold:   parseInt(os.Getenv("CIRCUIT_BREAKER_THRESHOLD"), 5),
		CircuitBreakerTimeout:     parseDuration(os.Getenv("CIRCUIT_BREAKER_TIMEOUT"), 60*time.Second),
		CircuitBreakerMaxRequests: parseInt(os.Getenv("CIRCUIT_BREAKER_MAX_REQUESTS"), 2),
		StorageType:               storageType,
		StoragePath:               storagePath,
		UploadBucket:              os.Getenv("UPLOAD_BUCKET"),
		S3Endpoint:                os.Getenv("S3_ENDPOINT"),
		S3Region:                  s3Region,
		S3AccessKeyID:             os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey:         os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3UsePathStyle:            s3UsePathStyle,
		StorageMaxRetries:         parseInt(os.Getenv("STORAGE_MAX_RETRIES"), 3),
		StorageRetryDelay:         parseDuration(os.Getenv("STORAGE_RETRY_DELAY"), time.Second),
		StorageTimeout:            parseDuration(os.Getenv("STORAGE_TIMEOUT"), 10*time.Minute),
		EnforceSigning:            enforceSigning,
		SigningSecret:             []byte(os.Getenv("SIGNING_SECRET")),
		LinkTTL:                   parseDuration(os.Getenv("LINK_TTL"), 24*time.Hour),
		Port:                      port,
		EnableHTTPS:               enableHTTPS,
		LetsEncryptDomains:        letsEncryptDomains,
		LetsEncryptCacheDir:       letsEncryptCacheDir,
		LetsEncryptEmail:          os.Getenv("LETSENCRYPT_EMAIL"),
		MetricsUsername:           os.Getenv("METRICS_USERNAME"),
		MetricsPassword:           os.Getenv("METRICS_PASSWORD"),
	}, nil
}

// VideoDir is where video downloads land
func (c *Config) VideoDir() string {
	return filepath.Join(c.DownloadDir, "videos")
}

// AudioDir is where audio-only downloads land
func (c *Config) AudioDir() string {
	return filepath.Join(c.DownloadDir, "audio")
}

// HistoryFilePath is the on-disk location for the file history engine
func (c *Config) HistoryFilePath() string {
	u, err := url.Parse(c.HistoryURL)
	if err != nil || u.Scheme != "file" {
		return filepath.Join(c.DataDir, "download_history.json")
	}
	return filepath.FromSlash(u.Host + u.Path)
}

// Helper functions for parsing configuration values

func parseDuration(s string, defaultValue time.Duration) time.Duration {
	if s == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}

func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

func parseStringList(s string) []string {
	return parseStringListSep(s, ",")
}

// user agent strings contain commas, so they use a different separator
func parseStringListSep(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
