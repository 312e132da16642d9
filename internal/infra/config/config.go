package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverMemory = "memory"
	DriverMongo  = "mongo"
	DriverS3     = "s3"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env            string
	HTTPAddr       string
	AllowedOrigins []string

	StoreDriver string
	MongoURI    string
	MongoDB     string

	SessionTTL time.Duration
	BcryptCost int

	BlobDriver       string
	BlobBaseURL      string
	S3Endpoint       string
	S3PublicEndpoint string
	S3AccessKey      string
	S3SecretKey      string
	S3Bucket         string
	S3UseSSL         bool

	KafkaBrokers     []string
	KafkaTopicPrefix string
	KafkaClientID    string

	WSSendBuffer      int
	WSMaxMessageBytes int64
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:              getEnv("APP_ENV", "dev"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		AllowedOrigins:   splitList(getEnv("ALLOWED_ORIGINS", "*")),
		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDB:          getEnv("MONGO_DB", "pairchat"),
		BlobDriver:       strings.ToLower(getEnv("BLOB_DRIVER", DriverMemory)),
		BlobBaseURL:      getEnv("BLOB_BASE_URL", "/blobs"),
		S3Endpoint:       getEnv("S3_ENDPOINT", "http://localhost:9000"),
		S3PublicEndpoint: getEnv("S3_PUBLIC_ENDPOINT", ""),
		S3AccessKey:      getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:      getEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:         getEnv("S3_BUCKET", "pairchat-attachments"),
		KafkaBrokers:     splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", ""),
		KafkaClientID:    getEnv("KAFKA_CLIENT_ID", "pairchat"),
	}

	ttl, err := parseDurationEnv("SESSION_TTL", 7*24*time.Hour)
	if err != nil {
		return Config{}, err
	}
	if ttl <= 0 {
		return Config{}, fmt.Errorf("SESSION_TTL must be positive")
	}
	cfg.SessionTTL = ttl

	if cfg.BcryptCost, err = parseIntEnv("BCRYPT_COST", 10); err != nil {
		return Config{}, err
	}
	if cfg.WSSendBuffer, err = parseIntEnv("WS_SEND_BUFFER", 64); err != nil {
		return Config{}, err
	}
	maxBytes, err := parseIntEnv("WS_MAX_MESSAGE_BYTES", 8<<20)
	if err != nil {
		return Config{}, err
	}
	cfg.WSMaxMessageBytes = int64(maxBytes)

	useSSL, err := parseBoolEnv("S3_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg.S3UseSSL = useSSL
	if cfg.S3PublicEndpoint == "" {
		cfg.S3PublicEndpoint = cfg.S3Endpoint
	}

	switch cfg.StoreDriver {
	case DriverMemory:
	case DriverMongo:
		if cfg.MongoURI == "" {
			return Config{}, fmt.Errorf("MONGO_URI is required for STORE_DRIVER=mongo")
		}
	default:
		return Config{}, fmt.Errorf("invalid STORE_DRIVER %q", cfg.StoreDriver)
	}
	switch cfg.BlobDriver {
	case DriverMemory, DriverS3:
	default:
		return Config{}, fmt.Errorf("invalid BLOB_DRIVER %q", cfg.BlobDriver)
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseIntEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s integer: %w", key, err)
	}
	return v, nil
}

func parseBoolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s boolean: %q", key, raw)
	}
}
