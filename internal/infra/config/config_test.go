package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "HTTP_ADDR", "ALLOWED_ORIGINS", "STORE_DRIVER", "MONGO_URI", "MONGO_DB",
		"SESSION_TTL", "BCRYPT_COST", "BLOB_DRIVER", "BLOB_BASE_URL", "S3_ENDPOINT",
		"S3_PUBLIC_ENDPOINT", "S3_USE_SSL", "KAFKA_BROKERS", "KAFKA_TOPIC_PREFIX",
		"WS_SEND_BUFFER", "WS_MAX_MESSAGE_BYTES",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.StoreDriver != DriverMemory || cfg.BlobDriver != DriverMemory {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SessionTTL != 7*24*time.Hour {
		t.Fatalf("unexpected session ttl %v", cfg.SessionTTL)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Fatalf("kafka should be off by default, got %v", cfg.KafkaBrokers)
	}
	if cfg.S3PublicEndpoint != cfg.S3Endpoint {
		t.Fatal("public endpoint should default to the endpoint")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "Mongo")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("S3_USE_SSL", "yes")
	t.Setenv("WS_MAX_MESSAGE_BYTES", "1024")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StoreDriver != DriverMongo || cfg.SessionTTL != 30*time.Minute || !cfg.S3UseSSL {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.WSMaxMessageBytes != 1024 {
		t.Fatalf("unexpected max message bytes %d", cfg.WSMaxMessageBytes)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"mongo without uri": {"STORE_DRIVER": "mongo"},
		"unknown store":     {"STORE_DRIVER": "cassandra"},
		"unknown blobs":     {"BLOB_DRIVER": "ftp"},
		"bad ttl":           {"SESSION_TTL": "forever"},
		"negative ttl":      {"SESSION_TTL": "-1h"},
		"bad bool":          {"S3_USE_SSL": "maybe"},
		"bad int":           {"WS_SEND_BUFFER": "lots"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
