package config

import "os"

// Config holds server configuration.
type Config struct {
	Port           string
	LogLevel       string
	DatabaseDriver string
	DatabaseURL    string
	BlobDir        string
	RiskPolicyPath string
	RedisAddr      string
	OTLPEndpoint   string
	DetectorActor  string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	driver := os.Getenv("DATABASE_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to a local embedded database
		dbURL = "file:tradecore.db?_pragma=busy_timeout(5000)"
	}

	blobDir := os.Getenv("BLOB_DIR")
	if blobDir == "" {
		blobDir = "./data/blobs"
	}

	actor := os.Getenv("DETECTOR_ACTOR_ID")
	if actor == "" {
		actor = "sys-detector"
	}

	return &Config{
		Port:           port,
		LogLevel:       logLevel,
		DatabaseDriver: driver,
		DatabaseURL:    dbURL,
		BlobDir:        blobDir,
		RiskPolicyPath: os.Getenv("RISK_POLICY_PATH"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		OTLPEndpoint:   os.Getenv("OTLP_ENDPOINT"),
		DetectorActor:  actor,
	}
}
