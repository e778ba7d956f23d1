package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	VaultAddr  string
	VaultToken string

	AeatProductionURL  string
	AeatTestingURL     string
	AeatTimeoutSeconds int

	QRBaseURL string
	QRSize    int
	QREnabled bool

	SoftwareID      string
	SoftwareVersion string

	LockTimeoutSeconds  int
	MaxRecordsPerBatch  int
	MaxRetries          int
	BackoffBaseSeconds  int
	MaxBackoffSeconds   int
	BreakerThreshold    int
	BreakerPauseSeconds int
	FlowControlSeconds  int

	SchedulerEnabled  bool
	ProcessQueueCron  string
	SubmitDueCron     string
	IntegrityAudit    string
	AuditTenantsLimit int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:    addr,
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		LogLevel:    envDefault("LOG_LEVEL", "info"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envIntDefault("REDIS_DB", 0),

		VaultAddr:  os.Getenv("VAULT_ADDR"),
		VaultToken: os.Getenv("VAULT_TOKEN"),

		AeatProductionURL:  envDefault("AEAT_ENDPOINT_PRODUCTION", "https://www1.agenciatributaria.gob.es/wlpl/TIKE-CONT/ws/SistemaFacturacion/VerifactuSOAP"),
		AeatTestingURL:     envDefault("AEAT_ENDPOINT_TESTING", "https://prewww1.aeat.es/wlpl/TIKE-CONT/ws/SistemaFacturacion/VerifactuSOAP"),
		AeatTimeoutSeconds: envIntDefault("AEAT_TIMEOUT_SECONDS", 60),

		QRBaseURL: os.Getenv("QR_BASE_URL"),
		QRSize:    envIntDefault("QR_SIZE", 256),
		QREnabled: envBoolDefault("QR_ENABLED", true),

		SoftwareID:      envDefault("SOFTWARE_ID", "VeriFactuGo"),
		SoftwareVersion: envDefault("SOFTWARE_VERSION", "1.0.0"),

		LockTimeoutSeconds:  envIntDefault("LOCK_TIMEOUT_SECONDS", 30),
		MaxRecordsPerBatch:  envIntDefault("MAX_RECORDS_PER_BATCH", 1000),
		MaxRetries:          envIntDefault("MAX_RETRIES", 5),
		BackoffBaseSeconds:  envIntDefault("BACKOFF_BASE_SECONDS", 30),
		MaxBackoffSeconds:   envIntDefault("MAX_BACKOFF_SECONDS", 1800),
		BreakerThreshold:    envIntDefault("CIRCUIT_BREAKER_THRESHOLD", 5),
		BreakerPauseSeconds: envIntDefault("CIRCUIT_BREAKER_PAUSE_SECONDS", 300),
		FlowControlSeconds:  envIntDefault("FLOW_CONTROL_SECONDS", 60),

		SchedulerEnabled:  envBoolDefault("SCHEDULER_ENABLED", true),
		ProcessQueueCron:  envDefault("PROCESS_QUEUE_CRON", "@every 1m"),
		SubmitDueCron:     envDefault("SUBMIT_DUE_CRON", "@every 30s"),
		IntegrityAudit:    envDefault("INTEGRITY_AUDIT_CRON", "@daily"),
		AuditTenantsLimit: envIntDefault("INTEGRITY_AUDIT_TENANTS_LIMIT", 100),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

func (c Config) AeatTimeout() time.Duration {
	return time.Duration(c.AeatTimeoutSeconds) * time.Second
}

func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

func (c Config) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds) * time.Second
}

func (c Config) BreakerPause() time.Duration {
	return time.Duration(c.BreakerPauseSeconds) * time.Second
}

func (c Config) FlowControlInterval() time.Duration {
	return time.Duration(c.FlowControlSeconds) * time.Second
}
