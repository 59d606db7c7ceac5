package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration. FromEnv keeps main lean.
type Server struct {
	Addr          string
	Environment   string
	LogLevel      string
	LogFormat     string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string

	// RequiredCapabilities gate every processing route.
	RequiredCapabilities []string

	Gateways  GatewayConfig
	Timeouts  TimeoutConfig
	Attempts  AttemptConfig
	Capture   CaptureConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Breaker   BreakerConfig
	AuditOps  AuditOpsConfig
	Simulated bool
}

// GatewayConfig locates the document extraction and risk assessment services.
type GatewayConfig struct {
	ExtractionURL string
	AssessmentURL string
	APIKey        string
	Module        string
}

// TimeoutConfig bounds every external call the orchestrator makes.
type TimeoutConfig struct {
	Extraction time.Duration
	Analysis   time.Duration
	Save       time.Duration
}

// AttemptConfig controls attempt session retention.
type AttemptConfig struct {
	TTL time.Duration
}

// CaptureConfig bounds frames uploaded by workstations.
type CaptureConfig struct {
	MaxFramePixels int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	AuditTopic    string
	RelayInterval time.Duration
	RelayBatch    int
}

type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

type AuditOpsConfig struct {
	SampleRate float64
}

// FromEnv builds a Server config from CHECKPOINT_* environment variables.
func FromEnv() Server {
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default; production deployments set JWT_SIGNING_KEY.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:                 envString("CHECKPOINT_ADDR", ":8080"),
		Environment:          envString("CHECKPOINT_ENV", "development"),
		LogLevel:             envString("LOG_LEVEL", "info"),
		LogFormat:            envString("LOG_FORMAT", "json"),
		JWTSigningKey:        jwtSigningKey,
		JWTIssuer:            envString("JWT_ISSUER", "checkpoint-idp"),
		JWTAudience:          envString("JWT_AUDIENCE", "checkpoint"),
		RequiredCapabilities: envList("CHECKPOINT_REQUIRED_CAPABILITIES", []string{"processing:live"}),
		Gateways: GatewayConfig{
			ExtractionURL: os.Getenv("CHECKPOINT_EXTRACTION_URL"),
			AssessmentURL: os.Getenv("CHECKPOINT_ASSESSMENT_URL"),
			APIKey:        os.Getenv("CHECKPOINT_GATEWAY_API_KEY"),
			Module:        envString("CHECKPOINT_ASSESSMENT_MODULE", "live_processing"),
		},
		Timeouts: TimeoutConfig{
			Extraction: envDuration("CHECKPOINT_EXTRACTION_TIMEOUT", 15*time.Second),
			Analysis:   envDuration("CHECKPOINT_ANALYSIS_TIMEOUT", 45*time.Second),
			Save:       envDuration("CHECKPOINT_SAVE_TIMEOUT", 10*time.Second),
		},
		Attempts: AttemptConfig{
			TTL: envDuration("CHECKPOINT_ATTEMPT_TTL", 2*time.Hour),
		},
		Capture: CaptureConfig{
			MaxFramePixels: envInt("CHECKPOINT_MAX_FRAME_PIXELS", 4096*4096),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       envList("KAFKA_BROKERS", nil),
			AuditTopic:    envString("KAFKA_AUDIT_TOPIC", "checkpoint.audit"),
			RelayInterval: envDuration("OUTBOX_RELAY_INTERVAL", 2*time.Second),
			RelayBatch:    envInt("OUTBOX_RELAY_BATCH", 100),
		},
		Breaker: BreakerConfig{
			FailureThreshold: envInt("GATEWAY_BREAKER_FAILURES", 5),
			SuccessThreshold: envInt("GATEWAY_BREAKER_SUCCESSES", 2),
			Cooldown:         envDuration("GATEWAY_BREAKER_COOLDOWN", 30*time.Second),
		},
		AuditOps: AuditOpsConfig{
			SampleRate: envFloat("AUDIT_OPS_SAMPLE_RATE", 1.0),
		},
		Simulated: os.Getenv("CHECKPOINT_SIMULATED_GATEWAYS") == "true",
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && v >= 0 {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func envList(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
