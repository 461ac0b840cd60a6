package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	ToolName    string
	Environment string
	HTTPAddr    string
	CORSOrigins []string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Generation  GenerationConfig
	Creem       CreemConfig
	RateLimit   RateLimitConfig
	MetricsPush MetricsPushConfig
}

// GenerationConfig configures free-trial quota and the upstream image provider.
type GenerationConfig struct {
	FreeGenerationsPerDevice int
	ProviderURL              string
	ProviderKey              string
	Model                    string
	Size                     string
	Quality                  string
	TimeoutSeconds           int
}

// Timeout returns the upper bound for one upstream generation call.
func (g GenerationConfig) Timeout() time.Duration {
	if g.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(g.TimeoutSeconds) * time.Second
}

type CreemConfig struct {
	APIKey        string
	APIURL        string
	WebhookSecret string
	// ProductIDs maps catalog SKU to the provider product id.
	ProductIDs map[string]string
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GenerateDeviceRate     float64
	GenerateDeviceBurst    int
	GenerateLockTTLSeconds int
}

type MetricsPushConfig struct {
	Enabled         bool
	Exporter        string
	Endpoint        string
	AuthToken       string
	IntervalSeconds int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "imagegen"),
		AppVersion:   getenv("APP_VERSION", "1.0.0"),
		ToolName:     getenv("TOOL_NAME", "ai-image-gen"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		CORSOrigins:  parseList(getenv("CORS_ALLOWED_ORIGINS", "*")),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            strings.ToLower(getenv("DATABASE_TYPE", "postgres")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "imagegen"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "imagegen.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		Generation: GenerationConfig{
			FreeGenerationsPerDevice: getenvInt("FREE_GENERATIONS_PER_DEVICE", 3),
			ProviderURL:              strings.TrimRight(getenv("LLM_PROXY_URL", "https://llm-proxy.densematrix.ai"), "/"),
			ProviderKey:              strings.TrimSpace(getenv("LLM_PROXY_KEY", "")),
			Model:                    getenv("IMAGE_MODEL", "dall-e-3"),
			Size:                     getenv("IMAGE_SIZE", "1024x1024"),
			Quality:                  getenv("IMAGE_QUALITY", "standard"),
			TimeoutSeconds:           getenvInt("IMAGE_TIMEOUT_SECONDS", 60),
		},
		Creem: CreemConfig{
			APIKey:        strings.TrimSpace(getenv("CREEM_API_KEY", "")),
			APIURL:        strings.TrimRight(getenv("CREEM_API_URL", "https://api.creem.io"), "/"),
			WebhookSecret: strings.TrimSpace(getenv("CREEM_WEBHOOK_SECRET", "")),
			ProductIDs:    parseProductIDs(getenv("CREEM_PRODUCT_IDS", "")),
		},
		RateLimit: RateLimitConfig{
			Enabled:                getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:              strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			RedisPassword:          getenv("REDIS_PASSWORD", ""),
			RedisDB:                getenvInt("REDIS_DB", 0),
			GenerateDeviceRate:     getenvFloat("GENERATE_DEVICE_RATE", 0.2),
			GenerateDeviceBurst:    getenvInt("GENERATE_DEVICE_BURST", 3),
			GenerateLockTTLSeconds: getenvInt("GENERATE_LOCK_TTL_SECONDS", 90),
		},
		MetricsPush: MetricsPushConfig{
			Enabled:         getenvBool("METRICS_PUSH_ENABLED", false),
			Exporter:        strings.ToLower(strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", ""))),
			Endpoint:        strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken:       strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
			IntervalSeconds: getenvInt("METRICS_PUSH_INTERVAL_SECONDS", 60),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func parseProductIDs(raw string) map[string]string {
	out := map[string]string{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		log.Printf("[config] CREEM_PRODUCT_IDS ignored: %v", err)
		return map[string]string{}
	}
	return out
}
