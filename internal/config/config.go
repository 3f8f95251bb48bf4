package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// GradingMode selects how a submit hands the attempt to the scorer.
type GradingMode string

const (
	GradingAsync GradingMode = "async" // durable job queue
	GradingSync  GradingMode = "sync"  // score inline during submit
)

type Config struct {
	Mode     Mode
	HTTPAddr string

	DBDriver string
	DBDSN    string
	RedisURL string // empty disables the test policy cache

	AuthHMACSecret  string
	EnableLocalAuth bool
	EnableGuestAuth bool
	AdminUser       string
	AdminPassHash   string // bcrypt

	CORSOriginsOnline  []string
	CORSOriginsOffline []string

	GradingMode GradingMode
	EmbedWorker bool

	Queue QueueConfig

	NegativeMarkingFraction float64
	TestCacheTTL            time.Duration
}

type QueueConfig struct {
	Concurrency        int
	RatePerSec         float64
	MaxAttempts        int
	BackoffBase        time.Duration
	JobTimeout         time.Duration
	PollInterval       time.Duration
	LockTTL            time.Duration
	CompletedRetention time.Duration
	FailedRetention    time.Duration
}

// CORSOrigins returns the allow-list for the current mode.
func (c Config) CORSOrigins() []string {
	if c.Mode == ModeOnline {
		return c.CORSOriginsOnline
	}
	return c.CORSOriginsOffline
}

func FromEnv() Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("MODE", string(ModeOffline))
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("AUTH_HMAC_SECRET", "dev-secret-change-me")
	v.SetDefault("ADMIN_USER", "admin")
	v.SetDefault("ADMIN_PASS_HASH", "$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji")
	v.SetDefault("CORS_ORIGINS_ONLINE", "https://quiz.mindengage.ai")
	v.SetDefault("CORS_ORIGINS_OFFLINE", "http://localhost:3000,http://localhost:3010")
	v.SetDefault("GRADING_MODE", string(GradingAsync))
	v.SetDefault("QUEUE_CONCURRENCY", 10)
	v.SetDefault("QUEUE_RATE_PER_SEC", 50.0)
	v.SetDefault("QUEUE_MAX_ATTEMPTS", 3)
	v.SetDefault("QUEUE_BACKOFF_BASE", 2*time.Second)
	v.SetDefault("QUEUE_JOB_TIMEOUT", 30*time.Second)
	v.SetDefault("QUEUE_POLL_INTERVAL", 500*time.Millisecond)
	v.SetDefault("QUEUE_LOCK_TTL", 2*time.Minute)
	v.SetDefault("QUEUE_COMPLETED_RETENTION", 24*time.Hour)
	v.SetDefault("QUEUE_FAILED_RETENTION", 7*24*time.Hour)
	v.SetDefault("NEGATIVE_MARKING_FRACTION", 0.25)
	v.SetDefault("TEST_CACHE_TTL", 5*time.Minute)

	mode := Mode(strings.ToLower(v.GetString("MODE")))
	if mode != ModeOnline {
		mode = ModeOffline
	}
	gm := GradingMode(strings.ToLower(v.GetString("GRADING_MODE")))
	if gm != GradingSync {
		gm = GradingAsync
	}

	return Config{
		Mode:               mode,
		HTTPAddr:           v.GetString("HTTP_ADDR"),
		DBDriver:           v.GetString("DB_DRIVER"),
		DBDSN:              v.GetString("DB_DSN"),
		RedisURL:           v.GetString("REDIS_URL"),
		AuthHMACSecret:     v.GetString("AUTH_HMAC_SECRET"),
		EnableLocalAuth:    envBool(v, "ENABLE_LOCAL_AUTH", true),
		EnableGuestAuth:    envBool(v, "ENABLE_GUEST_AUTH", false),
		AdminUser:          v.GetString("ADMIN_USER"),
		AdminPassHash:      v.GetString("ADMIN_PASS_HASH"),
		CORSOriginsOnline:  csv(v.GetString("CORS_ORIGINS_ONLINE")),
		CORSOriginsOffline: csv(v.GetString("CORS_ORIGINS_OFFLINE")),
		GradingMode:        gm,
		EmbedWorker:        envBool(v, "EMBED_WORKER", mode == ModeOffline),
		Queue: QueueConfig{
			Concurrency:        positiveInt(v.GetInt("QUEUE_CONCURRENCY"), 10),
			RatePerSec:         v.GetFloat64("QUEUE_RATE_PER_SEC"),
			MaxAttempts:        positiveInt(v.GetInt("QUEUE_MAX_ATTEMPTS"), 3),
			BackoffBase:        v.GetDuration("QUEUE_BACKOFF_BASE"),
			JobTimeout:         v.GetDuration("QUEUE_JOB_TIMEOUT"),
			PollInterval:       v.GetDuration("QUEUE_POLL_INTERVAL"),
			LockTTL:            v.GetDuration("QUEUE_LOCK_TTL"),
			CompletedRetention: v.GetDuration("QUEUE_COMPLETED_RETENTION"),
			FailedRetention:    v.GetDuration("QUEUE_FAILED_RETENTION"),
		},
		NegativeMarkingFraction: v.GetFloat64("NEGATIVE_MARKING_FRACTION"),
		TestCacheTTL:            v.GetDuration("TEST_CACHE_TTL"),
	}
}

// envBool keeps the permissive spellings the deploy scripts already use.
func envBool(v *viper.Viper, k string, def bool) bool {
	switch strings.TrimSpace(v.GetString(k)) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func csv(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func positiveInt(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
