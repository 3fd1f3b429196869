package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBDialect   string
	DatabaseURL string
	DBMaxConns  int
	// RedisURL enables the cross-process rebuild lock when set.
	RedisURL string

	LogLevel string
	LogDev   bool
	// MetricsTextfile, when set, receives the Prometheus metrics of each
	// command run in text format.
	MetricsTextfile string

	// AchievementsDir holds definition files merged over the built-in ones.
	AchievementsDir  string
	RebuildWorkers   int
	RebuildBatchSize int
	RebuildLockTTL   time.Duration

	IgnoreUsernames        []string
	SystemUsernames        []string
	AdminGroups            []string
	BotGroups              []string
	ContentNamespaces      []int
	DefaultAchievedColor   string
	NamespaceContentModels map[int]string
}

// Load reads the environment, after filling it from ./.env when that file
// exists. Variables already set win over .env.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		DBDialect:        getEnv("DB_DIALECT", "postgres"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DBMaxConns:       getEnvInt("DB_MAX_CONNS", 10),
		RedisURL:         os.Getenv("REDIS_URL"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogDev:           getEnvBool("LOG_DEV", false),
		MetricsTextfile:  os.Getenv("METRICS_TEXTFILE"),
		AchievementsDir:  os.Getenv("ACHIEVEMENTS_DIR"),
		RebuildWorkers:   getEnvInt("REBUILD_WORKERS", 4),
		RebuildBatchSize: getEnvInt("REBUILD_BATCH_SIZE", 500),
		RebuildLockTTL:   getEnvDuration("REBUILD_LOCK_TTL", 30*time.Minute),

		IgnoreUsernames:        getEnvList("IGNORE_USERNAMES", nil),
		SystemUsernames:        getEnvList("SYSTEM_USERNAMES", []string{"MediaWiki default", "Maintenance script"}),
		AdminGroups:            getEnvList("ADMIN_GROUPS", []string{"sysop", "userachievements-admin"}),
		BotGroups:              getEnvList("BOT_GROUPS", []string{"bot"}),
		ContentNamespaces:      getEnvInts("CONTENT_NAMESPACES", []int{0}),
		DefaultAchievedColor:   getEnv("DEFAULT_ACHIEVED_COLOR", "#3366cc"),
		NamespaceContentModels: getEnvNamespaceModels("NAMESPACE_CONTENT_MODELS"),
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvInts(key string, fallback []int) []int {
	var out []int
	for _, item := range getEnvList(key, nil) {
		i, err := strconv.Atoi(item)
		if err != nil {
			return fallback
		}
		out = append(out, i)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// getEnvNamespaceModels parses "1=flow-board,5=wikitext". Malformed entries
// are skipped.
func getEnvNamespaceModels(key string) map[int]string {
	out := make(map[int]string)
	for _, item := range getEnvList(key, nil) {
		ns, model, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(ns))
		if err != nil {
			continue
		}
		out[id] = strings.TrimSpace(model)
	}
	return out
}
