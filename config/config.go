package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	// Directory containing one checkout per library: <LibsDir>/<library>.
	LibsDir string
	// Root for per-run build and harness artifacts.
	WorkDir string
	// External build adapter executable (see build.Adapter contract).
	BuildAdapter string

	// Generative backend. An empty key selects the offline template
	// generator; the pipeline stays functional without credentials.
	GeminiAPIKey string
	GeminiModel  string

	// Toolchain.
	CC        string
	FuzzerBin string

	LogLevel string

	// Policy knobs. SearchDepth and MaxEntryPoints depend on the target
	// library's call graph shape; tune per deployment.
	MaxBuildAttempts int
	SmokeBudget      time.Duration
	ExecTimeout      time.Duration
	SearchDepth      int
	MaxEntryPoints   int
	Parallelism      int

	// Campaign defaults.
	WorkerCount   int
	ShutdownGrace time.Duration
	StatsInterval time.Duration
}

func LoadConfig() *AppConfig {
	godotenv.Load()

	config := &AppConfig{
		LibsDir:      getEnv("LIBS_DIR", "libs"),
		WorkDir:      getEnv("WORK_DIR", "work"),
		BuildAdapter: getEnv("BUILD_ADAPTER", "build-adapter"),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-1.5-pro"),

		CC:        getEnv("CC", "afl-clang-fast"),
		FuzzerBin: getEnv("FUZZER_BIN", "afl-fuzz"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		MaxBuildAttempts: parseInt(os.Getenv("MAX_BUILD_ATTEMPTS"), 3),
		SmokeBudget:      parseDuration(os.Getenv("SMOKE_BUDGET"), 10*time.Second),
		ExecTimeout:      parseDuration(os.Getenv("EXEC_TIMEOUT"), 5*time.Second),
		SearchDepth:      parseInt(os.Getenv("SEARCH_DEPTH"), 10),
		MaxEntryPoints:   parseInt(os.Getenv("MAX_ENTRYPOINTS_PER_FUNC"), 5),
		Parallelism:      parseInt(os.Getenv("PIPELINE_PARALLELISM"), runtime.NumCPU()),

		WorkerCount:   parseInt(os.Getenv("WORKER_COUNT"), 4),
		ShutdownGrace: parseDuration(os.Getenv("SHUTDOWN_GRACE"), 30*time.Second),
		StatsInterval: parseDuration(os.Getenv("STATS_INTERVAL"), 10*time.Second),
	}

	return config
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseInt(val string, defaultVal int) int {
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}
