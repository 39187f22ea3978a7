package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-tunable setting for the engine. Fields are
// grouped by the component that consumes them.
type Config struct {
	LogLevel  string
	LogFormat string

	// Controller/MIDI I/O
	ControllerName string // substring match against available port names
	MIDIInputPort  string // explicit override; empty means auto-select by ControllerName
	MIDIOutputPort string
	CCPacing       time.Duration

	// Tempo clock
	FallbackBPM      float64
	FallbackQuantize bool

	// Bus
	BusCapacity int

	// Diagnostics / HTTP
	DiagPort     string
	AppTitle     string
	MetricsPort  string

	// Telemetry (morph-session recorder)
	TelemetryDSN      string
	RecorderBatchSize int
	RecorderFlushSec  int

	// AI-generation relay (spec.md §6): the core never calls the AI
	// service itself, so only the key material passed through to an
	// external caller is configured here.
	AIKey string

	DemoMode bool
}

// Load reads process environment variables, falling back to a .env file
// discovered in the current or a parent directory (mirrors running the
// binary from a subdirectory of the project).
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			if err := godotenv.Load("../../.env"); err != nil {
				log.Printf("Note: .env file not found in current or parent directories")
			}
		}
	}

	const trueVal = "true"

	demoMode := strings.ToLower(os.Getenv("DEMO_MODE")) == trueVal

	pacingMS := getEnvAsInt64("CC_PACING_MS", 2)
	busCapacity := int(getEnvAsInt64("BUS_CAPACITY", 1000))
	recorderBatchSize := int(getEnvAsInt64("RECORDER_BATCH_SIZE", 20))
	recorderFlushSec := int(getEnvAsInt64("RECORDER_FLUSH_SECONDS", 2))

	fallbackBPM := 120.0
	if v := os.Getenv("FALLBACK_BPM"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			fallbackBPM = parsed
		} else {
			log.Printf("Invalid FALLBACK_BPM: %s, using default %.1f", v, fallbackBPM)
		}
	}

	cfg := &Config{
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
		ControllerName:    getEnv("CONTROLLER_NAME", "Generic Controller"),
		MIDIInputPort:     getEnv("MIDI_INPUT_PORT", ""),
		MIDIOutputPort:    getEnv("MIDI_OUTPUT_PORT", ""),
		CCPacing:          time.Duration(pacingMS) * time.Millisecond,
		FallbackBPM:       fallbackBPM,
		FallbackQuantize:  strings.ToLower(getEnv("FALLBACK_QUANTIZE", "false")) == trueVal,
		BusCapacity:       busCapacity,
		DiagPort:          getEnv("DIAG_PORT", "8080"),
		AppTitle:          getEnv("APP_TITLE", "Snapblaster Core"),
		MetricsPort:       getEnv("METRICS_PORT", ""),
		TelemetryDSN:      getEnv("TELEMETRY_DSN", ""),
		RecorderBatchSize: recorderBatchSize,
		RecorderFlushSec:  recorderFlushSec,
		AIKey:             os.Getenv("AI_API_KEY"),
		DemoMode:          demoMode,
	}

	log.Printf("config loaded: controller=%q demo_mode=%v bus_capacity=%d cc_pacing=%s",
		cfg.ControllerName, cfg.DemoMode, cfg.BusCapacity, cfg.CCPacing)

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		log.Printf("Invalid %s: %s, using default %d", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}
