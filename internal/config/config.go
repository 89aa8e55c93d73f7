package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string

	// Env selects dev conveniences (seed data). "dev" | "prod".
	Env string

	// Ledger backend selection.
	LedgerBackend string // "sqlite" | "postgres" | "csvfile" | "memory"
	DBPath        string // sqlite, e.g. "./data/plategate.db"
	PostgresURL   string
	DataDir       string // csvfile

	// Plate format
	PlatePrefix    string
	PlatePrefixLen int
	PlateDigitsLen int
	PlateSuffixLen int

	// Decision pipeline
	WindowSize      int
	Cooldown        time.Duration
	GateHold        time.Duration
	AlertHold       time.Duration
	ObserveInterval time.Duration
	EntryEnabled    bool
	ExitEnabled     bool

	// Actuator
	SerialPatterns []string
	SerialBaud     int

	// Recognizer
	VisionURL string

	// Billing
	RatePerHourCents   int64
	MinimumChargeCents int64
}

func FromEnv() Config {
	env := strings.ToLower(getenvDefault("PLATEGATE_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	backend := strings.ToLower(getenvDefault("PLATEGATE_LEDGER_BACKEND", "sqlite"))
	switch backend {
	case "sqlite", "postgres", "csvfile", "memory":
	default:
		backend = "sqlite"
	}

	return Config{
		HTTPAddr: getenvDefault("PLATEGATE_HTTP_ADDR", ":8080"),
		Env:      env,

		LedgerBackend: backend,
		DBPath:        getenvDefault("PLATEGATE_DB_PATH", "./data/plategate.db"),
		PostgresURL:   os.Getenv("PLATEGATE_POSTGRES_URL"),
		DataDir:       getenvDefault("PLATEGATE_DATA_DIR", "./data"),

		PlatePrefix:    getenvDefault("PLATEGATE_PLATE_PREFIX", "RA"),
		PlatePrefixLen: getenvInt("PLATEGATE_PLATE_PREFIX_LEN", 3),
		PlateDigitsLen: getenvInt("PLATEGATE_PLATE_DIGITS_LEN", 3),
		PlateSuffixLen: getenvInt("PLATEGATE_PLATE_SUFFIX_LEN", 1),

		WindowSize:      getenvInt("PLATEGATE_WINDOW_SIZE", 3),
		Cooldown:        time.Duration(getenvInt("PLATEGATE_COOLDOWN_SECONDS", 300)) * time.Second,
		GateHold:        time.Duration(getenvInt("PLATEGATE_GATE_HOLD_SECONDS", 15)) * time.Second,
		AlertHold:       time.Duration(getenvInt("PLATEGATE_ALERT_HOLD_SECONDS", 3)) * time.Second,
		ObserveInterval: time.Duration(getenvInt("PLATEGATE_OBSERVE_INTERVAL_MS", 250)) * time.Millisecond,
		EntryEnabled:    getenvBool("PLATEGATE_ENTRY_ENABLED", true),
		ExitEnabled:     getenvBool("PLATEGATE_EXIT_ENABLED", true),

		SerialPatterns: splitCSVDefault(os.Getenv("PLATEGATE_SERIAL_PATTERNS"), []string{"ttyUSB", "ttyACM"}),
		SerialBaud:     getenvInt("PLATEGATE_SERIAL_BAUD", 9600),

		VisionURL: getenvDefault("PLATEGATE_VISION_URL", "http://127.0.0.1:5001"),

		RatePerHourCents:   int64(getenvInt("PLATEGATE_RATE_PER_HOUR_CENTS", 20_000)),
		MinimumChargeCents: int64(getenvInt("PLATEGATE_MINIMUM_CHARGE_CENTS", 50_000)),
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func splitCSVDefault(v string, def []string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
