package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config holds all environment-driven settings for the service.  Every
// field has a default except DatabaseURL, which must be provided.
type Config struct {
	DatabaseURL string
	Port        string

	LogLevel  string
	LogFormat string

	// OpenAI credentials and models for dialogue wording and transcription.
	OpenAIKey         string
	ChatModel         string
	TranscribeModel   string
	DialogueTimeout   time.Duration
	TranscribeTimeout time.Duration

	// Telephony provider settings.  PublicBaseURL is the externally
	// reachable base for webhook callbacks.
	ProviderBaseURL string
	ProviderToken   string
	CallerNumber    string
	PublicBaseURL   string

	// Notification delivery collaborator and the on-call coordinator
	// recipient for critical alerts.
	NotifyURL     string
	CoordinatorID string

	SweepInterval time.Duration
	SweepBatch    int

	// Per-turn silence window and the overall call duration cap.
	TurnTimeout     time.Duration
	MaxCallDuration time.Duration

	// Minimum transcription confidence below which a turn is treated as
	// not heard and re-prompted.
	MinConfidence float64

	// Redial policy for no_answer/busy outcomes.  Zero attempts disables
	// automatic follow-up scheduling entirely.
	RedialMaxAttempts int
	RedialDelay       time.Duration
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		Port:              getenv("PORT", "8080"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		LogFormat:         getenv("LOG_FORMAT", "json"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		ChatModel:         getenv("OPENAI_MODEL_CHAT", "gpt-4o-mini"),
		TranscribeModel:   getenv("OPENAI_MODEL_TRANSCRIBE", "whisper-1"),
		DialogueTimeout:   getdur("DIALOGUE_TIMEOUT", 4*time.Second),
		TranscribeTimeout: getdur("TRANSCRIBE_TIMEOUT", 8*time.Second),
		ProviderBaseURL:   getenv("TELEPHONY_BASE_URL", "https://api.telephony.local"),
		ProviderToken:     os.Getenv("TELEPHONY_TOKEN"),
		CallerNumber:      os.Getenv("TELEPHONY_CALLER_NUMBER"),
		PublicBaseURL:     getenv("PUBLIC_BASE_URL", "http://localhost:8080"),
		NotifyURL:         getenv("NOTIFY_URL", ""),
		CoordinatorID:     os.Getenv("ONCALL_COORDINATOR_ID"),
		SweepInterval:     getdur("SWEEP_INTERVAL", 30*time.Second),
		SweepBatch:        getint("SWEEP_BATCH", 20),
		TurnTimeout:       getdur("TURN_TIMEOUT", 6*time.Second),
		MaxCallDuration:   getdur("MAX_CALL_DURATION", 10*time.Minute),
		MinConfidence:     getfloat("MIN_CONFIDENCE", 0.4),
		RedialMaxAttempts: getint("REDIAL_MAX_ATTEMPTS", 0),
		RedialDelay:       getdur("REDIAL_DELAY", 4*time.Hour),
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL must be set")
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getfloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getdur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
