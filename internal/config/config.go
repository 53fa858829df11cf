package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the capture gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Audio format of the capture feed
	SampleRate int `envconfig:"SAMPLE_RATE" default:"16000"` // Hz, PCM16LE mono
	FrameSize  int `envconfig:"FRAME_SIZE" default:"1024"`   // Samples per capture frame

	// Voice activity detection
	ActivationThreshold   float64 `envconfig:"VAD_ACTIVATION_THRESHOLD" default:"0.05"` // Normalized RMS in [0,1]
	ActivationDurationSec float64 `envconfig:"VAD_ACTIVATION_DURATION" default:"0.5"`   // Sustained loudness before a segment opens
	SilenceDurationSec    float64 `envconfig:"VAD_SILENCE_DURATION" default:"1.0"`      // Sustained silence before a segment closes
	PreRollDurationSec    float64 `envconfig:"VAD_PRE_ROLL_DURATION" default:"0.5"`     // Audio retained from before activation
	MaxSegmentDurationSec float64 `envconfig:"VAD_MAX_SEGMENT_DURATION" default:"30"`   // Forced cutoff for pathological non-silence

	// Transcription stage
	TranscriptionEngine   string `envconfig:"TRANSCRIPTION_ENGINE" default:"openai"` // openai, deepgram, qwen, soniox
	TranscriptionModel    string `envconfig:"TRANSCRIPTION_MODEL" default:"whisper-1"`
	TranscriptionLanguage string `envconfig:"TRANSCRIPTION_LANGUAGE" default:""` // Empty lets the provider auto-detect

	// Translation stage
	EnableTranslation         bool   `envconfig:"ENABLE_TRANSLATION" default:"false"`
	TranslationEngine         string `envconfig:"TRANSLATION_ENGINE" default:"openai"` // openai, gemini
	TranslationModel          string `envconfig:"TRANSLATION_MODEL" default:"gpt-4o-mini"`
	TranslationTargetLanguage string `envconfig:"TRANSLATION_TARGET_LANGUAGE" default:"English"`
	TranslationTimeoutSec     int    `envconfig:"TRANSLATION_TIMEOUT" default:"30"`

	// Question/answer extraction
	QAEngine string `envconfig:"QA_ENGINE" default:"openai"` // openai, gemini
	QAModel  string `envconfig:"QA_MODEL" default:"gpt-4o-mini"`
	QAPrompt string `envconfig:"QA_PROMPT" default:""`

	// Provider credentials and endpoints
	OpenAIAPIKey     string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL    string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiBaseURL    string `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta"`
	DashScopeAPIKey  string `envconfig:"DASHSCOPE_API_KEY" default:""`
	DashScopeBaseURL string `envconfig:"DASHSCOPE_BASE_URL" default:"https://dashscope.aliyuncs.com/api/v1"`
	SonioxAPIKey     string `envconfig:"SONIOX_API_KEY" default:""`
	SonioxBaseURL    string `envconfig:"SONIOX_BASE_URL" default:"https://api.soniox.com/v1"`
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`

	ProviderTimeout int `envconfig:"PROVIDER_TIMEOUT" default:"60"` // Seconds, transcription and QA calls

	// Pipeline configuration
	WorkerCount    int `envconfig:"PIPELINE_WORKERS" default:"4"`
	SegmentBacklog int `envconfig:"SEGMENT_BACKLOG" default:"64"` // Finalized segments waiting for a worker

	// Artifact storage
	ArtifactDir string `envconfig:"ARTIFACT_DIR" default:"recordings"`

	// Resilience configuration
	RetryMaxAttempts           int     `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int     `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // Milliseconds
	RetryMaxBackoff            int     `envconfig:"RETRY_MAX_BACKOFF" default:"5000"`    // Milliseconds
	RetryBackoffMultiplier     float64 `envconfig:"RETRY_BACKOFF_MULTIPLIER" default:"2.0"`
	CircuitBreakerMaxFailures  int     `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int     `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the detector and pipeline cannot run with
func (c *Config) Validate() error {
	if c.ActivationThreshold < 0 || c.ActivationThreshold > 1 {
		return fmt.Errorf("VAD_ACTIVATION_THRESHOLD must be in [0,1], got %f", c.ActivationThreshold)
	}
	if c.ActivationDurationSec < 0 {
		return fmt.Errorf("VAD_ACTIVATION_DURATION must be non-negative, got %f", c.ActivationDurationSec)
	}
	if c.SilenceDurationSec <= 0 {
		return fmt.Errorf("VAD_SILENCE_DURATION must be positive, got %f", c.SilenceDurationSec)
	}
	if c.PreRollDurationSec < 0 {
		return fmt.Errorf("VAD_PRE_ROLL_DURATION must be non-negative, got %f", c.PreRollDurationSec)
	}
	if c.MaxSegmentDurationSec <= 0 {
		return fmt.Errorf("VAD_MAX_SEGMENT_DURATION must be positive, got %f", c.MaxSegmentDurationSec)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("FRAME_SIZE must be positive, got %d", c.FrameSize)
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("PIPELINE_WORKERS must be positive, got %d", c.WorkerCount)
	}
	return nil
}

// TranslationTimeout returns the translation stage deadline as a duration
func (c *Config) TranslationTimeout() time.Duration {
	return time.Duration(c.TranslationTimeoutSec) * time.Second
}

// ProviderCallTimeout returns the per-call deadline for transcription and QA
func (c *Config) ProviderCallTimeout() time.Duration {
	return time.Duration(c.ProviderTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
