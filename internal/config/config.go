package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stupiduntilnot/tutor/internal/control"
)

// Provider kinds accepted for the personalized and generic tiers.
const (
	ProviderEdge   = "edge"
	ProviderOpenAI = "openai"
	ProviderDummy  = "dummy"
	ProviderNone   = "none"
)

// WorkerConfig holds configuration for the worker process and tutorctl.
type WorkerConfig struct {
	DBPath           string `yaml:"db_path"`
	Commander        string `yaml:"commander"`
	TelegramToken    string `yaml:"telegram_token"`
	TelegramAPIBase  string `yaml:"-"`
	PollTimeout      int    `yaml:"poll_timeout_seconds"`
	SleepSeconds     int    `yaml:"sleep_seconds"`
	DropPending      bool   `yaml:"drop_pending"`
	PendingWindow    int64  `yaml:"pending_window_seconds"`
	WorkerInstanceID string `yaml:"worker_instance_id"`

	PersonalizedProvider string `yaml:"personalized_provider"`
	GenericProvider      string `yaml:"generic_provider"`
	EdgeFunctionURL      string `yaml:"edge_function_url"`
	EdgeAnonKey          string `yaml:"edge_anon_key"`
	OpenAIURL            string `yaml:"openai_url"`
	OpenAIModel          string `yaml:"openai_model"`
	OpenAIAPIKey         string `yaml:"openai_api_key"`
	SystemPrompt         string `yaml:"system_prompt"`

	CredentialTimeoutMS    int `yaml:"credential_timeout_ms"`
	ProviderTimeoutSeconds int `yaml:"provider_timeout_seconds"`
	DeadlineSeconds        int `yaml:"deadline_seconds"`
	Concurrency            int `yaml:"concurrency"`
	MaxRetries             int `yaml:"max_retries"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	DummyPersonalizedScript string `yaml:"dummy_personalized_script"`
	DummyGenericScript      string `yaml:"dummy_generic_script"`
	DummyCommanderScript    string `yaml:"dummy_commander_script"`
	DummySendScript         string `yaml:"dummy_send_script"`
}

// Load reads configuration from environment variables and applies the YAML
// file named by TUTOR_CONFIG_FILE on top. Keys present in the file win.
// Transport settings are not validated; see LoadWorkerConfig.
func Load() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DBPath:           envOrDefault("TUTOR_DB_PATH", "/state/tutor.db"),
		Commander:        envOrDefault("TUTOR_COMMANDER", "telegram"),
		TelegramToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		PollTimeout:      envIntOrDefault("TG_TIMEOUT", 30),
		SleepSeconds:     envIntOrDefault("TG_SLEEP_SECONDS", 1),
		DropPending:      envBoolOrDefault("TG_DROP_PENDING", true),
		PendingWindow:    int64(envIntOrDefault("TG_PENDING_WINDOW_SECONDS", 600)),
		WorkerInstanceID: envOrDefault("WORKER_INSTANCE_ID", "W000000"),

		PersonalizedProvider: envOrDefault("TUTOR_PERSONALIZED_PROVIDER", ProviderEdge),
		GenericProvider:      envOrDefault("TUTOR_GENERIC_PROVIDER", ProviderEdge),
		EdgeFunctionURL:      os.Getenv("TUTOR_EDGE_FUNCTION_URL"),
		EdgeAnonKey:          os.Getenv("TUTOR_EDGE_ANON_KEY"),
		OpenAIURL:            envOrDefault("TUTOR_OPENAI_URL", "https://api.deepseek.com/chat/completions"),
		OpenAIModel:          envOrDefault("TUTOR_OPENAI_MODEL", "deepseek-chat"),
		OpenAIAPIKey:         os.Getenv("TUTOR_OPENAI_API_KEY"),
		SystemPrompt:         os.Getenv("TUTOR_SYSTEM_PROMPT"),

		CredentialTimeoutMS:    envIntOrDefault("TUTOR_CREDENTIAL_TIMEOUT_MS", 2000),
		ProviderTimeoutSeconds: envIntOrDefault("TUTOR_PROVIDER_TIMEOUT_SECONDS", 20),
		DeadlineSeconds:        envIntOrDefault("TUTOR_DEADLINE_SECONDS", 0),
		Concurrency:            envIntOrDefault("TUTOR_CONCURRENCY", 4),
		MaxRetries:             envIntOrDefault("TUTOR_MAX_RETRIES", 3),

		LogLevel: envOrDefault("TUTOR_LOG_LEVEL", "info"),
		LogFile:  os.Getenv("TUTOR_LOG_FILE"),

		DummyPersonalizedScript: envOrDefault("TUTOR_DUMMY_PERSONALIZED_SCRIPT", "ok"),
		DummyGenericScript:      envOrDefault("TUTOR_DUMMY_GENERIC_SCRIPT", "ok"),
		DummyCommanderScript:    envOrDefault("TUTOR_DUMMY_COMMANDER_SCRIPT", "ok"),
		DummySendScript:         envOrDefault("TUTOR_DUMMY_COMMANDER_SEND_SCRIPT", "ok"),
	}

	if path := strings.TrimSpace(os.Getenv("TUTOR_CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return WorkerConfig{}, fmt.Errorf("read TUTOR_CONFIG_FILE: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return WorkerConfig{}, fmt.Errorf("parse TUTOR_CONFIG_FILE %s: %w", path, err)
		}
	}
	cfg.TelegramAPIBase = fmt.Sprintf("https://api.telegram.org/bot%s", cfg.TelegramToken)

	if err := cfg.validatePipeline(); err != nil {
		return WorkerConfig{}, err
	}
	return cfg, nil
}

// LoadWorkerConfig is Load plus validation of the chat transport.
func LoadWorkerConfig() (WorkerConfig, error) {
	cfg, err := Load()
	if err != nil {
		return WorkerConfig{}, err
	}
	switch cfg.Commander {
	case "telegram":
		if cfg.TelegramToken == "" {
			return WorkerConfig{}, fmt.Errorf("TELEGRAM_BOT_TOKEN is required in environment when TUTOR_COMMANDER=telegram")
		}
	case "dummy":
	default:
		return WorkerConfig{}, fmt.Errorf("TUTOR_COMMANDER must be telegram or dummy, got %q", cfg.Commander)
	}
	return cfg, nil
}

// Budget converts the timeout settings into a resolution budget.
func (c WorkerConfig) Budget() control.Budget {
	return control.Budget{
		CredentialTimeout: time.Duration(c.CredentialTimeoutMS) * time.Millisecond,
		ProviderTimeout:   time.Duration(c.ProviderTimeoutSeconds) * time.Second,
		Deadline:          time.Duration(c.DeadlineSeconds) * time.Second,
	}
}

func (c WorkerConfig) validatePipeline() error {
	if err := validateProviderKind("TUTOR_PERSONALIZED_PROVIDER", c.PersonalizedProvider); err != nil {
		return err
	}
	if err := validateProviderKind("TUTOR_GENERIC_PROVIDER", c.GenericProvider); err != nil {
		return err
	}
	usesEdge := c.PersonalizedProvider == ProviderEdge || c.GenericProvider == ProviderEdge
	if usesEdge && c.EdgeFunctionURL == "" {
		return fmt.Errorf("TUTOR_EDGE_FUNCTION_URL is required when a provider tier uses %q", ProviderEdge)
	}
	// The personalized tier authenticates with the user's own key.
	if c.GenericProvider == ProviderOpenAI && c.OpenAIAPIKey == "" {
		return fmt.Errorf("TUTOR_OPENAI_API_KEY is required when TUTOR_GENERIC_PROVIDER=openai")
	}
	if c.CredentialTimeoutMS <= 0 {
		return fmt.Errorf("TUTOR_CREDENTIAL_TIMEOUT_MS must be > 0")
	}
	if c.ProviderTimeoutSeconds <= 0 {
		return fmt.Errorf("TUTOR_PROVIDER_TIMEOUT_SECONDS must be > 0")
	}
	if c.DeadlineSeconds < 0 {
		return fmt.Errorf("TUTOR_DEADLINE_SECONDS must be >= 0")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("TUTOR_CONCURRENCY must be > 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("TUTOR_MAX_RETRIES must be >= 0")
	}
	return nil
}

func validateProviderKind(key, kind string) error {
	switch kind {
	case ProviderEdge, ProviderOpenAI, ProviderDummy, ProviderNone:
		return nil
	}
	return fmt.Errorf("%s must be one of edge, openai, dummy, none; got %q", key, kind)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}
