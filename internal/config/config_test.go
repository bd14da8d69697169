package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupWorkerEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	t.Setenv("TUTOR_COMMANDER", "telegram")
	t.Setenv("TUTOR_PERSONALIZED_PROVIDER", "edge")
	t.Setenv("TUTOR_GENERIC_PROVIDER", "edge")
	t.Setenv("TUTOR_EDGE_FUNCTION_URL", "https://example.supabase.co/functions/v1/ai-teacher")
	t.Setenv("TUTOR_CONFIG_FILE", "")
}

func TestLoadWorkerConfig_Defaults(t *testing.T) {
	setupWorkerEnv(t)
	cfg, err := LoadWorkerConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://api.telegram.org/bottest-token", cfg.TelegramAPIBase)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "info", cfg.LogLevel)

	b := cfg.Budget()
	assert.Equal(t, 2*time.Second, b.CredentialTimeout)
	assert.Equal(t, 20*time.Second, b.ProviderTimeout)
	assert.Equal(t, 42*time.Second, b.Total())
	assert.NoError(t, b.Validate())
}

func TestLoadWorkerConfig_RequiresTelegramToken(t *testing.T) {
	setupWorkerEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	_, err := LoadWorkerConfig()
	assert.ErrorContains(t, err, "TELEGRAM_BOT_TOKEN")

	t.Setenv("TUTOR_COMMANDER", "dummy")
	_, err = LoadWorkerConfig()
	assert.NoError(t, err)
}

func TestLoadWorkerConfig_RejectsUnknownCommander(t *testing.T) {
	setupWorkerEnv(t)
	t.Setenv("TUTOR_COMMANDER", "irc")
	_, err := LoadWorkerConfig()
	assert.ErrorContains(t, err, "TUTOR_COMMANDER")
}

func TestLoad_ValidatesProviders(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown kind", map[string]string{"TUTOR_GENERIC_PROVIDER": "gemini"}, "TUTOR_GENERIC_PROVIDER"},
		{"edge needs url", map[string]string{"TUTOR_EDGE_FUNCTION_URL": ""}, "TUTOR_EDGE_FUNCTION_URL"},
		{"generic openai needs key", map[string]string{"TUTOR_GENERIC_PROVIDER": "openai"}, "TUTOR_OPENAI_API_KEY"},
		{"zero credential timeout", map[string]string{"TUTOR_CREDENTIAL_TIMEOUT_MS": "0"}, "TUTOR_CREDENTIAL_TIMEOUT_MS"},
		{"zero provider timeout", map[string]string{"TUTOR_PROVIDER_TIMEOUT_SECONDS": "0"}, "TUTOR_PROVIDER_TIMEOUT_SECONDS"},
		{"negative deadline", map[string]string{"TUTOR_DEADLINE_SECONDS": "-1"}, "TUTOR_DEADLINE_SECONDS"},
		{"zero concurrency", map[string]string{"TUTOR_CONCURRENCY": "0"}, "TUTOR_CONCURRENCY"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setupWorkerEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestLoad_PersonalizedOpenAIUsesUserKey(t *testing.T) {
	setupWorkerEnv(t)
	t.Setenv("TUTOR_PERSONALIZED_PROVIDER", "openai")
	t.Setenv("TUTOR_OPENAI_API_KEY", "")
	_, err := Load()
	assert.NoError(t, err)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	setupWorkerEnv(t)
	t.Setenv("TUTOR_CONCURRENCY", "2")
	path := filepath.Join(t.TempDir(), "tutor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
generic_provider: dummy
dummy_generic_script: "err:timeout,ok"
deadline_seconds: 15
log_level: debug
`), 0o600))
	t.Setenv("TUTOR_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dummy", cfg.GenericProvider)
	assert.Equal(t, "err:timeout,ok", cfg.DummyGenericScript)
	assert.Equal(t, 15*time.Second, cfg.Budget().Total())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2, cfg.Concurrency, "keys absent from the file keep env values")
}

func TestLoad_YAMLOverlayErrors(t *testing.T) {
	setupWorkerEnv(t)
	t.Setenv("TUTOR_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.ErrorContains(t, err, "TUTOR_CONFIG_FILE")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("concurrency: [1, 2"), 0o600))
	t.Setenv("TUTOR_CONFIG_FILE", path)
	_, err = Load()
	assert.ErrorContains(t, err, "parse TUTOR_CONFIG_FILE")
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TUTOR_TEST_INT", "nope")
	assert.Equal(t, 7, envIntOrDefault("TUTOR_TEST_INT", 7))
	t.Setenv("TUTOR_TEST_BOOL", "TRUE")
	assert.True(t, envBoolOrDefault("TUTOR_TEST_BOOL", false))
	t.Setenv("TUTOR_TEST_BOOL", "0")
	assert.False(t, envBoolOrDefault("TUTOR_TEST_BOOL", true))
}
