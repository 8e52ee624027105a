package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "recordings", cfg.RecordingsCollection)
	assert.Equal(t, "accounts", cfg.AccountsCollection)
	assert.Equal(t, "en-US", cfg.SpeechLanguage)
	assert.Equal(t, []string{"st-ZA"}, cfg.SpeechAltLanguages)
	assert.Equal(t, 5*time.Second, cfg.SpeechPollInterval)
	assert.Equal(t, 3*time.Second, cfg.AssemblyPollInterval)
	assert.Equal(t, PollInProcess, cfg.PollMode)
	assert.True(t, cfg.LogJSON)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
project_id: file-project
audio_bucket: file-bucket
speech_poll_interval: 10s
speech_alternative_languages: [zu-ZA, xh-ZA]
log_json: false
upload_retries: 7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv(ConfigPathEnv, path)
	t.Setenv("PROJECT_ID", "env-project")
	t.Setenv("ASSEMBLYAI_POLL_INTERVAL", "1500ms")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "env-project", cfg.ProjectID)
	assert.Equal(t, "file-bucket", cfg.AudioBucket)
	assert.Equal(t, 10*time.Second, cfg.SpeechPollInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.AssemblyPollInterval)
	assert.Equal(t, []string{"zu-ZA", "xh-ZA"}, cfg.SpeechAltLanguages)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 7, cfg.UploadRetries)
	assert.False(t, cfg.LogJSON)
}

func TestLoad_EnvListAndBadDuration(t *testing.T) {
	t.Setenv("SPEECH_ALTERNATIVE_LANGUAGES", " st-ZA , af-ZA,,")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"st-ZA", "af-ZA"}, cfg.SpeechAltLanguages)

	t.Setenv("LOCK_TTL", "soon")
	_, err = Load()
	assert.ErrorContains(t, err, "LOCK_TTL")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv(ConfigPathEnv, filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.ProjectID = "p"
		cfg.AudioBucket = "b"
		cfg.AssemblyAIKey = "k"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		role    Role
		wantErr string
	}{
		{"valid ingestor", func(*Config) {}, RoleIngestor, ""},
		{"missing project", func(c *Config) { c.ProjectID = "" }, RoleAPI, "PROJECT_ID"},
		{"poller needs no bucket", func(c *Config) { c.AudioBucket = "" }, RolePoller, ""},
		{"api needs bucket", func(c *Config) { c.AudioBucket = "" }, RoleAPI, "AUDIO_BUCKET"},
		{"assemblyai needs key", func(c *Config) { c.AssemblyAIKey = "" }, RoleCLI, "ASSEMBLYAI_API_KEY"},
		{"google default needs no key", func(c *Config) { c.AssemblyAIKey = ""; c.DefaultProvider = "google-speech" }, RoleCLI, ""},
		{"bad poll mode", func(c *Config) { c.PollMode = "cron" }, RoleAPI, "poll mode"},
		{"zero interval", func(c *Config) { c.SpeechPollInterval = 0 }, RoleAPI, "must be positive"},
		{"unknown role", func(*Config) {}, Role("batch"), "unknown role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate(tt.role)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestMeetEnabled(t *testing.T) {
	cfg := Default()
	assert.False(t, cfg.MeetEnabled())

	cfg.GoogleClientID = "id"
	cfg.GoogleClientSecret = "secret"
	assert.True(t, cfg.MeetEnabled())
}
