// Package config loads runtime configuration for the recording pipeline.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file named by RECORDINGFLOW_CONFIG, then environment variables. Deployed
// functions normally rely on environment variables alone.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/meetingrecordingflow/internal/gcp"
	"gopkg.in/yaml.v3"
)

// ConfigPathEnv names the environment variable holding the YAML file path.
const ConfigPathEnv = "RECORDINGFLOW_CONFIG"

// Role identifies which deployment unit is loading the configuration.
type Role string

const (
	RoleIngestor Role = "ingestor"
	RolePoller   Role = "poller"
	RoleAPI      Role = "api"
	RoleCLI      Role = "cli"
)

// PollMode selects who drives provider polling once a job is submitted.
type PollMode string

const (
	// PollInProcess polls from a goroutine in the submitting process.
	PollInProcess PollMode = "inprocess"
	// PollWorkflow hands polling to a Cloud Workflows execution that calls
	// the transcription-poller function.
	PollWorkflow PollMode = "workflow"
)

// Default configuration values.
const (
	DefaultRecordingsCollection = "recordings"
	DefaultAccountsCollection   = "accounts"
	DefaultVertexRegion         = "us-central1"
	DefaultSummaryModel         = "gemini-1.5-pro"
	DefaultProvider             = "assemblyai"
	DefaultSpeechLanguage       = "en-US"
	DefaultWorkflowLocation     = "us-central1"
	DefaultWorkflowID           = "transcription-poll"
	DefaultFFmpegPath           = "ffmpeg"
	DefaultSignedURLTTL         = 2 * time.Hour
	DefaultMaxPollDuration      = 6 * time.Hour
	DefaultLockTTL              = 30 * time.Minute
	DefaultUploadRetries        = 4
)

// Config is the complete runtime configuration.
type Config struct {
	ProjectID            string
	AudioBucket          string
	RecordingsCollection string
	AccountsCollection   string

	VertexRegion string
	SummaryModel string

	// DefaultProvider is used when a submission does not name one.
	DefaultProvider      string
	AssemblyAIKey        string
	SpeechLanguage       string
	SpeechAltLanguages   []string
	SpeechPollInterval   time.Duration
	AssemblyPollInterval time.Duration
	// MaxPollDuration bounds how long a job may stay in processing before the
	// recording is failed.
	MaxPollDuration time.Duration

	GoogleClientID     string
	GoogleClientSecret string

	// RedisAddr enables the distributed regeneration lock. Empty means the
	// in-process lock is used.
	RedisAddr     string
	RedisPassword string
	LockTTL       time.Duration

	PollMode         PollMode
	WorkflowID       string
	WorkflowLocation string

	FFmpegPath    string
	TempDir       string
	SignedURLTTL  time.Duration
	UploadRetries int

	LogLevel string
	LogJSON  bool
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		RecordingsCollection: DefaultRecordingsCollection,
		AccountsCollection:   DefaultAccountsCollection,
		VertexRegion:         DefaultVertexRegion,
		SummaryModel:         DefaultSummaryModel,
		DefaultProvider:      DefaultProvider,
		SpeechLanguage:       DefaultSpeechLanguage,
		SpeechAltLanguages:   []string{"st-ZA"},
		SpeechPollInterval:   5 * time.Second,
		AssemblyPollInterval: 3 * time.Second,
		MaxPollDuration:      DefaultMaxPollDuration,
		LockTTL:              DefaultLockTTL,
		PollMode:             PollInProcess,
		WorkflowID:           DefaultWorkflowID,
		WorkflowLocation:     DefaultWorkflowLocation,
		FFmpegPath:           DefaultFFmpegPath,
		SignedURLTTL:         DefaultSignedURLTTL,
		UploadRetries:        DefaultUploadRetries,
		LogLevel:             "info",
		LogJSON:              true,
	}
}

// Load resolves defaults, the optional YAML file and the environment.
func Load() (*Config, error) {
	cfg := Default()

	if path := gcp.GetEnv(ConfigPathEnv, ""); path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	return cfg, nil
}

// LoadFor loads the configuration and validates it for role.
func LoadFor(role Role) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(role); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// configFile mirrors Config with YAML tags and durations as strings.
type configFile struct {
	ProjectID            string   `yaml:"project_id"`
	AudioBucket          string   `yaml:"audio_bucket"`
	RecordingsCollection string   `yaml:"recordings_collection"`
	AccountsCollection   string   `yaml:"accounts_collection"`
	VertexRegion         string   `yaml:"vertex_region"`
	SummaryModel         string   `yaml:"summary_model"`
	DefaultProvider      string   `yaml:"default_provider"`
	AssemblyAIKey        string   `yaml:"assemblyai_api_key"`
	SpeechLanguage       string   `yaml:"speech_language"`
	SpeechAltLanguages   []string `yaml:"speech_alternative_languages"`
	SpeechPollInterval   string   `yaml:"speech_poll_interval"`
	AssemblyPollInterval string   `yaml:"assemblyai_poll_interval"`
	MaxPollDuration      string   `yaml:"max_poll_duration"`
	GoogleClientID       string   `yaml:"google_client_id"`
	GoogleClientSecret   string   `yaml:"google_client_secret"`
	RedisAddr            string   `yaml:"redis_addr"`
	RedisPassword        string   `yaml:"redis_password"`
	LockTTL              string   `yaml:"lock_ttl"`
	PollMode             string   `yaml:"poll_mode"`
	WorkflowID           string   `yaml:"workflow_id"`
	WorkflowLocation     string   `yaml:"workflow_location"`
	FFmpegPath           string   `yaml:"ffmpeg_path"`
	TempDir              string   `yaml:"temp_dir"`
	SignedURLTTL         string   `yaml:"signed_url_ttl"`
	UploadRetries        int      `yaml:"upload_retries"`
	LogLevel             string   `yaml:"log_level"`
	LogJSON              *bool    `yaml:"log_json"`
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f configFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing yaml: %w", err)
	}

	setString(&cfg.ProjectID, f.ProjectID)
	setString(&cfg.AudioBucket, f.AudioBucket)
	setString(&cfg.RecordingsCollection, f.RecordingsCollection)
	setString(&cfg.AccountsCollection, f.AccountsCollection)
	setString(&cfg.VertexRegion, f.VertexRegion)
	setString(&cfg.SummaryModel, f.SummaryModel)
	setString(&cfg.DefaultProvider, f.DefaultProvider)
	setString(&cfg.AssemblyAIKey, f.AssemblyAIKey)
	setString(&cfg.SpeechLanguage, f.SpeechLanguage)
	if len(f.SpeechAltLanguages) > 0 {
		cfg.SpeechAltLanguages = f.SpeechAltLanguages
	}
	setString(&cfg.GoogleClientID, f.GoogleClientID)
	setString(&cfg.GoogleClientSecret, f.GoogleClientSecret)
	setString(&cfg.RedisAddr, f.RedisAddr)
	setString(&cfg.RedisPassword, f.RedisPassword)
	if f.PollMode != "" {
		cfg.PollMode = PollMode(f.PollMode)
	}
	setString(&cfg.WorkflowID, f.WorkflowID)
	setString(&cfg.WorkflowLocation, f.WorkflowLocation)
	setString(&cfg.FFmpegPath, f.FFmpegPath)
	setString(&cfg.TempDir, f.TempDir)
	if f.UploadRetries > 0 {
		cfg.UploadRetries = f.UploadRetries
	}
	setString(&cfg.LogLevel, f.LogLevel)
	if f.LogJSON != nil {
		cfg.LogJSON = *f.LogJSON
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"speech_poll_interval", f.SpeechPollInterval, &cfg.SpeechPollInterval},
		{"assemblyai_poll_interval", f.AssemblyPollInterval, &cfg.AssemblyPollInterval},
		{"max_poll_duration", f.MaxPollDuration, &cfg.MaxPollDuration},
		{"lock_ttl", f.LockTTL, &cfg.LockTTL},
		{"signed_url_ttl", f.SignedURLTTL, &cfg.SignedURLTTL},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.raw); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	return nil
}

func loadFromEnv(cfg *Config) error {
	setString(&cfg.ProjectID, gcp.GetEnv("PROJECT_ID", ""))
	setString(&cfg.AudioBucket, gcp.GetEnv("AUDIO_BUCKET", ""))
	setString(&cfg.RecordingsCollection, gcp.GetEnv("FIRESTORE_COLLECTION", ""))
	setString(&cfg.AccountsCollection, gcp.GetEnv("ACCOUNTS_COLLECTION", ""))
	setString(&cfg.VertexRegion, gcp.GetEnv("VERTEX_AI_REGION", ""))
	setString(&cfg.SummaryModel, gcp.GetEnv("SUMMARY_MODEL", ""))
	setString(&cfg.DefaultProvider, gcp.GetEnv("DEFAULT_PROVIDER", ""))
	setString(&cfg.AssemblyAIKey, gcp.GetEnv("ASSEMBLYAI_API_KEY", ""))
	setString(&cfg.SpeechLanguage, gcp.GetEnv("SPEECH_LANGUAGE", ""))
	if v := gcp.GetEnv("SPEECH_ALTERNATIVE_LANGUAGES", ""); v != "" {
		cfg.SpeechAltLanguages = splitList(v)
	}
	setString(&cfg.GoogleClientID, gcp.GetEnv("GOOGLE_CLIENT_ID", ""))
	setString(&cfg.GoogleClientSecret, gcp.GetEnv("GOOGLE_CLIENT_SECRET", ""))
	setString(&cfg.RedisAddr, gcp.GetEnv("REDIS_ADDR", ""))
	setString(&cfg.RedisPassword, gcp.GetEnv("REDIS_PASSWORD", ""))
	if v := gcp.GetEnv("POLL_MODE", ""); v != "" {
		cfg.PollMode = PollMode(v)
	}
	setString(&cfg.WorkflowID, gcp.GetEnv("WORKFLOW_ID", ""))
	setString(&cfg.WorkflowLocation, gcp.GetEnv("WORKFLOW_LOCATION", ""))
	setString(&cfg.FFmpegPath, gcp.GetEnv("FFMPEG_PATH", ""))
	setString(&cfg.TempDir, gcp.GetEnv("TEMP_DIR", ""))
	setString(&cfg.LogLevel, gcp.GetEnv("LOG_LEVEL", ""))

	if v := gcp.GetEnv("LOG_JSON", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOG_JSON: %w", err)
		}
		cfg.LogJSON = b
	}
	if v := gcp.GetEnv("UPLOAD_RETRIES", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("UPLOAD_RETRIES: %w", err)
		}
		cfg.UploadRetries = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SPEECH_POLL_INTERVAL", &cfg.SpeechPollInterval},
		{"ASSEMBLYAI_POLL_INTERVAL", &cfg.AssemblyPollInterval},
		{"MAX_POLL_DURATION", &cfg.MaxPollDuration},
		{"LOCK_TTL", &cfg.LockTTL},
		{"SIGNED_URL_TTL", &cfg.SignedURLTTL},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, gcp.GetEnv(d.key, "")); err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
	}
	return nil
}

// Validate checks that the settings role needs are present.
func (c *Config) Validate(role Role) error {
	if c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID must be set")
	}
	if c.RecordingsCollection == "" {
		return fmt.Errorf("recordings collection must not be empty")
	}

	switch c.PollMode {
	case PollInProcess, PollWorkflow:
	default:
		return fmt.Errorf("unknown poll mode %q", c.PollMode)
	}

	for name, d := range map[string]time.Duration{
		"speech poll interval":     c.SpeechPollInterval,
		"assemblyai poll interval": c.AssemblyPollInterval,
		"max poll duration":        c.MaxPollDuration,
		"lock ttl":                 c.LockTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	switch role {
	case RoleIngestor, RoleAPI, RoleCLI:
		if c.AudioBucket == "" {
			return fmt.Errorf("AUDIO_BUCKET must be set")
		}
		if c.PollMode == PollWorkflow && c.WorkflowID == "" {
			return fmt.Errorf("WORKFLOW_ID must be set when polling is delegated to a workflow")
		}
	case RolePoller:
	default:
		return fmt.Errorf("unknown role %q", role)
	}

	if c.DefaultProvider == "assemblyai" && c.AssemblyAIKey == "" {
		return fmt.Errorf("ASSEMBLYAI_API_KEY must be set when assemblyai is the default provider")
	}
	return nil
}

// MeetEnabled reports whether Google Meet reconciliation can run.
func (c *Config) MeetEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
