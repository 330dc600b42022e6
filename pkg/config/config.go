package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// FlexibleStringSlice accepts both ["a","b"] and bare numbers like [123, "b"]
// so chat IDs copied from bot APIs load without quoting.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(FlexibleStringSlice, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			out = append(out, val)
		case float64:
			out = append(out, fmt.Sprintf("%.0f", val))
		default:
			out = append(out, fmt.Sprintf("%v", val))
		}
	}
	*f = out
	return nil
}

type Config struct {
	Core       CoreConfig       `json:"core" yaml:"core"`
	Gateway    GatewayConfig    `json:"gateway" yaml:"gateway"`
	Drive      DriveConfig      `json:"drive" yaml:"drive"`
	Summarizer SummarizerConfig `json:"summarizer" yaml:"summarizer"`
	Audit      AuditConfig      `json:"audit" yaml:"audit"`
	Channels   ChannelsConfig   `json:"channels" yaml:"channels"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	mu         sync.RWMutex
}

type CoreConfig struct {
	ConfirmKeyword     string `json:"confirm_keyword" yaml:"confirm_keyword" env:"DRIVECLAW_CORE_CONFIRM_KEYWORD"`
	CallTimeoutSeconds int    `json:"call_timeout_seconds" yaml:"call_timeout_seconds" env:"DRIVECLAW_CORE_CALL_TIMEOUT_SECONDS"`
	SummaryConcurrency int    `json:"summary_concurrency" yaml:"summary_concurrency" env:"DRIVECLAW_CORE_SUMMARY_CONCURRENCY"`
	MaxSummaryWords    int    `json:"max_summary_words" yaml:"max_summary_words" env:"DRIVECLAW_CORE_MAX_SUMMARY_WORDS"`
	MaxListEntries     int    `json:"max_list_entries" yaml:"max_list_entries" env:"DRIVECLAW_CORE_MAX_LIST_ENTRIES"`
}

type GatewayConfig struct {
	RequestTimeoutSeconds    int `json:"request_timeout_seconds" yaml:"request_timeout_seconds" env:"DRIVECLAW_GATEWAY_REQUEST_TIMEOUT_SECONDS"`
	WorkerQueueSize          int `json:"worker_queue_size" yaml:"worker_queue_size" env:"DRIVECLAW_GATEWAY_WORKER_QUEUE_SIZE"`
	WorkerIdleTimeoutSeconds int `json:"worker_idle_timeout_seconds" yaml:"worker_idle_timeout_seconds" env:"DRIVECLAW_GATEWAY_WORKER_IDLE_TIMEOUT_SECONDS"`
}

const (
	DriveBackendLocal  = "local"
	DriveBackendGoogle = "gdrive"
)

type DriveConfig struct {
	Backend      string            `json:"backend" yaml:"backend" env:"DRIVECLAW_DRIVE_BACKEND"`
	MaxReadBytes int64             `json:"max_read_bytes" yaml:"max_read_bytes" env:"DRIVECLAW_DRIVE_MAX_READ_BYTES"`
	Local        LocalDriveConfig  `json:"local" yaml:"local"`
	Google       GoogleDriveConfig `json:"google" yaml:"google"`
}

type LocalDriveConfig struct {
	Root string `json:"root" yaml:"root" env:"DRIVECLAW_DRIVE_LOCAL_ROOT"`
}

type GoogleDriveConfig struct {
	ClientID        string `json:"client_id" yaml:"client_id" env:"DRIVECLAW_DRIVE_GOOGLE_CLIENT_ID"`
	ClientSecret    string `json:"client_secret" yaml:"client_secret" env:"DRIVECLAW_DRIVE_GOOGLE_CLIENT_SECRET"`
	RefreshToken    string `json:"refresh_token" yaml:"refresh_token" env:"DRIVECLAW_DRIVE_GOOGLE_REFRESH_TOKEN"`
	RootFolderID    string `json:"root_folder_id" yaml:"root_folder_id" env:"DRIVECLAW_DRIVE_GOOGLE_ROOT_FOLDER_ID"`
	PermanentDelete bool   `json:"permanent_delete" yaml:"permanent_delete" env:"DRIVECLAW_DRIVE_GOOGLE_PERMANENT_DELETE"`
}

const (
	SummarizerAnthropic  = "anthropic"
	SummarizerOpenAI     = "openai"
	SummarizerGemini     = "gemini"
	SummarizerExtractive = "extractive"
)

type SummarizerConfig struct {
	Provider     string `json:"provider" yaml:"provider" env:"DRIVECLAW_SUMMARIZER_PROVIDER"`
	APIKey       string `json:"api_key" yaml:"api_key" env:"DRIVECLAW_SUMMARIZER_API_KEY"`
	APIBase      string `json:"api_base" yaml:"api_base" env:"DRIVECLAW_SUMMARIZER_API_BASE"`
	Model        string `json:"model" yaml:"model" env:"DRIVECLAW_SUMMARIZER_MODEL"`
	MaxSentences int    `json:"max_sentences" yaml:"max_sentences" env:"DRIVECLAW_SUMMARIZER_MAX_SENTENCES"`
}

const (
	AuditBackendJSONL  = "jsonl"
	AuditBackendSQLite = "sqlite"
	AuditBackendNone   = "none"
)

type AuditConfig struct {
	Backend   string `json:"backend" yaml:"backend" env:"DRIVECLAW_AUDIT_BACKEND"`
	Path      string `json:"path" yaml:"path" env:"DRIVECLAW_AUDIT_PATH"`
	QueueSize int    `json:"queue_size" yaml:"queue_size" env:"DRIVECLAW_AUDIT_QUEUE_SIZE"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Discord  DiscordConfig  `json:"discord" yaml:"discord"`
	Slack    SlackConfig    `json:"slack" yaml:"slack"`
}

type TelegramConfig struct {
	Enabled   bool                `json:"enabled" yaml:"enabled" env:"DRIVECLAW_CHANNELS_TELEGRAM_ENABLED"`
	Token     string              `json:"token" yaml:"token" env:"DRIVECLAW_CHANNELS_TELEGRAM_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" yaml:"allow_from" env:"DRIVECLAW_CHANNELS_TELEGRAM_ALLOW_FROM"`
}

type DiscordConfig struct {
	Enabled   bool                `json:"enabled" yaml:"enabled" env:"DRIVECLAW_CHANNELS_DISCORD_ENABLED"`
	Token     string              `json:"token" yaml:"token" env:"DRIVECLAW_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" yaml:"allow_from" env:"DRIVECLAW_CHANNELS_DISCORD_ALLOW_FROM"`
}

type SlackConfig struct {
	Enabled   bool                `json:"enabled" yaml:"enabled" env:"DRIVECLAW_CHANNELS_SLACK_ENABLED"`
	BotToken  string              `json:"bot_token" yaml:"bot_token" env:"DRIVECLAW_CHANNELS_SLACK_BOT_TOKEN"`
	AppToken  string              `json:"app_token" yaml:"app_token" env:"DRIVECLAW_CHANNELS_SLACK_APP_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" yaml:"allow_from" env:"DRIVECLAW_CHANNELS_SLACK_ALLOW_FROM"`
}

type LoggingConfig struct {
	Level string `json:"level" yaml:"level" env:"DRIVECLAW_LOGGING_LEVEL"`
	File  string `json:"file" yaml:"file" env:"DRIVECLAW_LOGGING_FILE"`
}

func DefaultConfig() *Config {
	return &Config{
		Core: CoreConfig{
			ConfirmKeyword:     "CONFIRM",
			CallTimeoutSeconds: 30,
			SummaryConcurrency: 4,
			MaxSummaryWords:    200,
			MaxListEntries:     50,
		},
		Gateway: GatewayConfig{
			RequestTimeoutSeconds:    120,
			WorkerQueueSize:          32,
			WorkerIdleTimeoutSeconds: 300,
		},
		Drive: DriveConfig{
			Backend:      DriveBackendLocal,
			MaxReadBytes: 4 << 20,
			Local:        LocalDriveConfig{Root: "~/.driveclaw/drive"},
		},
		Summarizer: SummarizerConfig{
			Provider:     SummarizerExtractive,
			MaxSentences: 5,
		},
		Audit: AuditConfig{
			Backend:   AuditBackendJSONL,
			Path:      "~/.driveclaw/audit.jsonl",
			QueueSize: 1024,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{AllowFrom: FlexibleStringSlice{}},
			Discord:  DiscordConfig{AllowFrom: FlexibleStringSlice{}},
			Slack:    SlackConfig{AllowFrom: FlexibleStringSlice{}},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfig reads path over the defaults and applies DRIVECLAW_* overrides.
// A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Validate reports the first configuration problem that would stop the
// gateway from starting.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if strings.TrimSpace(c.Core.ConfirmKeyword) == "" {
		return fmt.Errorf("core.confirm_keyword must not be empty")
	}
	if strings.ContainsAny(c.Core.ConfirmKeyword, " \t\n\"") {
		return fmt.Errorf("core.confirm_keyword must be a single token, got %q", c.Core.ConfirmKeyword)
	}
	if c.Core.CallTimeoutSeconds <= 0 {
		return fmt.Errorf("core.call_timeout_seconds must be positive")
	}
	if c.Core.SummaryConcurrency <= 0 {
		return fmt.Errorf("core.summary_concurrency must be positive")
	}

	switch c.Drive.Backend {
	case DriveBackendLocal:
		if strings.TrimSpace(c.Drive.Local.Root) == "" {
			return fmt.Errorf("drive.local.root is required for the local backend")
		}
	case DriveBackendGoogle:
		g := c.Drive.Google
		if g.ClientID == "" || g.ClientSecret == "" || g.RefreshToken == "" {
			return fmt.Errorf("drive.google requires client_id, client_secret and refresh_token")
		}
	default:
		return fmt.Errorf("drive.backend must be %q or %q, got %q", DriveBackendLocal, DriveBackendGoogle, c.Drive.Backend)
	}

	switch c.Summarizer.Provider {
	case SummarizerExtractive:
	case SummarizerAnthropic, SummarizerOpenAI, SummarizerGemini:
		if c.Summarizer.APIKey == "" {
			return fmt.Errorf("summarizer.api_key is required for provider %q", c.Summarizer.Provider)
		}
	default:
		return fmt.Errorf("unknown summarizer.provider %q", c.Summarizer.Provider)
	}

	switch c.Audit.Backend {
	case AuditBackendNone:
	case AuditBackendJSONL, AuditBackendSQLite:
		if strings.TrimSpace(c.Audit.Path) == "" {
			return fmt.Errorf("audit.path is required for the %s backend", c.Audit.Backend)
		}
	default:
		return fmt.Errorf("unknown audit.backend %q", c.Audit.Backend)
	}

	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		return fmt.Errorf("channels.telegram.token is required when telegram is enabled")
	}
	if c.Channels.Discord.Enabled && c.Channels.Discord.Token == "" {
		return fmt.Errorf("channels.discord.token is required when discord is enabled")
	}
	if c.Channels.Slack.Enabled && (c.Channels.Slack.BotToken == "" || c.Channels.Slack.AppToken == "") {
		return fmt.Errorf("channels.slack requires bot_token and app_token when enabled")
	}
	return nil
}

func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Core.CallTimeoutSeconds) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Gateway.RequestTimeoutSeconds) * time.Second
}

func (c *Config) DriveRootPath() string {
	return expandHome(c.Drive.Local.Root)
}

func (c *Config) AuditPath() string {
	return expandHome(c.Audit.Path)
}

func (c *Config) LogFilePath() string {
	return expandHome(c.Logging.File)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
