package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"voiceorb/pkg/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// DefaultMaxFileSize is the upload limit applied when the config omits one (10 MB).
	DefaultMaxFileSize int64 = 10485760
	// DefaultVoiceID is the voice used when an agent has no voice configured.
	DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
	// DefaultModelID is the speech model requested from the voice service.
	DefaultModelID = "eleven_turbo_v2"
)

// DefaultAllowedFileTypes is the extension allow-list used when the config omits one.
var DefaultAllowedFileTypes = []string{".jpg", ".jpeg", ".png", ".pdf", ".csv", ".doc", ".docx"}

// Config defines the session configuration of the widget.
// It is read-only to the conversation engine; a reload replaces it as a whole.
type Config struct {
	// Agents maps the chat and meeting modes to the remote agent they bind to.
	Agents Agents `json:"agents"`
	// Webhooks holds the endpoints the text session posts to.
	Webhooks Webhooks `json:"webhooks"`
	// ElevenLabs holds the credentials of the external voice service.
	ElevenLabs ElevenLabs `json:"elevenlabs"`
	// Settings holds the attachment policy.
	Settings FileSettings `json:"settings"`
	// DevMode enables the mock fallback of the messaging client from the start.
	DevMode bool `json:"devMode"`
	// LLM holds the optional relay responder configuration in raw JSON.
	// When empty, voice sessions fall back straight to canned replies.
	LLM jsoniter.RawMessage `json:"llm,omitempty"`
	// SystemPrompt is the instruction string sent to the relay responder.
	SystemPrompt string `json:"system_prompt,omitempty"`
	// Channels contains a map of surface identifiers (e.g., "telegram", "web")
	// to their specific configuration payloads in raw JSON format.
	Channels map[string]jsoniter.RawMessage `json:"channels,omitempty"`
}

// Agents selects the remote agent per conversation mode.
type Agents struct {
	Chat    api.AgentIdentity `json:"chat"`
	Meeting api.AgentIdentity `json:"meeting"`
}

// Webhooks lists the messaging endpoints.
type Webhooks struct {
	TextChat   string `json:"text_chat"`
	FileUpload string `json:"file_upload"`
}

// ElevenLabs holds the voice service credentials.
type ElevenLabs struct {
	APIKey  string `json:"api_key"`
	ModelID string `json:"model_id"`
	// BaseURL overrides the websocket endpoint (used for self-hosted proxies and tests).
	BaseURL string `json:"base_url,omitempty"`
}

// FileSettings is the attachment policy.
type FileSettings struct {
	MaxFileSize      int64    `json:"max_file_size"`
	AllowedFileTypes []string `json:"allowed_file_types"`
}

// ApplyDefaults fills every unset field with the widget defaults.
func (c *Config) ApplyDefaults() {
	if c.Settings.MaxFileSize <= 0 {
		c.Settings.MaxFileSize = DefaultMaxFileSize
	}
	if len(c.Settings.AllowedFileTypes) == 0 {
		c.Settings.AllowedFileTypes = append([]string(nil), DefaultAllowedFileTypes...)
	}
	if c.Agents.Chat.VoiceID == "" {
		c.Agents.Chat.VoiceID = DefaultVoiceID
	}
	if c.Agents.Meeting.VoiceID == "" {
		c.Agents.Meeting.VoiceID = c.Agents.Chat.VoiceID
	}
	if c.ElevenLabs.ModelID == "" {
		c.ElevenLabs.ModelID = DefaultModelID
	}
}

// Validate ensures the configuration can be handed to sessions.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"webhooks.text_chat":   c.Webhooks.TextChat,
		"webhooks.file_upload": c.Webhooks.FileUpload,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid %s: unsupported scheme %q", name, u.Scheme)
		}
	}
	if c.Settings.MaxFileSize < 0 {
		return fmt.Errorf("settings.max_file_size must not be negative")
	}
	return nil
}

// Public returns a copy safe to hand to a browser: secrets and surface
// settings are stripped.
func (c *Config) Public() *Config {
	out := *c
	out.ElevenLabs.APIKey = ""
	out.LLM = nil
	out.SystemPrompt = ""
	out.Channels = nil
	out.Settings.AllowedFileTypes = append([]string(nil), c.Settings.AllowedFileTypes...)
	return &out
}

// Default returns the configuration used when no file is available.
// The widget stays usable offline because DevMode is on.
func Default() *Config {
	cfg := &Config{DevMode: true}
	cfg.ApplyDefaults()
	return cfg
}

// SystemConfig defines engine-level technical parameters.
// These settings are usually stored in system.json and control the
// latency, reliability, and technical behavior of the engine.
type SystemConfig struct {
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
	// MockDelayMs is the simulated latency of a mock webhook reply.
	MockDelayMs int `json:"mock_delay_ms"`
	// CannedDelayMs is the simulated latency of a canned voice reply.
	CannedDelayMs int `json:"canned_delay_ms"`
	// WebhookTimeoutMs is the hard cutoff for one webhook round trip.
	WebhookTimeoutMs int `json:"webhook_timeout_ms"`
	// RawReplyLimit bounds the number of characters echoed from a non-JSON reply.
	RawReplyLimit int `json:"raw_reply_limit"`
	// ResponseReadLimit bounds the number of bytes read from a webhook response body.
	ResponseReadLimit int64 `json:"response_read_limit"`
	// SandboxHosts extends the list of hosts treated as non-production.
	SandboxHosts []string `json:"sandbox_hosts"`
	// FallbackExpiryMs lets an automatically enabled fallback expire so the
	// real webhook is tried again. Zero keeps the fallback for the session's life.
	FallbackExpiryMs int `json:"fallback_expiry_ms"`
	// RecognitionRetryDelayMs is the pause before listening again after a recognition error.
	RecognitionRetryDelayMs int `json:"recognition_retry_delay_ms"`
	// AudioIdleMs is how long the voice stream may stay silent before speech is considered finished.
	AudioIdleMs int `json:"audio_idle_ms"`
	// VoiceStability and VoiceSimilarityBoost are the default voice settings.
	VoiceStability       float64 `json:"voice_stability"`
	VoiceSimilarityBoost float64 `json:"voice_similarity_boost"`
	// VoiceTurnTimeoutMs bounds the wait for one external voice reply.
	VoiceTurnTimeoutMs int `json:"voice_turn_timeout_ms"`
	// MaxRetries is the number of times the relay responder retries a transient error.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the duration to wait between relay retries.
	RetryDelayMs int `json:"retry_delay_ms"`
	// LLMTimeoutMs is the hard cutoff for one relay request.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// OllamaDefaultURL is the endpoint used when the relay config names no Ollama URL.
	OllamaDefaultURL string `json:"ollama_default_url"`
	// InternalChannelBuffer sizes the channels used for streaming relay chunks.
	InternalChannelBuffer int `json:"internal_channel_buffer"`
	// TelegramMessageLimit is the maximum character count for a single
	// Telegram message. Longer replies are split into multiple chunks.
	TelegramMessageLimit int `json:"telegram_message_limit"`
	// DownloadTimeoutMs is the timeout applied when fetching files from Telegram servers.
	DownloadTimeoutMs int `json:"download_timeout_ms"`
}

// DefaultSystemConfig returns a SystemConfig initialized with safe defaults.
// It is used as a fallback when system.json is missing or corrupt, so the
// engine can always start.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		LogLevel:                "info",
		MockDelayMs:             1500,
		CannedDelayMs:           1000,
		WebhookTimeoutMs:        30000,
		RawReplyLimit:           500,
		ResponseReadLimit:       4 << 20,
		RecognitionRetryDelayMs: 1000,
		AudioIdleMs:             600,
		VoiceStability:          0.5,
		VoiceSimilarityBoost:    0.8,
		VoiceTurnTimeoutMs:      20000,
		MaxRetries:              2,
		RetryDelayMs:            500,
		LLMTimeoutMs:            60000,
		OllamaDefaultURL:        "http://localhost:11434",
		InternalChannelBuffer:   100,
		TelegramMessageLimit:    4000,
		DownloadTimeoutMs:       10000,
	}
}

// Ms converts a millisecond setting into a time.Duration.
func Ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Load reads the session configuration at path. JSON is the default format;
// files ending in .yaml or .yml are decoded with yaml.v3 first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if isYAML(path) {
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails.
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg // File not found, use defaults
	}
	if isYAML(path) {
		if data, err = yamlToJSON(data); err != nil {
			return cfg
		}
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return DefaultSystemConfig() // Parse failed, use defaults
	}
	return cfg
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// yamlToJSON re-encodes a YAML document as JSON so one set of struct tags
// (and the raw JSON channel/LLM blocks) serves both formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}
