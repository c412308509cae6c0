package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJSONAppliesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.json", `{
		"agents": {"chat": {"id": "agent-chat"}, "meeting": {"id": "agent-meet", "voice_id": "v-meet"}},
		"webhooks": {"text_chat": "https://hooks.example.com/chat"},
		"elevenlabs": {"api_key": "secret"},
		"devMode": true
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "agent-chat", cfg.Agents.Chat.ID)
	assert.Equal(t, DefaultVoiceID, cfg.Agents.Chat.VoiceID)
	assert.Equal(t, "v-meet", cfg.Agents.Meeting.VoiceID)
	assert.Equal(t, DefaultMaxFileSize, cfg.Settings.MaxFileSize)
	assert.Equal(t, DefaultAllowedFileTypes, cfg.Settings.AllowedFileTypes)
	assert.Equal(t, DefaultModelID, cfg.ElevenLabs.ModelID)
	assert.True(t, cfg.DevMode)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
agents:
  chat:
    id: agent-chat
    voice_id: v1
webhooks:
  text_chat: https://hooks.example.com/chat
settings:
  max_file_size: 2048
  allowed_file_types: [".txt"]
channels:
  web:
    addr: ":9000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "v1", cfg.Agents.Chat.VoiceID)
	assert.Equal(t, int64(2048), cfg.Settings.MaxFileSize)
	assert.Equal(t, []string{".txt"}, cfg.Settings.AllowedFileTypes)
	require.Contains(t, cfg.Channels, "web")
	assert.JSONEq(t, `{"addr":":9000"}`, string(cfg.Channels["web"]))
}

func TestLoadRejectsBadWebhookScheme(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.json", `{"webhooks": {"text_chat": "ftp://example.com/x"}}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhooks.text_chat")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoadSystemConfigFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()

	assert.Equal(t, DefaultSystemConfig(), LoadSystemConfig(filepath.Join(dir, "missing.json")))

	broken := writeFile(t, dir, "broken.json", `{"mock_delay_ms": `)
	assert.Equal(t, DefaultSystemConfig(), LoadSystemConfig(broken))

	partial := writeFile(t, dir, "system.json", `{"mock_delay_ms": 10, "log_level": "debug"}`)
	sys := LoadSystemConfig(partial)
	assert.Equal(t, 10, sys.MockDelayMs)
	assert.Equal(t, "debug", sys.LogLevel)
	assert.Equal(t, 1000, sys.CannedDelayMs)
}

func TestPublicStripsSecrets(t *testing.T) {
	cfg := Default()
	cfg.ElevenLabs.APIKey = "secret"
	cfg.SystemPrompt = "be nice"
	cfg.LLM = []byte(`{"provider":"ollama"}`)

	pub := cfg.Public()
	assert.Empty(t, pub.ElevenLabs.APIKey)
	assert.Empty(t, pub.SystemPrompt)
	assert.Nil(t, pub.LLM)
	assert.Equal(t, "secret", cfg.ElevenLabs.APIKey)
}

func TestStoreReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{"webhooks": {"text_chat": "https://a.example.com"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	store := NewStore(cfg, path)
	writeFile(t, dir, "config.json", `{"webhooks": {"text_chat": "https://b.example.com"}}`)
	require.NoError(t, store.Reload())
	assert.Equal(t, "https://b.example.com", store.Get().Webhooks.TextChat)

	writeFile(t, dir, "config.json", `{not json`)
	require.Error(t, store.Reload())
	assert.Equal(t, "https://b.example.com", store.Get().Webhooks.TextChat)
}

func TestWatchConfigSignalsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloadCh := WatchConfig(ctx, path)
	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "config.json", `{"devMode": true}`)

	select {
	case <-reloadCh:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a reload signal")
	}

	cancel()
	for range reloadCh {
	}
}
