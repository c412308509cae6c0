package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	_ "voiceorb/pkg/channels/telegram" // registers the telegram channel
	_ "voiceorb/pkg/channels/web"      // registers the web channel
	"voiceorb/pkg/config"
	"voiceorb/pkg/llm"
	_ "voiceorb/pkg/llm/gemini"   // registers the gemini relay provider
	_ "voiceorb/pkg/llm/ollama"   // registers the ollama relay provider
	_ "voiceorb/pkg/llm/openailm" // registers the openai relay provider
	"voiceorb/pkg/monitor"
	"voiceorb/pkg/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	configPath string
	systemPath string
)

var rootCmd = &cobra.Command{
	Use:   "voiceorb",
	Short: "Voice and text chat widget engine",
	Long: `voiceorb hosts the conversation sessions of the chat widget.

A session either talks to an external voice agent (voice-chat, meeting) or
posts messages to a webhook (text-chat). Every remote failure degrades to
mock or canned replies so a conversation never dead-ends.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "session configuration file (json or yaml)")
	rootCmd.PersistentFlags().StringVar(&systemPath, "system", "system.json", "engine parameters file (json or yaml)")
	rootCmd.AddCommand(serveCmd, chatCmd)
}

// runtime is what every command builds before opening sessions.
type runtime struct {
	store  *config.Store
	system *config.SystemConfig
	relays []session.Responder
}

// loadRuntime reads both configuration files and prepares the relay tier.
// A missing or broken session configuration falls back to the defaults.
func loadRuntime() *runtime {
	system := config.LoadSystemConfig(systemPath)
	monitor.SetupSlog(system.LogLevel)

	cfg, err := config.Load(configPath)
	path := configPath
	if err != nil {
		slog.Warn("Failed to load config, using defaults", "file", configPath, "error", err)
		cfg = config.Default()
		path = ""
	}

	rt := &runtime{store: config.NewStore(cfg, path), system: system}
	relay, err := llm.NewRelayFromConfig(cfg, system)
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		slog.Info("No relay configured, voice sessions use canned replies after the voice service")
	case err != nil:
		slog.Warn("Failed to init relay, voice sessions use canned replies", "error", err)
	default:
		rt.relays = append(rt.relays, relay)
	}
	return rt
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
