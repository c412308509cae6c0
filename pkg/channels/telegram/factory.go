package telegram

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"voiceorb/pkg/channels"
	"voiceorb/pkg/config"
	"voiceorb/pkg/gateway"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TelegramFactory creates Telegram channels.
type TelegramFactory struct{}

// Create implements ChannelFactory
func (f *TelegramFactory) Create(rawConfig jsoniter.RawMessage, system *config.SystemConfig) (gateway.Channel, error) {
	var tgCfg TelegramConfig
	if err := json.Unmarshal(rawConfig, &tgCfg); err != nil {
		return nil, fmt.Errorf("failed to parse telegram config: %w", err)
	}

	if tgCfg.Token == "" {
		return nil, fmt.Errorf("missing telegram token")
	}

	return NewTelegramChannel(tgCfg, system.TelegramMessageLimit, config.Ms(system.DownloadTimeoutMs))
}

func init() {
	channels.RegisterChannel("telegram", &TelegramFactory{})
}
