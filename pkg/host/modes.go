package host

import (
	"log/slog"
	"net/http"

	"voiceorb/pkg/api"
	"voiceorb/pkg/attachment"
	"voiceorb/pkg/config"
	"voiceorb/pkg/mock"
	"voiceorb/pkg/session"
	"voiceorb/pkg/speech"
	"voiceorb/pkg/webhook"
)

const (
	ModeTextChat  = "text-chat"
	ModeVoiceChat = "voice-chat"
	ModeMeeting   = "meeting"

	// MeetingHeader labels the meeting variant of the voice session.
	MeetingHeader = "Meeting Assistant"
	// MeetingStatus is the idle status hosts show for a meeting session.
	MeetingStatus = "Meeting assistant ready. Click the microphone to start."
)

// Devices are the audio endpoints a surface provides to voice sessions.
type Devices struct {
	Microphone  speech.Microphone
	Recognizer  speech.Recognizer
	Synthesizer speech.Synthesizer
	// Sink receives audio produced by the external voice service. Optional.
	Sink speech.AudioSink
}

// Env is everything a ModeFactory may use to build a session.
type Env struct {
	Config     *config.Config
	System     *config.SystemConfig
	Devices    Devices
	Relays     []session.Responder
	Dialer     speech.StreamDialer
	Observer   api.SessionObserver
	HTTPClient *http.Client
	Surface    string
	// Notes collects meeting action items. Nil gives each meeting its own.
	Notes *MeetingNotes
}

func init() {
	RegisterMode(ModeTextChat, ModeFactoryFunc(newTextChat))
	RegisterMode(ModeVoiceChat, ModeFactoryFunc(newVoiceChat))
	RegisterMode(ModeMeeting, ModeFactoryFunc(newMeeting))
}

func newTextChat(env Env) (api.Session, error) {
	cfg, sys := env.Config, env.System
	gen := mock.NewGenerator(config.Ms(sys.MockDelayMs))
	client := webhook.NewClient(webhook.Options{
		URL:            cfg.Webhooks.TextChat,
		UploadURL:      cfg.Webhooks.FileUpload,
		Fallback:       cfg.DevMode,
		Timeout:        config.Ms(sys.WebhookTimeoutMs),
		RawReplyLimit:  sys.RawReplyLimit,
		ReadLimit:      sys.ResponseReadLimit,
		SandboxHosts:   sys.SandboxHosts,
		FallbackExpiry: config.Ms(sys.FallbackExpiryMs),
		HTTPClient:     env.HTTPClient,
		Mock:           gen,
	})
	if !client.Configured() && !cfg.DevMode {
		slog.Warn("No text_chat webhook configured and devMode is off, sends will fail")
	}
	return session.NewTextSession(session.TextConfig{
		Mode:      ModeTextChat,
		Client:    client,
		Validator: attachment.NewValidator(cfg.Settings.MaxFileSize, cfg.Settings.AllowedFileTypes),
		Mock:      gen,
		Observer:  env.Observer,
	}), nil
}

func newVoiceChat(env Env) (api.Session, error) {
	vc, err := voiceConfig(env, env.Config.Agents.Chat)
	if err != nil {
		return nil, err
	}
	vc.Mode = ModeVoiceChat
	return session.NewVoiceSession(vc), nil
}

// newMeeting is the voice session bound to the meeting agent, decorated with
// a header and the meeting notes hook.
func newMeeting(env Env) (api.Session, error) {
	identity := env.Config.Agents.Meeting
	if identity.ID == "" {
		identity = env.Config.Agents.Chat
	}
	vc, err := voiceConfig(env, identity)
	if err != nil {
		return nil, err
	}
	vc.Mode = ModeMeeting
	vc.Header = MeetingHeader
	notes := env.Notes
	if notes == nil {
		notes = NewMeetingNotes()
	}
	vc.OnAssistant = notes.Record
	return session.NewVoiceSession(vc), nil
}

func voiceConfig(env Env, identity api.AgentIdentity) (session.VoiceConfig, error) {
	d := env.Devices
	if d.Microphone == nil || d.Recognizer == nil || d.Synthesizer == nil {
		return session.VoiceConfig{}, api.NewError(api.KindSDKUnavailable,
			"voice is not supported on the "+env.Surface+" surface", nil)
	}
	cfg, sys := env.Config, env.System

	adapter := speech.AdapterConfig{
		Stream: speech.StreamConfig{
			APIKey:  cfg.ElevenLabs.APIKey,
			BaseURL: cfg.ElevenLabs.BaseURL,
			ModelID: cfg.ElevenLabs.ModelID,
			VoiceSettings: speech.VoiceSettings{
				Stability:       sys.VoiceStability,
				SimilarityBoost: sys.VoiceSimilarityBoost,
			},
			AudioIdle: config.Ms(sys.AudioIdleMs),
			Sink:      d.Sink,
		},
		Recognizer:  d.Recognizer,
		Synthesizer: d.Synthesizer,
	}
	if cfg.ElevenLabs.APIKey != "" {
		adapter.Dialer = env.Dialer
	}

	return session.VoiceConfig{
		Identity:    identity,
		Microphone:  d.Microphone,
		Speech:      adapter,
		Relays:      env.Relays,
		Canned:      mock.NewCanned(config.Ms(sys.CannedDelayMs)),
		Observer:    env.Observer,
		RetryDelay:  config.Ms(sys.RecognitionRetryDelayMs),
		TurnTimeout: config.Ms(sys.VoiceTurnTimeoutMs),
	}, nil
}
