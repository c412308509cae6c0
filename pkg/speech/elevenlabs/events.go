package elevenlabs

// initiationMessage overrides the agent's voice for this conversation.
type initiationMessage struct {
	Type                       string         `json:"type"`
	ConversationConfigOverride configOverride `json:"conversation_config_override"`
}

type configOverride struct {
	TTS ttsOverride `json:"tts"`
}

type ttsOverride struct {
	VoiceID         string  `json:"voice_id,omitempty"`
	ModelID         string  `json:"model_id,omitempty"`
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type userMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type pongMessage struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}

// serverEvent is the union of the events the service sends. Only the
// payload matching Type is set.
type serverEvent struct {
	Type          string              `json:"type"`
	Metadata      *metadataEvent      `json:"conversation_initiation_metadata_event,omitempty"`
	Ping          *pingEvent          `json:"ping_event,omitempty"`
	AgentResponse *agentResponseEvent `json:"agent_response_event,omitempty"`
	Audio         *audioEvent         `json:"audio_event,omitempty"`
}

type metadataEvent struct {
	ConversationID         string `json:"conversation_id"`
	AgentOutputAudioFormat string `json:"agent_output_audio_format"`
}

type pingEvent struct {
	EventID int `json:"event_id"`
	PingMs  int `json:"ping_ms"`
}

type agentResponseEvent struct {
	Text string `json:"agent_response"`
}

type audioEvent struct {
	AudioBase64 string `json:"audio_base_64"`
	EventID     int    `json:"event_id"`
}
