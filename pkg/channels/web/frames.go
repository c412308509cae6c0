package web

import (
	"voiceorb/pkg/api"
)

// Inbound frame types sent by the widget.
const (
	FrameMode        = "mode"
	FrameText        = "text"
	FrameAttach      = "attach"
	FrameRemoveFile  = "remove_file"
	FrameStart       = "start"
	FrameStop        = "stop"
	FramePermission  = "permission"
	FrameSpeech      = "speech"
	FrameSpeechError = "speech_error"
	FrameSpeakEnd    = "speak_end"
)

// Outbound frame types sent to the widget. FrameMode is used both ways.
const (
	FrameEntry             = "entry"
	FrameState             = "state"
	FrameCaption           = "caption"
	FrameProgress          = "progress"
	FramePending           = "pending"
	FrameSpeak             = "speak"
	FrameSpeakCancel       = "speak_cancel"
	FrameAudio             = "audio"
	FrameError             = "error"
	FramePermissionRequest = "permission_request"
	FrameRelease           = "release"
)

// IncomingFrame is a message read from the widget.
type IncomingFrame struct {
	Type    string     `json:"type"`
	Mode    string     `json:"mode,omitempty"`    // mode
	Text    string     `json:"text,omitempty"`    // text, speech
	Files   []WireFile `json:"files,omitempty"`   // text, attach
	Index   int        `json:"index,omitempty"`   // remove_file
	Granted bool       `json:"granted,omitempty"` // permission
	Final   bool       `json:"final,omitempty"`   // speech
	Error   string     `json:"error,omitempty"`   // speech_error
}

// WireFile is a file selected in the widget.
type WireFile struct {
	Name string `json:"name"`
	Mime string `json:"mime,omitempty"`
	Data string `json:"data"` // Base64 encoded
}

// OutgoingFrame is a message written to the widget.
type OutgoingFrame struct {
	Type    string                 `json:"type"`
	Session string                 `json:"session,omitempty"`
	Mode    string                 `json:"mode,omitempty"`
	Header  string                 `json:"header,omitempty"`
	Status  string                 `json:"status,omitempty"`
	Entry   *api.TranscriptEntry   `json:"entry,omitempty"`
	State   *api.ConversationState `json:"state,omitempty"`
	Caption *string                `json:"caption,omitempty"`
	Percent *int                   `json:"percent,omitempty"`
	Files   []api.Attachment       `json:"files,omitempty"`
	Text    string                 `json:"text,omitempty"`
	Data    string                 `json:"data,omitempty"`
	Kind    string                 `json:"kind,omitempty"`
	Error   string                 `json:"error,omitempty"`
}
