package host

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"voiceorb/pkg/api"
)

var (
	actionMarker = regexp.MustCompile(`(?i)^(?:action items?|todo|to do|follow[ -]up|next steps?)\s*[:\-]\s*`)
	listMarker   = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s+`)
)

// ExtractActionItems picks action items out of an assistant reply: lines or
// sentences introduced by a marker such as "Action item:" or "TODO:", and
// list entries following a line that ends in such a marker.
func ExtractActionItems(content string) []string {
	var items []string
	inList := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			inList = false
			continue
		}

		if bullet := listMarker.FindString(line); bullet != "" {
			if inList {
				items = append(items, strings.TrimSpace(line[len(bullet):]))
			}
			continue
		}

		inList = false
		for _, sentence := range splitSentences(line) {
			loc := actionMarker.FindStringIndex(sentence)
			if loc == nil {
				continue
			}
			rest := strings.TrimSpace(sentence[loc[1]:])
			if rest == "" {
				inList = true
				continue
			}
			items = append(items, strings.TrimRight(rest, "."))
		}
	}
	return items
}

func splitSentences(line string) []string {
	var out []string
	start := 0
	for i := 0; i < len(line); i++ {
		if line[i] != '.' && line[i] != '!' && line[i] != '?' {
			continue
		}
		if i+1 < len(line) && line[i+1] != ' ' {
			continue
		}
		if s := strings.TrimSpace(line[start : i+1]); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(line[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// MeetingNotes collects the action items mentioned by the meeting assistant.
type MeetingNotes struct {
	mu    sync.Mutex
	items []string
}

// NewMeetingNotes creates an empty collector.
func NewMeetingNotes() *MeetingNotes {
	return &MeetingNotes{}
}

// Record inspects one assistant entry.
func (n *MeetingNotes) Record(entry api.TranscriptEntry) {
	items := ExtractActionItems(entry.Content)
	slog.Info("Meeting data extracted", "entry", entry.ID, "action_items", len(items))

	if len(items) == 0 {
		return
	}
	n.mu.Lock()
	n.items = append(n.items, items...)
	n.mu.Unlock()
}

// Items returns the action items collected so far.
func (n *MeetingNotes) Items() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.items...)
}
