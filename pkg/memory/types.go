package memory

import "time"

// TranscriptEntry is a complete exchange record written to the session log.
// It captures either a user's utterance or the assistant's spoken response,
// forming the atomic unit of session history.
type TranscriptEntry struct {
	// SpeakerID identifies who spoke (the connection's user ID, or the
	// assistant identifier when IsAssistant is true).
	SpeakerID string

	// SpeakerName is the human-readable speaker name.
	SpeakerName string

	// Text is the (possibly corrected) transcript text.
	Text string

	// RawText is the original uncorrected STT output. Preserved for debugging.
	RawText string

	// IsAssistant indicates whether this entry is the assistant's own response
	// rather than a transcribed user utterance.
	IsAssistant bool

	// AssistantID identifies which assistant persona produced the entry when
	// IsAssistant is true.
	AssistantID string

	// Timestamp is when this entry was recorded.
	Timestamp time.Time

	// Duration is the length of the utterance.
	Duration time.Duration
}
