// Package segmenter implements the Utterance Segmenter (spec component C2):
// it accumulates PCM audio while the VAD gate considers the stream
// triggered and, once speech ends, snapshots the accumulated buffer into a
// single types.Utterance consumed exactly once by the STT adapter.
package segmenter

import (
	"github.com/wspotter/felix/pkg/types"
)

// minUtteranceMs is the duration below which a completed segment is discarded as
// noise rather than forwarded to STT.
const minUtteranceMs = 500

// Segmenter accumulates PCM for a single session. Not safe for concurrent
// use — owned by one pipeline goroutine per connection.
type Segmenter struct {
	sampleRate int
	channels   int
	width      int

	buffer []byte
}

// New constructs a Segmenter for the given PCM format.
func New(sampleRate, channels, width int) *Segmenter {
	return &Segmenter{sampleRate: sampleRate, channels: channels, width: width}
}

// Append adds PCM bytes to the current segment. Call this for every frame
// received while the session is Listening or the VAD gate is triggered.
func (s *Segmenter) Append(pcm []byte) {
	s.buffer = append(s.buffer, pcm...)
}

// Finish is called when the VAD gate reports speech_just_ended. It
// snapshots the accumulated buffer into an Utterance and clears internal
// state for the next turn. The second return value is false if the
// accumulated audio is shorter than the minimum utterance duration — the
// caller should treat this as noise and return to Listening without
// invoking STT.
func (s *Segmenter) Finish() (types.Utterance, bool) {
	u := types.Utterance{
		PCM:        s.buffer,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Width:      s.width,
	}
	s.buffer = nil

	if u.Duration().Milliseconds() < minUtteranceMs {
		return types.Utterance{}, false
	}
	return u, true
}

// Reset discards any accumulated PCM without producing an Utterance. Used
// when a turn is abandoned (e.g. on interrupt or disconnect) before speech
// ends.
func (s *Segmenter) Reset() {
	s.buffer = nil
}

// Len reports the number of PCM bytes currently buffered.
func (s *Segmenter) Len() int {
	return len(s.buffer)
}
