// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or a
// local Coqui instance) and presents a uniform streaming interface: text in,
// self-delimited audio chunks out. The adapter itself — not the backend — is
// responsible for clamping the speaking rate to [0.5, 2.0] and for checking
// ctx between chunks so a caller can cancel mid-stream on barge-in.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/wspotter/felix/pkg/types"
)

// MinSpeedFactor and MaxSpeedFactor bound the speaking-rate factor every
// Provider implementation must clamp VoiceProfile.SpeedFactor to before
// handing it to the underlying backend.
const (
	MinSpeedFactor = 0.5
	MaxSpeedFactor = 2.0
)

// SingleChunkLimit is the largest output, in bytes, a provider may return as
// one chunk. Longer output must be split into a sequence of chunks whose
// decoder state is self-contained beyond header metadata emitted first.
const SingleChunkLimit = 500 * 1024

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run concurrently across sessions.
type Provider interface {
	// SynthesizeStream synthesizes text using voice and returns a channel of
	// raw PCM audio chunks. Chunks are self-delimited; for output at or below
	// SingleChunkLimit a single chunk is acceptable, otherwise the
	// implementation must emit a sequence whose later chunks decode without
	// depending on earlier ones beyond a header emitted first.
	//
	// The implementation must check ctx between chunks and stop producing
	// within one chunk of cancellation. The returned channel is always
	// closed by the implementation, whether synthesis completed, failed, or
	// was cancelled.
	//
	// voice.SpeedFactor is clamped to [MinSpeedFactor, MaxSpeedFactor] before
	// use. Returns a non-nil error only if the stream could not be started at
	// all (e.g. an unknown voice ID); mid-stream failures are signalled by
	// closing the channel early.
	SynthesizeStream(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)

	// CloneVoice creates a new voice profile by training on the supplied
	// audio samples. Expensive; must not be called from the hot path. A nil
	// or empty samples slice returns an error rather than panicking.
	CloneVoice(ctx context.Context, samples [][]byte) (*types.VoiceProfile, error)
}

// ClampSpeedFactor clamps factor to [MinSpeedFactor, MaxSpeedFactor]. A zero
// factor is treated as "unset" and returns 1.0 (provider default rate).
func ClampSpeedFactor(factor float64) float64 {
	if factor == 0 {
		return 1.0
	}
	if factor < MinSpeedFactor {
		return MinSpeedFactor
	}
	if factor > MaxSpeedFactor {
		return MaxSpeedFactor
	}
	return factor
}
