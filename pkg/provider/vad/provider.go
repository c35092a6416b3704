// Package vad defines the Engine interface for Voice Activity Detection
// backends.
//
// A VAD engine wraps a frame-level speech classifier (energy-based, or a
// neural model such as Silero) and surfaces it as a stateful, per-stream
// session. Each session maintains whatever internal state its classifier
// needs (ring buffers, smoothing history) so that multiple concurrent audio
// streams can be processed independently.
//
// This package deliberately returns only a raw speech probability per
// frame — it has no notion of "speech started" or "speech ended". The
// hysteresis state machine that turns a probability stream into utterance
// boundaries lives one layer up, in internal/vadgate, so that the
// classifier stays swappable without dragging gating thresholds into every
// implementation.
//
// Implementations must be safe for concurrent use across different
// sessions. A single SessionHandle should not be shared across goroutines
// unless the implementation explicitly documents thread safety for that
// type.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame. felix always uses 16000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// internal/vadgate sends fixed-size windows of this duration; the
	// engines in this module do not check a frame's length against it.
	FrameSizeMs int
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply mock implementations
// without a live engine.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns a speech
	// probability in [0.0, 1.0]. The frame must be raw little-endian PCM16
	// at the SampleRate and FrameSizeMs configured when the session was
	// created. Must not block.
	ProcessFrame(frame []byte) (float64, error)

	// Reset clears all accumulated detection state without closing the
	// session. Used when a stream is interrupted or restarted.
	Reset()

	// Close releases all resources associated with the session. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions — the top-level interface
// implemented by each VAD backend.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// The session is immediately ready to accept audio frames.
	NewSession(cfg Config) (SessionHandle, error)
}
