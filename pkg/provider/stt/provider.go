// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider transcribes one already-segmented Utterance at a time —
// it is a one-shot batch interface, not a streaming session. The
// Utterance Segmenter (internal/vadgate + internal/segmenter) already
// decides where a turn begins and ends; the STT adapter's only job is to
// turn the finished PCM buffer into text.
package stt

import (
	"context"

	"github.com/wspotter/felix/pkg/types"
)

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use — multiple sessions may
// transcribe utterances simultaneously.
type Provider interface {
	// Transcribe converts u into text. Returns an empty string, not an
	// error, when no speech is detected. Honors ctx cancellation where the
	// underlying engine supports it; otherwise runs to completion.
	Transcribe(ctx context.Context, u types.Utterance) (string, error)
}
