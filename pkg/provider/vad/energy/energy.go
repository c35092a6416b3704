// Package energy implements vad.Engine with a simple RMS energy classifier.
//
// No neural VAD model (Silero, WebRTC VAD) ships with this module — running
// one requires an external model file the module cannot vendor. This engine
// is the default, dependency-free classifier: it normalizes each frame's
// root-mean-square energy against a running noise floor and reports the
// result as a probability, giving internal/vadgate a real signal to drive
// its hysteresis state machine against. A neural engine can be registered
// under a different provider name without changing vadgate at all.
package energy

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/wspotter/felix/pkg/provider/vad"
)

// Engine constructs energy-based VAD sessions.
type Engine struct {
	// NoiseFloorDecay controls how quickly the running noise-floor estimate
	// adapts to ambient volume, in (0, 1). Smaller values adapt more slowly.
	// Defaults to 0.05 when zero.
	NoiseFloorDecay float64
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: sample rate must be positive, got %d", cfg.SampleRate)
	}
	decay := e.NoiseFloorDecay
	if decay <= 0 {
		decay = 0.05
	}
	return &session{decay: decay}, nil
}

var _ vad.Engine = (*Engine)(nil)

type session struct {
	mu         sync.Mutex
	decay      float64
	noiseFloor float64 // 0 until the first frame initializes it
}

// ProcessFrame implements vad.SessionHandle. frame is interpreted as
// little-endian PCM16 mono.
func (s *session) ProcessFrame(frame []byte) (float64, error) {
	if len(frame) < 2 {
		return 0, fmt.Errorf("energy: frame too short: %d bytes", len(frame))
	}

	rms := computeRMS(frame)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.noiseFloor == 0 {
		s.noiseFloor = rms
	}
	if s.noiseFloor < 1 {
		s.noiseFloor = 1
	}

	ratio := rms / s.noiseFloor
	// Map [1, 6]x the noise floor onto [0, 1] probability, clamped.
	probability := (ratio - 1) / 5
	if probability < 0 {
		probability = 0
	}
	if probability > 1 {
		probability = 1
	}

	// Only let frames classified as non-speech pull the noise floor,
	// so a sustained loud utterance doesn't drag the floor up with it.
	if probability < 0.5 {
		s.noiseFloor = s.noiseFloor*(1-s.decay) + rms*s.decay
		if s.noiseFloor < 1 {
			s.noiseFloor = 1
		}
	}

	return probability, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noiseFloor = 0
}

func (s *session) Close() error {
	return nil
}

var _ vad.SessionHandle = (*session)(nil)

func computeRMS(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(frame[i*2 : i*2+2]))
		v := float64(sample)
		sumSquares += v * v
	}
	return math.Sqrt(sumSquares / float64(n))
}
