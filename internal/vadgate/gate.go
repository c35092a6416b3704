// Package vadgate implements the hysteresis state machine that turns a
// stream of per-frame speech probabilities into discrete speech-start and
// speech-end events (spec component C1, "VAD Gate").
//
// It buffers arbitrarily-sized PCM16 chunks into fixed 512-sample windows
// (32ms at 16kHz — the window size the classifier operates on), classifies
// each window through a vad.SessionHandle, and tracks consecutive
// speech/silence run lengths against MinSpeechMs/MinSilenceMs thresholds
// before committing to a state transition. This mirrors the original
// SileroVAD wrapper's process_chunk state machine, generalized over any
// vad.Engine rather than one fixed model.
package vadgate

import (
	"fmt"

	"github.com/wspotter/felix/pkg/provider/vad"
	"github.com/wspotter/felix/pkg/types"
)

const windowSamples = 512 // fixed classifier window, matches 16kHz/32ms framing

// Config tunes the hysteresis thresholds.
type Config struct {
	SampleRate   int
	Threshold    float64 // speech probability threshold, default 0.5
	MinSpeechMs  int     // default 150
	MinSilenceMs int     // default 300
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 0.5
	}
	if c.MinSpeechMs <= 0 {
		c.MinSpeechMs = 150
	}
	if c.MinSilenceMs <= 0 {
		c.MinSilenceMs = 300
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	return c
}

// Gate is a single session's hysteresis state machine. Not safe for
// concurrent use — a pipeline owns exactly one Gate per active connection.
type Gate struct {
	cfg Config
	vad vad.SessionHandle

	minSpeechSamples  int
	minSilenceSamples int

	buffer []byte // partial window, little-endian PCM16

	triggered     bool
	isSpeaking    bool
	speechSamples int
	silenceSamples int
}

// New constructs a Gate backed by engine. Returns an error if the engine
// cannot allocate a session for cfg.
func New(engine vad.Engine, cfg Config) (*Gate, error) {
	cfg = cfg.withDefaults()
	sess, err := engine.NewSession(vad.Config{
		SampleRate:  cfg.SampleRate,
		FrameSizeMs: windowSamples * 1000 / cfg.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("vadgate: create session: %w", err)
	}
	return &Gate{
		cfg:               cfg,
		vad:               sess,
		minSpeechSamples:  int(int64(cfg.SampleRate) * int64(cfg.MinSpeechMs) / 1000),
		minSilenceSamples: int(int64(cfg.SampleRate) * int64(cfg.MinSilenceMs) / 1000),
	}, nil
}

// Process appends chunk to the internal buffer and classifies every
// complete 512-sample window it contains. It returns the decision from the
// last window processed; if chunk didn't complete a window, IsCurrentlySpeech
// reflects the gate's current state and SpeechProbability is 0.
func (g *Gate) Process(chunk []byte) (types.VADDecision, error) {
	g.buffer = append(g.buffer, chunk...)

	windowBytes := windowSamples * 2
	decision := types.VADDecision{IsCurrentlySpeech: g.isSpeaking}

	for len(g.buffer) >= windowBytes {
		window := g.buffer[:windowBytes]
		g.buffer = g.buffer[windowBytes:]

		prob, err := g.vad.ProcessFrame(window)
		if err != nil {
			return types.VADDecision{}, fmt.Errorf("vadgate: classify window: %w", err)
		}

		decision = g.advance(prob)
	}

	return decision, nil
}

// advance runs one classified window through the hysteresis state machine.
func (g *Gate) advance(prob float64) types.VADDecision {
	isSpeech := prob >= g.cfg.Threshold

	if isSpeech {
		g.speechSamples += windowSamples
		g.silenceSamples = 0

		if g.speechSamples >= g.minSpeechSamples {
			g.triggered = true
			g.isSpeaking = true
		}

		return types.VADDecision{
			SpeechProbability: prob,
			IsCurrentlySpeech: g.isSpeaking,
		}
	}

	g.silenceSamples += windowSamples

	if g.isSpeaking && g.silenceSamples >= g.minSilenceSamples {
		g.isSpeaking = false
		g.triggered = false
		g.speechSamples = 0
		return types.VADDecision{
			SpeechProbability: prob,
			IsCurrentlySpeech: false,
			SpeechJustEnded:   true,
		}
	}

	return types.VADDecision{
		SpeechProbability: prob,
		IsCurrentlySpeech: g.isSpeaking,
	}
}

// IsSpeaking reports the gate's current hysteresis-confirmed state.
func (g *Gate) IsSpeaking() bool {
	return g.isSpeaking
}

// Reset clears all accumulated state, including the underlying classifier
// session's state. Used when a connection restarts listening after a turn.
func (g *Gate) Reset() {
	g.buffer = nil
	g.triggered = false
	g.isSpeaking = false
	g.speechSamples = 0
	g.silenceSamples = 0
	g.vad.Reset()
}

// Close releases the underlying classifier session.
func (g *Gate) Close() error {
	return g.vad.Close()
}
