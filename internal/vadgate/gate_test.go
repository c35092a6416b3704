package vadgate

import (
	"testing"

	"github.com/wspotter/felix/pkg/provider/vad"
	"github.com/wspotter/felix/pkg/provider/vad/mock"
)

func window() []byte {
	return make([]byte, windowSamples*2)
}

// scriptedSession returns a fixed sequence of probabilities, one per
// ProcessFrame call, repeating the last value once exhausted.
type scriptedSession struct {
	mock.Session
	script []float64
	calls  int
}

func (s *scriptedSession) ProcessFrame(frame []byte) (float64, error) {
	i := s.calls
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	s.calls++
	return s.script[i], nil
}

func newGateWithScript(t *testing.T, script []float64) *Gate {
	t.Helper()
	sess := &scriptedSession{script: script}
	eng := &mock.Engine{Session: sess}
	g, err := New(eng, Config{SampleRate: 16000, MinSpeechMs: 150, MinSilenceMs: 300})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestGate_RequiresSustainedSpeechBeforeTriggering(t *testing.T) {
	// 150ms at 16kHz / 512-sample windows ≈ 4.69 windows; 5 windows of
	// speech are needed before IsCurrentlySpeech flips true.
	script := make([]float64, 10)
	for i := range script {
		script[i] = 0.9
	}
	g := newGateWithScript(t, script)

	var sawSpeaking bool
	for i := 0; i < 4; i++ {
		d, err := g.Process(window())
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if d.IsCurrentlySpeech {
			sawSpeaking = true
		}
	}
	if sawSpeaking {
		t.Fatal("gate triggered before min_speech_ms threshold was reached")
	}

	d, err := g.Process(window())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !d.IsCurrentlySpeech {
		t.Fatal("gate did not trigger after min_speech_ms threshold was reached")
	}
}

func TestGate_EmitsSpeechJustEndedOnceAfterSilence(t *testing.T) {
	script := []float64{0.9, 0.9, 0.9, 0.9, 0.9, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1}
	g := newGateWithScript(t, script)

	endedCount := 0
	for i := 0; i < len(script); i++ {
		d, err := g.Process(window())
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if d.SpeechJustEnded {
			endedCount++
		}
	}
	if endedCount != 1 {
		t.Fatalf("SpeechJustEnded fired %d times, want exactly 1", endedCount)
	}
}

func TestGate_BuffersPartialWindows(t *testing.T) {
	script := []float64{0.9}
	g := newGateWithScript(t, script)

	half := windowSamples // bytes for half a window (windowSamples/2 samples * 2 bytes)
	d, err := g.Process(make([]byte, half))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if d.SpeechProbability != 0 {
		t.Fatalf("expected no classification from a partial window, got prob=%.2f", d.SpeechProbability)
	}
	if len(g.buffer) != half {
		t.Fatalf("buffered bytes = %d, want %d", len(g.buffer), half)
	}
}

func TestGate_Reset_ClearsState(t *testing.T) {
	script := []float64{0.9, 0.9, 0.9, 0.9, 0.9}
	g := newGateWithScript(t, script)
	for i := 0; i < 5; i++ {
		g.Process(window())
	}
	if !g.IsSpeaking() {
		t.Fatal("expected gate to be speaking before Reset")
	}
	g.Reset()
	if g.IsSpeaking() {
		t.Fatal("expected gate to not be speaking after Reset")
	}
	if len(g.buffer) != 0 {
		t.Fatal("expected buffer cleared after Reset")
	}
}

var _ vad.SessionHandle = (*scriptedSession)(nil)
