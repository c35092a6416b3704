package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wspotter/felix/internal/conversation"
	"github.com/wspotter/felix/internal/segmenter"
	"github.com/wspotter/felix/pkg/types"
)

// State is one of the five lifecycle states a Session may occupy.
type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateSpeaking
	StateInterrupted
)

// String renders the state the way it appears in outbound state frames.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// SpeakingTimeout bounds how long a Session may sit in StateSpeaking
// without the client acknowledging playback. CheckSpeakingTimeout uses
// this to auto-recover to Idle when a client goes away mid-playback.
const SpeakingTimeout = 30 * time.Second

// ErrInvalidTransition is returned by a transition method called from a
// state that does not permit it.
var ErrInvalidTransition = errors.New("session: invalid state transition")

// Session is one live client connection's state machine: the five-state
// lifecycle (Idle, Listening, Processing, Speaking, Interrupted), the PCM
// accumulation buffer, the cancel token, and the conversation log it owns.
//
// All exported methods are safe for concurrent use.
type Session struct {
	ID string

	Conversation *conversation.Conversation

	mu    sync.Mutex
	state State

	seg *segmenter.Segmenter

	cancelCtx context.Context
	cancelFn  context.CancelFunc

	speakingStartedAt time.Time
	lastActivityAt    time.Time

	processing sync.Mutex
}

// New creates a Session in StateIdle, owning conv as its conversation log
// and a segmenter configured for sampleRate/channels/width PCM.
func New(id string, conv *conversation.Conversation, sampleRate, channels, width int) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:             id,
		Conversation:   conv,
		state:          StateIdle,
		seg:            segmenter.New(sampleRate, channels, width),
		cancelCtx:      ctx,
		cancelFn:       cancel,
		lastActivityAt: time.Now(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivityAt returns the timestamp of the most recent transition.
func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

// CancelContext returns the context in-flight LLM and TTS streams must
// check between chunks. Fetch it fresh at the start of each turn: it is
// replaced, not just cancelled, whenever the cancel token resets, so a
// context captured from an earlier turn will never observe a later
// barge-in.
func (s *Session) CancelContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelCtx
}

// Interrupt sets the cancel token and, if currently Speaking, transitions
// to Interrupted. Used for the client's explicit interrupt control
// message; unlike BargeInDetected it does not also resume Listening, so
// the session stays Interrupted until the next event arrives.
func (s *Session) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelFn()
	if s.state == StateSpeaking {
		s.transitionLocked(StateInterrupted)
	}
}

// Resume transitions Interrupted -> Listening: whatever event arrives
// next while Interrupted moves the session back to Listening.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInterrupted {
		return fmt.Errorf("%w: resume requires Interrupted, got %s", ErrInvalidTransition, s.state)
	}
	s.transitionLocked(StateListening)
	return nil
}

// resetCancel cancels the current token and replaces it with a fresh,
// uncancelled one. Must be called with mu held.
func (s *Session) resetCancel() {
	s.cancelFn()
	s.cancelCtx, s.cancelFn = context.WithCancel(context.Background())
}

// transitionLocked moves to next and stamps last_activity_at. Must be
// called with mu held.
func (s *Session) transitionLocked(next State) {
	s.state = next
	s.lastActivityAt = time.Now()
	if next == StateSpeaking {
		s.speakingStartedAt = s.lastActivityAt
	}
}

// StartListening transitions to Listening from any state, clears the PCM
// buffer, and resets the cancel token for the new turn. Matches the
// start_listening control message.
func (s *Session) StartListening() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seg.Reset()
	s.resetCancel()
	s.transitionLocked(StateListening)
}

// StopListening transitions Listening -> Idle, matching the
// stop_listening control message.
func (s *Session) StopListening() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateListening {
		return fmt.Errorf("%w: stop_listening requires Listening, got %s", ErrInvalidTransition, s.state)
	}
	s.transitionLocked(StateIdle)
	return nil
}

// AppendPCM appends audio samples to the segmenter's buffer. The caller
// gates calls on session state; AppendPCM itself does not check it, so a
// barge-in probe can buffer bytes transiently before the caller decides
// whether to keep them (ClearBuffer) or let them become the start of a
// new turn.
func (s *Session) AppendPCM(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seg.Append(b)
}

// BufferLen returns the current PCM buffer length in bytes.
func (s *Session) BufferLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seg.Len()
}

// ClearBuffer discards the PCM buffer without producing an utterance.
func (s *Session) ClearBuffer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seg.Reset()
}

// SpeechEnded finishes the segmenter's buffer into an Utterance and
// transitions Listening -> Processing, provided the buffer held at least
// the segmenter's minimum utterance duration. A shorter buffer is dropped
// as noise, the state stays Listening, and ok is false.
func (s *Session) SpeechEnded() (u types.Utterance, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateListening {
		return types.Utterance{}, false, fmt.Errorf("%w: speech_ended requires Listening, got %s", ErrInvalidTransition, s.state)
	}

	u, ok = s.seg.Finish()
	if !ok {
		return types.Utterance{}, false, nil
	}

	s.transitionLocked(StateProcessing)
	return u, true, nil
}

// ReplyReady transitions Processing -> Speaking, once the orchestrator
// has a full assistant response and starts streaming TTS.
func (s *Session) ReplyReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateProcessing {
		return fmt.Errorf("%w: reply_ready requires Processing, got %s", ErrInvalidTransition, s.state)
	}
	s.transitionLocked(StateSpeaking)
	return nil
}

// EmptyReplyOrError transitions Processing -> Listening: STT produced no
// transcript, the LLM produced no usable reply, or an adapter-transient
// error occurred mid-turn.
func (s *Session) EmptyReplyOrError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateProcessing {
		return fmt.Errorf("%w: empty_reply/error requires Processing, got %s", ErrInvalidTransition, s.state)
	}
	s.transitionLocked(StateListening)
	return nil
}

// BargeInDetected runs the orchestrator's VAD-triggered barge-in path as
// one atomic step: stop TTS by resetting the cancel token, discard the
// buffered probe audio, and land in Listening ready for the next turn.
// Returns an error if the session was not Speaking.
func (s *Session) BargeInDetected() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSpeaking {
		return fmt.Errorf("%w: barge_in_detected requires Speaking, got %s", ErrInvalidTransition, s.state)
	}
	s.transitionLocked(StateInterrupted)
	s.seg.Reset()
	s.resetCancel()
	s.transitionLocked(StateListening)
	return nil
}

// PlaybackDone transitions Speaking -> Listening, matching the
// playback_done control message.
func (s *Session) PlaybackDone() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSpeaking {
		return fmt.Errorf("%w: playback_done requires Speaking, got %s", ErrInvalidTransition, s.state)
	}
	s.transitionLocked(StateListening)
	return nil
}

// CheckSpeakingTimeout transitions Speaking -> Idle if the session has
// been Speaking longer than SpeakingTimeout without a playback_done.
// Returns true if the timeout fired.
func (s *Session) CheckSpeakingTimeout() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSpeaking {
		return false
	}
	if time.Since(s.speakingStartedAt) < SpeakingTimeout {
		return false
	}
	s.transitionLocked(StateIdle)
	return true
}

// TryAcquireProcessing attempts to take the processing lock. It returns
// false immediately if another turn already holds it, so the caller can
// drop an overlapping turn rather than queue behind it.
func (s *Session) TryAcquireProcessing() bool {
	return s.processing.TryLock()
}

// ReleaseProcessing releases the processing lock acquired by
// TryAcquireProcessing.
func (s *Session) ReleaseProcessing() {
	s.processing.Unlock()
}
