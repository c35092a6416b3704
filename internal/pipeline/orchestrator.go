// Package pipeline implements the Pipeline Orchestrator (spec component
// C9): the per-connection glue that runs the ingress loop and the turn
// runner described in the session state machine's transition table. It
// wires the VAD gate, the STT/LLM/TTS adapters, the tool registry and
// executor, and the conversation store into the twelve-step turn
// described for a single utterance, and implements the barge-in path that
// lets a client interrupt mid-playback.
package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wspotter/felix/internal/session"
	"github.com/wspotter/felix/internal/tools"
	"github.com/wspotter/felix/internal/vadgate"
	"github.com/wspotter/felix/pkg/provider/llm"
	"github.com/wspotter/felix/pkg/provider/stt"
	"github.com/wspotter/felix/pkg/provider/tts"
	"github.com/wspotter/felix/pkg/types"
)

// flagTTSPlaying marks an inbound binary frame as a barge-in probe: the
// client is currently playing TTS audio locally, so this chunk should be
// checked for speech onset rather than accumulated as a normal turn.
const flagTTSPlaying = 0x01

// testAudioPhrase is synthesized verbatim in response to a test_audio
// control message, to let a client verify its playback path end to end.
const testAudioPhrase = "This is a test of the audio pipeline."

// Sink is the outbound half of one connection. Implementations must be
// safe for concurrent use: the turn runner and the ingress loop's
// barge-in path may both send through it at once.
type Sink interface {
	// SendJSON marshals v and writes it as a text frame.
	SendJSON(v any) error
	// SendAudio writes raw PCM as a base64-encoded audio frame.
	SendAudio(pcm []byte) error
}

// Config wires an Orchestrator to the shared, process-wide adapters. STT,
// LLM, TTS, Tools, and Executor are safe to share across every connection;
// only Session and Gate are per-connection.
type Config struct {
	STT      stt.Provider
	LLM      llm.Provider
	TTS      tts.Provider
	Tools    *tools.Registry
	Executor *tools.Executor

	// Voice is the default synthesis voice. A settings control message may
	// override SpeedFactor for the lifetime of the connection.
	Voice types.VoiceProfile
}

// Orchestrator runs the ingress loop and turn runner for one connection.
// Not safe for concurrent use from more than one ingress goroutine; the
// turn runner it spawns synchronizes itself via the session's
// processing_lock.
type Orchestrator struct {
	cfg  Config
	sess *session.Session
	gate *vadgate.Gate
	sink Sink

	voice types.VoiceProfile
}

// New constructs an Orchestrator for one connection. gate must be a fresh
// vadgate.Gate owned exclusively by this connection.
func New(cfg Config, sess *session.Session, gate *vadgate.Gate, sink Sink) *Orchestrator {
	return &Orchestrator{cfg: cfg, sess: sess, gate: gate, sink: sink, voice: cfg.Voice}
}

// HandleBinaryFrame dispatches one inbound audio frame. It never blocks on
// STT/LLM/TTS work: the barge-in probe path runs inline (it is cheap, VAD
// classification only), and a completed utterance kicks off the turn
// runner in its own goroutine so the ingress loop can keep reading.
func (o *Orchestrator) HandleBinaryFrame(ctx context.Context, frame []byte) error {
	if len(frame) == 0 {
		return fmt.Errorf("pipeline: empty binary frame")
	}
	flag, pcm := frame[0], frame[1:]

	if flag == flagTTSPlaying {
		return o.handleBargeInProbe(pcm)
	}

	if o.sess.State() != session.StateListening {
		return nil
	}

	decision, err := o.gate.Process(pcm)
	if err != nil {
		return fmt.Errorf("pipeline: vad: %w", err)
	}
	if decision.IsCurrentlySpeech {
		o.sess.AppendPCM(pcm)
	}
	if !decision.SpeechJustEnded {
		return nil
	}

	u, ok, err := o.sess.SpeechEnded()
	if err != nil {
		return fmt.Errorf("pipeline: speech_ended: %w", err)
	}
	if !ok {
		return nil // too short, dropped as noise; state stays Listening
	}

	go o.runTurn(ctx, u)
	return nil
}

// handleBargeInProbe runs VAD on chunk without buffering it. Speech onset
// collapses Speaking straight to Listening and notifies the client, per
// §4.9's barge-in path.
func (o *Orchestrator) handleBargeInProbe(chunk []byte) error {
	decision, err := o.gate.Process(chunk)
	if err != nil {
		return fmt.Errorf("pipeline: barge-in vad: %w", err)
	}
	if !decision.IsCurrentlySpeech {
		return nil
	}

	if err := o.sess.BargeInDetected(); err != nil {
		// Not Speaking: the probe flag arrived outside of playback, or a
		// barge-in already collapsed the state. Nothing to do.
		return nil
	}
	o.gate.Reset()
	return o.sink.SendJSON(controlFrame{Type: "interrupt"})
}

// controlMessage is the envelope every inbound text frame is unmarshalled
// into first, to read its type before dispatching to a typed payload.
type controlMessage struct {
	Type string `json:"type"`
}

// HandleControlMessage dispatches one inbound text (control) frame by
// type, per §6.3. Malformed frames and unknown types are logged and
// ignored; the connection is preserved either way.
func (o *Orchestrator) HandleControlMessage(ctx context.Context, raw []byte) error {
	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Warn("pipeline: malformed control frame", "error", err)
		return nil
	}

	switch msg.Type {
	case "start_listening":
		o.sess.StartListening()
		o.gate.Reset()
		return o.sendState()
	case "stop_listening":
		if err := o.sess.StopListening(); err != nil {
			slog.Warn("pipeline: stop_listening", "error", err)
			return nil
		}
		return o.sendState()
	case "interrupt":
		o.sess.Interrupt()
		return o.sendState()
	case "playback_done":
		if err := o.sess.PlaybackDone(); err != nil {
			slog.Warn("pipeline: playback_done", "error", err)
			return nil
		}
		return o.sendState()
	case "clear_conversation":
		o.sess.Conversation.Clear()
		return nil
	case "settings":
		return o.handleSettings(raw)
	case "test_audio":
		return o.handleTestAudio(ctx, raw)
	case "text_message":
		return o.handleTextMessage(ctx, raw)
	case "music_command":
		return o.handleMusicCommand(ctx, raw)
	default:
		slog.Warn("pipeline: unknown control message type", "type", msg.Type)
		return nil
	}
}

type settingsMessage struct {
	Voice      string  `json:"voice"`
	VoiceSpeed float64 `json:"voiceSpeed"`
}

// handleSettings applies a client's settings message. Only the fields this
// orchestrator's scope covers (voice, speaking rate) are applied here;
// model/backend reconfiguration belongs to the connection manager that
// owns the process-wide adapter singletons.
func (o *Orchestrator) handleSettings(raw []byte) error {
	var s settingsMessage
	if err := json.Unmarshal(raw, &s); err != nil {
		return o.sink.SendJSON(settingsWarningFrame{Type: "settings_warning", Message: "malformed settings payload"})
	}
	if s.Voice != "" {
		o.voice.ID = s.Voice
	}
	if s.VoiceSpeed != 0 {
		o.voice.SpeedFactor = tts.ClampSpeedFactor(s.VoiceSpeed)
	}
	return o.sink.SendJSON(settingsUpdatedFrame{Type: "settings_updated", Voice: o.voice.ID, VoiceSpeed: o.voice.SpeedFactor})
}

type testAudioMessage struct {
	Voice string `json:"voice"`
}

func (o *Orchestrator) handleTestAudio(ctx context.Context, raw []byte) error {
	var m testAudioMessage
	_ = json.Unmarshal(raw, &m)

	voice := o.voice
	if m.Voice != "" {
		voice.ID = m.Voice
	}

	audioCh, err := o.cfg.TTS.SynthesizeStream(ctx, testAudioPhrase, voice)
	if err != nil {
		return o.sendError(fmt.Sprintf("cannot synthesize test audio: %v", err))
	}
	for chunk := range audioCh {
		if err := o.sink.SendAudio(chunk); err != nil {
			return err
		}
	}
	return nil
}

type textMessageMessage struct {
	Text string `json:"text"`
}

// handleTextMessage runs a full turn from client-supplied text, bypassing
// STT. Requires Listening, mirroring the tryLock/recheck discipline of the
// audio-triggered turn.
func (o *Orchestrator) handleTextMessage(ctx context.Context, raw []byte) error {
	var m textMessageMessage
	if err := json.Unmarshal(raw, &m); err != nil || m.Text == "" {
		slog.Warn("pipeline: malformed text_message")
		return nil
	}
	if o.sess.State() != session.StateListening {
		return nil
	}
	go o.runTurnFromText(ctx, m.Text)
	return nil
}

type musicCommandMessage struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

// handleMusicCommand executes a named music tool directly, outside the
// normal LLM turn, and emits a music_state frame instead of the usual
// tool_call/tool_result pair.
func (o *Orchestrator) handleMusicCommand(ctx context.Context, raw []byte) error {
	var m musicCommandMessage
	if err := json.Unmarshal(raw, &m); err != nil || m.Command == "" {
		slog.Warn("pipeline: malformed music_command")
		return nil
	}
	result := o.cfg.Executor.Execute(ctx, o.sess.ID, types.ToolCall{Name: m.Command, Arguments: m.Params})
	return o.sink.SendJSON(musicStateFrame{Type: "music_state", OK: result.OK, Text: result.Text, Flyout: result.Flyout})
}

// runTurn executes the twelve-step order of operations for one finalized
// utterance, starting from the processing_lock acquisition in step 1.
func (o *Orchestrator) runTurn(ctx context.Context, u types.Utterance) {
	if !o.sess.TryAcquireProcessing() {
		return // a turn is already in flight; drop this one per step 1
	}
	defer o.sess.ReleaseProcessing()

	if err := o.sendState(); err != nil {
		return
	}

	turnCtx := o.sess.CancelContext()

	text, err := o.cfg.STT.Transcribe(turnCtx, u)
	if err != nil {
		o.recoverToListening(fmt.Sprintf("speech recognition failed: %v", err))
		return
	}
	if text == "" {
		_ = o.sess.EmptyReplyOrError()
		_ = o.sendState()
		return
	}

	if err := o.sink.SendJSON(transcriptFrame{Type: "transcript", Text: text, IsFinal: true}); err != nil {
		return
	}
	o.sess.Conversation.AppendUser(text)

	o.runLLMAndRespond(turnCtx)
}

// runTurnFromText runs the same turn starting after STT, for the
// text_message bypass.
func (o *Orchestrator) runTurnFromText(ctx context.Context, text string) {
	if !o.sess.TryAcquireProcessing() {
		return
	}
	defer o.sess.ReleaseProcessing()

	o.sess.Conversation.AppendUser(text)
	o.runLLMAndRespond(o.sess.CancelContext())
}

// runLLMAndRespond is steps 7-12: register tools, stream the LLM reply
// (with a tool-narration follow-up when needed), speak the result, and
// hold Speaking until playback_done or the 30s timeout.
func (o *Orchestrator) runLLMAndRespond(ctx context.Context) {
	toolDefs := o.cfg.Tools.Definitions()
	messages := o.sess.Conversation.RenderForLLM(true)

	fullText, err := o.streamChat(ctx, messages, toolDefs)
	if err != nil {
		o.recoverToListening(fmt.Sprintf("the language model is unavailable: %v", err))
		return
	}

	if fullText == "" {
		_ = o.sess.EmptyReplyOrError()
		_ = o.sendState()
		return
	}

	o.sess.Conversation.AppendAssistant(fullText, nil)
	if err := o.sink.SendJSON(responseFrame{Type: "response", Text: fullText}); err != nil {
		return
	}

	if err := o.sess.ReplyReady(); err != nil {
		return
	}
	if err := o.sendState(); err != nil {
		return
	}
	o.scheduleSpeakingTimeout()

	o.speak(o.sess.CancelContext(), fullText)
}

// streamChat runs one LLM stream to completion, forwarding response_chunk
// frames and executing any tool calls inline. If the model produced tool
// calls but no narrated text, it is called once more with the tool
// results appended, per step 8's follow-up rule.
func (o *Orchestrator) streamChat(ctx context.Context, messages []types.Message, toolDefs []llm.ToolDefinition) (string, error) {
	text, calledTools, err := o.consumeChatStream(ctx, messages, toolDefs)
	if err != nil {
		return "", err
	}
	if text != "" || !calledTools {
		return text, nil
	}

	// Follow-up call: let the model narrate the tool results it just saw.
	followUp := o.sess.Conversation.RenderForLLM(true)
	text, _, err = o.consumeChatStream(ctx, followUp, toolDefs)
	if err != nil {
		return "", err
	}
	return text, nil
}

// consumeChatStream drains one Chat stream, handling text, tool-call, and
// terminating chunks, and reports whether any tool was executed.
func (o *Orchestrator) consumeChatStream(ctx context.Context, messages []types.Message, toolDefs []llm.ToolDefinition) (string, bool, error) {
	chunks, err := o.cfg.LLM.Chat(ctx, messages, toolDefs)
	if err != nil {
		return "", false, err
	}

	var text string
	var calledTools bool

	for chunk := range chunks {
		select {
		case <-ctx.Done():
			return text, calledTools, nil
		default:
		}

		switch chunk.Kind {
		case types.ChunkText:
			text += chunk.Text
			if err := o.sink.SendJSON(responseChunkFrame{Type: "response_chunk", Text: text}); err != nil {
				return text, calledTools, err
			}
		case types.ChunkToolCall:
			calledTools = true
			if err := o.executeToolCall(ctx, chunk.ToolCall); err != nil {
				return text, calledTools, err
			}
		case types.ChunkFinish:
		case types.ChunkError:
			return text, calledTools, chunk.Err
		}
	}
	return text, calledTools, nil
}

// executeToolCall sends the tool_call frame, runs the tool through the
// executor, sends the tool_result frame, and appends the outcome to the
// conversation so the model sees it on the next call.
func (o *Orchestrator) executeToolCall(ctx context.Context, call types.ToolCall) error {
	if err := o.sink.SendJSON(toolCallFrame{Type: "tool_call", Tool: call.Name}); err != nil {
		return err
	}

	result := o.cfg.Executor.Execute(ctx, o.sess.ID, call)

	if err := o.sink.SendJSON(toolResultFrame{Type: "tool_result", Tool: result.Name, Result: result.Text}); err != nil {
		return err
	}
	if result.FlyoutType != "" {
		if err := o.sink.SendJSON(flyoutFrame{Type: "flyout", FlyoutType: result.FlyoutType, Content: result.Flyout}); err != nil {
			return err
		}
	}

	o.sess.Conversation.AppendToolResult(result.ID, result.Name, result.Text)
	return nil
}

// speak streams the TTS reply, checking ctx between chunks so a barge-in
// stops emission within one chunk, per the cancellation propagation rule.
func (o *Orchestrator) speak(ctx context.Context, text string) {
	audioCh, err := o.cfg.TTS.SynthesizeStream(ctx, text, o.voice)
	if err != nil {
		slog.Warn("pipeline: tts start failed", "error", err)
		return
	}
	for chunk := range audioCh {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := o.sink.SendAudio(chunk); err != nil {
			return
		}
	}
}

// scheduleSpeakingTimeout arranges for the session to fall back to Idle if
// the client never sends playback_done within SpeakingTimeout.
func (o *Orchestrator) scheduleSpeakingTimeout() {
	time.AfterFunc(session.SpeakingTimeout, func() {
		if o.sess.CheckSpeakingTimeout() {
			_ = o.sendState()
		}
	})
}

// recoverToListening reports a mid-turn failure as an error frame and
// returns the session to Listening, per the adapter-transient and
// engine-failure error taxonomy (spec §7, cases 2 and 5).
func (o *Orchestrator) recoverToListening(message string) {
	_ = o.sendError(message)
	_ = o.sess.EmptyReplyOrError()
	_ = o.sendState()
}

func (o *Orchestrator) sendState() error {
	return o.sink.SendJSON(stateFrame{Type: "state", State: o.sess.State().String()})
}

func (o *Orchestrator) sendError(message string) error {
	return o.sink.SendJSON(errorFrame{Type: "error", Message: message})
}

// --- outbound frame payloads (§6.4) ---

type stateFrame struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

type controlFrame struct {
	Type string `json:"type"`
}

type transcriptFrame struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

type responseChunkFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responseFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolCallFrame struct {
	Type string `json:"type"`
	Tool string `json:"tool"`
}

type toolResultFrame struct {
	Type   string `json:"type"`
	Tool   string `json:"tool"`
	Result string `json:"result"`
}

type flyoutFrame struct {
	Type       string         `json:"type"`
	FlyoutType string         `json:"flyout_type"`
	Content    map[string]any `json:"content"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type settingsUpdatedFrame struct {
	Type       string  `json:"type"`
	Voice      string  `json:"voice"`
	VoiceSpeed float64 `json:"voiceSpeed"`
}

type settingsWarningFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type musicStateFrame struct {
	Type   string         `json:"type"`
	OK     bool           `json:"ok"`
	Text   string         `json:"text"`
	Flyout map[string]any `json:"flyout,omitempty"`
}

// audioFrame is emitted by any Sink implementation wrapping a websocket
// connection: base64-encoded PCM, since the transport only carries text
// for JSON frames and binary for inbound microphone audio.
type audioFrame struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// EncodeAudioFrame renders a PCM chunk as the §6.4 `audio` frame payload.
// Sink implementations that multiplex JSON and audio over the same text
// channel can use this instead of a separate binary frame.
func EncodeAudioFrame(pcm []byte) ([]byte, error) {
	return json.Marshal(audioFrame{Type: "audio", Data: base64.StdEncoding.EncodeToString(pcm)})
}
