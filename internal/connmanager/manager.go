// Package connmanager implements the Connection Manager (spec component
// C10): it owns the id -> (Session, VAD Gate, Orchestrator) triple for
// every live client connection, persists a process-wide sessions snapshot
// to disk on a fixed interval and at shutdown, restores a client's message
// log from that snapshot when it reconnects with a stable id (the system
// prompt always comes from the current configuration; the snapshot's
// system_prompt is written but not read back), and records a bounded in-memory event log for the admin
// introspection surface.
package connmanager

import (
	"container/ring"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wspotter/felix/internal/config"
	"github.com/wspotter/felix/internal/conversation"
	"github.com/wspotter/felix/internal/observe"
	"github.com/wspotter/felix/internal/pipeline"
	"github.com/wspotter/felix/internal/session"
	"github.com/wspotter/felix/internal/vadgate"
	"github.com/wspotter/felix/pkg/provider/vad"
	"github.com/wspotter/felix/pkg/types"
)

// eventRingCapacity bounds the in-memory event log, matching the original
// implementation's deque(maxlen=200).
const eventRingCapacity = 200

// snapshotFileName is the process-wide sessions snapshot (§6.6), written
// atomically under Deps.DataDir.
const snapshotFileName = "sessions.json"

// ErrAlreadyConnected is returned by Connect when clientID already has a
// live connection.
var ErrAlreadyConnected = errors.New("connmanager: client already connected")

// ErrNotFound is returned by Disconnect and Session lookups for an unknown
// client id.
var ErrNotFound = errors.New("connmanager: client not found")

// Event is one occurrence recorded for the admin events endpoint.
type Event struct {
	Time     time.Time `json:"time"`
	Type     string    `json:"type"`
	ClientID string    `json:"client_id"`
}

// snapshotEntry is one client's persisted state, keyed by client_id in the
// snapshot file: {state, last_activity, system_prompt, messages[]}. The
// session's speaking-start time is not persisted.
type snapshotEntry struct {
	State        string          `json:"state"`
	LastActivity time.Time       `json:"last_activity"`
	SystemPrompt string          `json:"system_prompt"`
	Messages     []types.Message `json:"messages"`
}

// Deps wires the Manager to the process-wide adapters and per-connection
// configuration it needs to construct a Session/Gate/Orchestrator triple.
type Deps struct {
	Pipeline     pipeline.Config
	VAD          vad.Engine
	VADConfig    config.VADConfig
	Audio        config.AudioConfig
	Conversation config.ConversationConfig

	// DataDir is where the sessions snapshot is read and written. Empty
	// disables persistence entirely.
	DataDir string

	// SnapshotInterval is how often Start's background loop writes the
	// snapshot. Zero disables periodic snapshotting; Close still writes
	// one final snapshot.
	SnapshotInterval time.Duration

	Metrics *observe.Metrics
}

// conn holds one client's live pipeline components.
type conn struct {
	sess *session.Session
	gate *vadgate.Gate
	orch *pipeline.Orchestrator
}

// Manager is the process-wide Connection Manager. Safe for concurrent use.
type Manager struct {
	deps Deps

	mu    sync.RWMutex
	conns map[string]*conn

	eventsMu sync.Mutex
	events   *ring.Ring

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Manager. It does not read the snapshot; Connect reads
// the snapshot file under Deps.DataDir each time it is called.
func New(deps Deps) *Manager {
	m := &Manager{
		deps:   deps,
		conns:  make(map[string]*conn),
		events: ring.New(eventRingCapacity),
		stopCh: make(chan struct{}),
	}
	return m
}

// Start launches the periodic snapshot loop. No-op if Deps.SnapshotInterval
// is zero. Returns immediately; the loop runs until ctx is cancelled or
// Close is called.
func (m *Manager) Start(ctx context.Context) {
	if m.deps.SnapshotInterval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t := time.NewTicker(m.deps.SnapshotInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-t.C:
				if err := m.snapshot(); err != nil {
					slog.Warn("connmanager: periodic snapshot failed", "err", err)
				}
			}
		}
	}()
}

// Connect creates a Session, VAD Gate, and Orchestrator for clientID and
// wires them to sink. If a persisted snapshot exists for clientID, its
// message log is restored into the new Conversation before the
// orchestrator is constructed; the system prompt is taken from
// Deps.Conversation, not from the snapshot. Records a client_connected
// event. Returns ErrAlreadyConnected if clientID already has a live
// connection.
func (m *Manager) Connect(clientID string, sink pipeline.Sink) (*pipeline.Orchestrator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conns[clientID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConnected, clientID)
	}

	gate, err := vadgate.New(m.deps.VAD, vadgate.Config{
		SampleRate:   m.deps.Audio.SampleRate,
		Threshold:    m.deps.VADConfig.Threshold,
		MinSpeechMs:  m.deps.VADConfig.MinSpeechMs,
		MinSilenceMs: m.deps.VADConfig.MinSilenceMs,
	})
	if err != nil {
		return nil, fmt.Errorf("connmanager: create vad gate for %q: %w", clientID, err)
	}

	conv := conversation.New(conversation.Config{
		SystemPrompt:      m.deps.Conversation.SystemPrompt,
		MaxMessages:       m.deps.Conversation.MaxMessages,
		MaxTokensEstimate: m.deps.Conversation.MaxTokensEstimate,
	})
	if entry, ok := m.loadSnapshotEntry(clientID); ok {
		conv.Restore(entry.Messages)
		slog.Info("connmanager: restored session from snapshot",
			"client_id", clientID, "messages", len(entry.Messages))
	}

	sess := session.New(clientID, conv, m.deps.Audio.SampleRate, m.deps.Audio.Channels, 16)
	orch := pipeline.New(m.deps.Pipeline, sess, gate, sink)

	m.conns[clientID] = &conn{sess: sess, gate: gate, orch: orch}

	if m.deps.Metrics != nil {
		ctx := context.Background()
		m.deps.Metrics.ActiveSessions.Add(ctx, 1)
		m.deps.Metrics.ActiveParticipants.Add(ctx, 1)
	}
	m.recordEvent("client_connected", clientID)

	return orch, nil
}

// Disconnect drops clientID's Session, Gate, and Orchestrator and records
// a client_disconnected event. Safe to call even if clientID is not
// connected (a no-op in that case).
func (m *Manager) Disconnect(clientID string) {
	m.mu.Lock()
	_, existed := m.conns[clientID]
	delete(m.conns, clientID)
	m.mu.Unlock()

	if !existed {
		return
	}
	if m.deps.Metrics != nil {
		ctx := context.Background()
		m.deps.Metrics.ActiveSessions.Add(ctx, -1)
		m.deps.Metrics.ActiveParticipants.Add(ctx, -1)
	}
	m.recordEvent("client_disconnected", clientID)
}

// Count returns the number of currently connected clients.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// SessionSummary is a read-only view of one connected client, returned by
// Sessions for the admin introspection endpoint.
type SessionSummary struct {
	ClientID     string    `json:"client_id"`
	State        string    `json:"state"`
	LastActivity time.Time `json:"last_activity"`
}

// Sessions returns a summary of every currently connected client.
func (m *Manager) Sessions() []SessionSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SessionSummary, 0, len(m.conns))
	for id, c := range m.conns {
		out = append(out, SessionSummary{
			ClientID:     id,
			State:        c.sess.State().String(),
			LastActivity: c.sess.LastActivityAt(),
		})
	}
	return out
}

// Events returns the most recently recorded events, oldest first.
func (m *Manager) Events() []Event {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()

	var out []Event
	m.events.Do(func(v any) {
		if v == nil {
			return
		}
		out = append(out, v.(Event))
	})
	return out
}

// recordEvent appends an event to the bounded ring buffer.
func (m *Manager) recordEvent(eventType, clientID string) {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	m.events.Value = Event{Time: time.Now(), Type: eventType, ClientID: clientID}
	m.events = m.events.Next()
}

// Close writes a final snapshot (if persistence is enabled), stops the
// periodic snapshot loop, and waits for it to exit.
func (m *Manager) Close() error {
	var err error
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
		err = m.snapshot()
	})
	return err
}

// snapshot writes the current state of every connected client to disk via
// atomic write-rename, per §6.6. No-op if DataDir is empty.
func (m *Manager) snapshot() error {
	if m.deps.DataDir == "" {
		return nil
	}

	m.mu.RLock()
	out := make(map[string]snapshotEntry, len(m.conns))
	for id, c := range m.conns {
		out[id] = snapshotEntry{
			State:        c.sess.State().String(),
			LastActivity: c.sess.LastActivityAt(),
			SystemPrompt: c.sess.Conversation.SystemPrompt(),
			Messages:     c.sess.Conversation.Messages(),
		}
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("connmanager: marshal snapshot: %w", err)
	}
	return atomicWriteFile(filepath.Join(m.deps.DataDir, snapshotFileName), data)
}

// loadSnapshotEntry reads the on-disk snapshot and returns clientID's
// entry, if present. Read fresh on every call (rather than cached once at
// New) so a Connect shortly after startup still sees the file written by
// Close of a previous process.
func (m *Manager) loadSnapshotEntry(clientID string) (snapshotEntry, bool) {
	if m.deps.DataDir == "" {
		return snapshotEntry{}, false
	}

	data, err := os.ReadFile(filepath.Join(m.deps.DataDir, snapshotFileName))
	if err != nil {
		return snapshotEntry{}, false
	}

	var all map[string]snapshotEntry
	if err := json.Unmarshal(data, &all); err != nil {
		slog.Warn("connmanager: malformed sessions snapshot, ignoring", "err", err)
		return snapshotEntry{}, false
	}
	entry, ok := all[clientID]
	return entry, ok
}

// atomicWriteFile writes data to path by writing a temp file in the same
// directory and renaming it into place, so a crash mid-write never leaves
// a truncated snapshot on disk.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("connmanager: create data dir %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".sessions-*.tmp")
	if err != nil {
		return fmt.Errorf("connmanager: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("connmanager: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("connmanager: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("connmanager: rename into place: %w", err)
	}
	return nil
}
