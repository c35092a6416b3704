package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wspotter/felix/internal/auth"
	"github.com/wspotter/felix/internal/config"
	"github.com/wspotter/felix/internal/connmanager"
	"github.com/wspotter/felix/internal/httpapi"
	"github.com/wspotter/felix/internal/pipeline"
	"github.com/wspotter/felix/internal/tools"
	llmmock "github.com/wspotter/felix/pkg/provider/llm/mock"
	sttmock "github.com/wspotter/felix/pkg/provider/stt/mock"
	ttsmock "github.com/wspotter/felix/pkg/provider/tts/mock"
	vadmock "github.com/wspotter/felix/pkg/provider/vad/mock"
	"github.com/wspotter/felix/pkg/types"
)

func testManager(t *testing.T) *connmanager.Manager {
	t.Helper()
	registry := tools.NewRegistry()
	return connmanager.New(connmanager.Deps{
		Pipeline: pipeline.Config{
			STT:      &sttmock.Provider{},
			LLM:      &llmmock.Provider{},
			TTS:      &ttsmock.Provider{},
			Tools:    registry,
			Executor: tools.NewExecutor(registry),
		},
		VAD:          &vadmock.Engine{},
		VADConfig:    config.VADConfig{Threshold: 0.5, MinSpeechMs: 150, MinSilenceMs: 300},
		Audio:        config.AudioConfig{SampleRate: 16000, Channels: 1},
		Conversation: config.ConversationConfig{SystemPrompt: "be brief"},
	})
}

func newTestServer(t *testing.T, authCfg config.AuthConfig, authStore *auth.Store) *httptest.Server {
	t.Helper()
	registry := tools.NewRegistry()
	srv := httpapi.New(httpapi.Deps{
		Manager:    testManager(t),
		Tools:      registry,
		TTS:        &ttsmock.Provider{ListVoicesResult: []types.VoiceProfile{{ID: "v1", Name: "Test Voice"}}},
		STTLabel:   "faster-whisper",
		TTSLabel:   "elevenlabs",
		LLMLabel:   "ollama (llama3)",
		Auth:       authStore,
		AuthConfig: authCfg,
		Logs:       httpapi.NewLogBuffer(200),
	})
	mux := http.NewServeMux()
	srv.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestHandleHealth_ReportsConfiguredBackends(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{}, nil)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["llm"] != "ollama (llama3)" || body["comfyui"] != "not_configured" {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestHandleVoices_PassesThroughTTSListVoices(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{}, nil)

	resp, err := http.Get(ts.URL + "/api/voices")
	if err != nil {
		t.Fatalf("GET /api/voices: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Voices []types.VoiceProfile `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Voices) != 1 || body.Voices[0].ID != "v1" {
		t.Fatalf("unexpected voices: %+v", body.Voices)
	}
}

func TestAdminEndpoints_RejectWithoutToken(t *testing.T) {
	authCfg := config.AuthConfig{AdminToken: "secret"}
	ts := newTestServer(t, authCfg, nil)

	resp, err := http.Get(ts.URL + "/api/admin/sessions")
	if err != nil {
		t.Fatalf("GET /api/admin/sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAdminEndpoints_AcceptSharedAdminTokenHeader(t *testing.T) {
	authCfg := config.AuthConfig{AdminToken: "secret"}
	ts := newTestServer(t, authCfg, nil)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/admin/sessions", nil)
	req.Header.Set("X-Admin-Token", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/admin/sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAdminEndpoints_AcceptBearerAdminSessionToken(t *testing.T) {
	store, err := auth.NewStore(t.TempDir(), "signing-key", time.Hour)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.CreateUser("admin", "password1", true); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	token, err := store.Login("admin", "password1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	authCfg := config.AuthConfig{Enabled: true}
	ts := newTestServer(t, authCfg, store)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/admin/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/admin/sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandleLogin_RejectsWhenAuthDisabled(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{Enabled: false}, nil)

	resp, err := http.Post(ts.URL+"/api/auth/login", "application/json", strings.NewReader(`{"username":"a","password":"b"}`))
	if err != nil {
		t.Fatalf("POST /api/auth/login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
