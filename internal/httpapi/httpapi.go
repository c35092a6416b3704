// Package httpapi implements the §6.5 HTTP surface: health summary, TTS
// voice and LLM model discovery, optional multi-user login/logout, and
// admin introspection (sessions, events, recent logs). It is mounted
// alongside the WebSocket endpoint and internal/health's /healthz and
// /readyz on the process-wide mux.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/wspotter/felix/internal/auth"
	"github.com/wspotter/felix/internal/config"
	"github.com/wspotter/felix/internal/connmanager"
	"github.com/wspotter/felix/internal/tools"
	"github.com/wspotter/felix/pkg/provider/tts"
)

// BackendDefaultURLs mirrors the source server's default base URL per LLM
// discovery backend.
var BackendDefaultURLs = map[string]string{
	"ollama":     "http://localhost:11434",
	"lmstudio":   "http://localhost:1234",
	"openai":     "https://api.openai.com",
	"openrouter": "https://openrouter.ai",
}

// Deps wires the HTTP surface to the process-wide components it reports on
// or delegates to.
type Deps struct {
	Manager *connmanager.Manager
	Tools   *tools.Registry
	TTS     tts.Provider // may be nil if no TTS provider is configured

	// STTLabel, TTSLabel, LLMLabel are the human-readable backend summaries
	// GET /health reports, e.g. "faster-whisper (CUDA)" or "ollama (llama3)".
	STTLabel string
	TTSLabel string
	LLMLabel string

	Auth       *auth.Store // nil when Auth.Enabled is false
	AuthConfig config.AuthConfig

	Logs *LogBuffer
}

// Server serves the HTTP surface's handlers.
type Server struct {
	deps Deps
}

// New constructs a Server. Call Register to mount its handlers on a mux.
func New(deps Deps) *Server {
	return &Server{deps: deps}
}

// Register mounts every handler on mux using Go 1.22+ pattern routing.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/voices", s.handleVoices)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/admin/health", s.requireAdmin(s.handleAdminHealth))
	mux.HandleFunc("GET /api/admin/sessions", s.requireAdmin(s.handleAdminSessions))
	mux.HandleFunc("GET /api/admin/events", s.requireAdmin(s.handleAdminEvents))
	mux.HandleFunc("GET /api/admin/logs", s.requireAdmin(s.handleAdminLogs))
}

type healthResponse struct {
	Status          string `json:"status"`
	STT             string `json:"stt"`
	TTS             string `json:"tts"`
	LLM             string `json:"llm"`
	ToolsRegistered int    `json:"tools_registered"`
	ComfyUI         string `json:"comfyui"`
}

func (s *Server) health() healthResponse {
	return healthResponse{
		Status:          "ok",
		STT:             orUnconfigured(s.deps.STTLabel),
		TTS:             orUnconfigured(s.deps.TTSLabel),
		LLM:             orUnconfigured(s.deps.LLMLabel),
		ToolsRegistered: len(s.deps.Tools.Names()),
		// ComfyUI image-generation integration is out of scope; the field
		// is reported for client compatibility with the source protocol.
		ComfyUI: "not_configured",
	}
}

func orUnconfigured(label string) string {
	if label == "" {
		return "not configured"
	}
	return label
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health())
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.deps.TTS == nil {
		writeJSON(w, http.StatusOK, map[string]any{"voices": []any{}})
		return
	}
	voices, err := s.deps.TTS.ListVoices(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	backend := r.URL.Query().Get("backend")
	if backend == "" {
		backend = "ollama"
	}
	defaultURL, known := BackendDefaultURLs[backend]
	if !known {
		writeJSON(w, http.StatusOK, map[string]any{"models": []any{}, "error": "invalid backend: " + backend})
		return
	}
	backendURL := r.URL.Query().Get("url")
	if backendURL == "" {
		backendURL = defaultURL
	}
	apiKey := r.URL.Query().Get("api_key")

	models, err := listModelsForBackend(r.Context(), backend, backendURL, apiKey)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"models": []any{},
			"error":  "backend unavailable: " + backend + ". " + err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models, "backend": backend})
}

// listModelsForBackend queries backendURL's own model-listing API: Ollama's
// /api/tags for the "ollama" backend, and the OpenAI-compatible /v1/models
// endpoint (Authorization: Bearer apiKey, when set) for every other known
// backend.
func listModelsForBackend(ctx context.Context, backend, backendURL, apiKey string) ([]string, error) {
	var path string
	switch backend {
	case "ollama":
		path = "/api/tags"
	default:
		path = "/v1/models"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(backendURL, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{code: resp.StatusCode}
	}

	if backend == "ollama" {
		var decoded struct {
			Models []struct {
				Name string `json:"name"`
			} `json:"models"`
		}
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, err
		}
		names := make([]string, len(decoded.Models))
		for i, m := range decoded.Models {
			names[i] = m.Name
		}
		return names, nil
	}

	var decoded struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, err
	}
	names := make([]string, len(decoded.Data))
	for i, m := range decoded.Data {
		names[i] = m.ID
	}
	return names, nil
}

type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string {
	return http.StatusText(e.code)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.deps.AuthConfig.Enabled {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multi-user auth disabled"})
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username and password required"})
		return
	}
	token, err := s.deps.Auth.Login(req.Username, req.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "message": "login successful"})
}

type logoutRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !s.deps.AuthConfig.Enabled {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multi-user auth disabled"})
		return
	}
	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token required"})
		return
	}
	_ = s.deps.Auth.Logout(req.Token)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// requireAdmin gates a handler behind either the shared X-Admin-Token
// header (always accepted when configured, regardless of Auth.Enabled) or
// a bearer session token for an admin account (only when Auth.Enabled).
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.AuthConfig.AdminToken != "" && r.Header.Get("X-Admin-Token") == s.deps.AuthConfig.AdminToken {
			next(w, r)
			return
		}

		if s.deps.AuthConfig.Enabled && s.deps.Auth != nil {
			if bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "); bearer != "" {
				if _, isAdmin, err := s.deps.Auth.Validate(bearer); err == nil && isAdmin {
					next(w, r)
					return
				}
			}
		}

		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "admin access requires a valid token"})
	}
}

func (s *Server) handleAdminHealth(w http.ResponseWriter, r *http.Request) {
	h := s.health()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             h.Status,
		"stt":                h.STT,
		"tts":                h.TTS,
		"llm":                h.LLM,
		"tools_registered":   h.ToolsRegistered,
		"comfyui":            h.ComfyUI,
		"active_connections": s.deps.Manager.Count(),
		"active_sessions":    s.deps.Manager.Count(),
		"events":             len(s.deps.Manager.Events()),
		"logs":               s.deps.Logs.Len(),
	})
}

func (s *Server) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.deps.Manager.Sessions()})
}

func (s *Server) handleAdminEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"events": s.deps.Manager.Events()})
}

func (s *Server) handleAdminLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"logs": s.deps.Logs.Entries()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
