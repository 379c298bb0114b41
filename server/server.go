// Package server exposes the memory service over HTTP and WebSocket.
// It is a thin transport: request decoding, response encoding, and
// nothing else; all behavior lives in the service package.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/becomeliminal/recall/core"
	"github.com/becomeliminal/recall/service"
)

// Config holds server configuration.
type Config struct {
	// Addr is the listen address. Default: ":8000".
	Addr string

	// RequestTimeout bounds each request's downstream work.
	// Default: 60s.
	RequestTimeout time.Duration
}

// Server serves the memory lifecycle API.
type Server struct {
	svc      *service.Service
	config   *Config
	upgrader websocket.Upgrader
	http     *http.Server
}

// New creates a server around svc.
func New(svc *service.Service, config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	if config.Addr == "" {
		config.Addr = ":8000"
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 60 * time.Second
	}

	s := &Server{
		svc:    svc,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/reflect", s.handleReflect)
	mux.HandleFunc("/memory/episode/store", s.handleStoreEpisode)
	mux.HandleFunc("/memory/episode/search", s.handleSearchEpisodes)
	mux.HandleFunc("/memory/semantic/extract", s.handleExtractSemantic)
	mux.HandleFunc("/memory/semantic/search", s.handleSearchSemantic)
	mux.HandleFunc("/memory/working", s.handleWorkingMemory)
	mux.HandleFunc("/memory/stats", s.handleStats)
	mux.HandleFunc("/memory/journals", s.handleJournals)

	s.http = &http.Server{
		Addr:    config.Addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe initializes the service and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RequestTimeout)
	defer cancel()
	if err := s.svc.Init(ctx); err != nil {
		return err
	}
	s.svc.Start()

	log.Printf("[SERVER] Listening on %s", s.config.Addr)
	return s.http.ListenAndServe()
}

// Shutdown flushes pending sessions and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.svc.Stop()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	Message string         `json:"message"`
	History []core.Message `json:"history"`
	UserID  string         `json:"user_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		req.UserID = "default_user"
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	result, err := s.svc.Chat(ctx, req.UserID, req.Message, req.History)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleWebSocket runs a chat loop over one WebSocket connection. Each
// inbound frame is a chatRequest; each outbound frame is either the
// chat result or {"error": ...}.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[SERVER] WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "default_user"
	}

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[SERVER] WebSocket read error: %v", err)
			}
			return
		}
		if req.UserID == "" {
			req.UserID = userID
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
		result, err := s.svc.Chat(ctx, req.UserID, req.Message, req.History)
		cancel()

		if err != nil {
			if werr := conn.WriteJSON(map[string]string{"error": err.Error()}); werr != nil {
				return
			}
			continue
		}
		if err := conn.WriteJSON(result); err != nil {
			return
		}
	}
}

type reflectRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleReflect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req reflectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	result, err := s.svc.Reflect(ctx, req.Query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type storeEpisodeRequest struct {
	UserMessage       string         `json:"user_message"`
	AssistantResponse string         `json:"assistant_response"`
	History           []core.Message `json:"conversation_history"`
}

func (s *Server) handleStoreEpisode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req storeEpisodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	result, err := s.svc.StoreEpisode(ctx, req.UserMessage, req.AssistantResponse, req.History)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type searchEpisodesRequest struct {
	Query         string  `json:"query"`
	Limit         int     `json:"limit"`
	MinImportance float64 `json:"min_importance"`
}

func (s *Server) handleSearchEpisodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req searchEpisodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	episodes, err := s.svc.SearchEpisodes(ctx, req.Query, req.Limit, req.MinImportance)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"episodes": episodes,
		"count":    len(episodes),
	})
}

type extractSemanticRequest struct {
	MinEpisodes  int `json:"min_episodes"`
	LookbackDays int `json:"lookback_days"`
}

func (s *Server) handleExtractSemantic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req extractSemanticRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	writeJSON(w, http.StatusOK, s.svc.ExtractSemantic(ctx, req.MinEpisodes, req.LookbackDays))
}

type searchSemanticRequest struct {
	Query         string  `json:"query"`
	Limit         int     `json:"limit"`
	MinConfidence float64 `json:"min_confidence"`
}

func (s *Server) handleSearchSemantic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req searchSemanticRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	memories, err := s.svc.SearchSemantic(ctx, req.Query, req.Limit, req.MinConfidence)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"memories": memories,
		"count":    len(memories),
	})
}

type workingMemoryRequest struct {
	Query         string `json:"query"`
	EpisodicLimit int    `json:"episodic_limit"`
	SemanticLimit int    `json:"semantic_limit"`
}

func (s *Server) handleWorkingMemory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req workingMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	result, err := s.svc.AssembleWorkingMemory(ctx, req.Query, req.EpisodicLimit, req.SemanticLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	stats, err := s.svc.Stats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleJournals(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	journals, err := s.svc.Journals(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, journals)
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.config.RequestTimeout)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[SERVER] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
