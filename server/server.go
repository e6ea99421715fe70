// Package server exposes the assistant over HTTP: document management
// endpoints plus a websocket chat that streams the model's answer as it
// is generated.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/inception881/knowledgeGPT/loader"
	"github.com/inception881/knowledgeGPT/session"
)

// maxUploadBytes bounds a single document upload.
const maxUploadBytes = 32 << 20

// Server wires the loader and session manager to HTTP handlers.
type Server struct {
	loader   *loader.Loader
	sessions *session.Manager
	logger   *log.Logger
	upgrader websocket.Upgrader
}

// New builds the server.
func New(ld *loader.Loader, sessions *session.Manager, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default().WithPrefix("server")
	}
	return &Server{
		loader:   ld,
		sessions: sessions,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /documents", s.handleUpload)
	mux.HandleFunc("GET /documents", s.handleList)
	mux.HandleFunc("DELETE /documents/{name}", s.handleDelete)
	mux.HandleFunc("POST /documents/clear", s.handleClear)
	mux.HandleFunc("GET /ws", s.handleChat)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	result, err := s.loader.Ingest(r.Context(), header.Filename, file)
	switch {
	case errors.Is(err, loader.ErrUnsupportedFileType):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, loader.ErrAlreadyProcessed):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.Error("upload failed", "file", header.Filename, "err", err)
		writeError(w, http.StatusInternalServerError, "ingestion failed")
	default:
		writeJSON(w, http.StatusCreated, map[string]any{
			"document": result.DocID,
			"chunks":   result.Chunks,
		})
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	docs := s.loader.List()
	if docs == nil {
		docs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	removed, err := s.loader.Delete(r.Context(), name)
	if err != nil {
		s.logger.Error("delete failed", "doc", name, "err", err)
		writeError(w, http.StatusInternalServerError, "deletion failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document":        name,
		"vectors_removed": removed,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.loader.Clear(r.Context()); err != nil {
		s.logger.Error("clear failed", "err", err)
		writeError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// chatRequest is one incoming websocket frame.
type chatRequest struct {
	Type    string `json:"type,omitempty"` // "" (message) or "clear"
	Content string `json:"content,omitempty"`
}

// chatEvent is one outgoing websocket frame: a stream delta, the final
// answer with its citations, or an error.
type chatEvent struct {
	Type       string   `json:"type"` // delta | complete | error
	Text       string   `json:"text,omitempty"`
	References []string `json:"references,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// A returning client passes its session id to resume; otherwise the
	// connection gets a fresh one.
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	sess := s.sessions.GetOrCreate(sessionID)
	s.logger.Info("chat connected", "session", sessionID)

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("chat read error", "session", sessionID, "err", err)
			}
			return
		}

		if req.Type == "clear" {
			if err := s.sessions.Clear(sessionID); err != nil {
				s.logger.Error("session clear failed", "session", sessionID, "err", err)
				conn.WriteJSON(chatEvent{Type: "error", Error: "failed to clear session"})
				continue
			}
			sess = s.sessions.GetOrCreate(sessionID)
			conn.WriteJSON(chatEvent{Type: "complete", Text: "Session cleared."})
			continue
		}
		if req.Content == "" {
			conn.WriteJSON(chatEvent{Type: "error", Error: "empty message"})
			continue
		}

		out, err := sess.Ask(r.Context(), req.Content, func(delta string) {
			conn.WriteJSON(chatEvent{Type: "delta", Text: delta})
		})
		if err != nil {
			s.logger.Error("turn failed", "session", sessionID, "err", err)
			conn.WriteJSON(chatEvent{Type: "error", Error: "the assistant could not answer"})
			continue
		}
		conn.WriteJSON(chatEvent{
			Type:       "complete",
			Text:       out.Text,
			References: out.References,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
