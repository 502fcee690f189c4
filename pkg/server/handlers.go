package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/petrel-ai/petrel/pkg/rag"
)

// maxUploadBytes caps a single document upload.
const maxUploadBytes = 50 << 20

// chatRequest is the JSON body of the chat endpoints. ChatID selects
// the document collection; the path value wins on scoped routes.
type chatRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
	ChatID    string `json:"chat_id"`
}

// collectionFor maps a chat to its vector-store collection.
func collectionFor(chatID string) string {
	if chatID == "" {
		chatID = "default"
	}
	return "chat_" + chatID
}

func (s *Server) parseChatRequest(r *http.Request) (rag.Request, error) {
	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return rag.Request{}, errors.New("invalid JSON body")
	}
	if body.Question == "" {
		return rag.Request{}, errors.New("question is required")
	}
	if chatID := r.PathValue("chatID"); chatID != "" {
		body.ChatID = chatID
	}
	return rag.Request{
		Question:   body.Question,
		SessionID:  body.SessionID,
		Collection: collectionFor(body.ChatID),
	}, nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseChatRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := s.engine.Ask(r.Context(), req)
	if err != nil {
		slog.Error("chat query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseChatRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	for ev := range s.engine.Stream(r.Context(), req) {
		if err := sse.send(ev); err != nil {
			slog.Warn("sse write failed, client gone", "error", err)
			return
		}
	}
}

// historyMessage is the wire shape of one conversation turn. Sources
// replays the grounding sources saved with an assistant turn.
type historyMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Sources   any       `json:"sources,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	messages, err := s.memory.History(r.Context(), sessionID, 0)
	if err != nil {
		slog.Error("failed to read history", "session", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	out := make([]historyMessage, len(messages))
	for i, m := range messages {
		out[i] = historyMessage{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Sources:   m.Metadata["sources"],
			CreatedAt: m.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   out,
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	if err := s.memory.Clear(r.Context(), sessionID); err != nil {
		slog.Error("failed to clear history", "session", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear history")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteChat drops everything belonging to a chat: its document
// collection, its lexical index, and its conversation history.
func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatID")
	collection := collectionFor(chatID)

	if err := s.docs.DeleteCollection(r.Context(), collection); err != nil {
		slog.Error("failed to delete chat collection", "collection", collection, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete chat")
		return
	}
	if err := s.memory.Clear(r.Context(), chatID); err != nil {
		slog.Error("failed to clear chat history", "chat", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete chat")
		return
	}

	slog.Info("deleted chat", "chat", chatID, "collection", collection)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	collection := collectionFor(r.PathValue("chatID"))

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	// The loader dispatches on the file extension, so the upload keeps
	// its original name inside a scratch directory.
	dir, err := os.MkdirTemp("", "petrel-upload-")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, filepath.Base(header.Filename))
	dst, err := os.Create(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	dst.Close()

	docID, chunks, err := s.docs.Ingest(r.Context(), collection, path)
	if err != nil {
		slog.Error("ingestion failed", "collection", collection, "file", header.Filename, "error", err)
		writeError(w, http.StatusUnprocessableEntity, "could not ingest document")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"doc_id": docID,
		"source": filepath.Base(header.Filename),
		"chunks": chunks,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	collection := collectionFor(r.PathValue("chatID"))

	docs, err := s.docs.ListDocuments(r.Context(), collection)
	if err != nil {
		slog.Error("failed to list documents", "collection", collection, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	collection := collectionFor(r.PathValue("chatID"))
	docID := r.PathValue("docID")

	if err := s.docs.DeleteDocument(r.Context(), collection, docID); err != nil {
		slog.Error("failed to delete document", "collection", collection, "doc_id", docID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
