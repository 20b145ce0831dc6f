// Package api exposes the service over HTTP. Every route is owner-scoped:
// the caller's identity arrives in the X-User-Id header (the gateway in
// front of this service authenticates it) and flows into every store call.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/bull/docchat/internal/apperr"
	"github.com/bull/docchat/internal/service"
	"github.com/bull/docchat/internal/storage"
)

// userHeader carries the authenticated caller's identity.
const userHeader = "X-User-Id"

// DocumentService is the document surface the HTTP layer needs.
type DocumentService interface {
	PresignUpload(ctx context.Context, owner, filename string) (string, error)
	HandleUpload(ctx context.Context, event service.UploadEvent) (*storage.Document, error)
	AddConversation(ctx context.Context, owner, documentID string) (string, error)
	GetDocument(ctx context.Context, owner, documentID, conversationID string) (*storage.Document, []storage.Message, error)
	ListDocuments(ctx context.Context, owner string) ([]storage.Document, error)
	DeleteDocument(ctx context.Context, owner, documentID string) error
}

// TurnService answers conversation turns.
type TurnService interface {
	Respond(ctx context.Context, owner, documentID, conversationID, prompt string, withAudio bool) (*service.TurnResult, error)
}

// Server routes HTTP requests to the services.
type Server struct {
	documents DocumentService
	turns     TurnService
	logger    *slog.Logger
}

// NewServer creates the HTTP server over the given services.
func NewServer(documents DocumentService, turns TurnService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{documents: documents, turns: turns, logger: logger}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /documents", s.handleListDocuments)
	mux.HandleFunc("GET /documents/{documentid}/{conversationid}", s.handleGetDocument)
	mux.HandleFunc("POST /documents/{documentid}", s.handleAddConversation)
	mux.HandleFunc("POST /documents/{documentid}/{conversationid}", s.handleRespond)
	mux.HandleFunc("DELETE /documents/{documentid}", s.handleDeleteDocument)
	mux.HandleFunc("GET /generate_presigned_url", s.handlePresignUpload)
	mux.HandleFunc("POST /events/upload", s.handleUploadEvent)

	return s.withRequestID(mux)
}

// withRequestID tags every request with an id for log correlation and echoes
// it back to the caller.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		s.logger.Debug("Request received", "request_id", requestID,
			"method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) owner(r *http.Request) (string, error) {
	owner := r.Header.Get(userHeader)
	if owner == "" {
		return "", apperr.New(apperr.KindValidation, "api", userHeader+" header is required")
	}
	return owner, nil
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	owner, err := s.owner(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	docs, err := s.documents.ListDocuments(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []storage.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// getDocumentResponse pairs the document record with one conversation's
// history.
type getDocumentResponse struct {
	Document *storage.Document `json:"document"`
	Messages []storage.Message `json:"messages"`
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	owner, err := s.owner(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc, messages, err := s.documents.GetDocument(r.Context(), owner,
		r.PathValue("documentid"), r.PathValue("conversationid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if messages == nil {
		messages = []storage.Message{}
	}
	writeJSON(w, http.StatusOK, getDocumentResponse{Document: doc, Messages: messages})
}

func (s *Server) handleAddConversation(w http.ResponseWriter, r *http.Request) {
	owner, err := s.owner(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conversationID, err := s.documents.AddConversation(r.Context(), owner, r.PathValue("documentid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"conversationid": conversationID})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	owner, err := s.owner(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.documents.DeleteDocument(r.Context(), owner, r.PathValue("documentid")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePresignUpload(w http.ResponseWriter, r *http.Request) {
	owner, err := s.owner(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filename := r.URL.Query().Get("file_name")
	presigned, err := s.documents.PresignUpload(r.Context(), owner, filename)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"presignedurl": presigned})
}

// uploadEventRequest mirrors the object-created notification the bucket
// forwards to this endpoint.
type uploadEventRequest struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

func (s *Server) handleUploadEvent(w http.ResponseWriter, r *http.Request) {
	var req uploadEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.KindValidation, "api.UploadEvent", err))
		return
	}
	if req.Key == "" {
		s.writeError(w, r, apperr.New(apperr.KindValidation, "api.UploadEvent", "key is required"))
		return
	}
	doc, err := s.documents.HandleUpload(r.Context(), service.UploadEvent{Key: req.Key, Size: req.Size})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// respondRequest is one conversation turn.
type respondRequest struct {
	Prompt string `json:"prompt"`
	Audio  bool   `json:"audio"`
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	owner, err := s.owner(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.KindValidation, "api.Respond", err))
		return
	}
	result, err := s.turns.Respond(r.Context(), owner,
		r.PathValue("documentid"), r.PathValue("conversationid"), req.Prompt, req.Audio)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
