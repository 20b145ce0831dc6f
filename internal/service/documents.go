// Package service implements the boundary operations the transport layer
// exposes: presigned uploads, the upload trigger, document CRUD with
// cascading delete, conversation creation, and answering turns.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/bull/docchat/internal/apperr"
	"github.com/bull/docchat/internal/index"
	"github.com/bull/docchat/internal/queue"
	"github.com/bull/docchat/internal/storage"
)

// DocumentStore is the document table surface the service uses.
type DocumentStore interface {
	Put(ctx context.Context, doc *storage.Document) error
	Get(ctx context.Context, owner, documentID string) (*storage.Document, error)
	List(ctx context.Context, owner string) ([]storage.Document, error)
	AppendConversation(ctx context.Context, owner, documentID string, ref storage.ConversationRef) error
	Delete(ctx context.Context, owner, documentID string) error
}

// MemoryStore is the conversation history surface the service uses.
type MemoryStore interface {
	Create(ctx context.Context, conversationID string) error
	Get(ctx context.Context, conversationID string) ([]storage.Message, error)
	Delete(ctx context.Context, conversationID string) error
}

// Blobs is the object store surface the service uses.
type Blobs interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	DeleteMany(ctx context.Context, keys []string) error
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
}

// Jobs is the enqueue side of the ingestion queue.
type Jobs interface {
	Enqueue(ctx context.Context, job queue.IngestJob) error
}

// Extractor counts pages in an uploaded PDF.
type Extractor interface {
	PageCount(data []byte) (int, error)
}

// Documents wires the boundary operations over their collaborators.
type Documents struct {
	docs      DocumentStore
	memory    MemoryStore
	blobs     Blobs
	jobs      Jobs
	extractor Extractor
	logger    *slog.Logger
}

// NewDocuments creates the document service.
func NewDocuments(docs DocumentStore, memory MemoryStore, blobs Blobs, jobs Jobs, extractor Extractor, logger *slog.Logger) *Documents {
	if logger == nil {
		logger = slog.Default()
	}
	return &Documents{
		docs:      docs,
		memory:    memory,
		blobs:     blobs,
		jobs:      jobs,
		extractor: extractor,
		logger:    logger,
	}
}

// PresignUpload issues a time-limited PUT URL for a new PDF. When the
// owner already has an object under that filename, a short random suffix
// keeps the new upload from overwriting it.
func (s *Documents) PresignUpload(ctx context.Context, owner, filename string) (string, error) {
	if owner == "" {
		return "", apperr.New(apperr.KindValidation, "service.PresignUpload", "owner is required")
	}
	if !strings.HasSuffix(filename, ".pdf") {
		return "", apperr.New(apperr.KindValidation, "service.PresignUpload", "file_name must end in .pdf")
	}
	base := strings.TrimSuffix(filename, ".pdf")

	exists, err := s.blobs.Exists(ctx, uploadKey(owner, filename))
	if err != nil {
		return "", apperr.Wrap(apperr.KindTransient, "service.PresignUpload", err)
	}
	if exists {
		suffix := strings.ToLower(shortuuid.New()[:4])
		filename = fmt.Sprintf("%s-%s.pdf", base, suffix)
	}

	presigned, err := s.blobs.PresignPut(ctx, uploadKey(owner, filename), "application/pdf", 5*time.Minute)
	if err != nil {
		return "", apperr.Wrap(apperr.KindTransient, "service.PresignUpload", err)
	}
	return presigned, nil
}

// UploadEvent describes a finished object upload.
type UploadEvent struct {
	Key  string
	Size int64
}

// HandleUpload is the upload trigger: it creates the document record in
// UPLOADED with a default conversation and enqueues the ingestion job.
// Page-count extraction runs before any record is written, so a corrupt
// upload leaves no partial document behind. Enqueue runs last; if it fails
// the document stays UPLOADED and the event's external retry covers it.
func (s *Documents) HandleUpload(ctx context.Context, event UploadEvent) (*storage.Document, error) {
	key, err := url.QueryUnescape(event.Key)
	if err != nil {
		key = event.Key
	}
	parts := strings.Split(key, "/")
	if len(parts) < 2 {
		return nil, apperr.New(apperr.KindValidation, "service.HandleUpload",
			fmt.Sprintf("object key %q is not owner-scoped", key))
	}
	owner, filename := parts[0], parts[1]

	data, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "service.HandleUpload", err)
	}
	pages, err := s.extractor.PageCount(data)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "service.HandleUpload",
			fmt.Errorf("unreadable pdf: %w", err))
	}

	now := time.Now().UTC().Format(storage.TimestampLayout)
	conversationID := shortuuid.New()
	doc := &storage.Document{
		OwnerID:    owner,
		DocumentID: shortuuid.New(),
		Filename:   filename,
		ObjectKey:  key,
		Created:    now,
		Pages:      pages,
		FileSize:   event.Size,
		Status:     storage.StatusUploaded,
		Conversations: []storage.ConversationRef{
			{ConversationID: conversationID, Created: now},
		},
	}

	if err := s.docs.Put(ctx, doc); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "service.HandleUpload", err)
	}
	if err := s.memory.Create(ctx, conversationID); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "service.HandleUpload", err)
	}

	job := queue.IngestJob{DocumentID: doc.DocumentID, OwnerID: owner, ObjectKey: key}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		// Document is written but never queued: stuck in UPLOADED until the
		// upload event is retried.
		return nil, apperr.Wrap(apperr.KindTransient, "service.HandleUpload", err)
	}

	s.logger.Info("Upload accepted", "owner", owner,
		"document", doc.DocumentID, "filename", filename, "pages", pages)
	return doc, nil
}

// AddConversation opens a new thread on an existing document. The ref is
// appended atomically, so two simultaneous requests both land.
func (s *Documents) AddConversation(ctx context.Context, owner, documentID string) (string, error) {
	ref := storage.ConversationRef{
		ConversationID: shortuuid.New(),
		Created:        time.Now().UTC().Format(storage.TimestampLayout),
	}
	if err := s.docs.AppendConversation(ctx, owner, documentID, ref); err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			return "", apperr.Wrap(apperr.KindNotFound, "service.AddConversation", err)
		}
		return "", apperr.Wrap(apperr.KindTransient, "service.AddConversation", err)
	}
	if err := s.memory.Create(ctx, ref.ConversationID); err != nil {
		return "", apperr.Wrap(apperr.KindTransient, "service.AddConversation", err)
	}
	return ref.ConversationID, nil
}

// GetDocument returns one document plus one of its conversation histories.
func (s *Documents) GetDocument(ctx context.Context, owner, documentID, conversationID string) (*storage.Document, []storage.Message, error) {
	doc, err := s.docs.Get(ctx, owner, documentID)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			return nil, nil, apperr.Wrap(apperr.KindNotFound, "service.GetDocument", err)
		}
		return nil, nil, apperr.Wrap(apperr.KindTransient, "service.GetDocument", err)
	}
	messages, err := s.memory.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			return nil, nil, apperr.Wrap(apperr.KindNotFound, "service.GetDocument", err)
		}
		return nil, nil, apperr.Wrap(apperr.KindTransient, "service.GetDocument", err)
	}
	return doc, messages, nil
}

// ListDocuments returns all of an owner's documents, newest first.
func (s *Documents) ListDocuments(ctx context.Context, owner string) ([]storage.Document, error) {
	docs, err := s.docs.List(ctx, owner)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "service.ListDocuments", err)
	}
	return docs, nil
}

// DeleteDocument removes a document and everything hanging off it: every
// conversation history, the document record, the uploaded PDF, and the
// index blobs.
func (s *Documents) DeleteDocument(ctx context.Context, owner, documentID string) error {
	doc, err := s.docs.Get(ctx, owner, documentID)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			return apperr.Wrap(apperr.KindNotFound, "service.DeleteDocument", err)
		}
		return apperr.Wrap(apperr.KindTransient, "service.DeleteDocument", err)
	}

	for _, ref := range doc.Conversations {
		if err := s.memory.Delete(ctx, ref.ConversationID); err != nil {
			return apperr.Wrap(apperr.KindTransient, "service.DeleteDocument", err)
		}
	}
	if err := s.docs.Delete(ctx, owner, documentID); err != nil {
		return apperr.Wrap(apperr.KindTransient, "service.DeleteDocument", err)
	}

	structureKey, metaKey := index.Keys(owner, documentID)
	keys := []string{doc.ObjectKey, structureKey, metaKey}
	if err := s.blobs.DeleteMany(ctx, keys); err != nil {
		return apperr.Wrap(apperr.KindTransient, "service.DeleteDocument", err)
	}

	s.logger.Info("Deleted document", "owner", owner, "document", documentID,
		"conversations", len(doc.Conversations))
	return nil
}

func uploadKey(owner, filename string) string {
	return fmt.Sprintf("%s/%s/%s", owner, filename, filename)
}
