package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docchat/internal/apperr"
	"github.com/bull/docchat/internal/index"
	"github.com/bull/docchat/internal/queue"
	"github.com/bull/docchat/internal/storage"
)

type fakeDocs struct {
	byKey   map[string]*storage.Document
	putErr  error
	deleted []string
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{byKey: make(map[string]*storage.Document)}
}

func docKey(owner, documentID string) string { return owner + "#" + documentID }

func (f *fakeDocs) Put(_ context.Context, doc *storage.Document) error {
	if f.putErr != nil {
		return f.putErr
	}
	copied := *doc
	f.byKey[docKey(doc.OwnerID, doc.DocumentID)] = &copied
	return nil
}

func (f *fakeDocs) Get(_ context.Context, owner, documentID string) (*storage.Document, error) {
	doc, ok := f.byKey[docKey(owner, documentID)]
	if !ok {
		return nil, storage.ErrDocumentNotFound
	}
	copied := *doc
	return &copied, nil
}

func (f *fakeDocs) List(_ context.Context, owner string) ([]storage.Document, error) {
	var docs []storage.Document
	for _, doc := range f.byKey {
		if doc.OwnerID == owner {
			docs = append(docs, *doc)
		}
	}
	return docs, nil
}

func (f *fakeDocs) AppendConversation(_ context.Context, owner, documentID string, ref storage.ConversationRef) error {
	doc, ok := f.byKey[docKey(owner, documentID)]
	if !ok {
		return storage.ErrDocumentNotFound
	}
	doc.Conversations = append(doc.Conversations, ref)
	return nil
}

func (f *fakeDocs) Delete(_ context.Context, owner, documentID string) error {
	delete(f.byKey, docKey(owner, documentID))
	f.deleted = append(f.deleted, docKey(owner, documentID))
	return nil
}

type fakeMemoryStore struct {
	created []string
	deleted []string
}

func (f *fakeMemoryStore) Create(_ context.Context, conversationID string) error {
	f.created = append(f.created, conversationID)
	return nil
}

func (f *fakeMemoryStore) Get(_ context.Context, conversationID string) ([]storage.Message, error) {
	for _, id := range f.created {
		if id == conversationID {
			return []storage.Message{}, nil
		}
	}
	return nil, storage.ErrConversationNotFound
}

func (f *fakeMemoryStore) Delete(_ context.Context, conversationID string) error {
	f.deleted = append(f.deleted, conversationID)
	return nil
}

type fakeBlobStore struct {
	objects map[string][]byte
	deleted [][]string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (f *fakeBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such object %s", key)
	}
	return data, nil
}

func (f *fakeBlobStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeBlobStore) DeleteMany(_ context.Context, keys []string) error {
	f.deleted = append(f.deleted, keys)
	for _, key := range keys {
		delete(f.objects, key)
	}
	return nil
}

func (f *fakeBlobStore) PresignPut(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://bucket.example.com/" + key + "?signed", nil
}

type fakeJobQueue struct {
	enqueued   []queue.IngestJob
	enqueueErr error
}

func (f *fakeJobQueue) Enqueue(_ context.Context, job queue.IngestJob) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.enqueued = append(f.enqueued, job)
	return nil
}

type fakePageCounter struct {
	pages int
	err   error
}

func (f *fakePageCounter) PageCount(_ []byte) (int, error) {
	return f.pages, f.err
}

type serviceFixture struct {
	docs    *fakeDocs
	memory  *fakeMemoryStore
	blobs   *fakeBlobStore
	jobs    *fakeJobQueue
	counter *fakePageCounter
	svc     *Documents
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		docs:    newFakeDocs(),
		memory:  &fakeMemoryStore{},
		blobs:   newFakeBlobStore(),
		jobs:    &fakeJobQueue{},
		counter: &fakePageCounter{pages: 12},
	}
	f.svc = NewDocuments(f.docs, f.memory, f.blobs, f.jobs, f.counter, nil)
	return f
}

func TestPresignUploadRejectsNonPDF(t *testing.T) {
	f := newServiceFixture()

	_, err := f.svc.PresignUpload(context.Background(), "alice", "report.docx")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestPresignUploadSuffixesOnCollision(t *testing.T) {
	f := newServiceFixture()
	f.blobs.objects[uploadKey("alice", "report.pdf")] = []byte("existing")

	url, err := f.svc.PresignUpload(context.Background(), "alice", "report.pdf")
	require.NoError(t, err)

	assert.NotContains(t, url, "/report.pdf?", "colliding filename must be suffixed")
	assert.Contains(t, url, "alice/report-")
	assert.Contains(t, url, ".pdf?signed")
}

func TestHandleUploadCreatesDocumentAndEnqueues(t *testing.T) {
	f := newServiceFixture()
	key := uploadKey("alice", "report.pdf")
	f.blobs.objects[key] = []byte("%PDF-1.7 payload")

	doc, err := f.svc.HandleUpload(context.Background(), UploadEvent{Key: key, Size: 16})
	require.NoError(t, err)

	assert.Equal(t, "alice", doc.OwnerID)
	assert.Equal(t, "report.pdf", doc.Filename)
	assert.Equal(t, storage.StatusUploaded, doc.Status)
	assert.Equal(t, 12, doc.Pages)
	assert.Equal(t, int64(16), doc.FileSize)
	require.Len(t, doc.Conversations, 1, "upload must open a default conversation")

	stored, err := f.docs.Get(context.Background(), "alice", doc.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, doc.DocumentID, stored.DocumentID)

	require.Len(t, f.memory.created, 1)
	assert.Equal(t, doc.Conversations[0].ConversationID, f.memory.created[0])

	require.Len(t, f.jobs.enqueued, 1)
	job := f.jobs.enqueued[0]
	assert.Equal(t, doc.DocumentID, job.DocumentID)
	assert.Equal(t, "alice", job.OwnerID)
	assert.Equal(t, key, job.ObjectKey)
}

func TestHandleUploadDecodesEscapedKey(t *testing.T) {
	f := newServiceFixture()
	key := uploadKey("alice", "q3 report.pdf")
	f.blobs.objects[key] = []byte("pdf")

	doc, err := f.svc.HandleUpload(context.Background(), UploadEvent{
		Key:  "alice/q3+report.pdf/q3+report.pdf",
		Size: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "q3 report.pdf", doc.Filename)
}

func TestHandleUploadUnreadablePDFWritesNothing(t *testing.T) {
	f := newServiceFixture()
	key := uploadKey("alice", "corrupt.pdf")
	f.blobs.objects[key] = []byte("not a pdf")
	f.counter.err = errors.New("malformed xref table")

	_, err := f.svc.HandleUpload(context.Background(), UploadEvent{Key: key, Size: 9})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	assert.Empty(t, f.docs.byKey, "corrupt upload must not create a document record")
	assert.Empty(t, f.memory.created)
	assert.Empty(t, f.jobs.enqueued)
}

func TestHandleUploadEnqueueFailureKeepsDocument(t *testing.T) {
	f := newServiceFixture()
	key := uploadKey("alice", "report.pdf")
	f.blobs.objects[key] = []byte("pdf")
	f.jobs.enqueueErr = errors.New("queue unavailable")

	_, err := f.svc.HandleUpload(context.Background(), UploadEvent{Key: key, Size: 3})
	require.Error(t, err)
	assert.Equal(t, apperr.KindTransient, apperr.KindOf(err))

	// The record survives so a retried upload event can re-enqueue.
	assert.Len(t, f.docs.byKey, 1)
}

func TestAddConversationAppendsAndCreatesHistory(t *testing.T) {
	f := newServiceFixture()
	key := uploadKey("alice", "report.pdf")
	f.blobs.objects[key] = []byte("pdf")
	doc, err := f.svc.HandleUpload(context.Background(), UploadEvent{Key: key, Size: 3})
	require.NoError(t, err)

	conversationID, err := f.svc.AddConversation(context.Background(), "alice", doc.DocumentID)
	require.NoError(t, err)
	assert.NotEmpty(t, conversationID)

	stored, err := f.docs.Get(context.Background(), "alice", doc.DocumentID)
	require.NoError(t, err)
	require.Len(t, stored.Conversations, 2)
	assert.Equal(t, conversationID, stored.Conversations[1].ConversationID)
	assert.Contains(t, f.memory.created, conversationID)
}

func TestAddConversationUnknownDocument(t *testing.T) {
	f := newServiceFixture()

	_, err := f.svc.AddConversation(context.Background(), "alice", "missing")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestGetDocumentUnknownConversation(t *testing.T) {
	f := newServiceFixture()
	key := uploadKey("alice", "report.pdf")
	f.blobs.objects[key] = []byte("pdf")
	doc, err := f.svc.HandleUpload(context.Background(), UploadEvent{Key: key, Size: 3})
	require.NoError(t, err)

	_, _, err = f.svc.GetDocument(context.Background(), "alice", doc.DocumentID, "no-such-thread")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDeleteDocumentCascades(t *testing.T) {
	f := newServiceFixture()
	key := uploadKey("alice", "report.pdf")
	f.blobs.objects[key] = []byte("pdf")
	doc, err := f.svc.HandleUpload(context.Background(), UploadEvent{Key: key, Size: 3})
	require.NoError(t, err)

	second, err := f.svc.AddConversation(context.Background(), "alice", doc.DocumentID)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteDocument(context.Background(), "alice", doc.DocumentID))

	_, err = f.docs.Get(context.Background(), "alice", doc.DocumentID)
	assert.ErrorIs(t, err, storage.ErrDocumentNotFound)

	assert.ElementsMatch(t, []string{doc.Conversations[0].ConversationID, second}, f.memory.deleted)

	structureKey, metaKey := index.Keys("alice", doc.DocumentID)
	require.Len(t, f.blobs.deleted, 1)
	assert.ElementsMatch(t, []string{key, structureKey, metaKey}, f.blobs.deleted[0])
}

func TestDeleteDocumentUnknown(t *testing.T) {
	f := newServiceFixture()

	err := f.svc.DeleteDocument(context.Background(), "alice", "missing")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestUploadKeyShape(t *testing.T) {
	key := uploadKey("alice", "report.pdf")
	assert.Equal(t, "alice/report.pdf/report.pdf", key)
	assert.Equal(t, 3, len(strings.Split(key, "/")))
}
