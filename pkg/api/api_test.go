package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crawler/pkg/storage"
)

type stubStore struct {
	stats   *storage.Stats
	results []storage.SearchResult
	export  *storage.Export
	chats   []storage.ChatSummary
	contact *storage.Contact
	err     error
}

func (s *stubStore) Stats() (*storage.Stats, error) { return s.stats, s.err }
func (s *stubStore) Search(query, chatTitle string, limit int) ([]storage.SearchResult, error) {
	return s.results, s.err
}
func (s *stubStore) Export() (*storage.Export, error)       { return s.export, s.err }
func (s *stubStore) Chats() ([]storage.ChatSummary, error)  { return s.chats, s.err }
func (s *stubStore) Contact(int64) (*storage.Contact, error) {
	if s.contact == nil {
		return nil, storage.ErrNotFound
	}
	return s.contact, s.err
}

func newTestServer(store Store) *Server {
	gin.SetMode(gin.TestMode)
	return NewServer(nil, store, zap.NewNop())
}

func TestHandleStats(t *testing.T) {
	server := newTestServer(&stubStore{stats: &storage.Stats{
		TotalMessages: 10,
		TotalChats:    2,
		TotalUsers:    3,
		TopChats:      []storage.ChatActivity{{ChatTitle: "Busy", MessageCount: 8}},
	}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	server.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var stats storage.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(10), stats.TotalMessages)
	require.Len(t, stats.TopChats, 1)
	assert.Equal(t, "Busy", stats.TopChats[0].ChatTitle)
}

func TestHandleSearch(t *testing.T) {
	store := &stubStore{results: []storage.SearchResult{{
		Fingerprint: "fp-1",
		MessageID:   42,
		ChatID:      100,
		Text:        "hello world",
		SentAt:      time.Now(),
	}}}
	server := newTestServer(store)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/search?q=hello", nil)
	server.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fp-1")
}

func TestHandleSearchRequiresQuery(t *testing.T) {
	server := newTestServer(&stubStore{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSearchInvalidLimit(t *testing.T) {
	server := newTestServer(&stubStore{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/search?q=x&limit=-1", nil)
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleExport(t *testing.T) {
	server := newTestServer(&stubStore{export: &storage.Export{
		ExportDate:    time.Now(),
		TotalMessages: 1,
		Messages:      []storage.ExportedMessage{{Fingerprint: "fp-1", Text: "hi"}},
	}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/export", nil)
	server.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var export storage.Export
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &export))
	assert.Equal(t, 1, export.TotalMessages)
}

func TestHandleContactNotFound(t *testing.T) {
	server := newTestServer(&stubStore{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/users/7", nil)
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleStoreFailure(t *testing.T) {
	server := newTestServer(&stubStore{err: errors.New("db closed")})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
