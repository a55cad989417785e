package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailmirror/internal/cache"
	"github.com/brandon/mailmirror/internal/config"
	"github.com/brandon/mailmirror/internal/email"
	"github.com/brandon/mailmirror/internal/logging"
	"github.com/brandon/mailmirror/internal/mailbox"
	"github.com/brandon/mailmirror/internal/metrics"
	"github.com/brandon/mailmirror/pkg/types"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type stubDialer struct {
	msgs map[string][]email.RawMessage
	err  error
	gate chan struct{}
}

func (d *stubDialer) Dial(ctx context.Context, owner types.Account) (email.Session, error) {
	if d.gate != nil {
		<-d.gate
	}
	if d.err != nil {
		return nil, d.err
	}
	return stubSession{msgs: d.msgs}, nil
}

type stubSession struct {
	msgs map[string][]email.RawMessage
}

func (s stubSession) FetchFolder(ctx context.Context, folder string, max uint32) (iter.Seq2[email.RawMessage, error], error) {
	msgs := s.msgs[folder]
	return func(yield func(email.RawMessage, error) bool) {
		for _, m := range msgs {
			if !yield(m, nil) {
				return
			}
		}
	}, nil
}

func (stubSession) Close() error { return nil }

func rawMessage(folder string, uid uint32, from, to string) email.RawMessage {
	body := strings.Join([]string{
		"From: " + from,
		"To: " + to,
		fmt.Sprintf("Subject: %s %d", folder, uid),
		fmt.Sprintf("Message-ID: <%s-%d@co.com>", folder, uid),
		"",
		"hello",
	}, "\r\n")
	return email.RawMessage{Folder: folder, UID: uid, Raw: []byte(body)}
}

type testServer struct {
	router  *gin.Engine
	tokens  *TokenManager
	store   *cache.Store
	manager *email.Manager
	dialer  *stubDialer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logging.Discard()
	ctx := context.Background()

	c, err := cache.NewCache(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	store := cache.NewStore(c, logger)

	for _, acc := range []config.AccountConfig{
		{Email: "alice@co.com", Name: "Alice", Role: "user"},
		{Email: "bob@co.com", Name: "Bob", Role: "user"},
		{Email: "root@co.com", Name: "Root", Role: RoleAdmin},
	} {
		_, err := store.UpsertAccount(ctx, &acc)
		require.NoError(t, err)
	}

	dialer := &stubDialer{msgs: map[string][]email.RawMessage{
		"INBOX": {
			rawMessage("INBOX", 1, "bob@co.com", "alice@co.com"),
			rawMessage("INBOX", 2, "carol@co.com", "alice@co.com"),
		},
		"Sent": {
			rawMessage("Sent", 1, "alice@co.com", "bob@co.com"),
		},
	}}

	cfg := &config.Config{Sync: config.SyncConfig{FolderLimit: 50, InboxFolder: "INBOX", SentFolder: "Sent"}}
	m := metrics.NewMetrics()
	manager := email.NewManager(cfg, store, dialer, m, logger)
	tokens := NewTokenManager(testSecret, "mailmirror")

	router := NewRouter(RouterDependencies{
		Sync:        manager,
		Views:       mailbox.NewGateway(store, m, logger),
		Accounts:    store,
		Tokens:      tokens,
		Metrics:     m,
		CORSOrigins: []string{"*"},
		Logger:      logger,
	})

	return &testServer{router: router, tokens: tokens, store: store, manager: manager, dialer: dialer}
}

func (s *testServer) token(t *testing.T, emailAddr, role string) string {
	t.Helper()
	tok, err := s.tokens.IssueToken(emailAddr, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// syncNow runs a sync for alice and waits for it to finish
func (s *testServer) syncNow(t *testing.T) {
	t.Helper()
	w := s.do(http.MethodPost, "/api/email/sync", s.token(t, "alice@co.com", "user"), nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	s.waitIdle(t)
}

func (s *testServer) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !s.manager.Status().SyncInProgress
	}, 5*time.Second, 10*time.Millisecond)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/email/inbox", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/email/inbox", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other := NewTokenManager("another-secret-another-secret-xx", "mailmirror")
	forged, err := other.IssueToken("alice@co.com", "user", time.Hour)
	require.NoError(t, err)
	w = s.do(http.MethodGet, "/api/email/inbox", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := s.tokens.IssueToken("alice@co.com", "user", -time.Minute)
	require.NoError(t, err)
	w = s.do(http.MethodGet, "/api/email/inbox", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestValidateTokenErrors(t *testing.T) {
	tokens := NewTokenManager(testSecret, "mailmirror")

	expired, err := tokens.IssueToken("alice@co.com", "user", -time.Minute)
	require.NoError(t, err)
	_, err = tokens.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	foreign := NewTokenManager(testSecret, "someone-else")
	tok, err := foreign.IssueToken("alice@co.com", "user", time.Hour)
	require.NoError(t, err)
	_, err = tokens.ValidateToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	tok, err = tokens.IssueToken("Alice@Co.com", "user", time.Hour)
	require.NoError(t, err)
	claims, err := tokens.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice@co.com", claims.Email)
}

func TestStartSyncAndStatus(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, "alice@co.com", "user")

	w := s.do(http.MethodPost, "/api/email/sync", tok, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	accepted := decode[map[string]string](t, w)
	assert.Equal(t, "accepted", accepted["status"])
	assert.NotEmpty(t, accepted["run_id"])

	s.waitIdle(t)

	w = s.do(http.MethodGet, "/api/email/sync/status", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[types.SyncStatus](t, w)
	assert.False(t, status.Connected)
	assert.False(t, status.SyncInProgress)
	require.NotNil(t, status.LastReport)
	assert.Equal(t, accepted["run_id"], status.LastReport.RunID)
	assert.Equal(t, types.FolderCounts{Fetched: 3, Saved: 3}, status.LastReport.Total)
}

func TestStartSyncConflict(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, "alice@co.com", "user")
	s.dialer.gate = make(chan struct{})

	w := s.do(http.MethodPost, "/api/email/sync", tok, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = s.do(http.MethodPost, "/api/email/sync", tok, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodGet, "/api/email/sync/status", tok, nil)
	assert.True(t, decode[types.SyncStatus](t, w).SyncInProgress)

	close(s.dialer.gate)
	s.waitIdle(t)
}

func TestStartSyncUnknownAccount(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/api/email/sync", s.token(t, "stranger@co.com", "user"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListViews(t *testing.T) {
	s := newTestServer(t)
	s.syncNow(t)
	tok := s.token(t, "alice@co.com", "user")

	w := s.do(http.MethodGet, "/api/email/inbox?page=1&limit=1", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[types.MessagePage](t, w)
	assert.Len(t, page.Messages, 1)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 2, page.UnreadCount)
	assert.True(t, page.HasMore)

	w = s.do(http.MethodGet, "/api/email/inbox?search=carol", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[types.MessagePage](t, w)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "carol@co.com", page.Messages[0].FromEmail)

	w = s.do(http.MethodGet, "/api/email/sent", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[types.MessagePage](t, w)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, mailbox.DefaultPageSize, page.Limit)

	// past the visible ceiling is empty, not an error
	w = s.do(http.MethodGet, "/api/email/inbox?page=3&limit=50", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[types.MessagePage](t, w).Messages)

	w = s.do(http.MethodGet, "/api/email/inbox?page=abc", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// bob has a local account but nothing mirrored
	w = s.do(http.MethodGet, "/api/email/inbox", s.token(t, "bob@co.com", "user"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decode[types.MessagePage](t, w).Total)
}

func TestGetMessage(t *testing.T) {
	s := newTestServer(t)
	s.syncNow(t)
	tok := s.token(t, "alice@co.com", "user")

	w := s.do(http.MethodGet, "/api/email/inbox", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[types.MessagePage](t, w)
	require.NotEmpty(t, page.Messages)
	id := page.Messages[0].ID

	w = s.do(http.MethodGet, fmt.Sprintf("/api/email/messages/%d", id), tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	msg := decode[types.MirroredMessage](t, w)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, types.OriginIMAPSync, msg.Source.Origin)

	w = s.do(http.MethodGet, fmt.Sprintf("/api/email/messages/%d", id), s.token(t, "bob@co.com", "user"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/email/messages/zero", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestForceSync(t *testing.T) {
	s := newTestServer(t)
	s.syncNow(t)
	admin := s.token(t, "root@co.com", RoleAdmin)

	w := s.do(http.MethodPost, "/api/email/sync/force", s.token(t, "alice@co.com", "user"), map[string]string{"email": "alice@co.com"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/email/sync/force", admin, map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/email/sync/force", admin, map[string]string{"email": "alice@co.com"})
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[types.SyncReport](t, w)
	assert.Equal(t, types.FolderCounts{Fetched: 3, Saved: 3}, report.Total)

	w = s.do(http.MethodPost, "/api/email/sync/force", admin, map[string]string{"email": "ghost@co.com"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestForceSyncConnectFailure(t *testing.T) {
	s := newTestServer(t)
	s.dialer.err = errors.New("dial tcp: connection refused")

	w := s.do(http.MethodPost, "/api/email/sync/force", s.token(t, "root@co.com", RoleAdmin), map[string]string{"email": "alice@co.com"})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = s.do(http.MethodGet, "/api/email/sync/status", s.token(t, "alice@co.com", "user"), nil)
	assert.NotEmpty(t, decode[types.SyncStatus](t, w).LastError)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/healthz", "", nil)

	w := s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mailmirror_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/email/inbox", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
