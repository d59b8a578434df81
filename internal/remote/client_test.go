package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goaly/internal/db"
	"github.com/goaly/internal/docstore"
	"github.com/goaly/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type clientEnv struct {
	server  *httptest.Server
	tokens  *MemoryTokenStore
	client  *Client
	rejects atomic.Int32
}

// setupClient 启动一个真实的文档存储服务；rejects>0 时接下来的 N 个 API 请求返回 401。
func setupClient(t *testing.T) *clientEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.OpenDocstore(filepath.Join(t.TempDir(), "docstore.db"), db.Options{Silent: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })
	require.NoError(t, db.EnsureUser(gdb, "alice", "secret"))

	router := docstore.SetupRouter(docstore.NewHandler(docstore.NewService(gdb, time.Hour, zerolog.Nop())))

	env := &clientEnv{tokens: &MemoryTokenStore{}}
	env.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") && env.rejects.Load() > 0 {
			env.rejects.Add(-1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(env.server.Close)

	env.client = NewClient(Config{
		BaseURL:    env.server.URL,
		ClientID:   "goaly-test",
		HTTPClient: env.server.Client(),
		Logger:     zerolog.Nop(),
	}, env.tokens)
	return env
}

func samplePayloadGoals() ([]model.Goal, model.Settings) {
	created := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	goals := []model.Goal{{
		ID:          "g1",
		Title:       "Learn Go",
		Motivation:  model.NewScore(4),
		Urgency:     model.NewScore(3),
		Status:      model.StatusActive,
		CreatedAt:   created,
		LastUpdated: created,
	}}
	return goals, model.DefaultSettings()
}

func TestClientRequiresLogin(t *testing.T) {
	env := setupClient(t)

	assert.False(t, env.client.IsAuthenticated())
	_, err := env.client.Download(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestClientLoginRejectsBadPassword(t *testing.T) {
	env := setupClient(t)

	err := env.client.Login(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, env.client.IsAuthenticated())
}

func TestClientUploadDownloadRoundTrip(t *testing.T) {
	env := setupClient(t)
	ctx := context.Background()
	require.NoError(t, env.client.Login(ctx, "alice", "secret"))
	assert.True(t, env.client.IsAuthenticated())

	saved, err := env.tokens.LoadToken()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.NotEmpty(t, saved.RefreshToken)

	_, err = env.client.Download(ctx)
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	goals, settings := samplePayloadGoals()
	first, err := env.client.Upload(ctx, goals, settings)
	require.NoError(t, err)
	assert.NotEmpty(t, first.DocumentID)

	goals[0].Title = "Learn Go properly"
	second, err := env.client.Upload(ctx, goals, settings)
	require.NoError(t, err)
	assert.Equal(t, first.DocumentID, second.DocumentID, "second upload must overwrite the same document")

	download, err := env.client.Download(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.DocumentID, download.DocumentID)

	var payload struct {
		Version    string       `json:"version"`
		Goals      []model.Goal `json:"goals"`
		ExportDate string       `json:"exportDate"`
	}
	require.NoError(t, json.Unmarshal(download.Data, &payload))
	require.Len(t, payload.Goals, 1)
	assert.Equal(t, "Learn Go properly", payload.Goals[0].Title)
	assert.NotEmpty(t, payload.ExportDate)
	assert.NotEmpty(t, payload.Version)

	doc, err := env.client.FindDocument(ctx, mustContainer(t, env.client))
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, int64(2), doc.Revision)
}

func TestClientRetriesOnceAfterUnauthorized(t *testing.T) {
	env := setupClient(t)
	ctx := context.Background()
	require.NoError(t, env.client.Login(ctx, "alice", "secret"))
	before, _ := env.tokens.LoadToken()

	env.rejects.Store(1)
	_, err := env.client.FindOrCreateContainer(ctx)
	require.NoError(t, err)

	after, _ := env.tokens.LoadToken()
	assert.NotEqual(t, before.AccessToken, after.AccessToken, "401 must force a token refresh")
}

func TestClientGivesUpAfterSecondUnauthorized(t *testing.T) {
	env := setupClient(t)
	ctx := context.Background()
	require.NoError(t, env.client.Login(ctx, "alice", "secret"))

	env.rejects.Store(2)
	_, err := env.client.FindOrCreateContainer(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClientRefreshesExpiredToken(t *testing.T) {
	env := setupClient(t)
	ctx := context.Background()
	require.NoError(t, env.client.Login(ctx, "alice", "secret"))

	saved, _ := env.tokens.LoadToken()
	expired := &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: saved.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	}
	require.NoError(t, env.tokens.SaveToken(expired))

	fresh := NewClient(Config{BaseURL: env.server.URL, HTTPClient: env.server.Client(), Logger: zerolog.Nop()}, env.tokens)
	_, err := fresh.FindOrCreateContainer(ctx)
	require.NoError(t, err)

	stored, _ := env.tokens.LoadToken()
	assert.NotEqual(t, "stale", stored.AccessToken)
}

func TestClientLogoutDropsToken(t *testing.T) {
	env := setupClient(t)
	require.NoError(t, env.client.Login(context.Background(), "alice", "secret"))
	require.NoError(t, env.client.Logout())

	assert.False(t, env.client.IsAuthenticated())
	stored, err := env.tokens.LoadToken()
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestMemoryStoreFailureInjection(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	_, err := store.Download(ctx)
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	goals, settings := samplePayloadGoals()
	_, err = store.Upload(ctx, goals, settings)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Uploads())

	boom := errors.New("boom")
	store.DownloadErr = boom
	_, err = store.Download(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, store.Downloads())
}

func mustContainer(t *testing.T, client *Client) string {
	t.Helper()
	id, err := client.FindOrCreateContainer(context.Background())
	require.NoError(t, err)
	return id
}
