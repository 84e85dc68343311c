package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/tierkb/internal/access"
	"github.com/fyrsmithlabs/tierkb/internal/chat"
	"github.com/fyrsmithlabs/tierkb/internal/docstore"
	tierkbhttp "github.com/fyrsmithlabs/tierkb/internal/http"
	"github.com/fyrsmithlabs/tierkb/internal/userstore"
)

type stubKnowledge struct {
	ensured     int
	invalidated int
	err         error
}

func (k *stubKnowledge) EnsureFresh(ctx context.Context, user *userstore.User) error {
	k.ensured++
	return k.err
}

func (k *stubKnowledge) Invalidate() { k.invalidated++ }

type stubAnswerer struct {
	answer string

	mu       sync.Mutex
	lastHist string
}

func (a *stubAnswerer) Answer(ctx context.Context, user *userstore.User, query string, history *chat.History, kind chat.Kind) (string, string) {
	formatted := history.Format()
	a.mu.Lock()
	a.lastHist = formatted
	a.mu.Unlock()
	return a.answer, "0.01 seconds"
}

func (a *stubAnswerer) hist() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastHist
}

type fixture struct {
	server    *tierkbhttp.Server
	knowledge *stubKnowledge
	answerer  *stubAnswerer
	dataDir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	root := t.TempDir()

	policy, err := access.NewPolicy([]string{"high", "med", "low"})
	require.NoError(t, err)

	users, err := userstore.Open(filepath.Join(root, "users.json"), logger)
	require.NoError(t, err)

	dataDir := filepath.Join(root, "data")
	docs, err := docstore.New(docstore.Config{
		DataDir:           dataDir,
		UploadDir:         filepath.Join(root, "uploads"),
		AllowedExtensions: []string{"txt", "md"},
		MaxFileSize:       1 << 20,
	}, policy, logger)
	require.NoError(t, err)

	knowledge := &stubKnowledge{}
	answerer := &stubAnswerer{answer: "stub answer"}

	server, err := tierkbhttp.NewServer(users, docs, knowledge, answerer, policy, logger, &tierkbhttp.Config{
		SecretKey: "test-secret",
		MaxFiles:  2,
	})
	require.NoError(t, err)

	return &fixture{server: server, knowledge: knowledge, answerer: answerer, dataDir: dataDir}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T, username, password string) []*http.Cookie {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/login", bytes.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Result().Cookies()
}

const echoContentType = "Content-Type"

func withCookies(req *http.Request, cookies []*http.Cookie) *http.Request {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func TestLoginIssuesSessionAndWarmsKnowledge(t *testing.T) {
	f := newFixture(t)

	body, _ := json.Marshal(map[string]string{"username": "root", "password": "admin123"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/login", bytes.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp tierkbhttp.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "root", resp.Username)
	assert.Equal(t, "high", resp.AccessLevel)

	require.NotEmpty(t, rec.Result().Cookies())
	assert.Equal(t, 1, f.knowledge.ensured)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)

	body, _ := json.Marshal(map[string]string{"username": "root", "password": "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/login", bytes.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	rec := f.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestChatRequiresSession(t *testing.T) {
	f := newFixture(t)

	body, _ := json.Marshal(map[string]string{"query": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	rec := f.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatRejectsForgedToken(t *testing.T) {
	f := newFixture(t)

	body, _ := json.Marshal(map[string]string{"query": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	req.AddCookie(&http.Cookie{Name: "tierkb_session", Value: "not.a.token"})
	rec := f.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatAnswersAndAccumulatesHistory(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t, "moshu", "admin123")

	ask := func(query string) tierkbhttp.ChatResponse {
		body, _ := json.Marshal(map[string]string{"query": query, "backend": "local"})
		req := withCookies(httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader(body)), cookies)
		req.Header.Set(echoContentType, "application/json")
		rec := f.do(req)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp tierkbhttp.ChatResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp
	}

	resp := ask("first question")
	assert.Equal(t, "stub answer", resp.Response)
	assert.Equal(t, "0.01 seconds", resp.ResponseTime)

	ask("second question")
	// The second request sees the first exchange in its history.
	assert.Contains(t, f.answerer.hist(), "first question")
}

func TestChatConcurrentRequestsSameSession(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t, "moshu", "admin123")

	var wg sync.WaitGroup
	codes := make([]int, 16)
	for i := range codes {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			body, _ := json.Marshal(map[string]string{"query": fmt.Sprintf("question %d", n), "backend": "local"})
			req := withCookies(httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader(body)), cookies)
			req.Header.Set(echoContentType, "application/json")
			codes[n] = f.do(req).Code
		}(i)
	}
	wg.Wait()

	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
}

func TestChatRejectsUnknownBackend(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t, "moshu", "admin123")

	body, _ := json.Marshal(map[string]string{"query": "q", "backend": "gpt4"})
	req := withCookies(httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader(body)), cookies)
	req.Header.Set(echoContentType, "application/json")
	rec := f.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func multipartUpload(t *testing.T, tier string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if tier != "" {
		require.NoError(t, w.WriteField("access_level", tier))
	}
	for name, content := range files {
		fw, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestUploadWritesTierDirAndInvalidates(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t, "root", "admin123")

	buf, contentType := multipartUpload(t, "high", map[string]string{"notes.txt": "classified"})
	req := withCookies(httptest.NewRequest(http.MethodPost, "/api/v1/upload", buf), cookies)
	req.Header.Set(echoContentType, contentType)
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.knowledge.invalidated)

	data, err := os.ReadFile(filepath.Join(f.dataDir, "high", "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "classified", string(data))
}

func TestUploadDefaultsToUploaderTier(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t, "moshu", "admin123")

	buf, contentType := multipartUpload(t, "", map[string]string{"memo.txt": "team memo"})
	req := withCookies(httptest.NewRequest(http.MethodPost, "/api/v1/upload", buf), cookies)
	req.Header.Set(echoContentType, contentType)
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	_, err := os.Stat(filepath.Join(f.dataDir, "med", "memo.txt"))
	assert.NoError(t, err)
}

func TestUploadToInvisibleTierForbidden(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t, "no_user", "no_password")

	buf, contentType := multipartUpload(t, "high", map[string]string{"sneaky.txt": "escalation"})
	req := withCookies(httptest.NewRequest(http.MethodPost, "/api/v1/upload", buf), cookies)
	req.Header.Set(echoContentType, contentType)
	rec := f.do(req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, f.knowledge.invalidated)
	_, err := os.Stat(filepath.Join(f.dataDir, "high", "sneaky.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestUploadLowerTierVisibleToUploader(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t, "root", "admin123")

	buf, contentType := multipartUpload(t, "low", map[string]string{"public.txt": "for everyone"})
	req := withCookies(httptest.NewRequest(http.MethodPost, "/api/v1/upload", buf), cookies)
	req.Header.Set(echoContentType, contentType)
	rec := f.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadRejectsDisallowedExtension(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t, "root", "admin123")

	buf, contentType := multipartUpload(t, "high", map[string]string{"payload.exe": "binary"})
	req := withCookies(httptest.NewRequest(http.MethodPost, "/api/v1/upload", buf), cookies)
	req.Header.Set(echoContentType, contentType)
	rec := f.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRejectsTooManyFiles(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t, "root", "admin123")

	buf, contentType := multipartUpload(t, "high", map[string]string{
		"a.txt": "a", "b.txt": "b", "c.txt": "c",
	})
	req := withCookies(httptest.NewRequest(http.MethodPost, "/api/v1/upload", buf), cookies)
	req.Header.Set(echoContentType, contentType)
	rec := f.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.knowledge.invalidated)
}

func TestLogoutClearsSessionCookie(t *testing.T) {
	f := newFixture(t)
	cookies := f.login(t, "moshu", "admin123")

	req := withCookies(httptest.NewRequest(http.MethodPost, "/api/v1/logout", nil), cookies)
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == "tierkb_session" && c.Value == "" {
			cleared = true
		}
	}
	assert.True(t, cleared)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsExposed(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines") ||
		strings.Contains(rec.Body.String(), "# HELP"))
}
