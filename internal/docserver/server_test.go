package docserver

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Makepad-fr/tada/internal/auth"
	"github.com/Makepad-fr/tada/internal/model"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	st, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	srv := New(st, slog.New(slog.DiscardHandler))
	srv.Identify = func(token string) string { return strings.TrimPrefix(token, "token-") }
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return srv, hs
}

func do(t *testing.T, method, url, token, body string) (*http.Response, model.Document) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	doc, err := model.DecodeDocument(resp.Body)
	require.NoError(t, err)
	return resp, doc
}

func TestHealthz(t *testing.T) {
	_, hs := newTestServer(t)
	resp, err := http.Get(hs.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestAccessIsLimitedToOwnDocument(t *testing.T) {
	_, hs := newTestServer(t)

	resp, _ := do(t, http.MethodGet, hs.URL+"/docs/alice", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, hs.URL+"/docs/alice", "token-bob", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = do(t, http.MethodPatch, hs.URL+"/docs/alice", "token-bob", `{"tasks":[]}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, doc := do(t, http.MethodGet, hs.URL+"/docs/alice", "token-alice", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, doc.Rev())
}

func newVerifyingServer(t *testing.T, secret string) string {
	t.Helper()
	st, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	hs := httptest.NewServer(New(st, slog.New(slog.DiscardHandler)).WithTokenSecret(secret).Handler())
	t.Cleanup(hs.Close)
	return hs.URL
}

func signedToken(t *testing.T, key string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func TestForgedTokenCannotClaimAnotherIdentity(t *testing.T) {
	enc := base64.RawURLEncoding
	forged := enc.EncodeToString([]byte(`{"alg":"none"}`)) + "." + enc.EncodeToString([]byte(`{"sub":"alice"}`)) + ".sig"
	wrongKey := signedToken(t, "guess", jwt.MapClaims{"sub": "alice"})

	for _, secret := range []string{"", "server-secret"} {
		url := newVerifyingServer(t, secret) + "/docs/alice"
		for _, token := range []string{forged, wrongKey} {
			resp, _ := do(t, http.MethodGet, url, token, "")
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
			resp, _ = do(t, http.MethodPatch, url, token, `{"tasks":[]}`)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		}
	}
}

func TestSignedTokenGrantsItsSubject(t *testing.T) {
	base := newVerifyingServer(t, "server-secret")
	token := signedToken(t, "server-secret", jwt.MapClaims{"sub": "alice"})

	resp, _ := do(t, http.MethodPatch, base+"/docs/alice", token, `{"tasks":[]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, base+"/docs/bob", token, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Opaque tokens keep working and reach the document named after them.
	resp, _ = do(t, http.MethodGet, base+"/docs/"+auth.Identity("s3cret"), "s3cret", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPatchMergesFields(t *testing.T) {
	_, hs := newTestServer(t)
	url := hs.URL + "/docs/alice"

	_, doc := do(t, http.MethodPatch, url, "token-alice", `{"tasks":[{"id":"1","text":"Buy milk"}]}`)
	assert.Equal(t, int64(1), doc.Rev())

	_, doc = do(t, http.MethodPatch, url, "token-alice", `{"notes":[{"id":"2","title":"Groceries"}],"rev":[]}`)
	assert.Equal(t, int64(2), doc.Rev(), "clients cannot set the revision")
	assert.Len(t, doc.Records(model.KindTasks), 1)
	assert.Len(t, doc.Records(model.KindNotes), 1)

	_, doc = do(t, http.MethodGet, url, "token-alice", "")
	assert.Equal(t, "Buy milk", doc.Records(model.KindTasks)[0]["text"])
	assert.Equal(t, "Groceries", doc.Records(model.KindNotes)[0]["title"])

	// Documents are per identity.
	_, doc = do(t, http.MethodGet, hs.URL+"/docs/bob", "token-bob", "")
	assert.Empty(t, doc.Records(model.KindTasks))
}

func TestPatchRejectsBadBodies(t *testing.T) {
	_, hs := newTestServer(t)
	url := hs.URL + "/docs/alice"

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", `{tasks`, http.StatusBadRequest},
		{"not an object", `[1,2]`, http.StatusBadRequest},
		{"null", `null`, http.StatusBadRequest},
		{"field not an array", `{"tasks":{"id":"1"}}`, http.StatusBadRequest},
		{"trailing data", `{"tasks":[]} {"notes":[]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := do(t, http.MethodPatch, url, "token-alice", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	_, doc := do(t, http.MethodGet, url, "token-alice", "")
	assert.Zero(t, doc.Rev(), "rejected writes leave the document untouched")
}

func TestPatchKeepsLargeIntegersExact(t *testing.T) {
	_, hs := newTestServer(t)
	url := hs.URL + "/docs/alice"

	_, doc := do(t, http.MethodPatch, url, "token-alice", `{"tasks":[{"id":9007199254740993,"text":"Buy milk"}]}`)
	require.Len(t, doc.Records(model.KindTasks), 1)
	assert.Equal(t, json.Number("9007199254740993"), doc.Records(model.KindTasks)[0]["id"])

	_, doc = do(t, http.MethodGet, url, "token-alice", "")
	assert.Equal(t, json.Number("9007199254740993"), doc.Records(model.KindTasks)[0]["id"])
}

func TestPatchTooLarge(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"tasks":["` + strings.Repeat("a", MaxBodyBytes) + `"]}`
	req := httptest.NewRequest(http.MethodPatch, "/docs/alice", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer token-alice")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestWatchPushesDocuments(t *testing.T) {
	_, hs := newTestServer(t)
	url := hs.URL + "/docs/alice"
	do(t, http.MethodPatch, url, "token-alice", `{"tasks":[{"id":"1","text":"Buy milk"}]}`)

	header := http.Header{}
	header.Set("Authorization", "Bearer token-alice")
	conn, _, err := websocket.DefaultDialer.DialContext(t.Context(), "ws"+strings.TrimPrefix(url, "http")+"/watch", header)
	require.NoError(t, err)
	defer conn.Close()

	first := readDoc(t, conn)
	assert.Equal(t, int64(1), first.Rev(), "the current document is sent on connect")
	assert.Len(t, first.Records(model.KindTasks), 1)

	do(t, http.MethodPatch, url, "token-alice", `{"tasks":[]}`)
	next := readDoc(t, conn)
	assert.Equal(t, int64(2), next.Rev())
	assert.Empty(t, next.Records(model.KindTasks))
}

func TestWatchRequiresIdentity(t *testing.T) {
	_, hs := newTestServer(t)
	header := http.Header{}
	header.Set("Authorization", "Bearer token-bob")
	_, resp, err := websocket.DefaultDialer.DialContext(t.Context(), "ws"+strings.TrimPrefix(hs.URL, "http")+"/docs/alice/watch", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func readDoc(t *testing.T, conn *websocket.Conn) model.Document {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	mt, p, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)
	doc, err := model.DecodeDocument(bytes.NewReader(p))
	require.NoError(t, err)
	return doc
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	st, err := OpenStore(path)
	require.NoError(t, err)

	doc, err := st.Get(t.Context(), "alice")
	require.NoError(t, err)
	assert.Zero(t, doc.Rev())

	_, err = st.Merge(t.Context(), "alice", map[string]any{"tasks": []any{map[string]any{"id": "1"}}})
	require.NoError(t, err)
	doc, err = st.Merge(t.Context(), "alice", map[string]any{"notes": []any{}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Rev())
	require.NoError(t, st.Close())

	st, err = OpenStore(path)
	require.NoError(t, err)
	defer st.Close()
	doc, err = st.Get(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Rev())
	assert.Len(t, doc.Records(model.KindTasks), 1)
	_, hasNotes := doc["notes"]
	assert.True(t, hasNotes)
}
