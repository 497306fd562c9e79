package server

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"bundlechat/internal/app"
	"bundlechat/internal/usertoken"
	"bundlechat/pkg/domain"
	"bundlechat/pkg/store"
)

const (
	testIssuer   = "https://auth.test"
	testAudience = "bundlechat"
)

func newJWKSVerifier(t *testing.T) (*usertoken.Verifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{
				{
					"kty": "RSA",
					"kid": "kid-1",
					"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
				},
			},
		})
	}))
	t.Cleanup(jwksServer.Close)

	verifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  jwksServer.URL,
		Issuer:   testIssuer,
		Audience: testAudience,
		Leeway:   30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return verifier, key
}

func mustSignUserToken(t *testing.T, key *rsa.PrivateKey, subject, name, email string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub":   subject,
		"iss":   testIssuer,
		"aud":   testAudience,
		"exp":   time.Now().Add(time.Minute).Unix(),
		"iat":   time.Now().Unix(),
		"nbf":   time.Now().Add(-time.Second).Unix(),
		"name":  name,
		"email": email,
	})
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestServer(t *testing.T) (*httptest.Server, *rsa.PrivateKey) {
	t.Helper()
	verifier, key := newJWKSVerifier(t)
	appCore, err := app.New(app.Config{Store: store.NewMemoryStore()})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv := httptest.NewServer(New(Config{App: appCore, TokenVerifier: verifier}).Router())
	t.Cleanup(srv.Close)
	return srv, key
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &payload)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestQueriesWithoutTokenReturnEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/conversations", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("anonymous query expected 200, got %d", resp.StatusCode)
	}
	var views []domain.ConversationView
	decodeInto(t, resp, &views)
	if len(views) != 0 {
		t.Fatalf("anonymous caller should see nothing, got %+v", views)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/users/me", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("anonymous me expected 200, got %d", resp.StatusCode)
	}
	var me *domain.User
	decodeInto(t, resp, &me)
	if me != nil {
		t.Fatalf("anonymous me should be null, got %+v", me)
	}
}

func TestMutationsWithoutTokenRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/workspaces", "", map[string]string{"name": "Team"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token expected 401, got %d", resp.StatusCode)
	}

	// A token signed by a foreign key is treated the same as none.
	foreign, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate foreign key: %v", err)
	}
	bad := mustSignUserToken(t, foreign, "user-1", "x", "x@example.com")
	resp = doJSON(t, http.MethodPost, srv.URL+"/workspaces", bad, map[string]string{"name": "Team"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("forged token expected 401, got %d", resp.StatusCode)
	}
}

func TestMessagingFlowOverHTTP(t *testing.T) {
	srv, key := newTestServer(t)
	aliceToken := mustSignUserToken(t, key, "sub-alice", "alice", "alice@example.com")
	bobToken := mustSignUserToken(t, key, "sub-bob", "bob", "bob@example.com")

	var alice, bob domain.User
	resp := doJSON(t, http.MethodPost, srv.URL+"/users/sync", aliceToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("alice sync expected 200, got %d", resp.StatusCode)
	}
	decodeInto(t, resp, &alice)
	resp = doJSON(t, http.MethodPost, srv.URL+"/users/sync", bobToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bob sync expected 200, got %d", resp.StatusCode)
	}
	decodeInto(t, resp, &bob)
	if bob.Username != "bob" || bob.Email != "bob@example.com" {
		t.Fatalf("token hints not applied: %+v", bob)
	}

	var conversation domain.Conversation
	resp = doJSON(t, http.MethodPost, srv.URL+"/conversations", aliceToken, map[string]string{"otherUserId": bob.ID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create conversation expected 200, got %d", resp.StatusCode)
	}
	decodeInto(t, resp, &conversation)

	var msg domain.Message
	resp = doJSON(t, http.MethodPost, srv.URL+"/messages", aliceToken, map[string]string{
		"conversationId": conversation.ID,
		"content":        "hello bob",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send expected 201, got %d", resp.StatusCode)
	}
	decodeInto(t, resp, &msg)
	if msg.Type != domain.MessageText {
		t.Fatalf("type should default to text, got %q", msg.Type)
	}

	var views []domain.MessageView
	resp = doJSON(t, http.MethodGet, srv.URL+"/messages?conversationId="+conversation.ID, bobToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bob list expected 200, got %d", resp.StatusCode)
	}
	decodeInto(t, resp, &views)
	if len(views) != 1 || views[0].Content != "hello bob" || views[0].Sender.ID != alice.ID {
		t.Fatalf("unexpected messages: %+v", views)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/messages/read", bobToken, map[string]string{"conversationId": conversation.ID})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("mark read expected 204, got %d", resp.StatusCode)
	}

	var conversations []domain.ConversationView
	resp = doJSON(t, http.MethodGet, srv.URL+"/conversations", bobToken, nil)
	decodeInto(t, resp, &conversations)
	if len(conversations) != 1 || conversations[0].UnreadCount != 0 {
		t.Fatalf("unread should be 0 after read, got %+v", conversations)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	srv, key := newTestServer(t)
	aliceToken := mustSignUserToken(t, key, "sub-alice", "alice", "alice@example.com")
	carolToken := mustSignUserToken(t, key, "sub-carol", "carol", "carol@example.com")
	doJSON(t, http.MethodPost, srv.URL+"/users/sync", aliceToken, nil).Body.Close()
	doJSON(t, http.MethodPost, srv.URL+"/users/sync", carolToken, nil).Body.Close()

	// Unknown other user -> 404.
	resp := doJSON(t, http.MethodPost, srv.URL+"/conversations", aliceToken, map[string]string{"otherUserId": "ghost"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	// Non-admin roster read -> 403.
	var workspace domain.Workspace
	resp = doJSON(t, http.MethodPost, srv.URL+"/workspaces", aliceToken, map[string]string{"name": "Team"})
	decodeInto(t, resp, &workspace)
	resp = doJSON(t, http.MethodGet, srv.URL+"/workspaces/members?workspaceId="+workspace.ID, carolToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	// Uploads without an object store -> 503.
	resp = doJSON(t, http.MethodPost, srv.URL+"/uploads", aliceToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}

	// Wrong method -> 405.
	resp = doJSON(t, http.MethodDelete, srv.URL+"/messages/edit", aliceToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
