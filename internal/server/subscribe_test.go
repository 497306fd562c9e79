package server

import (
	"bufio"
	"net/http"
	"strings"
	"testing"
	"time"

	"bundlechat/pkg/domain"
)

func openStream(t *testing.T, url, token string) (<-chan string, func()) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("stream expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		resp.Body.Close()
		t.Fatalf("unexpected content type %q", ct)
	}

	events := make(chan string, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				events <- strings.TrimPrefix(line, "data: ")
			}
		}
	}()
	return events, func() { resp.Body.Close() }
}

func waitEvent(t *testing.T, events <-chan string) string {
	t.Helper()
	select {
	case event, ok := <-events:
		if !ok {
			t.Fatalf("stream closed unexpectedly")
		}
		return event
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for event")
		return ""
	}
}

func TestSubscribeMessagesStreamsOnSend(t *testing.T) {
	srv, key := newTestServer(t)
	aliceToken := mustSignUserToken(t, key, "sub-alice", "alice", "alice@example.com")
	bobToken := mustSignUserToken(t, key, "sub-bob", "bob", "bob@example.com")

	doJSON(t, http.MethodPost, srv.URL+"/users/sync", aliceToken, nil).Body.Close()
	var bob domain.User
	decodeInto(t, doJSON(t, http.MethodPost, srv.URL+"/users/sync", bobToken, nil), &bob)
	var conversation domain.Conversation
	decodeInto(t, doJSON(t, http.MethodPost, srv.URL+"/conversations", aliceToken, map[string]string{"otherUserId": bob.ID}), &conversation)

	events, closeStream := openStream(t, srv.URL+"/subscribe?query=messages&conversationId="+conversation.ID, aliceToken)
	defer closeStream()

	if first := waitEvent(t, events); first != "[]" {
		t.Fatalf("expected empty initial snapshot, got %q", first)
	}

	doJSON(t, http.MethodPost, srv.URL+"/messages", bobToken, map[string]string{
		"conversationId": conversation.ID,
		"content":        "hello alice",
	}).Body.Close()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-events:
			if strings.Contains(event, "hello alice") {
				return
			}
		case <-deadline:
			t.Fatalf("message never arrived on the stream")
		}
	}
}

func TestSubscribeTypingStreams(t *testing.T) {
	srv, key := newTestServer(t)
	aliceToken := mustSignUserToken(t, key, "sub-alice", "alice", "alice@example.com")
	bobToken := mustSignUserToken(t, key, "sub-bob", "bob", "bob@example.com")

	doJSON(t, http.MethodPost, srv.URL+"/users/sync", aliceToken, nil).Body.Close()
	var bob domain.User
	decodeInto(t, doJSON(t, http.MethodPost, srv.URL+"/users/sync", bobToken, nil), &bob)
	var conversation domain.Conversation
	decodeInto(t, doJSON(t, http.MethodPost, srv.URL+"/conversations", aliceToken, map[string]string{"otherUserId": bob.ID}), &conversation)

	events, closeStream := openStream(t, srv.URL+"/subscribe?query=typing&conversationId="+conversation.ID, aliceToken)
	defer closeStream()

	if first := waitEvent(t, events); first != "[]" {
		t.Fatalf("expected empty initial snapshot, got %q", first)
	}

	doJSON(t, http.MethodPost, srv.URL+"/typing", bobToken, map[string]string{"conversationId": conversation.ID}).Body.Close()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-events:
			if strings.Contains(event, "bob") {
				return
			}
		case <-deadline:
			t.Fatalf("typing signal never arrived on the stream")
		}
	}
}

func TestSubscribeRejectsUnknownQuery(t *testing.T) {
	srv, key := newTestServer(t)
	token := mustSignUserToken(t, key, "sub-alice", "alice", "alice@example.com")
	doJSON(t, http.MethodPost, srv.URL+"/users/sync", token, nil).Body.Close()

	resp := doJSON(t, http.MethodGet, srv.URL+"/subscribe?query=nope", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodGet, srv.URL+"/subscribe?query=messages", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing conversationId, got %d", resp.StatusCode)
	}
}
