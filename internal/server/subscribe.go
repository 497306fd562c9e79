package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"bundlechat/internal/live"
	"bundlechat/internal/usertoken"
	"bundlechat/pkg/domain"
)

// typingTickInterval surfaces typing TTL expiry, which writes nothing and
// so never hits the invalidation bus.
const typingTickInterval = time.Second

// handleSubscribe streams a live query over SSE. The query re-runs whenever
// its read-set intersects a mutation's write-set, and each result is pushed
// as one `data:` event. Supported queries: conversations, messages, typing.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	query := r.URL.Query().Get("query")
	conversationID := r.URL.Query().Get("conversationId")
	workspaceID := r.URL.Query().Get("workspaceId")

	// seed holds the query's shard keys. The subscription must carry them
	// before the first snapshot is read, or a write landing in between
	// intersects nothing and the update is missed.
	var seed []live.Key
	var run func() (payload any, readSet []live.Key, err error)
	switch query {
	case "conversations":
		if user, ok, err := s.app.CurrentUser(identity.Subject); err == nil && ok {
			seed = append(seed, live.ConversationListKey(user.ID))
		}
		run = func() (any, []live.Key, error) {
			return s.runConversationList(identity.Subject, workspaceID)
		}
	case "messages":
		if conversationID == "" {
			writeError(w, http.StatusBadRequest, "conversationId is required")
			return
		}
		seed = append(seed, live.MessageListKey(conversationID))
		run = func() (any, []live.Key, error) {
			return s.runMessageList(identity.Subject, conversationID)
		}
	case "typing":
		if conversationID == "" {
			writeError(w, http.StatusBadRequest, "conversationId is required")
			return
		}
		seed = append(seed, live.TypingKey(conversationID))
		run = func() (any, []live.Key, error) {
			names, err := s.app.ListTyping(r.Context(), identity.Subject, conversationID)
			if names == nil {
				names = []string{}
			}
			return names, []live.Key{live.TypingKey(conversationID)}, err
		}
	default:
		writeError(w, http.StatusBadRequest, "query must be 'conversations', 'messages', or 'typing'")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := s.app.Bus().Subscribe(seed...)
	defer sub.Close()

	// Typing state decays by TTL without any write, so that stream also
	// recomputes on a timer.
	var tick <-chan time.Time
	if query == "typing" {
		ticker := time.NewTicker(typingTickInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	recompute := func() bool {
		payload, readSet, err := run()
		if err != nil {
			return false
		}
		sub.Reset(readSet...)
		data, err := json.Marshal(payload)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !recompute() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Notify():
			if !recompute() {
				return
			}
		case <-tick:
			if !recompute() {
				return
			}
		}
	}
}

// runConversationList recomputes the caller's conversation list and the
// read-set it depends on: the list shard plus each row and counterpart
// whose change would alter the rendered result.
func (s *Server) runConversationList(subject, workspaceID string) (any, []live.Key, error) {
	views, err := s.app.ListConversations(subject, workspaceID)
	if err != nil {
		return nil, nil, err
	}
	if views == nil {
		views = []domain.ConversationView{}
	}
	readSet := []live.Key{}
	if user, ok, err := s.app.CurrentUser(subject); err == nil && ok {
		readSet = append(readSet, live.ConversationListKey(user.ID))
	}
	for _, view := range views {
		readSet = append(readSet,
			live.Key{Entity: live.EntityConversation, ID: view.ID},
			live.Key{Entity: live.EntityUser, ID: view.OtherUser.ID},
			live.MessageListKey(view.ID),
		)
	}
	return views, readSet, nil
}

// runMessageList recomputes one conversation's visible messages. The shard
// key covers sends, edits, deletes, and read watermark moves; per-sender
// user keys cover profile changes.
func (s *Server) runMessageList(subject, conversationID string) (any, []live.Key, error) {
	views, err := s.app.ListMessages(subject, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if views == nil {
		views = []domain.MessageView{}
	}
	readSet := []live.Key{
		live.MessageListKey(conversationID),
		{Entity: live.EntityConversation, ID: conversationID},
	}
	seen := map[string]struct{}{}
	for _, view := range views {
		if _, ok := seen[view.Sender.ID]; ok {
			continue
		}
		seen[view.Sender.ID] = struct{}{}
		readSet = append(readSet, live.Key{Entity: live.EntityUser, ID: view.Sender.ID})
	}
	return views, readSet, nil
}
