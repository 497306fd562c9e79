package server

import (
	"encoding/json"
	"net/http"

	"bundlechat/internal/app"
	"bundlechat/internal/usertoken"
	"bundlechat/pkg/domain"
)

func decodeBody(r *http.Request, dst any) bool {
	if r.Body == nil {
		return false
	}
	return json.NewDecoder(r.Body).Decode(dst) == nil
}

// rateLimited guards mutation handlers. Returns true when the request was
// rejected and already answered.
func (s *Server) rateLimited(w http.ResponseWriter, identity usertoken.Identity) bool {
	if s.allowMutation(identity) {
		return false
	}
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return true
}

func (s *Server) handleUserSync(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.rateLimited(w, identity) {
		return
	}
	hints := app.ProfileHints{
		Username: identity.Username,
		Email:    identity.Email,
		ImageURL: identity.ImageURL,
	}
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		ImageURL string `json:"imageUrl"`
	}
	if decodeBody(r, &body) {
		if body.Username != "" {
			hints.Username = body.Username
		}
		if body.Email != "" {
			hints.Email = body.Email
		}
		if body.ImageURL != "" {
			hints.ImageURL = body.ImageURL
		}
	}
	user, err := s.app.ResolveOrCreate(identity.Subject, hints)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUserOffline(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	_ = s.app.MarkOffline(identity.Subject)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUserMe(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	switch r.Method {
	case http.MethodGet:
		user, ok, err := s.app.CurrentUser(identity.Subject)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if !ok {
			writeJSON(w, http.StatusOK, nil)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		if s.rateLimited(w, identity) {
			return
		}
		var body struct {
			CustomUsername *string `json:"customUsername"`
			CustomImageURL *string `json:"customImageUrl"`
			ImageKey       *string `json:"imageKey"`
			Bio            *string `json:"bio"`
		}
		if !decodeBody(r, &body) {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		user, err := s.app.UpdateProfile(identity.Subject, app.ProfileUpdate{
			CustomUsername: body.CustomUsername,
			CustomImageURL: body.CustomImageURL,
			ImageKey:       body.ImageKey,
			Bio:            body.Bio,
		})
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers(identity.Subject)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if users == nil {
		users = []domain.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	switch r.Method {
	case http.MethodGet:
		contacts, err := s.app.ListContacts(identity.Subject)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if contacts == nil {
			contacts = []domain.Contact{}
		}
		writeJSON(w, http.StatusOK, contacts)
	case http.MethodPost:
		if s.rateLimited(w, identity) {
			return
		}
		var body struct {
			ContactUserID string `json:"contactUserId"`
			Alias         string `json:"alias"`
		}
		if !decodeBody(r, &body) || body.ContactUserID == "" {
			writeError(w, http.StatusBadRequest, "contactUserId is required")
			return
		}
		if err := s.app.SetContactAlias(identity.Subject, body.ContactUserID, body.Alias); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleWorkspaces(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	switch r.Method {
	case http.MethodGet:
		workspaces, err := s.app.ListMyWorkspaces(identity.Subject)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if workspaces == nil {
			workspaces = []domain.Workspace{}
		}
		writeJSON(w, http.StatusOK, workspaces)
	case http.MethodPost:
		if s.rateLimited(w, identity) {
			return
		}
		var body struct {
			Name     string `json:"name"`
			ImageURL string `json:"imageUrl"`
		}
		if !decodeBody(r, &body) || body.Name == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		workspace, err := s.app.CreateWorkspace(identity.Subject, body.Name, body.ImageURL)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, workspace)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	switch r.Method {
	case http.MethodGet:
		workspaceID := r.URL.Query().Get("workspaceId")
		if workspaceID == "" {
			writeError(w, http.StatusBadRequest, "workspaceId is required")
			return
		}
		members, err := s.app.ListMembers(identity.Subject, workspaceID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if members == nil {
			members = []domain.User{}
		}
		writeJSON(w, http.StatusOK, members)
	case http.MethodPost:
		if s.rateLimited(w, identity) {
			return
		}
		var body struct {
			WorkspaceID string `json:"workspaceId"`
			Email       string `json:"email"`
			UserID      string `json:"userId"`
		}
		if !decodeBody(r, &body) || body.WorkspaceID == "" {
			writeError(w, http.StatusBadRequest, "workspaceId is required")
			return
		}
		var (
			member domain.WorkspaceMember
			err    error
		)
		switch {
		case body.Email != "":
			member, err = s.app.AddMemberByEmail(identity.Subject, body.WorkspaceID, body.Email)
		case body.UserID != "":
			member, err = s.app.AddMemberByID(identity.Subject, body.WorkspaceID, body.UserID)
		default:
			writeError(w, http.StatusBadRequest, "email or userId is required")
			return
		}
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, member)
	case http.MethodDelete:
		if s.rateLimited(w, identity) {
			return
		}
		var body struct {
			WorkspaceID string `json:"workspaceId"`
			UserID      string `json:"userId"`
		}
		if !decodeBody(r, &body) || body.WorkspaceID == "" || body.UserID == "" {
			writeError(w, http.StatusBadRequest, "workspaceId and userId are required")
			return
		}
		if err := s.app.RemoveMember(identity.Subject, body.WorkspaceID, body.UserID); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	switch r.Method {
	case http.MethodGet:
		views, err := s.app.ListConversations(identity.Subject, r.URL.Query().Get("workspaceId"))
		if err != nil {
			writeAppError(w, err)
			return
		}
		if views == nil {
			views = []domain.ConversationView{}
		}
		writeJSON(w, http.StatusOK, views)
	case http.MethodPost:
		if s.rateLimited(w, identity) {
			return
		}
		var body struct {
			OtherUserID string `json:"otherUserId"`
			WorkspaceID string `json:"workspaceId"`
		}
		if !decodeBody(r, &body) || body.OtherUserID == "" {
			writeError(w, http.StatusBadRequest, "otherUserId is required")
			return
		}
		conversation, err := s.app.GetOrCreateConversation(identity.Subject, body.OtherUserID, body.WorkspaceID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conversation)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleConversationClear(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.rateLimited(w, identity) {
		return
	}
	var body struct {
		ConversationID string `json:"conversationId"`
	}
	if !decodeBody(r, &body) || body.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "conversationId is required")
		return
	}
	if err := s.app.ClearConversation(identity.Subject, body.ConversationID); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	switch r.Method {
	case http.MethodGet:
		conversationID := r.URL.Query().Get("conversationId")
		if conversationID == "" {
			writeError(w, http.StatusBadRequest, "conversationId is required")
			return
		}
		views, err := s.app.ListMessages(identity.Subject, conversationID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if views == nil {
			views = []domain.MessageView{}
		}
		writeJSON(w, http.StatusOK, views)
	case http.MethodPost:
		if s.rateLimited(w, identity) {
			return
		}
		var body struct {
			ConversationID string `json:"conversationId"`
			Content        string `json:"content"`
			Type           string `json:"type"`
			StorageKey     string `json:"storageKey"`
		}
		if !decodeBody(r, &body) || body.ConversationID == "" {
			writeError(w, http.StatusBadRequest, "conversationId is required")
			return
		}
		msgType := domain.MessageType(body.Type)
		if msgType == "" {
			msgType = domain.MessageText
		}
		msg, err := s.app.SendMessage(identity.Subject, body.ConversationID, body.Content, msgType, body.StorageKey)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMessageEdit(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.rateLimited(w, identity) {
		return
	}
	var body struct {
		MessageID string `json:"messageId"`
		Content   string `json:"content"`
	}
	if !decodeBody(r, &body) || body.MessageID == "" {
		writeError(w, http.StatusBadRequest, "messageId is required")
		return
	}
	msg, err := s.app.EditMessage(identity.Subject, body.MessageID, body.Content)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleMessageDelete(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.rateLimited(w, identity) {
		return
	}
	var body struct {
		MessageID string `json:"messageId"`
		Scope     string `json:"scope"`
	}
	if !decodeBody(r, &body) || body.MessageID == "" {
		writeError(w, http.StatusBadRequest, "messageId is required")
		return
	}
	scope := domain.DeleteScope(body.Scope)
	if scope == "" {
		scope = domain.DeleteForMe
	}
	if scope != domain.DeleteForMe && scope != domain.DeleteForEveryone {
		writeError(w, http.StatusBadRequest, "scope must be 'me' or 'everyone'")
		return
	}
	if err := s.app.DeleteMessage(identity.Subject, body.MessageID, scope); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkAsRead(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.rateLimited(w, identity) {
		return
	}
	var body struct {
		ConversationID string `json:"conversationId"`
	}
	if !decodeBody(r, &body) || body.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "conversationId is required")
		return
	}
	if err := s.app.MarkAsRead(identity.Subject, body.ConversationID); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTyping(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	switch r.Method {
	case http.MethodGet:
		conversationID := r.URL.Query().Get("conversationId")
		if conversationID == "" {
			writeError(w, http.StatusBadRequest, "conversationId is required")
			return
		}
		names, err := s.app.ListTyping(r.Context(), identity.Subject, conversationID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if names == nil {
			names = []string{}
		}
		writeJSON(w, http.StatusOK, names)
	case http.MethodPost:
		var body struct {
			ConversationID string `json:"conversationId"`
		}
		if !decodeBody(r, &body) || body.ConversationID == "" {
			writeError(w, http.StatusBadRequest, "conversationId is required")
			return
		}
		if err := s.app.SetTyping(r.Context(), identity.Subject, body.ConversationID); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		var body struct {
			ConversationID string `json:"conversationId"`
		}
		if !decodeBody(r, &body) || body.ConversationID == "" {
			writeError(w, http.StatusBadRequest, "conversationId is required")
			return
		}
		_ = s.app.ClearTyping(r.Context(), identity.Subject, body.ConversationID)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUploadSlot(w http.ResponseWriter, r *http.Request, identity usertoken.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.rateLimited(w, identity) {
		return
	}
	slot, err := s.app.GenerateUploadSlot(r.Context(), identity.Subject)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"uploadUrl":  slot.URL,
		"storageKey": slot.Key,
	})
}
