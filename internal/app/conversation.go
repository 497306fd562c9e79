package app

import (
	"fmt"
	"sort"
	"time"

	"bundlechat/internal/live"
	"bundlechat/internal/util"
	"bundlechat/pkg/domain"
)

// GetOrCreateConversation finds the canonical conversation for the
// (caller, other) pair or creates it. The pair is symmetric: both orderings
// resolve to the same row, and at most one row exists per pair regardless
// of how many workspaces reference it.
func (a *App) GetOrCreateConversation(subject, otherUserID, workspaceID string) (domain.Conversation, error) {
	callerID, err := a.caller(subject)
	if err != nil {
		return domain.Conversation{}, err
	}
	if _, ok, err := a.store.GetUserByID(otherUserID); err != nil {
		return domain.Conversation{}, fmt.Errorf("lookup other user: %w", err)
	} else if !ok {
		return domain.Conversation{}, ErrNotFound
	}

	candidate := domain.Conversation{
		ID:           util.NewID(),
		Participant1: callerID,
		Participant2: otherUserID,
		WorkspaceID:  workspaceID,
		CreatedAt:    a.now().UTC(),
	}
	conversation, created, err := a.store.GetOrCreateConversationByPair(callerID, otherUserID, candidate)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("get or create conversation: %w", err)
	}
	if created {
		if err := a.ensureMutualWorkspace(callerID, otherUserID); err != nil {
			return domain.Conversation{}, err
		}
		a.publish(
			live.Key{Entity: live.EntityConversation, ID: conversation.ID},
			live.ConversationListKey(callerID),
			live.ConversationListKey(otherUserID),
		)
		return conversation, nil
	}

	// Existing row: un-hide for the caller and, if this is a legacy row
	// being pulled into a workspace, bind it.
	reopened, changed, err := a.store.ReopenConversationFor(conversation.ID, callerID, workspaceID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("reopen conversation: %w", err)
	}
	if reopened.ID != "" {
		conversation = reopened
	}
	if changed {
		a.publish(
			live.Key{Entity: live.EntityConversation, ID: conversation.ID},
			live.ConversationListKey(conversation.Participant1),
			live.ConversationListKey(conversation.Participant2),
		)
	}
	return conversation, nil
}

// ensureMutualWorkspace makes the new pairing mutually visible: each side
// ends up holding membership in at least one workspace containing the
// other. Sequential idempotent steps, each safe to retry.
func (a *App) ensureMutualWorkspace(callerID, otherID string) error {
	callerMemberships, err := a.store.ListMembershipsByUser(callerID)
	if err != nil {
		return fmt.Errorf("list caller memberships: %w", err)
	}
	otherMemberships, err := a.store.ListMembershipsByUser(otherID)
	if err != nil {
		return fmt.Errorf("list other memberships: %w", err)
	}
	otherWorkspaces := make(map[string]bool, len(otherMemberships))
	for _, member := range otherMemberships {
		otherWorkspaces[member.WorkspaceID] = true
	}
	for _, member := range callerMemberships {
		if otherWorkspaces[member.WorkspaceID] {
			return nil
		}
	}
	now := a.now().UTC()
	if len(callerMemberships) > 0 {
		if err := a.store.SaveMembership(domain.WorkspaceMember{
			WorkspaceID: callerMemberships[0].WorkspaceID,
			UserID:      otherID,
			Role:        domain.RoleMember,
			CreatedAt:   now,
		}); err != nil {
			return fmt.Errorf("enroll other: %w", err)
		}
		a.publish(live.Key{Entity: live.EntityMembership, ID: otherID})
	}
	if len(otherMemberships) > 0 {
		if err := a.store.SaveMembership(domain.WorkspaceMember{
			WorkspaceID: otherMemberships[0].WorkspaceID,
			UserID:      callerID,
			Role:        domain.RoleMember,
			CreatedAt:   now,
		}); err != nil {
			return fmt.Errorf("enroll caller: %w", err)
		}
		a.publish(live.Key{Entity: live.EntityMembership, ID: callerID})
	}
	return nil
}

// ListConversations returns the caller's visible conversations, enriched
// with the other participant, the last message visible to the caller, and
// the unread count. workspaceID filters to rows bound to that workspace or
// bound to none (legacy); an empty workspaceID applies no workspace filter.
func (a *App) ListConversations(subject, workspaceID string) ([]domain.ConversationView, error) {
	callerID, err := a.caller(subject)
	if err != nil {
		return nil, nil
	}
	conversations, err := a.store.ListConversationsByParticipant(callerID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	views := make([]domain.ConversationView, 0, len(conversations))
	for _, conversation := range conversations {
		if containsID(conversation.HiddenFor, callerID) {
			continue
		}
		if workspaceID != "" && conversation.WorkspaceID != "" && conversation.WorkspaceID != workspaceID {
			continue
		}
		view, err := a.buildConversationView(conversation, callerID)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	sort.SliceStable(views, func(i, j int) bool {
		return activityTime(views[i]).After(activityTime(views[j]))
	})
	return views, nil
}

// activityTime orders the conversation list: last visible message first,
// falling back to the conversation's creation time.
func activityTime(view domain.ConversationView) time.Time {
	if view.LastMessage != nil {
		return view.LastMessage.CreatedAt
	}
	return view.CreatedAt
}

func (a *App) buildConversationView(conversation domain.Conversation, callerID string) (domain.ConversationView, error) {
	otherUser, _, err := a.store.GetUserByID(conversation.Other(callerID))
	if err != nil {
		return domain.ConversationView{}, fmt.Errorf("load other participant: %w", err)
	}
	messages, receipts, err := a.store.ListConversationData(conversation.ID)
	if err != nil {
		return domain.ConversationView{}, fmt.Errorf("load conversation data: %w", err)
	}
	receipt, hasReceipt := findReceipt(receipts, callerID)

	view := domain.ConversationView{Conversation: conversation, OtherUser: otherUser}
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if containsID(msg.DeletedFor, callerID) {
			continue
		}
		if msg.DeletedAt != nil {
			msg.Content = deletePlaceholder(msg.SenderID == callerID)
		}
		view.LastMessage = &msg
		break
	}
	for _, msg := range messages {
		if msg.DeletedAt != nil || msg.SenderID == callerID || containsID(msg.DeletedFor, callerID) {
			continue
		}
		if !hasReceipt || msg.CreatedAt.After(receipt.LastReadAt) {
			view.UnreadCount++
		}
	}
	return view, nil
}

// ClearConversation soft-clears the thread for the caller only: every
// message becomes deleted-for-caller and the conversation is hidden from
// the caller's list. Idempotent; the other participant is unaffected, and a
// later getOrCreate un-hides the thread.
func (a *App) ClearConversation(subject, conversationID string) error {
	callerID, err := a.caller(subject)
	if err != nil {
		return err
	}
	conversation, ok, err := a.store.GetConversation(conversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	if !conversation.HasParticipant(callerID) {
		return ErrUnauthorized
	}
	if err := a.store.ClearConversationFor(conversationID, callerID); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	a.publish(
		live.Key{Entity: live.EntityConversation, ID: conversationID},
		live.MessageListKey(conversationID),
		live.ConversationListKey(callerID),
	)
	return nil
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func findReceipt(receipts []domain.ReadReceipt, userID string) (domain.ReadReceipt, bool) {
	for _, r := range receipts {
		if r.UserID == userID {
			return r, true
		}
	}
	return domain.ReadReceipt{}, false
}
