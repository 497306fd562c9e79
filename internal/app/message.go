package app

import (
	"fmt"
	"strings"

	"bundlechat/internal/live"
	"bundlechat/internal/util"
	"bundlechat/pkg/domain"
)

// deletePlaceholder replaces the content of a globally deleted message. The
// sender/other distinction is purely presentational; the original content
// is never exposed to anyone once the global delete lands.
func deletePlaceholder(mine bool) string {
	if mine {
		return "You deleted this message"
	}
	return "This message was deleted"
}

// SendMessage inserts a message and moves the sender's read watermark to
// now in one atomic store transaction (sending implies having read up to
// now). A storage key from an upload slot is resolved to a durable URL and
// stored as the content, so media reads never need a join.
func (a *App) SendMessage(subject, conversationID, content string, msgType domain.MessageType, storageKey string) (domain.Message, error) {
	callerID, err := a.caller(subject)
	if err != nil {
		return domain.Message{}, err
	}
	conversation, ok, err := a.store.GetConversation(conversationID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("load conversation: %w", err)
	}
	if !ok {
		return domain.Message{}, ErrNotFound
	}
	if !conversation.HasParticipant(callerID) {
		return domain.Message{}, ErrUnauthorized
	}
	if storageKey != "" {
		if a.objects == nil {
			return domain.Message{}, fmt.Errorf("object storage not configured")
		}
		content = a.objects.ContentURL(storageKey)
	}
	now := a.now().UTC()
	msg := domain.Message{
		ID:             util.NewID(),
		ConversationID: conversationID,
		SenderID:       callerID,
		Content:        content,
		Type:           msgType,
		CreatedAt:      now,
	}
	receipt := domain.ReadReceipt{
		ConversationID: conversationID,
		UserID:         callerID,
		LastReadAt:     now,
	}
	if err := a.store.CreateMessage(msg, receipt); err != nil {
		return domain.Message{}, fmt.Errorf("create message: %w", err)
	}
	a.publish(
		live.Key{Entity: live.EntityMessage, ID: msg.ID},
		live.MessageListKey(conversationID),
		live.Key{Entity: live.EntityReceipt, ID: conversationID + "/" + callerID},
		live.ConversationListKey(conversation.Participant1),
		live.ConversationListKey(conversation.Participant2),
	)
	return msg, nil
}

// EditMessage rewrites a text message's content. Sender-only; admins get no
// special power here. A globally deleted message is not editable and a
// per-user delete is never undone by an edit.
func (a *App) EditMessage(subject, messageID, content string) (domain.Message, error) {
	callerID, err := a.caller(subject)
	if err != nil {
		return domain.Message{}, err
	}
	msg, ok, err := a.store.GetMessage(messageID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("load message: %w", err)
	}
	if !ok || msg.DeletedAt != nil {
		return domain.Message{}, ErrNotFound
	}
	if msg.SenderID != callerID {
		return domain.Message{}, ErrUnauthorized
	}
	// The store refuses the write if a global delete landed since the read
	// above; the delete guard and the content write share one row lock.
	updated, ok, err := a.store.UpdateMessageContent(msg.ID, strings.TrimSpace(content))
	if err != nil {
		return domain.Message{}, fmt.Errorf("update message: %w", err)
	}
	if !ok {
		return domain.Message{}, ErrNotFound
	}
	a.invalidateMessage(updated)
	return updated, nil
}

// DeleteMessage applies one of the two delete scopes. "everyone" is
// sender-only and stamps the global delete time; "me" is open to any
// participant and adds the caller to the per-user set. Both idempotent.
func (a *App) DeleteMessage(subject, messageID string, scope domain.DeleteScope) error {
	callerID, err := a.caller(subject)
	if err != nil {
		return err
	}
	msg, ok, err := a.store.GetMessage(messageID)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	switch scope {
	case domain.DeleteForEveryone:
		if msg.SenderID != callerID {
			return ErrUnauthorized
		}
		if err := a.store.MarkMessageDeleted(msg.ID, a.now().UTC()); err != nil {
			return fmt.Errorf("mark deleted: %w", err)
		}
	case domain.DeleteForMe:
		conversation, ok, err := a.store.GetConversation(msg.ConversationID)
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		if !ok || !conversation.HasParticipant(callerID) {
			return ErrUnauthorized
		}
		if err := a.store.AddMessageDeletedFor(msg.ID, callerID); err != nil {
			return fmt.Errorf("add deleted-for: %w", err)
		}
	default:
		return fmt.Errorf("unknown delete scope %q", scope)
	}
	a.invalidateMessage(msg)
	return nil
}

func (a *App) invalidateMessage(msg domain.Message) {
	keys := []live.Key{
		{Entity: live.EntityMessage, ID: msg.ID},
		live.MessageListKey(msg.ConversationID),
	}
	if conversation, ok, err := a.store.GetConversation(msg.ConversationID); err == nil && ok {
		keys = append(keys,
			live.ConversationListKey(conversation.Participant1),
			live.ConversationListKey(conversation.Participant2),
		)
	}
	a.publish(keys...)
}

// ListMessages returns the caller's view of a conversation: ascending by
// creation time, rows deleted-for-caller dropped entirely, globally deleted
// rows reduced to a placeholder, each annotated with the sender profile and
// an isRead flag derived from the OTHER participant's watermark.
func (a *App) ListMessages(subject, conversationID string) ([]domain.MessageView, error) {
	callerID, err := a.caller(subject)
	if err != nil {
		return nil, nil
	}
	conversation, ok, err := a.store.GetConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !ok || !conversation.HasParticipant(callerID) {
		return nil, nil
	}
	messages, receipts, err := a.store.ListConversationData(conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation data: %w", err)
	}
	otherReceipt, hasOtherReceipt := findReceipt(receipts, conversation.Other(callerID))
	senders := make(map[string]domain.User, 2)
	views := make([]domain.MessageView, 0, len(messages))
	for _, msg := range messages {
		if containsID(msg.DeletedFor, callerID) {
			continue
		}
		if msg.DeletedAt != nil {
			msg.Content = deletePlaceholder(msg.SenderID == callerID)
		}
		sender, cached := senders[msg.SenderID]
		if !cached {
			sender, _, err = a.store.GetUserByID(msg.SenderID)
			if err != nil {
				return nil, fmt.Errorf("load sender: %w", err)
			}
			senders[msg.SenderID] = sender
		}
		views = append(views, domain.MessageView{
			Message: msg,
			Sender:  sender,
			// read iff the other side's watermark has passed this message
			IsRead: hasOtherReceipt && !otherReceipt.LastReadAt.Before(msg.CreatedAt),
		})
	}
	return views, nil
}

// MarkAsRead moves the caller's watermark to now. Idempotent upsert; the
// single watermark is the sole source of read/unread truth, no per-message
// flag exists.
func (a *App) MarkAsRead(subject, conversationID string) error {
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
	if err := a.store.UpsertReadReceipt(domain.ReadReceipt{
		ConversationID: conversationID,
		UserID:         callerID,
		LastReadAt:     a.now().UTC(),
	}); err != nil {
		return fmt.Errorf("upsert receipt: %w", err)
	}
	a.publish(
		live.Key{Entity: live.EntityReceipt, ID: conversationID + "/" + callerID},
		live.MessageListKey(conversationID),
		live.ConversationListKey(callerID),
	)
	return nil
}

// UnreadCount reports how many visible messages from the other participant
// arrived after the caller's watermark. A missing receipt counts as "never
// read".
func (a *App) UnreadCount(subject, conversationID string) (int, error) {
	callerID, err := a.caller(subject)
	if err != nil {
		return 0, nil
	}
	conversation, ok, err := a.store.GetConversation(conversationID)
	if err != nil {
		return 0, fmt.Errorf("load conversation: %w", err)
	}
	if !ok || !conversation.HasParticipant(callerID) {
		return 0, nil
	}
	view, err := a.buildConversationView(conversation, callerID)
	if err != nil {
		return 0, err
	}
	return view.UnreadCount, nil
}
