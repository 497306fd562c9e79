package app

import (
	"context"
	"fmt"

	"bundlechat/internal/live"
)

// SetTyping refreshes the caller's typing entry for a conversation. The
// signal is best-effort and lossy: races with ClearTyping are acceptable
// because entries self-heal via TTL expiry.
func (a *App) SetTyping(ctx context.Context, subject, conversationID string) error {
	callerID, err := a.caller(subject)
	if err != nil {
		return err
	}
	if err := a.presence.SetTyping(ctx, conversationID, callerID); err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	a.publish(live.TypingKey(conversationID))
	return nil
}

// ClearTyping drops the caller's entry. Fire-and-forget: absence is a
// no-op, and failures are swallowed so tab-close navigation never blocks.
func (a *App) ClearTyping(ctx context.Context, subject, conversationID string) error {
	callerID, err := a.caller(subject)
	if err != nil {
		return nil
	}
	if err := a.presence.ClearTyping(ctx, conversationID, callerID); err != nil {
		return nil
	}
	a.publish(live.TypingKey(conversationID))
	return nil
}

// ListTyping returns the display names of the OTHER participants currently
// typing. Entries older than the TTL are treated as absent at read time
// whether or not they were physically removed.
func (a *App) ListTyping(ctx context.Context, subject, conversationID string) ([]string, error) {
	callerID, err := a.caller(subject)
	if err != nil {
		return nil, nil
	}
	userIDs, err := a.presence.ActiveTypists(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list typists: %w", err)
	}
	var names []string
	for _, userID := range userIDs {
		if userID == callerID {
			continue
		}
		user, ok, err := a.store.GetUserByID(userID)
		if err != nil {
			return nil, fmt.Errorf("load typist: %w", err)
		}
		if ok {
			names = append(names, user.DisplayName())
		}
	}
	return names, nil
}
