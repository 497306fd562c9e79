package app

import (
	"context"
	"testing"
	"time"

	"bundlechat/pkg/store"
)

func TestTypingLifecycle(t *testing.T) {
	a, clock := newTestApp(t)
	conversationID := pairConversation(t, a)
	ctx := context.Background()

	if err := a.SetTyping(ctx, "sub-bob", conversationID); err != nil {
		t.Fatalf("set typing: %v", err)
	}

	names, err := a.ListTyping(ctx, "sub-alice", conversationID)
	if err != nil {
		t.Fatalf("list typing: %v", err)
	}
	if len(names) != 1 || names[0] != "bob" {
		t.Fatalf("expected bob typing, got %+v", names)
	}

	// The caller's own entry is filtered out.
	names, err = a.ListTyping(ctx, "sub-bob", conversationID)
	if err != nil {
		t.Fatalf("bob list typing: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("caller sees their own typing entry: %+v", names)
	}

	if err := a.ClearTyping(ctx, "sub-bob", conversationID); err != nil {
		t.Fatalf("clear typing: %v", err)
	}
	names, err = a.ListTyping(ctx, "sub-alice", conversationID)
	if err != nil {
		t.Fatalf("list after clear: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("typing entry survived clear: %+v", names)
	}

	// Entries decay by TTL without an explicit clear.
	if err := a.SetTyping(ctx, "sub-bob", conversationID); err != nil {
		t.Fatalf("set typing again: %v", err)
	}
	clock.Advance(store.TypingTTL + time.Millisecond)
	names, err = a.ListTyping(ctx, "sub-alice", conversationID)
	if err != nil {
		t.Fatalf("list after ttl: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("typing entry survived the ttl: %+v", names)
	}
}

func TestTypingRefreshExtendsTTL(t *testing.T) {
	a, clock := newTestApp(t)
	conversationID := pairConversation(t, a)
	ctx := context.Background()

	if err := a.SetTyping(ctx, "sub-bob", conversationID); err != nil {
		t.Fatalf("set typing: %v", err)
	}
	clock.Advance(store.TypingTTL / 2)
	if err := a.SetTyping(ctx, "sub-bob", conversationID); err != nil {
		t.Fatalf("refresh typing: %v", err)
	}
	clock.Advance(store.TypingTTL / 2)

	names, err := a.ListTyping(ctx, "sub-alice", conversationID)
	if err != nil {
		t.Fatalf("list typing: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("refreshed entry expired early: %+v", names)
	}
}

func TestTypingDisplayNamePrefersCustom(t *testing.T) {
	a, _ := newTestApp(t)
	conversationID := pairConversation(t, a)
	ctx := context.Background()

	custom := "Bobby"
	if _, err := a.UpdateProfile("sub-bob", ProfileUpdate{CustomUsername: &custom}); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if err := a.SetTyping(ctx, "sub-bob", conversationID); err != nil {
		t.Fatalf("set typing: %v", err)
	}
	names, err := a.ListTyping(ctx, "sub-alice", conversationID)
	if err != nil {
		t.Fatalf("list typing: %v", err)
	}
	if len(names) != 1 || names[0] != "Bobby" {
		t.Fatalf("expected custom display name, got %+v", names)
	}
}

func TestClearTypingSwallowsUnauthenticated(t *testing.T) {
	a, _ := newTestApp(t)
	conversationID := pairConversation(t, a)

	if err := a.ClearTyping(context.Background(), "", conversationID); err != nil {
		t.Fatalf("unauthenticated clear should be a no-op, got %v", err)
	}
}
