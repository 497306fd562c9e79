package app

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestResolveOrCreateBootstrapsPersonalWorkspace(t *testing.T) {
	a, _ := newTestApp(t)

	user := signIn(t, a, "sub-alice", "alice", "alice@example.com")
	if user.ID == "" {
		t.Fatalf("expected generated user id")
	}
	if !user.IsOnline {
		t.Fatalf("expected user online after sign-in")
	}

	workspaces, err := a.ListMyWorkspaces("sub-alice")
	if err != nil {
		t.Fatalf("list workspaces: %v", err)
	}
	if len(workspaces) != 1 {
		t.Fatalf("expected one bootstrap workspace, got %d", len(workspaces))
	}
	if workspaces[0].Name != "Personal" {
		t.Fatalf("unexpected workspace name: %q", workspaces[0].Name)
	}
	if workspaces[0].AdminID != user.ID {
		t.Fatalf("expected user to admin the bootstrap workspace")
	}
}

func TestResolveOrCreateIsIdempotentAndPreservesCustomProfile(t *testing.T) {
	a, _ := newTestApp(t)

	first := signIn(t, a, "sub-alice", "alice", "alice@example.com")
	custom := "ally"
	if _, err := a.UpdateProfile("sub-alice", ProfileUpdate{CustomUsername: &custom}); err != nil {
		t.Fatalf("update profile: %v", err)
	}

	// Provider hints on a later sign-in must not clobber the record.
	second, err := a.ResolveOrCreate("sub-alice", ProfileHints{Username: "renamed", Email: "new@example.com"})
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same user, got %q vs %q", second.ID, first.ID)
	}
	if second.Username != "alice" || second.Email != "alice@example.com" {
		t.Fatalf("provider hints overwrote the record: %+v", second)
	}
	if second.CustomUsername != "ally" {
		t.Fatalf("custom username lost: %q", second.CustomUsername)
	}
	if second.DisplayName() != "ally" {
		t.Fatalf("display name should prefer custom, got %q", second.DisplayName())
	}

	workspaces, err := a.ListMyWorkspaces("sub-alice")
	if err != nil {
		t.Fatalf("list workspaces: %v", err)
	}
	if len(workspaces) != 1 {
		t.Fatalf("second sign-in must not bootstrap again, got %d workspaces", len(workspaces))
	}
}

func TestResolveOrCreateRequiresSubject(t *testing.T) {
	a, _ := newTestApp(t)
	if _, err := a.ResolveOrCreate("", ProfileHints{}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestMarkOfflineIsFireAndForget(t *testing.T) {
	a, _ := newTestApp(t)
	signIn(t, a, "sub-alice", "alice", "alice@example.com")

	if err := a.MarkOffline("sub-alice"); err != nil {
		t.Fatalf("mark offline: %v", err)
	}
	user, ok, err := a.CurrentUser("sub-alice")
	if err != nil || !ok {
		t.Fatalf("current user: ok=%v err=%v", ok, err)
	}
	if user.IsOnline {
		t.Fatalf("expected user offline")
	}

	// Unknown subject is a silent no-op.
	if err := a.MarkOffline("sub-ghost"); err != nil {
		t.Fatalf("mark offline unknown subject: %v", err)
	}
}

func TestListUsersExcludesCallerAndUnauthenticatedGetsEmpty(t *testing.T) {
	a, _ := newTestApp(t)
	alice := signIn(t, a, "sub-alice", "alice", "alice@example.com")
	bob := signIn(t, a, "sub-bob", "bob", "bob@example.com")

	users, err := a.ListUsers("sub-alice")
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0].ID != bob.ID {
		t.Fatalf("expected only bob, got %+v", users)
	}
	for _, u := range users {
		if u.ID == alice.ID {
			t.Fatalf("caller leaked into user list")
		}
	}

	users, err = a.ListUsers("")
	if err != nil {
		t.Fatalf("unauthenticated list users: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("unauthenticated caller should see nothing, got %d", len(users))
	}
}

func TestUpdateProfileResolvesImageKey(t *testing.T) {
	a, _ := newTestApp(t)
	signIn(t, a, "sub-alice", "alice", "alice@example.com")

	key := "uploads/abc"
	bio := "hi there"
	user, err := a.UpdateProfile("sub-alice", ProfileUpdate{ImageKey: &key, Bio: &bio})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if user.CustomImageURL != "https://objects.test/uploads/abc" {
		t.Fatalf("image key not resolved to url: %q", user.CustomImageURL)
	}
	if user.Bio != "hi there" {
		t.Fatalf("bio not applied: %q", user.Bio)
	}
}

func TestSetContactAlias(t *testing.T) {
	a, _ := newTestApp(t)
	signIn(t, a, "sub-alice", "alice", "alice@example.com")
	bob := signIn(t, a, "sub-bob", "bob", "bob@example.com")

	if err := a.SetContactAlias("sub-alice", bob.ID, "Bobby"); err != nil {
		t.Fatalf("set alias: %v", err)
	}
	contacts, err := a.ListContacts("sub-alice")
	if err != nil {
		t.Fatalf("list contacts: %v", err)
	}
	if len(contacts) != 1 || contacts[0].ContactUserID != bob.ID || contacts[0].Alias != "Bobby" {
		t.Fatalf("unexpected contacts: %+v", contacts)
	}

	// Aliases are owner-private.
	contacts, err = a.ListContacts("sub-bob")
	if err != nil {
		t.Fatalf("list bob contacts: %v", err)
	}
	if len(contacts) != 0 {
		t.Fatalf("alias leaked to the other side: %+v", contacts)
	}

	if err := a.SetContactAlias("sub-alice", "missing-user", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown target, got %v", err)
	}
}

func TestGenerateUploadSlot(t *testing.T) {
	a, _ := newTestApp(t)
	signIn(t, a, "sub-alice", "alice", "alice@example.com")

	slot, err := a.GenerateUploadSlot(context.Background(), "sub-alice")
	if err != nil {
		t.Fatalf("generate slot: %v", err)
	}
	if slot.Key == "" || slot.URL == "" {
		t.Fatalf("expected key and url, got %+v", slot)
	}

	if _, err := a.GenerateUploadSlot(context.Background(), ""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestResolveOrCreateConcurrentFirstSignIn(t *testing.T) {
	a, _ := newTestApp(t)

	const callers = 8
	ids := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user, err := a.ResolveOrCreate("sub-racer", ProfileHints{Username: "racer", Email: "racer@example.com"})
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			ids <- user.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	if len(seen) != 1 {
		t.Fatalf("concurrent sign-ins created %d users for one subject", len(seen))
	}
	workspaces, err := a.ListMyWorkspaces("sub-racer")
	if err != nil {
		t.Fatalf("list workspaces: %v", err)
	}
	if len(workspaces) != 1 || workspaces[0].Name != "Personal" {
		t.Fatalf("bootstrap ran more than once: %+v", workspaces)
	}
}
