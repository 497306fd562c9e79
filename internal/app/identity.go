package app

import (
	"fmt"

	"bundlechat/internal/live"
	"bundlechat/internal/util"
	"bundlechat/pkg/domain"
)

// ProfileHints carries the provider-supplied profile fields that accompany
// a verified subject on sign-in.
type ProfileHints struct {
	Username string
	Email    string
	ImageURL string
}

// ProfileUpdate carries the caller's own overrides. Nil fields are left
// untouched; set fields replace the custom values, never the canonical
// provider-synced ones.
type ProfileUpdate struct {
	CustomUsername *string
	CustomImageURL *string
	ImageKey       *string
	Bio            *string
}

// ResolveOrCreate upserts the caller's user record keyed by the external
// subject and marks them online. First sight of a subject creates the
// record and bootstraps a "Personal" workspace so the "everyone belongs to
// at least one workspace" invariant holds from onboarding on.
func (a *App) ResolveOrCreate(subject string, hints ProfileHints) (domain.User, error) {
	if subject == "" {
		return domain.User{}, ErrUnauthenticated
	}
	now := a.now().UTC()
	candidate := domain.User{
		ID:        util.NewID(),
		Subject:   subject,
		Username:  hints.Username,
		Email:     hints.Email,
		ImageURL:  hints.ImageURL,
		IsOnline:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	user, created, err := a.store.GetOrCreateUserBySubject(candidate)
	if err != nil {
		return domain.User{}, fmt.Errorf("resolve user: %w", err)
	}
	if !created {
		// Only flip the online flag. Username and avatar are not
		// overwritten from the provider: the user may carry custom ones.
		if err := a.store.SetUserOnline(user.ID, true, now); err != nil {
			return domain.User{}, fmt.Errorf("mark online: %w", err)
		}
		user.IsOnline = true
		user.UpdatedAt = now
	}
	if created {
		// The creating call alone bootstraps, so a burst of first
		// sign-ins yields exactly one Personal workspace.
		workspace := domain.Workspace{
			ID:        util.NewID(),
			Name:      "Personal",
			AdminID:   user.ID,
			CreatedAt: now,
		}
		if err := a.store.SaveWorkspace(workspace); err != nil {
			return domain.User{}, fmt.Errorf("bootstrap workspace: %w", err)
		}
		if err := a.store.SaveMembership(domain.WorkspaceMember{
			WorkspaceID: workspace.ID,
			UserID:      user.ID,
			Role:        domain.RoleAdmin,
			CreatedAt:   now,
		}); err != nil {
			return domain.User{}, fmt.Errorf("bootstrap membership: %w", err)
		}
		a.publish(
			live.Key{Entity: live.EntityWorkspace, ID: workspace.ID},
			live.Key{Entity: live.EntityMembership, ID: user.ID},
		)
	}
	a.publish(live.Key{Entity: live.EntityUser, ID: user.ID})
	return user, nil
}

// MarkOffline flips the online flag off. Fire-and-forget: unknown subjects
// are a no-op and the caller's navigation must never block on it.
func (a *App) MarkOffline(subject string) error {
	user, ok, err := a.store.GetUserBySubject(subject)
	if err != nil || !ok {
		return nil
	}
	if err := a.store.SetUserOnline(user.ID, false, a.now().UTC()); err != nil {
		return nil
	}
	a.publish(live.Key{Entity: live.EntityUser, ID: user.ID})
	return nil
}

// CurrentUser returns the caller's record, or ok=false for an unknown or
// absent identity (reads treat absence as a normal state).
func (a *App) CurrentUser(subject string) (domain.User, bool, error) {
	if subject == "" {
		return domain.User{}, false, nil
	}
	return a.store.GetUserBySubject(subject)
}

// ListUsers returns everyone except the caller. Unauthenticated callers get
// an empty list.
func (a *App) ListUsers(subject string) ([]domain.User, error) {
	callerID, err := a.caller(subject)
	if err != nil {
		return nil, nil
	}
	all, err := a.store.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := all[:0]
	for _, u := range all {
		if u.ID != callerID {
			out = append(out, u)
		}
	}
	return out, nil
}

// UpdateProfile applies the caller's custom overrides. An uploaded image
// key is resolved to a durable URL before persisting.
func (a *App) UpdateProfile(subject string, update ProfileUpdate) (domain.User, error) {
	callerID, err := a.caller(subject)
	if err != nil {
		return domain.User{}, err
	}
	user, ok, err := a.store.GetUserByID(callerID)
	if err != nil || !ok {
		return domain.User{}, ErrUnauthenticated
	}
	if update.CustomUsername != nil {
		user.CustomUsername = *update.CustomUsername
	}
	if update.CustomImageURL != nil {
		user.CustomImageURL = *update.CustomImageURL
	}
	if update.Bio != nil {
		user.Bio = *update.Bio
	}
	if update.ImageKey != nil && a.objects != nil {
		user.CustomImageURL = a.objects.ContentURL(*update.ImageKey)
	}
	user.UpdatedAt = a.now().UTC()
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	a.publish(live.Key{Entity: live.EntityUser, ID: user.ID})
	return user, nil
}

// SetContactAlias stores an owner-private display name for another user.
func (a *App) SetContactAlias(subject, contactUserID, alias string) error {
	callerID, err := a.caller(subject)
	if err != nil {
		return err
	}
	if _, ok, err := a.store.GetUserByID(contactUserID); err != nil {
		return fmt.Errorf("lookup contact: %w", err)
	} else if !ok {
		return ErrNotFound
	}
	if err := a.store.UpsertContact(domain.Contact{
		OwnerID:       callerID,
		ContactUserID: contactUserID,
		Alias:         alias,
		CreatedAt:     a.now().UTC(),
	}); err != nil {
		return fmt.Errorf("save contact: %w", err)
	}
	a.publish(live.Key{Entity: live.EntityUser, ID: callerID})
	return nil
}

// ListContacts returns the caller's aliases; empty when unauthenticated.
func (a *App) ListContacts(subject string) ([]domain.Contact, error) {
	callerID, err := a.caller(subject)
	if err != nil {
		return nil, nil
	}
	return a.store.ListContactsByOwner(callerID)
}
