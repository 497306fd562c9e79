package app

import (
	"fmt"

	"bundlechat/internal/live"
	"bundlechat/internal/util"
	"bundlechat/pkg/domain"
)

// CreateWorkspace creates a workspace with the caller as sole admin and
// member.
func (a *App) CreateWorkspace(subject, name, imageURL string) (domain.Workspace, error) {
	callerID, err := a.caller(subject)
	if err != nil {
		return domain.Workspace{}, err
	}
	now := a.now().UTC()
	workspace := domain.Workspace{
		ID:        util.NewID(),
		Name:      name,
		AdminID:   callerID,
		ImageURL:  imageURL,
		CreatedAt: now,
	}
	if err := a.store.SaveWorkspace(workspace); err != nil {
		return domain.Workspace{}, fmt.Errorf("save workspace: %w", err)
	}
	if err := a.store.SaveMembership(domain.WorkspaceMember{
		WorkspaceID: workspace.ID,
		UserID:      callerID,
		Role:        domain.RoleAdmin,
		CreatedAt:   now,
	}); err != nil {
		return domain.Workspace{}, fmt.Errorf("save membership: %w", err)
	}
	a.publish(
		live.Key{Entity: live.EntityWorkspace, ID: workspace.ID},
		live.Key{Entity: live.EntityMembership, ID: callerID},
	)
	return workspace, nil
}

// ListMyWorkspaces returns every workspace the caller holds a membership
// in, admin or not. Empty for unauthenticated callers.
func (a *App) ListMyWorkspaces(subject string) ([]domain.Workspace, error) {
	callerID, err := a.caller(subject)
	if err != nil {
		return nil, nil
	}
	memberships, err := a.store.ListMembershipsByUser(callerID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	out := make([]domain.Workspace, 0, len(memberships))
	for _, member := range memberships {
		workspace, ok, err := a.store.GetWorkspace(member.WorkspaceID)
		if err != nil {
			return nil, fmt.Errorf("load workspace: %w", err)
		}
		if ok {
			out = append(out, workspace)
		}
	}
	return out, nil
}

// AddMemberByEmail adds the user with the given email to the workspace.
// Admin-only; adding an existing member returns without duplicating.
func (a *App) AddMemberByEmail(subject, workspaceID, email string) (domain.WorkspaceMember, error) {
	target, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.WorkspaceMember{}, fmt.Errorf("lookup email: %w", err)
	}
	if !ok {
		return domain.WorkspaceMember{}, ErrNotFound
	}
	return a.addMember(subject, workspaceID, target.ID)
}

// AddMemberByID adds an existing user to the workspace. Admin-only,
// idempotent.
func (a *App) AddMemberByID(subject, workspaceID, userID string) (domain.WorkspaceMember, error) {
	if _, ok, err := a.store.GetUserByID(userID); err != nil {
		return domain.WorkspaceMember{}, fmt.Errorf("lookup user: %w", err)
	} else if !ok {
		return domain.WorkspaceMember{}, ErrNotFound
	}
	return a.addMember(subject, workspaceID, userID)
}

func (a *App) addMember(subject, workspaceID, userID string) (domain.WorkspaceMember, error) {
	callerID, err := a.caller(subject)
	if err != nil {
		return domain.WorkspaceMember{}, err
	}
	if err := a.requireAdmin(workspaceID, callerID); err != nil {
		return domain.WorkspaceMember{}, err
	}
	if existing, ok, err := a.store.GetMembership(workspaceID, userID); err != nil {
		return domain.WorkspaceMember{}, fmt.Errorf("lookup membership: %w", err)
	} else if ok {
		return existing, nil
	}
	member := domain.WorkspaceMember{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Role:        domain.RoleMember,
		CreatedAt:   a.now().UTC(),
	}
	if err := a.store.SaveMembership(member); err != nil {
		return domain.WorkspaceMember{}, fmt.Errorf("save membership: %w", err)
	}
	a.publish(
		live.Key{Entity: live.EntityWorkspace, ID: workspaceID},
		live.Key{Entity: live.EntityMembership, ID: userID},
	)
	return member, nil
}

// RemoveMember drops a membership. Admin-only; removing a non-member is a
// no-op.
func (a *App) RemoveMember(subject, workspaceID, userID string) error {
	callerID, err := a.caller(subject)
	if err != nil {
		return err
	}
	if err := a.requireAdmin(workspaceID, callerID); err != nil {
		return err
	}
	if err := a.store.DeleteMembership(workspaceID, userID); err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	a.publish(
		live.Key{Entity: live.EntityWorkspace, ID: workspaceID},
		live.Key{Entity: live.EntityMembership, ID: userID},
	)
	return nil
}

// ListMembers resolves a workspace's members to user records. Membership
// visibility is admin-restricted: the bundle owner curates contacts,
// members do not see each other through this call.
func (a *App) ListMembers(subject, workspaceID string) ([]domain.User, error) {
	callerID, err := a.caller(subject)
	if err != nil {
		return nil, nil
	}
	if err := a.requireAdmin(workspaceID, callerID); err != nil {
		return nil, err
	}
	memberships, err := a.store.ListMembershipsByWorkspace(workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	out := make([]domain.User, 0, len(memberships))
	for _, member := range memberships {
		user, ok, err := a.store.GetUserByID(member.UserID)
		if err != nil {
			return nil, fmt.Errorf("load member: %w", err)
		}
		if ok {
			out = append(out, user)
		}
	}
	return out, nil
}

func (a *App) requireAdmin(workspaceID, userID string) error {
	workspace, ok, err := a.store.GetWorkspace(workspaceID)
	if err != nil {
		return fmt.Errorf("load workspace: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	if workspace.AdminID != userID {
		return ErrUnauthorized
	}
	return nil
}
