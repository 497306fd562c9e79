package store

import (
	"context"
	"time"

	"bundlechat/pkg/domain"
)

// Store defines persistence for users, workspaces, conversations, messages,
// read receipts, and contact aliases. Lookups report absence via the bool
// return; reads never treat absence as an error. Every read-modify-write
// the app needs is a single Store operation, so implementations can run it
// under one lock section or one DB transaction; the app never composes a
// get-then-save across store calls.
type Store interface {
	// users
	SaveUser(domain.User) error
	// GetOrCreateUserBySubject inserts candidate unless a user with the
	// same subject already exists; the stored row wins. The bool reports
	// whether candidate was inserted.
	GetOrCreateUserBySubject(candidate domain.User) (domain.User, bool, error)
	// SetUserOnline flips only the online flag, leaving profile fields
	// untouched.
	SetUserOnline(userID string, online bool, at time.Time) error
	GetUserBySubject(subject string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)

	// workspaces and memberships
	SaveWorkspace(domain.Workspace) error
	GetWorkspace(id string) (domain.Workspace, bool, error)
	SaveMembership(domain.WorkspaceMember) error
	GetMembership(workspaceID, userID string) (domain.WorkspaceMember, bool, error)
	ListMembershipsByUser(userID string) ([]domain.WorkspaceMember, error)
	ListMembershipsByWorkspace(workspaceID string) ([]domain.WorkspaceMember, error)
	DeleteMembership(workspaceID, userID string) error

	// conversations
	// GetOrCreateConversationByPair inserts candidate unless a row for the
	// (symmetric) pair already exists; the stored row wins. At most one
	// row ever exists per pair. The bool reports insertion.
	GetOrCreateConversationByPair(userA, userB string, candidate domain.Conversation) (domain.Conversation, bool, error)
	// ReopenConversationFor removes userID from the hidden-for set and,
	// when workspaceID is non-empty and the row is unbound, binds the row
	// to it. Returns the row after the change and whether anything
	// changed; a missing row is a no-op.
	ReopenConversationFor(conversationID, userID, workspaceID string) (domain.Conversation, bool, error)
	GetConversation(id string) (domain.Conversation, bool, error)
	// FindConversationByPair matches both participant orderings; (A,B) and
	// (B,A) resolve to the same row.
	FindConversationByPair(userA, userB string) (domain.Conversation, bool, error)
	ListConversationsByParticipant(userID string) ([]domain.Conversation, error)
	// ClearConversationFor atomically adds userID to every message's
	// deleted-for set and to the conversation's hidden-for set. Idempotent.
	ClearConversationFor(conversationID, userID string) error

	// messages
	// CreateMessage inserts the message and upserts the sender's read
	// receipt in a single transaction.
	CreateMessage(msg domain.Message, receipt domain.ReadReceipt) error
	GetMessage(id string) (domain.Message, bool, error)
	// AddMessageDeletedFor adds userID to the message's per-user delete
	// set without touching any other column. Idempotent; missing rows are
	// a no-op.
	AddMessageDeletedFor(messageID, userID string) error
	// MarkMessageDeleted stamps the global delete time once; a row already
	// deleted keeps its original timestamp.
	MarkMessageDeleted(messageID string, at time.Time) error
	// UpdateMessageContent rewrites content and sets the edited flag,
	// refusing rows that are missing or globally deleted (ok=false).
	UpdateMessageContent(messageID, content string) (domain.Message, bool, error)
	ListMessagesByConversation(conversationID string) ([]domain.Message, error)

	// read receipts
	UpsertReadReceipt(domain.ReadReceipt) error
	GetReadReceipt(conversationID, userID string) (domain.ReadReceipt, bool, error)
	// ListConversationData returns a conversation's messages (ascending by
	// creation time) together with both participants' receipts, read under
	// one snapshot.
	ListConversationData(conversationID string) ([]domain.Message, []domain.ReadReceipt, error)

	// contact aliases
	UpsertContact(domain.Contact) error
	ListContactsByOwner(ownerID string) ([]domain.Contact, error)
}

// PresenceStore tracks ephemeral typing state. Entries older than the TTL
// are treated as absent at read time; implementations may or may not
// physically expire them.
type PresenceStore interface {
	SetTyping(ctx context.Context, conversationID, userID string) error
	ClearTyping(ctx context.Context, conversationID, userID string) error
	// ActiveTypists returns user IDs with a live (unexpired) typing entry.
	ActiveTypists(ctx context.Context, conversationID string) ([]string, error)
}

// TypingTTL is how long an unrefreshed typing entry stays visible.
const TypingTTL = 3000 * time.Millisecond
