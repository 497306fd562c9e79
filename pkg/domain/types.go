package domain

import "time"

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

type MemberRole string

const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// DeleteScope selects who a message deletion applies to.
type DeleteScope string

const (
	DeleteForMe       DeleteScope = "me"
	DeleteForEveryone DeleteScope = "everyone"
)

// User is a profile synced from the external identity provider. Custom
// fields override the provider-supplied ones and are never overwritten on
// later sign-ins.
type User struct {
	ID             string    `json:"id"`
	Subject        string    `json:"-"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	IsOnline       bool      `json:"isOnline"`
	CustomUsername string    `json:"customUsername,omitempty"`
	CustomImageURL string    `json:"customImageUrl,omitempty"`
	Bio            string    `json:"bio,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DisplayName prefers the user's custom name over the provider one.
func (u User) DisplayName() string {
	if u.CustomUsername != "" {
		return u.CustomUsername
	}
	return u.Username
}

// Workspace ("bundle") groups which conversations and contacts are visible
// together. Exactly one admin; the admin is implicitly a member.
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AdminID   string    `json:"adminId"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type WorkspaceMember struct {
	WorkspaceID string     `json:"workspaceId"`
	UserID      string     `json:"userId"`
	Role        MemberRole `json:"role"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Conversation is the single canonical thread between an unordered pair of
// users. WorkspaceID is a visibility filter, not a partition key: the same
// row serves every workspace that references the pair. HiddenFor is a
// per-user soft hide over the shared row.
type Conversation struct {
	ID            string    `json:"id"`
	Participant1  string    `json:"participant1"`
	Participant2  string    `json:"participant2"`
	WorkspaceID   string    `json:"workspaceId,omitempty"`
	LastMessageID string    `json:"lastMessageId,omitempty"`
	HiddenFor     []string  `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Other returns the participant that is not userID.
func (c Conversation) Other(userID string) string {
	if c.Participant1 == userID {
		return c.Participant2
	}
	return c.Participant1
}

// HasParticipant reports whether userID is one of the two participants.
func (c Conversation) HasParticipant(userID string) bool {
	return c.Participant1 == userID || c.Participant2 == userID
}

// Message content is self-describing: literal text for text messages, a
// durable object URL for image/file messages. Rows are never hard-deleted;
// DeletedAt hides the content globally, DeletedFor hides the row per user.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	IsEdited       bool        `json:"isEdited"`
	DeletedAt      *time.Time  `json:"deletedAt,omitempty"`
	DeletedFor     []string    `json:"-"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// ReadReceipt is the per-(conversation, user) watermark that replaces
// per-message read flags.
type ReadReceipt struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	LastReadAt     time.Time `json:"lastReadAt"`
}

// Contact is an owner-private alias for another user; it never touches the
// contact's canonical record.
type Contact struct {
	OwnerID       string    `json:"ownerId"`
	ContactUserID string    `json:"contactUserId"`
	Alias         string    `json:"alias"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ConversationView is a conversation enriched for the caller's list query.
type ConversationView struct {
	Conversation
	OtherUser   User     `json:"otherUser"`
	LastMessage *Message `json:"lastMessage,omitempty"`
	UnreadCount int      `json:"unreadCount"`
}

// MessageView is a message annotated for the caller's list query.
type MessageView struct {
	Message
	Sender User `json:"sender"`
	IsRead bool `json:"isRead"`
}
