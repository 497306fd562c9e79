package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. The hidden_for / deleted_for columns
// hold per-user visibility sets as JSON arrays on the shared row; the row
// itself is never duplicated per viewer.
type UserModel struct {
	ID             string `gorm:"primaryKey"`
	Subject        string `gorm:"uniqueIndex;not null"`
	Username       string `gorm:"not null"`
	Email          string `gorm:"uniqueIndex;not null"`
	ImageURL       string
	IsOnline       bool
	CustomUsername string
	CustomImageURL string
	Bio            string
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time
}

type WorkspaceModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	AdminID   string `gorm:"not null;index"`
	ImageURL  string
	CreatedAt time.Time `gorm:"not null"`
}

type WorkspaceMemberModel struct {
	WorkspaceID string    `gorm:"primaryKey"`
	UserID      string    `gorm:"primaryKey;index"`
	Role        string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

type ConversationModel struct {
	ID           string `gorm:"primaryKey"`
	Participant1 string `gorm:"not null;index"`
	Participant2 string `gorm:"not null;index"`
	// PairKey is the order-normalized participant pair; its unique index
	// is what holds the one-row-per-pair invariant under concurrent
	// creates.
	PairKey       string `gorm:"uniqueIndex;not null"`
	WorkspaceID   string `gorm:"index"`
	LastMessageID string
	HiddenFor     datatypes.JSON
	CreatedAt     time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID             string `gorm:"primaryKey"`
	ConversationID string `gorm:"not null;index"`
	SenderID       string `gorm:"not null;index"`
	Content        string `gorm:"type:text;not null"`
	Type           string `gorm:"not null"`
	IsEdited       bool
	DeletedAt      *time.Time
	DeletedFor     datatypes.JSON
	CreatedAt      time.Time `gorm:"not null;index"`
}

type ReadReceiptModel struct {
	ConversationID string    `gorm:"primaryKey"`
	UserID         string    `gorm:"primaryKey;index"`
	LastReadAt     time.Time `gorm:"not null"`
}

type ContactModel struct {
	OwnerID       string `gorm:"primaryKey"`
	ContactUserID string `gorm:"primaryKey"`
	Alias         string
	CreatedAt     time.Time `gorm:"not null"`
}

// canonicalPair normalizes a participant pair so both orderings map to the
// same key.
func canonicalPair(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

func encodeIDSet(ids []string) datatypes.JSON {
	if len(ids) == 0 {
		return nil
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func decodeIDSet(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil
	}
	return ids
}

// containsID is the set membership test for per-user visibility sets.
func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// appendID adds id to the set if absent, preserving idempotence.
func appendID(ids []string, id string) []string {
	if containsID(ids, id) {
		return ids
	}
	return append(ids, id)
}

// removeID drops id from the set if present.
func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
