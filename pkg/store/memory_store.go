package store

import (
	"sort"
	"sync"
	"time"

	"bundlechat/pkg/domain"
)

// MemoryStore keeps all state in-process. It backs tests and single-node
// development runs; every method holds the store mutex for the whole
// mutation, which gives the same atomicity as a GormStore transaction.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]domain.User // key: user ID
	subjects      map[string]string      // subject -> user ID
	emails        map[string]string      // email -> user ID
	userOrder     []string               // insertion order
	workspaces    map[string]domain.Workspace
	members       map[string]domain.WorkspaceMember // key: workspaceID+"/"+userID
	conversations map[string]domain.Conversation
	messages      map[string][]domain.Message   // key: conversation ID, ascending
	messageIndex  map[string]string             // message ID -> conversation ID
	receipts      map[string]domain.ReadReceipt // key: conversationID+"/"+userID
	contacts      map[string]domain.Contact     // key: ownerID+"/"+contactUserID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		subjects:      make(map[string]string),
		emails:        make(map[string]string),
		workspaces:    make(map[string]domain.Workspace),
		members:       make(map[string]domain.WorkspaceMember),
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
		messageIndex:  make(map[string]string),
		receipts:      make(map[string]domain.ReadReceipt),
		contacts:      make(map[string]domain.Contact),
	}
}

func pairKey(a, b string) string { return a + "/" + b }

func copyIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

func copyConversation(c domain.Conversation) domain.Conversation {
	c.HiddenFor = copyIDs(c.HiddenFor)
	return c
}

func copyMessage(m domain.Message) domain.Message {
	m.DeletedFor = copyIDs(m.DeletedFor)
	return m
}

// SaveUser stores or replaces a user record.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveUserLocked(u)
	return nil
}

func (m *MemoryStore) saveUserLocked(u domain.User) {
	if _, exists := m.users[u.ID]; !exists {
		m.userOrder = append(m.userOrder, u.ID)
	}
	m.users[u.ID] = u
	m.subjects[u.Subject] = u.ID
	m.emails[u.Email] = u.ID
}

// GetOrCreateUserBySubject checks and inserts under one lock section, so
// two concurrent first sign-ins for a subject yield one record.
func (m *MemoryStore) GetOrCreateUserBySubject(candidate domain.User) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.subjects[candidate.Subject]; ok {
		if u, ok := m.users[id]; ok {
			return u, false, nil
		}
	}
	m.saveUserLocked(candidate)
	return candidate, true, nil
}

// SetUserOnline flips only the online flag; unknown IDs are a no-op.
func (m *MemoryStore) SetUserOnline(userID string, online bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	u.IsOnline = online
	u.UpdatedAt = at
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) GetUserBySubject(subject string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.subjects[subject]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// ListUsers returns users in insertion order.
func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.User, 0, len(m.userOrder))
	for _, id := range m.userOrder {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveWorkspace(w domain.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workspaces[w.ID] = w
	return nil
}

func (m *MemoryStore) GetWorkspace(id string) (domain.Workspace, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workspaces[id]
	return w, ok, nil
}

// SaveMembership upserts on the (workspace, user) pair, so repeated adds
// never duplicate.
func (m *MemoryStore) SaveMembership(member domain.WorkspaceMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(member.WorkspaceID, member.UserID)
	if existing, ok := m.members[key]; ok {
		// keep the original role and creation time
		member.Role = existing.Role
		member.CreatedAt = existing.CreatedAt
	}
	m.members[key] = member
	return nil
}

func (m *MemoryStore) GetMembership(workspaceID, userID string) (domain.WorkspaceMember, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	member, ok := m.members[pairKey(workspaceID, userID)]
	return member, ok, nil
}

func (m *MemoryStore) ListMembershipsByUser(userID string) ([]domain.WorkspaceMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.WorkspaceMember
	for _, member := range m.members {
		if member.UserID == userID {
			out = append(out, member)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListMembershipsByWorkspace(workspaceID string) ([]domain.WorkspaceMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.WorkspaceMember
	for _, member := range m.members {
		if member.WorkspaceID == workspaceID {
			out = append(out, member)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DeleteMembership(workspaceID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, pairKey(workspaceID, userID))
	return nil
}

// GetOrCreateConversationByPair checks and inserts under one lock section;
// concurrent calls for the same pair all land on one row.
func (m *MemoryStore) GetOrCreateConversationByPair(userA, userB string, candidate domain.Conversation) (domain.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conversations {
		if (c.Participant1 == userA && c.Participant2 == userB) ||
			(c.Participant1 == userB && c.Participant2 == userA) {
			return copyConversation(c), false, nil
		}
	}
	m.conversations[candidate.ID] = copyConversation(candidate)
	return copyConversation(candidate), true, nil
}

// ReopenConversationFor un-hides the row for userID and binds an unbound
// row to workspaceID, in one lock section.
func (m *MemoryStore) ReopenConversationFor(conversationID, userID, workspaceID string) (domain.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return domain.Conversation{}, false, nil
	}
	changed := false
	if workspaceID != "" && c.WorkspaceID == "" {
		c.WorkspaceID = workspaceID
		changed = true
	}
	if containsID(c.HiddenFor, userID) {
		c.HiddenFor = removeID(c.HiddenFor, userID)
		changed = true
	}
	if changed {
		m.conversations[conversationID] = copyConversation(c)
	}
	return copyConversation(c), changed, nil
}

func (m *MemoryStore) GetConversation(id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	return copyConversation(c), ok, nil
}

func (m *MemoryStore) FindConversationByPair(userA, userB string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.conversations {
		if (c.Participant1 == userA && c.Participant2 == userB) ||
			(c.Participant1 == userB && c.Participant2 == userA) {
			return copyConversation(c), true, nil
		}
	}
	return domain.Conversation{}, false, nil
}

func (m *MemoryStore) ListConversationsByParticipant(userID string) ([]domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Conversation
	for _, c := range m.conversations {
		if c.HasParticipant(userID) {
			out = append(out, copyConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ClearConversationFor(conversationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[conversationID]
	for i := range msgs {
		msgs[i].DeletedFor = appendID(msgs[i].DeletedFor, userID)
	}
	if c, ok := m.conversations[conversationID]; ok {
		c.HiddenFor = appendID(c.HiddenFor, userID)
		m.conversations[conversationID] = c
	}
	return nil
}

// CreateMessage appends the message and upserts the sender's receipt under
// one lock section.
func (m *MemoryStore) CreateMessage(msg domain.Message, receipt domain.ReadReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], copyMessage(msg))
	m.messageIndex[msg.ID] = msg.ConversationID
	m.receipts[pairKey(receipt.ConversationID, receipt.UserID)] = receipt
	if c, ok := m.conversations[msg.ConversationID]; ok {
		c.LastMessageID = msg.ID
		m.conversations[msg.ConversationID] = c
	}
	return nil
}

func (m *MemoryStore) GetMessage(id string) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	convID, ok := m.messageIndex[id]
	if !ok {
		return domain.Message{}, false, nil
	}
	for _, msg := range m.messages[convID] {
		if msg.ID == id {
			return copyMessage(msg), true, nil
		}
	}
	return domain.Message{}, false, nil
}

// AddMessageDeletedFor grows the per-user delete set in place; the read
// and the write share one lock section.
func (m *MemoryStore) AddMessageDeletedFor(messageID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[m.messageIndex[messageID]]
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].DeletedFor = appendID(msgs[i].DeletedFor, userID)
			return nil
		}
	}
	return nil
}

// MarkMessageDeleted stamps the global delete time once.
func (m *MemoryStore) MarkMessageDeleted(messageID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[m.messageIndex[messageID]]
	for i := range msgs {
		if msgs[i].ID == messageID {
			if msgs[i].DeletedAt == nil {
				stamp := at
				msgs[i].DeletedAt = &stamp
			}
			return nil
		}
	}
	return nil
}

// UpdateMessageContent rewrites content unless the row is missing or
// globally deleted; the delete check and the write are one lock section.
func (m *MemoryStore) UpdateMessageContent(messageID, content string) (domain.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[m.messageIndex[messageID]]
	for i := range msgs {
		if msgs[i].ID != messageID {
			continue
		}
		if msgs[i].DeletedAt != nil {
			return domain.Message{}, false, nil
		}
		msgs[i].Content = content
		msgs[i].IsEdited = true
		return copyMessage(msgs[i]), true, nil
	}
	return domain.Message{}, false, nil
}

// ListMessagesByConversation returns messages ascending by creation time.
func (m *MemoryStore) ListMessagesByConversation(conversationID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	out := make([]domain.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, copyMessage(msg))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpsertReadReceipt(r domain.ReadReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[pairKey(r.ConversationID, r.UserID)] = r
	return nil
}

func (m *MemoryStore) GetReadReceipt(conversationID, userID string) (domain.ReadReceipt, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.receipts[pairKey(conversationID, userID)]
	return r, ok, nil
}

// ListConversationData returns messages and receipts under one lock
// section, so the two never disagree about a concurrent write.
func (m *MemoryStore) ListConversationData(conversationID string) ([]domain.Message, []domain.ReadReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	outMsgs := make([]domain.Message, 0, len(msgs))
	for _, msg := range msgs {
		outMsgs = append(outMsgs, copyMessage(msg))
	}
	sort.SliceStable(outMsgs, func(i, j int) bool { return outMsgs[i].CreatedAt.Before(outMsgs[j].CreatedAt) })
	var receipts []domain.ReadReceipt
	for _, r := range m.receipts {
		if r.ConversationID == conversationID {
			receipts = append(receipts, r)
		}
	}
	return outMsgs, receipts, nil
}

func (m *MemoryStore) UpsertContact(c domain.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(c.OwnerID, c.ContactUserID)
	if existing, ok := m.contacts[key]; ok {
		c.CreatedAt = existing.CreatedAt
	}
	m.contacts[key] = c
	return nil
}

func (m *MemoryStore) ListContactsByOwner(ownerID string) ([]domain.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Contact
	for _, c := range m.contacts {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
