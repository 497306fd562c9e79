package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"bundlechat/pkg/domain"
)

const migrateLockID int64 = 84128412

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race the schema.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		return tx.AutoMigrate(
			&UserModel{},
			&WorkspaceModel{},
			&WorkspaceMemberModel{},
			&ConversationModel{},
			&MessageModel{},
			&ReadReceiptModel{},
			&ContactModel{},
		)
	}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user, keyed by internal ID.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "email", "image_url", "is_online", "custom_username", "custom_image_url", "bio", "updated_at"}),
	}).Create(&model).Error
}

// GetOrCreateUserBySubject races concurrent first sign-ins on the subject's
// unique index; the losing insert re-reads the winner's row.
func (s *GormStore) GetOrCreateUserBySubject(candidate domain.User) (domain.User, bool, error) {
	model := userToModel(candidate)
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return domain.User{}, false, res.Error
	}
	if res.RowsAffected > 0 {
		return candidate, true, nil
	}
	user, ok, err := s.GetUserBySubject(candidate.Subject)
	if err != nil {
		return domain.User{}, false, err
	}
	if !ok {
		return domain.User{}, false, fmt.Errorf("user row missing after insert conflict")
	}
	return user, false, nil
}

// SetUserOnline flips only the online flag, leaving profile columns alone.
func (s *GormStore) SetUserOnline(userID string, online bool, at time.Time) error {
	return s.db.Model(&UserModel{}).Where("id = ?", userID).
		Updates(map[string]any{"is_online": online, "updated_at": at}).Error
}

// GetUserBySubject looks up a user by the external identity subject.
func (s *GormStore) GetUserBySubject(subject string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("subject = ?", subject).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by internal ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// SaveWorkspace stores or updates a workspace.
func (s *GormStore) SaveWorkspace(w domain.Workspace) error {
	model := workspaceToModel(w)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "admin_id", "image_url"}),
	}).Create(&model).Error
}

// GetWorkspace returns one workspace by ID.
func (s *GormStore) GetWorkspace(id string) (domain.Workspace, bool, error) {
	var model WorkspaceModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Workspace{}, false, nil
		}
		return domain.Workspace{}, false, err
	}
	return workspaceFromModel(model), true, nil
}

// SaveMembership upserts on the composite key; adding an existing member is
// a no-op rather than a duplicate.
func (s *GormStore) SaveMembership(member domain.WorkspaceMember) error {
	model := membershipToModel(member)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "workspace_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&model).Error
}

// GetMembership returns the membership row for a (workspace, user) pair.
func (s *GormStore) GetMembership(workspaceID, userID string) (domain.WorkspaceMember, bool, error) {
	var model WorkspaceMemberModel
	if err := s.db.Where("workspace_id = ? AND user_id = ?", workspaceID, userID).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.WorkspaceMember{}, false, nil
		}
		return domain.WorkspaceMember{}, false, err
	}
	return membershipFromModel(model), true, nil
}

// ListMembershipsByUser returns memberships ordered by join time.
func (s *GormStore) ListMembershipsByUser(userID string) ([]domain.WorkspaceMember, error) {
	return s.listMemberships("user_id = ?", userID)
}

// ListMembershipsByWorkspace returns a workspace's member rows.
func (s *GormStore) ListMembershipsByWorkspace(workspaceID string) ([]domain.WorkspaceMember, error) {
	return s.listMemberships("workspace_id = ?", workspaceID)
}

func (s *GormStore) listMemberships(cond string, arg any) ([]domain.WorkspaceMember, error) {
	var models []WorkspaceMemberModel
	if err := s.db.Where(cond, arg).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.WorkspaceMember, 0, len(models))
	for _, m := range models {
		res = append(res, membershipFromModel(m))
	}
	return res, nil
}

// DeleteMembership removes a membership; no-op when absent.
func (s *GormStore) DeleteMembership(workspaceID, userID string) error {
	return s.db.Delete(&WorkspaceMemberModel{}, "workspace_id = ? AND user_id = ?", workspaceID, userID).Error
}

// GetOrCreateConversationByPair races concurrent creates on the pair_key
// unique index; the losing insert re-reads the winner's row.
func (s *GormStore) GetOrCreateConversationByPair(userA, userB string, candidate domain.Conversation) (domain.Conversation, bool, error) {
	model := conversationToModel(candidate)
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pair_key"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return domain.Conversation{}, false, res.Error
	}
	if res.RowsAffected > 0 {
		return candidate, true, nil
	}
	conversation, ok, err := s.FindConversationByPair(userA, userB)
	if err != nil {
		return domain.Conversation{}, false, err
	}
	if !ok {
		return domain.Conversation{}, false, fmt.Errorf("conversation row missing after insert conflict")
	}
	return conversation, false, nil
}

// ReopenConversationFor un-hides the row for userID and binds an unbound
// row to workspaceID, holding the row lock across the read and the write.
func (s *GormStore) ReopenConversationFor(conversationID, userID, workspaceID string) (domain.Conversation, bool, error) {
	var out domain.Conversation
	changed := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model ConversationModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", conversationID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		updates := map[string]any{}
		if workspaceID != "" && model.WorkspaceID == "" {
			model.WorkspaceID = workspaceID
			updates["workspace_id"] = workspaceID
		}
		if hidden := decodeIDSet(model.HiddenFor); containsID(hidden, userID) {
			model.HiddenFor = encodeIDSet(removeID(hidden, userID))
			updates["hidden_for"] = model.HiddenFor
		}
		if len(updates) > 0 {
			if err := tx.Model(&ConversationModel{}).Where("id = ?", conversationID).
				Updates(updates).Error; err != nil {
				return err
			}
			changed = true
		}
		out = conversationFromModel(model)
		return nil
	})
	return out, changed, err
}

// GetConversation returns one conversation by ID.
func (s *GormStore) GetConversation(id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// FindConversationByPair matches both participant orderings.
func (s *GormStore) FindConversationByPair(userA, userB string) (domain.Conversation, bool, error) {
	var model ConversationModel
	err := s.db.Where(
		"(participant1 = ? AND participant2 = ?) OR (participant1 = ? AND participant2 = ?)",
		userA, userB, userB, userA,
	).First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// ListConversationsByParticipant returns every conversation the user is in.
func (s *GormStore) ListConversationsByParticipant(userID string) ([]domain.Conversation, error) {
	var models []ConversationModel
	if err := s.db.Where("participant1 = ? OR participant2 = ?", userID, userID).
		Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Conversation, 0, len(models))
	for _, m := range models {
		res = append(res, conversationFromModel(m))
	}
	return res, nil
}

// ClearConversationFor marks every message deleted-for-user and hides the
// conversation, in one transaction. Safe to re-run.
func (s *GormStore) ClearConversationFor(conversationID, userID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var msgs []MessageModel
		if err := tx.Where("conversation_id = ?", conversationID).Find(&msgs).Error; err != nil {
			return err
		}
		for _, m := range msgs {
			set := decodeIDSet(m.DeletedFor)
			if containsID(set, userID) {
				continue
			}
			set = appendID(set, userID)
			if err := tx.Model(&MessageModel{}).Where("id = ?", m.ID).
				Update("deleted_for", encodeIDSet(set)).Error; err != nil {
				return err
			}
		}
		var conv ConversationModel
		if err := tx.First(&conv, "id = ?", conversationID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		hidden := appendID(decodeIDSet(conv.HiddenFor), userID)
		return tx.Model(&ConversationModel{}).Where("id = ?", conversationID).
			Update("hidden_for", encodeIDSet(hidden)).Error
	})
}

// CreateMessage inserts the message, upserts the sender receipt, and bumps
// the conversation's last message pointer atomically.
func (s *GormStore) CreateMessage(msg domain.Message, receipt domain.ReadReceipt) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		model := messageToModel(msg)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		if err := upsertReceipt(tx, receipt); err != nil {
			return err
		}
		return tx.Model(&ConversationModel{}).Where("id = ?", msg.ConversationID).
			Update("last_message_id", msg.ID).Error
	})
}

// GetMessage returns one message by ID.
func (s *GormStore) GetMessage(id string) (domain.Message, bool, error) {
	var model MessageModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// AddMessageDeletedFor grows the per-user delete set under the row lock,
// so two concurrent deletes both land.
func (s *GormStore) AddMessageDeletedFor(messageID, userID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var model MessageModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", messageID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		set := decodeIDSet(model.DeletedFor)
		if containsID(set, userID) {
			return nil
		}
		return tx.Model(&MessageModel{}).Where("id = ?", messageID).
			Update("deleted_for", encodeIDSet(appendID(set, userID))).Error
	})
}

// MarkMessageDeleted stamps the global delete time once; the guard and the
// write are one statement.
func (s *GormStore) MarkMessageDeleted(messageID string, at time.Time) error {
	return s.db.Model(&MessageModel{}).
		Where("id = ? AND deleted_at IS NULL", messageID).
		Update("deleted_at", at).Error
}

// UpdateMessageContent rewrites content unless the row is missing or
// globally deleted; the delete guard holds the row lock, so an edit can
// never resurrect a concurrently deleted message.
func (s *GormStore) UpdateMessageContent(messageID, content string) (domain.Message, bool, error) {
	var out domain.Message
	ok := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model MessageModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", messageID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		if model.DeletedAt != nil {
			return nil
		}
		if err := tx.Model(&MessageModel{}).Where("id = ?", messageID).
			Updates(map[string]any{"content": content, "is_edited": true}).Error; err != nil {
			return err
		}
		model.Content = content
		model.IsEdited = true
		out = messageFromModel(model)
		ok = true
		return nil
	})
	return out, ok, err
}

// ListMessagesByConversation returns messages ascending by creation time.
func (s *GormStore) ListMessagesByConversation(conversationID string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(m))
	}
	return res, nil
}

// UpsertReadReceipt moves the caller's watermark; two upserts to the same
// key serialize on the row.
func (s *GormStore) UpsertReadReceipt(r domain.ReadReceipt) error {
	return upsertReceipt(s.db, r)
}

func upsertReceipt(tx *gorm.DB, r domain.ReadReceipt) error {
	model := ReadReceiptModel{
		ConversationID: r.ConversationID,
		UserID:         r.UserID,
		LastReadAt:     r.LastReadAt,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_read_at"}),
	}).Create(&model).Error
}

// GetReadReceipt returns the watermark for a (conversation, user) pair.
func (s *GormStore) GetReadReceipt(conversationID, userID string) (domain.ReadReceipt, bool, error) {
	var model ReadReceiptModel
	if err := s.db.Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ReadReceipt{}, false, nil
		}
		return domain.ReadReceipt{}, false, err
	}
	return domain.ReadReceipt{
		ConversationID: model.ConversationID,
		UserID:         model.UserID,
		LastReadAt:     model.LastReadAt,
	}, true, nil
}

// ListConversationData reads a conversation's messages and receipts under
// one repeatable-read transaction, so the list and the watermarks come
// from the same snapshot.
func (s *GormStore) ListConversationData(conversationID string) ([]domain.Message, []domain.ReadReceipt, error) {
	var msgs []domain.Message
	var receipts []domain.ReadReceipt
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var msgModels []MessageModel
		if err := tx.Where("conversation_id = ?", conversationID).
			Order("created_at ASC").Find(&msgModels).Error; err != nil {
			return err
		}
		msgs = make([]domain.Message, 0, len(msgModels))
		for _, m := range msgModels {
			msgs = append(msgs, messageFromModel(m))
		}
		var receiptModels []ReadReceiptModel
		if err := tx.Where("conversation_id = ?", conversationID).Find(&receiptModels).Error; err != nil {
			return err
		}
		receipts = make([]domain.ReadReceipt, 0, len(receiptModels))
		for _, r := range receiptModels {
			receipts = append(receipts, domain.ReadReceipt{
				ConversationID: r.ConversationID,
				UserID:         r.UserID,
				LastReadAt:     r.LastReadAt,
			})
		}
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	return msgs, receipts, err
}

// UpsertContact stores or updates an owner-private alias.
func (s *GormStore) UpsertContact(c domain.Contact) error {
	model := ContactModel{
		OwnerID:       c.OwnerID,
		ContactUserID: c.ContactUserID,
		Alias:         c.Alias,
		CreatedAt:     c.CreatedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "contact_user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"alias"}),
	}).Create(&model).Error
}

// ListContactsByOwner returns the caller's aliases.
func (s *GormStore) ListContactsByOwner(ownerID string) ([]domain.Contact, error) {
	var models []ContactModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Contact, 0, len(models))
	for _, m := range models {
		res = append(res, domain.Contact{
			OwnerID:       m.OwnerID,
			ContactUserID: m.ContactUserID,
			Alias:         m.Alias,
			CreatedAt:     m.CreatedAt,
		})
	}
	return res, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:             u.ID,
		Subject:        u.Subject,
		Username:       u.Username,
		Email:          u.Email,
		ImageURL:       u.ImageURL,
		IsOnline:       u.IsOnline,
		CustomUsername: u.CustomUsername,
		CustomImageURL: u.CustomImageURL,
		Bio:            u.Bio,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:             m.ID,
		Subject:        m.Subject,
		Username:       m.Username,
		Email:          m.Email,
		ImageURL:       m.ImageURL,
		IsOnline:       m.IsOnline,
		CustomUsername: m.CustomUsername,
		CustomImageURL: m.CustomImageURL,
		Bio:            m.Bio,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func workspaceToModel(w domain.Workspace) WorkspaceModel {
	return WorkspaceModel{
		ID:        w.ID,
		Name:      w.Name,
		AdminID:   w.AdminID,
		ImageURL:  w.ImageURL,
		CreatedAt: w.CreatedAt,
	}
}

func workspaceFromModel(m WorkspaceModel) domain.Workspace {
	return domain.Workspace{
		ID:        m.ID,
		Name:      m.Name,
		AdminID:   m.AdminID,
		ImageURL:  m.ImageURL,
		CreatedAt: m.CreatedAt,
	}
}

func membershipToModel(member domain.WorkspaceMember) WorkspaceMemberModel {
	return WorkspaceMemberModel{
		WorkspaceID: member.WorkspaceID,
		UserID:      member.UserID,
		Role:        string(member.Role),
		CreatedAt:   member.CreatedAt,
	}
}

func membershipFromModel(m WorkspaceMemberModel) domain.WorkspaceMember {
	return domain.WorkspaceMember{
		WorkspaceID: m.WorkspaceID,
		UserID:      m.UserID,
		Role:        domain.MemberRole(m.Role),
		CreatedAt:   m.CreatedAt,
	}
}

func conversationToModel(c domain.Conversation) ConversationModel {
	return ConversationModel{
		ID:            c.ID,
		Participant1:  c.Participant1,
		Participant2:  c.Participant2,
		PairKey:       canonicalPair(c.Participant1, c.Participant2),
		WorkspaceID:   c.WorkspaceID,
		LastMessageID: c.LastMessageID,
		HiddenFor:     encodeIDSet(c.HiddenFor),
		CreatedAt:     c.CreatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:            m.ID,
		Participant1:  m.Participant1,
		Participant2:  m.Participant2,
		WorkspaceID:   m.WorkspaceID,
		LastMessageID: m.LastMessageID,
		HiddenFor:     decodeIDSet(m.HiddenFor),
		CreatedAt:     m.CreatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Type:           string(msg.Type),
		IsEdited:       msg.IsEdited,
		DeletedAt:      msg.DeletedAt,
		DeletedFor:     encodeIDSet(msg.DeletedFor),
		CreatedAt:      msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           domain.MessageType(m.Type),
		IsEdited:       m.IsEdited,
		DeletedAt:      m.DeletedAt,
		DeletedFor:     decodeIDSet(m.DeletedFor),
		CreatedAt:      m.CreatedAt,
	}
}
