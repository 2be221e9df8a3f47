package repository

import (
	"context"
	"voxchat-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VoiceSessionRepository 接口定义了语音会话记录的持久化操作。
type VoiceSessionRepository interface {
	Upsert(ctx context.Context, session *model.VoiceSession) error
	Create(ctx context.Context, session *model.VoiceSession) error
	FindByID(ctx context.Context, id string) (*model.VoiceSession, error)
	FindByConversation(ctx context.Context, conversationID string, userID uint) ([]model.VoiceSession, error)
	Delete(ctx context.Context, id string, userID uint) (bool, error)
	DeleteByConversation(ctx context.Context, conversationID string, userID uint) (int64, error)
}

type voiceSessionRepository struct {
	db *gorm.DB
}

// NewVoiceSessionRepository 创建一个新的 VoiceSessionRepository 实例。
func NewVoiceSessionRepository(db *gorm.DB) VoiceSessionRepository {
	return &voiceSessionRepository{db: db}
}

// Upsert 按 session_id 幂等写入。重复对账时只用非空的新值覆盖旧值，写入后回填真实的主键。
func (r *voiceSessionRepository) Upsert(ctx context.Context, session *model.VoiceSession) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"audio_url":       gorm.Expr("COALESCE(VALUES(audio_url), audio_url)"),
			"conversation_id": gorm.Expr("COALESCE(VALUES(conversation_id), conversation_id)"),
			"transcript":      gorm.Expr("IF(JSON_LENGTH(VALUES(transcript)) > 0, VALUES(transcript), transcript)"),
		}),
	}).Create(session).Error
	if err != nil {
		return err
	}
	var stored model.VoiceSession
	if err := r.db.WithContext(ctx).Where("session_id = ?", session.SessionID).First(&stored).Error; err != nil {
		return err
	}
	*session = stored
	return nil
}

// Create 插入一条新记录。
func (r *voiceSessionRepository) Create(ctx context.Context, session *model.VoiceSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

// FindByID 根据主键查找记录。
func (r *voiceSessionRepository) FindByID(ctx context.Context, id string) (*model.VoiceSession, error) {
	var session model.VoiceSession
	if err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// FindByConversation 按创建时间返回会话下属于 userID 的语音记录。
func (r *voiceSessionRepository) FindByConversation(ctx context.Context, conversationID string, userID uint) ([]model.VoiceSession, error) {
	var sessions []model.VoiceSession
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Order("created_at ASC").
		Find(&sessions).Error
	return sessions, err
}

// Delete 删除属于 userID 的一条记录。
func (r *voiceSessionRepository) Delete(ctx context.Context, id string, userID uint) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&model.VoiceSession{})
	return res.RowsAffected > 0, res.Error
}

// DeleteByConversation 删除会话下属于 userID 的全部记录。
func (r *voiceSessionRepository) DeleteByConversation(ctx context.Context, conversationID string, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("conversation_id = ? AND user_id = ?", conversationID, userID).Delete(&model.VoiceSession{})
	return res.RowsAffected, res.Error
}
