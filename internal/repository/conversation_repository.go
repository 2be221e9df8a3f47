// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"voxchat-go/internal/model"

	"github.com/go-redis/redis/v8"
)

var (
	// ErrVersionConflict 表示历史在读取之后被其他写入者修改。
	ErrVersionConflict = errors.New("conversation version conflict")
	// ErrConversationExists 表示以给定 id 创建会话时该 id 已被占用。
	ErrConversationExists = errors.New("conversation already exists")
)

// ConversationRepository 定义了会话的存储操作。
type ConversationRepository interface {
	Create(ctx context.Context, conv *model.Conversation) error
	Get(ctx context.Context, id string) (*model.Conversation, error)
	ReplaceHistory(ctx context.Context, id string, expectedVersion int64, history model.History) (*model.Conversation, error)
	UpdateTitle(ctx context.Context, id string, userID uint, title string) (*model.Conversation, error)
	List(ctx context.Context, userID uint) ([]model.ConversationSummary, error)
	Delete(ctx context.Context, id string, userID uint) (bool, error)
}

type redisConversationRepository struct {
	redisClient *redis.Client
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(redisClient *redis.Client) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient}
}

func conversationKey(id string) string {
	return fmt.Sprintf("conversation:%s", id)
}

// userConversationsKey 是按更新时间排序的用户会话索引。
func userConversationsKey(userID uint) string {
	return fmt.Sprintf("user:%d:conversations", userID)
}

// Create 以 SETNX 写入新会话；id 已存在时返回 ErrConversationExists。
func (r *redisConversationRepository) Create(ctx context.Context, conv *model.Conversation) error {
	if conv.History == nil {
		conv.History = model.History{}
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	ok, err := r.redisClient.SetNX(ctx, conversationKey(conv.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	if !ok {
		return ErrConversationExists
	}
	score := float64(conv.UpdatedAt.UnixMilli())
	if err := r.redisClient.ZAdd(ctx, userConversationsKey(conv.UserID), &redis.Z{Score: score, Member: conv.ID}).Err(); err != nil {
		return fmt.Errorf("failed to index conversation: %w", err)
	}
	return nil
}

// Get 读取会话；不存在时返回 model.ErrConversationNotFound。
func (r *redisConversationRepository) Get(ctx context.Context, id string) (*model.Conversation, error) {
	data, err := r.redisClient.Get(ctx, conversationKey(id)).Bytes()
	if err == redis.Nil {
		return nil, model.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return decodeConversation(data)
}

// ReplaceHistory 在版本号等于 expectedVersion 时整体替换历史并递增版本号（WATCH/MULTI 比较并交换）。
func (r *redisConversationRepository) ReplaceHistory(ctx context.Context, id string, expectedVersion int64, history model.History) (*model.Conversation, error) {
	return r.mutate(ctx, id, func(conv *model.Conversation) error {
		if conv.Version != expectedVersion {
			return ErrVersionConflict
		}
		conv.History = history
		conv.Version++
		return nil
	})
}

// UpdateTitle 修改标题；会话不属于 userID 时视为不存在。
func (r *redisConversationRepository) UpdateTitle(ctx context.Context, id string, userID uint, title string) (*model.Conversation, error) {
	return r.mutate(ctx, id, func(conv *model.Conversation) error {
		if conv.UserID != userID {
			return model.ErrConversationNotFound
		}
		conv.Title = title
		return nil
	})
}

// mutate 在 WATCH 保护下读取、修改并写回会话，并刷新用户索引中的排序。
func (r *redisConversationRepository) mutate(ctx context.Context, id string, fn func(conv *model.Conversation) error) (*model.Conversation, error) {
	key := conversationKey(id)
	var updated *model.Conversation
	err := r.redisClient.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return model.ErrConversationNotFound
		}
		if err != nil {
			return err
		}
		conv, err := decodeConversation(data)
		if err != nil {
			return err
		}
		if err := fn(conv); err != nil {
			return err
		}
		conv.UpdatedAt = time.Now()
		out, err := json.Marshal(conv)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			pipe.ZAdd(ctx, userConversationsKey(conv.UserID), &redis.Z{Score: float64(conv.UpdatedAt.UnixMilli()), Member: conv.ID})
			return nil
		})
		if err != nil {
			return err
		}
		updated = conv
		return nil
	}, key)
	if err == redis.TxFailedErr {
		return nil, ErrVersionConflict
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// List 按更新时间倒序返回用户的会话摘要，并清理索引中已失效的 id。
func (r *redisConversationRepository) List(ctx context.Context, userID uint) ([]model.ConversationSummary, error) {
	indexKey := userConversationsKey(userID)
	ids, err := r.redisClient.ZRevRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	summaries := make([]model.ConversationSummary, 0, len(ids))
	if len(ids) == 0 {
		return summaries, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = conversationKey(id)
	}
	values, err := r.redisClient.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	var stale []interface{}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		conv, err := decodeConversation([]byte(s))
		if err != nil || conv.UserID != userID {
			continue
		}
		summaries = append(summaries, conv.Summary())
	}
	if len(stale) > 0 {
		_ = r.redisClient.ZRem(ctx, indexKey, stale...).Err()
	}
	return summaries, nil
}

// Delete 删除属于 userID 的会话；会话不存在或不属于该用户时返回 false。
func (r *redisConversationRepository) Delete(ctx context.Context, id string, userID uint) (bool, error) {
	key := conversationKey(id)
	deleted := false
	err := r.redisClient.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		conv, err := decodeConversation(data)
		if err != nil {
			return err
		}
		if conv.UserID != userID {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, userConversationsKey(userID), id)
			return nil
		})
		if err != nil {
			return err
		}
		deleted = true
		return nil
	}, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	return deleted, nil
}

func decodeConversation(data []byte) (*model.Conversation, error) {
	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	if conv.History == nil {
		conv.History = model.History{}
	}
	return &conv, nil
}
