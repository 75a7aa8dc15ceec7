package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"classgate/internal/model"
)

// FirstPhaseKeyRepository 一阶段密钥数据访问接口
type FirstPhaseKeyRepository interface {
	// CreateBatch 单次批量写入一组密钥（与会话创建同事务调用）
	CreateBatch(ctx context.Context, keys []model.FirstPhaseKey) error
	GetBySessionAndCode(ctx context.Context, sessionID, code string) (*model.FirstPhaseKey, error)
	// CodeExists 判断码值是否已存在于该会话（生成阶段去重）
	CodeExists(ctx context.Context, sessionID, code string) (bool, error)
	ListBySession(ctx context.Context, sessionID string) ([]model.FirstPhaseKey, error)
	// TryRedeem 以单条条件更新完成核销：仅当 is_used=false 时置位。
	// 返回 true 表示本次调用赢得核销；false 表示密钥已被他人核销。
	TryRedeem(ctx context.Context, keyID, studentID string, usedAt time.Time) (bool, error)
}

type firstPhaseKeyRepo struct {
	db *gorm.DB
}

// NewFirstPhaseKeyRepo 创建 FirstPhaseKeyRepository 实例
func NewFirstPhaseKeyRepo(db *gorm.DB) FirstPhaseKeyRepository {
	return &firstPhaseKeyRepo{db: db}
}

func (r *firstPhaseKeyRepo) CreateBatch(ctx context.Context, keys []model.FirstPhaseKey) error {
	return r.db.WithContext(ctx).Create(&keys).Error
}

func (r *firstPhaseKeyRepo) GetBySessionAndCode(ctx context.Context, sessionID, code string) (*model.FirstPhaseKey, error) {
	var key model.FirstPhaseKey
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND code = ?", sessionID, code).
		First(&key).Error
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *firstPhaseKeyRepo) CodeExists(ctx context.Context, sessionID, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.FirstPhaseKey{}).
		Where("session_id = ? AND code = ?", sessionID, code).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *firstPhaseKeyRepo) ListBySession(ctx context.Context, sessionID string) ([]model.FirstPhaseKey, error) {
	var keys []model.FirstPhaseKey
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// TryRedeem 核销靠存储层的条件更新保证串行化：
// 并发核销同一码值时恰有一个更新命中，其余 RowsAffected=0。
func (r *firstPhaseKeyRepo) TryRedeem(ctx context.Context, keyID, studentID string, usedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.FirstPhaseKey{}).
		Where("key_id = ? AND is_used = false", keyID).
		Updates(map[string]interface{}{
			"is_used": true,
			"used_by": studentID,
			"used_at": usedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
