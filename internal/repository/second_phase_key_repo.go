package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"classgate/internal/model"
)

// SecondPhaseKeyRepository 二阶段轮换码数据访问接口
type SecondPhaseKeyRepository interface {
	Create(ctx context.Context, key *model.SecondPhaseKey) error
	// CurrentForSession 返回 now 时刻处于有效窗口内的最新一条码
	CurrentForSession(ctx context.Context, sessionID string, now time.Time) (*model.SecondPhaseKey, error)
	// MatchValid 判断 (sessionID, code) 在 now 时刻是否命中有效码
	MatchValid(ctx context.Context, sessionID, code string, now time.Time) (bool, error)
	// ExpireValid 将该会话所有仍有效的码强制过期（valid_until = now）
	ExpireValid(ctx context.Context, sessionID string, now time.Time) (int64, error)
	// DeleteLapsed 删除该会话已失效的码（签发时顺带清理）
	DeleteLapsed(ctx context.Context, sessionID string, now time.Time) error
	// PurgeOlderThan 删除 valid_until 早于 cutoff 的所有码（清扫任务 GC）
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type secondPhaseKeyRepo struct {
	db *gorm.DB
}

// NewSecondPhaseKeyRepo 创建 SecondPhaseKeyRepository 实例
func NewSecondPhaseKeyRepo(db *gorm.DB) SecondPhaseKeyRepository {
	return &secondPhaseKeyRepo{db: db}
}

func (r *secondPhaseKeyRepo) Create(ctx context.Context, key *model.SecondPhaseKey) error {
	return r.db.WithContext(ctx).Create(key).Error
}

func (r *secondPhaseKeyRepo) CurrentForSession(ctx context.Context, sessionID string, now time.Time) (*model.SecondPhaseKey, error) {
	var key model.SecondPhaseKey
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND valid_from <= ? AND valid_until >= ?", sessionID, now, now).
		Order("created_at DESC").
		First(&key).Error
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *secondPhaseKeyRepo) MatchValid(ctx context.Context, sessionID, code string, now time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.SecondPhaseKey{}).
		Where("session_id = ? AND code = ? AND valid_from <= ? AND valid_until >= ?", sessionID, code, now, now).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *secondPhaseKeyRepo) ExpireValid(ctx context.Context, sessionID string, now time.Time) (int64, error) {
	// 截止时间写到 now 之前一微秒：MatchValid 按 valid_until >= now 判定，
	// 被强制过期的码在同一时刻即不可再用
	result := r.db.WithContext(ctx).
		Model(&model.SecondPhaseKey{}).
		Where("session_id = ? AND valid_until > ?", sessionID, now).
		Update("valid_until", now.Add(-time.Microsecond))
	return result.RowsAffected, result.Error
}

func (r *secondPhaseKeyRepo) DeleteLapsed(ctx context.Context, sessionID string, now time.Time) error {
	return r.db.WithContext(ctx).
		Where("session_id = ? AND valid_until < ?", sessionID, now).
		Delete(&model.SecondPhaseKey{}).Error
}

func (r *secondPhaseKeyRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("valid_until < ?", cutoff).
		Delete(&model.SecondPhaseKey{})
	return result.RowsAffected, result.Error
}
