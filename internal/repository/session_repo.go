package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"classgate/internal/model"
	pkgerrors "classgate/pkg/errors"
)

// SessionRepository 签到会话数据访问接口
type SessionRepository interface {
	Create(ctx context.Context, session *model.AttendanceSession) error
	GetByID(ctx context.Context, id string) (*model.AttendanceSession, error)
	ListByTeacher(ctx context.Context, teacherID string, offset, limit int) ([]model.AttendanceSession, int64, error)
	Update(ctx context.Context, session *model.AttendanceSession) error
	// UpdateStatus 回写状态缓存列；expiredAt 仅在首次进入 expired 时传入。
	// 会话已被并发关闭（或不存在）时返回 pkg/errors.ErrConditionalUpdateLost。
	UpdateStatus(ctx context.Context, sessionID string, status model.SessionStatus, expiredAt *time.Time) error
	// ListOpen 列出所有未关闭的会话（清扫任务的候选集）
	ListOpen(ctx context.Context) ([]model.AttendanceSession, error)
}

type sessionRepo struct {
	db *gorm.DB
}

// NewSessionRepo 创建 SessionRepository 实例
func NewSessionRepo(db *gorm.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) Create(ctx context.Context, session *model.AttendanceSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *sessionRepo) GetByID(ctx context.Context, id string) (*model.AttendanceSession, error) {
	var session model.AttendanceSession
	err := r.db.WithContext(ctx).
		Where("session_id = ?", id).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) ListByTeacher(ctx context.Context, teacherID string, offset, limit int) ([]model.AttendanceSession, int64, error) {
	var sessions []model.AttendanceSession
	var total int64

	q := r.db.WithContext(ctx).
		Model(&model.AttendanceSession{}).
		Where("teacher_id = ?", teacherID)

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := q.Order("scheduled_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, 0, err
	}

	return sessions, total, nil
}

func (r *sessionRepo) Update(ctx context.Context, session *model.AttendanceSession) error {
	return r.db.WithContext(ctx).Save(session).Error
}

func (r *sessionRepo) UpdateStatus(ctx context.Context, sessionID string, status model.SessionStatus, expiredAt *time.Time) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if expiredAt != nil {
		updates["expired_at"] = *expiredAt
	}
	// closed 为终态，缓存列回写不得覆盖已关闭的会话
	result := r.db.WithContext(ctx).
		Model(&model.AttendanceSession{}).
		Where("session_id = ? AND closed_at IS NULL", sessionID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrConditionalUpdateLost
	}
	return nil
}

func (r *sessionRepo) ListOpen(ctx context.Context) ([]model.AttendanceSession, error) {
	var sessions []model.AttendanceSession
	err := r.db.WithContext(ctx).
		Where("closed_at IS NULL").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}
