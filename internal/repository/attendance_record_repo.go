package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"classgate/internal/model"
)

// AttendanceRecordRepository 签到记录数据访问接口
type AttendanceRecordRepository interface {
	Create(ctx context.Context, record *model.AttendanceRecord) error
	GetBySessionAndStudent(ctx context.Context, sessionID, studentID string) (*model.AttendanceRecord, error)
	// MarkCompleted 条件更新：仅当 second_phase_completed=false 时置位。
	// 返回 true 表示本次调用完成了置位（幂等判断交由调用方）。
	MarkCompleted(ctx context.Context, recordID string, completedAt time.Time) (bool, error)
	ListBySession(ctx context.Context, sessionID string) ([]model.AttendanceRecord, error)
	Delete(ctx context.Context, sessionID, studentID string) error
}

type attendanceRecordRepo struct {
	db *gorm.DB
}

// NewAttendanceRecordRepo 创建 AttendanceRecordRepository 实例
func NewAttendanceRecordRepo(db *gorm.DB) AttendanceRecordRepository {
	return &attendanceRecordRepo{db: db}
}

func (r *attendanceRecordRepo) Create(ctx context.Context, record *model.AttendanceRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *attendanceRecordRepo) GetBySessionAndStudent(ctx context.Context, sessionID, studentID string) (*model.AttendanceRecord, error) {
	var record model.AttendanceRecord
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND student_id = ?", sessionID, studentID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *attendanceRecordRepo) MarkCompleted(ctx context.Context, recordID string, completedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.AttendanceRecord{}).
		Where("record_id = ? AND second_phase_completed = false", recordID).
		Updates(map[string]interface{}{
			"second_phase_completed": true,
			"completed_at":           completedAt,
			"updated_at":             completedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *attendanceRecordRepo) ListBySession(ctx context.Context, sessionID string) ([]model.AttendanceRecord, error) {
	var records []model.AttendanceRecord
	err := r.db.WithContext(ctx).
		Preload("Student").
		Where("session_id = ?", sessionID).
		Order("checked_in_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *attendanceRecordRepo) Delete(ctx context.Context, sessionID, studentID string) error {
	return r.db.WithContext(ctx).
		Where("session_id = ? AND student_id = ?", sessionID, studentID).
		Delete(&model.AttendanceRecord{}).Error
}
