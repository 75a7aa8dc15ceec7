package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repository 所有 Repository 的聚合入口
type Repository struct {
	db *gorm.DB

	User           UserRepository
	Course         CourseRepository
	Session        SessionRepository
	FirstPhaseKey  FirstPhaseKeyRepository
	SecondPhaseKey SecondPhaseKeyRepository
	Record         AttendanceRecordRepository
}

// NewRepository 创建 Repository 聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db:             db,
		User:           NewUserRepo(db),
		Course:         NewCourseRepo(db),
		Session:        NewSessionRepo(db),
		FirstPhaseKey:  NewFirstPhaseKeyRepo(db),
		SecondPhaseKey: NewSecondPhaseKeyRepo(db),
		Record:         NewAttendanceRecordRepo(db),
	}
}

// Transaction 在单个数据库事务内执行 fn，fn 收到绑定事务连接的
// Repository 副本，事务内的多表更新同提交同回滚。
// 按字段装配（无底层连接）的 Repository 直接在自身上执行 fn。
func (r *Repository) Transaction(ctx context.Context, fn func(txRepo *Repository) error) error {
	if r.db == nil {
		return fn(r)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepository(tx))
	})
}
