package model

import "time"

// 手工补录时 origin 字段的占位值
const ManualEntryOrigin = "manual"

// AttendanceRecord 签到记录表 — 对应 attendance_records
// (session_id, student_id) 唯一；second_phase_completed 单调，
// 正常流程中置 true 后不会回退（仅教师删除记录）。
type AttendanceRecord struct {
	RecordID             string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"      json:"record_id"`
	SessionID            string     `gorm:"type:uuid;not null;uniqueIndex:uniq_session_student" json:"session_id"`
	StudentID            string     `gorm:"type:uuid;not null;uniqueIndex:uniq_session_student" json:"student_id"`
	FirstPhaseKeyID      *string    `gorm:"type:uuid"                                           json:"first_phase_key_id,omitempty"` // 手工补录为空
	CheckedInAt          time.Time  `gorm:"not null"                                            json:"checked_in_at"`
	SecondPhaseCompleted bool       `gorm:"not null;default:false"                              json:"second_phase_completed"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	IsManualEntry        bool       `gorm:"not null;default:false"                              json:"is_manual_entry"`
	ClientIP             string     `gorm:"type:varchar(64)"                                    json:"client_ip"`
	UserAgent            string     `gorm:"type:varchar(512)"                                   json:"user_agent"`
	BaseModel

	// 关联
	Student *User `gorm:"foreignKey:StudentID;references:UserID" json:"student,omitempty"`
}

// TableName 指定表名
func (AttendanceRecord) TableName() string { return "attendance_records" }
