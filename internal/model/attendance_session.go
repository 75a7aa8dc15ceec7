package model

import "time"

// SessionStatus 会话生命周期状态（封闭枚举）
type SessionStatus string

const (
	// StatusFuture 尚未到达计划开始时间
	StatusFuture SessionStatus = "future"
	// StatusInactive 处于计划时间窗口内，但教师未开启签到
	StatusInactive SessionStatus = "inactive"
	// StatusActive 处于计划时间窗口内且签到已开启
	StatusActive SessionStatus = "active"
	// StatusExpired 已过计划结束时间（时间驱动的软终态）
	StatusExpired SessionStatus = "expired"
	// StatusClosed 教师显式关闭（不可逆终态）
	StatusClosed SessionStatus = "closed"
)

// Terminal 是否处于终态（expired / closed）
func (s SessionStatus) Terminal() bool {
	return s == StatusExpired || s == StatusClosed
}

// AttendanceSession 签到会话表 — 对应 attendance_sessions
//
// status 列只是派生值的缓存：真实状态始终可由
// (scheduled_at, duration_minutes, open_intent, closed_at, now) 推导，
// closed 状态除外（由 closed_at 覆盖推导结果）。
type AttendanceSession struct {
	SessionID       string        `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"session_id"`
	CourseID        string        `gorm:"type:uuid;not null"                             json:"course_id"`
	TeacherID       string        `gorm:"type:uuid;not null"                             json:"teacher_id"`
	Label           string        `gorm:"type:varchar(200);not null"                     json:"label"`
	ScheduledAt     time.Time     `gorm:"not null"                                       json:"scheduled_at"`
	DurationMinutes int           `gorm:"not null"                                       json:"duration_minutes"`
	OpenIntent      bool          `gorm:"not null;default:false"                         json:"open_intent"`
	Status          SessionStatus `gorm:"type:varchar(20);not null;default:'future'"     json:"status"`
	ExpiredAt       *time.Time    `json:"expired_at,omitempty"`
	ClosedAt        *time.Time    `json:"closed_at,omitempty"`
	BaseModel

	// 关联
	Course *Course `gorm:"foreignKey:CourseID;references:CourseID" json:"course,omitempty"`
}

// TableName 指定表名
func (AttendanceSession) TableName() string { return "attendance_sessions" }

// EndsAt 计划结束时间 = 计划开始 + 时长
func (s *AttendanceSession) EndsAt() time.Time {
	return s.ScheduledAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}
