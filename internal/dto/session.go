package dto

// ── 会话模块请求 ──

// CreateSessionRequest 创建签到会话请求
type CreateSessionRequest struct {
	CourseID        string `json:"course_id"        binding:"required,uuid"`
	Label           string `json:"label"            binding:"required,max=200"`
	Date            string `json:"date"             binding:"required"` // 2006-01-02
	StartTime       string `json:"start_time"       binding:"required"` // 15:04
	DurationMinutes int    `json:"duration_minutes" binding:"required,min=1,max=1440"`
}

// UpdateSessionRequest 更新签到会话请求（字段均可选）
type UpdateSessionRequest struct {
	Label           *string `json:"label"            binding:"omitempty,max=200"`
	Date            *string `json:"date"`
	StartTime       *string `json:"start_time"`
	DurationMinutes *int    `json:"duration_minutes" binding:"omitempty,min=1,max=1440"`
}

// ManualOverrideRequest 手工补录/完成请求
type ManualOverrideRequest struct {
	// Mode create: 补建记录（二阶段未完成）；complete: 补建并/或标记完成
	Mode string `json:"mode" binding:"required,oneof=create complete"`
}

// RotateKeyRequest 手动轮换二阶段码请求
type RotateKeyRequest struct {
	// WindowSeconds 本次签发窗口，缺省用配置默认值
	WindowSeconds int `json:"window_seconds" binding:"omitempty,min=5,max=600"`
}

// ImportICSRequest 从 ICS 日历批量创建会话请求
type ImportICSRequest struct {
	CourseID string `json:"course_id" binding:"required,uuid"`
	// ICS 原始内容（客户端上传文件内容）
	Content string `json:"content" binding:"required"`
	// DurationMinutes 每次会话时长；ICS 事件自带结束时间时以事件为准
	DurationMinutes int `json:"duration_minutes" binding:"omitempty,min=1,max=1440"`
}

// ── 会话模块响应 ──

// SessionResponse 会话详情响应
type SessionResponse struct {
	ID              string `json:"id"`
	CourseID        string `json:"course_id"`
	TeacherID       string `json:"teacher_id"`
	Label           string `json:"label"`
	ScheduledAt     string `json:"scheduled_at"`
	DurationMinutes int    `json:"duration_minutes"`
	EndsAt          string `json:"ends_at"`
	OpenIntent      bool   `json:"open_intent"`
	Status          string `json:"status"`
	ExpiredAt       string `json:"expired_at,omitempty"`
	ClosedAt        string `json:"closed_at,omitempty"`
}

// FirstPhaseKeyResponse 一阶段密钥（教师密钥清单用）
type FirstPhaseKeyResponse struct {
	Code   string `json:"code"`
	IsUsed bool   `json:"is_used"`
	UsedBy string `json:"used_by,omitempty"`
	UsedAt string `json:"used_at,omitempty"`
}

// LiveStatusResponse 教师端实时状态轮询响应（驱动二维码展示）
type LiveStatusResponse struct {
	Status           string             `json:"status"`
	RemainingSeconds int                `json:"remaining_seconds"` // 会话剩余秒数
	CurrentKey       *LiveKeyResponse   `json:"current_key,omitempty"`
	Attendees        []AttendeeResponse `json:"attendees"`
}

// LiveKeyResponse 当前二阶段码及其有效期
type LiveKeyResponse struct {
	Code             string `json:"code"`
	ExpiresAt        string `json:"expires_at"`
	RemainingSeconds int    `json:"remaining_seconds"`
	// JoinURL 学生扫码跳转的深链（二维码内容，由前端渲染图像）
	JoinURL string `json:"join_url"`
}

// AttendeeResponse 到场学生条目
type AttendeeResponse struct {
	StudentID            string `json:"student_id"`
	Name                 string `json:"name"`
	StudentNo            string `json:"student_no,omitempty"`
	CheckedInAt          string `json:"checked_in_at"`
	SecondPhaseCompleted bool   `json:"second_phase_completed"`
	IsManualEntry        bool   `json:"is_manual_entry"`
}

// ImportICSResponse ICS 导入结果
type ImportICSResponse struct {
	Created int               `json:"created"`
	Skipped int               `json:"skipped"`
	List    []SessionResponse `json:"list"`
}
