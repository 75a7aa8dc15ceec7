package model

import "time"

// SecondPhaseKey 二阶段轮换码表 — 对应 second_phase_keys
// 会话级共享的短时效码；valid_until 不超过会话计划结束时间。
// 同一时刻每个会话至多一个码处于有效窗口内（签发新码时强制过期旧码）。
type SecondPhaseKey struct {
	KeyID      string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"key_id"`
	SessionID  string    `gorm:"type:uuid;not null;index"                       json:"session_id"`
	Code       string    `gorm:"type:varchar(16);not null"                      json:"code"`
	ValidFrom  time.Time `gorm:"not null"                                       json:"valid_from"`
	ValidUntil time.Time `gorm:"not null"                                       json:"valid_until"`
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"created_at"`
}

// TableName 指定表名
func (SecondPhaseKey) TableName() string { return "second_phase_keys" }

// CurrentAt 判断该码在 now 时刻是否处于有效窗口内
func (k *SecondPhaseKey) CurrentAt(now time.Time) bool {
	return !now.Before(k.ValidFrom) && !now.After(k.ValidUntil)
}
