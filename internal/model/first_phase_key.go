package model

import "time"

// FirstPhaseKey 一阶段密钥表 — 对应 first_phase_keys
// 会话内唯一的一次性密钥；一旦 is_used 置位，
// (code, used_by, used_at) 三元组不再变更。
type FirstPhaseKey struct {
	KeyID     string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"     json:"key_id"`
	SessionID string     `gorm:"type:uuid;not null;uniqueIndex:uniq_session_code"   json:"session_id"`
	Code      string     `gorm:"type:varchar(32);not null;uniqueIndex:uniq_session_code" json:"code"`
	IsUsed    bool       `gorm:"not null;default:false"                             json:"is_used"`
	UsedBy    *string    `gorm:"type:uuid"                                          json:"used_by,omitempty"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"                 json:"created_at"`
}

// TableName 指定表名
func (FirstPhaseKey) TableName() string { return "first_phase_keys" }
