package dto

// ── 学生签到请求 ──

// JoinRequest 一阶段密钥核销请求（扫码深链或手动输入）
type JoinRequest struct {
	SessionID string `json:"session_id" form:"session" binding:"required,uuid"`
	Key       string `json:"key"        form:"key"     binding:"required,max=32"`
}

// ── 学生签到响应 ──

// JoinResponse 两阶段签到统一响应
type JoinResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// Phase 当前完成到的阶段：1 | 2
	Phase int `json:"phase,omitempty"`
}
