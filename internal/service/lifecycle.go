package service

import (
	"errors"
	"time"

	"classgate/internal/model"
)

// ── 状态机守卫错误 ──

var (
	ErrSessionNotStarted = errors.New("会话尚未到达计划开始时间")
	ErrSessionExpired    = errors.New("会话已过期")
	ErrSessionClosed     = errors.New("会话已关闭")
	ErrInvalidDuration   = errors.New("时长调整会使进行中的会话立即过期")
)

// ComputeStatus 由时间与开启意图推导会话状态的纯函数。
// 清扫任务与请求路径共用此函数，二者靠收敛幂等而非互斥保证一致。
//
//  1. closed_at 已置 → closed（终态覆盖一切推导）
//  2. now 已过计划结束 → expired
//  3. now 未到计划开始 → future
//  4. 窗口内：开启意图为 true → active，否则 inactive
func ComputeStatus(s *model.AttendanceSession, now time.Time) model.SessionStatus {
	if s.ClosedAt != nil {
		return model.StatusClosed
	}
	if now.After(s.EndsAt()) {
		return model.StatusExpired
	}
	if now.Before(s.ScheduledAt) {
		return model.StatusFuture
	}
	if s.OpenIntent {
		return model.StatusActive
	}
	return model.StatusInactive
}

// Action 教师对会话可执行的状态动作
type Action string

const (
	// ActionOpen 开启签到（open_intent → true）
	ActionOpen Action = "open"
	// ActionPause 暂停签到（open_intent → false，强制过期在途二阶段码）
	ActionPause Action = "pause"
	// ActionClose 关闭会话（置 closed_at，不可逆）
	ActionClose Action = "close"
)

// transition 状态 × 动作 → 目标状态或守卫错误。
// 非法迁移集中在此表里声明，业务代码不散落 if 链。
type transition struct {
	next model.SessionStatus
	err  error
}

var transitionTable = map[Action]map[model.SessionStatus]transition{
	ActionOpen: {
		model.StatusFuture:   {err: ErrSessionNotStarted},
		model.StatusInactive: {next: model.StatusActive},
		model.StatusActive:   {next: model.StatusActive}, // 幂等
		model.StatusExpired:  {err: ErrSessionExpired},
		model.StatusClosed:   {err: ErrSessionClosed},
	},
	ActionPause: {
		model.StatusFuture:   {next: model.StatusFuture},
		model.StatusInactive: {next: model.StatusInactive}, // 幂等
		model.StatusActive:   {next: model.StatusInactive},
		model.StatusExpired:  {next: model.StatusExpired},
		model.StatusClosed:   {err: ErrSessionClosed},
	},
	ActionClose: {
		model.StatusFuture:   {next: model.StatusClosed},
		model.StatusInactive: {next: model.StatusClosed},
		model.StatusActive:   {next: model.StatusClosed},
		model.StatusExpired:  {next: model.StatusClosed},
		model.StatusClosed:   {next: model.StatusClosed}, // 幂等
	},
}

// ApplyAction 查表执行状态迁移
func ApplyAction(status model.SessionStatus, action Action) (model.SessionStatus, error) {
	row, ok := transitionTable[action]
	if !ok {
		return status, errors.New("未知的会话动作: " + string(action))
	}
	t, ok := row[status]
	if !ok {
		return status, errors.New("未知的会话状态: " + string(status))
	}
	if t.err != nil {
		return status, t.err
	}
	return t.next, nil
}
