package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"classgate/internal/model"
	"classgate/internal/repository"
	"classgate/pkg/clock"
	"classgate/pkg/keygen"
)

// ── 二阶段轮换码业务错误 ──

var (
	ErrNoRemainingWindow = errors.New("会话剩余时间不足，无法签发新码")
	ErrNoCurrentKey      = errors.New("当前没有有效的二阶段码")
)

// RotatorService 二阶段轮换码：签发、查询当前码、校验。
// 不变量：同一会话任一时刻至多一个码处于有效窗口内，
// 由签发事务内先强制过期旧码保证。
type RotatorService interface {
	// Issue 为会话签发新码；window<=0 时使用配置的默认轮换窗口
	Issue(ctx context.Context, session *model.AttendanceSession, window time.Duration) (*model.SecondPhaseKey, error)
	// Current 返回当前有效码；会话 active 且无码时惰性签发
	Current(ctx context.Context, session *model.AttendanceSession) (*model.SecondPhaseKey, error)
	// Validate 判断 code 在当前时刻对该会话是否有效
	Validate(ctx context.Context, sessionID, code string) (bool, error)
}

type rotatorService struct {
	repo     *repository.Repository
	clock    clock.Clock
	alphabet keygen.Alphabet
	length   int
	window   time.Duration
	logger   *zap.Logger
}

// NewRotatorService 创建 RotatorService 实例
func NewRotatorService(repo *repository.Repository, clk clock.Clock, alphabet keygen.Alphabet, length int, window time.Duration, logger *zap.Logger) RotatorService {
	return &rotatorService{repo: repo, clock: clk, alphabet: alphabet, length: length, window: window, logger: logger}
}

// ────────────────────── Issue ──────────────────────

func (s *rotatorService) Issue(ctx context.Context, session *model.AttendanceSession, window time.Duration) (*model.SecondPhaseKey, error) {
	now := s.clock.Now()

	if status := ComputeStatus(session, now); status != model.StatusActive {
		return nil, ErrSessionNotActive
	}
	if window <= 0 {
		window = s.window
	}

	// 有效期不得越过会话计划结束时间
	validUntil := now.Add(window)
	if endsAt := session.EndsAt(); validUntil.After(endsAt) {
		validUntil = endsAt
	}
	if !validUntil.After(now) {
		return nil, ErrNoRemainingWindow
	}

	code, err := keygen.Generate(s.alphabet, s.length)
	if err != nil {
		return nil, fmt.Errorf("生成轮换码失败: %w", err)
	}

	key := &model.SecondPhaseKey{
		SessionID:  session.SessionID,
		Code:       code,
		ValidFrom:  now,
		ValidUntil: validUntil,
	}

	var expired int64
	err = s.repo.Transaction(ctx, func(txRepo *repository.Repository) error {
		// 签发时顺带清理已失效的历史码，活跃会话的码表不会无限增长
		if err := txRepo.SecondPhaseKey.DeleteLapsed(ctx, session.SessionID, now); err != nil {
			s.logger.Error("清理历史码失败", zap.String("session_id", session.SessionID), zap.Error(err))
			return err
		}
		// 先强制过期在途旧码，再写新码，保证窗口不重叠
		if expired, err = txRepo.SecondPhaseKey.ExpireValid(ctx, session.SessionID, now); err != nil {
			s.logger.Error("过期旧码失败", zap.String("session_id", session.SessionID), zap.Error(err))
			return err
		}
		if err := txRepo.SecondPhaseKey.Create(ctx, key); err != nil {
			s.logger.Error("写入轮换码失败", zap.String("session_id", session.SessionID), zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("签发二阶段码",
		zap.String("session_id", session.SessionID),
		zap.Int64("expired_previous", expired),
		zap.Time("valid_until", validUntil))
	return key, nil
}

// ────────────────────── Current ──────────────────────

func (s *rotatorService) Current(ctx context.Context, session *model.AttendanceSession) (*model.SecondPhaseKey, error) {
	now := s.clock.Now()

	key, err := s.repo.SecondPhaseKey.CurrentForSession(ctx, session.SessionID, now)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error("查询当前轮换码失败", zap.String("session_id", session.SessionID), zap.Error(err))
		return nil, err
	}

	// 会话开放中但没有在途码（首次展示或上一个码刚过期）：惰性签发
	if ComputeStatus(session, now) == model.StatusActive {
		return s.Issue(ctx, session, 0)
	}
	return nil, ErrNoCurrentKey
}

// ────────────────────── Validate ──────────────────────

func (s *rotatorService) Validate(ctx context.Context, sessionID, code string) (bool, error) {
	ok, err := s.repo.SecondPhaseKey.MatchValid(ctx, sessionID, code, s.clock.Now())
	if err != nil {
		s.logger.Error("校验轮换码失败", zap.String("session_id", sessionID), zap.Error(err))
		return false, err
	}
	return ok, nil
}
