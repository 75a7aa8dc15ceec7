package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"classgate/internal/model"
	"classgate/internal/repository"
	"classgate/pkg/clock"
	pkgerrors "classgate/pkg/errors"
)

// SweepSummary 一次清扫的结构化结果
type SweepSummary struct {
	Examined     int   `json:"examined"`      // 检查的未关闭会话数
	Transitioned int   `json:"transitioned"`  // 状态缓存被拉齐的会话数
	PurgedKeys   int64 `json:"purged_keys"`   // 删除的过期二阶段码数
	Errors       int   `json:"errors"`        // 单会话级失败数（不致整批失败）
}

// MadeProgress 本次清扫是否推进了任何收敛（状态拉齐或清理了码）。
// 单会话级失败只要仍有进展就不算整次失败。
func (s *SweepSummary) MadeProgress() bool {
	return s.Transitioned > 0 || s.PurgedKeys > 0
}

// SweeperService 周期清扫：把状态缓存列收敛到推导值，清理过期轮换码。
// 与请求路径的内联对账共用 ComputeStatus，靠幂等收敛而非互斥保证一致，
// 多实例并发执行或与请求路径交错执行都是安全的。
type SweeperService interface {
	Sweep(ctx context.Context) (*SweepSummary, error)
}

type sweeperService struct {
	repo      *repository.Repository
	clock     clock.Clock
	retention time.Duration
	logger    *zap.Logger
}

// NewSweeperService 创建 SweeperService 实例
func NewSweeperService(repo *repository.Repository, clk clock.Clock, retention time.Duration, logger *zap.Logger) SweeperService {
	return &sweeperService{repo: repo, clock: clk, retention: retention, logger: logger}
}

// ────────────────────── Sweep ──────────────────────

func (s *sweeperService) Sweep(ctx context.Context) (*SweepSummary, error) {
	now := s.clock.Now()
	summary := &SweepSummary{}

	sessions, err := s.repo.Session.ListOpen(ctx)
	if err != nil {
		s.logger.Error("列出未关闭会话失败", zap.Error(err))
		return nil, err
	}
	summary.Examined = len(sessions)

	for i := range sessions {
		session := &sessions[i]
		computed := ComputeStatus(session, now)
		if computed == session.Status {
			continue
		}

		var expiredAt *time.Time
		if computed == model.StatusExpired && session.ExpiredAt == nil {
			t := session.EndsAt()
			expiredAt = &t
		}
		// UpdateStatus 带 closed_at IS NULL 守卫：清扫期间被教师关闭的
		// 会话不会被写回覆盖
		if err := s.repo.Session.UpdateStatus(ctx, session.SessionID, computed, expiredAt); err != nil {
			if errors.Is(err, pkgerrors.ErrConditionalUpdateLost) {
				// 清扫与关闭并发，对方已写入终态，无需处理
				continue
			}
			summary.Errors++
			s.logger.Error("写回会话状态失败",
				zap.String("session_id", session.SessionID),
				zap.String("status", string(computed)),
				zap.Error(err))
			continue
		}
		summary.Transitioned++
	}

	purged, err := s.repo.SecondPhaseKey.PurgeOlderThan(ctx, now.Add(-s.retention))
	if err != nil {
		summary.Errors++
		s.logger.Error("清理过期轮换码失败", zap.Error(err))
	} else {
		summary.PurgedKeys = purged
	}

	s.logger.Info("清扫完成",
		zap.Int("examined", summary.Examined),
		zap.Int("transitioned", summary.Transitioned),
		zap.Int64("purged_keys", summary.PurgedKeys),
		zap.Int("errors", summary.Errors))
	return summary, nil
}
