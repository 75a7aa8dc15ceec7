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

// ── 一阶段密钥业务错误 ──

var (
	ErrKeyNotFound      = errors.New("签到密钥不存在")
	ErrKeyAlreadyUsed   = errors.New("签到密钥已被使用")
	ErrSessionNotActive = errors.New("会话当前未开放签到")
	ErrPoolExhausted    = errors.New("无法生成足够的不重复密钥")
)

// 批内生成单个密钥的最大重试次数
const maxCodeRetries = 10

// KeyPoolService 一阶段密钥池：发放、兑换
type KeyPoolService interface {
	// Seed 在给定仓储（可为事务内仓储）上为会话生成 count 个密钥
	Seed(ctx context.Context, r *repository.Repository, sessionID string, count int) ([]model.FirstPhaseKey, error)
	// Redeem 学生兑换一阶段密钥，成功或幂等命中时返回考勤记录
	Redeem(ctx context.Context, session *model.AttendanceSession, studentID, code, clientIP, userAgent string) (*model.AttendanceRecord, error)
	ListBySession(ctx context.Context, sessionID string) ([]model.FirstPhaseKey, error)
}

type keyPoolService struct {
	repo     *repository.Repository
	clock    clock.Clock
	alphabet keygen.Alphabet
	length   int
	logger   *zap.Logger
}

// NewKeyPoolService 创建 KeyPoolService 实例
func NewKeyPoolService(repo *repository.Repository, clk clock.Clock, alphabet keygen.Alphabet, length int, logger *zap.Logger) KeyPoolService {
	return &keyPoolService{repo: repo, clock: clk, alphabet: alphabet, length: length, logger: logger}
}

// ────────────────────── Seed ──────────────────────

func (s *keyPoolService) Seed(ctx context.Context, r *repository.Repository, sessionID string, count int) ([]model.FirstPhaseKey, error) {
	if count <= 0 {
		return nil, nil
	}

	// 批内去重靠内存集合，跨批冲突查库排除；
	// (session_id, code) 唯一索引在并发播种时最终兜底。
	seen := make(map[string]struct{}, count)
	keys := make([]model.FirstPhaseKey, 0, count)
	for i := 0; i < count; i++ {
		var code string
		ok := false
		for attempt := 0; attempt < maxCodeRetries; attempt++ {
			c, err := keygen.Generate(s.alphabet, s.length)
			if err != nil {
				return nil, fmt.Errorf("生成密钥失败: %w", err)
			}
			if _, dup := seen[c]; dup {
				continue
			}
			exists, err := r.FirstPhaseKey.CodeExists(ctx, sessionID, c)
			if err != nil {
				return nil, err
			}
			if !exists {
				code, ok = c, true
				break
			}
		}
		if !ok {
			return nil, ErrPoolExhausted
		}
		seen[code] = struct{}{}
		keys = append(keys, model.FirstPhaseKey{
			SessionID: sessionID,
			Code:      code,
		})
	}

	if err := r.FirstPhaseKey.CreateBatch(ctx, keys); err != nil {
		s.logger.Error("写入密钥池失败", zap.String("session_id", sessionID), zap.Error(err))
		return nil, err
	}
	return keys, nil
}

// ────────────────────── Redeem ──────────────────────

func (s *keyPoolService) Redeem(ctx context.Context, session *model.AttendanceSession, studentID, code, clientIP, userAgent string) (*model.AttendanceRecord, error) {
	now := s.clock.Now()

	// 只有 active 状态接受兑换；expired/closed/future/inactive 一律拒绝
	if status := ComputeStatus(session, now); status != model.StatusActive {
		return nil, ErrSessionNotActive
	}

	// 同一学生重复提交按幂等处理：已有记录直接返回
	if existing, err := s.repo.Record.GetBySessionAndStudent(ctx, session.SessionID, studentID); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error("查询考勤记录失败", zap.String("session_id", session.SessionID), zap.Error(err))
		return nil, err
	}

	key, err := s.repo.FirstPhaseKey.GetBySessionAndCode(ctx, session.SessionID, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		s.logger.Error("查询密钥失败", zap.String("session_id", session.SessionID), zap.Error(err))
		return nil, err
	}
	if key.IsUsed {
		return nil, ErrKeyAlreadyUsed
	}

	record, err := s.redeemTx(ctx, session, key, studentID, clientIP, userAgent, now)
	if err != nil {
		return nil, err
	}

	s.logger.Info("一阶段签到成功",
		zap.String("session_id", session.SessionID),
		zap.String("student_id", studentID),
		zap.String("key_id", key.KeyID))
	return record, nil
}

// redeemTx 条件更新占用密钥并写入考勤记录。
// WHERE is_used=false 在存储层裁决并发竞争，输家拿到 0 行即视为密钥已用。
func (s *keyPoolService) redeemTx(ctx context.Context, session *model.AttendanceSession, key *model.FirstPhaseKey, studentID, clientIP, userAgent string, now time.Time) (*model.AttendanceRecord, error) {
	record := &model.AttendanceRecord{
		SessionID:       session.SessionID,
		StudentID:       studentID,
		FirstPhaseKeyID: &key.KeyID,
		CheckedInAt:     now,
		ClientIP:        clientIP,
		UserAgent:       userAgent,
	}

	err := s.repo.Transaction(ctx, func(txRepo *repository.Repository) error {
		won, err := txRepo.FirstPhaseKey.TryRedeem(ctx, key.KeyID, studentID, now)
		if err != nil {
			s.logger.Error("占用密钥失败", zap.String("key_id", key.KeyID), zap.Error(err))
			return err
		}
		if !won {
			return ErrKeyAlreadyUsed
		}

		if err := txRepo.Record.Create(ctx, record); err != nil {
			s.logger.Error("写入考勤记录失败", zap.String("session_id", session.SessionID), zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ────────────────────── ListBySession ──────────────────────

func (s *keyPoolService) ListBySession(ctx context.Context, sessionID string) ([]model.FirstPhaseKey, error) {
	keys, err := s.repo.FirstPhaseKey.ListBySession(ctx, sessionID)
	if err != nil {
		s.logger.Error("列出密钥失败", zap.String("session_id", sessionID), zap.Error(err))
		return nil, err
	}
	return keys, nil
}
