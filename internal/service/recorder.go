package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"classgate/internal/model"
	"classgate/internal/repository"
	"classgate/pkg/clock"
)

// ── 签到记录业务错误 ──

var (
	ErrNoFirstPhaseRecord  = errors.New("尚未完成一阶段签到")
	ErrAlreadyCompleted    = errors.New("二阶段签到已完成")
	ErrInvalidOrExpiredKey = errors.New("二阶段码无效或已过期")
	ErrRecordNotFound      = errors.New("签到记录不存在")
	ErrRecordExists        = errors.New("该学生已有签到记录")
	ErrSessionNotEnded     = errors.New("会话尚未结束，不能手工补录")
	ErrStudentNotEnrolled  = errors.New("该学生未选此课程")
	ErrUnknownOverrideMode = errors.New("未知的补录方式")
)

// 手工补录方式
const (
	OverrideModeCreate   = "create"   // 补建完整记录（一二阶段均视为完成）
	OverrideModeComplete = "complete" // 仅补全已有记录的二阶段
)

// RecorderService 签到记录：二阶段确认、教师补录与删除
type RecorderService interface {
	CompleteSecondPhase(ctx context.Context, session *model.AttendanceSession, studentID, code string) (*model.AttendanceRecord, error)
	ManualOverride(ctx context.Context, session *model.AttendanceSession, studentID, mode string) (*model.AttendanceRecord, error)
	Delete(ctx context.Context, sessionID, studentID string) error
}

type recorderService struct {
	repo    *repository.Repository
	clock   clock.Clock
	rotator RotatorService
	logger  *zap.Logger
}

// NewRecorderService 创建 RecorderService 实例
func NewRecorderService(repo *repository.Repository, clk clock.Clock, rotator RotatorService, logger *zap.Logger) RecorderService {
	return &recorderService{repo: repo, clock: clk, rotator: rotator, logger: logger}
}

// ────────────────────── CompleteSecondPhase ──────────────────────

func (s *recorderService) CompleteSecondPhase(ctx context.Context, session *model.AttendanceSession, studentID, code string) (*model.AttendanceRecord, error) {
	now := s.clock.Now()

	if status := ComputeStatus(session, now); status != model.StatusActive {
		return nil, ErrSessionNotActive
	}

	record, err := s.repo.Record.GetBySessionAndStudent(ctx, session.SessionID, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoFirstPhaseRecord
		}
		s.logger.Error("查询考勤记录失败", zap.String("session_id", session.SessionID), zap.Error(err))
		return nil, err
	}
	if record.SecondPhaseCompleted {
		return nil, ErrAlreadyCompleted
	}

	ok, err := s.rotator.Validate(ctx, session.SessionID, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidOrExpiredKey
	}

	// 条件更新：并发重复提交只有一个拿到行，输家按已完成处理
	won, err := s.repo.Record.MarkCompleted(ctx, record.RecordID, now)
	if err != nil {
		s.logger.Error("更新二阶段状态失败", zap.String("record_id", record.RecordID), zap.Error(err))
		return nil, err
	}
	if !won {
		return nil, ErrAlreadyCompleted
	}

	record.SecondPhaseCompleted = true
	record.CompletedAt = &now

	s.logger.Info("二阶段签到成功",
		zap.String("session_id", session.SessionID),
		zap.String("student_id", studentID))
	return record, nil
}

// ────────────────────── ManualOverride ──────────────────────

func (s *recorderService) ManualOverride(ctx context.Context, session *model.AttendanceSession, studentID, mode string) (*model.AttendanceRecord, error) {
	now := s.clock.Now()

	// 补录只面向已结束的会话；进行中的会话应走正常签到流程
	if status := ComputeStatus(session, now); !status.Terminal() {
		return nil, ErrSessionNotEnded
	}

	enrolled, err := s.repo.Course.IsEnrolled(ctx, session.CourseID, studentID)
	if err != nil {
		s.logger.Error("查询选课关系失败", zap.String("course_id", session.CourseID), zap.Error(err))
		return nil, err
	}
	if !enrolled {
		return nil, ErrStudentNotEnrolled
	}

	switch mode {
	case OverrideModeCreate:
		return s.overrideCreate(ctx, session, studentID, now)
	case OverrideModeComplete:
		return s.overrideComplete(ctx, session, studentID, now)
	default:
		return nil, ErrUnknownOverrideMode
	}
}

func (s *recorderService) overrideCreate(ctx context.Context, session *model.AttendanceSession, studentID string, now time.Time) (*model.AttendanceRecord, error) {
	if _, err := s.repo.Record.GetBySessionAndStudent(ctx, session.SessionID, studentID); err == nil {
		return nil, ErrRecordExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	completedAt := now
	record := &model.AttendanceRecord{
		SessionID:            session.SessionID,
		StudentID:            studentID,
		CheckedInAt:          now,
		SecondPhaseCompleted: true,
		CompletedAt:          &completedAt,
		IsManualEntry:        true,
		ClientIP:             model.ManualEntryOrigin,
	}
	if err := s.repo.Record.Create(ctx, record); err != nil {
		s.logger.Error("补建签到记录失败", zap.String("session_id", session.SessionID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("手工补建签到记录",
		zap.String("session_id", session.SessionID),
		zap.String("student_id", studentID))
	return record, nil
}

func (s *recorderService) overrideComplete(ctx context.Context, session *model.AttendanceSession, studentID string, now time.Time) (*model.AttendanceRecord, error) {
	record, err := s.repo.Record.GetBySessionAndStudent(ctx, session.SessionID, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	if record.SecondPhaseCompleted {
		return nil, ErrAlreadyCompleted
	}

	won, err := s.repo.Record.MarkCompleted(ctx, record.RecordID, now)
	if err != nil {
		s.logger.Error("补全二阶段状态失败", zap.String("record_id", record.RecordID), zap.Error(err))
		return nil, err
	}
	if !won {
		return nil, ErrAlreadyCompleted
	}

	record.SecondPhaseCompleted = true
	record.CompletedAt = &now

	s.logger.Info("手工补全二阶段",
		zap.String("session_id", session.SessionID),
		zap.String("student_id", studentID))
	return record, nil
}

// ────────────────────── Delete ──────────────────────

func (s *recorderService) Delete(ctx context.Context, sessionID, studentID string) error {
	if _, err := s.repo.Record.GetBySessionAndStudent(ctx, sessionID, studentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		return err
	}
	if err := s.repo.Record.Delete(ctx, sessionID, studentID); err != nil {
		s.logger.Error("删除签到记录失败", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}

	s.logger.Info("删除签到记录",
		zap.String("session_id", sessionID),
		zap.String("student_id", studentID))
	return nil
}
