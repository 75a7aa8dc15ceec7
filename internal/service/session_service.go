package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"classgate/config"
	"classgate/internal/dto"
	"classgate/internal/model"
	"classgate/internal/repository"
	"classgate/pkg/clock"
	pkgerrors "classgate/pkg/errors"
)

// ── 会话模块业务错误 ──

var (
	ErrSessionNotFound  = errors.New("签到会话不存在")
	ErrNotSessionOwner  = errors.New("无权操作他人的会话")
	ErrCourseNotFound   = errors.New("课程不存在")
	ErrNotCourseOwner   = errors.New("无权在他人的课程下创建会话")
	ErrTimeFormat       = errors.New("日期或时间格式不正确")
	ErrSessionIsClosed  = errors.New("会话已关闭，不能再编辑")
	ErrScheduleLocked   = errors.New("会话进行中或已过期，不能调整开始时间")
)

// SessionService 签到会话生命周期与教师端视图
type SessionService interface {
	Create(ctx context.Context, req *dto.CreateSessionRequest, teacherID string) (*dto.SessionResponse, error)
	GetByID(ctx context.Context, id, teacherID string) (*dto.SessionResponse, error)
	List(ctx context.Context, teacherID string, page *dto.PaginationRequest) ([]dto.SessionResponse, int64, error)
	Update(ctx context.Context, id string, req *dto.UpdateSessionRequest, teacherID string) (*dto.SessionResponse, error)
	Open(ctx context.Context, id, teacherID string) (*dto.SessionResponse, error)
	Pause(ctx context.Context, id, teacherID string) (*dto.SessionResponse, error)
	Close(ctx context.Context, id, teacherID string) (*dto.SessionResponse, error)
	Live(ctx context.Context, id, teacherID string) (*dto.LiveStatusResponse, error)
	Keys(ctx context.Context, id, teacherID string) ([]dto.FirstPhaseKeyResponse, error)
	// Rotate 立即签发新的二阶段轮换码；window<=0 时使用默认窗口
	Rotate(ctx context.Context, id, teacherID string, window time.Duration) (*dto.LiveKeyResponse, error)
	// ImportICS 解析 iCalendar 内容并批量创建会话（见 ics_import.go）
	ImportICS(ctx context.Context, req *dto.ImportICSRequest, teacherID string) (*dto.ImportICSResponse, error)

	// GetOwned 加载会话并校验归属，供记录补录、轮换等教师操作复用
	GetOwned(ctx context.Context, id, teacherID string) (*model.AttendanceSession, error)
	// LoadForJoin 学生签到路径加载会话并校验选课关系
	LoadForJoin(ctx context.Context, id, studentID string) (*model.AttendanceSession, error)
}

type sessionService struct {
	repo    *repository.Repository
	clock   clock.Clock
	keyPool KeyPoolService
	rotator RotatorService
	cfg     *config.Config
	logger  *zap.Logger
}

// NewSessionService 创建 SessionService 实例
func NewSessionService(repo *repository.Repository, clk clock.Clock, keyPool KeyPoolService, rotator RotatorService, cfg *config.Config, logger *zap.Logger) SessionService {
	return &sessionService{repo: repo, clock: clk, keyPool: keyPool, rotator: rotator, cfg: cfg, logger: logger}
}

// ────────────────────── Create ──────────────────────

func (s *sessionService) Create(ctx context.Context, req *dto.CreateSessionRequest, teacherID string) (*dto.SessionResponse, error) {
	scheduledAt, err := s.parseSchedule(req.Date, req.StartTime)
	if err != nil {
		return nil, err
	}

	course, err := s.repo.Course.GetByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCourseNotFound
		}
		s.logger.Error("查询课程失败", zap.String("course_id", req.CourseID), zap.Error(err))
		return nil, err
	}
	if course.TeacherID != teacherID {
		return nil, ErrNotCourseOwner
	}

	enrolled, err := s.repo.Course.CountEnrolled(ctx, req.CourseID)
	if err != nil {
		s.logger.Error("统计选课人数失败", zap.String("course_id", req.CourseID), zap.Error(err))
		return nil, err
	}

	session := &model.AttendanceSession{
		CourseID:        req.CourseID,
		TeacherID:       teacherID,
		Label:           req.Label,
		ScheduledAt:     scheduledAt,
		DurationMinutes: req.DurationMinutes,
		Status:          ComputeStatus(&model.AttendanceSession{ScheduledAt: scheduledAt, DurationMinutes: req.DurationMinutes}, s.clock.Now()),
	}

	poolSize := int(enrolled) + s.cfg.Attendance.KeyPoolBuffer
	if err := s.createWithPool(ctx, session, poolSize); err != nil {
		return nil, err
	}

	s.logger.Info("创建签到会话",
		zap.String("session_id", session.SessionID),
		zap.String("course_id", req.CourseID),
		zap.Int("pool_size", poolSize))
	return s.toSessionResponse(session), nil
}

// ────────────────────── GetByID ──────────────────────

func (s *sessionService) GetByID(ctx context.Context, id, teacherID string) (*dto.SessionResponse, error) {
	session, err := s.GetOwned(ctx, id, teacherID)
	if err != nil {
		return nil, err
	}
	return s.toSessionResponse(session), nil
}

// ────────────────────── List ──────────────────────

func (s *sessionService) List(ctx context.Context, teacherID string, page *dto.PaginationRequest) ([]dto.SessionResponse, int64, error) {
	sessions, total, err := s.repo.Session.ListByTeacher(ctx, teacherID, page.GetOffset(), page.GetPageSize())
	if err != nil {
		s.logger.Error("列出会话失败", zap.String("teacher_id", teacherID), zap.Error(err))
		return nil, 0, err
	}

	now := s.clock.Now()
	result := make([]dto.SessionResponse, 0, len(sessions))
	for i := range sessions {
		s.reconcile(ctx, &sessions[i], now)
		result = append(result, *s.toSessionResponse(&sessions[i]))
	}
	return result, total, nil
}

// ────────────────────── Update ──────────────────────

func (s *sessionService) Update(ctx context.Context, id string, req *dto.UpdateSessionRequest, teacherID string) (*dto.SessionResponse, error) {
	session, err := s.GetOwned(ctx, id, teacherID)
	if err != nil {
		return nil, err
	}

	// closed 全面只读；active/expired 仍可改标签和时长（事后修正），
	// 但开始时间从会话进入 active 起锁定
	now := s.clock.Now()
	status := ComputeStatus(session, now)
	if status == model.StatusClosed {
		return nil, ErrSessionIsClosed
	}
	scheduleLocked := status == model.StatusActive || status == model.StatusExpired
	if scheduleLocked && (req.Date != nil || req.StartTime != nil) {
		return nil, ErrScheduleLocked
	}

	if req.Label != nil {
		session.Label = *req.Label
	}

	scheduledAt := session.ScheduledAt
	if req.Date != nil || req.StartTime != nil {
		loc := s.clock.Location()
		date := scheduledAt.In(loc).Format("2006-01-02")
		start := scheduledAt.In(loc).Format("15:04")
		if req.Date != nil {
			date = *req.Date
		}
		if req.StartTime != nil {
			start = *req.StartTime
		}
		if scheduledAt, err = s.parseSchedule(date, start); err != nil {
			return nil, err
		}
	}
	duration := session.DurationMinutes
	if req.DurationMinutes != nil {
		duration = *req.DurationMinutes
	}

	// 调整不能让尚未结束的会话立即落入过期；已过期会话的时长修正不受此限
	if status != model.StatusExpired {
		candidate := *session
		candidate.ScheduledAt = scheduledAt
		candidate.DurationMinutes = duration
		if ComputeStatus(&candidate, now) == model.StatusExpired {
			return nil, ErrInvalidDuration
		}
	}

	session.ScheduledAt = scheduledAt
	session.DurationMinutes = duration
	session.Status = ComputeStatus(session, now)

	if err := s.repo.Session.Update(ctx, session); err != nil {
		s.logger.Error("更新会话失败", zap.String("session_id", id), zap.Error(err))
		return nil, err
	}
	return s.toSessionResponse(session), nil
}

// ────────────────────── Open / Pause / Close ──────────────────────

func (s *sessionService) Open(ctx context.Context, id, teacherID string) (*dto.SessionResponse, error) {
	session, err := s.GetOwned(ctx, id, teacherID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	next, err := ApplyAction(ComputeStatus(session, now), ActionOpen)
	if err != nil {
		return nil, err
	}

	session.OpenIntent = true
	session.Status = next
	if err := s.repo.Session.Update(ctx, session); err != nil {
		s.logger.Error("开启签到失败", zap.String("session_id", id), zap.Error(err))
		return nil, err
	}

	s.logger.Info("开启签到", zap.String("session_id", id))
	return s.toSessionResponse(session), nil
}

func (s *sessionService) Pause(ctx context.Context, id, teacherID string) (*dto.SessionResponse, error) {
	session, err := s.GetOwned(ctx, id, teacherID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	next, err := ApplyAction(ComputeStatus(session, now), ActionPause)
	if err != nil {
		return nil, err
	}

	// 暂停与强制过期在途二阶段码同一事务：暂停后不留可用的码
	session.OpenIntent = false
	session.Status = next
	err = s.repo.Transaction(ctx, func(txRepo *repository.Repository) error {
		if err := txRepo.Session.Update(ctx, session); err != nil {
			s.logger.Error("暂停签到失败", zap.String("session_id", id), zap.Error(err))
			return err
		}
		if _, err := txRepo.SecondPhaseKey.ExpireValid(ctx, id, now); err != nil {
			s.logger.Error("过期在途轮换码失败", zap.String("session_id", id), zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("暂停签到", zap.String("session_id", id))
	return s.toSessionResponse(session), nil
}

func (s *sessionService) Close(ctx context.Context, id, teacherID string) (*dto.SessionResponse, error) {
	session, err := s.GetOwned(ctx, id, teacherID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if _, err := ApplyAction(ComputeStatus(session, now), ActionClose); err != nil {
		return nil, err
	}
	if session.ClosedAt != nil {
		// 幂等：重复关闭直接返回现状
		return s.toSessionResponse(session), nil
	}

	session.ClosedAt = &now
	session.OpenIntent = false
	session.Status = model.StatusClosed
	err = s.repo.Transaction(ctx, func(txRepo *repository.Repository) error {
		if err := txRepo.Session.Update(ctx, session); err != nil {
			s.logger.Error("关闭会话失败", zap.String("session_id", id), zap.Error(err))
			return err
		}
		if _, err := txRepo.SecondPhaseKey.ExpireValid(ctx, id, now); err != nil {
			s.logger.Error("过期在途轮换码失败", zap.String("session_id", id), zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("关闭会话", zap.String("session_id", id))
	return s.toSessionResponse(session), nil
}

// ────────────────────── Live ──────────────────────

func (s *sessionService) Live(ctx context.Context, id, teacherID string) (*dto.LiveStatusResponse, error) {
	session, err := s.GetOwned(ctx, id, teacherID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	status := ComputeStatus(session, now)

	resp := &dto.LiveStatusResponse{
		Status:    string(status),
		Attendees: []dto.AttendeeResponse{},
	}
	if remaining := session.EndsAt().Sub(now); remaining > 0 && status != model.StatusClosed {
		resp.RemainingSeconds = int(remaining.Seconds())
	}

	if status == model.StatusActive {
		key, err := s.rotator.Current(ctx, session)
		switch {
		case err == nil:
			resp.CurrentKey = s.toLiveKeyResponse(session, key, now)
		case errors.Is(err, ErrNoCurrentKey),
			errors.Is(err, ErrNoRemainingWindow),
			errors.Is(err, ErrSessionNotActive):
			// 无码可展示不是实时视图的失败
		default:
			return nil, err
		}
	}

	records, err := s.repo.Record.ListBySession(ctx, id)
	if err != nil {
		s.logger.Error("列出签到记录失败", zap.String("session_id", id), zap.Error(err))
		return nil, err
	}
	for i := range records {
		resp.Attendees = append(resp.Attendees, *s.toAttendeeResponse(&records[i]))
	}
	return resp, nil
}

// ────────────────────── Rotate ──────────────────────

func (s *sessionService) Rotate(ctx context.Context, id, teacherID string, window time.Duration) (*dto.LiveKeyResponse, error) {
	session, err := s.GetOwned(ctx, id, teacherID)
	if err != nil {
		return nil, err
	}

	key, err := s.rotator.Issue(ctx, session, window)
	if err != nil {
		return nil, err
	}

	s.logger.Info("手动轮换二阶段码", zap.String("session_id", id))
	return s.toLiveKeyResponse(session, key, s.clock.Now()), nil
}

// ────────────────────── Keys ──────────────────────

func (s *sessionService) Keys(ctx context.Context, id, teacherID string) ([]dto.FirstPhaseKeyResponse, error) {
	if _, err := s.GetOwned(ctx, id, teacherID); err != nil {
		return nil, err
	}

	keys, err := s.keyPool.ListBySession(ctx, id)
	if err != nil {
		return nil, err
	}

	result := make([]dto.FirstPhaseKeyResponse, 0, len(keys))
	for i := range keys {
		k := &keys[i]
		item := dto.FirstPhaseKeyResponse{Code: k.Code, IsUsed: k.IsUsed}
		if k.UsedBy != nil {
			item.UsedBy = *k.UsedBy
		}
		if k.UsedAt != nil {
			item.UsedAt = k.UsedAt.In(s.clock.Location()).Format(time.RFC3339)
		}
		result = append(result, item)
	}
	return result, nil
}

// ────────────────────── GetOwned / LoadForJoin ──────────────────────

func (s *sessionService) GetOwned(ctx context.Context, id, teacherID string) (*model.AttendanceSession, error) {
	session, err := s.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.TeacherID != teacherID {
		return nil, ErrNotSessionOwner
	}
	return session, nil
}

func (s *sessionService) LoadForJoin(ctx context.Context, id, studentID string) (*model.AttendanceSession, error) {
	session, err := s.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}

	enrolled, err := s.repo.Course.IsEnrolled(ctx, session.CourseID, studentID)
	if err != nil {
		s.logger.Error("查询选课关系失败", zap.String("course_id", session.CourseID), zap.Error(err))
		return nil, err
	}
	if !enrolled {
		return nil, ErrStudentNotEnrolled
	}
	return session, nil
}

// ────────────────────── 内部辅助 ──────────────────────

// createWithPool 会话与密钥池同一事务落库：不能出现没有密钥池的可签到会话
func (s *sessionService) createWithPool(ctx context.Context, session *model.AttendanceSession, poolSize int) error {
	return s.repo.Transaction(ctx, func(txRepo *repository.Repository) error {
		if err := txRepo.Session.Create(ctx, session); err != nil {
			s.logger.Error("创建会话失败", zap.Error(err))
			return err
		}
		_, err := s.keyPool.Seed(ctx, txRepo, session.SessionID, poolSize)
		return err
	})
}

// loadSession 加载会话并顺手把状态缓存列拉齐到推导值
func (s *sessionService) loadSession(ctx context.Context, id string) (*model.AttendanceSession, error) {
	session, err := s.repo.Session.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		s.logger.Error("查询会话失败", zap.String("session_id", id), zap.Error(err))
		return nil, err
	}
	s.reconcile(ctx, session, s.clock.Now())
	return session, nil
}

// reconcile 读路径上的廉价对账：缓存列与推导值不一致时写回。
// 失败只记日志，读请求不因缓存写回失败而失败；清扫任务会再次收敛。
func (s *sessionService) reconcile(ctx context.Context, session *model.AttendanceSession, now time.Time) {
	computed := ComputeStatus(session, now)
	if computed == session.Status {
		return
	}

	var expiredAt *time.Time
	if computed == model.StatusExpired && session.ExpiredAt == nil {
		t := session.EndsAt()
		expiredAt = &t
	}
	err := s.repo.Session.UpdateStatus(ctx, session.SessionID, computed, expiredAt)
	if err != nil && !errors.Is(err, pkgerrors.ErrConditionalUpdateLost) {
		s.logger.Warn("写回会话状态失败",
			zap.String("session_id", session.SessionID),
			zap.String("status", string(computed)),
			zap.Error(err))
	}
	session.Status = computed
	if expiredAt != nil {
		session.ExpiredAt = expiredAt
	}
}

func (s *sessionService) parseSchedule(date, start string) (time.Time, error) {
	loc := s.clock.Location()
	t, err := time.ParseInLocation("2006-01-02 15:04", fmt.Sprintf("%s %s", date, start), loc)
	if err != nil {
		return time.Time{}, ErrTimeFormat
	}
	return t, nil
}

func (s *sessionService) toSessionResponse(session *model.AttendanceSession) *dto.SessionResponse {
	loc := s.clock.Location()
	resp := &dto.SessionResponse{
		ID:              session.SessionID,
		CourseID:        session.CourseID,
		TeacherID:       session.TeacherID,
		Label:           session.Label,
		ScheduledAt:     session.ScheduledAt.In(loc).Format(time.RFC3339),
		DurationMinutes: session.DurationMinutes,
		EndsAt:          session.EndsAt().In(loc).Format(time.RFC3339),
		OpenIntent:      session.OpenIntent,
		Status:          string(session.Status),
	}
	if session.ExpiredAt != nil {
		resp.ExpiredAt = session.ExpiredAt.In(loc).Format(time.RFC3339)
	}
	if session.ClosedAt != nil {
		resp.ClosedAt = session.ClosedAt.In(loc).Format(time.RFC3339)
	}
	return resp
}

func (s *sessionService) toLiveKeyResponse(session *model.AttendanceSession, key *model.SecondPhaseKey, now time.Time) *dto.LiveKeyResponse {
	resp := &dto.LiveKeyResponse{
		Code:      key.Code,
		ExpiresAt: key.ValidUntil.In(s.clock.Location()).Format(time.RFC3339),
		JoinURL: fmt.Sprintf("%s/api/v1/join-live?session=%s&key=%s",
			s.cfg.Server.BaseURL, session.SessionID, key.Code),
	}
	if remaining := key.ValidUntil.Sub(now); remaining > 0 {
		resp.RemainingSeconds = int(remaining.Seconds())
	}
	return resp
}

func (s *sessionService) toAttendeeResponse(record *model.AttendanceRecord) *dto.AttendeeResponse {
	resp := &dto.AttendeeResponse{
		StudentID:            record.StudentID,
		CheckedInAt:          record.CheckedInAt.In(s.clock.Location()).Format(time.RFC3339),
		SecondPhaseCompleted: record.SecondPhaseCompleted,
		IsManualEntry:        record.IsManualEntry,
	}
	if record.Student != nil {
		resp.Name = record.Student.Name
		resp.StudentNo = record.Student.StudentNo
	}
	return resp
}
