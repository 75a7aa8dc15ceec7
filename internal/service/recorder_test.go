package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"classgate/internal/model"
	"classgate/pkg/keygen"
)

func setupRecorder(env *testEnv) (RecorderService, RotatorService) {
	rotator := NewRotatorService(env.repo, env.clock, keygen.Numeric, 6, 30*time.Second, zap.NewNop())
	recorder := NewRecorderService(env.repo, env.clock, rotator, zap.NewNop())
	return recorder, rotator
}

// seedRecord 预置一条一阶段已完成的记录
func seedRecord(t *testing.T, env *testEnv, sessionID, studentID string) *model.AttendanceRecord {
	t.Helper()
	record := &model.AttendanceRecord{
		SessionID:   sessionID,
		StudentID:   studentID,
		CheckedInAt: env.clock.Now(),
	}
	if err := env.records.Create(context.Background(), record); err != nil {
		t.Fatalf("预置记录失败: %v", err)
	}
	return record
}

// ── CompleteSecondPhase 测试 ──

func TestRecorderService_CompleteSecondPhase_Success(t *testing.T) {
	env := newTestEnv()
	recorder, rotator := setupRecorder(env)
	session := env.addSession("sess-001", "course-001", "teacher-001", -10*time.Minute, 45, true)
	seedRecord(t, env, "sess-001", "student-001")

	key, err := rotator.Issue(context.Background(), session, 0)
	if err != nil {
		t.Fatalf("Issue 应成功: %v", err)
	}

	record, err := recorder.CompleteSecondPhase(context.Background(), session, "student-001", key.Code)
	if err != nil {
		t.Fatalf("CompleteSecondPhase 应成功: %v", err)
	}
	if !record.SecondPhaseCompleted {
		t.Error("记录应标记二阶段完成")
	}
	if record.CompletedAt == nil || !record.CompletedAt.Equal(env.clock.Now()) {
		t.Error("应记录完成时刻")
	}
}

func TestRecorderService_CompleteSecondPhase_NoFirstPhase(t *testing.T) {
	env := newTestEnv()
	recorder, rotator := setupRecorder(env)
	session := env.addSession("sess-001", "course-001", "teacher-001", -10*time.Minute, 45, true)

	key, _ := rotator.Issue(context.Background(), session, 0)
	_, err := recorder.CompleteSecondPhase(context.Background(), session, "student-001", key.Code)
	if !errors.Is(err, ErrNoFirstPhaseRecord) {
		t.Errorf("期望 ErrNoFirstPhaseRecord，实际: %v", err)
	}
}

func TestRecorderService_CompleteSecondPhase_AlreadyCompleted(t *testing.T) {
	env := newTestEnv()
	recorder, rotator := setupRecorder(env)
	session := env.addSession("sess-001", "course-001", "teacher-001", -10*time.Minute, 45, true)
	seedRecord(t, env, "sess-001", "student-001")

	key, _ := rotator.Issue(context.Background(), session, 0)
	if _, err := recorder.CompleteSecondPhase(context.Background(), session, "student-001", key.Code); err != nil {
		t.Fatalf("首次完成应成功: %v", err)
	}

	_, err := recorder.CompleteSecondPhase(context.Background(), session, "student-001", key.Code)
	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("期望 ErrAlreadyCompleted，实际: %v", err)
	}
}

func TestRecorderService_CompleteSecondPhase_ExpiredKey(t *testing.T) {
	env := newTestEnv()
	recorder, rotator := setupRecorder(env)
	session := env.addSession("sess-001", "course-001", "teacher-001", -10*time.Minute, 45, true)
	seedRecord(t, env, "sess-001", "student-001")

	key, _ := rotator.Issue(context.Background(), session, 0)
	env.clock.Advance(31 * time.Second)

	_, err := recorder.CompleteSecondPhase(context.Background(), session, "student-001", key.Code)
	if !errors.Is(err, ErrInvalidOrExpiredKey) {
		t.Errorf("过期码期望 ErrInvalidOrExpiredKey，实际: %v", err)
	}

	// 记录保持未完成，拿新码仍可补上
	newKey, _ := rotator.Issue(context.Background(), session, 0)
	if _, err := recorder.CompleteSecondPhase(context.Background(), session, "student-001", newKey.Code); err != nil {
		t.Fatalf("换新码后应可完成: %v", err)
	}
}

func TestRecorderService_CompleteSecondPhase_WrongKey(t *testing.T) {
	env := newTestEnv()
	recorder, rotator := setupRecorder(env)
	session := env.addSession("sess-001", "course-001", "teacher-001", -10*time.Minute, 45, true)
	seedRecord(t, env, "sess-001", "student-001")

	if _, err := rotator.Issue(context.Background(), session, 0); err != nil {
		t.Fatalf("Issue 应成功: %v", err)
	}
	_, err := recorder.CompleteSecondPhase(context.Background(), session, "student-001", "WRONG")
	if !errors.Is(err, ErrInvalidOrExpiredKey) {
		t.Errorf("期望 ErrInvalidOrExpiredKey，实际: %v", err)
	}
}

func TestRecorderService_CompleteSecondPhase_SessionNotActive(t *testing.T) {
	env := newTestEnv()
	recorder, _ := setupRecorder(env)
	session := env.addSession("sess-001", "course-001", "teacher-001", -10*time.Minute, 45, false)
	seedRecord(t, env, "sess-001", "student-001")

	_, err := recorder.CompleteSecondPhase(context.Background(), session, "student-001", "123456")
	if !errors.Is(err, ErrSessionNotActive) {
		t.Errorf("期望 ErrSessionNotActive，实际: %v", err)
	}
}

// ── ManualOverride 测试 ──

func TestRecorderService_ManualOverride_Create(t *testing.T) {
	env := newTestEnv()
	recorder, _ := setupRecorder(env)
	env.addCourse("course-001", "teacher-001", "student-001")
	session := env.addSession("sess-001", "course-001", "teacher-001", -2*time.Hour, 45, false)

	record, err := recorder.ManualOverride(context.Background(), session, "student-001", OverrideModeCreate)
	if err != nil {
		t.Fatalf("ManualOverride 应成功: %v", err)
	}
	if !record.IsManualEntry {
		t.Error("补录记录应带手工标记")
	}
	if !record.SecondPhaseCompleted {
		t.Error("补建记录应视为两阶段均完成")
	}
	if record.FirstPhaseKeyID != nil {
		t.Error("补录记录不应关联一阶段密钥")
	}
	if record.ClientIP != model.ManualEntryOrigin {
		t.Errorf("期望ClientIP=%s，实际=%s", model.ManualEntryOrigin, record.ClientIP)
	}
}

func TestRecorderService_ManualOverride_CreateDuplicate(t *testing.T) {
	env := newTestEnv()
	recorder, _ := setupRecorder(env)
	env.addCourse("course-001", "teacher-001", "student-001")
	session := env.addSession("sess-001", "course-001", "teacher-001", -2*time.Hour, 45, false)
	seedRecord(t, env, "sess-001", "student-001")

	_, err := recorder.ManualOverride(context.Background(), session, "student-001", OverrideModeCreate)
	if !errors.Is(err, ErrRecordExists) {
		t.Errorf("期望 ErrRecordExists，实际: %v", err)
	}
}

func TestRecorderService_ManualOverride_Complete(t *testing.T) {
	env := newTestEnv()
	recorder, _ := setupRecorder(env)
	env.addCourse("course-001", "teacher-001", "student-001")
	session := env.addSession("sess-001", "course-001", "teacher-001", -2*time.Hour, 45, false)
	seedRecord(t, env, "sess-001", "student-001")

	record, err := recorder.ManualOverride(context.Background(), session, "student-001", OverrideModeComplete)
	if err != nil {
		t.Fatalf("ManualOverride 应成功: %v", err)
	}
	if !record.SecondPhaseCompleted {
		t.Error("记录应标记二阶段完成")
	}
}

func TestRecorderService_ManualOverride_SessionNotEnded(t *testing.T) {
	env := newTestEnv()
	recorder, _ := setupRecorder(env)
	env.addCourse("course-001", "teacher-001", "student-001")
	session := env.addSession("sess-001", "course-001", "teacher-001", -10*time.Minute, 45, true)

	_, err := recorder.ManualOverride(context.Background(), session, "student-001", OverrideModeCreate)
	if !errors.Is(err, ErrSessionNotEnded) {
		t.Errorf("进行中的会话期望 ErrSessionNotEnded，实际: %v", err)
	}
}

func TestRecorderService_ManualOverride_NotEnrolled(t *testing.T) {
	env := newTestEnv()
	recorder, _ := setupRecorder(env)
	env.addCourse("course-001", "teacher-001", "student-001")
	session := env.addSession("sess-001", "course-001", "teacher-001", -2*time.Hour, 45, false)

	_, err := recorder.ManualOverride(context.Background(), session, "student-999", OverrideModeCreate)
	if !errors.Is(err, ErrStudentNotEnrolled) {
		t.Errorf("期望 ErrStudentNotEnrolled，实际: %v", err)
	}
}

// ── Delete 测试 ──

func TestRecorderService_Delete(t *testing.T) {
	env := newTestEnv()
	recorder, _ := setupRecorder(env)
	seedRecord(t, env, "sess-001", "student-001")

	if err := recorder.Delete(context.Background(), "sess-001", "student-001"); err != nil {
		t.Fatalf("Delete 应成功: %v", err)
	}
	if _, err := env.records.GetBySessionAndStudent(context.Background(), "sess-001", "student-001"); err == nil {
		t.Error("记录应已删除")
	}

	if err := recorder.Delete(context.Background(), "sess-001", "student-001"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("期望 ErrRecordNotFound，实际: %v", err)
	}
}
