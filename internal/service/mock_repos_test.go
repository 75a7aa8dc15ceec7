package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"classgate/config"
	"classgate/internal/model"
	"classgate/internal/repository"
	"classgate/pkg/clock"
	pkgerrors "classgate/pkg/errors"
)

// ── Mock UserRepository ──

type mockUserRepo struct {
	users map[string]*model.User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*model.User)}
}

func (m *mockUserRepo) Create(_ context.Context, user *model.User) error {
	if user.UserID == "" {
		user.UserID = "user-" + user.Email
	}
	m.users[user.UserID] = user
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// ── Mock CourseRepository ──

type mockCourseRepo struct {
	courses     map[string]*model.Course
	enrollments map[string][]string // courseID → studentIDs
}

func newMockCourseRepo() *mockCourseRepo {
	return &mockCourseRepo{
		courses:     make(map[string]*model.Course),
		enrollments: make(map[string][]string),
	}
}

func (m *mockCourseRepo) GetByID(_ context.Context, id string) (*model.Course, error) {
	if c, ok := m.courses[id]; ok {
		return c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockCourseRepo) CountEnrolled(_ context.Context, courseID string) (int64, error) {
	return int64(len(m.enrollments[courseID])), nil
}

func (m *mockCourseRepo) IsEnrolled(_ context.Context, courseID, studentID string) (bool, error) {
	for _, sid := range m.enrollments[courseID] {
		if sid == studentID {
			return true, nil
		}
	}
	return false, nil
}

// ── Mock SessionRepository ──

type mockSessionRepo struct {
	sessions map[string]*model.AttendanceSession
	seq      int
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*model.AttendanceSession)}
}

func (m *mockSessionRepo) Create(_ context.Context, session *model.AttendanceSession) error {
	if session.SessionID == "" {
		m.seq++
		session.SessionID = fmt.Sprintf("sess-%03d", m.seq)
	}
	m.sessions[session.SessionID] = session
	return nil
}

func (m *mockSessionRepo) GetByID(_ context.Context, id string) (*model.AttendanceSession, error) {
	if s, ok := m.sessions[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockSessionRepo) ListByTeacher(_ context.Context, teacherID string, offset, limit int) ([]model.AttendanceSession, int64, error) {
	var all []model.AttendanceSession
	for _, s := range m.sessions {
		if s.TeacherID == teacherID {
			all = append(all, *s)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ScheduledAt.After(all[j].ScheduledAt) })
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (m *mockSessionRepo) Update(_ context.Context, session *model.AttendanceSession) error {
	cp := *session
	m.sessions[session.SessionID] = &cp
	return nil
}

func (m *mockSessionRepo) UpdateStatus(_ context.Context, sessionID string, status model.SessionStatus, expiredAt *time.Time) error {
	s, ok := m.sessions[sessionID]
	if !ok || s.ClosedAt != nil {
		return pkgerrors.ErrConditionalUpdateLost
	}
	s.Status = status
	if expiredAt != nil && s.ExpiredAt == nil {
		s.ExpiredAt = expiredAt
	}
	return nil
}

func (m *mockSessionRepo) ListOpen(_ context.Context) ([]model.AttendanceSession, error) {
	var result []model.AttendanceSession
	for _, s := range m.sessions {
		if s.ClosedAt == nil {
			result = append(result, *s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SessionID < result[j].SessionID })
	return result, nil
}

// ── Mock FirstPhaseKeyRepository ──

type mockFirstPhaseKeyRepo struct {
	keys map[string]*model.FirstPhaseKey
	seq  int
}

func newMockFirstPhaseKeyRepo() *mockFirstPhaseKeyRepo {
	return &mockFirstPhaseKeyRepo{keys: make(map[string]*model.FirstPhaseKey)}
}

func (m *mockFirstPhaseKeyRepo) CreateBatch(_ context.Context, keys []model.FirstPhaseKey) error {
	for i := range keys {
		if keys[i].KeyID == "" {
			m.seq++
			keys[i].KeyID = fmt.Sprintf("fpk-%03d", m.seq)
		}
		cp := keys[i]
		m.keys[cp.KeyID] = &cp
	}
	return nil
}

func (m *mockFirstPhaseKeyRepo) GetBySessionAndCode(_ context.Context, sessionID, code string) (*model.FirstPhaseKey, error) {
	for _, k := range m.keys {
		if k.SessionID == sessionID && k.Code == code {
			cp := *k
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockFirstPhaseKeyRepo) CodeExists(_ context.Context, sessionID, code string) (bool, error) {
	for _, k := range m.keys {
		if k.SessionID == sessionID && k.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockFirstPhaseKeyRepo) ListBySession(_ context.Context, sessionID string) ([]model.FirstPhaseKey, error) {
	var result []model.FirstPhaseKey
	for _, k := range m.keys {
		if k.SessionID == sessionID {
			result = append(result, *k)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].KeyID < result[j].KeyID })
	return result, nil
}

func (m *mockFirstPhaseKeyRepo) TryRedeem(_ context.Context, keyID, studentID string, usedAt time.Time) (bool, error) {
	k, ok := m.keys[keyID]
	if !ok || k.IsUsed {
		return false, nil
	}
	k.IsUsed = true
	k.UsedBy = &studentID
	k.UsedAt = &usedAt
	return true, nil
}

// ── Mock SecondPhaseKeyRepository ──

type mockSecondPhaseKeyRepo struct {
	keys map[string]*model.SecondPhaseKey
	seq  int
}

func newMockSecondPhaseKeyRepo() *mockSecondPhaseKeyRepo {
	return &mockSecondPhaseKeyRepo{keys: make(map[string]*model.SecondPhaseKey)}
}

func (m *mockSecondPhaseKeyRepo) Create(_ context.Context, key *model.SecondPhaseKey) error {
	if key.KeyID == "" {
		m.seq++
		key.KeyID = fmt.Sprintf("spk-%03d", m.seq)
	}
	cp := *key
	m.keys[cp.KeyID] = &cp
	return nil
}

func (m *mockSecondPhaseKeyRepo) CurrentForSession(_ context.Context, sessionID string, now time.Time) (*model.SecondPhaseKey, error) {
	var latest *model.SecondPhaseKey
	for _, k := range m.keys {
		if k.SessionID == sessionID && k.CurrentAt(now) {
			if latest == nil || k.ValidFrom.After(latest.ValidFrom) {
				latest = k
			}
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *mockSecondPhaseKeyRepo) MatchValid(_ context.Context, sessionID, code string, now time.Time) (bool, error) {
	for _, k := range m.keys {
		if k.SessionID == sessionID && k.Code == code && k.CurrentAt(now) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockSecondPhaseKeyRepo) ExpireValid(_ context.Context, sessionID string, now time.Time) (int64, error) {
	var n int64
	for _, k := range m.keys {
		if k.SessionID == sessionID && k.ValidUntil.After(now) {
			k.ValidUntil = now.Add(-time.Microsecond)
			n++
		}
	}
	return n, nil
}

func (m *mockSecondPhaseKeyRepo) DeleteLapsed(_ context.Context, sessionID string, now time.Time) error {
	for id, k := range m.keys {
		if k.SessionID == sessionID && k.ValidUntil.Before(now) {
			delete(m.keys, id)
		}
	}
	return nil
}

func (m *mockSecondPhaseKeyRepo) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, k := range m.keys {
		if k.ValidUntil.Before(cutoff) {
			delete(m.keys, id)
			n++
		}
	}
	return n, nil
}

// ── Mock AttendanceRecordRepository ──

type mockAttendanceRecordRepo struct {
	records map[string]*model.AttendanceRecord // "sessionID:studentID" → record
	seq     int
}

func newMockAttendanceRecordRepo() *mockAttendanceRecordRepo {
	return &mockAttendanceRecordRepo{records: make(map[string]*model.AttendanceRecord)}
}

func (m *mockAttendanceRecordRepo) key(sessionID, studentID string) string {
	return sessionID + ":" + studentID
}

func (m *mockAttendanceRecordRepo) Create(_ context.Context, record *model.AttendanceRecord) error {
	k := m.key(record.SessionID, record.StudentID)
	if _, exists := m.records[k]; exists {
		return gorm.ErrDuplicatedKey
	}
	if record.RecordID == "" {
		m.seq++
		record.RecordID = fmt.Sprintf("rec-%03d", m.seq)
	}
	cp := *record
	m.records[k] = &cp
	return nil
}

func (m *mockAttendanceRecordRepo) GetBySessionAndStudent(_ context.Context, sessionID, studentID string) (*model.AttendanceRecord, error) {
	if r, ok := m.records[m.key(sessionID, studentID)]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockAttendanceRecordRepo) MarkCompleted(_ context.Context, recordID string, completedAt time.Time) (bool, error) {
	for _, r := range m.records {
		if r.RecordID == recordID {
			if r.SecondPhaseCompleted {
				return false, nil
			}
			r.SecondPhaseCompleted = true
			r.CompletedAt = &completedAt
			return true, nil
		}
	}
	return false, nil
}

func (m *mockAttendanceRecordRepo) ListBySession(_ context.Context, sessionID string) ([]model.AttendanceRecord, error) {
	var result []model.AttendanceRecord
	for _, r := range m.records {
		if r.SessionID == sessionID {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CheckedInAt.Before(result[j].CheckedInAt) })
	return result, nil
}

func (m *mockAttendanceRecordRepo) Delete(_ context.Context, sessionID, studentID string) error {
	delete(m.records, m.key(sessionID, studentID))
	return nil
}

// ── 测试装配 ──

// testNow 各服务测试共用的基准时刻
var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// testEnv 按字段装配的仓储聚合与依赖，供各服务测试共用
type testEnv struct {
	repo       *repository.Repository
	users      *mockUserRepo
	courses    *mockCourseRepo
	sessions   *mockSessionRepo
	firstKeys  *mockFirstPhaseKeyRepo
	secondKeys *mockSecondPhaseKeyRepo
	records    *mockAttendanceRecordRepo
	clock      *clock.Fixed
	cfg        *config.Config
}

func newTestEnv() *testEnv {
	env := &testEnv{
		users:      newMockUserRepo(),
		courses:    newMockCourseRepo(),
		sessions:   newMockSessionRepo(),
		firstKeys:  newMockFirstPhaseKeyRepo(),
		secondKeys: newMockSecondPhaseKeyRepo(),
		records:    newMockAttendanceRecordRepo(),
		clock:      clock.NewFixed(testNow),
	}
	env.repo = &repository.Repository{
		User:           env.users,
		Course:         env.courses,
		Session:        env.sessions,
		FirstPhaseKey:  env.firstKeys,
		SecondPhaseKey: env.secondKeys,
		Record:         env.records,
	}
	env.cfg = &config.Config{
		Server: config.ServerConfig{BaseURL: "http://localhost:8080"},
		Auth: config.AuthConfig{
			JWTSecret:       "test-secret-0123456789",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
		},
		Attendance: config.AttendanceConfig{
			Timezone:             "UTC",
			FirstPhaseKeyLength:  8,
			FirstPhaseAlphabet:   "alphanumeric",
			KeyPoolBuffer:        5,
			SecondPhaseKeyLength: 6,
			RotationWindow:       30 * time.Second,
			KeyRetention:         time.Hour,
		},
	}
	return env
}

// addCourse 写入课程与选课学生
func (env *testEnv) addCourse(courseID, teacherID string, studentIDs ...string) {
	env.courses.courses[courseID] = &model.Course{CourseID: courseID, Name: "测试课程", TeacherID: teacherID}
	env.courses.enrollments[courseID] = studentIDs
}

// addSession 写入一个会话，scheduled 相对 testNow 偏移
func (env *testEnv) addSession(id, courseID, teacherID string, startOffset time.Duration, durationMinutes int, openIntent bool) *model.AttendanceSession {
	s := &model.AttendanceSession{
		SessionID:       id,
		CourseID:        courseID,
		TeacherID:       teacherID,
		Label:           "第一讲",
		ScheduledAt:     testNow.Add(startOffset),
		DurationMinutes: durationMinutes,
		OpenIntent:      openIntent,
	}
	s.Status = ComputeStatus(s, testNow)
	env.sessions.sessions[id] = s
	return s
}
