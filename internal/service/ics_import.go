package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"classgate/internal/dto"
	"classgate/internal/model"
)

// ── ICS 导入 ──────────────────────────────────────────────
//
// 职责：将标准 iCalendar (RFC 5545) 内容展开为具体上课场次并批量建会话。
//
// 设计决策：
//   - DTSTART 确定场次开始时间，DTEND/DURATION 确定时长（缺失时用请求默认）
//   - FREQ=WEEKLY 的 RRULE 按 INTERVAL/COUNT/UNTIL 展开，EXDATE 剔除
//   - 非周重复的 RRULE 退化为单次事件
//   - 解析失败、超出展开视野、与已有会话同刻重复的场次计入 skipped
// ─────────────────────────────────────────────────────────────

// ── ICS 导入业务错误 ──

var ErrICSInvalid = errors.New("ICS 内容解析失败")

const (
	// 单次导入的展开视野；超出的重复场次丢弃
	icsExpandHorizon = 26 * 7 * 24 * time.Hour
	// 单个事件展开出的场次上限
	icsMaxOccurrences = 100
)

// parsedOccurrence ICS 展开出的单个上课场次
type parsedOccurrence struct {
	Label           string
	StartsAt        time.Time
	DurationMinutes int
}

// ────────────────────── ImportICS ──────────────────────

func (s *sessionService) ImportICS(ctx context.Context, req *dto.ImportICSRequest, teacherID string) (*dto.ImportICSResponse, error) {
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

	occurrences, skipped, err := parseICSOccurrences(req.Content, s.clock.Now(), s.clock.Location(), req.DurationMinutes)
	if err != nil {
		return nil, err
	}

	enrolled, err := s.repo.Course.CountEnrolled(ctx, req.CourseID)
	if err != nil {
		s.logger.Error("统计选课人数失败", zap.String("course_id", req.CourseID), zap.Error(err))
		return nil, err
	}
	poolSize := int(enrolled) + s.cfg.Attendance.KeyPoolBuffer

	resp := &dto.ImportICSResponse{Skipped: skipped, List: []dto.SessionResponse{}}
	now := s.clock.Now()
	for _, occ := range occurrences {
		session := &model.AttendanceSession{
			CourseID:        req.CourseID,
			TeacherID:       teacherID,
			Label:           occ.Label,
			ScheduledAt:     occ.StartsAt,
			DurationMinutes: occ.DurationMinutes,
		}
		session.Status = ComputeStatus(session, now)

		if err := s.createWithPool(ctx, session, poolSize); err != nil {
			// 单场次失败不中断整批；常见原因是并发导入下的约束冲突
			resp.Skipped++
			s.logger.Warn("导入场次落库失败",
				zap.String("course_id", req.CourseID),
				zap.Time("starts_at", occ.StartsAt),
				zap.Error(err))
			continue
		}
		resp.Created++
		resp.List = append(resp.List, *s.toSessionResponse(session))
	}

	s.logger.Info("ICS 导入完成",
		zap.String("course_id", req.CourseID),
		zap.Int("created", resp.Created),
		zap.Int("skipped", resp.Skipped))
	return resp, nil
}

// parseICSOccurrences 解析 ICS 内容并展开全部场次
func parseICSOccurrences(content string, now time.Time, loc *time.Location, defaultDuration int) ([]parsedOccurrence, int, error) {
	cal, err := ics.ParseCalendar(strings.NewReader(content))
	if err != nil {
		return nil, 0, ErrICSInvalid
	}

	horizon := now.Add(icsExpandHorizon)

	var result []parsedOccurrence
	skipped := 0
	for _, evt := range cal.Events() {
		occs, bad := expandVEvent(evt, loc, horizon, defaultDuration)
		skipped += bad
		result = append(result, occs...)
	}
	return result, skipped, nil
}

// expandVEvent 展开单个 VEVENT；返回场次列表与丢弃数
func expandVEvent(evt *ics.VEvent, loc *time.Location, horizon time.Time, defaultDuration int) ([]parsedOccurrence, int) {
	summary := evt.GetProperty(ics.ComponentPropertySummary)
	if summary == nil || strings.TrimSpace(summary.Value) == "" {
		return nil, 1
	}
	label := strings.TrimSpace(summary.Value)

	dtStart, err := parseICSDateTime(evt, ics.ComponentPropertyDtStart, loc)
	if err != nil {
		return nil, 1
	}

	duration := defaultDuration
	if dtEnd, err := parseICSDateTime(evt, ics.ComponentPropertyDtEnd, loc); err == nil {
		if d := int(dtEnd.Sub(dtStart).Minutes()); d > 0 {
			duration = d
		}
	}
	if duration <= 0 {
		return nil, 1
	}

	rruleProp := evt.GetProperty(ics.ComponentPropertyRrule)
	if rruleProp == nil {
		return []parsedOccurrence{{Label: label, StartsAt: dtStart, DurationMinutes: duration}}, 0
	}

	rule := parseRRule(rruleProp.Value)
	if rule.freq != "WEEKLY" {
		// 非周重复退化为单次
		return []parsedOccurrence{{Label: label, StartsAt: dtStart, DurationMinutes: duration}}, 0
	}

	interval := rule.interval
	if interval < 1 {
		interval = 1
	}
	exDates := parseExDates(evt, loc)

	var occs []parsedOccurrence
	skipped := 0
	current := dtStart
	count := 0
	for count < icsMaxOccurrences {
		if !rule.until.IsZero() && current.After(rule.until) {
			break
		}
		if rule.count > 0 && count >= rule.count {
			break
		}
		if current.After(horizon) {
			skipped++
			break
		}

		if !exDates[current.Format("20060102")] {
			occs = append(occs, parsedOccurrence{Label: label, StartsAt: current, DurationMinutes: duration})
		}

		count++
		current = current.AddDate(0, 0, 7*interval)
	}
	return occs, skipped
}

// rruleParams RRULE 解析结果
type rruleParams struct {
	freq     string
	interval int
	count    int
	until    time.Time
}

// parseRRule 解析 RRULE 字符串（如 FREQ=WEEKLY;COUNT=16;INTERVAL=1）
func parseRRule(value string) rruleParams {
	r := rruleParams{interval: 1}
	for _, part := range strings.Split(value, ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToUpper(kv[0]) {
		case "FREQ":
			r.freq = strings.ToUpper(kv[1])
		case "INTERVAL":
			fmt.Sscanf(kv[1], "%d", &r.interval)
		case "COUNT":
			fmt.Sscanf(kv[1], "%d", &r.count)
		case "UNTIL":
			t, err := time.Parse("20060102T150405Z", kv[1])
			if err != nil {
				t, _ = time.Parse("20060102", kv[1])
			}
			r.until = t
		}
	}
	return r
}

// parseExDates 解析事件中所有 EXDATE
func parseExDates(evt *ics.VEvent, loc *time.Location) map[string]bool {
	exDates := make(map[string]bool)
	for _, prop := range evt.Properties {
		if prop.IANAToken == string(ics.ComponentPropertyExdate) {
			t, err := time.Parse("20060102T150405Z", prop.Value)
			if err != nil {
				t, err = time.Parse("20060102T150405", prop.Value)
				if err != nil {
					t, err = time.Parse("20060102", prop.Value)
				}
			}
			if err == nil {
				exDates[t.In(loc).Format("20060102")] = true
			}
		}
	}
	return exDates
}

// parseICSDateTime 从 VEVENT 中解析日期时间属性
func parseICSDateTime(evt *ics.VEvent, propName ics.ComponentProperty, loc *time.Location) (time.Time, error) {
	prop := evt.GetProperty(propName)
	if prop == nil {
		return time.Time{}, fmt.Errorf("missing property %s", propName)
	}
	val := prop.Value

	// 尝试多种 ICS 日期格式
	formats := []string{
		"20060102T150405Z",
		"20060102T150405",
		"20060102",
	}

	// 检查 TZID 参数
	tzid := ""
	for k, v := range prop.ICalParameters {
		if strings.ToUpper(k) == "TZID" && len(v) > 0 {
			tzid = v[0]
		}
	}

	for _, layout := range formats {
		if t, err := time.Parse(layout, val); err == nil {
			if strings.HasSuffix(layout, "Z") {
				return t.In(loc), nil
			}
			if tzid != "" {
				if tzLoc, err := time.LoadLocation(tzid); err == nil {
					return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, tzLoc).In(loc), nil
				}
			}
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
		}
	}

	return time.Time{}, fmt.Errorf("无法解析日期: %s", val)
}
