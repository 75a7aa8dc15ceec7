package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"classgate/internal/dto"
	"classgate/internal/service"
	"classgate/pkg/response"
)

// RecordHandler 考勤记录管理 HTTP 处理器（教师端补录/删除）
type RecordHandler struct {
	sessionSvc  service.SessionService
	recorderSvc service.RecorderService
}

// NewRecordHandler 创建 RecordHandler
func NewRecordHandler(sessionSvc service.SessionService, recorderSvc service.RecorderService) *RecordHandler {
	return &RecordHandler{sessionSvc: sessionSvc, recorderSvc: recorderSvc}
}

// OverrideRecord 手工补录/补完成学生的考勤记录（仅会话结束后）
// POST /api/v1/sessions/:id/records/:student_id/override
func (h *RecordHandler) OverrideRecord(c *gin.Context) {
	sessionID := c.Param("id")
	studentID := c.Param("student_id")
	if sessionID == "" || studentID == "" {
		response.BadRequest(c, 10001, "会话ID与学生ID不能为空")
		return
	}

	var req dto.ManualOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	teacherID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	session, err := h.sessionSvc.GetOwned(c.Request.Context(), sessionID, teacherID)
	if err != nil {
		h.handleRecordError(c, err)
		return
	}

	record, err := h.recorderSvc.ManualOverride(c.Request.Context(), session, studentID, req.Mode)
	if err != nil {
		h.handleRecordError(c, err)
		return
	}

	response.OK(c, gin.H{
		"student_id":             record.StudentID,
		"second_phase_completed": record.SecondPhaseCompleted,
		"is_manual_entry":        record.IsManualEntry,
	})
}

// DeleteRecord 删除学生的考勤记录
// DELETE /api/v1/sessions/:id/records/:student_id
func (h *RecordHandler) DeleteRecord(c *gin.Context) {
	sessionID := c.Param("id")
	studentID := c.Param("student_id")
	if sessionID == "" || studentID == "" {
		response.BadRequest(c, 10001, "会话ID与学生ID不能为空")
		return
	}

	teacherID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	if _, err := h.sessionSvc.GetOwned(c.Request.Context(), sessionID, teacherID); err != nil {
		h.handleRecordError(c, err)
		return
	}

	if err := h.recorderSvc.Delete(c.Request.Context(), sessionID, studentID); err != nil {
		h.handleRecordError(c, err)
		return
	}

	response.OK(c, nil)
}

// handleRecordError 统一处理记录管理业务错误
func (h *RecordHandler) handleRecordError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		response.NotFound(c, 12001, "签到会话不存在")
	case errors.Is(err, service.ErrNotSessionOwner):
		response.Forbidden(c, 12002, "无权操作他人的会话")
	case errors.Is(err, service.ErrSessionNotEnded):
		response.Conflict(c, 13001, "会话尚未结束，不能手工补录")
	case errors.Is(err, service.ErrStudentNotEnrolled):
		response.BadRequest(c, 13002, "该学生未选修本课程")
	case errors.Is(err, service.ErrRecordExists):
		response.Conflict(c, 13003, "该学生已有考勤记录")
	case errors.Is(err, service.ErrRecordNotFound):
		response.NotFound(c, 13004, "考勤记录不存在")
	case errors.Is(err, service.ErrAlreadyCompleted):
		response.Conflict(c, 13005, "该记录已完成二阶段确认")
	case errors.Is(err, service.ErrUnknownOverrideMode):
		response.BadRequest(c, 10001, "补录模式无效")
	default:
		response.InternalError(c)
	}
}
