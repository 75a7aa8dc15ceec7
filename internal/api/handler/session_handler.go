package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"classgate/internal/dto"
	"classgate/internal/service"
	"classgate/pkg/response"
)

// SessionHandler 签到会话模块 HTTP 处理器（教师端）
type SessionHandler struct {
	sessionSvc service.SessionService
	exportSvc  service.ExportService
}

// NewSessionHandler 创建 SessionHandler
func NewSessionHandler(sessionSvc service.SessionService, exportSvc service.ExportService) *SessionHandler {
	return &SessionHandler{sessionSvc: sessionSvc, exportSvc: exportSvc}
}

// CreateSession 创建签到会话（同事务生成一阶段密钥池）
// POST /api/v1/sessions
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	teacherID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	session, err := h.sessionSvc.Create(c.Request.Context(), &req, teacherID)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}

	response.Created(c, session)
}

// ListSessions 获取当前教师的会话列表
// GET /api/v1/sessions?page=1&page_size=20
func (h *SessionHandler) ListSessions(c *gin.Context) {
	var page dto.PaginationRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		response.BadRequest(c, 10001, "分页参数无效")
		return
	}

	teacherID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	list, total, err := h.sessionSvc.List(c.Request.Context(), teacherID, &page)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}

	response.OKPage(c, list, total, page.GetPage(), page.GetPageSize())
}

// GetSession 获取会话详情
// GET /api/v1/sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, 10001, "会话ID不能为空")
		return
	}

	teacherID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	session, err := h.sessionSvc.GetByID(c.Request.Context(), id, teacherID)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}

	response.OK(c, session)
}

// UpdateSession 更新会话（仅 future/inactive/active 可编辑）
// PUT /api/v1/sessions/:id
func (h *SessionHandler) UpdateSession(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, 10001, "会话ID不能为空")
		return
	}

	var req dto.UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	teacherID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	session, err := h.sessionSvc.Update(c.Request.Context(), id, &req, teacherID)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}

	response.OK(c, session)
}

// OpenSession 开启签到
// PUT /api/v1/sessions/:id/open
func (h *SessionHandler) OpenSession(c *gin.Context) {
	h.applyAction(c, h.sessionSvc.Open)
}

// PauseSession 暂停签到（强制过期在途二阶段码）
// PUT /api/v1/sessions/:id/pause
func (h *SessionHandler) PauseSession(c *gin.Context) {
	h.applyAction(c, h.sessionSvc.Pause)
}

// CloseSession 关闭会话（终态，幂等）
// POST /api/v1/sessions/:id/close
func (h *SessionHandler) CloseSession(c *gin.Context) {
	h.applyAction(c, h.sessionSvc.Close)
}

// applyAction open/pause/close 共用的动作骨架
func (h *SessionHandler) applyAction(c *gin.Context, action func(ctx context.Context, id, teacherID string) (*dto.SessionResponse, error)) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, 10001, "会话ID不能为空")
		return
	}

	teacherID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	session, err := action(c.Request.Context(), id, teacherID)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}

	response.OK(c, session)
}

// GetLiveStatus 实时状态轮询（状态、当前二阶段码、到场名单）
// GET /api/v1/sessions/:id/live
func (h *SessionHandler) GetLiveStatus(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, 10001, "会话ID不能为空")
		return
	}

	teacherID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	live, err := h.sessionSvc.Live(c.Request.Context(), id, teacherID)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}

	response.OK(c, live)
}

// ListKeys 获取一阶段密钥池（教师分发用）
// GET /api/v1/sessions/:id/keys
func (h *SessionHandler) ListKeys(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, 10001, "会话ID不能为空")
		return
	}

	teacherID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	keys, err := h.sessionSvc.Keys(c.Request.Context(), id, teacherID)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}

	response.OK(c, gin.H{"list": keys})
}

// RotateKey 立即轮换二阶段码
// POST /api/v1/sessions/:id/keys/rotate
func (h *SessionHandler) RotateKey(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, 10001, "会话ID不能为空")
		return
	}

	var req dto.RotateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	teacherID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	window := time.Duration(req.WindowSeconds) * time.Second
	key, err := h.sessionSvc.Rotate(c.Request.Context(), id, teacherID, window)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}

	response.OK(c, key)
}

// ImportICS 从 ICS 日历批量创建会话
// POST /api/v1/sessions/import-ics
func (h *SessionHandler) ImportICS(c *gin.Context) {
	var req dto.ImportICSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	teacherID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	result, err := h.sessionSvc.ImportICS(c.Request.Context(), &req, teacherID)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}

	response.Created(c, result)
}

// ExportRoster 导出签到名册 Excel
// GET /api/v1/sessions/:id/export
func (h *SessionHandler) ExportRoster(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, 10001, "会话ID不能为空")
		return
	}

	teacherID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	session, err := h.sessionSvc.GetOwned(c.Request.Context(), id, teacherID)
	if err != nil {
		h.handleSessionError(c, err)
		return
	}

	buf, filename, err := h.exportSvc.ExportRoster(c.Request.Context(), session)
	if err != nil {
		response.InternalError(c)
		return
	}

	// 设置下载响应头
	encodedFilename := url.QueryEscape(filename)
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+encodedFilename)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// handleSessionError 统一处理会话模块业务错误
func (h *SessionHandler) handleSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		response.NotFound(c, 12001, "签到会话不存在")
	case errors.Is(err, service.ErrNotSessionOwner):
		response.Forbidden(c, 12002, "无权操作他人的会话")
	case errors.Is(err, service.ErrCourseNotFound):
		response.NotFound(c, 12003, "课程不存在")
	case errors.Is(err, service.ErrNotCourseOwner):
		response.Forbidden(c, 12004, "无权在他人的课程下创建会话")
	case errors.Is(err, service.ErrTimeFormat):
		response.BadRequest(c, 12005, "日期或时间格式不正确")
	case errors.Is(err, service.ErrInvalidDuration):
		response.BadRequest(c, 12006, "调整后的时间会使会话立即过期")
	case errors.Is(err, service.ErrSessionIsClosed):
		response.Conflict(c, 12007, "会话已关闭，不能再编辑")
	case errors.Is(err, service.ErrScheduleLocked):
		response.Conflict(c, 12008, "会话进行中或已过期，不能调整开始时间")
	case errors.Is(err, service.ErrSessionNotStarted):
		response.Conflict(c, 12009, "会话尚未到开始时间")
	case errors.Is(err, service.ErrSessionExpired):
		response.Conflict(c, 12010, "会话已过期")
	case errors.Is(err, service.ErrSessionClosed):
		response.Conflict(c, 12011, "会话已关闭")
	case errors.Is(err, service.ErrSessionNotActive):
		response.Conflict(c, 12012, "会话当前未开启签到")
	case errors.Is(err, service.ErrNoRemainingWindow):
		response.Conflict(c, 12013, "会话剩余时间不足以签发新码")
	case errors.Is(err, service.ErrICSInvalid):
		response.BadRequest(c, 12014, "ICS 内容无法解析")
	default:
		response.InternalError(c)
	}
}
