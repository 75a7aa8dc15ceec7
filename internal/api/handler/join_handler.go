package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"classgate/internal/dto"
	"classgate/internal/service"
	"classgate/pkg/response"
)

// JoinHandler 学生两阶段签到 HTTP 处理器
type JoinHandler struct {
	sessionSvc  service.SessionService
	keyPoolSvc  service.KeyPoolService
	recorderSvc service.RecorderService
}

// NewJoinHandler 创建 JoinHandler
func NewJoinHandler(sessionSvc service.SessionService, keyPoolSvc service.KeyPoolService, recorderSvc service.RecorderService) *JoinHandler {
	return &JoinHandler{sessionSvc: sessionSvc, keyPoolSvc: keyPoolSvc, recorderSvc: recorderSvc}
}

// Join 一阶段签到：核销单次使用密钥，生成考勤记录
// POST /api/v1/join                        （手动输入）
// GET  /api/v1/join?session=xxx&key=KXN4P7Q2 （扫码深链）
func (h *JoinHandler) Join(c *gin.Context) {
	req, ok := h.bindJoin(c)
	if !ok {
		return
	}

	studentID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	session, err := h.sessionSvc.LoadForJoin(c.Request.Context(), req.SessionID, studentID)
	if err != nil {
		h.handleJoinError(c, err)
		return
	}

	record, err := h.keyPoolSvc.Redeem(c.Request.Context(), session, studentID, req.Key, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		h.handleJoinError(c, err)
		return
	}

	phase := 1
	if record.SecondPhaseCompleted {
		phase = 2
	}
	response.OK(c, dto.JoinResponse{Success: true, Message: "签到成功，请在课堂展示的二维码刷新后完成确认", Phase: phase})
}

// JoinLive 二阶段签到：验证当前轮换码，标记记录完成
// GET /api/v1/join-live?session=xxx&key=123456  （扫码深链）
// POST /api/v1/join-live                        （手动输入）
func (h *JoinHandler) JoinLive(c *gin.Context) {
	req, ok := h.bindJoin(c)
	if !ok {
		return
	}

	studentID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	session, err := h.sessionSvc.LoadForJoin(c.Request.Context(), req.SessionID, studentID)
	if err != nil {
		h.handleJoinError(c, err)
		return
	}

	if _, err := h.recorderSvc.CompleteSecondPhase(c.Request.Context(), session, studentID, req.Key); err != nil {
		// 重复提交按幂等成功处理，不算错误
		if errors.Is(err, service.ErrAlreadyCompleted) {
			response.OK(c, dto.JoinResponse{Success: true, Message: "已完成签到确认，无需重复操作", Phase: 2})
			return
		}
		h.handleJoinError(c, err)
		return
	}

	response.OK(c, dto.JoinResponse{Success: true, Message: "签到确认完成", Phase: 2})
}

// bindJoin GET 深链走查询参数，POST 走 JSON 体
func (h *JoinHandler) bindJoin(c *gin.Context) (*dto.JoinRequest, bool) {
	var req dto.JoinRequest
	var err error
	if c.Request.Method == http.MethodGet {
		err = c.ShouldBindQuery(&req)
	} else {
		err = c.ShouldBindJSON(&req)
	}
	if err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return nil, false
	}
	return &req, true
}

// handleJoinError 统一处理学生签到业务错误
func (h *JoinHandler) handleJoinError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		response.NotFound(c, 12001, "签到会话不存在")
	case errors.Is(err, service.ErrStudentNotEnrolled):
		response.Forbidden(c, 13002, "未选修本课程，不能签到")
	case errors.Is(err, service.ErrSessionNotActive):
		response.Conflict(c, 12012, "会话当前未开启签到")
	case errors.Is(err, service.ErrKeyNotFound):
		response.BadRequest(c, 13101, "签到密钥无效")
	case errors.Is(err, service.ErrKeyAlreadyUsed):
		response.Conflict(c, 13102, "该密钥已被使用")
	case errors.Is(err, service.ErrNoFirstPhaseRecord):
		response.Conflict(c, 13103, "请先完成一阶段签到")
	case errors.Is(err, service.ErrInvalidOrExpiredKey):
		response.BadRequest(c, 13105, "二维码已过期，请扫描最新的二维码")
	default:
		response.InternalError(c)
	}
}
