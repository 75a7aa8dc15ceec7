package handler

import "classgate/internal/service"

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Auth    *AuthHandler
	Session *SessionHandler
	Record  *RecordHandler
	Join    *JoinHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service) *Handler {
	return &Handler{
		Auth:    NewAuthHandler(svc.Auth),
		Session: NewSessionHandler(svc.Session, svc.Export),
		Record:  NewRecordHandler(svc.Session, svc.Recorder),
		Join:    NewJoinHandler(svc.Session, svc.KeyPool, svc.Recorder),
	}
}
