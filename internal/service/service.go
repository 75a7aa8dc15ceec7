package service

import (
	"go.uber.org/zap"

	"classgate/config"
	"classgate/internal/repository"
	"classgate/pkg/clock"
	"classgate/pkg/jwt"
	"classgate/pkg/keygen"
	"classgate/pkg/redis"
)

// Service 所有业务服务的聚合入口
type Service struct {
	Auth     AuthService
	Session  SessionService
	KeyPool  KeyPoolService
	Rotator  RotatorService
	Recorder RecorderService
	Export   ExportService
	Sweeper  SweeperService
}

// NewService 创建 Service 聚合
// rdb 可为 nil：登出黑名单与限流降级，核心签到流程不依赖 Redis。
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	jwtMgr *jwt.Manager,
	rdb *redis.Client,
	clk clock.Clock,
	logger *zap.Logger,
) (*Service, error) {
	firstAlphabet, err := keygen.Parse(cfg.Attendance.FirstPhaseAlphabet)
	if err != nil {
		return nil, err
	}

	keyPool := NewKeyPoolService(repo, clk, firstAlphabet, cfg.Attendance.FirstPhaseKeyLength, logger)
	rotator := NewRotatorService(repo, clk, keygen.Numeric, cfg.Attendance.SecondPhaseKeyLength, cfg.Attendance.RotationWindow, logger)

	return &Service{
		Auth:     NewAuthService(cfg, repo, jwtMgr, rdb, logger),
		Session:  NewSessionService(repo, clk, keyPool, rotator, cfg, logger),
		KeyPool:  keyPool,
		Rotator:  rotator,
		Recorder: NewRecorderService(repo, clk, rotator, logger),
		Export:   NewExportService(repo, clk, logger),
		Sweeper:  NewSweeperService(repo, clk, cfg.Attendance.KeyRetention, logger),
	}, nil
}
