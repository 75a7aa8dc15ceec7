package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"classgate/config"
	"classgate/internal/repository"
	"classgate/internal/service"
	"classgate/pkg/clock"
	"classgate/pkg/database"
	applogger "classgate/pkg/logger"
)

// 清扫器以外部调度（cron/systemd timer，建议每 2 分钟）单次运行：
// 把已结束会话的状态缓存列收敛为 expired，并清理超出保留期的二阶段码。
// 任何一次运行失败都可以安全重跑，收敛是幂等的。
func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		logger.Error("数据库连接失败", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	loc, err := cfg.Attendance.Location()
	if err != nil {
		logger.Error("加载时区失败", zap.Error(err))
		os.Exit(1)
	}

	repo := repository.NewRepository(db)
	sweeper := service.NewSweeperService(repo, clock.New(loc), cfg.Attendance.KeyRetention, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	summary, err := sweeper.Sweep(ctx)
	if err != nil {
		logger.Error("清扫失败", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("清扫完成",
		zap.Int("examined", summary.Examined),
		zap.Int("transitioned", summary.Transitioned),
		zap.Int64("purged_keys", summary.PurgedKeys),
		zap.Int("errors", summary.Errors),
	)

	// 单会话级失败只要本次仍有进展就不算整次失败，留给下一轮收敛
	if summary.Errors > 0 && !summary.MadeProgress() {
		os.Exit(1)
	}
}
