package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// 迁移脚本随二进制一起发布，服务启动时自动追平
//
//go:embed migrations/*.sql
var migrations embed.FS

// RunMigrations 把数据库结构追平到嵌入的最新迁移版本。
// 上次迁移中断留下的 dirty 状态需要人工介入，这里直接拒绝启动。
func RunMigrations(db *sql.DB, logger *zap.Logger) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}

	if _, dirty, err := m.Version(); err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("读取迁移版本失败: %w", err)
	} else if dirty {
		return fmt.Errorf("数据库迁移处于 dirty 状态，请先人工修复")
	}

	switch err := m.Up(); {
	case err == nil:
		version, _, _ := m.Version()
		logger.Info("数据库迁移完成", zap.Uint("version", version))
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("数据库结构已是最新")
	default:
		return fmt.Errorf("执行迁移失败: %w", err)
	}
	return nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("加载迁移脚本失败: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("创建迁移驱动失败: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("初始化迁移器失败: %w", err)
	}
	return m, nil
}
