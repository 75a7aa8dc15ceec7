package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用全局配置结构体
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Attendance AttendanceConfig `mapstructure:"attendance"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port    int        `mapstructure:"port"`
	BaseURL string     `mapstructure:"base_url"`
	CORS    CORSConfig `mapstructure:"cors"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// DatabaseConfig PostgreSQL 数据库配置
type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Name         string `mapstructure:"name"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	SSLMode      string `mapstructure:"sslmode"`
	Timezone     string `mapstructure:"timezone"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// DSN 生成 PostgreSQL 连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.Timezone,
	)
}

// RedisConfig Redis 缓存配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig JWT 认证配置
type AuthConfig struct {
	JWTSecret              string        `mapstructure:"jwt_secret"`
	AccessTokenTTL         time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL        time.Duration `mapstructure:"refresh_token_ttl"`
	JoinRateLimitPerMinute int           `mapstructure:"join_rate_limit_per_minute"`
}

// AttendanceConfig 签到核心参数配置
type AttendanceConfig struct {
	// Timezone 业务时区。所有状态推导/过期判断都在该时区下进行，
	// 不依赖操作系统默认时区
	Timezone string `mapstructure:"timezone"`
	// FirstPhaseKeyLength 一阶段密钥长度
	FirstPhaseKeyLength int `mapstructure:"first_phase_key_length"`
	// FirstPhaseAlphabet 一阶段密钥字符集：numeric | alphanumeric
	FirstPhaseAlphabet string `mapstructure:"first_phase_alphabet"`
	// KeyPoolBuffer 密钥池在选课人数之外额外生成的密钥数
	KeyPoolBuffer int `mapstructure:"key_pool_buffer"`
	// SecondPhaseKeyLength 二阶段轮换码长度（纯数字）
	SecondPhaseKeyLength int `mapstructure:"second_phase_key_length"`
	// RotationWindow 二阶段轮换码默认有效窗口
	RotationWindow time.Duration `mapstructure:"rotation_window"`
	// KeyRetention 已失效二阶段码的保留宽限期，超出后由清扫任务删除
	KeyRetention time.Duration `mapstructure:"key_retention"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error
	Format string `mapstructure:"format"` // json | console
}

// Location 解析业务时区，失败时返回错误而非回退到系统时区
func (c *AttendanceConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("加载业务时区 %q 失败: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load 加载配置：默认值 → 配置文件 → 环境变量（CLASSGATE_ 前缀）
func Load(path string) (*Config, error) {
	v := viper.New()

	// ── 默认值 ──
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "classgate")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.timezone", "Asia/Shanghai")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 10)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.access_token_ttl", "15m")
	v.SetDefault("auth.refresh_token_ttl", "168h")
	v.SetDefault("auth.join_rate_limit_per_minute", 30)

	v.SetDefault("attendance.timezone", "Asia/Shanghai")
	v.SetDefault("attendance.first_phase_key_length", 8)
	v.SetDefault("attendance.first_phase_alphabet", "alphanumeric")
	v.SetDefault("attendance.key_pool_buffer", 5)
	v.SetDefault("attendance.second_phase_key_length", 6)
	v.SetDefault("attendance.rotation_window", "30s")
	v.SetDefault("attendance.key_retention", "1h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// ── 配置文件 ──
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// ── 环境变量 ──
	v.SetEnvPrefix("CLASSGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件不存在时仅依赖默认值和环境变量
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 校验关键配置项
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("配置校验失败: auth.jwt_secret 不能为空")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("配置校验失败: auth.jwt_secret 长度不能少于 16 字符")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("配置校验失败: server.port 必须在 1-65535 之间")
	}
	if c.Attendance.FirstPhaseKeyLength < 4 {
		return fmt.Errorf("配置校验失败: attendance.first_phase_key_length 不能少于 4")
	}
	if c.Attendance.SecondPhaseKeyLength < 4 {
		return fmt.Errorf("配置校验失败: attendance.second_phase_key_length 不能少于 4")
	}
	if c.Attendance.RotationWindow < 5*time.Second {
		return fmt.Errorf("配置校验失败: attendance.rotation_window 不能短于 5s")
	}
	switch c.Attendance.FirstPhaseAlphabet {
	case "numeric", "alphanumeric":
	default:
		return fmt.Errorf("配置校验失败: attendance.first_phase_alphabet 必须为 numeric 或 alphanumeric")
	}
	if _, err := c.Attendance.Location(); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	return nil
}
