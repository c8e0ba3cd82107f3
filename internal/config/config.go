package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"medreminder/pkg/config"
)

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MigrationsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Source  string `yaml:"source"`
}

// SchedulerConfig 调度相关配置
type SchedulerConfig struct {
	Timezone            string        `yaml:"timezone"`
	AdvanceNoticeHour   int           `yaml:"advance_notice_hour"`
	AdvanceNoticeMinute int           `yaml:"advance_notice_minute"`
	TickTimeout         time.Duration `yaml:"tick_timeout"`
	JobLock             bool          `yaml:"job_lock"`
	JobLockTTL          time.Duration `yaml:"job_lock_ttl"`
}

// Location 解析时区，为空时使用本地时区
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

type OutboxConfig struct {
	Interval    time.Duration `yaml:"interval"`
	BatchSize   int           `yaml:"batch_size"`
	MaxRetries  int           `yaml:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`
}

// DispatchConfig 投递渠道与 mail-worker 配置
type DispatchConfig struct {
	Channel        string        `yaml:"channel"` // EMAIL / WEBHOOK
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
	Queue          string        `yaml:"queue"`
	Prefetch       int           `yaml:"prefetch"`
	MaxRetries     int64         `yaml:"max_retries"`
	RetryBase      time.Duration `yaml:"retry_base"` // 重投延迟基数，按次数翻倍，上限 16 倍
	DedupTTL       time.Duration `yaml:"dedup_ttl"`
}

// OpsConfig 运维接口登录，密码以 bcrypt hash 存储
type OpsConfig struct {
	AdminUser         string `yaml:"admin_user"`
	AdminPasswordHash string `yaml:"admin_password_hash"`
}

type Config struct {
	Log        LogConfig           `yaml:"log"`
	DB         config.DBConfig     `yaml:"db"`
	MQ         config.MQConfig     `yaml:"mq"`
	Redis      config.RedisConfig  `yaml:"redis"`
	JWT        config.JWTConfig    `yaml:"jwt"`
	Server     config.ServerConfig `yaml:"server"`
	SMTP       config.SMTPConfig   `yaml:"smtp"`
	Migrations MigrationsConfig    `yaml:"migrations"`
	Scheduler  SchedulerConfig     `yaml:"scheduler"`
	Outbox     OutboxConfig        `yaml:"outbox"`
	Dispatch   DispatchConfig      `yaml:"dispatch"`
	Ops        OpsConfig           `yaml:"ops"`
}

// Load 使用统一配置中心：CONFIG_ENV 与 CONFIG_DIR 决定读取的文件
func Load() (*Config, error) {
	return LoadFrom(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
}

func LoadFrom(env, dir string) (*Config, error) {
	cfgMap, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := Default()
	if err := config.Decode(cfgMap, cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideSMTPFromEnv(&cfg.SMTP)
	if tz := os.Getenv("SCHEDULER_TIMEZONE"); tz != "" {
		cfg.Scheduler.Timezone = tz
	}
	if url := os.Getenv("WEBHOOK_URL"); url != "" {
		cfg.Dispatch.WebhookURL = url
	}
	cfg.Dispatch.Channel = strings.ToUpper(cfg.Dispatch.Channel)

	return cfg, nil
}

// Default 返回未被配置文件覆盖时的取值
func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: "info", Format: "json"},
		Server: config.ServerConfig{Port: "8080"},
		Migrations: MigrationsConfig{
			Enabled: true,
			Source:  "file://migrations",
		},
		Scheduler: SchedulerConfig{
			AdvanceNoticeHour: 7,
			TickTimeout:       45 * time.Second,
			JobLock:           true,
			JobLockTTL:        2 * time.Minute,
		},
		Outbox: OutboxConfig{
			Interval:    time.Second,
			BatchSize:   100,
			MaxRetries:  5,
			BackoffBase: 5 * time.Second,
		},
		Dispatch: DispatchConfig{
			Channel:        "EMAIL",
			WebhookTimeout: 10 * time.Second,
			Queue:          "reminder.dispatch.q",
			Prefetch:       10,
			MaxRetries:     5,
			RetryBase:      10 * time.Second,
			DedupTTL:       24 * time.Hour,
		},
		JWT: config.JWTConfig{TTL: "12h"},
	}
}

// JWTTTL 解析 token 有效期，非法值回退到 12h
func (c *Config) JWTTTL() time.Duration {
	d, err := time.ParseDuration(c.JWT.TTL)
	if err != nil || d <= 0 {
		return 12 * time.Hour
	}
	return d
}
