package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	OAuth     OAuthConfig     `mapstructure:"oauth"`
	Selection SelectionConfig `mapstructure:"selection"`
	Mail      MailConfig      `mapstructure:"mail"`
	Slack     SlackConfig     `mapstructure:"slack"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Drive     DriveConfig     `mapstructure:"drive"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port        int        `mapstructure:"port"`
	BaseURL     string     `mapstructure:"base_url"`
	FrontendURL string     `mapstructure:"frontend_url"` // OAuth 回调完成后的跳转地址
	CORS        CORSConfig `mapstructure:"cors"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// DatabaseConfig 数据库配置
// driver=postgres 为生产模式；driver=sqlite 仅用于本地开发
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"sslmode"`
	Timezone        string `mapstructure:"timezone"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // 连接最大生命周期（分钟）
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // 空闲连接最大存活时间（分钟）
}

// DSN 生成 PostgreSQL 连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.Timezone,
	)
}

// RedisConfig Redis 配置（缓存、限流、Token 黑名单、asynq 队列共用）
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig JWT 认证配置
type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	Cookie          CookieConfig  `mapstructure:"cookie"`
}

// CookieConfig Cookie 安全配置
type CookieConfig struct {
	Secure   bool   `mapstructure:"secure"`
	SameSite string `mapstructure:"same_site"`
	Domain   string `mapstructure:"domain"`
}

// OAuthConfig Google 登录配置
type OAuthConfig struct {
	GoogleClientID     string   `mapstructure:"google_client_id"`
	GoogleClientSecret string   `mapstructure:"google_client_secret"`
	GoogleCallbackURL  string   `mapstructure:"google_callback_url"`
	SessionSecret      string   `mapstructure:"session_secret"`
	AdminEmails        []string `mapstructure:"admin_emails"`
}

// IsAdminEmail 判断邮箱是否在管理员名单中（大小写不敏感）
func (c *OAuthConfig) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, e := range c.AdminEmails {
		if strings.ToLower(strings.TrimSpace(e)) == email {
			return true
		}
	}
	return false
}

// SelectionConfig 模块选择规则配置
type SelectionConfig struct {
	MaxModules    map[string]int `mapstructure:"max_modules"`
	ReleasePolicy string         `mapstructure:"release_policy"`
}

// MailConfig SendGrid 邮件配置
type MailConfig struct {
	SendGridAPIKey string   `mapstructure:"sendgrid_api_key"`
	FromName       string   `mapstructure:"from_name"`
	FromEmail      string   `mapstructure:"from_email"`
	AdminEmails    []string `mapstructure:"admin_emails"` // 提交通知收件人
}

// SlackConfig Slack Incoming Webhook 配置
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// GitHubConfig GitHub Classroom 评分配置
type GitHubConfig struct {
	Token        string `mapstructure:"token"`
	WorkflowName string `mapstructure:"workflow_name"`
	ArtifactName string `mapstructure:"artifact_name"`
	WorkflowFile string `mapstructure:"workflow_file"`
}

// DriveConfig Google Drive 凭据配置
// CredentialsJSON 优先于 CredentialsFile
type DriveConfig struct {
	CredentialsJSON string `mapstructure:"credentials_json"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// WorkerConfig 后台任务配置
type WorkerConfig struct {
	Embedded     bool   `mapstructure:"embedded"` // serve 模式下是否同时运行 worker
	Concurrency  int    `mapstructure:"concurrency"`
	ReminderCron string `mapstructure:"reminder_cron"`
	Timezone     string `mapstructure:"timezone"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load 从配置文件与环境变量加载配置
// 优先级：环境变量 > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	v := viper.New()

	// ── 默认值 ──
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.frontend_url", "http://localhost:5173")
	v.SetDefault("server.cors.allow_origins", []string{"http://localhost:5173"})

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.sqlite_path", "review_portal.db")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "review_portal")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", 60)
	v.SetDefault("db.conn_max_idle_time", 30)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.access_token_ttl", "15m")
	v.SetDefault("auth.refresh_token_ttl", "168h")
	v.SetDefault("auth.cookie.secure", false)
	v.SetDefault("auth.cookie.same_site", "Lax")

	v.SetDefault("oauth.google_callback_url", "http://localhost:8080/api/v1/auth/google/callback")

	v.SetDefault("selection.max_modules.reviewer", 2)
	v.SetDefault("selection.max_modules.student", 1)
	v.SetDefault("selection.max_modules.admin", 1)
	v.SetDefault("selection.release_policy", "homework_required")

	v.SetDefault("mail.from_name", "Course Review")
	v.SetDefault("mail.from_email", "noreply@example.com")

	v.SetDefault("github.workflow_name", "Autograding")
	v.SetDefault("github.artifact_name", "grade-report")
	v.SetDefault("github.workflow_file", "grade.yml")

	v.SetDefault("worker.embedded", true)
	v.SetDefault("worker.concurrency", 5)
	v.SetDefault("worker.reminder_cron", "0 9 * * 1")
	v.SetDefault("worker.timezone", "UTC")

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
	v.SetEnvPrefix("PORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
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
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("配置校验失败: db.driver 仅支持 postgres / sqlite，当前为 %q", c.Database.Driver)
	}
	switch c.Selection.ReleasePolicy {
	case "homework_required", "no_submissions", "unrestricted":
	default:
		return fmt.Errorf("配置校验失败: selection.release_policy 无效: %q", c.Selection.ReleasePolicy)
	}
	for _, role := range []string{"reviewer", "student", "admin"} {
		if c.Selection.MaxModules[role] <= 0 {
			return fmt.Errorf("配置校验失败: selection.max_modules.%s 必须大于 0", role)
		}
	}
	return nil
}
