// Package config 统一配置管理
//
// 配置加载策略：
//  1. 从 .env 加载敏感信息（数据库密码、保险库主口令）和 APP_ENV
//  2. 根据 APP_ENV 加载对应的 configs/{env}.yaml 配置文件
//  3. 环境变量可覆盖 YAML 配置
//
// 使用方式：
//   - 开发环境: APP_ENV=dev (默认)
//   - 测试环境: APP_ENV=test
//   - 生产环境: APP_ENV=prod
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"autopilot/internal/shared/objstore"
)

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// ============================================================================
// YAML 配置结构
// ============================================================================

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Minio     objstore.Config `yaml:"minio"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Engine    EngineConfig    `yaml:"engine"`
	Workspace WorkspaceConfig `yaml:"workspace"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// StorageConfig 持久层驱动选择
type StorageConfig struct {
	Driver string `yaml:"driver"` // mongo or postgres
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type DatabaseConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	User    string `yaml:"user"`
	Name    string `yaml:"name"`
	SSLMode string `yaml:"sslmode"`
}

type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DB      int    `yaml:"db"`
}

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	PausePollInterval time.Duration `yaml:"pause_poll_interval"`
}

// EngineConfig 执行引擎配置
type EngineConfig struct {
	Binary        string   `yaml:"binary"`
	Model         string   `yaml:"model"`
	AllowedTools  []string `yaml:"allowed_tools"`
	BrowserServer string   `yaml:"browser_server"`
}

// WorkspaceConfig 工作区配置
type WorkspaceConfig struct {
	BaseDir string `yaml:"base_dir"`
}

// ============================================================================
// 最终配置
// ============================================================================

// Config 应用配置（最终使用的配置）
type Config struct {
	Env Environment

	StorageDriver string
	MongoURI      string
	MongoDatabase string
	DatabaseURL   string

	RedisEnabled bool
	RedisAddr    string
	RedisDB      int

	Minio objstore.Config

	VaultMasterSecret string

	APIPort   string
	Scheduler SchedulerConfig
	Engine    EngineConfig
	Workspace WorkspaceConfig
}

var configPaths = []string{
	"configs",
	"../configs",
	"../../configs",
	"../../../configs",
}

var envPaths = []string{
	".env",
	"../.env",
	"../../.env",
	"../../../.env",
}

// Load 加载配置
// 1. 加载 .env（敏感信息 + APP_ENV）
// 2. 根据 APP_ENV 加载 configs/{env}.yaml
// 3. 环境变量覆盖，构建最终配置
func Load() *Config {
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	env := parseEnv(getEnv("APP_ENV", "dev"))
	yamlCfg := loadYAMLConfig(env)

	dbPassword := getEnv("DB_PASSWORD", "autopilot_dev_password")

	cfg := &Config{
		Env:           env,
		StorageDriver: getEnv("STORAGE_DRIVER", yamlCfg.Storage.Driver),
		MongoURI:      getEnv("MONGO_URI", yamlCfg.Mongo.URI),
		MongoDatabase: yamlCfg.Mongo.Database,
		DatabaseURL:   getEnv("DATABASE_URL", buildDatabaseURL(yamlCfg.Database, dbPassword)),

		RedisEnabled: yamlCfg.Redis.Enabled,
		RedisAddr:    fmt.Sprintf("%s:%d", yamlCfg.Redis.Host, yamlCfg.Redis.Port),
		RedisDB:      yamlCfg.Redis.DB,

		Minio: yamlCfg.Minio,

		VaultMasterSecret: getEnv("VAULT_MASTER_SECRET", ""),

		APIPort:   getEnv("API_PORT", yamlCfg.Server.Port),
		Scheduler: yamlCfg.Scheduler,
		Engine:    yamlCfg.Engine,
		Workspace: yamlCfg.Workspace,
	}

	// MinIO 凭据从环境变量注入，不落 YAML
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Minio.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.Minio.SecretKey = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}

	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *YAMLConfig {
	cfg := &YAMLConfig{
		Server:   ServerConfig{Port: "8080"},
		Storage:  StorageConfig{Driver: "mongo"},
		Mongo:    MongoConfig{URI: "mongodb://localhost:27017", Database: "autopilot"},
		Database: DatabaseConfig{Host: "localhost", Port: 5432, User: "autopilot", Name: "autopilot", SSLMode: "disable"},
		Redis:    RedisConfig{Enabled: false, Host: "localhost", Port: 6379, DB: 0},
		Minio: objstore.Config{
			Endpoint: "localhost:9000",
			Bucket:   "autopilot-checkpoints",
		},
		Scheduler: SchedulerConfig{
			PollInterval:      3 * time.Second,
			PausePollInterval: 2 * time.Second,
		},
		Engine: EngineConfig{
			Binary:        "claude",
			AllowedTools:  []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep", "WebFetch"},
			BrowserServer: "playwright",
		},
		Workspace: WorkspaceConfig{BaseDir: "/var/lib/autopilot/workspaces"},
	}

	for _, base := range configPaths {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range configPaths {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	return cfg
}

// buildDatabaseURL 构建 PostgreSQL 连接字符串
func buildDatabaseURL(db DatabaseConfig, password string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.User, password, db.Host, db.Port, db.Name, db.SSLMode)
}

func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// String 返回配置摘要（隐藏密码）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Storage: %s, DB: %s}",
		c.Env, c.StorageDriver, maskPassword(c.DatabaseURL))
}

// maskPassword 隐藏密码
func maskPassword(url string) string {
	re := regexp.MustCompile(`(://[^:]+:)([^@]+)(@)`)
	return re.ReplaceAllString(url, "${1}***${3}")
}
