package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/schedctl/internal/query"
	"github.com/ChuLiYu/schedctl/internal/session"
)

// 環境變數，優先於設定檔
const (
	EnvAPIURL     = "SCHEDCTL_API_URL"
	EnvTokenStore = "SCHEDCTL_TOKEN_STORE"
	EnvLogLevel   = "SCHEDCTL_LOG_LEVEL"
)

// DefaultConfigPath --config 的預設值；檔案不存在時使用內建預設
const DefaultConfigPath = "configs/default.yaml"

// token 儲存方式
const (
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config represents the complete console configuration
// Maps config file fields through YAML tags
type Config struct {
	API struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"api"`

	Session struct {
		Store string `yaml:"store"` // file / redis / memory
		File  string `yaml:"file"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Key      string `yaml:"key"`
		} `yaml:"redis"`
	} `yaml:"session"`

	Logs struct {
		PageSize                int  `yaml:"page_size"`
		ResetPageOnFilterChange bool `yaml:"reset_page_on_filter_change"`
	} `yaml:"logs"`

	Worker struct {
		WorkerCount int `yaml:"worker_count"` // 批次命令的並行數
	} `yaml:"worker"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Tracing struct {
		Exporter string `yaml:"exporter"` // none / stdout
		File     string `yaml:"file"`
	} `yaml:"tracing"`

	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
}

// defaultConfig 內建預設值
func defaultConfig() *Config {
	cfg := &Config{}
	cfg.API.BaseURL = "http://localhost:4000"
	cfg.API.Timeout = 10 * time.Second
	cfg.Session.Store = StoreFile
	cfg.Session.File = defaultTokenFile()
	cfg.Session.Redis.Addr = "localhost:6379"
	cfg.Session.Redis.Key = session.DefaultRedisKey
	cfg.Logs.PageSize = query.DefaultLimit
	cfg.Worker.WorkerCount = 4
	cfg.Metrics.Port = 9090
	cfg.Tracing.Exporter = "none"
	cfg.Log.Level = "info"
	return cfg
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".schedctl-token.json"
	}
	return filepath.Join(dir, "schedctl", "token.json")
}

// loadConfig 讀取 YAML 設定並套用環境變數
// 參數：
//   - path: 設定檔路徑
//   - explicit: 使用者是否明確指定；指定的檔案不存在時為錯誤
//
// 返回值：
//   - *Config: 預設值 + 檔案內容 + 環境變數
//   - error: 讀取或解析失敗
func loadConfig(path string, explicit bool) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// 沒有設定檔也能直接使用
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvAPIURL)); v != "" {
		cfg.API.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTokenStore)); v != "" {
		cfg.Session.Store = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Log.Level = v
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("invalid config: api.base_url is empty")
	}
	switch c.Session.Store {
	case StoreFile, StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("invalid config: unknown session store %q", c.Session.Store)
	}
	if c.Session.File == "" {
		c.Session.File = defaultTokenFile()
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = 10 * time.Second
	}
	if c.Logs.PageSize <= 0 {
		c.Logs.PageSize = query.DefaultLimit
	}
	if c.Worker.WorkerCount <= 0 {
		c.Worker.WorkerCount = 1
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid config: log level %q", s)
	}
	return level, nil
}
