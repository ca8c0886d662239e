package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 儲存 geolocation provider、後端 API 與本機狀態檔的執行設定。
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Backend  BackendConfig  `yaml:"backend"`
	State    StateConfig    `yaml:"state"`
}

type ProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type StateConfig struct {
	DBPath string `yaml:"db_path"`
}

// LoadFromFile 從 YAML 組態檔載入設定。
func LoadFromFile(path string) (Config, error) {
	// 嘗試載入 .env 檔案（如果存在）
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg = applyDefaults(cfg)
	cfg = applyEnv(cfg)
	return cfg, nil
}

func applyDefaults(cfg Config) Config {
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "https://ipinfo.io"
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = 10 * time.Second
	}
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = "http://localhost:4000"
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = 10 * time.Second
	}
	if cfg.State.DBPath == "" {
		cfg.State.DBPath = "iptrack.db"
	}
	return cfg
}

func applyEnv(cfg Config) Config {
	if val := os.Getenv("IPINFO_TOKEN"); val != "" {
		cfg.Provider.Token = val
	}
	if val := os.Getenv("IPINFO_BASE_URL"); val != "" {
		cfg.Provider.BaseURL = val
	}
	if val := os.Getenv("IPINFO_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Provider.Timeout = d
		}
	}
	if val := os.Getenv("TRACKER_API_URL"); val != "" {
		cfg.Backend.BaseURL = val
	}
	if val := os.Getenv("TRACKER_API_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Backend.Timeout = d
		}
	}
	if val := os.Getenv("TRACKER_STATE_DB"); val != "" {
		cfg.State.DBPath = val
	}
	return cfg
}
