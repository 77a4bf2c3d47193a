package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"poolserve/internal/chaos"
	"poolserve/internal/logger"
	"poolserve/internal/scenario"
	"poolserve/internal/server"
	"poolserve/internal/worker"

	"gopkg.in/yaml.v3"
)

// DefaultWorkers は pool.workers を省略したときのワーカー数
const DefaultWorkers = 4

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Pool     PoolConfig     `yaml:"pool" json:"pool"`
	Admin    AdminConfig    `yaml:"admin" json:"admin"`
	Log      LogConfig      `yaml:"log" json:"log"`
	Scenario ScenarioConfig `yaml:"scenario" json:"scenario"`
}

// ServerConfig はページサーバー設定
type ServerConfig struct {
	Addr        string `yaml:"addr" json:"addr"`
	DocRoot     string `yaml:"doc_root" json:"doc_root"`
	BufferSize  int    `yaml:"buffer_size" json:"buffer_size"`
	SlowDelay   string `yaml:"slow_delay" json:"slow_delay"`
	ReadTimeout string `yaml:"read_timeout" json:"read_timeout"`
}

// PoolConfig はワーカープール設定
// Workers は省略と明示的な0を区別するためポインタにしている
type PoolConfig struct {
	Workers         *int   `yaml:"workers" json:"workers"`
	Shutdown        string `yaml:"shutdown" json:"shutdown"`
	ShutdownTimeout string `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// AdminConfig は管理 API 設定
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// ScenarioConfig はベンチマークシナリオ設定
type ScenarioConfig struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Duration    string `yaml:"duration" json:"duration"`

	Client ClientConfig `yaml:"client" json:"client"`
	Chaos  ChaosConfig  `yaml:"chaos" json:"chaos"`
}

// ClientConfig はクライアント設定
type ClientConfig struct {
	Workers       int     `yaml:"workers" json:"workers"`
	SlowRatio     float64 `yaml:"slow_ratio" json:"slow_ratio"`
	NotFoundRatio float64 `yaml:"not_found_ratio" json:"not_found_ratio"`
}

// ChaosConfig はカオス設定
type ChaosConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	Interval      string   `yaml:"interval" json:"interval"`
	Targets       int      `yaml:"targets" json:"targets"`
	AttackTypes   []string `yaml:"attack_types" json:"attack_types"`
	StallDuration string   `yaml:"stall_duration" json:"stall_duration"`
}

// Settings は serve コマンドの実行時設定
type Settings struct {
	Server          server.Config
	Workers         int
	ShutdownMode    worker.ShutdownMode
	ShutdownTimeout time.Duration
	AdminEnabled    bool
	AdminAddr       string
	LogLevel        logger.Level
}

// DefaultSettings はデフォルト設定を返す
func DefaultSettings() Settings {
	return Settings{
		Server:          server.DefaultConfig(),
		Workers:         DefaultWorkers,
		ShutdownMode:    worker.ShutdownDrain,
		ShutdownTimeout: 10 * time.Second,
		AdminEnabled:    false,
		AdminAddr:       "127.0.0.1:8080",
		LogLevel:        logger.LevelInfo,
	}
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// ToSettings はFileConfigを serve 用の Settings に変換する
func (f *FileConfig) ToSettings() (Settings, error) {
	settings := DefaultSettings()

	// Server設定
	if f.Server.Addr != "" {
		settings.Server.Addr = f.Server.Addr
	}
	if f.Server.DocRoot != "" {
		settings.Server.DocRoot = f.Server.DocRoot
	}
	if f.Server.BufferSize > 0 {
		settings.Server.BufferSize = f.Server.BufferSize
	}
	if err := parseDuration(f.Server.SlowDelay, "server.slow_delay", &settings.Server.SlowDelay); err != nil {
		return settings, err
	}
	if err := parseDuration(f.Server.ReadTimeout, "server.read_timeout", &settings.Server.ReadTimeout); err != nil {
		return settings, err
	}

	// Pool設定
	if f.Pool.Workers != nil {
		settings.Workers = *f.Pool.Workers
	}
	mode, err := worker.ParseShutdownMode(f.Pool.Shutdown)
	if err != nil {
		return settings, fmt.Errorf("invalid pool.shutdown: %w", err)
	}
	settings.ShutdownMode = mode
	if err := parseDuration(f.Pool.ShutdownTimeout, "pool.shutdown_timeout", &settings.ShutdownTimeout); err != nil {
		return settings, err
	}

	// Admin設定
	settings.AdminEnabled = f.Admin.Enabled
	if f.Admin.Addr != "" {
		settings.AdminAddr = f.Admin.Addr
	}

	// Log設定
	if f.Log.Level != "" {
		level, err := logger.ParseLevel(f.Log.Level)
		if err != nil {
			return settings, fmt.Errorf("invalid log.level: %w", err)
		}
		settings.LogLevel = level
	}

	return settings, nil
}

// ToScenarioConfig はFileConfigをscenario.Configに変換する
func (f *FileConfig) ToScenarioConfig() (scenario.Config, error) {
	sc := f.Scenario

	// デフォルト値の設定
	config := scenario.DefaultConfig()

	if sc.Name != "" {
		config.Name = sc.Name
	}
	if sc.Description != "" {
		config.Description = sc.Description
	}
	if err := parseDuration(sc.Duration, "duration", &config.Duration); err != nil {
		return config, err
	}
	if f.Pool.Workers != nil {
		config.PoolSize = *f.Pool.Workers
	}
	if err := parseDuration(f.Server.SlowDelay, "server.slow_delay", &config.SlowDelay); err != nil {
		return config, err
	}

	// Client設定
	if sc.Client.Workers > 0 {
		config.ClientWorkers = sc.Client.Workers
	}
	config.SlowRatio = sc.Client.SlowRatio
	if sc.Client.NotFoundRatio > 0 {
		config.NotFoundRatio = sc.Client.NotFoundRatio
	}

	// Chaos設定
	config.EnableChaos = sc.Chaos.Enabled
	if err := parseDuration(sc.Chaos.Interval, "chaos interval", &config.ChaosInterval); err != nil {
		return config, err
	}
	if sc.Chaos.Targets > 0 {
		config.ChaosTargets = sc.Chaos.Targets
	}
	if len(sc.Chaos.AttackTypes) > 0 {
		attacks, err := parseAttackTypes(sc.Chaos.AttackTypes)
		if err != nil {
			return config, err
		}
		config.AttackTypes = attacks
	}
	if err := parseDuration(sc.Chaos.StallDuration, "chaos stall duration", &config.StallDuration); err != nil {
		return config, err
	}

	return config, nil
}

// parseDuration は空でなければ dst を上書きする
func parseDuration(s, name string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = d
	return nil
}

// parseAttackTypes は文字列の攻撃タイプをパースする
func parseAttackTypes(types []string) ([]chaos.AttackType, error) {
	var attacks []chaos.AttackType

	for _, t := range types {
		attack, err := chaos.ParseAttackType(t)
		if err != nil {
			return nil, err
		}
		attacks = append(attacks, attack)
	}

	return attacks, nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	if f.Pool.Workers != nil && *f.Pool.Workers <= 0 {
		return fmt.Errorf("pool.workers must be greater than zero (got %d)", *f.Pool.Workers)
	}

	if _, err := worker.ParseShutdownMode(f.Pool.Shutdown); err != nil {
		return fmt.Errorf("invalid pool.shutdown: %w", err)
	}

	if f.Server.BufferSize < 0 {
		return fmt.Errorf("server.buffer_size must be non-negative")
	}

	if f.Log.Level != "" {
		if _, err := logger.ParseLevel(f.Log.Level); err != nil {
			return fmt.Errorf("invalid log.level: %w", err)
		}
	}

	sc := f.Scenario

	if sc.Client.Workers < 0 {
		return fmt.Errorf("scenario.client.workers must be non-negative")
	}

	if sc.Client.SlowRatio < 0 || sc.Client.SlowRatio > 1 {
		return fmt.Errorf("scenario.client.slow_ratio must be between 0 and 1")
	}

	if sc.Client.NotFoundRatio < 0 || sc.Client.NotFoundRatio > 1 {
		return fmt.Errorf("scenario.client.not_found_ratio must be between 0 and 1")
	}

	if sc.Client.SlowRatio+sc.Client.NotFoundRatio > 1 {
		return fmt.Errorf("scenario.client.slow_ratio + not_found_ratio must not exceed 1")
	}

	if sc.Chaos.Targets < 0 {
		return fmt.Errorf("scenario.chaos.targets must be non-negative")
	}

	if sc.Chaos.Interval != "" {
		var interval time.Duration
		if err := parseDuration(sc.Chaos.Interval, "scenario.chaos.interval", &interval); err != nil {
			return err
		}
		if sc.Chaos.Enabled && interval <= 0 {
			return fmt.Errorf("scenario.chaos.interval must be positive (got %v)", interval)
		}
	}

	return nil
}
