// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/utils"
)

const (
	// EnvConfigPath 指定配置文件路径的环境变量
	EnvConfigPath = "PERSONAKIT_CONFIG"
	// EnvSecretKey 加密配置密钥用的口令
	EnvSecretKey = "PERSONAKIT_SECRET_KEY"
)

// ProviderConfig 单个模型提供者的配置
type ProviderConfig struct {
	APIKey         string  `yaml:"api_key" json:"api_key,omitempty"`
	APISecret      string  `yaml:"api_secret,omitempty" json:"api_secret,omitempty"`
	Model          string  `yaml:"model" json:"model"`
	BaseURL        string  `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	MaxTokens      int     `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Temperature    float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	TopP           float64 `yaml:"top_p,omitempty" json:"top_p,omitempty"`
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// AIConfig 模型相关配置
type AIConfig struct {
	Provider  string                    `yaml:"provider" json:"provider"`
	Providers map[string]ProviderConfig `yaml:"providers" json:"providers"`
}

// DialogueConfig 对话配置
type DialogueConfig struct {
	ContextWindow int     `yaml:"context_window" json:"context_window"`
	MaxHistory    int     `yaml:"max_history" json:"max_history"`
	MaxTokens     int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature   float64 `yaml:"temperature" json:"temperature"`
}

// ConcurrentConfig 并发验证配置
type ConcurrentConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
	MaxWorkers     int `yaml:"max_workers" json:"max_workers"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	BasePath  string `yaml:"base_path" json:"base_path"`
	Format    string `yaml:"format" json:"format"`
	CacheSize int    `yaml:"cache_size" json:"cache_size"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file,omitempty" json:"file,omitempty"`
	JSON  bool   `yaml:"json" json:"json"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port      string `yaml:"port" json:"port"`
	Debug     bool   `yaml:"debug" json:"debug"`
	RateLimit int    `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"` // 每分钟每个 IP，0 不限流
}

// Config 包含应用程序的所有配置
type Config struct {
	AI         AIConfig         `yaml:"ai" json:"ai"`
	Dialogue   DialogueConfig   `yaml:"dialogue" json:"dialogue"`
	Concurrent ConcurrentConfig `yaml:"concurrent" json:"concurrent"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Server     ServerConfig     `yaml:"server" json:"server"`

	// 实际加载的配置文件，未找到时为空
	Source string `yaml:"-" json:"source,omitempty"`
}

// providerKeyEnv 每个提供者对应的密钥环境变量
var providerKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"zhipu":     "ZHIPU_API_KEY",
	"google":    "GEMINI_API_KEY",
}

// ProviderKeyEnv 返回提供者的密钥环境变量名
func ProviderKeyEnv(provider string) string {
	if provider == "glm" {
		provider = "zhipu"
	}
	return providerKeyEnv[provider]
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		AI: AIConfig{
			Provider: "openai",
			Providers: map[string]ProviderConfig{
				"openai":    {Model: "gpt-4o-mini", MaxTokens: 2000, Temperature: 0.7, TopP: 1.0, TimeoutSeconds: 60},
				"anthropic": {Model: "claude-3-5-sonnet-latest", MaxTokens: 2000, Temperature: 0.7, TopP: 1.0, TimeoutSeconds: 60},
				"zhipu":     {Model: "glm-4", BaseURL: "https://open.bigmodel.cn/api/paas/v4/", MaxTokens: 2000, Temperature: 0.7, TopP: 1.0, TimeoutSeconds: 60},
				"google":    {Model: "gemini-2.0-flash", MaxTokens: 2000, Temperature: 0.7, TopP: 1.0, TimeoutSeconds: 60},
			},
		},
		Dialogue: DialogueConfig{
			ContextWindow: 10,
			MaxHistory:    50,
			MaxTokens:     1500,
			Temperature:   0.7,
		},
		Concurrent: ConcurrentConfig{
			TimeoutSeconds: 60,
			MaxWorkers:     3,
		},
		Storage: StorageConfig{
			BasePath:  "data",
			Format:    "json",
			CacheSize: 256,
		},
		Logging: LoggingConfig{Level: "info"},
		Server:  ServerConfig{Port: "8080"},
	}
}

// Load 加载配置：.env → 配置文件（${VAR} 替换）→ 环境变量覆盖 → 校验
// path 为空时依次尝试 PERSONAKIT_CONFIG 与 ~/.personakit/config.yaml
func Load(path string) (*Config, error) {
	// 尝试加载.env文件（可选）
	_ = godotenv.Load()

	cfg := Default()

	resolved := resolvePath(path)
	if resolved != "" {
		data, err := os.ReadFile(resolved)
		switch {
		case err == nil:
			if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), cfg); err != nil {
				return nil, apperrors.NewConfigError(fmt.Sprintf("解析配置文件失败 %s", resolved), err)
			}
			cfg.Source = resolved
		case os.IsNotExist(err) && path == "":
			// 默认位置没有配置文件，使用默认值
		default:
			return nil, apperrors.NewConfigError(fmt.Sprintf("读取配置文件失败 %s", resolved), err)
		}
	}

	if err := openSecrets(cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolvePath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".personakit", "config.yaml")
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv 替换 ${VAR} 与 ${VAR:-default} 占位符，未设置的变量替换为空或默认值
func ExpandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		parts := envPattern.FindStringSubmatch(m)
		if v, ok := os.LookupEnv(parts[1]); ok && v != "" {
			return v
		}
		return parts[3]
	})
}

// openSecrets 解密配置文件中 enc: 前缀的密钥，解密密钥取自 EnvSecretKey
func openSecrets(cfg *Config) error {
	secret := os.Getenv(EnvSecretKey)
	for name, pc := range cfg.AI.Providers {
		if !utils.IsSealed(pc.APIKey) && !utils.IsSealed(pc.APISecret) {
			continue
		}
		if secret == "" {
			return apperrors.NewConfigError(fmt.Sprintf("提供者 %s 的密钥已加密，但未设置 %s", name, EnvSecretKey), nil)
		}
		var err error
		if pc.APIKey, err = utils.OpenSecret(pc.APIKey, secret); err != nil {
			return apperrors.NewConfigError(fmt.Sprintf("解密 %s 密钥失败", name), err)
		}
		if pc.APISecret, err = utils.OpenSecret(pc.APISecret, secret); err != nil {
			return apperrors.NewConfigError(fmt.Sprintf("解密 %s 密钥失败", name), err)
		}
		cfg.AI.Providers[name] = pc
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PERSONAKIT_PROVIDER"); v != "" {
		cfg.AI.Provider = v
	}
	for name, env := range providerKeyEnv {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		pc := cfg.AI.Providers[name]
		if pc.APIKey == "" {
			pc.APIKey = v
		}
		cfg.AI.Providers[name] = pc
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.BasePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DEBUG_MODE"); v != "" {
		cfg.Server.Debug = getBool(v)
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = n
		}
	}
}

func getBool(value string) bool {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return value == "yes"
	}
	return b
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.AI.Providers == nil {
		c.AI.Providers = map[string]ProviderConfig{}
	}
	for name, dp := range def.AI.Providers {
		pc := c.AI.Providers[name]
		if pc.Model == "" {
			pc.Model = dp.Model
		}
		if pc.BaseURL == "" {
			pc.BaseURL = dp.BaseURL
		}
		if pc.MaxTokens <= 0 {
			pc.MaxTokens = dp.MaxTokens
		}
		if pc.Temperature <= 0 {
			pc.Temperature = dp.Temperature
		}
		if pc.TopP <= 0 {
			pc.TopP = dp.TopP
		}
		if pc.TimeoutSeconds <= 0 {
			pc.TimeoutSeconds = dp.TimeoutSeconds
		}
		c.AI.Providers[name] = pc
	}
	if c.Dialogue.ContextWindow <= 0 {
		c.Dialogue.ContextWindow = def.Dialogue.ContextWindow
	}
	if c.Dialogue.MaxHistory <= 0 {
		c.Dialogue.MaxHistory = def.Dialogue.MaxHistory
	}
	if c.Dialogue.MaxTokens <= 0 {
		c.Dialogue.MaxTokens = def.Dialogue.MaxTokens
	}
	if c.Dialogue.Temperature <= 0 {
		c.Dialogue.Temperature = def.Dialogue.Temperature
	}
	if c.Concurrent.TimeoutSeconds <= 0 {
		c.Concurrent.TimeoutSeconds = def.Concurrent.TimeoutSeconds
	}
	if c.Concurrent.MaxWorkers <= 0 {
		c.Concurrent.MaxWorkers = def.Concurrent.MaxWorkers
	}
	if c.Storage.BasePath == "" {
		c.Storage.BasePath = def.Storage.BasePath
	}
	if c.Storage.Format == "" {
		c.Storage.Format = def.Storage.Format
	}
	if c.Storage.CacheSize <= 0 {
		c.Storage.CacheSize = def.Storage.CacheSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Server.Port == "" {
		c.Server.Port = def.Server.Port
	}
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	c.AI.Provider = strings.ToLower(strings.TrimSpace(c.AI.Provider))
	if c.AI.Provider == "" {
		return apperrors.NewConfigError("未指定模型提供者", nil)
	}
	switch c.Storage.Format {
	case "json", "yaml":
	default:
		return apperrors.NewConfigError(fmt.Sprintf("不支持的存储格式: %s", c.Storage.Format), nil)
	}
	return nil
}

// ActiveProvider 返回当前提供者名称及其配置
func (c *Config) ActiveProvider() (string, ProviderConfig) {
	name := c.AI.Provider
	if name == "glm" {
		if pc, ok := c.AI.Providers["glm"]; ok {
			return name, pc
		}
		return name, c.AI.Providers["zhipu"]
	}
	return name, c.AI.Providers[name]
}

// Save 以 YAML 写出配置；设置了 EnvSecretKey 时密钥加密保存
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	out := *c
	out.AI.Providers = make(map[string]ProviderConfig, len(c.AI.Providers))
	secret := os.Getenv(EnvSecretKey)
	for name, pc := range c.AI.Providers {
		if secret != "" {
			var err error
			if pc.APIKey, err = utils.SealSecret(pc.APIKey, secret); err != nil {
				return fmt.Errorf("加密 %s 密钥失败: %w", name, err)
			}
			if pc.APISecret, err = utils.SealSecret(pc.APISecret, secret); err != nil {
				return fmt.Errorf("加密 %s 密钥失败: %w", name, err)
			}
		}
		out.AI.Providers[name] = pc
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
