// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// DefaultSystemPrompt 是调用方未提供 system 指令时使用的默认语言策略。
const DefaultSystemPrompt = "Por defecto responderás siempre en español, a menos que el usuario te hable en otro idioma o te pida explícitamente lo contrario."

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Log        LogConfig        `mapstructure:"log"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	LLM        LLMConfig        `mapstructure:"llm"`
	ElevenLabs ElevenLabsConfig `mapstructure:"elevenlabs"`
	Voice      VoiceConfig      `mapstructure:"voice"`
	Tools      ToolsConfig      `mapstructure:"tools"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	// PublicBaseURL 为空时，公开地址由 endpoint 与 use_ssl 推导。
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey       string              `mapstructure:"api_key"`
	BaseURL      string              `mapstructure:"base_url"`
	Model        string              `mapstructure:"model"`
	SystemPrompt string              `mapstructure:"system_prompt"`
	Generation   LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// ElevenLabsConfig 存储语音服务商（录音、转写、TTS）的配置。
type ElevenLabsConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	DefaultVoiceID string `mapstructure:"default_voice_id"`
	TTSModel       string `mapstructure:"tts_model"`
}

// VoiceConfig 存储语音会话对账流程的配置。
type VoiceConfig struct {
	BucketName       string        `mapstructure:"bucket_name"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	ResolveBudget    time.Duration `mapstructure:"resolve_budget"`
	PushCacheTTL     time.Duration `mapstructure:"push_cache_ttl"`
	WebhookSecret    string        `mapstructure:"webhook_secret"`
	WebhookTolerance time.Duration `mapstructure:"webhook_tolerance"`
	TitleMaxLen      int           `mapstructure:"title_max_len"`
}

// ToolsConfig 存储内置工具的静态数据。
type ToolsConfig struct {
	DeveloperName        string `mapstructure:"developer_name"`
	DeveloperDescription string `mapstructure:"developer_description"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3001")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("jwt.refresh_token_expire_days", 7)
	v.SetDefault("kafka.topic", "voice-sessions")
	v.SetDefault("kafka.group_id", "voxchat-go-consumer")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.system_prompt", DefaultSystemPrompt)
	v.SetDefault("elevenlabs.base_url", "https://api.elevenlabs.io/v1")
	v.SetDefault("elevenlabs.default_voice_id", "21m00Tcm4TlvDq8ikWAM")
	v.SetDefault("elevenlabs.tts_model", "eleven_turbo_v2_5")
	v.SetDefault("voice.bucket_name", "voice-sessions")
	v.SetDefault("voice.retry_attempts", 3)
	v.SetDefault("voice.retry_delay", 2*time.Second)
	v.SetDefault("voice.resolve_budget", 10*time.Second)
	v.SetDefault("voice.push_cache_ttl", time.Hour)
	v.SetDefault("voice.webhook_tolerance", 30*time.Minute)
	v.SetDefault("voice.title_max_len", 30)
	v.SetDefault("tools.developer_name", "Aitor")
	v.SetDefault("tools.developer_description", "Desarrollador Full-Stack detrás de este proyecto.")
}

// Load 从指定路径读取 YAML 配置，并允许 VOXCHAT_ 前缀的环境变量覆盖。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("voxchat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化配置加载，并将结果写入全局变量 Conf。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
