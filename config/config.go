package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"PhuzzyAudio/core/audio"

	"github.com/joho/godotenv"
)

// Config 应用配置，来自环境变量（可由 .env 提供）
type Config struct {
	// 音频资源
	AudioBasePath    string
	AudioSource      string // file | http | minio，为空时按 AudioBasePath 推断
	AudioPacks       []string
	ScenarioDir      string
	AmbientDir       string
	WatchAssets      bool
	FallbackStrategy string
	ProbeRPS         float64
	ProbeBurst       int
	VerifyTTL        time.Duration // Redis 中正向校验结果的保存时间
	NegativeTTL      time.Duration // 文件不存在的结果多久后重新探测
	NetworkProbePath string

	// 引擎
	AudioBackend       string // auto | speaker | null
	SampleRate         int
	SpeakerBufferMS    int
	MemoryLimitMB      int
	PreloadDistance    int
	MaxPreloadDistance int
	PreloadConcurrency int
	CrossfadeMS        int
	DuckingLevel       float64
	MasterVolume       float64
	SequenceGapMS      int
	LoadTimeout        time.Duration
	PreloadTimeout     time.Duration
	ChannelsFile       string
	Channels           []audio.ChannelConfig

	// HTTP 服务
	ServerPort        string
	JWTSecret         string
	JWTExpiry         time.Duration
	AdminUsername     string
	AdminPasswordHash string

	// Redis配置
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
	MinioPrefix    string

	// 播放历史（MySQL）
	DBEnabled  bool
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// 日志
	LogLevel string
	LogFile  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration 接受 time.ParseDuration 格式，如 "5s"、"1h"
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList 逗号分隔，忽略空项
func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() 不会覆盖已存在的环境变量
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	cfg := &Config{
		AudioBasePath:    getEnv("AUDIO_BASE_PATH", "data/audio-recording-voices-for-scenarios-from-elevenlabs"),
		AudioSource:      getEnv("AUDIO_SOURCE", ""),
		AudioPacks:       getEnvList("AUDIO_PACKS", []string{"000", "001", "002", "003", "004", "005", "006", "007"}),
		ScenarioDir:      getEnv("SCENARIO_DIR", "data/scenario-packs"),
		AmbientDir:       getEnv("AMBIENT_DIR", "ambient"),
		WatchAssets:      getEnvBool("WATCH_ASSETS", false),
		FallbackStrategy: getEnv("AUDIO_FALLBACK_STRATEGY", "intelligent"),
		ProbeRPS:         getEnvFloat("AUDIO_PROBE_RPS", 20),
		ProbeBurst:       getEnvInt("AUDIO_PROBE_BURST", 10),
		VerifyTTL:        getEnvDuration("AUDIO_VERIFY_TTL", 24*time.Hour),
		NegativeTTL:      getEnvDuration("AUDIO_NEGATIVE_TTL", time.Minute),
		NetworkProbePath: getEnv("AUDIO_NETWORK_PROBE_PATH", "placeholder/silent.mp3"),

		AudioBackend:       getEnv("AUDIO_BACKEND", "auto"),
		SampleRate:         getEnvInt("AUDIO_SAMPLE_RATE", 44100),
		SpeakerBufferMS:    getEnvInt("AUDIO_SPEAKER_BUFFER_MS", 100),
		MemoryLimitMB:      getEnvInt("AUDIO_MEMORY_LIMIT_MB", 500),
		PreloadDistance:    getEnvInt("AUDIO_PRELOAD_DISTANCE", 10),
		MaxPreloadDistance: getEnvInt("AUDIO_MAX_PRELOAD_DISTANCE", 20),
		PreloadConcurrency: getEnvInt("AUDIO_PRELOAD_CONCURRENCY", 16),
		CrossfadeMS:        getEnvInt("AUDIO_CROSSFADE_MS", 750),
		DuckingLevel:       getEnvFloat("AUDIO_DUCKING_LEVEL", 0.2),
		MasterVolume:       getEnvFloat("AUDIO_MASTER_VOLUME", 1.0),
		SequenceGapMS:      getEnvInt("AUDIO_SEQUENCE_GAP_MS", 500),
		LoadTimeout:        getEnvDuration("AUDIO_LOAD_TIMEOUT", 5*time.Second),
		PreloadTimeout:     getEnvDuration("AUDIO_PRELOAD_TIMEOUT", 10*time.Second),
		ChannelsFile:       getEnv("CHANNELS_FILE", ""),

		ServerPort:        getEnv("SERVER_PORT", "8080"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		JWTExpiry:         getEnvDuration("JWT_EXPIRY", 24*time.Hour),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),

		RedisEnabled:  getEnvBool("REDIS_ENABLED", false),
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // 默认无密码
		RedisDB:       getEnvInt("REDIS_DB", 0),     // 默认使用0号数据库

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "phuzzy-audio"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", true),
		MinioPrefix:    getEnv("MINIO_PREFIX", ""),

		DBEnabled:  getEnvBool("DB_ENABLED", false),
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // For password, better not to have a hardcoded default
		DBName:     getEnv("DB_NAME", "phuzzy"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}

	cfg.Channels = audio.DefaultChannels()
	if cfg.ChannelsFile != "" {
		channels, err := LoadChannels(cfg.ChannelsFile, cfg.Channels)
		if err != nil {
			log.Printf("Failed to load channel table %s, using defaults: %v", cfg.ChannelsFile, err)
		} else {
			cfg.Channels = channels
		}
	}
	return cfg
}

// SourceKind 资源来源，未显式配置时远程地址按 http 处理
func (c *Config) SourceKind() string {
	if c.AudioSource != "" {
		return c.AudioSource
	}
	if strings.HasPrefix(c.AudioBasePath, "http://") || strings.HasPrefix(c.AudioBasePath, "https://") {
		return "http"
	}
	return "file"
}

// EngineConfig 转换为引擎参数，没有配置的项使用引擎默认值
func (c *Config) EngineConfig() audio.Config {
	ec := audio.DefaultConfig()
	if c.MemoryLimitMB > 0 {
		ec.MemoryLimit = int64(c.MemoryLimitMB) * 1024 * 1024
	}
	if c.PreloadDistance > 0 {
		ec.PreloadDistance = c.PreloadDistance
	}
	if c.MaxPreloadDistance > 0 {
		ec.MaxPreloadDistance = c.MaxPreloadDistance
	}
	if c.PreloadConcurrency > 0 {
		ec.PreloadConcurrency = c.PreloadConcurrency
	}
	if c.CrossfadeMS >= 0 {
		ec.CrossfadeDuration = time.Duration(c.CrossfadeMS) * time.Millisecond
	}
	if c.SequenceGapMS >= 0 {
		ec.SequenceGap = time.Duration(c.SequenceGapMS) * time.Millisecond
	}
	if c.DuckingLevel >= 0 && c.DuckingLevel <= 1 {
		ec.DuckingLevel = c.DuckingLevel
	}
	if c.MasterVolume > 0 && c.MasterVolume <= 1 {
		ec.MasterVolume = c.MasterVolume
	}
	if c.LoadTimeout > 0 {
		ec.LoadTimeout = c.LoadTimeout
	}
	if c.PreloadTimeout > 0 {
		ec.PreloadTimeout = c.PreloadTimeout
	}
	ec.NetworkProbePath = c.NetworkProbePath
	if len(c.Channels) > 0 {
		ec.Channels = c.Channels
	}
	return ec
}

// RedisAddr host:port
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}
