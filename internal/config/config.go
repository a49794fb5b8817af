package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/redis/go-redis/v9"
)

// Provider names accepted by LLM_PROVIDER.
const (
	ProviderGroq = "groq"
	ProviderArk  = "ark"
)

// Caption backends accepted by CAPTION_BACKEND.
const (
	CaptionBackendBLIP   = "blip"
	CaptionBackendVision = "vision"
)

// Store backends accepted by STORE_BACKEND.
const (
	StoreBackendRedis  = "redis"
	StoreBackendMemory = "memory"
)

// DefaultCaptionPrompt is the conditional text given to the captioning model.
const DefaultCaptionPrompt = "Describe radiographic findings in this pediatric chest X-ray"

// ConfigurationError 表示启动阶段无法恢复的配置错误。
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	LLM     LLMConfig
	Report  GenerationConfig
	QA      GenerationConfig
	Caption CaptionConfig
	Store   StoreConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	llm, err := loadLLMConfig()
	if err != nil {
		return nil, err
	}

	report, err := loadGenerationConfig("REPORT", GenerationConfig{Temperature: 0.25, MaxTokens: 1800, MinWords: 400})
	if err != nil {
		return nil, err
	}

	qa, err := loadGenerationConfig("QA", GenerationConfig{Temperature: 0.2, MaxTokens: 700})
	if err != nil {
		return nil, err
	}

	caption, err := loadCaptionConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		LLM:     llm,
		Report:  report,
		QA:      qa,
		Caption: caption,
		Store:   store,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr          string
	MaxUploadSize int64
}

// loadServerConfig 解析服务器监听地址与上传大小限制。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	maxUpload := int64(50 << 20)
	if override, err := parseOptionalIntEnv("MAX_UPLOAD_SIZE"); err != nil {
		return ServerConfig{}, err
	} else if override != nil {
		if *override <= 0 {
			return ServerConfig{}, &ConfigurationError{Key: "MAX_UPLOAD_SIZE", Reason: "must be positive"}
		}
		maxUpload = int64(*override)
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		return ServerConfig{Addr: port, MaxUploadSize: maxUpload}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, MaxUploadSize: maxUpload}, nil
}

// LLMConfig 描述对话补全接口的配置。
type LLMConfig struct {
	Provider       string
	APIKey         string
	BaseURL        string
	Model          string
	Timeout        time.Duration
	StreamResponse bool
	AccessKey      string
	SecretKey      string
	Region         string
}

// NewArkChatModel 使用 Ark 配置创建一个模型实例。
func (c LLMConfig) NewArkChatModel(ctx context.Context, modelName string) (model.BaseChatModel, error) {
	if c.APIKey == "" && (c.AccessKey == "" || c.SecretKey == "") {
		return nil, &ConfigurationError{Key: "ARK_API_KEY", Reason: "Ark 凭证缺失，至少提供 ARK_API_KEY 或 AK/SK 组合"}
	}

	timeout := c.Timeout
	retries := 0
	cfg := &ark.ChatModelConfig{
		BaseURL:    c.BaseURL,
		Region:     c.Region,
		APIKey:     c.APIKey,
		AccessKey:  c.AccessKey,
		SecretKey:  c.SecretKey,
		Model:      modelName,
		Timeout:    &timeout,
		RetryTimes: &retries,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadLLMConfig() (LLMConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", ProviderGroq))

	timeoutSeconds := 120
	if override, err := parseOptionalIntEnv("LLM_TIMEOUT"); err != nil {
		return LLMConfig{}, err
	} else if override != nil && *override > 0 {
		timeoutSeconds = *override
	}

	stream, err := parseBoolEnv("LLM_STREAM", true)
	if err != nil {
		return LLMConfig{}, err
	}

	cfg := LLMConfig{
		Provider:       provider,
		Model:          getEnvOrDefault("LLM_MODEL", "llama-3.3-70b-versatile"),
		Timeout:        time.Duration(timeoutSeconds) * time.Second,
		StreamResponse: stream,
	}

	switch provider {
	case ProviderGroq:
		cfg.APIKey = strings.TrimSpace(os.Getenv("GROQ_API_KEY"))
		cfg.BaseURL = getEnvOrDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1")
		if cfg.APIKey == "" {
			return LLMConfig{}, &ConfigurationError{Key: "GROQ_API_KEY", Reason: "not set"}
		}
	case ProviderArk:
		cfg.APIKey = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		cfg.AccessKey = strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY"))
		cfg.SecretKey = strings.TrimSpace(os.Getenv("ARK_SECRET_KEY"))
		cfg.BaseURL = getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3")
		cfg.Region = getEnvOrDefault("ARK_REGION", "cn-beijing")
		if cfg.APIKey == "" && (cfg.AccessKey == "" || cfg.SecretKey == "") {
			return LLMConfig{}, &ConfigurationError{Key: "ARK_API_KEY", Reason: "not set and no ARK_ACCESS_KEY/ARK_SECRET_KEY pair"}
		}
	default:
		return LLMConfig{}, &ConfigurationError{Key: "LLM_PROVIDER", Reason: fmt.Sprintf("unsupported provider %q", provider)}
	}

	return cfg, nil
}

// GenerationConfig 描述一次补全调用的采样参数。
type GenerationConfig struct {
	Temperature float32
	MaxTokens   int
	// MinWords is only meaningful for reports.
	MinWords int
}

func loadGenerationConfig(prefix string, defaults GenerationConfig) (GenerationConfig, error) {
	cfg := defaults

	temperature, err := parseOptionalFloatEnv(prefix + "_TEMPERATURE")
	if err != nil {
		return GenerationConfig{}, err
	}
	if temperature != nil {
		cfg.Temperature = float32(*temperature)
	}

	maxTokens, err := parseOptionalIntEnv(prefix + "_MAX_TOKENS")
	if err != nil {
		return GenerationConfig{}, err
	}
	if maxTokens != nil {
		cfg.MaxTokens = *maxTokens
	}

	minWords, err := parseOptionalIntEnv(prefix + "_MIN_WORDS")
	if err != nil {
		return GenerationConfig{}, err
	}
	if minWords != nil {
		cfg.MinWords = *minWords
	}

	return cfg, nil
}

// CaptionConfig 描述图像描述模型的配置。
type CaptionConfig struct {
	Backend           string
	Model             string
	Prompt            string
	MaxTokens         int
	NumBeams          int
	RepetitionPenalty float64
	HFToken           string
	HFBaseURL         string
}

func loadCaptionConfig() (CaptionConfig, error) {
	hfToken := strings.TrimSpace(os.Getenv("HF_API_TOKEN"))

	defaultBackend := CaptionBackendVision
	if hfToken != "" {
		defaultBackend = CaptionBackendBLIP
	}
	backend := strings.ToLower(getEnvOrDefault("CAPTION_BACKEND", defaultBackend))

	var defaultModel string
	switch backend {
	case CaptionBackendBLIP:
		if hfToken == "" {
			return CaptionConfig{}, &ConfigurationError{Key: "HF_API_TOKEN", Reason: "required by CAPTION_BACKEND=blip"}
		}
		defaultModel = "Salesforce/blip-image-captioning-large"
	case CaptionBackendVision:
		defaultModel = "meta-llama/llama-4-scout-17b-16e-instruct"
	default:
		return CaptionConfig{}, &ConfigurationError{Key: "CAPTION_BACKEND", Reason: fmt.Sprintf("unsupported backend %q", backend)}
	}

	maxTokens := 200
	if override, err := parseOptionalIntEnv("CAPTION_MAX_TOKENS"); err != nil {
		return CaptionConfig{}, err
	} else if override != nil {
		maxTokens = *override
	}

	numBeams := 5
	if override, err := parseOptionalIntEnv("CAPTION_NUM_BEAMS"); err != nil {
		return CaptionConfig{}, err
	} else if override != nil {
		numBeams = *override
	}

	penalty := 1.2
	if override, err := parseOptionalFloatEnv("CAPTION_REPETITION_PENALTY"); err != nil {
		return CaptionConfig{}, err
	} else if override != nil {
		penalty = *override
	}

	return CaptionConfig{
		Backend:           backend,
		Model:             getEnvOrDefault("CAPTION_MODEL", defaultModel),
		Prompt:            getEnvOrDefault("CAPTION_PROMPT", DefaultCaptionPrompt),
		MaxTokens:         maxTokens,
		NumBeams:          numBeams,
		RepetitionPenalty: penalty,
		HFToken:           hfToken,
		HFBaseURL:         getEnvOrDefault("HF_BASE_URL", "https://api-inference.huggingface.co/models"),
	}, nil
}

// StoreConfig 描述历史记录存储的配置。
type StoreConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

// NewRedisClient 根据配置创建 Redis 客户端。
func (c StoreConfig) NewRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})
}

func loadStoreConfig() (StoreConfig, error) {
	backend := strings.ToLower(getEnvOrDefault("STORE_BACKEND", StoreBackendRedis))
	if backend != StoreBackendRedis && backend != StoreBackendMemory {
		return StoreConfig{}, &ConfigurationError{Key: "STORE_BACKEND", Reason: fmt.Sprintf("unsupported backend %q", backend)}
	}

	db := 0
	if override, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return StoreConfig{}, err
	} else if override != nil {
		db = *override
	}

	return StoreConfig{
		Backend:       backend,
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       db,
		KeyPrefix:     getEnvOrDefault("REDIS_PREFIX", "medrax:history"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
