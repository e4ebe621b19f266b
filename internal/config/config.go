package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every setting the service reads at startup.
type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Providers  []ProviderConfig
	TitleModel string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	providers, err := loadProviderConfigs()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:     server,
		Storage:    loadStorageConfig(),
		Providers:  providers,
		TitleModel: strings.TrimSpace(os.Getenv("LITECHAT_TITLE_MODEL")),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" verbatim.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// StorageConfig locates the conversation database.
type StorageConfig struct {
	Path string
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Path: getEnvOrDefault("LITECHAT_DB", "data/litechat.db"),
	}
}

// ProviderConfig describes one completion provider and the model ids it
// serves. Every model listed under a provider is reachable through that
// provider's credentials.
type ProviderConfig struct {
	ID          string
	APIKey      string
	AccessKey   string
	SecretKey   string
	BaseURL     string
	Region      string
	Models      []string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether the provider has usable credentials and at least
// one model id.
func (c ProviderConfig) Enabled() bool {
	return len(c.Models) > 0 && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds a model instance for one of the provider's model ids.
func (c ProviderConfig) NewChatModel(ctx context.Context, modelID string) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("provider %s: credentials or model list missing", c.ID)
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       modelID,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

// loadProviderConfigs reads PROVIDERS as a comma-separated list of provider
// names and resolves each provider's settings from <NAME>_* variables, e.g.
// PROVIDERS=ark, ARK_API_KEY=..., ARK_MODELS=doubao-pro,doubao-lite.
func loadProviderConfigs() ([]ProviderConfig, error) {
	names := splitList(os.Getenv("PROVIDERS"))
	if len(names) == 0 {
		return nil, nil
	}

	configs := make([]ProviderConfig, 0, len(names))
	for _, name := range names {
		prefix := strings.ToUpper(name)

		temperature, err := parseOptionalFloatEnv(prefix + "_TEMPERATURE")
		if err != nil {
			return nil, err
		}
		topP, err := parseOptionalFloatEnv(prefix + "_TOP_P")
		if err != nil {
			return nil, err
		}
		maxTokens, err := parseOptionalIntEnv(prefix + "_MAX_TOKENS")
		if err != nil {
			return nil, err
		}

		configs = append(configs, ProviderConfig{
			ID:          strings.ToLower(name),
			APIKey:      strings.TrimSpace(os.Getenv(prefix + "_API_KEY")),
			AccessKey:   strings.TrimSpace(os.Getenv(prefix + "_ACCESS_KEY")),
			SecretKey:   strings.TrimSpace(os.Getenv(prefix + "_SECRET_KEY")),
			BaseURL:     getEnvOrDefault(prefix+"_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			Region:      getEnvOrDefault(prefix+"_REGION", "cn-beijing"),
			Models:      splitList(os.Getenv(prefix + "_MODELS")),
			Temperature: temperature,
			TopP:        topP,
			MaxTokens:   maxTokens,
		})
	}

	return configs, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
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
