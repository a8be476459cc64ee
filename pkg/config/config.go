package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL         string
	PoolSize            int
	CompletionsAPIURL   string
	CompletionsAPIKey   string
	CompletionsModel    string
	EmbeddingsAPIURL    string
	EmbeddingsAPIKey    string
	EmbeddingsModel     string
	EmbeddingDimensions int
	NatsURL             string
	MaxChunkChars       int
	TimeWindowHours     int
	MaxTemporalLinks    int
	SemanticTopK        int
	SemanticFloor       float64
	MaxSemanticLinks    int
	DedupThreshold      float64
}

func getEnv(key, defaultValue string, printEnv bool) string {
	logger := log.Default()
	value := os.Getenv(key)
	if printEnv {
		logger.Info("Env", "key", key, "value", value)
	}
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvOrPanic(key string, printEnv bool) string {
	value := getEnv(key, "", printEnv)
	if value == "" {
		panic(fmt.Sprintf("Environment variable %s is not set", key))
	}
	return value
}

func getEnvInt(key string, defaultValue int, printEnv bool) int {
	raw := getEnv(key, "", printEnv)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		panic(fmt.Sprintf("Environment variable %s is not an integer: %v", key, err))
	}
	return value
}

func getEnvFloat(key string, defaultValue float64, printEnv bool) float64 {
	raw := getEnv(key, "", printEnv)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		panic(fmt.Sprintf("Environment variable %s is not a number: %v", key, err))
	}
	return value
}

func LoadConfig(printEnv bool) (*Config, error) {
	_ = godotenv.Load()

	conf := &Config{
		DatabaseURL:         getEnvOrPanic("DATABASE_URL", printEnv),
		PoolSize:            getEnvInt("POOL_SIZE", 10, printEnv),
		CompletionsAPIURL:   getEnv("COMPLETIONS_API_URL", "https://api.openai.com/v1", printEnv),
		CompletionsAPIKey:   getEnv("COMPLETIONS_API_KEY", "", printEnv),
		CompletionsModel:    getEnv("COMPLETIONS_MODEL", "gpt-4.1-mini", printEnv),
		EmbeddingsAPIURL:    getEnv("EMBEDDINGS_API_URL", "https://api.openai.com/v1", printEnv),
		EmbeddingsAPIKey:    getEnv("EMBEDDINGS_API_KEY", "", printEnv),
		EmbeddingsModel:     getEnv("EMBEDDINGS_MODEL", "text-embedding-3-small", printEnv),
		EmbeddingDimensions: getEnvInt("EMBEDDING_DIMENSIONS", 1536, printEnv),
		NatsURL:             getEnv("NATS_URL", "", printEnv),
		MaxChunkChars:       getEnvInt("MAX_CHUNK_CHARS", 3000, printEnv),
		TimeWindowHours:     getEnvInt("TIME_WINDOW_HOURS", 24, printEnv),
		MaxTemporalLinks:    getEnvInt("MAX_TEMPORAL_LINKS", 10, printEnv),
		SemanticTopK:        getEnvInt("SEMANTIC_TOP_K", 20, printEnv),
		SemanticFloor:       getEnvFloat("SEMANTIC_FLOOR", 0.55, printEnv),
		MaxSemanticLinks:    getEnvInt("MAX_SEMANTIC_LINKS", 5, printEnv),
		DedupThreshold:      getEnvFloat("DEDUP_THRESHOLD", 0.96, printEnv),
	}

	return conf, nil
}
