package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Session storage
	DataDir    string
	CatalogDB  string

	// STT Backend
	STTBackend string // "vosk" or "deepgram"

	// Vosk settings
	VoskModelPath string

	// Deepgram settings
	DeepgramAPIKey    string
	DeepgramTier      string
	DeepgramDiarize   bool
	DeepgramPunctuate bool

	// Gemini settings
	GenAIAPIKey string
	GenAIModel  string

	// Chunk queue
	ChunkQueueCapacity int

	// Ledger tunables
	LedgerMaxSegments        int
	LedgerSimilarityThreshold float64

	// Notes engine tunables
	NotesTriggerPhrases []string

	// Logging
	LogLevel string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("No .env file found, using environment variables only")
	}

	cfg := &Config{
		// Session storage
		DataDir:   getEnvOrDefault("DATA_DIR", "./data"),
		CatalogDB: getEnvOrDefault("CATALOG_DB", "./data/catalog.sqlite"),

		// STT Backend
		STTBackend: getEnvOrDefault("STT_BACKEND", "vosk"),

		// Vosk
		VoskModelPath: getEnvOrDefault("VOSK_MODEL_PATH", "./models/vosk/en"),

		// Deepgram
		DeepgramAPIKey:    os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramTier:      getEnvOrDefault("DEEPGRAM_TIER", "nova-2"),
		DeepgramDiarize:   getBoolEnvOrDefault("DEEPGRAM_DIARIZE", true),
		DeepgramPunctuate: getBoolEnvOrDefault("DEEPGRAM_PUNCTUATE", true),

		// Gemini
		GenAIAPIKey: os.Getenv("GENAI_API_KEY"),
		GenAIModel:  getEnvOrDefault("GENAI_MODEL", "gemini-2.5-flash"),

		// Chunk queue
		ChunkQueueCapacity: getIntEnvOrDefault("CHUNK_QUEUE_CAPACITY", 4),

		// Ledger
		LedgerMaxSegments:         getIntEnvOrDefault("LEDGER_MAX_SEGMENTS", 2000),
		LedgerSimilarityThreshold: getFloatEnvOrDefault("LEDGER_SIMILARITY_THRESHOLD", 0.6),

		// Notes
		NotesTriggerPhrases: getListEnvOrDefault("NOTES_TRIGGER_PHRASES", []string{"decided", "decision", "action item", "will", "owes"}),

		// Logging
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.STTBackend != "vosk" && c.STTBackend != "deepgram" {
		return fmt.Errorf("STT_BACKEND must be 'vosk' or 'deepgram'")
	}

	if c.STTBackend == "deepgram" && c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required when using deepgram backend")
	}

	if c.GenAIAPIKey == "" {
		return fmt.Errorf("GENAI_API_KEY is required")
	}

	if c.LedgerSimilarityThreshold < 0 || c.LedgerSimilarityThreshold > 1 {
		return fmt.Errorf("LEDGER_SIMILARITY_THRESHOLD must be between 0 and 1")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnvOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getBoolEnvOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getListEnvOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
