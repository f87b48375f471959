package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultAPIKeyPath = "/run/secrets/api_keys/openrouter"
	APIKeyPathEnvVar  = "OPENROUTER_API_KEY_FILE"
	EnvFileEnvVar     = "DOC_SCANNER_ENV"

	EngineTesseract = "tesseract"
	EngineLLM       = "llm"

	DefaultLanguage = "eng"
	DefaultBaseURL  = "https://openrouter.ai/api/v1"
)

var (
	ErrUnknownEngine = errors.New("unknown OCR engine")
	ErrMissingAPIKey = errors.New("OPENROUTER_API_KEY is required for the llm engine")
	ErrMissingModel  = errors.New("MODEL is required for the llm engine")
)

type LoadOptions struct {
	APIKeyPathOverride string
	EngineOverride     string
	LanguageOverride   string
}

type Config struct {
	Engine   string
	Language string
	// OCRDeadlineSec bounds a single recognition call. Zero leaves calls unbounded.
	OCRDeadlineSec int

	APIKey     string
	APIKeyPath string
	Model      string
	BaseURL    string

	EnableFileLogging bool
	LogLevel          string
}

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Sources in priority order:
	// 1) .env in the executable directory
	// 2) otherwise DOC_SCANNER_ENV as a path to a dotenv file
	// Real environment variables always win over dotenv values.
	envPath := resolveEnvPath()
	dotenvValues := readDotenvValues(envPath)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}

	deadlineSec := 0
	if v := os.Getenv("OCR_DEADLINE_SEC"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid OCR_DEADLINE_SEC %q", v)
		}
		deadlineSec = n
	}

	apiKeyPath := resolveAPIKeyPath(opts, dotenvValues)

	cfg := &Config{
		Engine:            resolveEngine(opts),
		Language:          resolveLanguage(opts),
		OCRDeadlineSec:    deadlineSec,
		APIKey:            resolveAPIKey(apiKeyPath),
		APIKeyPath:        apiKeyPath,
		Model:             os.Getenv("MODEL"),
		BaseURL:           getEnvWithDefault("LLM_BASE_URL", DefaultBaseURL),
		EnableFileLogging: strings.ToLower(os.Getenv("ENABLE_FILE_LOGGING")) == "true",
		LogLevel:          getEnvWithDefault("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate reports configuration that cannot produce a working engine.
func (c *Config) Validate() error {
	switch c.Engine {
	case EngineTesseract:
		return nil
	case EngineLLM:
		if c.APIKey == "" {
			return fmt.Errorf("%w (checked key file %s and OPENROUTER_API_KEY)", ErrMissingAPIKey, c.APIKeyPath)
		}
		if c.Model == "" {
			return ErrMissingModel
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEngine, c.Engine)
	}
}

// Deadline returns the per-call recognition deadline, zero when unbounded.
func (c *Config) Deadline() time.Duration {
	return time.Duration(c.OCRDeadlineSec) * time.Second
}

func resolveEnvPath() string {
	execPath, err := os.Executable()
	if err == nil {
		exeEnv := filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(exeEnv); err == nil {
			return exeEnv
		}
	}

	if alt := os.Getenv(EnvFileEnvVar); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}

func readDotenvValues(envPath string) map[string]string {
	if envPath == "" {
		return map[string]string{}
	}

	values, err := godotenv.Read(envPath)
	if err != nil {
		return map[string]string{}
	}

	return values
}

func resolveAPIKeyPath(opts LoadOptions, dotenvValues map[string]string) string {
	keyPath := DefaultAPIKeyPath

	if envPath := strings.TrimSpace(os.Getenv(APIKeyPathEnvVar)); envPath != "" {
		keyPath = envPath
	}

	if dotenvPath := strings.TrimSpace(dotenvValues[APIKeyPathEnvVar]); dotenvPath != "" {
		keyPath = dotenvPath
	}

	if overridePath := strings.TrimSpace(opts.APIKeyPathOverride); overridePath != "" {
		keyPath = overridePath
	}

	return keyPath
}

func resolveAPIKey(keyPath string) string {
	if data, err := os.ReadFile(keyPath); err == nil {
		if fileKey := strings.TrimSpace(string(data)); fileKey != "" {
			return fileKey
		}
	}

	return os.Getenv("OPENROUTER_API_KEY")
}

func resolveEngine(opts LoadOptions) string {
	value := os.Getenv("OCR_ENGINE")
	if override := strings.TrimSpace(opts.EngineOverride); override != "" {
		value = override
	}
	switch v := strings.ToLower(strings.TrimSpace(value)); v {
	case "", EngineTesseract:
		return EngineTesseract
	case EngineLLM, "vision", "openrouter":
		return EngineLLM
	default:
		return v
	}
}

func resolveLanguage(opts LoadOptions) string {
	if override := strings.TrimSpace(opts.LanguageOverride); override != "" {
		return override
	}
	return getEnvWithDefault("OCR_LANGUAGE", DefaultLanguage)
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}
