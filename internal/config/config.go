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
	"gopkg.in/yaml.v3"
)

const (
	DefaultRequestTimeout     = 12 * time.Second
	DefaultSubtitleLimit      = 20
	DefaultElapsedTopic       = "interview.elapsed"
	DefaultTranscriptionTopic = "lk.transcription"
	DefaultAgentPattern       = `^(agent|ai[-_]?interviewer|interviewer)([-_:].*)?$`

	CacheDriverSQLite = "sqlite"
	CacheDriverRedis  = "redis"
)

// Config stores runtime configuration for the interview client.
type Config struct {
	API       APIConfig
	Cache     CacheConfig
	Session   SessionConfig
	Devices   DevicesConfig
	Transport TransportConfig
	LogLevel  string
	// File is the YAML file that was read, or "" when none existed.
	File string
}

type APIConfig struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
}

type CacheConfig struct {
	Driver        string
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type SessionConfig struct {
	ElapsedTopic       string
	TranscriptionTopic string
	SubtitleLimit      int
	AgentPattern       string
}

type DevicesConfig struct {
	PactlCommand string
	VideoDir     string
	Watch        bool
}

type TransportConfig struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// fileConfig mirrors the YAML layout; empty values defer to defaults.
type fileConfig struct {
	APIBaseURL         string `yaml:"api_base_url"`
	APIToken           string `yaml:"api_token"`
	RequestTimeoutMS   int    `yaml:"request_timeout_ms"`
	CacheDriver        string `yaml:"cache_driver"`
	CachePath          string `yaml:"cache_path"`
	RedisAddr          string `yaml:"redis_addr"`
	RedisDB            int    `yaml:"redis_db"`
	ElapsedTopic       string `yaml:"elapsed_topic"`
	TranscriptionTopic string `yaml:"transcription_topic"`
	SubtitleLimit      int    `yaml:"subtitle_limit"`
	AgentPattern       string `yaml:"agent_identity_pattern"`
	PactlCommand       string `yaml:"pactl_command"`
	DeviceDir          string `yaml:"device_dir"`
	WatchDevices       *bool  `yaml:"watch_devices"`
	LogLevel           string `yaml:"log_level"`
}

// Load resolves configuration from a .env file, an optional YAML file,
// environment variables and defaults, in increasing priority.
func Load() (Config, error) {
	envFile := envOrDefault("INTERVIEW_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	configPath := strings.TrimSpace(os.Getenv("INTERVIEW_CONFIG_FILE"))
	if configPath == "" {
		configPath = firstExisting(
			filepath.Join(home, ".config", "liveinterview", "config.yaml"),
			filepath.Join(home, ".liveinterview.yaml"),
		)
	}

	file, loaded, err := readFile(configPath)
	if err != nil {
		return Config{}, err
	}

	watch := true
	if file.WatchDevices != nil {
		watch = *file.WatchDevices
	}

	cfg := Config{
		API: APIConfig{
			BaseURL:        envOrDefault("INTERVIEW_API_BASE_URL", firstNonEmpty(file.APIBaseURL, "http://localhost:8080")),
			Token:          envOrDefault("INTERVIEW_API_TOKEN", file.APIToken),
			RequestTimeout: time.Duration(firstNonNegativeInt("INTERVIEW_REQUEST_TIMEOUT_MS", file.RequestTimeoutMS)) * time.Millisecond,
		},
		Cache: CacheConfig{
			Driver:        strings.ToLower(envOrDefault("INTERVIEW_CACHE_DRIVER", firstNonEmpty(file.CacheDriver, CacheDriverSQLite))),
			Path:          envOrDefault("INTERVIEW_CACHE_PATH", firstNonEmpty(file.CachePath, filepath.Join(home, ".local", "share", "liveinterview", "cache.db"))),
			RedisAddr:     envOrDefault("INTERVIEW_REDIS_ADDR", firstNonEmpty(file.RedisAddr, "localhost:6379")),
			RedisPassword: strings.TrimSpace(os.Getenv("INTERVIEW_REDIS_PASSWORD")),
			RedisDB:       envOrDefaultInt("INTERVIEW_REDIS_DB", file.RedisDB),
		},
		Session: SessionConfig{
			ElapsedTopic:       envOrDefault("INTERVIEW_ELAPSED_TOPIC", firstNonEmpty(file.ElapsedTopic, DefaultElapsedTopic)),
			TranscriptionTopic: envOrDefault("INTERVIEW_TRANSCRIPTION_TOPIC", firstNonEmpty(file.TranscriptionTopic, DefaultTranscriptionTopic)),
			SubtitleLimit:      envOrDefaultInt("INTERVIEW_SUBTITLE_LIMIT", file.SubtitleLimit),
			AgentPattern:       envOrDefault("INTERVIEW_AGENT_IDENTITY_PATTERN", firstNonEmpty(file.AgentPattern, DefaultAgentPattern)),
		},
		Devices: DevicesConfig{
			PactlCommand: envOrDefault("INTERVIEW_PACTL_COMMAND", firstNonEmpty(file.PactlCommand, "pactl")),
			VideoDir:     envOrDefault("INTERVIEW_DEVICE_DIR", firstNonEmpty(file.DeviceDir, "/dev")),
			Watch:        envOrDefaultBool("INTERVIEW_WATCH_DEVICES", watch),
		},
		Transport: TransportConfig{
			HandshakeTimeout: time.Duration(envOrDefaultInt("INTERVIEW_HANDSHAKE_TIMEOUT_MS", 10000)) * time.Millisecond,
			WriteTimeout:     time.Duration(envOrDefaultInt("INTERVIEW_WRITE_TIMEOUT_MS", 5000)) * time.Millisecond,
		},
		LogLevel: strings.ToLower(envOrDefault("INTERVIEW_LOG_LEVEL", firstNonEmpty(file.LogLevel, "info"))),
	}
	if loaded {
		cfg.File = configPath
	}

	if cfg.API.RequestTimeout <= 0 {
		cfg.API.RequestTimeout = DefaultRequestTimeout
	}
	// The caption window may shrink but never holds more than 20 lines.
	if cfg.Session.SubtitleLimit <= 0 || cfg.Session.SubtitleLimit > DefaultSubtitleLimit {
		cfg.Session.SubtitleLimit = DefaultSubtitleLimit
	}
	if cfg.Cache.RedisDB < 0 {
		cfg.Cache.RedisDB = 0
	}
	if cfg.Transport.HandshakeTimeout <= 0 {
		cfg.Transport.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Transport.WriteTimeout <= 0 {
		cfg.Transport.WriteTimeout = 5 * time.Second
	}
	if cfg.Cache.Driver != CacheDriverSQLite && cfg.Cache.Driver != CacheDriverRedis {
		return Config{}, fmt.Errorf("unsupported cache driver %q", cfg.Cache.Driver)
	}

	return cfg, nil
}

func readFile(path string) (fileConfig, bool, error) {
	var file fileConfig
	if path == "" {
		return file, false, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return file, false, nil
	}
	if err != nil {
		return file, false, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, false, fmt.Errorf("parse config %s: %w", path, err)
	}
	return file, true, nil
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func firstNonNegativeInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
