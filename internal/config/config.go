package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	Traces       bool   `yaml:"traces"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Capture     CaptureConfig    `yaml:"capture"`
	Speech      SpeechConfig     `yaml:"speech"`
	Dialogue    DialogueConfig   `yaml:"dialogue"`
	Interview   InterviewConfig  `yaml:"interview"`
	Analytics   AnalyticsConfig  `yaml:"analytics"`
	Evaluation  EvaluationConfig `yaml:"evaluation"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	EventStream    string   `yaml:"event_stream"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxInterviews int    `yaml:"max_interviews"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type CaptureConfig struct {
	Mode             string `yaml:"mode"` // manual, nats
	Locale           string `yaml:"locale"`
	SilenceTimeoutMS int    `yaml:"silence_timeout_ms"`
	ListenWindowMS   int    `yaml:"listen_window_ms"`
}

type SpeechConfig struct {
	Mode           string  `yaml:"mode"` // simulated, exec, nats
	Command        string  `yaml:"command"`
	Voice          string  `yaml:"voice"`
	WordsPerSecond float64 `yaml:"words_per_second"`
	TimeScale      float64 `yaml:"time_scale"`
}

type DialogueConfig struct {
	Mode         string  `yaml:"mode"` // mock, ollama, openai, exec
	Endpoint     string  `yaml:"endpoint"`
	Command      string  `yaml:"command"`
	Model        string  `yaml:"model"`
	APIKey       string  `yaml:"api_key"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	TimeoutMS    int     `yaml:"timeout_ms"`
	SystemPrompt string  `yaml:"system_prompt"`
	QuestionBank string  `yaml:"question_bank"`
}

type InterviewConfig struct {
	OpeningText  string `yaml:"opening_text"`
	NudgeText    string `yaml:"nudge_text"`
	FallbackText string `yaml:"fallback_text"`
}

type AnalyticsConfig struct {
	MaxSpeechRate  float64 `yaml:"max_speech_rate"`
	ResponseLength string  `yaml:"response_length"` // block, utterance
}

type EvaluationConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Catalogue string `yaml:"catalogue"`
}

func (c CaptureConfig) SilenceTimeout() time.Duration {
	return time.Duration(c.SilenceTimeoutMS) * time.Millisecond
}

func (c CaptureConfig) ListenWindow() time.Duration {
	return time.Duration(c.ListenWindowMS) * time.Millisecond
}

func (c DialogueConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-interview",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			EventStream:    "INTERVIEW_EVENTS",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/interviews.db",
			RetentionMode: "persistent",
			RetentionDays: 0,
			MaxInterviews: 1000,
		},
		Capture: CaptureConfig{
			Mode:             "manual",
			Locale:           "it-IT",
			SilenceTimeoutMS: 2000,
			ListenWindowMS:   10000,
		},
		Speech: SpeechConfig{
			Mode:           "simulated",
			WordsPerSecond: 2.5,
			TimeScale:      1,
		},
		Dialogue: DialogueConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   256,
			Temperature: 0.7,
			TimeoutMS:   60000,
		},
		Interview: InterviewConfig{
			NudgeText:    "È ancora lì? Se vuole, possiamo continuare.",
			FallbackText: "Errore durante la richiesta.",
		},
		Analytics: AnalyticsConfig{
			MaxSpeechRate:  8,
			ResponseLength: "block",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.Traces, "LOQA_TELEMETRY_TRACES")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.EventStream, "LOQA_BUS_EVENT_STREAM")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxInterviews, "LOQA_EVENT_STORE_MAX_INTERVIEWS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Capture.Mode, "LOQA_CAPTURE_MODE")
	overrideString(&cfg.Capture.Locale, "LOQA_CAPTURE_LOCALE")
	overrideInt(&cfg.Capture.SilenceTimeoutMS, "LOQA_CAPTURE_SILENCE_TIMEOUT_MS")
	overrideInt(&cfg.Capture.ListenWindowMS, "LOQA_CAPTURE_LISTEN_WINDOW_MS")
	overrideString(&cfg.Speech.Mode, "LOQA_SPEECH_MODE")
	overrideString(&cfg.Speech.Command, "LOQA_SPEECH_COMMAND")
	overrideString(&cfg.Speech.Voice, "LOQA_SPEECH_VOICE")
	overrideFloat(&cfg.Speech.WordsPerSecond, "LOQA_SPEECH_WORDS_PER_SECOND")
	overrideFloat(&cfg.Speech.TimeScale, "LOQA_SPEECH_TIME_SCALE")
	overrideString(&cfg.Dialogue.Mode, "LOQA_DIALOGUE_MODE")
	overrideString(&cfg.Dialogue.Endpoint, "LOQA_DIALOGUE_ENDPOINT")
	overrideString(&cfg.Dialogue.Command, "LOQA_DIALOGUE_COMMAND")
	overrideString(&cfg.Dialogue.Model, "LOQA_DIALOGUE_MODEL")
	overrideString(&cfg.Dialogue.APIKey, "LOQA_DIALOGUE_API_KEY")
	overrideInt(&cfg.Dialogue.MaxTokens, "LOQA_DIALOGUE_MAX_TOKENS")
	overrideFloat(&cfg.Dialogue.Temperature, "LOQA_DIALOGUE_TEMPERATURE")
	overrideInt(&cfg.Dialogue.TimeoutMS, "LOQA_DIALOGUE_TIMEOUT_MS")
	overrideString(&cfg.Dialogue.SystemPrompt, "LOQA_DIALOGUE_SYSTEM_PROMPT")
	overrideString(&cfg.Dialogue.QuestionBank, "LOQA_DIALOGUE_QUESTION_BANK")
	overrideString(&cfg.Interview.OpeningText, "LOQA_INTERVIEW_OPENING_TEXT")
	overrideString(&cfg.Interview.NudgeText, "LOQA_INTERVIEW_NUDGE_TEXT")
	overrideString(&cfg.Interview.FallbackText, "LOQA_INTERVIEW_FALLBACK_TEXT")
	overrideFloat(&cfg.Analytics.MaxSpeechRate, "LOQA_ANALYTICS_MAX_SPEECH_RATE")
	overrideString(&cfg.Analytics.ResponseLength, "LOQA_ANALYTICS_RESPONSE_LENGTH")
	overrideBool(&cfg.Evaluation.Enabled, "LOQA_EVALUATION_ENABLED")
	overrideString(&cfg.Evaluation.Catalogue, "LOQA_EVALUATION_CATALOGUE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Capture.Mode {
	case "manual":
	case "nats":
		if !cfg.Bus.Enabled {
			return errors.New("capture.mode=nats requires bus.enabled")
		}
	default:
		return errors.New("capture.mode must be one of manual|nats")
	}
	if cfg.Capture.SilenceTimeoutMS <= 0 {
		return errors.New("capture.silence_timeout_ms must be positive")
	}
	if cfg.Capture.ListenWindowMS <= cfg.Capture.SilenceTimeoutMS {
		return errors.New("capture.listen_window_ms must be greater than silence timeout")
	}
	switch cfg.Speech.Mode {
	case "simulated":
	case "exec":
		if cfg.Speech.Command == "" {
			return errors.New("speech.command must be set when mode=exec")
		}
	case "nats":
		if !cfg.Bus.Enabled {
			return errors.New("speech.mode=nats requires bus.enabled")
		}
	default:
		return errors.New("speech.mode must be one of simulated|exec|nats")
	}
	if cfg.Speech.TimeScale < 0 {
		return errors.New("speech.time_scale must be >= 0")
	}
	switch cfg.Dialogue.Mode {
	case "mock":
	case "ollama":
		if cfg.Dialogue.Endpoint == "" {
			return errors.New("dialogue.endpoint must be set when mode=ollama")
		}
	case "openai":
		if cfg.Dialogue.APIKey == "" {
			return errors.New("dialogue.api_key must be set when mode=openai")
		}
	case "exec":
		if cfg.Dialogue.Command == "" {
			return errors.New("dialogue.command must be set when mode=exec")
		}
	default:
		return errors.New("dialogue.mode must be one of mock|ollama|openai|exec")
	}
	if cfg.Dialogue.MaxTokens < 0 {
		return errors.New("dialogue.max_tokens must be >= 0")
	}
	if cfg.Dialogue.TimeoutMS <= 0 {
		return errors.New("dialogue.timeout_ms must be positive")
	}
	if strings.TrimSpace(cfg.Interview.NudgeText) == "" {
		return errors.New("interview.nudge_text must not be empty")
	}
	if strings.TrimSpace(cfg.Interview.FallbackText) == "" {
		return errors.New("interview.fallback_text must not be empty")
	}
	if cfg.Analytics.MaxSpeechRate <= 0 {
		return errors.New("analytics.max_speech_rate must be positive")
	}
	switch cfg.Analytics.ResponseLength {
	case "block", "utterance":
	default:
		return errors.New("analytics.response_length must be one of block|utterance")
	}
	if cfg.Evaluation.Enabled && cfg.Evaluation.Catalogue == "" {
		return errors.New("evaluation.catalogue must be set when evaluation is enabled")
	}
	return nil
}
