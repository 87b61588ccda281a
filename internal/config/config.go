package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	StdoutTraces bool   `yaml:"stdout_traces"`
	Metrics      bool   `yaml:"metrics"`
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
	STT         STTConfig        `yaml:"stt"`
	Forward     ForwardConfig    `yaml:"forward"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	Status      StatusConfig     `yaml:"status"`
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
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRequests   int    `yaml:"max_requests"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// STTConfig configures the transcription service and its speech backend.
type STTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Mode            string `yaml:"mode"` // google, whisper, mock
	CredentialsFile string `yaml:"credentials_file"`
	Command         string `yaml:"command"`
	ModelPath       string `yaml:"model_path"`
	Language        string `yaml:"language"`
	DomainModel     string `yaml:"domain_model"`
	FallbackModel   string `yaml:"fallback_model"`
	AutoPunctuation bool   `yaml:"auto_punctuation"`
	PCMSampleRate   int    `yaml:"pcm_sample_rate"`
	ContinueOnEmpty bool   `yaml:"continue_on_empty"`
	MaxUploadBytes  int64  `yaml:"max_upload_bytes"`
}

// ForwardConfig points the transcription service at the Downstream Responder.
type ForwardConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Context   string `yaml:"context"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type LLMConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Mode            string  `yaml:"mode"` // mock, ollama, openai, exec
	Endpoint        string  `yaml:"endpoint"`
	APIKey          string  `yaml:"api_key"`
	Command         string  `yaml:"command"`
	Model           string  `yaml:"model"`
	MaxTokens       int     `yaml:"max_tokens"`
	Temperature     float64 `yaml:"temperature"`
	TimeoutMS       int     `yaml:"timeout_ms"`
	FallbackOnError bool    `yaml:"fallback_on_error"`
}

type TTSEngineConfig struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
}

type TTSConfig struct {
	Enabled       bool              `yaml:"enabled"`
	DefaultEngine string            `yaml:"default_engine"`
	Engines       []TTSEngineConfig `yaml:"engines"`
	Voice         string            `yaml:"voice"`
	SampleRate    int               `yaml:"sample_rate"`
	Channels      int               `yaml:"channels"`
	TimeoutMS     int               `yaml:"timeout_ms"`
}

type ServiceTarget struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type StatusConfig struct {
	Enabled    bool            `yaml:"enabled"`
	IntervalMS int             `yaml:"interval_ms"`
	TimeoutMS  int             `yaml:"timeout_ms"`
	Services   []ServiceTarget `yaml:"services"`
}

func Default() Config {
	return Config{
		RuntimeName: "carevoice",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 5001,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
			Metrics:      true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/carevoice-audit.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxRequests:   10000,
		},
		STT: STTConfig{
			Enabled:         true,
			Mode:            "mock",
			Language:        "en-US",
			DomainModel:     "medical_conversation",
			FallbackModel:   "latest_long",
			AutoPunctuation: true,
			PCMSampleRate:   16000,
			MaxUploadBytes:  20 << 20,
		},
		Forward: ForwardConfig{
			Endpoint:  "http://localhost:5002",
			Context:   "healthcare",
			TimeoutMS: 60000,
		},
		LLM: LLMConfig{
			Enabled:         false,
			Mode:            "mock",
			Endpoint:        "http://localhost:11434",
			Model:           "tinyllama:latest",
			MaxTokens:       512,
			Temperature:     0.7,
			TimeoutMS:       30000,
			FallbackOnError: true,
		},
		TTS: TTSConfig{
			Enabled:       false,
			DefaultEngine: "offline",
			Engines: []TTSEngineConfig{
				{Name: "offline"},
				{Name: "cloud"},
			},
			Voice:      "default",
			SampleRate: 22050,
			Channels:   1,
			TimeoutMS:  45000,
		},
		Status: StatusConfig{
			Enabled:    false,
			IntervalMS: 0,
			TimeoutMS:  5000,
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
	overrideString(&cfg.RuntimeName, "CAREVOICE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "CAREVOICE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "CAREVOICE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "CAREVOICE_HTTP_PORT")
	overrideInt(&cfg.HTTP.Port, "PORT")
	overrideString(&cfg.Telemetry.LogLevel, "CAREVOICE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "CAREVOICE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "CAREVOICE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "CAREVOICE_TELEMETRY_STDOUT_TRACES")
	overrideBool(&cfg.Telemetry.Metrics, "CAREVOICE_TELEMETRY_METRICS")
	overrideBool(&cfg.Bus.Enabled, "CAREVOICE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "CAREVOICE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "CAREVOICE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "CAREVOICE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "CAREVOICE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "CAREVOICE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "CAREVOICE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "CAREVOICE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "CAREVOICE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "CAREVOICE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "CAREVOICE_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "CAREVOICE_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "CAREVOICE_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRequests, "CAREVOICE_EVENT_STORE_MAX_REQUESTS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "CAREVOICE_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.STT.Enabled, "CAREVOICE_STT_ENABLED")
	overrideString(&cfg.STT.Mode, "CAREVOICE_STT_MODE")
	overrideString(&cfg.STT.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	overrideString(&cfg.STT.CredentialsFile, "CAREVOICE_STT_CREDENTIALS_FILE")
	overrideString(&cfg.STT.Command, "CAREVOICE_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "CAREVOICE_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "CAREVOICE_STT_LANGUAGE")
	overrideString(&cfg.STT.DomainModel, "CAREVOICE_STT_DOMAIN_MODEL")
	overrideString(&cfg.STT.FallbackModel, "CAREVOICE_STT_FALLBACK_MODEL")
	overrideBool(&cfg.STT.AutoPunctuation, "CAREVOICE_STT_AUTO_PUNCTUATION")
	overrideInt(&cfg.STT.PCMSampleRate, "CAREVOICE_STT_PCM_SAMPLE_RATE")
	overrideBool(&cfg.STT.ContinueOnEmpty, "CAREVOICE_STT_CONTINUE_ON_EMPTY")
	overrideInt64(&cfg.STT.MaxUploadBytes, "CAREVOICE_STT_MAX_UPLOAD_BYTES")
	overrideString(&cfg.Forward.Endpoint, "LLM_SERVICE_URL")
	overrideString(&cfg.Forward.Endpoint, "CAREVOICE_FORWARD_ENDPOINT")
	overrideString(&cfg.Forward.Context, "CAREVOICE_FORWARD_CONTEXT")
	overrideInt(&cfg.Forward.TimeoutMS, "CAREVOICE_FORWARD_TIMEOUT_MS")
	overrideBool(&cfg.LLM.Enabled, "CAREVOICE_LLM_ENABLED")
	overrideString(&cfg.LLM.Mode, "CAREVOICE_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "OLLAMA_URL")
	overrideString(&cfg.LLM.Endpoint, "CAREVOICE_LLM_ENDPOINT")
	overrideString(&cfg.LLM.APIKey, "CAREVOICE_LLM_API_KEY")
	overrideString(&cfg.LLM.Command, "CAREVOICE_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "OLLAMA_MODEL")
	overrideString(&cfg.LLM.Model, "CAREVOICE_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "CAREVOICE_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "CAREVOICE_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "CAREVOICE_LLM_TIMEOUT_MS")
	overrideBool(&cfg.LLM.FallbackOnError, "CAREVOICE_LLM_FALLBACK_ON_ERROR")
	overrideBool(&cfg.TTS.Enabled, "CAREVOICE_TTS_ENABLED")
	overrideString(&cfg.TTS.DefaultEngine, "CAREVOICE_TTS_DEFAULT_ENGINE")
	overrideString(&cfg.TTS.Voice, "CAREVOICE_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "CAREVOICE_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "CAREVOICE_TTS_CHANNELS")
	overrideInt(&cfg.TTS.TimeoutMS, "CAREVOICE_TTS_TIMEOUT_MS")
	overrideBool(&cfg.Status.Enabled, "CAREVOICE_STATUS_ENABLED")
	overrideInt(&cfg.Status.IntervalMS, "CAREVOICE_STATUS_INTERVAL_MS")
	overrideInt(&cfg.Status.TimeoutMS, "CAREVOICE_STATUS_TIMEOUT_MS")
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

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
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
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.STT.Enabled {
		switch cfg.STT.Mode {
		case "google", "whisper", "mock":
		default:
			return errors.New("stt.mode must be one of google|whisper|mock")
		}
		if cfg.STT.Mode == "whisper" && cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=whisper")
		}
		if cfg.STT.Language == "" {
			return errors.New("stt.language must not be empty")
		}
		if cfg.STT.PCMSampleRate <= 0 {
			return errors.New("stt.pcm_sample_rate must be positive")
		}
		if cfg.STT.MaxUploadBytes <= 0 {
			return errors.New("stt.max_upload_bytes must be positive")
		}
		if cfg.Forward.Endpoint == "" {
			return errors.New("forward.endpoint must be set when stt is enabled")
		}
		if cfg.Forward.TimeoutMS <= 0 {
			return errors.New("forward.timeout_ms must be positive")
		}
	}
	if cfg.LLM.Enabled {
		switch cfg.LLM.Mode {
		case "mock", "ollama", "openai", "exec":
		default:
			return errors.New("llm.mode must be one of mock|ollama|openai|exec")
		}
		if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
		if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
		if cfg.LLM.MaxTokens < 0 {
			return errors.New("llm.max_tokens must be >= 0")
		}
		if cfg.LLM.TimeoutMS <= 0 {
			return errors.New("llm.timeout_ms must be positive")
		}
	}
	if cfg.TTS.Enabled {
		if len(cfg.TTS.Engines) == 0 {
			return errors.New("tts.engines must not be empty")
		}
		found := false
		seen := make(map[string]bool, len(cfg.TTS.Engines))
		for _, engine := range cfg.TTS.Engines {
			if engine.Name == "" {
				return errors.New("tts.engines[].name must not be empty")
			}
			if seen[engine.Name] {
				return fmt.Errorf("tts engine %q declared twice", engine.Name)
			}
			seen[engine.Name] = true
			if engine.Name == cfg.TTS.DefaultEngine {
				found = true
			}
		}
		if !found {
			return fmt.Errorf("tts.default_engine %q is not declared in tts.engines", cfg.TTS.DefaultEngine)
		}
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
		if cfg.TTS.Channels <= 0 {
			return errors.New("tts.channels must be positive")
		}
	}
	if cfg.Status.Enabled {
		if cfg.Status.TimeoutMS <= 0 {
			return errors.New("status.timeout_ms must be positive")
		}
		for _, svc := range cfg.Status.Services {
			if svc.Name == "" || svc.URL == "" {
				return errors.New("status.services entries need both name and url")
			}
		}
	}
	return nil
}
