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
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

// CaptureConfig describes the audio input format. DeviceIndex -1 selects the
// system default input device.
type CaptureConfig struct {
	DeviceIndex int `yaml:"device_index"`
	SampleRate  int `yaml:"sample_rate"`
	Channels    int `yaml:"channels"`
	FrameSize   int `yaml:"frame_size"`
}

type EngineConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	Model     string `yaml:"model"` // tiny, base, small, medium, large
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
}

type SessionConfig struct {
	ChunkSeconds   int `yaml:"chunk_seconds"`
	PollTimeoutMS  int `yaml:"poll_timeout_ms"`
	DrainTimeoutMS int `yaml:"drain_timeout_ms"`
	JoinTimeoutMS  int `yaml:"join_timeout_ms"`
}

type TranscriptConfig struct {
	Path string `yaml:"path"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type TTSConfig struct {
	Mode    string `yaml:"mode"` // mock, exec
	Command string `yaml:"command"`
	Voice   string `yaml:"voice"`
}

type Config struct {
	DaemonName  string           `yaml:"daemon_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Capture     CaptureConfig    `yaml:"capture"`
	Engine      EngineConfig     `yaml:"engine"`
	Session     SessionConfig    `yaml:"session"`
	Transcript  TranscriptConfig `yaml:"transcript"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Bus         BusConfig        `yaml:"bus"`
	TTS         TTSConfig        `yaml:"tts"`
}

// ChunkSecondsAllowed is the enumerated set of chunk window lengths.
var ChunkSecondsAllowed = []int{1, 2, 3, 5, 10}

// ModelsAllowed is the enumerated set of engine model size tiers.
var ModelsAllowed = []string{"tiny", "base", "small", "medium", "large"}

func Default() Config {
	return Config{
		DaemonName:  "dictated",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Capture: CaptureConfig{
			DeviceIndex: -1,
			SampleRate:  16000,
			Channels:    1,
			FrameSize:   1024,
		},
		Engine: EngineConfig{
			Mode:     "mock",
			Model:    "base",
			Language: "en",
		},
		Session: SessionConfig{
			ChunkSeconds:   3,
			PollTimeoutMS:  1000,
			DrainTimeoutMS: 30000,
			JoinTimeoutMS:  5000,
		},
		Transcript: TranscriptConfig{
			Path: "./transcription.txt",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/dictate-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		TTS: TTSConfig{
			Mode: "mock",
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
	overrideString(&cfg.DaemonName, "DICTATE_DAEMON_NAME")
	overrideString(&cfg.Environment, "DICTATE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "DICTATE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "DICTATE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "DICTATE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "DICTATE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "DICTATE_TELEMETRY_OTLP_INSECURE")
	overrideInt(&cfg.Capture.DeviceIndex, "DICTATE_CAPTURE_DEVICE_INDEX")
	overrideInt(&cfg.Capture.SampleRate, "DICTATE_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "DICTATE_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.FrameSize, "DICTATE_CAPTURE_FRAME_SIZE")
	overrideString(&cfg.Engine.Mode, "DICTATE_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "DICTATE_ENGINE_COMMAND")
	overrideString(&cfg.Engine.Model, "DICTATE_ENGINE_MODEL")
	overrideString(&cfg.Engine.ModelPath, "DICTATE_ENGINE_MODEL_PATH")
	overrideString(&cfg.Engine.Language, "DICTATE_ENGINE_LANGUAGE")
	overrideInt(&cfg.Session.ChunkSeconds, "DICTATE_SESSION_CHUNK_SECONDS")
	overrideInt(&cfg.Session.PollTimeoutMS, "DICTATE_SESSION_POLL_TIMEOUT_MS")
	overrideInt(&cfg.Session.DrainTimeoutMS, "DICTATE_SESSION_DRAIN_TIMEOUT_MS")
	overrideInt(&cfg.Session.JoinTimeoutMS, "DICTATE_SESSION_JOIN_TIMEOUT_MS")
	overrideString(&cfg.Transcript.Path, "DICTATE_TRANSCRIPT_PATH")
	overrideString(&cfg.EventStore.Path, "DICTATE_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "DICTATE_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "DICTATE_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "DICTATE_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "DICTATE_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "DICTATE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "DICTATE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "DICTATE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "DICTATE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "DICTATE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "DICTATE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "DICTATE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "DICTATE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "DICTATE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "DICTATE_TTS_MODE")
	overrideString(&cfg.TTS.Command, "DICTATE_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "DICTATE_TTS_VOICE")
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

func validate(cfg Config) error {
	if cfg.DaemonName == "" {
		return errors.New("daemon_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Capture.DeviceIndex < -1 {
		return errors.New("capture.device_index must be -1 (default device) or a device index")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels != 1 {
		return errors.New("capture.channels must be 1 (mono PCM only)")
	}
	if cfg.Capture.FrameSize <= 0 {
		return errors.New("capture.frame_size must be positive")
	}
	switch cfg.Engine.Mode {
	case "mock", "exec":
	default:
		return errors.New("engine.mode must be one of mock|exec")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if !containsInt(ChunkSecondsAllowed, cfg.Session.ChunkSeconds) {
		return fmt.Errorf("session.chunk_seconds must be one of %v", ChunkSecondsAllowed)
	}
	if !containsString(ModelsAllowed, cfg.Engine.Model) {
		return fmt.Errorf("engine.model must be one of %v", ModelsAllowed)
	}
	if cfg.Session.PollTimeoutMS <= 0 {
		return errors.New("session.poll_timeout_ms must be positive")
	}
	if cfg.Session.DrainTimeoutMS <= 0 {
		return errors.New("session.drain_timeout_ms must be positive")
	}
	if cfg.Session.JoinTimeoutMS <= 0 {
		return errors.New("session.join_timeout_ms must be positive")
	}
	if cfg.Transcript.Path == "" {
		return errors.New("transcript.path must not be empty")
	}
	if cfg.EventStore.Path == "" {
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
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.TTS.Mode {
	case "mock", "exec":
	default:
		return errors.New("tts.mode must be one of mock|exec")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	return nil
}

func containsInt(set []int, v int) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
