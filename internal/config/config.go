// Package config resolves voicememo settings from defaults, a YAML file, a
// .env file and the process environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jwulff/voicememo/internal/chunk"
	"github.com/jwulff/voicememo/internal/daemon"
	"github.com/jwulff/voicememo/internal/db"
	"github.com/jwulff/voicememo/internal/transcribe"
)

const (
	BackendWhisper = "whisper"
	BackendHTTP    = "http"
)

var ErrInvalid = errors.New("invalid configuration")

// Config holds every tunable of the daemon and CLI.
type Config struct {
	DBPath     string `yaml:"db_path"`
	SocketPath string `yaml:"socket_path"`
	TempDir    string `yaml:"temp_dir"`
	LogLevel   string `yaml:"log_level"`
	Locale     string `yaml:"locale"`

	FFmpeg struct {
		FFmpeg  string `yaml:"ffmpeg"`
		FFprobe string `yaml:"ffprobe"`
	} `yaml:"ffmpeg"`

	// Backend selects the speech engine: whisper or http.
	Backend string `yaml:"backend"`

	Whisper struct {
		Binary  string `yaml:"binary"`
		Model   string `yaml:"model"`
		Threads int    `yaml:"threads"`
	} `yaml:"whisper"`

	HTTP struct {
		Endpoint string `yaml:"endpoint"`
		Model    string `yaml:"model"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"http"`

	Chunk struct {
		MaxDuration time.Duration `yaml:"max_duration"`
		Cooldown    time.Duration `yaml:"cooldown"`
	} `yaml:"chunk"`

	// InhibitSleep holds a systemd-inhibit lock while chunks are processed.
	InhibitSleep bool `yaml:"inhibit_sleep"`

	path string
}

// environment is the env var overlay. Unset variables leave the value alone.
type environment struct {
	DBPath        string `env:"VOICEMEMO_DB"`
	SocketPath    string `env:"VOICEMEMO_SOCKET"`
	TempDir       string `env:"VOICEMEMO_TEMP_DIR"`
	LogLevel      string `env:"VOICEMEMO_LOG_LEVEL"`
	Locale        string `env:"VOICEMEMO_LOCALE"`
	FFmpeg        string `env:"VOICEMEMO_FFMPEG"`
	FFprobe       string `env:"VOICEMEMO_FFPROBE"`
	Backend       string `env:"VOICEMEMO_BACKEND"`
	WhisperBinary string `env:"VOICEMEMO_WHISPER_BIN"`
	WhisperModel  string `env:"VOICEMEMO_WHISPER_MODEL"`
	HTTPEndpoint  string `env:"VOICEMEMO_STT_URL"`
	HTTPModel     string `env:"VOICEMEMO_STT_MODEL"`
	HTTPAPIKey    string `env:"VOICEMEMO_STT_API_KEY"`
	MaxChunk      string `env:"VOICEMEMO_MAX_CHUNK"`
	Cooldown      string `env:"VOICEMEMO_COOLDOWN"`
	InhibitSleep  string `env:"VOICEMEMO_INHIBIT_SLEEP"`
	Extras        env.EnvSet
}

// Sources names where Load reads from. Empty File or DotEnv skip that layer;
// a nil Environ means the process environment.
type Sources struct {
	File         string
	FileOptional bool
	DotEnv       string
	Environ      []string
}

// DefaultPath is the YAML file read when no --config flag is given.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "voicememo", "config.yaml")
}

// Default returns the built-in settings.
func Default() *Config {
	c := &Config{
		DBPath:     db.DefaultDBPath(),
		SocketPath: daemon.SocketPath(),
		TempDir:    filepath.Join(os.TempDir(), "voicememo"),
		LogLevel:   "info",
		Locale:     transcribe.DefaultLocale,
		Backend:    BackendWhisper,
	}
	c.FFmpeg.FFmpeg = "ffmpeg"
	c.FFmpeg.FFprobe = "ffprobe"
	c.Whisper.Binary = "whisper-cli"
	c.Whisper.Model = filepath.Join(xdg.DataHome, "voicememo", "models", "ggml-base.bin")
	c.HTTP.Model = "whisper-1"
	c.Chunk.MaxDuration = chunk.DefaultMaxDuration
	c.Chunk.Cooldown = transcribe.DefaultCooldown
	return c
}

// Load layers the sources over Default and validates the result.
func Load(src Sources) (*Config, error) {
	c := Default()

	if src.File != "" {
		if err := c.readFile(src.File, src.FileOptional); err != nil {
			return nil, err
		}
	}

	es, err := environSet(src)
	if err != nil {
		return nil, err
	}
	var e environment
	if err := env.Unmarshal(es, &e); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := c.overlay(e); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path is the YAML file the config was read from, if any.
func (c *Config) Path() string {
	return c.path
}

func (c *Config) readFile(path string, optional bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.path = path
	return nil
}

// environSet merges the .env file under the real environment. Variables
// already set in the environment win.
func environSet(src Sources) (env.EnvSet, error) {
	environ := src.Environ
	if environ == nil {
		environ = os.Environ()
	}
	es, err := env.EnvironToEnvSet(environ)
	if err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if src.DotEnv == "" {
		return es, nil
	}
	dot, err := godotenv.Read(src.DotEnv)
	if err != nil {
		if os.IsNotExist(err) {
			return es, nil
		}
		return nil, fmt.Errorf("read %s: %w", src.DotEnv, err)
	}
	for k, v := range dot {
		if _, ok := es[k]; !ok {
			es[k] = v
		}
	}
	return es, nil
}

func (c *Config) overlay(e environment) error {
	setString(&c.DBPath, e.DBPath)
	setString(&c.SocketPath, e.SocketPath)
	setString(&c.TempDir, e.TempDir)
	setString(&c.LogLevel, e.LogLevel)
	setString(&c.Locale, e.Locale)
	setString(&c.FFmpeg.FFmpeg, e.FFmpeg)
	setString(&c.FFmpeg.FFprobe, e.FFprobe)
	setString(&c.Backend, e.Backend)
	setString(&c.Whisper.Binary, e.WhisperBinary)
	setString(&c.Whisper.Model, e.WhisperModel)
	setString(&c.HTTP.Endpoint, e.HTTPEndpoint)
	setString(&c.HTTP.Model, e.HTTPModel)
	setString(&c.HTTP.APIKey, e.HTTPAPIKey)

	if e.MaxChunk != "" {
		d, err := time.ParseDuration(e.MaxChunk)
		if err != nil {
			return fmt.Errorf("VOICEMEMO_MAX_CHUNK: %w", err)
		}
		c.Chunk.MaxDuration = d
	}
	if e.Cooldown != "" {
		d, err := time.ParseDuration(e.Cooldown)
		if err != nil {
			return fmt.Errorf("VOICEMEMO_COOLDOWN: %w", err)
		}
		c.Chunk.Cooldown = d
	}
	switch e.InhibitSleep {
	case "":
	case "1", "true", "yes":
		c.InhibitSleep = true
	case "0", "false", "no":
		c.InhibitSleep = false
	default:
		return fmt.Errorf("VOICEMEMO_INHIBIT_SLEEP: unrecognized value %q", e.InhibitSleep)
	}
	return nil
}

// Validate reports settings the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendWhisper:
	case BackendHTTP:
		if c.HTTP.Endpoint == "" {
			return fmt.Errorf("%w: http backend needs an endpoint", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}
	if c.Chunk.MaxDuration <= 0 {
		return fmt.Errorf("%w: chunk.max_duration must be positive", ErrInvalid)
	}
	if c.Chunk.Cooldown < 0 {
		return fmt.Errorf("%w: chunk.cooldown must not be negative", ErrInvalid)
	}
	if c.DBPath == "" || c.SocketPath == "" {
		return fmt.Errorf("%w: db_path and socket_path are required", ErrInvalid)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
