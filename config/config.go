package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultSystemPrompt = `As an educational AI assistant trained to analyze medical images for learning purposes:
1. Describe what you observe in the image in detail
2. Explain the general visual characteristics
3. Discuss common related medical concepts for educational purposes
4. Suggest general wellness tips related to the topic

Important: This is for educational demonstration only. Always consult qualified healthcare providers for actual medical advice and diagnosis.

Please analyze the image and respond conversationally but remember to stay educational rather than diagnostic.`

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Image     ImageConfig     `yaml:"image"`
	Providers ProvidersConfig `yaml:"providers"`
	Models    ModelsConfig    `yaml:"models"`
	Prompt    PromptConfig    `yaml:"prompt"`
	Retry     RetryConfig     `yaml:"retry"`
	Notify    NotifyConfig    `yaml:"notify"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	AuthToken      string        `yaml:"auth_token"`
	RateLimit      int           `yaml:"rate_limit"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	OutputDir      string        `yaml:"output_dir"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	SpeechTTL      time.Duration `yaml:"speech_ttl"`
}

type AudioConfig struct {
	MaxSize      string        `yaml:"max_size"`
	InboxDir     string        `yaml:"inbox_dir"`
	PollInterval time.Duration `yaml:"poll_interval"`
	SampleRate   int           `yaml:"sample_rate"`
	Language     string        `yaml:"language"`

	// MaxBytes is MaxSize parsed by Validate.
	MaxBytes int64 `yaml:"-"`
}

type ImageConfig struct {
	MaxSize      string `yaml:"max_size"`
	MaxDimension int    `yaml:"max_dimension"`
	MaxPixels    int64  `yaml:"max_pixels"`
	JPEGQuality  int    `yaml:"jpeg_quality"`

	MaxBytes int64 `yaml:"-"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type ProvidersConfig struct {
	Groq       ProviderConfig `yaml:"groq"`
	OpenAI     ProviderConfig `yaml:"openai"`
	Anthropic  ProviderConfig `yaml:"anthropic"`
	Gemini     ProviderConfig `yaml:"gemini"`
	ElevenLabs ProviderConfig `yaml:"elevenlabs"`
}

type ModelsConfig struct {
	VisionProvider string `yaml:"vision_provider"`
	VisionModel    string `yaml:"vision_model"`
	STTProvider    string `yaml:"stt_provider"`
	STTModel       string `yaml:"stt_model"`
	TTSProvider    string `yaml:"tts_provider"`
	TTSModel       string `yaml:"tts_model"`
	TTSVoice       string `yaml:"tts_voice"`
	MaxTokens      int    `yaml:"max_tokens"`
}

type PromptConfig struct {
	System string `yaml:"system"`
}

type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

type NotifyConfig struct {
	Pushover PushoverConfig `yaml:"pushover"`
}

type PushoverConfig struct {
	Token   string `yaml:"token"`
	UserKey string `yaml:"user_key"`
	Enabled bool   `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var (
	defaultVisionModels = map[string]string{
		"groq":      "llama-3.2-90b-vision-preview",
		"openai":    "gpt-4o-mini",
		"anthropic": "claude-sonnet-4-20250514",
		"gemini":    "gemini-2.0-flash",
	}
	defaultSTTModels = map[string]string{
		"groq":   "whisper-large-v3",
		"openai": "whisper-1",
	}
	defaultTTSModels = map[string]string{
		"elevenlabs": "eleven_turbo_v2",
		"openai":     "gpt-4o-mini-tts",
	}
	defaultTTSVoices = map[string]string{
		"elevenlabs": "Aria",
		"openai":     "alloy",
	}

	visionProviders = map[string]bool{"groq": true, "openai": true, "anthropic": true, "gemini": true}
	sttProviders    = map[string]bool{"groq": true, "openai": true}
	ttsProviders    = map[string]bool{"elevenlabs": true, "openai": true, "none": true}
)

// Load reads a YAML config file. Variables from a .env file in the working
// directory are loaded first so ${VAR} references in the file resolve.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no config file exists, with
// API keys taken from the environment.
func Default() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	var cfg Config
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 30
	}
	if c.Server.OutputDir == "" {
		c.Server.OutputDir = "./output"
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 2 * time.Minute
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = c.Server.RequestTimeout
	}
	if c.Server.SpeechTTL == 0 {
		c.Server.SpeechTTL = time.Hour
	}
	if c.Audio.MaxSize == "" {
		c.Audio.MaxSize = "50MB"
	}
	if c.Audio.InboxDir == "" {
		c.Audio.InboxDir = "./inbox"
	}
	if c.Audio.PollInterval == 0 {
		c.Audio.PollInterval = 500 * time.Millisecond
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Image.MaxSize == "" {
		c.Image.MaxSize = "20MB"
	}
	if c.Image.MaxDimension == 0 {
		c.Image.MaxDimension = 2048
	}
	if c.Image.MaxPixels == 0 {
		c.Image.MaxPixels = 50_000_000
	}
	if c.Image.JPEGQuality == 0 {
		c.Image.JPEGQuality = 85
	}

	envDefault(&c.Providers.Groq.APIKey, "GROQ_API_KEY")
	envDefault(&c.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
	envDefault(&c.Providers.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	envDefault(&c.Providers.Gemini.APIKey, "GEMINI_API_KEY")
	envDefault(&c.Providers.ElevenLabs.APIKey, "ELEVENLABS_API_KEY")

	if c.Models.VisionProvider == "" {
		c.Models.VisionProvider = "groq"
	}
	if c.Models.VisionModel == "" {
		c.Models.VisionModel = defaultVisionModels[c.Models.VisionProvider]
	}
	if c.Models.STTProvider == "" {
		c.Models.STTProvider = "groq"
	}
	if c.Models.STTModel == "" {
		c.Models.STTModel = defaultSTTModels[c.Models.STTProvider]
	}
	if c.Models.TTSProvider == "" {
		c.Models.TTSProvider = "elevenlabs"
	}
	if c.Models.TTSModel == "" {
		c.Models.TTSModel = defaultTTSModels[c.Models.TTSProvider]
	}
	if c.Models.TTSVoice == "" {
		c.Models.TTSVoice = defaultTTSVoices[c.Models.TTSProvider]
	}
	if c.Models.MaxTokens == 0 {
		c.Models.MaxTokens = 1024
	}
	if c.Prompt.System == "" {
		c.Prompt.System = DefaultSystemPrompt
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 1
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = 200 * time.Millisecond
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 5 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func envDefault(dst *string, key string) {
	if *dst == "" {
		*dst = os.Getenv(key)
	}
}

// Validate checks enumerations and parses human readable sizes.
func (c *Config) Validate() error {
	var err error
	if c.Audio.MaxBytes, err = parseSize("audio.max_size", c.Audio.MaxSize); err != nil {
		return err
	}
	if c.Image.MaxBytes, err = parseSize("image.max_size", c.Image.MaxSize); err != nil {
		return err
	}

	if !visionProviders[c.Models.VisionProvider] {
		return fmt.Errorf("models.vision_provider: unknown provider %q", c.Models.VisionProvider)
	}
	if !sttProviders[c.Models.STTProvider] {
		return fmt.Errorf("models.stt_provider: unknown provider %q", c.Models.STTProvider)
	}
	if !ttsProviders[c.Models.TTSProvider] {
		return fmt.Errorf("models.tts_provider: unknown provider %q", c.Models.TTSProvider)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Image.MaxPixels < 0 {
		return fmt.Errorf("image.max_pixels must be positive, got %d", c.Image.MaxPixels)
	}
	if c.Server.SpeechTTL < 0 {
		return fmt.Errorf("server.speech_ttl must be positive, got %s", c.Server.SpeechTTL)
	}
	if c.Image.JPEGQuality < 1 || c.Image.JPEGQuality > 100 {
		return fmt.Errorf("image.jpeg_quality must be within 1..100, got %d", c.Image.JPEGQuality)
	}
	return nil
}

func parseSize(field, value string) (int64, error) {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return int64(n), nil
}
