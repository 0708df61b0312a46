// Package openai talks to OpenAI-compatible APIs (Groq by default) for
// transcription, vision chat and speech.
package openai

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	GroqBaseURL   = "https://api.groq.com/openai/v1"
	OpenAIBaseURL = "https://api.openai.com/v1"
)

type Options struct {
	APIKey  string
	BaseURL string

	STTModel    string
	VisionModel string
	TTSModel    string
	TTSVoice    string

	Language    string
	MaxTokens   int
	Timeout     time.Duration
	MaxAttempts int
	HTTPClient  *http.Client
}

type Client struct {
	client *openai.Client
	opts   Options
}

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai: api key required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = GroqBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	requestOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/") + "/"),
		option.WithMaxRetries(opts.MaxAttempts - 1),
		option.WithRequestTimeout(opts.Timeout),
	}
	if opts.HTTPClient != nil {
		requestOpts = append(requestOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	client := openai.NewClient(requestOpts...)
	return &Client{client: &client, opts: opts}, nil
}
