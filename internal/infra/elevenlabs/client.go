package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vision-tutor/internal/infra"
)

const defaultOutputFormat = "mp3_44100_128"

type Client struct {
	apiKey     string
	voice      string
	model      string
	baseURL    string
	httpClient *http.Client
	retry      infra.RetryConfig

	mu      sync.Mutex
	voiceID string
}

func NewClient(apiKey, voice, model string, retry infra.RetryConfig) *Client {
	return NewClientWithURL(apiKey, voice, model, "https://api.elevenlabs.io/v1", retry)
}

func NewClientWithURL(apiKey, voice, model, baseURL string, retry infra.RetryConfig) *Client {
	if voice == "" {
		voice = "Aria"
	}
	if model == "" {
		model = "eleven_turbo_v2"
	}
	return &Client{
		apiKey:     apiKey,
		voice:      voice,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		retry:      retry,
	}
}

type speechRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

type voicesResponse struct {
	Voices []struct {
		VoiceID string `json:"voice_id"`
		Name    string `json:"name"`
	} `json:"voices"`
}

// Speak synthesizes text and writes the mp3 to outPath. The file is only
// created once the API has answered successfully.
func (c *Client) Speak(ctx context.Context, text, outPath string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("text cannot be empty")
	}

	voiceID, err := c.resolveVoice(ctx)
	if err != nil {
		return err
	}

	bodyBytes, err := json.Marshal(speechRequest{Text: text, ModelID: c.model})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s",
		c.baseURL, url.PathEscape(voiceID), defaultOutputFormat)

	var audio []byte
	err = infra.WithRetry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("xi-api-key", c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/mpeg")

		audio, err = c.do(req)
		return err
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	if err := os.WriteFile(outPath, audio, 0644); err != nil {
		return fmt.Errorf("writing audio: %w", err)
	}
	return nil
}

// resolveVoice maps a voice name such as "Aria" to its ID once per client.
// A value that matches no voice name is used as an ID directly.
func (c *Client) resolveVoice(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.voiceID != "" {
		return c.voiceID, nil
	}

	var voices voicesResponse
	err := infra.WithRetry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/voices", nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("xi-api-key", c.apiKey)

		body, err := c.do(req)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &voices); err != nil {
			return fmt.Errorf("decoding voices: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("listing voices: %w", err)
	}

	c.voiceID = c.voice
	for _, v := range voices.Voices {
		if strings.EqualFold(v.Name, c.voice) {
			c.voiceID = v.VoiceID
			break
		}
	}
	return c.voiceID, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &infra.TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, &infra.StatusError{Service: "elevenlabs", StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
