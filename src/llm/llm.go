package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultMaxRetries   = 3
	defaultInitialDelay = 1 * time.Second
	requestTimeout      = 45 * time.Second
	noTextMarker        = "NO_TEXT_FOUND"
)

var (
	ErrNotConfigured = errors.New("LLM client not configured")
	ErrNoText        = errors.New("no text detected in image")
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	MaxRetries   int
	InitialDelay time.Duration
	HTTPClient   *http.Client
}

// Client runs vision OCR against an OpenAI-compatible chat completion endpoint (OpenRouter by default).
type Client struct {
	api *openai.Client
	cfg Config
}

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrNotConfigured)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrNotConfigured)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaultInitialDelay
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	apiCfg.HTTPClient = &http.Client{
		Timeout:   httpClient.Timeout,
		Transport: headerTransport{base: httpClient.Transport},
	}

	return &Client{api: openai.NewClientWithConfig(apiCfg), cfg: cfg}, nil
}

// QueryVision sends an image to the vision model and returns the raw extracted text.
func (c *Client) QueryVision(ctx context.Context, imageData []byte, mimeType, language string) (string, error) {
	if len(imageData) == 0 {
		return "", errors.New("image data is empty")
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	imageURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(imageData))

	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: 0.1,
		MaxTokens:   2000,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt(language)},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: imageURL},
					},
				},
			},
		},
	}

	// Retry with linear-growth backoff
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(c.cfg.InitialDelay) * (1.5 * float64(attempt)))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			log.Warn().Err(err).Int("attempt", attempt+1).Msg("vision request failed")
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("no choices in API response")
			continue
		}

		text := cleanExtractedText(resp.Choices[0].Message.Content)
		if strings.TrimSpace(text) == "" || strings.TrimSpace(text) == noTextMarker {
			return "", ErrNoText
		}
		return text, nil
	}

	return "", fmt.Errorf("failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

// Ping checks credentials and connectivity by listing models.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM ping failed: %w", err)
	}
	return nil
}

func prompt(language string) string {
	p := "Perform OCR on this image. Return ONLY the raw extracted text with:\n" +
		"- No formatting\n" +
		"- No XML/HTML tags\n" +
		"- No markdown\n" +
		"- No explanations\n" +
		"- Preserve line breaks accurately from the visual layout.\n" +
		"If no text found, return '" + noTextMarker + "'"
	if language != "" {
		p += "\nExpected language (Tesseract codes): " + language
	}
	return p
}

func cleanExtractedText(text string) string {
	if text == "</image>" {
		return ""
	}
	return strings.TrimSuffix(text, "</image>")
}

// headerTransport adds the attribution headers OpenRouter asks clients to send.
type headerTransport struct {
	base http.RoundTripper
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	req = req.Clone(req.Context())
	req.Header.Set("HTTP-Referer", "https://github.com/doc-scanner/doc-scanner")
	req.Header.Set("X-Title", "Document Text Scanner")
	return base.RoundTrip(req)
}
