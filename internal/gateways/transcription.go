package gateways

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	deepgramEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"
)

// Transcriber converts one audio clip to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// HTTPStatusError is an upstream failure carrying the HTTP status and body
// text returned by the speech service.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// TranscriberOption is a functional option for configuring DeepgramClient.
type TranscriberOption func(*DeepgramClient)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) TranscriberOption {
	return func(c *DeepgramClient) {
		c.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition.
func WithLanguage(language string) TranscriberOption {
	return func(c *DeepgramClient) {
		c.language = language
	}
}

// WithBaseURL overrides the Deepgram endpoint, mainly for tests.
func WithBaseURL(baseURL string) TranscriberOption {
	return func(c *DeepgramClient) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) TranscriberOption {
	return func(c *DeepgramClient) {
		c.httpClient = httpClient
	}
}

// DeepgramClient implements Transcriber against the Deepgram pre-recorded
// /v1/listen API.
type DeepgramClient struct {
	apiKey     string
	model      string
	language   string
	baseURL    string
	httpClient *http.Client
}

// NewDeepgramClient creates a new Deepgram client. apiKey must be non-empty.
func NewDeepgramClient(apiKey string, opts ...TranscriberOption) (*DeepgramClient, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	c := &DeepgramClient{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		baseURL:    deepgramEndpoint,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a
// pre-recorded transcription request.
type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe submits one audio clip and returns the first alternative's
// transcript. An empty transcript is a valid result (silence).
func (c *DeepgramClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	reqURL, err := c.buildURL()
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("deepgram: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepgram: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("deepgram: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var dg deepgramResponse
	if err := json.Unmarshal(body, &dg); err != nil {
		return "", fmt.Errorf("deepgram: decode response: %w", err)
	}

	if len(dg.Results.Channels) == 0 || len(dg.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return dg.Results.Channels[0].Alternatives[0].Transcript, nil
}

func (c *DeepgramClient) buildURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", c.model)
	q.Set("language", c.language)
	q.Set("punctuate", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
