package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const refinePrompt = "Correct OCR errors in the following Markdown. Keep the structure and return only the corrected Markdown.\n\n"

type OllamaConfig struct {
	Endpoint    string
	Model       string
	MaxTokens   int
	Temperature float64
	MaxPoolSize int
	PoolTimeout time.Duration
}

func DefaultOllamaConfig(endpoint, model string) *OllamaConfig {
	return &OllamaConfig{
		Endpoint:    endpoint,
		Model:       model,
		MaxTokens:   4096,
		Temperature: 0.1,
		MaxPoolSize: 2,
		PoolTimeout: 30 * time.Second,
	}
}

type OllamaResponse struct {
	Response string `json:"response"`
	Model    string `json:"model"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type OllamaClient struct {
	endpoint    string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

func NewOllamaClient(config *OllamaConfig) *OllamaClient {
	return &OllamaClient{
		endpoint:    config.Endpoint,
		model:       config.Model,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// AnalyzeImage sends raw image bytes to a vision model along with prompt.
func (c *OllamaClient) AnalyzeImage(ctx context.Context, data []byte, prompt string) (string, error) {
	return c.generate(ctx, prompt, []string{base64.StdEncoding.EncodeToString(data)})
}

// Refine asks the model to clean up OCR text.
func (c *OllamaClient) Refine(ctx context.Context, text string) (string, error) {
	return c.generate(ctx, refinePrompt+text, nil)
}

func (c *OllamaClient) generate(ctx context.Context, prompt string, images []string) (string, error) {
	reqData, err := json.Marshal(ollamaRequest{
		Model:  c.model,
		Prompt: prompt,
		Images: images,
		Stream: false,
		Options: map[string]any{
			"num_predict": c.maxTokens,
			"temperature": c.temperature,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(reqData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var result OllamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("ollama error: %s", result.Error)
	}

	return result.Response, nil
}

func (c *OllamaClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// OllamaClientPool bounds the number of concurrent model calls. Clients
// returned after Close are closed instead of pooled.
type OllamaClientPool struct {
	mu      sync.Mutex
	closed  bool
	clients chan *OllamaClient
	config  *OllamaConfig
}

func NewOllamaClientPool(config *OllamaConfig) *OllamaClientPool {
	pool := &OllamaClientPool{
		clients: make(chan *OllamaClient, config.MaxPoolSize),
		config:  config,
	}
	for i := 0; i < config.MaxPoolSize; i++ {
		pool.clients <- NewOllamaClient(config)
	}
	return pool
}

func (p *OllamaClientPool) Get(ctx context.Context) (*OllamaClient, error) {
	timer := time.NewTimer(p.config.PoolTimeout)
	defer timer.Stop()

	select {
	case client, ok := <-p.clients:
		if !ok {
			return nil, fmt.Errorf("ollama client pool is closed")
		}
		return client, nil
	case <-timer.C:
		return nil, fmt.Errorf("timeout waiting for available client")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *OllamaClientPool) Put(client *OllamaClient) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		client.Close()
		return
	}
	select {
	case p.clients <- client:
	default:
	}
}

// Refine borrows a client for one refinement call.
func (p *OllamaClientPool) Refine(ctx context.Context, text string) (string, error) {
	client, err := p.Get(ctx)
	if err != nil {
		return "", err
	}
	defer p.Put(client)
	return client.Refine(ctx, text)
}

// AnalyzeImage borrows a client for one vision call.
func (p *OllamaClientPool) AnalyzeImage(ctx context.Context, data []byte, prompt string) (string, error) {
	client, err := p.Get(ctx)
	if err != nil {
		return "", err
	}
	defer p.Put(client)
	return client.AnalyzeImage(ctx, data, prompt)
}

func (p *OllamaClientPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.clients)
	for client := range p.clients {
		client.Close()
	}
	return nil
}
