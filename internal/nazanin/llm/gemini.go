package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// GeminiCaller invokes the Gemini API through the official SDK. The
// SDK binds a client to one API key, so clients are built lazily and
// cached per key to keep rotation cheap.
type GeminiCaller struct {
	Model string

	mu      sync.Mutex
	clients map[string]*genai.Client
}

func (c *GeminiCaller) clientFor(ctx context.Context, apiKey string) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clients == nil {
		c.clients = make(map[string]*genai.Client)
	}
	if client, ok := c.clients[apiKey]; ok {
		return client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("llm: gemini client: %w", err)
	}
	c.clients[apiKey] = client
	return client, nil
}

// Call generates a reply for the prompt.
func (c *GeminiCaller) Call(ctx context.Context, apiKey, prompt string) (string, error) {
	client, err := c.clientFor(ctx, apiKey)
	if err != nil {
		return "", err
	}

	resp, err := client.Models.GenerateContent(ctx, c.Model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("llm: gemini generate: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("llm: gemini returned empty response")
	}
	return text, nil
}
