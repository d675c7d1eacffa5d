package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"strawberrytrace/internal/models"
)

// CustomProvider posts to a user-supplied endpoint speaking a minimal
// {image, prompt} contract. Useful for self-hosted vision models.
type CustomProvider struct {
	cfg   models.AIConfig
	httpc *http.Client
}

// Load validates the configuration.
func (p *CustomProvider) Load(ctx context.Context) error {
	if p.cfg.APIURL == "" {
		return fmt.Errorf("custom provider api url not configured")
	}
	return nil
}

// Describe sends the image and prompt to the configured endpoint and accepts
// either a {description} or {text} reply.
func (p *CustomProvider) Describe(ctx context.Context, imageData []byte) (string, error) {
	prompt := p.cfg.CustomPrompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	payload := map[string]any{
		"image":      base64.StdEncoding.EncodeToString(imageData),
		"prompt":     prompt,
		"max_tokens": p.cfg.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("call custom provider: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("custom provider returned status %d: %s", resp.StatusCode, respBody)
	}

	var out struct {
		Description string `json:"description"`
		Text        string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("parse custom provider response: %w", err)
	}
	if out.Description != "" {
		return out.Description, nil
	}
	if out.Text != "" {
		return out.Text, nil
	}
	return "", fmt.Errorf("empty response from custom provider")
}
