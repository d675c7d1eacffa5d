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

const openAIEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider calls the OpenAI chat completions API with an inline image.
type OpenAIProvider struct {
	cfg   models.AIConfig
	httpc *http.Client
}

// Load validates the configuration.
func (p *OpenAIProvider) Load(ctx context.Context) error {
	if p.cfg.APIKey == "" {
		return fmt.Errorf("openai api key not configured")
	}
	return nil
}

// Describe sends the image and the configured prompt to the model.
func (p *OpenAIProvider) Describe(ctx context.Context, imageData []byte) (string, error) {
	prompt := p.cfg.CustomPrompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	imageURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(imageData)

	payload := map[string]any{
		"model": p.cfg.Model,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": prompt},
					{"type": "image_url", "image_url": map[string]string{"url": imageURL}},
				},
			},
		},
		"max_tokens":  p.cfg.MaxTokens,
		"temperature": p.cfg.Temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	endpoint := openAIEndpoint
	if p.cfg.APIURL != "" {
		endpoint = p.cfg.APIURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("call openai: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai returned status %d: %s", resp.StatusCode, respBody)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("parse openai response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no response generated")
	}
	return out.Choices[0].Message.Content, nil
}
