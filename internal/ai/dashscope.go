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

const dashScopeEndpoint = "https://dashscope.aliyuncs.com/api/v1/services/aigc/multimodal-generation/generation"

// DashScopeProvider calls Alibaba's DashScope multimodal generation API.
type DashScopeProvider struct {
	cfg   models.AIConfig
	httpc *http.Client
}

// Load validates the configuration.
func (p *DashScopeProvider) Load(ctx context.Context) error {
	if p.cfg.APIKey == "" {
		return fmt.Errorf("dashscope api key not configured")
	}
	return nil
}

// Describe sends the image and the configured prompt to the model.
func (p *DashScopeProvider) Describe(ctx context.Context, imageData []byte) (string, error) {
	prompt := p.cfg.CustomPrompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	imageURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(imageData)

	payload := map[string]any{
		"model": p.cfg.Model,
		"input": map[string]any{
			"messages": []map[string]any{
				{
					"role": "user",
					"content": []map[string]any{
						{"image": imageURL},
						{"text": prompt},
					},
				},
			},
		},
		"parameters": map[string]any{
			"max_tokens": p.cfg.MaxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dashScopeEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("call dashscope: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("dashscope returned status %d: %s", resp.StatusCode, respBody)
	}

	var out struct {
		Output struct {
			Choices []struct {
				Message struct {
					Content []struct {
						Text string `json:"text"`
					} `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		} `json:"output"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("parse dashscope response: %w", err)
	}
	if len(out.Output.Choices) == 0 || len(out.Output.Choices[0].Message.Content) == 0 {
		return "", fmt.Errorf("no response generated")
	}
	return out.Output.Choices[0].Message.Content[0].Text, nil
}
