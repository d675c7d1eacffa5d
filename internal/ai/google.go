package ai

import (
	"context"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"

	"strawberrytrace/internal/models"
)

// GoogleProvider describes images through Vertex AI. Project, location and
// credentials come from the environment.
type GoogleProvider struct {
	cfg    models.AIConfig
	client *genai.Client
	model  *genai.GenerativeModel
}

// Load initializes the Vertex AI client.
func (p *GoogleProvider) Load(ctx context.Context) error {
	projectID := os.Getenv("GOOGLE_PROJECT_ID")
	location := os.Getenv("GOOGLE_LOCATION")
	if projectID == "" {
		return fmt.Errorf("GOOGLE_PROJECT_ID not set")
	}
	if location == "" {
		location = "us-central1"
	}

	opts := []option.ClientOption{}
	if credentials := os.Getenv("GOOGLE_CREDENTIALS_FILE"); credentials != "" {
		opts = append(opts, option.WithCredentialsFile(credentials))
	}

	client, err := genai.NewClient(ctx, projectID, location, opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	modelName := p.cfg.Model
	if modelName == "" {
		modelName = "gemini-pro-vision"
	}
	p.client = client
	p.model = client.GenerativeModel(modelName)
	return nil
}

// Describe sends the image and the configured prompt to the model.
func (p *GoogleProvider) Describe(ctx context.Context, imageData []byte) (string, error) {
	if p.model == nil {
		return "", fmt.Errorf("model not loaded")
	}

	prompt := p.cfg.CustomPrompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	img := genai.ImageData("image/jpeg", imageData)

	resp, err := p.model.GenerateContent(ctx, genai.Text(prompt), img)
	if err != nil {
		return "", fmt.Errorf("failed to call ai: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no response generated")
	}
	candidate := resp.Candidates[0]
	if len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	text := fmt.Sprintf("%v", candidate.Content.Parts[0])
	// Models often fence markdown replies; unwrap the outer fence.
	text = strings.TrimPrefix(text, "```markdown\n")
	text = strings.TrimSuffix(text, "\n```")
	return text, nil
}
