package advisor

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// Message is one turn of a chat history.
type Message struct {
	Role string `json:"role"` // "user" or "model"
	Text string `json:"text"`
}

// TextRequest describes one text generation call.
type TextRequest struct {
	Model          string
	System         string
	History        []Message
	Prompt         string
	ResponseSchema *genai.Schema
	ThinkingBudget int32
}

// Image is raw generated image data.
type Image struct {
	Data     []byte
	MIMEType string
}

// Generator is the generative model backend.
type Generator interface {
	GenerateText(ctx context.Context, req TextRequest) (string, error)
	GenerateImage(ctx context.Context, model, prompt string) (Image, error)
}

var ErrNoImage = errors.New("model returned no image")

// GenAIGenerator calls the Gemini API through google.golang.org/genai.
type GenAIGenerator struct {
	client *genai.Client
}

func NewGenAIGenerator(ctx context.Context, apiKey string) (*GenAIGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIGenerator{client: client}, nil
}

func (g *GenAIGenerator) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		contents = append(contents, genai.NewContentFromText(m.Text, genai.Role(m.Role)))
	}
	contents = append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.ResponseSchema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = req.ResponseSchema
	}
	if req.ThinkingBudget > 0 {
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(req.ThinkingBudget)}
	}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("generate content with %s: %w", req.Model, err)
	}
	return resp.Text(), nil
}

func (g *GenAIGenerator) GenerateImage(ctx context.Context, model, prompt string) (Image, error) {
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return Image{}, fmt.Errorf("generate image with %s: %w", model, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Image{}, ErrNoImage
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return Image{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}, nil
		}
	}
	return Image{}, ErrNoImage
}

// ErrNotConfigured is returned by Unconfigured for every call.
var ErrNotConfigured = errors.New("generative model not configured")

// Unconfigured stands in for the model when no API key is set, so every
// insight resolves to its fallback.
type Unconfigured struct{}

func (Unconfigured) GenerateText(context.Context, TextRequest) (string, error) {
	return "", ErrNotConfigured
}

func (Unconfigured) GenerateImage(context.Context, string, string) (Image, error) {
	return Image{}, ErrNotConfigured
}
