package llm

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider calls the Gemini API.
type GeminiProvider struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	stream  bool
	logger  *logrus.Logger
}

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(ctx context.Context, cfg ProviderConfig, logger *logrus.Logger) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "claude") {
		model = defaultGeminiModel
	}
	return &GeminiProvider{
		client:  client,
		model:   model,
		timeout: cfg.Timeout,
		stream:  cfg.Stream,
		logger:  logger,
	}, nil
}

func (g *GeminiProvider) Name() string { return "gemini" }

func (g *GeminiProvider) config(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	return cfg
}

// Complete sends the prompt, streaming chunks to w when enabled.
func (g *GeminiProvider) Complete(ctx context.Context, req Request, w io.Writer) (string, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}

	var out strings.Builder
	if g.stream && w != nil {
		for chunk, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, g.config(req)) {
			if err != nil {
				return "", fmt.Errorf("Gemini stream failed: %w", err)
			}
			text := chunk.Text()
			out.WriteString(text)
			if _, err := io.WriteString(w, text); err != nil {
				return "", fmt.Errorf("failed to forward stream: %w", err)
			}
		}
	} else {
		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, g.config(req))
		if err != nil {
			return "", fmt.Errorf("Gemini generation failed: %w", err)
		}
		if resp != nil {
			for _, candidate := range resp.Candidates {
				if candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					out.WriteString(part.Text)
				}
				if out.Len() > 0 {
					break
				}
			}
		}
		if w != nil {
			_, _ = io.WriteString(w, out.String())
		}
	}

	if out.Len() == 0 {
		return "", fmt.Errorf("no response generated from Gemini API")
	}
	g.logger.WithFields(logrus.Fields{
		"model":           g.model,
		"response_length": out.Len(),
	}).Debug("Gemini completion finished")
	return out.String(), nil
}
