package llm

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"
)

const defaultClaudeModel = "claude-sonnet-4-5"

// ClaudeProvider calls the Anthropic Messages API.
type ClaudeProvider struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	stream  bool
	logger  *logrus.Logger
}

// NewClaudeProvider creates a Claude provider.
func NewClaudeProvider(cfg ProviderConfig, logger *logrus.Logger) *ClaudeProvider {
	model := cfg.Model
	if model == "" {
		model = defaultClaudeModel
	}
	return &ClaudeProvider{
		client:  anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   model,
		timeout: cfg.Timeout,
		stream:  cfg.Stream,
		logger:  logger,
	}
}

func (c *ClaudeProvider) Name() string { return "claude" }

func (c *ClaudeProvider) params(req Request) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

// Complete sends the prompt. With streaming enabled and a writer given,
// text deltas are forwarded as they arrive.
func (c *ClaudeProvider) Complete(ctx context.Context, req Request, w io.Writer) (string, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var text string
	var err error
	if c.stream && w != nil {
		text, err = c.completeStream(ctx, req, w)
	} else {
		text, err = c.completeOnce(ctx, req)
		if err == nil && w != nil {
			_, _ = io.WriteString(w, text)
		}
	}
	if err != nil {
		return "", err
	}

	c.logger.WithFields(logrus.Fields{
		"model":           c.model,
		"response_length": len(text),
		"duration":        time.Since(start),
	}).Debug("Claude completion finished")
	return text, nil
}

func (c *ClaudeProvider) completeOnce(ctx context.Context, req Request) (string, error) {
	resp, err := c.client.Messages.New(ctx, c.params(req))
	if err != nil {
		return "", fmt.Errorf("Claude API call failed: %w", err)
	}
	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("no response generated from Claude API")
	}
	return out.String(), nil
}

func (c *ClaudeProvider) completeStream(ctx context.Context, req Request, w io.Writer) (string, error) {
	stream := c.client.Messages.NewStreaming(ctx, c.params(req))
	defer stream.Close()

	var out strings.Builder
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				out.WriteString(delta.Text)
				if _, err := io.WriteString(w, delta.Text); err != nil {
					return "", fmt.Errorf("failed to forward stream: %w", err)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("Claude stream failed: %w", err)
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("no response generated from Claude API")
	}
	return out.String(), nil
}
