package llm

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"studygroup-assistant/ratelimit"
	"studygroup-assistant/report"
)

// PlannerOptions tune how the report is sent.
type PlannerOptions struct {
	System      string
	ChunkTokens int
	MaxTokens   int
	Temperature float64
	// Limiter paces provider requests; nil sends them unpaced.
	Limiter *ratelimit.RateLimiter
}

// Planner asks a provider for a study plan based on a report.
type Planner struct {
	provider Provider
	opts     PlannerOptions
	logger   *logrus.Logger
}

// NewPlanner creates a planner.
func NewPlanner(p Provider, opts PlannerOptions, logger *logrus.Logger) *Planner {
	if opts.ChunkTokens <= 0 {
		opts.ChunkTokens = 6000
	}
	return &Planner{provider: p, opts: opts, logger: logger}
}

// Plan answers query about reportText. Reports too large for one request
// are summarised part by part first; only the final answer is streamed to w.
func (p *Planner) Plan(ctx context.Context, reportText, query string, w io.Writer) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("query is required")
	}

	chunks := Chunk(reportText, p.opts.ChunkTokens)
	p.logger.WithFields(logrus.Fields{
		"provider": p.provider.Name(),
		"chunks":   len(chunks),
		"tokens":   report.EstimateTokens(reportText),
	}).Info("Querying LLM")

	if len(chunks) <= 1 {
		return p.complete(ctx, p.request(planPrompt(query, reportText)), w)
	}

	notes := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		if w != nil {
			fmt.Fprintf(w, "Reading report part %d/%d...\n", i+1, len(chunks))
		}
		note, err := p.complete(ctx, p.request(notesPrompt(query, chunk, i+1, len(chunks))), nil)
		if err != nil {
			return "", fmt.Errorf("failed to summarise part %d: %w", i+1, err)
		}
		notes = append(notes, note)
	}
	if w != nil {
		io.WriteString(w, "\n")
	}

	return p.complete(ctx, p.request(planPrompt(query, strings.Join(notes, "\n\n"))), w)
}

func (p *Planner) complete(ctx context.Context, req Request, w io.Writer) (string, error) {
	if p.opts.Limiter != nil {
		if err := p.opts.Limiter.WaitForPermission(ctx, ratelimit.ActionLLM); err != nil {
			return "", err
		}
	}
	return p.provider.Complete(ctx, req, w)
}

func (p *Planner) request(prompt string) Request {
	return Request{
		System:      p.opts.System,
		Prompt:      prompt,
		MaxTokens:   p.opts.MaxTokens,
		Temperature: p.opts.Temperature,
	}
}

func planPrompt(query, body string) string {
	return query + "\n\n" + body
}

func notesPrompt(query, chunk string, n, total int) string {
	return fmt.Sprintf("This is part %d of %d of a study group report. Extract the facts needed to answer: %q\nKeep every date, course and member name.\n\n%s", n, total, query, chunk)
}

// Chunk splits text on line boundaries into pieces of at most maxTokens
// estimated tokens. A single line longer than the limit is its own chunk.
func Chunk(text string, maxTokens int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if maxTokens <= 0 || report.EstimateTokens(text) <= maxTokens {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if cur.Len() > 0 && report.EstimateTokens(cur.String()+"\n"+line) > maxTokens {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n")
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}
