package llm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studygroup-assistant/logger"
	"studygroup-assistant/ratelimit"
)

type fakeProvider struct {
	requests []Request
	reply    func(Request) (string, error)
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req Request, w io.Writer) (string, error) {
	f.requests = append(f.requests, req)
	out, err := f.reply(req)
	if err != nil {
		return "", err
	}
	if w != nil {
		io.WriteString(w, out)
	}
	return out, nil
}

func TestChunk(t *testing.T) {
	assert.Nil(t, Chunk("  \n", 10))
	assert.Equal(t, []string{"short"}, Chunk("short", 10))

	text := strings.Repeat("0123456789abcdef\n", 10)
	chunks := Chunk(strings.TrimSuffix(text, "\n"), 10)
	require.Len(t, chunks, 5)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c)/4, 10)
	}
	assert.Equal(t, strings.TrimSuffix(text, "\n"), strings.Join(chunks, "\n"))
}

func TestChunkLongLine(t *testing.T) {
	long := strings.Repeat("x", 100)
	chunks := Chunk("a\n"+long+"\nb", 5)
	assert.Equal(t, []string{"a", long, "b"}, chunks)
}

func TestPlanSingleRequest(t *testing.T) {
	fp := &fakeProvider{reply: func(r Request) (string, error) { return "plan", nil }}
	p := NewPlanner(fp, PlannerOptions{System: "sys", MaxTokens: 100, Temperature: 0.3}, logger.Discard())

	var buf bytes.Buffer
	out, err := p.Plan(context.Background(), "REPORT\nASSIGNMENTS:\nNone", "Plan my week", &buf)
	require.NoError(t, err)
	assert.Equal(t, "plan", out)
	assert.Equal(t, "plan", buf.String())

	require.Len(t, fp.requests, 1)
	assert.Equal(t, "sys", fp.requests[0].System)
	assert.Equal(t, 100, fp.requests[0].MaxTokens)
	assert.True(t, strings.HasPrefix(fp.requests[0].Prompt, "Plan my week\n\nREPORT"))
}

func TestPlanChunked(t *testing.T) {
	fp := &fakeProvider{reply: func(r Request) (string, error) {
		if strings.HasPrefix(r.Prompt, "This is part") {
			return "note", nil
		}
		return "final", nil
	}}
	p := NewPlanner(fp, PlannerOptions{ChunkTokens: 10}, logger.Discard())

	var buf bytes.Buffer
	out, err := p.Plan(context.Background(), strings.Repeat("0123456789abcdef\n", 6), "q", &buf)
	require.NoError(t, err)
	assert.Equal(t, "final", out)
	assert.Greater(t, len(fp.requests), 2)

	last := fp.requests[len(fp.requests)-1]
	assert.Contains(t, last.Prompt, "note\n\nnote")
	assert.Contains(t, buf.String(), "Reading report part 1/")
	assert.True(t, strings.HasSuffix(buf.String(), "final"))
	assert.NotContains(t, buf.String(), "note", "notes are not streamed")
}

func TestPlanErrors(t *testing.T) {
	fp := &fakeProvider{reply: func(r Request) (string, error) { return "", errors.New("rate limited") }}
	p := NewPlanner(fp, PlannerOptions{ChunkTokens: 10}, logger.Discard())

	_, err := p.Plan(context.Background(), "report", " ", nil)
	assert.EqualError(t, err, "query is required")

	_, err = p.Plan(context.Background(), strings.Repeat("0123456789abcdef\n", 6), "q", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "part 1")
}

func TestPlanCountsEveryRequestAgainstTheLimiter(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(ratelimit.Config{DailyLLM: 10}, logger.Discard())
	fp := &fakeProvider{reply: func(r Request) (string, error) { return "plan", nil }}
	p := NewPlanner(fp, PlannerOptions{Limiter: limiter}, logger.Discard())

	_, err := p.Plan(context.Background(), "REPORT", "q", nil)
	require.NoError(t, err)
	assert.Equal(t, 9, limiter.Remaining(ratelimit.ActionLLM))
	assert.Equal(t, 1, limiter.GetStats()["daily_llm"])
}

func TestPlanStopsAtDailyLLMLimit(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(ratelimit.Config{DailyLLM: 2}, logger.Discard())
	fp := &fakeProvider{reply: func(r Request) (string, error) { return "note", nil }}
	p := NewPlanner(fp, PlannerOptions{ChunkTokens: 10, Limiter: limiter}, logger.Discard())

	_, err := p.Plan(context.Background(), strings.Repeat("0123456789abcdef\n", 6), "q", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ratelimit.ErrDailyLimit)
	assert.Len(t, fp.requests, 2, "no request is sent once the quota is spent")
	assert.Equal(t, 0, limiter.Remaining(ratelimit.ActionLLM))
}

func TestNewProviderValidation(t *testing.T) {
	_, err := NewProvider(context.Background(), ProviderConfig{Provider: "claude"}, logger.Discard())
	assert.Error(t, err)

	_, err = NewProvider(context.Background(), ProviderConfig{Provider: "other", APIKey: "k"}, logger.Discard())
	assert.Error(t, err)

	p, err := NewProvider(context.Background(), ProviderConfig{Provider: "claude", APIKey: "k"}, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, "claude", p.Name())
}
