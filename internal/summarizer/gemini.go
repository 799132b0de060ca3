package summarizer

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini 调用 Gemini generateContent 生成晨报
type Gemini struct {
	client   *genai.Client
	model    string
	detailed bool
	now      func() time.Time
	loc      *time.Location
}

// GeminiOptions BaseURL 仅用于测试替换
type GeminiOptions struct {
	APIKey   string
	Model    string
	Detailed bool
	Location *time.Location
	BaseURL  string
}

func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if opts.Model == "" {
		opts.Model = defaultGeminiModel
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	cc := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Gemini{
		client:   client,
		model:    opts.Model,
		detailed: opts.Detailed,
		now:      time.Now,
		loc:      opts.Location,
	}, nil
}

func (g *Gemini) Summarize(ctx context.Context, text string) (string, error) {
	date := g.now().In(g.loc).Format("2006-01-02")

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(text),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(Instruction(g.detailed, date), genai.RoleUser),
			Temperature:       genai.Ptr[float32](0.3),
		},
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	summary := cleanSummary(resp.Text())
	if summary == "" {
		return "", ErrEmptySummary
	}
	return summary, nil
}
