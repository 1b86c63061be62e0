// Package summarize produces human-readable text for consolidated gists.
package summarize

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/becomeliminal/avadhan/core"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// Summarizer turns a gist into a one-line description.
type Summarizer interface {
	Summarize(ctx context.Context, gist core.Gist) (string, error)
}

// Template builds the summary from provenance alone. It never fails.
type Template struct{}

// Summarize implements Summarizer.
func (Template) Summarize(_ context.Context, g core.Gist) (string, error) {
	thread := g.Provenance.ThreadID
	if thread == "" {
		thread = "slot " + g.Provenance.SlotID
	}
	if g.Provenance.Excerpt == "" {
		return fmt.Sprintf("%s (confidence %.2f)", thread, g.Confidence), nil
	}
	return fmt.Sprintf("%s: %s", thread, g.Provenance.Excerpt), nil
}

// Anthropic asks a Claude model for the summary.
type Anthropic struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	fallback  Summarizer
}

// Option configures the Anthropic summarizer.
type Option func(*Anthropic)

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(a *Anthropic) {
		if model != "" {
			a.model = model
		}
	}
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int64) Option {
	return func(a *Anthropic) {
		a.maxTokens = n
	}
}

// WithFallback sets the summarizer used when the model returns no text.
func WithFallback(s Summarizer) Option {
	return func(a *Anthropic) {
		a.fallback = s
	}
}

// NewAnthropic creates a summarizer. Request options (API key, base URL,
// retries) are passed through to the client.
func NewAnthropic(requestOpts []option.RequestOption, opts ...Option) *Anthropic {
	client := anthropic.NewClient(requestOpts...)
	a := &Anthropic{
		client:    &client,
		model:     DefaultModel,
		maxTokens: 128,
		fallback:  Template{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Summarize implements Summarizer.
func (a *Anthropic) Summarize(ctx context.Context, g core.Gist) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt(g))),
		},
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("summarize gist %s: %w", g.ID, err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		log.Printf("[SUMMARIZE] Empty response for gist %s, using fallback", g.ID)
		return a.fallback.Summarize(ctx, g)
	}
	return text, nil
}

func prompt(g core.Gist) string {
	var b strings.Builder
	b.WriteString("Summarize this working-memory thread in one short line (at most 12 words). Reply with the summary only.\n\n")
	if g.Provenance.ThreadID != "" {
		fmt.Fprintf(&b, "Thread: %s\n", g.Provenance.ThreadID)
	}
	if g.Provenance.Excerpt != "" {
		fmt.Fprintf(&b, "Latest text: %s\n", g.Provenance.Excerpt)
	}
	fmt.Fprintf(&b, "Current label: %s\n", g.Text)
	return b.String()
}
