package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

// geminiModels is the slice of *genai.Models this package uses.
type geminiModels interface {
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Gemini streams from the Gemini API via google.golang.org/genai.
type Gemini struct {
	Model  string
	models geminiModels
}

// NewGemini builds a Gemini source authenticated with apiKey.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: missing API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Gemini{Model: model, models: client.Models}, nil
}

// toGeminiContents converts chat history; the assistant role is "model" in
// the Gemini API. Attachments are added as file parts of the last message.
func toGeminiContents(req Request) []*genai.Content {
	out := make([]*genai.Content, 0, len(req.History))
	for i, m := range req.History {
		role := genai.Role(genai.RoleUser)
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		parts := []*genai.Part{genai.NewPartFromText(m.Content)}
		if i == len(req.History)-1 {
			for _, a := range req.Attachments {
				mime := a.MimeType
				if mime == "" {
					mime = "application/octet-stream"
				}
				parts = append(parts, genai.NewPartFromURI(a.URL, mime))
			}
		}
		out = append(out, genai.NewContentFromParts(parts, role))
	}
	return out
}

// Stream implements Source.
func (g *Gemini) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	if len(req.History) == 0 {
		return nil, ErrEmptyHistory
	}
	model := req.Model
	if model == "" {
		model = g.Model
	}
	seq := g.models.GenerateContentStream(ctx, model, toGeminiContents(req), nil)

	out := make(chan Event)
	go func() {
		defer close(out)
		m := newMeter()
		var (
			images             []domain.ImageRef
			prompt, completion int
			chunks             int
		)
		for resp, err := range seq {
			if err != nil {
				if ctx.Err() == nil {
					emit(ctx, out, Fail(fmt.Errorf("gemini: %w", err)))
				}
				return
			}
			if resp == nil {
				continue
			}
			if u := resp.UsageMetadata; u != nil {
				prompt = int(u.PromptTokenCount)
				completion = int(u.CandidatesTokenCount)
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, p := range resp.Candidates[0].Content.Parts {
				switch {
				case p.Text != "":
					m.chunk()
					chunks++
					if !emit(ctx, out, Chunk(p.Text)) {
						return
					}
				case p.InlineData != nil:
					images = append(images, domain.ImageRef{
						URL:      "data:" + p.InlineData.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(p.InlineData.Data),
						MimeType: p.InlineData.MIMEType,
					})
				}
			}
		}
		if ctx.Err() != nil {
			return
		}
		if completion == 0 {
			completion = chunks
		}
		emit(ctx, out, Done(Result{Stats: m.stats(prompt, completion), Images: images}))
	}()
	return out, nil
}

var _ Source = (*Gemini)(nil)
