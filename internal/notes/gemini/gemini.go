// Package gemini implements a streaming notes.Summarizer backed by the
// Gemini API, grounded on the discord bot's non-streaming
// internal/summariser/gemini/gemini.go adapted to GenerateContentStream,
// and on the original implementation's summarizer/patch.rs for the
// prompt/patch-JSON contract.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/user/koe/internal/koetypes"
	"github.com/user/koe/internal/notes"
)

// Backend is a notes.Summarizer backed by the Gemini API.
type Backend struct {
	client *genai.Client
	model  string
}

// New creates a Backend using apiKey against the given model name.
func New(apiKey, model string) (*Backend, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, &koetypes.SummarizeError{Kind: koetypes.SummarizeAuthInvalid, Err: fmt.Errorf("gemini client: %w", err)}
	}
	return &Backend{client: client, model: model}, nil
}

func (b *Backend) Name() string { return "gemini" }

// Summarize streams the model's response as DraftToken events and emits
// exactly one terminal PatchReady event once the full text is parsed.
func (b *Backend) Summarize(ctx context.Context, recent []koetypes.TranscriptSegment, current *koetypes.MeetingNotes, contextText string, participants []string) (<-chan notes.SummarizerEvent, error) {
	prompt := notes.BuildPrompt(recent, current, contextText, participants)

	genModel := b.client.GenerativeModel(b.model)
	iter := genModel.GenerateContentStream(ctx, genai.Text(prompt))

	out := make(chan notes.SummarizerEvent, 8)
	go func() {
		defer close(out)

		var full strings.Builder
		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				// Stream ends with no PatchReady; the engine's cycle treats
				// that the same as a backend that produced nothing this
				// round.
				return
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					text, ok := part.(genai.Text)
					if !ok {
						continue
					}
					full.WriteString(string(text))
					select {
					case out <- notes.SummarizerEvent{Kind: notes.DraftToken, Token: string(text)}:
					case <-ctx.Done():
						return
					}
				}
			}
		}

		patch, err := notes.ParsePatch(full.String())
		if err != nil {
			return
		}
		select {
		case out <- notes.SummarizerEvent{Kind: notes.PatchReady, Patch: patch}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

func (b *Backend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}
