// Package llm adapts Gemini to the post-call pipeline: speech-to-text and the
// free-text classifier behind intent extraction.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"followup-caller/internal/apperr"

	"google.golang.org/genai"
)

const (
	DefaultTranscribeModel = "gemini-2.5-flash"
	DefaultClassifyModel   = "gemini-2.5-flash"

	maxAudioBytes = 20 << 20
)

var languageNames = map[string]string{
	"hi": "Hindi",
	"en": "English",
}

// generator is the subset of *genai.Models used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Config struct {
	APIKey          string
	TranscribeModel string
	ClassifyModel   string
}

// Gemini implements postcall.Transcriber and postcall.Classifier.
type Gemini struct {
	models          generator
	transcribeModel string
	classifyModel   string
}

func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create gemini client: %w", err)
	}
	return newGemini(client.Models, cfg), nil
}

func newGemini(models generator, cfg Config) *Gemini {
	g := &Gemini{models: models, transcribeModel: cfg.TranscribeModel, classifyModel: cfg.ClassifyModel}
	if g.transcribeModel == "" {
		g.transcribeModel = DefaultTranscribeModel
	}
	if g.classifyModel == "" {
		g.classifyModel = DefaultClassifyModel
	}
	return g
}

// Transcribe returns a verbatim transcript of audio in language (ISO 639-1).
func (g *Gemini) Transcribe(ctx context.Context, audio io.Reader, mimeType, language string) (string, error) {
	data, err := io.ReadAll(io.LimitReader(audio, maxAudioBytes+1))
	if err != nil {
		return "", apperr.TransientIO("read audio", err)
	}
	if len(data) == 0 {
		return "", apperr.Validation("empty audio")
	}
	if len(data) > maxAudioBytes {
		return "", apperr.Validation("audio exceeds inline size limit")
	}
	if mimeType == "" {
		mimeType = "audio/mpeg"
	}
	lang := languageNames[language]
	if lang == "" {
		lang = language
	}

	content := &genai.Content{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
			genai.NewPartFromText(fmt.Sprintf(
				"Transcribe this phone call recording in %s. Return only the transcript text, without speaker labels or commentary.", lang)),
		},
	}
	return g.generate(ctx, g.transcribeModel, content)
}

// Classify answers a free-text prompt deterministically.
func (g *Gemini) Classify(ctx context.Context, prompt string) (string, error) {
	content := &genai.Content{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{genai.NewPartFromText(prompt)},
	}
	return g.generate(ctx, g.classifyModel, content)
}

func (g *Gemini) generate(ctx context.Context, model string, content *genai.Content) (string, error) {
	resp, err := g.models.GenerateContent(ctx, model, []*genai.Content{content}, &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(0)),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", apperr.TransientIO("gemini request", err)
		}
		return "", apperr.Provider("gemini request", err)
	}
	if resp == nil {
		return "", apperr.Provider("gemini returned no response", nil)
	}
	return strings.TrimSpace(resp.Text()), nil
}
