package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// recognizePrompt asks for a plain transcription. Classification
// happens locally; the model only has to read the text off the image.
const recognizePrompt = `You are reading a fiscal receipt (nota fiscal). Transcribe ALL text visible in the image, preserving digits exactly as printed. The document language is %s.

Return only the transcribed text. Do not summarize, do not translate, do not use markdown code blocks.`

var languageNames = map[string]string{
	"por": "Portuguese",
	"eng": "English",
	"spa": "Spanish",
}

// Gemini implements TextRecognizer using Google Gemini.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a Gemini-backed text recognizer.
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// Recognize transcribes the text on a receipt image.
func (g *Gemini) Recognize(ctx context.Context, data []byte, language string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	languageName, ok := languageNames[language]
	if !ok {
		languageName = language
	}

	parts := []genai.Part{
		genai.ImageData("jpeg", data),
		genai.Text(fmt.Sprintf(recognizePrompt, languageName)),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	// Strip markdown fences the model sometimes adds anyway.
	text := strings.TrimSpace(responseText.String())
	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	return strings.TrimSpace(text), nil
}

// Close closes the Gemini client.
func (g *Gemini) Close() error {
	return g.client.Close()
}
