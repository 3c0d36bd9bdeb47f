// Package gemini wraps the Gemini API for receipt extraction and free-text reasoning.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/dvloznov/receipt-assistant/internal/domain"
)

const (
	// DefaultModelName is the default Gemini model for both extraction and reasoning.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultTimeout bounds every model call.
	DefaultTimeout = 60 * time.Second
)

// ErrMissingAPIKey is returned by New when no API key is configured.
var ErrMissingAPIKey = errors.New("gemini: API key is not configured")

// contentGenerator is the subset of genai.Models used by Client.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Config configures a Client.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls Gemini. It is safe for concurrent use.
type Client struct {
	models  contentGenerator
	model   string
	timeout time.Duration
}

// New creates a Gemini API client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini.New: create genai client: %w", err)
	}

	return newWithGenerator(gc.Models, cfg), nil
}

func newWithGenerator(models contentGenerator, cfg Config) *Client {
	c := &Client{
		models:  models,
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
	if c.model == "" {
		c.model = DefaultModelName
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	return c
}

// Extraction is the untrusted output of a receipt extraction call.
type Extraction struct {
	RawText string         `json:"raw_text"`
	Fields  map[string]any `json:"fields"`
}

// ExtractReceipt sends a receipt image to the model and returns its transcription
// and best-effort structured fields. Failures wrap domain.ErrExternalService.
func (c *Client) ExtractReceipt(ctx context.Context, image []byte, mimeType string) (*Extraction, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("ExtractReceipt: empty image")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(extractionPrompt),
			genai.NewPartFromBytes(image, mimeType),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}

	text, err := c.generate(ctx, contents, config)
	if err != nil {
		return nil, fmt.Errorf("ExtractReceipt: %w", err)
	}

	return decodeExtraction(text)
}

// Complete answers prompt, grounding the model on the JSON-encoded context.
// Failures wrap domain.ErrExternalService.
func (c *Client) Complete(ctx context.Context, prompt string, data map[string]any) (string, error) {
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("Complete: encoding context: %w", err)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt+"\n\nData:\n"+string(payload), genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(analystInstruction, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.3),
	}

	text, err := c.generate(ctx, contents, config)
	if err != nil {
		return "", fmt.Errorf("Complete: %w", err)
	}
	return text, nil
}

func (c *Client) generate(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w: %w", domain.ErrExternalService, err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from model: %w", domain.ErrExternalService)
	}
	return text, nil
}

// decodeExtraction accepts either {raw_text, fields} or a bare field object.
func decodeExtraction(text string) (*Extraction, error) {
	clean := cleanModelJSON(text)

	var obj map[string]any
	if err := json.Unmarshal([]byte(clean), &obj); err != nil {
		return nil, fmt.Errorf("decodeExtraction: unmarshal JSON: %w: %w", domain.ErrExternalService, err)
	}

	out := &Extraction{Fields: map[string]any{}}
	if raw, ok := obj["raw_text"].(string); ok {
		out.RawText = raw
	}
	if fields, ok := obj["fields"].(map[string]any); ok {
		out.Fields = fields
		return out, nil
	}

	// The model skipped the envelope; treat everything else as fields.
	for k, v := range obj {
		if k != "raw_text" {
			out.Fields[k] = v
		}
	}
	return out, nil
}
