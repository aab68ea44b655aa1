package aireport

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/potholewatch/potholewatch/internal/conf"
	"github.com/potholewatch/potholewatch/internal/errors"
)

// DefaultModel is used when ai.model is empty.
const DefaultModel = "gemini-1.5-flash"

// Roles of a conversation turn.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Turn is one message of a conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"message"`
}

// Generator produces model text for a system prompt and a conversation.
type Generator interface {
	Generate(ctx context.Context, system string, turns []Turn) (string, error)
}

// ErrDisabled is returned by Disabled.
var ErrDisabled = errors.NewStd("AI assistant is disabled")

// Disabled is the generator used when no API key is configured.
type Disabled struct{}

// Generate always fails with ErrDisabled.
func (Disabled) Generate(context.Context, string, []Turn) (string, error) {
	return "", ErrDisabled
}

// GenAI generates text with the Gemini API.
type GenAI struct {
	client *genai.Client
	model  string
}

// NewGenAI creates a Gemini backed generator. httpClient may be nil.
func NewGenAI(ctx context.Context, settings *conf.AISettings, httpClient *http.Client) (*GenAI, error) {
	if settings.APIKey == "" {
		return nil, errors.Newf("AI API key is required").
			Component("aireport").
			Category(errors.CategoryConfiguration).
			Build()
	}
	model := settings.Model
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     settings.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, errors.New(err).
			Component("aireport").
			Category(errors.CategoryIntegration).
			Context("model", model).
			Build()
	}
	return &GenAI{client: client, model: model}, nil
}

// Generate sends the conversation and returns the concatenated text parts.
func (g *GenAI) Generate(ctx context.Context, system string, turns []Turn) (string, error) {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := genai.Role(genai.RoleUser)
		if t.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}

	var cfg *genai.GenerateContentConfig
	if system != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", errors.New(err).
			Component("aireport").
			Category(errors.CategoryIntegration).
			Context("model", g.model).
			Build()
	}
	return strings.TrimSpace(resp.Text()), nil
}
