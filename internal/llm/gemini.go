// Package llm adapts Google's Gemini API to the extractor and chat contracts.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/extract"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/intent"
	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// maxHistory bounds the conversation turns sent with each request.
const maxHistory = 8

var errEmptyReply = errors.New("model returned an empty reply")

// generateFunc matches genai's Models.GenerateContent.
type generateFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// Config holds configuration for the Gemini adapter.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Gemini implements extract.Backend and the pipeline's chat responder.
type Gemini struct {
	model    string
	timeout  time.Duration
	generate generateFunc
	logger   *slog.Logger
}

// NewGemini creates a Gemini client.
func NewGemini(ctx context.Context, cfg Config, logger *slog.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newGemini(cfg, client.Models.GenerateContent, logger), nil
}

func newGemini(cfg Config, generate generateFunc, logger *slog.Logger) *Gemini {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Gemini{model: cfg.Model, timeout: cfg.Timeout, generate: generate, logger: logger}
}

// Name implements extract.Backend.
func (g *Gemini) Name() string { return "gemini" }

// Extract asks the model for a JSON intent and entity mapping.
func (g *Gemini) Extract(ctx context.Context, text string, history []domain.Message) (extract.Extraction, error) {
	raw, err := g.call(ctx, plannerPrompt(), text, history, true)
	if err != nil {
		return extract.Extraction{}, err
	}
	return extract.ParseModelOutput(raw)
}

// Reply produces a short conversational answer.
func (g *Gemini) Reply(ctx context.Context, text string, history []domain.Message) (string, error) {
	raw, err := g.call(ctx, chatPrompt, text, history, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

func (g *Gemini) call(ctx context.Context, system, text string, history []domain.Message, jsonOut bool) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
	}
	if jsonOut {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = extractionSchema()
	}

	start := time.Now()
	resp, err := g.generate(ctx, g.model, buildContents(text, history), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	out := resp.Text()
	g.logger.Debug("Gemini call completed", "model", g.model, "json", jsonOut, "duration", time.Since(start))
	if strings.TrimSpace(out) == "" {
		return "", errEmptyReply
	}
	return out, nil
}

// buildContents maps the recent history onto user/model turns and appends the new message.
func buildContents(text string, history []domain.Message) []*genai.Content {
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		var role genai.Role = genai.RoleUser
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return append(contents, genai.NewContentFromText(text, genai.RoleUser))
}

// entityKeys are the fields the model may return, with their JSON types.
var entityKeys = []struct {
	name string
	typ  genai.Type
}{
	{"company_name", genai.TypeString}, {"business_address", genai.TypeString}, {"contact_email", genai.TypeString},
	{"owner_id", genai.TypeInteger}, {"full_name", genai.TypeString}, {"email", genai.TypeString},
	{"phone_number", genai.TypeString}, {"role", genai.TypeString}, {"plate", genai.TypeString},
	{"capacity_kg", genai.TypeNumber}, {"vehicle_type", genai.TypeString}, {"driver_id", genai.TypeInteger},
	{"driver_name", genai.TypeString}, {"vehicle_id", genai.TypeInteger}, {"trip_id", genai.TypeInteger},
	{"customer_id", genai.TypeInteger}, {"customer_name", genai.TypeString}, {"load_id", genai.TypeInteger},
	{"pickup_address", genai.TypeString}, {"destination_address", genai.TypeString}, {"weight_kg", genai.TypeNumber},
	{"amount", genai.TypeNumber}, {"expense_type", genai.TypeString}, {"description", genai.TypeString},
	{"latitude", genai.TypeNumber}, {"longitude", genai.TypeNumber}, {"target_type", genai.TypeString},
	{"target_id", genai.TypeInteger}, {"field", genai.TypeString}, {"value", genai.TypeString},
}

// taskTypes is the closed label set the model chooses from.
func taskTypes() []string {
	labels := intent.Labels()
	names := make([]string, 0, len(labels)+1)
	for _, l := range labels {
		names = append(names, string(l))
	}
	return append(names, string(intent.Chat))
}

// extractionSchema constrains planner output to {task_type, entities}, with task_type
// limited to the catalog labels.
func extractionSchema() *genai.Schema {
	props := make(map[string]*genai.Schema, len(entityKeys))
	order := make([]string, 0, len(entityKeys))
	for _, k := range entityKeys {
		props[k.name] = &genai.Schema{Type: k.typ}
		order = append(order, k.name)
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"task_type": {Type: genai.TypeString, Format: "enum", Enum: taskTypes()},
			"entities":  {Type: genai.TypeObject, Properties: props, PropertyOrdering: order},
		},
		Required:         []string{"task_type", "entities"},
		PropertyOrdering: []string{"task_type", "entities"},
	}
}

func plannerPrompt() string {
	keys := make([]string, 0, len(entityKeys))
	for _, k := range entityKeys {
		keys = append(keys, k.name)
	}

	var b strings.Builder
	b.WriteString("You classify messages for a logistics operations assistant. Do not perform any action.\n")
	b.WriteString("Reply with raw JSON only: {\"task_type\": string, \"entities\": {flat key: value}}.\n")
	b.WriteString("task_type must be one of: " + strings.Join(taskTypes(), ", ") + ".\n")
	b.WriteString("Use these entity keys when they apply: " + strings.Join(keys, ", ") + ".\n")
	b.WriteString("Only include a *_id when the user states the number. When a name, phone, email or plate " +
		"stands in for a record, return it as a hint field (driver_name, plate) and leave the id out.\n")
	b.WriteString("Omit fields the user did not give. Never invent values.\n")
	b.WriteString("A single-field change to an existing record (\"set vehicle 3 status maintenance\") is update_record.\n")
	b.WriteString("Amounts and weights are plain numbers without currency symbols or units.\n")
	b.WriteString("Greetings and small talk are chat with empty entities.")
	return b.String()
}

const chatPrompt = "You are the conversational side of a logistics operations assistant covering owners, " +
	"drivers, vehicles, trips, loads and expenses. Answer in two to five short sentences without markdown, " +
	"tables or emojis. Never claim to have saved or changed records and never invent ids, plates, emails or names. " +
	"Reply in the user's language and script. If asked what you can do, list the operations briefly."
