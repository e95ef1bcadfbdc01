package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/intent"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/genai"
)

type recordedCall struct {
	model    string
	contents []*genai.Content
	cfg      *genai.GenerateContentConfig
}

func fakeGenerate(reply string, err error, calls *[]recordedCall) generateFunc {
	return func(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		*calls = append(*calls, recordedCall{model: model, contents: contents, cfg: cfg})
		if err != nil {
			return nil, err
		}
		return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(reply, genai.RoleModel)},
		}}, nil
	}
}

func TestGeminiExtract(t *testing.T) {
	t.Parallel()
	var calls []recordedCall
	g := newGemini(Config{}, fakeGenerate("```json\n{\"task_type\":\"query_vehicle\",\"entities\":{\"license_plate\":\"MH01AB1234\"}}\n```", nil, &calls), nil)

	history := []domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "Hello! How can I help?"},
	}
	got, err := g.Extract(context.Background(), "details of truck MH01AB1234", history)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got.Intent != "query_vehicle" || got.Entities["license_plate"] != "MH01AB1234" {
		t.Errorf("extraction = %+v", got)
	}

	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	call := calls[0]
	if call.model != DefaultModel {
		t.Errorf("model = %q", call.model)
	}
	if call.cfg.ResponseMIMEType != "application/json" {
		t.Errorf("ResponseMIMEType = %q", call.cfg.ResponseMIMEType)
	}
	schema := call.cfg.ResponseSchema
	if schema == nil || schema.Type != genai.TypeObject {
		t.Fatalf("ResponseSchema = %+v, want an object schema", schema)
	}
	task := schema.Properties["task_type"]
	if task == nil || task.Type != genai.TypeString {
		t.Fatalf("task_type schema = %+v", task)
	}
	if diff := cmp.Diff(taskTypes(), task.Enum); diff != "" {
		t.Errorf("task_type enum mismatch (-want +got):\n%s", diff)
	}
	if ent := schema.Properties["entities"]; ent == nil || ent.Type != genai.TypeObject || ent.Properties["plate"] == nil {
		t.Errorf("entities schema = %+v", ent)
	}
	if len(call.contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(call.contents))
	}
	if call.contents[1].Role != string(genai.RoleModel) || call.contents[2].Role != string(genai.RoleUser) {
		t.Errorf("roles = %q, %q", call.contents[1].Role, call.contents[2].Role)
	}
	if got := call.contents[2].Parts[0].Text; got != "details of truck MH01AB1234" {
		t.Errorf("last content = %q", got)
	}
}

func TestGeminiExtractErrors(t *testing.T) {
	t.Parallel()
	var calls []recordedCall
	down := newGemini(Config{}, fakeGenerate("", errors.New("quota exceeded"), &calls), nil)
	if _, err := down.Extract(context.Background(), "start trip", nil); err == nil {
		t.Error("expected transport error")
	}

	prose := newGemini(Config{}, fakeGenerate("I think you want to start a trip.", nil, &calls), nil)
	if _, err := prose.Extract(context.Background(), "start trip", nil); err == nil {
		t.Error("expected parse error")
	}
}

func TestGeminiReply(t *testing.T) {
	t.Parallel()
	var calls []recordedCall
	g := newGemini(Config{Model: "gemini-test"}, fakeGenerate("  I can log trips and expenses.  ", nil, &calls), nil)

	got, err := g.Reply(context.Background(), "what can you do?", nil)
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if got != "I can log trips and expenses." {
		t.Errorf("reply = %q", got)
	}
	if calls[0].cfg.ResponseMIMEType != "" || calls[0].cfg.ResponseSchema != nil {
		t.Errorf("chat replies should not force JSON, got %q", calls[0].cfg.ResponseMIMEType)
	}

	empty := newGemini(Config{}, fakeGenerate("   ", nil, &calls), nil)
	if _, err := empty.Reply(context.Background(), "hm", nil); !errors.Is(err, errEmptyReply) {
		t.Errorf("err = %v, want errEmptyReply", err)
	}
}

func TestBuildContentsTrimsHistory(t *testing.T) {
	t.Parallel()
	var history []domain.Message
	for i := 0; i < 20; i++ {
		history = append(history, domain.Message{Role: domain.RoleUser, Content: "m"})
	}
	history = append(history, domain.Message{Role: domain.RoleAssistant, Content: ""})

	got := buildContents("now", history)
	if len(got) != maxHistory {
		t.Errorf("contents = %d, want %d", len(got), maxHistory)
	}
}

func TestPlannerPromptListsCatalog(t *testing.T) {
	t.Parallel()
	p := plannerPrompt()
	for _, l := range intent.Labels() {
		if !strings.Contains(p, string(l)) {
			t.Errorf("prompt is missing %q", l)
		}
	}
}

func TestExtractionSchemaCoversCatalog(t *testing.T) {
	t.Parallel()
	enum := extractionSchema().Properties["task_type"].Enum

	want := len(intent.Labels()) + 1
	if len(enum) != want {
		t.Fatalf("enum has %d labels, want %d", len(enum), want)
	}
	if enum[len(enum)-1] != string(intent.Chat) {
		t.Errorf("enum should end with chat, got %q", enum[len(enum)-1])
	}
	for _, id := range []string{"vehicle_id", "driver_id", "trip_id"} {
		if got := extractionSchema().Properties["entities"].Properties[id]; got == nil || got.Type != genai.TypeInteger {
			t.Errorf("%s schema = %+v, want integer", id, got)
		}
	}
}
