//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/pipeline"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/session"
)

// fakeTurns records handled turns and answers with a canned reply.
type fakeTurns struct {
	mu       sync.Mutex
	turns    []session.Turn
	resets   []string
	reply    string
	status   pipeline.Status
	handleFn func(t session.Turn)
	err      error
	resetErr error
}

func (f *fakeTurns) Handle(_ context.Context, t session.Turn) (session.Outcome, error) {
	if f.handleFn != nil {
		f.handleFn(t)
	}
	f.mu.Lock()
	f.turns = append(f.turns, t)
	n := len(f.turns)
	f.mu.Unlock()

	status := f.status
	if status == "" {
		status = pipeline.StatusOK
	}
	return session.Outcome{
		TurnID: fmt.Sprintf("turn-%d", n),
		Key:    t.Key(),
		Response: pipeline.Response{
			Reply:      f.reply,
			Intent:     "vehicle_details",
			LastResult: &pipeline.Result{Status: status, Intent: "vehicle_details"},
		},
	}, f.err
}

func (f *fakeTurns) Reset(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, key)
	return f.resetErr
}

func (f *fakeTurns) handled() []session.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.Turn(nil), f.turns...)
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()

	Error(w, http.StatusBadRequest, "bad input")

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "bad input" {
		t.Errorf("error = %q", got["error"])
	}
}
