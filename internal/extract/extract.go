// Package extract turns free text into a normalized intent and a loose field mapping.
//
// Backends are tried in priority order (an LLM, a remote sidecar); the deterministic
// rule set always runs last, so extraction degrades to chat instead of failing.
package extract

import (
	"context"
	"errors"
	"log/slog"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/intent"
)

// ErrUnparseable is returned by backends whose output could not be decoded.
var ErrUnparseable = errors.New("unparseable extractor output")

// Extraction is the shared output contract of every backend.
type Extraction struct {
	Intent   intent.Label   `json:"intent"`
	Entities map[string]any `json:"entities"`
	// Source names the backend that produced the extraction.
	Source string `json:"source"`
	// Fallback is set when a preferred backend failed and a lower one answered.
	Fallback bool `json:"fallback,omitempty"`
}

// Backend is one extraction strategy.
type Backend interface {
	Name() string
	Extract(ctx context.Context, text string, history []domain.Message) (Extraction, error)
}

// Chain tries backends in order and finishes with the rule set.
type Chain struct {
	backends []Backend
	rules    *Rules
	logger   *slog.Logger
}

// NewChain builds a chain. The rule set is appended automatically.
func NewChain(logger *slog.Logger, backends ...Backend) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	var bs []Backend
	for _, b := range backends {
		if b != nil {
			bs = append(bs, b)
		}
	}
	return &Chain{backends: bs, rules: NewRules(), logger: logger}
}

// Extract never fails: backend errors and unknown labels fall through to the next backend.
func (c *Chain) Extract(ctx context.Context, text string, history []domain.Message) Extraction {
	failed := false
	for _, b := range c.backends {
		ex, err := b.Extract(ctx, text, history)
		if err != nil {
			failed = true
			c.logger.Warn("Extractor backend failed, falling back", "backend", b.Name(), "error", err)
			continue
		}
		ex = Normalize(ex)
		if ex.Intent == intent.Unknown {
			failed = true
			c.logger.Info("Extractor backend returned no known intent", "backend", b.Name())
			continue
		}
		ex.Source = b.Name()
		ex.Fallback = failed
		return ex
	}

	ex := Normalize(c.rules.Classify(text))
	ex.Fallback = failed
	return ex
}

// Normalize maps the label onto the catalog and canonicalises entity keys.
func Normalize(ex Extraction) Extraction {
	label, implies, known := intent.Normalize(string(ex.Intent))
	if !known {
		label = intent.Unknown
	}
	entities := make(map[string]any, len(ex.Entities)+len(implies))
	for k, v := range ex.Entities {
		entities[k] = v
	}
	for k, v := range implies {
		if _, ok := entities[k]; !ok {
			entities[k] = v
		}
	}
	ex.Intent = label
	ex.Entities = intent.NormalizeEntities(label, entities)
	return ex
}
