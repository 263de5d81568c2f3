// Package genai scores conflicts with a Gemini model. It is optional:
// resolution falls back to the deterministic heuristic scorer whenever
// this scorer errors, so a flaky or unconfigured model never blocks a run.
package genai

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	sdk "google.golang.org/genai"

	"github.com/agentpress/syncbridge/pkg/errors"
	"github.com/agentpress/syncbridge/pkg/logging"
	"github.com/agentpress/syncbridge/pkg/resolver"
)

// Defaults.
const (
	DefaultModel   = "gemini-2.0-flash"
	DefaultTimeout = 10 * time.Second
)

// Config holds Gemini scorer settings.
type Config struct {
	// APIKey authenticates against the Gemini API.
	APIKey string

	// Model names the model to score with. Empty uses DefaultModel.
	Model string

	// Timeout bounds each scoring call.
	Timeout time.Duration
}

// Scorer asks a Gemini model how confident it is that a conflict's
// recommended strategy picks the semantically right value.
type Scorer struct {
	client  *sdk.Client
	model   string
	timeout time.Duration
}

// New creates a Gemini-backed scorer.
func New(ctx context.Context, cfg Config) (*Scorer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini scorer requires an API key")
	}

	client, err := sdk.NewClient(ctx, &sdk.ClientConfig{
		Backend: sdk.BackendGeminiAPI,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Scorer{client: client, model: model, timeout: timeout}, nil
}

// Score implements resolver.Scorer.
func (s *Scorer) Score(ctx context.Context, c resolver.Conflict) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Models.GenerateContent(ctx, s.model, sdk.Text(prompt(c)), &sdk.GenerateContentConfig{
		Temperature: sdk.Ptr[float32](0),
	})
	if err != nil {
		return 0, fmt.Errorf("gemini scoring: %w", err)
	}

	score, err := parseScore(resp.Text())
	if err != nil {
		return 0, err
	}

	logging.Ctx(ctx).Debug().
		Str("path", c.Path).
		Float64("confidence", score).
		Msg("gemini conflict score")
	return score, nil
}

// prompt renders the conflict for the model. The model sees values and
// stamps, never store credentials or entity internals beyond the field.
func prompt(c resolver.Conflict) string {
	var b strings.Builder
	b.WriteString("Two systems disagree about one field of a shared record.\n")
	fmt.Fprintf(&b, "Field path: %s (severity %s)\n", c.Path, c.Severity)
	fmt.Fprintf(&b, "Registry value: %s (modified %s)\n", c.RegistryValue.String(), c.RegistryStamp)
	fmt.Fprintf(&b, "Agent store value: %s (modified %s)\n", c.AgentValue.String(), c.AgentStamp)
	fmt.Fprintf(&b, "Proposed resolution strategy: %s\n", c.RecommendedStrategy)
	b.WriteString("Reply with only a number between 0 and 1: the confidence that applying the proposed strategy produces the correct value.")
	return b.String()
}

// parseScore extracts the numeric confidence from the model reply.
func parseScore(text string) (float64, error) {
	text = strings.TrimSpace(text)
	// Tolerate replies like "0.85\n" or "Confidence: 0.85".
	if i := strings.LastIndexAny(text, " :"); i >= 0 {
		text = strings.TrimSpace(text[i+1:])
	}
	score, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable confidence %q: %w", text, err)
	}
	if score < 0 || score > 1 {
		return 0, fmt.Errorf("confidence %v outside [0,1]", score)
	}
	return score, nil
}

var _ resolver.Scorer = (*Scorer)(nil)
