package infer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/harborline/manifest-cli/internal/model"
	"github.com/harborline/manifest-cli/internal/resilience"
	"github.com/harborline/manifest-cli/pkg/anthropic"
)

// AnthropicInferrer implements Inferrer against the Anthropic API. All headers
// for a manifest go out in a single request so the model sees the full column
// context, and the catalog system prompt is cached across manifests.
type AnthropicInferrer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
	breaker   *resilience.Breaker
}

// Option configures an AnthropicInferrer.
type Option func(*AnthropicInferrer)

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(a *AnthropicInferrer) {
		a.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry overrides the default retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(a *AnthropicInferrer) {
		a.retry = cfg
	}
}

// NewAnthropicInferrer creates an inferrer backed by the given client.
func NewAnthropicInferrer(client anthropic.Client, modelID string, maxTokens int64, opts ...Option) *AnthropicInferrer {
	a := &AnthropicInferrer{
		client:    client,
		model:     modelID,
		maxTokens: maxTokens,
		limiter:   rate.NewLimiter(2, 4),
		retry:     resilience.DefaultRetryConfig(),
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			OnStateChange: func(from, to resilience.BreakerState) {
				zap.L().Warn("inference breaker state change",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.retry.OnRetry == nil {
		a.retry.OnRetry = resilience.RetryLogger("anthropic", "infer_headers")
	}
	return a
}

// InferHeaders sends one request covering every unresolved header and parses
// the model's proposed mappings. Returns ErrBreakerOpen without calling the
// API when recent calls have been failing.
func (a *AnthropicInferrer) InferHeaders(ctx context.Context, req Request) (*Result, error) {
	if len(req.Headers) == 0 {
		return &Result{}, nil
	}
	if req.Catalog == nil {
		return nil, eris.New("infer: nil catalog")
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "infer: rate limit wait")
	}

	msgReq := anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt(req.Catalog)),
		Messages: []anthropic.Message{
			{Role: "user", Content: userPrompt(req)},
		},
	}

	resp, err := resilience.ExecuteVal(ctx, a.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return a.client.CreateMessage(ctx, msgReq)
		})
	})
	if err != nil {
		return nil, err
	}

	resp.Usage.LogCost(a.model, "translator")

	result, err := parseResult(resp.Text(), req)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func systemPrompt(catalog *model.FieldCatalog) string {
	var sb strings.Builder
	sb.WriteString("You map column headers from freight forwarder shipment manifests to a canonical schema.\n")
	sb.WriteString("Respond with JSON only, no prose. Schema fields:\n\n")
	for _, f := range catalog.Fields {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", f.Name, f.Type, f.Description)
	}
	sb.WriteString("\nRespond as:\n")
	sb.WriteString(`{"forwarder_guess":"<carrier or forwarder name, or empty>","mappings":[{"source_header":"...","canonical_field":"<field or null>","confidence":0.0,"reasoning":"..."}]}`)
	sb.WriteString("\nConfidence is your calibrated probability the mapping is correct. Use null for headers with no plausible canonical field.")
	return sb.String()
}

func userPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("Map these headers. Sample values follow each header.\n\n")
	for _, h := range req.Headers {
		fmt.Fprintf(&sb, "header: %q\n", h)
		if samples := req.Samples[h]; len(samples) > 0 {
			fmt.Fprintf(&sb, "samples: %s\n", strings.Join(samples, " | "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

type wireResult struct {
	ForwarderGuess string `json:"forwarder_guess"`
	Mappings       []struct {
		SourceHeader   string  `json:"source_header"`
		CanonicalField *string `json:"canonical_field"`
		Confidence     float64 `json:"confidence"`
		Reasoning      string  `json:"reasoning"`
	} `json:"mappings"`
}

// parseResult decodes the model response and drops anything that does not
// line up with the request: unknown headers, fields outside the catalog,
// out-of-range confidences.
func parseResult(text string, req Request) (*Result, error) {
	cleaned := cleanJSON(text)

	var raw wireResult
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, eris.Wrap(err, "infer: parse response")
	}

	requested := make(map[string]bool, len(req.Headers))
	for _, h := range req.Headers {
		requested[h] = true
	}

	result := &Result{ForwarderGuess: raw.ForwarderGuess}
	for _, m := range raw.Mappings {
		if !requested[m.SourceHeader] {
			zap.L().Debug("dropping candidate for unrequested header",
				zap.String("source_header", m.SourceHeader))
			continue
		}

		c := Candidate{
			SourceHeader: m.SourceHeader,
			Confidence:   clamp01(m.Confidence),
			Reasoning:    m.Reasoning,
		}
		if m.CanonicalField != nil && *m.CanonicalField != "" {
			if !req.Catalog.Has(*m.CanonicalField) {
				zap.L().Debug("dropping candidate outside catalog",
					zap.String("source_header", m.SourceHeader),
					zap.String("canonical_field", *m.CanonicalField))
				continue
			}
			c.CanonicalField = *m.CanonicalField
		}
		result.Candidates = append(result.Candidates, c)
	}

	return result, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// cleanJSON strips markdown fences and extracts the JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
