package annotation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/itsneelabh/ordregistry/core"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"

	capabilitySystemPrompt = "You evaluate capabilities in a resource registry. " +
		"Reply with a single JSON object and nothing else."
	resourceSystemPrompt = "You evaluate resources in a resource registry for utilization and optimization. " +
		"Reply with a single JSON object and nothing else."
)

// OpenAIProvider annotates items through an OpenAI-compatible chat
// completions endpoint.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     core.Logger
	telemetry  core.Telemetry
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) { p.httpClient = c }
}

// WithProviderLogger sets the logger.
func WithProviderLogger(l core.Logger) OpenAIOption {
	return func(p *OpenAIProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithProviderTelemetry sets the telemetry used for request spans.
func WithProviderTelemetry(t core.Telemetry) OpenAIOption {
	return func(p *OpenAIProvider) {
		if t != nil {
			p.telemetry = t
		}
	}
}

// NewOpenAIProvider creates a provider. Empty baseURL and model fall back to
// the public OpenAI endpoint and gpt-4o-mini.
func NewOpenAIProvider(apiKey, baseURL, model string, opts ...OpenAIOption) *OpenAIProvider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	p := &OpenAIProvider{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     &core.NoOpLogger{},
		telemetry:  &core.NoOpTelemetry{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// insightPayload is the JSON object the model is asked to return.
type insightPayload struct {
	RelevanceScore          *float64 `json:"relevance_score"`
	OptimizationSuggestions []string `json:"optimization_suggestions"`
	UsagePatterns           string   `json:"usage_patterns"`
	RecommendedUsage        string   `json:"recommended_usage"`

	UtilizationScore      *float64 `json:"utilization_score"`
	OptimizationPotential string   `json:"optimization_potential"`
	RecommendedActions    []string `json:"recommended_actions"`
}

// Annotate asks the model for insights on req.
func (p *OpenAIProvider) Annotate(ctx context.Context, req Request) (Insights, error) {
	ctx, span := p.telemetry.StartSpan(ctx, "annotation.openai")
	defer span.End()
	span.SetAttribute("annotation.subject", string(req.Subject))
	span.SetAttribute("annotation.model", p.model)

	if p.apiKey == "" {
		return Insights{}, fmt.Errorf("openai api key not configured: %w", core.ErrMissingConfiguration)
	}

	system, prompt, err := buildPrompt(req)
	if err != nil {
		span.RecordError(err)
		return Insights{}, err
	}

	body, err := json.Marshal(chatRequest{
		Model:       p.model,
		Messages:    []chatMessage{{Role: "system", Content: system}, {Role: "user", Content: prompt}},
		Temperature: 0.3,
	})
	if err != nil {
		return Insights{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Insights{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		p.logger.Warn("Annotation request failed", map[string]interface{}{
			"operation": "annotation_request",
			"subject":   string(req.Subject),
			"error":     err.Error(),
			"phase":     "request_execution",
		})
		return Insights{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Insights{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("annotation endpoint returned status %d", resp.StatusCode)
		span.RecordError(err)
		span.SetAttribute("http.status_code", resp.StatusCode)
		p.logger.Warn("Annotation request failed", map[string]interface{}{
			"operation":   "annotation_request",
			"subject":     string(req.Subject),
			"status_code": resp.StatusCode,
			"phase":       "api_response",
		})
		return Insights{}, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Insights{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Insights{}, fmt.Errorf("no choices in annotation response")
	}

	insights, err := decodeInsights(req.Subject, parsed.Choices[0].Message.Content)
	if err != nil {
		span.RecordError(err)
		return Insights{}, err
	}

	p.logger.Debug("Annotation received", map[string]interface{}{
		"operation":   "annotation_request",
		"subject":     string(req.Subject),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return insights, nil
}

func buildPrompt(req Request) (system, prompt string, err error) {
	subject, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal annotation request: %w", err)
	}
	switch req.Subject {
	case SubjectCapability:
		return capabilitySystemPrompt, fmt.Sprintf(`Analyze this capability and its providers:

%s

Return JSON with: relevance_score (0-1), optimization_suggestions (array of strings), usage_patterns, recommended_usage`, subject), nil
	case SubjectResource:
		return resourceSystemPrompt, fmt.Sprintf(`Analyze this resource and provide insights:

%s

Return JSON with: utilization_score (0-1), optimization_potential (low/medium/high), recommended_actions (array of strings)`, subject), nil
	default:
		return "", "", fmt.Errorf("unknown annotation subject %q", req.Subject)
	}
}

// decodeInsights parses the model reply, tolerating a fenced code block
// around the JSON object.
func decodeInsights(subject Subject, content string) (Insights, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}

	var payload insightPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return Insights{}, fmt.Errorf("annotation reply is not JSON: %w", err)
	}

	switch subject {
	case SubjectCapability:
		ci := DefaultCapabilityInsights()
		if payload.RelevanceScore != nil {
			ci.RelevanceScore = clamp01(*payload.RelevanceScore)
		}
		if payload.OptimizationSuggestions != nil {
			ci.OptimizationSuggestions = payload.OptimizationSuggestions
		}
		if payload.UsagePatterns != "" {
			ci.UsagePatterns = payload.UsagePatterns
		}
		ci.RecommendedUsage = payload.RecommendedUsage
		return Insights{Capability: &ci}, nil
	default:
		ri := DefaultResourceInsights()
		if payload.UtilizationScore != nil {
			ri.UtilizationScore = clamp01(*payload.UtilizationScore)
		}
		if payload.OptimizationPotential != "" {
			ri.OptimizationPotential = payload.OptimizationPotential
		}
		if payload.RecommendedActions != nil {
			ri.RecommendedActions = payload.RecommendedActions
		}
		return Insights{Resource: &ri}, nil
	}
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
