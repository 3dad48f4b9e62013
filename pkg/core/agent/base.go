package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"csa-margin-engine/pkg/core/jsonx"
	"csa-margin-engine/pkg/core/llm"
	"csa-margin-engine/pkg/models"
)

// llmSemaphore is the single process-wide semaphore spec.md §4.2/§5
// requires: it bounds concurrent LLM calls across every agent and every
// batch, regardless of which agent instance issues the call. Grounded on
// original_source's BaseNormalizerAgent._api_semaphore class attribute,
// translated to golang.org/x/sync/semaphore (the teacher's go.sum already
// carries this package transitively; this repository is the first to
// import it directly — see SPEC_FULL.md DOMAIN STACK).
var (
	llmSemaphore     *semaphore.Weighted
	llmSemaphoreOnce sync.Once
	llmSemaphoreSize int64 = 10
)

// ConfigureConcurrency sets the process-wide LLM call bound. Call once at
// startup before any agent runs; later calls are no-ops once the semaphore
// has been created, matching the Python source's "initialize once" rule.
func ConfigureConcurrency(maxConcurrent int) {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	llmSemaphoreSize = int64(maxConcurrent)
}

func sharedSemaphore() *semaphore.Weighted {
	llmSemaphoreOnce.Do(func() {
		llmSemaphore = semaphore.NewWeighted(llmSemaphoreSize)
	})
	return llmSemaphore
}

// Base is embedded by every reasoning agent (Collateral, Temporal,
// Currency). It owns one agent instance's reasoning-chain buffer — never
// shared across agents or normalization runs (spec.md §4.2) — and routes
// LLM calls through the shared semaphore and the Manager's provider
// routing.
type Base struct {
	Name           string
	Manager        *Manager
	reasoningChain []models.ReasoningStep
}

// NewBase constructs a Base for the named agent (used as the agentType key
// into the Manager's per-agent provider overrides).
func NewBase(name string, mgr *Manager) *Base {
	return &Base{Name: name, Manager: mgr}
}

// ResetReasoningChain clears the buffer for a new normalize() call —
// required because agent instances may be reused across fields/items.
func (b *Base) ResetReasoningChain() {
	b.reasoningChain = nil
}

// CallModel issues one semaphore-gated LLM call, strips markdown fences,
// and runs the SmartParse decode cascade. model should be one of
// models.ModelFast / models.ModelDeep; it is passed through to the
// provider as options["model"] so provider implementations that honor a
// model override (Gemini, DeepSeek, Qwen) route it correctly.
func (b *Base) CallModel(ctx context.Context, model models.ModelUsed, systemPrompt, userPrompt string) (map[string]interface{}, error) {
	sem := sharedSemaphore()
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("agent %s: acquire llm semaphore: %w", b.Name, err)
	}
	defer sem.Release(1)

	options := map[string]interface{}{"model": string(model), "temperature": 0.0}
	raw, err := b.Manager.ExecutePromptContext(ctx, b.Name, userPrompt, systemPrompt, options)
	if err != nil {
		return nil, fmt.Errorf("agent %s: llm call failed: %w", b.Name, err)
	}

	return jsonx.ParseLoose(raw), nil
}

// CallModelRaw is CallModel's counterpart for prompts whose reply is not
// JSON — source code generation, prose — where running the JSON repair
// cascade would corrupt the response. Used by pkg/core/script's audit
// script generator, mirroring the Python source's script generator agent
// calling _call_claude and reading response["raw_text"] directly instead
// of through the JSON-parsing agents' decode path.
func (b *Base) CallModelRaw(ctx context.Context, model models.ModelUsed, temperature float64, systemPrompt, userPrompt string) (string, error) {
	sem := sharedSemaphore()
	if err := sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("agent %s: acquire llm semaphore: %w", b.Name, err)
	}
	defer sem.Release(1)

	options := map[string]interface{}{"model": string(model), "temperature": temperature}
	raw, err := b.Manager.ExecutePromptContext(ctx, b.Name, userPrompt, systemPrompt, options)
	if err != nil {
		return "", fmt.Errorf("agent %s: llm call failed: %w", b.Name, err)
	}
	return raw, nil
}

// Steps returns a copy of the reasoning chain accumulated so far — used
// when a caller merges several Base instances' chains together instead of
// calling FormatResult directly (the Collateral Agent's per-item workers;
// see pkg/core/collateral).
func (b *Base) Steps() []models.ReasoningStep {
	chain := make([]models.ReasoningStep, len(b.reasoningChain))
	copy(chain, b.reasoningChain)
	return chain
}

// AddReasoningStep appends one self-contained step to the chain.
func (b *Base) AddReasoningStep(stepNumber int, stepName string, input, output map[string]interface{}, modelUsed models.ModelUsed, reasoning string, confidence *float64, duration time.Duration) {
	var durSec *float64
	if duration > 0 {
		d := duration.Seconds()
		durSec = &d
	}
	b.reasoningChain = append(b.reasoningChain, models.ReasoningStep{
		StepNumber:      stepNumber,
		StepName:        stepName,
		Input:           input,
		Output:          output,
		ModelUsed:       modelUsed,
		Reasoning:       reasoning,
		Confidence:      confidence,
		DurationSeconds: durSec,
	})
}

// CountCorrections counts "corrections" list entries across every step's
// output, matching the Python source's _count_corrections.
func (b *Base) CountCorrections() int {
	total := 0
	for _, step := range b.reasoningChain {
		if corrections, ok := step.Output["corrections"].([]interface{}); ok {
			total += len(corrections)
		}
	}
	return total
}

// OverallConfidence is the mean of per-step confidences where set, else
// the spec.md §4.2 default of 0.9 (overriding the Python source's 0.8
// default — see DESIGN.md).
func (b *Base) OverallConfidence() float64 {
	var sum float64
	var n int
	for _, step := range b.reasoningChain {
		if step.Confidence != nil {
			sum += *step.Confidence
			n++
		}
	}
	if n == 0 {
		return models.DefaultAgentConfidence
	}
	return sum / float64(n)
}

// NeedsHumanReview reports confidence < 0.85 (spec.md §4.2).
func NeedsHumanReview(confidence float64) bool {
	return confidence < models.HumanReviewConfidenceThreshold
}

// FormatResult builds the final AgentResult for this agent's normalize()
// call. confidenceOverride, when non-nil, replaces the computed
// OverallConfidence; the Temporal and Currency agents pass nil.
func (b *Base) FormatResult(data map[string]interface{}, processingTime time.Duration, confidenceOverride *float64) models.AgentResult {
	confidence := b.OverallConfidence()
	if confidenceOverride != nil {
		confidence = *confidenceOverride
	}
	needsReview := NeedsHumanReview(confidence)
	reason := ""
	if needsReview {
		reason = fmt.Sprintf("Low confidence (%.2f) below threshold (%.2f)", confidence, models.HumanReviewConfidenceThreshold)
	}
	chain := make([]models.ReasoningStep, len(b.reasoningChain))
	copy(chain, b.reasoningChain)
	return models.AgentResult{
		AgentName:             b.Name,
		Data:                  data,
		Confidence:            confidence,
		ReasoningChain:        chain,
		SelfCorrectionsCount:  b.CountCorrections(),
		RequiresHumanReview:   needsReview,
		HumanReviewReason:     reason,
		ProcessingTimeSeconds: processingTime.Seconds(),
	}
}

// ErrorResult builds a soft-failure AgentResult — agents never propagate
// an error out of normalize() (spec.md §7); callers wrap any panic/error
// into this instead.
func ErrorResult(agentName string, err error) models.AgentResult {
	return models.AgentResult{
		AgentName:           agentName,
		Data:                map[string]interface{}{},
		Confidence:          0,
		RequiresHumanReview: true,
		HumanReviewReason:   "agent error",
		Error:               err.Error(),
	}
}

// ChunkByID retrieves a specific chunk from a ParsedDoc by id (spec.md §4.3
// document-context access), grounded on
// BaseNormalizerAgent._get_chunk_by_id.
func ChunkByID(doc *models.ParsedDoc, chunkID string) *models.Chunk {
	if doc == nil {
		return nil
	}
	for i := range doc.Chunks {
		if doc.Chunks[i].ID == chunkID {
			return &doc.Chunks[i]
		}
	}
	return nil
}

// SurroundingChunks returns chunks [target-before, target+after] inclusive,
// grounded on BaseNormalizerAgent._get_surrounding_chunks.
func SurroundingChunks(doc *models.ParsedDoc, chunkID string, before, after int) []models.Chunk {
	if doc == nil {
		return nil
	}
	targetIdx := -1
	for i := range doc.Chunks {
		if doc.Chunks[i].ID == chunkID {
			targetIdx = i
			break
		}
	}
	if targetIdx == -1 {
		return nil
	}
	start := targetIdx - before
	if start < 0 {
		start = 0
	}
	end := targetIdx + after + 1
	if end > len(doc.Chunks) {
		end = len(doc.Chunks)
	}
	return doc.Chunks[start:end]
}
