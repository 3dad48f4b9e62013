package models

// ModelUsed names which tier of model (or no model) produced a reasoning
// step, per spec.md §3.
type ModelUsed string

const (
	ModelFast      ModelUsed = "haiku"
	ModelDeep      ModelUsed = "sonnet"
	ModelRuleBased ModelUsed = "rule-based"
)

// ReasoningStep is one self-contained record in an agent's reasoning
// chain — a DAG by value, never by pointer (spec.md §9).
type ReasoningStep struct {
	StepNumber      int                    `json:"step_number"`
	StepName        string                 `json:"step_name"`
	Input           map[string]interface{} `json:"input"`
	Output          map[string]interface{} `json:"output"`
	ModelUsed       ModelUsed              `json:"model_used"`
	Reasoning       string                 `json:"reasoning"`
	Confidence      *float64               `json:"confidence,omitempty"`
	DurationSeconds *float64               `json:"duration_seconds,omitempty"`
}

// AgentResult is what every normalizer agent's normalize() call returns.
// Agents never propagate an error out of normalize(); failures are
// recorded as a soft AgentResult with Confidence 0 (spec.md §7).
type AgentResult struct {
	AgentName             string                 `json:"agent_name"`
	Data                  map[string]interface{} `json:"data"`
	Confidence            float64                `json:"confidence"`
	ReasoningChain         []ReasoningStep        `json:"reasoning_chain"`
	SelfCorrectionsCount  int                    `json:"self_corrections_count"`
	RequiresHumanReview   bool                   `json:"requires_human_review"`
	HumanReviewReason     string                 `json:"human_review_reason,omitempty"`
	ProcessingTimeSeconds float64                `json:"processing_time_seconds"`
	Error                 string                 `json:"error,omitempty"`
}

// HumanReviewConfidenceThreshold is the spec.md §4.2 confidence floor below
// which an AgentResult requires human review.
const HumanReviewConfidenceThreshold = 0.85

// DefaultAgentConfidence is the fallback confidence when a reasoning chain
// has no step with a confidence set (spec.md §4.2: "else 0.9" — this
// overrides the Python source's 0.8 default; see DESIGN.md).
const DefaultAgentConfidence = 0.9
