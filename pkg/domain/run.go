package domain

import "time"

// Stage names used in run summaries, metrics and spans.
const (
	StageExtraction     = "extraction"
	StageCompliance     = "compliance"
	StageClassification = "classification"
)

// StageSummary is the per-stage view of a run handed to consumers that do not
// care about provider selection.
type StageSummary struct {
	Stage             string         `json:"stage"`
	Success           bool           `json:"success"`
	ProviderID        string         `json:"providerId"`
	IsSynthesized     bool           `json:"isSynthesized"`
	ConfidenceOrScore int            `json:"confidenceOrScore"`
	FallbackReason    FallbackReason `json:"fallbackReason,omitempty"`
	DurationMs        int64          `json:"durationMs"`
}

// PipelineRun aggregates the results of one document pass. It is built once by
// the orchestrator; reprocessing produces a new run with a new ID.
type PipelineRun struct {
	ID             string                `json:"id"`
	DocumentType   DocumentType          `json:"documentType"`
	MediaType      MediaType             `json:"mediaType"`
	Success        bool                  `json:"success"`
	Extraction     ExtractionResult      `json:"extraction"`
	Compliance     ComplianceResult      `json:"compliance"`
	Classification *ClassificationResult `json:"classification,omitempty"`
	Stages         []StageSummary        `json:"stages"`
	ElapsedMs      int64                 `json:"elapsedMs"`
	CreatedAt      time.Time             `json:"createdAt"`
}

// Synthesized reports whether any stage of the run fell back to synthesized output.
func (r PipelineRun) Synthesized() bool {
	for _, s := range r.Stages {
		if s.IsSynthesized {
			return true
		}
	}
	return false
}
