package sassplay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// FailureMarker records why one side of a comparison produced no usable
// result. The other side is still reported.
type FailureMarker struct {
	Kind    string `json:"kind"`
	Phase   string `json:"phase,omitempty"`
	Message string `json:"message"`
}

func newFailureMarker(err error) *FailureMarker {
	m := &FailureMarker{Kind: "Error", Message: err.Error()}
	if k, ok := KindOf(err); ok {
		m.Kind = k.String()
	}
	var le *LaunchError
	if errors.As(err, &le) {
		m.Phase = le.Phase
		m.Message = le.Message
	}
	switch {
	case errors.Is(err, ErrNotExecutable):
		m.Kind = "NotExecutable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		m.Kind = kindCanceled
	}
	return m
}

const kindCanceled = "Canceled"

// SideReport summarizes one side of a comparison.
type SideReport struct {
	Artifact   Ref            `json:"artifact"`
	Entry      string         `json:"entry,omitempty"`
	Status     Status         `json:"status"`
	Incomplete bool           `json:"incomplete,omitempty"`
	Timing     Timing         `json:"timing"`
	Verdict    *Verdict       `json:"verdict,omitempty"`
	Failure    *FailureMarker `json:"failure,omitempty"`

	output []float32
}

// Executed reports whether the side's kernel ran to completion.
func (s SideReport) Executed() bool {
	return s.Status == StatusSuccess && s.Failure == nil
}

// Canceled reports whether the side was cut short by cancellation before
// it produced a result.
func (s SideReport) Canceled() bool {
	return s.Failure != nil && s.Failure.Kind == kindCanceled
}

// Correct reports whether the side executed and passed verification.
func (s SideReport) Correct() bool {
	return s.Executed() && s.Verdict != nil && s.Verdict.Pass
}

// ComparisonReport is the serializable outcome of comparing a baseline and
// a modified binary under one ExecutionSpec.
type ComparisonReport struct {
	ID        string        `json:"id,omitempty"`
	Family    string        `json:"family"`
	Spec      ExecutionSpec `json:"spec"`
	Baseline  SideReport    `json:"baseline"`
	Modified  SideReport    `json:"modified"`
	// Speedup is baseline mean / modified mean. Nil means undefined.
	Speedup        *float64 `json:"speedup"`
	SpeedupPercent *float64 `json:"speedup_percent"`
	SpeedupNote    string   `json:"speedup_note,omitempty"`
	BothCorrect    bool     `json:"both_correct"`
	// MaxDivergence is the largest |baseline - modified| over the outputs.
	MaxDivergence *Float    `json:"max_divergence,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// JSON encodes the report with indentation.
func (r *ComparisonReport) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ParseReport decodes a report produced by JSON.
func ParseReport(data []byte) (*ComparisonReport, error) {
	var r ComparisonReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode comparison report: %w", err)
	}
	return &r, nil
}
