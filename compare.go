package sassplay

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Comparator runs a baseline and a modified binary under one ExecutionSpec
// and reports correctness of each and the speedup between them.
type Comparator struct {
	engine *Engine
	log    *zap.Logger
	now    func() time.Time
}

// NewComparator creates a Comparator that executes through engine.
func NewComparator(engine *Engine, log *zap.Logger) *Comparator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Comparator{engine: engine, log: log, now: time.Now}
}

// Compare executes baseline then modified, never concurrently, and verifies
// each independently. A side that fails carries a FailureMarker and the
// other side is still reported; only an invalid spec or family aborts the
// comparison.
//
// Speedup is undefined (nil) when the baseline failed or the comparison
// was cancelled, and 0 when the modified side failed. Once ctx is done
// after the baseline, the modified side is not run. With spec.Strict a failing verdict on either side
// is also returned as a *ToleranceError alongside the full report.
func (c *Comparator) Compare(ctx context.Context, baseline, modified Artifact, spec ExecutionSpec, k KernelFamily) (*ComparisonReport, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := k.Validate(); err != nil {
		return nil, err
	}

	r := &ComparisonReport{
		Family:    k.Name,
		Spec:      spec,
		CreatedAt: c.now(),
	}
	r.Baseline = c.side(ctx, baseline, spec, k)
	if err := ctx.Err(); err != nil {
		r.Modified = SideReport{
			Artifact: modified.Ref(),
			Status:   StatusFailure,
			Failure:  newFailureMarker(err),
		}
	} else {
		r.Modified = c.side(ctx, modified, spec, k)
	}

	r.setSpeedup()
	r.BothCorrect = r.Baseline.Correct() && r.Modified.Correct()
	r.MaxDivergence = divergence(r.Baseline.output, r.Modified.output)

	fields := []zap.Field{
		zap.String("family", k.Name),
		zap.Stringer("baseline", baseline.Ref()),
		zap.Stringer("modified", modified.Ref()),
		zap.Bool("both_correct", r.BothCorrect),
	}
	if r.Speedup != nil {
		fields = append(fields, zap.Float64("speedup", *r.Speedup))
	} else {
		fields = append(fields, zap.String("speedup", "undefined"))
	}
	c.log.Info("comparison complete", fields...)

	if spec.Strict {
		for _, s := range []SideReport{r.Baseline, r.Modified} {
			if s.Verdict != nil && !s.Verdict.Pass {
				return r, s.Verdict.Err()
			}
		}
	}
	return r, nil
}

func (c *Comparator) side(ctx context.Context, a Artifact, spec ExecutionSpec, k KernelFamily) SideReport {
	s := SideReport{Artifact: a.Ref(), Status: StatusFailure}
	res, err := c.engine.Execute(ctx, a, spec, k)
	if res != nil {
		s.Entry = res.Entry
		s.Status = res.Status
		s.Incomplete = res.Incomplete
		s.Timing = res.Timing
		s.output = res.Output
	}
	if err != nil {
		s.Failure = newFailureMarker(err)
		c.log.Warn("comparison side failed",
			zap.Stringer("artifact", a.Ref()),
			zap.String("kind", s.Failure.Kind),
			zap.Error(err))
		return s
	}
	if res.Status == StatusFailure {
		s.Failure = &FailureMarker{Kind: "NonFinite", Message: res.Message}
	}

	v, err := Verify(res, spec.Tolerance, spec.ToleranceMode)
	if err != nil {
		s.Failure = newFailureMarker(err)
		return s
	}
	s.Verdict = &v
	return s
}

func (r *ComparisonReport) setSpeedup() {
	switch {
	case r.Baseline.Canceled() || r.Modified.Canceled():
		r.SpeedupNote = "comparison cancelled; speedup undefined"
		return
	case !r.Baseline.Executed():
		r.SpeedupNote = "baseline execution failed; speedup undefined"
		return
	case !r.Modified.Executed():
		zero, pct := 0.0, -100.0
		r.Speedup, r.SpeedupPercent = &zero, &pct
		r.SpeedupNote = "modified execution failed; speedup reported as 0"
		return
	case r.Baseline.Timing.Repetitions == 0 || r.Modified.Timing.Repetitions == 0:
		r.SpeedupNote = "no completed repetitions; speedup undefined"
		return
	case r.Modified.Timing.MeanMS <= 0:
		r.SpeedupNote = "modified mean time is zero; speedup undefined"
		return
	}
	s := r.Baseline.Timing.MeanMS / r.Modified.Timing.MeanMS
	pct := (s - 1) * 100
	r.Speedup, r.SpeedupPercent = &s, &pct
	if r.Baseline.Incomplete || r.Modified.Incomplete {
		r.SpeedupNote = "computed from an incomplete run"
	}
}

// divergence is the largest |a[i]-b[i]|, +Inf when any pair is non-finite.
func divergence(a, b []float32) *Float {
	if len(a) == 0 || len(a) != len(b) {
		return nil
	}
	worst := 0.0
	for i := range a {
		if d := elementError(a[i], b[i], Absolute); d > worst {
			worst = d
		}
	}
	f := Float(worst)
	return &f
}

// Run executes a single artifact and verifies its output, honoring
// spec.Strict.
func (c *Comparator) Run(ctx context.Context, a Artifact, spec ExecutionSpec, k KernelFamily) (*ExecutionResult, Verdict, error) {
	res, err := c.engine.Execute(ctx, a, spec, k)
	if err != nil {
		return res, Verdict{}, err
	}
	verify := Verify
	if spec.Strict {
		verify = VerifyStrict
	}
	v, err := verify(res, spec.Tolerance, spec.ToleranceMode)
	return res, v, err
}
