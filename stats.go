package sassplay

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Timing summarizes the timed repetitions of one execution, in milliseconds.
// Std is the population standard deviation.
type Timing struct {
	MeanMS      float64 `json:"mean_ms"`
	StdMS       float64 `json:"std_ms"`
	MinMS       float64 `json:"min_ms"`
	MaxMS       float64 `json:"max_ms"`
	Repetitions int     `json:"repetitions"`
}

// Summarize reduces durations to a Timing. An empty slice yields the zero
// Timing.
func Summarize(durations []time.Duration) Timing {
	if len(durations) == 0 {
		return Timing{}
	}
	ms := make([]float64, len(durations))
	for i, d := range durations {
		ms[i] = float64(d) / float64(time.Millisecond)
	}
	mean, std := stat.PopMeanStdDev(ms, nil)
	return Timing{
		MeanMS:      mean,
		StdMS:       std,
		MinMS:       floats.Min(ms),
		MaxMS:       floats.Max(ms),
		Repetitions: len(ms),
	}
}
