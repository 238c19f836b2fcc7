package sassplay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	ds := []time.Duration{
		2 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond,
		5 * time.Millisecond,
		5 * time.Millisecond,
		7 * time.Millisecond,
		9 * time.Millisecond,
	}
	got := Summarize(ds)
	assert.InDelta(t, 5.0, got.MeanMS, 1e-12)
	assert.InDelta(t, 2.0, got.StdMS, 1e-12) // population std
	assert.Equal(t, 2.0, got.MinMS)
	assert.Equal(t, 9.0, got.MaxMS)
	assert.Equal(t, 8, got.Repetitions)
}

func TestSummarizeEdges(t *testing.T) {
	assert.Equal(t, Timing{}, Summarize(nil))

	one := Summarize([]time.Duration{1500 * time.Microsecond})
	assert.InDelta(t, 1.5, one.MeanMS, 1e-12)
	assert.Equal(t, 0.0, one.StdMS)
	assert.Equal(t, one.MinMS, one.MaxMS)
}
