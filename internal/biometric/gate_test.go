package biometric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareMatchesBelowThreshold(t *testing.T) {
	gate := NewGate(0.30)

	result, err := gate.Compare(
		[]float64{0.10, 0.20, 0.30},
		[]float64{0.11, 0.21, 0.29},
	)
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Less(t, result.Score, 0.30)
}

func TestCompareRejectsDistantCapture(t *testing.T) {
	gate := NewGate(0.30)

	result, err := gate.Compare(
		[]float64{0.9, 0.8, 0.7},
		[]float64{0.1, 0.2, 0.3},
	)
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Greater(t, result.Score, 0.30)
}

func TestCompareScoreAtThresholdIsNotAMatch(t *testing.T) {
	gate := NewGate(0.30)

	// Distance is exactly the threshold; the comparison is strict.
	result, err := gate.Compare([]float64{0.30}, []float64{0.0})
	require.NoError(t, err)
	assert.InDelta(t, 0.30, result.Score, 1e-9)
	assert.False(t, result.Matched)
}

func TestCompareIdenticalVectors(t *testing.T) {
	gate := NewGate(0.30)

	result, err := gate.Compare([]float64{0.5, 0.5}, []float64{0.5, 0.5})
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Zero(t, result.Score)
}

func TestCompareCaptureFailures(t *testing.T) {
	gate := NewGate(0.30)

	_, err := gate.Compare(nil, []float64{0.1})
	assert.ErrorIs(t, err, ErrCaptureFailed)

	_, err = gate.Compare([]float64{0.1}, nil)
	assert.ErrorIs(t, err, ErrCaptureFailed)

	_, err = gate.Compare([]float64{0.1, 0.2}, []float64{0.1})
	assert.ErrorIs(t, err, ErrCaptureFailed)
}
