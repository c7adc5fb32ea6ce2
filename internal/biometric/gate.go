package biometric

import (
	"errors"
	"fmt"
	"math"

	"postal-service/internal/util"

	"go.uber.org/zap"
)

// ErrCaptureFailed means no usable feature set could be extracted from the
// live input. It is distinct from a confident non-match: callers may retry
// the capture but must not treat it as a verdict.
var ErrCaptureFailed = errors.New("no face features extracted from capture")

// Result carries the comparison outcome. Score is a non-negative distance,
// lower means more similar.
type Result struct {
	Score   float64 `json:"score"`
	Matched bool    `json:"matched"`
}

// Gate compares a live capture against a stored template. It is stateless
// and side-effect free.
type Gate struct {
	threshold float64
}

func NewGate(threshold float64) *Gate {
	return &Gate{threshold: threshold}
}

func (g *Gate) Threshold() float64 {
	return g.threshold
}

// Compare computes the euclidean distance between the live capture and the
// stored template. Matched is true iff the distance is below the threshold.
func (g *Gate) Compare(live, template []float64) (*Result, error) {
	if len(live) == 0 {
		return nil, ErrCaptureFailed
	}
	if len(template) == 0 {
		return nil, fmt.Errorf("%w: empty reference template", ErrCaptureFailed)
	}
	if len(live) != len(template) {
		return nil, fmt.Errorf("%w: descriptor length %d does not match template length %d",
			ErrCaptureFailed, len(live), len(template))
	}

	var sum float64
	for i := range live {
		d := live[i] - template[i]
		sum += d * d
	}
	score := math.Sqrt(sum)

	result := &Result{
		Score:   score,
		Matched: score < g.threshold,
	}

	util.Debug("Biometric comparison completed",
		zap.Float64("score", score),
		zap.Float64("threshold", g.threshold),
		zap.Bool("matched", result.Matched),
	)

	return result, nil
}
