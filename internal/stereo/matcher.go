package stereo

import (
	"errors"
	"fmt"
	"math"
)

// MatchMode controls whether a right-hand detection can be claimed more than once.
type MatchMode int

const (
	// MatchGreedy scans every right detection for each left detection independently.
	// The same right detection may end up in several pairs.
	MatchGreedy MatchMode = iota
	// MatchExclusive removes a right detection from the pool once a left detection claims it.
	// Left detections are still processed in input order, so earlier ones win.
	MatchExclusive
)

func (m MatchMode) String() string {
	switch m {
	case MatchGreedy:
		return "greedy"
	case MatchExclusive:
		return "exclusive"
	}
	return fmt.Sprintf("MatchMode(%d)", int(m))
}

// ParseMatchMode accepts "greedy" or "exclusive". An empty string is greedy.
func ParseMatchMode(s string) (MatchMode, error) {
	switch s {
	case "", "greedy":
		return MatchGreedy, nil
	case "exclusive":
		return MatchExclusive, nil
	}
	return MatchGreedy, fmt.Errorf("unknown match mode %q", s)
}

// MatchedPair is one left detection correlated with one right detection.
type MatchedPair struct {
	ClassName   string  `json:"class_name"`
	LeftBox     BBox    `json:"left_bbox"`
	RightBox    BBox    `json:"right_bbox"`
	LeftCenter  Point   `json:"left_center"`
	RightCenter Point   `json:"right_center"`
	Confidence  float64 `json:"confidence"`
	Score       float64 `json:"score"`
}

// Matcher pairs detections between the left and right views.
type Matcher struct {
	Calibration Calibration
	Mode        MatchMode
}

func NewMatcher(cal Calibration, mode MatchMode) Matcher {
	return Matcher{Calibration: cal, Mode: mode}
}

// Score is the similarity of two detections of the same class: the product of how well their
// heights agree and how close their vertical centers are, relative to the reference frame height.
func (m Matcher) Score(l, r Detection) float64 {
	yDiff := math.Abs(float64(l.Center().Y - r.Center().Y))
	maxHeight := max(l.Height(), r.Height(), 1)
	heightSim := float64(min(l.Height(), r.Height())) / float64(maxHeight)
	positionScore := 1.0 - yDiff/m.Calibration.FrameHeightPx
	return positionScore * heightSim
}

// Match returns one pair per left detection that has an acceptable partner, in left order.
// Detections that fail validation are skipped, and the returned error lists each of them
// (every entry wraps ErrInvalidInput). The pairs are valid even when the error is not nil.
func (m Matcher) Match(left, right []Detection) ([]MatchedPair, error) {
	var errs []error

	rightOK := make([]bool, len(right))
	for j, r := range right {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("right[%d]: %w", j, err))
			continue
		}
		rightOK[j] = true
	}
	claimed := make([]bool, len(right))

	pairs := []MatchedPair{}
	for i, l := range left {
		if err := l.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("left[%d]: %w", i, err))
			continue
		}
		best := -1
		bestScore := 0.0
		for j, r := range right {
			if !rightOK[j] || claimed[j] || l.ClassName() != r.ClassName() {
				continue
			}
			score := m.Score(l, r)
			if score > bestScore && score > m.Calibration.MatchThreshold {
				best = j
				bestScore = score
			}
		}
		if best == -1 {
			continue
		}
		if m.Mode == MatchExclusive {
			claimed[best] = true
		}
		r := right[best]
		pairs = append(pairs, MatchedPair{
			ClassName:   l.ClassName(),
			LeftBox:     l.Box(),
			RightBox:    r.Box(),
			LeftCenter:  l.Center(),
			RightCenter: r.Center(),
			Confidence:  (l.Confidence() + r.Confidence()) / 2,
			Score:       bestScore,
		})
	}
	return pairs, errors.Join(errs...)
}
