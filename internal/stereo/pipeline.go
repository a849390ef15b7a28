package stereo

import (
	"errors"
)

// State is a step of a single pipeline pass. There are no loops back.
type State int

const (
	StateIdle State = iota
	StateMatching
	StateEstimating
	StateDone  // at least one pair was matched; measurements may still be empty after rejection
	StateEmpty // the matcher produced no pairs
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMatching:
		return "matching"
	case StateEstimating:
		return "estimating"
	case StateDone:
		return "done"
	case StateEmpty:
		return "empty"
	}
	return "unknown"
}

// Annotation describes what the presentation layer should draw for one measurement.
type Annotation struct {
	Position Point   `json:"position"`
	Label    string  `json:"label"`
	DepthCm  float64 `json:"depth_cm"`
}

// Result is the outcome of one pipeline pass.
type Result struct {
	State        State
	Pairs        []MatchedPair
	Measurements []Measurement
	Annotations  []Annotation // parallel to Measurements
	Rejected     []MatchedPair
	Invalid      error // joined ErrInvalidInput errors for detections that were skipped
}

// OK is false when the matcher found nothing. A result can be OK with zero measurements,
// if every matched pair was rejected.
func (r *Result) OK() bool {
	return r.State == StateDone
}

// Err returns ErrNoMatches for an empty result, and nil otherwise.
func (r *Result) Err() error {
	if r.State == StateEmpty {
		return ErrNoMatches
	}
	return nil
}

// Pipeline runs the matcher and the estimator over two full detection sets.
// It holds no mutable state, so one Pipeline can serve concurrent callers.
type Pipeline struct {
	Matcher   Matcher
	Estimator Estimator

	// OnState, if not nil, is called on every state transition
	OnState func(State)
}

func NewPipeline(cal Calibration, mode MatchMode) *Pipeline {
	return &Pipeline{
		Matcher:   NewMatcher(cal, mode),
		Estimator: NewEstimator(cal),
	}
}

func (p *Pipeline) enter(s State) {
	if p.OnState != nil {
		p.OnState(s)
	}
}

// Run matches left against right, and triangulates every pair.
func (p *Pipeline) Run(left, right []Detection) *Result {
	res := &Result{State: StateIdle}

	p.enter(StateMatching)
	res.Pairs, res.Invalid = p.Matcher.Match(left, right)
	if len(res.Pairs) == 0 {
		res.State = StateEmpty
		p.enter(res.State)
		return res
	}

	p.enter(StateEstimating)
	res.Measurements = []Measurement{}
	res.Annotations = []Annotation{}
	for _, pair := range res.Pairs {
		m, err := p.Estimator.Estimate(pair)
		if errors.Is(err, ErrRejected) {
			res.Rejected = append(res.Rejected, pair)
			continue
		}
		res.Measurements = append(res.Measurements, m)
		res.Annotations = append(res.Annotations, Annotation{
			Position: m.Position2D,
			Label:    m.Label(),
			DepthCm:  m.DepthCm,
		})
	}
	res.State = StateDone
	p.enter(res.State)
	return res
}
