// Package accuracy folds graded predictions into summary metrics.
package accuracy

import (
	"signal-grader/internal/indicator"
	"signal-grader/internal/model"
	"signal-grader/internal/validation"
)

// DefaultHighConfidence is the confidence at or above which a prediction
// counts toward WinRateHighConfidence.
const DefaultHighConfidence = 85.0

// Entry pairs a prediction with its verdict.
type Entry struct {
	Prediction model.Prediction  `json:"prediction"`
	Result     validation.Result `json:"validation"`
}

// Metrics summarises a set of graded predictions. Rates are percentages
// rounded to two decimals and are 0 when their denominator is 0.
type Metrics struct {
	Total     int `json:"total_predictions"`
	Correct   int `json:"correct_predictions"`
	Incorrect int `json:"incorrect_predictions"`
	Partial   int `json:"partial_predictions"`
	Pending   int `json:"pending_predictions"`
	Invalid   int `json:"invalid_predictions"`

	AccuracyRate          float64 `json:"accuracy_rate"`
	CompletedAccuracyRate float64 `json:"completed_accuracy_rate"`
	PrecisionBuy          float64 `json:"precision_buy"`
	PrecisionSell         float64 `json:"precision_sell"`
	WinRateHighConfidence float64 `json:"win_rate_high_confidence"`
}

type tally struct {
	n, correct int
}

func (t tally) rate() float64 {
	return pct(t.correct, t.n)
}

// Aggregator accumulates entries. The zero value is not usable; use New.
// An Aggregator is owned by a single run and is not safe for concurrent use.
type Aggregator struct {
	highConfidence float64

	m        Metrics
	byAction map[model.Action]*tally
	high     tally
}

// New creates an aggregator. A non-positive threshold selects DefaultHighConfidence.
func New(highConfidence float64) *Aggregator {
	if highConfidence <= 0 {
		highConfidence = DefaultHighConfidence
	}
	return &Aggregator{
		highConfidence: highConfidence,
		byAction: map[model.Action]*tally{
			model.ActionBuy:  {},
			model.ActionSell: {},
			model.ActionHold: {},
		},
	}
}

// Add records one graded prediction.
func (a *Aggregator) Add(p model.Prediction, r validation.Result) {
	a.m.Total++
	correct := 0
	switch r.Accuracy {
	case validation.Correct:
		a.m.Correct++
		correct = 1
	case validation.Incorrect:
		a.m.Incorrect++
	case validation.Partial:
		a.m.Partial++
	case validation.Pending:
		a.m.Pending++
	default:
		a.m.Invalid++
	}

	if t, ok := a.byAction[p.Action]; ok {
		t.n++
		t.correct += correct
	}
	if p.Confidence >= a.highConfidence {
		a.high.n++
		a.high.correct += correct
	}
}

// Metrics returns the metrics for everything added so far.
func (a *Aggregator) Metrics() Metrics {
	m := a.m
	m.AccuracyRate = pct(m.Correct, m.Total)
	m.CompletedAccuracyRate = pct(m.Correct, m.Correct+m.Incorrect)
	m.PrecisionBuy = a.byAction[model.ActionBuy].rate()
	m.PrecisionSell = a.byAction[model.ActionSell].rate()
	m.WinRateHighConfidence = a.high.rate()
	return m
}

// Aggregate computes metrics for entries with the default high-confidence threshold.
func Aggregate(entries []Entry) Metrics {
	a := New(DefaultHighConfidence)
	for _, e := range entries {
		a.Add(e.Prediction, e.Result)
	}
	return a.Metrics()
}

func pct(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return indicator.Round(float64(num)/float64(den)*100, 2)
}
