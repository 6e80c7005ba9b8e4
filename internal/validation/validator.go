// Package validation grades a prediction against the candles that followed it.
//
// Validate never panics and never returns an error: every outcome, including
// bad input, is a Result so a scan over a historical range is never cut short.
package validation

import (
	"fmt"
	"math"

	"signal-grader/internal/indicator"
	"signal-grader/internal/model"
	"signal-grader/internal/series"
)

// Accuracy classes.
const (
	Correct   = "correct"
	Incorrect = "incorrect"
	Partial   = "partial"
	Pending   = "pending"
	Invalid   = "invalid"
)

// Movement directions.
const (
	MovementUp      = "up"
	MovementDown    = "down"
	MovementNeutral = "neutral"
)

// Reasons.
const (
	ReasonTPReached         = "tp_reached"
	ReasonSLHit             = "sl_hit"
	ReasonNoStrongMove      = "no_strong_move"
	ReasonNoSignificantMove = "no_significant_move"
	ReasonMissedStrongMove  = "missed_strong_move"
	ReasonNotEnoughData     = "not_enough_data"
	ReasonUnknownAction     = "unknown_action"
	ReasonCalculationFailed = "calculation_failed"
)

// Result is the verdict for one prediction.
type Result struct {
	Accuracy    string   `json:"accuracy"`
	Movement    string   `json:"movement,omitempty"`
	Reason      string   `json:"reason"`
	TargetHit   *bool    `json:"target_hit,omitempty"`
	MovementATR *float64 `json:"movement_atr,omitempty"`
}

// Completed reports whether the verdict is a final correct/incorrect call.
func (r Result) Completed() bool {
	return r.Accuracy == Correct || r.Accuracy == Incorrect
}

func (r Result) String() string {
	if r.Movement != "" {
		return fmt.Sprintf("%s/%s (%s)", r.Accuracy, r.Movement, r.Reason)
	}
	return fmt.Sprintf("%s (%s)", r.Accuracy, r.Reason)
}

// Config controls how far ahead and how large a move is required.
type Config struct {
	Lookahead         int     // forward candles, 6 ≈ 30 minutes of 5-minute bars
	ATRPeriod         int     // ATR period at the prediction bar
	ATRFallback       float64 // used when ATR is not available at the bar
	TargetATRMultiple float64 // move size, in ATRs, that counts as a hit
}

// DefaultConfig returns the standard grading configuration.
func DefaultConfig() Config {
	return Config{
		Lookahead:         6,
		ATRPeriod:         14,
		ATRFallback:       0.85,
		TargetATRMultiple: 1.5,
	}
}

// Validator grades predictions. It is stateless and safe to reuse.
type Validator struct {
	cfg Config
}

// New creates a Validator. Zero fields in cfg take their defaults.
func New(cfg Config) *Validator {
	def := DefaultConfig()
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = def.Lookahead
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = def.ATRPeriod
	}
	if cfg.ATRFallback <= 0 {
		cfg.ATRFallback = def.ATRFallback
	}
	if cfg.TargetATRMultiple <= 0 {
		cfg.TargetATRMultiple = def.TargetATRMultiple
	}
	return &Validator{cfg: cfg}
}

// Lookahead returns the configured forward window in candles.
func (v *Validator) Lookahead() int { return v.cfg.Lookahead }

// ATR returns the ATR used to grade a prediction made at index, falling back
// to the configured constant when it is unavailable or not positive.
func (v *Validator) ATR(s *series.Series, index int) float64 {
	atr, ok := indicator.ATRAt(s.Window(index), v.cfg.ATRPeriod)
	if !ok || !(atr > 0) || math.IsInf(atr, 0) {
		return v.cfg.ATRFallback
	}
	return atr
}

// Validate grades p, issued at the close of bar index, against the next
// Lookahead bars of s.
func (v *Validator) Validate(p model.Prediction, index int, s *series.Series) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failed()
		}
	}()

	if s == nil || index < 0 || index >= s.Len() {
		return failed()
	}
	forward := s.Forward(index, v.cfg.Lookahead)
	if len(forward) < v.cfg.Lookahead {
		return Result{Accuracy: Pending, Reason: ReasonNotEnoughData}
	}
	switch p.Action {
	case model.ActionBuy, model.ActionSell, model.ActionHold:
	default:
		return Result{Accuracy: Invalid, Reason: ReasonUnknownAction}
	}
	if !finite(forward...) || !finite(s.At(index)) {
		return failed()
	}

	atr := v.ATR(s, index)
	move := v.cfg.TargetATRMultiple * atr

	if p.Action == model.ActionHold {
		delta := math.Abs(forward[len(forward)-1].Close - s.At(index).Close)
		ratio := indicator.Round(delta/atr, 2)
		if delta <= move {
			return Result{Accuracy: Correct, Reason: ReasonNoSignificantMove, MovementATR: &ratio}
		}
		return Result{Accuracy: Incorrect, Reason: ReasonMissedStrongMove, MovementATR: &ratio}
	}

	if math.IsNaN(p.EntryPrice) || math.IsNaN(p.StopLoss) ||
		math.IsInf(p.EntryPrice, 0) || math.IsInf(p.StopLoss, 0) {
		return failed()
	}

	high, low := forward[0].High, forward[0].Low
	for _, c := range forward[1:] {
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
	}

	if p.Action == model.ActionBuy {
		switch {
		case high >= p.EntryPrice+move:
			return hit(MovementUp)
		case low <= p.StopLoss:
			return miss(MovementDown)
		}
		return Result{Accuracy: Partial, Movement: MovementNeutral, Reason: ReasonNoStrongMove}
	}

	switch {
	case low <= p.EntryPrice-move:
		return hit(MovementDown)
	case high >= p.StopLoss:
		return miss(MovementUp)
	}
	return Result{Accuracy: Partial, Movement: MovementNeutral, Reason: ReasonNoStrongMove}
}

func hit(movement string) Result {
	t := true
	return Result{Accuracy: Correct, Movement: movement, Reason: ReasonTPReached, TargetHit: &t}
}

func miss(movement string) Result {
	f := false
	return Result{Accuracy: Incorrect, Movement: movement, Reason: ReasonSLHit, TargetHit: &f}
}

func failed() Result {
	return Result{Accuracy: Invalid, Reason: ReasonCalculationFailed}
}

func finite(candles ...model.Candle) bool {
	for _, c := range candles {
		for _, v := range [...]float64{c.Open, c.High, c.Low, c.Close} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
