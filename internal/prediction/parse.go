// Package prediction talks to the external prediction service: it builds
// the market-data request, calls the chat-completions endpoint and turns
// the reply into a validated model.Prediction.
package prediction

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"signal-grader/internal/model"
)

// ErrMalformedPrediction is returned when a reply is missing fields or
// carries values outside their allowed range. The caller skips the bar.
var ErrMalformedPrediction = errors.New("prediction: malformed prediction")

var validate = validator.New()

// wire mirrors the reply JSON. Pointers distinguish a missing field from a zero value.
type wire struct {
	Action      *string  `json:"action" validate:"required,oneof=BUY SELL HOLD"`
	Confidence  *float64 `json:"confidence" validate:"required,min=0,max=95"`
	Size        *float64 `json:"size" validate:"required,min=0"`
	EntryPrice  *float64 `json:"entry_price" validate:"required"`
	StopLoss    *float64 `json:"stop_loss" validate:"required"`
	TakeProfit  *float64 `json:"take_profit" validate:"required"`
	RiskPercent *float64 `json:"risk_percent" validate:"required"`
	Message     *string  `json:"message" validate:"required"`
}

// Parse decodes and validates a prediction reply.
func Parse(raw []byte) (model.Prediction, error) {
	var w wire
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Prediction{}, fmt.Errorf("%w: %v", ErrMalformedPrediction, err)
	}
	if err := validate.Struct(w); err != nil {
		return model.Prediction{}, fmt.Errorf("%w: %s", ErrMalformedPrediction, describe(err))
	}
	if *w.Size != math.Trunc(*w.Size) {
		return model.Prediction{}, fmt.Errorf("%w: size %v is not a whole number", ErrMalformedPrediction, *w.Size)
	}

	return model.Prediction{
		Action:      model.Action(*w.Action),
		Confidence:  *w.Confidence,
		Size:        int64(*w.Size),
		EntryPrice:  *w.EntryPrice,
		StopLoss:    *w.StopLoss,
		TakeProfit:  *w.TakeProfit,
		RiskPercent: *w.RiskPercent,
		Message:     *w.Message,
	}, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			parts = append(parts, "missing "+fe.Field())
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
	}
	return strings.Join(parts, "; ")
}
