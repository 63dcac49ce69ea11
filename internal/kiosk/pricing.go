package kiosk

import (
	"encoding/json"
	"math"
	"slices"

	"github.com/Proton-105/pour-kiosk/internal/remote"
	"github.com/Proton-105/pour-kiosk/internal/state"
)

const (
	// DefaultFlowRate is the nominal tap flow in ml/s.
	DefaultFlowRate = 20.0
	dispenseMargin  = 1.2
)

// DefaultVolumes are the pour sizes offered when none are configured.
var DefaultVolumes = []int{200, 300, 400, 500}

// Total returns volume × pricePerML rounded to cents.
func Total(volumeML int, pricePerML float64) float64 {
	return math.Round(float64(volumeML)*pricePerML*100) / 100
}

// EstimateDispenseTime returns the expected pour duration in whole seconds, with a
// 20% margin over the nominal flow.
func EstimateDispenseTime(volumeML int, flowRate float64) int {
	if flowRate <= 0 {
		flowRate = DefaultFlowRate
	}
	return int(math.Ceil(float64(volumeML) / flowRate * dispenseMargin))
}

func validVolume(volumes []int, ml int) bool {
	return slices.Contains(volumes, ml)
}

// beverageFrom reads the selected beverage from session data. The value is a
// remote.Beverage in a live session and a decoded JSON object after a reload.
func beverageFrom(data state.Data) (remote.Beverage, bool) {
	switch v := data[state.KeyBeverage].(type) {
	case remote.Beverage:
		return v, true
	case *remote.Beverage:
		if v == nil {
			return remote.Beverage{}, false
		}
		return *v, true
	case map[string]any:
		raw, err := json.Marshal(v)
		if err != nil {
			return remote.Beverage{}, false
		}
		var b remote.Beverage
		if err := json.Unmarshal(raw, &b); err != nil || b.ID == "" {
			return remote.Beverage{}, false
		}
		return b, true
	default:
		return remote.Beverage{}, false
	}
}

func volumeFrom(data state.Data) int {
	v, _ := data.Float(state.KeyVolume)
	return int(math.Round(v))
}
