package kiosk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/pour-kiosk/internal/remote"
	"github.com/Proton-105/pour-kiosk/internal/state"
)

func TestTotal(t *testing.T) {
	testCases := []struct {
		volume   int
		price    float64
		expected float64
	}{
		{volume: 300, price: 0.04, expected: 12.00},
		{volume: 500, price: 0.035, expected: 17.50},
		{volume: 333, price: 0.0333, expected: 11.09},
		{volume: 200, price: 0.06, expected: 12.00},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, Total(tc.volume, tc.price), "%d ml at %v", tc.volume, tc.price)
	}
}

func TestEstimateDispenseTime(t *testing.T) {
	assert.Equal(t, 18, EstimateDispenseTime(300, 20))
	assert.Equal(t, 30, EstimateDispenseTime(500, 0))
	assert.Equal(t, 16, EstimateDispenseTime(200, 15))
}

func TestBeverageFrom(t *testing.T) {
	live := remote.Beverage{ID: "ipa", Name: "Chopp IPA", ABV: 6.5, PricePerML: 0.06}

	got, ok := beverageFrom(state.Data{state.KeyBeverage: live})
	require.True(t, ok)
	assert.Equal(t, live, got)

	got, ok = beverageFrom(state.Data{state.KeyBeverage: map[string]any{
		"id": "ipa", "name": "Chopp IPA", "abv": 6.5, "price_per_ml": 0.06,
	}})
	require.True(t, ok)
	assert.Equal(t, live, got)

	_, ok = beverageFrom(state.Data{})
	assert.False(t, ok)
}

func TestVolumeFrom(t *testing.T) {
	assert.Equal(t, 300, volumeFrom(state.Data{state.KeyVolume: 300}))
	assert.Equal(t, 400, volumeFrom(state.Data{state.KeyVolume: 400.0}))
	assert.Zero(t, volumeFrom(state.Data{}))
}
