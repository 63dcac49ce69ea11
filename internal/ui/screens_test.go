package ui_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/pour-kiosk/internal/i18n"
	"github.com/Proton-105/pour-kiosk/internal/kiosk"
	"github.com/Proton-105/pour-kiosk/internal/remote"
	"github.com/Proton-105/pour-kiosk/internal/state"
	"github.com/Proton-105/pour-kiosk/internal/ui"
)

func english(t *testing.T) i18n.Translator {
	t.Helper()
	manager, err := i18n.Load("en")
	require.NoError(t, err)
	return manager.Default()
}

func render(t *testing.T, st state.State, view ui.View) ui.Screen {
	t.Helper()
	fn, ok := ui.DefaultScreens().For(st)
	require.True(t, ok, "no screen for %s", st)
	screen, err := fn(view)
	require.NoError(t, err)
	return screen
}

func labels(row []ui.Button) []string {
	out := make([]string, 0, len(row))
	for _, btn := range row {
		out = append(out, btn.Label)
	}
	return out
}

func TestDefaultScreens_CoverEveryState(t *testing.T) {
	screens := ui.DefaultScreens()
	for _, st := range state.AllStates {
		_, ok := screens.For(st)
		assert.True(t, ok, "state %s has no screen", st)
	}

	_, ok := screens.For(state.State("UNKNOWN"))
	assert.False(t, ok)

	_, ok = ui.Screens{}.For(state.StateIdle)
	assert.False(t, ok)
}

func TestIdleScreen_Paginates(t *testing.T) {
	tr := english(t)
	catalog := remote.Catalog{}
	for i := 1; i <= 8; i++ {
		catalog.Beverages = append(catalog.Beverages, remote.Beverage{
			ID:         fmt.Sprintf("bev-%d", i),
			Name:       fmt.Sprintf("Beverage %d", i),
			PricePerML: 0.04,
		})
	}

	first := render(t, state.StateIdle, ui.View{Tr: tr, Data: state.Data{}, Catalog: catalog, Page: 1, PageSize: 6})
	assert.Equal(t, "Choose your drink", first.Title)
	require.Len(t, first.Buttons, 7)
	assert.Equal(t, "Beverage 1 - R$ 4.00/100 ml", first.Buttons[0][0].Label)
	assert.Equal(t, "beverage:bev-1", first.Buttons[0][0].Action)
	assert.Equal(t, []string{"1/2", "Next"}, labels(first.Buttons[6]))
	assert.Equal(t, "page:2", first.Buttons[6][1].Action)

	second := render(t, state.StateIdle, ui.View{Tr: tr, Data: state.Data{}, Catalog: catalog, Page: 5, PageSize: 6})
	require.Len(t, second.Buttons, 3)
	assert.Equal(t, "beverage:bev-7", second.Buttons[0][0].Action)
	assert.Equal(t, []string{"Previous", "2/2"}, labels(second.Buttons[2]))
}

func TestIdleScreen_ShowsMessageAndMissingCatalog(t *testing.T) {
	screen := render(t, state.StateIdle, ui.View{
		Tr:   english(t),
		Data: state.Data{state.KeyMessage: "age.required"},
	})

	assert.Equal(t, []string{"Please choose a non-alcoholic drink", "Could not load the drinks"}, screen.Lines)
	assert.Empty(t, screen.Buttons)
}

func TestSelectVolumeScreen(t *testing.T) {
	screen := render(t, state.StateSelectVolume, ui.View{
		Tr: english(t),
		Data: state.Data{state.KeyBeverage: remote.Beverage{
			ID: "pilsen", Name: "Chopp Pilsen", ABV: 4.5, PricePerML: 0.04,
		}},
		Volumes: []int{200, 300},
	})

	assert.Equal(t, "Choose the volume", screen.Title)
	assert.Equal(t, []string{"Chopp Pilsen"}, screen.Lines)
	require.Len(t, screen.Buttons, 3)
	assert.Equal(t, ui.Button{Label: "300 ml - R$ 12.00", Action: "volume:300"}, screen.Buttons[1][0])
	assert.Equal(t, ui.Button{Label: "Back", Action: "back"}, screen.Buttons[2][0])
}

func TestSelectPaymentScreen(t *testing.T) {
	screen := render(t, state.StateSelectPayment, ui.View{
		Tr:   english(t),
		Data: state.Data{state.KeyTotal: 12.0},
	})

	assert.Equal(t, []string{"R$ 12.00"}, screen.Lines)
	require.Len(t, screen.Buttons, 5)
	assert.Equal(t, ui.Button{Label: "PIX", Action: "pay:PIX"}, screen.Buttons[0][0])
	assert.Equal(t, ui.Button{Label: "Credit card", Action: "pay:CREDIT"}, screen.Buttons[1][0])
}

func TestAwaitingPaymentScreen(t *testing.T) {
	screen := render(t, state.StateAwaitingPayment, ui.View{
		Tr: english(t),
		Data: state.Data{
			state.KeyTotal:  12.0,
			kiosk.KeyQRCode: "MOCKPIX123",
		},
	})

	assert.Equal(t, "Awaiting payment of R$ 12.00", screen.Title)
	assert.Equal(t, []string{"Scan the QR code to pay", "MOCKPIX123"}, screen.Lines)
	assert.Equal(t, [][]ui.Button{{{Label: "Cancel", Action: "cancel"}}}, screen.Buttons)
}

func TestPaymentDeniedScreen(t *testing.T) {
	tr := english(t)

	denied := render(t, state.StatePaymentDenied, ui.View{Tr: tr, Data: state.Data{state.KeyReason: "insufficient funds"}})
	assert.Equal(t, "Payment not approved", denied.Title)
	assert.Equal(t, []string{"insufficient funds"}, denied.Lines)

	failed := render(t, state.StatePaymentDenied, ui.View{Tr: tr, Data: state.Data{state.KeyMessage: "errors.remote"}})
	assert.Equal(t, "Communication failure. Please try again.", failed.Title)
	assert.Empty(t, failed.Lines)
}

func TestProgressScreens(t *testing.T) {
	tr := english(t)
	data := state.Data{
		state.KeyMLServed:         150.0,
		state.KeyMLAuthorized:     300.0,
		state.KeyPercentage:       50,
		state.KeyEstimatedSeconds: 18,
	}

	authorized := render(t, state.StateAuthorized, ui.View{Tr: tr, Data: data})
	assert.Equal(t, []string{"Estimated time: 18s"}, authorized.Lines)

	dispensing := render(t, state.StateDispensing, ui.View{Tr: tr, Data: data})
	assert.Equal(t, "Pouring...", dispensing.Title)
	assert.Equal(t, []string{"150 of 300 ml", "50%"}, dispensing.Lines)

	finished := render(t, state.StateFinished, ui.View{Tr: tr, Data: state.Data{state.KeyMLServed: 299.6, state.KeyMLAuthorized: 300.0}})
	assert.Equal(t, []string{"Served 300 ml"}, finished.Lines)
}

func TestErrorScreen(t *testing.T) {
	screen := ui.ErrorScreen(english(t), errors.New("get_beverages: no connection"))

	assert.Equal(t, "The kiosk failed to start. Check the diagnostics.", screen.Title)
	assert.Equal(t, []string{"get_beverages: no connection"}, screen.Lines)
}
