package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Proton-105/pour-kiosk/internal/i18n"
	"github.com/Proton-105/pour-kiosk/internal/kiosk"
	"github.com/Proton-105/pour-kiosk/internal/payment"
	"github.com/Proton-105/pour-kiosk/internal/remote"
	"github.com/Proton-105/pour-kiosk/internal/state"
)

// DefaultPageSize is how many beverages the idle screen lists at once.
const DefaultPageSize = 6

// View is everything a screen is rendered from.
type View struct {
	Tr       i18n.Translator
	Data     state.Data
	Catalog  remote.Catalog
	Volumes  []int
	Page     int
	PageSize int
}

// RenderFunc renders the screen of one state.
type RenderFunc func(View) (Screen, error)

// Screens maps every state to its renderer. Each state has its own field so a new
// state cannot be added to the table without a renderer slot.
type Screens struct {
	Boot            RenderFunc
	Idle            RenderFunc
	ConfirmAge      RenderFunc
	SelectVolume    RenderFunc
	SelectPayment   RenderFunc
	AwaitingPayment RenderFunc
	PaymentDenied   RenderFunc
	Authorized      RenderFunc
	Dispensing      RenderFunc
	Finished        RenderFunc
}

// DefaultScreens returns the kiosk's standard screens.
func DefaultScreens() Screens {
	return Screens{
		Boot:            bootScreen,
		Idle:            idleScreen,
		ConfirmAge:      confirmAgeScreen,
		SelectVolume:    selectVolumeScreen,
		SelectPayment:   selectPaymentScreen,
		AwaitingPayment: awaitingPaymentScreen,
		PaymentDenied:   paymentDeniedScreen,
		Authorized:      authorizedScreen,
		Dispensing:      dispensingScreen,
		Finished:        finishedScreen,
	}
}

// For returns the renderer of s. ok is false for unknown states and empty slots.
func (s Screens) For(st state.State) (RenderFunc, bool) {
	var fn RenderFunc
	switch st {
	case state.StateBoot:
		fn = s.Boot
	case state.StateIdle:
		fn = s.Idle
	case state.StateConfirmAge:
		fn = s.ConfirmAge
	case state.StateSelectVolume:
		fn = s.SelectVolume
	case state.StateSelectPayment:
		fn = s.SelectPayment
	case state.StateAwaitingPayment:
		fn = s.AwaitingPayment
	case state.StatePaymentDenied:
		fn = s.PaymentDenied
	case state.StateAuthorized:
		fn = s.Authorized
	case state.StateDispensing:
		fn = s.Dispensing
	case state.StateFinished:
		fn = s.Finished
	}
	return fn, fn != nil
}

// ErrorScreen is the static screen shown when the kiosk could not boot.
func ErrorScreen(tr i18n.Translator, err error) Screen {
	screen := Screen{State: state.StateBoot, Title: tr.T("boot.error")}
	if err != nil {
		screen.Lines = []string{err.Error()}
	}
	return screen
}

func bootScreen(v View) (Screen, error) {
	return newScreen(state.StateBoot, v.Tr.T("boot.loading")).build()
}

func idleScreen(v View) (Screen, error) {
	b := newScreen(state.StateIdle, v.Tr.T("idle.title"))
	b.line(messageLine(v))

	beverages := v.Catalog.Beverages
	if len(beverages) == 0 {
		b.line(v.Tr.T("errors.catalog"))
		return b.build()
	}

	perPage := v.PageSize
	if perPage <= 0 {
		perPage = DefaultPageSize
	}
	pages := pageCount(len(beverages), perPage)
	page := clampPage(v.Page, pages)

	start := (page - 1) * perPage
	end := min(start+perPage, len(beverages))
	for _, beverage := range beverages[start:end] {
		label := v.Tr.Format("beverage_option", map[string]string{
			"name":  beverage.Name,
			"price": money(beverage.PricePerML * 100),
		})
		b.row(b.button(label, ActionBeverage, beverage.ID))
	}

	if pages > 1 {
		b.row(b.paginationRow(v.Tr, page, pages)...)
	}

	return b.build()
}

func confirmAgeScreen(v View) (Screen, error) {
	b := newScreen(state.StateConfirmAge, v.Tr.T("age.question"))
	b.line(beverageName(v.Data))
	b.row(
		b.button(v.Tr.T("buttons.yes"), ActionAge, "yes"),
		b.button(v.Tr.T("buttons.no"), ActionAge, "no"),
	)
	b.row(b.button(v.Tr.T("buttons.back"), ActionBack, ""))
	return b.build()
}

func selectVolumeScreen(v View) (Screen, error) {
	b := newScreen(state.StateSelectVolume, v.Tr.T("volume.title"))
	b.line(beverageName(v.Data))

	price := beveragePrice(v.Data)
	for _, ml := range v.Volumes {
		label := v.Tr.Format("volume_option", map[string]string{
			"ml":    strconv.Itoa(ml),
			"total": money(kiosk.Total(ml, price)),
		})
		b.row(b.button(label, ActionVolume, strconv.Itoa(ml)))
	}

	b.row(b.button(v.Tr.T("buttons.back"), ActionBack, ""))
	return b.build()
}

func selectPaymentScreen(v View) (Screen, error) {
	b := newScreen(state.StateSelectPayment, v.Tr.T("payment.title"))
	b.line(totalLine(v))

	for _, method := range payment.Methods {
		label := v.Tr.T("methods." + strings.ToLower(string(method)))
		b.row(b.button(label, ActionPay, string(method)))
	}

	b.row(b.button(v.Tr.T("buttons.back"), ActionBack, ""))
	return b.build()
}

func awaitingPaymentScreen(v View) (Screen, error) {
	total, _ := v.Data.Float(state.KeyTotal)
	b := newScreen(state.StateAwaitingPayment, v.Tr.Format("payment.awaiting", map[string]string{
		"total": money(total),
	}))

	if qr := v.Data.String(kiosk.KeyQRCode); qr != "" {
		b.line(v.Tr.T("payment.scan_qr"))
		b.line(qr)
	}

	b.row(b.button(v.Tr.T("buttons.cancel"), ActionCancel, ""))
	return b.build()
}

func paymentDeniedScreen(v View) (Screen, error) {
	key := v.Data.String(state.KeyMessage)
	if key == "" {
		key = "payment.denied"
	}

	b := newScreen(state.StatePaymentDenied, v.Tr.T(key))
	b.line(v.Data.String(state.KeyReason))
	return b.build()
}

func authorizedScreen(v View) (Screen, error) {
	b := newScreen(state.StateAuthorized, v.Tr.T("authorized.title"))
	if seconds, ok := v.Data.Float(state.KeyEstimatedSeconds); ok && seconds > 0 {
		b.line(v.Tr.Format("authorized.estimate", map[string]string{
			"seconds": strconv.Itoa(int(seconds)),
		}))
	}
	return b.build()
}

func dispensingScreen(v View) (Screen, error) {
	b := newScreen(state.StateDispensing, v.Tr.T("dispensing.title"))
	b.line(v.Tr.Format("dispensing.progress", progressArgs(v.Data)))
	if percentage, ok := v.Data.Float(state.KeyPercentage); ok {
		b.line(strconv.Itoa(int(percentage)) + "%")
	}
	return b.build()
}

func finishedScreen(v View) (Screen, error) {
	b := newScreen(state.StateFinished, v.Tr.T("finished.title"))
	b.line(v.Tr.Format("finished.served", progressArgs(v.Data)))
	return b.build()
}

// messageLine renders the message an attempt left behind on the idle screen.
func messageLine(v View) string {
	key := v.Data.String(state.KeyMessage)
	if key == "" {
		return ""
	}
	return v.Tr.T(key)
}

func totalLine(v View) string {
	total, ok := v.Data.Float(state.KeyTotal)
	if !ok {
		return ""
	}
	return "R$ " + money(total)
}

func progressArgs(data state.Data) map[string]string {
	served, _ := data.Float(state.KeyMLServed)
	authorized, _ := data.Float(state.KeyMLAuthorized)
	if authorized <= 0 {
		authorized, _ = data.Float(state.KeyVolume)
	}
	return map[string]string{
		"served":     fmt.Sprintf("%.0f", served),
		"authorized": fmt.Sprintf("%.0f", authorized),
	}
}

func beverageName(data state.Data) string {
	switch b := data[state.KeyBeverage].(type) {
	case remote.Beverage:
		return b.Name
	case *remote.Beverage:
		if b != nil {
			return b.Name
		}
	case map[string]any:
		name, _ := b["name"].(string)
		return name
	}
	return ""
}

func beveragePrice(data state.Data) float64 {
	switch b := data[state.KeyBeverage].(type) {
	case remote.Beverage:
		return b.PricePerML
	case *remote.Beverage:
		if b != nil {
			return b.PricePerML
		}
	case map[string]any:
		price, _ := b["price_per_ml"].(float64)
		return price
	}
	return 0
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
