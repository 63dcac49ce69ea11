// Package ui turns session states into screens for the kiosk display and routes the
// display's button actions back to the controller.
package ui

import (
	"strconv"

	"github.com/Proton-105/pour-kiosk/internal/i18n"
	"github.com/Proton-105/pour-kiosk/internal/state"
)

// Button is a touch target; Action is an encoded action understood by Dispatch.
type Button struct {
	Label  string `json:"label"`
	Action string `json:"action"`
}

// Screen is what the display shows for one state.
type Screen struct {
	State   state.State `json:"state"`
	Title   string      `json:"title"`
	Lines   []string    `json:"lines,omitempty"`
	Buttons [][]Button  `json:"buttons,omitempty"`
}

// screenBuilder accumulates lines and button rows, keeping the first encoding error.
type screenBuilder struct {
	screen Screen
	err    error
}

func newScreen(s state.State, title string) *screenBuilder {
	return &screenBuilder{screen: Screen{State: s, Title: title}}
}

func (b *screenBuilder) line(text string) *screenBuilder {
	if text != "" {
		b.screen.Lines = append(b.screen.Lines, text)
	}
	return b
}

// button encodes an action button; rows are added with row.
func (b *screenBuilder) button(label, kind, value string) Button {
	action, err := EncodeAction(kind, value)
	if err != nil && b.err == nil {
		b.err = err
	}
	return Button{Label: label, Action: action}
}

func (b *screenBuilder) row(buttons ...Button) *screenBuilder {
	if len(buttons) == 0 {
		return b
	}

	row := make([]Button, 0, len(buttons))
	for _, btn := range buttons {
		if btn.Action != "" {
			row = append(row, btn)
		}
	}
	if len(row) > 0 {
		b.screen.Buttons = append(b.screen.Buttons, row)
	}
	return b
}

func (b *screenBuilder) build() (Screen, error) {
	return b.screen, b.err
}

// paginationRow returns up to three buttons (previous, current page, next).
func (b *screenBuilder) paginationRow(tr i18n.Translator, page, totalPages int) []Button {
	if totalPages < 1 {
		totalPages = 1
	}
	page = clampPage(page, totalPages)

	buttons := make([]Button, 0, 3)
	if page > 1 {
		buttons = append(buttons, b.button(tr.T("pagination.prev"), ActionPage, strconv.Itoa(page-1)))
	}

	buttons = append(buttons, b.button(tr.Format("pagination.page", map[string]string{
		"page":  strconv.Itoa(page),
		"total": strconv.Itoa(totalPages),
	}), ActionPage, strconv.Itoa(page)))

	if page < totalPages {
		buttons = append(buttons, b.button(tr.T("pagination.next"), ActionPage, strconv.Itoa(page+1)))
	}

	return buttons
}

func clampPage(page, totalPages int) int {
	if page < 1 {
		return 1
	}
	if page > totalPages {
		return totalPages
	}
	return page
}

func pageCount(items, perPage int) int {
	if perPage <= 0 || items == 0 {
		return 1
	}
	return (items + perPage - 1) / perPage
}
