package ui

import (
	"errors"
	"fmt"
	"strings"
)

const (
	ActionSeparator  = ":"
	ActionLimitBytes = 64
)

// Action kinds carried by screen buttons.
const (
	ActionBeverage = "beverage"
	ActionAge      = "age"
	ActionVolume   = "volume"
	ActionPay      = "pay"
	ActionBack     = "back"
	ActionCancel   = "cancel"
	ActionPage     = "page"
)

func EncodeAction(kind, value string) (string, error) {
	if kind == "" {
		return "", errors.New("action kind is empty")
	}

	payload := kind
	if value != "" {
		payload = kind + ActionSeparator + value
	}
	if len(payload) > ActionLimitBytes {
		return "", fmt.Errorf("action exceeds %d byte limit: got %d", ActionLimitBytes, len(payload))
	}

	return payload, nil
}

func DecodeAction(action string) (kind, value string, err error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return "", "", errors.New("action is empty")
	}

	kind, value, _ = strings.Cut(action, ActionSeparator)
	return kind, value, nil
}
