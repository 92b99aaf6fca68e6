package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats callback data as "prefix:action".
func Data(prefix, action string) (string, error) {
	s := strings.TrimSpace(prefix) + ":" + strings.TrimSpace(action)
	if len(s) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return s, nil
}

// ParseData splits "prefix:action". ok is false for other shapes.
func ParseData(s string) (prefix, action string, ok bool) {
	// telebot prefixes unique-less callback data with "\f".
	s = strings.TrimPrefix(strings.TrimSpace(s), "\f")
	prefix, action, ok = strings.Cut(s, ":")
	if !ok || prefix == "" || action == "" {
		return "", "", false
	}
	return prefix, action, true
}
