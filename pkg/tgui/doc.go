// Package tgui holds small helpers for Telegram HTML text and inline
// keyboards.
package tgui
