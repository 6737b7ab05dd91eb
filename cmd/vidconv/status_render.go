package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const labelWidth = 18

func (k statusKind) tag() string {
	switch k {
	case statusOK:
		return "ok"
	case statusWarn:
		return "warn"
	case statusError:
		return "fail"
	default:
		return "info"
	}
}

func (k statusKind) colors() text.Colors {
	switch k {
	case statusOK:
		return text.Colors{text.FgGreen}
	case statusWarn:
		return text.Colors{text.FgYellow}
	case statusError:
		return text.Colors{text.FgRed, text.Bold}
	default:
		return text.Colors{text.FgCyan}
	}
}

// renderStatusLine formats "  Label:   [tag] message", colouring only the tag.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	tag := "[" + kind.tag() + "]"
	if colorize {
		tag = kind.colors().Sprint(tag)
	}
	line := fmt.Sprintf("  %-*s %s", labelWidth, label+":", tag)
	if message != "" {
		line += " " + message
	}
	return line
}

func renderSectionHeader(title string, colorize bool) []string {
	title = strings.TrimSpace(title)
	rule := strings.Repeat("─", len([]rune(title)))
	if colorize {
		title = text.Colors{text.Bold}.Sprint(title)
	}
	return []string{title, rule}
}
