package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6EC4F4"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6EF4A1"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F45E6E"))
)

// sprintfS は style に応じて装飾した文字列を返す
// 端末でない出力先では装飾は付かない
func sprintfS(style string, format string, a ...any) string {
	text := fmt.Sprintf(format, a...)
	switch style {
	case "title":
		return titleStyle.Render(text)
	case "label":
		return labelStyle.Render(text)
	case "success":
		return successStyle.Render(text)
	case "error":
		return errorStyle.Render(text)
	default:
		return text
	}
}
