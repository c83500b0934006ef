package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme contains style tokens used by the terminal UI.
type Theme struct {
	Name                 string
	StatusBarStyle       lipgloss.Style
	PanelStyle           lipgloss.Style
	PanelTitleStyle      lipgloss.Style
	UserPrefixStyle      lipgloss.Style
	AssistantPrefixStyle lipgloss.Style
	SelectedRowStyle     lipgloss.Style
	MutedStyle           lipgloss.Style
	HeartStyle           lipgloss.Style
	ErrorStyle           lipgloss.Style
}

// ResolveTheme returns the configured theme or the dark default.
func ResolveTheme(name string) Theme {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "light":
		return newLightTheme()
	default:
		return newDarkTheme()
	}
}

func newDarkTheme() Theme {
	border := lipgloss.Color("63")
	muted := lipgloss.Color("245")
	return Theme{
		Name: "dark",
		StatusBarStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("63")).
			Padding(0, 1),
		PanelStyle: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(border).
			Padding(0, 1),
		PanelTitleStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true),
		UserPrefixStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		AssistantPrefixStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true),
		SelectedRowStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("60")),
		MutedStyle:           lipgloss.NewStyle().Foreground(muted),
		HeartStyle:           lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true),
		ErrorStyle:           lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
	}
}

func newLightTheme() Theme {
	border := lipgloss.Color("61")
	muted := lipgloss.Color("243")
	return Theme{
		Name: "light",
		StatusBarStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Background(lipgloss.Color("61")).
			Padding(0, 1),
		PanelStyle: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(border).
			Padding(0, 1),
		PanelTitleStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("130")).Bold(true),
		UserPrefixStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("26")).Bold(true),
		AssistantPrefixStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("130")).Bold(true),
		SelectedRowStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Background(lipgloss.Color("103")),
		MutedStyle:           lipgloss.NewStyle().Foreground(muted),
		HeartStyle:           lipgloss.NewStyle().Foreground(lipgloss.Color("162")).Bold(true),
		ErrorStyle:           lipgloss.NewStyle().Foreground(lipgloss.Color("124")),
	}
}
