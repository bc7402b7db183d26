// Package ui provides the visual styling for the chatwidget terminal client.
// Light and dark palettes share the same semantic colors.
package ui

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Light Mode Colors (Default)
	LightForeground = lipgloss.Color("#1f2937")
	LightPrimary    = lipgloss.Color("#1d4ed8")
	LightAccent     = lipgloss.Color("#0d9488")
	LightMuted      = lipgloss.Color("#6b7280")
	LightBorder     = lipgloss.Color("#d1d5db")

	// Dark Mode Colors
	DarkForeground = lipgloss.Color("#e5e7eb")
	DarkPrimary    = lipgloss.Color("#60a5fa")
	DarkAccent     = lipgloss.Color("#2dd4bf")
	DarkMuted      = lipgloss.Color("#9ca3af")
	DarkBorder     = lipgloss.Color("#374151")

	// Semantic Colors (same in both modes)
	Destructive = lipgloss.Color("#e53935")
	Success     = lipgloss.Color("#16a34a")
)

// Theme holds the current color scheme
type Theme struct {
	Foreground lipgloss.Color
	Primary    lipgloss.Color
	Accent     lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
	IsDark     bool
}

// LightTheme returns the light mode theme
func LightTheme() Theme {
	return Theme{
		Foreground: LightForeground,
		Primary:    LightPrimary,
		Accent:     LightAccent,
		Muted:      LightMuted,
		Border:     LightBorder,
	}
}

// DarkTheme returns the dark mode theme
func DarkTheme() Theme {
	return Theme{
		Foreground: DarkForeground,
		Primary:    DarkPrimary,
		Accent:     DarkAccent,
		Muted:      DarkMuted,
		Border:     DarkBorder,
		IsDark:     true,
	}
}

// GlamourStyle names the glamour standard style matching the theme.
func (t Theme) GlamourStyle() string {
	if t.IsDark {
		return "dark"
	}
	return "light"
}

// DetectTheme picks a theme from CHATWIDGET_DARK_MODE, then COLORFGBG
// ("fg;bg", where background indexes 0-6 and 8 are dark). Light otherwise.
func DetectTheme() Theme {
	switch os.Getenv("CHATWIDGET_DARK_MODE") {
	case "1", "true":
		return DarkTheme()
	case "0", "false":
		return LightTheme()
	}

	if colorTerm := os.Getenv("COLORFGBG"); colorTerm != "" {
		parts := strings.Split(colorTerm, ";")
		if bgIdx, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
			if (bgIdx >= 0 && bgIdx <= 6) || bgIdx == 8 {
				return DarkTheme()
			}
		}
	}

	return LightTheme()
}

// Styles holds all the styled components
type Styles struct {
	Theme Theme

	// Layout
	Header  lipgloss.Style
	Footer  lipgloss.Style
	Content lipgloss.Style
	Input   lipgloss.Style

	// Text
	Muted     lipgloss.Style
	Bold      lipgloss.Style
	UserLabel lipgloss.Style
	BotLabel  lipgloss.Style
	UserInput lipgloss.Style
	BotText   lipgloss.Style
	Loading   lipgloss.Style
	Notice    lipgloss.Style

	// Status
	Success lipgloss.Style
	Error   lipgloss.Style

	// Components
	Spinner lipgloss.Style
	Divider lipgloss.Style
	Badge   lipgloss.Style
}

// NewStyles creates a new Styles instance with the given theme
func NewStyles(theme Theme) Styles {
	return Styles{
		Theme: theme,

		Header: lipgloss.NewStyle().
			Background(theme.Primary).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 2).
			Bold(true),

		Footer: lipgloss.NewStyle().
			Foreground(theme.Muted).
			MarginTop(1),

		Content: lipgloss.NewStyle().
			Padding(0, 1),

		Input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(theme.Accent).
			Padding(0, 1),

		Muted: lipgloss.NewStyle().
			Foreground(theme.Muted),

		Bold: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			Bold(true),

		UserLabel: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true).
			MarginTop(1),

		BotLabel: lipgloss.NewStyle().
			Foreground(theme.Accent).
			Bold(true).
			MarginTop(1),

		UserInput: lipgloss.NewStyle().
			Foreground(theme.Foreground),

		BotText: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			PaddingLeft(2).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(theme.Accent),

		Loading: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Italic(true),

		Notice: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(theme.Border).
			PaddingLeft(1),

		Success: lipgloss.NewStyle().
			Foreground(Success).
			Bold(true),

		Error: lipgloss.NewStyle().
			Foreground(Destructive),

		Spinner: lipgloss.NewStyle().
			Foreground(theme.Accent),

		Divider: lipgloss.NewStyle().
			Foreground(theme.Border),

		Badge: lipgloss.NewStyle().
			Background(theme.Accent).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 1).
			Bold(true),
	}
}

// DefaultStyles returns styles for the detected theme
func DefaultStyles() Styles {
	return NewStyles(DetectTheme())
}

// RenderDivider returns a horizontal divider
func (s Styles) RenderDivider(width int) string {
	if width <= 0 {
		return ""
	}
	return s.Divider.Render(strings.Repeat("─", width))
}
