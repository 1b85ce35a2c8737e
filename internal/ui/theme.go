package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Makepad-fr/tada/internal/model"
)

// Theme bundles palette, symbols and box border.
// All UI helpers pull from `current`.
type Theme struct {
	Name string

	Title, Muted, Accent, Success, Error, Pending lipgloss.Style
	Selected, Done, Help                          lipgloss.Style
	Priority                                      map[model.Priority]lipgloss.Style

	BoxUnchecked, BoxChecked string
	SymDone, SymPending      string
	Border                   lipgloss.Border
}

var current = classic()

var Themes = []string{"classic", "neon", "mono"}

// SetTheme switches the palette used by every renderer.
func SetTheme(name string) error {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "classic":
		current = classic()
	case "neon":
		current = neon()
	case "mono":
		current = mono()
	default:
		return fmt.Errorf("unknown theme %q (want %s)", name, strings.Join(Themes, ", "))
	}
	return nil
}

// Expose what renderers need
func Current() Theme { return current }

func classic() Theme {
	return Theme{
		Name:     "classic",
		Title:    lipgloss.NewStyle().Bold(true),
		Muted:    lipgloss.NewStyle().Faint(true),
		Accent:   lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		Success:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Error:    lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		Pending:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Selected: lipgloss.NewStyle().Bold(true).Reverse(true),
		Done:     lipgloss.NewStyle().Faint(true).Strikethrough(true),
		Help:     lipgloss.NewStyle().Faint(true),
		Priority: map[model.Priority]lipgloss.Style{
			model.PriorityHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
			model.PriorityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
			model.PriorityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		},
		BoxUnchecked: "☐", BoxChecked: "☑",
		SymDone: "✔", SymPending: "•",
		Border: lipgloss.RoundedBorder(),
	}
}

func neon() Theme {
	t := classic()
	t.Name = "neon"
	t.Title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	t.Accent = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	t.Pending = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	t.BoxUnchecked, t.BoxChecked = "◻", "◼"
	return t
}

func mono() Theme {
	plain := lipgloss.NewStyle()
	return Theme{
		Name:  "mono",
		Title: plain, Muted: plain, Accent: plain, Success: plain, Error: plain, Pending: plain,
		Selected: plain.Reverse(true), Done: plain, Help: plain,
		Priority: map[model.Priority]lipgloss.Style{
			model.PriorityHigh: plain, model.PriorityMedium: plain, model.PriorityLow: plain,
		},
		BoxUnchecked: "[ ]", BoxChecked: "[x]",
		SymDone: "x", SymPending: "-",
		Border: lipgloss.Border{
			Top: "-", Bottom: "-", Left: "|", Right: "|",
			TopLeft: "+", TopRight: "+", BottomLeft: "+", BottomRight: "+",
		},
	}
}

func (t Theme) priority(p model.Priority) lipgloss.Style {
	if s, ok := t.Priority[p]; ok {
		return s
	}
	return t.Muted
}
