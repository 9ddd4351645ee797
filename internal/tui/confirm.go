// internal/tui/confirm.go
//
// The divergence prompt: when a run would change a large share of the
// tracking file, list the pending changes and ask before writing.

package tui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/lattice-sprint/internal/sprint/reconcile"
	"github.com/kingrea/lattice-sprint/internal/sprintsync"
)

const maxTableHeight = 12

// ConfirmModel is a bubbletea model answering "write these changes?".
type ConfirmModel struct {
	table     table.Model
	outcome   sprintsync.Outcome
	threshold float64
	decided   bool
	accepted  bool
}

// NewConfirmModel builds the prompt for a pending outcome.
func NewConfirmModel(out sprintsync.Outcome, threshold float64) ConfirmModel {
	rows := ChangeRows(out.Result.Changes)
	height := len(rows) + 1
	if height > maxTableHeight {
		height = maxTableHeight
	}
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Key", Width: 32},
			{Title: "Kind", Width: 13},
			{Title: "From", Width: 13},
			{Title: "To", Width: 13},
			{Title: "Reason", Width: 30},
		}),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(height),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#5B8DEF"))
	t.SetStyles(styles)
	return ConfirmModel{table: t, outcome: out, threshold: threshold}
}

// ChangeRows turns merge changes into table rows.
func ChangeRows(changes []reconcile.Change) []table.Row {
	rows := make([]table.Row, 0, len(changes))
	for _, ch := range changes {
		from, to := string(ch.From), string(ch.To)
		if ch.Added {
			from = "(new)"
		}
		if ch.Removed {
			to = "(removed)"
		}
		rows = append(rows, table.Row{ch.Key, string(ch.Kind), from, to, ch.Reason})
	}
	return rows
}

// Init implements tea.Model.
func (m ConfirmModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ConfirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "y", "Y":
			m.decided, m.accepted = true, true
			return m, tea.Quit
		case "n", "N", "q", "esc", "ctrl+c":
			m.decided, m.accepted = true, false
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m ConfirmModel) View() string {
	if m.decided {
		return ""
	}
	res := m.outcome.Result
	head := warningTitle.Render(fmt.Sprintf("%s would change %d of the tracked entries (%.0f%%, threshold %.0f%%)",
		m.outcome.Op, len(res.Changes), res.Divergence*100, m.threshold*100))
	path := mutedStyle.Render(m.outcome.Path)
	hint := hintStyle.Render("y write · n skip · ↑/↓ scroll")
	return lipgloss.JoinVertical(lipgloss.Left, head, path, "", boxStyle.Render(m.table.View()), hint) + "\n"
}

// Accepted reports whether the user chose to write.
func (m ConfirmModel) Accepted() bool {
	return m.accepted
}

// Confirm runs the prompt on the given terminal streams and returns a
// sprintsync.ConfirmFunc. threshold is only used for display.
func Confirm(in io.Reader, out io.Writer, threshold float64) sprintsync.ConfirmFunc {
	return func(ctx context.Context, outcome sprintsync.Outcome) (bool, error) {
		prog := tea.NewProgram(NewConfirmModel(outcome, threshold),
			tea.WithContext(ctx),
			tea.WithInput(in),
			tea.WithOutput(out))
		final, err := prog.Run()
		if err != nil {
			return false, fmt.Errorf("tui: confirm: %w", err)
		}
		m, ok := final.(ConfirmModel)
		return ok && m.Accepted(), nil
	}
}

// PlainConfirm asks on a line-based stream, for non-interactive terminals.
func PlainConfirm(in io.Reader, out io.Writer, threshold float64) sprintsync.ConfirmFunc {
	return func(_ context.Context, outcome sprintsync.Outcome) (bool, error) {
		fmt.Fprint(out, RenderChanges(outcome))
		fmt.Fprintf(out, "divergence %.0f%% exceeds %.0f%%. Write %s? [y/N] ",
			outcome.Result.Divergence*100, threshold*100, outcome.Path)
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, fmt.Errorf("tui: read answer: %w", err)
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}
