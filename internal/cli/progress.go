package cli

import (
	"context"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/wikibatch/internal/models"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// eventMsg carries one batch event from the stream.
type eventMsg models.BatchEvent

// streamEndMsg is sent when the event stream closes.
type streamEndMsg struct{ err error }

// progressModel is the bubbletea model for batch progress.
type progressModel struct {
	batchID  int64
	events   <-chan models.BatchEvent
	errc     <-chan error
	summary  *models.Summary
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(id int64, events <-chan models.BatchEvent, errc <-chan error) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return progressModel{
		batchID:  id,
		events:   events,
		errc:     errc,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init starts listening for events.
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent(), m.progress.Init())
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case eventMsg:
		if msg.Summary != nil {
			m.summary = msg.Summary
		}
		switch msg.Type {
		case "done":
			m.done = true
			return m, tea.Quit
		case "error":
			m.done = true
			m.err = fmt.Errorf("%s", msg.Error)
			return m, tea.Quit
		}
		return m, m.waitForEvent()

	case streamEndMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}
	if m.summary == nil {
		return "Waiting for batch status...\n"
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.summary.Batch.Status))
	bar := m.progress.ViewAs(completion(m.summary.Counts))
	hint := m.theme.hintStyle().Render("Press q to stop watching; the batch keeps running")
	return fmt.Sprintf("%s %s %s\n%s\n", status, bar, countsLine(m.summary.Counts), hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nBatch %d continues on the server.\nUse 'wikibatch watch %d' to follow it again.\n",
			m.batchID, m.batchID)
		return m.theme.hintStyle().Render(msg)
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Watch failed: %s\n", m.err))
	}
	if m.summary == nil {
		return ""
	}
	return finalSummary(m.theme, *m.summary)
}

// finalSummary renders a settled batch.
func finalSummary(t Theme, s models.Summary) string {
	var sb strings.Builder
	head := fmt.Sprintf("Batch %d %s", s.Batch.ID, s.Batch.Status)
	if s.Batch.Status == models.BatchDone && s.Counts.Error == 0 {
		sb.WriteString(t.completedStyle().Render("✓ " + head))
	} else if s.Batch.Status == models.BatchPreview {
		sb.WriteString(t.statusStyle().Render(head))
	} else {
		sb.WriteString(t.errorStyle().Render("✗ " + head))
	}
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "  Done:    %d\n", s.Counts.Done)
	fmt.Fprintf(&sb, "  Errors:  %d\n", s.Counts.Error)
	fmt.Fprintf(&sb, "  Pending: %d\n", s.Counts.Pending())
	if s.Batch.Message != "" {
		fmt.Fprintf(&sb, "  %s\n", s.Batch.Message)
	}
	return sb.String()
}

// waitForEvent blocks on the event channel in a command goroutine.
func (m progressModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return streamEndMsg{err: <-m.errc}
		}
		return eventMsg(ev)
	}
}

// completion is the share of commands with a final result.
func completion(c models.Counts) float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Done+c.Error) / float64(c.Total)
}

func countsLine(c models.Counts) string {
	line := fmt.Sprintf("%d/%d commands", c.Done+c.Error, c.Total)
	if c.Error > 0 {
		line += fmt.Sprintf(" (%d failed)", c.Error)
	}
	return line
}

// RunBatchProgress runs the interactive progress UI for a batch until it
// settles or the user quits.
func RunBatchProgress(ctx context.Context, id int64) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan models.BatchEvent)
	errc := make(chan error, 1)
	go func() {
		defer close(events)
		errc <- apiClient.Watch(ctx, id, func(ev models.BatchEvent) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	p := tea.NewProgram(newProgressModel(id, events, errc))
	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		// Quitting leaves the batch running; not an error.
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
		if m.summary != nil && m.summary.Batch.Status == models.BatchError {
			return fmt.Errorf("batch %d failed", id)
		}
	}
	return nil
}
